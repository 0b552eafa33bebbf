package service

import (
	"sync"

	"github.com/mpajarillo19/weather-app/internal/models"
	"github.com/mpajarillo19/weather-app/internal/observability"
)

// State is the observable result of weather fetches.
// Result and ErrorMessage are never both non-nil.
type State struct {
	Result       models.Payload `json:"result"`
	IsLoading    bool           `json:"isLoading"`
	ErrorMessage *string        `json:"errorMessage"`
}

// HasError reports whether the most recent settled fetch failed.
func (s State) HasError() bool { return s.ErrorMessage != nil }

// Error returns the error message or "" when there is none.
func (s State) Error() string {
	if s.ErrorMessage == nil {
		return ""
	}
	return *s.ErrorMessage
}

// broadcaster fans state snapshots out to subscribers. Each subscriber has a
// one-slot buffer that always holds the newest undelivered snapshot, so a slow
// reader skips intermediate states but never misses the latest one.
// All methods must be called with the owning fetcher's mutex held.
type broadcaster struct {
	nextID uint64
	subs   map[uint64]chan State
}

func (b *broadcaster) add() (uint64, chan State) {
	if b.subs == nil {
		b.subs = make(map[uint64]chan State)
	}
	b.nextID++
	ch := make(chan State, 1)
	b.subs[b.nextID] = ch
	observability.StateSubscribers.Inc()
	return b.nextID, ch
}

func (b *broadcaster) remove(id uint64) {
	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
	observability.StateSubscribers.Dec()
}

func (b *broadcaster) publish(s State) {
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (b *broadcaster) len() int { return len(b.subs) }

// subscription ties an unsubscribe func to the fetcher lock.
type subscription struct {
	once sync.Once
	mu   *sync.Mutex
	b    *broadcaster
	id   uint64
}

func (s *subscription) cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.b.remove(s.id)
	})
}
