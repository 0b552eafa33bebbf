package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mpajarillo19/weather-app/internal/client"
	"github.com/mpajarillo19/weather-app/internal/observability"
)

// WeatherFetcher calls the weather API for a city and publishes the outcome
// as a State. Calls may overlap; by default the call that settles last wins.
// With stale suppression enabled only the most recently started call may
// write its outcome.
type WeatherFetcher struct {
	client        client.WeatherClient
	logger        *zap.Logger
	suppressStale bool
	outcomes      OutcomeRecorder

	mu    sync.Mutex
	state State
	seq   uint64
	subs  broadcaster
}

// OutcomeRecorder receives the outcome of every upstream call, including
// calls whose outcome was dropped as stale.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordError()
}

// Option configures a WeatherFetcher.
type Option func(*WeatherFetcher)

// WithLogger sets the logger used when the fetch context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(f *WeatherFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithStaleSuppression makes the fetcher drop the outcome of any call that
// was superseded by a later call before it settled.
func WithStaleSuppression(enabled bool) Option {
	return func(f *WeatherFetcher) {
		f.suppressStale = enabled
	}
}

// WithOutcomeRecorder reports every settled upstream call to r.
func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(f *WeatherFetcher) {
		f.outcomes = r
	}
}

// NewWeatherFetcher returns a fetcher with empty state.
func NewWeatherFetcher(c client.WeatherClient, opts ...Option) *WeatherFetcher {
	f := &WeatherFetcher{
		client: c,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns a snapshot of the current state.
func (f *WeatherFetcher) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Subscribe returns a channel that receives a snapshot after every state
// change, and a func that ends the subscription and closes the channel.
func (f *WeatherFetcher) Subscribe() (<-chan State, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ch := f.subs.add()
	sub := &subscription{mu: &f.mu, b: &f.subs, id: id}
	return ch, sub.cancel
}

// Subscribers returns the number of open subscriptions.
func (f *WeatherFetcher) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs.len()
}

// FetchWeather fetches current weather for city and records the outcome in
// the fetcher state. It blocks until the call settles and never reports an
// error to the caller: failures end up in State.ErrorMessage.
// An empty city is ignored and leaves the state untouched.
func (f *WeatherFetcher) FetchWeather(ctx context.Context, city string) {
	<-f.Start(ctx, city)
}

// Start begins a fetch and returns without waiting for it to settle. When
// Start returns, the loading state is already published. The returned channel
// is closed once the fetch has settled; for an empty city it is already closed.
func (f *WeatherFetcher) Start(ctx context.Context, city string) <-chan struct{} {
	done := make(chan struct{})
	if city == "" {
		observability.WeatherFetchSkippedTotal.Inc()
		close(done)
		return done
	}

	token := f.begin()
	observability.WeatherFetchesInProgress.Inc()
	go func() {
		defer close(done)
		defer observability.WeatherFetchesInProgress.Dec()
		f.run(ctx, city, token)
	}()
	return done
}

func (f *WeatherFetcher) run(ctx context.Context, city string, token uint64) {
	logger := observability.LoggerFromContext(ctx, f.logger)
	observability.RecordFetch(city)

	start := time.Now()
	logger.Debug("weather fetch started", zap.String("city", city), zap.Uint64("seq", token))

	payload, err := f.client.GetCurrentWeather(ctx, city)

	outcome := "success"
	if err != nil {
		outcome = string(client.CategorizeError(err))
	}
	observability.WeatherFetchesTotal.WithLabelValues(outcome).Inc()
	if f.outcomes != nil {
		if err != nil {
			f.outcomes.RecordError()
		} else {
			f.outcomes.RecordSuccess()
		}
	}

	if !f.settle(token, payload, err) {
		observability.WeatherFetchStaleDiscardedTotal.Inc()
		logger.Debug("stale weather response discarded", zap.String("city", city), zap.Uint64("seq", token))
		return
	}

	if err != nil {
		logger.Info("weather fetch failed",
			zap.String("city", city),
			zap.String("error_category", outcome),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return
	}
	logger.Debug("weather fetch settled", zap.String("city", city), zap.Duration("duration", time.Since(start)))
}

// begin marks a fetch as started and returns its sequence token.
func (f *WeatherFetcher) begin() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.state.IsLoading = true
	f.state.ErrorMessage = nil
	f.subs.publish(f.state)
	return f.seq
}

// settle applies a fetch outcome. It returns false when the outcome was
// dropped as stale.
func (f *WeatherFetcher) settle(token uint64, payload any, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.suppressStale && token != f.seq {
		return false
	}
	if err != nil {
		msg := err.Error()
		f.state.ErrorMessage = &msg
		f.state.Result = nil
	} else {
		f.state.Result = payload
		f.state.ErrorMessage = nil
	}
	f.state.IsLoading = false
	f.subs.publish(f.state)
	return true
}
