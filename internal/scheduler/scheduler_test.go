package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingFetcher struct {
	mu     sync.Mutex
	cities []string
}

func (f *recordingFetcher) FetchWeather(ctx context.Context, city string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cities = append(f.cities, city)
}

func (f *recordingFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cities...)
}

func TestRefresher_RunsImmediately(t *testing.T) {
	f := &recordingFetcher{}
	r := NewRefresher(f, "London", time.Hour, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for len(f.calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("refresh did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := f.calls()[0]; got != "London" {
		t.Errorf("city = %q, want London", got)
	}
}

func TestRefresher_StartRejectsMissingSettings(t *testing.T) {
	tests := []struct {
		name     string
		city     string
		interval time.Duration
	}{
		{"no city", "", time.Minute},
		{"no interval", "London", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRefresher(&recordingFetcher{}, tt.city, tt.interval, nil)
			if err := r.Start(); err == nil {
				r.Stop()
				t.Error("Start() expected error, got nil")
			}
		})
	}
}
