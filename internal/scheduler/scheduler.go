package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Fetcher is the operation the scheduler repeats.
type Fetcher interface {
	FetchWeather(ctx context.Context, city string)
}

// Refresher re-runs FetchWeather for one city on a fixed interval.
type Refresher struct {
	scheduler *gocron.Scheduler
	fetcher   Fetcher
	city      string
	interval  time.Duration
	logger    *zap.Logger
}

// NewRefresher creates a Refresher. Nothing runs until Start.
func NewRefresher(fetcher Fetcher, city string, interval time.Duration, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Refresher{
		scheduler: s,
		fetcher:   fetcher,
		city:      city,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the refresh job, first run immediately, and starts the
// scheduler in the background.
func (r *Refresher) Start() error {
	if r.city == "" || r.interval <= 0 {
		return fmt.Errorf("refresh needs a city and a positive interval")
	}

	_, err := r.scheduler.Every(r.interval).Do(func() {
		r.logger.Debug("scheduled weather refresh", zap.String("city", r.city))
		r.fetcher.FetchWeather(context.Background(), r.city)
	})
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}

	r.scheduler.StartAsync()
	r.logger.Info("weather refresh scheduled", zap.String("city", r.city), zap.Duration("interval", r.interval))
	return nil
}

// Stop stops the scheduler. A refresh already running is not interrupted.
func (r *Refresher) Stop() {
	r.scheduler.Stop()
}
