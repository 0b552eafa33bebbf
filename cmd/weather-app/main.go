package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mpajarillo19/weather-app/internal/client"
	"github.com/mpajarillo19/weather-app/internal/config"
	httphandler "github.com/mpajarillo19/weather-app/internal/http"
	"github.com/mpajarillo19/weather-app/internal/lifecycle"
	"github.com/mpajarillo19/weather-app/internal/observability"
	"github.com/mpajarillo19/weather-app/internal/scheduler"
	"github.com/mpajarillo19/weather-app/internal/service"
	"github.com/mpajarillo19/weather-app/internal/traffic"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.ValidateAPIKey {
		if err := weatherClient.ValidateAPIKey(context.Background()); err != nil {
			if errors.Is(err, client.ErrInvalidAPIKey) {
				logger.Fatal("weather API key rejected", zap.Error(err))
			}
			logger.Warn("weather API key check failed", zap.Error(err))
		}
	}

	outcomes := traffic.NewTracker(cfg.DegradedWindow)
	fetcher := service.NewWeatherFetcher(weatherClient,
		service.WithLogger(logger),
		service.WithStaleSuppression(cfg.SuppressStale),
		service.WithOutcomeRecorder(outcomes),
	)
	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	lc := lifecycle.New()
	handler := httphandler.NewHandler(fetcher, outcomes, lc, &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
	}, logger, cfg.CityMaxLength)

	var refresher *scheduler.Refresher
	if cfg.RefreshCity != "" {
		refresher = scheduler.NewRefresher(fetcher, cfg.RefreshCity, cfg.RefreshInterval, logger)
		if err := refresher.Start(); err != nil {
			logger.Fatal("refresh scheduler", zap.Error(err))
		}
	}

	// No WriteTimeout: /weather/stream responses stay open.
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           httphandler.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
	}
	srv.RegisterOnShutdown(handler.CloseStreams)

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Bool("suppress_stale", cfg.SuppressStale),
			zap.Duration("weather_api_timeout", cfg.WeatherAPITimeout))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lc.SetShuttingDown(true)
	if refresher != nil {
		refresher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight work",
		zap.Int64("requests", httphandler.InFlightCount()),
		zap.Int64("fetches", handler.FetchesInFlight()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}
	if err := handler.WaitForFetches(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight fetches not settled", zap.Error(err), zap.Int64("remaining", handler.FetchesInFlight()))
	}

	if err := observability.FlushTelemetry(logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
