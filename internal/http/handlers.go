package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mpajarillo19/weather-app/internal/lifecycle"
	"github.com/mpajarillo19/weather-app/internal/observability"
	"github.com/mpajarillo19/weather-app/internal/service"
	"github.com/mpajarillo19/weather-app/internal/traffic"
	"github.com/mpajarillo19/weather-app/internal/validation"
)

const streamKeepAlive = 15 * time.Second

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int // 0 disables the degraded check
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	fetcher       *service.WeatherFetcher
	outcomes      *traffic.Tracker
	lifecycle     *lifecycle.Lifecycle
	healthConfig  *HealthConfig
	logger        *zap.Logger
	cityMaxLength int

	fetches InFlightTracker

	streamsOnce sync.Once
	streamsDone chan struct{}

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. outcomes and healthConfig may be nil,
// which disables the degraded health check.
func NewHandler(
	fetcher *service.WeatherFetcher,
	outcomes *traffic.Tracker,
	lc *lifecycle.Lifecycle,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	cityMaxLength int,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lc == nil {
		lc = lifecycle.New()
	}
	return &Handler{
		fetcher:       fetcher,
		outcomes:      outcomes,
		lifecycle:     lc,
		healthConfig:  healthConfig,
		logger:        logger,
		cityMaxLength: cityMaxLength,
		streamsDone:   make(chan struct{}),
	}
}

// GetState handles GET /weather.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fetcher.State())
}

type fetchRequest struct {
	City string `json:"city"`
}

// PostFetch handles POST /weather. The city comes from the "city" query
// parameter or a JSON body. The fetch runs in the background; the reply is
// 202 with the state right after the fetch started, or 200 with the unchanged
// state when the city is empty.
func (h *Handler) PostFetch(w http.ResponseWriter, r *http.Request) {
	city, err := cityFromRequest(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a city field")
		return
	}
	city, err = validation.ValidateCity(city, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	if city == "" {
		h.fetcher.FetchWeather(r.Context(), "")
		writeJSON(w, http.StatusOK, h.fetcher.State())
		return
	}

	// The fetch outlives the request; keep the request values (logger,
	// correlation ID) but not its cancellation.
	h.fetches.Track(h.fetcher.Start(context.WithoutCancel(r.Context()), city))

	writeJSON(w, http.StatusAccepted, h.fetcher.State())
}

func cityFromRequest(r *http.Request) (string, error) {
	q := r.URL.Query()
	if q.Has("city") {
		return q.Get("city"), nil
	}
	if r.Body == nil {
		return "", nil
	}
	var body fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	return body.City, nil
}

// StreamState handles GET /weather/stream. It sends the current state, then
// one "state" event per change until the client disconnects or the handler
// is closed for shutdown.
func (h *Handler) StreamState(w http.ResponseWriter, r *http.Request) {
	flusher := prepareSSE(w)
	if flusher == nil {
		writeError(w, r, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming not supported")
		return
	}
	logger := observability.LoggerFromContext(r.Context(), h.logger)

	updates, cancel := h.fetcher.Subscribe()
	defer cancel()

	w.WriteHeader(http.StatusOK)
	if err := writeEvent(w, flusher, "state", h.fetcher.State()); err != nil {
		return
	}
	logger.Debug("state stream opened")

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			logger.Debug("state stream closed by client")
			return
		case <-h.streamsDone:
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, flusher, "state", s); err != nil {
				logger.Debug("state stream write failed", zap.Error(err))
				return
			}
		case <-keepAlive.C:
			if err := writeComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		}
	}
}

// CloseStreams ends all open state streams. Register with
// http.Server.RegisterOnShutdown so Shutdown does not wait on them.
func (h *Handler) CloseStreams() {
	h.streamsOnce.Do(func() { close(h.streamsDone) })
}

// FetchesInFlight returns the number of background fetches not yet settled.
func (h *Handler) FetchesInFlight() int64 {
	return h.fetches.Count()
}

// WaitForFetches blocks until background fetches have settled or ctx is done.
func (h *Handler) WaitForFetches(ctx context.Context, checkInterval time.Duration) error {
	return h.fetches.WaitForZero(ctx, checkInterval)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	}
	state := h.fetcher.State()
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":  result.status,
		"service": "weather-app",
		"version": "dev",
		"checks":  checks,
		"fetcher": map[string]interface{}{
			"isLoading":   state.IsLoading,
			"hasError":    state.HasError(),
			"subscribers": h.fetcher.Subscribers(),
			"inFlight":    h.fetches.Count(),
		},
		"uptimeSeconds": int64(h.lifecycle.Uptime().Seconds()),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.outcomes != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := h.outcomes.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response with code, message and the request's
// correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// methodNotAllowed replies in the standard error format for known paths
// requested with an unsupported method.
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", strings.ToUpper(r.Method)+" not allowed")
}
