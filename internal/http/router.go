package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mpajarillo19/weather-app/internal/observability"
)

// NewRouter wires the weather state API, health and metrics routes.
func NewRouter(h *Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	router.HandleFunc("/weather", h.GetState).Methods(http.MethodGet)
	router.HandleFunc("/weather", h.PostFetch).Methods(http.MethodPost)
	router.HandleFunc("/weather/stream", h.StreamState).Methods(http.MethodGet)
	return router
}
