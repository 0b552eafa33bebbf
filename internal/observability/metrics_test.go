package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that label dimensions match usage in client, http and service.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/weather", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/weather").Observe(0.01)
	WeatherAPICallsTotal.WithLabelValues("success").Inc()
	WeatherAPIDuration.WithLabelValues("not_found").Observe(0.1)
	WeatherFetchesTotal.WithLabelValues("success").Inc()
	WeatherFetchesTotal.WithLabelValues("not_found").Inc()
	WeatherFetchesInProgress.Inc()
	WeatherFetchesInProgress.Dec()
	WeatherFetchStaleDiscardedTotal.Inc()
	WeatherFetchSkippedTotal.Inc()
	StateSubscribers.Inc()
	StateSubscribers.Dec()
}

func TestMetricCityLabel(t *testing.T) {
	SetTrackedCities([]string{"London", " paris "})
	defer SetTrackedCities(nil)

	tests := []struct {
		city string
		want string
	}{
		{"London", "london"},
		{"PARIS", "paris"},
		{"Qwxyz", "other"},
	}
	for _, tt := range tests {
		if got := MetricCityLabel(tt.city); got != tt.want {
			t.Errorf("MetricCityLabel(%q) = %q, want %q", tt.city, got, tt.want)
		}
	}
	RecordFetch("London")
}

func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
