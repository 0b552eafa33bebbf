//go:build integration

// Package testhelpers holds setup shared by tests that call the live weather API.
package testhelpers

import (
	"os"
	"testing"
	"time"
)

const defaultWeatherURL = "https://api.openweathermap.org/data/2.5/weather"

// LiveAPI describes the upstream used by integration tests.
type LiveAPI struct {
	Key     string
	URL     string
	City    string // expected to exist upstream
	Timeout time.Duration
}

// RequireLiveAPI returns the live API settings from the environment and skips
// the test when WEATHER_API_KEY is unset. WEATHER_API_URL and
// INTEGRATION_CITY override the defaults.
func RequireLiveAPI(t *testing.T) LiveAPI {
	t.Helper()
	api := LiveAPI{
		Key:     os.Getenv("WEATHER_API_KEY"),
		URL:     os.Getenv("WEATHER_API_URL"),
		City:    os.Getenv("INTEGRATION_CITY"),
		Timeout: 5 * time.Second,
	}
	if api.Key == "" {
		t.Skip("WEATHER_API_KEY not set")
	}
	if api.URL == "" {
		api.URL = defaultWeatherURL
	}
	if api.City == "" {
		api.City = "London"
	}
	return api
}
