package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mpajarillo19/weather-app/internal/client"
	"github.com/mpajarillo19/weather-app/internal/models"
)

// gatedClient blocks each GetCurrentWeather call until a response is sent on
// the channel registered for its city.
type gatedClient struct {
	mu      sync.Mutex
	gates   map[string]chan gatedResponse
	started chan string
	calls   int
}

type gatedResponse struct {
	payload models.Payload
	err     error
}

func newGatedClient(cities ...string) *gatedClient {
	c := &gatedClient{
		gates:   make(map[string]chan gatedResponse),
		started: make(chan string, len(cities)),
	}
	for _, city := range cities {
		c.gates[city] = make(chan gatedResponse, 1)
	}
	return c
}

func (c *gatedClient) GetCurrentWeather(ctx context.Context, city string) (models.Payload, error) {
	c.mu.Lock()
	c.calls++
	gate := c.gates[city]
	c.mu.Unlock()
	c.started <- city
	r := <-gate
	return r.payload, r.err
}

func (c *gatedClient) ValidateAPIKey(ctx context.Context) error { return nil }

func (c *gatedClient) respond(city string, payload models.Payload, err error) {
	c.gates[city] <- gatedResponse{payload: payload, err: err}
}

// stubClient returns a fixed response.
type stubClient struct {
	payload models.Payload
	err     error
	calls   int
}

func (c *stubClient) GetCurrentWeather(ctx context.Context, city string) (models.Payload, error) {
	c.calls++
	return c.payload, c.err
}

func (c *stubClient) ValidateAPIKey(ctx context.Context) error { return nil }

func strPtr(s string) *string { return &s }

func londonPayload() models.Payload {
	return map[string]any{"name": "London", "main": map[string]any{"temp": 15.2}}
}

func newUpstream(t *testing.T, status int, body string) *client.OpenWeatherClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	c, err := client.NewOpenWeatherClient("test-key", server.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

func TestFetchWeather_EmptyCityLeavesStateUnchanged(t *testing.T) {
	stub := &stubClient{err: errors.New("boom")}
	f := NewWeatherFetcher(stub)

	// Put the fetcher into a failed state first so "unchanged" is meaningful.
	f.FetchWeather(context.Background(), "Qwxyz")
	before := f.State()
	if before.ErrorMessage == nil {
		t.Fatal("setup: expected error state")
	}

	updates, cancel := f.Subscribe()
	defer cancel()

	f.FetchWeather(context.Background(), "")

	if got := f.State(); !reflect.DeepEqual(got, before) {
		t.Errorf("State() = %+v, want %+v", got, before)
	}
	if stub.calls != 1 {
		t.Errorf("client calls = %d, want 1", stub.calls)
	}
	select {
	case s := <-updates:
		t.Errorf("unexpected state notification %+v", s)
	default:
	}
}

func TestFetchWeather_Success(t *testing.T) {
	f := NewWeatherFetcher(newUpstream(t, http.StatusOK, `{"name":"London","main":{"temp":15.2}}`))

	f.FetchWeather(context.Background(), "London")

	got := f.State()
	if got.IsLoading {
		t.Error("IsLoading = true after settle")
	}
	if got.ErrorMessage != nil {
		t.Errorf("ErrorMessage = %q, want nil", *got.ErrorMessage)
	}
	if name, _ := models.Field(got.Result, "name"); name != "London" {
		t.Errorf("result.name = %v, want London", name)
	}
	if !reflect.DeepEqual(got.Result, londonPayload()) {
		t.Errorf("Result = %#v, want %#v", got.Result, londonPayload())
	}
}

func TestFetchWeather_NonOKStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{"cod":"404","message":"city not found"}`},
		{"unauthorized", http.StatusUnauthorized, `{"cod":401,"message":"Invalid API key"}`},
		{"rate limited", http.StatusTooManyRequests, ``},
		{"server error", http.StatusInternalServerError, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewWeatherFetcher(newUpstream(t, tt.status, tt.body))

			f.FetchWeather(context.Background(), "Qwxyz")

			got := f.State()
			want := State{ErrorMessage: strPtr("City not found")}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("State() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestFetchWeather_FailureClearsPreviousResult(t *testing.T) {
	stub := &stubClient{payload: londonPayload()}
	f := NewWeatherFetcher(stub)

	f.FetchWeather(context.Background(), "London")
	if f.State().Result == nil {
		t.Fatal("setup: expected result")
	}

	stub.payload, stub.err = nil, client.ErrCityNotFound
	f.FetchWeather(context.Background(), "Qwxyz")

	got := f.State()
	if got.Result != nil {
		t.Errorf("Result = %v, want nil", got.Result)
	}
	if got.Error() != "City not found" {
		t.Errorf("ErrorMessage = %q, want %q", got.Error(), "City not found")
	}
}

func TestFetchWeather_TransportError(t *testing.T) {
	stub := &stubClient{err: errors.New("network timeout")}
	f := NewWeatherFetcher(stub)

	f.FetchWeather(context.Background(), "London")

	want := State{ErrorMessage: strPtr("network timeout")}
	if got := f.State(); !reflect.DeepEqual(got, want) {
		t.Errorf("State() = %+v, want %+v", got, want)
	}
}

func TestFetchWeather_ParseError(t *testing.T) {
	f := NewWeatherFetcher(newUpstream(t, http.StatusOK, `{"name":"London"`))

	f.FetchWeather(context.Background(), "London")

	got := f.State()
	if got.Result != nil || got.IsLoading {
		t.Errorf("State() = %+v, want nil result and not loading", got)
	}
	if got.Error() != "unexpected end of JSON input" {
		t.Errorf("ErrorMessage = %q, want %q", got.Error(), "unexpected end of JSON input")
	}
}

func TestFetchWeather_Idempotent(t *testing.T) {
	f := NewWeatherFetcher(newUpstream(t, http.StatusOK, `{"name":"London","main":{"temp":15.2}}`))

	f.FetchWeather(context.Background(), "London")
	first := f.State()
	f.FetchWeather(context.Background(), "London")
	second := f.State()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second State() = %+v, want %+v", second, first)
	}
}

func TestFetchWeather_LoadingWhilePending(t *testing.T) {
	gc := newGatedClient("London")
	f := NewWeatherFetcher(gc)

	// A previous error must be cleared as soon as the fetch starts.
	f.mu.Lock()
	f.state.ErrorMessage = strPtr("City not found")
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.FetchWeather(context.Background(), "London")
		close(done)
	}()
	<-gc.started

	pending := f.State()
	if !pending.IsLoading {
		t.Error("IsLoading = false while request pending")
	}
	if pending.ErrorMessage != nil {
		t.Errorf("ErrorMessage = %q while pending, want nil", *pending.ErrorMessage)
	}

	gc.respond("London", londonPayload(), nil)
	<-done

	if f.State().IsLoading {
		t.Error("IsLoading = true after settle")
	}
}

// Overlapping calls are not coordinated: whichever settles last decides the
// final state, even if it was started first.
func TestFetchWeather_OverlappingCallsLastSettledWins(t *testing.T) {
	gc := newGatedClient("Paris", "London")
	f := NewWeatherFetcher(gc)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); f.FetchWeather(context.Background(), "Paris") }()
	<-gc.started
	go func() { defer wg.Done(); f.FetchWeather(context.Background(), "London") }()
	<-gc.started

	gc.respond("London", londonPayload(), nil)
	waitFor(t, func() bool { return f.State().Result != nil })

	gc.respond("Paris", nil, client.ErrCityNotFound)
	wg.Wait()

	got := f.State()
	want := State{ErrorMessage: strPtr("City not found")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("State() = %+v, want %+v", got, want)
	}
}

func TestFetchWeather_StaleSuppression(t *testing.T) {
	gc := newGatedClient("Paris", "London")
	f := NewWeatherFetcher(gc, WithStaleSuppression(true))

	var wg sync.WaitGroup
	wg.Add(2)
	parisDone := make(chan struct{})
	go func() { defer wg.Done(); f.FetchWeather(context.Background(), "Paris"); close(parisDone) }()
	<-gc.started
	go func() { defer wg.Done(); f.FetchWeather(context.Background(), "London") }()
	<-gc.started

	// The superseded call settles first and must not end the loading phase.
	gc.respond("Paris", nil, client.ErrCityNotFound)
	<-parisDone
	if s := f.State(); !s.IsLoading || s.ErrorMessage != nil {
		t.Errorf("State() after stale settle = %+v, want loading with no error", s)
	}

	gc.respond("London", londonPayload(), nil)
	wg.Wait()

	got := f.State()
	want := State{Result: londonPayload()}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("State() = %+v, want %+v", got, want)
	}
}

func TestFetchWeather_StaleSuppressionDropsLateOlderResponse(t *testing.T) {
	gc := newGatedClient("Paris", "London")
	f := NewWeatherFetcher(gc, WithStaleSuppression(true))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); f.FetchWeather(context.Background(), "Paris") }()
	<-gc.started
	go func() { defer wg.Done(); f.FetchWeather(context.Background(), "London") }()
	<-gc.started

	gc.respond("London", londonPayload(), nil)
	waitFor(t, func() bool { return !f.State().IsLoading })
	gc.respond("Paris", nil, client.ErrCityNotFound)
	wg.Wait()

	if got := f.State(); !reflect.DeepEqual(got, State{Result: londonPayload()}) {
		t.Errorf("State() = %+v, want London result", got)
	}
}

func TestSubscribe_ReceivesStartAndSettle(t *testing.T) {
	gc := newGatedClient("London")
	f := NewWeatherFetcher(gc)

	updates, cancel := f.Subscribe()
	defer cancel()
	if f.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", f.Subscribers())
	}

	done := make(chan struct{})
	go func() {
		f.FetchWeather(context.Background(), "London")
		close(done)
	}()
	<-gc.started

	if s := <-updates; !s.IsLoading {
		t.Errorf("first update = %+v, want loading", s)
	}

	gc.respond("London", londonPayload(), nil)
	<-done

	s := <-updates
	if s.IsLoading || s.Result == nil {
		t.Errorf("second update = %+v, want settled result", s)
	}
}

func TestSubscribe_SlowReaderGetsLatest(t *testing.T) {
	stub := &stubClient{payload: londonPayload()}
	f := NewWeatherFetcher(stub)

	updates, cancel := f.Subscribe()
	defer cancel()

	f.FetchWeather(context.Background(), "London")
	stub.payload, stub.err = nil, client.ErrCityNotFound
	f.FetchWeather(context.Background(), "Qwxyz")

	s := <-updates
	if s.Error() != "City not found" || s.IsLoading {
		t.Errorf("buffered update = %+v, want final failed state", s)
	}
	select {
	case extra := <-updates:
		t.Errorf("unexpected extra update %+v", extra)
	default:
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	f := NewWeatherFetcher(&stubClient{})

	updates, cancel := f.Subscribe()
	cancel()
	cancel()

	if _, ok := <-updates; ok {
		t.Error("channel still open after cancel")
	}
	if f.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", f.Subscribers())
	}
	f.FetchWeather(context.Background(), "London")
}

func TestFetchWeather_LogsFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := NewWeatherFetcher(&stubClient{err: client.ErrCityNotFound}, WithLogger(zap.New(core)))

	f.FetchWeather(context.Background(), "Qwxyz")

	entries := logs.FilterMessage("weather fetch failed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d failure log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["city"] != "Qwxyz" {
		t.Errorf("city field = %v, want Qwxyz", fields["city"])
	}
	if fields["error_category"] != "not_found" {
		t.Errorf("error_category field = %v, want not_found", fields["error_category"])
	}
}

func TestState_Helpers(t *testing.T) {
	var s State
	if s.HasError() || s.Error() != "" {
		t.Errorf("zero State reports error %q", s.Error())
	}
	s.ErrorMessage = strPtr("City not found")
	if !s.HasError() || s.Error() != "City not found" {
		t.Errorf("Error() = %q, want City not found", s.Error())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type countingRecorder struct {
	mu        sync.Mutex
	successes int
	errors    int
}

func (r *countingRecorder) RecordSuccess() { r.mu.Lock(); r.successes++; r.mu.Unlock() }
func (r *countingRecorder) RecordError()   { r.mu.Lock(); r.errors++; r.mu.Unlock() }

func TestFetchWeather_RecordsOutcomes(t *testing.T) {
	rec := &countingRecorder{}
	stub := &stubClient{payload: londonPayload()}
	f := NewWeatherFetcher(stub, WithOutcomeRecorder(rec))

	f.FetchWeather(context.Background(), "London")
	stub.payload, stub.err = nil, client.ErrCityNotFound
	f.FetchWeather(context.Background(), "Qwxyz")
	f.FetchWeather(context.Background(), "")

	if rec.successes != 1 || rec.errors != 1 {
		t.Errorf("outcomes = %d successes / %d errors, want 1/1", rec.successes, rec.errors)
	}
}

func TestStart_PublishesLoadingBeforeReturning(t *testing.T) {
	gc := newGatedClient("London")
	f := NewWeatherFetcher(gc)

	done := f.Start(context.Background(), "London")
	if !f.State().IsLoading {
		t.Error("IsLoading = false right after Start")
	}
	<-gc.started
	gc.respond("London", londonPayload(), nil)
	<-done

	if s := f.State(); s.IsLoading || s.Result == nil {
		t.Errorf("State() = %+v, want settled result", s)
	}
}

func TestStart_EmptyCityReturnsClosedChannel(t *testing.T) {
	f := NewWeatherFetcher(&stubClient{})

	select {
	case <-f.Start(context.Background(), ""):
	default:
		t.Fatal("Start(\"\") channel not closed")
	}
	if s := f.State(); !reflect.DeepEqual(s, State{}) {
		t.Errorf("State() = %+v, want zero", s)
	}
}
