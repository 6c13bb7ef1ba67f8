package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newEngine monta o cenário ApiKey: 2 requisições por 10s em GET /WeatherForecast.
func newEngine(t *testing.T, clock *testClock) *application.Engine {
	t.Helper()
	reg, err := domain.NewRegistryBuilder().
		AddPolicy("ApiKey", func(b *domain.PolicyBuilder) {
			b.FixedWindow(2, 10*time.Second).WithClientIDLimit("X-Api-Key")
		}).
		ConfigureEndpoint(func(b *domain.EndpointBuilder) {
			b.ForMethod(http.MethodGet).ForPath("/WeatherForecast").WithPolicy("ApiKey")
		}).
		Build()
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	store := infra.NewMemoryStore[int64](infra.WithClock(clock.Now))
	eng, err := application.NewEngine(reg, application.NewDispatcher(
		infra.NewFixedWindow(store, infra.WithFixedWindowClock(clock.Now)),
	))
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	return eng
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func weather(key string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/WeatherForecast", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if key != "" {
		r.Header.Set("X-Api-Key", key)
	}
	return r
}

func TestMiddleware_ApiKeyScenario(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	h := Middleware(Options{Engine: newEngine(t, clock), AddRateLimitHeaders: true})(okHandler(&calls))

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, weather("abc"))
		if w.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i+1, want, w.Code)
		}
		clock.Advance(time.Second)
	}

	clock.Advance(11 * time.Second)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, weather("abc"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after window, got %d", w.Code)
	}
	if calls != 3 {
		t.Fatalf("expected next handler to be called 3 times, got %d", calls)
	}
}

func TestMiddleware_RejectionHeaders(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_003, 0)}
	calls := 0
	h := Middleware(Options{Engine: newEngine(t, clock), AddRateLimitHeaders: true})(okHandler(&calls))

	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, weather("abc"))
	if got := w1.Header().Get(HeaderRateLimitRemaining); got != "1" {
		t.Fatalf("expected X-RateLimit-Remaining=1, got %q", got)
	}
	if got := w1.Header().Get(HeaderRateLimitLimit); got != "2" {
		t.Fatalf("expected X-RateLimit-Limit=2, got %q", got)
	}
	if got := w1.Header().Get(HeaderRateLimitPolicy); got != "ApiKey" {
		t.Fatalf("expected X-RateLimit-Policy=ApiKey, got %q", got)
	}
	if w1.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected X-Request-ID to be generated")
	}

	h.ServeHTTP(httptest.NewRecorder(), weather("abc"))
	w3 := httptest.NewRecorder()
	h.ServeHTTP(w3, weather("abc"))
	if w3.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w3.Code)
	}
	// janela 1_700_000_000..010, agora em ..003
	if got := w3.Header().Get(HeaderRetryAfter); got != "7" {
		t.Fatalf("expected Retry-After=7, got %q", got)
	}
	if got := w3.Header().Get(HeaderRateLimitRemaining); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0 on deny, got %q", got)
	}
}

func TestMiddleware_KeepsIncomingRequestID(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	h := Middleware(Options{Engine: newEngine(t, clock)})(okHandler(&calls))

	r := weather("abc")
	r.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Header().Get(RequestIDHeader); got != "req-1" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestMiddleware_DistinctKeysAreIndependent(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	h := Middleware(Options{Engine: newEngine(t, clock)})(okHandler(&calls))

	for _, key := range []string{"k1", "k1", "k2", "k2"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, weather(key))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for key %s, got %d", key, w.Code)
		}
	}
}

func TestMiddleware_UnmatchedPathPasses(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	h := Middleware(Options{Engine: newEngine(t, clock)})(okHandler(&calls))

	for i := 0; i < 5; i++ {
		r := httptest.NewRequest(http.MethodPost, "/WeatherForecast", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
}

func TestMiddleware_OnLimitExceeded(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	var got domain.Decision
	h := Middleware(Options{
		Engine: newEngine(t, clock),
		OnLimitExceeded: func(w http.ResponseWriter, r *http.Request, dec domain.Decision) {
			got = dec
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "slow down")
		},
	})(okHandler(&calls))

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), weather("abc"))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, weather("abc"))
	if w.Code != http.StatusServiceUnavailable || w.Body.String() != "slow down" {
		t.Fatalf("expected override response, got %d %q", w.Code, w.Body.String())
	}
	if got.Policy != "ApiKey" || got.ClientKey != "abc" {
		t.Fatalf("expected decision to reach override, got %+v", got)
	}
}

type failingEngine struct{}

func (failingEngine) Evaluate(domain.RequestAttributes) (domain.Decision, error) {
	return domain.Decision{}, domain.ErrUnsupportedAlgorithm
}

func TestMiddleware_EvaluationErrorIs500(t *testing.T) {
	var buf bytes.Buffer
	calls := 0
	h := Middleware(Options{Engine: failingEngine{}, Logger: zerolog.New(&buf)})(okHandler(&calls))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, weather("abc"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if calls != 0 {
		t.Fatalf("expected next handler not to be called")
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got %q", buf.String())
	}
}

func TestMiddleware_FailOpen(t *testing.T) {
	calls := 0
	h := Middleware(Options{Engine: failingEngine{}, FailOpen: true})(okHandler(&calls))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, weather("abc"))
	if w.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected request to pass through, got %d (calls=%d)", w.Code, calls)
	}
}

func TestMiddleware_NoEnginePassesThrough(t *testing.T) {
	calls := 0
	h := Middleware(Options{})(okHandler(&calls))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, weather(""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

type brokenStats struct{}

func (brokenStats) Record(context.Context, domain.StatsEvent) error { return errors.New("down") }

func TestMiddleware_RecordsStats(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	stats := infra.NewMemoryStatsStore(infra.WithTrackClients(true))
	calls := 0
	h := Middleware(Options{Engine: newEngine(t, clock), Stats: stats, Now: clock.Now})(okHandler(&calls))

	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), weather("abc"))
	}

	if got := stats.Total(); got.Allowed != 2 || got.Denied != 1 {
		t.Fatalf("expected 2 allowed / 1 denied, got %+v", got)
	}
	if got := stats.ByRoute()["GET /WeatherForecast"]; got.Allowed != 2 || got.Denied != 1 {
		t.Fatalf("expected route counters, got %+v", got)
	}
	if got := stats.ByClient()["abc"]; got.Denied != 1 {
		t.Fatalf("expected client counters, got %+v", got)
	}
}

func TestMiddleware_StatsErrorsDoNotFailRequest(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	h := Middleware(Options{Engine: newEngine(t, clock), Stats: brokenStats{}})(okHandler(&calls))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, weather("abc"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMiddleware_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	h := Middleware(Options{Engine: newEngine(t, clock), TracerProvider: tp})(okHandler(&calls))
	h.ServeHTTP(httptest.NewRecorder(), weather("abc"))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "ratelimit.evaluate" {
		t.Fatalf("expected ratelimit.evaluate span, got %q", spans[0].Name())
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if string(kv.Key) == "ratelimit.allowed" && kv.Value.AsBool() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ratelimit.allowed=true attribute")
	}
}
