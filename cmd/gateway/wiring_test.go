package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/rs/zerolog"
)

func TestNewStats_Backends(t *testing.T) {
	ctx := context.Background()

	s, closeFn, err := newStats(ctx, config.StatsConfig{Backend: config.StatsNone})
	if err != nil || s != nil {
		t.Fatalf("expected no stats for none, got %v %v", s, err)
	}
	closeFn()

	s, _, err = newStats(ctx, config.StatsConfig{Backend: config.StatsMemory})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*infra.MemoryStatsStore); !ok {
		t.Fatalf("expected memory stats store, got %T", s)
	}

	s, _, err = newStats(ctx, config.StatsConfig{Backend: config.StatsOtel})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*infra.OtelStatsStore); !ok {
		t.Fatalf("expected otel stats store, got %T", s)
	}

	if _, _, err := newStats(ctx, config.StatsConfig{Backend: "kafka"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestNewEngine_StrictReferences(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.StrictReferences = true
	pf := &config.PolicyFile{Endpoints: []config.EndpointSpec{{Path: "/x", Policies: []string{"ghost"}}}}

	_, err := newEngine(cfg, pf, infra.NewMemoryStore[int64](), zerolog.Nop())
	if !errors.Is(err, domain.ErrMissingPolicyReference) {
		t.Fatalf("expected ErrMissingPolicyReference, got %v", err)
	}
}

func TestNewHandler_ExposesMemoryStats(t *testing.T) {
	cfg := config.Defaults()
	one := 1
	pf := &config.PolicyFile{
		Policies:  []config.PolicySpec{{Name: "one", Limit: &one}},
		Endpoints: []config.EndpointSpec{{Path: "/*", Policies: []string{"one"}}},
	}
	eng, err := newEngine(cfg, pf, infra.NewMemoryStore[int64](), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := infra.NewMemoryStatsStore()

	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	limited := ratelimit.Middleware(ratelimit.Options{Engine: eng, Stats: stats})(upstream)
	h := newHandler(limited, stats)

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodGet, "/showTela", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, statsPath, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Total infra.Counters `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON, got %q", w.Body.String())
	}
	if body.Total.Allowed != 1 || body.Total.Denied != 1 {
		t.Fatalf("expected 1 allowed / 1 denied, got %+v", body.Total)
	}
}

func TestNewHandler_ForwardsRawPathUntouched(t *testing.T) {
	var seen []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.RequestURI)
		w.WriteHeader(http.StatusOK)
	})
	h := newHandler(next, infra.NewMemoryStatsStore())

	for _, target := range []string{"//a", "/a/../b", "/_ratelimit/stats/../x"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected %s to reach the upstream, got %d", target, w.Code)
		}
	}
	if len(seen) != 3 || seen[0] != "//a" || seen[1] != "/a/../b" {
		t.Fatalf("expected raw request targets, got %v", seen)
	}
}

func TestNewHandler_PassThroughWithoutMemoryStats(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if h := newHandler(next, nil); h == nil {
		t.Fatalf("expected handler")
	}
}
