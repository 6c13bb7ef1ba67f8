package infra

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

func TestRedisStatsStore_NilClientIsNoop(t *testing.T) {
	var s *RedisStatsStore
	if err := s.Record(context.Background(), domain.StatsEvent{Allowed: true}); err != nil {
		t.Fatalf("expected nil store to be a no-op, got %v", err)
	}
	if err := NewRedisStatsStore(nil).Record(context.Background(), domain.StatsEvent{}); err != nil {
		t.Fatalf("expected nil client to be a no-op, got %v", err)
	}
}

func TestRedisStatsStore_Options(t *testing.T) {
	s := NewRedisStatsStore(nil,
		WithStatsPrefix(":custom:"),
		WithStatsTTL(time.Hour),
		WithStatsBucket(" NONE "),
		WithStatsTrackClients(true),
	)
	if s.prefix != "custom" || s.ttl != time.Hour || s.bucket != "none" || !s.trackClients {
		t.Fatalf("unexpected options: %+v", s)
	}
}

func TestRedisStatsStore_ReportsConnectionErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	err := NewRedisStatsStore(rdb).Record(context.Background(), domain.StatsEvent{Policy: "p", Allowed: true})
	if err == nil {
		t.Fatalf("expected error from unreachable redis")
	}
}

// commandRecorder intercepta os comandos antes da rede e responde OK.
type commandRecorder struct {
	mu   sync.Mutex
	cmds []string
}

func (h *commandRecorder) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *commandRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.record(cmd)
		return nil
	}
}

func (h *commandRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			h.record(cmd)
		}
		return nil
	}
}

func (h *commandRecorder) record(cmd redis.Cmder) {
	parts := make([]string, 0, len(cmd.Args()))
	for _, a := range cmd.Args() {
		parts = append(parts, fmt.Sprint(a))
	}
	h.mu.Lock()
	h.cmds = append(h.cmds, strings.Join(parts, "|"))
	h.mu.Unlock()
}

func newRecordedClient(t *testing.T) (*redis.Client, *commandRecorder) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = rdb.Close() })
	h := &commandRecorder{}
	rdb.AddHook(h)
	return rdb, h
}

func TestRedisStatsStore_HashLayout(t *testing.T) {
	rdb, rec := newRecordedClient(t)
	s := NewRedisStatsStore(rdb, WithStatsTTL(time.Hour), WithStatsTrackClients(true))

	ev := domain.StatsEvent{
		Policy:    "ApiKey",
		ClientKey: "k1",
		Allowed:   true,
		Method:    "GET",
		Path:      "/WeatherForecast",
		At:        time.Date(2024, 3, 5, 14, 7, 30, 0, time.UTC),
	}
	if err := s.Record(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"hincrby|ratelimit:stats:total|allowed|1",
		"hincrby|ratelimit:stats:minute:202403051407|allowed|1",
		"expire|ratelimit:stats:minute:202403051407|3600",
		"hincrby|ratelimit:stats:route|GET /WeatherForecast:allowed|1",
		"hincrby|ratelimit:stats:policy|ApiKey:allowed|1",
		"hincrby|ratelimit:stats:client:k1|allowed|1",
		"expire|ratelimit:stats:client:k1|3600",
	}
	if !reflect.DeepEqual(rec.cmds, want) {
		t.Fatalf("expected commands\n%s\ngot\n%s", strings.Join(want, "\n"), strings.Join(rec.cmds, "\n"))
	}
}

func TestRedisStatsStore_DeniedWithoutBucketOrClients(t *testing.T) {
	rdb, rec := newRecordedClient(t)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("rl"), WithStatsBucket("none"))

	ev := domain.StatsEvent{Policy: "perIP", ClientKey: "10.0.0.1", Method: "POST", Path: "/api/x"}
	if err := s.Record(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"hincrby|rl:total|denied|1",
		"hincrby|rl:route|POST /api/x:denied|1",
		"hincrby|rl:policy|perIP:denied|1",
	}
	if !reflect.DeepEqual(rec.cmds, want) {
		t.Fatalf("expected commands\n%s\ngot\n%s", strings.Join(want, "\n"), strings.Join(rec.cmds, "\n"))
	}
}
