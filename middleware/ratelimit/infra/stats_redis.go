package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores de decisão em hashes do Redis.
//
// Só estatística: os contadores do rate limit continuam no MemoryStore do
// processo. Layout (prefixo padrão "ratelimit:stats"):
//
//	<prefix>:total                 allowed/denied
//	<prefix>:minute:YYYYMMDDHHMM   allowed/denied (bucket "minute")
//	<prefix>:route                 "<METHOD> <path>:allowed|denied"
//	<prefix>:policy                "<policy>:allowed|denied"
//	<prefix>:client:<key>          allowed/denied (track-clients)
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por cliente.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackClients bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackClients(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackClients = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	routeField := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
	if routeField != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", routeField+":"+field, 1)
	}

	if ev.Policy != "" {
		pipe.HIncrBy(ctx, s.prefix+":policy", ev.Policy+":"+field, 1)
	}

	if s.trackClients {
		if k := strings.TrimSpace(ev.ClientKey); k != "" {
			clientKey := s.prefix + ":client:" + k
			pipe.HIncrBy(ctx, clientKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, clientKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
