package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const statsPath = "/_ratelimit/stats"

func newEngine(cfg *config.Config, pf *config.PolicyFile, store domain.CounterStore[int64], logger zerolog.Logger) (*application.Engine, error) {
	reg, err := config.BuildRegistry(pf)
	if err != nil {
		return nil, err
	}

	opts := []application.EngineOption{application.WithLogger(logger)}
	if cfg.Engine.StrictReferences {
		opts = append(opts, application.WithStrictPolicyReferences())
	}
	if cfg.Engine.StrictAlgorithms {
		opts = append(opts, application.WithAlgorithmValidation())
	}
	return application.NewEngine(reg, application.NewDispatcher(infra.NewFixedWindow(store)), opts...)
}

// newStats devolve o sink configurado (nil para "none") e a função que o fecha.
func newStats(ctx context.Context, cfg config.StatsConfig) (domain.StatsStore, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.Backend) {
	case "", config.StatsNone:
		return nil, noop, nil
	case config.StatsMemory:
		return infra.NewMemoryStatsStore(infra.WithTrackClients(cfg.TrackClients)), noop, nil
	case config.StatsOtel:
		s, err := infra.NewOtelStatsStore(nil)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case config.StatsRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, noop, fmt.Errorf("redis stats ping: %w", err)
		}

		s := infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Prefix),
			infra.WithStatsTTL(cfg.TTL),
			infra.WithStatsBucket(cfg.Bucket),
			infra.WithStatsTrackClients(cfg.TrackClients),
		)
		return s, func() { _ = rdb.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown stats backend %q", cfg.Backend)
}

// newHandler expõe as estatísticas em memória (se for o backend) fora do
// rate limit. Todo o resto vai para next com o path bruto: nada de ServeMux,
// que redireciona paths como "//a" antes do rate limit.
func newHandler(next http.Handler, stats domain.StatsStore) http.Handler {
	mem, ok := stats.(*infra.MemoryStatsStore)
	if !ok {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != statsPath {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total":     mem.Total(),
			"by_route":  mem.ByRoute(),
			"by_policy": mem.ByPolicy(),
			"by_client": mem.ByClient(),
		})
	})
}
