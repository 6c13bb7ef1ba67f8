package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		errs = append(errs, fmt.Errorf("server.listen_addr is required"))
	}
	if cfg.Server.UpstreamURL != "" {
		u, err := url.Parse(cfg.Server.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.upstream_url %q is not a valid URL with scheme", cfg.Server.UpstreamURL))
		}
	}
	if cfg.Server.RejectStatus < 400 || cfg.Server.RejectStatus > 599 || http.StatusText(cfg.Server.RejectStatus) == "" {
		errs = append(errs, fmt.Errorf("server.reject_status must be a 4xx or 5xx status code"))
	}

	if cfg.Store.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("store.max_entries must be > 0"))
	}
	if cfg.Store.Shards < 1 {
		errs = append(errs, fmt.Errorf("store.shards must be > 0"))
	}
	if cfg.Store.CleanupEvery < 0 {
		errs = append(errs, fmt.Errorf("store.cleanup_every must be >= 0"))
	}

	switch strings.ToLower(cfg.Stats.Backend) {
	case "", StatsNone, StatsMemory, StatsOtel:
	case StatsRedis:
		if strings.TrimSpace(cfg.Stats.RedisAddr) == "" {
			errs = append(errs, fmt.Errorf("stats.redis_addr is required when stats backend is redis"))
		}
		switch strings.ToLower(cfg.Stats.Bucket) {
		case "", "minute", "none":
		default:
			errs = append(errs, fmt.Errorf("stats.bucket must be minute or none"))
		}
	default:
		errs = append(errs, fmt.Errorf("stats.backend must be none, memory, redis or otel"))
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q is not a valid level", cfg.Log.Level))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json"))
	}

	return errors.Join(errs...)
}
