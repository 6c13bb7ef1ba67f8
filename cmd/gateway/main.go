package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	flags := config.SetupFlags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	configPath, _ := flags.GetString("config")

	cfg, err := config.Load(configPath, flags)
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("config error")
	}
	logger := config.NewLogger(cfg.Log, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("gateway stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.Server.UpstreamURL == "" {
		return errors.New("server.upstream_url is required")
	}
	target, err := url.Parse(cfg.Server.UpstreamURL)
	if err != nil {
		return err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	pf, err := config.LoadPolicyFile(cfg.Server.PolicyFile)
	if err != nil {
		return err
	}
	store := infra.NewMemoryStore[int64](
		infra.WithMaxEntries(cfg.Store.MaxEntries),
		infra.WithShards(cfg.Store.Shards),
		infra.WithCleanupEvery(cfg.Store.CleanupEvery),
	)
	eng, err := newEngine(cfg, pf, store, logger)
	if err != nil {
		return err
	}

	stats, closeStats, err := newStats(ctx, cfg.Stats)
	if err != nil {
		return err
	}
	defer closeStats()

	limited := ratelimit.Middleware(ratelimit.Options{
		Engine:              eng,
		Stats:               stats,
		Logger:              logger,
		TrustXForwardedFor:  cfg.Server.TrustXFF,
		RejectStatus:        cfg.Server.RejectStatus,
		AddRateLimitHeaders: cfg.Server.AddHeaders,
		FailOpen:            cfg.Server.FailOpen,
	})(proxy)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           newHandler(limited, stats),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	store.StartJanitor(gctx)

	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Server.ListenAddr).
			Str("upstream", target.String()).
			Str("policy_file", cfg.Server.PolicyFile).
			Int("policies", len(eng.Registry().Policies())).
			Int("endpoints", len(eng.Registry().Endpoints())).
			Str("stats", cfg.Stats.Backend).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
