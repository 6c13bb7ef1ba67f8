package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	logger := config.NewLogger(config.LogConfig{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")}, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infra.NewMemoryStore[int64]()
	store.StartJanitor(ctx)

	reg, err := newRegistry()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid rate limit configuration")
	}
	eng, err := application.NewEngine(reg, application.NewDispatcher(infra.NewFixedWindow(store)), application.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("engine error")
	}

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(eng, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

// newRegistry configura as políticas por código: 2 requisições a cada 10s por
// X-Api-Key em GET /WeatherForecast. "ClientId" não existe e é ignorada (com
// aviso no log).
func newRegistry() (*domain.Registry, error) {
	return domain.NewRegistryBuilder().
		AddPolicy("ApiKey", func(p *domain.PolicyBuilder) {
			p.FixedWindow(2, 10*time.Second).WithClientIDLimit("X-Api-Key")
		}).
		ConfigureEndpoint(func(e *domain.EndpointBuilder) {
			e.ForMethod(http.MethodGet).
				ForPath("/WeatherForecast").
				WithPolicy("ClientId").
				WithPolicy("ApiKey")
		}).
		Build()
}
