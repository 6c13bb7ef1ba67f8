package main

// Upstream "burro" para validar o gateway na mão:
//
//	go run ./teste-validacao/servidor-burrao
//	GATEWAY_SERVER_UPSTREAM_URL=http://localhost:8081 go run ./cmd/gateway --server.policy_file=policies.example.yaml
//	for i in 1 2 3; do curl -i -H 'X-Api-Key: abc' localhost:8080/WeatherForecast; done

import (
	"fmt"
	"net/http"
	"os"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/config"

	"github.com/rs/zerolog"
)

func main() {
	logger := config.NewLogger(config.LogConfig{Level: "info", Format: "console"}, os.Stdout)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	logger.Info().Msgf("Servidor rodando em http://localhost%s", addr)
	if err := http.ListenAndServe(addr, newMux(logger)); err != nil {
		logger.Error().Err(err).Msg("Erro ao subir o servidor")
	}
}

func newMux(logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		logAccess(logger, r)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "upstream ok: %s %s\n", r.Method, r.URL.RequestURI())
		logAccess(logger, r)
	})
	return mux
}

func logAccess(logger zerolog.Logger, r *http.Request) {
	logger.Info().
		Str("request_id", r.Header.Get(ratelimit.RequestIDHeader)).
		Str("method", r.Method).
		Str("path", r.URL.RequestURI()).
		Msg("Alguém acessou o upstream")
}
