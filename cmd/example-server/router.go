package main

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

var summaries = []string{"Freezing", "Bracing", "Chilly", "Cool", "Mild", "Warm", "Balmy", "Hot", "Sweltering", "Scorching"}

type forecast struct {
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

func newRouter(eng ratelimit.Evaluator, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Engine:              eng,
		Logger:              logger,
		AddRateLimitHeaders: true,
		OnLimitExceeded:     tooManyRequests,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/WeatherForecast", weatherForecast)
	return r
}

func weatherForecast(w http.ResponseWriter, r *http.Request) {
	out := make([]forecast, 5)
	for i := range out {
		c := rand.IntN(75) - 20
		out[i] = forecast{
			Date:         time.Now().AddDate(0, 0, i+1).Format(time.DateOnly),
			TemperatureC: c,
			TemperatureF: 32 + int(float64(c)/0.5556),
			Summary:      summaries[rand.IntN(len(summaries))],
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request, dec domain.Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":  "rate limit exceeded",
		"policy": dec.Policy,
		"client": dec.ClientKey,
	})
}
