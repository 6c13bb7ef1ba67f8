package ratelimit

import (
	"context"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	RequestIDHeader          = "X-Request-ID"
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitPolicy    = "X-RateLimit-Policy"

	tracerName = "admission-gateway/middleware/ratelimit"
	spanName   = "ratelimit.evaluate"
)

// Evaluator é o que o adapter precisa do motor (application.Engine).
type Evaluator interface {
	Evaluate(attrs domain.RequestAttributes) (domain.Decision, error)
}

// LimitExceededFunc responde no lugar do 429 padrão quando a requisição é negada.
type LimitExceededFunc func(w http.ResponseWriter, r *http.Request, dec domain.Decision)

type Options struct {
	Engine Evaluator
	// Stats recebe cada decisão (best-effort: erro só é logado).
	Stats  domain.StatsStore
	Logger zerolog.Logger

	ClientAddress      ClientAddressFunc
	TrustXForwardedFor bool

	// OnLimitExceeded substitui a resposta padrão de rejeição.
	OnLimitExceeded     LimitExceededFunc
	RejectStatus        int
	AddRateLimitHeaders bool
	// FailOpen deixa a requisição passar quando a avaliação falha; senão 500.
	FailOpen bool

	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

// Limiter é o núcleo do adapter, compartilhado entre net/http e gin.
type Limiter struct {
	opts   Options
	tracer trace.Tracer
}

func NewLimiter(opts Options) *Limiter {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.ClientAddress == nil {
		opts.ClientAddress = DefaultClientAddress(opts.TrustXForwardedFor)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Limiter{opts: opts, tracer: tp.Tracer(tracerName)}
}

// Middleware aplica o rate limit antes de next. Sem Engine, tudo passa.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	l := NewLimiter(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l.Serve(w, r, next)
		})
	}
}

// Serve decide a requisição e chama next só se ela for admitida.
func (l *Limiter) Serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if l.opts.Engine == nil {
		next.ServeHTTP(w, r)
		return
	}

	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = xid.New().String()
		r.Header.Set(RequestIDHeader, reqID)
	}
	w.Header().Set(RequestIDHeader, reqID)

	attrs := RequestAttributes(r, l.opts.ClientAddress)
	logger := l.opts.Logger.With().
		Str("request_id", reqID).
		Str("method", attrs.Method).
		Str("path", attrs.RawPath).
		Logger()

	dec, err := l.evaluate(r.Context(), attrs, reqID)
	if err != nil {
		logger.Error().Err(err).Msg("rate limit evaluation failed")
		if l.opts.FailOpen {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if l.opts.Stats != nil {
		if err := l.opts.Stats.Record(r.Context(), domain.NewStatsEvent(attrs, dec, l.opts.Now())); err != nil {
			logger.Warn().Err(err).Msg("rate limit stats not recorded")
		}
	}

	if l.opts.AddRateLimitHeaders && dec.Policy != "" {
		w.Header().Set(HeaderRateLimitLimit, formatInt(dec.Limit))
		w.Header().Set(HeaderRateLimitRemaining, formatInt(dec.Remaining))
		w.Header().Set(HeaderRateLimitPolicy, dec.Policy)
	}

	if dec.Allowed {
		next.ServeHTTP(w, r)
		return
	}

	logger.Debug().
		Str("policy", dec.Policy).
		Str("client", dec.ClientKey).
		Dur("retry_after", dec.RetryAfter).
		Msg("request rejected")

	if dec.RetryAfter > 0 {
		w.Header().Set(HeaderRetryAfter, retryAfterSeconds(dec.RetryAfter))
	}
	if l.opts.OnLimitExceeded != nil {
		l.opts.OnLimitExceeded(w, r, dec)
		return
	}
	http.Error(w, http.StatusText(l.opts.RejectStatus), l.opts.RejectStatus)
}

func (l *Limiter) evaluate(ctx context.Context, attrs domain.RequestAttributes, reqID string) (domain.Decision, error) {
	_, span := l.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("http.method", attrs.Method),
		attribute.String("http.target", attrs.RawPath),
		attribute.String("request.id", reqID),
	))
	defer span.End()

	dec, err := l.opts.Engine.Evaluate(attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		return domain.Decision{}, err
	}
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", dec.Allowed),
		attribute.String("ratelimit.policy", dec.Policy),
	)
	return dec, nil
}
