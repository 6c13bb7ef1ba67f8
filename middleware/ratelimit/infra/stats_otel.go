package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "admission-gateway/middleware/ratelimit"

// OtelStatsStore publica as decisões como o contador
// "ratelimit.decisions" com atributos decision, policy e method.
//
// Chave do cliente e path ficam de fora dos atributos por causa da cardinalidade.
type OtelStatsStore struct {
	decisions metric.Int64Counter
}

// NewOtelStatsStore usa o MeterProvider informado ou, se nil, o global.
func NewOtelStatsStore(mp metric.MeterProvider) (*OtelStatsStore, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	counter, err := mp.Meter(meterName).Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Admission decisions taken by the rate limiter."),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}
	return &OtelStatsStore{decisions: counter}, nil
}

func (s *OtelStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	decision := "denied"
	if ev.Allowed {
		decision = "allowed"
	}
	s.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", decision),
		attribute.String("policy", ev.Policy),
		attribute.String("method", ev.Method),
	))
	return nil
}
