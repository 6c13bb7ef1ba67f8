package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas
// e podem ser usadas para web, gRPC, etc.
//
// Observação: cuidado com cardinalidade (ex.: salvar ClientKey/Path sem controle
// pode explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	// Policy é a política que decidiu (negou) ou a mais restritiva avaliada.
	// Vazio quando nenhuma política se aplicou à requisição.
	Policy    string
	ClientKey string
	Allowed   bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// Implementações podem armazenar em Redis, memória, métricas OpenTelemetry, etc.
// O middleware deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// NewStatsEvent monta o evento a partir da decisão do motor.
func NewStatsEvent(attrs RequestAttributes, dec Decision, at time.Time) StatsEvent {
	return StatsEvent{
		Policy:    dec.Policy,
		ClientKey: dec.ClientKey,
		Allowed:   dec.Allowed,
		Method:    attrs.Method,
		Path:      attrs.RawPath,
		At:        at,
	}
}
