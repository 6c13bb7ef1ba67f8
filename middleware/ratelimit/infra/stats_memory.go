package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Denied  int64
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byRoute  map[string]Counters
	byPolicy map[string]Counters
	byClient map[string]Counters

	trackClients bool
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackClients liga a contagem por chave de cliente (alta cardinalidade).
func WithTrackClients(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackClients = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute:  make(map[string]Counters),
		byPolicy: make(map[string]Counters),
		byClient: make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	bump(&s.total, ev.Allowed)
	incr(s.byRoute, route, ev.Allowed)
	if ev.Policy != "" {
		incr(s.byPolicy, ev.Policy, ev.Allowed)
	}
	if s.trackClients && ev.ClientKey != "" {
		incr(s.byClient, ev.ClientKey, ev.Allowed)
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCounters(s.byRoute)
}

func (s *MemoryStatsStore) ByPolicy() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCounters(s.byPolicy)
}

func (s *MemoryStatsStore) ByClient() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCounters(s.byClient)
}

func bump(c *Counters, allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

func incr(m map[string]Counters, k string, allowed bool) {
	c := m[k]
	bump(&c, allowed)
	m[k] = c
}

func cloneCounters(in map[string]Counters) map[string]Counters {
	out := make(map[string]Counters, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
