package infra

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// UndefinedClientKey é usado quando não há header nem endereço para identificar
// o cliente.
const UndefinedClientKey = "NotDefined"

// FixedWindow implementa o algoritmo de janela fixa sobre um CounterStore.
//
// A janela é alinhada ao relógio Unix em segundos inteiros: com janela de 10s,
// 12:34:56 cai na janela que começa em 12:34:50. O contador nasce em 1 na
// primeira requisição da janela; a requisição passa se a leitura anterior ao
// incremento for <= limite. Requisições negadas não alteram o contador.
type FixedWindow struct {
	store domain.CounterStore[int64]
	now   func() time.Time
}

type FixedWindowOption func(*FixedWindow)

// WithFixedWindowClock troca o relógio (testes).
func WithFixedWindowClock(now func() time.Time) FixedWindowOption {
	return func(f *FixedWindow) { f.now = now }
}

func NewFixedWindow(store domain.CounterStore[int64], opts ...FixedWindowOption) *FixedWindow {
	f := &FixedWindow{store: store, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ domain.Algorithm = (*FixedWindow)(nil)

func (f *FixedWindow) Type() domain.AlgorithmType { return domain.AlgorithmFixedWindow }

// Evaluate implementa domain.Algorithm.
func (f *FixedWindow) Evaluate(attrs domain.RequestAttributes, policy domain.Policy) (domain.Result, error) {
	if !policy.RateLimit.Valid() {
		return domain.Result{}, fmt.Errorf("%w: policy %q has no valid rate limit", domain.ErrConfiguration, policy.Name)
	}

	now := f.now().Unix()
	windowSeconds := WindowSeconds(policy.RateLimit.Window())
	windowStart := now - now%windowSeconds
	expiration := time.Duration(windowStart+windowSeconds-now) * time.Second

	clientKey := ClientKey(attrs, policy)
	key := CounterKey(policy, clientKey, windowStart)
	limit := int64(policy.RateLimit.Limit())

	count, err := f.store.Compute(key, 1, expiration, func(current int64) (int64, bool) {
		if current <= limit {
			return current + 1, true
		}
		return current, false
	})
	if err != nil {
		return domain.Result{}, fmt.Errorf("fixed window %q: %w", policy.Name, err)
	}

	return domain.Result{
		Allowed:    count <= limit,
		Policy:     policy.Name,
		ClientKey:  clientKey,
		Limit:      policy.RateLimit.Limit(),
		Count:      count,
		ResetAfter: expiration,
	}, nil
}

// WindowSeconds converte a janela para segundos inteiros (piso), nunca menos
// que 1: janelas abaixo de um segundo contam como um segundo.
func WindowSeconds(window time.Duration) int64 {
	s := int64(window / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// ClientKey resolve quem é o cliente para a política: o primeiro valor do
// header configurado, senão o endereço do cliente, senão UndefinedClientKey.
func ClientKey(attrs domain.RequestAttributes, policy domain.Policy) string {
	if policy.Type == domain.PolicyTypeClientID {
		if v, ok := attrs.FirstHeader(policy.ClientIdentifier.Header); ok {
			return v
		}
	}
	if addr := strings.TrimSpace(attrs.ClientAddress); addr != "" {
		return addr
	}
	return UndefinedClientKey
}

// CounterKey compõe a chave do contador a partir do algoritmo, da política, do
// início da janela e do cliente. O nome da política leva o tamanho na frente e o
// cliente vai no fim, então ":" dentro deles não gera colisão.
func CounterKey(policy domain.Policy, clientKey string, windowStart int64) string {
	name := strings.ToLower(policy.Name)

	var b strings.Builder
	b.Grow(len(policy.Algorithm) + len(name) + len(clientKey) + 32)
	b.WriteString(string(policy.Algorithm))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(len(name)))
	b.WriteByte(':')
	b.WriteString(name)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(windowStart, 10))
	b.WriteByte(':')
	b.WriteString(clientKey)
	return b.String()
}
