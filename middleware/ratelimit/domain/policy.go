package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultRequestLimit é o limite usado quando a política não chama FixedWindow.
	DefaultRequestLimit = 100
	// DefaultWindow é a janela usada quando a política não chama FixedWindow.
	DefaultWindow = time.Minute
)

// RateLimit é o par limite/janela. Só é construído via NewRateLimit, então
// Limit() > 0 e Window() > 0 valem durante toda a vida do valor.
type RateLimit struct {
	limit  int
	window time.Duration
}

func NewRateLimit(limit int, window time.Duration) (RateLimit, error) {
	if limit <= 0 {
		return RateLimit{}, fmt.Errorf("%w: limit must be > 0, got %d", ErrConfiguration, limit)
	}
	if window <= 0 {
		return RateLimit{}, fmt.Errorf("%w: window must be > 0, got %s", ErrConfiguration, window)
	}
	return RateLimit{limit: limit, window: window}, nil
}

func (r RateLimit) Limit() int { return r.limit }

func (r RateLimit) Window() time.Duration { return r.window }

func (r RateLimit) Valid() bool { return r.limit > 0 && r.window > 0 }

func (r RateLimit) String() string { return fmt.Sprintf("%d/%s", r.limit, r.window) }

// PolicyType define como as requisições são segregadas.
type PolicyType int

const (
	PolicyTypeIPAddress PolicyType = iota
	PolicyTypeClientID
)

func (t PolicyType) String() string {
	switch t {
	case PolicyTypeIPAddress:
		return "ip"
	case PolicyTypeClientID:
		return "client_id"
	default:
		return fmt.Sprintf("PolicyType(%d)", int(t))
	}
}

// ParsePolicyType aceita "ip"/"ip_address" e "client_id"/"clientid" (case-insensitive).
func ParsePolicyType(s string) (PolicyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ip", "ip_address", "ipaddress":
		return PolicyTypeIPAddress, nil
	case "client_id", "clientid", "client":
		return PolicyTypeClientID, nil
	}
	return 0, fmt.Errorf("%w: unknown policy type %q", ErrConfiguration, s)
}

// AlgorithmType identifica o algoritmo de contagem. É uma string aberta:
// novos algoritmos não exigem mudar este pacote.
type AlgorithmType string

const AlgorithmFixedWindow AlgorithmType = "fixed_window"

// ClientIdentifier diz qual header identifica o cliente. Header vazio significa
// "não definido".
type ClientIdentifier struct {
	Header string
}

// Policy é a descrição imutável de um limite.
type Policy struct {
	Name             string
	RateLimit        RateLimit
	Type             PolicyType
	ClientIdentifier ClientIdentifier
	Algorithm        AlgorithmType
}

// PolicyBuilder monta uma Policy. Os métodos registram o primeiro erro e o
// devolvem em Build; chamadas inválidas não alteram o estado acumulado.
type PolicyBuilder struct {
	policy Policy
	err    error
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{policy: Policy{
		RateLimit: RateLimit{limit: DefaultRequestLimit, window: DefaultWindow},
		Type:      PolicyTypeIPAddress,
		Algorithm: AlgorithmFixedWindow,
	}}
}

// FixedWindow define o limite de requisições por janela fixa.
func (b *PolicyBuilder) FixedWindow(limit int, window time.Duration) *PolicyBuilder {
	rl, err := NewRateLimit(limit, window)
	if err != nil {
		b.fail(err)
		return b
	}
	b.policy.RateLimit = rl
	b.policy.Algorithm = AlgorithmFixedWindow
	return b
}

// WithIPLimit segrega os contadores pelo endereço do cliente.
func (b *PolicyBuilder) WithIPLimit() *PolicyBuilder {
	b.policy.Type = PolicyTypeIPAddress
	b.policy.ClientIdentifier = ClientIdentifier{}
	return b
}

// WithClientIDLimit segrega os contadores pelo valor do header informado
// (ex.: "X-Api-Key").
func (b *PolicyBuilder) WithClientIDLimit(header string) *PolicyBuilder {
	header = strings.TrimSpace(header)
	if header == "" {
		b.fail(fmt.Errorf("%w: client id header must not be empty", ErrConfiguration))
		return b
	}
	b.policy.Type = PolicyTypeClientID
	b.policy.ClientIdentifier = ClientIdentifier{Header: header}
	return b
}

// WithAlgorithm troca o algoritmo. O tipo não é validado aqui: um tipo sem
// implementação só falha na avaliação (ou no NewEngine com validação ligada).
func (b *PolicyBuilder) WithAlgorithm(t AlgorithmType) *PolicyBuilder {
	if strings.TrimSpace(string(t)) == "" {
		b.fail(fmt.Errorf("%w: algorithm must not be empty", ErrConfiguration))
		return b
	}
	b.policy.Algorithm = t
	return b
}

// Build devolve uma cópia da política acumulada.
func (b *PolicyBuilder) Build() (Policy, error) {
	if b.err != nil {
		return Policy{}, b.err
	}
	return b.policy, nil
}

func (b *PolicyBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
