package domain

import (
	"errors"
	"fmt"
	"strings"
)

// GlobalPolicyName é o nome reservado da política global. O "$" evita colisão
// com nomes aceitos em AddPolicy pelo arquivo de configuração.
const GlobalPolicyName = "$global"

// Registry é o conjunto congelado de políticas e regras de endpoint.
// Depois de RegistryBuilder.Build nada aqui muda, então leituras concorrentes
// não precisam de sincronização.
type Registry struct {
	policies  map[string]Policy // chave: nome em minúsculas
	order     []string
	endpoints []EndpointRule
	global    *Policy
}

// Policy resolve um nome (case-insensitive).
func (r *Registry) Policy(name string) (Policy, bool) {
	if r == nil {
		return Policy{}, false
	}
	p, ok := r.policies[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Policies devolve as políticas nomeadas na ordem do primeiro registro.
func (r *Registry) Policies() []Policy {
	if r == nil {
		return nil
	}
	out := make([]Policy, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.policies[k])
	}
	return out
}

// Endpoints devolve as regras na ordem de registro.
func (r *Registry) Endpoints() []EndpointRule {
	if r == nil {
		return nil
	}
	out := make([]EndpointRule, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

func (r *Registry) GlobalPolicy() (Policy, bool) {
	if r == nil || r.global == nil {
		return Policy{}, false
	}
	return *r.global, true
}

// Match devolve a primeira regra que casa com (method, path).
func (r *Registry) Match(method, path string) (EndpointRule, bool, error) {
	if r == nil {
		return EndpointRule{}, false, nil
	}
	for _, ep := range r.endpoints {
		ok, err := ep.IsMatch(path, method)
		if err != nil {
			return EndpointRule{}, false, err
		}
		if ok {
			return ep, true, nil
		}
	}
	return EndpointRule{}, false, nil
}

// MissingReferences lista nomes citados por endpoints que não existem no registry.
func (r *Registry) MissingReferences() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, ep := range r.endpoints {
		for _, name := range ep.policies {
			k := strings.ToLower(name)
			if _, ok := r.policies[k]; ok || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, name)
		}
	}
	return out
}

// RegistryBuilder é a superfície de configuração: AddPolicy, WithGlobalPolicy
// e ConfigureEndpoint. Erros são acumulados e devolvidos juntos em Build.
type RegistryBuilder struct {
	policies  map[string]Policy
	order     []string
	endpoints []EndpointRule
	global    *Policy
	errs      []error
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{policies: make(map[string]Policy)}
}

// AddPolicy registra (ou sobrescreve, ignorando caixa) uma política nomeada.
func (b *RegistryBuilder) AddPolicy(name string, configure func(*PolicyBuilder)) *RegistryBuilder {
	name = strings.TrimSpace(name)
	if name == "" {
		b.errs = append(b.errs, fmt.Errorf("%w: policy name must not be empty", ErrConfiguration))
		return b
	}
	if strings.EqualFold(name, GlobalPolicyName) {
		b.errs = append(b.errs, fmt.Errorf("%w: policy name %q is reserved", ErrConfiguration, name))
		return b
	}
	p, err := buildPolicy(configure)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("policy %q: %w", name, err))
		return b
	}
	p.Name = name

	k := strings.ToLower(name)
	if _, exists := b.policies[k]; !exists {
		b.order = append(b.order, k)
	}
	b.policies[k] = p
	return b
}

// WithGlobalPolicy define a política aplicada a todas as requisições, antes
// das políticas de endpoint. Uma segunda chamada substitui a primeira.
func (b *RegistryBuilder) WithGlobalPolicy(configure func(*PolicyBuilder)) *RegistryBuilder {
	p, err := buildPolicy(configure)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("global policy: %w", err))
		return b
	}
	p.Name = GlobalPolicyName
	b.global = &p
	return b
}

// ConfigureEndpoint acrescenta uma regra de endpoint. A ordem de chamada é a
// ordem de avaliação.
func (b *RegistryBuilder) ConfigureEndpoint(configure func(*EndpointBuilder)) *RegistryBuilder {
	eb := NewEndpointBuilder()
	if configure != nil {
		configure(eb)
	}
	ep, err := eb.Build()
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("endpoint #%d: %w", len(b.endpoints)+1, err))
		return b
	}
	b.endpoints = append(b.endpoints, ep)
	return b
}

// Build congela a configuração. O Registry devolvido não compartilha memória
// com o builder.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	r := &Registry{
		policies:  make(map[string]Policy, len(b.policies)),
		order:     append([]string(nil), b.order...),
		endpoints: make([]EndpointRule, 0, len(b.endpoints)),
	}
	for k, p := range b.policies {
		r.policies[k] = p
	}
	for _, ep := range b.endpoints {
		ep.policies = ep.Policies()
		r.endpoints = append(r.endpoints, ep)
	}
	if b.global != nil {
		g := *b.global
		r.global = &g
	}
	return r, nil
}

func buildPolicy(configure func(*PolicyBuilder)) (Policy, error) {
	pb := NewPolicyBuilder()
	if configure != nil {
		configure(pb)
	}
	return pb.Build()
}
