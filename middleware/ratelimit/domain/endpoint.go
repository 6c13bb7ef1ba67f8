package domain

import (
	"fmt"
	"strings"
)

const (
	defaultEndpointMethod = "GET"
	defaultEndpointPath   = "/"
	wildcardSuffix        = "/*"
)

// EndpointRule mapeia (método, padrão de path) para uma lista ordenada de
// políticas. Os campos são privados: uma regra só nasce de EndpointBuilder.Build
// e não muda depois disso.
type EndpointRule struct {
	method   string
	path     string
	policies []string
}

func (e EndpointRule) Method() string { return e.method }

func (e EndpointRule) Path() string { return e.path }

// Policies devolve uma cópia dos nomes de políticas, na ordem configurada.
func (e EndpointRule) Policies() []string {
	out := make([]string, len(e.policies))
	copy(out, e.policies)
	return out
}

// IsMatch diz se a regra se aplica à requisição.
//
// O método precisa ser idêntico. O path casa quando é igual ao da regra
// (case-insensitive) ou quando a regra termina em "/*" e o path começa com o
// prefixo da regra sem o "*". "/api/*" também casa com "/api" exato. Um "*"
// que não esteja no fim, depois de "/", é literal.
//
// requestPath é o path bruto (com query, se houver); ver RequestAttributes.
func (e EndpointRule) IsMatch(requestPath, requestMethod string) (bool, error) {
	if strings.TrimSpace(requestPath) == "" {
		return false, fmt.Errorf("%w: request path must not be empty", ErrInvalidArgument)
	}
	if e.method != requestMethod {
		return false, nil
	}
	if strings.EqualFold(e.path, requestPath) {
		return true, nil
	}
	if !strings.HasSuffix(e.path, wildcardSuffix) {
		return false, nil
	}
	prefix := strings.TrimSuffix(e.path, "*")
	if hasPrefixFold(requestPath, prefix) {
		return true, nil
	}
	base := strings.TrimSuffix(prefix, "/")
	return base != "" && strings.EqualFold(base, requestPath), nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// EndpointBuilder monta uma EndpointRule. Padrões: GET e "/".
type EndpointBuilder struct {
	rule EndpointRule
	err  error
}

func NewEndpointBuilder() *EndpointBuilder {
	return &EndpointBuilder{rule: EndpointRule{method: defaultEndpointMethod, path: defaultEndpointPath}}
}

// ForPath define o padrão de path. Um curinga só vale no fim, depois de "/":
// "/api/*" casa com "/api", "/api/v1", "/api/v1/users", etc.
func (b *EndpointBuilder) ForPath(path string) *EndpointBuilder {
	if strings.TrimSpace(path) == "" {
		b.fail(fmt.Errorf("%w: endpoint path must not be empty", ErrConfiguration))
		return b
	}
	b.rule.path = path
	return b
}

// ForMethod define o método HTTP (normalizado para maiúsculas).
func (b *EndpointBuilder) ForMethod(method string) *EndpointBuilder {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		b.fail(fmt.Errorf("%w: endpoint method must not be empty", ErrConfiguration))
		return b
	}
	b.rule.method = method
	return b
}

// WithPolicy adiciona uma política pelo nome. Nomes repetidos (ignorando caixa)
// são descartados, mantendo a primeira ocorrência e a sua grafia.
func (b *EndpointBuilder) WithPolicy(name string) *EndpointBuilder {
	name = strings.TrimSpace(name)
	if name == "" {
		b.fail(fmt.Errorf("%w: policy name must not be empty", ErrConfiguration))
		return b
	}
	for _, p := range b.rule.policies {
		if strings.EqualFold(p, name) {
			return b
		}
	}
	b.rule.policies = append(b.rule.policies, name)
	return b
}

// Build devolve uma cópia profunda da regra acumulada.
func (b *EndpointBuilder) Build() (EndpointRule, error) {
	if b.err != nil {
		return EndpointRule{}, b.err
	}
	out := b.rule
	out.policies = b.rule.Policies()
	return out, nil
}

func (b *EndpointBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
