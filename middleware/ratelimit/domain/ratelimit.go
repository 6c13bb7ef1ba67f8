package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"strings"
	"time"
)

// HeaderFunc devolve todos os valores de um header da requisição (nil se ausente).
// Com net/http basta passar r.Header.Values.
type HeaderFunc func(name string) []string

// RequestAttributes é tudo que o motor precisa saber de uma requisição.
//
// RawPath é o path exatamente como recebido, incluindo a query string quando
// existir. Nenhuma normalização é feita: "/a?x=1" e "/a?x=2" são sujeitos
// diferentes para regras exatas. Quem quiser ignorar a query deve normalizar
// antes de chamar o motor.
type RequestAttributes struct {
	Method        string
	RawPath       string
	Header        HeaderFunc
	ClientAddress string
}

// FirstHeader devolve o primeiro valor não vazio do header, se houver.
func (a RequestAttributes) FirstHeader(name string) (string, bool) {
	if a.Header == nil || name == "" {
		return "", false
	}
	vals := a.Header(name)
	if len(vals) == 0 {
		return "", false
	}
	v := strings.TrimSpace(vals[0])
	if v == "" {
		return "", false
	}
	return v, true
}

// Result é o resultado da avaliação de uma única política.
type Result struct {
	Allowed   bool
	Policy    string
	ClientKey string
	Limit     int
	// Count é a leitura anterior ao incremento (1 para a primeira requisição
	// da janela).
	Count      int64
	ResetAfter time.Duration
}

// Remaining é quantas requisições ainda cabem na janela depois desta.
func (r Result) Remaining() int {
	rem := int64(r.Limit) - r.Count
	if rem < 0 {
		return 0
	}
	return int(rem)
}

// Decision é a decisão de admissão devolvida ao adapter.
//
// O adapter não distingue "permitido porque nada casou" de "permitido porque
// está dentro do limite": em ambos os casos Allowed é true. Quando nenhuma
// política foi avaliada, Policy é vazio.
type Decision struct {
	Allowed   bool
	Policy    string
	ClientKey string
	Limit     int
	Remaining int
	// RetryAfter é o tempo até o fim da janela da política que negou.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}

// Algorithm representa uma estratégia de contagem (fixed window, etc).
//
// Observação: apenas fixed window existe hoje, mas o motor despacha por
// AlgorithmType, então novos algoritmos entram sem mudar o motor.
type Algorithm interface {
	Type() AlgorithmType
	Evaluate(attrs RequestAttributes, policy Policy) (Result, error)
}

// CounterStore é o armazenamento chave/valor com TTL e exclusão mútua por chave
// que sustenta os contadores.
type CounterStore[V any] interface {
	// GetOrCreate devolve o valor existente (não expirado) ou insere initial
	// com expiração now+ttl e devolve initial.
	GetOrCreate(key string, initial V, ttl time.Duration) (V, error)

	// Update substitui o valor sem renovar o TTL original.
	Update(key string, value V) (V, error)

	// Compute executa GetOrCreate e, se fn pedir, grava o novo valor, tudo na
	// mesma seção crítica da chave. Devolve o valor lido (antes de fn).
	Compute(key string, initial V, ttl time.Duration, fn func(current V) (next V, write bool)) (V, error)
}
