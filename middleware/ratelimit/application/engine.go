package application

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultMissingPolicyLogEvery é o intervalo mínimo entre dois avisos de
// política inexistente.
const DefaultMissingPolicyLogEvery = time.Minute

// Engine decide se uma requisição entra.
//
// A ordem é: política global (se houver), depois a primeira regra de endpoint
// que casar, com as políticas na ordem configurada. O primeiro Deny encerra a
// avaliação. É seguro para uso concorrente: o Registry é imutável e o estado
// mutável fica no CounterStore dos algoritmos.
type Engine struct {
	registry   *domain.Registry
	dispatcher *Dispatcher
	log        zerolog.Logger

	strictReferences  bool
	validateAlgorithm bool
	missingLog        *rate.Sometimes
}

type EngineOption func(*Engine)

func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithStrictPolicyReferences faz NewEngine falhar com ErrMissingPolicyReference
// quando uma regra cita uma política inexistente. Sem ela, o nome é ignorado
// na avaliação e um aviso é logado.
func WithStrictPolicyReferences() EngineOption {
	return func(e *Engine) { e.strictReferences = true }
}

// WithAlgorithmValidation faz NewEngine falhar com ErrUnsupportedAlgorithm
// quando alguma política usa um algoritmo sem implementação. Sem ela, o erro
// só aparece quando a política é avaliada.
func WithAlgorithmValidation() EngineOption {
	return func(e *Engine) { e.validateAlgorithm = true }
}

// WithMissingPolicyLogEvery ajusta a amostragem do aviso de política
// inexistente (o primeiro sempre sai).
func WithMissingPolicyLogEvery(d time.Duration) EngineOption {
	return func(e *Engine) { e.missingLog = &rate.Sometimes{First: 1, Interval: d} }
}

func NewEngine(registry *domain.Registry, dispatcher *Dispatcher, opts ...EngineOption) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", domain.ErrConfiguration)
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher is required", domain.ErrConfiguration)
	}

	e := &Engine{
		registry:   registry,
		dispatcher: dispatcher,
		log:        zerolog.Nop(),
		missingLog: &rate.Sometimes{First: 1, Interval: DefaultMissingPolicyLogEvery},
	}
	for _, opt := range opts {
		opt(e)
	}

	var errs []error
	if e.strictReferences {
		if missing := registry.MissingReferences(); len(missing) > 0 {
			errs = append(errs, fmt.Errorf("%w: %s", domain.ErrMissingPolicyReference, strings.Join(missing, ", ")))
		}
	}
	if e.validateAlgorithm {
		policies := registry.Policies()
		if g, ok := registry.GlobalPolicy(); ok {
			policies = append(policies, g)
		}
		for _, p := range policies {
			if !dispatcher.Supports(p.Algorithm) {
				errs = append(errs, fmt.Errorf("%w: %q (policy %q)", domain.ErrUnsupportedAlgorithm, p.Algorithm, p.Name))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return e, nil
}

// Registry devolve o registry usado pelo motor.
func (e *Engine) Registry() *domain.Registry { return e.registry }

// Evaluate decide a requisição.
//
// Erros vêm de path inválido (ErrInvalidArgument), algoritmo sem implementação
// (ErrUnsupportedAlgorithm) ou do store. A Decision devolvida junto com um erro
// não deve ser usada.
func (e *Engine) Evaluate(attrs domain.RequestAttributes) (domain.Decision, error) {
	// path inválido não pode consumir a cota global
	if strings.TrimSpace(attrs.RawPath) == "" {
		return domain.Decision{}, fmt.Errorf("%w: request path must not be empty", domain.ErrInvalidArgument)
	}

	var tightest *domain.Result

	if g, ok := e.registry.GlobalPolicy(); ok {
		res, err := e.dispatcher.Dispatch(attrs, g)
		if err != nil {
			return domain.Decision{}, err
		}
		if !res.Allowed {
			return deny(res), nil
		}
		tightest = &res
	}

	rule, ok, err := e.registry.Match(attrs.Method, attrs.RawPath)
	if err != nil {
		return domain.Decision{}, err
	}
	if ok {
		for _, name := range rule.Policies() {
			p, found := e.registry.Policy(name)
			if !found {
				e.warnMissing(name, rule)
				continue
			}
			res, err := e.dispatcher.Dispatch(attrs, p)
			if err != nil {
				return domain.Decision{}, err
			}
			if !res.Allowed {
				return deny(res), nil
			}
			if tightest == nil || res.Remaining() < tightest.Remaining() {
				r := res
				tightest = &r
			}
		}
	}

	if tightest == nil {
		return domain.Decision{Allowed: true}, nil
	}
	return domain.Decision{
		Allowed:   true,
		Policy:    tightest.Policy,
		ClientKey: tightest.ClientKey,
		Limit:     tightest.Limit,
		Remaining: tightest.Remaining(),
	}, nil
}

func (e *Engine) warnMissing(name string, rule domain.EndpointRule) {
	e.missingLog.Do(func() {
		e.log.Warn().
			Str("policy", name).
			Str("method", rule.Method()).
			Str("path", rule.Path()).
			Msg("endpoint references unknown policy; skipping")
	})
}

func deny(res domain.Result) domain.Decision {
	return domain.Decision{
		Allowed:    false,
		Policy:     res.Policy,
		ClientKey:  res.ClientKey,
		Limit:      res.Limit,
		RetryAfter: res.ResetAfter,
	}
}
