package application

import (
	"fmt"

	"admission-gateway/middleware/ratelimit/domain"
)

// Dispatcher mapeia AlgorithmType para a implementação registrada.
// Depois de NewDispatcher é somente leitura.
type Dispatcher struct {
	algorithms map[domain.AlgorithmType]domain.Algorithm
}

// NewDispatcher registra os algoritmos informados. Um tipo repetido fica com
// a última implementação.
func NewDispatcher(algorithms ...domain.Algorithm) *Dispatcher {
	d := &Dispatcher{algorithms: make(map[domain.AlgorithmType]domain.Algorithm, len(algorithms))}
	for _, a := range algorithms {
		if a == nil {
			continue
		}
		d.algorithms[a.Type()] = a
	}
	return d
}

func (d *Dispatcher) Supports(t domain.AlgorithmType) bool {
	if d == nil {
		return false
	}
	_, ok := d.algorithms[t]
	return ok
}

// Dispatch avalia a política com o algoritmo do seu tipo.
func (d *Dispatcher) Dispatch(attrs domain.RequestAttributes, policy domain.Policy) (domain.Result, error) {
	if !d.Supports(policy.Algorithm) {
		return domain.Result{}, fmt.Errorf("%w: %q (policy %q)", domain.ErrUnsupportedAlgorithm, policy.Algorithm, policy.Name)
	}
	return d.algorithms[policy.Algorithm].Evaluate(attrs, policy)
}
