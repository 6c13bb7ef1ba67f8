package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// PolicyFile é o formato declarativo de políticas:
//
//	policies:
//	  - name: ApiKey
//	    limit: 2
//	    window: 10s
//	    type: client_id
//	    header: X-Api-Key
//	global:
//	  limit: 1000
//	  window: 1m
//	endpoints:
//	  - method: GET
//	    path: /WeatherForecast
//	    policies: [ApiKey]
//
// Políticas são lista (e não mapa) porque o nome pode conter ".".
type PolicyFile struct {
	Policies  []PolicySpec   `koanf:"policies" yaml:"policies"`
	Global    *PolicySpec    `koanf:"global" yaml:"global,omitempty"`
	Endpoints []EndpointSpec `koanf:"endpoints" yaml:"endpoints"`
}

// PolicySpec descreve uma política. Limit/Window ausentes assumem os padrões
// (100 por minuto); valores explícitos, inclusive zero, passam pela validação
// de FixedWindow. Type vazio com Header preenchido vira client_id.
type PolicySpec struct {
	Name      string         `koanf:"name" yaml:"name,omitempty"`
	Limit     *int           `koanf:"limit" yaml:"limit"`
	Window    *time.Duration `koanf:"window" yaml:"window"`
	Type      string         `koanf:"type" yaml:"type"`
	Header    string         `koanf:"header" yaml:"header,omitempty"`
	Algorithm string         `koanf:"algorithm" yaml:"algorithm"`
}

type EndpointSpec struct {
	Method   string   `koanf:"method" yaml:"method"`
	Path     string   `koanf:"path" yaml:"path"`
	Policies []string `koanf:"policies" yaml:"policies"`
}

// LoadPolicyFile lê o arquivo YAML de políticas.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading policy file: %w", err)
	}
	return decodePolicyFile(k)
}

// ParsePolicyFile é LoadPolicyFile a partir de bytes.
func ParsePolicyFile(data []byte) (*PolicyFile, error) {
	k := koanf.New(".")
	if err := k.Load(bytesProvider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	return decodePolicyFile(k)
}

func decodePolicyFile(k *koanf.Koanf) (*PolicyFile, error) {
	var pf PolicyFile
	if err := k.UnmarshalWithConf("", &pf, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decoding policy file: %w", err)
	}
	return &pf, nil
}

type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) { return b, nil }

func (b bytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("bytes provider does not support Read")
}

// BuildRegistry traduz o arquivo para o RegistryBuilder. Todos os problemas
// encontrados voltam juntos.
func BuildRegistry(pf *PolicyFile) (*domain.Registry, error) {
	if pf == nil {
		return nil, fmt.Errorf("%w: policy file is nil", domain.ErrConfiguration)
	}

	var errs []error
	b := domain.NewRegistryBuilder()

	for i, spec := range pf.Policies {
		configure, err := spec.configure()
		if err != nil {
			errs = append(errs, fmt.Errorf("policies[%d] %q: %w", i, spec.Name, err))
			continue
		}
		b.AddPolicy(spec.Name, configure)
	}

	if pf.Global != nil {
		configure, err := pf.Global.configure()
		if err != nil {
			errs = append(errs, fmt.Errorf("global: %w", err))
		} else {
			b.WithGlobalPolicy(configure)
		}
	}

	for _, ep := range pf.Endpoints {
		b.ConfigureEndpoint(func(eb *domain.EndpointBuilder) {
			if ep.Method != "" {
				eb.ForMethod(ep.Method)
			}
			eb.ForPath(ep.Path)
			for _, name := range ep.Policies {
				eb.WithPolicy(name)
			}
		})
	}

	reg, err := b.Build()
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

func (s PolicySpec) configure() (func(*domain.PolicyBuilder), error) {
	typ := s.Type
	if strings.TrimSpace(typ) == "" && strings.TrimSpace(s.Header) != "" {
		typ = domain.PolicyTypeClientID.String()
	}
	pt, err := domain.ParsePolicyType(typ)
	if err != nil {
		return nil, err
	}

	return func(b *domain.PolicyBuilder) {
		if s.Limit != nil || s.Window != nil {
			limit, window := domain.DefaultRequestLimit, domain.DefaultWindow
			if s.Limit != nil {
				limit = *s.Limit
			}
			if s.Window != nil {
				window = *s.Window
			}
			b.FixedWindow(limit, window)
		}
		if pt == domain.PolicyTypeClientID {
			b.WithClientIDLimit(s.Header)
		} else {
			b.WithIPLimit()
		}
		if s.Algorithm != "" {
			b.WithAlgorithm(domain.AlgorithmType(strings.ToLower(strings.TrimSpace(s.Algorithm))))
		}
	}, nil
}

// FromRegistry faz o caminho inverso de BuildRegistry: descreve o registry
// efetivo (padrões aplicados, sobrescritas resolvidas).
func FromRegistry(reg *domain.Registry) *PolicyFile {
	pf := &PolicyFile{}
	for _, p := range reg.Policies() {
		pf.Policies = append(pf.Policies, specOf(p))
	}
	if g, ok := reg.GlobalPolicy(); ok {
		s := specOf(g)
		s.Name = ""
		pf.Global = &s
	}
	for _, ep := range reg.Endpoints() {
		pf.Endpoints = append(pf.Endpoints, EndpointSpec{
			Method:   ep.Method(),
			Path:     ep.Path(),
			Policies: ep.Policies(),
		})
	}
	return pf
}

func specOf(p domain.Policy) PolicySpec {
	limit, window := p.RateLimit.Limit(), p.RateLimit.Window()
	return PolicySpec{
		Name:      p.Name,
		Limit:     &limit,
		Window:    &window,
		Type:      p.Type.String(),
		Header:    p.ClientIdentifier.Header,
		Algorithm: string(p.Algorithm),
	}
}
