package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "GATEWAY_"

// Load monta a configuração: padrões, arquivo YAML (se existir), .env,
// variáveis GATEWAY_* e por fim as flags alteradas.
//
// Nas variáveis de ambiente o primeiro "_" separa a seção do campo:
// GATEWAY_STATS_REDIS_ADDR vira stats.redis_addr.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	// .env não sobrescreve variáveis já definidas
	_ = godotenv.Load()

	k := koanf.New(".")

	// 1. Load defaults
	if err := k.Load(defaultsProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// 2. Load from config file if it exists
	paths := []string{"gateway.yaml", "gateway.yml"}
	if configPath != "" {
		paths = []string{configPath}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		break
	}

	// 3. Load from environment variables
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// 4. Load from CLI flags
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
}

type defaultsProviderStruct struct {
	defaults *Config
}

func defaultsProvider(defaults *Config) *defaultsProviderStruct {
	return &defaultsProviderStruct{defaults: defaults}
}

func (d *defaultsProviderStruct) ReadBytes() ([]byte, error) {
	return nil, nil
}

func (d *defaultsProviderStruct) Read() (map[string]interface{}, error) {
	c := d.defaults
	return map[string]interface{}{
		"server": map[string]interface{}{
			"listen_addr":   c.Server.ListenAddr,
			"upstream_url":  c.Server.UpstreamURL,
			"policy_file":   c.Server.PolicyFile,
			"trust_xff":     c.Server.TrustXFF,
			"add_headers":   c.Server.AddHeaders,
			"fail_open":     c.Server.FailOpen,
			"reject_status": c.Server.RejectStatus,
		},
		"engine": map[string]interface{}{
			"strict_references": c.Engine.StrictReferences,
			"strict_algorithms": c.Engine.StrictAlgorithms,
		},
		"store": map[string]interface{}{
			"max_entries":   c.Store.MaxEntries,
			"shards":        c.Store.Shards,
			"cleanup_every": c.Store.CleanupEvery.String(),
		},
		"stats": map[string]interface{}{
			"backend":        c.Stats.Backend,
			"redis_addr":     c.Stats.RedisAddr,
			"redis_password": c.Stats.RedisPassword,
			"redis_db":       c.Stats.RedisDB,
			"prefix":         c.Stats.Prefix,
			"ttl":            c.Stats.TTL.String(),
			"bucket":         c.Stats.Bucket,
			"track_clients":  c.Stats.TrackClients,
		},
		"log": map[string]interface{}{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
	}, nil
}

// SetupFlags declara as flags do gateway. Os nomes seguem as chaves do koanf.
func SetupFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	flags.String("config", "", "Path to config file")
	flags.String("server.listen_addr", "", "Listen address")
	flags.String("server.upstream_url", "", "Upstream URL to proxy to")
	flags.String("server.policy_file", "", "Policy file (YAML)")
	flags.Bool("server.trust_xff", false, "Use the first X-Forwarded-For address as client address")
	flags.Bool("server.add_headers", false, "Add X-RateLimit-* headers to responses")
	flags.Bool("server.fail_open", false, "Let requests through when evaluation fails")
	flags.Int("server.reject_status", 0, "Status code for rejected requests")
	flags.Bool("engine.strict_references", false, "Fail startup on endpoints naming unknown policies")
	flags.Bool("engine.strict_algorithms", false, "Fail startup on policies with unsupported algorithms")
	flags.Int("store.max_entries", 0, "Maximum counters kept in memory")
	flags.Int("store.shards", 0, "Counter store shards")
	flags.Duration("store.cleanup_every", 0, "Expired counter sweep interval")
	flags.String("stats.backend", "", "Stats backend: none, memory, redis or otel")
	flags.String("stats.redis_addr", "", "Redis address for stats")
	flags.Int("stats.redis_db", 0, "Redis DB for stats")
	flags.String("stats.prefix", "", "Redis key prefix for stats")
	flags.Duration("stats.ttl", 0, "TTL of bucketed stats keys")
	flags.String("stats.bucket", "", "Stats time bucket: minute or none")
	flags.Bool("stats.track_clients", false, "Keep per-client stats (high cardinality)")
	flags.String("log.level", "", "Log level")
	flags.String("log.format", "", "Log format: console or json")
	return flags
}
