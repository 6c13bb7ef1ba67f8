package config

import "time"

type Config struct {
	Server ServerConfig `koanf:"server"`
	Engine EngineConfig `koanf:"engine"`
	Store  StoreConfig  `koanf:"store"`
	Stats  StatsConfig  `koanf:"stats"`
	Log    LogConfig    `koanf:"log"`
}

type ServerConfig struct {
	ListenAddr   string `koanf:"listen_addr"`
	UpstreamURL  string `koanf:"upstream_url"`
	PolicyFile   string `koanf:"policy_file"`
	TrustXFF     bool   `koanf:"trust_xff"`
	AddHeaders   bool   `koanf:"add_headers"`
	FailOpen     bool   `koanf:"fail_open"`
	RejectStatus int    `koanf:"reject_status"`
}

type EngineConfig struct {
	StrictReferences bool `koanf:"strict_references"`
	StrictAlgorithms bool `koanf:"strict_algorithms"`
}

type StoreConfig struct {
	MaxEntries   int           `koanf:"max_entries"`
	Shards       int           `koanf:"shards"`
	CleanupEvery time.Duration `koanf:"cleanup_every"`
}

// StatsConfig escolhe para onde vão as estatísticas de decisão.
// Backend: none, memory, redis ou otel.
type StatsConfig struct {
	Backend       string        `koanf:"backend"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	Prefix        string        `koanf:"prefix"`
	TTL           time.Duration `koanf:"ttl"`
	Bucket        string        `koanf:"bucket"`
	TrackClients  bool          `koanf:"track_clients"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

const (
	StatsNone   = "none"
	StatsMemory = "memory"
	StatsRedis  = "redis"
	StatsOtel   = "otel"
)

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			PolicyFile:   "policies.yaml",
			RejectStatus: 429,
		},
		Store: StoreConfig{
			MaxEntries:   1_000_000,
			Shards:       64,
			CleanupEvery: 2 * time.Minute,
		},
		Stats: StatsConfig{
			Backend: StatsNone,
			Prefix:  "ratelimit:stats",
			TTL:     24 * time.Hour,
			Bucket:  "minute",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
