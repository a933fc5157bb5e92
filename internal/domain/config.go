package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backends are wired by default
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Scoring and analysis
	Scoring    ScoringConfig    `json:"scoring" mapstructure:"scoring"`
	Projection ProjectionParams `json:"projection" mapstructure:"projection"`
	Triage     TriageConfig     `json:"triage" mapstructure:"triage"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`
	RateLimit  RateLimitConfig  `json:"rateLimit" mapstructure:"ratelimit"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"readtimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"writetimeout"` // seconds
	MaxUploadMB  int    `json:"maxUploadMb" mapstructure:"maxuploadmb"`
}

// ScoringConfig holds score engine settings.
type ScoringConfig struct {
	// MaxWorkers bounds the resolve/raw-score fan-out of a batch.
	MaxWorkers int `json:"maxWorkers" mapstructure:"maxworkers"`

	// Bounds are the declared field maxima behind the fixed-ceiling normalization.
	Bounds CeilingBounds `json:"bounds" mapstructure:"bounds"`

	// BatchCacheTTL is how long a scored batch stays cached under its fingerprint.
	BatchCacheTTL time.Duration `json:"batchCacheTtl" mapstructure:"batchcachettl"`
}

// TriageConfig holds assessment settings.
type TriageConfig struct {
	// AlertThreshold is the weighted rule score at which an actor alerts.
	AlertThreshold float64 `json:"alertThreshold" mapstructure:"alertthreshold"`

	// RulesPath is an optional YAML rule pack loaded at startup.
	RulesPath string `json:"rulesPath" mapstructure:"rulespath"`

	// MaxWorkers bounds concurrent rule evaluations.
	MaxWorkers int `json:"maxWorkers" mapstructure:"maxworkers"`
}

// WorkerConfig holds async rescoring settings.
type WorkerConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Schedule is a cron expression for periodic rescoring of every stored dataset.
	// Empty disables the schedule.
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// RateLimitConfig holds the token bucket applied to manual scoring.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64 `json:"requestsPerSecond" mapstructure:"requestspersecond"`
	Burst             int     `json:"burst" mapstructure:"burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, console
}

// TracingConfig holds OpenTelemetry settings. Spans go to the global tracer
// provider; ServiceName also tags every log line.
type TracingConfig struct {
	ServiceName string `json:"serviceName" mapstructure:"servicename"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxUploadMB:  32,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			MaxWorkers:    8,
			Bounds:        DefaultCeilingBounds(),
			BatchCacheTTL: 10 * time.Minute,
		},
		Projection: DefaultProjectionParams(),
		Triage: TriageConfig{
			AlertThreshold: 0.5,
			MaxWorkers:     10,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Schedule = "@every 1h"
	return cfg
}
