// Package config loads the Harrier configuration from a YAML file and
// HARRIER_* environment variables layered over the tier defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g. HARRIER_SERVER_PORT.
const EnvPrefix = "HARRIER"

// Load reads path (or harrier.yaml from ./configs and . when path is empty)
// and returns the merged configuration. A missing default file is not an error.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("harrier")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	if err := v.Unmarshal(base); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(base); err != nil {
		return nil, err
	}
	return base, nil
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("unknown tier %q", cfg.Tier)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type %q", cfg.EventBus.Type)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Scoring.MaxWorkers <= 0 {
		return fmt.Errorf("scoring.maxworkers must be positive, got %d", cfg.Scoring.MaxWorkers)
	}
	if cfg.Triage.AlertThreshold < 0 || cfg.Triage.AlertThreshold > 1 {
		return fmt.Errorf("triage.alertthreshold must be within [0, 1], got %v", cfg.Triage.AlertThreshold)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *domain.Config) {
	v.SetDefault("tier", string(cfg.Tier))

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.readtimeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.writetimeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.maxuploadmb", cfg.Server.MaxUploadMB)

	v.SetDefault("scoring.maxworkers", cfg.Scoring.MaxWorkers)
	v.SetDefault("scoring.batchcachettl", cfg.Scoring.BatchCacheTTL)
	b := cfg.Scoring.Bounds
	v.SetDefault("scoring.bounds.maxtechniquecount", b.MaxTechniqueCount)
	v.SetDefault("scoring.bounds.maxplatformcount", b.MaxPlatformCount)
	v.SetDefault("scoring.bounds.maxtacticweight", b.MaxTacticWeight)
	v.SetDefault("scoring.bounds.maxregionweight", b.MaxRegionWeight)
	v.SetDefault("scoring.bounds.maxcvssscore", b.MaxCVSSScore)
	v.SetDefault("scoring.bounds.maximpactcount", b.MaxImpactCount)
	v.SetDefault("scoring.bounds.maxiocweight", b.MaxIoCWeight)
	v.SetDefault("scoring.bounds.maxelapsedyears", b.MaxElapsedYears)

	p := cfg.Projection
	v.SetDefault("projection.startyear", p.StartYear)
	v.SetDefault("projection.endyear", p.EndYear)
	v.SetDefault("projection.baseyear", p.BaseYear)
	v.SetDefault("projection.growth", p.Growth)
	v.SetDefault("projection.initialdefense", p.InitialDefense)
	v.SetDefault("projection.defensefactor", p.DefenseFactor)

	v.SetDefault("triage.alertthreshold", cfg.Triage.AlertThreshold)
	v.SetDefault("triage.rulespath", cfg.Triage.RulesPath)
	v.SetDefault("triage.maxworkers", cfg.Triage.MaxWorkers)

	r := cfg.Repository
	v.SetDefault("repository.driver", r.Driver)
	v.SetDefault("repository.sqlitepath", r.SQLitePath)
	v.SetDefault("repository.postgreshost", r.PostgresHost)
	v.SetDefault("repository.postgresport", r.PostgresPort)
	v.SetDefault("repository.postgresuser", r.PostgresUser)
	v.SetDefault("repository.postgrespassword", r.PostgresPassword)
	v.SetDefault("repository.postgresdb", r.PostgresDB)
	v.SetDefault("repository.postgressslmode", r.PostgresSSLMode)
	v.SetDefault("repository.maxopenconns", r.MaxOpenConns)
	v.SetDefault("repository.maxidleconns", r.MaxIdleConns)
	v.SetDefault("repository.connmaxlifetime", r.ConnMaxLifetime)

	c := cfg.Cache
	v.SetDefault("cache.type", c.Type)
	v.SetDefault("cache.localmaxsize", c.LocalMaxSize)
	v.SetDefault("cache.localttl", c.LocalTTL)
	v.SetDefault("cache.redisaddr", c.RedisAddr)
	v.SetDefault("cache.redispassword", c.RedisPassword)
	v.SetDefault("cache.redisdb", c.RedisDB)
	v.SetDefault("cache.enabletwophase", c.EnableTwoPhase)

	e := cfg.EventBus
	v.SetDefault("eventbus.type", e.Type)
	v.SetDefault("eventbus.namespace", e.Namespace)
	v.SetDefault("eventbus.channelbuffersize", e.ChannelBufferSize)
	v.SetDefault("eventbus.natsurl", e.NATSUrl)
	v.SetDefault("eventbus.natstoken", e.NATSToken)
	v.SetDefault("eventbus.natsmaxreconnects", e.NATSMaxReconnects)
	v.SetDefault("eventbus.natsreconnectwait", e.NATSReconnectWait)

	v.SetDefault("worker.enabled", cfg.Worker.Enabled)
	v.SetDefault("worker.schedule", cfg.Worker.Schedule)

	v.SetDefault("ratelimit.enabled", cfg.RateLimit.Enabled)
	v.SetDefault("ratelimit.requestspersecond", cfg.RateLimit.RequestsPerSecond)
	v.SetDefault("ratelimit.burst", cfg.RateLimit.Burst)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("tracing.servicename", cfg.Tracing.ServiceName)
}
