package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Dataset operations. Stored datasets are immutable.
	SaveDataset(ctx context.Context, ds *Dataset) error
	GetDataset(ctx context.Context, datasetID string) (*Dataset, error)
	ListDatasets(ctx context.Context) ([]DatasetInfo, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Assessment results
	SaveAssessment(ctx context.Context, a *Assessment) error
	GetAssessment(ctx context.Context, assessmentID string) (*Assessment, error)
	ListAssessments(ctx context.Context, datasetID string) ([]*Assessment, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "pgx"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlitepath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgreshost"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgresport"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgresuser"`
	PostgresPassword string `json:"-" mapstructure:"postgrespassword"`
	PostgresDB       string `json:"postgresDb" mapstructure:"postgresdb"`
	PostgresSSLMode  string `json:"postgresSslMode" mapstructure:"postgressslmode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"maxopenconns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"connmaxlifetime"`
}
