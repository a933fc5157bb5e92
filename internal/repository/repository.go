// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrCorrupt      = errors.New("stored dataset does not match its fingerprint")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with SQLite, lib/pq and pgx drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	case "pgx":
		db, err = openPgx(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, stmt := range AllSchemas() {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveDataset stores a dataset and all of its rows in one transaction.
// Datasets are immutable: saving an existing ID fails.
func (r *SQLRepository) SaveDataset(ctx context.Context, ds *domain.Dataset) error {
	if ds == nil || ds.ID == "" {
		return fmt.Errorf("%w: dataset ID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	info := ds.Info()
	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO datasets (id, name, fingerprint, row_count, actor_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), info.ID, info.Name, info.Fingerprint, info.Rows, info.Actors, info.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert dataset: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO dataset_records (
			dataset_id, row_index, actor_id, technique_id, tactic_id, tactic_weight,
			platform_count, region, region_weight, cvss_base_score, cve_count,
			ioc_weight, elapsed_years, tactic_description, platforms, cve_id,
			cwe_id, attacker_category, vulnerability_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range ds.Records() {
		platforms, _ := json.Marshal(rec.Platforms)
		var vuln sql.NullFloat64
		if rec.VulnerabilityScore != nil {
			vuln = sql.NullFloat64{Float64: *rec.VulnerabilityScore, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			ds.ID, i, rec.ActorID, rec.TechniqueID, rec.TacticID, rec.TacticWeight,
			rec.PlatformCount, rec.Region, rec.RegionWeight, rec.CVSSBaseScore, rec.CVECount,
			rec.IoCWeight, rec.ElapsedYears, rec.TacticDescription, string(platforms), rec.CVEID,
			rec.CWEID, rec.AttackerCategory, vuln,
		); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetDataset loads a dataset and verifies its fingerprint.
func (r *SQLRepository) GetDataset(ctx context.Context, datasetID string) (*domain.Dataset, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("%w: dataset ID is required", ErrInvalidInput)
	}

	var name, fp string
	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT name, fingerprint, created_at FROM datasets WHERE id = ?
	`), datasetID).Scan(&name, &fp, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT actor_id, technique_id, tactic_id, tactic_weight, platform_count,
			   region, region_weight, cvss_base_score, cve_count, ioc_weight,
			   elapsed_years, tactic_description, platforms, cve_id, cwe_id,
			   attacker_category, vulnerability_score
		FROM dataset_records
		WHERE dataset_id = ?
		ORDER BY row_index
	`), datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ThreatActorRecord
	for rows.Next() {
		var rec domain.ThreatActorRecord
		var desc, platforms, cve, cwe, category sql.NullString
		var vuln sql.NullFloat64

		if err := rows.Scan(
			&rec.ActorID, &rec.TechniqueID, &rec.TacticID, &rec.TacticWeight, &rec.PlatformCount,
			&rec.Region, &rec.RegionWeight, &rec.CVSSBaseScore, &rec.CVECount, &rec.IoCWeight,
			&rec.ElapsedYears, &desc, &platforms, &cve, &cwe,
			&category, &vuln,
		); err != nil {
			return nil, err
		}

		rec.TacticDescription = desc.String
		rec.CVEID = cve.String
		rec.CWEID = cwe.String
		rec.AttackerCategory = category.String
		if platforms.String != "" {
			if err := json.Unmarshal([]byte(platforms.String), &rec.Platforms); err != nil {
				return nil, fmt.Errorf("failed to parse platforms: %w", err)
			}
		}
		if vuln.Valid {
			v := vuln.Float64
			rec.VulnerabilityScore = &v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ds := domain.NewDataset(datasetID, name, records, createdAt.UTC())
	if ds.Fingerprint != fp {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, datasetID)
	}
	return ds, nil
}

// ListDatasets returns every stored dataset, newest first.
func (r *SQLRepository) ListDatasets(ctx context.Context) ([]domain.DatasetInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, fingerprint, row_count, actor_count, created_at
		FROM datasets
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DatasetInfo{}
	for rows.Next() {
		var info domain.DatasetInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Fingerprint, &info.Rows, &info.Actors, &info.CreatedAt); err != nil {
			return nil, err
		}
		info.CreatedAt = info.CreatedAt.UTC()
		out = append(out, info)
	}

	return out, rows.Err()
}

// SaveRuleConfig creates or replaces a rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves an enabled rule configuration.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE id = ? AND enabled = 1
	`

	cfg, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// ListRuleConfigs retrieves all enabled rule configurations.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var desc sql.NullString
	var bands string
	var enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.Name, &desc,
		&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Description = desc.String
	cfg.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(bands), &cfg.Bands); err != nil {
		return nil, fmt.Errorf("failed to parse bands for rule %s: %w", cfg.ID, err)
	}
	return &cfg, nil
}

// SaveAssessment stores an assessment.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	if a == nil || a.ID == "" || a.DatasetID == "" {
		return fmt.Errorf("%w: assessment and dataset IDs are required", ErrInvalidInput)
	}

	actors, err := json.Marshal(a.Actors)
	if err != nil {
		return fmt.Errorf("failed to encode actors: %w", err)
	}
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO assessments (id, dataset_id, fingerprint, status, timestamp, actors, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.DatasetID, a.Fingerprint, a.Status, a.Timestamp.UTC(),
		string(actors), string(metadata),
	)
	return err
}

// GetAssessment retrieves an assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, assessmentID string) (*domain.Assessment, error) {
	if assessmentID == "" {
		return nil, fmt.Errorf("%w: assessment ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, dataset_id, fingerprint, status, timestamp, actors, metadata
		FROM assessments
		WHERE id = ?
	`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), assessmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAssessments returns the assessments of a dataset, newest first.
func (r *SQLRepository) ListAssessments(ctx context.Context, datasetID string) ([]*domain.Assessment, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("%w: dataset ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, dataset_id, fingerprint, status, timestamp, actors, metadata
		FROM assessments
		WHERE dataset_id = ?
		ORDER BY timestamp DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Assessment{}
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

func scanAssessment(row rowScanner) (*domain.Assessment, error) {
	var a domain.Assessment
	var actors, metadata string

	if err := row.Scan(&a.ID, &a.DatasetID, &a.Fingerprint, &a.Status, &a.Timestamp, &actors, &metadata); err != nil {
		return nil, err
	}
	a.Timestamp = a.Timestamp.UTC()

	if err := json.Unmarshal([]byte(actors), &a.Actors); err != nil {
		return nil, fmt.Errorf("failed to parse actors of assessment %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata of assessment %s: %w", a.ID, err)
	}
	return &a, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL drivers.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" && r.driver != "pgx" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
