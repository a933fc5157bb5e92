package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL. One statement per entry so every
// driver can execute them without multi-statement support.

var schemaDatasets = []string{`
CREATE TABLE IF NOT EXISTS datasets (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    actor_count INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_datasets_created ON datasets(created_at)`,
}

var schemaDatasetRecords = []string{`
CREATE TABLE IF NOT EXISTS dataset_records (
    dataset_id TEXT NOT NULL,
    row_index INTEGER NOT NULL,
    actor_id TEXT NOT NULL,
    technique_id TEXT NOT NULL,
    tactic_id TEXT NOT NULL,
    tactic_weight DOUBLE PRECISION NOT NULL,
    platform_count INTEGER NOT NULL,
    region TEXT NOT NULL,
    region_weight DOUBLE PRECISION NOT NULL,
    cvss_base_score DOUBLE PRECISION NOT NULL,
    cve_count INTEGER NOT NULL,
    ioc_weight DOUBLE PRECISION NOT NULL,
    elapsed_years DOUBLE PRECISION NOT NULL,
    tactic_description TEXT,
    platforms TEXT,
    cve_id TEXT,
    cwe_id TEXT,
    attacker_category TEXT,
    vulnerability_score DOUBLE PRECISION,
    PRIMARY KEY (dataset_id, row_index)
)`,
	`CREATE INDEX IF NOT EXISTS idx_dataset_records_actor ON dataset_records(dataset_id, actor_id)`,
}

var schemaRuleConfigs = []string{`
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled)`,
}

var schemaAssessments = []string{`
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    dataset_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    status TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    actors TEXT NOT NULL,
    metadata TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_assessments_dataset ON assessments(dataset_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status)`,
}

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	var out []string
	for _, group := range [][]string{
		schemaDatasets,
		schemaDatasetRecords,
		schemaRuleConfigs,
		schemaAssessments,
	} {
		out = append(out, group...)
	}
	return out
}
