package migration

import (
	"context"

	"github.com/jmoiron/sqlx"

	"utilpanel/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the run store schema. Statements are idempotent and
// portable between sqlite and postgres; timestamps are RFC 3339 text.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	steps := []struct {
		name string
		fn   func(context.Context, *sqlx.DB) error
	}{
		{"runs table", r.createRunsTable},
		{"run_coefficients table", r.createCoefficientsTable},
		{"panel_rows table", r.createPanelTable},
		{"survival_records table", r.createSurvivalTable},
		{"run_warnings table", r.createWarningsTable},
		{"indexes", r.createIndexes},
	}
	for _, step := range steps {
		if err := step.fn(ctx, db); err != nil {
			return errors.DatabaseError("failed to create "+step.name, err)
		}
	}
	return nil
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			granularity TEXT NOT NULL,
			window_start TEXT NOT NULL,
			window_end TEXT NOT NULL,
			periods INTEGER NOT NULL,
			workers INTEGER NOT NULL,
			calibrated BOOLEAN NOT NULL,
			global_coefficient DOUBLE PRECISION,
			fingerprint TEXT NOT NULL,
			units INTEGER NOT NULL,
			panel_rows INTEGER NOT NULL,
			survival_records INTEGER NOT NULL,
			warnings INTEGER NOT NULL,
			runtime_ms BIGINT NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createCoefficientsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_coefficients (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			unit_id TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			observations INTEGER NOT NULL,
			PRIMARY KEY (run_id, unit_id)
		)
	`)
	return err
}

func (r *MigrationRunner) createPanelTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS panel_rows (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			unit_id TEXT NOT NULL,
			period TEXT NOT NULL,
			period_start TEXT NOT NULL,
			output_count_final DOUBLE PRECISION,
			was_imputed BOOLEAN,
			observable BOOLEAN,
			cumulative_output DOUBLE PRECISION,
			failure_count INTEGER,
			cumulative_failures INTEGER,
			normalized_duration_metric DOUBLE PRECISION,
			relative_utilization DOUBLE PRECISION,
			norm_count_rate DOUBLE PRECISION,
			log_output_offset DOUBLE PRECISION,
			treated BOOLEAN,
			post BOOLEAN,
			relative_time_k INTEGER,
			relative_time_k_binned INTEGER,
			PRIMARY KEY (run_id, unit_id, period)
		)
	`)
	return err
}

func (r *MigrationRunner) createSurvivalTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS survival_records (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			unit_id TEXT NOT NULL,
			interval_index INTEGER NOT NULL,
			interval_start TEXT NOT NULL,
			interval_end TEXT NOT NULL,
			duration DOUBLE PRECISION NOT NULL,
			event_flag INTEGER NOT NULL,
			calendar_hours DOUBLE PRECISION NOT NULL,
			normalized_hours DOUBLE PRECISION,
			treated BOOLEAN,
			post BOOLEAN,
			PRIMARY KEY (run_id, unit_id, interval_index)
		)
	`)
	return err
}

func (r *MigrationRunner) createWarningsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_warnings (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			unit_id TEXT NOT NULL DEFAULT '',
			period TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_survival_unit ON survival_records(run_id, unit_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
