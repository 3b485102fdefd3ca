// Package sqlstore persists pipeline runs in sqlite or postgres through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"utilpanel/domain/core"
	"utilpanel/domain/period"
	"utilpanel/internal/errors"
	"utilpanel/internal/imputation"
	"utilpanel/internal/logging"
	"utilpanel/internal/migration"
	"utilpanel/internal/panel"
	"utilpanel/internal/pipeline"
	"utilpanel/internal/survival"
	"utilpanel/ports"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const defaultLimit = 100

// Open connects with the driver named in configuration: "sqlite" or "postgres".
func Open(ctx context.Context, driver, url string) (*sqlx.DB, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unsupported database driver %q", driver))
	}
	db, err := sqlx.ConnectContext(ctx, driver, url)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to database", err)
	}
	if driver == "sqlite" {
		// one writer; in-memory databases are per connection
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Store implements ports.RunRepository.
type Store struct {
	db  *sqlx.DB
	log *logging.Logger
}

var _ ports.RunRepository = (*Store)(nil)

func New(db *sqlx.DB, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{db: db, log: log}
}

// Migrate creates the schema if missing.
func (s *Store) Migrate(ctx context.Context) error {
	return migration.NewRunner().Run(ctx, s.db)
}

type runRecord struct {
	ID                string   `db:"id"`
	CreatedAt         string   `db:"created_at"`
	Granularity       string   `db:"granularity"`
	WindowStart       string   `db:"window_start"`
	WindowEnd         string   `db:"window_end"`
	Periods           int      `db:"periods"`
	Workers           int      `db:"workers"`
	Calibrated        bool     `db:"calibrated"`
	GlobalCoefficient *float64 `db:"global_coefficient"`
	Fingerprint       string   `db:"fingerprint"`
	Units             int      `db:"units"`
	PanelRows         int      `db:"panel_rows"`
	SurvivalRecords   int      `db:"survival_records"`
	Warnings          int      `db:"warnings"`
	RuntimeMs         int64    `db:"runtime_ms"`
}

const runColumns = `id, created_at, granularity, window_start, window_end, periods, workers, calibrated,
	global_coefficient, fingerprint, units, panel_rows, survival_records, warnings, runtime_ms`

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func (r runRecord) manifest() (*pipeline.Manifest, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	start, err := parseTime(r.WindowStart)
	if err != nil {
		return nil, err
	}
	end, err := parseTime(r.WindowEnd)
	if err != nil {
		return nil, err
	}
	return &pipeline.Manifest{
		RunID:             core.RunID(r.ID),
		CreatedAt:         created,
		Granularity:       period.Granularity(r.Granularity),
		WindowStart:       start,
		WindowEnd:         end,
		Periods:           r.Periods,
		Workers:           r.Workers,
		Calibrated:        r.Calibrated,
		GlobalCoefficient: r.GlobalCoefficient,
		Fingerprint:       core.Hash(r.Fingerprint),
		Units:             r.Units,
		PanelRows:         r.PanelRows,
		SurvivalRecords:   r.SurvivalRecords,
		Warnings:          r.Warnings,
		RuntimeMs:         r.RuntimeMs,
	}, nil
}

// SaveRun writes the manifest and every output table in one transaction.
func (s *Store) SaveRun(ctx context.Context, res *pipeline.Result) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	m := res.Manifest
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.RunID, formatTime(m.CreatedAt), m.Granularity, formatTime(m.WindowStart), formatTime(m.WindowEnd),
		m.Periods, m.Workers, m.Calibrated, m.GlobalCoefficient, m.Fingerprint,
		m.Units, m.PanelRows, m.SurvivalRecords, m.Warnings, m.RuntimeMs,
	)
	if err != nil {
		return errors.DatabaseError("failed to insert run", err)
	}

	if res.Coefficients != nil {
		q := tx.Rebind(`INSERT INTO run_coefficients (run_id, unit_id, value, source, observations) VALUES (?, ?, ?, ?, ?)`)
		for _, c := range res.Coefficients.Units() {
			if _, err := tx.ExecContext(ctx, q, m.RunID, c.UnitID, c.Value, c.Source, c.Observations); err != nil {
				return errors.DatabaseError("failed to insert coefficient", err)
			}
		}
	}

	if err := insertPanel(ctx, tx, m.RunID, panel.Flatten(m.Granularity, res.Panel)); err != nil {
		return err
	}
	if err := insertSurvival(ctx, tx, m.RunID, res.Survival); err != nil {
		return err
	}

	q := tx.Rebind(`INSERT INTO run_warnings (run_id, seq, kind, unit_id, period, message) VALUES (?, ?, ?, ?, ?, ?)`)
	for i, w := range res.Warnings {
		if _, err := tx.ExecContext(ctx, q, m.RunID, i, w.Kind, w.UnitID, w.Period, w.Message); err != nil {
			return errors.DatabaseError("failed to insert warning", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit run", err)
	}
	s.log.Info("stored run %s (%d panel rows, %d survival records)", m.RunID, len(res.Panel), len(res.Survival))
	return nil
}

func insertPanel(ctx context.Context, tx *sqlx.Tx, runID core.RunID, rows []panel.FlatRow) error {
	q := tx.Rebind(`INSERT INTO panel_rows (
		run_id, unit_id, period, period_start, output_count_final, was_imputed, observable,
		cumulative_output, failure_count, cumulative_failures, normalized_duration_metric,
		relative_utilization, norm_count_rate, log_output_offset, treated, post,
		relative_time_k, relative_time_k_binned
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, q,
			runID, r.UnitID, r.Period, formatTime(r.PeriodStart), r.OutputFinal, r.WasImputed, r.Observable,
			r.CumulativeOutput, r.FailureCount, r.CumulativeFailures, r.NormalizedDurationMetric,
			r.RelativeUtilization, r.NormCountRate, r.LogOutputOffset, r.Treated, r.Post,
			r.K, r.KBinned,
		)
		if err != nil {
			return errors.DatabaseError("failed to insert panel row", err)
		}
	}
	return nil
}

func insertSurvival(ctx context.Context, tx *sqlx.Tx, runID core.RunID, records []survival.Record) error {
	q := tx.Rebind(`INSERT INTO survival_records (
		run_id, unit_id, interval_index, interval_start, interval_end, duration, event_flag,
		calendar_hours, normalized_hours, treated, post
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, r := range records {
		_, err := tx.ExecContext(ctx, q,
			runID, r.UnitID, r.Interval, formatTime(r.IntervalStart), formatTime(r.IntervalEnd),
			r.Duration, r.EventFlag, r.CalendarHours, r.NormalizedHours, r.Treated, r.Post,
		)
		if err != nil {
			return errors.DatabaseError("failed to insert survival record", err)
		}
	}
	return nil
}

// ListRuns returns manifests newest first.
func (s *Store) ListRuns(ctx context.Context, filters ports.RunFilters) ([]pipeline.Manifest, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []interface{}
	if filters.Calibrated != nil {
		query += ` WHERE calibrated = ?`
		args = append(args, *filters.Calibrated)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filters.Limit), filters.Offset)

	var recs []runRecord
	if err := s.db.SelectContext(ctx, &recs, s.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseError("failed to list runs", err)
	}
	out := make([]pipeline.Manifest, 0, len(recs))
	for _, r := range recs {
		m, err := r.manifest()
		if err != nil {
			return nil, errors.DatabaseError("corrupt run row", err)
		}
		out = append(out, *m)
	}
	return out, nil
}

// GetRun retrieves a manifest by run id
func (s *Store) GetRun(ctx context.Context, id core.RunID) (*pipeline.Manifest, error) {
	var rec runRecord
	err := s.db.GetContext(ctx, &rec, s.db.Rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("run " + id.String())
		}
		return nil, errors.DatabaseError("failed to get run", err)
	}
	m, err := rec.manifest()
	if err != nil {
		return nil, errors.DatabaseError("corrupt run row", err)
	}
	return m, nil
}

type panelRecord struct {
	UnitID                   string   `db:"unit_id"`
	Period                   string   `db:"period"`
	PeriodStart              string   `db:"period_start"`
	OutputFinal              *float64 `db:"output_count_final"`
	WasImputed               *bool    `db:"was_imputed"`
	Observable               *bool    `db:"observable"`
	CumulativeOutput         *float64 `db:"cumulative_output"`
	FailureCount             *int     `db:"failure_count"`
	CumulativeFailures       *int     `db:"cumulative_failures"`
	NormalizedDurationMetric *float64 `db:"normalized_duration_metric"`
	RelativeUtilization      *float64 `db:"relative_utilization"`
	NormCountRate            *float64 `db:"norm_count_rate"`
	LogOutputOffset          *float64 `db:"log_output_offset"`
	Treated                  *bool    `db:"treated"`
	Post                     *bool    `db:"post"`
	K                        *int     `db:"relative_time_k"`
	KBinned                  *int     `db:"relative_time_k_binned"`
}

// GetPanel returns stored panel rows ordered by unit then period.
func (s *Store) GetPanel(ctx context.Context, id core.RunID, filters ports.PanelFilters) ([]panel.FlatRow, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	query := `SELECT unit_id, period, period_start, output_count_final, was_imputed, observable,
		cumulative_output, failure_count, cumulative_failures, normalized_duration_metric,
		relative_utilization, norm_count_rate, log_output_offset, treated, post,
		relative_time_k, relative_time_k_binned
	FROM panel_rows WHERE run_id = ?`
	args := []interface{}{id}
	if filters.UnitID != nil {
		query += ` AND unit_id = ?`
		args = append(args, *filters.UnitID)
	}
	query += ` ORDER BY unit_id, period_start LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filters.Limit), filters.Offset)

	var recs []panelRecord
	if err := s.db.SelectContext(ctx, &recs, s.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseError("failed to get panel", err)
	}
	out := make([]panel.FlatRow, len(recs))
	for i, r := range recs {
		start, err := parseTime(r.PeriodStart)
		if err != nil {
			return nil, errors.DatabaseError("corrupt panel row", err)
		}
		out[i] = panel.FlatRow{
			UnitID:                   core.UnitID(r.UnitID),
			Period:                   r.Period,
			PeriodStart:              start,
			OutputFinal:              r.OutputFinal,
			WasImputed:               r.WasImputed,
			Observable:               r.Observable,
			CumulativeOutput:         r.CumulativeOutput,
			FailureCount:             r.FailureCount,
			CumulativeFailures:       r.CumulativeFailures,
			NormalizedDurationMetric: r.NormalizedDurationMetric,
			RelativeUtilization:      r.RelativeUtilization,
			NormCountRate:            r.NormCountRate,
			LogOutputOffset:          r.LogOutputOffset,
			Treated:                  r.Treated,
			Post:                     r.Post,
			K:                        r.K,
			KBinned:                  r.KBinned,
		}
	}
	return out, nil
}

type survivalRecord struct {
	UnitID          string   `db:"unit_id"`
	Interval        int      `db:"interval_index"`
	IntervalStart   string   `db:"interval_start"`
	IntervalEnd     string   `db:"interval_end"`
	Duration        float64  `db:"duration"`
	EventFlag       int      `db:"event_flag"`
	CalendarHours   float64  `db:"calendar_hours"`
	NormalizedHours *float64 `db:"normalized_hours"`
	Treated         *bool    `db:"treated"`
	Post            *bool    `db:"post"`
}

// GetSurvival returns every survival record of a run.
func (s *Store) GetSurvival(ctx context.Context, id core.RunID) ([]survival.Record, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	var recs []survivalRecord
	err := s.db.SelectContext(ctx, &recs, s.db.Rebind(`SELECT unit_id, interval_index, interval_start, interval_end,
		duration, event_flag, calendar_hours, normalized_hours, treated, post
	FROM survival_records WHERE run_id = ? ORDER BY unit_id, interval_index`), id)
	if err != nil {
		return nil, errors.DatabaseError("failed to get survival records", err)
	}
	out := make([]survival.Record, len(recs))
	for i, r := range recs {
		start, err := parseTime(r.IntervalStart)
		if err != nil {
			return nil, errors.DatabaseError("corrupt survival row", err)
		}
		end, err := parseTime(r.IntervalEnd)
		if err != nil {
			return nil, errors.DatabaseError("corrupt survival row", err)
		}
		out[i] = survival.Record{
			UnitID:          core.UnitID(r.UnitID),
			Interval:        r.Interval,
			IntervalStart:   start,
			IntervalEnd:     end,
			Duration:        r.Duration,
			EventFlag:       r.EventFlag,
			CalendarHours:   r.CalendarHours,
			NormalizedHours: r.NormalizedHours,
			Treated:         r.Treated,
			Post:            r.Post,
		}
	}
	return out, nil
}

// GetCoefficients returns the per-unit coefficients learned by a run.
func (s *Store) GetCoefficients(ctx context.Context, id core.RunID) ([]imputation.Coefficient, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	var out []imputation.Coefficient
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT unit_id, value, source, observations
	FROM run_coefficients WHERE run_id = ? ORDER BY unit_id`), id)
	if err != nil {
		return nil, errors.DatabaseError("failed to get coefficients", err)
	}
	return out, nil
}

// GetWarnings returns a run's warnings in emission order.
func (s *Store) GetWarnings(ctx context.Context, id core.RunID) ([]core.Warning, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	var out []core.Warning
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT kind, unit_id, period, message
	FROM run_warnings WHERE run_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, errors.DatabaseError("failed to get warnings", err)
	}
	return out, nil
}

// CoefficientSet rebuilds a frozen set from a stored calibrated run, so a later
// run can impute with the same coefficients.
func (s *Store) CoefficientSet(ctx context.Context, id core.RunID) (*imputation.CoefficientSet, error) {
	m, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Calibrated || m.GlobalCoefficient == nil {
		return nil, errors.InvalidInput(fmt.Sprintf("run %s was not calibrated", id))
	}
	coeffs, err := s.GetCoefficients(ctx, id)
	if err != nil {
		return nil, err
	}
	perUnit := make(map[core.UnitID]float64, len(coeffs))
	for _, c := range coeffs {
		if c.Source == imputation.SourceUnit {
			perUnit[c.UnitID] = c.Value
		}
	}
	return imputation.NewCoefficientSet(perUnit, *m.GlobalCoefficient)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
