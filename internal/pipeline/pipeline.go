// Package pipeline runs the preparation stages end to end: ingestion,
// calibration, imputation, normalization, survival intervals, treatment
// indexing and the final panel join.
package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"golang.org/x/sync/errgroup"

	"utilpanel/domain/core"
	"utilpanel/domain/period"
	"utilpanel/domain/rawlog"
	"utilpanel/internal/config"
	"utilpanel/internal/errors"
	"utilpanel/internal/imputation"
	"utilpanel/internal/ingestion"
	"utilpanel/internal/logging"
	"utilpanel/internal/normalize"
	"utilpanel/internal/panel"
	"utilpanel/internal/profiling"
	"utilpanel/internal/survival"
	"utilpanel/internal/treatment"
)

// EventStudyReference is the omitted relative-time bucket of the event-study
// design: the period just before installation.
const EventStudyReference = -1

// Options controls one run. Workers does not affect results.
type Options struct {
	Granularity       period.Granularity
	WindowStart       *time.Time
	WindowEnd         *time.Time
	Workers           int
	AllowUncalibrated bool
	Binning           treatment.Binning
	// Coefficients, when set, replaces calibration with a previously learned set.
	Coefficients *imputation.CoefficientSet
}

// OptionsFromConfig maps validated configuration onto run options.
func OptionsFromConfig(cfg config.PipelineConfig) (Options, error) {
	g, err := period.ParseGranularity(cfg.Granularity)
	if err != nil {
		return Options{}, errors.ConfigInvalid(err.Error())
	}
	return Options{
		Granularity:       g,
		WindowStart:       cfg.WindowStart,
		WindowEnd:         cfg.WindowEnd,
		Workers:           cfg.Workers,
		AllowUncalibrated: cfg.AllowUncalibrated,
		Binning:           treatment.Binning{Min: cfg.KBinMin, Max: cfg.KBinMax},
	}, nil
}

// Manifest identifies a run and everything that determines its outputs.
type Manifest struct {
	RunID             core.RunID         `json:"run_id" db:"id"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	Granularity       period.Granularity `json:"granularity" db:"granularity"`
	WindowStart       time.Time          `json:"window_start" db:"window_start"`
	WindowEnd         time.Time          `json:"window_end" db:"window_end"`
	Periods           int                `json:"periods" db:"periods"`
	Workers           int                `json:"workers" db:"workers"`
	Calibrated        bool               `json:"calibrated" db:"calibrated"`
	GlobalCoefficient *float64           `json:"global_coefficient" db:"global_coefficient"`
	Fingerprint       core.Hash          `json:"fingerprint" db:"fingerprint"`
	Units             int                `json:"units" db:"units"`
	PanelRows         int                `json:"panel_rows" db:"panel_rows"`
	SurvivalRecords   int                `json:"survival_records" db:"survival_records"`
	Warnings          int                `json:"warnings" db:"warnings"`
	RuntimeMs         int64              `json:"runtime_ms" db:"runtime_ms"`
}

// Result is the complete output of one run.
type Result struct {
	Manifest     Manifest
	Coefficients *imputation.CoefficientSet
	Imputed      []imputation.ImputedProductionRecord
	Normalized   []normalize.Row
	Summaries    []normalize.UnitSummary
	Survival     []survival.Record
	Treatment    []treatment.Row
	Panel        []panel.Row
	EventStudy   *panel.Design // nil when the reference bucket is unobserved
	Cohorts      []treatment.Cohort
	Profiles     []profiling.ColumnProfile
	Warnings     []core.Warning
}

// Service wires the stage engines together.
type Service struct {
	log *logging.Logger
}

func NewService(log *logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{log: log}
}

// Run executes every stage over fully loaded logs. The first integrity
// violation aborts the run; recoverable conditions come back as warnings.
func (s *Service) Run(ctx context.Context, logs rawlog.Logs, opts Options) (*Result, error) {
	startTime := time.Now()
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Binning == (treatment.Binning{}) {
		opts.Binning = treatment.DefaultBinning
	}

	runID := core.NewRunID()
	log := s.log.With("run_id", runID.String())

	fingerprint, err := Fingerprint(logs, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fingerprint inputs")
	}

	ingested, err := ingestion.Ingest(logs, ingestion.Options{
		Granularity: opts.Granularity,
		WindowStart: opts.WindowStart,
		WindowEnd:   opts.WindowEnd,
	}, log)
	if err != nil {
		return nil, errors.Wrap(err, "ingestion failed")
	}
	ds := ingested.Dataset
	warnings := append([]core.Warning(nil), ingested.Warnings...)

	engine := imputation.NewEngine(opts.Workers, log)
	set := opts.Coefficients
	if set == nil {
		set, err = engine.LearnCoefficients(ctx, ds)
		switch {
		case stderrors.Is(err, core.ErrInsufficientCalibrationData) && opts.AllowUncalibrated:
			set = nil
			warnings = append(warnings, core.Warning{
				Kind:    core.WarnUncalibrated,
				Message: "no co-observed proxy and output; proxy-only periods left missing",
			})
		case err != nil:
			return nil, errors.Wrap(err, "calibration failed")
		}
	}

	imputed, err := engine.Impute(ctx, ds, set)
	if err != nil {
		return nil, errors.Wrap(err, "imputation failed")
	}
	warnings = append(warnings, imputed.Warnings...)

	var (
		norm     *normalize.Result
		surv     *survival.Result
		treatRow []treatment.Row
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		norm, err = normalize.NewNormalizer(opts.Workers, log).Accumulate(gctx, ds, imputed.Records)
		if err != nil {
			return errors.Wrap(err, "normalization failed")
		}
		surv, err = survival.NewBuilder(opts.Workers, log).Build(gctx, ds, norm.Rows)
		if err != nil {
			return errors.Wrap(err, "survival build failed")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		treatRow, err = treatment.Index(ds.Registry(), ds.Window, opts.Binning)
		if err != nil {
			return errors.Wrap(err, "treatment indexing failed")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	warnings = append(warnings, surv.Warnings...)

	rows, err := panel.Assemble(ds.Granularity, norm.Rows, treatRow)
	if err != nil {
		return nil, errors.Wrap(err, "panel assembly failed")
	}

	design, err := panel.EventStudyDesign(rows, EventStudyReference)
	if err != nil {
		if !stderrors.Is(err, panel.ErrMissingReference) {
			return nil, errors.Wrap(err, "event-study design failed")
		}
		warnings = append(warnings, core.Warning{Kind: core.WarnNoEventStudy, Message: err.Error()})
		design = nil
	}
	cohorts := treatment.Cohorts(treatRow)

	for _, w := range warnings {
		log.Warn("%s", w.String())
	}

	manifest := Manifest{
		RunID:           runID,
		CreatedAt:       startTime.UTC(),
		Granularity:     ds.Granularity,
		WindowStart:     ds.Window.Start(),
		WindowEnd:       ds.Window.Cutoff(),
		Periods:         ds.Window.Len(),
		Workers:         opts.Workers,
		Calibrated:      set != nil,
		Fingerprint:     fingerprint,
		Units:           len(ds.UnitIDs()),
		PanelRows:       len(rows),
		SurvivalRecords: len(surv.Records),
		Warnings:        len(warnings),
		RuntimeMs:       time.Since(startTime).Milliseconds(),
	}
	if set != nil {
		global := set.Global()
		manifest.GlobalCoefficient = &global
	}

	profiles, err := profiling.Metrics(norm.Rows, surv.Records)
	if err != nil {
		return nil, errors.Wrap(err, "profiling failed")
	}

	cov := panel.Cover(rows)
	log.Info("run %s complete: %d panel rows (%d joined, %d metrics-only, %d treatment-only), %d survival records, %d cohorts, fingerprint %s",
		runID, len(rows), cov.Both, cov.MetricsOnly, cov.TreatmentOnly, len(surv.Records), len(cohorts), fingerprint.Short())

	return &Result{
		Manifest:     manifest,
		Coefficients: set,
		Imputed:      imputed.Records,
		Normalized:   norm.Rows,
		Summaries:    normalize.Summarize(norm.Rows),
		Survival:     surv.Records,
		Treatment:    treatRow,
		Panel:        rows,
		EventStudy:   design,
		Cohorts:      cohorts,
		Profiles:     profiles,
		Warnings:     warnings,
	}, nil
}

// Fingerprint hashes the raw logs together with every option that changes
// results. Identical inputs always produce the same fingerprint.
func Fingerprint(logs rawlog.Logs, opts Options) (core.Hash, error) {
	data, err := json.Marshal(logs)
	if err != nil {
		return "", err
	}
	params := map[string]interface{}{
		"granularity":        opts.Granularity,
		"allow_uncalibrated": opts.AllowUncalibrated,
		"k_bin_min":          opts.Binning.Min,
		"k_bin_max":          opts.Binning.Max,
		"window_start":       formatOptional(opts.WindowStart),
		"window_end":         formatOptional(opts.WindowEnd),
	}
	if opts.Coefficients != nil {
		coeffs, err := json.Marshal(opts.Coefficients.Units())
		if err != nil {
			return "", err
		}
		params["coefficients"] = string(coeffs)
		params["global_coefficient"] = opts.Coefficients.Global()
	}
	return core.Combine(core.NewHash(data), core.ComputeParamsHash(params)), nil
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
