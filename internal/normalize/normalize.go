// Package normalize turns per-bucket output into a per-unit effective clock:
// cumulative output replaces calendar time as the denominator of duration metrics.
package normalize

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"utilpanel/domain/core"
	"utilpanel/domain/equipment"
	"utilpanel/domain/period"
	"utilpanel/internal/imputation"
	"utilpanel/internal/logging"
)

// Row is one unit-bucket of the normalized panel.
type Row struct {
	UnitID      core.UnitID   `json:"unit_id"`
	Period      period.Period `json:"period"`
	OutputFinal *float64      `json:"output_count_final"`
	WasImputed  bool          `json:"was_imputed"`
	Observable  bool          `json:"observable"`

	// CumulativeOutput never decreases; unobservable buckets add nothing.
	CumulativeOutput   float64 `json:"cumulative_output"`
	FailureCount       int     `json:"failure_count"`
	CumulativeFailures int     `json:"cumulative_failures"`

	// NormalizedDurationMetric is output accumulated since the window start per
	// failure observed so far: work between failures in output units.
	NormalizedDurationMetric *float64 `json:"normalized_duration_metric"`

	// RelativeUtilization is output over the cross-unit mean output of the bucket.
	RelativeUtilization *float64 `json:"relative_utilization"`
	// NormCountRate is failures scaled by relative utilization.
	NormCountRate *float64 `json:"norm_count_rate"`
	// LogOutputOffset is ln(output) for rate models; nil when output is not positive.
	LogOutputOffset *float64 `json:"log_output_offset"`
}

// Result is the normalized panel ordered by unit then period.
type Result struct {
	Rows []Row
}

// Normalizer builds the effective-denominator panel.
type Normalizer struct {
	workers int
	log     *logging.Logger
}

func NewNormalizer(workers int, log *logging.Logger) *Normalizer {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Normalizer{workers: workers, log: log}
}

// Accumulate emits one row per window bucket for every unit with production or
// proxy data. Per-unit accumulation runs in parallel; relative utilization is a
// second pass once every unit's outputs are known.
func (n *Normalizer) Accumulate(ctx context.Context, ds *equipment.Dataset, imputed []imputation.ImputedProductionRecord) (*Result, error) {
	byUnit := make(map[core.UnitID][]imputation.ImputedProductionRecord)
	for _, r := range imputed {
		byUnit[r.UnitID] = append(byUnit[r.UnitID], r)
	}

	var ids []core.UnitID
	for _, id := range ds.UnitIDs() {
		if _, ok := byUnit[id]; ok {
			ids = append(ids, id)
		}
	}

	perUnit := make([][]Row, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, _ := ds.Series(id)
			rows := accumulateUnit(ds.Window, id, byUnit[id], s.Failures)
			if err := VerifyMonotonic(rows); err != nil {
				return err
			}
			perUnit[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, rows := range perUnit {
		res.Rows = append(res.Rows, rows...)
	}
	applyRelativeUtilization(res.Rows)

	n.log.Info("normalized %d units over %d periods", len(ids), ds.Window.Len())
	return res, nil
}

func accumulateUnit(w period.Window, id core.UnitID, recs []imputation.ImputedProductionRecord, failures []equipment.FailureEvent) []Row {
	byPeriod := make(map[period.Period]imputation.ImputedProductionRecord, len(recs))
	for _, r := range recs {
		byPeriod[r.Period] = r
	}
	failuresIn := make(map[period.Period]int)
	for _, f := range failures {
		if !w.ContainsTime(f.Timestamp) {
			continue
		}
		failuresIn[w.Granularity.Of(f.Timestamp)]++
	}

	rows := make([]Row, 0, w.Len())
	cumulative := 0.0
	cumFailures := 0
	for _, p := range w.Periods() {
		row := Row{UnitID: id, Period: p}
		if r, ok := byPeriod[p]; ok && r.Observable {
			row.OutputFinal = equipment.Float(*r.OutputFinal)
			row.WasImputed = r.WasImputed
			row.Observable = true
			cumulative += *r.OutputFinal
			if *r.OutputFinal > 0 {
				row.LogOutputOffset = equipment.Float(math.Log(*r.OutputFinal))
			}
		}
		row.FailureCount = failuresIn[p]
		cumFailures += row.FailureCount
		row.CumulativeOutput = cumulative
		row.CumulativeFailures = cumFailures
		if cumFailures > 0 {
			row.NormalizedDurationMetric = equipment.Float(cumulative / float64(cumFailures))
		}
		rows = append(rows, row)
	}
	return rows
}

// applyRelativeUtilization divides each observable output by the mean output of
// all observable units in the same bucket.
func applyRelativeUtilization(rows []Row) {
	outputs := make(map[period.Period][]float64)
	for _, r := range rows {
		if r.Observable {
			outputs[r.Period] = append(outputs[r.Period], *r.OutputFinal)
		}
	}
	means := make(map[period.Period]float64, len(outputs))
	for p, vals := range outputs {
		means[p] = stat.Mean(vals, nil)
	}

	for i := range rows {
		r := &rows[i]
		if !r.Observable {
			continue
		}
		mean := means[r.Period]
		if mean <= 0 {
			continue
		}
		rel := *r.OutputFinal / mean
		r.RelativeUtilization = equipment.Float(rel)
		if rel > 0 {
			r.NormCountRate = equipment.Float(float64(r.FailureCount) / rel)
		}
	}
}

// VerifyMonotonic fails when cumulative output ever decreases within a unit.
func VerifyMonotonic(rows []Row) error {
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		if prev.UnitID != cur.UnitID {
			continue
		}
		if cur.CumulativeOutput < prev.CumulativeOutput {
			return core.NewIntegrityError(core.ErrNonMonotonic, cur.UnitID,
				fmt.Sprintf("period %d: %g < %g", cur.Period, cur.CumulativeOutput, prev.CumulativeOutput))
		}
	}
	return nil
}
