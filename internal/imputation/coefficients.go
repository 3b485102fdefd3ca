// Package imputation learns proxy-to-output coefficients and fills missing
// production buckets from the proxy signal.
package imputation

import (
	"context"
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"utilpanel/domain/core"
	"utilpanel/domain/equipment"
	"utilpanel/domain/period"
	"utilpanel/internal/logging"
)

// CoefficientSource records where a unit's coefficient came from.
type CoefficientSource string

const (
	SourceUnit   CoefficientSource = "unit"
	SourceGlobal CoefficientSource = "global"
)

// Coefficient is proxy units consumed per unit of output.
type Coefficient struct {
	UnitID       core.UnitID       `json:"unit_id" db:"unit_id"`
	Value        float64           `json:"value" db:"value"`
	Source       CoefficientSource `json:"source" db:"source"`
	Observations int               `json:"observations" db:"observations"`
}

// CoefficientSet is frozen once learned; every imputation in a run reads the same snapshot.
type CoefficientSet struct {
	perUnit map[core.UnitID]Coefficient
	global  float64
}

// NewCoefficientSet builds a set from known values. Non-positive entries are rejected.
func NewCoefficientSet(perUnit map[core.UnitID]float64, global float64) (*CoefficientSet, error) {
	if !(global > 0) {
		return nil, fmt.Errorf("%w: global coefficient must be positive, got %g", core.ErrInsufficientCalibrationData, global)
	}
	set := &CoefficientSet{perUnit: make(map[core.UnitID]Coefficient, len(perUnit)), global: global}
	for id, v := range perUnit {
		if !(v > 0) {
			return nil, fmt.Errorf("coefficient for unit %s must be positive, got %g", id, v)
		}
		set.perUnit[id] = Coefficient{UnitID: id, Value: v, Source: SourceUnit}
	}
	return set, nil
}

// For returns the unit's own coefficient, or the global fallback.
func (s *CoefficientSet) For(id core.UnitID) (float64, CoefficientSource) {
	if c, ok := s.perUnit[id]; ok {
		return c.Value, SourceUnit
	}
	return s.global, SourceGlobal
}

// Global returns the median of per-unit coefficients.
func (s *CoefficientSet) Global() float64 { return s.global }

// Units lists learned per-unit coefficients sorted by unit.
func (s *CoefficientSet) Units() []Coefficient {
	out := make([]Coefficient, 0, len(s.perUnit))
	for _, c := range s.perUnit {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

// Engine runs both imputation phases with bounded per-unit parallelism.
type Engine struct {
	workers int
	log     *logging.Logger
}

// NewEngine returns an engine using up to workers goroutines.
func NewEngine(workers int, log *logging.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{workers: workers, log: log}
}

// unitRatios collects proxy/output ratios over co-observed buckets with positive values.
func unitRatios(s equipment.UnitSeries) []float64 {
	proxy := make(map[period.Period]float64, len(s.Proxy))
	for _, r := range s.Proxy {
		proxy[r.Period] = r.Value
	}
	var ratios []float64
	for _, r := range s.Production {
		if r.Output == nil || *r.Output <= 0 {
			continue
		}
		p, ok := proxy[r.Period]
		if !ok || p <= 0 {
			continue
		}
		ratios = append(ratios, p / *r.Output)
	}
	return ratios
}

// LearnCoefficients is phase one: per-unit medians computed in parallel, then a
// barrier, then the global median over units. It fails with
// ErrInsufficientCalibrationData when no unit has a single co-observed bucket.
func (e *Engine) LearnCoefficients(ctx context.Context, ds *equipment.Dataset) (*CoefficientSet, error) {
	ids := ds.UnitIDs()
	results := make([]*Coefficient, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, _ := ds.Series(id)
			ratios := unitRatios(s)
			if len(ratios) == 0 {
				return nil
			}
			median, err := stats.Median(ratios)
			if err != nil {
				return fmt.Errorf("median for unit %s: %w", id, err)
			}
			results[i] = &Coefficient{UnitID: id, Value: median, Source: SourceUnit, Observations: len(ratios)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := &CoefficientSet{perUnit: make(map[core.UnitID]Coefficient)}
	values := make([]float64, 0, len(ids))
	for _, c := range results {
		if c == nil {
			continue
		}
		set.perUnit[c.UnitID] = *c
		values = append(values, c.Value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no unit has a period with both proxy and positive output", core.ErrInsufficientCalibrationData)
	}

	global, err := stats.Median(values)
	if err != nil {
		return nil, fmt.Errorf("global median: %w", err)
	}
	if !(global > 0) {
		return nil, fmt.Errorf("%w: global coefficient %g is not positive", core.ErrInsufficientCalibrationData, global)
	}
	set.global = global

	e.log.Info("learned coefficients for %d/%d units (global median %.4f proxy per output)", len(values), len(ids), global)
	return set, nil
}
