package imputation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"utilpanel/domain/core"
	"utilpanel/domain/equipment"
	"utilpanel/domain/period"
)

// MissingReason explains why a bucket has no final output.
type MissingReason string

const (
	ReasonNone         MissingReason = ""
	ReasonUnobservable MissingReason = "unobservable" // neither production nor proxy
	ReasonUncalibrated MissingReason = "uncalibrated" // proxy present, no coefficient available
)

// ImputedProductionRecord is the final output of one unit-bucket. OutputFinal is nil
// exactly when Observable is false; it is never coerced to zero.
type ImputedProductionRecord struct {
	UnitID      core.UnitID       `json:"unit_id"`
	Period      period.Period     `json:"period"`
	OutputFinal *float64          `json:"output_count_final"`
	WasImputed  bool              `json:"was_imputed"`
	Observable  bool              `json:"observable"`
	Reason      MissingReason     `json:"reason,omitempty"`
	ProxyValue  *float64          `json:"proxy_value,omitempty"`
	Coefficient *float64          `json:"coefficient,omitempty"`
	Source      CoefficientSource `json:"coefficient_source,omitempty"`
}

// ImputeResult is phase two's output, ordered by unit then period.
type ImputeResult struct {
	Records  []ImputedProductionRecord
	Warnings []core.Warning
}

// Impute is phase two: a pure per-unit map over the frozen coefficient set.
// A nil set is the explicit partial-run mode: proxy-only buckets stay missing
// with ReasonUncalibrated instead of being guessed.
func (e *Engine) Impute(ctx context.Context, ds *equipment.Dataset, set *CoefficientSet) (*ImputeResult, error) {
	ids := ds.UnitIDs()
	perUnit := make([][]ImputedProductionRecord, len(ids))
	perUnitWarnings := make([][]core.Warning, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, _ := ds.Series(id)
			recs, warns, err := imputeUnit(ds.Granularity, s, set)
			if err != nil {
				return err
			}
			perUnit[i] = recs
			perUnitWarnings[i] = warns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &ImputeResult{}
	imputed, unobservable := 0, 0
	for i := range ids {
		for _, r := range perUnit[i] {
			if r.WasImputed {
				imputed++
			}
			if !r.Observable {
				unobservable++
			}
		}
		res.Records = append(res.Records, perUnit[i]...)
		res.Warnings = append(res.Warnings, perUnitWarnings[i]...)
	}
	e.log.Info("imputation: %d buckets, %d imputed, %d unobservable", len(res.Records), imputed, unobservable)
	return res, nil
}

func imputeUnit(g period.Granularity, s equipment.UnitSeries, set *CoefficientSet) ([]ImputedProductionRecord, []core.Warning, error) {
	proxy := make(map[period.Period]float64, len(s.Proxy))
	for _, r := range s.Proxy {
		proxy[r.Period] = r.Value
	}
	production := make(map[period.Period]equipment.ProductionRecord, len(s.Production))
	for _, r := range s.Production {
		production[r.Period] = r
	}

	// union of buckets with any signal, in order
	var periods []period.Period
	seen := make(map[period.Period]bool)
	pi, xi := 0, 0
	for pi < len(s.Production) || xi < len(s.Proxy) {
		var p period.Period
		switch {
		case xi >= len(s.Proxy) || (pi < len(s.Production) && s.Production[pi].Period <= s.Proxy[xi].Period):
			p = s.Production[pi].Period
			pi++
		default:
			p = s.Proxy[xi].Period
			xi++
		}
		if !seen[p] {
			seen[p] = true
			periods = append(periods, p)
		}
	}

	var (
		out          []ImputedProductionRecord
		warnings     []core.Warning
		fallbackUsed bool
	)
	for _, p := range periods {
		rec := ImputedProductionRecord{UnitID: s.UnitID, Period: p}
		if v, ok := proxy[p]; ok {
			rec.ProxyValue = equipment.Float(v)
		}

		prod, hasProd := production[p]
		switch {
		case hasProd && prod.Output != nil:
			rec.OutputFinal = equipment.Float(*prod.Output)
			rec.Observable = true

		case rec.ProxyValue != nil && set != nil:
			coef, src := set.For(s.UnitID)
			if !(coef > 0) {
				return nil, nil, fmt.Errorf("%w: non-positive coefficient %g for unit %s", core.ErrIntegrity, coef, s.UnitID)
			}
			rec.OutputFinal = equipment.Float(*rec.ProxyValue / coef)
			rec.WasImputed = true
			rec.Observable = true
			rec.Coefficient = equipment.Float(coef)
			rec.Source = src
			if src == SourceGlobal {
				fallbackUsed = true
			}

		case rec.ProxyValue != nil:
			rec.Reason = ReasonUncalibrated
			warnings = append(warnings, core.Warning{
				Kind:    core.WarnUnobservablePeriod,
				UnitID:  s.UnitID,
				Period:  g.Label(p),
				Message: "output missing and no calibration data to impute from proxy",
			})

		default:
			rec.Reason = ReasonUnobservable
			warnings = append(warnings, core.Warning{
				Kind:    core.WarnUnobservablePeriod,
				UnitID:  s.UnitID,
				Period:  g.Label(p),
				Message: "output missing and no proxy reading",
			})
		}
		out = append(out, rec)
	}

	if fallbackUsed {
		warnings = append(warnings, core.Warning{
			Kind:    core.WarnUnitFallback,
			UnitID:  s.UnitID,
			Message: "no co-observed periods; imputed with global median coefficient",
		})
	}
	return out, warnings, nil
}

// Restore merges imputed records back into production records, keeping only
// observed values. Re-imputing the restored dataset with the same coefficients
// reproduces the same records.
func Restore(records []ImputedProductionRecord) []equipment.ProductionRecord {
	out := make([]equipment.ProductionRecord, 0, len(records))
	for _, r := range records {
		pr := equipment.ProductionRecord{UnitID: r.UnitID, Period: r.Period}
		if r.Observable && !r.WasImputed {
			pr.Output = equipment.Float(*r.OutputFinal)
		}
		out = append(out, pr)
	}
	return out
}
