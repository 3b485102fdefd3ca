package ingestion

import (
	"fmt"
	"sort"

	"utilpanel/domain/core"
	"utilpanel/domain/equipment"
	"utilpanel/domain/period"
)

type bucketKey struct {
	unit   core.UnitID
	period period.Period
}

func sortedKeys[V any](m map[bucketKey]V) []bucketKey {
	keys := make([]bucketKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].unit != keys[j].unit {
			return keys[i].unit < keys[j].unit
		}
		return keys[i].period < keys[j].period
	})
	return keys
}

// aggregateProduction sums output per bucket. One missing marker makes the whole
// bucket missing: a partial sum would understate output and bias calibration.
// Buckets that drop observed rows this way are reported as warnings.
func aggregateProduction(g period.Granularity, w period.Window, rows []rawProduction) ([]equipment.ProductionRecord, []core.Warning) {
	type acc struct {
		sum      float64
		observed int
		missing  int
	}
	buckets := make(map[bucketKey]*acc)
	for _, r := range rows {
		p := g.Of(r.at)
		if !w.Contains(p) {
			continue
		}
		k := bucketKey{unit: r.unit, period: p}
		a, ok := buckets[k]
		if !ok {
			a = &acc{}
			buckets[k] = a
		}
		if r.output == nil {
			a.missing++
			continue
		}
		a.sum += *r.output
		a.observed++
	}

	out := make([]equipment.ProductionRecord, 0, len(buckets))
	var warnings []core.Warning
	for _, k := range sortedKeys(buckets) {
		a := buckets[k]
		rec := equipment.ProductionRecord{UnitID: k.unit, Period: k.period}
		switch {
		case a.missing == 0:
			rec.Output = equipment.Float(a.sum)
		case a.observed > 0:
			warnings = append(warnings, core.Warning{
				Kind:    core.WarnMissingDiscarded,
				UnitID:  k.unit,
				Period:  g.Label(k.period),
				Message: fmt.Sprintf("%d observed rows (output %g) discarded alongside %d missing rows", a.observed, a.sum, a.missing),
			})
		}
		out = append(out, rec)
	}
	return out, warnings
}

// aggregateProxy sums proxy readings per bucket.
func aggregateProxy(g period.Granularity, w period.Window, rows []rawProxy) []equipment.ProxyRecord {
	buckets := make(map[bucketKey]float64)
	for _, r := range rows {
		p := g.Of(r.at)
		if !w.Contains(p) {
			continue
		}
		buckets[bucketKey{unit: r.unit, period: p}] += r.value
	}

	out := make([]equipment.ProxyRecord, 0, len(buckets))
	for _, k := range sortedKeys(buckets) {
		out = append(out, equipment.ProxyRecord{UnitID: k.unit, Period: k.period, Value: buckets[k]})
	}
	return out
}
