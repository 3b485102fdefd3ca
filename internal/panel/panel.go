// Package panel joins normalized output metrics with treatment indicators into
// the analysis panel consumed by downstream estimators.
package panel

import (
	"fmt"
	"sort"
	"time"

	"utilpanel/domain/core"
	"utilpanel/domain/period"
	"utilpanel/internal/normalize"
	"utilpanel/internal/treatment"
)

// Row is one (unit, period) of the analysis panel. Either side may be nil when
// the key is present in only one input.
type Row struct {
	UnitID      core.UnitID    `json:"unit_id"`
	Period      period.Period  `json:"period"`
	PeriodStart time.Time      `json:"period_start"`
	Metrics     *normalize.Row `json:"metrics"`
	Treatment   *treatment.Row `json:"treatment"`
}

type key struct {
	unit   core.UnitID
	period period.Period
}

// Assemble performs a full outer join on (unit, period). The result is sorted
// by unit then period; nothing is dropped.
func Assemble(g period.Granularity, normalized []normalize.Row, treat []treatment.Row) ([]Row, error) {
	joined := make(map[key]*Row, len(normalized)+len(treat))
	get := func(k key) *Row {
		r, ok := joined[k]
		if !ok {
			r = &Row{UnitID: k.unit, Period: k.period, PeriodStart: g.Start(k.period)}
			joined[k] = r
		}
		return r
	}

	for i := range normalized {
		n := normalized[i]
		r := get(key{n.UnitID, n.Period})
		if r.Metrics != nil {
			return nil, core.NewIntegrityError(core.ErrDuplicateRow, n.UnitID, fmt.Sprintf("metrics for period %d", n.Period))
		}
		r.Metrics = &n
	}
	for i := range treat {
		t := treat[i]
		r := get(key{t.UnitID, t.Period})
		if r.Treatment != nil {
			return nil, core.NewIntegrityError(core.ErrDuplicateRow, t.UnitID, fmt.Sprintf("treatment for period %d", t.Period))
		}
		r.Treatment = &t
	}

	rows := make([]Row, 0, len(joined))
	for _, r := range joined {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UnitID != rows[j].UnitID {
			return rows[i].UnitID < rows[j].UnitID
		}
		return rows[i].Period < rows[j].Period
	})
	return rows, nil
}

// ListwiseComplete keeps rows with both sides present and observable output.
// It is never applied by Assemble; callers opt in.
func ListwiseComplete(rows []Row) []Row {
	var out []Row
	for _, r := range rows {
		if r.Metrics != nil && r.Treatment != nil && r.Metrics.Observable {
			out = append(out, r)
		}
	}
	return out
}

// Coverage counts how the join resolved.
type Coverage struct {
	Both          int `json:"both"`
	MetricsOnly   int `json:"metrics_only"`
	TreatmentOnly int `json:"treatment_only"`
}

func Cover(rows []Row) Coverage {
	var c Coverage
	for _, r := range rows {
		switch {
		case r.Metrics != nil && r.Treatment != nil:
			c.Both++
		case r.Metrics != nil:
			c.MetricsOnly++
		default:
			c.TreatmentOnly++
		}
	}
	return c
}
