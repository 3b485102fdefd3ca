package normalize

import (
	"sort"

	"github.com/montanaflynn/stats"

	"utilpanel/domain/core"
	"utilpanel/domain/equipment"
)

// UnitSummary is the span-level effective-denominator MTBF analogue of one unit.
type UnitSummary struct {
	UnitID            core.UnitID `json:"unit_id"`
	TotalOutput       float64     `json:"total_output"`
	Failures          int         `json:"failures"`
	WorkPerFailure    *float64    `json:"work_per_failure"`
	ObservablePeriods int         `json:"observable_periods"`
	ImputedPeriods    int         `json:"imputed_periods"`
	MedianOutput      *float64    `json:"median_output"`
}

// Summarize reduces a normalized panel to one summary per unit.
func Summarize(rows []Row) []UnitSummary {
	grouped := make(map[core.UnitID][]Row)
	for _, r := range rows {
		grouped[r.UnitID] = append(grouped[r.UnitID], r)
	}

	out := make([]UnitSummary, 0, len(grouped))
	for id, rs := range grouped {
		s := UnitSummary{UnitID: id}
		var outputs []float64
		for _, r := range rs {
			s.Failures += r.FailureCount
			if r.Observable {
				s.ObservablePeriods++
				outputs = append(outputs, *r.OutputFinal)
			}
			if r.WasImputed {
				s.ImputedPeriods++
			}
		}
		s.TotalOutput = rs[len(rs)-1].CumulativeOutput
		if s.Failures > 0 {
			s.WorkPerFailure = equipment.Float(s.TotalOutput / float64(s.Failures))
		}
		if m, err := stats.Median(outputs); err == nil {
			s.MedianOutput = equipment.Float(m)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}
