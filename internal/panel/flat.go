package panel

import (
	"time"

	"utilpanel/domain/core"
	"utilpanel/domain/period"
)

// FlatRow is the tabular form of Row: every column of either side, null when
// that side is absent. Files, the database and the API all use this shape.
type FlatRow struct {
	UnitID      core.UnitID `json:"unit_id" db:"unit_id"`
	Period      string      `json:"period" db:"period"`
	PeriodStart time.Time   `json:"period_start" db:"period_start"`

	OutputFinal              *float64 `json:"output_count_final" db:"output_count_final"`
	WasImputed               *bool    `json:"was_imputed" db:"was_imputed"`
	Observable               *bool    `json:"observable" db:"observable"`
	CumulativeOutput         *float64 `json:"cumulative_output" db:"cumulative_output"`
	FailureCount             *int     `json:"failure_count" db:"failure_count"`
	CumulativeFailures       *int     `json:"cumulative_failures" db:"cumulative_failures"`
	NormalizedDurationMetric *float64 `json:"normalized_duration_metric" db:"normalized_duration_metric"`
	RelativeUtilization      *float64 `json:"relative_utilization" db:"relative_utilization"`
	NormCountRate            *float64 `json:"norm_count_rate" db:"norm_count_rate"`
	LogOutputOffset          *float64 `json:"log_output_offset" db:"log_output_offset"`

	Treated *bool `json:"treated" db:"treated"`
	Post    *bool `json:"post" db:"post"`
	K       *int  `json:"relative_time_k" db:"relative_time_k"`
	KBinned *int  `json:"relative_time_k_binned" db:"relative_time_k_binned"`
}

// Columns lists FlatRow fields in output order.
var Columns = []string{
	"unit_id", "period", "period_start",
	"output_count_final", "was_imputed", "observable", "cumulative_output",
	"failure_count", "cumulative_failures", "normalized_duration_metric",
	"relative_utilization", "norm_count_rate", "log_output_offset",
	"treated", "post", "relative_time_k", "relative_time_k_binned",
}

func Flatten(g period.Granularity, rows []Row) []FlatRow {
	out := make([]FlatRow, len(rows))
	for i, r := range rows {
		f := FlatRow{UnitID: r.UnitID, Period: g.Label(r.Period), PeriodStart: r.PeriodStart}
		if m := r.Metrics; m != nil {
			f.OutputFinal = m.OutputFinal
			f.WasImputed = ptr(m.WasImputed)
			f.Observable = ptr(m.Observable)
			f.CumulativeOutput = ptr(m.CumulativeOutput)
			f.FailureCount = ptr(m.FailureCount)
			f.CumulativeFailures = ptr(m.CumulativeFailures)
			f.NormalizedDurationMetric = m.NormalizedDurationMetric
			f.RelativeUtilization = m.RelativeUtilization
			f.NormCountRate = m.NormCountRate
			f.LogOutputOffset = m.LogOutputOffset
		}
		if t := r.Treatment; t != nil {
			f.Treated = ptr(t.Treated)
			f.Post = ptr(t.Post)
			f.K = t.K
			f.KBinned = t.KBinned
		}
		out[i] = f
	}
	return out
}

func ptr[T any](v T) *T { return &v }
