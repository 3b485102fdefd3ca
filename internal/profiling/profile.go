// Package profiling summarizes the distribution of each numeric panel column
// so a reviewer can spot scale problems before fitting models.
package profiling

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"utilpanel/internal/normalize"
	"utilpanel/internal/survival"
)

// ColumnProfile is the distribution summary of one column. Nulls are
// counted in Missing and excluded from every statistic.
type ColumnProfile struct {
	Column   string  `json:"column"`
	Count    int     `json:"count"`
	Missing  int     `json:"missing"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Min      float64 `json:"min"`
	Q25      float64 `json:"q25"`
	Median   float64 `json:"median"`
	Q75      float64 `json:"q75"`
	Max      float64 `json:"max"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`
	Outliers int     `json:"outliers"`
	NormalP  float64 `json:"normal_p"`
}

// Profile summarizes one column. A column with no values yields a profile
// with only Column and Missing set.
func Profile(column string, values []*float64) (ColumnProfile, error) {
	p := ColumnProfile{Column: column}
	data := make([]float64, 0, len(values))
	for _, v := range values {
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			p.Missing++
			continue
		}
		data = append(data, *v)
	}
	p.Count = len(data)
	if p.Count == 0 {
		return p, nil
	}

	var err error
	if p.Mean, err = stats.Mean(data); err != nil {
		return p, err
	}
	if p.Count > 1 {
		if p.StdDev, err = stats.StandardDeviationSample(data); err != nil {
			return p, err
		}
	}
	if p.Min, err = stats.Min(data); err != nil {
		return p, err
	}
	if p.Max, err = stats.Max(data); err != nil {
		return p, err
	}
	if p.Median, err = stats.Median(data); err != nil {
		return p, err
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	p.Q25 = stat.Quantile(0.25, stat.Empirical, sorted, nil)
	p.Q75 = stat.Quantile(0.75, stat.Empirical, sorted, nil)

	p.Skewness = skewness(data, p.Mean, p.StdDev)
	p.Kurtosis = kurtosis(data, p.Mean, p.StdDev)
	p.Outliers = outliers(data, p.Q25, p.Q75)
	p.NormalP = normalityP(len(data), p.Skewness, p.Kurtosis)
	return p, nil
}

// Metrics profiles the normalized metric columns and the survival
// durations of one run.
func Metrics(rows []normalize.Row, records []survival.Record) ([]ColumnProfile, error) {
	columns := []struct {
		name string
		pick func(normalize.Row) *float64
	}{
		{"output_count_final", func(r normalize.Row) *float64 { return r.OutputFinal }},
		{"normalized_duration_metric", func(r normalize.Row) *float64 { return r.NormalizedDurationMetric }},
		{"relative_utilization", func(r normalize.Row) *float64 { return r.RelativeUtilization }},
		{"norm_count_rate", func(r normalize.Row) *float64 { return r.NormCountRate }},
		{"log_output_offset", func(r normalize.Row) *float64 { return r.LogOutputOffset }},
	}

	out := make([]ColumnProfile, 0, len(columns)+2)
	for _, c := range columns {
		values := make([]*float64, len(rows))
		for i, r := range rows {
			values[i] = c.pick(r)
		}
		p, err := Profile(c.name, values)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	durations := make([]*float64, len(records))
	hours := make([]*float64, len(records))
	for i, rec := range records {
		d := rec.Duration
		durations[i] = &d
		hours[i] = rec.NormalizedHours
	}
	for _, c := range []struct {
		name   string
		values []*float64
	}{{"duration", durations}, {"normalized_hours", hours}} {
		p, err := Profile(c.name, c.values)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// skewness is the adjusted Fisher-Pearson coefficient.
func skewness(data []float64, mean, sd float64) float64 {
	n := float64(len(data))
	if n < 3 || sd == 0 {
		return 0
	}
	var sum float64
	for _, x := range data {
		d := (x - mean) / sd
		sum += d * d * d
	}
	return sum / n * math.Sqrt(n*(n-1)) / (n - 2)
}

// kurtosis is the bias-corrected sample kurtosis (3 for a normal sample).
func kurtosis(data []float64, mean, sd float64) float64 {
	n := float64(len(data))
	if n < 4 || sd == 0 {
		return 3
	}
	var sum float64
	for _, x := range data {
		d := (x - mean) / sd
		sum += d * d * d * d
	}
	excess := sum/n - 3
	excess = excess*(n-1)/((n-2)*(n-3)) + 6/(n+1)
	return excess + 3
}

func outliers(data []float64, q25, q75 float64) int {
	iqr := q75 - q25
	lo, hi := q25-1.5*iqr, q75+1.5*iqr
	count := 0
	for _, x := range data {
		if x < lo || x > hi {
			count++
		}
	}
	return count
}

// normalityP is the Jarque-Bera p-value: JB = n/6 (S^2 + (K-3)^2/4) against
// chi-squared with two degrees of freedom.
func normalityP(n int, skew, kurt float64) float64 {
	if n < 3 {
		return 1
	}
	jb := float64(n) / 6 * (skew*skew + (kurt-3)*(kurt-3)/4)
	return 1 - distuv.ChiSquared{K: 2}.CDF(jb)
}
