package survival

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utilpanel/domain/core"
	"utilpanel/domain/equipment"
	"utilpanel/domain/period"
	"utilpanel/internal/imputation"
	"utilpanel/internal/normalize"
)

func day(m time.Month, d, h int) time.Time {
	return time.Date(2024, m, d, h, 0, 0, 0, time.UTC)
}

type unitSpec struct {
	id       core.UnitID
	outputs  []float64
	failures []time.Time
}

func build(t *testing.T, units []equipment.Unit, specs ...unitSpec) *Result {
	t.Helper()
	w, err := period.NewWindow(period.Month, day(time.January, 1, 0), day(time.March, 1, 0))
	require.NoError(t, err)

	var (
		production []equipment.ProductionRecord
		failures   []equipment.FailureEvent
		imputed    []imputation.ImputedProductionRecord
	)
	for _, s := range specs {
		for i, v := range s.outputs {
			p := w.First + period.Period(i)
			production = append(production, equipment.ProductionRecord{UnitID: s.id, Period: p, Output: equipment.Float(v)})
			imputed = append(imputed, imputation.ImputedProductionRecord{
				UnitID: s.id, Period: p, OutputFinal: equipment.Float(v), Observable: true,
			})
		}
		for _, f := range s.failures {
			failures = append(failures, equipment.FailureEvent{UnitID: s.id, Timestamp: f})
		}
	}
	ds := equipment.NewDataset(w, units, production, nil, failures)

	norm, err := normalize.NewNormalizer(2, nil).Accumulate(context.Background(), ds, imputed)
	require.NoError(t, err)

	res, err := NewBuilder(2, nil).Build(context.Background(), ds, norm.Rows)
	require.NoError(t, err)
	return res
}

func recordsFor(res *Result, id core.UnitID) []Record {
	var out []Record
	for _, r := range res.Records {
		if r.UnitID == id {
			out = append(out, r)
		}
	}
	return out
}

// ============================================================================
// TEST: Build
// ============================================================================

func TestBuild_FailureThenCensored(t *testing.T) {
	res := build(t, nil, unitSpec{
		id:      "A",
		outputs: []float64{100, 50, 100},
		// February 2024 has 29 days; 14.5 days in accrues half of 50.
		failures: []time.Time{day(time.February, 15, 12)},
	})

	recs := recordsFor(res, "A")
	require.Len(t, recs, 2)

	assert.Equal(t, Failed, recs[0].EventFlag)
	assert.InDelta(t, 125.0, recs[0].Duration, 1e-9)
	assert.Equal(t, day(time.January, 1, 0), recs[0].IntervalStart)
	assert.Equal(t, 0, recs[0].Interval)

	assert.Equal(t, Censored, recs[1].EventFlag)
	assert.InDelta(t, 125.0, recs[1].Duration, 1e-9)
	assert.Equal(t, day(time.February, 15, 12), recs[1].IntervalStart)
	assert.Equal(t, day(time.April, 1, 0), recs[1].IntervalEnd)

	assert.InDelta(t, (31+14.5)*24, recs[0].CalendarHours, 1e-9)
	require.NotNil(t, recs[0].NormalizedHours)
}

func TestBuild_ZeroOutputIntervalExcluded(t *testing.T) {
	res := build(t, nil, unitSpec{
		id:       "C",
		outputs:  []float64{0, 100, 100},
		failures: []time.Time{day(time.January, 20, 0)},
	})

	recs := recordsFor(res, "C")
	require.Len(t, recs, 1, "the zero-output failure interval is not emitted")
	assert.Equal(t, Censored, recs[0].EventFlag)
	assert.Equal(t, 200.0, recs[0].Duration)
	assert.Equal(t, 1, res.Excluded)
	assert.Equal(t, 1, core.CountWarnings(res.Warnings)[core.WarnZeroDuration])
}

func TestBuild_NeverProducedYieldsNothing(t *testing.T) {
	res := build(t, nil, unitSpec{
		id:       "Z",
		outputs:  []float64{0, 0, 0},
		failures: []time.Time{day(time.January, 31, 0)},
	})

	assert.Empty(t, recordsFor(res, "Z"))
	assert.Equal(t, 2, res.Excluded)
	for _, r := range res.Records {
		assert.Greater(t, r.Duration, 0.0)
	}
}

func TestBuild_OutOfWindowFailureWarns(t *testing.T) {
	res := build(t, nil, unitSpec{
		id:       "A",
		outputs:  []float64{100, 100, 100},
		failures: []time.Time{day(time.June, 1, 0), time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)},
	})

	recs := recordsFor(res, "A")
	require.Len(t, recs, 1)
	assert.Equal(t, Censored, recs[0].EventFlag)
	assert.Equal(t, 300.0, recs[0].Duration)
	assert.Equal(t, 2, core.CountWarnings(res.Warnings)[core.WarnOutOfWindowEvent])
}

func TestBuild_CensoringCompleteness(t *testing.T) {
	failures := []time.Time{day(time.March, 2, 0), day(time.January, 10, 0), day(time.February, 5, 0)}
	res := build(t, nil, unitSpec{id: "A", outputs: []float64{310, 290, 310}, failures: failures})

	recs := recordsFor(res, "A")
	require.Len(t, recs, 4)

	censored := 0
	for i, r := range recs {
		if r.EventFlag == Censored {
			censored++
			assert.Equal(t, len(recs)-1, i, "censored record is terminal")
		}
		if i > 0 {
			assert.Equal(t, recs[i-1].IntervalEnd, r.IntervalStart, "intervals chain")
		}
	}
	assert.Equal(t, 1, censored)
	assert.True(t, recs[0].IntervalEnd.Equal(day(time.January, 10, 0)), "failures are processed chronologically")

	total := 0.0
	for _, r := range recs {
		total += r.Duration
	}
	assert.InDelta(t, 910.0, total, 1e-9, "intervals partition the window's output")
}

func TestBuild_TreatmentFlags(t *testing.T) {
	installed := day(time.February, 1, 0)
	units := []equipment.Unit{{ID: "A", InstallationDate: &installed}, {ID: "B"}}
	res := build(t, units,
		unitSpec{id: "A", outputs: []float64{100, 100, 100}, failures: []time.Time{day(time.January, 16, 0)}},
		unitSpec{id: "B", outputs: []float64{100, 100, 100}},
	)

	a := recordsFor(res, "A")
	require.Len(t, a, 2)
	require.NotNil(t, a[0].Treated)
	assert.True(t, *a[0].Treated)
	assert.False(t, *a[0].Post, "ended before installation")
	assert.True(t, *a[1].Post)

	b := recordsFor(res, "B")
	require.Len(t, b, 1)
	require.NotNil(t, b[0].Treated)
	assert.False(t, *b[0].Treated)
	assert.False(t, *b[0].Post)
}

func TestBuild_UnregisteredUnitHasNoTreatmentFlags(t *testing.T) {
	installed := day(time.February, 1, 0)
	units := []equipment.Unit{{ID: "A", InstallationDate: &installed}}
	res := build(t, units,
		unitSpec{id: "A", outputs: []float64{100, 100, 100}},
		unitSpec{id: "U", outputs: []float64{100, 100, 100}, failures: []time.Time{day(time.January, 16, 0)}},
	)

	u := recordsFor(res, "U")
	require.Len(t, u, 2)
	for _, r := range u {
		assert.Nil(t, r.Treated, "unknown status is not pooled with controls")
		assert.Nil(t, r.Post)
	}
	assert.Equal(t, Failed, u[0].EventFlag)
	assert.Equal(t, Censored, u[1].EventFlag)
}

func TestBuild_ContextCancelled(t *testing.T) {
	w, err := period.NewWindow(period.Month, day(time.January, 1, 0), day(time.January, 1, 0))
	require.NoError(t, err)
	ds := equipment.NewDataset(w, nil,
		[]equipment.ProductionRecord{{UnitID: "A", Period: w.First, Output: equipment.Float(1)}}, nil,
		[]equipment.FailureEvent{{UnitID: "A", Timestamp: day(time.January, 2, 0)}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewBuilder(1, nil).Build(ctx, ds, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

// ============================================================================
// TEST: helpers
// ============================================================================

func TestHourlyThroughput(t *testing.T) {
	g := period.Day
	rows := []normalize.Row{
		{Period: 0, Observable: true, OutputFinal: equipment.Float(48)},
		{Period: 1, Observable: true, OutputFinal: equipment.Float(24)},
		{Period: 2},
	}
	assert.InDelta(t, 1.5, HourlyThroughput(g, rows), 1e-12)
	assert.Equal(t, 0.0, HourlyThroughput(g, nil))
}

func TestVerifyCensoring(t *testing.T) {
	t0 := day(time.January, 1, 0)
	ok := []Record{
		{UnitID: "A", Duration: 1, EventFlag: Failed, IntervalStart: t0, IntervalEnd: t0.Add(time.Hour)},
		{UnitID: "A", Duration: 1, EventFlag: Censored, IntervalStart: t0.Add(time.Hour), IntervalEnd: t0.Add(2 * time.Hour)},
	}
	require.NoError(t, VerifyCensoring(ok))

	bad := append(ok, Record{UnitID: "A", Duration: 1, EventFlag: Failed, IntervalStart: t0.Add(2 * time.Hour)})
	assert.True(t, core.IsIntegrityError(VerifyCensoring(bad)))

	zero := []Record{{UnitID: "A", Duration: 0}}
	assert.True(t, core.IsIntegrityError(VerifyCensoring(zero)))
}
