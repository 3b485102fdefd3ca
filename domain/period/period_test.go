package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthIndexIsContiguous(t *testing.T) {
	dec := Month.Of(time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC))
	jan := Month.Of(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, jan.Sub(dec))

	mar := Month.Of(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, -2, jan.Sub(mar))
}

func TestStartRoundTrip(t *testing.T) {
	ts := time.Date(2024, 2, 29, 13, 45, 0, 0, time.UTC)
	for _, g := range []Granularity{Day, Week, Month} {
		p := g.Of(ts)
		assert.Equal(t, g.Truncate(ts), g.Start(p), "granularity %s", g)
		assert.Equal(t, p, g.Of(g.Start(p)), "granularity %s", g)
		assert.Equal(t, p+1, g.Of(g.End(p)), "granularity %s", g)
	}
}

func TestWeekStartsMonday(t *testing.T) {
	sunday := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	start := Week.Start(Week.Of(sunday))
	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, 4, start.Day())
}

func TestPreEpochMonth(t *testing.T) {
	p := Month.Of(time.Date(1969, 11, 5, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(1969, 11, 1, 0, 0, 0, 0, time.UTC), Month.Start(p))
}

func TestFraction(t *testing.T) {
	p := Day.Of(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	assert.InDelta(t, 0.5, Day.Fraction(p, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)), 1e-12)
	assert.Equal(t, 0.0, Day.Fraction(p, time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1.0, Day.Fraction(p, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)))
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity(" Monthly ")
	require.NoError(t, err)
	assert.Equal(t, Month, g)

	_, err = ParseGranularity("fortnight")
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	w, err := NewWindow(Month, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 6, w.Len())
	assert.Len(t, w.Periods(), 6)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), w.Cutoff())
	assert.True(t, w.ContainsTime(time.Date(2024, 6, 30, 23, 59, 0, 0, time.UTC)))
	assert.False(t, w.ContainsTime(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.ContainsTime(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)))

	_, err = NewWindow(Month, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}
