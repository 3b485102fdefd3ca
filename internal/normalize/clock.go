package normalize

import (
	"time"

	"utilpanel/domain/core"
	"utilpanel/domain/period"
)

// Clock maps instants to effective output for one unit. Within a bucket, output
// is assumed to accrue linearly in calendar time.
type Clock struct {
	window period.Window
	before map[period.Period]float64 // cumulative output at bucket start
	output map[period.Period]float64
	total  float64
	first  *period.Period // first observable bucket
}

// NewClock builds a clock from one unit's normalized rows.
func NewClock(w period.Window, rows []Row) *Clock {
	c := &Clock{
		window: w,
		before: make(map[period.Period]float64, len(rows)),
		output: make(map[period.Period]float64, len(rows)),
	}
	for _, r := range rows {
		out := 0.0
		if r.Observable {
			out = *r.OutputFinal
			if c.first == nil {
				p := r.Period
				c.first = &p
			}
		}
		c.before[r.Period] = r.CumulativeOutput - out
		c.output[r.Period] = out
		if r.CumulativeOutput > c.total {
			c.total = r.CumulativeOutput
		}
	}
	return c
}

// ClocksByUnit splits a normalized panel into per-unit clocks.
func ClocksByUnit(w period.Window, rows []Row) map[core.UnitID]*Clock {
	grouped := make(map[core.UnitID][]Row)
	for _, r := range rows {
		grouped[r.UnitID] = append(grouped[r.UnitID], r)
	}
	out := make(map[core.UnitID]*Clock, len(grouped))
	for id, rs := range grouped {
		out[id] = NewClock(w, rs)
	}
	return out
}

// At returns effective output accumulated from the window start up to t.
func (c *Clock) At(t time.Time) float64 {
	if !t.After(c.window.Start()) {
		return 0
	}
	if !t.Before(c.window.Cutoff()) {
		return c.total
	}
	p := c.window.Granularity.Of(t)
	return c.before[p] + c.output[p]*c.window.Granularity.Fraction(p, t)
}

// Total is the output accumulated over the whole window.
func (c *Clock) Total() float64 { return c.total }

// FirstObservable returns the start of the first bucket with known output.
func (c *Clock) FirstObservable() (time.Time, bool) {
	if c.first == nil {
		return time.Time{}, false
	}
	return c.window.Granularity.Start(*c.first), true
}
