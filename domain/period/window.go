package period

import (
	"fmt"
	"time"
)

// Window is the inclusive span of buckets under study. Cutoff is the end of Last.
type Window struct {
	Granularity Granularity `json:"granularity"`
	First       Period      `json:"first"`
	Last        Period      `json:"last"`
}

// NewWindow builds a window covering the buckets of start and end.
func NewWindow(g Granularity, start, end time.Time) (Window, error) {
	if err := g.Validate(); err != nil {
		return Window{}, err
	}
	if end.Before(start) {
		return Window{}, fmt.Errorf("window end %s precedes start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Window{Granularity: g, First: g.Of(start), Last: g.Of(end)}, nil
}

// Len is the number of buckets in the window.
func (w Window) Len() int { return w.Last.Sub(w.First) + 1 }

// Periods lists every bucket in order.
func (w Window) Periods() []Period {
	out := make([]Period, 0, w.Len())
	for p := w.First; p <= w.Last; p++ {
		out = append(out, p)
	}
	return out
}

// Contains reports whether bucket p lies in the window.
func (w Window) Contains(p Period) bool {
	return p >= w.First && p <= w.Last
}

// ContainsTime reports whether t falls in [Start, Cutoff).
func (w Window) ContainsTime(t time.Time) bool {
	return !t.Before(w.Start()) && t.Before(w.Cutoff())
}

// Start is the first instant of the window.
func (w Window) Start() time.Time { return w.Granularity.Start(w.First) }

// Cutoff is the observation cutoff: the first instant after the window.
func (w Window) Cutoff() time.Time { return w.Granularity.End(w.Last) }

func (w Window) String() string {
	return fmt.Sprintf("%s..%s (%s)", w.Granularity.Label(w.First), w.Granularity.Label(w.Last), w.Granularity)
}
