package period

import (
	"fmt"
	"strings"
	"time"
)

// Granularity defines the calendar bucket every record is aligned to.
// One granularity applies to a whole run.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// epochMonday anchors week indexes; 1970-01-05 was a Monday.
var epochMonday = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)

// ParseGranularity accepts the names above plus common pandas-style aliases.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day", "daily", "d":
		return Day, nil
	case "week", "weekly", "w":
		return Week, nil
	case "month", "monthly", "m", "ms":
		return Month, nil
	}
	return "", fmt.Errorf("unknown period granularity %q", s)
}

// Validate reports whether g is a supported granularity.
func (g Granularity) Validate() error {
	switch g {
	case Day, Week, Month:
		return nil
	}
	return fmt.Errorf("unknown period granularity %q", string(g))
}

// Truncate rounds t down to the start of its bucket (UTC).
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Week:
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday = 7
		}
		monday := t.AddDate(0, 0, -(weekday - 1))
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// Of returns the bucket containing t.
func (g Granularity) Of(t time.Time) Period {
	start := g.Truncate(t)
	switch g {
	case Day:
		return Period(daysSinceEpoch(start))
	case Week:
		return Period(floorDiv(daysSinceEpoch(start)-daysSinceEpoch(epochMonday), 7))
	case Month:
		return Period(start.Year()*12 + int(start.Month()) - 1)
	default:
		return 0
	}
}

// Start returns the first instant of bucket p.
func (g Granularity) Start(p Period) time.Time {
	switch g {
	case Day:
		return time.Unix(int64(p)*86400, 0).UTC()
	case Week:
		return epochMonday.AddDate(0, 0, int(p)*7)
	case Month:
		year := floorDiv(int(p), 12)
		month := int(p) - year*12
		return time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// End returns the first instant after bucket p.
func (g Granularity) End(p Period) time.Time {
	return g.Start(p + 1)
}

// Fraction is the elapsed share of bucket p at instant t, clamped to [0, 1].
func (g Granularity) Fraction(p Period, t time.Time) float64 {
	start, end := g.Start(p), g.End(p)
	if !t.After(start) {
		return 0
	}
	if !t.Before(end) {
		return 1
	}
	return float64(t.Sub(start)) / float64(end.Sub(start))
}

// Label formats p for tables and logs.
func (g Granularity) Label(p Period) string {
	start := g.Start(p)
	switch g {
	case Month:
		return start.Format("2006-01")
	default:
		return start.Format("2006-01-02")
	}
}

// Period is a signed bucket index under a run's granularity. Consecutive buckets
// differ by exactly one, so event time is a plain subtraction.
type Period int

// Sub returns the signed number of buckets from o to p.
func (p Period) Sub(o Period) int { return int(p) - int(o) }

func daysSinceEpoch(t time.Time) int {
	return int(floorDiv64(t.Unix(), 86400))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorDiv64(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
