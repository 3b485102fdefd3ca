// Package survival builds right-censored inter-failure intervals measured on
// the effective-output clock.
package survival

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"utilpanel/domain/core"
	"utilpanel/domain/equipment"
	"utilpanel/domain/period"
	"utilpanel/internal/logging"
	"utilpanel/internal/normalize"
)

// Event flags.
const (
	Censored = 0
	Failed   = 1
)

// Record is one inter-failure interval of a unit.
type Record struct {
	UnitID        core.UnitID `json:"unit_id" db:"unit_id"`
	Interval      int         `json:"interval" db:"interval_index"`
	IntervalStart time.Time   `json:"interval_start" db:"interval_start"`
	IntervalEnd   time.Time   `json:"interval_end" db:"interval_end"`
	// Duration is effective output accumulated over the interval; always > 0.
	Duration  float64 `json:"duration" db:"duration"`
	EventFlag int     `json:"event_flag" db:"event_flag"`

	// CalendarHours is the naive wall-clock length, kept for comparison.
	CalendarHours float64 `json:"calendar_hours" db:"calendar_hours"`
	// NormalizedHours rescales Duration by the fleet's mean hourly output.
	NormalizedHours *float64 `json:"normalized_hours" db:"normalized_hours"`
	// Treated and Post are nil for units missing from the installation log.
	Treated *bool `json:"treated" db:"treated"`
	Post    *bool `json:"post" db:"post"`
}

// Result holds records ordered by unit then interval, plus non-fatal warnings.
type Result struct {
	Records  []Record
	Warnings []core.Warning
	Excluded int // zero-duration intervals dropped
}

// Builder runs the per-unit interval state machine.
type Builder struct {
	workers int
	log     *logging.Logger
}

func NewBuilder(workers int, log *logging.Logger) *Builder {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Builder{workers: workers, log: log}
}

type unitOutcome struct {
	records  []Record
	warnings []core.Warning
	excluded int
}

// Build walks every unit's failures in order against its effective clock.
func (b *Builder) Build(ctx context.Context, ds *equipment.Dataset, rows []normalize.Row) (*Result, error) {
	w := ds.Window
	clocks := normalize.ClocksByUnit(w, rows)
	throughput := HourlyThroughput(w.Granularity, rows)

	var ids []core.UnitID
	for _, id := range ds.UnitIDs() {
		s, _ := ds.Series(id)
		if _, ok := clocks[id]; ok || len(s.Failures) > 0 {
			ids = append(ids, id)
		}
	}

	outcomes := make([]unitOutcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, _ := ds.Series(id)
			outcomes[i] = buildUnit(w, s, clocks[id], throughput)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, o := range outcomes {
		res.Records = append(res.Records, o.records...)
		res.Warnings = append(res.Warnings, o.warnings...)
		res.Excluded += o.excluded
	}
	if err := VerifyCensoring(res.Records); err != nil {
		return nil, err
	}
	if res.Excluded > 0 {
		b.log.Debug("excluded %d zero-duration intervals", res.Excluded)
	}
	b.log.Info("built %d survival records for %d units", len(res.Records), len(ids))
	return res, nil
}

func buildUnit(w period.Window, s equipment.UnitSeries, clock *normalize.Clock, throughput float64) unitOutcome {
	var out unitOutcome

	start := w.Start()
	if clock != nil {
		if first, ok := clock.FirstObservable(); ok && first.After(start) {
			start = first
		}
	}

	registered := s.Unit != nil
	var installed *time.Time
	if registered {
		installed = s.Unit.InstallationDate
	}

	emit := func(end time.Time, flag int) {
		duration := 0.0
		if clock != nil {
			duration = clock.At(end) - clock.At(start)
		}
		if duration <= 0 {
			out.excluded++
			out.warnings = append(out.warnings, core.Warning{
				Kind:    core.WarnZeroDuration,
				UnitID:  s.UnitID,
				Period:  w.Granularity.Label(w.Granularity.Of(end)),
				Message: fmt.Sprintf("interval %s..%s accumulated no output", start.Format(time.RFC3339), end.Format(time.RFC3339)),
			})
			return
		}
		rec := Record{
			UnitID:        s.UnitID,
			Interval:      len(out.records),
			IntervalStart: start,
			IntervalEnd:   end,
			Duration:      duration,
			EventFlag:     flag,
			CalendarHours: end.Sub(start).Hours(),
		}
		if registered {
			treated := installed != nil
			post := treated && !end.Before(*installed)
			rec.Treated, rec.Post = &treated, &post
		}
		if throughput > 0 {
			rec.NormalizedHours = equipment.Float(duration / throughput)
		}
		out.records = append(out.records, rec)
	}

	failures := append([]equipment.FailureEvent(nil), s.Failures...)
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Timestamp.Before(failures[j].Timestamp) })

	for _, f := range failures {
		if !w.ContainsTime(f.Timestamp) {
			out.warnings = append(out.warnings, core.Warning{
				Kind:    core.WarnOutOfWindowEvent,
				UnitID:  s.UnitID,
				Message: fmt.Sprintf("failure at %s outside %s", f.Timestamp.Format(time.RFC3339), w),
			})
			continue
		}
		emit(f.Timestamp, Failed)
		if f.Timestamp.After(start) {
			start = f.Timestamp
		}
	}

	// A unit with no output data at all never opened an interval to censor.
	if clock != nil {
		emit(w.Cutoff(), Censored)
	}
	return out
}

// HourlyThroughput is total observable output over total observable calendar
// hours across the fleet.
func HourlyThroughput(g period.Granularity, rows []normalize.Row) float64 {
	var output, hours float64
	for _, r := range rows {
		if !r.Observable {
			continue
		}
		output += *r.OutputFinal
		hours += g.End(r.Period).Sub(g.Start(r.Period)).Hours()
	}
	if hours == 0 {
		return 0
	}
	return output / hours
}

// VerifyCensoring checks each unit has at most one censored record, that it is
// the last one, and that every duration is positive.
func VerifyCensoring(records []Record) error {
	censored := make(map[core.UnitID]bool)
	for i, r := range records {
		if r.Duration <= 0 {
			return core.NewIntegrityError(core.ErrIntegrity, r.UnitID, fmt.Sprintf("interval %d has duration %g", r.Interval, r.Duration))
		}
		if censored[r.UnitID] {
			return core.NewIntegrityError(core.ErrIntegrity, r.UnitID, "record follows the censored interval")
		}
		if r.EventFlag == Censored {
			censored[r.UnitID] = true
		}
		if i > 0 && records[i-1].UnitID == r.UnitID && r.IntervalStart.Before(records[i-1].IntervalEnd) {
			return core.NewIntegrityError(core.ErrIntegrity, r.UnitID, "overlapping intervals")
		}
	}
	return nil
}
