package equipment

import (
	"sort"

	"utilpanel/domain/core"
	"utilpanel/domain/period"
)

// UnitSeries is everything known about one unit, sorted by period (failures by time).
type UnitSeries struct {
	UnitID     core.UnitID
	Unit       *Unit // nil when the unit is absent from the installation registry
	Production []ProductionRecord
	Proxy      []ProxyRecord
	Failures   []FailureEvent
}

// Registered reports whether the unit appears in the installation registry.
func (s UnitSeries) Registered() bool { return s.Unit != nil }

// HasActivity reports whether any production or proxy data exists for the unit.
func (s UnitSeries) HasActivity() bool {
	return len(s.Production) > 0 || len(s.Proxy) > 0
}

// Dataset is the immutable result of ingestion for one run.
type Dataset struct {
	Granularity period.Granularity
	Window      period.Window
	units       []core.UnitID
	series      map[core.UnitID]*UnitSeries
}

// NewDataset groups records per unit and sorts them. Slices are copied so the
// caller's inputs are never aliased.
func NewDataset(
	window period.Window,
	units []Unit,
	production []ProductionRecord,
	proxy []ProxyRecord,
	failures []FailureEvent,
) *Dataset {
	ds := &Dataset{
		Granularity: window.Granularity,
		Window:      window,
		series:      make(map[core.UnitID]*UnitSeries),
	}

	get := func(id core.UnitID) *UnitSeries {
		s, ok := ds.series[id]
		if !ok {
			s = &UnitSeries{UnitID: id}
			ds.series[id] = s
			ds.units = append(ds.units, id)
		}
		return s
	}

	for i := range units {
		u := units[i]
		get(u.ID).Unit = &u
	}
	for _, r := range production {
		s := get(r.UnitID)
		s.Production = append(s.Production, r)
	}
	for _, r := range proxy {
		s := get(r.UnitID)
		s.Proxy = append(s.Proxy, r)
	}
	for _, f := range failures {
		s := get(f.UnitID)
		s.Failures = append(s.Failures, f)
	}

	sort.Slice(ds.units, func(i, j int) bool { return ds.units[i] < ds.units[j] })
	for _, s := range ds.series {
		sort.SliceStable(s.Production, func(i, j int) bool { return s.Production[i].Period < s.Production[j].Period })
		sort.SliceStable(s.Proxy, func(i, j int) bool { return s.Proxy[i].Period < s.Proxy[j].Period })
		sort.SliceStable(s.Failures, func(i, j int) bool { return s.Failures[i].Timestamp.Before(s.Failures[j].Timestamp) })
	}
	return ds
}

// UnitIDs returns every known unit in sorted order.
func (d *Dataset) UnitIDs() []core.UnitID {
	out := make([]core.UnitID, len(d.units))
	copy(out, d.units)
	return out
}

// Series returns the records for one unit.
func (d *Dataset) Series(id core.UnitID) (UnitSeries, bool) {
	s, ok := d.series[id]
	if !ok {
		return UnitSeries{}, false
	}
	return *s, true
}

// Registry returns the registered units in sorted order.
func (d *Dataset) Registry() []Unit {
	var out []Unit
	for _, id := range d.units {
		if u := d.series[id].Unit; u != nil {
			out = append(out, *u)
		}
	}
	return out
}

// Failures returns every failure event, grouped by unit in sorted order.
func (d *Dataset) Failures() []FailureEvent {
	var out []FailureEvent
	for _, id := range d.units {
		out = append(out, d.series[id].Failures...)
	}
	return out
}

// WithProduction returns a copy of d whose production records are replaced.
// Used to re-run imputation over restored observations.
func (d *Dataset) WithProduction(production []ProductionRecord) *Dataset {
	var units []Unit
	var proxy []ProxyRecord
	var failures []FailureEvent
	for _, id := range d.units {
		s := d.series[id]
		if s.Unit != nil {
			units = append(units, *s.Unit)
		}
		proxy = append(proxy, s.Proxy...)
		failures = append(failures, s.Failures...)
	}
	return NewDataset(d.Window, units, production, proxy, failures)
}
