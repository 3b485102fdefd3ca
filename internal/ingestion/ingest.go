package ingestion

import (
	"fmt"
	"time"

	"utilpanel/domain/core"
	"utilpanel/domain/equipment"
	"utilpanel/domain/period"
	"utilpanel/domain/rawlog"
	"utilpanel/internal/logging"
)

// Column aliases. The first name is canonical; the rest are accepted from legacy logs.
var (
	unitColumns         = []string{"unit_id", "unit", "tool", "machine"}
	timestampColumns    = []string{"timestamp", "period", "date", "month"}
	outputColumns       = []string{"output_count", "output", "production_count", "loaves_baked", "wafer_count"}
	proxyColumns        = []string{"proxy_value", "proxy", "material_consumed_kg", "energy_kwh"}
	installationColumns = []string{"installation_date", "install_date"}
	failureColumns      = []string{"timestamp", "failure_timestamp", "error_date", "date"}
)

// Options control bucket alignment and the study window.
type Options struct {
	Granularity period.Granularity
	// WindowStart and WindowEnd pin the observation window. When nil, the window
	// spans the union extent of production and proxy timestamps.
	WindowStart *time.Time
	WindowEnd   *time.Time
}

// Result is the typed output of ingestion.
type Result struct {
	Dataset  *equipment.Dataset
	Warnings []core.Warning
}

type rawProduction struct {
	unit   core.UnitID
	at     time.Time
	output *float64
}

type rawProxy struct {
	unit  core.UnitID
	at    time.Time
	value float64
}

// Ingest validates the four raw logs and aligns them to period buckets.
// Any malformed required field aborts with a SchemaError; inputs are not mutated.
func Ingest(logs rawlog.Logs, opts Options, log *logging.Logger) (*Result, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := opts.Granularity.Validate(); err != nil {
		return nil, core.NewSchemaError("options", 0, "granularity", err.Error())
	}

	production, err := parseProduction(logs.Production)
	if err != nil {
		return nil, err
	}
	proxy, err := parseProxy(logs.Proxy)
	if err != nil {
		return nil, err
	}
	units, err := parseInstallations(logs.Installation)
	if err != nil {
		return nil, err
	}
	failures, err := parseFailures(logs.Failures)
	if err != nil {
		return nil, err
	}

	window, err := resolveWindow(opts, production, proxy)
	if err != nil {
		return nil, err
	}

	g := opts.Granularity
	prodBuckets, warnings := aggregateProduction(g, window, production)
	proxyBuckets := aggregateProxy(g, window, proxy)

	ds := equipment.NewDataset(window, units, prodBuckets, proxyBuckets, failures)

	if len(warnings) > 0 {
		log.Warn("%d production buckets mixed observed and missing rows; observed rows discarded", len(warnings))
	}
	for _, id := range ds.UnitIDs() {
		s, _ := ds.Series(id)
		if !s.Registered() {
			warnings = append(warnings, core.Warning{
				Kind:    core.WarnUnregisteredUnit,
				UnitID:  id,
				Message: "unit has records but no installation registry entry",
			})
			log.Warn("unit %s missing from installation registry; treatment fields will be null", id)
		}
	}

	log.Info("ingested %d units, %d production buckets, %d proxy buckets, %d failures over %s",
		len(ds.UnitIDs()), len(prodBuckets), len(proxyBuckets), len(failures), window)

	return &Result{Dataset: ds, Warnings: warnings}, nil
}

func requireColumn(t *rawlog.Table, source rawlog.Source, candidates []string) (string, error) {
	col, ok := t.Column(candidates...)
	if !ok {
		return "", core.NewSchemaError(string(source), 0, candidates[0], "required column missing")
	}
	return col, nil
}

func parseUnit(source rawlog.Source, row int, raw string) (core.UnitID, error) {
	id, err := core.ParseUnitID(raw)
	if err != nil {
		return "", core.NewSchemaError(string(source), row, unitColumns[0], err.Error())
	}
	return id, nil
}

func parseRequiredTime(source rawlog.Source, row int, field, raw string) (time.Time, error) {
	t, ok := parseTimestamp(raw)
	if !ok {
		return time.Time{}, core.NewSchemaError(string(source), row, field, fmt.Sprintf("unparsable timestamp %q", raw))
	}
	return t, nil
}

func parseProduction(t *rawlog.Table) ([]rawProduction, error) {
	if t == nil {
		return nil, nil
	}
	src := rawlog.SourceProduction
	unitCol, err := requireColumn(t, src, unitColumns)
	if err != nil {
		return nil, err
	}
	tsCol, err := requireColumn(t, src, timestampColumns)
	if err != nil {
		return nil, err
	}
	outCol, err := requireColumn(t, src, outputColumns)
	if err != nil {
		return nil, err
	}

	out := make([]rawProduction, 0, len(t.Rows))
	for i, row := range t.Rows {
		n := i + 1
		unit, err := parseUnit(src, n, row[unitCol])
		if err != nil {
			return nil, err
		}
		at, err := parseRequiredTime(src, n, tsCol, row[tsCol])
		if err != nil {
			return nil, err
		}
		rec := rawProduction{unit: unit, at: at}
		if !isMissing(row[outCol]) {
			v, ok := parseNumber(row[outCol])
			if !ok {
				return nil, core.NewSchemaError(string(src), n, outCol, fmt.Sprintf("unparsable count %q", row[outCol]))
			}
			if v < 0 {
				return nil, core.NewSchemaError(string(src), n, outCol, fmt.Sprintf("negative count %g", v))
			}
			rec.output = equipment.Float(v)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseProxy(t *rawlog.Table) ([]rawProxy, error) {
	if t == nil {
		return nil, nil
	}
	src := rawlog.SourceProxy
	unitCol, err := requireColumn(t, src, unitColumns)
	if err != nil {
		return nil, err
	}
	tsCol, err := requireColumn(t, src, timestampColumns)
	if err != nil {
		return nil, err
	}
	valCol, err := requireColumn(t, src, proxyColumns)
	if err != nil {
		return nil, err
	}

	out := make([]rawProxy, 0, len(t.Rows))
	for i, row := range t.Rows {
		n := i + 1
		unit, err := parseUnit(src, n, row[unitCol])
		if err != nil {
			return nil, err
		}
		at, err := parseRequiredTime(src, n, tsCol, row[tsCol])
		if err != nil {
			return nil, err
		}
		if isMissing(row[valCol]) {
			// an absent proxy reading is simply no proxy observation
			continue
		}
		v, ok := parseNumber(row[valCol])
		if !ok {
			return nil, core.NewSchemaError(string(src), n, valCol, fmt.Sprintf("unparsable proxy value %q", row[valCol]))
		}
		if v < 0 {
			return nil, core.NewSchemaError(string(src), n, valCol, fmt.Sprintf("negative proxy value %g", v))
		}
		out = append(out, rawProxy{unit: unit, at: at, value: v})
	}
	return out, nil
}

func parseInstallations(t *rawlog.Table) ([]equipment.Unit, error) {
	if t == nil {
		return nil, nil
	}
	src := rawlog.SourceInstallation
	unitCol, err := requireColumn(t, src, unitColumns)
	if err != nil {
		return nil, err
	}
	dateCol, err := requireColumn(t, src, installationColumns)
	if err != nil {
		return nil, err
	}

	seen := make(map[core.UnitID]int)
	var units []equipment.Unit
	for i, row := range t.Rows {
		n := i + 1
		unit, err := parseUnit(src, n, row[unitCol])
		if err != nil {
			return nil, err
		}
		u := equipment.Unit{ID: unit}
		if !isMissing(row[dateCol]) {
			at, err := parseRequiredTime(src, n, dateCol, row[dateCol])
			if err != nil {
				return nil, err
			}
			u.InstallationDate = &at
		}

		if idx, dup := seen[unit]; dup {
			if !sameDate(units[idx].InstallationDate, u.InstallationDate) {
				return nil, core.NewSchemaError(string(src), n, dateCol, fmt.Sprintf("conflicting installation dates for unit %s", unit))
			}
			continue
		}
		seen[unit] = len(units)
		units = append(units, u)
	}
	return units, nil
}

func parseFailures(t *rawlog.Table) ([]equipment.FailureEvent, error) {
	if t == nil {
		return nil, nil
	}
	src := rawlog.SourceFailures
	unitCol, err := requireColumn(t, src, unitColumns)
	if err != nil {
		return nil, err
	}
	tsCol, err := requireColumn(t, src, failureColumns)
	if err != nil {
		return nil, err
	}

	out := make([]equipment.FailureEvent, 0, len(t.Rows))
	for i, row := range t.Rows {
		n := i + 1
		unit, err := parseUnit(src, n, row[unitCol])
		if err != nil {
			return nil, err
		}
		at, err := parseRequiredTime(src, n, tsCol, row[tsCol])
		if err != nil {
			return nil, err
		}
		out = append(out, equipment.FailureEvent{UnitID: unit, Timestamp: at})
	}
	return out, nil
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func resolveWindow(opts Options, production []rawProduction, proxy []rawProxy) (period.Window, error) {
	var start, end time.Time
	found := false
	extend := func(t time.Time) {
		if !found || t.Before(start) {
			start = t
		}
		if !found || t.After(end) {
			end = t
		}
		found = true
	}
	for _, r := range production {
		extend(r.at)
	}
	for _, r := range proxy {
		extend(r.at)
	}

	if opts.WindowStart != nil {
		start = opts.WindowStart.UTC()
	}
	if opts.WindowEnd != nil {
		end = opts.WindowEnd.UTC()
	}
	if !found && (opts.WindowStart == nil || opts.WindowEnd == nil) {
		return period.Window{}, core.NewSchemaError("window", 0, "timestamp", "no production or proxy rows to derive the observation window from")
	}

	w, err := period.NewWindow(opts.Granularity, start, end)
	if err != nil {
		return period.Window{}, core.NewSchemaError("window", 0, "window_end", err.Error())
	}
	return w, nil
}
