package excel

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"utilpanel/internal/logging"
	"utilpanel/internal/panel"
	"utilpanel/internal/pipeline"
	"utilpanel/ports"
)

// Format selects the export file type.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatXLSX, FormatCSV:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want xlsx or csv)", s)
	}
}

// Sheet is one exported table. Nil cells are written empty, which ingestion
// reads back as missing.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]interface{}
}

// ResultWriter exports a run into a directory: manifest.json plus either one
// workbook with a sheet per table or one csv file per table.
type ResultWriter struct {
	dir    string
	format Format
	log    *logging.Logger
}

var _ ports.ResultWriter = (*ResultWriter)(nil)

func NewResultWriter(dir string, format Format, log *logging.Logger) *ResultWriter {
	if log == nil {
		log = logging.Nop()
	}
	return &ResultWriter{dir: dir, format: format, log: log}
}

func (w *ResultWriter) WriteResult(ctx context.Context, res *pipeline.Result) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	manifest, err := json.MarshalIndent(res.Manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(w.dir, "manifest.json"), manifest, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	sheets := ResultSheets(res)
	switch w.format {
	case FormatCSV:
		for _, s := range sheets {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := writeCSV(filepath.Join(w.dir, s.Name+".csv"), s); err != nil {
				return err
			}
		}
	default:
		if err := writeXLSX(filepath.Join(w.dir, "utilpanel.xlsx"), sheets); err != nil {
			return err
		}
	}
	w.log.Info("wrote %d tables for run %s to %s (%s)", len(sheets), res.Manifest.RunID, w.dir, w.format)
	return nil
}

// ResultSheets lays out every output table of a run.
func ResultSheets(res *pipeline.Result) []Sheet {
	g := res.Manifest.Granularity

	panelSheet := Sheet{Name: "panel", Headers: panel.Columns}
	for _, r := range panel.Flatten(g, res.Panel) {
		panelSheet.Rows = append(panelSheet.Rows, []interface{}{
			string(r.UnitID), r.Period, r.PeriodStart,
			deref(r.OutputFinal), deref(r.WasImputed), deref(r.Observable), deref(r.CumulativeOutput),
			deref(r.FailureCount), deref(r.CumulativeFailures), deref(r.NormalizedDurationMetric),
			deref(r.RelativeUtilization), deref(r.NormCountRate), deref(r.LogOutputOffset),
			deref(r.Treated), deref(r.Post), deref(r.K), deref(r.KBinned),
		})
	}

	survivalSheet := Sheet{Name: "survival", Headers: []string{
		"unit_id", "interval", "interval_start", "interval_end", "duration", "event_flag",
		"calendar_hours", "normalized_hours", "treated", "post",
	}}
	for _, r := range res.Survival {
		survivalSheet.Rows = append(survivalSheet.Rows, []interface{}{
			string(r.UnitID), r.Interval, r.IntervalStart, r.IntervalEnd, r.Duration, r.EventFlag,
			r.CalendarHours, deref(r.NormalizedHours), deref(r.Treated), deref(r.Post),
		})
	}

	coeffSheet := Sheet{Name: "coefficients", Headers: []string{"unit_id", "value", "source", "observations"}}
	if res.Coefficients != nil {
		for _, c := range res.Coefficients.Units() {
			coeffSheet.Rows = append(coeffSheet.Rows, []interface{}{string(c.UnitID), c.Value, string(c.Source), c.Observations})
		}
		coeffSheet.Rows = append(coeffSheet.Rows, []interface{}{"*", res.Coefficients.Global(), "global", nil})
	}

	summarySheet := Sheet{Name: "units", Headers: []string{
		"unit_id", "total_output", "failures", "work_per_failure", "observable_periods", "imputed_periods", "median_output",
	}}
	for _, s := range res.Summaries {
		summarySheet.Rows = append(summarySheet.Rows, []interface{}{
			string(s.UnitID), s.TotalOutput, s.Failures, deref(s.WorkPerFailure),
			s.ObservablePeriods, s.ImputedPeriods, deref(s.MedianOutput),
		})
	}

	warnSheet := Sheet{Name: "warnings", Headers: []string{"kind", "unit_id", "period", "message"}}
	for _, w := range res.Warnings {
		warnSheet.Rows = append(warnSheet.Rows, []interface{}{string(w.Kind), string(w.UnitID), w.Period, w.Message})
	}

	profileSheet := Sheet{Name: "profile", Headers: []string{
		"column", "count", "missing", "mean", "std_dev", "min", "q25", "median", "q75", "max",
		"skewness", "kurtosis", "outliers", "normal_p",
	}}
	for _, p := range res.Profiles {
		profileSheet.Rows = append(profileSheet.Rows, []interface{}{
			p.Column, p.Count, p.Missing, p.Mean, p.StdDev, p.Min, p.Q25, p.Median, p.Q75, p.Max,
			p.Skewness, p.Kurtosis, p.Outliers, p.NormalP,
		})
	}

	return []Sheet{
		panelSheet, survivalSheet, coeffSheet, summarySheet, warnSheet, profileSheet,
		eventStudySheet(res), cohortSheet(res),
	}
}

// eventStudySheet is row-aligned with the panel sheet. Without an identified
// design it carries only the key columns.
func eventStudySheet(res *pipeline.Result) Sheet {
	g := res.Manifest.Granularity
	sheet := Sheet{Name: "event_study", Headers: []string{"unit_id", "period", "relative_time_k_binned"}}
	d := res.EventStudy
	if d != nil {
		sheet.Headers = append(sheet.Headers, d.Columns...)
	}
	for i, r := range res.Panel {
		var k interface{}
		if r.Treatment != nil {
			k = deref(r.Treatment.KBinned)
		}
		row := []interface{}{string(r.UnitID), g.Label(r.Period), k}
		if d != nil {
			for _, v := range d.Dummies[i] {
				row = append(row, int(v))
			}
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet
}

func cohortSheet(res *pipeline.Result) Sheet {
	g := res.Manifest.Granularity
	sheet := Sheet{Name: "cohorts", Headers: []string{"installation_period", "period_start", "units", "unit_ids"}}
	for _, c := range res.Cohorts {
		ids := make([]string, len(c.Units))
		for i, id := range c.Units {
			ids[i] = string(id)
		}
		sheet.Rows = append(sheet.Rows, []interface{}{
			g.Label(c.Installation), g.Start(c.Installation), len(c.Units), strings.Join(ids, ","),
		})
	}
	return sheet
}

func deref[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func writeXLSX(path string, sheets []Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.Name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return err
		}

		header := make([]interface{}, len(s.Headers))
		for j, h := range s.Headers {
			header[j] = h
		}
		if err := f.SetSheetRow(s.Name, "A1", &header); err != nil {
			return err
		}
		for r, row := range s.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			values := make([]interface{}, len(row))
			for j, v := range row {
				if t, ok := v.(time.Time); ok {
					values[j] = t.UTC().Format(time.RFC3339)
				} else {
					values[j] = v
				}
			}
			if err := f.SetSheetRow(s.Name, cell, &values); err != nil {
				return err
			}
		}
	}
	f.SetActiveSheet(0)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeCSV(path string, s Sheet) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(s.Headers); err != nil {
		return err
	}
	for _, row := range s.Rows {
		rec := make([]string, len(row))
		for j, v := range row {
			rec[j] = formatCell(v)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
