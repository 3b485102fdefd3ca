// Package excel reads raw logs from xlsx or csv files and exports run
// outputs in the same formats.
package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"utilpanel/domain/rawlog"
	"utilpanel/internal/logging"
	"utilpanel/ports"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	log *logging.Logger
}

var _ ports.TableReader = (*DataReader)(nil)

// NewDataReader creates a reader that dispatches on file extension
func NewDataReader(log *logging.Logger) *DataReader {
	if log == nil {
		log = logging.Nop()
	}
	return &DataReader{log: log}
}

// ReadTable reads the first sheet of an xlsx workbook, or a csv file, into a
// raw table. The first row is the header.
func (r *DataReader) ReadTable(ctx context.Context, path string) (*rawlog.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s", path)
	}

	var (
		rows [][]string
		err  error
	)
	start := time.Now()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q: %s", ext, path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s has no header row", path)
	}

	t := rawlog.NewTable(rows[0], rows[1:]...)
	r.log.Debug("read %s in %.2fms (%d columns, %d rows)", path,
		float64(time.Since(start).Nanoseconds())/1e6, len(t.Headers), len(t.Rows))
	return t, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// readXLSX reads raw cell values so date cells arrive as serial numbers that
// can be converted exactly instead of through a display format.
func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return rows, nil
	}

	dateCols := make(map[int]bool)
	for i, h := range rows[0] {
		if isDateHeader(h) {
			dateCols[i] = true
		}
	}
	for _, row := range rows[1:] {
		for j, cell := range row {
			if dateCols[j] {
				row[j] = serialToTimestamp(cell)
			}
		}
	}
	return rows, nil
}

func isDateHeader(h string) bool {
	h = strings.ToLower(strings.TrimSpace(h))
	for _, hint := range []string{"date", "timestamp", "time", "period", "month"} {
		if strings.Contains(h, hint) {
			return true
		}
	}
	return false
}

// serialToTimestamp converts an Excel serial date; other text passes through.
func serialToTimestamp(cell string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || v <= 0 {
		return cell
	}
	t, err := excelize.ExcelDateToTime(v, false)
	if err != nil {
		return cell
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// LogPaths locates the four raw logs. Installation may be empty, in which case
// every unit is unregistered.
type LogPaths struct {
	Production   string
	Proxy        string
	Installation string
	Failures     string
}

// ReadLogs loads every configured log through reader.
func ReadLogs(ctx context.Context, reader ports.TableReader, paths LogPaths) (rawlog.Logs, error) {
	var logs rawlog.Logs
	load := func(path string, dst **rawlog.Table, source rawlog.Source) error {
		if path == "" {
			return nil
		}
		t, err := reader.ReadTable(ctx, path)
		if err != nil {
			return fmt.Errorf("%s log: %w", source, err)
		}
		*dst = t
		return nil
	}
	if paths.Production == "" {
		return logs, fmt.Errorf("production log path is required")
	}
	if err := load(paths.Production, &logs.Production, rawlog.SourceProduction); err != nil {
		return logs, err
	}
	if err := load(paths.Proxy, &logs.Proxy, rawlog.SourceProxy); err != nil {
		return logs, err
	}
	if err := load(paths.Installation, &logs.Installation, rawlog.SourceInstallation); err != nil {
		return logs, err
	}
	if err := load(paths.Failures, &logs.Failures, rawlog.SourceFailures); err != nil {
		return logs, err
	}
	return logs, nil
}
