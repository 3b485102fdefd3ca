// Package rawlog describes untyped tabular input before ingestion.
package rawlog

import "strings"

// Source names the four logical input logs.
type Source string

const (
	SourceProduction   Source = "production"
	SourceProxy        Source = "proxy"
	SourceInstallation Source = "installation"
	SourceFailures     Source = "failures"
)

// RawRowData represents a row of raw data as string key-value pairs
type RawRowData map[string]string

// Table is one raw log as read from disk or built in memory.
type Table struct {
	Headers []string     `json:"headers"`
	Rows    []RawRowData `json:"rows"`
}

// NewTable builds a table from a header row and positional records.
func NewTable(headers []string, records ...[]string) *Table {
	t := &Table{Headers: make([]string, len(headers))}
	for i, h := range headers {
		t.Headers[i] = strings.TrimSpace(h)
	}
	for _, rec := range records {
		row := make(RawRowData, len(t.Headers))
		for j, cell := range rec {
			if j < len(t.Headers) {
				row[t.Headers[j]] = strings.TrimSpace(cell)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Column finds the first header matching one of the candidate names,
// ignoring case and surrounding whitespace.
func (t *Table) Column(candidates ...string) (string, bool) {
	if t == nil {
		return "", false
	}
	for _, c := range candidates {
		for _, h := range t.Headers {
			if strings.EqualFold(strings.TrimSpace(h), c) {
				return h, true
			}
		}
	}
	return "", false
}

// Logs bundles the four raw inputs of a run. Installation may be nil, in which
// case every unit is unregistered.
type Logs struct {
	Production   *Table
	Proxy        *Table
	Installation *Table
	Failures     *Table
}
