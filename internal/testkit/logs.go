// Package testkit builds raw log fixtures for tests across packages.
package testkit

import (
	"utilpanel/domain/rawlog"
)

// LogsBuilder assembles small hand-written logs row by row.
type LogsBuilder struct {
	production   [][]string
	proxy        [][]string
	installation [][]string
	failures     [][]string
}

func NewLogsBuilder() *LogsBuilder {
	return &LogsBuilder{}
}

// Production adds a reading; an empty output is a missing reading.
func (b *LogsBuilder) Production(unit, timestamp, output string) *LogsBuilder {
	b.production = append(b.production, []string{unit, timestamp, output})
	return b
}

func (b *LogsBuilder) Proxy(unit, timestamp, value string) *LogsBuilder {
	b.proxy = append(b.proxy, []string{unit, timestamp, value})
	return b
}

// Install registers a unit; an empty date registers a control.
func (b *LogsBuilder) Install(unit, date string) *LogsBuilder {
	b.installation = append(b.installation, []string{unit, date})
	return b
}

func (b *LogsBuilder) Failure(unit, timestamp string) *LogsBuilder {
	b.failures = append(b.failures, []string{unit, timestamp})
	return b
}

func (b *LogsBuilder) Build() rawlog.Logs {
	return rawlog.Logs{
		Production:   rawlog.NewTable([]string{"unit_id", "timestamp", "output_count"}, b.production...),
		Proxy:        rawlog.NewTable([]string{"unit_id", "timestamp", "proxy_value"}, b.proxy...),
		Installation: rawlog.NewTable([]string{"unit_id", "installation_date"}, b.installation...),
		Failures:     rawlog.NewTable([]string{"unit_id", "timestamp"}, b.failures...),
	}
}
