// Package equipment holds the typed, period-aligned records every pipeline stage reads.
// Values here are built once by ingestion and never mutated afterwards.
package equipment

import (
	"time"

	"utilpanel/domain/core"
	"utilpanel/domain/period"
)

// Unit is a registered machine. A nil InstallationDate marks a never-treated control.
type Unit struct {
	ID               core.UnitID `json:"unit_id"`
	InstallationDate *time.Time  `json:"installation_date,omitempty"`
}

// Treated reports whether the unit ever receives the upgrade.
func (u Unit) Treated() bool { return u.InstallationDate != nil }

// ProductionRecord is the output of one unit in one bucket. Output is nil when the
// bucket carried a missing marker.
type ProductionRecord struct {
	UnitID core.UnitID   `json:"unit_id"`
	Period period.Period `json:"period"`
	Output *float64      `json:"output_count"`
}

// Missing reports whether the bucket's output is unknown.
func (r ProductionRecord) Missing() bool { return r.Output == nil }

// ProxyRecord is the summed proxy signal of one unit in one bucket.
type ProxyRecord struct {
	UnitID core.UnitID   `json:"unit_id"`
	Period period.Period `json:"period"`
	Value  float64       `json:"proxy_value"`
}

// FailureEvent is a single observed failure.
type FailureEvent struct {
	UnitID    core.UnitID `json:"unit_id"`
	Timestamp time.Time   `json:"timestamp"`
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional integer fields.
func Int(v int) *int { return &v }
