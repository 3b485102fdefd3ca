package core

import (
	"errors"
	"fmt"
)

// WarningKind classifies recoverable data conditions.
type WarningKind string

const (
	WarnUnobservablePeriod WarningKind = "unobservable_period"
	WarnOutOfWindowEvent   WarningKind = "out_of_window_event"
	WarnUnregisteredUnit   WarningKind = "unregistered_unit"
	WarnZeroDuration       WarningKind = "zero_duration_interval"
	WarnUnitFallback       WarningKind = "global_coefficient_fallback"
	WarnUncalibrated       WarningKind = "uncalibrated_run"
	WarnNoEventStudy       WarningKind = "event_study_unavailable"
	WarnMissingDiscarded   WarningKind = "observed_rows_discarded"
)

// Warning is a non-fatal condition that was handled by an explicit policy.
type Warning struct {
	Kind    WarningKind `json:"kind" db:"kind"`
	UnitID  UnitID      `json:"unit_id,omitempty" db:"unit_id"`
	Period  string      `json:"period,omitempty" db:"period"`
	Message string      `json:"message" db:"message"`
}

func (w Warning) String() string {
	if w.UnitID != "" {
		return fmt.Sprintf("%s [%s %s]: %s", w.Kind, w.UnitID, w.Period, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// Err maps warning kinds onto their sentinel, where one exists.
func (w Warning) Err() error {
	switch w.Kind {
	case WarnUnobservablePeriod:
		return fmt.Errorf("%w: %s", ErrUnobservablePeriod, w.String())
	case WarnOutOfWindowEvent:
		return fmt.Errorf("%w: %s", ErrOutOfWindowEvent, w.String())
	default:
		return errors.New(w.String())
	}
}

// CountWarnings tallies warnings by kind.
func CountWarnings(ws []Warning) map[WarningKind]int {
	out := make(map[WarningKind]int)
	for _, w := range ws {
		out[w.Kind]++
	}
	return out
}
