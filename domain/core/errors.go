package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Fatal: malformed or missing raw fields, negative counts
	ErrSchema = errors.New("schema error")

	// Fatal for imputation: no co-observed proxy/output periods anywhere
	ErrInsufficientCalibrationData = errors.New("insufficient calibration data")

	// Fatal: upstream contract violations detected mid-pipeline
	ErrIntegrity      = errors.New("data integrity violation")
	ErrNonMonotonic   = fmt.Errorf("%w: cumulative output decreased", ErrIntegrity)
	ErrTreatmentFlip  = fmt.Errorf("%w: treated unit observed as untreated", ErrIntegrity)
	ErrPostRegression = fmt.Errorf("%w: post indicator reverted", ErrIntegrity)
	ErrDuplicateRow   = fmt.Errorf("%w: duplicate unit-period row", ErrIntegrity)

	// Non-fatal: surfaced as warnings and explicit missing markers
	ErrUnobservablePeriod = errors.New("unobservable period")
	ErrOutOfWindowEvent   = errors.New("failure event outside observation window")

	ErrNotFound = errors.New("resource not found")
)

// SchemaError describes one malformed raw field.
type SchemaError struct {
	Source string // production, proxy, installation, failures
	Row    int    // 1-based data row, 0 when the problem is table-level
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("schema error in %s row %d field %q: %s", e.Source, e.Row, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema error in %s field %q: %s", e.Source, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// NewSchemaError builds a row-level schema error.
func NewSchemaError(source string, row int, field, reason string) error {
	return &SchemaError{Source: source, Row: row, Field: field, Reason: reason}
}

func NewIntegrityError(base error, unit UnitID, detail string) error {
	return fmt.Errorf("%w: unit %s: %s", base, unit, detail)
}

func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

// Error checking helpers
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrSchema)
}

func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
