package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	UnitID ID
	RunID  ID
)

func (id UnitID) String() string { return ID(id).String() }
func (id RunID) String() string  { return ID(id).String() }

// NewRunID returns a fresh time-ordered run identifier.
func NewRunID() RunID { return RunID(NewID()) }

// ParseUnitID normalizes a raw unit identifier. Surrounding whitespace is dropped;
// case is preserved because source systems use case-sensitive tool names.
func ParseUnitID(s string) (UnitID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("unit ID cannot be empty")
	}
	return UnitID(s), nil
}

// ParseRunID parses a string into RunID
func ParseRunID(s string) (RunID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("run ID %q is not a UUID: %w", s, err)
	}
	return RunID(s), nil
}
