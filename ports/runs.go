package ports

import (
	"context"

	"utilpanel/domain/core"
	"utilpanel/internal/imputation"
	"utilpanel/internal/panel"
	"utilpanel/internal/pipeline"
	"utilpanel/internal/survival"
)

// RunFilters for querying runs
type RunFilters struct {
	Calibrated *bool
	Limit      int
	Offset     int
}

// PanelFilters narrows a panel query to one unit and a page.
type PanelFilters struct {
	UnitID *core.UnitID
	Limit  int
	Offset int
}

// RunReader provides read-only access to stored runs for the API
type RunReader interface {
	ListRuns(ctx context.Context, filters RunFilters) ([]pipeline.Manifest, error)
	GetRun(ctx context.Context, id core.RunID) (*pipeline.Manifest, error)
	GetPanel(ctx context.Context, id core.RunID, filters PanelFilters) ([]panel.FlatRow, error)
	GetSurvival(ctx context.Context, id core.RunID) ([]survival.Record, error)
	GetCoefficients(ctx context.Context, id core.RunID) ([]imputation.Coefficient, error)
	GetWarnings(ctx context.Context, id core.RunID) ([]core.Warning, error)
}

// RunRepository persists complete runs.
type RunRepository interface {
	RunReader
	SaveRun(ctx context.Context, res *pipeline.Result) error
}
