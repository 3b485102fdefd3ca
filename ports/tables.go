package ports

import (
	"context"

	"utilpanel/domain/rawlog"
	"utilpanel/internal/pipeline"
)

// TableReader loads one raw log from a file or other tabular source.
type TableReader interface {
	ReadTable(ctx context.Context, path string) (*rawlog.Table, error)
}

// ResultWriter exports the output tables of a run.
type ResultWriter interface {
	WriteResult(ctx context.Context, res *pipeline.Result) error
}
