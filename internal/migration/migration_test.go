package migration

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestRun_Idempotent(t *testing.T) {
	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	r := NewRunner()
	ctx := context.Background()
	require.NoError(t, r.Run(ctx, db))
	require.NoError(t, r.Run(ctx, db))

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`))
	assert.Equal(t, []string{"panel_rows", "run_coefficients", "run_warnings", "runs", "survival_records"}, tables)
	assert.Equal(t, "1.0.0", r.Version())
}
