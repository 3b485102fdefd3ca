package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utilpanel/domain/core"
	"utilpanel/domain/period"
	"utilpanel/internal/errors"
	"utilpanel/internal/panel"
	"utilpanel/internal/pipeline"
	"utilpanel/internal/testkit"
	"utilpanel/ports"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db, nil)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func runFleet(t *testing.T) *pipeline.Result {
	t.Helper()
	logs := testkit.NewLogsBuilder().
		Production("A", "2024-01-01", "100").
		Production("A", "2024-02-01", "").
		Proxy("A", "2024-01-01", "200").
		Proxy("A", "2024-02-01", "300").
		Production("B", "2024-01-01", "40").
		Production("B", "2024-02-01", "40").
		Production("U", "2024-02-01", "5").
		Install("A", "2024-02-01").
		Install("B", "").
		Failure("A", "2024-01-20").
		Build()
	res, err := pipeline.NewService(nil).Run(context.Background(), logs, pipeline.Options{Granularity: period.Month, Workers: 2})
	require.NoError(t, err)
	return res
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSaveRun_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	res := runFleet(t)
	require.NoError(t, s.SaveRun(ctx, res))

	m, err := s.GetRun(ctx, res.Manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Manifest.Fingerprint, m.Fingerprint)
	assert.Equal(t, res.Manifest.Calibrated, m.Calibrated)
	assert.True(t, res.Manifest.WindowStart.Equal(m.WindowStart))
	require.NotNil(t, m.GlobalCoefficient)
	assert.Equal(t, 2.0, *m.GlobalCoefficient)

	rows, err := s.GetPanel(ctx, m.RunID, ports.PanelFilters{})
	require.NoError(t, err)
	assert.Equal(t, panel.Flatten(res.Manifest.Granularity, res.Panel), rows)

	survival, err := s.GetSurvival(ctx, m.RunID)
	require.NoError(t, err)
	require.Len(t, survival, len(res.Survival))
	for i := range survival {
		assert.Equal(t, res.Survival[i].UnitID, survival[i].UnitID)
		assert.Equal(t, res.Survival[i].Duration, survival[i].Duration)
		assert.Equal(t, res.Survival[i].EventFlag, survival[i].EventFlag)
		assert.True(t, res.Survival[i].IntervalEnd.Equal(survival[i].IntervalEnd))
		assert.Equal(t, res.Survival[i].Treated, survival[i].Treated)
		assert.Equal(t, res.Survival[i].Post, survival[i].Post)
		if survival[i].UnitID == "U" {
			assert.Nil(t, survival[i].Treated, "unregistered unit keeps null treatment flags")
		}
	}

	coeffs, err := s.GetCoefficients(ctx, m.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Coefficients.Units(), coeffs)

	warnings, err := s.GetWarnings(ctx, m.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Warnings, warnings)
}

func TestGetPanel_FilterByUnit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	res := runFleet(t)
	require.NoError(t, s.SaveRun(ctx, res))

	unit := core.UnitID("U")
	rows, err := s.GetPanel(ctx, res.Manifest.RunID, ports.PanelFilters{UnitID: &unit})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].Treated, "unregistered unit has no treatment columns")

	rows, err = s.GetPanel(ctx, res.Manifest.RunID, ports.PanelFilters{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-02", rows[0].Period)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	first := runFleet(t)
	second := runFleet(t)
	require.NoError(t, s.SaveRun(ctx, first))
	require.NoError(t, s.SaveRun(ctx, second))

	runs, err := s.ListRuns(ctx, ports.RunFilters{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.Manifest.RunID, runs[0].RunID, "newest first")
	assert.Equal(t, first.Manifest.RunID, runs[1].RunID)

	uncalibrated := false
	runs, err = s.ListRuns(ctx, ports.RunFilters{Calibrated: &uncalibrated})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetRun(context.Background(), core.NewRunID())
	require.Error(t, err)
	assert.True(t, core.IsNotFoundError(err))

	_, err = s.GetSurvival(context.Background(), core.NewRunID())
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestCoefficientSet_Reload(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	res := runFleet(t)
	require.NoError(t, s.SaveRun(ctx, res))

	set, err := s.CoefficientSet(ctx, res.Manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Coefficients.Global(), set.Global())
	v, _ := set.For("A")
	assert.Equal(t, 2.0, v)
}
