package pipeline

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"utilpanel/domain/core"
	"utilpanel/domain/period"
	"utilpanel/domain/rawlog"
	"utilpanel/internal/config"
	"utilpanel/internal/errors"
	"utilpanel/internal/imputation"
	"utilpanel/internal/normalize"
	"utilpanel/internal/survival"
	"utilpanel/internal/testkit"
	"utilpanel/internal/treatment"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func smallFleet() rawlog.Logs {
	return testkit.NewLogsBuilder().
		Production("A", "2024-01-01", "100").
		Production("A", "2024-02-01", "100").
		Production("A", "2024-03-01", "").
		Production("A", "2024-04-01", "100").
		Proxy("A", "2024-01-01", "200").
		Proxy("A", "2024-02-01", "200").
		Proxy("A", "2024-03-01", "200").
		Proxy("A", "2024-04-01", "200").
		Production("B", "2024-01-01", "50").
		Production("B", "2024-02-01", "50").
		Production("B", "2024-03-01", "50").
		Production("B", "2024-04-01", "50").
		Proxy("B", "2024-01-01", "150").
		Production("U", "2024-01-01", "10").
		Install("A", "2024-03-01").
		Install("B", "").
		Failure("A", "2024-02-15").
		Failure("B", "2024-06-01").
		Build()
}

func monthly() Options {
	return Options{Granularity: period.Month, Workers: 4}
}

// ============================================================================
// TEST: Run
// ============================================================================

func TestRun_EndToEnd(t *testing.T) {
	res, err := NewService(nil).Run(context.Background(), smallFleet(), monthly())
	require.NoError(t, err)

	m := res.Manifest
	assert.NotEmpty(t, m.RunID)
	assert.True(t, m.Calibrated)
	require.NotNil(t, m.GlobalCoefficient)
	assert.Equal(t, 2.5, *m.GlobalCoefficient, "median of unit medians 2 and 3")
	assert.Equal(t, 4, m.Periods)
	assert.Equal(t, 3, m.Units)
	assert.False(t, m.Fingerprint.IsEmpty())

	require.Len(t, res.Panel, 12)
	for _, r := range res.Panel {
		if r.UnitID == "U" {
			assert.Nil(t, r.Treatment, "unregistered unit has null treatment fields")
			assert.NotNil(t, r.Metrics)
		} else {
			assert.NotNil(t, r.Treatment)
			assert.NotNil(t, r.Metrics)
		}
	}

	// A's missing March is imputed from proxy 200 over coefficient 2.
	a3 := res.Panel[2]
	require.Equal(t, core.UnitID("A"), a3.UnitID)
	require.NotNil(t, a3.Metrics.OutputFinal)
	assert.Equal(t, 100.0, *a3.Metrics.OutputFinal)
	assert.True(t, a3.Metrics.WasImputed)
	assert.Equal(t, 0, *a3.Treatment.K)
	assert.True(t, a3.Treatment.Post)

	kinds := core.CountWarnings(res.Warnings)
	assert.Equal(t, 1, kinds[core.WarnUnregisteredUnit])
	assert.Equal(t, 1, kinds[core.WarnOutOfWindowEvent])
	assert.Equal(t, len(res.Warnings), m.Warnings)

	var failed, censored int
	for _, r := range res.Survival {
		if r.EventFlag == survival.Failed {
			failed++
		} else {
			censored++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 3, censored, "one open interval per unit with output")
	assert.Len(t, res.Summaries, 3)

	for _, r := range res.Survival {
		if r.UnitID == "U" {
			assert.Nil(t, r.Treated, "unregistered unit is not counted as a control")
			assert.Nil(t, r.Post)
		} else {
			assert.NotNil(t, r.Treated)
		}
	}
}

func TestRun_EventStudyAndCohorts(t *testing.T) {
	res, err := NewService(nil).Run(context.Background(), smallFleet(), monthly())
	require.NoError(t, err)

	require.NotNil(t, res.EventStudy)
	assert.Equal(t, EventStudyReference, res.EventStudy.Reference)
	assert.Equal(t, []string{"k_m2", "k_p0", "k_p1"}, res.EventStudy.Columns)
	require.Len(t, res.EventStudy.Dummies, len(res.Panel))
	assert.Equal(t, []float64{0, 1, 0}, res.EventStudy.Dummies[2], "A in its installation month")

	require.Len(t, res.Cohorts, 1)
	assert.Equal(t, []core.UnitID{"A"}, res.Cohorts[0].Units)
	assert.Equal(t, "2024-03", period.Month.Label(res.Cohorts[0].Installation))
}

func TestRun_EventStudyWithoutReferenceWarns(t *testing.T) {
	logs := testkit.NewLogsBuilder().
		Production("A", "2024-01-01", "100").
		Production("A", "2024-02-01", "100").
		Proxy("A", "2024-01-01", "200").
		Install("A", "2024-01-01").
		Build()

	res, err := NewService(nil).Run(context.Background(), logs, monthly())
	require.NoError(t, err)
	assert.Nil(t, res.EventStudy)
	assert.Equal(t, 1, core.CountWarnings(res.Warnings)[core.WarnNoEventStudy])
	require.Len(t, res.Cohorts, 1)
}

func TestRun_Deterministic(t *testing.T) {
	logs := testkit.NewFleetGenerator(testkit.DefaultFleetConfig()).GenerateLogs()

	opts := monthly()
	first, err := NewService(nil).Run(context.Background(), logs, opts)
	require.NoError(t, err)

	opts.Workers = 1
	second, err := NewService(nil).Run(context.Background(), logs, opts)
	require.NoError(t, err)

	assert.Equal(t, first.Manifest.Fingerprint, second.Manifest.Fingerprint, "worker count is not part of the fingerprint")
	assert.NotEqual(t, first.Manifest.RunID, second.Manifest.RunID)
	assert.Equal(t, first.Imputed, second.Imputed)
	assert.Equal(t, first.Normalized, second.Normalized)
	assert.Equal(t, first.Survival, second.Survival)
	assert.Equal(t, first.Panel, second.Panel)
	assert.Equal(t, first.Coefficients.Units(), second.Coefficients.Units())
}

func TestRun_GeneratedFleetInvariants(t *testing.T) {
	logs := testkit.NewFleetGenerator(testkit.DefaultFleetConfig()).GenerateLogs()
	res, err := NewService(nil).Run(context.Background(), logs, monthly())
	require.NoError(t, err)

	assert.NoError(t, normalize.VerifyMonotonic(res.Normalized))
	assert.NoError(t, treatment.VerifyStability(res.Treatment))
	assert.NoError(t, survival.VerifyCensoring(res.Survival))

	for _, r := range res.Imputed {
		if r.Observable {
			require.NotNil(t, r.OutputFinal)
		} else {
			assert.Nil(t, r.OutputFinal, "unobservable periods are never zero-filled")
		}
	}

	// Generated coefficients cluster around the configured 2.0.
	require.NotNil(t, res.Manifest.GlobalCoefficient)
	assert.InDelta(t, 2.0, *res.Manifest.GlobalCoefficient, 0.1)
}

func TestRun_InsufficientCalibration(t *testing.T) {
	logs := testkit.NewLogsBuilder().
		Production("A", "2024-01-01", "10").
		Proxy("A", "2024-02-01", "20").
		Install("A", "").
		Build()

	_, err := NewService(nil).Run(context.Background(), logs, monthly())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, core.ErrInsufficientCalibrationData))
	assert.Equal(t, errors.CodeInsufficientCalibration, errors.GetCode(err))

	opts := monthly()
	opts.AllowUncalibrated = true
	res, err := NewService(nil).Run(context.Background(), logs, opts)
	require.NoError(t, err)
	assert.False(t, res.Manifest.Calibrated)
	assert.Nil(t, res.Manifest.GlobalCoefficient)
	assert.Equal(t, 1, core.CountWarnings(res.Warnings)[core.WarnUncalibrated])

	feb := res.Imputed[1]
	assert.False(t, feb.Observable)
	assert.Equal(t, imputation.ReasonUncalibrated, feb.Reason)
}

func TestRun_ReusesCoefficients(t *testing.T) {
	set, err := imputation.NewCoefficientSet(map[core.UnitID]float64{"A": 4}, 4)
	require.NoError(t, err)

	opts := monthly()
	opts.Coefficients = set
	res, err := NewService(nil).Run(context.Background(), smallFleet(), opts)
	require.NoError(t, err)

	a3 := res.Panel[2]
	require.NotNil(t, a3.Metrics.OutputFinal)
	assert.Equal(t, 50.0, *a3.Metrics.OutputFinal)

	plain, err := Fingerprint(smallFleet(), monthly())
	require.NoError(t, err)
	assert.NotEqual(t, plain, res.Manifest.Fingerprint)
}

func TestRun_SchemaError(t *testing.T) {
	logs := rawlog.Logs{
		Production: rawlog.NewTable([]string{"when", "output_count"}, []string{"2024-01-01", "1"}),
	}
	_, err := NewService(nil).Run(context.Background(), logs, monthly())
	require.Error(t, err)
	assert.True(t, core.IsSchemaError(err))
	assert.Equal(t, errors.CodeSchemaError, errors.GetCode(err))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Pipeline
	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, period.Month, opts.Granularity)
	assert.Equal(t, treatment.DefaultBinning, opts.Binning)

	cfg.Granularity = "fortnight"
	_, err = OptionsFromConfig(cfg)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
