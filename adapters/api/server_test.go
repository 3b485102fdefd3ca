package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utilpanel/domain/core"
	"utilpanel/domain/period"
	"utilpanel/internal/errors"
	"utilpanel/internal/imputation"
	"utilpanel/internal/panel"
	"utilpanel/internal/pipeline"
	"utilpanel/internal/survival"
	"utilpanel/ports"
)

type fakeReader struct {
	manifest    pipeline.Manifest
	rows        []panel.FlatRow
	lastFilters ports.PanelFilters
	listFilters ports.RunFilters
	fail        error
}

func (f *fakeReader) ListRuns(ctx context.Context, filters ports.RunFilters) ([]pipeline.Manifest, error) {
	f.listFilters = filters
	return []pipeline.Manifest{f.manifest}, f.fail
}

func (f *fakeReader) GetRun(ctx context.Context, id core.RunID) (*pipeline.Manifest, error) {
	if id != f.manifest.RunID {
		return nil, errors.NotFound("run " + id.String())
	}
	return &f.manifest, nil
}

func (f *fakeReader) GetPanel(ctx context.Context, id core.RunID, filters ports.PanelFilters) ([]panel.FlatRow, error) {
	if _, err := f.GetRun(ctx, id); err != nil {
		return nil, err
	}
	f.lastFilters = filters
	return f.rows, nil
}

func (f *fakeReader) GetSurvival(ctx context.Context, id core.RunID) ([]survival.Record, error) {
	if _, err := f.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return []survival.Record{{UnitID: "A", Duration: 12.5, EventFlag: survival.Failed}}, nil
}

func (f *fakeReader) GetCoefficients(ctx context.Context, id core.RunID) ([]imputation.Coefficient, error) {
	if _, err := f.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return []imputation.Coefficient{{UnitID: "A", Value: 2, Source: imputation.SourceUnit, Observations: 3}}, nil
}

func (f *fakeReader) GetWarnings(ctx context.Context, id core.RunID) ([]core.Warning, error) {
	if _, err := f.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return []core.Warning{{Kind: core.WarnOutOfWindowEvent, UnitID: "A", Message: "late"}}, nil
}

func newFixture() *fakeReader {
	out := 10.0
	return &fakeReader{
		manifest: pipeline.Manifest{
			RunID:       core.NewRunID(),
			CreatedAt:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			Granularity: period.Month,
			Calibrated:  true,
			Fingerprint: core.NewHash([]byte("x")),
		},
		rows: []panel.FlatRow{{UnitID: "A", Period: "2024-01", OutputFinal: &out}},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, NewServer(newFixture(), nil), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListRuns(t *testing.T) {
	reader := newFixture()
	rec := get(t, NewServer(reader, nil), "/api/runs?limit=5&offset=2&calibrated=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs  []pipeline.Manifest `json:"runs"`
		Count int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, reader.manifest.RunID, body.Runs[0].RunID)

	assert.Equal(t, 5, reader.listFilters.Limit)
	assert.Equal(t, 2, reader.listFilters.Offset)
	require.NotNil(t, reader.listFilters.Calibrated)
	assert.True(t, *reader.listFilters.Calibrated)
}

func TestListRuns_BadQuery(t *testing.T) {
	srv := NewServer(newFixture(), nil)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/runs?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/runs?calibrated=maybe").Code)
}

func TestGetRun(t *testing.T) {
	reader := newFixture()
	srv := NewServer(reader, nil)

	rec := get(t, srv, "/api/runs/"+reader.manifest.RunID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var m pipeline.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, reader.manifest.Fingerprint, m.Fingerprint)

	rec = get(t, srv, "/api/runs/"+core.NewRunID().String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var e errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, errors.CodeNotFound, e.Code)

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/runs/not-a-uuid").Code)
}

func TestGetPanel(t *testing.T) {
	reader := newFixture()
	rec := get(t, NewServer(reader, nil), "/api/runs/"+reader.manifest.RunID.String()+"/panel?unit=A&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rows  []panel.FlatRow `json:"rows"`
		Count int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	assert.Equal(t, 10.0, *body.Rows[0].OutputFinal)
	assert.Nil(t, body.Rows[0].Treated, "absent side serializes as null")

	require.NotNil(t, reader.lastFilters.UnitID)
	assert.Equal(t, core.UnitID("A"), *reader.lastFilters.UnitID)
	assert.Equal(t, 10, reader.lastFilters.Limit)
}

func TestSubResources(t *testing.T) {
	reader := newFixture()
	srv := NewServer(reader, nil)
	base := "/api/runs/" + reader.manifest.RunID.String()

	for _, path := range []string{"/survival", "/coefficients", "/warnings"} {
		rec := get(t, srv, base+path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json", path)
	}

	rec := get(t, srv, base+"/warnings")
	assert.Contains(t, rec.Body.String(), `"out_of_window_event":1`)
}

func TestStoreFailureIsInternal(t *testing.T) {
	reader := newFixture()
	reader.fail = errors.DatabaseError("boom", nil)
	rec := get(t, NewServer(reader, nil), "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), errors.CodeDatabaseError)
}

func TestUnstructuredErrorIsNotLeaked(t *testing.T) {
	reader := newFixture()
	reader.fail = stderrors.New("pq: password authentication failed for user \"prod\"")
	rec := get(t, NewServer(reader, nil), "/api/runs")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var e errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, errors.CodeInternalError, e.Code)
	assert.Equal(t, "internal server error", e.Error)
	assert.NotContains(t, rec.Body.String(), "password")
}
