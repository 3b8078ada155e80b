package executor

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/oceanstack/argo-insight/internal/catalog"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

type stubRows struct {
	rows  []map[string]any
	err   error
	query string
	args  []any
}

func (s *stubRows) QueryRows(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	s.query, s.args = query, args
	return s.rows, s.err
}

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestExecutor(t *testing.T, rows RowSource) *Executor {
	t.Helper()
	store, err := catalog.Load()
	require.NoError(t, err)
	return New(store, rows, Options{MaxRows: 500, Now: func() time.Time { return fixedNow }}, nil)
}

func TestCompileAverageAtDepth(t *testing.T) {
	ex := newTestExecutor(t, nil)
	compiled, err := ex.Compile(models.StructuredQuery{
		Select:      []string{"measurements.temperature"},
		Filters:     []models.Filter{{Field: models.FieldDepth, Op: models.OpEq, Value: 1000.0}},
		Aggregation: &models.Aggregation{Function: "avg", Field: "measurements.temperature"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT AVG(m.temperature) AS "avg_temperature" FROM argo_measurements m JOIN argo_profiles p ON p.id = m.profile_id WHERE m.depth = $1 LIMIT $2`,
		compiled.SQL)
	assert.Equal(t, []any{1000.0, 500}, compiled.Args)
}

func TestCompileRegionAndRelativeTime(t *testing.T) {
	ex := newTestExecutor(t, nil)
	compiled, err := ex.Compile(models.StructuredQuery{
		Select: []string{"measurements.salinity", models.FieldTime},
		Filters: []models.Filter{
			{Field: models.FieldLocation, Op: models.OpWithin, Value: []float64{-80, 0, 0, 65}},
			{Field: models.FieldTime, Op: models.OpGte, Value: "now-1y"},
		},
		OrderBy: &models.OrderBy{Field: models.FieldTime, Descending: true},
		Limit:   20,
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT m.salinity AS "salinity", p.profile_date AS "time" FROM argo_measurements m JOIN argo_profiles p ON p.id = m.profile_id WHERE ST_Intersects(p.location, ST_GeomFromText($1, 4326)) AND p.profile_date >= $2 ORDER BY p.profile_date DESC LIMIT $3`,
		compiled.SQL)
	require.Len(t, compiled.Args, 3)
	assert.True(t, strings.HasPrefix(compiled.Args[0].(string), "POLYGON"))
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), compiled.Args[1])
	assert.Equal(t, 20, compiled.Args[2])
}

func TestCompileNeverInlinesValues(t *testing.T) {
	ex := newTestExecutor(t, nil)
	hostile := "2902746'; DROP TABLE argo_floats; --"
	compiled, err := ex.Compile(models.StructuredQuery{
		Select:  []string{"floats.status"},
		Filters: []models.Filter{{Field: "floats.float_id", Op: models.OpEq, Value: hostile}},
	})
	require.NoError(t, err)
	assert.NotContains(t, compiled.SQL, "DROP")
	assert.Contains(t, compiled.Args, hostile)
}

func TestCompileGroupedCountOrderedByAggregate(t *testing.T) {
	ex := newTestExecutor(t, nil)
	compiled, err := ex.Compile(models.StructuredQuery{
		Select:      []string{"anomalies.anomaly_type"},
		Aggregation: &models.Aggregation{Function: "count", Field: "anomalies.anomaly_type", GroupBy: []string{"anomalies.severity"}},
		OrderBy:     &models.OrderBy{Field: "anomalies.anomaly_type", Descending: true},
	})
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, `COUNT(a.anomaly_type) AS "count_anomaly_type"`)
	assert.Contains(t, compiled.SQL, "GROUP BY a.severity")
	assert.Contains(t, compiled.SQL, `ORDER BY "count_anomaly_type" DESC`)
}

func TestCompileRejectsUngroupedSelectUnderAggregation(t *testing.T) {
	ex := newTestExecutor(t, nil)
	_, err := ex.Compile(models.StructuredQuery{
		Select:      []string{"measurements.temperature", "measurements.salinity"},
		Aggregation: &models.Aggregation{Function: "avg", Field: "measurements.temperature"},
	})
	assert.ErrorIs(t, err, utils.ErrSchemaValidation)

	compiled, err := ex.Compile(models.StructuredQuery{
		Select:      []string{"anomalies.anomaly_type", "anomalies.severity"},
		Aggregation: &models.Aggregation{Function: "count", Field: "anomalies.anomaly_type", GroupBy: []string{"anomalies.severity"}},
	})
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "GROUP BY a.severity")
}

func TestCompileRejectsUnboundFields(t *testing.T) {
	ex := newTestExecutor(t, nil)
	_, err := ex.Compile(models.StructuredQuery{Select: []string{"satellite.chlorophyll", models.FieldDepth}})
	assert.ErrorIs(t, err, utils.ErrSchemaValidation)

	_, err = ex.Compile(models.StructuredQuery{Select: []string{"measurements.temperature", "floats.status"}})
	assert.ErrorIs(t, err, utils.ErrSchemaValidation)

	_, err = ex.Compile(models.StructuredQuery{})
	assert.ErrorIs(t, err, utils.ErrInvalidInput)
}

func TestExecuteDecodesLocationsAndKeepsEmptyResults(t *testing.T) {
	point := geom.NewPointFlat(geom.XY, []float64{-30.5, 45.25}).SetSRID(4326)
	raw, err := ewkb.Marshal(point, ewkb.NDR)
	require.NoError(t, err)

	rows := &stubRows{rows: []map[string]any{{"float_id": "2902746", "location": hex.EncodeToString(raw)}}}
	ex := newTestExecutor(t, rows)
	q := models.StructuredQuery{Select: []string{"floats.float_id", models.FieldLocation}}

	out, compiled, err := ex.Execute(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, compiled.SQL, rows.query)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]float64{"latitude": 45.25, "longitude": -30.5}, out[0]["location"])

	rows.rows = nil
	out, _, err = ex.Execute(context.Background(), q)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestExecuteWrapsStoreFailure(t *testing.T) {
	ex := newTestExecutor(t, &stubRows{err: errors.New("connection reset")})
	_, compiled, err := ex.Execute(context.Background(), models.StructuredQuery{Select: []string{"floats.status"}})
	assert.ErrorIs(t, err, utils.ErrExecution)
	assert.NotEmpty(t, compiled.SQL, "failed executions still report the attempted statement")
}
