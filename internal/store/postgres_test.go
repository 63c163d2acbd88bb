package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/densimap/internal/geo"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_GetDataset(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM datasets WHERE id = \$1`).
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "source_epsg", "join_key", "bbox", "feature_count", "created_at", "updated_at",
		}).AddRow(
			"abc", "okresy", 5514, "uzemi_kod",
			[]byte(`{"min_lng":12,"min_lat":48.5,"max_lng":18.9,"max_lat":51.1}`),
			77, now, now,
		))
	mock.ExpectQuery(`SELECT year FROM dataset_years WHERE dataset_id = \$1 ORDER BY year ASC`).
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"year"}).AddRow("2011").AddRow("2021"))

	d, err := s.GetDataset(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "okresy", d.Name)
	assert.Equal(t, 5514, d.SourceEPSG)
	assert.Equal(t, []string{"2011", "2021"}, d.Years)
	assert.InDelta(t, 18.9, d.BBox.MaxLng, 1e-9)
	assert.Equal(t, 77, d.FeatureCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDatasetNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM datasets WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDataset(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetYear(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	body := []byte(`{"type":"FeatureCollection","features":[]}`)
	blob, err := compressPayload(body)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT payload, legend FROM dataset_years`).
		WithArgs("d1", "2021").
		WillReturnRows(pgxmock.NewRows([]string{"payload", "legend"}).
			AddRow(blob, []byte(`{"thresholds":[100],"colors":["#111111","#222222"],"no_data":"#cccccc"}`)))

	p, err := s.GetYear(context.Background(), "d1", "2021")
	require.NoError(t, err)
	assert.Equal(t, body, p.GeoJSON)
	require.NotNil(t, p.Legend)
	assert.Equal(t, []float64{100}, p.Legend.Thresholds)
	assert.Equal(t, "#cccccc", p.Legend.NoData)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetYearNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT payload, legend FROM dataset_years`).
		WithArgs("d1", "1991").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetYear(context.Background(), "d1", "1991")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveYear(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO dataset_years`).
		WithArgs("d1", "2021", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveYear(context.Background(), "d1", "2021", testPayload(`{"x":1}`))
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDataset(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO datasets`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_dataset_years"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_dataset_years"},
		[]string{"dataset_id", "year", "payload", "legend", "created_at"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "dataset_years"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT year FROM dataset_years`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"year"}).AddRow("2021"))

	d := testDataset()
	err := s.SaveDataset(context.Background(), d, map[string]YearPayload{"2021": testPayload(`{"x":1}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, []string{"2021"}, d.Years)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveFeatures(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM dataset_features`).
		WithArgs("d1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"dataset_features"},
		[]string{"dataset_id", "feature_idx", "code", "area_km2", "geom"}).
		WillReturnResult(2)

	area := 12.5
	c := geo.NewCollection([]geo.Feature{
		{
			Geometry:   orb.Polygon{{{14, 50}, {14.1, 50}, {14.1, 50.1}, {14, 50}}},
			Properties: map[string]any{"uzemi_kod": "500011"},
			AreaKm2:    &area,
		},
		{Properties: map[string]any{"uzemi_kod": "500012"}},
	})

	n, err := s.SaveFeatures(context.Background(), "d1", c, "uzemi_kod")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveFeaturesEmpty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM dataset_features`).
		WithArgs("d1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.SaveFeatures(context.Background(), "d1", geo.NewCollection(nil), "uzemi_kod")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteDataset(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM datasets WHERE id = \$1`).
		WithArgs("d1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.DeleteDataset(context.Background(), "d1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteDatasetNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM datasets WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteDataset(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDatasets(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM datasets ORDER BY created_at DESC`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "source_epsg", "join_key", "bbox", "feature_count", "created_at", "updated_at",
		}).
			AddRow("a", "obce", 5514, "uzemi_kod", []byte(`{}`), 6258, now, now).
			AddRow("b", "okresy", 5514, "uzemi_kod", []byte(`{}`), 77, now, now))
	mock.ExpectQuery(`SELECT year FROM dataset_years`).
		WithArgs("a").
		WillReturnRows(pgxmock.NewRows([]string{"year"}).AddRow("2021"))
	mock.ExpectQuery(`SELECT year FROM dataset_years`).
		WithArgs("b").
		WillReturnRows(pgxmock.NewRows([]string{"year"}))

	list, err := s.ListDatasets(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"2021"}, list[0].Years)
	assert.Empty(t, list[1].Years)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS datasets`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
