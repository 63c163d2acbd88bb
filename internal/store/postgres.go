package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/densimap/internal/config"
	"github.com/sells-group/densimap/internal/db"
	"github.com/sells-group/densimap/internal/geo"
)

// PostgresStore implements Store on PostgreSQL. Beyond the blob payloads it
// keeps one geometry row per feature, so the boundary data stays queryable
// with plain SQL (and PostGIS, once the EWKB column is converted).
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements are primed on every new connection for the hot read
// paths the API server hits per request.
var preparedStatements = map[string]string{
	"get_dataset": `SELECT id, name, source_epsg, join_key, bbox, feature_count, created_at, updated_at
		FROM datasets WHERE id = $1`,
	"get_year":   `SELECT payload, legend FROM dataset_years WHERE dataset_id = $1 AND year = $2`,
	"list_years": `SELECT year FROM dataset_years WHERE dataset_id = $1 ORDER BY year ASC`,
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, connString string, poolCfg *config.PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse connection string")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	zap.L().Debug("postgres: connected",
		zap.Int32("max_conns", maxConns),
		zap.Int32("min_conns", minConns))

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	source_epsg   INTEGER NOT NULL,
	join_key      TEXT NOT NULL,
	bbox          JSONB NOT NULL DEFAULT '{}',
	feature_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dataset_years (
	dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	year       TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	legend     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (dataset_id, year)
);

-- geom holds EWKB with SRID 4326; convert with ST_GeomFromEWKB(geom) where
-- PostGIS is installed.
CREATE TABLE IF NOT EXISTS dataset_features (
	dataset_id  TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	feature_idx INTEGER NOT NULL,
	code        TEXT,
	area_km2    DOUBLE PRECISION,
	geom        BYTEA,
	PRIMARY KEY (dataset_id, feature_idx)
);

CREATE INDEX IF NOT EXISTS idx_datasets_name ON datasets(name);
CREATE INDEX IF NOT EXISTS idx_dataset_features_code ON dataset_features(code);
`

// Migrate creates the schema. Safe to call on every startup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: run migration")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Ping verifies the pool can still reach the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT 1"); err != nil {
		return eris.Wrap(err, "postgres: ping")
	}
	return nil
}

func (s *PostgresStore) SaveDataset(ctx context.Context, d *Dataset, years map[string]YearPayload) error {
	if d == nil {
		return eris.New("postgres: nil dataset")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	bboxJSON, err := json.Marshal(d.BBox)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal bbox")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO datasets (id, name, source_epsg, join_key, bbox, feature_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			source_epsg = EXCLUDED.source_epsg,
			join_key = EXCLUDED.join_key,
			bbox = EXCLUDED.bbox,
			feature_count = EXCLUDED.feature_count,
			updated_at = EXCLUDED.updated_at`,
		d.ID, d.Name, d.SourceEPSG, d.JoinKey, bboxJSON, d.FeatureCount, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert dataset")
	}

	if len(years) > 0 {
		rows := make([][]any, 0, len(years))
		for year, p := range years {
			blob, err := compressPayload(p.GeoJSON)
			if err != nil {
				return err
			}
			var legendVal any
			if p.Legend != nil {
				legendJSON, err := json.Marshal(p.Legend)
				if err != nil {
					return eris.Wrap(err, "postgres: marshal legend")
				}
				legendVal = legendJSON
			}
			rows = append(rows, []any{d.ID, year, blob, legendVal, now})
		}
		if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        "dataset_years",
			Columns:      []string{"dataset_id", "year", "payload", "legend", "created_at"},
			ConflictKeys: []string{"dataset_id", "year"},
			UpdateCols:   []string{"payload", "legend"},
		}, rows); err != nil {
			return err
		}
	}

	stored, err := s.yearsFor(ctx, d.ID)
	if err != nil {
		return err
	}
	d.Years = stored
	return nil
}

func (s *PostgresStore) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	var d Dataset
	var bboxJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, source_epsg, join_key, bbox, feature_count, created_at, updated_at
		FROM datasets WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.SourceEPSG, &d.JoinKey, &bboxJSON, &d.FeatureCount, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "dataset %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get dataset")
	}
	if err := json.Unmarshal(bboxJSON, &d.BBox); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal bbox")
	}

	years, err := s.yearsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Years = years
	return &d, nil
}

func (s *PostgresStore) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, source_epsg, join_key, bbox, feature_count, created_at, updated_at
		FROM datasets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list datasets")
	}
	defer rows.Close()

	var datasets []Dataset
	for rows.Next() {
		var d Dataset
		var bboxJSON []byte
		if err := rows.Scan(&d.ID, &d.Name, &d.SourceEPSG, &d.JoinKey, &bboxJSON, &d.FeatureCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dataset")
		}
		if err := json.Unmarshal(bboxJSON, &d.BBox); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal bbox")
		}
		datasets = append(datasets, d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate datasets")
	}

	for i := range datasets {
		years, err := s.yearsFor(ctx, datasets[i].ID)
		if err != nil {
			return nil, err
		}
		datasets[i].Years = years
	}
	return datasets, nil
}

func (s *PostgresStore) DeleteDataset(ctx context.Context, id string) error {
	// Years and feature rows go with the dataset via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete dataset %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dataset %s", id)
	}
	return nil
}

func (s *PostgresStore) SaveYear(ctx context.Context, datasetID, year string, p YearPayload) error {
	if year == "" {
		return eris.New("postgres: empty year")
	}
	blob, err := compressPayload(p.GeoJSON)
	if err != nil {
		return err
	}
	var legendVal any
	if p.Legend != nil {
		legendJSON, err := json.Marshal(p.Legend)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal legend")
		}
		legendVal = legendJSON
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO dataset_years (dataset_id, year, payload, legend, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dataset_id, year) DO UPDATE SET
			payload = EXCLUDED.payload,
			legend = EXCLUDED.legend`,
		datasetID, year, blob, legendVal, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save year %s", year)
}

func (s *PostgresStore) GetYear(ctx context.Context, datasetID, year string) (YearPayload, error) {
	var blob []byte
	var legendJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload, legend FROM dataset_years WHERE dataset_id = $1 AND year = $2`,
		datasetID, year,
	).Scan(&blob, &legendJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return YearPayload{}, eris.Wrapf(ErrNotFound, "year %s of dataset %s", year, datasetID)
	}
	if err != nil {
		return YearPayload{}, eris.Wrapf(err, "postgres: get year %s", year)
	}
	return decodeYearRow(blob, legendJSON)
}

// SaveFeatures replaces the geometry rows of a dataset with one row per
// feature, bulk-loaded over the COPY protocol. Features whose geometry fails
// to encode are stored with a NULL geom column rather than dropped.
func (s *PostgresStore) SaveFeatures(ctx context.Context, datasetID string, c *geo.Collection, joinKey string) (int, error) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM dataset_features WHERE dataset_id = $1`, datasetID); err != nil {
		return 0, eris.Wrapf(err, "postgres: clear features of %s", datasetID)
	}
	if c == nil || len(c.Features) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(c.Features))
	unencodable := 0
	for i := range c.Features {
		f := &c.Features[i]

		var codeVal any
		if code, ok := f.StringProp(joinKey); ok {
			codeVal = code
		}
		var areaVal any
		if f.AreaKm2 != nil {
			areaVal = *f.AreaKm2
		}
		var geomVal any
		data, err := encodeEWKB(f.Geometry)
		if err != nil {
			unencodable++
			zap.L().Debug("postgres: feature geometry failed to encode",
				zap.Int("feature", i),
				zap.Error(err))
		} else if data != nil {
			geomVal = data
		}

		rows = append(rows, []any{datasetID, i, codeVal, areaVal, geomVal})
	}

	n, err := db.CopyFrom(ctx, s.pool, "dataset_features",
		[]string{"dataset_id", "feature_idx", "code", "area_km2", "geom"}, rows)
	if err != nil {
		return 0, err
	}
	if unencodable > 0 {
		zap.L().Info("postgres: stored features with NULL geometry",
			zap.String("dataset", datasetID),
			zap.Int("count", unencodable))
	}
	return int(n), nil
}

func (s *PostgresStore) yearsFor(ctx context.Context, datasetID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT year FROM dataset_years WHERE dataset_id = $1 ORDER BY year ASC`, datasetID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list years")
	}
	defer rows.Close()

	var years []string
	for rows.Next() {
		var y string
		if err := rows.Scan(&y); err != nil {
			return nil, eris.Wrap(err, "postgres: scan year")
		}
		years = append(years, y)
	}
	return years, eris.Wrap(rows.Err(), "postgres: iterate years")
}
