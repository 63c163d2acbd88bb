package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database. It is the
// zero-setup default backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dsn and switches it to
// WAL mode so the API server can read while a pipeline run writes.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open database")
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	source_epsg   INTEGER NOT NULL,
	join_key      TEXT NOT NULL,
	bbox          TEXT NOT NULL DEFAULT '{}',
	feature_count INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dataset_years (
	dataset_id TEXT NOT NULL REFERENCES datasets(id),
	year       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	legend     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (dataset_id, year)
);

CREATE INDEX IF NOT EXISTS idx_datasets_name ON datasets(name);
CREATE INDEX IF NOT EXISTS idx_dataset_years_dataset ON dataset_years(dataset_id);
`

// Migrate creates the schema. Safe to call on every startup.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: run migration")
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveDataset(ctx context.Context, d *Dataset, years map[string]YearPayload) error {
	if d == nil {
		return eris.New("sqlite: nil dataset")
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
		return eris.Wrap(err, "sqlite: marshal bbox")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datasets (id, name, source_epsg, join_key, bbox, feature_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			source_epsg = excluded.source_epsg,
			join_key = excluded.join_key,
			bbox = excluded.bbox,
			feature_count = excluded.feature_count,
			updated_at = excluded.updated_at`,
		d.ID, d.Name, d.SourceEPSG, d.JoinKey, string(bboxJSON), d.FeatureCount, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert dataset")
	}

	for year, p := range years {
		if err := s.SaveYear(ctx, d.ID, year, p); err != nil {
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

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_epsg, join_key, bbox, feature_count, created_at, updated_at
		FROM datasets WHERE id = ?`, id)

	d, err := scanDataset(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "dataset %s", id)
	}
	if err != nil {
		return nil, err
	}

	years, err := s.yearsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Years = years
	return d, nil
}

func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source_epsg, join_key, bbox, feature_count, created_at, updated_at
		FROM datasets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list datasets")
	}
	defer rows.Close() //nolint:errcheck

	var datasets []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate datasets")
	}

	// Year lookups run after the dataset cursor is drained so the two result
	// sets never contend for the same connection.
	for i := range datasets {
		years, err := s.yearsFor(ctx, datasets[i].ID)
		if err != nil {
			return nil, err
		}
		datasets[i].Years = years
	}
	return datasets, nil
}

func (s *SQLiteStore) DeleteDataset(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dataset_years WHERE dataset_id = ?`, id); err != nil {
		return eris.Wrapf(err, "sqlite: delete years of %s", id)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete dataset %s", id)
	}
	return checkRowsAffected(res, "dataset", id)
}

func (s *SQLiteStore) SaveYear(ctx context.Context, datasetID, year string, p YearPayload) error {
	if year == "" {
		return eris.New("sqlite: empty year")
	}
	blob, err := compressPayload(p.GeoJSON)
	if err != nil {
		return err
	}
	var legendJSON sql.NullString
	if p.Legend != nil {
		j, err := json.Marshal(p.Legend)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal legend")
		}
		legendJSON = sql.NullString{String: string(j), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dataset_years (dataset_id, year, payload, legend, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (dataset_id, year) DO UPDATE SET
			payload = excluded.payload,
			legend = excluded.legend`,
		datasetID, year, blob, legendJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save year %s", year)
}

func (s *SQLiteStore) GetYear(ctx context.Context, datasetID, year string) (YearPayload, error) {
	var blob []byte
	var legendJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, legend FROM dataset_years WHERE dataset_id = ? AND year = ?`,
		datasetID, year,
	).Scan(&blob, &legendJSON)
	if err == sql.ErrNoRows {
		return YearPayload{}, eris.Wrapf(ErrNotFound, "year %s of dataset %s", year, datasetID)
	}
	if err != nil {
		return YearPayload{}, eris.Wrapf(err, "sqlite: get year %s", year)
	}
	return decodeYearRow(blob, []byte(legendJSON.String))
}

func (s *SQLiteStore) yearsFor(ctx context.Context, datasetID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT year FROM dataset_years WHERE dataset_id = ? ORDER BY year ASC`, datasetID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list years")
	}
	defer rows.Close() //nolint:errcheck

	var years []string
	for rows.Next() {
		var y string
		if err := rows.Scan(&y); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan year")
		}
		years = append(years, y)
	}
	return years, eris.Wrap(rows.Err(), "sqlite: iterate years")
}

// scannable lets scanDataset work over both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanDataset(row scannable) (*Dataset, error) {
	var d Dataset
	var bboxJSON string
	err := row.Scan(&d.ID, &d.Name, &d.SourceEPSG, &d.JoinKey, &bboxJSON, &d.FeatureCount, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan dataset")
	}
	if err := json.Unmarshal([]byte(bboxJSON), &d.BBox); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal bbox")
	}
	return &d, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
