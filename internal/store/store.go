// Package store persists processed choropleth datasets: a metadata row per
// dataset plus one zstd-compressed GeoJSON payload per census year. The
// sqlite backend is the single-binary default; the postgres backend adds
// per-feature EWKB geometry rows for SQL-side analysis.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"

	"github.com/sells-group/densimap/internal/choropleth"
	"github.com/sells-group/densimap/internal/config"
	"github.com/sells-group/densimap/internal/geo"
)

// Dataset is one stored processing result.
type Dataset struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SourceEPSG   int       `json:"source_epsg"`
	JoinKey      string    `json:"join_key"`
	Years        []string  `json:"years"`
	BBox         geo.BBox  `json:"bbox"`
	FeatureCount int       `json:"feature_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// YearPayload is one census year of a dataset: the marshaled
// FeatureCollection plus the legend computed for that year. Payloads cross
// the Store boundary uncompressed; backends compress at rest.
type YearPayload struct {
	GeoJSON []byte
	Legend  *choropleth.Legend
}

// ErrNotFound reports a missing dataset or year. Branch with errors.Is.
var ErrNotFound = eris.New("store: not found")

// Store persists datasets and their per-year payloads. Implementations are
// safe for concurrent use.
type Store interface {
	Migrate(ctx context.Context) error
	// SaveDataset upserts the dataset row and merges the given year payloads
	// into any already stored. On return d.ID is set (generated when empty)
	// and d.Years reflects the full stored set in ascending order.
	SaveDataset(ctx context.Context, d *Dataset, years map[string]YearPayload) error
	GetDataset(ctx context.Context, id string) (*Dataset, error)
	ListDatasets(ctx context.Context) ([]Dataset, error)
	DeleteDataset(ctx context.Context, id string) error
	SaveYear(ctx context.Context, datasetID, year string, p YearPayload) error
	GetYear(ctx context.Context, datasetID, year string) (YearPayload, error)
	Close() error
}

// FeatureWriter is the optional capability of backends that keep per-feature
// geometry rows alongside the payload blobs. Callers discover it with a type
// assertion on the Store.
type FeatureWriter interface {
	// SaveFeatures replaces the stored geometry rows for a dataset and
	// returns the number written.
	SaveFeatures(ctx context.Context, datasetID string, c *geo.Collection, joinKey string) (int, error)
}

// Open selects a backend from configuration. An empty driver means sqlite.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "densimap.db"
		}
		return NewSQLite(path)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// compressPayload wraps data in a zstd frame for at-rest storage.
func compressPayload(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, eris.Wrap(err, "store: create zstd writer")
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, eris.Wrap(err, "store: compress payload")
	}
	if err := enc.Close(); err != nil {
		return nil, eris.Wrap(err, "store: flush zstd frame")
	}
	return buf.Bytes(), nil
}

// decompressPayload reverses compressPayload.
func decompressPayload(blob []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, eris.Wrap(err, "store: create zstd reader")
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, eris.Wrap(err, "store: decompress payload")
	}
	return data, nil
}

// decodeYearRow turns a stored (payload, legend) column pair back into a
// YearPayload.
func decodeYearRow(blob []byte, legendJSON []byte) (YearPayload, error) {
	data, err := decompressPayload(blob)
	if err != nil {
		return YearPayload{}, err
	}
	p := YearPayload{GeoJSON: data}
	if len(legendJSON) > 0 {
		var l choropleth.Legend
		if err := json.Unmarshal(legendJSON, &l); err != nil {
			return YearPayload{}, eris.Wrap(err, "store: unmarshal legend")
		}
		p.Legend = &l
	}
	return p, nil
}
