// Package pipeline turns raw boundary geometry and a population table into a
// ready-to-serve dataset: per-feature areas in the source projection, WGS84
// geometry, per-year population joins, and precomputed choropleth colors.
package pipeline

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/densimap/internal/census"
	"github.com/sells-group/densimap/internal/choropleth"
	"github.com/sells-group/densimap/internal/crs"
	"github.com/sells-group/densimap/internal/geo"
)

// Options control a processing run.
type Options struct {
	// SourceEPSG is the CRS the boundary coordinates arrive in.
	SourceEPSG int
	// JoinKeyProperty is the feature property matched against population keys.
	JoinKeyProperty string
	// Palette colors the density buckets.
	Palette choropleth.Palette
	// Aggregate names the population table columns.
	Aggregate census.AggregateOptions
	// DeduplicateBy drops repeated features sharing this property, keeping the
	// first. Empty disables deduplication.
	DeduplicateBy string
	// SimplifyTolerance, when positive, runs Douglas-Peucker on the reprojected
	// geometry with this tolerance in degrees. Areas are computed before
	// simplification and are unaffected.
	SimplifyTolerance float64
}

// DefaultOptions processes Czech municipality boundaries in S-JTSK with the
// standard statistical-office column names.
func DefaultOptions() Options {
	return Options{
		SourceEPSG:      5514,
		JoinKeyProperty: "uzemi_kod",
		Palette:         choropleth.Default(),
		Aggregate: census.AggregateOptions{
			KeyColumn:   "uzemi_kod",
			YearColumn:  "rok",
			ValueColumn: "hodnota",
		},
	}
}

// Metadata summarizes a processing run.
type Metadata struct {
	FeatureCount      int           `json:"feature_count"`
	SkippedRows       int           `json:"skipped_rows"`
	DuplicatesRemoved int           `json:"duplicates_removed"`
	BBox              geo.BBox      `json:"bbox"`
	SourceEPSG        int           `json:"source_epsg"`
	ProcessingTime    time.Duration `json:"processing_time"`
}

// Result is a fully processed dataset. Base holds the WGS84 geometry with
// areas but no population join; ByYear holds one colored collection per
// census year, sharing Base's geometry.
type Result struct {
	Base    *geo.Collection
	ByYear  map[string]*geo.Collection
	Years   []string
	Legends map[string]choropleth.Legend
	Meta    Metadata
}

// Run executes the full processing pipeline. Empty inputs produce empty
// outputs; a nil population table yields a purely geometric Base. The
// context is checked between stages so long runs cancel promptly.
func Run(ctx context.Context, boundaries *geo.Collection, popTable *census.RawTable, opts Options) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.Int("source_epsg", opts.SourceEPSG))

	// Resolve the projection before touching any geometry so a bad EPSG code
	// fails immediately.
	proj, err := crs.ForEPSG(opts.SourceEPSG)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: resolve source projection")
	}

	if boundaries == nil {
		boundaries = geo.NewCollection(nil)
	}
	log.Info("pipeline: starting run", zap.Int("features", boundaries.Len()))

	result := &Result{
		ByYear:  map[string]*geo.Collection{},
		Legends: map[string]choropleth.Legend{},
		Meta:    Metadata{SourceEPSG: opts.SourceEPSG},
	}

	// Stage 1: deduplicate.
	working := boundaries
	if opts.DeduplicateBy != "" {
		var removed int
		working, removed = geo.DeduplicateByProperty(boundaries, opts.DeduplicateBy)
		result.Meta.DuplicatesRemoved = removed
		if removed > 0 {
			log.Info("pipeline: removed duplicate features",
				zap.String("property", opts.DeduplicateBy),
				zap.Int("removed", removed))
		}
	}
	if err := stageErr(ctx, "deduplicate"); err != nil {
		return nil, err
	}

	// Stage 2: areas on source coordinates, before any reprojection.
	if failed := crs.ComputeAreas(working); failed > 0 {
		log.Warn("pipeline: some features have no computable area", zap.Int("failed", failed))
	}
	if err := stageErr(ctx, "compute areas"); err != nil {
		return nil, err
	}

	// Stage 3: reproject to WGS84.
	base, err := crs.Reproject(working, proj)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: reproject")
	}
	if err := stageErr(ctx, "reproject"); err != nil {
		return nil, err
	}

	// Stage 4: optional simplification of the WGS84 geometry.
	if opts.SimplifyTolerance > 0 {
		simplifyCollection(base, opts.SimplifyTolerance)
		if err := stageErr(ctx, "simplify"); err != nil {
			return nil, err
		}
	}

	result.Base = base
	result.Meta.FeatureCount = base.Len()
	if bbox, ok := geo.CollectionBounds(base); ok {
		result.Meta.BBox = bbox
	}

	// Stage 5: population join and per-year color precomputation.
	if popTable != nil && len(popTable.Rows) > 0 {
		table, err := census.Aggregate(popTable, opts.Aggregate)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: aggregate population")
		}
		result.Meta.SkippedRows = table.Skipped()
		if err := stageErr(ctx, "aggregate"); err != nil {
			return nil, err
		}

		byYear, legends, err := choropleth.PrecomputeYears(base, table, opts.JoinKeyProperty, opts.Palette)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: precompute years")
		}
		result.ByYear = byYear
		result.Legends = legends
		result.Years = table.Years()
	}

	result.Meta.ProcessingTime = time.Since(start)
	log.Info("pipeline: run complete",
		zap.Int("features", result.Meta.FeatureCount),
		zap.Int("years", len(result.Years)),
		zap.Int("skipped_rows", result.Meta.SkippedRows),
		zap.Duration("duration", result.Meta.ProcessingTime))
	return result, nil
}

// stageErr reports context cancellation between pipeline stages.
func stageErr(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "pipeline: canceled during %s", stage)
	}
	return nil
}

// simplifyCollection reduces vertex counts in place. Features whose geometry
// collapses under the tolerance keep their original shape.
func simplifyCollection(c *geo.Collection, tolerance float64) {
	dp := simplify.DouglasPeucker(tolerance)
	for i := range c.Features {
		g := c.Features[i].Geometry
		if g == nil {
			continue
		}
		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
			simplified := dp.Simplify(orb.Clone(g))
			if simplified != nil {
				c.Features[i].Geometry = simplified
			}
		}
	}
}
