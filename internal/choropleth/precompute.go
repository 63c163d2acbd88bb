package choropleth

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/densimap/internal/census"
	"github.com/sells-group/densimap/internal/geo"
)

// PrecomputeYears builds one colored collection per year in the table: the
// base features augmented with that year's population and classified against
// that year's own density distribution. Years never share scale state, so a
// demographic outlier in one year cannot shift another year's buckets.
// The base collection is not modified.
func PrecomputeYears(base *geo.Collection, table *census.Table, joinKey string, p Palette) (map[string]*geo.Collection, map[string]Legend, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	byYear := make(map[string]*geo.Collection)
	legends := make(map[string]Legend)
	if base == nil || table.IsEmpty() {
		return byYear, legends, nil
	}

	for _, year := range table.Years() {
		feats := census.Augment(base.Features, table.Year(year), joinKey)

		densities := make([]float64, 0, len(feats))
		for i := range feats {
			if d := feats[i].Density; d != nil && !math.IsNaN(*d) && !math.IsInf(*d, 0) {
				densities = append(densities, *d)
			}
		}
		scale, err := BuildScale(densities, p)
		if err != nil {
			return nil, nil, err
		}

		for i := range feats {
			c := scale.Color(feats[i].Density)
			feats[i].Color = &c
		}

		byYear[year] = geo.NewCollection(feats)
		legends[year] = scale.Legend()
		zap.L().Debug("choropleth: precomputed year",
			zap.String("year", year),
			zap.Int("features", len(feats)),
			zap.Int("with_density", len(densities)))
	}
	return byYear, legends, nil
}
