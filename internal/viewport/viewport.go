// Package viewport culls features outside the visible map area at high zoom,
// where the viewport covers a small part of the dataset and most geometry
// would be parsed and painted for nothing.
package viewport

import (
	"github.com/sells-group/densimap/internal/geo"
)

// MinZoom is the zoom level below which culling is skipped: zoomed out, the
// viewport covers most of the data and the per-feature test costs more than
// it saves.
const MinZoom = 9

// DefaultBuffer is the margin added around the viewport, as a fraction of its
// width, so features entering during a pan are already present.
const DefaultBuffer = 0.10

// Cull returns the features whose approximate bounds intersect the buffered
// viewport. Below MinZoom the input slice is returned as is. Feature bounds
// come from sampled ring vertices (first, middle, last per ring), trading
// exactness for speed; the expanded viewport absorbs the underestimate.
// Features yielding no sample points are excluded. Input order is preserved.
func Cull(features []geo.Feature, view geo.BBox, zoom float64, buffer float64) []geo.Feature {
	if zoom < MinZoom {
		return features
	}
	if buffer < 0 {
		buffer = 0
	}
	expanded := view.Expand(buffer)

	out := make([]geo.Feature, 0, len(features))
	for i := range features {
		b, ok := geo.ApproxBound(features[i].Geometry)
		if !ok {
			continue
		}
		if b.Intersects(expanded) {
			out = append(out, features[i])
		}
	}
	return out
}
