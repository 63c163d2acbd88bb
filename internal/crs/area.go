package crs

import (
	"math"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/sells-group/densimap/internal/geo"
)

// RingArea returns the absolute planar shoelace area of a ring in squared
// source units. The vertex list is treated as closed whether or not the last
// vertex repeats the first; rings with fewer than three vertices have zero
// area.
func RingArea(r orb.Ring) float64 {
	if len(r) < 3 {
		return 0
	}
	sum := 0.0
	for i := range r {
		p0 := r[i]
		p1 := r[(i+1)%len(r)]
		sum += p0[1]*p1[0] - p0[0]*p1[1]
	}
	return math.Abs(sum / 2)
}

// polygonArea is the outer ring area minus every hole ring area.
func polygonArea(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	area := RingArea(p[0])
	for _, hole := range p[1:] {
		area -= RingArea(hole)
	}
	return area
}

// ComputeAreas annotates every feature with its planar area in square
// kilometers, computed from the source projected coordinates. Must run before
// Reproject: meters are only meaningful in the source CRS, and the stored
// area stays fixed through all later stages. Features with missing or
// non-polygonal geometry, or whose area comes out non-finite, get a nil area
// and processing continues. Returns the number of features without an area.
func ComputeAreas(c *geo.Collection) int {
	if c == nil {
		return 0
	}
	failed := 0
	for i := range c.Features {
		f := &c.Features[i]
		f.AreaKm2 = nil
		var m2 float64
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			m2 = polygonArea(g)
		case orb.MultiPolygon:
			for _, p := range g {
				m2 += polygonArea(p)
			}
		default:
			failed++
			continue
		}
		if math.IsNaN(m2) || math.IsInf(m2, 0) {
			failed++
			zap.L().Debug("crs: non-finite area", zap.Int("index", i))
			continue
		}
		km2 := m2 / 1e6
		f.AreaKm2 = &km2
	}
	if failed > 0 {
		zap.L().Info("crs: features without computable area", zap.Int("count", failed))
	}
	return failed
}
