package crs

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/densimap/internal/geo"
)

// Reproject converts every feature geometry from the source CRS to WGS84
// [lon, lat]. Ring structure, nesting depth, vertex counts, and ring closure
// are preserved exactly: each vertex is transformed in place in a cloned
// geometry and nothing is reordered, dropped, or added. The input collection
// is not modified; features with nil geometry pass through.
func Reproject(c *geo.Collection, p Projection) (*geo.Collection, error) {
	if p == nil {
		return nil, eris.New("crs: nil projection")
	}
	if c == nil {
		return geo.NewCollection(nil), nil
	}
	out := make([]geo.Feature, len(c.Features))
	for i := range c.Features {
		f := c.Features[i]
		f.Geometry = reprojectGeometry(f.Geometry, p)
		out[i] = f
	}
	return geo.NewCollection(out), nil
}

func reprojectGeometry(g orb.Geometry, p Projection) orb.Geometry {
	switch t := g.(type) {
	case orb.Polygon:
		return reprojectPolygon(t, p)
	case orb.MultiPolygon:
		mp := make(orb.MultiPolygon, len(t))
		for i, poly := range t {
			mp[i] = reprojectPolygon(poly, p)
		}
		return mp
	default:
		return g
	}
}

func reprojectPolygon(poly orb.Polygon, p Projection) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		nr := make(orb.Ring, len(ring))
		for j, pt := range ring {
			lon, lat := p.ToWGS84(pt[0], pt[1])
			nr[j] = orb.Point{lon, lat}
		}
		out[i] = nr
	}
	return out
}
