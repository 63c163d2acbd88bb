package store

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

// encodeEWKB converts a boundary geometry into EWKB bytes with SRID 4326, the
// form ST_GeomFromEWKB accepts directly. Nil and non-polygonal geometries
// encode as nil without error.
func encodeEWKB(g orb.Geometry) ([]byte, error) {
	if g == nil {
		return nil, nil
	}

	var t geom.T
	switch shape := g.(type) {
	case orb.Polygon:
		poly := polygonToGeom(shape)
		if poly == nil {
			return nil, nil
		}
		t = poly.SetSRID(4326)
	case orb.MultiPolygon:
		mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
		for i, part := range shape {
			poly := polygonToGeom(part)
			if poly == nil {
				continue
			}
			if err := mp.Push(poly); err != nil {
				zap.L().Debug("store: skipping malformed polygon part",
					zap.Int("part", i),
					zap.Error(err))
			}
		}
		if mp.NumPolygons() == 0 {
			return nil, nil
		}
		t = mp
	default:
		return nil, nil
	}

	data, err := ewkb.Marshal(t, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode EWKB")
	}
	return data, nil
}

// polygonToGeom rebuilds a polygon ring by ring, keeping hole rings intact.
// Rings with fewer than four points cannot close and are dropped. Returns nil
// when no ring survives.
func polygonToGeom(p orb.Polygon) *geom.Polygon {
	poly := geom.NewPolygon(geom.XY)
	for i, ring := range p {
		if len(ring) < 4 {
			continue
		}
		flat := make([]float64, 0, len(ring)*2)
		for _, pt := range ring {
			flat = append(flat, pt[0], pt[1])
		}
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("store: skipping malformed ring",
				zap.Int("ring", i),
				zap.Error(err))
		}
	}
	if poly.NumLinearRings() == 0 {
		return nil
	}
	return poly
}
