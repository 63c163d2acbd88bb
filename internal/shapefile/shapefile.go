// Package shapefile loads boundary features from ESRI shapefiles.
package shapefile

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/densimap/internal/geo"
)

// Options control attribute handling.
type Options struct {
	// PropertyNames renames DBF fields to feature property keys, matched
	// case-insensitively, e.g. {"KOD": "uzemi_kod", "NAZEV": "uzemi_txt"}.
	// Unlisted fields are carried under their lowercased DBF name.
	PropertyNames map[string]string
}

// Load reads every record of a shapefile into a boundary collection.
// Coordinates stay in whatever CRS the shapefile uses. Records whose shape
// is not polygonal are skipped and counted, never fatal.
func Load(path string, opts Options) (*geo.Collection, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer func() { _ = r.Close() }()

	renames := make(map[string]string, len(opts.PropertyNames))
	for field, prop := range opts.PropertyNames {
		renames[strings.ToLower(field)] = prop
	}

	fields := r.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		if prop, ok := renames[name]; ok {
			name = prop
		}
		names[i] = name
	}

	var features []geo.Feature
	skipped := 0
	for r.Next() {
		_, shape := r.Shape()
		g := shapeGeometry(shape)
		if g == nil {
			skipped++
			continue
		}

		props := geojson.Properties{}
		for i := range fields {
			val := strings.TrimSpace(strings.TrimRight(r.Attribute(i), "\x00"))
			if val == "" {
				continue
			}
			props[names[i]] = val
		}
		features = append(features, geo.Feature{Geometry: g, Properties: props})
	}
	if err := r.Err(); err != nil {
		return nil, eris.Wrapf(err, "shapefile: read %s", path)
	}

	if skipped > 0 {
		zap.L().Debug("shapefile: skipped non-polygonal records",
			zap.String("path", path),
			zap.Int("skipped", skipped))
	}
	zap.L().Info("shapefile: loaded boundaries",
		zap.String("path", path),
		zap.Int("features", len(features)),
		zap.Int("skipped", skipped))
	return geo.NewCollection(features), nil
}

// shapeGeometry converts a polygonal shape record, nil for anything else.
// The Z and M variants drop their measure arrays.
func shapeGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Polygon:
		return groupRings(partsToRings(s.Parts, s.Points))
	case *shp.PolygonZ:
		return groupRings(partsToRings(s.Parts, s.Points))
	case *shp.PolygonM:
		return groupRings(partsToRings(s.Parts, s.Points))
	default:
		return nil
	}
}

// partsToRings slices the flat point array along part offsets into closed
// rings. Parts with fewer than three vertices are dropped.
func partsToRings(parts []int32, points []shp.Point) []orb.Ring {
	rings := make([]orb.Ring, 0, len(parts))
	for i := range parts {
		start := parts[i]
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if end-start < 3 {
			continue
		}

		ring := make(orb.Ring, 0, end-start+1)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{points[j].X, points[j].Y})
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		rings = append(rings, ring)
	}
	return rings
}

// groupRings assembles rings into polygons by winding order. Shapefiles
// store outer rings clockwise and holes counterclockwise, holes following
// the outer ring they belong to. A leading counterclockwise ring is kept as
// its own polygon rather than lost.
func groupRings(rings []orb.Ring) orb.Geometry {
	if len(rings) == 0 {
		return nil
	}

	var mp orb.MultiPolygon
	for _, ring := range rings {
		if signedArea(ring) <= 0 || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}

	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

// signedArea is the shoelace sum, positive for counterclockwise rings.
func signedArea(r orb.Ring) float64 {
	n := len(r)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		p0 := r[i]
		p1 := r[(i+1)%n]
		sum += p0[0]*p1[1] - p1[0]*p0[1]
	}
	return sum / 2
}
