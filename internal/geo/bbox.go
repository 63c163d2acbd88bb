package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// BBox represents a geographic bounding box.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Valid reports whether the box has non-inverted extents and finite values.
func (b BBox) Valid() bool {
	for _, v := range [...]float64{b.MinLng, b.MinLat, b.MaxLng, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.MinLng <= b.MaxLng && b.MinLat <= b.MaxLat
}

// Intersects reports whether two boxes overlap, edges included.
func (b BBox) Intersects(o BBox) bool {
	return b.MinLng <= o.MaxLng && b.MaxLng >= o.MinLng &&
		b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat
}

// Expand grows the box outward on every side by fraction of its width.
// Width is used for both axes so the margin is uniform on screen.
func (b BBox) Expand(fraction float64) BBox {
	if fraction <= 0 {
		return b
	}
	pad := (b.MaxLng - b.MinLng) * fraction
	return BBox{
		MinLng: b.MinLng - pad,
		MinLat: b.MinLat - pad,
		MaxLng: b.MaxLng + pad,
		MaxLat: b.MaxLat + pad,
	}
}

// Array returns the GeoJSON bbox order [west, south, east, north].
func (b BBox) Array() [4]float64 {
	return [4]float64{b.MinLng, b.MinLat, b.MaxLng, b.MaxLat}
}

// ParseBBox parses the "west,south,east,north" query form.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, eris.Errorf("geo: bbox needs 4 comma-separated values, got %d", len(parts))
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, eris.Wrapf(err, "geo: bbox value %q", p)
		}
		vals[i] = v
	}
	b := BBox{MinLng: vals[0], MinLat: vals[1], MaxLng: vals[2], MaxLat: vals[3]}
	if !b.Valid() {
		return BBox{}, eris.Errorf("geo: inverted bbox %q", s)
	}
	return b, nil
}

func fromBound(bd orb.Bound) BBox {
	return BBox{
		MinLng: bd.Min[0],
		MinLat: bd.Min[1],
		MaxLng: bd.Max[0],
		MaxLat: bd.Max[1],
	}
}

// CollectionBounds unions the exact geometry bounds of every feature.
// Returns false when no feature has geometry.
func CollectionBounds(c *Collection) (BBox, bool) {
	if c == nil {
		return BBox{}, false
	}
	var out orb.Bound
	found := false
	for i := range c.Features {
		g := c.Features[i].Geometry
		if g == nil {
			continue
		}
		b := g.Bound()
		if !found {
			out = b
			found = true
			continue
		}
		out = out.Union(b)
	}
	return fromBound(out), found
}

// ApproxBound computes a fast approximate bounding box from sampled ring
// vertices: the first, middle, and last vertex of every ring. The result can
// be smaller than the true bound but is never empty for a non-empty ring.
// Returns false when the geometry yields no sample points.
func ApproxBound(g orb.Geometry) (BBox, bool) {
	b := BBox{
		MinLng: math.Inf(1), MinLat: math.Inf(1),
		MaxLng: math.Inf(-1), MaxLat: math.Inf(-1),
	}
	found := false
	take := func(p orb.Point) {
		found = true
		b.MinLng = math.Min(b.MinLng, p[0])
		b.MinLat = math.Min(b.MinLat, p[1])
		b.MaxLng = math.Max(b.MaxLng, p[0])
		b.MaxLat = math.Max(b.MaxLat, p[1])
	}
	sampleRing := func(r orb.Ring) {
		n := len(r)
		if n == 0 {
			return
		}
		take(r[0])
		take(r[n/2])
		take(r[n-1])
	}
	switch t := g.(type) {
	case orb.Polygon:
		for _, r := range t {
			sampleRing(r)
		}
	case orb.MultiPolygon:
		for _, p := range t {
			for _, r := range p {
				sampleRing(r)
			}
		}
	default:
		return BBox{}, false
	}
	if !found {
		return BBox{}, false
	}
	return b, true
}
