package viewport

import (
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/densimap/internal/geo"
)

// square returns a closed square ring with the given corner and side.
func square(x, y, side float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + side, y}, {x + side, y + side}, {x, y + side}, {x, y},
	}}
}

func TestCull_NoOpBelowMinZoom(t *testing.T) {
	features := []geo.Feature{
		{Geometry: square(0, 0, 1)},
		{Geometry: square(100, 100, 1)},
	}
	view := geo.BBox{MinLng: 0, MinLat: 0, MaxLng: 1, MaxLat: 1}

	for _, zoom := range []float64{0, 5, 8, 8.9} {
		out := Cull(features, view, zoom, DefaultBuffer)
		assert.Len(t, out, 2, "zoom %v", zoom)
	}

	out := Cull(features, view, 9, DefaultBuffer)
	assert.Len(t, out, 1, "culling starts at zoom 9")
}

func TestCull_KeepsIntersecting(t *testing.T) {
	features := []geo.Feature{
		{Geometry: square(14.0, 50.0, 0.5)},  // inside
		{Geometry: square(14.4, 50.4, 0.5)},  // straddles the edge
		{Geometry: square(20.0, 55.0, 0.5)},  // far away
		{Geometry: nil},                      // no geometry
		{Geometry: orb.Polygon{}},            // no rings
	}
	view := geo.BBox{MinLng: 13.8, MinLat: 49.8, MaxLng: 14.6, MaxLat: 50.6}

	out := Cull(features, view, 12, 0)
	require.Len(t, out, 2)
	assert.Equal(t, features[0].Geometry, out[0].Geometry, "order preserved")
	assert.Equal(t, features[1].Geometry, out[1].Geometry)
}

func TestCull_BufferWidens(t *testing.T) {
	// View is 10 degrees wide; a 10% buffer reaches one degree beyond each
	// edge, on both axes.
	view := geo.BBox{MinLng: 0, MinLat: 0, MaxLng: 10, MaxLat: 2}
	justOutside := []geo.Feature{{Geometry: square(10.2, 0, 0.5)}}
	farOutside := []geo.Feature{{Geometry: square(11.5, 0, 0.5)}}
	aboveWithinBuffer := []geo.Feature{{Geometry: square(0, 2.5, 0.4)}}

	assert.Empty(t, Cull(justOutside, view, 10, 0), "without buffer the gap excludes it")
	assert.Len(t, Cull(justOutside, view, 10, DefaultBuffer), 1)
	assert.Empty(t, Cull(farOutside, view, 10, DefaultBuffer))
	assert.Len(t, Cull(aboveWithinBuffer, view, 10, DefaultBuffer), 1,
		"vertical margin also uses the width")
}

func TestCull_SampledBounds(t *testing.T) {
	// A long concave ring whose sampled vertices still cover its extent.
	ring := orb.Ring{{0, 0}, {5, 0}, {5, 5}, {2.5, 1}, {0, 5}, {0, 0}}
	features := []geo.Feature{{Geometry: orb.Polygon{ring}}}

	hit := geo.BBox{MinLng: 4, MinLat: 3, MaxLng: 6, MaxLat: 6}
	assert.Len(t, Cull(features, hit, 11, 0), 1)

	miss := geo.BBox{MinLng: 40, MinLat: 40, MaxLng: 41, MaxLat: 41}
	assert.Empty(t, Cull(features, miss, 11, 0))
}

func TestCull_MultiPolygonParts(t *testing.T) {
	mp := orb.MultiPolygon{square(0, 0, 1), square(50, 50, 1)}
	features := []geo.Feature{{Geometry: mp}}

	// Either part intersecting keeps the whole feature.
	assert.Len(t, Cull(features, geo.BBox{MinLng: 50.2, MinLat: 50.2, MaxLng: 50.4, MaxLat: 50.4}, 12, 0), 1)
	assert.Empty(t, Cull(features, geo.BBox{MinLng: 20, MinLat: 20, MaxLng: 21, MaxLat: 21}, 12, 0))
}

func TestCull_Empty(t *testing.T) {
	view := geo.BBox{MinLng: 0, MinLat: 0, MaxLng: 1, MaxLat: 1}
	assert.Empty(t, Cull(nil, view, 12, DefaultBuffer))
}

func BenchmarkCull5k(b *testing.B) {
	features := make([]geo.Feature, 5000)
	for i := range features {
		// 50x50 grid of unit squares around the origin.
		x := float64(i%50) * 0.1
		y := float64(i/50) * 0.1
		features[i] = geo.Feature{Geometry: square(x, y, 0.09)}
	}
	view := geo.BBox{MinLng: 1, MinLat: 1, MaxLng: 3, MaxLat: 3}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if out := Cull(features, view, 10, DefaultBuffer); len(out) == 0 {
			b.Fatal(fmt.Sprintf("no features in view at iteration %d", i))
		}
	}
}
