package render

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
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

func cptr(c geo.RGBA) *geo.RGBA { return &c }

// pixel samples one pixel as an 8-bit RGBA value.
func pixel(t *testing.T, img image.Image, x, y int) geo.RGBA {
	t.Helper()
	r, g, b, a := img.At(x, y).RGBA()
	return geo.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

var (
	red  = geo.RGBA{R: 0xff, A: 0xff}
	blue = geo.RGBA{B: 0xff, A: 0xff}
)

func TestImage_FillsFeatureColors(t *testing.T) {
	c := geo.NewCollection([]geo.Feature{
		{Geometry: square(0, 0, 1), Color: cptr(red)},
		{Geometry: square(2, 0, 1), Color: cptr(blue)},
	})

	// Collection bbox is (0,0)-(3,1): with width 320 and padding 10 the inner
	// 300 pixels give 100 px per degree of longitude.
	img, err := Image(c, Options{Width: 320, Padding: 10})
	require.NoError(t, err)

	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 120, img.Bounds().Dy())

	white := geo.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	assert.Equal(t, red, pixel(t, img, 60, 60), "center of the first square")
	assert.Equal(t, blue, pixel(t, img, 260, 60), "center of the second square")
	assert.Equal(t, white, pixel(t, img, 160, 60), "gap between the squares")
	assert.Equal(t, white, pixel(t, img, 5, 5), "padding margin")
}

func TestImage_NoDataFallback(t *testing.T) {
	c := geo.NewCollection([]geo.Feature{
		{Geometry: square(0, 0, 1)},
	})

	img, err := Image(c, Options{Width: 120, Padding: 10})
	require.NoError(t, err)

	got := pixel(t, img, 60, 60)
	assert.Equal(t, geo.RGBA{R: 0xb0, G: 0xb0, B: 0xb0, A: 0xff}, got)
}

func TestImage_HoleIsNotFilled(t *testing.T) {
	outer := orb.Ring{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}}
	hole := orb.Ring{{1, 1}, {3, 1}, {3, 3}, {1, 3}, {1, 1}}
	c := geo.NewCollection([]geo.Feature{
		{Geometry: orb.Polygon{outer, hole}, Color: cptr(blue)},
	})

	img, err := Image(c, Options{Width: 120, Padding: 10})
	require.NoError(t, err)

	white := geo.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	assert.Equal(t, white, pixel(t, img, 60, 60), "hole center shows the background")
	assert.Equal(t, blue, pixel(t, img, 22, 97), "ring between outer edge and hole is filled")
}

func TestImage_MultiPolygonParts(t *testing.T) {
	mp := orb.MultiPolygon{square(0, 0, 1), square(2, 0, 1)}
	c := geo.NewCollection([]geo.Feature{
		{Geometry: mp, Color: cptr(red)},
	})

	img, err := Image(c, Options{Width: 320, Padding: 10})
	require.NoError(t, err)

	assert.Equal(t, red, pixel(t, img, 60, 60))
	assert.Equal(t, red, pixel(t, img, 260, 60))
	assert.Equal(t, geo.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, pixel(t, img, 160, 60),
		"the gap between parts stays empty")
}

func TestImage_StrokeOutline(t *testing.T) {
	c := geo.NewCollection([]geo.Feature{
		{Geometry: square(0, 0, 2), Color: cptr(red)},
	})

	img, err := Image(c, Options{
		Width:       120,
		Padding:     10,
		StrokeWidth: 2,
		StrokeColor: geo.RGBA{A: 0xff},
	})
	require.NoError(t, err)

	// The left edge of the square projects to x=10; the stroke is centered on
	// the path, so the pixel on the edge midpoint is black.
	edge := pixel(t, img, 10, 60)
	assert.Less(t, int(edge.R), 80, "stroke darkens the boundary, got %+v", edge)
	assert.Equal(t, red, pixel(t, img, 60, 60), "interior fill survives the stroke")
}

func TestImage_EmptyCollection(t *testing.T) {
	_, err := Image(geo.NewCollection(nil), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty collection")
}

func TestImage_NoGeometry(t *testing.T) {
	c := geo.NewCollection([]geo.Feature{{Geometry: nil}})
	_, err := Image(c, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no geometry")
}

func TestImage_DegenerateExtent(t *testing.T) {
	c := geo.NewCollection([]geo.Feature{
		{Geometry: square(1, 1, 0)},
	})
	_, err := Image(c, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degenerate extent")
}

func TestImage_HeightFollowsAspect(t *testing.T) {
	// Extent spans 4 degrees of longitude and 2 of latitude centered on the
	// equator, so the canvas height is half the inner width plus padding.
	c := geo.NewCollection([]geo.Feature{
		{Geometry: square(0, -1, 0.1), Color: cptr(red)},
		{Geometry: square(3.9, 0.9, 0.1), Color: cptr(blue)},
	})

	img, err := Image(c, Options{Width: 420, Padding: 10})
	require.NoError(t, err)
	assert.Equal(t, 420, img.Bounds().Dx())
	assert.Equal(t, 220, img.Bounds().Dy())
}

func TestEncodePNG(t *testing.T) {
	c := geo.NewCollection([]geo.Feature{
		{Geometry: square(0, 0, 1), Color: cptr(blue)},
	})

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, c, Options{Width: 120, Padding: 10}))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
}

func TestSavePNG(t *testing.T) {
	c := geo.NewCollection([]geo.Feature{
		{Geometry: square(0, 0, 1), Color: cptr(red)},
	})

	path := filepath.Join(t.TempDir(), "map.png")
	require.NoError(t, SavePNG(path, c, Options{Width: 120, Padding: 10}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
}
