// Package render rasterizes a colored feature collection to a PNG map.
// Features arrive with their fill colors already computed; rendering is a
// plain equirectangular fit of the collection's bounding box onto the canvas.
package render

import (
	"image"
	"io"
	"math"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/densimap/internal/choropleth"
	"github.com/sells-group/densimap/internal/geo"
)

// Options controls canvas size and styling. Zero values fall back to the
// defaults below.
type Options struct {
	Width       int      // canvas width in pixels (default 1600)
	Padding     int      // margin on every side in pixels (default 16)
	Background  geo.RGBA // canvas fill (default white)
	StrokeWidth float64  // boundary outline width in pixels, 0 disables
	StrokeColor geo.RGBA // outline color (default dark gray)
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1600
	}
	if o.Padding < 0 {
		o.Padding = 0
	} else if o.Padding == 0 {
		o.Padding = 16
	}
	if o.Background == (geo.RGBA{}) {
		o.Background = geo.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	}
	if o.StrokeColor == (geo.RGBA{}) {
		o.StrokeColor = geo.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}
	}
	return o
}

// projector maps lng/lat onto pixel coordinates. The vertical scale carries a
// cos(mid-latitude) correction so mid-latitude regions keep their shape; Y is
// flipped because image rows grow downward.
type projector struct {
	minLng, maxLat float64
	sx, sy         float64
	pad            float64
}

func (p projector) point(pt orb.Point) (float64, float64) {
	return (pt[0]-p.minLng)*p.sx + p.pad, (p.maxLat-pt[1])*p.sy + p.pad
}

func fitProjector(b geo.BBox, opts Options) (projector, int, error) {
	lngSpan := b.MaxLng - b.MinLng
	latSpan := b.MaxLat - b.MinLat
	if lngSpan <= 0 || latSpan <= 0 {
		return projector{}, 0, eris.Errorf("render: degenerate extent %v", b.Array())
	}

	inner := float64(opts.Width - 2*opts.Padding)
	if inner <= 0 {
		return projector{}, 0, eris.Errorf("render: width %d leaves no drawing area", opts.Width)
	}

	midLat := (b.MinLat + b.MaxLat) / 2
	cosLat := math.Cos(midLat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}

	sx := inner / lngSpan
	sy := sx / cosLat
	height := int(latSpan*sy+0.5) + 2*opts.Padding
	return projector{
		minLng: b.MinLng,
		maxLat: b.MaxLat,
		sx:     sx,
		sy:     sy,
		pad:    float64(opts.Padding),
	}, height, nil
}

// Image rasterizes the collection. Features without geometry are skipped;
// features without a computed color are filled with the standard no-data gray.
// Hole rings cut through their outer ring via the even-odd fill rule.
func Image(c *geo.Collection, opts Options) (image.Image, error) {
	dc, err := draw(c, opts)
	if err != nil {
		return nil, err
	}
	return dc.Image(), nil
}

// EncodePNG rasterizes the collection and writes it to w as PNG.
func EncodePNG(w io.Writer, c *geo.Collection, opts Options) error {
	dc, err := draw(c, opts)
	if err != nil {
		return err
	}
	if err := dc.EncodePNG(w); err != nil {
		return eris.Wrap(err, "render: encode png")
	}
	return nil
}

// SavePNG rasterizes the collection and writes it to path.
func SavePNG(path string, c *geo.Collection, opts Options) error {
	dc, err := draw(c, opts)
	if err != nil {
		return err
	}
	if err := dc.SavePNG(path); err != nil {
		return eris.Wrapf(err, "render: save %s", path)
	}
	return nil
}

func draw(c *geo.Collection, opts Options) (*gg.Context, error) {
	if c.Len() == 0 {
		return nil, eris.New("render: empty collection")
	}
	bounds, ok := geo.CollectionBounds(c)
	if !ok {
		return nil, eris.New("render: collection has no geometry")
	}

	opts = opts.withDefaults()
	proj, height, err := fitProjector(bounds, opts)
	if err != nil {
		return nil, err
	}

	dc := gg.NewContext(opts.Width, height)
	dc.SetFillRule(gg.FillRuleEvenOdd)
	setColor(dc, opts.Background)
	dc.Clear()

	for i := range c.Features {
		f := &c.Features[i]
		switch t := f.Geometry.(type) {
		case orb.Polygon:
			tracePolygon(dc, proj, t)
		case orb.MultiPolygon:
			for _, p := range t {
				tracePolygon(dc, proj, p)
			}
		default:
			continue
		}

		setColor(dc, fillColor(f))
		if opts.StrokeWidth > 0 {
			dc.FillPreserve()
			setColor(dc, opts.StrokeColor)
			dc.SetLineWidth(opts.StrokeWidth)
			dc.Stroke()
		} else {
			dc.Fill()
		}
	}
	return dc, nil
}

// tracePolygon adds every ring as a subpath. With the even-odd fill rule the
// hole rings punch through regardless of their winding order.
func tracePolygon(dc *gg.Context, proj projector, p orb.Polygon) {
	for _, ring := range p {
		if len(ring) < 3 {
			continue
		}
		dc.NewSubPath()
		x, y := proj.point(ring[0])
		dc.MoveTo(x, y)
		for _, pt := range ring[1:] {
			x, y = proj.point(pt)
			dc.LineTo(x, y)
		}
		dc.ClosePath()
	}
}

func fillColor(f *geo.Feature) geo.RGBA {
	if f.Color != nil {
		return *f.Color
	}
	return choropleth.NoDataGray
}

func setColor(dc *gg.Context, c geo.RGBA) {
	dc.SetRGBA255(int(c.R), int(c.G), int(c.B), int(c.A))
}
