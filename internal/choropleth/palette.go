// Package choropleth classifies population densities into color buckets using
// rank-based quantiles, independently per year.
package choropleth

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/densimap/internal/geo"
)

// Palette is an ordered light-to-dark color ramp plus the fixed color for
// features without population data.
type Palette struct {
	Colors []geo.RGBA
	NoData geo.RGBA
}

// NoDataGray is the default fill for features without population data. It is
// a constant of the visual language, never derived from the data.
var NoDataGray = geo.RGBA{R: 0xb0, G: 0xb0, B: 0xb0, A: 0xff}

// blueAnchors are the 9-class sequential blues the default ramp interpolates.
var blueAnchors = []geo.RGBA{
	{R: 0xf7, G: 0xfb, B: 0xff, A: 0xff},
	{R: 0xde, G: 0xeb, B: 0xf7, A: 0xff},
	{R: 0xc6, G: 0xdb, B: 0xef, A: 0xff},
	{R: 0x9e, G: 0xca, B: 0xe1, A: 0xff},
	{R: 0x6b, G: 0xae, B: 0xd6, A: 0xff},
	{R: 0x42, G: 0x92, B: 0xc6, A: 0xff},
	{R: 0x21, G: 0x71, B: 0xb5, A: 0xff},
	{R: 0x08, G: 0x51, B: 0x9c, A: 0xff},
	{R: 0x08, G: 0x30, B: 0x6b, A: 0xff},
}

// Default returns the standard 20-step sequential blue palette.
func Default() Palette {
	return Palette{Colors: Ramp(blueAnchors, 20), NoData: NoDataGray}
}

// Ramp interpolates n colors evenly along the anchor polyline.
func Ramp(anchors []geo.RGBA, n int) []geo.RGBA {
	if n <= 0 || len(anchors) == 0 {
		return nil
	}
	if len(anchors) == 1 {
		out := make([]geo.RGBA, n)
		for i := range out {
			out[i] = anchors[0]
		}
		return out
	}
	out := make([]geo.RGBA, n)
	for i := range out {
		pos := 0.0
		if n > 1 {
			pos = float64(i) / float64(n-1) * float64(len(anchors)-1)
		}
		seg := int(pos)
		if seg >= len(anchors)-1 {
			out[i] = anchors[len(anchors)-1]
			continue
		}
		frac := pos - float64(seg)
		out[i] = lerp(anchors[seg], anchors[seg+1], frac)
	}
	return out
}

func lerp(a, b geo.RGBA, t float64) geo.RGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	return geo.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}

// Validate rejects palettes too short to classify with.
func (p Palette) Validate() error {
	if len(p.Colors) < 2 {
		return eris.Errorf("choropleth: palette needs at least 2 colors, got %d", len(p.Colors))
	}
	return nil
}

type paletteFile struct {
	Colors []string `yaml:"colors"`
	NoData string   `yaml:"nodata"`
}

// Load reads a YAML color ramp: a `colors` list of hex strings and an
// optional `nodata` hex (defaults to the standard gray).
func Load(path string) (Palette, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Palette{}, eris.Wrapf(err, "choropleth: read palette %s", path)
	}
	var pf paletteFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Palette{}, eris.Wrapf(err, "choropleth: parse palette %s", path)
	}

	p := Palette{NoData: NoDataGray}
	for _, hex := range pf.Colors {
		c, err := geo.ParseHex(hex)
		if err != nil {
			return Palette{}, eris.Wrapf(err, "choropleth: palette %s", path)
		}
		p.Colors = append(p.Colors, c)
	}
	if pf.NoData != "" {
		c, err := geo.ParseHex(pf.NoData)
		if err != nil {
			return Palette{}, eris.Wrapf(err, "choropleth: palette %s", path)
		}
		p.NoData = c
	}
	if err := p.Validate(); err != nil {
		return Palette{}, err
	}
	return p, nil
}
