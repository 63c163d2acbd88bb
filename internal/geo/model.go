// Package geo holds the boundary feature model shared by every pipeline stage:
// polygonal geometry, the caller's source properties, and the derived fields
// (area, population, density, fill color) the stages compute.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
)

// Feature pairs one administrative unit's geometry with its source properties
// and the fields derived from them. Geometry and Properties are shared by
// reference across derived copies and must not be mutated; the derived fields
// are per-copy values.
type Feature struct {
	Geometry   orb.Geometry
	Properties geojson.Properties

	AreaKm2    *float64
	Population *float64
	Density    *float64
	HasData    bool
	Color      *RGBA
}

// StringProp reads a property as a string. Numeric property values (as
// produced by JSON decoding) are formatted without a fractional part when
// integral, so numeric region codes join against string-keyed tables.
func (f *Feature) StringProp(key string) (string, bool) {
	if f.Properties == nil {
		return "", false
	}
	v, ok := f.Properties[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		s := fmt.Sprint(t)
		return s, s != ""
	}
}

// Collection is an ordered set of features. Pipeline stages that cache work
// per feature set key it by the *Collection pointer, so callers should reuse
// the same Collection value for repeated queries over unchanged data.
type Collection struct {
	Features []Feature
}

// NewCollection wraps features in a Collection.
func NewCollection(features []Feature) *Collection {
	return &Collection{Features: features}
}

// Len returns the number of features.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Features)
}

// DeduplicateByProperty drops features whose named property repeats an earlier
// feature's value, keeping the first occurrence. Features missing the property
// are always kept. Returns the deduplicated collection and the number removed.
func DeduplicateByProperty(c *Collection, key string) (*Collection, int) {
	if c == nil || key == "" {
		return c, 0
	}
	seen := make(map[string]struct{}, len(c.Features))
	out := make([]Feature, 0, len(c.Features))
	removed := 0
	for _, f := range c.Features {
		val, ok := f.StringProp(key)
		if !ok {
			out = append(out, f)
			continue
		}
		if _, dup := seen[val]; dup {
			removed++
			continue
		}
		seen[val] = struct{}{}
		out = append(out, f)
	}
	return &Collection{Features: out}, removed
}

// RGBA is an 8-bit-per-channel fill color.
type RGBA struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// Hex formats the color as #rrggbb, or #rrggbbaa when not fully opaque.
func (c RGBA) Hex() string {
	if c.A == 0xff {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// ParseHex parses #rgb, #rrggbb, or #rrggbbaa color strings.
func ParseHex(s string) (RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(h) {
	case 3:
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	case 6, 8:
	default:
		return RGBA{}, eris.Errorf("geo: bad hex color %q", s)
	}
	v, err := strconv.ParseUint(h[:6], 16, 32)
	if err != nil {
		return RGBA{}, eris.Wrapf(err, "geo: bad hex color %q", s)
	}
	c := RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
	if len(h) == 8 {
		a, err := strconv.ParseUint(h[6:8], 16, 16)
		if err != nil {
			return RGBA{}, eris.Wrapf(err, "geo: bad hex alpha %q", s)
		}
		c.A = uint8(a)
	}
	return c, nil
}
