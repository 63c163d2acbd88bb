// Package lod thins feature sets for low zoom levels: at street zooms every
// boundary renders, at country zooms only the largest fraction survives, so
// interactive pan and zoom stay responsive on tens of thousands of features.
package lod

import (
	"math"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sells-group/densimap/internal/geo"
)

// FullDetailZoom is the zoom level at and above which nothing is filtered.
const FullDetailZoom = 11

// Band maps a zoom lower bound (inclusive) to the fraction of features kept.
type Band struct {
	MinZoom  float64 `json:"min_zoom" mapstructure:"min_zoom"`
	Fraction float64 `json:"fraction" mapstructure:"fraction"`
}

// DefaultBands is the standard detail schedule. The sub-6 floor keeps a
// country-level overview from ever dropping to nothing.
func DefaultBands() []Band {
	return []Band{
		{MinZoom: 11, Fraction: 1.0},
		{MinZoom: 10, Fraction: 0.5},
		{MinZoom: 9, Fraction: 0.2},
		{MinZoom: 8, Fraction: 0.08},
		{MinZoom: 7, Fraction: 0.03},
		{MinZoom: 6, Fraction: 0.01},
	}
}

const floorFraction = 0.005

// Filter applies the band schedule over an area-descending sort of the
// feature set. The sort is cached in a single slot keyed by collection
// identity, so repeated queries against the same collection only pay for the
// prefix slice; switching collections recomputes. Safe for concurrent use.
type Filter struct {
	bands  []Band // sorted by MinZoom descending
	cached atomic.Pointer[sortEntry]
	hits   atomic.Int64
	misses atomic.Int64
}

type sortEntry struct {
	source *geo.Collection
	sorted []geo.Feature // positive finite areas only, area-descending
}

// New creates a Filter with the given band schedule, or DefaultBands when nil.
func New(bands []Band) *Filter {
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	sorted := append([]Band(nil), bands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinZoom > sorted[j].MinZoom })
	return &Filter{bands: sorted}
}

// Fraction returns the kept fraction for a zoom level.
func (f *Filter) Fraction(zoom float64) float64 {
	for _, b := range f.bands {
		if zoom >= b.MinZoom {
			return b.Fraction
		}
	}
	return floorFraction
}

// ByZoom returns the features to render at the given zoom. At or above
// FullDetailZoom the input is returned unfiltered, including features without
// a computable area. Below it, only features with a positive finite area
// participate; the result is always a prefix of their area-descending order,
// never fewer than one feature when any are eligible.
func (f *Filter) ByZoom(c *geo.Collection, zoom float64) []geo.Feature {
	if c == nil {
		return nil
	}
	if zoom >= FullDetailZoom {
		return c.Features
	}

	sorted := f.sortedByArea(c)
	if len(sorted) == 0 {
		return nil
	}

	frac := f.Fraction(zoom)
	keep := int(math.Floor(float64(len(sorted)) * frac))
	if keep < 1 {
		keep = 1
	}
	if keep > len(sorted) {
		keep = len(sorted)
	}
	return sorted[:keep]
}

// Invalidate drops the cached sort.
func (f *Filter) Invalidate() {
	f.cached.Store(nil)
}

// Stats reports sort-cache behavior for the metrics endpoint.
func (f *Filter) Stats() (hits, misses int64) {
	return f.hits.Load(), f.misses.Load()
}

// sortedByArea returns the cached area-descending sort for this collection,
// computing and swapping it in on identity mismatch. Readers always see
// either the previous complete sort or the new one.
func (f *Filter) sortedByArea(c *geo.Collection) []geo.Feature {
	if e := f.cached.Load(); e != nil && e.source == c {
		f.hits.Add(1)
		return e.sorted
	}
	f.misses.Add(1)

	eligible := make([]geo.Feature, 0, len(c.Features))
	for i := range c.Features {
		a := c.Features[i].AreaKm2
		if a == nil || *a <= 0 || math.IsNaN(*a) || math.IsInf(*a, 0) {
			continue
		}
		eligible = append(eligible, c.Features[i])
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return *eligible[i].AreaKm2 > *eligible[j].AreaKm2
	})

	f.cached.Store(&sortEntry{source: c, sorted: eligible})
	zap.L().Debug("lod: sorted feature set",
		zap.Int("features", len(c.Features)), zap.Int("eligible", len(eligible)))
	return eligible
}
