package lod

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/densimap/internal/geo"
)

func fptr(v float64) *float64 { return &v }

// collectionOf builds n features with distinct areas in shuffled order.
func collectionOf(n int) *geo.Collection {
	rng := rand.New(rand.NewSource(42))
	features := make([]geo.Feature, n)
	for i := range features {
		features[i] = geo.Feature{AreaKm2: fptr(float64(i + 1))}
	}
	rng.Shuffle(n, func(i, j int) {
		features[i], features[j] = features[j], features[i]
	})
	return geo.NewCollection(features)
}

func TestFilter_FullDetailAtHighZoom(t *testing.T) {
	f := New(nil)
	c := geo.NewCollection([]geo.Feature{
		{AreaKm2: fptr(1)},
		{AreaKm2: nil}, // no area
		{AreaKm2: fptr(2)},
	})

	for _, zoom := range []float64{11, 11.5, 14, 18} {
		out := f.ByZoom(c, zoom)
		assert.Len(t, out, 3, "zoom %v keeps everything", zoom)
	}
	out := f.ByZoom(c, 10)
	for i := range out {
		require.NotNil(t, out[i].AreaKm2, "no-area features excluded below full detail")
	}
}

func TestFilter_Fractions(t *testing.T) {
	f := New(nil)
	c := collectionOf(10000)

	tests := []struct {
		zoom float64
		want int
	}{
		{12, 10000},
		{11, 10000},
		{10, 5000},
		{9, 2000},
		{8, 800},
		{7, 300},
		{6, 100},
		{5, 50},
		{0, 50},
	}
	for _, tt := range tests {
		assert.Len(t, f.ByZoom(c, tt.zoom), tt.want, "zoom %v", tt.zoom)
	}
}

func TestFilter_AtLeastOne(t *testing.T) {
	f := New(nil)
	c := collectionOf(3)
	assert.Len(t, f.ByZoom(c, 2), 1, "never thins a non-empty set to zero")

	empty := geo.NewCollection([]geo.Feature{{AreaKm2: nil}})
	assert.Empty(t, f.ByZoom(empty, 8), "nothing eligible, nothing kept")
	assert.Nil(t, f.ByZoom(nil, 8))
}

func TestFilter_AreaDescendingPrefix(t *testing.T) {
	f := New(nil)
	c := collectionOf(1000)

	out := f.ByZoom(c, 8)
	require.Len(t, out, 80)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, *out[i-1].AreaKm2, *out[i].AreaKm2, "area-descending")
	}
	// The largest areas win: 1000 down to 921.
	assert.InDelta(t, 1000.0, *out[0].AreaKm2, 1e-9)
	assert.InDelta(t, 921.0, *out[79].AreaKm2, 1e-9)
}

func TestFilter_MonotoneInZoom(t *testing.T) {
	f := New(nil)
	c := collectionOf(500)

	prev := f.ByZoom(c, 5)
	for _, zoom := range []float64{6, 7, 8, 9, 10, 11} {
		cur := f.ByZoom(c, zoom)
		require.GreaterOrEqual(t, len(cur), len(prev), "zoom %v", zoom)
		if zoom < FullDetailZoom {
			for i := range prev {
				assert.Equal(t, *prev[i].AreaKm2, *cur[i].AreaKm2,
					"lower-zoom set is a prefix of higher-zoom set")
			}
		}
		prev = cur
	}
}

func TestFilter_CacheIdentity(t *testing.T) {
	f := New(nil)
	c1 := collectionOf(100)

	f.ByZoom(c1, 8)
	f.ByZoom(c1, 7)
	f.ByZoom(c1, 6)
	hits, misses := f.Stats()
	assert.Equal(t, int64(2), hits, "same collection re-queries hit the slot")
	assert.Equal(t, int64(1), misses)

	// Equal contents, different identity: the slot swaps.
	c2 := collectionOf(100)
	f.ByZoom(c2, 8)
	_, misses = f.Stats()
	assert.Equal(t, int64(2), misses)

	f.Invalidate()
	f.ByZoom(c2, 8)
	_, misses = f.Stats()
	assert.Equal(t, int64(3), misses, "invalidate forces a re-sort")
}

func TestFilter_CustomBands(t *testing.T) {
	f := New([]Band{{MinZoom: 5, Fraction: 0.5}, {MinZoom: 8, Fraction: 1.0}})
	c := collectionOf(100)

	assert.Len(t, f.ByZoom(c, 9), 100)
	assert.Len(t, f.ByZoom(c, 6), 50)
	assert.Len(t, f.ByZoom(c, 2), 1, "below all bands the floor fraction applies")
}

func TestFilter_ConcurrentReadsAndInvalidates(t *testing.T) {
	f := New(nil)
	c1 := collectionOf(2000)
	c2 := collectionOf(2000)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				src := c1
				if (i+w)%3 == 0 {
					src = c2
				}
				out := f.ByZoom(src, 7)
				// A reader sees a complete sort or none, never a torn one.
				assert.Len(t, out, 60)
				assert.InDelta(t, 2000.0, *out[0].AreaKm2, 1e-9)
				if i%17 == 0 {
					f.Invalidate()
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestFilter_ZoomSevenScale(t *testing.T) {
	f := New(nil)
	c := collectionOf(40000)

	out := f.ByZoom(c, 7)
	assert.Len(t, out, 1200)
	assert.Less(t, len(out), 2000, "country-level zoom renders a small fraction")
}

func TestFilter_NonFiniteAreasExcluded(t *testing.T) {
	f := New(nil)
	c := geo.NewCollection([]geo.Feature{
		{AreaKm2: fptr(math.Inf(1))},
		{AreaKm2: fptr(math.NaN())},
		{AreaKm2: fptr(-1)},
		{AreaKm2: fptr(0)},
		{AreaKm2: fptr(5)},
	})
	out := f.ByZoom(c, 8)
	require.Len(t, out, 1)
	assert.InDelta(t, 5.0, *out[0].AreaKm2, 1e-9)
}

func BenchmarkFilter_ByZoomWarm40k(b *testing.B) {
	f := New(nil)
	c := collectionOf(40000)
	f.ByZoom(c, 7) // prime the sort slot

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if out := f.ByZoom(c, 7); len(out) == 0 {
			b.Fatal("empty result")
		}
	}
}

func BenchmarkFilter_ByZoomCold40k(b *testing.B) {
	f := New(nil)
	c := collectionOf(40000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Invalidate()
		if out := f.ByZoom(c, 7); len(out) == 0 {
			b.Fatal("empty result")
		}
	}
}
