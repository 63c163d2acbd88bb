package choropleth

import (
	"math"
	"sort"

	"github.com/sells-group/densimap/internal/geo"
)

// Scale classifies density values into palette buckets using rank-based
// quantile thresholds built from one year's observed densities.
type Scale struct {
	thresholds []float64
	palette    Palette
}

// BuildScale computes the quantile thresholds for one year. With k palette
// colors and n sorted finite densities, threshold i-1 (for i in 1..k-1) is
// the sorted value at index floor(i*n/k). Rank-based cuts keep extreme
// outliers from washing out the ramp. The input slice is not modified.
func BuildScale(densities []float64, p Palette) (Scale, error) {
	if err := p.Validate(); err != nil {
		return Scale{}, err
	}

	finite := make([]float64, 0, len(densities))
	for _, d := range densities {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		finite = append(finite, d)
	}
	sort.Float64s(finite)

	n := len(finite)
	k := len(p.Colors)
	var thresholds []float64
	if n > 0 {
		thresholds = make([]float64, 0, k-1)
		for i := 1; i < k; i++ {
			idx := i * n / k
			if idx > n-1 {
				idx = n - 1
			}
			thresholds = append(thresholds, finite[idx])
		}
	}
	return Scale{thresholds: thresholds, palette: p}, nil
}

// Bucket returns the palette index for a finite density: the first bucket
// whose threshold the value does not exceed, or the last bucket beyond the
// final threshold.
func (s Scale) Bucket(v float64) int {
	if len(s.thresholds) == 0 {
		return 0
	}
	for i, t := range s.thresholds {
		if v <= t {
			return i
		}
	}
	return len(s.palette.Colors) - 1
}

// Color maps a density to its fill color. Missing or non-finite densities get
// the palette's fixed no-data color regardless of the year's data.
func (s Scale) Color(density *float64) geo.RGBA {
	if density == nil || math.IsNaN(*density) || math.IsInf(*density, 0) {
		return s.palette.NoData
	}
	return s.palette.Colors[s.Bucket(*density)]
}

// Legend is the render-ready description of one year's scale.
type Legend struct {
	Thresholds []float64 `json:"thresholds"`
	Colors     []string  `json:"colors"`
	NoData     string    `json:"no_data"`
}

// Legend exports the scale for map legends and the HTTP API.
func (s Scale) Legend() Legend {
	colors := make([]string, len(s.palette.Colors))
	for i, c := range s.palette.Colors {
		colors[i] = c.Hex()
	}
	return Legend{
		Thresholds: append([]float64(nil), s.thresholds...),
		Colors:     colors,
		NoData:     s.palette.NoData.Hex(),
	}
}
