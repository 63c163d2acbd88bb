package census

import (
	"github.com/sells-group/densimap/internal/geo"
)

// Augment joins population values onto features by the named property and
// derives density. It is pure: the returned slice holds fresh feature values
// and the inputs are never modified, so one base collection can be augmented
// once per year.
//
// A matched feature gets Population, HasData, and, when its area is known and
// positive, Density = population / area. Unmatched features and features
// without a usable join key keep nil population and density and HasData
// false.
func Augment(features []geo.Feature, byCode map[string]float64, joinKeyProp string) []geo.Feature {
	out := make([]geo.Feature, len(features))
	for i := range features {
		f := features[i]
		f.Population = nil
		f.Density = nil
		f.HasData = false
		f.Color = nil

		if key, ok := f.StringProp(joinKeyProp); ok {
			if pop, found := byCode[key]; found {
				p := pop
				f.Population = &p
				f.HasData = true
				if f.AreaKm2 != nil && *f.AreaKm2 > 0 {
					d := pop / *f.AreaKm2
					f.Density = &d
				}
			}
		}
		out[i] = f
	}
	return out
}
