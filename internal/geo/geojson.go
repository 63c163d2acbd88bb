package geo

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Property names stamped onto marshaled output features.
const (
	PropAreaKm2    = "area_km2"
	PropPopulation = "population"
	PropDensity    = "density"
	PropHasData    = "has_population_data"
	PropFillColor  = "fill_color"
)

// UnmarshalCollection parses a GeoJSON FeatureCollection into the internal
// model. Features with null or absent geometry are kept with nil geometry;
// features with non-polygonal geometry are dropped. Returns the collection and
// the number of dropped features.
func UnmarshalCollection(data []byte) (*Collection, int, error) {
	var doc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, eris.Wrap(err, "geo: parse feature collection")
	}
	if doc.Type != "FeatureCollection" {
		return nil, 0, eris.Errorf("geo: expected FeatureCollection, got %q", doc.Type)
	}

	features := make([]Feature, 0, len(doc.Features))
	skipped := 0
	for i, raw := range doc.Features {
		f, ok := unmarshalFeature(raw)
		if !ok {
			skipped++
			zap.L().Debug("geo: skipping non-polygonal feature", zap.Int("index", i))
			continue
		}
		features = append(features, f)
	}
	if skipped > 0 {
		zap.L().Info("geo: dropped non-polygonal features",
			zap.Int("dropped", skipped), zap.Int("kept", len(features)))
	}
	return &Collection{Features: features}, skipped, nil
}

func unmarshalFeature(raw json.RawMessage) (Feature, bool) {
	f, err := geojson.UnmarshalFeature(raw)
	if err == nil {
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			return Feature{Geometry: f.Geometry, Properties: f.Properties}, true
		case nil:
			return Feature{Properties: f.Properties}, true
		default:
			return Feature{}, false
		}
	}
	// Null geometry trips some decoders; salvage the property shell.
	var shell struct {
		Geometry   json.RawMessage    `json:"geometry"`
		Properties geojson.Properties `json:"properties"`
	}
	if json.Unmarshal(raw, &shell) != nil {
		return Feature{}, false
	}
	if len(shell.Geometry) > 0 && !bytes.Equal(bytes.TrimSpace(shell.Geometry), []byte("null")) {
		return Feature{}, false
	}
	return Feature{Properties: shell.Properties}, true
}

// MarshalCollection renders the collection as a GeoJSON FeatureCollection,
// stamping the derived fields into each output feature's properties. Features
// whose area could not be computed carry an explicit null area_km2.
func MarshalCollection(c *Collection) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	if c != nil {
		if bb, ok := CollectionBounds(c); ok {
			arr := bb.Array()
			fc.BBox = arr[:]
		}
		for i := range c.Features {
			fc.Append(marshalFeature(&c.Features[i]))
		}
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, eris.Wrap(err, "geo: marshal feature collection")
	}
	return data, nil
}

func marshalFeature(f *Feature) *geojson.Feature {
	out := geojson.NewFeature(f.Geometry)
	for k, v := range f.Properties {
		out.Properties[k] = v
	}
	if f.AreaKm2 != nil {
		out.Properties[PropAreaKm2] = *f.AreaKm2
	} else {
		out.Properties[PropAreaKm2] = nil
	}
	out.Properties[PropHasData] = f.HasData
	if f.Population != nil {
		out.Properties[PropPopulation] = *f.Population
	}
	if f.Density != nil {
		out.Properties[PropDensity] = *f.Density
	}
	if f.Color != nil {
		out.Properties[PropFillColor] = f.Color.Hex()
	}
	return out
}

// UnmarshalStoredCollection parses a FeatureCollection previously produced by
// MarshalCollection, lifting the stamped properties back into the derived
// fields so zoom filtering and rendering see them again.
func UnmarshalStoredCollection(data []byte) (*Collection, error) {
	c, _, err := UnmarshalCollection(data)
	if err != nil {
		return nil, err
	}
	for i := range c.Features {
		f := &c.Features[i]
		if v, ok := numProp(f.Properties, PropAreaKm2); ok {
			f.AreaKm2 = &v
		}
		if v, ok := numProp(f.Properties, PropPopulation); ok {
			f.Population = &v
		}
		if v, ok := numProp(f.Properties, PropDensity); ok {
			f.Density = &v
		}
		if b, ok := f.Properties[PropHasData].(bool); ok {
			f.HasData = b
		}
		if s, ok := f.Properties[PropFillColor].(string); ok {
			if col, err := ParseHex(s); err == nil {
				f.Color = &col
			}
		}
	}
	return c, nil
}

func numProp(p geojson.Properties, key string) (float64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// LoadFile reads and parses a GeoJSON file from disk.
func LoadFile(path string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: read %s", path)
	}
	c, _, err := UnmarshalCollection(data)
	return c, err
}
