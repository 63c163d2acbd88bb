// Package vfr parses state-registry exchange format boundary files (VFR,
// GML 3.2.1) into boundary features. Units are streamed off the decoder one
// element at a time, so multi-hundred-megabyte extracts parse without
// buffering the document.
package vfr

import (
	"context"
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/densimap/internal/geo"
)

// Options select which administrative level to extract.
type Options struct {
	// UnitElement is the local name of the unit element to extract, for
	// example "Obec" (municipality), "Okres" (district) or "Kraj" (region).
	// Empty means "Obec".
	UnitElement string
}

const defaultUnitElement = "Obec"

// Parse extracts boundary features from a VFR stream. Each unit element
// yields one feature: its Kod child becomes the uzemi_kod property, Nazev
// becomes uzemi_txt, and gml posList rings become the geometry, exterior
// rings opening a new polygon and interior rings punching holes into the
// preceding one. Coordinates stay in the source projection. Units without
// usable geometry are skipped and counted; a file with no units at all is an
// error because it almost always means the wrong extract was downloaded.
func Parse(ctx context.Context, r io.Reader, opts Options) (*geo.Collection, error) {
	unit := opts.UnitElement
	if unit == "" {
		unit = defaultUnitElement
	}

	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "vfr: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var features []geo.Feature
	skipped := 0
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "vfr: context cancelled")
		}

		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "vfr: read token")
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != unit {
			continue
		}

		f, ok, err := parseUnit(dec)
		if err != nil {
			return nil, err
		}
		if !ok {
			skipped++
			continue
		}
		features = append(features, f)
	}

	if len(features) == 0 {
		return nil, eris.Errorf("vfr: no %s elements with geometry found", unit)
	}
	zap.L().Info("vfr: parsed boundary file",
		zap.String("unit", unit),
		zap.Int("features", len(features)),
		zap.Int("skipped", skipped))
	return geo.NewCollection(features), nil
}

// ParseFile parses a VFR file from disk, transparently decompressing
// .gz downloads.
func ParseFile(ctx context.Context, path string, opts Options) (*geo.Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vfr: open %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, eris.Wrapf(err, "vfr: gzip %s", path)
		}
		defer gz.Close()
		r = gz
	}
	return Parse(ctx, r, opts)
}

// parseUnit consumes one unit element, decoder positioned just past its
// start tag. The bool result is false when the unit carries no geometry.
func parseUnit(dec *xml.Decoder) (geo.Feature, bool, error) {
	var (
		codeBuf, nameBuf strings.Builder
		capture          *strings.Builder
		posBuf           strings.Builder
		inPosList        bool
		interior         bool
		polys            orb.MultiPolygon
		badRings         int
	)

	// Kod and Nazev are matched as direct children only: nested references
	// to parent units carry their own Kod elements deeper in the tree.
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err == io.EOF {
			return geo.Feature{}, false, eris.New("vfr: truncated unit element")
		}
		if err != nil {
			return geo.Feature{}, false, eris.Wrap(err, "vfr: read token")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case depth == 1 && t.Name.Local == "Kod":
				codeBuf.Reset()
				capture = &codeBuf
			case depth == 1 && t.Name.Local == "Nazev":
				nameBuf.Reset()
				capture = &nameBuf
			case t.Name.Local == "exterior":
				interior = false
			case t.Name.Local == "interior":
				interior = true
			case t.Name.Local == "posList":
				inPosList = true
				posBuf.Reset()
			}
			depth++

		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "Kod", "Nazev":
				capture = nil
			case "posList":
				inPosList = false
				ring, ok := parsePosList(posBuf.String())
				if !ok {
					badRings++
					break
				}
				if interior {
					if len(polys) == 0 {
						badRings++
						break
					}
					last := len(polys) - 1
					polys[last] = append(polys[last], ring)
				} else {
					polys = append(polys, orb.Polygon{ring})
				}
			}

		case xml.CharData:
			if inPosList {
				posBuf.Write(t)
			} else if capture != nil {
				capture.Write(t)
			}
		}
	}

	code := strings.TrimSpace(codeBuf.String())
	name := strings.TrimSpace(nameBuf.String())

	if badRings > 0 {
		zap.L().Debug("vfr: dropped malformed rings",
			zap.String("uzemi_kod", code),
			zap.Int("rings", badRings))
	}
	if len(polys) == 0 {
		zap.L().Debug("vfr: unit without geometry", zap.String("uzemi_kod", code))
		return geo.Feature{}, false, nil
	}

	var g orb.Geometry
	if len(polys) == 1 {
		g = polys[0]
	} else {
		g = polys
	}

	props := geojson.Properties{"uzemi_kod": code}
	if name != "" {
		props["uzemi_txt"] = name
	}
	return geo.Feature{Geometry: g, Properties: props}, true, nil
}

// parsePosList splits a flat "x y x y ..." GML coordinate list into a closed
// ring. Lists with an odd coordinate count, fewer than three vertices, or
// unparseable numbers are rejected whole.
func parsePosList(s string) (orb.Ring, bool) {
	fields := strings.Fields(s)
	if len(fields) < 6 || len(fields)%2 != 0 {
		return nil, false
	}

	ring := make(orb.Ring, 0, len(fields)/2+1)
	for i := 0; i+1 < len(fields); i += 2 {
		x, errX := strconv.ParseFloat(fields[i], 64)
		y, errY := strconv.ParseFloat(fields[i+1], 64)
		if errX != nil || errY != nil {
			return nil, false
		}
		ring = append(ring, orb.Point{x, y})
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring, true
}
