// Package crs converts boundary coordinates between the projected national
// reference systems the source registries publish in and WGS84, and computes
// planar feature areas in the source projection.
package crs

import (
	"github.com/rotisserie/eris"
)

// Projection converts between a source CRS and WGS84.
type Projection interface {
	// ToWGS84 converts source CRS coordinates to WGS84 longitude/latitude (degrees).
	ToWGS84(x, y float64) (lon, lat float64)

	// FromWGS84 converts WGS84 longitude/latitude (degrees) to source CRS coordinates.
	FromWGS84(lon, lat float64) (x, y float64)

	// EPSG returns the EPSG code for this projection.
	EPSG() int
}

// ForEPSG returns the Projection for an EPSG code. Unsupported codes fail
// immediately so a bad configuration never reaches geometry processing.
func ForEPSG(epsg int) (Projection, error) {
	switch epsg {
	case 5514:
		return &KrovakSJTSK{}, nil
	case 32633:
		return &UTM33N{}, nil
	case 4326:
		return &WGS84Identity{}, nil
	default:
		return nil, eris.Errorf("crs: unsupported EPSG code %d", epsg)
	}
}

// WGS84Identity is a no-op projection for data already in EPSG:4326.
type WGS84Identity struct{}

func (w *WGS84Identity) ToWGS84(x, y float64) (lon, lat float64)   { return x, y }
func (w *WGS84Identity) FromWGS84(lon, lat float64) (x, y float64) { return lon, lat }
func (w *WGS84Identity) EPSG() int                                 { return 4326 }
