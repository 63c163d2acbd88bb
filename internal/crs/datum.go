package crs

import "math"

// ellipsoid holds the semi-major axis and first eccentricity squared.
type ellipsoid struct {
	a  float64
	e2 float64
}

var (
	wgs84Ellipsoid  = ellipsoid{a: 6378137.0, e2: 0.00669437999014}
	besselEllipsoid = ellipsoid{a: 6377397.155, e2: 0.006674372230614}
)

// geodeticToGeocentric converts geodetic latitude/longitude (radians, h=0)
// to geocentric cartesian coordinates on the given ellipsoid.
func geodeticToGeocentric(ell ellipsoid, lat, lon float64) (x, y, z float64) {
	sinLat := math.Sin(lat)
	n := ell.a / math.Sqrt(1-ell.e2*sinLat*sinLat)
	cosLat := math.Cos(lat)
	x = n * cosLat * math.Cos(lon)
	y = n * cosLat * math.Sin(lon)
	z = n * (1 - ell.e2) * sinLat
	return
}

// geocentricToGeodetic converts geocentric cartesian coordinates back to
// geodetic latitude/longitude (radians) on the given ellipsoid, iterating to
// sub-millimeter convergence.
func geocentricToGeodetic(ell ellipsoid, x, y, z float64) (lat, lon float64) {
	lon = math.Atan2(y, x)
	p := math.Hypot(x, y)
	lat = math.Atan2(z, p*(1-ell.e2))
	for range 6 {
		sinLat := math.Sin(lat)
		n := ell.a / math.Sqrt(1-ell.e2*sinLat*sinLat)
		h := p/math.Cos(lat) - n
		lat = math.Atan2(z, p*(1-ell.e2*n/(n+h)))
	}
	return
}

// helmert3 applies a three-parameter geocentric translation.
func helmert3(x, y, z, dx, dy, dz float64) (float64, float64, float64) {
	return x + dx, y + dy, z + dz
}
