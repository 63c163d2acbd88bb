package crs

import "math"

// KrovakSJTSK implements EPSG:5514 (S-JTSK / Krovak East North): the Krovak
// oblique conformal conic projection on the Bessel 1841 ellipsoid with the
// standard three-parameter datum shift to WGS84. Coordinates follow the EPSG
// East/North axis convention, so both easting and northing are negative over
// the covered territory.
//
// The projection formulas are exact; the three-parameter datum step is good
// to a few meters, well inside what boundary joins require.
type KrovakSJTSK struct{}

// Defining parameters (radians where angular).
const (
	krovakLatCenter = 49.5 * math.Pi / 180               // latitude of projection centre
	krovakLonOrigin = 24.833333333333332 * math.Pi / 180 // 42 deg 30 min east of Ferro
	krovakAlpha     = 30.288139722222223 * math.Pi / 180 // co-latitude of cone axis
	krovakLatPseudo = 78.5 * math.Pi / 180               // pseudo standard parallel
	krovakScale     = 0.9999
)

// Datum shift Bessel -> WGS84 (meters).
const (
	krovakDX = 589.0
	krovakDY = 76.0
	krovakDZ = 480.0
)

// krovakConstants are derived once from the defining parameters.
type krovakConstants struct {
	e  float64 // first eccentricity of Bessel 1841
	a  float64 // radius of the conformal sphere at the centre latitude
	b  float64 // conformal latitude exponent
	g0 float64 // sphere latitude of the projection centre
	t0 float64 // conformal latitude scaling term
	n  float64 // cone constant
	r0 float64 // radius of the pseudo standard parallel
}

var krovak = newKrovakConstants()

func newKrovakConstants() krovakConstants {
	var c krovakConstants
	sinC := math.Sin(krovakLatCenter)
	cosC := math.Cos(krovakLatCenter)
	c.e = math.Sqrt(besselEllipsoid.e2)
	c.a = besselEllipsoid.a * math.Sqrt(1-besselEllipsoid.e2) / (1 - besselEllipsoid.e2*sinC*sinC)
	c.b = math.Sqrt(1 + besselEllipsoid.e2*cosC*cosC*cosC*cosC/(1-besselEllipsoid.e2))
	c.g0 = math.Asin(sinC / c.b)
	c.t0 = math.Tan(math.Pi/4+c.g0/2) *
		math.Pow((1+c.e*sinC)/(1-c.e*sinC), c.e*c.b/2) /
		math.Pow(math.Tan(math.Pi/4+krovakLatCenter/2), c.b)
	c.n = math.Sin(krovakLatPseudo)
	c.r0 = krovakScale * c.a / math.Tan(krovakLatPseudo)
	return c
}

func (k *KrovakSJTSK) EPSG() int { return 5514 }

// krovakForward projects Bessel geodetic coordinates (radians) to Krovak
// southing/westing in meters.
func krovakForward(lat, lon float64) (southing, westing float64) {
	sinLat := math.Sin(lat)
	u := 2 * (math.Atan(krovak.t0*math.Pow(math.Tan(lat/2+math.Pi/4), krovak.b)/
		math.Pow((1+krovak.e*sinLat)/(1-krovak.e*sinLat), krovak.e*krovak.b/2)) - math.Pi/4)
	v := krovak.b * (krovakLonOrigin - lon)
	t := math.Asin(math.Cos(krovakAlpha)*math.Sin(u) + math.Sin(krovakAlpha)*math.Cos(u)*math.Cos(v))
	d := math.Asin(math.Cos(u) * math.Sin(v) / math.Cos(t))
	theta := krovak.n * d
	r := krovak.r0 * math.Pow(math.Tan(math.Pi/4+krovakLatPseudo/2), krovak.n) /
		math.Pow(math.Tan(t/2+math.Pi/4), krovak.n)
	return r * math.Cos(theta), r * math.Sin(theta)
}

// krovakInverse projects Krovak southing/westing in meters back to Bessel
// geodetic coordinates (radians).
func krovakInverse(southing, westing float64) (lat, lon float64) {
	r := math.Hypot(southing, westing)
	theta := math.Atan2(westing, southing)
	d := theta / krovak.n
	t := 2 * (math.Atan(math.Pow(krovak.r0/r, 1/krovak.n)*math.Tan(math.Pi/4+krovakLatPseudo/2)) - math.Pi/4)
	u := math.Asin(math.Cos(krovakAlpha)*math.Sin(t) - math.Sin(krovakAlpha)*math.Cos(t)*math.Cos(d))
	v := math.Asin(math.Cos(t) * math.Sin(d) / math.Cos(u))
	lon = krovakLonOrigin - v/krovak.b

	// Latitude converges in a handful of iterations.
	lat = u
	for range 5 {
		sinLat := math.Sin(lat)
		lat = 2 * (math.Atan(math.Pow(krovak.t0, -1/krovak.b)*
			math.Pow(math.Tan(u/2+math.Pi/4), 1/krovak.b)*
			math.Pow((1+krovak.e*sinLat)/(1-krovak.e*sinLat), krovak.e/2)) - math.Pi/4)
	}
	return lat, lon
}

// ToWGS84 converts EPSG:5514 easting/northing (both negative over the covered
// territory) to WGS84 longitude/latitude in degrees.
func (k *KrovakSJTSK) ToWGS84(easting, northing float64) (lon, lat float64) {
	southing, westing := -northing, -easting
	bLat, bLon := krovakInverse(southing, westing)
	x, y, z := geodeticToGeocentric(besselEllipsoid, bLat, bLon)
	x, y, z = helmert3(x, y, z, krovakDX, krovakDY, krovakDZ)
	wLat, wLon := geocentricToGeodetic(wgs84Ellipsoid, x, y, z)
	return wLon * 180 / math.Pi, wLat * 180 / math.Pi
}

// FromWGS84 converts WGS84 longitude/latitude in degrees to EPSG:5514
// easting/northing.
func (k *KrovakSJTSK) FromWGS84(lon, lat float64) (x, y float64) {
	wLat := lat * math.Pi / 180
	wLon := lon * math.Pi / 180
	gx, gy, gz := geodeticToGeocentric(wgs84Ellipsoid, wLat, wLon)
	gx, gy, gz = helmert3(gx, gy, gz, -krovakDX, -krovakDY, -krovakDZ)
	bLat, bLon := geocentricToGeodetic(besselEllipsoid, gx, gy, gz)
	southing, westing := krovakForward(bLat, bLon)
	return -westing, -southing
}
