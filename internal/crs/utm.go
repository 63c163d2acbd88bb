package crs

import "math"

// UTM33N implements EPSG:32633 (WGS 84 / UTM zone 33N), the transverse
// Mercator grid covering 12E-18E. Several national geoportals republish
// boundary datasets in this zone, which spans the whole covered territory.
// Standard series expansion, sub-millimeter accuracy inside the zone.
type UTM33N struct{}

const (
	utmScale        = 0.9996
	utmLonOrigin    = 15.0 * math.Pi / 180
	utmFalseEasting = 500000.0
)

func (u *UTM33N) EPSG() int { return 32633 }

// FromWGS84 converts WGS84 longitude/latitude in degrees to UTM 33N
// easting/northing in meters.
func (u *UTM33N) FromWGS84(lon, lat float64) (x, y float64) {
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180

	e2 := wgs84Ellipsoid.e2
	ep2 := e2 / (1 - e2)
	sinPhi, cosPhi := math.Sin(phi), math.Cos(phi)
	n := wgs84Ellipsoid.a / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := sinPhi * sinPhi / (cosPhi * cosPhi)
	c := ep2 * cosPhi * cosPhi
	a := (lam - utmLonOrigin) * cosPhi

	m := meridianArc(phi)
	a2 := a * a
	x = utmScale*n*(a+(1-t+c)*a2*a/6+
		(5-18*t+t*t+72*c-58*ep2)*a2*a2*a/120) + utmFalseEasting
	y = utmScale * (m + n*sinPhi/cosPhi*(a2/2+
		(5-t+9*c+4*c*c)*a2*a2/24+
		(61-58*t+t*t+600*c-330*ep2)*a2*a2*a2/720))
	return x, y
}

// ToWGS84 converts UTM 33N easting/northing in meters to WGS84
// longitude/latitude in degrees.
func (u *UTM33N) ToWGS84(x, y float64) (lon, lat float64) {
	e2 := wgs84Ellipsoid.e2
	ep2 := e2 / (1 - e2)
	a := wgs84Ellipsoid.a

	m := y / utmScale
	mu := m / (a * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	phi1 := mu +
		(3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)

	sin1, cos1 := math.Sin(phi1), math.Cos(phi1)
	c1 := ep2 * cos1 * cos1
	t1 := sin1 * sin1 / (cos1 * cos1)
	n1 := a / math.Sqrt(1-e2*sin1*sin1)
	r1 := a * (1 - e2) / math.Pow(1-e2*sin1*sin1, 1.5)
	d := (x - utmFalseEasting) / (n1 * utmScale)
	d2 := d * d

	phi := phi1 - (n1 * sin1 / cos1 / r1) * (d2/2 -
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*d2*d2/24 +
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d2*d2*d2/720)
	lam := utmLonOrigin + (d-
		(1+2*t1+c1)*d2*d/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d2*d2*d/120)/cos1

	return lam * 180 / math.Pi, phi * 180 / math.Pi
}

// meridianArc returns the ellipsoidal meridian arc length from the equator.
func meridianArc(phi float64) float64 {
	e2 := wgs84Ellipsoid.e2
	e4 := e2 * e2
	e6 := e4 * e2
	return wgs84Ellipsoid.a * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}
