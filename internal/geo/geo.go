// Package geo holds the geodesic helpers shared by the tracker and the
// proximity directory. Coordinates are WGS84 degrees.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadiusKm is the mean Earth radius used for all distance figures.
// orb's helpers use the equatorial radius, so distances are computed here.
const EarthRadiusKm = 6371.0

// Point is a latitude/longitude pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Orb converts p to an orb.Point, which is ordered [lng, lat].
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// FromOrb converts an orb.Point back to a Point.
func FromOrb(p orb.Point) Point {
	return Point{Lat: p.Lat(), Lng: p.Lon()}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// HaversineKm returns the great-circle distance between a and b in
// kilometres. It is symmetric and exactly zero for identical points.
func HaversineKm(a, b Point) float64 {
	if a == b {
		return 0
	}
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h a hair past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// HaversineMeters is HaversineKm in metres.
func HaversineMeters(a, b Point) float64 {
	return HaversineKm(a, b) * 1000
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// normalised to [0, 360).
func Bearing(a, b Point) float64 {
	return NormalizeDegrees(orbgeo.Bearing(a.Orb(), b.Orb()))
}

// NormalizeDegrees maps any angle onto [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// AngleDiff returns the smallest absolute difference between two headings,
// in [0, 180].
func AngleDiff(a, b float64) float64 {
	d := math.Abs(NormalizeDegrees(a) - NormalizeDegrees(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// AngleAverage returns the midpoint of two headings along the shorter arc,
// normalised to [0, 360).
func AngleAverage(a, b float64) float64 {
	a = NormalizeDegrees(a)
	b = NormalizeDegrees(b)
	delta := b - a
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return NormalizeDegrees(a + delta/2)
}

// BoundAround returns the bounding box enclosing a circle of radiusM metres
// around center. It is used as a cheap prefilter before exact distances.
func BoundAround(center Point, radiusM float64) orb.Bound {
	return orbgeo.NewBoundAroundPoint(center.Orb(), radiusM)
}

// ValidCoordinates reports whether lat/lng are finite and within the WGS84
// ranges.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
