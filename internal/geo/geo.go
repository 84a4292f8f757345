// Package geo holds coordinates and the great-circle math used by route tracking.
package geo

import (
	"fmt"
	"math"
)

// earthRadiusMeters is the mean Earth radius (IUGG).
const earthRadiusMeters = 6371008.8

// Point is a WGS 84 coordinate.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the point is a real coordinate pair.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}

// MapsLink renders the map link sent to contacts.
func MapsLink(p Point) string {
	return fmt.Sprintf("https://maps.google.com/?q=%v,%v", p.Latitude, p.Longitude)
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Offset returns the point reached by moving north and east by the given
// number of meters. Accurate enough for the short distances used in tests and
// simulators.
func Offset(p Point, northMeters, eastMeters float64) Point {
	dLat := northMeters / earthRadiusMeters
	dLon := eastMeters / (earthRadiusMeters * math.Cos(toRadians(p.Latitude)))
	return Point{
		Latitude:  p.Latitude + dLat*180/math.Pi,
		Longitude: p.Longitude + dLon*180/math.Pi,
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
