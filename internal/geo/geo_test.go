package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_KnownPair(t *testing.T) {
	// Gateway of India to Chhatrapati Shivaji Terminus, roughly 2 km.
	a := Point{Latitude: 18.9220, Longitude: 72.8347}
	b := Point{Latitude: 18.9398, Longitude: 72.8355}
	d := Distance(a, b)
	assert.InDelta(t, 1980, d, 30)
}

func TestDistance_Zero(t *testing.T) {
	p := Point{Latitude: 28.6139, Longitude: 77.2090}
	assert.Equal(t, 0.0, Distance(p, p))
}

func TestOffset_MatchesDistance(t *testing.T) {
	origin := Point{Latitude: 12.9716, Longitude: 77.5946}
	for _, meters := range []float64{30, 200, 600} {
		north := Offset(origin, meters, 0)
		assert.InDelta(t, meters, Distance(origin, north), 0.5)
		east := Offset(origin, 0, meters)
		assert.InDelta(t, meters, Distance(origin, east), 0.5)
	}
}

func TestPoint_Valid(t *testing.T) {
	assert.True(t, Point{Latitude: 0, Longitude: 0}.Valid())
	assert.True(t, Point{Latitude: -90, Longitude: 180}.Valid())
	assert.False(t, Point{Latitude: 91, Longitude: 0}.Valid())
	assert.False(t, Point{Latitude: 0, Longitude: -181}.Valid())
	assert.False(t, Point{Latitude: math.NaN(), Longitude: 0}.Valid())
}

func TestMapsLink(t *testing.T) {
	assert.Equal(t, "https://maps.google.com/?q=12.5,77.25", MapsLink(Point{Latitude: 12.5, Longitude: 77.25}))
}
