package domain

import (
	"math"

	"github.com/mmcloughlin/geohash"
)

const earthRadiusMiles = 3958.8

// Location is a point on the map, indexed by its geohash cell.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Geohash string  `json:"geohash"`
}

// NewLocation builds a Location and computes its geohash.
func NewLocation(lat, lng float64) *Location {
	return &Location{
		Lat:     lat,
		Lng:     lng,
		Geohash: geohash.Encode(lat, lng),
	}
}

// IsValid reports whether the coordinates are in range.
func (l *Location) IsValid() bool {
	return l != nil && l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// SameCell reports whether both locations fall into the same geohash cell at the given precision.
func (l *Location) SameCell(other *Location, precision uint) bool {
	if l == nil || other == nil {
		return false
	}
	return geohash.EncodeWithPrecision(l.Lat, l.Lng, precision) ==
		geohash.EncodeWithPrecision(other.Lat, other.Lng, precision)
}

// DistanceMiles returns the great-circle distance between two locations.
func DistanceMiles(a, b *Location) float64 {
	if a == nil || b == nil {
		return 0
	}
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(h))
}
