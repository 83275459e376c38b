package spatial

import (
	"math"

	"github.com/golang/geo/s2"
)

// Constants
const (
	EarthRadiusMeters = 6371000.0 // Earth's mean radius in meters
)

// HaversineDistance calculates the great-circle distance between two points in meters
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// pointOf converts a [lon, lat] pair to an S2 point
func pointOf(lonLat [2]float64) s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(lonLat[1], lonLat[0]))
}

// segmentDistance returns the distance in meters from x to the edge ab
func segmentDistance(x, a, b s2.Point) float64 {
	return s2.DistanceFromSegment(x, a, b).Radians() * EarthRadiusMeters
}

// ringArea returns the absolute shoelace area of a ring in square degrees.
// It is only used to reject degenerate rings, so the planar approximation is fine.
func ringArea(ring [][2]float64) float64 {
	var sum float64
	for i := range ring {
		j := (i + 1) % len(ring)
		sum += ring[i][0]*ring[j][1] - ring[j][0]*ring[i][1]
	}
	return math.Abs(sum) / 2
}
