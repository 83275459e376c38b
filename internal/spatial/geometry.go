package spatial

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/jengzang/dining-presence-go/internal/models"
)

// Contains reports whether (lat, lon) lies in the floor polygon of region.
// Points exactly on an edge or a vertex count as inside.
func Contains(region models.HallRegion, lat, lon float64) bool {
	if len(region.Poly) < 3 {
		return false
	}
	ring := make(orb.Ring, len(region.Poly))
	for i, p := range region.Poly {
		ring[i] = orb.Point(p)
	}
	return planar.RingContains(ring, orb.Point{lon, lat})
}

// NearestEdgeDistance returns the distance in meters from (lat, lon) to the
// closest edge of the region's polygon, or +Inf when it has no edges.
func NearestEdgeDistance(region models.HallRegion, lat, lon float64) float64 {
	n := len(region.Poly)
	if n < 2 {
		return math.Inf(1)
	}

	x := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	nearest := math.Inf(1)
	for i := 0; i < n; i++ {
		a := pointOf(region.Poly[i])
		b := pointOf(region.Poly[(i+1)%n])
		if d := segmentDistance(x, a, b); d < nearest {
			nearest = d
		}
	}
	return nearest
}

// WithinElevation reports whether altitude plausibly belongs to the region's
// floor. EleStart is the ceiling and EleEnd the floor of the band. A NaN
// altitude never restricts.
func WithinElevation(region models.HallRegion, altitude float64) bool {
	if math.IsNaN(altitude) {
		return true
	}
	return (region.EleStart == nil || altitude < *region.EleStart) &&
		(region.EleEnd == nil || altitude > *region.EleEnd)
}
