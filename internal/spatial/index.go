package spatial

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s2"

	"github.com/jengzang/dining-presence-go/internal/models"
)

// DefaultCircleMargin is added to every bounding circle radius, in meters
const DefaultCircleMargin = 10.0

var (
	ErrNoName           = errors.New("hall has no name")
	ErrDuplicateHall    = errors.New("duplicate hall name")
	ErrNoFloors         = errors.New("hall has no floors")
	ErrEmptyPolygon     = errors.New("floor polygon is empty or degenerate")
	ErrBadCoordinate    = errors.New("coordinate out of range")
	ErrSelfIntersecting = errors.New("floor polygon is self-intersecting")
)

// ConfigError reports malformed hall geometry
type ConfigError struct {
	Hall  string
	Floor int // index into the hall's floors, -1 for hall level errors
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Floor < 0 {
		return fmt.Sprintf("hall %q: %v", e.Hall, e.Err)
	}
	return fmt.Sprintf("hall %q floor %d: %v", e.Hall, e.Floor, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Index holds the per-floor regions and per-hall bounding circles
type Index struct {
	regions []models.HallRegion
	circles []models.BoundingCircle
}

// Build validates the halls and precomputes their regions and circles.
// margin is added to every circle radius.
func Build(halls []models.Hall, margin float64) (*Index, error) {
	idx := &Index{}
	seen := make(map[string]bool, len(halls))

	for _, hall := range halls {
		if hall.Name == "" {
			return nil, &ConfigError{Floor: -1, Err: ErrNoName}
		}
		if seen[hall.Name] {
			return nil, &ConfigError{Hall: hall.Name, Floor: -1, Err: ErrDuplicateHall}
		}
		seen[hall.Name] = true
		if len(hall.Floors) == 0 {
			return nil, &ConfigError{Hall: hall.Name, Floor: -1, Err: ErrNoFloors}
		}

		hull := s2.NewConvexHullQuery()
		var vertices []s2.Point
		for i, floor := range hall.Floors {
			ring, err := cleanRing(floor.Poly)
			if err != nil {
				return nil, &ConfigError{Hall: hall.Name, Floor: i, Err: err}
			}
			if selfIntersecting(ring) {
				return nil, &ConfigError{Hall: hall.Name, Floor: i, Err: ErrSelfIntersecting}
			}

			idx.regions = append(idx.regions, models.HallRegion{
				Name:     hall.Name,
				Floor:    floor.Name,
				Poly:     ring,
				EleStart: floor.EleStart,
				EleEnd:   floor.EleEnd,
			})

			for _, v := range ring {
				p := pointOf(v)
				hull.AddPoint(p)
				vertices = append(vertices, p)
			}
		}

		center := centroid(hull.ConvexHull(), vertices)
		var radius float64
		for _, v := range vertices {
			if d := center.Distance(v).Radians() * EarthRadiusMeters; d > radius {
				radius = d
			}
		}

		ll := s2.LatLngFromPoint(center)
		idx.circles = append(idx.circles, models.BoundingCircle{
			Lat:      ll.Lat.Degrees(),
			Lon:      ll.Lng.Degrees(),
			Radius:   radius + margin,
			HallName: hall.Name,
		})
	}

	return idx, nil
}

// FromData rebuilds an index from persisted geometry without revalidating it
func FromData(data models.RegionData) *Index {
	return &Index{regions: data.Regions, circles: data.Circles}
}

// Data returns the persistable form of the index
func (x *Index) Data() models.RegionData {
	return models.RegionData{Regions: x.regions, Circles: x.circles}
}

// Regions returns the floors of hall in configured order
func (x *Index) Regions(hall string) []models.HallRegion {
	var out []models.HallRegion
	for _, r := range x.regions {
		if r.Name == hall {
			out = append(out, r)
		}
	}
	return out
}

// Circles returns every bounding circle in configured order
func (x *Index) Circles() []models.BoundingCircle {
	return x.circles
}

// Circle returns the bounding circle of hall
func (x *Index) Circle(hall string) (models.BoundingCircle, bool) {
	for _, c := range x.circles {
		if c.HallName == hall {
			return c, true
		}
	}
	return models.BoundingCircle{}, false
}

// CircleContaining returns the first circle, in configured order, that
// contains the point. Overlapping halls resolve to the earlier one.
func (x *Index) CircleContaining(lat, lon float64) (models.BoundingCircle, bool) {
	for _, c := range x.circles {
		if InCircle(c, lat, lon) {
			return c, true
		}
	}
	return models.BoundingCircle{}, false
}

// InCircle reports whether the point is within the circle, boundary included
func InCircle(c models.BoundingCircle, lat, lon float64) bool {
	return HaversineDistance(c.Lat, c.Lon, lat, lon) <= c.Radius
}

// cleanRing drops the closing vertex and consecutive duplicates, then checks
// the ring still describes an area.
func cleanRing(poly [][2]float64) ([][2]float64, error) {
	ring := make([][2]float64, 0, len(poly))
	for _, p := range poly {
		if p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
			return nil, ErrBadCoordinate
		}
		if len(ring) > 0 && ring[len(ring)-1] == p {
			continue
		}
		ring = append(ring, p)
	}
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 || ringArea(ring) == 0 {
		return nil, ErrEmptyPolygon
	}
	return ring, nil
}

// selfIntersecting reports whether any two non-adjacent edges cross or the
// ring revisits a vertex
func selfIntersecting(ring [][2]float64) bool {
	n := len(ring)
	seen := make(map[[2]float64]bool, n)
	for _, p := range ring {
		if seen[p] {
			return true
		}
		seen[p] = true
	}

	pts := make([]s2.Point, n)
	for i, p := range ring {
		pts[i] = pointOf(p)
	}
	for i := 0; i < n; i++ {
		a, b := pts[i], pts[(i+1)%n]
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			c, d := pts[j], pts[(j+1)%n]
			if s2.CrossingSign(a, b, c, d) == s2.Cross {
				return true
			}
		}
	}
	return false
}

// centroid averages the hull vertices on the unit sphere, falling back to all
// vertices when the hull is degenerate
func centroid(hull *s2.Loop, vertices []s2.Point) s2.Point {
	var sum r3.Vector
	if hull != nil && hull.NumVertices() >= 3 && !hull.IsFull() {
		for i := 0; i < hull.NumVertices(); i++ {
			sum = sum.Add(hull.Vertex(i).Vector)
		}
	} else {
		for _, v := range vertices {
			sum = sum.Add(v.Vector)
		}
	}
	return s2.Point{Vector: sum.Normalize()}
}
