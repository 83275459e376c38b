package models

// Floor is one floor of a dining hall as supplied by the hall configuration
type Floor struct {
	Name     *string      `json:"name"`     // nil for single-floor halls
	EleStart *float64     `json:"eleStart"` // ceiling in meters, altitude must be below it
	EleEnd   *float64     `json:"eleEnd"`   // floor in meters, altitude must be above it
	Poly     [][2]float64 `json:"poly"`     // ring of [lon, lat] points
}

// Hall is a dining location with one or more floors
type Hall struct {
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	Floors []Floor `json:"floors"`
}

// HallRegion is the precomputed region of one (hall, floor) pair
type HallRegion struct {
	Name     string       `json:"name"`
	Floor    *string      `json:"floor"`
	Poly     [][2]float64 `json:"poly"`
	EleStart *float64     `json:"eleStart"`
	EleEnd   *float64     `json:"eleEnd"`
}

// FloorName returns the floor name or an empty string
func (r HallRegion) FloorName() string {
	if r.Floor == nil {
		return ""
	}
	return *r.Floor
}

// BoundingCircle is the coarse circle containing every floor of a hall
type BoundingCircle struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Radius   float64 `json:"radius"` // meters
	HallName string  `json:"hallName"`
}

// RegionData is the geometry persisted under the "halls" key
type RegionData struct {
	Regions []HallRegion     `json:"regions"`
	Circles []BoundingCircle `json:"circles"`
}
