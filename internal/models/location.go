package models

import (
	"math"
	"time"
)

// Location is a single location fix from the platform
type Location struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Altitude  *float64  `json:"altitude,omitempty"` // meters, nil when the fix has none
	Accuracy  float64   `json:"accuracy,omitempty"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// AltitudeOrNaN returns the altitude, or NaN when the fix carried none
func (l Location) AltitudeOrNaN() float64 {
	if l.Altitude == nil {
		return math.NaN()
	}
	return *l.Altitude
}
