// Package geofence is the contract with the platform's geofencing and
// location services, plus a software implementation driven by location fixes.
package geofence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jengzang/dining-presence-go/internal/models"
)

var (
	// ErrNotRegistered is returned by StopGeofencing when nothing is registered
	ErrNotRegistered = errors.New("geofencing is not registered")
	// ErrNoFix is returned when no location fix is available
	ErrNoFix = errors.New("no location fix available")
)

// EventType is the direction of a geofence transition
type EventType int

const (
	Enter EventType = iota + 1
	Exit
)

func (t EventType) String() string {
	switch t {
	case Enter:
		return "enter"
	case Exit:
		return "exit"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Region is a circular geofence
type Region struct {
	ID            string  `json:"id"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Radius        float64 `json:"radius"` // meters
	NotifyOnEnter bool    `json:"notifyOnEnter"`
	NotifyOnExit  bool    `json:"notifyOnExit"`
}

// Event is a transition across a registered region's boundary
type Event struct {
	Type   EventType
	Region Region
}

// Handler receives geofence events
type Handler func(ctx context.Context, ev Event)

// Adapter is the platform geofencing/location facility
type Adapter interface {
	// CurrentLocation returns a fresh high accuracy fix
	CurrentLocation(ctx context.Context) (models.Location, error)
	// StartGeofencing replaces the registered region set
	StartGeofencing(ctx context.Context, regions []Region) error
	// StopGeofencing removes every registered region
	StopGeofencing(ctx context.Context) error
}
