package geofence

import (
	"context"
	"slices"
	"sync"

	"github.com/jengzang/dining-presence-go/internal/models"
	"github.com/jengzang/dining-presence-go/internal/spatial"
)

// Simulator implements Adapter in software. Location fixes are pushed in with
// Feed and enter/exit events are raised for the registered regions.
type Simulator struct {
	mu      sync.Mutex
	last    *models.Location
	regions []Region
	inside  map[string]bool
	active  bool
	handler Handler
}

// NewSimulator creates a simulator delivering events to handler
func NewSimulator(handler Handler) *Simulator {
	return &Simulator{handler: handler, inside: make(map[string]bool)}
}

// SetHandler replaces the event handler
func (s *Simulator) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// CurrentLocation returns the last fed fix
func (s *Simulator) CurrentLocation(ctx context.Context) (models.Location, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return models.Location{}, ErrNoFix
	}
	return *s.last, nil
}

// StartGeofencing registers regions. Their initial inside state is taken from
// the last fix without raising events.
func (s *Simulator) StartGeofencing(ctx context.Context, regions []Region) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = slices.Clone(regions)
	s.inside = make(map[string]bool, len(regions))
	s.active = true
	if s.last != nil {
		for _, r := range s.regions {
			s.inside[r.ID] = contains(r, *s.last)
		}
	}
	return nil
}

// StopGeofencing clears the registered regions
func (s *Simulator) StopGeofencing(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNotRegistered
	}
	s.regions = nil
	s.inside = make(map[string]bool)
	s.active = false
	return nil
}

// Regions returns the currently registered regions
func (s *Simulator) Regions() []Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.regions)
}

// Feed records a new fix and delivers any resulting transitions. The handler
// runs on the caller's goroutine, outside the simulator's lock.
func (s *Simulator) Feed(ctx context.Context, loc models.Location) {
	s.mu.Lock()
	s.last = &loc
	var events []Event
	for _, r := range s.regions {
		now := contains(r, loc)
		was := s.inside[r.ID]
		s.inside[r.ID] = now
		switch {
		case now && !was && r.NotifyOnEnter:
			events = append(events, Event{Type: Enter, Region: r})
		case !now && was && r.NotifyOnExit:
			events = append(events, Event{Type: Exit, Region: r})
		}
	}
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return
	}
	for _, ev := range events {
		handler(ctx, ev)
	}
}

func contains(r Region, loc models.Location) bool {
	return spatial.HaversineDistance(r.Lat, r.Lon, loc.Lat, loc.Lon) <= r.Radius
}
