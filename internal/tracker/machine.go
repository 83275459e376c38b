package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/dining-presence-go/internal/geofence"
	"github.com/jengzang/dining-presence-go/internal/models"
	"github.com/jengzang/dining-presence-go/internal/spatial"
	"github.com/jengzang/dining-presence-go/internal/store"
)

// Region ids of the close range geofence set
const (
	regionBig   = "big"   // the active hall's bounding circle
	regionSmall = "small" // around the last fix, reaching the nearest floor edge
)

// HandleGeofenceEvent applies an enter or exit event raised by the adapter
func (t *Tracker) HandleGeofenceEvent(ctx context.Context, ev geofence.Event) {
	g := t.gen.Load()
	if !t.alive(g) || t.currentIndex() == nil {
		t.logger.Debug("ignoring geofence event while not tracking", zap.String("region", ev.Region.ID))
		return
	}
	t.logger.Debug("geofence event",
		zap.Stringer("type", ev.Type),
		zap.String("region", ev.Region.ID),
	)

	var err error
	switch {
	case ev.Type == geofence.Enter:
		err = t.enter(ctx, g, ev.Region.ID)
	case ev.Region.ID == regionSmall:
		// moved away from where the close range set was computed
		err = t.restart(ctx, g, nil)
	default:
		err = t.leave(ctx, g)
	}
	if err != nil {
		t.logger.Warn("geofence event handling failed",
			zap.String("region", ev.Region.ID),
			zap.Error(err),
		)
	}
}

// Wake re-derives the state from a fresh fix and re-registers geofences
func (t *Tracker) Wake(ctx context.Context) {
	g := t.gen.Load()
	if !t.alive(g) || t.currentIndex() == nil {
		return
	}
	if err := t.restart(ctx, g, nil); err != nil {
		t.logger.Warn("wake failed", zap.Error(err))
	}
}

func (t *Tracker) enter(ctx context.Context, g uint64, hall string) error {
	active, err := t.active(ctx)
	if err != nil {
		return fmt.Errorf("load active: %w", err)
	}
	if !t.alive(g) {
		return nil
	}
	if inside, ok := active.Hall(); ok {
		t.logger.Debug("already inside a hall, ignoring enter",
			zap.String("hall", hall),
			zap.String("active", inside),
		)
		return nil
	}
	return t.evaluate(ctx, g, hall, nil)
}

// restart picks the geofence set for loc (fetched when nil): the close range
// set of the hall whose circle contains it, or every hall's circle.
func (t *Tracker) restart(ctx context.Context, g uint64, loc *models.Location) error {
	idx := t.currentIndex()
	if idx == nil || !t.alive(g) {
		return nil
	}
	if loc == nil {
		fix, err := t.adapter.CurrentLocation(ctx)
		if err != nil {
			// the first fix to reach a hall circle raises an enter
			t.logger.Info("no location yet, watching every hall", zap.Error(err))
			return t.watchWithoutFix(ctx, g, idx)
		}
		if !t.alive(g) {
			return nil
		}
		loc = &fix
	}

	if circ, ok := idx.CircleContaining(loc.Lat, loc.Lon); ok {
		return t.evaluate(ctx, g, circ.HallName, loc)
	}
	return t.leave(ctx, g)
}

// leave moves to OutsideAll and watches every hall's circle for an enter
func (t *Tracker) leave(ctx context.Context, g uint64) error {
	idx := t.currentIndex()
	if idx == nil || !t.alive(g) {
		return nil
	}
	ok, err := t.persist(g, func() error {
		return t.store.Delete(ctx, store.KeyActive)
	})
	if err != nil {
		return fmt.Errorf("clear active: %w", err)
	}
	if !ok {
		return nil
	}
	t.setStatus(g, Status{State: OutsideAll})

	if err := t.emit(ctx, g, nil); err != nil {
		t.logEmitError(err)
	}
	if !t.alive(g) {
		return nil
	}
	return t.watchHalls(ctx, idx)
}

// watchWithoutFix moves to OutsideAll without emitting and watches every
// hall's circle
func (t *Tracker) watchWithoutFix(ctx context.Context, g uint64, idx *spatial.Index) error {
	ok, err := t.persist(g, func() error {
		return t.store.Delete(ctx, store.KeyActive)
	})
	if err != nil {
		return fmt.Errorf("clear active: %w", err)
	}
	if !ok {
		return nil
	}
	t.setStatus(g, Status{State: OutsideAll})
	return t.watchHalls(ctx, idx)
}

func (t *Tracker) watchHalls(ctx context.Context, idx *spatial.Index) error {
	circles := idx.Circles()
	regions := make([]geofence.Region, 0, len(circles))
	for _, c := range circles {
		regions = append(regions, geofence.Region{
			ID:            c.HallName,
			Lat:           c.Lat,
			Lon:           c.Lon,
			Radius:        c.Radius,
			NotifyOnEnter: true,
			NotifyOnExit:  true,
		})
	}
	if err := t.adapter.StartGeofencing(ctx, regions); err != nil {
		return fmt.Errorf("register hall geofences: %w", err)
	}
	t.stopRecheck()
	return nil
}

// evaluate tests loc (fetched when nil) against every floor of hall, emits
// the outcome and registers the close range geofence set around loc.
func (t *Tracker) evaluate(ctx context.Context, g uint64, hall string, loc *models.Location) error {
	idx := t.currentIndex()
	if idx == nil || !t.alive(g) {
		return nil
	}
	circ, ok := idx.Circle(hall)
	if !ok {
		t.logger.Warn("geofence for unknown hall", zap.String("hall", hall))
		return nil
	}
	if loc == nil {
		fix, err := t.adapter.CurrentLocation(ctx)
		if err != nil {
			return fmt.Errorf("current location: %w", err)
		}
		if !t.alive(g) {
			return nil
		}
		loc = &fix
	}
	if !spatial.InCircle(circ, loc.Lat, loc.Lon) {
		return t.restart(ctx, g, loc)
	}

	var (
		match     *models.HallRegion
		contained bool
		nearest   = math.Inf(1)
		altitude  = loc.AltitudeOrNaN()
	)
	for _, r := range idx.Regions(hall) {
		if match == nil && spatial.Contains(r, loc.Lat, loc.Lon) {
			contained = true
			if spatial.WithinElevation(r, altitude) {
				match = &r
			}
		}
		if d := spatial.NearestEdgeDistance(r, loc.Lat, loc.Lon); d < nearest {
			nearest = d
		}
	}

	active, err := t.active(ctx)
	if err != nil {
		return fmt.Errorf("load active: %w", err)
	}
	if !t.alive(g) {
		return nil
	}

	// halls whose circle no longer holds the fix are stale
	active = active.Retain(func(h string) bool {
		c, ok := idx.Circle(h)
		return ok && spatial.InCircle(c, loc.Lat, loc.Lon)
	})

	var status Status
	switch {
	case match != nil:
		active = active.Confirm(hall)
		status = Status{State: InsideConfirmed, Hall: hall, Floor: match.Floor}
	case contained:
		active = active.Unconfirm(hall)
		status = Status{State: InsideUnconfirmed, Hall: hall}
	default:
		active = active.Without(hall)
		status = Status{State: OutsideAll}
	}
	ok, err = t.persist(g, func() error {
		return store.SetJSON(ctx, t.store, store.KeyActive, active)
	})
	if err != nil {
		return fmt.Errorf("save active: %w", err)
	}
	if !ok {
		return nil
	}
	t.setStatus(g, status)
	t.logger.Debug("evaluated hall",
		zap.String("hall", hall),
		zap.Stringer("state", status.State),
	)

	// an unconfirmed elevation keeps the previous presence until a recheck decides
	switch status.State {
	case InsideConfirmed:
		err = t.emit(ctx, g, match)
	case OutsideAll:
		err = t.emit(ctx, g, nil)
	}
	if err != nil {
		t.logEmitError(err)
	}
	if !t.alive(g) {
		return nil
	}

	if math.IsInf(nearest, 1) {
		t.logger.Error("hall has no floor edges", zap.String("hall", hall))
		return nil
	}
	radius := nearest + t.cfg.SmallCircleMargin
	if err := t.adapter.StartGeofencing(ctx, []geofence.Region{
		{ID: regionBig, Lat: circ.Lat, Lon: circ.Lon, Radius: circ.Radius, NotifyOnExit: true},
		{ID: regionSmall, Lat: loc.Lat, Lon: loc.Lon, Radius: radius, NotifyOnExit: true},
	}); err != nil {
		return fmt.Errorf("register close range geofences: %w", err)
	}

	if status.State == InsideUnconfirmed {
		t.startRecheck(g)
	} else {
		t.stopRecheck()
	}
	return nil
}

func (t *Tracker) logEmitError(err error) {
	if errors.Is(err, ErrNotAuthenticated) {
		t.logger.Warn("not authenticated, skipping presence update")
		return
	}
	t.logger.Warn("presence update failed", zap.Error(err))
}

func (t *Tracker) wakeLoop(ctx context.Context, g uint64) {
	defer t.loops.Done()
	ticker := time.NewTicker(t.cfg.WakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.alive(g) {
				return
			}
			if err := t.restart(ctx, g, nil); err != nil {
				t.logger.Warn("periodic wake failed", zap.Error(err))
			}
		}
	}
}

// startRecheck begins resampling the elevation while it is unconfirmed
func (t *Tracker) startRecheck(g uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recheck != nil || t.runCtx == nil || !t.alive(g) {
		return
	}
	done, cancel := context.WithCancel(t.runCtx)
	t.recheck = cancel
	t.loops.Add(1)
	go t.recheckLoop(t.runCtx, done.Done(), g)
}

func (t *Tracker) stopRecheck() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopRecheckLocked()
}

func (t *Tracker) stopRecheckLocked() {
	if t.recheck != nil {
		t.recheck()
		t.recheck = nil
	}
}

// recheckLoop does its work under ctx so that cancelling the loop itself
// from inside a tick does not abort that tick's writes.
func (t *Tracker) recheckLoop(ctx context.Context, done <-chan struct{}, g uint64) {
	defer t.loops.Done()
	ticker := time.NewTicker(t.cfg.ElevationRecheck)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !t.alive(g) {
				return
			}
			t.logger.Debug("rechecking elevation")
			if err := t.restart(ctx, g, nil); err != nil {
				t.logger.Warn("elevation recheck failed", zap.Error(err))
			}
		}
	}
}
