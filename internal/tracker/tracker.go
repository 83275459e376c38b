// Package tracker decides which dining hall the user is in, debounces the
// result and shares it with friends.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/dining-presence-go/internal/fanout"
	"github.com/jengzang/dining-presence-go/internal/geofence"
	"github.com/jengzang/dining-presence-go/internal/models"
	"github.com/jengzang/dining-presence-go/internal/spatial"
	"github.com/jengzang/dining-presence-go/internal/store"
)

var (
	// ErrNotAuthenticated means id, token or key is missing from the store
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNotStarted is returned by Resume when no hall geometry is persisted
	ErrNotStarted = errors.New("tracker was not started")
)

// Deps are the collaborators the tracker calls
type Deps struct {
	Store   store.Store
	Adapter geofence.Adapter
	Fanout  *fanout.Fanout
	Sender  fanout.Sender // used for presence cleared updates
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Config tunes the tracker. Zero fields take their defaults.
type Config struct {
	MinUpdateInterval time.Duration // records younger than this are not replaced
	WakeInterval      time.Duration // periodic geofence restart, negative disables
	ElevationRecheck  time.Duration // resample period while elevation is unconfirmed
	CircleMargin      float64       // meters added to each hall's bounding circle
	SmallCircleMargin float64       // meters added to the close range circle
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		MinUpdateInterval: 15 * time.Second,
		WakeInterval:      15 * time.Minute,
		ElevationRecheck:  30 * time.Second,
		CircleMargin:      spatial.DefaultCircleMargin,
		SmallCircleMargin: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinUpdateInterval == 0 {
		c.MinUpdateInterval = d.MinUpdateInterval
	}
	if c.WakeInterval == 0 {
		c.WakeInterval = d.WakeInterval
	}
	if c.ElevationRecheck == 0 {
		c.ElevationRecheck = d.ElevationRecheck
	}
	if c.CircleMargin == 0 {
		c.CircleMargin = d.CircleMargin
	}
	if c.SmallCircleMargin == 0 {
		c.SmallCircleMargin = d.SmallCircleMargin
	}
	return c
}

// Tracker is the background presence tracker. All methods are safe for
// concurrent use; no lock is held across adapter or transport calls.
type Tracker struct {
	store   store.Store
	adapter geofence.Adapter
	fanout  *fanout.Fanout
	sender  fanout.Sender
	logger  *zap.Logger
	now     func() time.Time
	cfg     Config

	// stopping is set first thing in Stop and cleared by the next Start.
	// gen changes on every Start and Stop so that continuations belonging
	// to an earlier run can tell they are stale.
	stopping atomic.Bool
	gen      atomic.Uint64

	// persistMu pairs the alive check with the store write it guards.
	// Stop holds it while clearing, so no write of a stopped run lands
	// after the clear.
	persistMu sync.Mutex

	mu       sync.Mutex
	index    *spatial.Index
	onChange func(*models.PresenceRecord)
	status   Status
	runCtx   context.Context // lives until the current run is stopped
	cancel   context.CancelFunc
	recheck  context.CancelFunc // elevation recheck loop, nil when idle
	loops    sync.WaitGroup
}

// New creates a tracker in the NotTracking state
func New(deps Deps, cfg Config) *Tracker {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:   deps.Store,
		adapter: deps.Adapter,
		fanout:  deps.Fanout,
		sender:  deps.Sender,
		logger:  logger,
		now:     now,
		cfg:     cfg.withDefaults(),
	}
}

// Start builds the region index from halls, persists it and begins tracking
// from the current location. Malformed halls are returned as a
// *spatial.ConfigError and the tracker is not started.
func (t *Tracker) Start(ctx context.Context, halls []models.Hall, onChange func(*models.PresenceRecord)) error {
	idx, err := spatial.Build(halls, t.cfg.CircleMargin)
	if err != nil {
		return err
	}
	if err := store.SetJSON(ctx, t.store, store.KeyHalls, idx.Data()); err != nil {
		return fmt.Errorf("persist halls: %w", err)
	}

	t.logger.Info("starting tracker",
		zap.Int("halls", len(idx.Circles())),
		zap.Int("regions", len(idx.Data().Regions)),
	)
	return t.run(ctx, idx, onChange)
}

// Resume continues tracking with the hall geometry persisted by an earlier
// Start, e.g. after the process was restarted.
func (t *Tracker) Resume(ctx context.Context, onChange func(*models.PresenceRecord)) error {
	data, err := store.GetJSON[models.RegionData](ctx, t.store, store.KeyHalls)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotStarted
	}
	if err != nil {
		return fmt.Errorf("load halls: %w", err)
	}

	t.logger.Info("resuming tracker", zap.Int("halls", len(data.Circles)))
	return t.run(ctx, spatial.FromData(data), onChange)
}

// Running reports whether tracking is active, in this process or in one
// that persisted its hall geometry and was restarted.
func (t *Tracker) Running(ctx context.Context) bool {
	if t.stopping.Load() {
		return false
	}
	_, err := t.store.Get(ctx, store.KeyHalls)
	return err == nil
}

func (t *Tracker) run(ctx context.Context, idx *spatial.Index, onChange func(*models.PresenceRecord)) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.stopRecheckLocked()
	t.stopping.Store(false)
	g := t.gen.Add(1)
	t.runCtx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := t.runCtx
	t.index = idx
	t.onChange = onChange
	t.status = Status{State: OutsideAll}
	t.mu.Unlock()

	if t.cfg.WakeInterval > 0 {
		t.loops.Add(1)
		go t.wakeLoop(runCtx, g)
	}

	if err := t.restart(ctx, g, nil); err != nil {
		// transient, the next wake or event tries again
		t.logger.Warn("initial geofence registration failed", zap.Error(err))
	}
	return nil
}

// Stop moves to NotTracking. It flags the stop before anything else so
// that in-flight continuations abandon their side effects, then removes the
// geofences, clears presence locally and on the server and forgets the hall
// geometry. It returns once all of that is done.
func (t *Tracker) Stop(ctx context.Context) error {
	t.stopping.Store(true)
	t.gen.Add(1)

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.stopRecheckLocked()
	onChange := t.onChange
	t.onChange = nil
	t.index = nil
	t.status = Status{State: NotTracking}
	t.mu.Unlock()

	t.loops.Wait()
	t.logger.Info("stopping tracker")

	if err := t.adapter.StopGeofencing(ctx); err != nil && !errors.Is(err, geofence.ErrNotRegistered) {
		t.logger.Warn("could not stop geofencing", zap.Error(err))
	}

	var errs []error
	t.persistMu.Lock()
	for _, key := range []string{store.KeyLastWhere, store.KeyActive, store.KeyHalls} {
		if err := t.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", key, err))
		}
	}
	t.persistMu.Unlock()

	if creds, err := t.credentials(ctx); err != nil {
		t.logger.Warn("not sending presence cleared update", zap.Error(err))
	} else if err := t.sender.SendUpdate(ctx, creds.auth, nil); err != nil {
		t.logger.Warn("presence cleared update failed", zap.Error(err))
	}

	if onChange != nil {
		onChange(nil)
	}
	return errors.Join(errs...)
}

// Status returns the current state
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// ShareWith adds or replaces a friend's public key and sends them our
// current presence straight away.
func (t *Tracker) ShareWith(ctx context.Context, friendID, publicKey string) error {
	friends, err := store.GetJSON[map[string]string](ctx, t.store, store.KeyFriendKeys)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load friend keys: %w", err)
	}
	if friends == nil {
		friends = make(map[string]string)
	}
	friends[friendID] = publicKey
	if err := store.SetJSON(ctx, t.store, store.KeyFriendKeys, friends); err != nil {
		return fmt.Errorf("save friend keys: %w", err)
	}

	last, err := t.lastWhere(ctx)
	if err != nil || last == nil {
		return err
	}
	creds, err := t.credentials(ctx)
	if err != nil {
		return err
	}

	// the server replaces everything we published, so the whole list goes out
	if _, err := t.fanout.Send(ctx, creds.auth, friends, *last, creds.key.Private64); err != nil {
		return fmt.Errorf("share presence: %w", err)
	}
	return nil
}

// alive reports whether work started under generation g may still have effects
func (t *Tracker) alive(g uint64) bool {
	return !t.stopping.Load() && t.gen.Load() == g
}

// persist runs write only while generation g is alive and reports whether
// it ran
func (t *Tracker) persist(g uint64, write func() error) (bool, error) {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	if !t.alive(g) {
		return false, nil
	}
	return true, write()
}

func (t *Tracker) currentIndex() *spatial.Index {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index
}

func (t *Tracker) setStatus(g uint64, s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.alive(g) {
		t.status = s
	}
}

func (t *Tracker) notify(rec *models.PresenceRecord) {
	t.mu.Lock()
	onChange := t.onChange
	t.mu.Unlock()
	if onChange != nil {
		onChange(rec)
	}
}

type credentials struct {
	auth models.Auth
	key  models.Key
}

func (t *Tracker) credentials(ctx context.Context) (credentials, error) {
	vals, err := t.store.GetMany(ctx, store.KeyID, store.KeyToken, store.KeyKey)
	if err != nil {
		return credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	rawID, okID := vals[store.KeyID]
	rawToken, okToken := vals[store.KeyToken]
	rawKey, okKey := vals[store.KeyKey]
	if !okID || !okToken || !okKey {
		return credentials{}, ErrNotAuthenticated
	}

	var c credentials
	if err := errors.Join(
		json.Unmarshal(rawID, &c.auth.ID),
		json.Unmarshal(rawToken, &c.auth.Token),
		json.Unmarshal(rawKey, &c.key),
	); err != nil {
		return credentials{}, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if c.auth.ID == "" || c.auth.Token == "" || c.key.Private64 == "" {
		return credentials{}, ErrNotAuthenticated
	}
	return c, nil
}

func (t *Tracker) lastWhere(ctx context.Context) (*models.PresenceRecord, error) {
	rec, err := store.GetJSON[models.PresenceRecord](ctx, t.store, store.KeyLastWhere)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *Tracker) active(ctx context.Context) (models.ActiveSet, error) {
	a, err := store.GetJSON[models.ActiveSet](ctx, t.store, store.KeyActive)
	if errors.Is(err, store.ErrNotFound) {
		return models.ActiveSet{}, nil
	}
	return a, err
}
