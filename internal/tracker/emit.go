package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/dining-presence-go/internal/models"
	"github.com/jengzang/dining-presence-go/internal/store"
)

// emit applies the emission rule to a candidate presence; a nil region means
// outside every hall.
//
// A record younger than MinUpdateInterval is never replaced, the callback
// just sees it again. A candidate in the same hall keeps the old since. A
// new record is persisted, then shown, then encrypted for every friend. A
// clear deletes lastWhere when there is one and tells the server either way.
func (t *Tracker) emit(ctx context.Context, g uint64, region *models.HallRegion) error {
	creds, err := t.credentials(ctx)
	if err != nil {
		return err
	}
	last, err := t.lastWhere(ctx)
	if err != nil {
		return fmt.Errorf("load lastWhere: %w", err)
	}
	if !t.alive(g) {
		return nil
	}

	now := t.now().UTC().Truncate(time.Millisecond)
	if last != nil && now.Sub(last.Updated) < t.cfg.MinUpdateInterval {
		t.logger.Debug("presence too recent, not updating", zap.String("where", last.Where))
		t.notify(last)
		return nil
	}

	if region == nil {
		return t.clear(ctx, g, creds, last != nil)
	}

	rec := models.PresenceRecord{
		Where:   region.Name,
		Floor:   region.Floor,
		Since:   now,
		Updated: now,
	}
	if last.SameHall(&rec) {
		rec.Since = last.Since
	}

	ok, err := t.persist(g, func() error {
		return store.SetJSON(ctx, t.store, store.KeyLastWhere, rec)
	})
	if err != nil {
		return fmt.Errorf("save lastWhere: %w", err)
	}
	if !ok {
		return nil
	}
	t.logger.Info("presence changed",
		zap.String("where", rec.Where),
		zap.Time("since", rec.Since),
	)
	t.notify(&rec)

	friends, err := store.GetJSON[map[string]string](ctx, t.store, store.KeyFriendKeys)
	if errors.Is(err, store.ErrNotFound) {
		t.logger.Debug("no friends to send presence to")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load friend keys: %w", err)
	}
	if !t.alive(g) {
		return nil
	}

	if _, err := t.fanout.Send(ctx, creds.auth, friends, rec, creds.key.Private64); err != nil {
		return err
	}
	return nil
}

func (t *Tracker) clear(ctx context.Context, g uint64, creds credentials, had bool) error {
	if had {
		ok, err := t.persist(g, func() error {
			return t.store.Delete(ctx, store.KeyLastWhere)
		})
		if err != nil {
			return fmt.Errorf("clear lastWhere: %w", err)
		}
		if !ok {
			return nil
		}
		t.logger.Info("presence cleared")
		t.notify(nil)
	}
	if !t.alive(g) {
		return nil
	}

	if err := t.sender.SendUpdate(ctx, creds.auth, nil); err != nil {
		return fmt.Errorf("send presence cleared: %w", err)
	}
	return nil
}
