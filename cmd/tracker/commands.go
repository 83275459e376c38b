package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/dining-presence-go/internal/config"
	"github.com/jengzang/dining-presence-go/internal/crypto"
	"github.com/jengzang/dining-presence-go/internal/fanout"
	"github.com/jengzang/dining-presence-go/internal/models"
	"github.com/jengzang/dining-presence-go/internal/store"
	"github.com/jengzang/dining-presence-go/internal/tracker"
)

func (a *app) keygen(ctx context.Context) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	if err := store.SetJSON(ctx, a.store, store.KeyKey, key); err != nil {
		return err
	}
	fmt.Println(key.Public64)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	id := fs.String("id", "", "user id")
	token := fs.String("token", "", "relay token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *token == "" {
		return errors.New("-id and -token are required")
	}

	if err := store.SetJSON(ctx, a.store, store.KeyID, *id); err != nil {
		return err
	}
	return store.SetJSON(ctx, a.store, store.KeyToken, *token)
}

func (a *app) friend(ctx context.Context, args []string) error {
	if len(args) != 3 || args[0] != "add" {
		return errors.New("usage: friend add ID PUBLIC_KEY")
	}
	return a.tracker.ShareWith(ctx, args[1], args[2])
}

// run feeds location fixes from stdin to the geofence simulator until EOF
// or a signal. Tracking state survives the exit unless -stop is given.
func (a *app) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	hallsPath := fs.String("halls", "", "hall configuration (.json or .geojson); resumes when empty")
	stopOnExit := fs.Bool("stop", false, "stop tracking on exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	out := json.NewEncoder(a.out)
	onChange := func(rec *models.PresenceRecord) {
		if err := out.Encode(rec); err != nil {
			a.logger.Warn("write presence", zap.Error(err))
		}
	}

	var err error
	if *hallsPath != "" {
		var halls []models.Hall
		if halls, err = config.LoadHalls(*hallsPath); err != nil {
			return err
		}
		err = a.tracker.Start(ctx, halls, onChange)
	} else {
		err = a.tracker.Resume(ctx, onChange)
	}
	if errors.Is(err, tracker.ErrNotStarted) {
		return errors.New("tracker is not running, pass -halls to start it")
	}
	if err != nil {
		return err
	}

	fixes := make(chan models.Location)
	go func() {
		defer close(fixes)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			var loc models.Location
			if err := json.Unmarshal(scanner.Bytes(), &loc); err != nil {
				a.logger.Warn("skipping malformed fix", zap.Error(err))
				continue
			}
			if loc.Timestamp.IsZero() {
				loc.Timestamp = time.Now()
			}
			select {
			case fixes <- loc:
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case loc, ok := <-fixes:
			if !ok {
				break loop
			}
			a.sim.Feed(ctx, loc)
		}
	}

	if *stopOnExit {
		return a.tracker.Stop(context.WithoutCancel(ctx))
	}
	return nil
}

func (a *app) status(ctx context.Context) error {
	vals, err := a.store.GetMany(ctx, store.KeyLastWhere, store.KeyActive)
	if err != nil {
		return err
	}
	report := struct {
		Running   bool            `json:"running"`
		LastWhere json.RawMessage `json:"lastWhere"`
		Active    json.RawMessage `json:"active"`
	}{
		Running:   a.tracker.Running(ctx),
		LastWhere: rawOrNull(vals[store.KeyLastWhere]),
		Active:    rawOrNull(vals[store.KeyActive]),
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func rawOrNull(raw []byte) json.RawMessage {
	if raw == nil {
		return json.RawMessage("null")
	}
	return raw
}

// inbox decrypts what friends have published for us
func (a *app) inbox(ctx context.Context) error {
	vals, err := a.store.GetMany(ctx, store.KeyID, store.KeyToken, store.KeyKey)
	if err != nil {
		return err
	}
	var (
		auth models.Auth
		key  models.Key
	)
	if err := errors.Join(
		json.Unmarshal(vals[store.KeyID], &auth.ID),
		json.Unmarshal(vals[store.KeyToken], &auth.Token),
		json.Unmarshal(vals[store.KeyKey], &key),
	); err != nil {
		return tracker.ErrNotAuthenticated
	}

	friends, err := store.GetJSON[map[string]string](ctx, a.store, store.KeyFriendKeys)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	envelopes, err := a.client.Inbox(ctx, auth)
	if err != nil {
		return err
	}

	out := json.NewEncoder(a.out)
	now := time.Now()
	for sender, env := range envelopes {
		pub, ok := friends[sender]
		if !ok {
			a.logger.Debug("ignoring presence from a stranger", zap.String("sender", sender))
			continue
		}
		rec, err := a.fanout.Open(env.Ciphertext, key.Private64, pub, now, fanout.UpdateLimit)
		if err != nil {
			a.logger.Warn("could not open presence", zap.String("friend", sender), zap.Error(err))
			continue
		}
		if err := out.Encode(map[string]any{"friend": sender, "presence": rec}); err != nil {
			a.logger.Warn("write presence", zap.String("friend", sender), zap.Error(err))
		}
	}
	return nil
}
