// Package fanout encrypts one presence record for every friend and ships the
// results in a single batched update.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jengzang/dining-presence-go/internal/models"
)

// UpdateLimit is how long a friend's record stays meaningful
const UpdateLimit = 5 * time.Minute

// ErrStale is returned by Open for records older than the freshness limit
var ErrStale = errors.New("presence record is stale")

// Cipher is the encryption primitive
type Cipher interface {
	Encrypt(plaintext []byte, privateKey, peerPublicKey string) (string, error)
	Decrypt(ciphertext, privateKey, peerPublicKey string) ([]byte, error)
}

// Sender delivers a batched update. A nil payload clears presence.
type Sender interface {
	SendUpdate(ctx context.Context, auth models.Auth, payload map[string]string) error
}

// Report summarises one fan-out
type Report struct {
	Attempted int
	Succeeded int
	Failed    map[string]error // friend id -> encryption error
}

// Fanout encrypts per friend and sends the partial result
type Fanout struct {
	cipher  Cipher
	sender  Sender
	workers int
	logger  *zap.Logger
}

// New creates a Fanout. workers bounds concurrent encryptions; <= 0 means unbounded.
func New(cipher Cipher, sender Sender, workers int, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{cipher: cipher, sender: sender, workers: workers, logger: logger}
}

// Send encrypts rec for every friend in friendKeys and posts the ciphertexts
// that succeeded. Encryption failures are isolated and reported; only a
// delivery failure is returned as an error.
func (f *Fanout) Send(ctx context.Context, auth models.Auth, friendKeys map[string]string, rec models.PresenceRecord, privateKey string) (Report, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return Report{}, fmt.Errorf("encode presence: %w", err)
	}

	payload, report := f.encryptAll(ctx, friendKeys, plaintext, privateKey)

	f.logger.Info("encoded presence for friends",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("attempted", report.Attempted),
	)
	for id, err := range report.Failed {
		f.logger.Warn("could not encrypt for friend", zap.String("friend", id), zap.Error(err))
	}

	if err := f.sender.SendUpdate(ctx, auth, payload); err != nil {
		return report, fmt.Errorf("deliver update: %w", err)
	}
	return report, nil
}

func (f *Fanout) encryptAll(ctx context.Context, friendKeys map[string]string, plaintext []byte, privateKey string) (map[string]string, Report) {
	var (
		mu      sync.Mutex
		payload = make(map[string]string, len(friendKeys))
		report  = Report{Attempted: len(friendKeys), Failed: make(map[string]error)}
	)

	g, _ := errgroup.WithContext(ctx)
	if f.workers > 0 {
		g.SetLimit(f.workers)
	}

	for id, pub := range friendKeys {
		g.Go(func() error {
			ct, err := f.encryptOne(plaintext, privateKey, pub)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[id] = err
				return nil
			}
			payload[id] = ct
			report.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	return payload, report
}

// encryptOne turns a panicking primitive into an error for that friend alone
func (f *Fanout) encryptOne(plaintext []byte, privateKey, pub string) (ct string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cipher panic: %v", p)
		}
	}()
	return f.cipher.Encrypt(plaintext, privateKey, pub)
}

// Open decrypts a friend's record and rejects it once older than freshFor
func (f *Fanout) Open(ciphertext, privateKey, friendPublicKey string, now time.Time, freshFor time.Duration) (*models.PresenceRecord, error) {
	plain, err := f.cipher.Decrypt(ciphertext, privateKey, friendPublicKey)
	if err != nil {
		return nil, err
	}

	var rec models.PresenceRecord
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("decode presence: %w", err)
	}
	if rec.Where == "" || rec.Since.IsZero() || rec.Updated.IsZero() {
		return nil, errors.New("presence record is missing where/since/updated")
	}
	if now.Sub(rec.Updated) > freshFor {
		return nil, ErrStale
	}
	return &rec, nil
}
