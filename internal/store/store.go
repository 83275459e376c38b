// Package store is the durable key/value state the tracker keeps across
// process restarts.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Keys used by the tracker
const (
	KeyHalls      = "halls"
	KeyActive     = "active"
	KeyLastWhere  = "lastWhere"
	KeyFriendKeys = "friendKeys"
	KeyID         = "id"
	KeyToken      = "token"
	KeyKey        = "key"
)

// SchemaVersion is stamped on every persisted value. Values written under a
// different version read as missing.
const SchemaVersion = 1

// ErrNotFound is returned when a key holds no value
var ErrNotFound = errors.New("store: key not found")

// Store is a durable key/value store of opaque JSON values. Every write is
// atomic: a reader never sees a partially written value.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// GetMany returns the keys that hold a value; missing keys are absent from the map
	GetMany(ctx context.Context, keys ...string) (map[string][]byte, error)
}

// GetJSON reads key and decodes it into a T
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var v T
	raw, err := s.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

// SetJSON encodes v and writes it under key
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
