// Package store is the local persistent key/value store the sync agent keeps
// its device identity, trust list, sync key and syncable datasets in.
//
// Values are opaque strings (JSON documents in practice) addressed by the
// fixed keys below. Drivers: in-memory, SQLite (modernc.org/sqlite) and
// Postgres (pgx). SQL schemas are applied with goose.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	KeyDeviceID       = "focusflow-device-id"
	KeyTrustedDevices = "focusflow-trusted-devices"
	KeySyncKey        = "focusflow-sync-key"
	KeySettings       = "focusflow-settings"
	KeyTimeEntries    = "focusflow-time-entries"
	KeyProjects       = "focusflow-projects"
)

// Store is a string key/value store. GetItem reports ok=false for a missing
// key; that is not an error. RemoveItem of a missing key is a no-op.
type Store interface {
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error

	// SetItems writes all pairs atomically.
	SetItems(ctx context.Context, items map[string]string) error

	Close() error
}

// GetJSON decodes the value under key into v. It reports false when absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.GetItem(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.SetItem(ctx, key, string(raw))
}
