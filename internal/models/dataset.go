package models

import (
	"encoding/json"
	"time"
)

// Setting keys the sync agent owns inside the shared settings bundle.
const (
	SettingSyncEnabled  = "syncEnabled"
	SettingAutoSync     = "autoSync"
	SettingSyncInterval = "syncInterval"
)

// DefaultSyncInterval is used when settings carry no interval.
const DefaultSyncInterval = 5 * time.Minute

// Settings is an opaque bundle of user preferences.
type Settings map[string]json.RawMessage

func (s Settings) bool(key string, def bool) bool {
	raw, ok := s[key]
	if !ok {
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

func (s Settings) SyncEnabled() bool { return s.bool(SettingSyncEnabled, false) }

// AutoSync defaults to true unless explicitly switched off.
func (s Settings) AutoSync() bool { return s.bool(SettingAutoSync, true) }

// SyncInterval is stored in milliseconds.
func (s Settings) SyncInterval() time.Duration {
	raw, ok := s[SettingSyncInterval]
	if !ok {
		return DefaultSyncInterval
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
		return DefaultSyncInterval
	}
	return time.Duration(ms) * time.Millisecond
}

// Set stores v under key.
func (s Settings) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s[key] = raw
	return nil
}

// Dataset is the plaintext sealed into every sync envelope.
type Dataset struct {
	TimeEntries  []TimeEntry `json:"timeEntries"`
	Projects     []Project   `json:"projects"`
	Settings     Settings    `json:"settings"`
	LastModified int64       `json:"lastModified"`
}
