package device

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/store"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a device descriptor received from a peer or a user.
func Validate(d models.Device) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", common.ErrorValidation, err)
	}
	return nil
}

// TrustStore is the persisted registry of trusted peers. The local device is
// never part of it.
type TrustStore struct {
	mu      sync.RWMutex
	store   store.Store
	selfID  string
	devices []models.Device
}

func NewTrustStore(s store.Store, selfID string) *TrustStore {
	return &TrustStore{store: s, selfID: selfID}
}

// Load replaces the in-memory registry with the persisted list.
func (t *TrustStore) Load(ctx context.Context) error {
	var devices []models.Device
	if _, err := store.GetJSON(ctx, t.store, store.KeyTrustedDevices, &devices); err != nil {
		return fmt.Errorf("load trusted devices: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices = slices.DeleteFunc(devices, func(d models.Device) bool {
		return d.ID == t.selfID || !d.Trusted
	})
	return nil
}

// List returns a copy of the trusted peers in insertion order.
func (t *TrustStore) List() []models.Device {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.devices)
}

func (t *TrustStore) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.devices)
}

func (t *TrustStore) Get(id string) (models.Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := t.index(id)
	if i < 0 {
		return models.Device{}, false
	}
	return t.devices[i], true
}

func (t *TrustStore) index(id string) int {
	return slices.IndexFunc(t.devices, func(d models.Device) bool { return d.ID == id })
}

// Put inserts or replaces d and persists the registry.
func (t *TrustStore) Put(ctx context.Context, d models.Device) error {
	if d.ID == t.selfID {
		return fmt.Errorf("%w: cannot trust the local device", common.ErrorValidation)
	}
	if err := Validate(d); err != nil {
		return err
	}
	d.Trusted = true

	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.index(d.ID); i >= 0 {
		t.devices[i] = d
	} else {
		t.devices = append(t.devices, d)
	}
	return t.saveLocked(ctx)
}

// Remove deletes id and persists the registry. Removing an unknown id is a
// no-op reported as ok=false.
func (t *TrustStore) Remove(ctx context.Context, id string) (models.Device, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.index(id)
	if i < 0 {
		return models.Device{}, false, nil
	}
	d := t.devices[i]
	t.devices = slices.Delete(t.devices, i, i+1)
	return d, true, t.saveLocked(ctx)
}

// Touch records a successful contact. Unknown ids are ignored.
func (t *TrustStore) Touch(ctx context.Context, id string, lastSeenMs int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.index(id)
	if i < 0 {
		return nil
	}
	t.devices[i].LastSeen = lastSeenMs
	return t.saveLocked(ctx)
}

// Refresh updates the cosmetic fields of a known device from a discovery
// result, keeping trust and pairing data.
func (t *TrustStore) Refresh(ctx context.Context, seen models.Device) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.index(seen.ID)
	if i < 0 {
		return false, nil
	}
	d := &t.devices[i]
	if seen.Name != "" {
		d.Name = seen.Name
	}
	if seen.Address != "" {
		d.Address = seen.Address
	}
	if seen.PublicKey != "" {
		d.PublicKey = seen.PublicKey
	}
	if seen.LastSeen > d.LastSeen {
		d.LastSeen = seen.LastSeen
	}
	return true, t.saveLocked(ctx)
}

func (t *TrustStore) saveLocked(ctx context.Context) error {
	devices := t.devices
	if devices == nil {
		devices = []models.Device{}
	}
	if err := store.SetJSON(ctx, t.store, store.KeyTrustedDevices, devices); err != nil {
		return fmt.Errorf("save trusted devices: %w", err)
	}
	return nil
}
