package syncer

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/device"
	"github.com/dmitrijs2005/focussync/internal/models"
)

// AddTrustedDevice pairs d after checking that passphrase is the one sync was
// enabled with. Fields missing from d are taken from the last discovery. A
// credential presented by the device, if any, must verify.
func (o *Orchestrator) AddTrustedDevice(ctx context.Context, d models.Device, passphrase []byte) (models.Device, error) {
	kr, _, err := o.activeKeyring()
	if err != nil {
		return models.Device{}, err
	}

	ok, err := kr.Matches(passphrase)
	if err != nil {
		return models.Device{}, err
	}
	if !ok {
		o.notifier.Notify(ctx, LevelError, "Invalid passphrase. Device not added.")
		return models.Device{}, common.ErrInvalidPassphrase
	}

	o.mu.Lock()
	if seen, found := o.discovered[d.ID]; found {
		if d.Name == "" {
			d.Name = seen.Name
		}
		if d.Type == "" {
			d.Type = seen.Type
		}
		if d.Address == "" {
			d.Address = seen.Address
		}
		if d.PublicKey == "" {
			d.PublicKey = seen.PublicKey
		}
	}
	o.mu.Unlock()

	if d.PublicKey != "" {
		if err := device.VerifyCredential(d.PublicKey, d.ID, kr.WithKey, o.now()); err != nil {
			o.notifier.Notify(ctx, LevelError, "Device could not prove the sync passphrase")
			return models.Device{}, err
		}
	}

	now := o.now().UnixMilli()
	d.Trusted = true
	d.AddedAt = now
	if d.LastSeen == 0 {
		d.LastSeen = now
	}
	if err := o.trust.Put(ctx, d); err != nil {
		return models.Device{}, err
	}

	o.mu.Lock()
	delete(o.discovered, d.ID)
	o.mu.Unlock()

	o.log.Info(ctx, "trusted device added", "device", d.ID, "name", d.Name)
	o.emit(ctx, models.EventDeviceAdded, d)
	o.notifier.Notify(ctx, LevelSuccess, fmt.Sprintf("Device %q added to sync", d.Name))
	return d, nil
}

// RemoveTrustedDevice revokes id and aborts any session running with it.
// Unknown ids are not an error; removed reports whether anything changed.
func (o *Orchestrator) RemoveTrustedDevice(ctx context.Context, id string) (bool, error) {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return false, ErrNotStarted
	}
	if cancel, ok := o.sessions[id]; ok {
		cancel()
	}
	o.mu.Unlock()

	d, removed, err := o.trust.Remove(ctx, id)
	if err != nil || !removed {
		return false, err
	}

	o.log.Info(ctx, "trusted device removed", "device", id)
	o.emit(ctx, models.EventDeviceRemoved, id)
	o.notifier.Notify(ctx, LevelInfo, fmt.Sprintf("Device %q removed from sync", d.Name))
	return true, nil
}

// TrustedDevices lists paired peers.
func (o *Orchestrator) TrustedDevices() []models.Device {
	o.mu.Lock()
	trust := o.trust
	o.mu.Unlock()
	if trust == nil {
		return nil
	}
	return trust.List()
}

// DiscoveredDevices lists untrusted devices seen by the last discovery,
// sorted by name.
func (o *Orchestrator) DiscoveredDevices() []models.Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.SortedFunc(maps.Values(o.discovered), func(a, b models.Device) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
