package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/merge"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/store"
)

// errStale marks a merge dropped because sync was disabled or re-keyed while
// the exchange was running.
var errStale = errors.New("sync key changed during exchange")

func (o *Orchestrator) loadSettings(ctx context.Context) (models.Settings, error) {
	settings := models.Settings{}
	if _, err := store.GetJSON(ctx, o.store, store.KeySettings, &settings); err != nil {
		return nil, err
	}
	if settings == nil {
		settings = models.Settings{}
	}
	return settings, nil
}

func (o *Orchestrator) loadExportedKey(ctx context.Context) (*cryptox.KeyInfo, error) {
	var exported cryptox.ExportedKey
	ok, err := store.GetJSON(ctx, o.store, store.KeySyncKey, &exported)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no stored key", cryptox.ErrInvalidKey)
	}
	return cryptox.ImportKey(exported)
}

// saveSyncSettingsLocked rewrites the sync flags in the settings bundle along
// with any extra items in one atomic write. Callers hold dataMu.
func (o *Orchestrator) saveSyncSettingsLocked(ctx context.Context, enabled bool, extra map[string]string) error {
	settings, err := o.loadSettings(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	autoSync := o.autoSync
	interval := o.interval
	o.mu.Unlock()

	if err := settings.Set(models.SettingSyncEnabled, enabled); err != nil {
		return err
	}
	if err := settings.Set(models.SettingAutoSync, autoSync); err != nil {
		return err
	}
	if interval > 0 {
		if err := settings.Set(models.SettingSyncInterval, interval.Milliseconds()); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	items := map[string]string{store.KeySettings: string(raw)}
	for k, v := range extra {
		items[k] = v
	}
	return o.store.SetItems(ctx, items)
}

// loadDataset reads the local syncable datasets. Missing collections are
// empty.
func (o *Orchestrator) loadDataset(ctx context.Context) (models.Dataset, error) {
	ds := models.Dataset{
		TimeEntries: []models.TimeEntry{},
		Projects:    []models.Project{},
		Settings:    models.Settings{},
	}
	if _, err := store.GetJSON(ctx, o.store, store.KeyTimeEntries, &ds.TimeEntries); err != nil {
		return ds, err
	}
	if _, err := store.GetJSON(ctx, o.store, store.KeyProjects, &ds.Projects); err != nil {
		return ds, err
	}
	settings, err := o.loadSettings(ctx)
	if err != nil {
		return ds, err
	}
	ds.Settings = settings

	for _, r := range ds.TimeEntries {
		ds.LastModified = max(ds.LastModified, r.LastModified)
	}
	for _, r := range ds.Projects {
		ds.LastModified = max(ds.LastModified, r.LastModified)
	}
	return ds, nil
}

// sealLocal encrypts the local dataset with the active key. It fails with
// errStale once gen is no longer current, so nothing is sealed after the key
// has been switched off or replaced.
func (o *Orchestrator) sealLocal(ctx context.Context, kr *cryptox.Keyring, gen uint64) (*cryptox.Envelope, error) {
	o.dataMu.Lock()
	defer o.dataMu.Unlock()

	if !o.stillEnabled(gen) {
		return nil, errStale
	}
	ds, err := o.loadDataset(ctx)
	if err != nil {
		return nil, fmt.Errorf("load local data: %w", err)
	}
	return kr.SealJSON(ds)
}

// openRemote decrypts a peer envelope into a dataset.
func openRemote(kr *cryptox.Keyring, env *cryptox.Envelope) (models.Dataset, error) {
	var ds models.Dataset
	plain, err := kr.Open(env)
	if err != nil {
		return ds, err
	}
	if err := json.Unmarshal(plain, &ds); err != nil {
		return ds, fmt.Errorf("%w: malformed payload: %w", cryptox.ErrDecryption, err)
	}
	return ds, nil
}

// commit merges remote into the local datasets and persists the result in
// one write. The merge is dropped when gen is no longer current.
func (o *Orchestrator) commit(ctx context.Context, gen uint64, remote models.Dataset) (merge.Stats, error) {
	o.dataMu.Lock()
	defer o.dataMu.Unlock()

	if !o.stillEnabled(gen) {
		return merge.Stats{}, errStale
	}

	local, err := o.loadDataset(ctx)
	if err != nil {
		return merge.Stats{}, err
	}

	// Sync flags are device local and never taken from a peer.
	for _, k := range []string{models.SettingSyncEnabled, models.SettingAutoSync, models.SettingSyncInterval} {
		delete(remote.Settings, k)
	}

	merged, st := merge.Dataset(local, remote)
	if !st.Changed() {
		return st, nil
	}

	items := make(map[string]string, 3)
	for key, v := range map[string]any{
		store.KeyTimeEntries: merged.TimeEntries,
		store.KeyProjects:    merged.Projects,
		store.KeySettings:    merged.Settings,
	} {
		raw, err := json.Marshal(v)
		if err != nil {
			return st, fmt.Errorf("encode %s: %w", key, err)
		}
		items[key] = string(raw)
	}
	if err := o.store.SetItems(ctx, items); err != nil {
		return st, fmt.Errorf("save merged data: %w", err)
	}
	return st, nil
}
