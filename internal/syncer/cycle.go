package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/device"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/peer"
)

// TriggerSync runs one cycle immediately.
func (o *Orchestrator) TriggerSync(ctx context.Context) error {
	if _, _, err := o.activeKeyring(); err != nil {
		if errors.Is(err, common.ErrSyncDisabled) {
			o.notifier.Notify(ctx, LevelWarning, "Sync is not enabled")
			o.emit(ctx, models.EventError, err.Error())
		}
		return err
	}
	return o.runCycle(ctx)
}

// runCycle performs discovery followed by one session per trusted device, in
// trust list order. Per-device failures are collected; the cycle only aborts
// early when the local dataset cannot be sealed or sync is switched off.
func (o *Orchestrator) runCycle(ctx context.Context) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	kr, gen, err := o.activeKeyring()
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.stopResetTimerLocked()
	o.phase = models.PhaseDiscovering
	o.errMsg = ""
	o.progress = models.Progress{Message: "Discovering devices"}
	o.mu.Unlock()
	o.emit(ctx, models.EventDiscovering, nil)

	found, err := o.discover(ctx, kr)
	if err != nil {
		o.log.Warn(ctx, "device discovery failed", "error", err)
	}
	o.emit(ctx, models.EventDevicesDiscovered, found)

	peers := o.trust.List()
	if len(peers) == 0 {
		o.mu.Lock()
		if o.generation == gen {
			o.phase = models.PhaseIdle
			o.progress = models.Progress{}
		}
		o.mu.Unlock()
		o.emit(ctx, models.EventIdle, nil)
		return nil
	}

	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return nil
	}
	o.phase = models.PhaseSyncing
	o.progress = models.Progress{Total: len(peers), Message: "Syncing devices"}
	o.mu.Unlock()
	o.emit(ctx, models.EventInProgress, len(peers))

	env, err := o.sealLocal(ctx, kr, gen)
	if errors.Is(err, errStale) {
		return nil
	}
	if err != nil {
		return o.failCycle(ctx, gen, fmt.Errorf("encrypt local data: %w", err))
	}

	var errs []error
	var lastErr error
	synced := 0
	for i, d := range peers {
		if !o.stillEnabled(gen) {
			o.log.Info(ctx, "sync switched off, remaining sessions skipped", "remaining", len(peers)-i)
			return nil
		}

		o.mu.Lock()
		o.progress = models.Progress{Current: i, Total: len(peers), Message: "Syncing with " + d.Name}
		o.mu.Unlock()

		if err := o.syncWithDevice(ctx, kr, gen, d, env); err != nil {
			if errors.Is(err, errStale) {
				return nil
			}
			err = fmt.Errorf("%s: %w", d.Name, err)
			errs = append(errs, err)
			lastErr = err
			continue
		}
		synced++
	}

	if lastErr != nil {
		o.failCycle(ctx, gen, lastErr)
		return errors.Join(errs...)
	}

	o.mu.Lock()
	if o.generation != gen || !o.enabled {
		o.mu.Unlock()
		return nil
	}
	o.lastSync = o.now().UnixMilli()
	o.phase = models.PhaseCompleted
	o.session = nil
	o.progress = models.Progress{Current: len(peers), Total: len(peers), Message: "Sync completed"}
	o.scheduleIdleLocked(gen)
	o.mu.Unlock()

	o.log.Info(ctx, "sync cycle completed", "devices", synced)
	o.emit(ctx, models.EventCompleted, synced)
	o.notifier.Notify(ctx, LevelSuccess, fmt.Sprintf("Synced with %d device(s)", synced))
	return nil
}

// failCycle moves the status to error unless sync was switched off meanwhile.
func (o *Orchestrator) failCycle(ctx context.Context, gen uint64, err error) error {
	o.mu.Lock()
	if o.generation != gen || !o.enabled {
		o.mu.Unlock()
		return err
	}
	o.phase = models.PhaseError
	o.errMsg = err.Error()
	o.session = nil
	o.mu.Unlock()

	o.log.Error(ctx, "sync cycle failed", "error", err)
	o.emit(ctx, models.EventError, err.Error())
	o.notifier.Notify(ctx, LevelError, "Sync failed: "+err.Error())
	return err
}

// scheduleIdleLocked reverts completed to idle after the display window.
func (o *Orchestrator) scheduleIdleLocked(gen uint64) {
	o.stopResetTimerLocked()
	runCtx := o.runCtx
	o.resetTimer = time.AfterFunc(o.opts.CompletedDisplay, func() {
		o.mu.Lock()
		if o.phase != models.PhaseCompleted || o.generation != gen {
			o.mu.Unlock()
			return
		}
		o.phase = models.PhaseIdle
		o.progress = models.Progress{}
		o.resetTimer = nil
		o.mu.Unlock()
		o.emit(runCtx, models.EventIdle, nil)
	})
}

// discover refreshes trusted devices that proved the shared passphrase and
// remembers the rest as pairing candidates. It never grants trust.
func (o *Orchestrator) discover(ctx context.Context, kr *cryptox.Keyring) ([]models.Device, error) {
	seen, err := o.transport.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrPeerUnavailable, err)
	}

	now := o.now()
	found := make([]models.Device, 0, len(seen))
	candidates := make(map[string]models.Device)
	for _, d := range seen {
		if d.ID == "" || d.ID == o.self.ID {
			continue
		}
		found = append(found, d)

		if _, trusted := o.trust.Get(d.ID); !trusted {
			d.Trusted = false
			candidates[d.ID] = d
			continue
		}
		if err := device.VerifyCredential(d.PublicKey, d.ID, kr.WithKey, now); err != nil {
			o.log.Warn(ctx, "trusted device presented an invalid credential", "device", d.ID, "error", err)
			continue
		}
		d.LastSeen = now.UnixMilli()
		if _, err := o.trust.Refresh(ctx, d); err != nil {
			o.log.Warn(ctx, "failed to refresh trusted device", "device", d.ID, "error", err)
		}
	}

	o.mu.Lock()
	o.discovered = candidates
	o.mu.Unlock()
	return found, nil
}

// syncWithDevice runs one session: send the local envelope, open the peer's
// reply and merge it.
func (o *Orchestrator) syncWithDevice(ctx context.Context, kr *cryptox.Keyring, gen uint64, d models.Device, env *cryptox.Envelope) error {
	sctx, cancel := context.WithTimeout(ctx, o.opts.SessionTimeout)
	defer cancel()

	o.mu.Lock()
	o.sessions[d.ID] = cancel
	o.session = &models.SessionStatus{DeviceID: d.ID, DeviceName: d.Name, Phase: models.PhaseConnecting}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.sessions, d.ID)
		o.session = nil
		o.mu.Unlock()
	}()

	o.emit(ctx, models.EventConnecting, d.Name)

	err := o.exchange(sctx, kr, gen, d, env)
	if err != nil {
		if !errors.Is(err, errStale) {
			o.log.Warn(ctx, "device sync failed", "device", d.ID, "error", err)
			o.emit(ctx, models.EventDeviceFailed, map[string]string{"deviceId": d.ID, "error": err.Error()})
		}
		return err
	}

	if err := o.trust.Touch(ctx, d.ID, o.now().UnixMilli()); err != nil {
		o.log.Warn(ctx, "failed to record device contact", "device", d.ID, "error", err)
	}
	o.emit(ctx, models.EventDeviceSynced, d.ID)
	return nil
}

func (o *Orchestrator) exchange(ctx context.Context, kr *cryptox.Keyring, gen uint64, d models.Device, env *cryptox.Envelope) error {
	from, err := o.describe(kr)
	if err != nil {
		return err
	}

	reply, err := o.transport.Exchange(ctx, d, peer.Offer{From: from, Envelope: env})
	if err != nil {
		return err
	}

	o.mu.Lock()
	if !o.enabled || o.generation != gen {
		o.mu.Unlock()
		return errStale
	}
	if o.session != nil {
		o.session.Phase = models.PhaseSyncing
	}
	o.mu.Unlock()

	remote, err := openRemote(kr, reply)
	if err != nil {
		return err
	}

	st, err := o.commit(ctx, gen, remote)
	if err != nil {
		return err
	}
	o.log.Debug(ctx, "merged device data", "device", d.ID, "added", st.Added, "replaced", st.Replaced, "kept", st.Kept)
	return nil
}
