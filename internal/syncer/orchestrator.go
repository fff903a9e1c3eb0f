// Package syncer implements the sync orchestrator: the enable/disable
// lifecycle, the periodic discovery and sync cycle, the per-device session,
// the responder side of an exchange and the status projection observed by
// the UI.
//
// An Orchestrator is built with New and driven through Start and Stop. Every
// instance is independent, so several simulated devices can share a process.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/device"
	"github.com/dmitrijs2005/focussync/internal/logging"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/peer"
	"github.com/dmitrijs2005/focussync/internal/store"
)

const (
	DefaultCompletedDisplay = 3 * time.Second
	DefaultSessionTimeout   = 30 * time.Second
)

var (
	ErrNotStarted     = errors.New("orchestrator not started")
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

// Options configures an Orchestrator. Store and Transport are required.
type Options struct {
	Store     store.Store
	Transport peer.Transport
	Logger    logging.Logger
	Notifier  Notifier

	// Platform feeds device name/type classification.
	Platform string
	// AdvertiseAddr is published to peers in the local device descriptor.
	AdvertiseAddr string

	KDF cryptox.Params

	// AutoSync overrides the persisted autoSync setting when non-nil.
	AutoSync *bool
	// SyncInterval overrides the persisted interval when positive.
	SyncInterval     time.Duration
	CompletedDisplay time.Duration
	SessionTimeout   time.Duration
	MaxSubscribers   int

	Now func() time.Time
}

// Orchestrator owns the sync key and coordinates sync cycles.
type Orchestrator struct {
	store     store.Store
	transport peer.Transport
	log       logging.Logger
	notifier  Notifier
	now       func() time.Time
	opts      Options
	bus       *broadcaster

	// cycleMu serialises cycles. dataMu serialises read-merge-write of the
	// datasets and is taken before mu when both are needed.
	cycleMu sync.Mutex
	dataMu  sync.Mutex
	mu      sync.Mutex

	started    bool
	runCtx     context.Context
	cancelRun  context.CancelFunc
	wg         sync.WaitGroup
	self       models.Device
	trust      *device.TrustStore
	keyring    *cryptox.Keyring
	generation uint64
	enabled    bool
	autoSync   bool
	interval   time.Duration
	autoStop   chan struct{}
	resetTimer *time.Timer

	phase    models.Phase
	lastSync int64
	errMsg   string
	progress models.Progress
	session  *models.SessionStatus
	sessions map[string]context.CancelFunc

	discovered map[string]models.Device
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("syncer: store is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("syncer: transport is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Platform == "" {
		opts.Platform = device.LocalPlatform()
	}
	if opts.CompletedDisplay <= 0 {
		opts.CompletedDisplay = DefaultCompletedDisplay
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.KDF.KDF == "" {
		opts.KDF = cryptox.DefaultParams()
	}

	log := opts.Logger.With("module", "syncer")
	return &Orchestrator{
		store:      opts.Store,
		transport:  opts.Transport,
		log:        log,
		notifier:   opts.Notifier,
		now:        opts.Now,
		opts:       opts,
		bus:        newBroadcaster(opts.MaxSubscribers, log),
		phase:      models.PhaseDisabled,
		sessions:   make(map[string]context.CancelFunc),
		discovered: make(map[string]models.Device),
	}, nil
}

// Start loads identity, trusted devices and settings. If sync was enabled
// before a restart the persisted key is imported and auto-sync resumes.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.mu.Unlock()

	self, err := device.LoadOrCreateIdentity(ctx, o.store, o.opts.Platform, o.now())
	if err != nil {
		return err
	}
	self.Address = o.opts.AdvertiseAddr

	trust := device.NewTrustStore(o.store, self.ID)
	if err := trust.Load(ctx); err != nil {
		return err
	}

	settings, err := o.loadSettings(ctx)
	if err != nil {
		return err
	}

	var restored *cryptox.KeyInfo
	if settings.SyncEnabled() {
		restored, err = o.loadExportedKey(ctx)
		if err != nil {
			o.log.Warn(ctx, "sync was enabled but the stored key is unusable, sync stays disabled", "error", err)
		}
	}

	o.mu.Lock()
	o.runCtx, o.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	o.self = self
	o.trust = trust
	o.autoSync = settings.AutoSync()
	if o.opts.AutoSync != nil {
		o.autoSync = *o.opts.AutoSync
	}
	o.interval = settings.SyncInterval()
	if o.opts.SyncInterval > 0 {
		o.interval = o.opts.SyncInterval
	}
	if restored != nil {
		o.keyring = cryptox.NewKeyring(restored, nil)
		o.enabled = true
		o.phase = models.PhaseIdle
		if o.autoSync {
			o.startAutoSyncLocked()
		}
	}
	o.started = true
	o.mu.Unlock()

	o.log.Info(ctx, "sync agent started", "device", self.ID, "name", self.Name, "enabled", restored != nil, "trusted", trust.Len())
	o.emit(ctx, models.EventDeviceInitialized, self.ID)
	return nil
}

// Stop halts auto-sync, aborts running sessions and drops key material from
// memory. Persisted state is left untouched.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.stopAutoSyncLocked()
	o.stopResetTimerLocked()
	o.cancelRun()
	o.mu.Unlock()

	o.wg.Wait()

	o.mu.Lock()
	if o.keyring != nil {
		o.keyring.Wipe()
		o.keyring = nil
	}
	o.mu.Unlock()
}

// EnableSync derives a sync key from passphrase and persists it in exported
// form. Enabling again with the same passphrase keeps the current key; a
// different passphrase replaces it and invalidates any cycle in flight.
func (o *Orchestrator) EnableSync(ctx context.Context, passphrase []byte) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrNotStarted
	}
	current := o.keyring
	o.mu.Unlock()

	if current != nil {
		same, err := current.Matches(passphrase)
		if err != nil {
			return err
		}
		if same {
			current.SetPassphrase(passphrase)
			return nil
		}
	}

	key, err := cryptox.DeriveKeyWithParams(passphrase, nil, o.opts.KDF)
	if err != nil {
		o.notifier.Notify(ctx, LevelError, "Failed to enable sync")
		return err
	}
	exported, err := json.Marshal(cryptox.ExportKey(key))
	if err != nil {
		key.Wipe()
		return fmt.Errorf("encode sync key: %w", err)
	}

	o.dataMu.Lock()
	err = o.saveSyncSettingsLocked(ctx, true, map[string]string{store.KeySyncKey: string(exported)})
	if err != nil {
		o.dataMu.Unlock()
		key.Wipe()
		o.notifier.Notify(ctx, LevelError, "Failed to enable sync")
		return err
	}

	o.mu.Lock()
	if o.keyring != nil {
		o.keyring.Wipe()
	}
	o.keyring = cryptox.NewKeyring(key, passphrase)
	o.generation++
	o.enabled = true
	o.phase = models.PhaseIdle
	o.errMsg = ""
	o.progress = models.Progress{}
	if o.autoSync {
		o.startAutoSyncLocked()
	}
	o.mu.Unlock()
	o.dataMu.Unlock()

	o.log.Info(ctx, "sync enabled", "kdf", key.Params.KDF)
	o.emit(ctx, models.EventSyncEnabled, nil)
	o.notifier.Notify(ctx, LevelSuccess, "Cross-device sync enabled with encryption")
	return nil
}

// DisableSync forgets the key, stops auto-sync and removes the persisted key.
// A session already exchanging is left to finish, but its result is dropped.
// Calling it while disabled is a no-op apart from re-persisting the flag.
func (o *Orchestrator) DisableSync(ctx context.Context) error {
	o.dataMu.Lock()
	defer o.dataMu.Unlock()

	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrNotStarted
	}
	wasEnabled := o.enabled
	if o.keyring != nil {
		o.keyring.Wipe()
		o.keyring = nil
	}
	o.enabled = false
	o.generation++
	o.phase = models.PhaseDisabled
	o.errMsg = ""
	o.progress = models.Progress{}
	o.session = nil
	o.stopAutoSyncLocked()
	o.stopResetTimerLocked()
	o.mu.Unlock()

	if err := o.saveSyncSettingsLocked(ctx, false, nil); err != nil {
		return err
	}
	if err := o.store.RemoveItem(ctx, store.KeySyncKey); err != nil {
		return fmt.Errorf("remove sync key: %w", err)
	}

	if wasEnabled {
		o.log.Info(ctx, "sync disabled")
		o.emit(ctx, models.EventSyncDisabled, nil)
		o.notifier.Notify(ctx, LevelInfo, "Cross-device sync disabled")
	}
	return nil
}

// SetAutoSync switches the periodic cycle on or off and persists the choice.
func (o *Orchestrator) SetAutoSync(ctx context.Context, on bool) error {
	o.dataMu.Lock()
	defer o.dataMu.Unlock()

	o.mu.Lock()
	o.autoSync = on
	enabled := o.enabled
	if on && enabled && o.started {
		o.startAutoSyncLocked()
	} else {
		o.stopAutoSyncLocked()
	}
	o.mu.Unlock()

	return o.saveSyncSettingsLocked(ctx, enabled, nil)
}

func (o *Orchestrator) startAutoSyncLocked() {
	if o.autoStop != nil {
		return
	}
	stop := make(chan struct{})
	o.autoStop = stop
	interval := o.interval
	runCtx := o.runCtx

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := o.runCycle(runCtx); err != nil {
					o.log.Warn(runCtx, "auto sync cycle failed", "error", err)
				}
			case <-stop:
				return
			case <-runCtx.Done():
				return
			}
		}
	}()
}

func (o *Orchestrator) stopAutoSyncLocked() {
	if o.autoStop != nil {
		close(o.autoStop)
		o.autoStop = nil
	}
}

func (o *Orchestrator) stopResetTimerLocked() {
	if o.resetTimer != nil {
		o.resetTimer.Stop()
		o.resetTimer = nil
	}
}

// stillEnabled reports whether the key context captured as gen is current.
func (o *Orchestrator) stillEnabled(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled && o.generation == gen
}

// Status returns the current status projection.
func (o *Orchestrator) Status() models.SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Orchestrator) statusLocked() models.SyncStatus {
	st := models.SyncStatus{
		Enabled:      o.enabled,
		Phase:        o.phase,
		LastSyncTime: o.lastSync,
		Encrypted:    o.keyring != nil,
		ErrorMessage: o.errMsg,
		Progress:     o.progress,
		AutoSync:     o.autoSync,
	}
	if o.trust != nil {
		st.DeviceCount = o.trust.Len()
	}
	if o.self.ID != "" {
		self := o.self
		st.CurrentDevice = &self
	}
	if o.session != nil {
		s := *o.session
		st.Session = &s
	}
	return st
}

func (o *Orchestrator) emit(ctx context.Context, typ models.EventType, data any) {
	o.mu.Lock()
	st := o.statusLocked()
	o.mu.Unlock()

	o.bus.publish(ctx, models.StatusEvent{
		Type:      typ,
		Data:      data,
		Timestamp: o.now().UnixMilli(),
		Status:    st,
	})
}

// CurrentDevice returns the local device descriptor.
func (o *Orchestrator) CurrentDevice() models.Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.self
}

// EncryptionInfo describes the configured primitives.
func (o *Orchestrator) EncryptionInfo() cryptox.EncryptionInfo {
	return cryptox.Info(o.opts.KDF)
}

func (o *Orchestrator) activeKeyring() (*cryptox.Keyring, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil, 0, ErrNotStarted
	}
	if !o.enabled || o.keyring == nil {
		return nil, 0, common.ErrSyncDisabled
	}
	return o.keyring, o.generation, nil
}
