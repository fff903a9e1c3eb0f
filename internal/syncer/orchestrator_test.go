package syncer

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/device"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/peer"
	"github.com/dmitrijs2005/focussync/internal/store"
	"github.com/dmitrijs2005/focussync/internal/transport/loopback"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passphrase = "correct-horse-battery"

func TestNew_RequiresStoreAndTransport(t *testing.T) {
	_, err := New(Options{Transport: loopback.NewNetwork().Join()})
	require.Error(t, err)

	_, err = New(Options{Store: store.NewMemoryStore()})
	require.Error(t, err)
}

func TestOrchestrator_NotStarted(t *testing.T) {
	o, err := New(Options{Store: store.NewMemoryStore(), Transport: loopback.NewNetwork().Join()})
	require.NoError(t, err)

	require.ErrorIs(t, o.EnableSync(context.Background(), []byte("x")), ErrNotStarted)
	require.ErrorIs(t, o.DisableSync(context.Background()), ErrNotStarted)
	_, err = o.Describe(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, models.PhaseDisabled, o.Status().Phase)
}

func TestStart_Twice(t *testing.T) {
	d := newTestDevice(t, loopback.NewNetwork(), "linux")
	require.ErrorIs(t, d.o.Start(context.Background()), ErrAlreadyStarted)
}

func TestStart_InitialStatus(t *testing.T) {
	d := newTestDevice(t, loopback.NewNetwork(), "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)")

	st := d.o.Status()
	assert.False(t, st.Enabled)
	assert.False(t, st.Encrypted)
	assert.Equal(t, models.PhaseDisabled, st.Phase)
	require.NotNil(t, st.CurrentDevice)
	assert.Equal(t, "iPhone", st.CurrentDevice.Name)
	assert.Equal(t, models.DeviceMobile, st.CurrentDevice.Type)
	assert.Regexp(t, `^device-\d+-[0-9a-f]{12}$`, st.CurrentDevice.ID)
}

func TestEnableSync(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, loopback.NewNetwork(), "linux")

	d.enable(t, passphrase)

	st := d.o.Status()
	assert.True(t, st.Enabled)
	assert.True(t, st.Encrypted)
	assert.Equal(t, models.PhaseIdle, st.Phase)
	assert.True(t, d.notes.has(LevelSuccess))

	var exported cryptox.ExportedKey
	ok, err := store.GetJSON(ctx, d.store, store.KeySyncKey, &exported)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cryptox.Algorithm, exported.Algorithm)

	settings, err := d.o.loadSettings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.SyncEnabled())
}

func TestEnableSync_SamePassphraseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, loopback.NewNetwork(), "linux")

	d.enable(t, passphrase)
	first, _, _ := d.store.GetItem(ctx, store.KeySyncKey)
	gen := d.o.generation

	d.enable(t, passphrase)
	second, _, _ := d.store.GetItem(ctx, store.KeySyncKey)

	assert.Equal(t, first, second)
	assert.Equal(t, gen, d.o.generation)
}

func TestEnableSync_NewPassphraseReplacesKey(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, loopback.NewNetwork(), "linux")

	d.enable(t, passphrase)
	first, _, _ := d.store.GetItem(ctx, store.KeySyncKey)
	oldRing := d.o.keyring
	gen := d.o.generation

	d.enable(t, "another passphrase")
	second, _, _ := d.store.GetItem(ctx, store.KeySyncKey)

	assert.NotEqual(t, first, second)
	assert.Greater(t, d.o.generation, gen)

	ok, err := d.o.keyring.Matches([]byte("another passphrase"))
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = oldRing.SealJSON("after rekey")
	require.ErrorIs(t, err, cryptox.ErrInvalidKey, "old key must be wiped")
}

func TestEnableSync_EmptyPassphrase(t *testing.T) {
	d := newTestDevice(t, loopback.NewNetwork(), "linux")
	err := d.o.EnableSync(context.Background(), nil)
	require.ErrorIs(t, err, cryptox.ErrKeyDerivation)
	assert.False(t, d.o.Status().Enabled)
	assert.True(t, d.notes.has(LevelError))
}

func TestDisableSync(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, loopback.NewNetwork(), "linux")
	d.enable(t, passphrase)

	var rec phaseRecorder
	unsubscribe, err := d.o.OnStatusChange(rec.record)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, d.o.DisableSync(ctx))

	st := d.o.Status()
	assert.False(t, st.Enabled)
	assert.False(t, st.Encrypted)
	assert.Equal(t, models.PhaseDisabled, st.Phase)

	_, ok, err := d.store.GetItem(ctx, store.KeySyncKey)
	require.NoError(t, err)
	assert.False(t, ok)

	settings, err := d.o.loadSettings(ctx)
	require.NoError(t, err)
	assert.False(t, settings.SyncEnabled())

	// already disabled: no error, no second event
	require.NoError(t, d.o.DisableSync(ctx))
	_, events := rec.snapshot()
	assert.Equal(t, []models.EventType{models.EventSyncDisabled}, events)
}

func TestTriggerSync_WhenDisabled(t *testing.T) {
	d := newTestDevice(t, loopback.NewNetwork(), "linux")

	var rec phaseRecorder
	_, err := d.o.OnStatusChange(rec.record)
	require.NoError(t, err)

	err = d.o.TriggerSync(context.Background())
	require.ErrorIs(t, err, common.ErrSyncDisabled)
	assert.True(t, d.notes.has(LevelWarning))

	_, events := rec.snapshot()
	assert.Equal(t, []models.EventType{models.EventError}, events)
}

func TestRestart_RestoresKey(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	st := store.NewMemoryStore()

	first := startTestDevice(t, net, "linux", st)
	first.enable(t, passphrase)
	id := first.o.CurrentDevice().ID
	first.o.Stop()
	require.NoError(t, first.node.Close())

	second := startTestDevice(t, net, "linux", st)
	status := second.o.Status()
	assert.True(t, status.Enabled)
	assert.True(t, status.Encrypted)
	assert.Equal(t, models.PhaseIdle, status.Phase)
	assert.Equal(t, id, second.o.CurrentDevice().ID)

	// the restored key has no passphrase attached until it is entered again
	assert.False(t, second.o.keyring.HasPassphrase())
	require.NoError(t, second.o.EnableSync(ctx, []byte(passphrase)))
	assert.True(t, second.o.keyring.HasPassphrase())
}

func TestStatusSubscribers(t *testing.T) {
	t.Run("panicking subscriber does not break emission", func(t *testing.T) {
		d := newTestDevice(t, loopback.NewNetwork(), "linux")

		_, err := d.o.OnStatusChange(func(models.StatusEvent) { panic("boom") })
		require.NoError(t, err)

		var rec phaseRecorder
		_, err = d.o.OnStatusChange(rec.record)
		require.NoError(t, err)

		require.NotPanics(t, func() { d.enable(t, passphrase) })
		_, events := rec.snapshot()
		assert.Contains(t, events, models.EventSyncEnabled)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		d := newTestDevice(t, loopback.NewNetwork(), "linux")

		var rec phaseRecorder
		unsubscribe, err := d.o.OnStatusChange(rec.record)
		require.NoError(t, err)
		unsubscribe()
		unsubscribe()

		d.enable(t, passphrase)
		_, events := rec.snapshot()
		assert.Empty(t, events)
	})

	t.Run("subscriber limit", func(t *testing.T) {
		off := false
		o, err := New(Options{
			Store:          store.NewMemoryStore(),
			Transport:      loopback.NewNetwork().Join(),
			AutoSync:       &off,
			MaxSubscribers: 1,
		})
		require.NoError(t, err)

		_, err = o.OnStatusChange(func(models.StatusEvent) {})
		require.NoError(t, err)
		_, err = o.OnStatusChange(func(models.StatusEvent) {})
		require.ErrorIs(t, err, ErrTooManySubscribers)
	})

	t.Run("event channel", func(t *testing.T) {
		d := newTestDevice(t, loopback.NewNetwork(), "linux")
		ctx, cancel := context.WithCancel(context.Background())

		ch, err := d.o.Events(ctx, 8)
		require.NoError(t, err)

		d.enable(t, passphrase)
		ev := <-ch
		assert.Equal(t, models.EventSyncEnabled, ev.Type)
		assert.True(t, ev.Status.Enabled)

		cancel()
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-ch:
				return !ok
			default:
				return false
			}
		}, time.Second, 5*time.Millisecond)
	})
}

func TestAddTrustedDevice(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")

	t.Run("disabled", func(t *testing.T) {
		_, err := a.o.AddTrustedDevice(ctx, b.o.CurrentDevice(), []byte(passphrase))
		require.ErrorIs(t, err, common.ErrSyncDisabled)
	})

	a.enable(t, passphrase)
	b.enable(t, passphrase)

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := a.o.AddTrustedDevice(ctx, b.o.CurrentDevice(), []byte("wrong"))
		require.ErrorIs(t, err, common.ErrInvalidPassphrase)
		assert.Empty(t, a.o.TrustedDevices())
		assert.True(t, a.notes.has(LevelError))
	})

	t.Run("self", func(t *testing.T) {
		_, err := a.o.AddTrustedDevice(ctx, a.o.CurrentDevice(), []byte(passphrase))
		require.ErrorIs(t, err, common.ErrorValidation)
	})

	t.Run("invalid descriptor", func(t *testing.T) {
		_, err := a.o.AddTrustedDevice(ctx, models.Device{ID: "x"}, []byte(passphrase))
		require.ErrorIs(t, err, common.ErrorValidation)
	})

	t.Run("credential from another passphrase", func(t *testing.T) {
		c := newTestDevice(t, net, "darwin")
		c.enable(t, "someone else")
		cd, err := c.o.Describe(ctx)
		require.NoError(t, err)

		_, err = a.o.AddTrustedDevice(ctx, cd, []byte(passphrase))
		require.ErrorIs(t, err, common.ErrInvalidCredential)
		require.NoError(t, c.node.Close())
	})

	t.Run("ok", func(t *testing.T) {
		bd, err := b.o.Describe(ctx)
		require.NoError(t, err)

		added, err := a.o.AddTrustedDevice(ctx, bd, []byte(passphrase))
		require.NoError(t, err)
		assert.True(t, added.Trusted)
		assert.NotZero(t, added.AddedAt)

		list := a.o.TrustedDevices()
		require.Len(t, list, 1)
		assert.Equal(t, bd.ID, list[0].ID)
		assert.Equal(t, 1, a.o.Status().DeviceCount)
	})
}

func TestAddTrustedDevice_FillsFromDiscovery(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")
	a.enable(t, passphrase)
	b.enable(t, passphrase)

	require.NoError(t, a.o.TriggerSync(ctx))

	found := a.o.DiscoveredDevices()
	require.Len(t, found, 1)
	assert.False(t, found[0].Trusted)
	assert.Equal(t, "Windows PC", found[0].Name)
	assert.Zero(t, a.o.Status().DeviceCount, "discovery must not grant trust")

	added, err := a.o.AddTrustedDevice(ctx, models.Device{ID: found[0].ID}, []byte(passphrase))
	require.NoError(t, err)
	assert.Equal(t, "Windows PC", added.Name)
	assert.Equal(t, models.DeviceDesktop, added.Type)
	assert.Empty(t, a.o.DiscoveredDevices())
}

func TestRemoveTrustedDevice(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")
	a.enable(t, passphrase)
	b.enable(t, passphrase)
	pair(t, a, b, passphrase)

	id := b.o.CurrentDevice().ID

	removed, err := a.o.RemoveTrustedDevice(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, a.o.TrustedDevices())

	removed, err = a.o.RemoveTrustedDevice(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = a.o.RemoveTrustedDevice(ctx, "device-unknown")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoveTrustedDevice_AbortsSession(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")
	a.enable(t, passphrase)
	b.enable(t, passphrase)
	pair(t, a, b, passphrase)

	reached := make(chan struct{})
	var once sync.Once
	net.Intercept(func(ctx context.Context, _ models.Device) error {
		once.Do(func() { close(reached) })
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- a.o.TriggerSync(ctx) }()

	<-reached
	_, err := a.o.RemoveTrustedDevice(ctx, b.o.CurrentDevice().ID)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("session was not aborted")
	}
}

func TestHandleExchange_Gate(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")

	_, err := a.o.HandleExchange(ctx, peer.Offer{})
	require.ErrorIs(t, err, common.ErrSyncDisabled)

	a.enable(t, passphrase)
	b.enable(t, passphrase)

	bd, err := b.o.Describe(ctx)
	require.NoError(t, err)
	env, err := b.o.sealLocal(ctx, b.o.keyring, b.o.generation)
	require.NoError(t, err)

	t.Run("untrusted sender", func(t *testing.T) {
		_, err := a.o.HandleExchange(ctx, peer.Offer{From: bd, Envelope: env})
		require.ErrorIs(t, err, common.ErrUntrustedDevice)
	})

	_, err = a.o.AddTrustedDevice(ctx, bd, []byte(passphrase))
	require.NoError(t, err)

	t.Run("missing credential", func(t *testing.T) {
		forged := bd
		forged.PublicKey = ""
		_, err := a.o.HandleExchange(ctx, peer.Offer{From: forged, Envelope: env})
		require.ErrorIs(t, err, common.ErrInvalidCredential)
	})

	t.Run("tampered envelope", func(t *testing.T) {
		bad := *env
		flip := "00"
		if bad.Data[:2] == flip {
			flip = "ff"
		}
		bad.Data = flip + bad.Data[2:]
		_, err := a.o.HandleExchange(ctx, peer.Offer{From: bd, Envelope: &bad})
		require.ErrorIs(t, err, cryptox.ErrDecryption)
	})

	t.Run("ok", func(t *testing.T) {
		reply, err := a.o.HandleExchange(ctx, peer.Offer{From: bd, Envelope: env})
		require.NoError(t, err)
		require.NotNil(t, reply)

		plain, err := b.o.keyring.Open(reply)
		require.NoError(t, err)
		assert.Contains(t, string(plain), "timeEntries")
	})
}

func TestDescribe_CarriesCredential(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, loopback.NewNetwork(), "linux")

	plain, err := d.o.Describe(ctx)
	require.NoError(t, err)
	assert.Empty(t, plain.PublicKey)

	d.enable(t, passphrase)
	signed, err := d.o.Describe(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, signed.PublicKey)
	assert.Equal(t, plain.ID, signed.ID)
}

func TestEncryptionInfo(t *testing.T) {
	d := newTestDevice(t, loopback.NewNetwork(), "linux")
	info := d.o.EncryptionInfo()
	assert.Equal(t, cryptox.Algorithm, info.Algorithm)
	assert.Equal(t, 1000, info.Iterations)
}

func TestSetAutoSync(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	a.enable(t, passphrase)
	a.o.interval = 10 * time.Millisecond

	var mu sync.Mutex
	cycles := 0
	_, err := a.o.OnStatusChange(func(ev models.StatusEvent) {
		if ev.Type == models.EventDiscovering {
			mu.Lock()
			cycles++
			mu.Unlock()
		}
	})
	require.NoError(t, err)

	require.NoError(t, a.o.SetAutoSync(ctx, true))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cycles >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.o.SetAutoSync(ctx, false))
	settings, err := a.o.loadSettings(ctx)
	require.NoError(t, err)
	assert.False(t, settings.AutoSync())
	assert.False(t, a.o.Status().AutoSync)
}

func TestHandleExchange_RefusesPeerChosenKeyCost(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")
	a.enable(t, passphrase)
	b.enable(t, passphrase)
	pair(t, a, b, passphrase)

	bd, err := b.o.Describe(ctx)
	require.NoError(t, err)
	env, err := b.o.sealLocal(ctx, b.o.keyring, b.o.generation)
	require.NoError(t, err)

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, device.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   bd.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Type:       "focussync_pairing",
		Salt:       hex.EncodeToString([]byte(strings.Repeat("f", cryptox.SaltLength))),
		KDF:        cryptox.KDFPBKDF2,
		Iterations: 2_000_000,
	})
	forged, err := token.SignedString([]byte("wrong key"))
	require.NoError(t, err)

	t.Run("credential", func(t *testing.T) {
		from := bd
		from.PublicKey = forged
		_, err := a.o.HandleExchange(ctx, peer.Offer{From: from, Envelope: env})
		require.ErrorIs(t, err, common.ErrInvalidCredential)
		assert.ErrorContains(t, err, "unexpected key parameters")
	})

	t.Run("envelope", func(t *testing.T) {
		costly := *env
		costly.Iterations = 2_000_000
		_, err := a.o.HandleExchange(ctx, peer.Offer{From: bd, Envelope: &costly})
		require.ErrorIs(t, err, cryptox.ErrDecryption)
		assert.ErrorContains(t, err, "unexpected key parameters")
	})
}

func TestSealLocal_AfterDisable(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t, loopback.NewNetwork(), "linux")
	d.enable(t, passphrase)

	kr, gen, err := d.o.activeKeyring()
	require.NoError(t, err)
	require.NoError(t, d.o.DisableSync(ctx))

	_, err = d.o.sealLocal(ctx, kr, gen)
	require.ErrorIs(t, err, errStale)
	_, err = kr.SealJSON(models.Dataset{})
	require.ErrorIs(t, err, cryptox.ErrInvalidKey)
}

func TestHandleExchange_ConcurrentDisableNeverSealsWithWipedKey(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")
	a.enable(t, passphrase)
	b.enable(t, passphrase)
	pair(t, a, b, passphrase)
	putEntries(t, a.store, entry(t, "local", 1))

	bd, err := b.o.Describe(ctx)
	require.NoError(t, err)
	env, err := b.o.sealLocal(ctx, b.o.keyring, b.o.generation)
	require.NoError(t, err)

	var wg sync.WaitGroup
	replies := make(chan *cryptox.Envelope, 50)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			reply, err := a.o.HandleExchange(ctx, peer.Offer{From: bd, Envelope: env})
			if err == nil {
				replies <- reply
			}
		}
		close(replies)
	}()

	for i := 0; i < 10; i++ {
		require.NoError(t, a.o.DisableSync(ctx))
		a.enable(t, passphrase)
	}
	wg.Wait()

	for reply := range replies {
		plain, err := b.o.keyring.Open(reply)
		require.NoError(t, err, "every reply must be sealed with a live key")
		assert.Contains(t, string(plain), "local")
	}
}
