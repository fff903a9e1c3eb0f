package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/peer"
	"github.com/dmitrijs2005/focussync/internal/store"
	"github.com/dmitrijs2005/focussync/internal/transport/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncScenario(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)")

	a.enable(t, passphrase)
	b.enable(t, passphrase)
	pair(t, a, b, passphrase)

	putEntries(t, a.store, entry(t, "a-1", 100))
	putEntries(t, b.store, entry(t, "b-1", 200))

	var rec phaseRecorder
	_, err := a.o.OnStatusChange(rec.record)
	require.NoError(t, err)
	rec.record(models.StatusEvent{Status: a.o.Status()})

	require.NoError(t, a.o.TriggerSync(ctx))

	require.Eventually(t, func() bool {
		phases, _ := rec.snapshot()
		return len(phases) == 5
	}, time.Second, 5*time.Millisecond)

	phases, events := rec.snapshot()
	assert.Equal(t, []models.Phase{
		models.PhaseIdle,
		models.PhaseDiscovering,
		models.PhaseSyncing,
		models.PhaseCompleted,
		models.PhaseIdle,
	}, phases)
	assert.Contains(t, events, models.EventConnecting)
	assert.Contains(t, events, models.EventDeviceSynced)

	st := a.o.Status()
	assert.Equal(t, 1, st.DeviceCount)
	assert.True(t, st.Encrypted)
	assert.NotZero(t, st.LastSyncTime)
	assert.Empty(t, st.ErrorMessage)

	assert.ElementsMatch(t, []string{"a-1", "b-1"}, entryIDs(t, a.store))
	assert.ElementsMatch(t, []string{"a-1", "b-1"}, entryIDs(t, b.store))

	trusted := a.o.TrustedDevices()
	require.Len(t, trusted, 1)
	assert.Equal(t, "iPad", trusted[0].Name)
	assert.Equal(t, models.DeviceTablet, trusted[0].Type)
	assert.True(t, a.notes.has(LevelSuccess))
}

func TestSync_LastWriterWins(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")
	a.enable(t, passphrase)
	b.enable(t, passphrase)
	pair(t, a, b, passphrase)

	older, err := models.NewRecord("shared", 100, map[string]any{"description": "old"})
	require.NoError(t, err)
	newer, err := models.NewRecord("shared", 300, map[string]any{"description": "new"})
	require.NoError(t, err)

	putEntries(t, a.store, older)
	putEntries(t, b.store, newer)

	require.NoError(t, a.o.TriggerSync(ctx))

	for _, s := range []store.Store{a.store, b.store} {
		var entries []models.TimeEntry
		_, err := store.GetJSON(ctx, s, store.KeyTimeEntries, &entries)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		var desc string
		_, err = entries[0].Field("description", &desc)
		require.NoError(t, err)
		assert.Equal(t, "new", desc)
		assert.Equal(t, int64(300), entries[0].LastModified)
	}
}

func TestSync_SyncFlagsStayLocal(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")
	a.enable(t, passphrase)
	b.enable(t, passphrase)
	pair(t, a, b, passphrase)

	settings, err := b.o.loadSettings(ctx)
	require.NoError(t, err)
	require.NoError(t, settings.Set("theme", "dark"))
	require.NoError(t, settings.Set(models.SettingSyncInterval, 1234))
	require.NoError(t, store.SetJSON(ctx, b.store, store.KeySettings, settings))

	require.NoError(t, a.o.TriggerSync(ctx))

	merged, err := a.o.loadSettings(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `"dark"`, string(merged["theme"]))
	assert.True(t, merged.SyncEnabled())
	assert.Equal(t, models.DefaultSyncInterval, merged.SyncInterval())
}

func TestSync_SequentialSessionsCollectErrors(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	peers := []*testDevice{
		newTestDevice(t, net, "windows"),
		newTestDevice(t, net, "darwin"),
		newTestDevice(t, net, "android"),
	}

	a.enable(t, passphrase)
	for i, p := range peers {
		p.enable(t, passphrase)
		pair(t, a, p, passphrase)
		putEntries(t, p.store, entry(t, []string{"first", "second", "third"}[i], int64(i+1)))
	}

	var mu sync.Mutex
	var order []string
	net.Intercept(func(_ context.Context, to models.Device) error {
		mu.Lock()
		order = append(order, to.ID)
		mu.Unlock()
		return nil
	})
	failing := peers[1].o.CurrentDevice()
	net.Fail(failing.ID, errors.New("connection reset by peer"))

	err := a.o.TriggerSync(ctx)
	require.Error(t, err)

	st := a.o.Status()
	assert.Equal(t, models.PhaseError, st.Phase)
	assert.Contains(t, st.ErrorMessage, "connection reset by peer")
	assert.Contains(t, st.ErrorMessage, failing.Name)
	assert.True(t, a.notes.has(LevelError))

	assert.ElementsMatch(t, []string{"first", "third"}, entryIDs(t, a.store))
	assert.Equal(t, []string{
		peers[0].o.CurrentDevice().ID,
		peers[1].o.CurrentDevice().ID,
		peers[2].o.CurrentDevice().ID,
	}, order)

	// the next clean cycle clears the error
	net.Fail(failing.ID, nil)
	require.NoError(t, a.o.TriggerSync(ctx))
	assert.ElementsMatch(t, []string{"first", "second", "third"}, entryIDs(t, a.store))
	assert.Empty(t, a.o.Status().ErrorMessage)
}

func TestSync_HungPeerTimesOut(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	hung := newTestDevice(t, net, "windows")
	next := newTestDevice(t, net, "darwin")

	a.enable(t, passphrase)
	for _, p := range []*testDevice{hung, next} {
		p.enable(t, passphrase)
		pair(t, a, p, passphrase)
	}
	putEntries(t, next.store, entry(t, "after-timeout", 5))
	a.o.opts.SessionTimeout = 100 * time.Millisecond

	hungID := hung.o.CurrentDevice().ID
	net.Intercept(func(ctx context.Context, to models.Device) error {
		if to.ID != hungID {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	err := a.o.TriggerSync(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []string{"after-timeout"}, entryIDs(t, a.store))

	st := a.o.Status()
	assert.Equal(t, models.PhaseError, st.Phase)
	assert.Contains(t, st.ErrorMessage, "deadline exceeded")
	assert.Contains(t, st.ErrorMessage, hung.o.CurrentDevice().Name)
}

func TestSync_DisableMidCycleDropsResult(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")
	a.enable(t, passphrase)
	b.enable(t, passphrase)
	pair(t, a, b, passphrase)
	putEntries(t, b.store, entry(t, "remote", 10))

	reached := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	net.Intercept(func(ctx context.Context, _ models.Device) error {
		once.Do(func() { close(reached) })
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	done := make(chan error, 1)
	go func() { done <- a.o.TriggerSync(ctx) }()

	<-reached
	st := a.o.Status()
	assert.Equal(t, models.PhaseSyncing, st.Phase)
	require.NotNil(t, st.Session)
	assert.Equal(t, models.PhaseConnecting, st.Session.Phase)

	require.NoError(t, a.o.DisableSync(ctx))
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish")
	}

	assert.Empty(t, entryIDs(t, a.store))
	assert.Equal(t, models.PhaseDisabled, a.o.Status().Phase)
}

func TestSync_NoTrustedDevicesGoesIdle(t *testing.T) {
	d := newTestDevice(t, loopback.NewNetwork(), "linux")
	d.enable(t, passphrase)

	var rec phaseRecorder
	_, err := d.o.OnStatusChange(rec.record)
	require.NoError(t, err)

	require.NoError(t, d.o.TriggerSync(context.Background()))

	phases, _ := rec.snapshot()
	assert.Equal(t, []models.Phase{models.PhaseDiscovering, models.PhaseIdle}, phases)
}

type failingDiscovery struct {
	*loopback.Node
}

func (failingDiscovery) Discover(context.Context) ([]models.Device, error) {
	return nil, errors.New("mdns unavailable")
}

func TestSync_DiscoveryFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	b := newTestDevice(t, net, "windows")
	b.enable(t, passphrase)

	off := false
	node := net.Join()
	a, err := New(Options{
		Store:     store.NewMemoryStore(),
		Transport: failingDiscovery{node},
		KDF:       fastKDF,
		AutoSync:  &off,
	})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	node.Serve(a)
	t.Cleanup(a.Stop)

	require.NoError(t, a.EnableSync(ctx, []byte(passphrase)))
	bd, err := b.o.Describe(ctx)
	require.NoError(t, err)
	_, err = a.AddTrustedDevice(ctx, bd, []byte(passphrase))
	require.NoError(t, err)
	ad, err := a.Describe(ctx)
	require.NoError(t, err)
	_, err = b.o.AddTrustedDevice(ctx, ad, []byte(passphrase))
	require.NoError(t, err)

	require.NoError(t, a.TriggerSync(ctx))
	assert.Equal(t, models.PhaseCompleted, a.Status().Phase)
}

func TestSync_PeerWithOtherPassphraseFails(t *testing.T) {
	ctx := context.Background()
	net := loopback.NewNetwork()
	a := newTestDevice(t, net, "linux")
	b := newTestDevice(t, net, "windows")
	a.enable(t, passphrase)
	b.enable(t, passphrase)
	pair(t, a, b, passphrase)

	// b re-keys; a still trusts it, but b no longer accepts a's credential
	b.enable(t, "rotated")

	err := a.o.TriggerSync(ctx)
	require.Error(t, err)
	assert.Equal(t, models.PhaseError, a.o.Status().Phase)
}

// staticTransport returns canned envelopes, for driving a single session.
type staticTransport struct {
	devices []models.Device
	reply   *cryptox.Envelope
}

func (s *staticTransport) Discover(context.Context) ([]models.Device, error) { return s.devices, nil }
func (s *staticTransport) Exchange(context.Context, models.Device, peer.Offer) (*cryptox.Envelope, error) {
	return s.reply, nil
}
func (s *staticTransport) Close() error { return nil }

func TestSync_GarbageReplyIsDeviceFailure(t *testing.T) {
	ctx := context.Background()
	tr := &staticTransport{reply: &cryptox.Envelope{Data: "zz", IV: "00", Salt: "00", Algorithm: cryptox.Algorithm}}

	off := false
	o, err := New(Options{Store: store.NewMemoryStore(), Transport: tr, KDF: fastKDF, AutoSync: &off})
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx))
	t.Cleanup(o.Stop)
	require.NoError(t, o.EnableSync(ctx, []byte(passphrase)))

	_, err = o.AddTrustedDevice(ctx, models.Device{ID: "device-1-abc", Name: "Phone", Type: models.DeviceMobile}, []byte(passphrase))
	require.NoError(t, err)

	var rec phaseRecorder
	_, err = o.OnStatusChange(rec.record)
	require.NoError(t, err)

	err = o.TriggerSync(ctx)
	require.ErrorIs(t, err, cryptox.ErrDecryption)

	_, events := rec.snapshot()
	assert.Contains(t, events, models.EventDeviceFailed)
	assert.Contains(t, o.Status().ErrorMessage, "Phone")
}
