package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/store"
	"github.com/dmitrijs2005/focussync/internal/transport/loopback"
	"github.com/stretchr/testify/require"
)

var fastKDF = cryptox.Params{KDF: cryptox.KDFPBKDF2, Iterations: 1000}

type note struct {
	level Level
	msg   string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (r *recordingNotifier) Notify(_ context.Context, level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note{level, msg})
}

func (r *recordingNotifier) has(level Level) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notes {
		if n.level == level {
			return true
		}
	}
	return false
}

type testDevice struct {
	o     *Orchestrator
	store *store.MemoryStore
	node  *loopback.Node
	notes *recordingNotifier
}

func newTestDevice(t *testing.T, net *loopback.Network, platform string) *testDevice {
	t.Helper()
	return startTestDevice(t, net, platform, store.NewMemoryStore())
}

func startTestDevice(t *testing.T, net *loopback.Network, platform string, st *store.MemoryStore) *testDevice {
	t.Helper()

	off := false
	node := net.Join()
	notes := &recordingNotifier{}
	o, err := New(Options{
		Store:            st,
		Transport:        node,
		Notifier:         notes,
		Platform:         platform,
		KDF:              fastKDF,
		AutoSync:         &off,
		CompletedDisplay: 30 * time.Millisecond,
		SessionTimeout:   2 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))
	node.Serve(o)

	t.Cleanup(func() {
		o.Stop()
		_ = node.Close()
	})
	return &testDevice{o: o, store: st, node: node, notes: notes}
}

func (d *testDevice) enable(t *testing.T, pass string) {
	t.Helper()
	require.NoError(t, d.o.EnableSync(context.Background(), []byte(pass)))
}

// pair makes a and b trust each other.
func pair(t *testing.T, a, b *testDevice, pass string) {
	t.Helper()
	ctx := context.Background()

	bd, err := b.o.Describe(ctx)
	require.NoError(t, err)
	_, err = a.o.AddTrustedDevice(ctx, bd, []byte(pass))
	require.NoError(t, err)

	ad, err := a.o.Describe(ctx)
	require.NoError(t, err)
	_, err = b.o.AddTrustedDevice(ctx, ad, []byte(pass))
	require.NoError(t, err)
}

func putEntries(t *testing.T, s store.Store, entries ...models.TimeEntry) {
	t.Helper()
	require.NoError(t, store.SetJSON(context.Background(), s, store.KeyTimeEntries, entries))
}

func entryIDs(t *testing.T, s store.Store) []string {
	t.Helper()
	var entries []models.TimeEntry
	_, err := store.GetJSON(context.Background(), s, store.KeyTimeEntries, &entries)
	require.NoError(t, err)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func entry(t *testing.T, id string, modified int64) models.TimeEntry {
	t.Helper()
	r, err := models.NewRecord(id, modified, map[string]any{"description": "work on " + id})
	require.NoError(t, err)
	return r
}

// phaseRecorder collects the distinct consecutive phases seen by a subscriber.
type phaseRecorder struct {
	mu     sync.Mutex
	phases []models.Phase
	events []models.EventType
}

func (p *phaseRecorder) record(ev models.StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev.Type)
	if n := len(p.phases); n == 0 || p.phases[n-1] != ev.Status.Phase {
		p.phases = append(p.phases, ev.Status.Phase)
	}
}

func (p *phaseRecorder) snapshot() ([]models.Phase, []models.EventType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Phase(nil), p.phases...), append([]models.EventType(nil), p.events...)
}
