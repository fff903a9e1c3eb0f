package merge

import (
	"encoding/json"
	"testing"

	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(t *testing.T, id string, ts int64, desc string) models.Record {
	t.Helper()
	r, err := models.NewRecord(id, ts, map[string]any{"description": desc})
	require.NoError(t, err)
	return r
}

func desc(t *testing.T, r models.Record) string {
	t.Helper()
	var s string
	_, err := r.Field("description", &s)
	require.NoError(t, err)
	return s
}

func TestRecords_LastWriterWins(t *testing.T) {
	tests := []struct {
		name      string
		localTS   int64
		remoteTS  int64
		wantDesc  string
		wantStats Stats
	}{
		{name: "remote newer replaces", localTS: 10, remoteTS: 20, wantDesc: "remote", wantStats: Stats{Replaced: 1}},
		{name: "local newer kept", localTS: 20, remoteTS: 10, wantDesc: "local", wantStats: Stats{Kept: 1}},
		{name: "tie keeps local", localTS: 15, remoteTS: 15, wantDesc: "local", wantStats: Stats{Kept: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := []models.Record{rec(t, "1", tt.localTS, "local")}
			remote := []models.Record{rec(t, "1", tt.remoteTS, "remote")}

			merged, st := Records(local, remote)
			require.Len(t, merged, 1)
			assert.Equal(t, tt.wantDesc, desc(t, merged[0]))
			assert.Equal(t, tt.wantStats, st)
			assert.Equal(t, "local", desc(t, local[0]), "input must not be mutated")
		})
	}
}

func TestRecords_AdoptAndKeep(t *testing.T) {
	local := []models.Record{rec(t, "a", 1, "a"), rec(t, "b", 1, "b")}
	remote := []models.Record{rec(t, "c", 1, "c"), rec(t, "a", 1, "a2"), rec(t, "d", 1, "d")}

	merged, st := Records(local, remote)

	var got []string
	for _, r := range merged {
		got = append(got, r.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
	assert.Equal(t, Stats{Added: 2, Kept: 1}, st)
	assert.True(t, st.Changed())
}

func TestRecords_Idempotent(t *testing.T) {
	local := []models.Record{rec(t, "a", 5, "a"), rec(t, "b", 30, "b")}
	remote := []models.Record{rec(t, "a", 10, "a-remote"), rec(t, "b", 20, "b-remote"), rec(t, "c", 1, "c")}

	once, _ := Records(local, remote)
	twice, st := Records(once, remote)

	assert.Equal(t, once, twice)
	assert.False(t, st.Changed())
}

func TestRecords_EmptyInputs(t *testing.T) {
	merged, st := Records[models.Record](nil, nil)
	assert.Empty(t, merged)
	assert.Equal(t, Stats{}, st)

	remote := []models.Record{rec(t, "x", 1, "x")}
	merged, _ = Records(nil, remote)
	assert.Len(t, merged, 1)
}

func TestSettings_LocalWins(t *testing.T) {
	local := models.Settings{
		"theme":       json.RawMessage(`"dark"`),
		"syncEnabled": json.RawMessage(`true`),
	}
	remote := models.Settings{
		"theme":         json.RawMessage(`"light"`),
		"pomodoroMins":  json.RawMessage(`25`),
		"notifications": json.RawMessage(`false`),
	}

	merged, st := Settings(local, remote)

	assert.JSONEq(t, `"dark"`, string(merged["theme"]))
	assert.JSONEq(t, `25`, string(merged["pomodoroMins"]))
	assert.JSONEq(t, `true`, string(merged["syncEnabled"]))
	assert.Len(t, merged, 4)
	assert.Equal(t, Stats{Added: 2, Kept: 1}, st)
	assert.Len(t, local, 2, "input must not be mutated")
}

func TestDataset_IdempotentAcrossCollections(t *testing.T) {
	local := models.Dataset{
		TimeEntries:  []models.Record{rec(t, "e1", 10, "local")},
		Projects:     []models.Record{rec(t, "p1", 10, "local")},
		Settings:     models.Settings{"theme": json.RawMessage(`"dark"`)},
		LastModified: 100,
	}
	remote := models.Dataset{
		TimeEntries:  []models.Record{rec(t, "e1", 20, "remote"), rec(t, "e2", 5, "new")},
		Projects:     []models.Record{rec(t, "p1", 5, "stale")},
		Settings:     models.Settings{"lang": json.RawMessage(`"en"`)},
		LastModified: 200,
	}

	once, st := Dataset(local, remote)
	assert.Equal(t, Stats{Added: 2, Replaced: 1, Kept: 1}, st)
	assert.Equal(t, int64(200), once.LastModified)
	assert.Equal(t, "remote", desc(t, once.TimeEntries[0]))
	assert.Equal(t, "local", desc(t, once.Projects[0]))

	twice, st := Dataset(once, remote)
	assert.False(t, st.Changed())

	a, err := json.Marshal(once)
	require.NoError(t, err)
	b, err := json.Marshal(twice)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}
