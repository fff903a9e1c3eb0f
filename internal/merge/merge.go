// Package merge reconciles a remote dataset snapshot into the local one.
//
// Records are resolved last-writer-wins on their modification timestamp:
// a remote record replaces the local one only when strictly newer, unknown
// remote records are appended, and records missing remotely are kept.
// Deletions are not propagated; a record removed locally but still present
// on a peer comes back on the next merge.
package merge

import (
	"maps"

	"github.com/dmitrijs2005/focussync/internal/models"
)

// Record is anything with a stable identifier and a modification time.
type Record interface {
	RecordID() string
	Modified() int64
}

// Stats counts what a merge changed.
type Stats struct {
	Added    int `json:"added"`
	Replaced int `json:"replaced"`
	Kept     int `json:"kept"`
}

func (s Stats) Changed() bool { return s.Added > 0 || s.Replaced > 0 }

func (s *Stats) add(o Stats) {
	s.Added += o.Added
	s.Replaced += o.Replaced
	s.Kept += o.Kept
}

// Records merges remote into a copy of local. Local order is preserved and new
// records are appended in remote order. Neither input is modified.
func Records[T Record](local, remote []T) ([]T, Stats) {
	var st Stats

	merged := make([]T, len(local), len(local)+len(remote))
	copy(merged, local)

	index := make(map[string]int, len(merged))
	for i, r := range merged {
		if _, dup := index[r.RecordID()]; !dup {
			index[r.RecordID()] = i
		}
	}

	for _, r := range remote {
		i, ok := index[r.RecordID()]
		switch {
		case !ok:
			index[r.RecordID()] = len(merged)
			merged = append(merged, r)
			st.Added++
		case r.Modified() > merged[i].Modified():
			merged[i] = r
			st.Replaced++
		default:
			st.Kept++
		}
	}

	return merged, st
}

// Settings treats remote values as defaults; any key present locally wins.
func Settings(local, remote models.Settings) (models.Settings, Stats) {
	var st Stats
	merged := make(models.Settings, len(local)+len(remote))
	maps.Copy(merged, remote)
	for k := range remote {
		if _, ok := local[k]; ok {
			st.Kept++
		} else {
			st.Added++
		}
	}
	maps.Copy(merged, local)
	return merged, st
}

// Dataset merges every collection of remote into local.
func Dataset(local, remote models.Dataset) (models.Dataset, Stats) {
	var total Stats

	entries, st := Records(local.TimeEntries, remote.TimeEntries)
	total.add(st)
	projects, st := Records(local.Projects, remote.Projects)
	total.add(st)
	settings, st := Settings(local.Settings, remote.Settings)
	total.add(st)

	return models.Dataset{
		TimeEntries:  entries,
		Projects:     projects,
		Settings:     settings,
		LastModified: max(local.LastModified, remote.LastModified),
	}, total
}
