package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"
)

const (
	fieldID           = "Id"
	fieldLastModified = "lastModified"
)

var ErrMissingID = errors.New("record has no Id")

// Record is a syncable item (time entry or project). Only the identifier and
// the modification timestamp are interpreted; every other field is carried
// through untouched so merges never drop data written by a newer client.
type Record struct {
	ID           string
	LastModified int64

	idRaw  json.RawMessage
	fields map[string]json.RawMessage
}

type (
	TimeEntry = Record
	Project   = Record
)

// NewRecord builds a record from an id, a unix-ms timestamp and extra fields.
func NewRecord(id string, lastModified int64, fields map[string]any) (Record, error) {
	r := Record{ID: id, LastModified: lastModified, fields: make(map[string]json.RawMessage, len(fields))}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return Record{}, fmt.Errorf("marshal field %s: %w", k, err)
		}
		r.fields[k] = raw
	}
	return r, nil
}

// RecordID and Modified let Record take part in generic merges.
func (r Record) RecordID() string { return r.ID }
func (r Record) Modified() int64  { return r.LastModified }

// Field decodes the named field into v. It reports false if absent.
func (r Record) Field(name string, v any) (bool, error) {
	raw, ok := r.fields[name]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.fields)+2)
	maps.Copy(out, r.fields)

	if r.idRaw != nil && decodeID(r.idRaw) == r.ID {
		out[fieldID] = r.idRaw
	} else {
		raw, err := json.Marshal(r.ID)
		if err != nil {
			return nil, err
		}
		out[fieldID] = raw
	}
	out[fieldLastModified] = json.RawMessage(strconv.FormatInt(r.LastModified, 10))

	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}

	idRaw, ok := all[fieldID]
	if !ok {
		return ErrMissingID
	}
	id := decodeID(idRaw)
	if id == "" {
		return ErrMissingID
	}

	lm, err := decodeTimestamp(all[fieldLastModified])
	if err != nil {
		return fmt.Errorf("record %s: %w", id, err)
	}

	delete(all, fieldID)
	delete(all, fieldLastModified)

	*r = Record{ID: id, LastModified: lm, idRaw: idRaw, fields: all}
	return nil
}

// decodeID accepts string and numeric identifiers.
func decodeID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// decodeTimestamp accepts unix milliseconds or an RFC 3339 string. A missing
// value is treated as 0, which loses every conflict.
func decodeTimestamp(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int64(n), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid lastModified: %s", raw)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("invalid lastModified: %w", err)
	}
	return t.UnixMilli(), nil
}
