package embcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SnapshotVersion is the on-disk format version. Snapshots of any other version are discarded.
const SnapshotVersion = 1

// Snapshot is the durable form of the cache.
type Snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	// Entries are ordered oldest to newest.
	Entries []Entry `json:"entries"`
	Stats   Stats   `json:"stats"`
}

// Entry is one cached vector. It encodes as a two-element array [key, vector].
type Entry struct {
	Key    string
	Vector []float32
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	vec := e.Vector
	if vec == nil {
		vec = []float32{}
	}
	return json.Marshal([2]any{e.Key, vec})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("cache entry: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("cache entry: expected [key, vector], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Key); err != nil {
		return fmt.Errorf("cache entry key: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Vector); err != nil {
		return fmt.Errorf("cache entry %q vector: %w", e.Key, err)
	}
	return nil
}

var errEmptySnapshot = errors.New("empty snapshot")

// Encode serializes the snapshot.
func (s Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses and validates a serialized snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) == 0 {
		return Snapshot{}, errEmptySnapshot
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	for i, e := range s.Entries {
		if e.Key == "" || len(e.Vector) == 0 {
			return Snapshot{}, fmt.Errorf("snapshot entry %d is empty", i)
		}
	}
	return s, nil
}
