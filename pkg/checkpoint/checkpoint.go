// Package checkpoint caches summarized directly-follows graphs so that a
// rerun over unchanged input skips ingestion and discovery. Snapshots are
// keyed by a fingerprint of the input bytes and the column mapping.
package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/logflow/dfgflow/pkg/dfg"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

// ErrNotFound is returned by backends for a missing or expired snapshot.
var ErrNotFound = errors.New("checkpoint: snapshot not found")

// Stats are the discovery counters stored with a snapshot.
type Stats struct {
	Rows              int `json:"rows"`
	Traces            int `json:"traces"`
	NonEmptyTraces    int `json:"non_empty_traces"`
	Events            int `json:"events"`
	Observations      int `json:"observations"`
	InvalidTimestamps int `json:"invalid_timestamps"`
}

// Snapshot is one cached discovery result.
type Snapshot struct {
	// Identification
	Key    string `json:"key"`
	Source string `json:"source"`
	RunID  string `json:"run_id"`

	// Result
	Summary *dfg.Summary `json:"summary"`
	Stats   Stats        `json:"stats"`

	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the snapshot is older than ttl. A non-positive
// ttl never expires.
func (s *Snapshot) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(s.CreatedAt) > ttl
}

// Marshal encodes the snapshot as JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, dfgerr.Wrap(err, dfgerr.CodeCache, "encode snapshot")
	}
	return data, nil
}

// Unmarshal decodes a snapshot written by Marshal.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, dfgerr.Wrap(err, dfgerr.CodeCache, "decode snapshot")
	}
	if s.Summary == nil {
		return nil, dfgerr.New(dfgerr.CodeCache, "snapshot has no summary").WithContext("key", s.Key)
	}
	return &s, nil
}

// Fingerprint hashes r together with the given parts into a cache key.
// Parts are length-prefixed so that ("ab", "c") and ("a", "bc") differ.
func Fingerprint(r io.Reader, parts ...string) (string, error) {
	d := xxhash.New()
	if _, err := io.Copy(d, r); err != nil {
		return "", dfgerr.Wrap(err, dfgerr.CodeCache, "fingerprint input")
	}
	for _, p := range parts {
		var n [8]byte
		l := uint64(len(p))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		d.Write(n[:])
		d.WriteString(p)
	}
	sum := d.Sum(nil)
	return hex.EncodeToString(sum), nil
}

// FingerprintFile fingerprints the file at path.
func FingerprintFile(path string, parts ...string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", dfgerr.FileNotFound(path)
		}
		return "", dfgerr.Wrap(err, dfgerr.CodeCache, "fingerprint input").WithContext("path", path)
	}
	defer f.Close()
	return Fingerprint(f, parts...)
}
