// Package store provides durable value stores for node outputs, keyed by
// node id and guarded by fingerprints.
//
// A store holds one document per location. A document maps node ids to
// entries of the form {name, fingerprint, value, meta}; the fingerprint
// decides cache validity, name and meta exist for human inspection only.
// Binding a store to a different location is cheap and never flushes
// previously written documents, which is what makes breadth-first batch
// processing over per-item locations affordable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/flow-go/flow/value"
)

// ErrNotFound is returned when a requested entry does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotBound is returned when an operation requires a bound location and
// Bind has not been called.
var ErrNotBound = errors.New("store is not bound to a location")

// Record is one persisted node entry.
//
// Value must be in normalized form (see the value package). StoredAt and
// Elapsed are inspection metadata; they never participate in lookups.
type Record struct {
	// Name is the node's kind or constant name, stored for readability.
	Name string

	// Fingerprint identifies the exact computation that produced Value.
	Fingerprint string

	// Value is the normalized node output.
	Value any

	// StoredAt is when the entry was written.
	StoredAt time.Time

	// Elapsed is how long the producing process call took.
	Elapsed time.Duration
}

// ValueStore persists node outputs per location.
//
// Implementations must satisfy:
//   - Bind switches the active location without flushing other documents.
//   - Lookup hits only on an exact fingerprint match for the node id.
//   - Store overwrites the node's entry and is durable before returning.
//   - Forget removes the node's entry; forgetting an absent id is a no-op.
//
// Implementations must be safe for concurrent use. The engine itself is
// serial, but stores may be shared across graphs.
type ValueStore interface {
	// Bind makes location the active document for subsequent operations.
	Bind(ctx context.Context, location string) error

	// Location returns the currently bound location.
	Location() string

	// Lookup returns the stored value for nodeID when its entry carries
	// exactly the given fingerprint. A missing entry or a fingerprint
	// mismatch is a miss, not an error.
	Lookup(ctx context.Context, nodeID int, fingerprint string) (any, bool, error)

	// Store writes the node's entry, replacing any previous entry for the
	// same node id regardless of its fingerprint.
	Store(ctx context.Context, nodeID int, rec Record) error

	// Forget removes the node's entry from the bound document.
	Forget(ctx context.Context, nodeID int) error

	// Entries returns a copy of the bound document for inspection.
	Entries(ctx context.Context) (map[int]Record, error)
}

// recordJSON is the wire form of a Record: the self-describing entry object
// shared by the file, bolt, and SQL backends.
type recordJSON struct {
	Name        string          `json:"name,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Value       json.RawMessage `json:"value"`
	Meta        recordMetaJSON  `json:"meta"`
}

type recordMetaJSON struct {
	StoredAt  time.Time `json:"stored_at"`
	ElapsedMS int64     `json:"elapsed_ms"`
}

// MarshalJSON renders the record as its entry object. The value is written
// in canonical form.
func (r Record) MarshalJSON() ([]byte, error) {
	val, err := value.Canonical(r.Value)
	if err != nil {
		return nil, fmt.Errorf("record value: %w", err)
	}
	return json.Marshal(recordJSON{
		Name:        r.Name,
		Fingerprint: r.Fingerprint,
		Value:       val,
		Meta: recordMetaJSON{
			StoredAt:  r.StoredAt,
			ElapsedMS: r.Elapsed.Milliseconds(),
		},
	})
}

// UnmarshalJSON parses an entry object. The value comes back normalized, so
// an entry loaded from disk is indistinguishable from one just computed.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := decodeValue(raw.Value)
	if err != nil {
		return err
	}
	r.Name = raw.Name
	r.Fingerprint = raw.Fingerprint
	r.Value = val
	r.StoredAt = raw.Meta.StoredAt
	r.Elapsed = time.Duration(raw.Meta.ElapsedMS) * time.Millisecond
	return nil
}

// decodeValue turns raw JSON into a normalized value.
func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("entry value: %w", err)
	}
	return value.Normalize(v)
}
