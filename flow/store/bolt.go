package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore is a bbolt implementation of ValueStore.
//
// Each location maps to one bucket in a single database file; each node
// entry is one key (the decimal node id) holding the entry object as JSON.
// bbolt commits are fsynced, so Store is durable when it returns. Like the
// SQLite backend, binding a location touches no data, which keeps per-item
// location hopping in batch runs cheap.
type BoltStore struct {
	db    *bolt.DB
	mu    sync.RWMutex
	loc   string
	bound bool
}

// NewBoltStore opens (or creates) the database file at path.
//
// The open uses a one second timeout so a second process holding the file
// lock fails fast instead of blocking forever. Call Bind before running a
// graph against it, and Close when done.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Bind makes location the active bucket, creating it if missing.
func (b *BoltStore) Bind(_ context.Context, location string) error {
	if location == "" {
		return fmt.Errorf("location cannot be empty")
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(location))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", location, err)
	}

	b.mu.Lock()
	b.loc = location
	b.bound = true
	b.mu.Unlock()
	return nil
}

// Location returns the bound location, or "" before the first Bind.
func (b *BoltStore) Location() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loc
}

func (b *BoltStore) active() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.bound {
		return "", ErrNotBound
	}
	return b.loc, nil
}

// Lookup returns the stored value for nodeID when the entry's fingerprint
// matches exactly.
func (b *BoltStore) Lookup(_ context.Context, nodeID int, fingerprint string) (any, bool, error) {
	loc, err := b.active()
	if err != nil {
		return nil, false, err
	}

	var rec Record
	found := false
	err = b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(loc))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(strconv.Itoa(nodeID)))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("corrupt entry for node %d: %w", nodeID, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found || rec.Fingerprint != fingerprint {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Store writes the node's entry into the bound bucket. The transaction
// commit syncs the file, so the entry is durable when Store returns.
func (b *BoltStore) Store(_ context.Context, nodeID int, rec Record) error {
	loc, err := b.active()
	if err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(loc))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", loc, err)
		}
		return bucket.Put([]byte(strconv.Itoa(nodeID)), data)
	})
}

// Forget removes the node's entry. Forgetting an absent id is a no-op.
func (b *BoltStore) Forget(_ context.Context, nodeID int) error {
	loc, err := b.active()
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(loc))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(strconv.Itoa(nodeID)))
	})
}

// Entries returns all entries of the bound bucket.
func (b *BoltStore) Entries(_ context.Context) (map[int]Record, error) {
	loc, err := b.active()
	if err != nil {
		return nil, err
	}

	out := make(map[int]Record)
	err = b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(loc))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			id, err := strconv.Atoi(string(k))
			if err != nil {
				return fmt.Errorf("corrupt key %q: not a node id", k)
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt entry for node %d: %w", id, err)
			}
			out[id] = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database file. The store is unusable afterwards.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Path returns the database file path.
func (b *BoltStore) Path() string {
	return b.db.Path()
}
