package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileStore persists each location as one human-readable JSON file.
//
// The file holds the whole document: a top-level object keyed by node id
// with self-describing entry objects as values. Every write rewrites the
// file through a temp-file-then-rename sequence, so a crash mid-write
// leaves the previous document intact.
//
// Documents are cached in memory per location; rebinding to an already
// loaded location does not reread the file. This is the primary backend
// for pipelines whose operators want to open results in an editor.
type FileStore struct {
	mu    sync.RWMutex
	loc   string
	bound bool
	docs  map[string]map[int]Record
}

// NewFileStore creates a file-backed store. It is unusable until Bind
// points it at a file path.
func NewFileStore() *FileStore {
	return &FileStore{
		docs: make(map[string]map[int]Record),
	}
}

// Bind makes the file at location the active document. If the file exists
// its entries are loaded; a missing file starts an empty document. Already
// loaded documents are kept as-is, so switching back to a previous location
// is O(1) and loses nothing.
func (f *FileStore) Bind(_ context.Context, location string) error {
	if location == "" {
		return errors.New("location cannot be empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, loaded := f.docs[location]; !loaded {
		doc, err := readDocument(location)
		if err != nil {
			return err
		}
		f.docs[location] = doc
	}
	f.loc = location
	f.bound = true
	return nil
}

// Location returns the bound file path, or "" before the first Bind.
func (f *FileStore) Location() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loc
}

// Lookup returns the value stored for nodeID when the entry's fingerprint
// matches exactly.
func (f *FileStore) Lookup(_ context.Context, nodeID int, fingerprint string) (any, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.bound {
		return nil, false, ErrNotBound
	}
	rec, ok := f.docs[f.loc][nodeID]
	if !ok || rec.Fingerprint != fingerprint {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Store replaces the node's entry and rewrites the document file. The write
// is durable when Store returns.
func (f *FileStore) Store(_ context.Context, nodeID int, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.bound {
		return ErrNotBound
	}
	f.docs[f.loc][nodeID] = rec
	return writeDocument(f.loc, f.docs[f.loc])
}

// Forget removes the node's entry. Forgetting an absent id is a no-op.
func (f *FileStore) Forget(_ context.Context, nodeID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.bound {
		return ErrNotBound
	}
	if _, ok := f.docs[f.loc][nodeID]; !ok {
		return nil
	}
	delete(f.docs[f.loc], nodeID)
	return writeDocument(f.loc, f.docs[f.loc])
}

// Entries returns a copy of the bound document.
func (f *FileStore) Entries(_ context.Context) (map[int]Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.bound {
		return nil, ErrNotBound
	}
	out := make(map[int]Record, len(f.docs[f.loc]))
	for id, rec := range f.docs[f.loc] {
		out[id] = rec
	}
	return out, nil
}

func readDocument(path string) (map[int]Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[int]Record), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}

	var byKey map[string]Record
	if err := json.Unmarshal(data, &byKey); err != nil {
		return nil, fmt.Errorf("corrupt document %s: %w", path, err)
	}

	doc := make(map[int]Record, len(byKey))
	for key, rec := range byKey {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("corrupt document %s: node id %q is not an integer", path, key)
		}
		doc[id] = rec
	}
	return doc, nil
}

func writeDocument(path string, doc map[int]Record) error {
	byKey := make(map[string]Record, len(doc))
	for id, rec := range doc {
		byKey[strconv.Itoa(id)] = rec
	}

	data, err := json.MarshalIndent(byKey, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}

	// Write to a temp file in the same directory and rename over the
	// target, so readers never observe a torn document.
	tmp, err := os.CreateTemp(dir, ".flow-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}
