package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestFileStore_DocumentLayout verifies the on-disk contract: plain JSON,
// keyed by node id, with self-describing entry objects that inspection
// tools can read without loading Flow.
func TestFileStore_DocumentLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.json")

	st := NewFileStore()
	if err := st.Bind(ctx, path); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	rec := Record{
		Name:        "SceneSplitter",
		Fingerprint: "sha256:abc",
		Value:       map[string]any{"scenes": []any{int64(0), int64(42)}},
		StoredAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Elapsed:     1500 * time.Millisecond,
	}
	if err := st.Store(ctx, 4, rec); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading document failed: %v", err)
	}

	// Loadable with nothing but encoding/json.
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document is not plain JSON: %v", err)
	}

	entry, ok := doc["4"]
	if !ok {
		t.Fatalf("expected entry under node id key %q, got keys %v", "4", keys(doc))
	}
	if entry["name"] != "SceneSplitter" {
		t.Errorf("name = %v, want SceneSplitter", entry["name"])
	}
	if entry["fingerprint"] != "sha256:abc" {
		t.Errorf("fingerprint = %v, want sha256:abc", entry["fingerprint"])
	}
	if _, ok := entry["value"]; !ok {
		t.Error("expected value key in entry")
	}
	meta, ok := entry["meta"].(map[string]any)
	if !ok {
		t.Fatalf("expected meta object, got %T", entry["meta"])
	}
	if meta["elapsed_ms"] != float64(1500) {
		t.Errorf("elapsed_ms = %v, want 1500", meta["elapsed_ms"])
	}
}

func keys(m map[string]map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// TestFileStore_LoadsExistingDocument verifies that binding to a document
// written by a previous process serves its entries.
func TestFileStore_LoadsExistingDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.json")

	first := NewFileStore()
	if err := first.Bind(ctx, path); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	rec := Record{Name: "n", Fingerprint: "sha256:v1", Value: int64(9), StoredAt: time.Now()}
	if err := first.Store(ctx, 2, rec); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// A second store instance simulates a later run of the pipeline.
	second := NewFileStore()
	if err := second.Bind(ctx, path); err != nil {
		t.Fatalf("Bind on existing document failed: %v", err)
	}
	got, ok, err := second.Lookup(ctx, 2, "sha256:v1")
	if err != nil || !ok {
		t.Fatalf("expected hit from reloaded document, ok=%v err=%v", ok, err)
	}
	if got != int64(9) {
		t.Errorf("expected 9, got %v", got)
	}
}

// TestFileStore_RebindDoesNotReread verifies the O(1) switch guarantee:
// after the first load the document lives in memory, so external edits to
// the file are not observed on rebind. (Binding is a pointer move, not a
// reload.)
func TestFileStore_RebindDoesNotReread(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	locA := filepath.Join(dir, "a.json")
	locB := filepath.Join(dir, "b.json")

	st := NewFileStore()
	if err := st.Bind(ctx, locA); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := st.Store(ctx, 1, Record{Fingerprint: "sha256:x", Value: "kept", StoredAt: time.Now()}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if err := st.Bind(ctx, locB); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	// Clobber A on disk behind the store's back.
	if err := os.WriteFile(locA, []byte("{}"), 0o644); err != nil {
		t.Fatalf("rewriting document failed: %v", err)
	}

	if err := st.Bind(ctx, locA); err != nil {
		t.Fatalf("rebind failed: %v", err)
	}
	if _, ok, _ := st.Lookup(ctx, 1, "sha256:x"); !ok {
		t.Error("expected in-memory entry to survive rebind without rereading")
	}
}

// TestFileStore_AtomicWrite verifies that stores leave no temp files behind
// and that a corrupt document is reported on Bind rather than silently
// replaced.
func TestFileStore_AtomicWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	st := NewFileStore()
	if err := st.Bind(ctx, path); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		rec := Record{Fingerprint: "sha256:n", Value: int64(i), StoredAt: time.Now()}
		if err := st.Store(ctx, i, rec); err != nil {
			t.Fatalf("Store %d failed: %v", i, err)
		}
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, f := range files {
		if strings.HasPrefix(f.Name(), ".flow-") {
			t.Errorf("temp file left behind: %s", f.Name())
		}
	}

	t.Run("corrupt document is an error", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
			t.Fatalf("writing corrupt file failed: %v", err)
		}
		if err := NewFileStore().Bind(ctx, bad); err == nil {
			t.Error("expected error binding to corrupt document")
		}
	})

	t.Run("empty location rejected", func(t *testing.T) {
		if err := NewFileStore().Bind(ctx, ""); err == nil {
			t.Error("expected error for empty location")
		}
	})
}

// TestFileStore_CreatesParentDirectory verifies documents can live in
// per-item directories that do not exist yet.
func TestFileStore_CreatesParentDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "items", "item-3", "results.json")

	st := NewFileStore()
	if err := st.Bind(ctx, path); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := st.Store(ctx, 1, Record{Fingerprint: "sha256:y", Value: true, StoredAt: time.Now()}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected document at %s: %v", path, err)
	}
}
