package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// TestBoltStore_PersistsAcrossReopen verifies entries survive a close and
// reopen of the database file.
func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flow.bolt")

	st, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore failed: %v", err)
	}
	if err := st.Bind(ctx, "item-1"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	rec := Record{Name: "Captioner", Fingerprint: "sha256:v2", Value: "a red car", StoredAt: time.Now()}
	if err := st.Store(ctx, 9, rec); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	st2, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = st2.Close() }()
	if err := st2.Bind(ctx, "item-1"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	got, ok, err := st2.Lookup(ctx, 9, "sha256:v2")
	if err != nil || !ok {
		t.Fatalf("expected hit after reopen, ok=%v err=%v", ok, err)
	}
	if got != "a red car" {
		t.Errorf("expected %q, got %v", "a red car", got)
	}
	if st2.Path() != path {
		t.Errorf("Path = %q, want %q", st2.Path(), path)
	}
}

// TestBoltStore_BucketPerLocation verifies locations land in separate
// buckets of the same file.
func TestBoltStore_BucketPerLocation(t *testing.T) {
	ctx := context.Background()
	st, err := NewBoltStore(filepath.Join(t.TempDir(), "flow.bolt"))
	if err != nil {
		t.Fatalf("NewBoltStore failed: %v", err)
	}
	defer func() { _ = st.Close() }()

	for i, loc := range []string{"item-a", "item-b", "item-c"} {
		if err := st.Bind(ctx, loc); err != nil {
			t.Fatalf("Bind %s failed: %v", loc, err)
		}
		rec := Record{Fingerprint: "sha256:f", Value: int64(i), StoredAt: time.Now()}
		if err := st.Store(ctx, 1, rec); err != nil {
			t.Fatalf("Store at %s failed: %v", loc, err)
		}
	}

	if err := st.Bind(ctx, "item-b"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	got, ok, err := st.Lookup(ctx, 1, "sha256:f")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got != int64(1) {
		t.Errorf("expected item-b's value 1, got %v", got)
	}

	t.Run("empty location rejected", func(t *testing.T) {
		if err := st.Bind(ctx, ""); err == nil {
			t.Error("expected error for empty location")
		}
	})
}
