package registry

import (
	"context"
	"testing"

	"github.com/objectfs/objectfs/internal/contentcache"
	"github.com/objectfs/objectfs/internal/reconciler"
	"github.com/objectfs/objectfs/internal/transport/fake"
	"github.com/objectfs/objectfs/internal/tree"
)

func newTestRegistry(t *testing.T) (*Registry, *fake.Client, *tree.Tree) {
	t.Helper()
	tr := fake.New()
	tr.SeedFile("AAAAAAAAAAAAAAA", "readme.txt", "", []byte("hello world"))

	dt := tree.New()
	rec := reconciler.New(dt, tr, nil)
	if err := rec.FullRebuild(context.Background()); err != nil {
		t.Fatalf("FullRebuild: %v", err)
	}

	cache, err := contentcache.New(contentcache.Config{Directory: t.TempDir()}, tr)
	if err != nil {
		t.Fatalf("contentcache.New: %v", err)
	}

	reg, err := New(dt, rec, cache, tr, Config{StagingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg, tr, dt
}

// S4 -- a path already open for writing denies any further open, whether
// the second caller wants Writable or ReadOnly.
func TestOpenDeniesSecondWriterAndReader(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	h1, err := reg.Open(ctx, "/readme.txt", Writable)
	if err != nil {
		t.Fatalf("first Writable open: %v", err)
	}
	defer reg.Release(ctx, h1)

	if _, err := reg.Open(ctx, "/readme.txt", Writable); err == nil {
		t.Fatalf("expected second Writable open to be denied")
	}
	if _, err := reg.Open(ctx, "/readme.txt", ReadOnly); err == nil {
		t.Fatalf("expected ReadOnly open to be denied while path is write-open")
	}
}

// A path already open ReadOnly denies a Writable opener, but stacks further
// ReadOnly opens.
func TestOpenDeniesWriterWhileReadOnlyStacks(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	h1, err := reg.Open(ctx, "/readme.txt", ReadOnly)
	if err != nil {
		t.Fatalf("first ReadOnly open: %v", err)
	}
	defer reg.Release(ctx, h1)

	if _, err := reg.Open(ctx, "/readme.txt", Writable); err == nil {
		t.Fatalf("expected Writable open to be denied while path is read-only open")
	}

	h2, err := reg.Open(ctx, "/readme.txt", ReadOnly)
	if err != nil {
		t.Fatalf("expected stacked ReadOnly open to succeed: %v", err)
	}
	defer reg.Release(ctx, h2)

	if h1.revision != h2.revision {
		t.Fatalf("expected stacked readers to observe the same revision, got %d and %d", h1.revision, h2.revision)
	}
}

// Concurrent ReadOnly openers freeze the revision observed at the first
// open even if the tree advances underneath them before the second opener
// arrives.
func TestReadOnlyStackingFreezesRevisionAcrossTreeAdvance(t *testing.T) {
	reg, tr, dt := newTestRegistry(t)
	ctx := context.Background()

	h1, err := reg.Open(ctx, "/readme.txt", ReadOnly)
	if err != nil {
		t.Fatalf("first ReadOnly open: %v", err)
	}
	defer reg.Release(ctx, h1)

	tr.PushFileUpdate("AAAAAAAAAAAAAAA", []byte("a different body!!"))
	if err := reg.reconciler.Refresh(ctx, true); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	entry, err := dt.LookupPath("/readme.txt")
	if err != nil {
		t.Fatalf("lookup after refresh: %v", err)
	}
	if entry.Revision == h1.revision {
		t.Fatalf("test setup invalid: tree revision did not advance past the first open")
	}

	h2, err := reg.Open(ctx, "/readme.txt", ReadOnly)
	if err != nil {
		t.Fatalf("second ReadOnly open after tree advance: %v", err)
	}
	defer reg.Release(ctx, h2)

	if h2.revision != h1.revision {
		t.Fatalf("expected second opener frozen at revision %d, got %d", h1.revision, h2.revision)
	}
}

// S5 -- a fresh create, write, release cycle uploads the staged content and
// the subsequent refresh makes the new file visible in the tree.
func TestCreateWriteReleaseUploadsAndRefreshes(t *testing.T) {
	reg, _, dt := newTestRegistry(t)
	ctx := context.Background()

	h, err := reg.Create("/new.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	content := []byte("brand new content")
	if _, err := reg.Write(h, 0, content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := reg.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}

	entry, err := dt.LookupPath("/new.txt")
	if err != nil {
		t.Fatalf("expected /new.txt to be visible after release: %v", err)
	}
	if entry.Size != uint64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), entry.Size)
	}
}

// Release of a Writable handle diffs against the original body and uploads
// a patch rather than the whole file.
func TestWritableReleaseUploadsPatch(t *testing.T) {
	reg, _, dt := newTestRegistry(t)
	ctx := context.Background()

	h, err := reg.Open(ctx, "/readme.txt", Writable)
	if err != nil {
		t.Fatalf("Open Writable: %v", err)
	}
	if _, err := reg.Write(h, 0, []byte("HELLO")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := reg.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}

	entry, err := dt.LookupPath("/readme.txt")
	if err != nil {
		t.Fatalf("lookup /readme.txt: %v", err)
	}
	if entry.Size != 11 {
		t.Fatalf("expected size unchanged at 11 (only first 5 bytes overwritten), got %d", entry.Size)
	}
}

func TestWriteForbiddenOnReadOnlyHandle(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	h, err := reg.Open(ctx, "/readme.txt", ReadOnly)
	if err != nil {
		t.Fatalf("Open ReadOnly: %v", err)
	}
	defer reg.Release(ctx, h)

	if _, err := reg.Write(h, 0, []byte("x")); err == nil {
		t.Fatalf("expected write on a ReadOnly handle to fail")
	}
}
