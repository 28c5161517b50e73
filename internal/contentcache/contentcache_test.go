package contentcache

import (
	"context"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/objectfs/objectfs/internal/transport"
	"github.com/objectfs/objectfs/internal/transport/fake"
)

func TestOpenBodyDownloadsFullFileWhenNotCached(t *testing.T) {
	dir := t.TempDir()
	tr := fake.New()
	tr.SeedFile("AAAAAAAAAAAAAAA", "readme.txt", "", []byte("hello world"))

	c, err := New(Config{Directory: dir}, tr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash := sha256.Sum256([]byte("hello world"))
	f, err := c.OpenBody(context.Background(), "AAAAAAAAAAAAAAA", 0, 1, 11, hash)
	if err != nil {
		t.Fatalf("OpenBody: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 11)
	n, _ := f.Read(buf)
	if string(buf[:n]) != "hello world" {
		t.Fatalf("unexpected body content: %q", buf[:n])
	}
}

func TestOpenBodyReturnsExistingBodyWithoutRedownload(t *testing.T) {
	dir := t.TempDir()
	tr := fake.New()
	tr.SeedFile("AAAAAAAAAAAAAAA", "readme.txt", "", []byte("hello world"))

	c, err := New(Config{Directory: dir}, tr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hash := sha256.Sum256([]byte("hello world"))

	if _, err := c.OpenBody(context.Background(), "AAAAAAAAAAAAAAA", 0, 1, 11, hash); err != nil {
		t.Fatalf("first OpenBody: %v", err)
	}

	// Remove the file out from under the remote to prove the second call
	// doesn't re-download: GetFileLinks/Download would fail if invoked.
	_ = tr.FileDelete(context.Background(), "AAAAAAAAAAAAAAA")

	f2, err := c.OpenBody(context.Background(), "AAAAAAAAAAAAAAA", 0, 1, 11, hash)
	if err != nil {
		t.Fatalf("second OpenBody: %v", err)
	}
	f2.Close()
}

func TestOpenBodyFailsIntegrityCheck(t *testing.T) {
	dir := t.TempDir()
	tr := fake.New()
	tr.SeedFile("AAAAAAAAAAAAAAA", "readme.txt", "", []byte("hello world"))

	c, err := New(Config{Directory: dir}, tr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wrongHash [32]byte
	if _, err := c.OpenBody(context.Background(), "AAAAAAAAAAAAAAA", 0, 1, 11, wrongHash); err == nil {
		t.Fatalf("expected integrity check failure, got nil error")
	}
}

// S3 -- "Patched open": a caller holding an older cached body gets it
// brought forward to the target revision via a real multi-link patch
// chain (1->2, 2->3), not a full re-download.
func TestOpenBodyAppliesPatchChainFromCachedLocalRevision(t *testing.T) {
	dir := t.TempDir()
	tr := fake.New()
	tr.SeedFile("AAAAAAAAAAAAAAA", "readme.txt", "", []byte("hello world"))

	c, err := New(Config{Directory: dir}, tr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash1 := sha256.Sum256([]byte("hello world"))
	if _, err := c.OpenBody(context.Background(), "AAAAAAAAAAAAAAA", 0, 1, 11, hash1); err != nil {
		t.Fatalf("seed local body at revision 1: %v", err)
	}

	tr.PushFileUpdate("AAAAAAAAAAAAAAA", []byte("hello world, v2"))
	finalContent := []byte("hello world, v3 final")
	tr.PushFileUpdate("AAAAAAAAAAAAAAA", finalContent)
	finalHash := sha256.Sum256(finalContent)

	f, err := c.OpenBody(context.Background(), "AAAAAAAAAAAAAAA", 1, 3, uint64(len(finalContent)), finalHash)
	if err != nil {
		t.Fatalf("OpenBody via patch chain: %v", err)
	}
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read patched body: %v", err)
	}
	if string(got) != string(finalContent) {
		t.Fatalf("unexpected patched content: %q", got)
	}

	if !exists(c.patchPath("AAAAAAAAAAAAAAA", 1, 2)) {
		t.Fatalf("expected patch 1->2 to be cached on disk")
	}
	if !exists(c.patchPath("AAAAAAAAAAAAAAA", 2, 3)) {
		t.Fatalf("expected patch 2->3 to be cached on disk")
	}
	if !exists(c.bodyPath("AAAAAAAAAAAAAAA", 2)) {
		t.Fatalf("expected intermediate body at revision 2 to be cached on disk")
	}
}

// brokenPatchTransport reports a patch chain whose first hop doesn't start
// at the revision the caller asked to update from, to exercise
// updateFile's chain-continuity check.
type brokenPatchTransport struct {
	transport.Client
}

func (brokenPatchTransport) GetUpdates(ctx context.Context, key string, sourceRev, targetRev uint64) ([]transport.Patch, error) {
	return []transport.Patch{{SourceRevision: 2, TargetRevision: 3}}, nil
}

// A broken patch chain (get_updates reports a non-contiguous hop) surfaces
// a Corrupt error instead of silently applying the wrong patch.
func TestUpdateFileRejectsDiscontinuousChain(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{Directory: dir}, brokenPatchTransport{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.updateFile(context.Background(), "AAAAAAAAAAAAAAA", 1, 3)
	if err == nil {
		t.Fatalf("expected an error for a chain whose first hop doesn't start at localRevision")
	}
}

func TestHousekeepRemovesBodiesWithoutLiveEntry(t *testing.T) {
	dir := t.TempDir()
	tr := fake.New()
	tr.SeedFile("AAAAAAAAAAAAAAA", "readme.txt", "", []byte("hello world"))

	c, err := New(Config{Directory: dir}, tr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hash := sha256.Sum256([]byte("hello world"))
	f, err := c.OpenBody(context.Background(), "AAAAAAAAAAAAAAA", 0, 1, 11, hash)
	if err != nil {
		t.Fatalf("OpenBody: %v", err)
	}
	f.Close()

	removed, err := c.Housekeep(5, func(quickKey string) (uint64, bool) { return 0, false })
	if err != nil {
		t.Fatalf("Housekeep: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("expected 1 removed body, got %v", removed)
	}
}

func TestHousekeepProtectsCurrentRevisionBody(t *testing.T) {
	dir := t.TempDir()
	tr := fake.New()
	tr.SeedFile("AAAAAAAAAAAAAAA", "readme.txt", "", []byte("hello world"))

	c, err := New(Config{Directory: dir}, tr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hash := sha256.Sum256([]byte("hello world"))
	f, err := c.OpenBody(context.Background(), "AAAAAAAAAAAAAAA", 0, 1, 11, hash)
	if err != nil {
		t.Fatalf("OpenBody: %v", err)
	}
	f.Close()

	// entry is unreferenced anywhere in the tree (live=false) but its own
	// revision equals the tree revision, so it must be protected.
	removed, err := c.Housekeep(1, func(quickKey string) (uint64, bool) { return 1, false })
	if err != nil {
		t.Fatalf("Housekeep: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("expected protected body to survive, got removed=%v", removed)
	}
}
