package s3transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/kr/binarydist"

	objerrors "github.com/objectfs/objectfs/pkg/errors"
	"github.com/objectfs/objectfs/pkg/types"
)

// memStore is an in-memory objectStore double standing in for
// internal/storage/s3.Backend, the way the teacher's own backend_test.go
// avoids needing live AWS credentials for pure-logic tests -- this lets
// GetUpdates/GetPatch/buildPatch run against real kr/binarydist diffs without
// a bucket.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) GetObject(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return data, nil
}

func (m *memStore) PutObject(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = cp
	return nil
}

func (m *memStore) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) ListObjects(ctx context.Context, prefix string, limit int) ([]types.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ObjectInfo
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, types.ObjectInfo{Key: k})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStore) putJSON(t *testing.T, key string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", key, err)
	}
	if err := m.PutObject(context.Background(), key, data); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

// seedRevision stores a file's body and history record at rev, mirroring what
// UploadFile/UploadPatch would have written.
func seedRevision(t *testing.T, store *memStore, quickKey string, rev uint64, body []byte) {
	t.Helper()
	hash := sha256.Sum256(body)
	if err := store.PutObject(context.Background(), bodyKey(quickKey, rev), body); err != nil {
		t.Fatalf("seed body: %v", err)
	}
	store.putJSON(t, historyKey(quickKey, rev), historyRecord{Hash: hash, Size: uint64(len(body))})
}

func TestBuildPatchComputesAndCachesDiff(t *testing.T) {
	store := newMemStore()
	c := &Client{backend: store}

	seedRevision(t, store, "AAAAAAAAAAAAAAA", 1, []byte("hello world"))
	seedRevision(t, store, "AAAAAAAAAAAAAAA", 2, []byte("hello world, v2"))

	patch, hash, err := c.buildPatch(context.Background(), "AAAAAAAAAAAAAAA", 1, 2)
	if err != nil {
		t.Fatalf("buildPatch: %v", err)
	}
	if hash != sha256.Sum256(patch) {
		t.Fatalf("returned hash doesn't match returned patch bytes")
	}

	var applied bytes.Buffer
	if err := binarydist.Patch(bytes.NewReader([]byte("hello world")), &applied, bytes.NewReader(patch)); err != nil {
		t.Fatalf("applying computed patch: %v", err)
	}
	if applied.String() != "hello world, v2" {
		t.Fatalf("patch applied to wrong content: %q", applied.String())
	}

	if _, ok := store.objects[patchKey("AAAAAAAAAAAAAAA", 1, 2)]; !ok {
		t.Fatalf("expected buildPatch to cache the diff in the store")
	}
}

func TestBuildPatchReusesCachedDiff(t *testing.T) {
	store := newMemStore()
	c := &Client{backend: store}

	seedRevision(t, store, "AAAAAAAAAAAAAAA", 1, []byte("hello world"))
	seedRevision(t, store, "AAAAAAAAAAAAAAA", 2, []byte("hello world, v2"))

	if _, _, err := c.buildPatch(context.Background(), "AAAAAAAAAAAAAAA", 1, 2); err != nil {
		t.Fatalf("first buildPatch: %v", err)
	}

	// Remove the source/target bodies: a second call must serve the already
	// cached patch object rather than recomputing (and failing) the diff.
	delete(store.objects, bodyKey("AAAAAAAAAAAAAAA", 1))
	delete(store.objects, bodyKey("AAAAAAAAAAAAAAA", 2))

	patch, _, err := c.buildPatch(context.Background(), "AAAAAAAAAAAAAAA", 1, 2)
	if err != nil {
		t.Fatalf("second buildPatch should reuse cached diff: %v", err)
	}
	if len(patch) == 0 {
		t.Fatalf("expected a non-empty cached patch")
	}
}

func TestBuildPatchMissingBodyIsNotFound(t *testing.T) {
	store := newMemStore()
	c := &Client{backend: store}
	seedRevision(t, store, "AAAAAAAAAAAAAAA", 1, []byte("hello world"))

	_, _, err := c.buildPatch(context.Background(), "AAAAAAAAAAAAAAA", 1, 2)
	if err == nil {
		t.Fatalf("expected an error for a missing target revision body")
	}
	mfsErr, ok := err.(*objerrors.ObjectFSError)
	if !ok || mfsErr.Code != objerrors.ErrCodeMirrorNotFound {
		t.Fatalf("expected a MIRROR_NOT_FOUND error, got %v", err)
	}
}

func TestGetUpdatesReturnsPatchDescribingBothRevisions(t *testing.T) {
	store := newMemStore()
	c := &Client{backend: store}

	seedRevision(t, store, "AAAAAAAAAAAAAAA", 1, []byte("hello world"))
	seedRevision(t, store, "AAAAAAAAAAAAAAA", 2, []byte("hello world, v2"))

	patches, err := c.GetUpdates(context.Background(), "AAAAAAAAAAAAAAA", 1, 2)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(patches) != 1 {
		t.Fatalf("expected 1 patch descriptor, got %d", len(patches))
	}
	p := patches[0]
	if p.SourceRevision != 1 || p.TargetRevision != 2 {
		t.Fatalf("unexpected revisions in patch descriptor: %+v", p)
	}
	if p.SourceHash != sha256.Sum256([]byte("hello world")) {
		t.Fatalf("unexpected source hash in patch descriptor")
	}
	if p.TargetHash != sha256.Sum256([]byte("hello world, v2")) {
		t.Fatalf("unexpected target hash in patch descriptor")
	}
}

func TestGetUpdatesMissingHistoryRecordFails(t *testing.T) {
	store := newMemStore()
	c := &Client{backend: store}
	seedRevision(t, store, "AAAAAAAAAAAAAAA", 1, []byte("hello world"))

	if _, err := c.GetUpdates(context.Background(), "AAAAAAAAAAAAAAA", 1, 2); err == nil {
		t.Fatalf("expected an error when the target revision has no history record")
	}
}

func TestGetPatchReturnsDownloadableURL(t *testing.T) {
	store := newMemStore()
	c := &Client{backend: store}

	seedRevision(t, store, "AAAAAAAAAAAAAAA", 1, []byte("hello world"))
	seedRevision(t, store, "AAAAAAAAAAAAAAA", 2, []byte("hello world, v2"))

	link, err := c.GetPatch(context.Background(), "AAAAAAAAAAAAAAA", 1, 2)
	if err != nil {
		t.Fatalf("GetPatch: %v", err)
	}
	if !strings.HasPrefix(link.PatchURL, urlScheme) {
		t.Fatalf("expected patch URL to use %s, got %q", urlScheme, link.PatchURL)
	}

	var buf bytes.Buffer
	if err := c.Download(context.Background(), link.PatchURL, &buf); err != nil {
		t.Fatalf("downloading patch by URL: %v", err)
	}
	if link.PatchHash != sha256.Sum256(buf.Bytes()) {
		t.Fatalf("downloaded patch doesn't match the advertised hash")
	}
}
