// Package registry implements the open-file coordination layer described in
// spec.md §4.4: per-path concurrency invariants over ReadOnly, Writable and
// LocalOnly handles, and the materialize/upload-on-release path.
package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kr/binarydist"

	"github.com/objectfs/objectfs/internal/contentcache"
	"github.com/objectfs/objectfs/internal/reconciler"
	"github.com/objectfs/objectfs/internal/transport"
	"github.com/objectfs/objectfs/internal/tree"
	objerrors "github.com/objectfs/objectfs/pkg/errors"
)

// Mode discriminates the three handle kinds spec.md §3 names.
type Mode int

const (
	ReadOnly Mode = iota
	Writable
	LocalOnly
)

// Handle is the record returned by Open/Create: a descriptor on a local
// staging file, the path it was opened for, and its mode.
type Handle struct {
	ID       uint64
	Path     string
	Mode     Mode
	file     *os.File
	quickKey string
	revision uint64
}

// Registry tracks currently-open paths and enforces spec.md §4.4's table of
// Busy denials, materializing bodies through the content cache and driving
// uploads on release.
type Registry struct {
	mu sync.Mutex

	tree       *tree.Tree
	reconciler *reconciler.Reconciler
	cache      *contentcache.Cache
	transport  transport.Client
	stagingDir string

	readonlyOpen     map[string]int             // path -> multiplicity
	readonlySnapshot map[string]readonlySnapshot // path -> metadata frozen at first ReadOnly open
	writeOpen        map[string]struct{}         // path -> present at most once
	nextHandle       uint64
	handles          map[uint64]*Handle

	lastRefresh      time.Time
	minRefreshPeriod time.Duration
}

// readonlySnapshot is the body identity observed by the first ReadOnly
// opener of a path, reused by every subsequent stacked opener so that all
// concurrent readers see the same revision, per spec.md §4.4/§5 -- even if
// the tree advances past it while handles remain open.
type readonlySnapshot struct {
	key      tree.Key
	revision uint64
	size     uint64
	hash     [32]byte
}

// Config configures the minimum interval between registry-triggered
// background refreshes and where staging files for LocalOnly/Writable
// handles live.
type Config struct {
	StagingDir       string
	MinRefreshPeriod time.Duration
}

// New creates an open-file registry.
func New(t *tree.Tree, rec *reconciler.Reconciler, cache *contentcache.Cache, client transport.Client, cfg Config) (*Registry, error) {
	if cfg.StagingDir == "" {
		return nil, objerrors.IOError("registry", "staging directory must not be empty")
	}
	if cfg.MinRefreshPeriod <= 0 {
		cfg.MinRefreshPeriod = time.Second
	}
	if err := os.MkdirAll(cfg.StagingDir, 0750); err != nil {
		return nil, objerrors.IOError("registry", "create staging directory").WithCause(err)
	}
	return &Registry{
		tree:             t,
		reconciler:       rec,
		cache:            cache,
		transport:        client,
		stagingDir:       cfg.StagingDir,
		readonlyOpen:     make(map[string]int),
		readonlySnapshot: make(map[string]readonlySnapshot),
		writeOpen:        make(map[string]struct{}),
		handles:          make(map[uint64]*Handle),
		minRefreshPeriod: cfg.MinRefreshPeriod,
	}, nil
}

// Open implements spec.md §4.4's open(path, mode) policy table.
func (r *Registry) Open(ctx context.Context, path string, mode Mode) (*Handle, error) {
	if mode == LocalOnly {
		return nil, objerrors.Unsupported("registry", "Open does not accept LocalOnly; use Create")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.writeOpen[path]; busy {
		return nil, objerrors.Busy("registry", "path already open for writing: "+path)
	}
	if count := r.readonlyOpen[path]; count > 0 {
		if mode == Writable {
			return nil, objerrors.Busy("registry", "path already open read-only: "+path)
		}
		// ReadOnly stacking: do not refresh the body; reuse the exact
		// metadata observed at the first open, even if the tree has
		// since advanced past it.
		snap := r.readonlySnapshot[path]
		return r.openDescriptorFrozenLocked(ctx, path, mode, snap)
	}

	r.maybeRefreshLocked(ctx)
	entry, err := r.tree.LookupPath(path)
	if err != nil {
		return nil, objerrors.NotFound("registry", "no such path: "+path)
	}
	if entry.Kind == tree.KindFolder {
		return nil, objerrors.Unsupported("registry", "cannot open a folder as a file")
	}
	snap := readonlySnapshot{key: entry.Key, revision: entry.Revision, size: entry.Size, hash: entry.Hash}
	h, err := r.openDescriptorFrozenLocked(ctx, path, mode, snap)
	if err != nil {
		return nil, err
	}
	if mode == ReadOnly {
		r.readonlySnapshot[path] = snap
	}
	return h, nil
}

func (r *Registry) maybeRefreshLocked(ctx context.Context) {
	if r.reconciler == nil {
		return
	}
	if time.Since(r.lastRefresh) < r.minRefreshPeriod {
		return
	}
	r.lastRefresh = time.Now()
	_ = r.reconciler.Refresh(ctx, false)
}

// openDescriptorFrozenLocked materializes the body at the metadata snapshot
// frozen at the first opener for a path (spec.md §4.4/§5: all concurrent
// readers of a path see the same body revision) and registers a new handle.
//
// A Writable handle never writes into the cache's own body file -- that file
// is immutable and may be shared with concurrent readers or future openers
// at the same revision. Instead it gets a private staging copy; release
// diffs the copy against the still-pristine cache body.
func (r *Registry) openDescriptorFrozenLocked(ctx context.Context, path string, mode Mode, snap readonlySnapshot) (*Handle, error) {
	cached, err := r.cache.OpenBody(ctx, string(snap.key), snap.revision, snap.revision, snap.size, snap.hash)
	if err != nil {
		return nil, err
	}

	f := cached
	if mode == Writable {
		staged, err := r.copyToStagingLocked(cached)
		cached.Close()
		if err != nil {
			return nil, err
		}
		f = staged
	}

	r.nextHandle++
	h := &Handle{ID: r.nextHandle, Path: path, Mode: mode, file: f, quickKey: string(snap.key), revision: snap.revision}
	r.handles[h.ID] = h

	if mode == ReadOnly {
		r.readonlyOpen[path]++
	} else {
		r.writeOpen[path] = struct{}{}
	}
	return h, nil
}

func (r *Registry) copyToStagingLocked(source *os.File) (*os.File, error) {
	r.nextHandle++
	stagingPath := filepath.Join(r.stagingDir, fmt.Sprintf("staging-%d", r.nextHandle))
	dst, err := os.Create(stagingPath)
	if err != nil {
		return nil, objerrors.IOError("registry", "create staging copy for writable open").WithCause(err)
	}
	if _, err := io.Copy(dst, source); err != nil {
		dst.Close()
		return nil, objerrors.IOError("registry", "copy body into staging file").WithCause(err)
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		dst.Close()
		return nil, objerrors.IOError("registry", "rewind staging copy").WithCause(err)
	}
	return dst, nil
}

// Create implements spec.md §4.4's create(path) policy: allocate a local
// staging file with no remote call, so that a zero-byte file is never
// uploaded.
func (r *Registry) Create(path string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.writeOpen[path]; busy {
		return nil, objerrors.Busy("registry", "path already open for writing: "+path)
	}
	if r.readonlyOpen[path] > 0 {
		return nil, objerrors.Busy("registry", "path already open read-only: "+path)
	}

	stagingPath := filepath.Join(r.stagingDir, fmt.Sprintf("staging-%d", r.nextHandle+1))
	f, err := os.Create(stagingPath)
	if err != nil {
		return nil, objerrors.IOError("registry", "create staging file").WithCause(err)
	}

	r.nextHandle++
	h := &Handle{ID: r.nextHandle, Path: path, Mode: LocalOnly, file: f}
	r.handles[h.ID] = h
	r.writeOpen[path] = struct{}{}
	return h, nil
}

// Read delegates to a positional read on the handle's descriptor.
func (r *Registry) Read(h *Handle, offset int64, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := h.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, objerrors.IOError("registry", "read").WithCause(err)
	}
	return buf[:n], nil
}

// Write delegates to a positional write on the handle's descriptor. Forbidden
// for ReadOnly handles.
func (r *Registry) Write(h *Handle, offset int64, data []byte) (int, error) {
	if h.Mode == ReadOnly {
		return 0, objerrors.Unsupported("registry", "write forbidden on a ReadOnly handle")
	}
	n, err := h.file.WriteAt(data, offset)
	if err != nil {
		return n, objerrors.IOError("registry", "write").WithCause(err)
	}
	return n, nil
}

// Release implements spec.md §4.4's release(handle) dispatch.
func (r *Registry) Release(ctx context.Context, h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handles, h.ID)

	switch h.Mode {
	case ReadOnly:
		if r.readonlyOpen[h.Path] <= 0 {
			return objerrors.Unsupported("registry", "readonly entry not found on release: "+h.Path)
		}
		r.readonlyOpen[h.Path]--
		if r.readonlyOpen[h.Path] == 0 {
			delete(r.readonlyOpen, h.Path)
			delete(r.readonlySnapshot, h.Path)
		}
		return h.file.Close()

	case LocalOnly:
		return r.releaseLocalOnly(ctx, h)

	case Writable:
		return r.releaseWritable(ctx, h)
	}
	return nil
}

func (r *Registry) removeWriteOpenLocked(path string) error {
	if _, ok := r.writeOpen[path]; !ok {
		return objerrors.Unsupported("registry", "write-open entry not found on release: "+path)
	}
	delete(r.writeOpen, path)
	return nil
}

func (r *Registry) releaseLocalOnly(ctx context.Context, h *Handle) error {
	if err := r.removeWriteOpenLocked(h.Path); err != nil {
		return err
	}

	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		h.file.Close()
		return objerrors.IOError("registry", "rewind staging file").WithCause(err)
	}

	dir, name := splitDirBase(h.Path)
	folderKey, err := r.tree.PathGetKey(dir)
	if err != nil {
		h.file.Close()
		return objerrors.NotFound("registry", "parent folder not found for "+h.Path)
	}

	uploadKey, err := r.transport.UploadFile(ctx, string(folderKey), name, h.file)
	h.file.Close()
	if err != nil {
		return objerrors.Remote("registry", "upload_file failed", 0).WithCause(err)
	}

	if err := r.pollUntilDone(ctx, uploadKey); err != nil {
		return err
	}

	if r.reconciler != nil {
		return r.reconciler.Refresh(ctx, true)
	}
	return nil
}

func (r *Registry) releaseWritable(ctx context.Context, h *Handle) error {
	if err := r.removeWriteOpenLocked(h.Path); err != nil {
		return err
	}
	defer h.file.Close()

	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		return objerrors.IOError("registry", "rewind staged file for diffing").WithCause(err)
	}
	staged, err := io.ReadAll(h.file)
	if err != nil {
		return objerrors.IOError("registry", "read staged content for diff").WithCause(err)
	}
	targetHash := sha256.Sum256(staged)

	// The original body against which to diff is the one already
	// materialized in the content cache at the handle's observed revision.
	originalPath := r.cache.BodyPath(h.quickKey, h.revision)
	original, err := os.Open(originalPath)
	if err != nil {
		return objerrors.IOError("registry", "open original body for diffing").WithCause(err)
	}
	defer original.Close()
	sourceData, err := io.ReadAll(original)
	if err != nil {
		return objerrors.IOError("registry", "read original body for diffing").WithCause(err)
	}
	sourceHash := sha256.Sum256(sourceData)

	var patch bytes.Buffer
	if err := binarydist.Diff(bytes.NewReader(sourceData), bytes.NewReader(staged), &patch); err != nil {
		return objerrors.Corrupt("registry", "computing binary diff against original body failed").WithCause(err)
	}

	uploadKey, err := r.transport.UploadPatch(ctx, h.quickKey, sourceHash, targetHash, uint64(len(staged)), &patch)
	if err != nil {
		// Per spec.md §4.4: surface the error and keep the staging file
		// on disk for recovery rather than discard it.
		return objerrors.Remote("registry", "upload_patch failed, staging file preserved", 0).WithCause(err)
	}

	if err := r.pollUntilDone(ctx, uploadKey); err != nil {
		return err
	}
	if r.reconciler != nil {
		return r.reconciler.Refresh(ctx, true)
	}
	return nil
}

func (r *Registry) pollUntilDone(ctx context.Context, uploadKey string) error {
	for {
		status, err := r.transport.PollUpload(ctx, uploadKey)
		if err != nil {
			return objerrors.Remote("registry", "poll_upload failed", 0).WithCause(err)
		}
		if status.Done() {
			if status.FileError != "" {
				return objerrors.Remote("registry", "upload reported file_error: "+status.FileError, 0)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return objerrors.Transient("registry", "poll_upload canceled")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func splitDirBase(path string) (dir, base string) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/", path[idx+1:]
	}
	return path[:idx], path[idx+1:]
}
