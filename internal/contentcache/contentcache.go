// Package contentcache implements the on-disk content-addressed cache of
// file bodies and patch blobs described in spec.md §4.2: a flat directory
// whose entries are named by (quickkey, revision) for bodies and
// (quickkey, source_revision, target_revision) for patches, verified by
// SHA-256 and immutable once written.
package contentcache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/kr/binarydist"

	"github.com/objectfs/objectfs/internal/obslog"
	"github.com/objectfs/objectfs/internal/obsmetrics"
	"github.com/objectfs/objectfs/internal/transport"
	objerrors "github.com/objectfs/objectfs/pkg/errors"
	"github.com/objectfs/objectfs/pkg/utils"
)

// Config mirrors the shape of the teacher's PersistentCacheConfig, narrowed
// to what the content-addressed body/patch cache needs.
type Config struct {
	Directory string `yaml:"directory"`
}

// Cache stores immutable file bodies and patch blobs on disk, named per the
// layout in spec.md §6: "{quickkey}_{revision}" for bodies,
// "{quickkey}_patch_{src_rev}_{tgt_rev}" for patches.
type Cache struct {
	mu        sync.Mutex
	directory string
	transport transport.Client
}

// New creates a content cache rooted at config.Directory, creating it if
// necessary.
func New(config Config, client transport.Client) (*Cache, error) {
	if config.Directory == "" {
		return nil, objerrors.IOError("contentcache", "directory must not be empty")
	}
	if err := os.MkdirAll(config.Directory, 0750); err != nil {
		return nil, objerrors.IOError("contentcache", "create cache directory").WithCause(err)
	}
	return &Cache{directory: config.Directory, transport: client}, nil
}

func (c *Cache) bodyPath(quickKey string, revision uint64) string {
	return filepath.Join(c.directory, fmt.Sprintf("%s_%d", quickKey, revision))
}

// BodyPath returns the on-disk path of the cached body for (quickKey,
// revision), whether or not it currently exists. Exposed so the open-file
// registry can locate the original body to diff against on release of a
// Writable handle.
func (c *Cache) BodyPath(quickKey string, revision uint64) string {
	return c.bodyPath(quickKey, revision)
}

func (c *Cache) patchPath(quickKey string, sourceRev, targetRev uint64) string {
	return filepath.Join(c.directory, fmt.Sprintf("%s_patch_%d_%d", quickKey, sourceRev, targetRev))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// OpenBody implements spec.md §4.2's open_body operation: return an open
// descriptor for (quickKey, targetRevision), materializing it via patch
// application from localRevision or via full download, and verifying the
// result against expectedSize/expectedHash before returning.
func (c *Cache) OpenBody(ctx context.Context, quickKey string, localRevision, targetRevision uint64, expectedSize uint64, expectedHash [32]byte) (*os.File, error) {
	if err := utils.ValidatePath(quickKey, false); err != nil {
		return nil, objerrors.IOError("contentcache", "quickkey is not a safe path component").WithCause(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.bodyPath(quickKey, targetRevision)
	if !exists(target) {
		obsmetrics.RecordCacheMiss(quickKey, int64(expectedSize))
		local := c.bodyPath(quickKey, localRevision)
		if exists(local) {
			if err := c.updateFile(ctx, quickKey, localRevision, targetRevision); err != nil {
				return nil, err
			}
		} else {
			if err := c.downloadFile(ctx, quickKey, targetRevision); err != nil {
				return nil, err
			}
		}
	} else {
		obsmetrics.RecordCacheHit(quickKey, int64(expectedSize))
	}

	if err := c.verify(target, expectedSize, expectedHash); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(target, os.O_RDWR, 0640)
	if err != nil {
		return nil, objerrors.IOError("contentcache", "open cached body").WithCause(err)
	}
	return f, nil
}

func (c *Cache) downloadFile(ctx context.Context, quickKey string, targetRevision uint64) error {
	links, err := c.transport.GetFileLinks(ctx, quickKey)
	if err != nil {
		return objerrors.Remote("contentcache", "get_file_links failed", 0).WithCause(err)
	}
	if links.DirectDownloadURL == "" {
		return objerrors.NotFound("contentcache", "no direct download link for "+quickKey)
	}

	target := c.bodyPath(quickKey, targetRevision)
	tmp := target + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return objerrors.IOError("contentcache", "create download tmp file").WithCause(err)
	}
	if err := c.transport.Download(ctx, links.DirectDownloadURL, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return objerrors.Remote("contentcache", "download failed", 0).WithCause(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return objerrors.IOError("contentcache", "close downloaded file").WithCause(err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return objerrors.IOError("contentcache", "rename downloaded file into place").WithCause(err)
	}
	return nil
}

// updateFile implements filecache_update_file: fetch the ordered patch
// chain from localRevision to targetRevision and apply each in turn,
// falling back to a full download if the remote reports no patches.
func (c *Cache) updateFile(ctx context.Context, quickKey string, localRevision, targetRevision uint64) error {
	patches, err := c.transport.GetUpdates(ctx, quickKey, localRevision, targetRevision)
	if err != nil {
		return objerrors.Remote("contentcache", "get_updates failed", 0).WithCause(err)
	}
	if len(patches) == 0 {
		return c.downloadFile(ctx, quickKey, targetRevision)
	}

	lastTarget := localRevision
	for _, p := range patches {
		if p.SourceRevision != lastTarget {
			return objerrors.Corrupt("contentcache", "patch chain broken: expected source "+
				fmt.Sprint(lastTarget)+" got "+fmt.Sprint(p.SourceRevision))
		}
		lastTarget = p.TargetRevision

		if err := c.downloadPatch(ctx, quickKey, p.SourceRevision, p.TargetRevision, p.PatchHash); err != nil {
			return err
		}

		sourcePath := c.bodyPath(quickKey, p.SourceRevision)
		if err := c.verify(sourcePath, 0, p.SourceHash); err != nil {
			return err
		}

		if err := c.patchFile(quickKey, p.SourceRevision, p.TargetRevision); err != nil {
			return err
		}

		targetPath := c.bodyPath(quickKey, p.TargetRevision)
		if err := c.verify(targetPath, 0, p.TargetHash); err != nil {
			return err
		}
	}

	if lastTarget != targetRevision {
		return objerrors.Corrupt("contentcache", "last patch target revision does not match requested target")
	}
	return nil
}

func (c *Cache) downloadPatch(ctx context.Context, quickKey string, sourceRev, targetRev uint64, declaredHash [32]byte) error {
	link, err := c.transport.GetPatch(ctx, quickKey, sourceRev, targetRev)
	if err != nil {
		return objerrors.Remote("contentcache", "get_patch failed", 0).WithCause(err)
	}
	if link.PatchHash != declaredHash {
		return objerrors.Corrupt("contentcache", "get_patch hash disagrees with get_updates list")
	}
	if link.PatchURL == "" {
		return objerrors.NotFound("contentcache", "empty patch link")
	}

	path := c.patchPath(quickKey, sourceRev, targetRev)
	tmp := path + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return objerrors.IOError("contentcache", "create patch tmp file").WithCause(err)
	}
	if err := c.transport.Download(ctx, link.PatchURL, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return objerrors.Remote("contentcache", "patch download failed", 0).WithCause(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return objerrors.IOError("contentcache", "close downloaded patch").WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return objerrors.IOError("contentcache", "rename downloaded patch into place").WithCause(err)
	}
	return c.verify(path, 0, link.PatchHash)
}

// patchFile applies the on-disk patch blob to the source body, producing
// the target body. This is the VCDIFF/xdelta-style streamed binary patch
// named in spec.md §4.2; no VCDIFF implementation exists in the reference
// corpus, so this uses github.com/kr/binarydist's bsdiff/bspatch codec,
// which has the same source+patch->target shape and its own internal
// checksum, checked here in addition to the post-apply SHA-256 (see
// DESIGN.md).
func (c *Cache) patchFile(quickKey string, sourceRev, targetRev uint64) error {
	sourcePath := c.bodyPath(quickKey, sourceRev)
	patchPath := c.patchPath(quickKey, sourceRev, targetRev)
	targetPath := c.bodyPath(quickKey, targetRev)

	source, err := os.Open(sourcePath)
	if err != nil {
		return objerrors.IOError("contentcache", "open source body for patching").WithCause(err)
	}
	defer source.Close()

	patch, err := os.Open(patchPath)
	if err != nil {
		return objerrors.IOError("contentcache", "open patch blob").WithCause(err)
	}
	defer patch.Close()

	tmp := targetPath + ".patching"
	target, err := os.Create(tmp)
	if err != nil {
		return objerrors.IOError("contentcache", "create target body").WithCause(err)
	}

	if err := binarydist.Patch(source, target, patch); err != nil {
		target.Close()
		os.Remove(tmp)
		return objerrors.Corrupt("contentcache", "patch application failed").WithCause(err)
	}
	if err := target.Close(); err != nil {
		os.Remove(tmp)
		return objerrors.IOError("contentcache", "close patched target").WithCause(err)
	}
	if err := os.Rename(tmp, targetPath); err != nil {
		return objerrors.IOError("contentcache", "rename patched target into place").WithCause(err)
	}
	return nil
}

// verify checks a body's SHA-256 and, when expectedSize is nonzero, its
// size. A zero expectedSize skips the size check (used for intermediate
// patch-chain verification steps, where only the hash is specified).
func (c *Cache) verify(path string, expectedSize uint64, expectedHash [32]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return objerrors.IOError("contentcache", "open body for verification").WithCause(err)
	}
	defer f.Close()

	if expectedSize != 0 {
		info, err := f.Stat()
		if err != nil {
			return objerrors.IOError("contentcache", "stat body for verification").WithCause(err)
		}
		if uint64(info.Size()) != expectedSize {
			err := objerrors.Corrupt("contentcache", fmt.Sprintf("size mismatch: expected %d got %d", expectedSize, info.Size())).WithDetail("path", path)
			obslog.Err("contentcache", "verify", err)
			return err
		}
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return objerrors.IOError("contentcache", "hash body for verification").WithCause(err)
	}
	var got [32]byte
	copy(got[:], h.Sum(nil))
	if got != expectedHash {
		err := objerrors.Corrupt("contentcache", "hash mismatch for "+filepath.Base(path)).WithDetail("path", path)
		obslog.Err("contentcache", "verify", err)
		return err
	}
	return nil
}

// HasLiveEntry is a predicate passed to Housekeep reporting whether a
// quickkey still has an Entry record in the tree's hashtable (regardless of
// whether any folder currently references it) and, if so, that Entry's
// revision -- mirroring the tree's own mark-and-sweep exception for entries
// mid-move.
type HasLiveEntry func(quickKey string) (revision uint64, exists bool)

// Housekeep removes cache bodies and patch blobs that are no longer
// reachable, per spec.md §4.3: a body whose quickkey backs a live Entry is
// kept only if it is that Entry's current revision; a body whose quickkey
// has no live Entry is kept only if the body's own revision equals the
// tree's current revision (the same mid-move grace window
// internal/tree.Tree.Housekeep applies to unreachable-but-current
// entries). A patch blob is kept if either end of the transition it encodes
// is the tree's current revision, since it may still be needed to build the
// chain to or from the present state.
func (c *Cache) Housekeep(treeRevision uint64, hasLiveEntry HasLiveEntry) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return nil, objerrors.IOError("contentcache", "list cache directory").WithCause(err)
	}

	var removed []string
	for _, ent := range entries {
		name := ent.Name()
		parsed, ok := parseCacheName(name)
		if !ok {
			continue
		}

		var keep bool
		if parsed.isPatch {
			keep = parsed.sourceRev == treeRevision || parsed.targetRev == treeRevision
		} else if rev, live := hasLiveEntry(parsed.quickKey); live {
			keep = rev == parsed.revision
		} else {
			keep = parsed.revision == treeRevision
		}
		if keep {
			continue
		}

		if err := os.Remove(filepath.Join(c.directory, name)); err != nil {
			continue
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// cacheName is a parsed cache file name: either a body
// ("{quickkey}_{revision}") or a patch ("{quickkey}_patch_{src}_{tgt}").
type cacheName struct {
	quickKey  string
	isPatch   bool
	revision  uint64 // body only
	sourceRev uint64 // patch only
	targetRev uint64 // patch only
}

func parseCacheName(name string) (cacheName, bool) {
	i := strings.IndexByte(name, '_')
	if i < 0 {
		return cacheName{}, false
	}
	quickKey := name[:i]
	rest := name[i+1:]

	if strings.HasPrefix(rest, "patch_") {
		parts := strings.Split(rest[len("patch_"):], "_")
		if len(parts) != 2 {
			return cacheName{}, false
		}
		src, err1 := strconv.ParseUint(parts[0], 10, 64)
		tgt, err2 := strconv.ParseUint(parts[1], 10, 64)
		if err1 != nil || err2 != nil {
			return cacheName{}, false
		}
		return cacheName{quickKey: quickKey, isPatch: true, sourceRev: src, targetRev: tgt}, true
	}

	rev, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return cacheName{}, false
	}
	return cacheName{quickKey: quickKey, revision: rev}, true
}
