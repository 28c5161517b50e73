// Package reconciler drives the directory tree from its current revision
// to the remote's current revision, per spec.md §4.3: full_rebuild, refresh,
// apply_change, and housekeep.
package reconciler

import (
	"context"
	"io"
	"time"

	"github.com/objectfs/objectfs/internal/contentcache"
	"github.com/objectfs/objectfs/internal/obslog"
	"github.com/objectfs/objectfs/internal/obsmetrics"
	"github.com/objectfs/objectfs/internal/transport"
	"github.com/objectfs/objectfs/internal/tree"
	objerrors "github.com/objectfs/objectfs/pkg/errors"
)

// Reconciler owns the pairing of a directory tree with the transport used
// to keep it current.
type Reconciler struct {
	tree      *tree.Tree
	transport transport.Client
	cache     *contentcache.Cache
}

// New creates a reconciler over the given tree and transport.
func New(t *tree.Tree, client transport.Client, cache *contentcache.Cache) *Reconciler {
	return &Reconciler{tree: t, transport: client, cache: cache}
}

// SaveSnapshot serializes the tree to w in the on-disk layout spec.md §6
// documents, for a later warm start via LoadSnapshot instead of a full
// remote walk.
func (r *Reconciler) SaveSnapshot(w io.Writer) error {
	if err := r.tree.Snapshot(w); err != nil {
		return objerrors.IOError("reconciler", "save tree snapshot").WithCause(err)
	}
	return nil
}

// LoadSnapshot replaces the reconciler's tree with one reloaded from r, then
// immediately refreshes it against the remote's current change log -- the
// "reload is the symmetric operation ... yields a tree whose revision is
// then immediately refreshed" step from spec.md §4.3's Persistence note.
// Falls back to FullRebuild if the snapshot is missing or corrupt.
func (r *Reconciler) LoadSnapshot(ctx context.Context, rd io.Reader) error {
	loaded, err := tree.Load(rd)
	if err != nil {
		obslog.Err("reconciler", "load_snapshot", err)
		return r.FullRebuild(ctx)
	}

	r.tree.Lock()
	r.tree.ReplaceFrom(loaded)
	r.tree.Unlock()

	if err := r.Refresh(ctx, false); err != nil {
		return err
	}
	r.Housekeep()
	return nil
}

// FullRebuild implements spec.md §4.3's full_rebuild: snapshot the remote's
// current revision, clear the tree, walk the remote hierarchy depth-first
// repopulating it, absorb any changes that raced the walk via Refresh, and
// finally run Housekeep.
func (r *Reconciler) FullRebuild(ctx context.Context) error {
	remoteRevisionBefore, err := r.transport.GetStatus(ctx)
	if err != nil {
		wrapped := objerrors.Remote("reconciler", "get_status failed", 0).WithCause(err)
		obslog.Err("reconciler", "full_rebuild", wrapped)
		return wrapped
	}

	r.tree.Clear()
	r.tree.SetRevision(remoteRevisionBefore)

	rootInfo, err := r.transport.GetFolderInfo(ctx, "")
	if err != nil {
		return objerrors.Remote("reconciler", "get_folder_info(root) failed", 0).WithCause(err)
	}
	r.tree.AddOrUpdateFolder(tree.FolderRecord{
		Key: "", Name: rootInfo.Name, Revision: rootInfo.Revision, Created: rootInfo.Created,
	})

	if err := r.rebuildWalk(ctx, ""); err != nil {
		return err
	}

	if err := r.Refresh(ctx, true); err != nil {
		return err
	}

	r.Housekeep()
	return nil
}

// rebuildWalk recursively populates folderKey's children from the remote,
// recursing into subfolders, mirroring folder_tree_rebuild_helper.
func (r *Reconciler) rebuildWalk(ctx context.Context, folderKey string) error {
	folderKeys, err := r.transport.GetFolderContent(ctx, folderKey, transport.ContentFolders)
	if err != nil {
		return objerrors.Remote("reconciler", "get_folder_content(folders) failed", 0).WithCause(err)
	}
	fileKeys, err := r.transport.GetFolderContent(ctx, folderKey, transport.ContentFiles)
	if err != nil {
		return objerrors.Remote("reconciler", "get_folder_content(files) failed", 0).WithCause(err)
	}

	children := make([]tree.Key, 0, len(folderKeys)+len(fileKeys))
	for _, fk := range folderKeys {
		info, err := r.transport.GetFolderInfo(ctx, fk)
		if err != nil {
			return objerrors.Remote("reconciler", "get_folder_info failed", 0).WithCause(err)
		}
		r.tree.AddOrUpdateFolder(tree.FolderRecord{
			Key: tree.Key(fk), Name: info.Name, Revision: info.Revision, Created: info.Created,
		})
		children = append(children, tree.Key(fk))
	}
	for _, qk := range fileKeys {
		info, err := r.transport.GetFileInfo(ctx, qk)
		if err != nil {
			return objerrors.Remote("reconciler", "get_file_info failed", 0).WithCause(err)
		}
		r.tree.AddOrUpdateFile(tree.FileRecord{
			Key: tree.Key(qk), Name: info.Name, Revision: info.Revision, Created: info.Created,
			Hash: info.Hash, Size: info.Size,
		})
		children = append(children, tree.Key(qk))
	}

	if err := r.tree.SetChildren(tree.Key(folderKey), children); err != nil {
		return err
	}

	for _, fk := range folderKeys {
		if err := r.rebuildWalk(ctx, fk); err != nil {
			return err
		}
	}
	return nil
}

// Refresh implements spec.md §4.3's refresh: no-op if the remote revision
// equals the tree's, otherwise refresh the root's direct children (the
// change log never names the root), fetch the ordered change batch since
// the tree's revision, apply each change in order, and advance the tree's
// revision to the batch's last change only once the whole batch applies.
func (r *Reconciler) Refresh(ctx context.Context, expectChanges bool) (err error) {
	start := time.Now()
	defer func() { obsmetrics.RecordOperation("refresh", time.Since(start), 0, err == nil) }()

	remoteRevision, err := r.transport.GetStatus(ctx)
	if err != nil {
		return objerrors.Remote("reconciler", "get_status failed", 0).WithCause(err)
	}
	if remoteRevision == r.tree.Revision() {
		return nil
	}

	if err := r.refreshFolderChildren(ctx, ""); err != nil {
		return err
	}

	changes, err := r.transport.GetChanges(ctx, r.tree.Revision())
	if err != nil {
		return objerrors.Remote("reconciler", "get_changes failed", 0).WithCause(err)
	}

	var lastRevision uint64 = r.tree.Revision()
	for _, ch := range changes {
		if err := r.applyChange(ctx, ch); err != nil {
			// tree retains its prior revision; the batch is retried on the
			// next refresh, per spec.md §5's ordering guarantee.
			obslog.Err("reconciler", "apply_change("+ch.Key+")", err)
			return err
		}
		lastRevision = ch.Revision
	}
	r.tree.SetRevision(lastRevision)
	return nil
}

// refreshFolderChildren re-fetches a folder's direct children list, used
// both for the root (which never appears in the change log) and by
// UpdatedFolder's one-level refresh.
func (r *Reconciler) refreshFolderChildren(ctx context.Context, folderKey string) error {
	folderKeys, err := r.transport.GetFolderContent(ctx, folderKey, transport.ContentFolders)
	if err != nil {
		return objerrors.Remote("reconciler", "get_folder_content(folders) failed", 0).WithCause(err)
	}
	fileKeys, err := r.transport.GetFolderContent(ctx, folderKey, transport.ContentFiles)
	if err != nil {
		return objerrors.Remote("reconciler", "get_folder_content(files) failed", 0).WithCause(err)
	}

	children := make([]tree.Key, 0, len(folderKeys)+len(fileKeys))
	for _, fk := range folderKeys {
		children = append(children, tree.Key(fk))
	}
	for _, qk := range fileKeys {
		children = append(children, tree.Key(qk))
	}
	return r.tree.SetChildren(tree.Key(folderKey), children)
}

// applyChange dispatches a single change-log entry, per spec.md §4.3.
func (r *Reconciler) applyChange(ctx context.Context, ch transport.Change) error {
	switch ch.Kind {
	case transport.DeletedFolder, transport.DeletedFile:
		r.tree.Remove(tree.Key(ch.Key))
		return nil
	case transport.UpdatedFolder:
		info, err := r.transport.GetFolderInfo(ctx, ch.Key)
		if err != nil {
			return objerrors.Remote("reconciler", "get_folder_info failed during apply_change", 0).WithCause(err)
		}
		r.tree.AddOrUpdateFolder(tree.FolderRecord{
			Key: tree.Key(ch.Key), Name: info.Name, Revision: info.Revision, Created: info.Created,
		})
		return r.refreshFolderChildren(ctx, ch.Key)
	case transport.UpdatedFile:
		info, err := r.transport.GetFileInfo(ctx, ch.Key)
		if err != nil {
			return objerrors.Remote("reconciler", "get_file_info failed during apply_change", 0).WithCause(err)
		}
		r.tree.AddOrUpdateFile(tree.FileRecord{
			Key: tree.Key(ch.Key), Name: info.Name, Revision: info.Revision, Created: info.Created,
			Hash: info.Hash, Size: info.Size,
		})
		return nil
	default:
		return objerrors.Unsupported("reconciler", "unknown change kind")
	}
}

// Housekeep runs the tree's mark-and-sweep GC, then sweeps the content
// cache for bodies whose entry no longer survives, applying the same
// revision exception.
func (r *Reconciler) Housekeep() {
	r.tree.Housekeep()
	if r.cache == nil {
		return
	}
	treeRevision := r.tree.Revision()
	_, _ = r.cache.Housekeep(treeRevision, func(quickKey string) (uint64, bool) {
		e, err := r.tree.LookupKey(tree.Key(quickKey))
		if err != nil {
			return 0, false
		}
		return e.Revision, true
	})
}

// Tree exposes the underlying directory tree for callers (the open-file
// registry, the filesystem surface) that need read access.
func (r *Reconciler) Tree() *tree.Tree { return r.tree }
