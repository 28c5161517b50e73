package fuse

import (
	"context"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/objectfs/internal/reconciler"
	"github.com/objectfs/objectfs/internal/registry"
	"github.com/objectfs/objectfs/internal/transport"
	"github.com/objectfs/objectfs/internal/tree"
	objerrors "github.com/objectfs/objectfs/pkg/errors"
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// errnoFor maps the mirror core's typed errors to a FUSE errno, via the
// component's own POSIX errno classification (pkg/errors.Errno).
func errnoFor(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	oe, ok := err.(*objerrors.ObjectFSError)
	if !ok {
		return syscall.EIO
	}
	switch oe.Errno() {
	case "ENOENT":
		return syscall.ENOENT
	case "EAGAIN":
		return syscall.EAGAIN
	case "ENOSYS":
		return syscall.ENOSYS
	default:
		return syscall.EIO
	}
}

// Config represents FUSE filesystem configuration.
type Config struct {
	MountPoint string `yaml:"mount_point"`
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`

	DefaultUID  uint32 `yaml:"default_uid"`
	DefaultGID  uint32 `yaml:"default_gid"`
	DefaultMode uint32 `yaml:"default_mode"`
}

// Stats tracks filesystem operation counts for the optional status endpoint.
type Stats struct {
	mu sync.RWMutex

	Lookups int64 `json:"lookups"`
	Opens   int64 `json:"opens"`
	Reads   int64 `json:"reads"`
	Writes  int64 `json:"writes"`
	Creates int64 `json:"creates"`
	Deletes int64 `json:"deletes"`
	Errors  int64 `json:"errors"`

	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`

	// CacheHits/CacheMisses are never incremented by this package;
	// content-cache hits and misses are recorded through internal/obsmetrics.
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
}

func (s *Stats) inc(counter *int64) {
	s.mu.Lock()
	*counter++
	s.mu.Unlock()
}

func (s *Stats) add(counter *int64, delta int64) {
	s.mu.Lock()
	*counter += delta
	s.mu.Unlock()
}

// FileSystem is the FUSE surface described in spec.md §6, backed by the
// directory tree, the open-file registry and the reconciler -- the mirror
// core this package dispatches against rather than objectfs's original
// direct-to-S3 backend.
type FileSystem struct {
	fs.Inode

	tree       *tree.Tree
	reconciler *reconciler.Reconciler
	registry   *registry.Registry
	transport  transport.Client
	config     *Config
	stats      *Stats
}

// NewFileSystem wires a FUSE filesystem against the mirror core.
func NewFileSystem(t *tree.Tree, rec *reconciler.Reconciler, reg *registry.Registry, client transport.Client, config *Config) *FileSystem {
	if config == nil {
		config = &Config{
			DefaultUID:  1000,
			DefaultGID:  1000,
			DefaultMode: 0644,
		}
	}
	return &FileSystem{
		tree:       t,
		reconciler: rec,
		registry:   reg,
		transport:  client,
		config:     config,
		stats:      &Stats{},
	}
}

// Root returns the root inode.
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{core: f, path: "/"}
}

// GetStats returns a point-in-time copy of the filesystem statistics.
func (f *FileSystem) GetStats() *Stats {
	f.stats.mu.RLock()
	defer f.stats.mu.RUnlock()
	return &Stats{
		Lookups:      f.stats.Lookups,
		Opens:        f.stats.Opens,
		Reads:        f.stats.Reads,
		Writes:       f.stats.Writes,
		Creates:      f.stats.Creates,
		Deletes:      f.stats.Deletes,
		Errors:       f.stats.Errors,
		BytesRead:    f.stats.BytesRead,
		BytesWritten: f.stats.BytesWritten,
		CacheHits:    f.stats.CacheHits,
		CacheMisses:  f.stats.CacheMisses,
	}
}

// DirectoryNode represents a directory backed by the tree.
type DirectoryNode struct {
	fs.Inode
	core *FileSystem
	path string
}

func (n *DirectoryNode) joinPath(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

func fillAttrFromEntry(out *fuse.Attr, core *FileSystem, e *tree.Entry) {
	if e.Kind == tree.KindFolder {
		out.Mode = syscall.S_IFDIR | core.config.DefaultMode | 0111
		out.Nlink = 2
	} else {
		out.Mode = syscall.S_IFREG | core.config.DefaultMode
		out.Size = e.Size
		out.Nlink = 1
	}
	out.Uid = core.config.DefaultUID
	out.Gid = core.config.DefaultGID
	t := safeInt64ToUint64(e.Created.Unix())
	out.Mtime, out.Atime, out.Ctime = t, t, t
}

// Getattr implements spec.md §6's getattr.
func (n *DirectoryNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	e, err := n.core.tree.LookupPath(n.path)
	if err != nil {
		return errnoFor(err)
	}
	fillAttrFromEntry(&out.Attr, n.core, e)
	return 0
}

// Lookup implements spec.md §6's lookup path (folded into getattr's
// invariants -- every name resolves through the same tree lookup).
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.core.stats.inc(&n.core.stats.Lookups)

	childPath := n.joinPath(name)
	e, err := n.core.tree.LookupPath(childPath)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttrFromEntry(&out.Attr, n.core, e)

	if e.Kind == tree.KindFolder {
		child := &DirectoryNode{core: n.core, path: childPath}
		return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR}), 0
	}
	child := &FileNode{core: n.core, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG}), 0
}

// Readdir implements spec.md §6's readdir from the tree's children list.
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	children, err := n.core.tree.ListChildren(n.path)
	if err != nil {
		return nil, errnoFor(err)
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		mode := uint32(syscall.S_IFREG)
		if c.Kind == tree.KindFolder {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: c.Name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

// Mkdir implements spec.md §6's mkdir: issue folder_create, then
// refresh(expect_changes=true) -- mkdir never mutates the tree directly.
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.core.config.ReadOnly {
		return nil, syscall.EROFS
	}
	parentKey, err := n.core.tree.PathGetKey(n.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	if _, err := n.core.transport.FolderCreate(ctx, string(parentKey), name); err != nil {
		n.core.stats.inc(&n.core.stats.Errors)
		return nil, syscall.EIO
	}
	if n.core.reconciler != nil {
		_ = n.core.reconciler.Refresh(ctx, true)
	}

	childPath := n.joinPath(name)
	e, err := n.core.tree.LookupPath(childPath)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttrFromEntry(&out.Attr, n.core, e)
	child := &DirectoryNode{core: n.core, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR}), 0
}

// Rmdir implements spec.md §6's rmdir.
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.core.config.ReadOnly {
		return syscall.EROFS
	}
	childPath := n.joinPath(name)
	key, err := n.core.tree.PathGetKey(childPath)
	if err != nil {
		return errnoFor(err)
	}
	if err := n.core.transport.FolderDelete(ctx, string(key)); err != nil {
		n.core.stats.inc(&n.core.stats.Errors)
		return syscall.EIO
	}
	n.core.stats.inc(&n.core.stats.Deletes)
	if n.core.reconciler != nil {
		_ = n.core.reconciler.Refresh(ctx, true)
	}
	return 0
}

// Unlink implements spec.md §6's unlink.
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.core.config.ReadOnly {
		return syscall.EROFS
	}
	childPath := n.joinPath(name)
	key, err := n.core.tree.PathGetKey(childPath)
	if err != nil {
		return errnoFor(err)
	}
	if err := n.core.transport.FileDelete(ctx, string(key)); err != nil {
		n.core.stats.inc(&n.core.stats.Errors)
		return syscall.EIO
	}
	n.core.stats.inc(&n.core.stats.Deletes)
	if n.core.reconciler != nil {
		_ = n.core.reconciler.Refresh(ctx, true)
	}
	return 0
}

// Rename implements spec.md §6's rename, decomposed into move and/or
// rename transport calls as spec.md §5 describes.
func (n *DirectoryNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.core.config.ReadOnly {
		return syscall.EROFS
	}
	destDir, ok := newParent.(*DirectoryNode)
	if !ok {
		return syscall.EINVAL
	}

	oldPath := n.joinPath(name)
	entry, err := n.core.tree.LookupPath(oldPath)
	if err != nil {
		return errnoFor(err)
	}
	oldParentKey, err := n.core.tree.PathGetKey(n.path)
	if err != nil {
		return errnoFor(err)
	}
	newParentKey, err := n.core.tree.PathGetKey(destDir.path)
	if err != nil {
		return errnoFor(err)
	}

	isFolder := entry.Kind == tree.KindFolder
	key := string(entry.Key)

	if oldParentKey != newParentKey {
		var moveErr error
		if isFolder {
			moveErr = n.core.transport.FolderMove(ctx, key, string(newParentKey))
		} else {
			moveErr = n.core.transport.FileMove(ctx, key, string(newParentKey))
		}
		if moveErr != nil {
			n.core.stats.inc(&n.core.stats.Errors)
			return syscall.EIO
		}
	}
	if name != newName {
		var renameErr error
		if isFolder {
			renameErr = n.core.transport.FolderRename(ctx, key, newName)
		} else {
			renameErr = n.core.transport.FileRename(ctx, key, newName)
		}
		if renameErr != nil {
			n.core.stats.inc(&n.core.stats.Errors)
			return syscall.EIO
		}
	}

	if n.core.reconciler != nil {
		_ = n.core.reconciler.Refresh(ctx, true)
	}
	return 0
}

// Create implements spec.md §6's create: a LocalOnly registry handle with
// no remote call, so that empty files are never uploaded (see §4.4).
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if n.core.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	childPath := n.joinPath(name)
	h, err := n.core.registry.Create(childPath)
	if err != nil {
		n.core.stats.inc(&n.core.stats.Errors)
		return nil, nil, 0, errnoFor(err)
	}
	n.core.stats.inc(&n.core.stats.Creates)

	out.Attr.Mode = syscall.S_IFREG | n.core.config.DefaultMode
	out.Attr.Uid = n.core.config.DefaultUID
	out.Attr.Gid = n.core.config.DefaultGID

	child := &FileNode{core: n.core, path: childPath}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG})
	return inode, &FileHandle{core: n.core, handle: h}, 0, 0
}

// Access is a no-op success: the mirror core does not model permission
// bits beyond the configured default mode.
func (n *DirectoryNode) Access(ctx context.Context, mask uint32) syscall.Errno { return 0 }

// FileNode represents a file backed by the directory tree / registry.
type FileNode struct {
	fs.Inode
	core *FileSystem
	path string
}

// Getattr implements spec.md §6's getattr for files.
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	e, err := f.core.tree.LookupPath(f.path)
	if err != nil {
		return errnoFor(err)
	}
	fillAttrFromEntry(&out.Attr, f.core, e)
	return 0
}

// Open implements spec.md §6's open, routed through the registry's
// ReadOnly/Writable policy.
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	f.core.stats.inc(&f.core.stats.Opens)

	mode := registry.ReadOnly
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		mode = registry.Writable
	}
	if f.core.config.ReadOnly && mode == registry.Writable {
		return nil, 0, syscall.EROFS
	}

	h, err := f.core.registry.Open(ctx, f.path, mode)
	if err != nil {
		f.core.stats.inc(&f.core.stats.Errors)
		return nil, 0, errnoFor(err)
	}
	return &FileHandle{core: f.core, handle: h}, 0, 0
}

// Access is a no-op success, matching spec.md §6's mapping.
func (f *FileNode) Access(ctx context.Context, mask uint32) syscall.Errno { return 0 }

// Setattr covers chmod/chown/truncate/utimens, none of which the core
// implements (spec.md §6 lists them unsupported).
func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.ENOSYS
}

// Readlink is unsupported: the mirror core has no symlink concept.
func (f *FileNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	return nil, syscall.ENOSYS
}

// FileHandle wraps a registry.Handle behind the FUSE file-handle interfaces.
type FileHandle struct {
	core   *FileSystem
	handle *registry.Handle
}

// Read implements spec.md §6's read via the registry's positional read.
func (h *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.core.stats.inc(&h.core.stats.Reads)
	data, err := h.core.registry.Read(h.handle, off, len(dest))
	if err != nil {
		h.core.stats.inc(&h.core.stats.Errors)
		return nil, errnoFor(err)
	}
	h.core.stats.add(&h.core.stats.BytesRead, int64(len(data)))
	return fuse.ReadResultData(data), 0
}

// Write implements spec.md §6's write via the registry's positional write.
func (h *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.core.registry.Write(h.handle, off, data)
	if err != nil {
		h.core.stats.inc(&h.core.stats.Errors)
		return 0, errnoFor(err)
	}
	h.core.stats.inc(&h.core.stats.Writes)
	h.core.stats.add(&h.core.stats.BytesWritten, int64(n))
	return safeIntToUint32(n), 0
}

// Flush is a no-op success per spec.md §6's mapping: the upload, if any,
// happens in Release, not Flush (see SUPPLEMENTED FEATURES).
func (h *FileHandle) Flush(ctx context.Context) syscall.Errno { return 0 }

// Release implements spec.md §6's release, dispatching through the
// registry to materialize any upload.
func (h *FileHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.core.registry.Release(ctx, h.handle); err != nil {
		h.core.stats.inc(&h.core.stats.Errors)
		return errnoFor(err)
	}
	return 0
}

var (
	_ fs.NodeGetattrer = (*DirectoryNode)(nil)
	_ fs.NodeLookuper  = (*DirectoryNode)(nil)
	_ fs.NodeReaddirer = (*DirectoryNode)(nil)
	_ fs.NodeMkdirer   = (*DirectoryNode)(nil)
	_ fs.NodeRmdirer   = (*DirectoryNode)(nil)
	_ fs.NodeUnlinker  = (*DirectoryNode)(nil)
	_ fs.NodeRenamer   = (*DirectoryNode)(nil)
	_ fs.NodeCreater   = (*DirectoryNode)(nil)
	_ fs.NodeAccesser  = (*DirectoryNode)(nil)

	_ fs.NodeGetattrer = (*FileNode)(nil)
	_ fs.NodeOpener    = (*FileNode)(nil)
	_ fs.NodeAccesser  = (*FileNode)(nil)
	_ fs.NodeSetattrer = (*FileNode)(nil)
	_ fs.NodeReadlinker = (*FileNode)(nil)

	_ fs.FileReader    = (*FileHandle)(nil)
	_ fs.FileWriter    = (*FileHandle)(nil)
	_ fs.FileFlusher   = (*FileHandle)(nil)
	_ fs.FileReleaser  = (*FileHandle)(nil)
)
