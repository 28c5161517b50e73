//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/objectfs/objectfs/internal/reconciler"
	"github.com/objectfs/objectfs/internal/registry"
	"github.com/objectfs/objectfs/internal/transport"
	"github.com/objectfs/objectfs/internal/tree"
	objerrors "github.com/objectfs/objectfs/pkg/errors"
)

// CgoFuseFS implements the spec.md §6 filesystem surface using winfsp/cgofuse's
// path-based API, for platforms (principally Windows) where the kernel-level
// go-fuse/v2 Inode tree cannot mount. Dispatches to the same mirror core as
// the go-fuse backend (see filesystem.go).
type CgoFuseFS struct {
	fuse.FileSystemBase

	tree       *tree.Tree
	reconciler *reconciler.Reconciler
	registry   *registry.Registry
	transport  transport.Client
	config     *Config

	mu         sync.RWMutex
	openFiles  map[uint64]*registry.Handle
	nextHandle uint64
	host       *fuse.FileSystemHost
	mounted    bool
	stats      *Stats
}

// NewCgoFuseFS creates a new cgofuse-based filesystem over the mirror core.
func NewCgoFuseFS(t *tree.Tree, rec *reconciler.Reconciler, reg *registry.Registry, client transport.Client, config *Config) *CgoFuseFS {
	return &CgoFuseFS{
		tree:       t,
		reconciler: rec,
		registry:   reg,
		transport:  client,
		config:     config,
		openFiles:  make(map[uint64]*registry.Handle),
		nextHandle: 1,
		stats:      &Stats{},
	}
}

// Mount mounts the filesystem.
func (f *CgoFuseFS) Mount(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mounted {
		return fmt.Errorf("filesystem already mounted")
	}

	f.host = fuse.NewFileSystemHost(f)

	options := []string{
		"-o", "fsname=objectfs-mirror",
		"-o", "allow_other",
	}
	switch runtime.GOOS {
	case "darwin":
		options = append(options, "-o", "volname=ObjectFS")
	case "windows":
		options = append(options, "-o", "FileSystemName=ObjectFS")
	}

	go func() {
		ret := f.host.Mount(f.config.MountPoint, options)
		if ret != 0 {
			log.Printf("cgofuse mount failed with code: %d", ret)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	f.mounted = true
	log.Printf("ObjectFS mounted at: %s", f.config.MountPoint)
	return nil
}

// Unmount unmounts the filesystem.
func (f *CgoFuseFS) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return fmt.Errorf("filesystem not mounted")
	}
	if f.host != nil {
		if ret := f.host.Unmount(); ret != 0 {
			return fmt.Errorf("unmount failed with code: %d", ret)
		}
	}
	f.mounted = false
	return nil
}

// IsMounted reports whether the filesystem is mounted.
func (f *CgoFuseFS) IsMounted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mounted
}

// GetStats returns filesystem statistics.
func (f *CgoFuseFS) GetStats() *FilesystemStats {
	f.stats.mu.RLock()
	defer f.stats.mu.RUnlock()
	return &FilesystemStats{
		Lookups:      f.stats.Lookups,
		Opens:        f.stats.Opens,
		Reads:        f.stats.Reads,
		Writes:       f.stats.Writes,
		BytesRead:    f.stats.BytesRead,
		BytesWritten: f.stats.BytesWritten,
		CacheHits:    f.stats.CacheHits,
		CacheMisses:  f.stats.CacheMisses,
		Errors:       f.stats.Errors,
	}
}

func cgoErrno(err error) int {
	if err == nil {
		return 0
	}
	oe, ok := err.(*objerrors.ObjectFSError)
	if !ok {
		return -fuse.EIO
	}
	switch oe.Errno() {
	case "ENOENT":
		return -fuse.ENOENT
	case "EAGAIN":
		return -fuse.EAGAIN
	case "ENOSYS":
		return -fuse.ENOSYS
	default:
		return -fuse.EIO
	}
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// Getattr implements spec.md §6's getattr.
func (f *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	f.stats.inc(&f.stats.Lookups)

	e, err := f.tree.LookupPath(cleanPath(path))
	if err != nil {
		return cgoErrno(err)
	}
	if e.IsFolder() {
		stat.Mode = fuse.S_IFDIR | f.config.DefaultMode | 0111
		stat.Nlink = 2
	} else {
		stat.Mode = fuse.S_IFREG | f.config.DefaultMode
		stat.Size = int64(e.Size)
		stat.Nlink = 1
	}
	stat.Uid = f.config.DefaultUID
	stat.Gid = f.config.DefaultGID
	stat.Mtim.Sec = e.Created.Unix()
	return 0
}

// Open implements spec.md §6's open via the registry.
func (f *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	f.stats.inc(&f.stats.Opens)

	mode := registry.ReadOnly
	if flags&(fuse.O_WRONLY|fuse.O_RDWR) != 0 {
		mode = registry.Writable
	}
	h, err := f.registry.Open(context.Background(), cleanPath(path), mode)
	if err != nil {
		f.stats.inc(&f.stats.Errors)
		return cgoErrno(err), 0
	}

	f.mu.Lock()
	handle := f.nextHandle
	f.nextHandle++
	f.openFiles[handle] = h
	f.mu.Unlock()
	return 0, handle
}

// Create implements spec.md §6's create, a LocalOnly registry handle.
func (f *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	f.stats.inc(&f.stats.Opens)

	h, err := f.registry.Create(cleanPath(path))
	if err != nil {
		f.stats.inc(&f.stats.Errors)
		return cgoErrno(err), 0
	}

	f.mu.Lock()
	handle := f.nextHandle
	f.nextHandle++
	f.openFiles[handle] = h
	f.mu.Unlock()
	return 0, handle
}

// Read implements spec.md §6's read.
func (f *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	f.mu.RLock()
	h, ok := f.openFiles[fh]
	f.mu.RUnlock()
	if !ok {
		return -fuse.EBADF
	}

	data, err := f.registry.Read(h, ofst, len(buff))
	if err != nil {
		f.stats.inc(&f.stats.Errors)
		return cgoErrno(err)
	}
	f.stats.add(&f.stats.BytesRead, int64(len(data)))
	f.stats.inc(&f.stats.Reads)
	copy(buff, data)
	return len(data)
}

// Write implements spec.md §6's write.
func (f *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	f.mu.RLock()
	h, ok := f.openFiles[fh]
	f.mu.RUnlock()
	if !ok {
		return -fuse.EBADF
	}

	n, err := f.registry.Write(h, ofst, buff)
	if err != nil {
		f.stats.inc(&f.stats.Errors)
		return cgoErrno(err)
	}
	f.stats.add(&f.stats.BytesWritten, int64(n))
	f.stats.inc(&f.stats.Writes)
	return n
}

// Release implements spec.md §6's release, driving the registry's
// upload-on-release path.
func (f *CgoFuseFS) Release(path string, fh uint64) int {
	f.mu.Lock()
	h, ok := f.openFiles[fh]
	delete(f.openFiles, fh)
	f.mu.Unlock()
	if !ok {
		return -fuse.EBADF
	}

	if err := f.registry.Release(context.Background(), h); err != nil {
		f.stats.inc(&f.stats.Errors)
		return cgoErrno(err)
	}
	return 0
}

// Mkdir implements spec.md §6's mkdir: a transport call followed by a
// forced refresh, never a direct tree mutation.
func (f *CgoFuseFS) Mkdir(path string, mode uint32) int {
	dir, name := splitCgoPath(path)
	parentKey, err := f.tree.PathGetKey(dir)
	if err != nil {
		return cgoErrno(err)
	}
	if _, err := f.transport.FolderCreate(context.Background(), string(parentKey), name); err != nil {
		f.stats.inc(&f.stats.Errors)
		return -fuse.EIO
	}
	if f.reconciler != nil {
		_ = f.reconciler.Refresh(context.Background(), true)
	}
	return 0
}

// Rmdir implements spec.md §6's rmdir.
func (f *CgoFuseFS) Rmdir(path string) int {
	key, err := f.tree.PathGetKey(path)
	if err != nil {
		return cgoErrno(err)
	}
	if err := f.transport.FolderDelete(context.Background(), string(key)); err != nil {
		f.stats.inc(&f.stats.Errors)
		return -fuse.EIO
	}
	if f.reconciler != nil {
		_ = f.reconciler.Refresh(context.Background(), true)
	}
	return 0
}

// Unlink implements spec.md §6's unlink.
func (f *CgoFuseFS) Unlink(path string) int {
	key, err := f.tree.PathGetKey(path)
	if err != nil {
		return cgoErrno(err)
	}
	if err := f.transport.FileDelete(context.Background(), string(key)); err != nil {
		f.stats.inc(&f.stats.Errors)
		return -fuse.EIO
	}
	if f.reconciler != nil {
		_ = f.reconciler.Refresh(context.Background(), true)
	}
	return 0
}

// Rename implements spec.md §6's rename, decomposed per spec.md §5 into
// move and/or rename transport calls.
func (f *CgoFuseFS) Rename(oldpath string, newpath string) int {
	entry, err := f.tree.LookupPath(oldpath)
	if err != nil {
		return cgoErrno(err)
	}
	oldDir, oldName := splitCgoPath(oldpath)
	newDir, newName := splitCgoPath(newpath)

	oldParentKey, err := f.tree.PathGetKey(oldDir)
	if err != nil {
		return cgoErrno(err)
	}
	newParentKey, err := f.tree.PathGetKey(newDir)
	if err != nil {
		return cgoErrno(err)
	}

	ctx := context.Background()
	isFolder := entry.IsFolder()
	key := string(entry.Key)

	if oldParentKey != newParentKey {
		var moveErr error
		if isFolder {
			moveErr = f.transport.FolderMove(ctx, key, string(newParentKey))
		} else {
			moveErr = f.transport.FileMove(ctx, key, string(newParentKey))
		}
		if moveErr != nil {
			f.stats.inc(&f.stats.Errors)
			return -fuse.EIO
		}
	}
	if oldName != newName {
		var renameErr error
		if isFolder {
			renameErr = f.transport.FolderRename(ctx, key, newName)
		} else {
			renameErr = f.transport.FileRename(ctx, key, newName)
		}
		if renameErr != nil {
			f.stats.inc(&f.stats.Errors)
			return -fuse.EIO
		}
	}

	if f.reconciler != nil {
		_ = f.reconciler.Refresh(ctx, true)
	}
	return 0
}

// Readdir implements spec.md §6's readdir from the tree's children list.
func (f *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fill(".", nil, 0)
	fill("..", nil, 0)

	children, err := f.tree.ListChildren(cleanPath(path))
	if err != nil {
		return cgoErrno(err)
	}
	for _, c := range children {
		stat := &fuse.Stat_t{}
		if c.IsFolder() {
			stat.Mode = fuse.S_IFDIR | f.config.DefaultMode | 0111
			stat.Nlink = 2
		} else {
			stat.Mode = fuse.S_IFREG | f.config.DefaultMode
			stat.Size = int64(c.Size)
			stat.Nlink = 1
		}
		if !fill(c.Name, stat, 0) {
			break
		}
	}
	return 0
}

// Access, Flush, Opendir and Releasedir are no-ops that succeed, per
// spec.md §6's mapping.
func (f *CgoFuseFS) Access(path string, mask uint32) int { return 0 }
func (f *CgoFuseFS) Flush(path string, fh uint64) int     { return 0 }
func (f *CgoFuseFS) Opendir(path string) (int, uint64)    { return 0, 0 }
func (f *CgoFuseFS) Releasedir(path string, fh uint64) int { return 0 }

// Readlink, Chmod, Chown, Truncate, Statfs, Fsync and the xattr family are
// not supported by the mirror core, per spec.md §6.
func (f *CgoFuseFS) Readlink(path string) (int, string)                 { return -fuse.ENOSYS, "" }
func (f *CgoFuseFS) Chmod(path string, mode uint32) int                 { return -fuse.ENOSYS }
func (f *CgoFuseFS) Chown(path string, uid, gid uint32) int             { return -fuse.ENOSYS }
func (f *CgoFuseFS) Truncate(path string, size int64, fh uint64) int    { return -fuse.ENOSYS }
func (f *CgoFuseFS) Fsync(path string, datasync bool, fh uint64) int    { return -fuse.ENOSYS }
func (f *CgoFuseFS) Fsyncdir(path string, datasync bool, fh uint64) int { return -fuse.ENOSYS }
func (f *CgoFuseFS) Setxattr(path string, name string, value []byte, flags int) int {
	return -fuse.ENOSYS
}
func (f *CgoFuseFS) Getxattr(path string, name string) (int, []byte) { return -fuse.ENOSYS, nil }
func (f *CgoFuseFS) Listxattr(path string, fill func(name string) bool) int {
	return -fuse.ENOSYS
}
func (f *CgoFuseFS) Removexattr(path string, name string) int { return -fuse.ENOSYS }

func splitCgoPath(path string) (dir, name string) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/", path[idx+1:]
	}
	return path[:idx], path[idx+1:]
}
