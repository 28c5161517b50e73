/*
Package fuse provides the cross-platform FUSE filesystem surface for a
revision-mirrored remote filesystem: a local in-memory directory tree, an
open-file registry and a reconciler stand in for the remote itself, and this
package is the only layer that talks to the kernel.

# Architecture

	User Applications (ls, cat, cp, vim, ...)
	          |
	Kernel VFS / POSIX system calls
	          |
	FUSE driver (platform-specific)
	          |
	This package: DirectoryNode / FileNode / FileHandle (go-fuse)
	           or CgoFuseFS (winfsp/cgofuse)
	          |
	internal/tree, internal/registry, internal/reconciler
	          |
	internal/transport.Client (the remote)

# Platform support

Two backends selected by build tag, mirroring how the rest of this module
splits platform concerns:

  - Default build: github.com/hanwen/go-fuse/v2's Inode-tree API (filesystem.go).
  - cgofuse build tag: github.com/winfsp/cgofuse's path-based API
    (cgofuse_filesystem.go), for platforms without a native go-fuse mount.

# Operation coverage

getattr, lookup, readdir, mkdir, rmdir, unlink, rename, open, create, read,
write and release are fully implemented against the mirror core. mkdir,
rmdir, unlink and rename never mutate the tree directly: each issues its
transport call and then forces a reconciler refresh, so the tree only ever
reflects what the remote has acknowledged.

flush, access, opendir and releasedir are no-ops that succeed. readlink,
chmod/chown/truncate/utimens (Setattr), statfs, fsync/fsyncdir and the xattr
family are not supported and return ENOSYS -- the remote this mirrors has no
equivalent operations for any of them.
*/
package fuse
