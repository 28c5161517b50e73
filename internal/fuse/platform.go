//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"

	"github.com/objectfs/objectfs/internal/reconciler"
	"github.com/objectfs/objectfs/internal/registry"
	"github.com/objectfs/objectfs/internal/transport"
	"github.com/objectfs/objectfs/internal/tree"
)

// Platform-specific filesystem interface
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

type platformMountManager struct {
	*MountManager
}

func (p *platformMountManager) Mount(ctx context.Context) error {
	return p.MountManager.Mount(ctx)
}

func (p *platformMountManager) Unmount() error {
	return p.MountManager.Unmount()
}

// CreatePlatformMountManager creates the appropriate mount manager for the
// platform: the go-fuse/v2 Inode-tree backend, dispatching against the
// mirror core rather than a direct S3 backend.
func CreatePlatformMountManager(t *tree.Tree, rec *reconciler.Reconciler, reg *registry.Registry, client transport.Client, config *MountConfig) PlatformFileSystem {
	fuseConfig := &Config{
		MountPoint:  config.MountPoint,
		ReadOnly:    config.Options != nil && config.Options.ReadOnly,
		DefaultUID:  1000,
		DefaultGID:  1000,
		DefaultMode: 0644,
	}
	if config.Permissions != nil {
		fuseConfig.DefaultUID = config.Permissions.UID
		fuseConfig.DefaultGID = config.Permissions.GID
		if config.Permissions.FileMode != 0 {
			fuseConfig.DefaultMode = config.Permissions.FileMode
		}
	}

	filesystem := NewFileSystem(t, rec, reg, client, fuseConfig)
	return &platformMountManager{MountManager: NewMountManager(filesystem, config)}
}
