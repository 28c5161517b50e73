//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

	"github.com/objectfs/objectfs/internal/reconciler"
	"github.com/objectfs/objectfs/internal/registry"
	"github.com/objectfs/objectfs/internal/transport"
	"github.com/objectfs/objectfs/internal/tree"
)

// CgoFuseMountManager manages cgofuse-based mounts.
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
	config     *MountConfig
}

// NewCgoFuseMountManager creates a new cgofuse mount manager over the mirror
// core.
func NewCgoFuseMountManager(t *tree.Tree, rec *reconciler.Reconciler, reg *registry.Registry, client transport.Client, config *MountConfig) *CgoFuseMountManager {
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

	filesystem := NewCgoFuseFS(t, rec, reg, client, fuseConfig)
	return &CgoFuseMountManager{filesystem: filesystem, config: config}
}

// Mount mounts the filesystem.
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	return m.filesystem.Mount(ctx)
}

// Unmount unmounts the filesystem.
func (m *CgoFuseMountManager) Unmount() error {
	return m.filesystem.Unmount()
}

// IsMounted returns whether the filesystem is mounted.
func (m *CgoFuseMountManager) IsMounted() bool {
	return m.filesystem.IsMounted()
}

// GetStats returns filesystem statistics.
func (m *CgoFuseMountManager) GetStats() *FilesystemStats {
	return m.filesystem.GetStats()
}
