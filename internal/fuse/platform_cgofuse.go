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

// Platform-specific filesystem interface
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager creates the cgofuse mount manager.
func CreatePlatformMountManager(t *tree.Tree, rec *reconciler.Reconciler, reg *registry.Registry, client transport.Client, config *MountConfig) PlatformFileSystem {
	return NewCgoFuseMountManager(t, rec, reg, client, config)
}
