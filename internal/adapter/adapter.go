// Package adapter is the composition root wiring the mirror core (tree,
// reconciler, content cache, open-file registry) to a concrete transport.Client
// and a platform FUSE mount.
package adapter

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/objectfs/objectfs/internal/config"
	"github.com/objectfs/objectfs/internal/contentcache"
	"github.com/objectfs/objectfs/internal/fuse"
	"github.com/objectfs/objectfs/internal/health"
	"github.com/objectfs/objectfs/internal/reconciler"
	"github.com/objectfs/objectfs/internal/registry"
	"github.com/objectfs/objectfs/internal/storage/s3"
	"github.com/objectfs/objectfs/internal/transport"
	"github.com/objectfs/objectfs/internal/transport/resilient"
	"github.com/objectfs/objectfs/internal/transport/s3transport"
	"github.com/objectfs/objectfs/internal/tree"
	"github.com/objectfs/objectfs/pkg/api"
	pkghealth "github.com/objectfs/objectfs/pkg/health"
	"github.com/objectfs/objectfs/pkg/recovery"
	"github.com/objectfs/objectfs/pkg/status"
)

// Adapter wires a concrete remote (currently S3-backed) to the mirror core
// and a FUSE mount.
type Adapter struct {
	storageURI string
	mountPoint string
	config     *config.Configuration

	backend    *s3.Backend
	transport  transport.Client
	tree       *tree.Tree
	reconciler *reconciler.Reconciler
	cache      *contentcache.Cache
	registry   *registry.Registry
	mountMgr   fuse.PlatformFileSystem
	health     *pkghealth.Tracker
	scheduler  *health.Scheduler
	apiServer  *api.Server
	conn       *recovery.ConnectionManager

	started      bool
	bucketName   string
	s3Config     *s3.Config
	snapshotPath string
}

// New creates a new adapter instance bound to storageURI (an s3:// URI
// naming the bucket that stands in for the remote) and mountPoint.
func New(ctx context.Context, storageURI, mountPoint string, cfg *config.Configuration) (*Adapter, error) {
	if err := validateStorageURI(storageURI); err != nil {
		return nil, fmt.Errorf("invalid storage URI: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	parsed, err := url.Parse(storageURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse storage URI: %w", err)
	}
	bucketName := parsed.Host
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	return &Adapter{
		storageURI: storageURI,
		mountPoint: mountPoint,
		config:     cfg,
		bucketName: bucketName,
	}, nil
}

// Start builds the mirror core over a fresh S3-backed transport, performs
// the initial full rebuild, and mounts the filesystem.
func (a *Adapter) Start(ctx context.Context) error {
	if a.started {
		return fmt.Errorf("adapter already started")
	}

	log.Printf("Starting mirror adapter...")
	log.Printf("Storage URI: %s", a.storageURI)
	log.Printf("Mount Point: %s", a.mountPoint)

	var err error
	a.s3Config = &s3.Config{
		Region:                      a.config.S3.Region,
		Endpoint:                    a.config.S3.Endpoint,
		EnableCargoShipOptimization: true,
	}
	a.conn = recovery.NewConnectionManager(
		"s3-backend",
		recovery.DefaultConnectionConfig(),
		func(ctx context.Context) (interface{}, error) {
			return s3.NewBackend(ctx, a.bucketName, a.s3Config)
		},
		func(ctx context.Context, conn interface{}) error {
			return conn.(*s3.Backend).HealthCheck(ctx)
		},
	)
	if err := a.conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	rawConn, err := a.conn.GetConnection()
	if err != nil {
		return fmt.Errorf("failed to obtain S3 backend connection: %w", err)
	}
	a.backend = rawConn.(*s3.Backend)

	rawTransport, err := s3transport.New(ctx, a.backend)
	if err != nil {
		return fmt.Errorf("failed to initialize transport: %w", err)
	}
	a.transport = resilient.New(rawTransport, a.bucketName, resilient.DefaultConfig())

	cacheDir := a.config.Cache.PersistentCache.Directory
	if cacheDir == "" {
		cacheDir = "/var/cache/objectfs"
	}
	if err := os.MkdirAll(cacheDir, 0750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	a.snapshotPath = filepath.Join(cacheDir, "tree.snapshot")

	a.tree = tree.New()
	a.reconciler = reconciler.New(a.tree, a.transport, nil)
	if err := a.loadOrRebuildTree(ctx); err != nil {
		return fmt.Errorf("failed initial tree rebuild: %w", err)
	}

	a.cache, err = contentcache.New(contentcache.Config{Directory: cacheDir}, a.transport)
	if err != nil {
		return fmt.Errorf("failed to initialize content cache: %w", err)
	}
	a.reconciler = reconciler.New(a.tree, a.transport, a.cache)

	stagingDir := cacheDir + "/staging"
	a.registry, err = registry.New(a.tree, a.reconciler, a.cache, a.transport, registry.Config{
		StagingDir:       stagingDir,
		MinRefreshPeriod: a.config.Cache.TTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize open-file registry: %w", err)
	}

	mountConfig := &fuse.MountConfig{
		MountPoint: a.mountPoint,
		Options: &fuse.MountOptions{
			FSName:   "objectfs",
			Subtype:  "mirror",
			MaxRead:  128 * 1024,
			MaxWrite: 128 * 1024,
			Debug:    false,
		},
	}
	a.mountMgr = fuse.CreatePlatformMountManager(a.tree, a.reconciler, a.registry, a.transport, mountConfig)

	if err := a.mountMgr.Mount(ctx); err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	a.health = pkghealth.NewTracker(pkghealth.DefaultConfig())
	a.scheduler = health.NewScheduler(a.reconciler, a.health, health.DefaultConfig())
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start background refresh: %w", err)
	}

	if a.config.Global.HealthPort > 0 {
		statusTracker := status.NewTracker(status.TrackerConfig{HealthTracker: a.health})
		apiConfig := api.DefaultServerConfig()
		apiConfig.Address = fmt.Sprintf(":%d", a.config.Global.HealthPort)
		a.apiServer = api.NewServer(apiConfig, statusTracker, a.health)
		a.apiServer.StartBackground()
	}

	a.started = true
	log.Printf("mirror adapter started successfully")
	return nil
}

// loadOrRebuildTree warm-starts the tree from a snapshot left by a previous
// Stop, falling back to a full remote walk when none exists or it fails to
// load (Reconciler.LoadSnapshot itself falls back to FullRebuild when
// tree.Load rejects a corrupt or unreadable snapshot; this only needs to
// handle "no snapshot yet").
func (a *Adapter) loadOrRebuildTree(ctx context.Context) error {
	f, err := os.Open(a.snapshotPath)
	if err != nil {
		return a.reconciler.FullRebuild(ctx)
	}
	defer f.Close()
	return a.reconciler.LoadSnapshot(ctx, f)
}

// saveSnapshot persists the current tree to snapshotPath so the next Start
// can warm-start instead of doing a full remote walk.
func (a *Adapter) saveSnapshot() error {
	tmp := a.snapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := a.reconciler.SaveSnapshot(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, a.snapshotPath)
}

// Stop unmounts the filesystem and releases the backend connection.
func (a *Adapter) Stop(ctx context.Context) error {
	if !a.started {
		return fmt.Errorf("adapter not started")
	}

	log.Printf("Stopping mirror adapter...")
	var lastErr error

	if a.reconciler != nil && a.snapshotPath != "" {
		if err := a.saveSnapshot(); err != nil {
			log.Printf("Error saving tree snapshot: %v", err)
			lastErr = err
		}
	}

	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
			lastErr = err
		}
	}

	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil {
			log.Printf("Error stopping background refresh: %v", err)
			lastErr = err
		}
	}

	if a.mountMgr != nil && a.mountMgr.IsMounted() {
		if err := a.mountMgr.Unmount(); err != nil {
			log.Printf("Error unmounting filesystem: %v", err)
			lastErr = err
		}
	}

	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			log.Printf("Error closing backend connection manager: %v", err)
			lastErr = err
		}
	} else if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			log.Printf("Error closing backend: %v", err)
			lastErr = err
		}
	}

	a.started = false
	log.Printf("mirror adapter stopped successfully")
	return lastErr
}

// validateStorageURI validates the storage URI format.
func validateStorageURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("failed to parse URI: %w", err)
	}
	switch parsed.Scheme {
	case "s3":
		if parsed.Host == "" {
			return fmt.Errorf("S3 URI must include bucket name")
		}
	default:
		return fmt.Errorf("unsupported storage scheme: %s (only s3:// supported)", parsed.Scheme)
	}
	return nil
}

// parseSize parses a human-readable size string (e.g., "2GB", "512MB") to bytes.
func parseSize(sizeStr string) int64 {
	sizeStr = strings.ToUpper(strings.TrimSpace(sizeStr))

	var multiplier int64 = 1
	var numStr string
	switch {
	case strings.HasSuffix(sizeStr, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(sizeStr, "GB")
	case strings.HasSuffix(sizeStr, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(sizeStr, "MB")
	case strings.HasSuffix(sizeStr, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(sizeStr, "KB")
	case strings.HasSuffix(sizeStr, "B"):
		multiplier = 1
		numStr = strings.TrimSuffix(sizeStr, "B")
	default:
		numStr = sizeStr
	}

	var num int64 = 1024 * 1024 * 1024
	if numStr != "" {
		if parsed, err := fmt.Sscanf(numStr, "%d", &num); err != nil || parsed != 1 {
			return 1024 * 1024 * 1024
		}
	}
	return num * multiplier
}
