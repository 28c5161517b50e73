// Package health runs the reconciler's periodic background refresh and
// tracks the transport's health state, the scheduler's adapted form of the
// original health-checker registry's start/stop ticker loop.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/objectfs/objectfs/internal/obslog"
	pkghealth "github.com/objectfs/objectfs/pkg/health"
)

// Refresher is the subset of *reconciler.Reconciler the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context, expectChanges bool) error
}

// Config controls the background refresh interval.
type Config struct {
	// Interval between background refresh ticks. Zero disables the
	// scheduler (Start becomes a no-op), leaving only the on-demand
	// refreshes triggered by opens, uploads and namespace mutations.
	Interval time.Duration
}

// DefaultConfig returns the scheduler's default refresh cadence.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

// Scheduler periodically calls a reconciler's Refresh and records the
// result against a pkg/health.Tracker, so a stuck or failing remote
// degrades the reported mount health instead of just failing silently in
// the background.
type Scheduler struct {
	mu         sync.Mutex
	config     Config
	refresher  Refresher
	tracker    *pkghealth.Tracker
	started    bool
	stopCh     chan struct{}
}

const componentRemote = "remote"

// NewScheduler creates a scheduler driving refresher on config's interval,
// recording results under the "remote" component of tracker.
func NewScheduler(refresher Refresher, tracker *pkghealth.Tracker, config Config) *Scheduler {
	tracker.RegisterComponent(componentRemote)
	return &Scheduler{
		config:    config,
		refresher: refresher,
		tracker:   tracker,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background refresh loop. A zero Interval makes Start a
// no-op: the mount still refreshes on demand on opens, uploads and
// namespace mutations (lookups do not refresh).
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Interval <= 0 {
		return nil
	}
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	go s.loop(ctx)
	return nil
}

// Stop halts the background refresh loop.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("scheduler not started")
	}
	close(s.stopCh)
	s.started = false
	return nil
}

// IsHealthy reports whether the remote component is not Unavailable.
func (s *Scheduler) IsHealthy() bool {
	return s.tracker.IsHealthy(componentRemote)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.config.Interval)
	defer cancel()

	if err := s.refresher.Refresh(tickCtx, true); err != nil {
		s.tracker.RecordError(componentRemote, err)
		obslog.Err("health", "background_refresh", err)
		return
	}
	s.tracker.RecordSuccess(componentRemote)
}
