// Package obsmetrics provides the single internal/metrics.Collector instance
// shared by the mirror core, so the reconciler and the content cache can
// record operation/cache metrics without each constructing and registering
// its own Prometheus collector.
package obsmetrics

import (
	"sync"
	"time"

	"github.com/objectfs/objectfs/internal/metrics"
)

var (
	mu        sync.RWMutex
	collector *metrics.Collector
)

// Configure installs the shared collector. Until it is called the collector
// is nil and every Record* call is a no-op; starting and stopping the
// collector's HTTP endpoint is left to the caller.
func Configure(c *metrics.Collector) {
	mu.Lock()
	collector = c
	mu.Unlock()
}

func current() *metrics.Collector {
	mu.RLock()
	defer mu.RUnlock()
	return collector
}

// RecordOperation records an operation's duration, payload size and outcome.
// A nil shared collector (metrics disabled) makes this a no-op.
func RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if c := current(); c != nil {
		c.RecordOperation(operation, duration, size, success)
	}
}

// RecordCacheHit records a content-cache hit for key.
func RecordCacheHit(key string, size int64) {
	if c := current(); c != nil {
		c.RecordCacheHit(key, size)
	}
}

// RecordCacheMiss records a content-cache miss for key.
func RecordCacheMiss(key string, size int64) {
	if c := current(); c != nil {
		c.RecordCacheMiss(key, size)
	}
}
