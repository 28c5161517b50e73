// Package obslog provides the single structured logger instance shared by
// the mirror core, built on pkg/utils' StructuredLogger. Components log
// through this package instead of constructing their own logger so that one
// Configure call governs all of them.
package obslog

import (
	"os"
	"sync"

	"github.com/objectfs/objectfs/pkg/errors"
	"github.com/objectfs/objectfs/pkg/utils"
)

var (
	mu     sync.RWMutex
	logger = mustDefault()
)

func mustDefault() *utils.StructuredLogger {
	l, err := utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
	if err != nil {
		// DefaultStructuredLoggerConfig never produces an invalid config, so
		// NewStructuredLogger cannot fail here; fall back to stderr text
		// logging rather than panic if that ever changes.
		l, _ = utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
			Level: utils.INFO, Output: os.Stderr, Format: utils.FormatText,
		})
	}
	return l
}

// Configure replaces the shared logger; until it is called, the default
// structured logger is used.
func Configure(cfg *utils.StructuredLoggerConfig) error {
	l, err := utils.NewStructuredLogger(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

func current() *utils.StructuredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component returns a logger scoped to the given component name, matching
// the "component" field pkg/errors.ObjectFSError already carries.
func Component(name string) *utils.StructuredLogger {
	return current().WithComponent(name)
}

// Err logs a MIRROR_* error at Error level with its code and component,
// folding in any path/key detail already attached via WithDetail.
func Err(component, op string, err error) {
	fields := map[string]interface{}{"op": op}
	var objErr *errors.ObjectFSError
	if e, ok := err.(*errors.ObjectFSError); ok {
		objErr = e
	}
	if objErr != nil {
		fields["code"] = string(objErr.Code)
		for k, v := range objErr.Details {
			fields[k] = v
		}
	}
	Component(component).Error(err.Error(), fields)
}
