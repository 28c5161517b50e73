package utils

import (
	"runtime"
	"testing"
)

func TestEnableDisableRuntimeProfiling(t *testing.T) {
	EnableRuntimeProfiling()
	if rate := runtime.SetMutexProfileFraction(-1); rate <= 0 {
		t.Errorf("expected mutex profiling enabled, got fraction %d", rate)
	}

	DisableRuntimeProfiling()
	if rate := runtime.SetMutexProfileFraction(-1); rate != 0 {
		t.Errorf("expected mutex profiling disabled, got fraction %d", rate)
	}
}
