package utils

import "runtime"

// EnableRuntimeProfiling turns on block and mutex contention profiling,
// gated behind objectfs-mount's --memmon flag alongside MemoryMonitor.
func EnableRuntimeProfiling() {
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
}

// DisableRuntimeProfiling reverts EnableRuntimeProfiling.
func DisableRuntimeProfiling() {
	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
}
