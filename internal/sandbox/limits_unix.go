//go:build linux || darwin

package sandbox

import (
	"runtime"
	"runtime/debug"
	"syscall"
)

// applyLimits is best effort: an environment that forbids setrlimit still
// has the parent's hard kill.
func applyLimits(l Limits) {
	if l == (Limits{}) {
		return
	}
	runtime.GOMAXPROCS(1)
	if l.CPUSeconds > 0 {
		secs := uint64(l.CPUSeconds)
		_ = syscall.Setrlimit(syscall.RLIMIT_CPU, &syscall.Rlimit{Cur: secs, Max: secs})
	}
	if l.MemoryMB > 0 {
		debug.SetMemoryLimit(int64(l.MemoryMB) << 20)
	}
}
