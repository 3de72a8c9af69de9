//go:build !linux && !darwin

package sandbox

import (
	"runtime"
	"runtime/debug"
)

func applyLimits(l Limits) {
	if l == (Limits{}) {
		return
	}
	runtime.GOMAXPROCS(1)
	if l.MemoryMB > 0 {
		debug.SetMemoryLimit(int64(l.MemoryMB) << 20)
	}
}
