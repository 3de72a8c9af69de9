package sandbox

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultTimeout      = 1200 * time.Millisecond
	defaultMaxCallStack = 1024
)

// Policy defines the limits applied to a single execution.
type Policy struct {
	Timeout          time.Duration // Wall-clock limit for the whole run
	MaxCallStackSize int           // Maximum JS call depth
}

// DefaultPolicy returns the limits used by the HTTP endpoint.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:          defaultTimeout,
		MaxCallStackSize: defaultMaxCallStack,
	}
}

func (p Policy) normalized() Policy {
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	if p.MaxCallStackSize <= 0 {
		p.MaxCallStackSize = defaultMaxCallStack
	}
	return p
}

// TimeoutMessage is the error string reported when a run exceeds p.Timeout.
func (p Policy) TimeoutMessage() string {
	return fmt.Sprintf("%s%dms", timeoutPrefix, p.normalized().Timeout.Milliseconds())
}

const timeoutPrefix = "Error: Script execution timed out after "

// IsTimeoutMessage reports whether msg is a timeout error produced by any
// policy.
func IsTimeoutMessage(msg string) bool {
	return strings.HasPrefix(msg, timeoutPrefix)
}

// Limits are the OS-level limits applied to a worker process.
type Limits struct {
	MemoryMB   int `json:"memory_mb,omitempty"`
	CPUSeconds int `json:"cpu_seconds,omitempty"`
}

// DefaultLimits returns the worker limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MemoryMB:   256,
		CPUSeconds: 2,
	}
}
