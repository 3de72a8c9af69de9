package sandbox

import "context"

// Request is one program submitted for execution.
type Request struct {
	Code string

	// OnLog, if set, receives every console entry as soon as it is captured.
	// It is called from the goroutine running the program.
	OnLog func(entry string)
}

// Sandbox runs untrusted JavaScript in an isolated environment.
//
// Run never returns a Go error: anything that goes wrong while executing the
// submitted code is reported through the Outcome.
type Sandbox interface {
	Run(ctx context.Context, req Request) *Outcome
}
