package sandbox

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

const maxWorkerInput = 2 << 20

// ServeWorker is the entry point of a worker process: it reads one request
// from in, applies the OS limits, runs it, and writes log and outcome frames
// to out. It returns the process exit code.
func ServeWorker(in io.Reader, out io.Writer) int {
	enc := json.NewEncoder(out)

	var req workerRequest
	if err := json.NewDecoder(io.LimitReader(in, maxWorkerInput)).Decode(&req); err != nil {
		enc.Encode(frame{Type: "outcome", Outcome: Failed("Error: invalid worker request: "+err.Error(), nil)})
		return 1
	}

	applyLimits(req.Limits)

	engine := NewEngine(Policy{
		Timeout:          time.Duration(req.TimeoutMS) * time.Millisecond,
		MaxCallStackSize: req.MaxCallStack,
	})
	outcome := engine.Run(context.Background(), Request{
		Code: req.Code,
		OnLog: func(entry string) {
			enc.Encode(frame{Type: "log", Entry: entry})
		},
	})

	if err := enc.Encode(frame{Type: "outcome", Outcome: outcome, TimedOut: outcome.TimedOut}); err != nil {
		return 1
	}
	return 0
}
