package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultGrace  = 500 * time.Millisecond
	maxFrameBytes = 16 << 20
	maxStderrTail = 512
)

// ProcessSandbox runs each request in a short-lived worker process speaking
// newline-delimited JSON frames on stdout. The worker enforces the policy
// itself; the parent kills it if it overruns the timeout plus Grace.
type ProcessSandbox struct {
	Policy Policy
	Limits Limits

	// Command is the worker argv. Defaults to the running executable with
	// the "worker" subcommand.
	Command []string
	// Env is appended to the parent's environment.
	Env   []string
	Grace time.Duration
}

// NewProcessSandbox creates a sandbox backed by worker processes.
func NewProcessSandbox(policy Policy, limits Limits) *ProcessSandbox {
	return &ProcessSandbox{
		Policy: policy.normalized(),
		Limits: limits,
		Grace:  defaultGrace,
	}
}

// workerRequest is the single JSON document a worker reads from stdin.
type workerRequest struct {
	Code         string `json:"code"`
	TimeoutMS    int64  `json:"timeout_ms"`
	MaxCallStack int    `json:"max_call_stack"`
	Limits       Limits `json:"limits"`
}

// frame is one line of worker output.
type frame struct {
	Type     string   `json:"type"` // "log" or "outcome"
	Entry    string   `json:"entry,omitempty"`
	Outcome  *Outcome `json:"outcome,omitempty"`
	TimedOut bool     `json:"timed_out,omitempty"`
}

func (p *ProcessSandbox) command() ([]string, error) {
	if len(p.Command) > 0 {
		return p.Command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	return []string{exe, "worker"}, nil
}

func (p *ProcessSandbox) Run(ctx context.Context, req Request) *Outcome {
	start := time.Now()
	policy := p.Policy.normalized()
	grace := p.Grace
	if grace <= 0 {
		grace = defaultGrace
	}

	out := p.run(ctx, policy, grace, req)
	out.Duration = time.Since(start)
	return out
}

func (p *ProcessSandbox) run(ctx context.Context, policy Policy, grace time.Duration, req Request) *Outcome {
	argv, err := p.command()
	if err != nil {
		return Failed("Error: "+err.Error(), nil)
	}

	payload, err := json.Marshal(workerRequest{
		Code:         req.Code,
		TimeoutMS:    policy.Timeout.Milliseconds(),
		MaxCallStack: policy.MaxCallStackSize,
		Limits:       p.Limits,
	})
	if err != nil {
		return Failed("Error: encoding worker request: "+err.Error(), nil)
	}

	runCtx, cancel := context.WithTimeout(ctx, policy.Timeout+grace)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Stdin = bytes.NewReader(payload)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Failed("Error: creating worker pipe: "+err.Error(), nil)
	}
	if err := cmd.Start(); err != nil {
		return Failed("Error: starting worker: "+err.Error(), nil)
	}

	var logs []string
	var final *Outcome
	var timedOut bool

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		var fr frame
		if err := json.Unmarshal(scanner.Bytes(), &fr); err != nil {
			continue
		}
		switch fr.Type {
		case "log":
			logs = append(logs, fr.Entry)
			if req.OnLog != nil {
				req.OnLog(fr.Entry)
			}
		case "outcome":
			final = fr.Outcome
			timedOut = fr.TimedOut
		}
	}

	waitErr := cmd.Wait()

	if final == nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			out := Failed(policy.TimeoutMessage(), logs)
			out.TimedOut = true
			return out
		}
		if ctx.Err() != nil {
			return Failed("Error: Script execution cancelled", logs)
		}
		return Failed(workerFailure(waitErr, stderr.String()), logs)
	}

	// Streamed entries survive even if the final frame was cut short.
	final.Logs = nonNil(logs)
	final.TimedOut = timedOut
	return final
}

func workerFailure(waitErr error, stderr string) string {
	msg := "Error: worker exited without a result"
	if waitErr != nil {
		msg += ": " + waitErr.Error()
	}
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > maxStderrTail {
		stderr = stderr[len(stderr)-maxStderrTail:]
	}
	if stderr != "" {
		msg += " (" + stderr + ")"
	}
	return msg
}
