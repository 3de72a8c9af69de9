package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

const (
	scriptName = "run_js"

	// interruptRetry is how often the watchdog re-arms an interrupt once the
	// deadline has passed.
	interruptRetry = 50 * time.Millisecond

	unprintableError   = "Error: uncaught exception with an unprintable value"
	stackOverflowError = "RangeError: Maximum call stack size exceeded"
)

var (
	errTimedOut = errors.New("timed out")
	errCanceled = errors.New("canceled")
)

// Engine runs each request in a fresh goja runtime inside the current process.
type Engine struct {
	Policy Policy
}

// NewEngine creates an in-process sandbox with the given policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{Policy: policy.normalized()}
}

// Run executes req.Code as the body of an immediately-invoked function.
func (e *Engine) Run(ctx context.Context, req Request) *Outcome {
	start := time.Now()
	policy := e.Policy.normalized()

	vm := goja.New()
	vm.SetMaxCallStackSize(policy.MaxCallStackSize)

	w := watch(ctx, vm, policy.Timeout)
	out := e.execute(vm, policy, req)
	w.stop()

	out.Duration = time.Since(start)
	return out
}

func (e *Engine) execute(vm *goja.Runtime, policy Policy, req Request) (out *Outcome) {
	c := &console{onLog: req.OnLog}

	defer func() {
		if r := recover(); r != nil {
			out = Failed(fmt.Sprintf("Error: %v", r), c.logs)
		}
	}()

	if err := harden(vm); err != nil {
		return Failed("Error: sandbox setup failed: "+err.Error(), nil)
	}
	f, err := newFormatter(vm)
	if err != nil {
		return Failed("Error: sandbox setup failed: "+err.Error(), nil)
	}
	c.f = f
	if err := c.install(vm); err != nil {
		return Failed("Error: sandbox setup failed: "+err.Error(), nil)
	}

	prg, err := goja.Compile(scriptName, wrap(req.Code), false)
	if err != nil {
		return Failed(describe(f, policy, err), c.logs)
	}

	v, err := vm.RunProgram(prg)
	if err == nil {
		var result string
		if result, err = f.result(v); err == nil {
			return Succeeded(result, c.logs)
		}
	}

	out = Failed(describe(f, policy, err), c.logs)
	out.TimedOut = isTimeout(err)
	return out
}

// wrap turns the submitted code into a function body so a top-level return
// is legal. The newline keeps a trailing line comment from eating the brace.
func wrap(code string) string {
	return "(function(){ " + code + "\n})()"
}

// describe renders an execution error the way String(err) would.
func describe(f *formatter, policy Policy, err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if interrupted.Value() == errCanceled {
			return "Error: Script execution cancelled"
		}
		return policy.TimeoutMessage()
	}

	// Compile errors already carry their SyntaxError or ReferenceError prefix.
	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		return syntaxErr.Error()
	}
	var refErr *goja.CompilerReferenceError
	if errors.As(err, &refErr) {
		return refErr.Error()
	}

	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return stackOverflowError
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		if ex.Value() == nil {
			return unprintableError
		}
		s, convErr := f.plain(ex.Value())
		if convErr != nil {
			if isTimeout(convErr) {
				return policy.TimeoutMessage()
			}
			return unprintableError
		}
		return s
	}

	return "Error: " + err.Error()
}

func isTimeout(err error) bool {
	var interrupted *goja.InterruptedError
	return errors.As(err, &interrupted) && interrupted.Value() == errTimedOut
}

// watchdog interrupts a runtime when the deadline passes or ctx is done.
type watchdog struct {
	done chan struct{}
}

func watch(ctx context.Context, vm *goja.Runtime, timeout time.Duration) *watchdog {
	w := &watchdog{done: make(chan struct{})}
	go w.loop(ctx, vm, timeout)
	return w
}

func (w *watchdog) loop(ctx context.Context, vm *goja.Runtime, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var reason error
	select {
	case <-w.done:
		return
	case <-timer.C:
		reason = errTimedOut
	case <-ctx.Done():
		reason = errCanceled
	}

	// A JS callback invoked from Go (toString, toJSON) can absorb a single
	// interrupt, so keep re-arming until the run returns.
	tick := time.NewTicker(interruptRetry)
	defer tick.Stop()
	for {
		vm.Interrupt(reason)
		select {
		case <-w.done:
			return
		case <-tick.C:
		}
	}
}

func (w *watchdog) stop() {
	close(w.done)
}
