package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, code string) *Outcome {
	t.Helper()
	e := NewEngine(Policy{Timeout: 500 * time.Millisecond})
	return e.Run(context.Background(), Request{Code: code})
}

func TestEngineResults(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"string passes through", `return "hi"`, "hi"},
		{"empty string", `return ""`, ""},
		{"number", `return 1+1`, "2"},
		{"object", `return {a: 1}`, `{"a":1}`},
		{"array", `return [1, "x"]`, `[1,"x"]`},
		{"null", `return null`, "null"},
		{"boolean", `return true`, "true"},
		{"no return", `var x = 1;`, "undefined"},
		{"circular falls back to String", `var o = {}; o.self = o; return o`, "[object Object]"},
		{"symbol falls back to String", `return Symbol("s")`, "Symbol(s)"},
		{"function falls back to String", `return function () {}`, "function () {}"},
		{"undefined", `return undefined`, "undefined"},
		{"toJSON is honoured", `return {toJSON: function () { return "custom" }}`, `"custom"`},
		{"trailing line comment", "return 3 // done", "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, tt.code)
			require.False(t, out.Failed, "unexpected error: %s", out.Error)
			assert.Equal(t, tt.want, out.Result)
			assert.Empty(t, out.Logs)
		})
	}
}

func TestEngineConsoleLog(t *testing.T) {
	out := run(t, `console.log(1, 2); console.log("a", {b: 1}); console.log(null); return "x"`)
	require.False(t, out.Failed)
	assert.Equal(t, "x", out.Result)
	assert.Equal(t, []string{"1 2", `"a" {"b":1}`, "null"}, out.Logs)
}

func TestEngineConsoleLogWithoutJSONText(t *testing.T) {
	out := run(t, `console.log(undefined); console.log(function () {}, 1); console.log(Symbol("s")); console.log(); return 0`)
	require.False(t, out.Failed, out.Error)
	assert.Equal(t, []string{"", " 1", "", ""}, out.Logs)
}

func TestEngineConsoleLogCircular(t *testing.T) {
	out := run(t, `var o = {}; o.o = o; console.log(o, 1); return 0`)
	require.False(t, out.Failed)
	assert.Equal(t, []string{"[object Object] 1"}, out.Logs)
}

func TestEngineConsoleError(t *testing.T) {
	out := run(t, `console.error("bad", 1, null, undefined); console.error({a: 1}); return 0`)
	require.False(t, out.Failed)
	assert.Equal(t, []string{"[ERROR] bad 1  ", "[ERROR] [object Object]"}, out.Logs)
}

func TestEngineThrow(t *testing.T) {
	out := run(t, `throw new Error("boom")`)
	require.True(t, out.Failed)
	assert.Equal(t, "Error: boom", out.Error)
	assert.Empty(t, out.Result)

	out = run(t, `throw "plain"`)
	require.True(t, out.Failed)
	assert.Equal(t, "plain", out.Error)

	out = run(t, `null.x`)
	require.True(t, out.Failed)
	assert.Contains(t, out.Error, "TypeError")
}

func TestEngineLogsSurviveFailure(t *testing.T) {
	out := run(t, `console.log("a"); console.error("b"); throw new Error("x")`)
	require.True(t, out.Failed)
	assert.Equal(t, "Error: x", out.Error)
	assert.Equal(t, []string{`"a"`, "[ERROR] b"}, out.Logs)
}

func TestEngineSyntaxError(t *testing.T) {
	out := run(t, `console.log("never"); return (`)
	require.True(t, out.Failed)
	assert.True(t, strings.HasPrefix(out.Error, "SyntaxError: "), out.Error)
	assert.Equal(t, 1, strings.Count(out.Error, "SyntaxError"), out.Error)
	assert.Contains(t, out.Error, scriptName)
	assert.Empty(t, out.Logs)
}

func TestEngineNoDynamicCode(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"eval", `eval("1")`},
		{"Function", `Function("return 1")()`},
		{"new Function", `new Function("return 1")()`},
		{"function constructor", `(function () {}).constructor("return 1")()`},
		{"generator constructor", `(function* () {}).constructor("yield 1")`},
		{"async constructor", `(async function () {}).constructor("return 1")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := fmt.Sprintf(`try { %s; return "ran" } catch (e) { return e.name }`, tt.code)
			out := run(t, code)
			require.False(t, out.Failed, out.Error)
			assert.Equal(t, "EvalError", out.Result)
		})
	}
}

func TestEngineCapabilitySet(t *testing.T) {
	out := run(t, `return [typeof WebAssembly, typeof require, typeof process, typeof console.log, typeof console.warn]`)
	require.False(t, out.Failed, out.Error)
	assert.Equal(t, `["undefined","undefined","undefined","function","undefined"]`, out.Result)

	out = run(t, `return (function () {}) instanceof Function && [] instanceof Object`)
	require.False(t, out.Failed, out.Error)
	assert.Equal(t, "true", out.Result)
}

func TestEngineTimeout(t *testing.T) {
	e := NewEngine(Policy{Timeout: 100 * time.Millisecond})

	start := time.Now()
	out := e.Run(context.Background(), Request{Code: `console.log("start"); while (true) {}`})

	assert.Less(t, time.Since(start), 2*time.Second)
	require.True(t, out.Failed)
	assert.True(t, out.TimedOut)
	assert.Equal(t, "Error: Script execution timed out after 100ms", out.Error)
	assert.Equal(t, []string{`"start"`}, out.Logs)
	assert.Equal(t, "timed_out", out.Status())
}

func TestEngineTimeoutIsUncatchable(t *testing.T) {
	e := NewEngine(Policy{Timeout: 100 * time.Millisecond})
	out := e.Run(context.Background(), Request{Code: `while (true) { try { for (;;) {} } catch (e) {} }`})
	require.True(t, out.Failed)
	assert.True(t, out.TimedOut)
}

func TestEngineCancel(t *testing.T) {
	e := NewEngine(Policy{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := e.Run(ctx, Request{Code: `while (true) {}`})
	require.True(t, out.Failed)
	assert.False(t, out.TimedOut)
	assert.Equal(t, "Error: Script execution cancelled", out.Error)
}

func TestEngineStackOverflow(t *testing.T) {
	out := run(t, `console.log("deep"); function f() { return f() } return f()`)
	require.True(t, out.Failed)
	assert.False(t, out.TimedOut)
	assert.Equal(t, "RangeError: Maximum call stack size exceeded", out.Error)
	assert.Equal(t, []string{`"deep"`}, out.Logs)
}

func TestEngineUnprintableValues(t *testing.T) {
	// String conversion of a thrown value that itself throws.
	out := run(t, `throw {toString: function () { throw new Error("nope") }}`)
	require.True(t, out.Failed)
	assert.Equal(t, unprintableError, out.Error)

	// A result that can be neither serialized nor converted fails the run.
	out = run(t, `return {toJSON: function () { throw 1 }, toString: function () { throw new Error("inner") }}`)
	require.True(t, out.Failed)
	assert.Equal(t, "Error: inner", out.Error)

	// The same value passed to console.log throws back into the program.
	out = run(t, `
		var o = {toJSON: function () { throw 1 }, toString: function () { throw new Error("inner") }};
		try { console.log(o) } catch (e) { return "caught " + e.message }
	`)
	require.False(t, out.Failed, out.Error)
	assert.Equal(t, "caught inner", out.Result)
}

func TestEngineStreamsLogs(t *testing.T) {
	var streamed []string
	e := NewEngine(DefaultPolicy())
	out := e.Run(context.Background(), Request{
		Code:  `console.log(1); console.error(2); return "done"`,
		OnLog: func(entry string) { streamed = append(streamed, entry) },
	})
	require.False(t, out.Failed)
	assert.Equal(t, []string{"1", "[ERROR] 2"}, streamed)
	assert.Equal(t, out.Logs, streamed)
}

func TestEngineRunsAreIsolated(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	ctx := context.Background()

	out := e.Run(ctx, Request{Code: `globalThis.leak = 1; Object.prototype.polluted = true; return "set"`})
	require.False(t, out.Failed, out.Error)

	out = e.Run(ctx, Request{Code: `return [typeof leak, typeof ({}).polluted]`})
	require.False(t, out.Failed, out.Error)
	assert.Equal(t, `["undefined","undefined"]`, out.Result)
}

func TestEngineConcurrentRuns(t *testing.T) {
	e := NewEngine(DefaultPolicy())

	var wg sync.WaitGroup
	results := make([]*Outcome, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := fmt.Sprintf(`console.log(%d); return %d * 2`, i, i)
			results[i] = e.Run(context.Background(), Request{Code: code})
		}(i)
	}
	wg.Wait()

	for i, out := range results {
		require.False(t, out.Failed, out.Error)
		assert.Equal(t, fmt.Sprint(i*2), out.Result)
		assert.Equal(t, []string{fmt.Sprint(i)}, out.Logs)
	}
}

func TestOutcomeJSON(t *testing.T) {
	data, err := json.Marshal(Succeeded("hi", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"hi","logs":[]}`, string(data))

	data, err = json.Marshal(Failed("Error: x", []string{"a"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Error: x","logs":["a"]}`, string(data))
	assert.NotContains(t, string(data), "result")

	var out Outcome
	require.NoError(t, json.Unmarshal([]byte(`{"error":"","logs":null}`), &out))
	assert.True(t, out.Failed)
	assert.Equal(t, []string{}, out.Logs)
}

func TestPolicyTimeoutMessage(t *testing.T) {
	assert.Equal(t, "Error: Script execution timed out after 1200ms", DefaultPolicy().TimeoutMessage())
	assert.True(t, strings.HasSuffix(Policy{}.TimeoutMessage(), "1200ms"))
	assert.True(t, IsTimeoutMessage(Policy{Timeout: 5 * time.Millisecond}.TimeoutMessage()))
	assert.False(t, IsTimeoutMessage("Error: boom"))
}
