package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
)

// Handle is a leased runtime from a Pool. Callers must call Release
// exactly once when done.
type Handle struct {
	pool   *Pool
	rt     *goja.Runtime
	broken bool
}

// WithContext registers host functions on the underlying runtime before
// Execute is called. A panic or error from fn marks the runtime for
// replacement on Release rather than returning it to the pool, since a
// host callback that panicked may have left the runtime's global object
// in an inconsistent state.
func (h *Handle) WithContext(fn func(rt *goja.Runtime) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.broken = true
			err = gwerr.New(gwerr.ScriptError, "panic while wiring sandbox context: %v", r)
		}
	}()
	if err := fn(h.rt); err != nil {
		h.broken = true
		return err
	}
	return nil
}

// resultEnvelope is populated by the generated driver code appended by
// Execute, capturing whether the workflow's returned promise settled and
// with what value.
type resultEnvelope struct {
	Done  bool `json:"done"`
	OK    bool `json:"ok"`
	Value any  `json:"value"`
}

// Execute runs script, which must declare an `async function
// workflow(input)`, against the already-wired runtime and returns its
// settled result as raw JSON.
//
// A wrapper around script invokes workflow, normalises its return value
// through Promise.resolve, and records whether it settled synchronously.
// Because the sandbox's only host call (callTool, see injector.go) is
// itself synchronous from JavaScript's point of view, a script with no
// other source of genuine asynchrony always settles within this single
// call — goja flushes the microtask queue to completion before a
// top-level script invocation returns, matching ECMA-262 job-queue
// semantics. A script that still isn't done after that is a scripting
// bug (e.g. an unresolved timer), reported as ScriptError rather than
// silently hung.
func (h *Handle) Execute(ctx context.Context, script, inputJSON string) (json.RawMessage, error) {
	timeout := h.pool.cfg.ScriptTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	timer := time.AfterFunc(timeout, func() {
		h.rt.Interrupt("script execution timed out")
	})
	defer timer.Stop()

	inputLiteral, err := json.Marshal(inputJSON)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidArgument, err, "encode sandbox input")
	}

	driver := script + "\n;(function(){" +
		"var __input = JSON.parse(" + string(inputLiteral) + ");" +
		"var __env = {done:false, ok:false, value:undefined};" +
		"Promise.resolve(workflow(__input)).then(" +
		"function(v){__env.done=true;__env.ok=true;__env.value=v;}," +
		"function(e){__env.done=true;__env.ok=false;__env.value=(e&&e.message)?e.message:String(e);});" +
		"return __env;})()"

	var runErr error
	var result goja.Value
	func() {
		defer func() {
			if r := recover(); r != nil {
				h.broken = true
				runErr = gwerr.New(gwerr.ScriptError, "panic during script execution: %v", r)
			}
		}()
		result, runErr = h.rt.RunString(driver)
	}()

	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			h.broken = true
			return nil, gwerr.New(gwerr.Timeout, "script execution exceeded %s", timeout)
		}
		var jsErr *goja.Exception
		if errors.As(runErr, &jsErr) {
			if isStackOverflow(jsErr) {
				h.broken = true
				return nil, gwerr.Wrap(gwerr.ResourceLimit, runErr, "script exceeded the sandbox's call stack limit")
			}
			return nil, gwerr.Wrap(gwerr.ScriptError, runErr, "script raised an exception")
		}
		h.broken = true
		return nil, gwerr.Wrap(gwerr.ScriptError, runErr, "script execution failed")
	}

	var env resultEnvelope
	if err := h.rt.ExportTo(result, &env); err != nil {
		return nil, gwerr.Wrap(gwerr.ScriptError, err, "export sandbox result")
	}
	if !env.Done {
		return nil, gwerr.New(gwerr.ScriptError, "workflow did not settle synchronously")
	}
	if !env.OK {
		return nil, gwerr.New(gwerr.ScriptError, "workflow rejected: %v", env.Value)
	}

	out, err := json.Marshal(env.Value)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.ScriptError, err, "marshal workflow result")
	}
	return out, nil
}

// isStackOverflow reports whether a goja exception is the RangeError goja
// raises when a script trips the runtime's SetMaxCallStackSize limit (the
// pool's only CPU/recursion-depth proxy, see pool.go). goja has no
// dedicated error type for this — like V8, it surfaces it as an ordinary
// RangeError whose message names the stack, so detection is by message
// match rather than a type assertion.
func isStackOverflow(jsErr *goja.Exception) bool {
	return strings.Contains(strings.ToLower(jsErr.Error()), "stack size exceeded") ||
		strings.Contains(strings.ToLower(jsErr.Error()), "stack overflow")
}

// Release returns the handle's runtime to its pool, replacing it with a
// fresh one if it was marked broken during use.
func (h *Handle) Release() {
	h.pool.release(h)
}
