package sandbox

import (
	"context"
	"encoding/json"

	"github.com/dop251/goja"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
)

// Caller is the subset of the connection pool's surface the sandbox needs.
// Defined locally (rather than importing internal/mcp) so the sandbox
// package has no dependency on the transport layer — only on whatever
// implements this call.
type Caller interface {
	Call(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error)
}

// Injector wires a Caller into a goja runtime as the callTool host
// function.
type Injector struct {
	caller Caller
	ctx    context.Context
}

// NewInjector binds caller and the call-scoped context used for every
// callTool dispatch made from scripts run against the returned bindings.
func NewInjector(ctx context.Context, caller Caller) *Injector {
	return &Injector{caller: caller, ctx: ctx}
}

// Bind registers callTool(server, tool, argsJSON) on rt. Each invocation
// dispatches through a dedicated goroutine and blocks the calling script
// until it completes — the call's own channel is its per-call identifier,
// bridging the sandbox's single JS call stack with Go's goroutines without
// a direct back-pointer from the runtime to the pool.
//
// callTool is synchronous from JavaScript's perspective rather than
// Promise-returning: goja exposes no public hook to pump a microtask
// queue driven from outside a running script, so an async host call
// would never settle. A blocking call from inside the single host
// function invocation sidesteps that gap entirely while still running
// the actual downstream dispatch on its own goroutine, which is what
// lets the call's context carry its own cancellation/timeout.
func (inj *Injector) Bind(rt *goja.Runtime) error {
	return rt.Set("callTool", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(rt.NewGoError(gwerr.New(gwerr.InvalidArgument, "callTool: requires (server, tool[, argsJSON])")))
		}
		server := call.Argument(0).String()
		toolName := call.Argument(1).String()

		var args map[string]any
		if len(call.Arguments) > 2 {
			raw := call.Argument(2)
			if !goja.IsUndefined(raw) && !goja.IsNull(raw) {
				if err := json.Unmarshal([]byte(raw.String()), &args); err != nil {
					panic(rt.NewGoError(gwerr.Wrap(gwerr.InvalidArgument, err, "callTool: parse args for %s", toolName)))
				}
			}
		}

		type outcome struct {
			result json.RawMessage
			err    error
		}
		ch := make(chan outcome, 1)
		go func() {
			result, err := inj.caller.Call(inj.ctx, server, toolName, args)
			ch <- outcome{result: result, err: err}
		}()

		out := <-ch
		if out.err != nil {
			panic(rt.NewGoError(out.err))
		}

		var v any
		if err := json.Unmarshal(out.result, &v); err != nil {
			// Not JSON-shaped (e.g. a bare string the pool already quoted);
			// fall back to the raw text so the script still gets a usable value.
			v = string(out.result)
		}
		return rt.ToValue(v)
	})
}
