// Package sandbox provides a pool of pooled JavaScript runtimes (goja)
// that execute generated workflow scripts under CPU/time limits, with a
// host-injected callTool bridge into the downstream connection pool.
package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"
)

const (
	// DefaultMaxCallStack bounds recursion depth inside a script, the
	// sandbox's coarse stand-in for an instruction budget (goja has no
	// native instruction counter).
	DefaultMaxCallStack = 256
	// DefaultScriptTimeout is the wall-clock budget for a single Execute call.
	DefaultScriptTimeout = 5 * time.Second
)

// Config tunes the runtime pool.
type Config struct {
	Size          int
	MaxCallStack  int
	ScriptTimeout time.Duration
}

// Pool holds N goja.Runtime instances behind a buffered channel acting as
// a semaphore: Acquire blocks on a channel receive, Release sends the
// (possibly replaced) runtime back.
type Pool struct {
	slots chan *goja.Runtime
	cfg   Config
}

// New creates a Pool of cfg.Size freshly constructed runtimes.
func New(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 4
	}
	if cfg.MaxCallStack <= 0 {
		cfg.MaxCallStack = DefaultMaxCallStack
	}
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = DefaultScriptTimeout
	}
	p := &Pool{slots: make(chan *goja.Runtime, cfg.Size), cfg: cfg}
	for i := 0; i < cfg.Size; i++ {
		p.slots <- p.newRuntime()
	}
	return p
}

func (p *Pool) newRuntime() *goja.Runtime {
	rt := goja.New()
	rt.SetMaxCallStackSize(p.cfg.MaxCallStack)
	return rt
}

// Acquire blocks until a runtime is available or ctx is done, and returns
// a Handle bound to it.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	select {
	case rt := <-p.slots:
		return &Handle{pool: p, rt: rt}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns a Handle's runtime to the pool, replacing it with a
// fresh one if it was marked broken: a runtime that errored or panicked
// during a host callback must be destroyed and replaced, not reused,
// since goja has no built-in global-state wipe.
func (p *Pool) release(h *Handle) {
	if h.broken {
		p.slots <- p.newRuntime()
		return
	}
	p.slots <- h.rt
}
