package sandbox

import (
	"context"
	"testing"
	"time"
)

func TestPool_AcquireRelease_ReusesRuntime(t *testing.T) {
	p := New(Config{Size: 1})

	h1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	rt1 := h1.rt
	h1.Release()

	h2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h2.rt != rt1 {
		t.Error("expected the same runtime to be reused when not marked broken")
	}
	h2.Release()
}

func TestPool_Acquire_ReplacesBrokenRuntime(t *testing.T) {
	p := New(Config{Size: 1})

	h1, _ := p.Acquire(context.Background())
	rt1 := h1.rt
	h1.broken = true
	h1.Release()

	h2, _ := p.Acquire(context.Background())
	if h2.rt == rt1 {
		t.Error("expected a broken runtime to be replaced, not reused")
	}
	h2.Release()
}

func TestPool_Acquire_BlocksUntilContextCancelled(t *testing.T) {
	p := New(Config{Size: 1})
	h, _ := p.Acquire(context.Background())
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx)
	if err == nil {
		t.Fatal("expected Acquire to fail once the pool is exhausted and the context expires")
	}
}

func TestHandle_Execute_SimpleWorkflow(t *testing.T) {
	p := New(Config{Size: 1, ScriptTimeout: time.Second})
	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	script := `async function workflow(input) { return { doubled: input.n * 2 }; }`
	out, err := h.Execute(context.Background(), script, `{"n": 21}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != `{"doubled":42}` {
		t.Errorf("Execute() = %s, want {\"doubled\":42}", out)
	}
}

func TestHandle_Execute_RejectedWorkflowIsScriptError(t *testing.T) {
	p := New(Config{Size: 1, ScriptTimeout: time.Second})
	h, _ := p.Acquire(context.Background())
	defer h.Release()

	script := `async function workflow(input) { throw new Error("boom"); }`
	_, err := h.Execute(context.Background(), script, `{}`)
	if err == nil {
		t.Fatal("expected an error from a rejected workflow")
	}
}

func TestHandle_Execute_SyntaxErrorIsScriptError(t *testing.T) {
	p := New(Config{Size: 1, ScriptTimeout: time.Second})
	h, _ := p.Acquire(context.Background())
	defer h.Release()

	_, err := h.Execute(context.Background(), `this is not valid javascript (`, `{}`)
	if err == nil {
		t.Fatal("expected a syntax error")
	}
}

func TestHandle_Execute_TimeoutMarksHandleBroken(t *testing.T) {
	p := New(Config{Size: 1, ScriptTimeout: 50 * time.Millisecond})
	h, _ := p.Acquire(context.Background())

	script := `async function workflow(input) { while (true) {} }`
	_, err := h.Execute(context.Background(), script, `{}`)
	if err == nil {
		t.Fatal("expected a timeout error for an infinite loop")
	}
	if !h.broken {
		t.Error("expected a timed-out runtime to be marked broken")
	}
	h.Release()
}
