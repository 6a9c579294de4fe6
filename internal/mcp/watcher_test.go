package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigWatcher_AppliesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.json")
	if err := os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o600); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	p := NewPool(path)
	w, err := NewConfigWatcher(path, p)
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	p.mu.Lock()
	p.conns["probe"] = &Connection{Descriptor: ServerDescriptor{Name: "probe", Enabled: boolPtr(false)}, State: StateDegraded}
	p.mu.Unlock()

	if err := os.WriteFile(path, []byte(`{"mcpServers":{"probe":{"transport":"stdio","enabled":false}}}`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		conn, ok := p.conns["probe"]
		applied := ok && conn.Descriptor.Transport == "stdio"
		p.mu.Unlock()
		if applied {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected watcher to apply the rewritten config within the deadline")
}

func TestConfigWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.json")
	os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o600)

	p := NewPool(path)
	w, err := NewConfigWatcher(path, p)
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}

func boolPtr(b bool) *bool { return &b }
