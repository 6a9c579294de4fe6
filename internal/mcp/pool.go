// Package mcp provides the downstream MCP connection pool: loading server
// descriptors, holding stdio/SSE connections in an explicit health state
// machine, dispatching tool calls, and hot-reloading the descriptor set.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
)

// State is a Connection's position in its health state machine:
// Starting -> Ready -> Degraded -> Starting -> Failed, with Starting and
// Failed both retried automatically by the pool's reconnect loop.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateDegraded State = "degraded"
	StateFailed   State = "failed"
)

const (
	// maxRestartAttempts bounds the Starting->Failed path: a descriptor that
	// fails this many consecutive reconnect attempts is marked Failed, and
	// the reconnect loop keeps retrying it at the capped backoff.
	maxRestartAttempts = 5
	// baseRestartBackoff and maxRestartBackoff bound the exponential backoff
	// applied between reconnect attempts.
	baseRestartBackoff = 500 * time.Millisecond
	maxRestartBackoff  = 30 * time.Second
	// reconnectSweepInterval is how often the reconnect loop checks Degraded,
	// Starting and Failed connections for a due retry. The per-connection
	// backoff (restartBackoff) gates whether a given sweep actually dials.
	reconnectSweepInterval = 1 * time.Second
	// CallTimeout is the default per-call timeout, kept configurable rather
	// than hardcoded so deployments with slow downstream servers can raise it.
	CallTimeout = 30 * time.Second
)

// Connection tracks one descriptor's live client plus its health state.
type Connection struct {
	Descriptor  ServerDescriptor
	State       State
	Restarts    int
	LastError   error
	LastAttempt time.Time // when the reconnect loop last dialed this connection
	client      *Client   // nil until a first successful dial, and always for per_call lifecycle; kept across failures until a reconnect replaces it
}

// Pool owns the lifecycle of all downstream MCP server connections. It is
// the single source of truth for which servers are reachable and routes
// every tool.Call through the connection matching its state.
//
// State mutation always happens under mu; network I/O always happens
// outside it so a slow or hung server cannot block other Pool operations.
type Pool struct {
	configPath string

	mu    sync.Mutex
	conns map[string]*Connection

	callTimeout time.Duration

	// connect performs the connect+handshake for one descriptor. It is a
	// field rather than a direct call to connectDescriptor so tests can
	// substitute a fake dialer when exercising the reconnect loop without
	// spawning a real subprocess.
	connect func(ctx context.Context, d ServerDescriptor) (*Connection, error)
}

// NewPool creates a Pool for the given mcp.json path. No connections are
// established until ConnectAll is called.
func NewPool(configPath string) *Pool {
	return &Pool{
		configPath:  configPath,
		conns:       make(map[string]*Connection),
		callTimeout: CallTimeout,
		connect:     connectDescriptor,
	}
}

// SetCallTimeout overrides the default per-call timeout.
func (p *Pool) SetCallTimeout(d time.Duration) {
	if d > 0 {
		p.callTimeout = d
	}
}

// ConnectAll loads mcp.json and connects every enabled descriptor.
// Network I/O happens outside the lock; per-server failures do not
// prevent other servers from connecting.
func (p *Pool) ConnectAll(ctx context.Context) (int, []error) {
	descriptors, err := LoadConfig(p.configPath)
	if err != nil {
		return 0, []error{fmt.Errorf("mcp: load config: %w", err)}
	}
	return p.applyAdditions(ctx, descriptors)
}

// applyAdditions connects every enabled descriptor in the map and installs
// the resulting Connection (Ready or Failed) into the pool. Disabled
// descriptors are installed as Degraded with no client; descriptors blocked
// by the security scan are not installed. It is shared by ConnectAll and
// UpdateConfig.
func (p *Pool) applyAdditions(ctx context.Context, descriptors map[string]ServerDescriptor) (int, []error) {
	type result struct {
		name string
		conn *Connection
		err  error
	}
	results := make([]result, 0, len(descriptors))

	for name, d := range descriptors {
		if !d.IsEnabled() {
			results = append(results, result{name: name, conn: &Connection{Descriptor: d, State: StateDegraded}})
			continue
		}
		if blocked, notice := scanIfNeeded(p.configPath, d); blocked {
			log.Printf("[MCP] %s", notice)
			results = append(results, result{name: name, err: fmt.Errorf("blocked by security scan: %s", name)})
			continue
		}

		conn, err := p.connect(ctx, d)
		if err != nil {
			log.Printf("[MCP] connect failed: %s: %v", name, err)
			conn = &Connection{Descriptor: d, State: StateFailed, LastError: err, LastAttempt: time.Now()}
		} else {
			log.Printf("[MCP] connected: %s (%s)", name, d.Transport)
		}
		results = append(results, result{name: name, conn: conn, err: err})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	connected := 0
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", r.name, r.err))
			if r.conn == nil {
				continue
			}
		}
		p.conns[r.name] = r.conn
		if r.conn.State == StateReady {
			connected++
		}
	}
	return connected, errs
}

// connectDescriptor performs the connect+list-tools sequence for one
// descriptor and returns the resulting Connection. For per_call lifecycle
// descriptors the connection is torn down immediately after discovery;
// the client stays nil and Call reconnects on demand.
func connectDescriptor(ctx context.Context, d ServerDescriptor) (*Connection, error) {
	if d.Lifecycle == "per_call" {
		tmp := NewClient(d)
		if err := tmp.Connect(ctx); err != nil {
			return nil, err
		}
		_ = tmp.Close()
		return &Connection{Descriptor: d, State: StateReady}, nil
	}

	cli := NewClient(d)
	if err := cli.Connect(ctx); err != nil {
		return nil, err
	}
	return &Connection{Descriptor: d, State: StateReady, client: cli}, nil
}

// UpdateConfig diffs the currently held descriptors against newDescriptors
// and applies only what changed.
//   - Added: connected (after security scan for new stdio descriptors).
//   - Removed: connection closed, entry dropped.
//   - Same name, same recipe: left untouched so an unrelated config edit
//     never disturbs a healthy connection.
//   - Same name, changed recipe: torn down and reconnected as if added.
func (p *Pool) UpdateConfig(ctx context.Context, newDescriptors map[string]ServerDescriptor) (string, error) {
	p.mu.Lock()
	toRemove := make([]string, 0)
	toAdd := make(map[string]ServerDescriptor)
	unchanged := 0
	for name, conn := range p.conns {
		nd, exists := newDescriptors[name]
		if !exists {
			toRemove = append(toRemove, name)
			continue
		}
		if !conn.Descriptor.sameRecipe(nd) {
			toRemove = append(toRemove, name)
			toAdd[name] = nd
		} else {
			unchanged++
		}
	}
	for name, nd := range newDescriptors {
		if _, exists := p.conns[name]; !exists {
			toAdd[name] = nd
		}
	}
	p.mu.Unlock()

	removed := 0
	for _, name := range toRemove {
		p.mu.Lock()
		conn := p.conns[name]
		delete(p.conns, name)
		p.mu.Unlock()
		if conn != nil && conn.client != nil {
			if err := conn.client.Close(); err != nil {
				log.Printf("[MCP] close error for %q: %v", name, err)
			}
		}
		removed++
		log.Printf("[MCP] disconnected: %s", name)
	}

	added, errs := p.applyAdditions(ctx, toAdd)

	summary := fmt.Sprintf("MCP config update: +%d connected, -%d removed, %d unchanged", added, removed, unchanged)
	if len(errs) > 0 {
		var lines []string
		for _, e := range errs {
			lines = append(lines, e.Error())
		}
		summary += "\n" + strings.Join(lines, "\n")
	}
	return summary, nil
}

// scanIfNeeded runs the static security scanner against a newly added
// stdio descriptor's .py script (the first one found in the command or
// args, see findPyScript), blocking the connection on critical findings
// and persisting scan_result/scanned_at to the config's _meta overlay
// either way. Descriptors whose script is not a .py file (including
// .ts/.js/.mjs) connect without a scan.
func scanIfNeeded(configPath string, d ServerDescriptor) (blocked bool, notice string) {
	if d.Transport != "stdio" {
		return false, ""
	}
	pyScript := findPyScript(d)
	if pyScript == "" {
		return false, ""
	}

	findings, err := ScanScript(pyScript)
	today := time.Now().Format("2006-01-02")
	if err != nil {
		return false, fmt.Sprintf("[WARNING] scan error for %q: %v", d.Name, err)
	}
	if HasCritical(findings) {
		LogFindings(d.Name, findings)
		var lines []string
		lines = append(lines, fmt.Sprintf("[BLOCKED] server %q: critical security findings in %s", d.Name, pyScript))
		for _, f := range findings {
			if f.Severity == SeverityCritical {
				lines = append(lines, fmt.Sprintf("  [%s] line %d: %s", f.Rule, f.Line, f.Snippet))
			}
		}
		updateServerMeta(configPath, d.Name, map[string]string{"scan_result": "blocked", "scanned_at": today})
		return true, strings.Join(lines, "\n")
	}
	LogFindings(d.Name, findings)
	scanResult := "clean"
	if len(findings) > 0 {
		scanResult = "warning"
	}
	updateServerMeta(configPath, d.Name, map[string]string{"scan_result": scanResult, "scanned_at": today})
	return false, ""
}

// Call dispatches a tool call to the named server, translating transport
// and protocol failures into the gateway's error taxonomy so callers can
// branch on the kind without inspecting error strings.
func (p *Pool) Call(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error) {
	p.mu.Lock()
	conn, ok := p.conns[server]
	p.mu.Unlock()
	if !ok {
		return nil, gwerr.New(gwerr.NotFound, "mcp: unknown server %q", server)
	}
	if conn.State == StateFailed || conn.State == StateDegraded {
		return nil, gwerr.New(gwerr.UnavailableBackend, "mcp: server %q is %s", server, conn.State)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	client := conn.client
	if conn.Descriptor.Lifecycle == "per_call" {
		client = NewClient(conn.Descriptor)
		if err := client.Connect(callCtx); err != nil {
			p.recordFailure(server, err)
			return nil, gwerr.Wrap(gwerr.UnavailableBackend, err, "mcp: per_call connect to %q", server)
		}
		defer client.Close() //nolint:errcheck // best-effort cleanup
	}
	if client == nil {
		return nil, gwerr.New(gwerr.UnavailableBackend, "mcp: server %q has no live connection", server)
	}

	result, err := client.CallTool(callCtx, tool, args)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			p.recordFailure(server, err)
			return nil, gwerr.Wrap(gwerr.Timeout, err, "mcp: call %q on %q timed out", tool, server)
		}
		p.recordFailure(server, err)
		return nil, gwerr.Wrap(gwerr.TransportError, err, "mcp: call %q on %q", tool, server)
	}
	p.recordSuccess(server)
	return result, nil
}

// recordSuccess advances a Degraded connection back to Ready and resets
// its restart counter.
func (p *Pool) recordSuccess(server string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.conns[server]
	if !ok {
		return
	}
	conn.State = StateReady
	conn.Restarts = 0
	conn.LastError = nil
}

// recordFailure advances a connection's health state on a failed call:
// Ready -> Degraded on first failure; Degraded -> Starting; Starting ->
// Failed once maxRestartAttempts is exceeded. The actual reconnect
// handshake and its exponential backoff are performed asynchronously by
// the reconnect loop (see StartReconnectLoop), which also drives Degraded
// and Starting connections forward even when no further calls arrive.
func (p *Pool) recordFailure(server string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.conns[server]
	if !ok {
		return
	}
	conn.LastError = err
	switch conn.State {
	case StateReady:
		conn.State = StateDegraded
	case StateDegraded:
		conn.State = StateStarting
	case StateStarting:
		conn.Restarts++
		if conn.Restarts >= maxRestartAttempts {
			conn.State = StateFailed
		}
	}
}

// restartBackoff returns the exponential backoff duration for the given
// attempt count, capped at maxRestartBackoff.
func restartBackoff(attempt int) time.Duration {
	d := float64(baseRestartBackoff) * math.Pow(2, float64(attempt))
	if d > float64(maxRestartBackoff) {
		return maxRestartBackoff
	}
	return time.Duration(d)
}

// StartReconnectLoop spawns a background goroutine that sweeps Degraded,
// Starting and Failed connections every reconnectSweepInterval and attempts
// a reconnect handshake on the ones whose backoff window has elapsed,
// replacing the connection's client on success. This is what actually
// carries a connection back from Degraded through Starting to Ready, and
// keeps retrying a Failed connection indefinitely at the capped backoff
// rather than leaving it dormant forever. It returns a stop function;
// calling it more than once is safe. Styled on the registry's
// StartCleanupTask (ticker + done channel, no leaked timer on stop).
func (p *Pool) StartReconnectLoop(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	ticker := time.NewTicker(reconnectSweepInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.reconnectSweep(ctx)
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() { close(done) })
	}
}

// reconnectSweep attempts a reconnect handshake for every connection that is
// due a retry: Degraded, Starting or Failed whose restartBackoff window has
// elapsed since LastAttempt. Disabled descriptors are never dialed.
func (p *Pool) reconnectSweep(ctx context.Context) {
	p.mu.Lock()
	type target struct {
		name string
		conn *Connection
	}
	var due []target
	now := time.Now()
	for name, conn := range p.conns {
		switch conn.State {
		case StateDegraded, StateStarting, StateFailed:
		default:
			continue
		}
		if !conn.Descriptor.IsEnabled() {
			continue
		}
		if now.Sub(conn.LastAttempt) < restartBackoff(conn.Restarts) {
			continue
		}
		due = append(due, target{name: name, conn: conn})
	}
	p.mu.Unlock()

	for _, t := range due {
		p.attemptReconnect(ctx, t.name, t.conn)
	}
}

// attemptReconnect performs one handshake retry for the named connection.
// The dial happens outside the lock; only the resulting state transition is
// applied under it, and a stale client is only closed once its replacement
// has been safely recorded.
func (p *Pool) attemptReconnect(ctx context.Context, name string, target *Connection) {
	connectCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	newConn, err := p.connect(connectCtx, target.Descriptor)

	p.mu.Lock()
	cur, ok := p.conns[name]
	if !ok || cur != target {
		// Connection was replaced or removed (e.g. by UpdateConfig) while
		// this dial was in flight; the result no longer applies.
		p.mu.Unlock()
		if err == nil && newConn.client != nil {
			_ = newConn.client.Close()
		}
		return
	}
	cur.LastAttempt = time.Now()

	if err != nil {
		cur.LastError = err
		switch cur.State {
		case StateDegraded:
			cur.State = StateStarting
		case StateStarting:
			cur.Restarts++
			if cur.Restarts >= maxRestartAttempts {
				cur.State = StateFailed
			}
		case StateFailed:
			cur.Restarts++
		}
		state := cur.State
		p.mu.Unlock()
		log.Printf("[MCP] reconnect attempt failed: %s (%s): %v", name, state, err)
		return
	}

	oldClient := cur.client
	cur.client = newConn.client
	cur.State = StateReady
	cur.Restarts = 0
	cur.LastError = nil
	p.mu.Unlock()

	if oldClient != nil {
		if cerr := oldClient.Close(); cerr != nil {
			log.Printf("[MCP] close error for stale %q client: %v", name, cerr)
		}
	}
	log.Printf("[MCP] reconnected: %s", name)
}

// AdvertisedTools returns the currently known tool list for every
// connection that is not Failed (Degraded and Starting connections that
// still hold a client advertise its tools; Call will surface any failure
// when actually invoked).
func (p *Pool) AdvertisedTools(ctx context.Context) map[string][]ToolInfo {
	p.mu.Lock()
	snap := make(map[string]*Connection, len(p.conns))
	for name, conn := range p.conns {
		snap[name] = conn
	}
	p.mu.Unlock()

	out := make(map[string][]ToolInfo, len(snap))
	for name, conn := range snap {
		if conn.State == StateFailed {
			continue
		}
		var tools []ToolInfo
		var err error
		if conn.client != nil {
			tools, err = conn.client.ListTools(ctx)
		} else if conn.Descriptor.Lifecycle == "per_call" {
			tmp := NewClient(conn.Descriptor)
			if cErr := tmp.Connect(ctx); cErr == nil {
				tools, err = tmp.ListTools(ctx)
				_ = tmp.Close()
			} else {
				err = cErr
			}
		}
		if err != nil {
			log.Printf("[MCP] list tools failed: %s: %v", name, err)
			continue
		}
		out[name] = tools
	}
	return out
}

// States returns a snapshot of every connection's current health state,
// keyed by server name.
func (p *Pool) States() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]State, len(p.conns))
	for name, conn := range p.conns {
		out[name] = conn.State
	}
	return out
}

// CloseAll terminates every active connection. Safe to call multiple times.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Connection)
	p.mu.Unlock()

	for name, conn := range conns {
		if conn.client == nil {
			continue
		}
		if err := conn.client.Close(); err != nil {
			log.Printf("[MCP] close error for %q: %v", name, err)
		}
	}
	log.Printf("[MCP] all connections closed")
}
