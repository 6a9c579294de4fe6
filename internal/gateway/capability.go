package gateway

import (
	"sync"
	"time"
)

// ClientCapability records what a connected agent's MCP client announced
// at initialize time.
type ClientCapability struct {
	SessionID            string
	ClientName           string
	ClientVersion        string
	SupportsDynamicTools bool
	ConnectedAt          time.Time
}

// capabilityRegistry tracks one ClientCapability per live MCP session,
// populated from the server's session-register/unregister hooks.
//
// SupportsDynamicTools always reports true (see DESIGN.md): intelligent_route
// always returns tool_schema inline regardless of execution mode, so a
// client that never acts on notifications/tools/list_changed still has
// everything it needs to call a freshly generated tool on its next turn.
type capabilityRegistry struct {
	mu   sync.RWMutex
	byID map[string]ClientCapability
}

func newCapabilityRegistry() *capabilityRegistry {
	return &capabilityRegistry{byID: make(map[string]ClientCapability)}
}

func (r *capabilityRegistry) register(sessionID, clientName, clientVersion string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[sessionID] = ClientCapability{
		SessionID:            sessionID,
		ClientName:           clientName,
		ClientVersion:        clientVersion,
		SupportsDynamicTools: true,
		ConnectedAt:          time.Now(),
	}
}

func (r *capabilityRegistry) unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, sessionID)
}

func (r *capabilityRegistry) get(sessionID string) (ClientCapability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[sessionID]
	return c, ok
}
