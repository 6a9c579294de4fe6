package gateway

import "testing"

func TestCapabilityRegistry_RegisterAndGet(t *testing.T) {
	r := newCapabilityRegistry()
	r.register("sess-1", "claude-code", "1.0.0")

	cap, ok := r.get("sess-1")
	if !ok {
		t.Fatal("expected a registered capability")
	}
	if cap.ClientName != "claude-code" || cap.ClientVersion != "1.0.0" {
		t.Errorf("capability = %+v, unexpected", cap)
	}
	if !cap.SupportsDynamicTools {
		t.Error("SupportsDynamicTools should always be true")
	}
}

func TestCapabilityRegistry_UnregisterRemovesEntry(t *testing.T) {
	r := newCapabilityRegistry()
	r.register("sess-1", "claude-code", "1.0.0")
	r.unregister("sess-1")

	if _, ok := r.get("sess-1"); ok {
		t.Error("expected the capability to be removed after unregister")
	}
}

func TestCapabilityRegistry_GetUnknownSession(t *testing.T) {
	r := newCapabilityRegistry()
	if _, ok := r.get("nope"); ok {
		t.Error("expected ok=false for an unregistered session")
	}
}
