package registry

import (
	"testing"
	"time"
)

func def(name string) ToolDefinition {
	return ToolDefinition{Name: name, Description: "test tool"}
}

func TestRegistry_RegisterThenHas(t *testing.T) {
	r := New(Config{MaxDynamicTools: 10, DefaultTTL: time.Minute, CleanupInterval: time.Minute})
	r.RegisterProxied("s1", def("tool_a"))
	if !r.Has("tool_a") {
		t.Fatal("expected Has(tool_a) = true immediately after register")
	}
}

func TestRegistry_BaseToolsNeverEvicted(t *testing.T) {
	r := New(Config{MaxDynamicTools: 1, DefaultTTL: time.Minute, CleanupInterval: time.Minute})
	r.RegisterBase(def("base_tool"))

	for i := 0; i < 5; i++ {
		r.RegisterProxied("s1", def("dyn"))
	}
	if !r.Has("base_tool") {
		t.Fatal("base tool must survive any amount of dynamic churn")
	}
	if r.NonBaseCount() != 1 {
		t.Fatalf("expected non-base count capped at 1, got %d", r.NonBaseCount())
	}
}

func TestRegistry_LRUEviction(t *testing.T) {
	r := New(Config{MaxDynamicTools: 5, DefaultTTL: time.Minute, CleanupInterval: time.Minute})
	for i := 0; i < 5; i++ {
		r.RegisterProxied("s1", def(toolName(i)))
		time.Sleep(5 * time.Millisecond)
	}
	r.RegisterProxied("s1", def("tool_new"))

	if r.Has("tool_0") {
		t.Fatal("expected tool_0 (oldest) to be evicted")
	}
	if !r.Has("tool_new") {
		t.Fatal("expected tool_new to be present")
	}
	if r.NonBaseCount() != 5 {
		t.Fatalf("expected total count 5, got %d", r.NonBaseCount())
	}
}

func TestRegistry_TouchProtectsFromEviction(t *testing.T) {
	r := New(Config{MaxDynamicTools: 2, DefaultTTL: time.Minute, CleanupInterval: time.Minute})
	r.RegisterProxied("s1", def("keep"))
	time.Sleep(5 * time.Millisecond)
	r.RegisterProxied("s1", def("other"))

	r.Touch("keep")
	r.RegisterProxied("s1", def("newcomer"))

	if !r.Has("keep") {
		t.Fatal("touched entry should survive eviction")
	}
	if r.Has("other") {
		t.Fatal("untouched, older entry should be evicted")
	}
}

func TestRegistry_TouchStrictlyIncreasesLastAccess(t *testing.T) {
	r := New(Config{MaxDynamicTools: 10, DefaultTTL: time.Minute, CleanupInterval: time.Minute})
	r.RegisterProxied("s1", def("x"))
	e, _ := r.Get("x")
	before := e.LastAccess

	time.Sleep(2 * time.Millisecond)
	r.Touch("x")

	e2, _ := r.Get("x")
	if !e2.LastAccess.After(before) {
		t.Fatalf("expected LastAccess to strictly increase: before=%v after=%v", before, e2.LastAccess)
	}
}

func TestRegistry_CleanupTaskRemovesExpiredEntries(t *testing.T) {
	r := New(Config{MaxDynamicTools: 10, DefaultTTL: 50 * time.Millisecond, CleanupInterval: 20 * time.Millisecond})
	stop := r.StartCleanupTask()
	defer stop()

	r.RegisterProxied("s1", def("temp_tool"))
	if !r.Has("temp_tool") {
		t.Fatal("expected temp_tool to be present immediately after register")
	}

	time.Sleep(300 * time.Millisecond)

	if r.Has("temp_tool") {
		t.Fatal("expected temp_tool to be expired and cleaned up")
	}
}

func TestRegistry_StopCleanupTaskIsIdempotent(t *testing.T) {
	r := New(Config{MaxDynamicTools: 10, DefaultTTL: time.Minute, CleanupInterval: time.Minute})
	stop := r.StartCleanupTask()
	stop()
	stop() // must not panic
}

func TestRegistry_AllDefinitionsSortedBaseFirst(t *testing.T) {
	r := New(Config{MaxDynamicTools: 10, DefaultTTL: time.Minute, CleanupInterval: time.Minute})
	r.RegisterBase(def("b_base"))
	r.RegisterBase(def("a_base"))
	r.RegisterProxied("s1", def("z_dyn"))
	r.RegisterProxied("s1", def("a_dyn"))

	all := r.AllDefinitions()
	if len(all) != 4 {
		t.Fatalf("got %d definitions, want 4", len(all))
	}
	if all[0].Name != "a_base" || all[1].Name != "b_base" {
		t.Fatalf("base tools should be sorted and come first: %+v", all[:2])
	}
	if all[2].Name != "a_dyn" || all[3].Name != "z_dyn" {
		t.Fatalf("dynamic tools should be sorted after base: %+v", all[2:])
	}
}

func toolName(i int) string {
	names := []string{"tool_0", "tool_1", "tool_2", "tool_3", "tool_4"}
	return names[i]
}
