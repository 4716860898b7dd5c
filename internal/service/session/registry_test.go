package session

import (
	"testing"

	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	s := agentmodel.NewSession("sess-1")

	registry.Register(s)

	entry, ok := registry.Get("sess-1")
	if !ok {
		t.Fatal("registered session not found")
	}
	if entry.Session.ID != "sess-1" {
		t.Fatalf("unexpected session: %s", entry.Session.ID)
	}
	if registry.Count() != 1 {
		t.Fatalf("expected count 1, got %d", registry.Count())
	}
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry()
	registry.Register(agentmodel.NewSession("sess-1"))
	registry.Unregister("sess-1")

	if _, ok := registry.Get("sess-1"); ok {
		t.Fatal("session still present after unregister")
	}
	if registry.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Count())
	}
}

func TestRegistryListOrdersByStart(t *testing.T) {
	registry := NewRegistry()
	registry.Register(agentmodel.NewSession("first"))
	registry.Register(agentmodel.NewSession("second"))

	entries := registry.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].StartedAt.After(entries[1].StartedAt) {
		t.Fatal("entries not ordered by start time")
	}
}

func TestRegistryUnregisterUnknownIsNoop(t *testing.T) {
	registry := NewRegistry()
	registry.Unregister("missing") // must not panic
}
