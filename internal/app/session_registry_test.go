package app

import "testing"

func TestClientRegistry_BindAndLookup(t *testing.T) {
	r := NewClientRegistry()
	r.Bind("client-1", "s-abc")

	if got := r.SessionFor("client-1"); got != "s-abc" {
		t.Errorf("SessionFor = %q, want s-abc", got)
	}
	if got := r.ClientFor("s-abc"); got != "client-1" {
		t.Errorf("ClientFor = %q, want client-1", got)
	}
	if got := r.SessionFor("client-2"); got != "" {
		t.Errorf("unknown client returned %q", got)
	}
}

func TestClientRegistry_RebindDropsOldClient(t *testing.T) {
	r := NewClientRegistry()
	r.Bind("client-1", "s-abc")
	r.Bind("client-2", "s-abc")

	if got := r.SessionFor("client-1"); got != "" {
		t.Errorf("old client still bound: %q", got)
	}
	if got := r.ClientFor("s-abc"); got != "client-2" {
		t.Errorf("ClientFor = %q, want client-2", got)
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestClientRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewClientRegistry()
	r.Bind("client-1", "s-abc")
	r.Remove("client-1")
	r.Remove("client-1")

	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}
	if got := r.ClientFor("s-abc"); got != "" {
		t.Errorf("session still resolvable after remove: %q", got)
	}
}
