package app

import (
	"errors"
	"testing"

	"github.com/jaakkos/conductor/internal/domain"
)

func scopeFixture() (coordinator domain.Session, sessions []domain.Session) {
	coordinator = domain.Session{ID: "s-coord", ProjectID: "proj", Mode: domain.ModeCoordinate, Status: domain.StatusWorking}
	sessions = []domain.Session{
		coordinator,
		{ID: "s-w1", ProjectID: "proj", ParentSessionID: "s-coord", Status: domain.StatusWorking},
		{ID: "s-w2", ProjectID: "proj", ParentSessionID: "s-coord", Status: domain.StatusBlocked},
		{ID: "s-w3", ProjectID: "proj", ParentSessionID: "s-coord", Status: domain.StatusCompleted},
		{ID: "s-other", ProjectID: "proj", Status: domain.StatusWorking},
	}
	return coordinator, sessions
}

func TestResolveScope_MyWorkers(t *testing.T) {
	coord, sessions := scopeFixture()
	set, err := ResolveScope(domain.ScopeMyWorkers, coord, sessions)
	if err != nil {
		t.Fatal(err)
	}
	if !set["s-w1"] || !set["s-w2"] {
		t.Errorf("workers missing from scope: %v", set)
	}
	if set["s-coord"] || set["s-other"] {
		t.Errorf("non-workers leaked into scope: %v", set)
	}
}

func TestResolveScope_TeamIsSiblings(t *testing.T) {
	_, sessions := scopeFixture()
	w1 := sessions[1]
	set, err := ResolveScope(domain.ScopeTeam, w1, sessions)
	if err != nil {
		t.Fatal(err)
	}
	if !set["s-w2"] {
		t.Errorf("sibling missing from team scope: %v", set)
	}
	if set["s-w1"] {
		t.Error("team scope must exclude the sender")
	}
	if set["s-coord"] || set["s-other"] {
		t.Errorf("team scope leaked outside siblings: %v", set)
	}
}

func TestResolveScope_TeamWithoutParent(t *testing.T) {
	coord, sessions := scopeFixture()
	if _, err := ResolveScope(domain.ScopeTeam, coord, sessions); !errors.Is(err, domain.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope for parentless sender, got %v", err)
	}
}

func TestResolveScope_AllExcludesSenderAndTerminal(t *testing.T) {
	coord, sessions := scopeFixture()
	set, err := ResolveScope(domain.ScopeAll, coord, sessions)
	if err != nil {
		t.Fatal(err)
	}
	if set["s-coord"] {
		t.Error("all scope must exclude the sender")
	}
	if set["s-w3"] {
		t.Error("all scope must exclude terminal sessions")
	}
	if !set["s-w1"] || !set["s-w2"] || !set["s-other"] {
		t.Errorf("active sessions missing from all scope: %v", set)
	}
}

func TestResolveScope_Unknown(t *testing.T) {
	coord, sessions := scopeFixture()
	if _, err := ResolveScope("everyone", coord, sessions); !errors.Is(err, domain.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}
