package app

import (
	"fmt"

	"github.com/jaakkos/conductor/internal/domain"
)

// ResolveScope computes the recipient set of a broadcast as a pure function
// over the current session list. It is evaluated fresh on every send and
// every inbox read; membership is never cached on the message, so sessions
// spawned after a broadcast still see it if they match the scope at read
// time.
//
//   - my-workers: sessions whose parent is the sender
//   - team: sessions sharing the sender's parent, excluding the sender;
//     requires the sender to have a parent
//   - all: every non-terminal session in the project, excluding the sender
func ResolveScope(scope domain.MailScope, from domain.Session, sessions []domain.Session) (map[string]bool, error) {
	out := make(map[string]bool)
	switch scope {
	case domain.ScopeMyWorkers:
		for _, s := range sessions {
			if s.ParentSessionID == from.ID {
				out[s.ID] = true
			}
		}
	case domain.ScopeTeam:
		if from.ParentSessionID == "" {
			return nil, fmt.Errorf("session %s has no parent, team scope needs one: %w", from.ID, domain.ErrInvalidScope)
		}
		for _, s := range sessions {
			if s.ID != from.ID && s.ParentSessionID == from.ParentSessionID {
				out[s.ID] = true
			}
		}
	case domain.ScopeAll:
		for _, s := range sessions {
			if s.ID != from.ID && !s.Status.IsTerminal() {
				out[s.ID] = true
			}
		}
	default:
		return nil, fmt.Errorf("unknown scope %q: %w", scope, domain.ErrInvalidScope)
	}
	return out, nil
}
