// Package app implements the coordination services and defines ports
// (store and collaborator interfaces).
package app

import (
	"time"

	"github.com/jaakkos/conductor/internal/domain"
)

// SessionStore persists sessions. Writes for a single session id are
// serialized by the store. Implementation: internal/repository/sqlite.
type SessionStore interface {
	CreateSession(s domain.Session) error
	GetSession(id string) (domain.Session, error)
	UpdateSessionStatus(id string, status domain.SessionStatus, lastActivity, completedAt time.Time) error
	TouchSession(id string, at time.Time) error
	ListSessionsByProject(projectID string) ([]domain.Session, error)
}

// MailStore persists mail messages. Append-only: rows are never updated.
// Implementation: internal/repository/sqlite.
type MailStore interface {
	CreateMail(m domain.MailMessage) error
	GetMail(id string) (domain.MailMessage, error)
	// ListInbox returns direct messages for the session plus every broadcast
	// in the project, newer than since, oldest first. Scope membership is the
	// caller's problem (resolved at read time).
	ListInbox(projectID, sessionID string, since time.Time) ([]domain.MailMessage, error)
	ListThread(threadID string) ([]domain.MailMessage, error)
}

// TaskNotifier is the external task collaborator. OnSessionFirstWorking is
// fire-and-forget and idempotent on the collaborator's side; the lifecycle
// manager calls it once when a session first enters working.
type TaskNotifier interface {
	OnSessionFirstWorking(sessionID string, taskIDs []string)
}
