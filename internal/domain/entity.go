// Package domain holds coordination entities: sessions, mail, and events.
// It has no dependencies on other packages.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionMode says whether a session performs work itself or directs others.
type SessionMode string

const (
	ModeExecute    SessionMode = "execute"
	ModeCoordinate SessionMode = "coordinate"
)

// ValidMode reports whether m is a known session mode.
func ValidMode(m SessionMode) bool {
	return m == ModeExecute || m == ModeCoordinate
}

// SessionStatus is a session's position in the lifecycle state machine.
type SessionStatus string

const (
	StatusSpawning   SessionStatus = "spawning"
	StatusWorking    SessionStatus = "working"
	StatusNeedsInput SessionStatus = "needs_input"
	StatusBlocked    SessionStatus = "blocked"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusCancelled  SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ValidStatus reports whether s is a known session status.
func ValidStatus(s SessionStatus) bool {
	switch s {
	case StatusSpawning, StatusWorking, StatusNeedsInput, StatusBlocked,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Session is one running agent process tracked by the coordinator.
type Session struct {
	ID              string        `json:"id"`
	ProjectID       string        `json:"project_id"`
	ParentSessionID string        `json:"parent_session_id,omitempty"`
	Mode            SessionMode   `json:"mode"`
	Strategy        string        `json:"strategy,omitempty"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	LastActivityAt  time.Time     `json:"last_activity_at"`
	CompletedAt     time.Time     `json:"completed_at,omitempty"`
}

// MailType selects the structured body a message carries.
type MailType string

const (
	MailAssignment   MailType = "assignment"
	MailStatusUpdate MailType = "status_update"
	MailQuery        MailType = "query"
	MailResponse     MailType = "response"
	MailDirective    MailType = "directive"
	MailNotification MailType = "notification"
)

// ValidMailType reports whether t is a known mail type.
func ValidMailType(t MailType) bool {
	switch t {
	case MailAssignment, MailStatusUpdate, MailQuery, MailResponse,
		MailDirective, MailNotification:
		return true
	}
	return false
}

// MailPriority orders inbox delivery. Higher priorities sort first.
type MailPriority string

const (
	PriorityCritical MailPriority = "critical"
	PriorityHigh     MailPriority = "high"
	PriorityNormal   MailPriority = "normal"
	PriorityLow      MailPriority = "low"
)

// PriorityRank maps a priority to its sort weight (critical highest).
// Unknown priorities rank below low.
func PriorityRank(p MailPriority) int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p MailPriority) bool {
	return PriorityRank(p) >= 0
}

// MailScope is the recipient-resolution rule for a broadcast.
type MailScope string

const (
	ScopeAll       MailScope = "all"        // every active session in the project
	ScopeMyWorkers MailScope = "my-workers" // sessions spawned by the sender
	ScopeTeam      MailScope = "team"       // siblings sharing the sender's parent
)

// ValidScope reports whether s is a known broadcast scope.
func ValidScope(s MailScope) bool {
	return s == ScopeAll || s == ScopeMyWorkers || s == ScopeTeam
}

// MailMessage is one unit of structured inter-session communication.
// Messages are immutable once created; delivery is a read-side concept
// (queried by recipient and time), not a state on the message.
type MailMessage struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	FromSessionID string       `json:"from_session_id"`
	ToSessionID   string       `json:"to_session_id,omitempty"` // empty = broadcast
	Scope         MailScope    `json:"scope,omitempty"`         // set iff broadcast
	ReplyToMailID string       `json:"reply_to_mail_id,omitempty"`
	ThreadID      string       `json:"thread_id"`
	Type          MailType     `json:"type"`
	Priority      MailPriority `json:"priority"`
	Subject       string       `json:"subject"`
	Body          MailBody     `json:"body"`
	CreatedAt     time.Time    `json:"created_at"`
}

// IsBroadcast reports whether the message has no direct recipient.
func (m MailMessage) IsBroadcast() bool {
	return m.ToSessionID == ""
}

// Event types published on the bus.
const (
	EventSessionUpdated = "session:updated"
	EventMailReceived   = "mail:received"
	// EventMailSync is an internal poke from the store watcher telling
	// in-flight waits to re-check the mailbox after an external write.
	EventMailSync = "mail:sync"
)

// EventEnvelope wraps a domain event for bus distribution.
// Transient, never persisted.
type EventEnvelope struct {
	Type       string   `json:"type"`
	ProjectID  string   `json:"project_id,omitempty"`
	SessionIDs []string `json:"session_ids,omitempty"`
	Payload    any      `json:"payload,omitempty"`
}

// SessionUpdatedPayload is the payload of a session:updated event.
type SessionUpdatedPayload struct {
	SessionID       string        `json:"session_id"`
	ProjectID       string        `json:"project_id"`
	ParentSessionID string        `json:"parent_session_id,omitempty"`
	OldStatus       SessionStatus `json:"old_status"`
	NewStatus       SessionStatus `json:"new_status"`
	Reason          string        `json:"reason,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// MailReceivedPayload is the payload of a mail:received event.
type MailReceivedPayload struct {
	ProjectID   string       `json:"project_id"`
	ToSessionID string       `json:"to_session_id,omitempty"`
	Scope       MailScope    `json:"scope,omitempty"`
	MailID      string       `json:"mail_id"`
	Priority    MailPriority `json:"priority"`
	Timestamp   time.Time    `json:"timestamp"`
}

// NewSessionID returns a fresh globally unique session id.
func NewSessionID() string {
	return "s-" + uuid.NewString()
}

// NewMailID returns a fresh mail id. The zero-padded nanosecond prefix makes
// ids lexically orderable by creation time; the uuid suffix keeps them unique
// across processes writing to the same store.
func NewMailID(now time.Time) string {
	return fmt.Sprintf("m-%019d-%s", now.UnixNano(), uuid.NewString()[:8])
}
