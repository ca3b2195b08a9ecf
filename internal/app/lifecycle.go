package app

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jaakkos/conductor/internal/bus"
	"github.com/jaakkos/conductor/internal/domain"
)

// allowedEdges is the lifecycle state machine. Initial state is spawning;
// completed/failed/cancelled are terminal and have no outgoing edges.
// spawning→completed is a valid direct edge (a trivial task can finish
// without ever reporting activity).
var allowedEdges = map[domain.SessionStatus]map[domain.SessionStatus]bool{
	domain.StatusSpawning: {
		domain.StatusWorking:   true,
		domain.StatusCompleted: true,
		domain.StatusFailed:    true,
		domain.StatusCancelled: true,
	},
	domain.StatusWorking: {
		domain.StatusNeedsInput: true,
		domain.StatusBlocked:    true,
		domain.StatusCompleted:  true,
		domain.StatusFailed:     true,
		domain.StatusCancelled:  true,
	},
	domain.StatusNeedsInput: {
		domain.StatusWorking:   true,
		domain.StatusCompleted: true,
		domain.StatusFailed:    true,
		domain.StatusCancelled: true,
	},
	domain.StatusBlocked: {
		domain.StatusWorking:   true,
		domain.StatusCompleted: true,
		domain.StatusFailed:    true,
		domain.StatusCancelled: true,
	},
}

// CanTransition reports whether target is reachable from current in one step.
func CanTransition(current, target domain.SessionStatus) bool {
	return allowedEdges[current][target]
}

// Lifecycle is the session lifecycle manager: it is the only mutator of
// session records, validates transitions, and publishes session:updated
// events.
type Lifecycle struct {
	sessions SessionStore
	bus      *bus.Bus
	logger   *log.Logger
	now      func() time.Time

	tasks  TaskNotifier // optional; set via SetTaskNotifier
	signal func()       // poked after each successful write; see TouchNotifySignal

	mu      sync.Mutex        // serializes Spawn/Transition
	taskIDs map[string][]string // sessionID → task ids handed to the task collaborator
}

// LifecycleOption configures the lifecycle manager.
type LifecycleOption func(*Lifecycle)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

// WithWriteSignal sets a hook poked after every successful session write,
// typically TouchNotifySignal on the store's signal file.
func WithWriteSignal(fn func()) LifecycleOption {
	return func(l *Lifecycle) { l.signal = fn }
}

// NewLifecycle returns a lifecycle manager over the given store and bus.
func NewLifecycle(sessions SessionStore, b *bus.Bus, logger *log.Logger, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		sessions: sessions,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		taskIDs:  make(map[string][]string),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetTaskNotifier attaches the external task collaborator.
func (l *Lifecycle) SetTaskNotifier(n TaskNotifier) {
	l.tasks = n
}

// SpawnRequest describes a session to create. ParentSessionID and TaskIDs
// come from the external spawn pipeline; the core never computes them.
type SpawnRequest struct {
	ProjectID       string
	ParentSessionID string
	Mode            domain.SessionMode
	Strategy        string
	TaskIDs         []string
}

// Spawn creates a session in the spawning state and publishes its first
// lifecycle event. A parent that no longer exists is accepted (treated as
// retired); a parent in a different project is rejected.
func (l *Lifecycle) Spawn(req SpawnRequest) (domain.Session, error) {
	if req.ProjectID == "" {
		return domain.Session{}, fmt.Errorf("project id is required")
	}
	if !domain.ValidMode(req.Mode) {
		return domain.Session{}, fmt.Errorf("unknown session mode %q", req.Mode)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if req.ParentSessionID != "" {
		parent, err := l.sessions.GetSession(req.ParentSessionID)
		switch {
		case err == nil:
			if parent.ProjectID != req.ProjectID {
				return domain.Session{}, fmt.Errorf("parent %s belongs to project %s, not %s: %w",
					req.ParentSessionID, parent.ProjectID, req.ProjectID, domain.ErrInvalidScope)
			}
		case isNotFound(err):
			// Parent already retired; the link is kept for scoping history.
		default:
			return domain.Session{}, err
		}
	}

	now := l.now()
	sess := domain.Session{
		ID:              domain.NewSessionID(),
		ProjectID:       req.ProjectID,
		ParentSessionID: req.ParentSessionID,
		Mode:            req.Mode,
		Strategy:        req.Strategy,
		Status:          domain.StatusSpawning,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	if err := l.sessions.CreateSession(sess); err != nil {
		return domain.Session{}, err
	}
	if len(req.TaskIDs) > 0 {
		l.taskIDs[sess.ID] = req.TaskIDs
	}

	l.logger.Printf("Session %s spawned (project=%s parent=%s mode=%s)",
		sess.ID, sess.ProjectID, sess.ParentSessionID, sess.Mode)
	l.touchSignal()
	l.publishUpdate(sess, "", domain.StatusSpawning, "spawned", now)
	return sess, nil
}

// Transition moves a session to target. Illegal edges fail with
// ErrInvalidTransition and leave the stored status untouched; no event is
// published on failure. The first transition into working fires the task
// collaborator signal exactly once: the spawning→working edge can occur at
// most once per session, and a retry of the same transition fails validation
// before reaching the signal.
func (l *Lifecycle) Transition(sessionID string, target domain.SessionStatus, reason string) (domain.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, err := l.sessions.GetSession(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !domain.ValidStatus(target) {
		return domain.Session{}, fmt.Errorf("unknown status %q: %w", target, domain.ErrInvalidTransition)
	}
	if sess.Status.IsTerminal() {
		return domain.Session{}, fmt.Errorf("session %s is already %s: %w", sessionID, sess.Status, domain.ErrInvalidTransition)
	}
	if !CanTransition(sess.Status, target) {
		return domain.Session{}, fmt.Errorf("cannot move session %s from %s to %s: %w",
			sessionID, sess.Status, target, domain.ErrInvalidTransition)
	}

	now := l.now()
	old := sess.Status
	var completedAt time.Time
	if target.IsTerminal() {
		completedAt = now
	}
	if err := l.sessions.UpdateSessionStatus(sessionID, target, now, completedAt); err != nil {
		return domain.Session{}, err
	}
	sess.Status = target
	sess.LastActivityAt = now
	sess.CompletedAt = completedAt

	if old == domain.StatusSpawning && target == domain.StatusWorking && l.tasks != nil {
		l.tasks.OnSessionFirstWorking(sessionID, l.taskIDs[sessionID])
	}
	if target.IsTerminal() {
		delete(l.taskIDs, sessionID)
	}

	l.logger.Printf("Session %s: %s -> %s (%s)", sessionID, old, target, reason)
	l.touchSignal()
	l.publishUpdate(sess, old, target, reason, now)
	return sess, nil
}

func (l *Lifecycle) touchSignal() {
	if l.signal != nil {
		l.signal()
	}
}

// Get returns the session or domain.ErrNotFound.
func (l *Lifecycle) Get(sessionID string) (domain.Session, error) {
	return l.sessions.GetSession(sessionID)
}

// List returns every session in the project.
func (l *Lifecycle) List(projectID string) ([]domain.Session, error) {
	return l.sessions.ListSessionsByProject(projectID)
}

func (l *Lifecycle) publishUpdate(sess domain.Session, old, new domain.SessionStatus, reason string, at time.Time) {
	ids := []string{sess.ID}
	if sess.ParentSessionID != "" {
		// Let coordinator-filtered observers see their workers' updates.
		ids = append(ids, sess.ParentSessionID)
	}
	l.bus.Publish(domain.EventEnvelope{
		Type:       domain.EventSessionUpdated,
		ProjectID:  sess.ProjectID,
		SessionIDs: ids,
		Payload: domain.SessionUpdatedPayload{
			SessionID:       sess.ID,
			ProjectID:       sess.ProjectID,
			ParentSessionID: sess.ParentSessionID,
			OldStatus:       old,
			NewStatus:       new,
			Reason:          reason,
			Timestamp:       at,
		},
	})
}
