package app

import (
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jaakkos/conductor/internal/domain"
)

// memStore is an in-memory SessionStore and MailStore for service tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	mail     []domain.MailMessage

	failReads int // next N list/mail reads return an error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]domain.Session)}
}

func (s *memStore) readErr() error {
	if s.failReads > 0 {
		s.failReads--
		return fmt.Errorf("simulated read failure")
	}
	return nil
}

func (s *memStore) CreateSession(sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memStore) GetSession(id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return sess, nil
}

func (s *memStore) UpdateSessionStatus(id string, status domain.SessionStatus, lastActivity, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	sess.Status = status
	sess.LastActivityAt = lastActivity
	sess.CompletedAt = completedAt
	s.sessions[id] = sess
	return nil
}

func (s *memStore) TouchSession(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	sess.LastActivityAt = at
	s.sessions[id] = sess
	return nil
}

func (s *memStore) ListSessionsByProject(projectID string) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	var out []domain.Session
	for _, sess := range s.sessions {
		if sess.ProjectID == projectID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) CreateMail(m domain.MailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mail = append(s.mail, m)
	return nil
}

func (s *memStore) GetMail(id string) (domain.MailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return domain.MailMessage{}, err
	}
	for _, m := range s.mail {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.MailMessage{}, fmt.Errorf("mail %s: %w", id, domain.ErrNotFound)
}

func (s *memStore) ListInbox(projectID, sessionID string, since time.Time) ([]domain.MailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	var out []domain.MailMessage
	for _, m := range s.mail {
		if m.ProjectID != projectID {
			continue
		}
		if m.ToSessionID != sessionID && !m.IsBroadcast() {
			continue
		}
		if !m.CreatedAt.After(since) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) ListThread(threadID string) ([]domain.MailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	var out []domain.MailMessage
	for _, m := range s.mail {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) mailCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mail)
}

// fakeTaskNotifier records OnSessionFirstWorking calls.
type fakeTaskNotifier struct {
	mu    sync.Mutex
	calls []struct {
		SessionID string
		TaskIDs   []string
	}
}

func (n *fakeTaskNotifier) OnSessionFirstWorking(sessionID string, taskIDs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, struct {
		SessionID string
		TaskIDs   []string
	}{sessionID, taskIDs})
}

func (n *fakeTaskNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// testClock returns a deterministic time source that advances one second per
// call.
func testClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// waitFor polls cond until it holds or the deadline passes. Bus delivery is
// asynchronous, so assertions about published events need this.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}
