// Package sqlite implements the session and mailbox stores over SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/conductor/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	parent_session_id TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL,
	strategy TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	last_activity_at TEXT NOT NULL,
	completed_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS mail (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	from_session TEXT NOT NULL,
	to_session TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT '',
	reply_to TEXT NOT NULL DEFAULT '',
	thread_id TEXT NOT NULL,
	mail_type TEXT NOT NULL,
	priority TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	created_at_ns INTEGER NOT NULL
);
`

// created_at_ns carries the epoch nanoseconds for range scans; RFC3339Nano
// text does not compare lexically once trailing zeros are trimmed.
const indexes = `
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
CREATE INDEX IF NOT EXISTS idx_mail_recipient ON mail(to_session, created_at_ns);
CREATE INDEX IF NOT EXISTS idx_mail_project ON mail(project_id, created_at_ns);
CREATE INDEX IF NOT EXISTS idx_mail_thread ON mail(thread_id, created_at_ns);
`

// Store implements app.SessionStore and app.MailStore.
type Store struct {
	db *sql.DB
}

// New opens the SQLite database at path (creating parent dirs and schema).
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return prepare(db)
}

// NewInMemory opens a private in-memory database. For tests.
func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// The mailbox store is written and read from concurrent waiters; a
	// memory DB disappears when its sole connection closes.
	db.SetMaxOpenConns(1)
	return prepare(db)
}

func prepare(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite indexes: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection. Call on shutdown for clean exit.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// parseTime parses RFC3339Nano or returns zero time and error.
func parseTime(v, context string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: parse timestamp %q: %w", context, v, err)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(sess domain.Session) error {
	completed := ""
	if !sess.CompletedAt.IsZero() {
		completed = formatTime(sess.CompletedAt)
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, project_id, parent_session_id, mode, strategy, status, created_at, last_activity_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.ParentSessionID, string(sess.Mode), sess.Strategy,
		string(sess.Status), formatTime(sess.CreatedAt), formatTime(sess.LastActivityAt), completed,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns the session or domain.ErrNotFound.
func (s *Store) GetSession(id string) (domain.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, parent_session_id, mode, strategy, status, created_at, last_activity_at, completed_at
		 FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// UpdateSessionStatus persists a status change. The caller (lifecycle
// manager) has already validated the transition; writes for one session id
// are serialized by the database.
func (s *Store) UpdateSessionStatus(id string, status domain.SessionStatus, lastActivity, completedAt time.Time) error {
	completed := ""
	if !completedAt.IsZero() {
		completed = formatTime(completedAt)
	}
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, last_activity_at = ?, completed_at = ? WHERE id = ?`,
		string(status), formatTime(lastActivity), completed, id,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// TouchSession bumps last_activity_at. Missing sessions are ignored.
func (s *Store) TouchSession(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET last_activity_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// ListSessionsByProject returns every session in the project, oldest first.
func (s *Store) ListSessionsByProject(projectID string) ([]domain.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, parent_session_id, mode, strategy, status, created_at, last_activity_at, completed_at
		 FROM sessions WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions iteration: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (domain.Session, error) {
	var sess domain.Session
	var mode, status, ca, la, comp string
	if err := r.Scan(&sess.ID, &sess.ProjectID, &sess.ParentSessionID, &mode, &sess.Strategy, &status, &ca, &la, &comp); err != nil {
		return domain.Session{}, err
	}
	sess.Mode = domain.SessionMode(mode)
	sess.Status = domain.SessionStatus(status)
	var err error
	if sess.CreatedAt, err = parseTime(ca, "sessions created_at"); err != nil {
		return domain.Session{}, err
	}
	if sess.LastActivityAt, err = parseTime(la, "sessions last_activity_at"); err != nil {
		return domain.Session{}, err
	}
	if comp != "" {
		if sess.CompletedAt, err = parseTime(comp, "sessions completed_at"); err != nil {
			return domain.Session{}, err
		}
	}
	return sess, nil
}

// CreateMail appends a message. Mail rows are never updated.
func (s *Store) CreateMail(m domain.MailMessage) error {
	body, err := domain.EncodeBody(m.Body)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO mail (id, project_id, from_session, to_session, scope, reply_to, thread_id, mail_type, priority, subject, body, created_at, created_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.FromSessionID, m.ToSessionID, string(m.Scope), m.ReplyToMailID,
		m.ThreadID, string(m.Type), string(m.Priority), m.Subject, string(body),
		formatTime(m.CreatedAt), m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert mail: %w", err)
	}
	return nil
}

// GetMail returns the message or domain.ErrNotFound.
func (s *Store) GetMail(id string) (domain.MailMessage, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, from_session, to_session, scope, reply_to, thread_id, mail_type, priority, subject, body, created_at
		 FROM mail WHERE id = ?`, id)
	m, err := scanMail(row)
	if err == sql.ErrNoRows {
		return domain.MailMessage{}, fmt.Errorf("mail %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MailMessage{}, fmt.Errorf("get mail: %w", err)
	}
	return m, nil
}

// ListInbox returns candidate inbox rows for a session: direct messages plus
// every broadcast in the project, newer than since, oldest first. Scope
// membership is resolved by the caller at read time.
func (s *Store) ListInbox(projectID, sessionID string, since time.Time) ([]domain.MailMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, from_session, to_session, scope, reply_to, thread_id, mail_type, priority, subject, body, created_at
		 FROM mail
		 WHERE project_id = ? AND (to_session = ? OR to_session = '') AND created_at_ns > ?
		 ORDER BY created_at_ns, id`,
		projectID, sessionID, sinceNanos(since))
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	return collectMail(rows)
}

// ListThread returns every message in a thread, oldest first.
func (s *Store) ListThread(threadID string) ([]domain.MailMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, from_session, to_session, scope, reply_to, thread_id, mail_type, priority, subject, body, created_at
		 FROM mail WHERE thread_id = ? ORDER BY created_at_ns, id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread: %w", err)
	}
	return collectMail(rows)
}

// sinceNanos converts the since filter. A zero time means "everything";
// UnixNano on the zero time is a large negative number, which works, but be
// explicit about the sentinel.
func sinceNanos(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.UnixNano()
}

func collectMail(rows *sql.Rows) ([]domain.MailMessage, error) {
	defer rows.Close()
	var out []domain.MailMessage
	for rows.Next() {
		m, err := scanMail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mail: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mail iteration: %w", err)
	}
	return out, nil
}

func scanMail(r rowScanner) (domain.MailMessage, error) {
	var m domain.MailMessage
	var scope, mailType, priority, body, ca string
	if err := r.Scan(&m.ID, &m.ProjectID, &m.FromSessionID, &m.ToSessionID, &scope, &m.ReplyToMailID,
		&m.ThreadID, &mailType, &priority, &m.Subject, &body, &ca); err != nil {
		return domain.MailMessage{}, err
	}
	m.Scope = domain.MailScope(scope)
	m.Type = domain.MailType(mailType)
	m.Priority = domain.MailPriority(priority)
	var err error
	if m.CreatedAt, err = parseTime(ca, "mail created_at"); err != nil {
		return domain.MailMessage{}, err
	}
	if m.Body, err = domain.DecodeBody(m.Type, []byte(body)); err != nil {
		return domain.MailMessage{}, err
	}
	return m, nil
}
