package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jaakkos/conductor/internal/bus"
	"github.com/jaakkos/conductor/internal/domain"
)

const defaultWaitPoll = 2 * time.Second

// Mailbox implements send/broadcast/reply/inbox/wait over the mail store and
// the event bus. Messages are immutable; delivery is a read-side concept.
type Mailbox struct {
	mail     MailStore
	sessions SessionStore
	bus      *bus.Bus
	logger   *log.Logger
	now      func() time.Time
	poll     time.Duration
	signal   func() // poked after each successful write; see TouchNotifySignal
}

// MailboxOption configures the mailbox service.
type MailboxOption func(*Mailbox)

// WithWaitPoll sets the Wait fallback poll interval (default 2s).
func WithWaitPoll(d time.Duration) MailboxOption {
	return func(mb *Mailbox) {
		if d > 0 {
			mb.poll = d
		}
	}
}

// WithMailClock overrides the time source (tests).
func WithMailClock(now func() time.Time) MailboxOption {
	return func(mb *Mailbox) { mb.now = now }
}

// WithMailWriteSignal sets a hook poked after every successful mail write,
// typically TouchNotifySignal on the store's signal file.
func WithMailWriteSignal(fn func()) MailboxOption {
	return func(mb *Mailbox) { mb.signal = fn }
}

// NewMailbox returns a mailbox service over the given stores and bus.
func NewMailbox(mail MailStore, sessions SessionStore, b *bus.Bus, logger *log.Logger, opts ...MailboxOption) *Mailbox {
	mb := &Mailbox{
		mail:     mail,
		sessions: sessions,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		poll:     defaultWaitPoll,
	}
	for _, o := range opts {
		o(mb)
	}
	return mb
}

// SendOptions carries the optional send parameters.
type SendOptions struct {
	Priority domain.MailPriority // default normal
	ReplyTo  string              // inherit this message's thread
}

// Send creates a direct message from one session to another, persists it,
// and publishes a mail:received event for the recipient.
func (mb *Mailbox) Send(from, to string, t domain.MailType, subject string, body domain.MailBody, opts SendOptions) (domain.MailMessage, error) {
	sender, err := mb.sessions.GetSession(from)
	if err != nil {
		return domain.MailMessage{}, err
	}
	if to == "" {
		return domain.MailMessage{}, fmt.Errorf("direct send needs a recipient, use Broadcast for scoped mail: %w", domain.ErrInvalidScope)
	}
	if _, err := mb.sessions.GetSession(to); err != nil {
		return domain.MailMessage{}, err
	}
	msg, err := mb.buildMessage(sender, to, "", t, subject, body, opts)
	if err != nil {
		return domain.MailMessage{}, err
	}
	if err := mb.mail.CreateMail(msg); err != nil {
		return domain.MailMessage{}, err
	}
	_ = mb.sessions.TouchSession(from, msg.CreatedAt)
	mb.touchSignal()

	mb.logger.Printf("Mail %s: %s → %s (%s, %s)", msg.ID, from, to, msg.Type, msg.Priority)
	mb.publishReceived(msg, to)
	return msg, nil
}

// Broadcast creates one scoped message with no direct recipient and publishes
// one mail:received event per recipient resolved right now. The recipient set
// is not stored on the message: inbox reads re-resolve the scope, so the
// persisted message is unaffected by membership changes between send and
// read.
func (mb *Mailbox) Broadcast(from string, scope domain.MailScope, t domain.MailType, subject string, body domain.MailBody, opts SendOptions) (domain.MailMessage, []string, error) {
	sender, err := mb.sessions.GetSession(from)
	if err != nil {
		return domain.MailMessage{}, nil, err
	}
	if scope == "" {
		return domain.MailMessage{}, nil, fmt.Errorf("broadcast needs a scope: %w", domain.ErrInvalidScope)
	}
	all, err := mb.sessions.ListSessionsByProject(sender.ProjectID)
	if err != nil {
		return domain.MailMessage{}, nil, err
	}
	recipients, err := ResolveScope(scope, sender, all)
	if err != nil {
		return domain.MailMessage{}, nil, err
	}

	msg, err := mb.buildMessage(sender, "", scope, t, subject, body, opts)
	if err != nil {
		return domain.MailMessage{}, nil, err
	}
	if err := mb.mail.CreateMail(msg); err != nil {
		return domain.MailMessage{}, nil, err
	}
	_ = mb.sessions.TouchSession(from, msg.CreatedAt)
	mb.touchSignal()

	ids := make([]string, 0, len(recipients))
	for id := range recipients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	mb.logger.Printf("Mail %s: %s broadcast %s to %d session(s)", msg.ID, from, scope, len(ids))
	for _, id := range ids {
		mb.publishReceived(msg, id)
	}
	return msg, ids, nil
}

// ReplyOptions carries the optional reply parameters.
type ReplyOptions struct {
	Type     domain.MailType     // default response
	Priority domain.MailPriority // default normal
}

// Reply creates a message in the original's thread, addressed back to the
// original sender.
func (mb *Mailbox) Reply(from, mailID string, body domain.MailBody, opts ReplyOptions) (domain.MailMessage, error) {
	original, err := mb.mail.GetMail(mailID)
	if err != nil {
		return domain.MailMessage{}, err
	}
	sender, err := mb.sessions.GetSession(from)
	if err != nil {
		return domain.MailMessage{}, err
	}
	t := opts.Type
	if t == "" {
		t = domain.MailResponse
	}
	msg, err := mb.buildMessage(sender, original.FromSessionID, "", t, "Re: "+original.Subject, body, SendOptions{
		Priority: opts.Priority,
		ReplyTo:  mailID,
	})
	if err != nil {
		return domain.MailMessage{}, err
	}
	if err := mb.mail.CreateMail(msg); err != nil {
		return domain.MailMessage{}, err
	}
	_ = mb.sessions.TouchSession(from, msg.CreatedAt)
	mb.touchSignal()

	mb.logger.Printf("Mail %s: %s replied to %s (thread %s)", msg.ID, from, mailID, msg.ThreadID)
	mb.publishReceived(msg, original.FromSessionID)
	return msg, nil
}

// Inbox returns the session's messages newer than since: direct mail plus
// broadcasts whose scope, resolved at read time, includes the session.
// Sorted by priority descending, then creation time ascending: critical
// first, oldest first within a tier.
func (mb *Mailbox) Inbox(sessionID string, since time.Time, typeFilter domain.MailType) ([]domain.MailMessage, error) {
	recipient, err := mb.sessions.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if typeFilter != "" && !domain.ValidMailType(typeFilter) {
		return nil, fmt.Errorf("unknown mail type %q", typeFilter)
	}

	var candidates []domain.MailMessage
	err = readRetry(func() error {
		var e error
		candidates, e = mb.mail.ListInbox(recipient.ProjectID, sessionID, since)
		return e
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []domain.MailMessage{}, nil
	}

	var all []domain.Session
	err = readRetry(func() error {
		var e error
		all, e = mb.sessions.ListSessionsByProject(recipient.ProjectID)
		return e
	})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Session, len(all))
	for _, s := range all {
		byID[s.ID] = s
	}

	out := make([]domain.MailMessage, 0, len(candidates))
	for _, m := range candidates {
		if typeFilter != "" && m.Type != typeFilter {
			continue
		}
		if !m.IsBroadcast() {
			out = append(out, m)
			continue
		}
		if mb.inScope(m, sessionID, byID, all) {
			out = append(out, m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := domain.PriorityRank(out[i].Priority), domain.PriorityRank(out[j].Priority)
		if ri != rj {
			return ri > rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Thread returns every message sharing a thread id, oldest first.
func (mb *Mailbox) Thread(threadID string) ([]domain.MailMessage, error) {
	var msgs []domain.MailMessage
	err := readRetry(func() error {
		var e error
		msgs, e = mb.mail.ListThread(threadID)
		return e
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return msgs, nil
}

// Wait blocks until the session's inbox has messages newer than since, the
// timeout elapses (empty result, not an error), or ctx is cancelled. Each
// call is an independent one-shot bus subscription plus a poll ticker;
// concurrent waits do not interfere with each other or with senders. A
// critical message preempts the wait immediately, bypassing the since
// filter. If the waiting session itself reaches a terminal status the wait
// resolves empty.
func (mb *Mailbox) Wait(ctx context.Context, sessionID string, timeout time.Duration, since time.Time) ([]domain.MailMessage, error) {
	// Buffered so the bus dispatch goroutine never stalls on this waiter;
	// a dropped wake is recovered by the poll ticker.
	wake := make(chan domain.EventEnvelope, 16)
	unsub := mb.bus.Subscribe("*", func(ev domain.EventEnvelope) {
		if !waitRelevant(ev, sessionID) {
			return
		}
		select {
		case wake <- ev:
		default:
		}
	})
	defer unsub()

	// Subscribe before the first check so a send landing in between still
	// wakes us.
	msgs, err := mb.Inbox(sessionID, since, "")
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return msgs, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(mb.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return []domain.MailMessage{}, nil
		case <-ticker.C:
			msgs, err := mb.Inbox(sessionID, since, "")
			if err != nil {
				mb.logger.Printf("Wait: inbox check failed for %s: %v", sessionID, err)
				continue
			}
			if len(msgs) > 0 {
				return msgs, nil
			}
		case ev := <-wake:
			if ev.Type == domain.EventSessionUpdated {
				if payload, ok := ev.Payload.(domain.SessionUpdatedPayload); ok &&
					payload.SessionID == sessionID && payload.NewStatus.IsTerminal() {
					return []domain.MailMessage{}, nil
				}
				continue
			}
			if msg, ok := mb.criticalPreempt(ev, sessionID); ok {
				return []domain.MailMessage{msg}, nil
			}
			msgs, err := mb.Inbox(sessionID, since, "")
			if err != nil {
				mb.logger.Printf("Wait: inbox check failed for %s: %v", sessionID, err)
				continue
			}
			if len(msgs) > 0 {
				return msgs, nil
			}
		}
	}
}

// waitRelevant filters bus events down to the ones that can unblock a wait
// for this session: mail addressed to it, store sync pokes, and its own
// lifecycle updates.
func waitRelevant(ev domain.EventEnvelope, sessionID string) bool {
	switch ev.Type {
	case domain.EventMailSync:
		return true
	case domain.EventMailReceived, domain.EventSessionUpdated:
		for _, id := range ev.SessionIDs {
			if id == sessionID {
				return true
			}
		}
	}
	return false
}

// criticalPreempt returns the critical message behind a mail:received event
// addressed to the session, letting Wait return it even when the since
// filter would have excluded it.
func (mb *Mailbox) criticalPreempt(ev domain.EventEnvelope, sessionID string) (domain.MailMessage, bool) {
	payload, ok := ev.Payload.(domain.MailReceivedPayload)
	if !ok || payload.Priority != domain.PriorityCritical {
		return domain.MailMessage{}, false
	}
	var msg domain.MailMessage
	err := readRetry(func() error {
		var e error
		msg, e = mb.mail.GetMail(payload.MailID)
		return e
	})
	if err != nil {
		mb.logger.Printf("Wait: critical mail %s fetch failed: %v", payload.MailID, err)
		return domain.MailMessage{}, false
	}
	return msg, true
}

func (mb *Mailbox) buildMessage(sender domain.Session, to string, scope domain.MailScope, t domain.MailType, subject string, body domain.MailBody, opts SendOptions) (domain.MailMessage, error) {
	if !domain.ValidMailType(t) {
		return domain.MailMessage{}, fmt.Errorf("unknown mail type %q", t)
	}
	priority := opts.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !domain.ValidPriority(priority) {
		return domain.MailMessage{}, fmt.Errorf("unknown priority %q", priority)
	}
	if body != nil && domain.BodyType(body) != t {
		return domain.MailMessage{}, fmt.Errorf("body %T does not match mail type %s", body, t)
	}

	now := mb.now()
	msg := domain.MailMessage{
		ID:            domain.NewMailID(now),
		ProjectID:     sender.ProjectID,
		FromSessionID: sender.ID,
		ToSessionID:   to,
		Scope:         scope,
		Type:          t,
		Priority:      priority,
		Subject:       subject,
		Body:          body,
		CreatedAt:     now,
	}
	if opts.ReplyTo != "" {
		original, err := mb.mail.GetMail(opts.ReplyTo)
		if err != nil {
			return domain.MailMessage{}, err
		}
		msg.ReplyToMailID = original.ID
		msg.ThreadID = original.ThreadID
	} else {
		msg.ThreadID = msg.ID
	}
	return msg, nil
}

func (mb *Mailbox) touchSignal() {
	if mb.signal != nil {
		mb.signal()
	}
}

func (mb *Mailbox) publishReceived(msg domain.MailMessage, recipient string) {
	mb.bus.Publish(domain.EventEnvelope{
		Type:       domain.EventMailReceived,
		ProjectID:  msg.ProjectID,
		SessionIDs: []string{recipient},
		Payload: domain.MailReceivedPayload{
			ProjectID:   msg.ProjectID,
			ToSessionID: msg.ToSessionID,
			Scope:       msg.Scope,
			MailID:      msg.ID,
			Priority:    msg.Priority,
			Timestamp:   msg.CreatedAt,
		},
	})
}

// inScope reports whether the session is in a broadcast's recipient set,
// resolved against the current session list.
func (mb *Mailbox) inScope(m domain.MailMessage, sessionID string, byID map[string]domain.Session, all []domain.Session) bool {
	sender, ok := byID[m.FromSessionID]
	if !ok {
		// Sender retired and physically gone; only project-wide broadcasts
		// remain resolvable.
		return m.Scope == domain.ScopeAll
	}
	set, err := ResolveScope(m.Scope, sender, all)
	if err != nil {
		return false
	}
	return set[sessionID]
}
