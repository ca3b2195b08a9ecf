package app

import (
	"fmt"
	"log"
	"sync"

	"github.com/jaakkos/conductor/internal/bus"
	"github.com/jaakkos/conductor/internal/domain"
)

// FilterMode selects how an observer connection filters events.
type FilterMode string

const (
	FilterAll      FilterMode = "all"
	FilterSessions FilterMode = "sessions"
	FilterProject  FilterMode = "project"
)

// Filter is one observer connection's view of the event stream.
type Filter struct {
	Mode       FilterMode
	SessionIDs map[string]bool // used when Mode == FilterSessions
	ProjectID  string          // used when Mode == FilterProject
}

// Matches reports whether an envelope passes the filter.
func (f Filter) Matches(ev domain.EventEnvelope) bool {
	switch f.Mode {
	case FilterAll:
		return true
	case FilterSessions:
		for _, id := range ev.SessionIDs {
			if f.SessionIDs[id] {
				return true
			}
		}
		return false
	case FilterProject:
		return ev.ProjectID == f.ProjectID
	}
	return false
}

// Sink delivers one envelope to an observer connection. The transport behind
// it guarantees in-order delivery per connection; a sink error is logged and
// the event dropped for that connection only.
type Sink func(domain.EventEnvelope) error

// Bridge is a permanent bus subscriber that re-emits filtered events to each
// live observer connection, preserving per-connection emission order. It
// owns no domain data, only filter state with connection lifetime.
type Bridge struct {
	logger *log.Logger
	unsub  func()

	mu    sync.Mutex
	conns map[string]*bridgeConn
}

type bridgeConn struct {
	id     string
	filter Filter
	sink   Sink

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []domain.EventEnvelope
	closed bool
	done   chan struct{}
}

// NewBridge attaches a bridge to the bus. Internal sync pokes are not
// forwarded to observers.
func NewBridge(b *bus.Bus, logger *log.Logger) *Bridge {
	br := &Bridge{
		logger: logger,
		conns:  make(map[string]*bridgeConn),
	}
	br.unsub = b.Subscribe("*", br.fanOut)
	return br
}

// Attach registers an observer connection under a stable connection id with
// an initial filter. Re-attaching an existing id replaces the connection.
func (br *Bridge) Attach(connID string, f Filter, sink Sink) {
	conn := &bridgeConn{id: connID, filter: normalizeFilter(f), sink: sink, done: make(chan struct{})}
	conn.cond = sync.NewCond(&conn.mu)

	br.mu.Lock()
	old := br.conns[connID]
	br.conns[connID] = conn
	br.mu.Unlock()

	if old != nil {
		old.close()
	}
	go conn.deliver(br.logger)
}

// SetFilter replaces a connection's filter. Already-queued events are not
// re-filtered: filtering is forward-looking only.
func (br *Bridge) SetFilter(connID string, f Filter) error {
	br.mu.Lock()
	conn, ok := br.conns[connID]
	br.mu.Unlock()
	if !ok {
		return fmt.Errorf("connection %s: %w", connID, domain.ErrNotFound)
	}
	conn.mu.Lock()
	conn.filter = normalizeFilter(f)
	conn.mu.Unlock()
	return nil
}

// Detach deregisters a connection. Safe to call multiple times; the
// transport calls it synchronously on disconnect.
func (br *Bridge) Detach(connID string) {
	br.mu.Lock()
	conn, ok := br.conns[connID]
	delete(br.conns, connID)
	br.mu.Unlock()
	if ok {
		conn.close()
		<-conn.done
	}
}

// Close detaches every connection and unsubscribes from the bus.
func (br *Bridge) Close() {
	br.unsub()
	br.mu.Lock()
	conns := make([]*bridgeConn, 0, len(br.conns))
	for _, c := range br.conns {
		conns = append(conns, c)
	}
	br.conns = make(map[string]*bridgeConn)
	br.mu.Unlock()
	for _, c := range conns {
		c.close()
		<-c.done
	}
}

// ConnectionCount returns the number of live observer connections.
func (br *Bridge) ConnectionCount() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return len(br.conns)
}

// fanOut runs on the bridge's bus dispatch goroutine, so connections see
// events in publish order. Each connection gets its own queue: a slow sink
// delays only its own connection.
func (br *Bridge) fanOut(ev domain.EventEnvelope) {
	if ev.Type == domain.EventMailSync {
		return
	}
	br.mu.Lock()
	conns := make([]*bridgeConn, 0, len(br.conns))
	for _, c := range br.conns {
		conns = append(conns, c)
	}
	br.mu.Unlock()

	for _, c := range conns {
		c.enqueue(ev)
	}
}

func normalizeFilter(f Filter) Filter {
	if f.Mode == "" {
		f.Mode = FilterAll
	}
	if f.Mode == FilterSessions && f.SessionIDs == nil {
		f.SessionIDs = make(map[string]bool)
	}
	return f
}

func (c *bridgeConn) enqueue(ev domain.EventEnvelope) {
	c.mu.Lock()
	if c.closed || !c.filter.Matches(ev) {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()
	c.cond.Signal()
}

func (c *bridgeConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cond.Signal()
}

func (c *bridgeConn) deliver(logger *log.Logger) {
	defer close(c.done)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		ev := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := c.sink(ev); err != nil {
			logger.Printf("Bridge: deliver %s to %s failed: %v", ev.Type, c.id, err)
		}
	}
}
