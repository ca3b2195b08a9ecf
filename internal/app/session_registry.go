package app

import "sync"

// ClientRegistry tracks connected MCP client connections and the agent
// session each one speaks for. Multiple clients can be active at once
// (stdio driver plus HTTP workers); the tool layer uses the binding to
// infer caller identity, and the bridge uses the client id as its
// connection handle.
type ClientRegistry struct {
	mu       sync.RWMutex
	clients  map[string]string // clientID → agent session id
	sessions map[string]string // agent session id → clientID (reverse)
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients:  make(map[string]string),
		sessions: make(map[string]string),
	}
}

// Bind associates a client connection with an agent session id. If the
// session was previously bound to a different client, the old binding is
// dropped.
func (r *ClientRegistry) Bind(clientID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if oldCID, ok := r.sessions[sessionID]; ok && oldCID != clientID {
		delete(r.clients, oldCID)
	}
	r.clients[clientID] = sessionID
	r.sessions[sessionID] = clientID
}

// SessionFor returns the agent session bound to a client, or "".
func (r *ClientRegistry) SessionFor(clientID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[clientID]
}

// ClientFor returns the client bound to an agent session, or "".
func (r *ClientRegistry) ClientFor(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Remove unregisters a client (e.g. on disconnect). Idempotent.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sid, ok := r.clients[clientID]; ok {
		delete(r.sessions, sid)
	}
	delete(r.clients, clientID)
}

// Count returns the number of bound clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
