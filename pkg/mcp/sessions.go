package mcp

import "sync"

// SessionRegistry maps workflow IDs to the MCP session that last ran them.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // workflowID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a workflow with a session, replacing any earlier one.
func (r *SessionRegistry) Register(workflowID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[workflowID] = sessionID
}

// SessionFor returns the session watching workflowID, if any.
func (r *SessionRegistry) SessionFor(workflowID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[workflowID]
	return sid, ok
}

// Remove deletes every workflow mapping for the given session ID.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for wid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, wid)
		}
	}
}

// Len returns the number of watched workflows.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
