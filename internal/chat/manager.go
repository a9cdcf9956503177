package chat

import "sync"

// Manager owns one Workflow per conversation ID. Transcript state is
// in-memory only: a workflow (and its log) exists for the process lifetime
// and is rebuilt empty after a restart even though the conversation row
// survives in the registry.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	flows  map[string]*Workflow
	client Recommender
}

// NewManager returns a Manager creating workflows bound to client.
func NewManager(client Recommender) *Manager {
	return &Manager{flows: make(map[string]*Workflow), client: client}
}

// Get returns the workflow for a conversation, creating an idle one on
// first access.
func (m *Manager) Get(conversationID string) *Workflow {
	m.mu.RLock()
	w, ok := m.flows[conversationID]
	m.mu.RUnlock()
	if ok {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.flows[conversationID]; ok {
		return w
	}
	w = NewWorkflow(m.client)
	m.flows[conversationID] = w
	return w
}

// Remove drops a conversation's workflow and its in-memory transcript.
func (m *Manager) Remove(conversationID string) {
	m.mu.Lock()
	delete(m.flows, conversationID)
	m.mu.Unlock()
}
