package main

import (
	"sync"

	"github.com/dgnsrekt/meet_torture/internal/participant"
)

// roster points the status API at the manager of the scenario currently
// running. Each scenario owns its own manager.
type roster struct {
	mu      sync.RWMutex
	current *participant.Manager
}

func (r *roster) set(m *participant.Manager) {
	r.mu.Lock()
	r.current = m
	r.mu.Unlock()
}

func (r *roster) manager() *participant.Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *roster) All() []*participant.Participant {
	if m := r.manager(); m != nil {
		return m.All()
	}
	return nil
}

func (r *roster) Find(name string) (*participant.Participant, bool) {
	if m := r.manager(); m != nil {
		return m.Find(name)
	}
	return nil, false
}
