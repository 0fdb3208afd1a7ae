package participant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/meet_torture/internal/meeturl"
	"github.com/dgnsrekt/meet_torture/internal/session"
)

// OptionsFunc resolves the configured options for a configuration key.
type OptionsFunc func(configKey string) Options

// ConfigKey names the configuration entry of the participant at index.
func ConfigKey(index int) string {
	return fmt.Sprintf("participant%d", index+1)
}

// Manager owns the ordered participants of one scenario. Participants are
// created strictly in index order and are never reordered.
type Manager struct {
	factory *Factory
	options OptionsFunc

	opMu sync.Mutex

	mu           sync.RWMutex
	participants []*Participant
}

// NewManager returns an empty manager. options may be nil.
func NewManager(factory *Factory, options OptionsFunc) *Manager {
	if options == nil {
		options = func(string) Options { return NewOptions() }
	}
	return &Manager{factory: factory, options: options}
}

// Len returns how many participants have been created.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.participants)
}

// Get returns the participant at index.
func (m *Manager) Get(index int) (*Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.participants) {
		return nil, false
	}
	return m.participants[index], true
}

// All returns the participants in index order.
func (m *Manager) All() []*Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Participant(nil), m.participants...)
}

// Find returns the participant with the given name.
func (m *Manager) Find(name string) (*Participant, bool) {
	for _, p := range m.All() {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// EnsureParticipant makes the participant at index join u, creating it when
// index equals the current count. A joined participant already in u's room
// is left untouched. Asking for an index beyond the next free slot is an
// ordering error.
func (m *Manager) EnsureParticipant(ctx context.Context, index int, u *meeturl.URL, extra Options) (*Participant, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	size := m.Len()
	switch {
	case index < 0:
		return nil, session.NewError(session.CodeValidation, fmt.Sprintf("invalid participant index %d", index), nil)
	case index > size:
		return nil, session.NewError(session.CodeOrdering,
			fmt.Sprintf("cannot create participant %d: only %d exist, create them in order", index, size), nil)
	}

	var p *Participant
	if index < size {
		p, _ = m.Get(index)
		if p.State() == Quit {
			fresh, err := m.build(ctx, index, extra)
			if err != nil {
				return nil, err
			}
			m.replace(index, fresh)
			p = fresh
		} else if p.State() == Joined && p.JoinedRoomName() == u.RoomName() {
			slog.Debug("reusing participant", "participant", p.Name(), "room", u.RoomName())
			return p, nil
		}
	} else {
		fresh, err := m.build(ctx, index, extra)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.participants = append(m.participants, fresh)
		m.mu.Unlock()
		p = fresh
	}

	if err := p.JoinConference(ctx, u); err != nil {
		return p, err
	}
	return p, nil
}

// Recreate quits the participant at index, builds a fresh one in its place
// and joins it to u.
func (m *Manager) Recreate(ctx context.Context, index int, u *meeturl.URL, extra Options) (*Participant, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	old, ok := m.Get(index)
	if !ok {
		return nil, session.NewError(session.CodeNotFound, fmt.Sprintf("no participant at index %d", index), nil)
	}
	old.Quit(ctx)

	fresh, err := m.build(ctx, index, extra)
	if err != nil {
		return nil, err
	}
	m.replace(index, fresh)
	if err := fresh.JoinConference(ctx, u); err != nil {
		return fresh, err
	}
	return fresh, nil
}

func (m *Manager) build(ctx context.Context, index int, extra Options) (*Participant, error) {
	key := ConfigKey(index)
	return m.factory.Create(ctx, key, m.options(key).Merge(extra))
}

func (m *Manager) replace(index int, p *Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[index] = p
}

// HangUp hangs up the participant at index if it exists.
func (m *Manager) HangUp(ctx context.Context, index int) error {
	p, ok := m.Get(index)
	if !ok {
		return nil
	}
	return p.HangUp(ctx)
}

// HangUpFrom hangs up every participant at index n or above. The
// participants stay in place for later reuse.
func (m *Manager) HangUpFrom(ctx context.Context, n int) error {
	all := m.All()
	for i := n; i < len(all); i++ {
		if err := all[i].HangUp(ctx); err != nil {
			return fmt.Errorf("hang up %s: %w", all[i].Name(), err)
		}
	}
	return nil
}

// HangUpAll hangs up every participant, logging failures.
func (m *Manager) HangUpAll(ctx context.Context) {
	for _, p := range m.All() {
		if err := p.HangUp(ctx); err != nil {
			slog.Warn("hang up failed", "participant", p.Name(), "error", err)
		}
	}
}

// CloseParticipant hangs up and quits the participant at index. Its slot
// keeps the quit participant so later indices do not move; the next
// EnsureParticipant for that index builds a fresh one.
func (m *Manager) CloseParticipant(ctx context.Context, index int) {
	if p, ok := m.Get(index); ok {
		p.Close(ctx)
	}
}

// Cleanup quits every participant ever created and forgets them. One
// failing participant never stops the others from being quit.
func (m *Manager) Cleanup(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	all := m.participants
	m.participants = nil
	m.mu.Unlock()

	for _, p := range all {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("participant cleanup panicked", "participant", p.Name(), "panic", r)
				}
			}()
			p.Quit(ctx)
		}()
	}
	slog.Info("participants cleaned up", "count", len(all))
}
