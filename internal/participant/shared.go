package participant

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/meet_torture/internal/session"
)

// DefaultMaxTabsPerBrowser bounds how many participants share one browser.
const DefaultMaxTabsPerBrowser = 16

// SharedBrowsers hands out tabs of pooled browser sessions, opening a new
// browser once every pooled one of the requested type is full.
type SharedBrowsers struct {
	reg     *session.Registry
	maxTabs int

	mu    sync.Mutex
	bases map[Type][]session.Session
}

func NewSharedBrowsers(reg *session.Registry, maxTabs int) *SharedBrowsers {
	if maxTabs <= 0 {
		maxTabs = DefaultMaxTabsPerBrowser
	}
	if reg == nil {
		reg = session.NewRegistry()
	}
	return &SharedBrowsers{reg: reg, maxTabs: maxTabs, bases: make(map[Type][]session.Session)}
}

// Registry exposes the tab bookkeeping shared by every pooled browser.
func (s *SharedBrowsers) Registry() *session.Registry { return s.reg }

// Acquire returns a new tab on a browser of type t with room to spare,
// building a browser with build when none has.
func (s *SharedBrowsers) Acquire(ctx context.Context, t Type, opts Options, build SessionBuilder) (*session.Tabbed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.bases[t][:0]
	for _, base := range s.bases[t] {
		if s.reg.Tracked(base) {
			live = append(live, base)
		}
	}
	s.bases[t] = live

	for _, base := range live {
		if s.reg.RefCount(base) < s.maxTabs {
			return session.NewTabbed(ctx, s.reg, base)
		}
	}

	base, err := build(ctx, opts)
	if err != nil {
		return nil, err
	}
	tab, err := session.NewTabbed(ctx, s.reg, base)
	if err != nil {
		if qerr := base.Quit(ctx); qerr != nil {
			slog.Warn("quitting unusable shared browser failed", "error", qerr)
		}
		return nil, err
	}
	s.bases[t] = append(s.bases[t], base)
	slog.Info("shared browser opened", "type", t, "browsers", len(s.bases[t]))
	return tab, nil
}

// Browsers returns how many pooled browsers of type t are alive.
func (s *SharedBrowsers) Browsers(t Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, base := range s.bases[t] {
		if s.reg.Tracked(base) {
			n++
		}
	}
	return n
}
