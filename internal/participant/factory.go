package participant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/meet_torture/internal/session"
)

// SessionBuilder opens a new browser session configured by opts.
type SessionBuilder func(ctx context.Context, opts Options) (session.Session, error)

// Factory builds participants, choosing the session builder and platform by
// participant type.
type Factory struct {
	settings Settings
	shared   *SharedBrowsers

	mu        sync.RWMutex
	builders  map[Type]SessionBuilder
	platforms map[Type]Platform
}

// NewFactory returns a factory with the web platform registered for every
// web type and no session builders.
func NewFactory(settings Settings, shared *SharedBrowsers) *Factory {
	f := &Factory{
		settings:  settings,
		shared:    shared,
		builders:  make(map[Type]SessionBuilder),
		platforms: make(map[Type]Platform),
	}
	for _, t := range Types {
		if t.IsWeb() {
			f.platforms[t] = WebPlatform()
		}
	}
	return f
}

// Register installs the session builder for t.
func (f *Factory) Register(t Type, b SessionBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[t] = b
}

// RegisterPlatform replaces the platform used for t.
func (f *Factory) RegisterPlatform(t Type, p Platform) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.platforms[t] = p
}

// Registered lists types that have a session builder.
func (f *Factory) Registered() []Type {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Type
	for _, t := range Types {
		if _, ok := f.builders[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Create builds a participant for configKey. The display name defaults to
// the configuration key. With OptMultitab set the session is a tab of a
// pooled browser.
func (f *Factory) Create(ctx context.Context, configKey string, opts Options) (*Participant, error) {
	typ, err := opts.Type()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", configKey, err)
	}

	f.mu.RLock()
	build, hasBuilder := f.builders[typ]
	platform, hasPlatform := f.platforms[typ]
	f.mu.RUnlock()
	if !hasBuilder {
		return nil, session.NewError(session.CodeValidation,
			fmt.Sprintf("%s: no session builder registered for type %q", configKey, typ), nil)
	}
	if !hasPlatform {
		return nil, session.NewError(session.CodeValidation,
			fmt.Sprintf("%s: no platform registered for type %q", configKey, typ), nil)
	}

	var sess session.Session
	if opts.Bool(OptMultitab) && f.shared != nil {
		sess, err = f.shared.Acquire(ctx, typ, opts, build)
	} else {
		sess, err = build(ctx, opts)
	}
	if err != nil {
		if session.CodeOf(err) != "" {
			return nil, fmt.Errorf("%s: creating session: %w", configKey, err)
		}
		return nil, session.NewError(session.CodeSession, configKey+": creating session", err)
	}

	settings := f.settings
	settings.PageLoadTimeout = opts.Duration(OptPageLoadTimeout, settings.PageLoadTimeout)
	name := opts.Name(configKey)
	slog.Info("participant created", "participant", name, "type", typ, "config_key", configKey,
		"multitab", opts.Bool(OptMultitab))
	return New(name, typ, configKey, sess, platform, settings), nil
}
