package participant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/meet_torture/internal/meeturl"
	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/session/sessiontest"
)

// meet plays the conferencing client inside a fake session.
type meet struct {
	mu       sync.Mutex
	inMUC    bool
	ice      bool
	upload   float64
	download float64
	streams  int
	members  int
	broken   bool
	title    string
	scripts  []string
}

func newMeet() *meet {
	return &meet{inMUC: true, ice: true, upload: 120, download: 340}
}

func (m *meet) set(fn func(m *meet)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *meet) ran(script string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scripts {
		if s == script {
			return true
		}
	}
	return false
}

func (m *meet) respond(handle, script string, args []any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, script)
	if script == scriptReadyState {
		return "complete", nil
	}
	if m.broken {
		return nil, errors.New("APP is not defined")
	}
	switch script {
	case scriptInMUC:
		return m.inMUC, nil
	case scriptICEConnected:
		return m.ice, nil
	case scriptStats:
		return map[string]any{"bitrate": map[string]any{"upload": m.upload, "download": m.download}}, nil
	case scriptRemoteStreams:
		return float64(m.streams), nil
	case scriptMemberCount:
		return float64(m.members), nil
	case scriptEndpointID:
		return "ep-" + handle, nil
	case scriptLibVersion:
		return "1.0.0", nil
	case scriptStampTitle:
		if len(args) > 0 {
			m.title, _ = args[0].(string)
		}
	}
	return nil, nil
}

// manualScheduler fires scheduled functions only when Tick is called.
type manualScheduler struct {
	mu      sync.Mutex
	active  map[int]func()
	next    int
	started int
	stopped int
}

func (s *manualScheduler) Every(interval time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.active = make(map[int]func())
	}
	id := s.next
	s.next++
	s.active[id] = fn
	s.started++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.active[id]; ok {
			delete(s.active, id)
			s.stopped++
		}
	}
}

func (s *manualScheduler) Tick() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.active))
	for _, fn := range s.active {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *manualScheduler) counts() (started, stopped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.stopped
}

func testSettings(sched Scheduler) Settings {
	return Settings{
		PageLoadTimeout: time.Second,
		HangUpSettle:    -1,
		PollInterval:    5 * time.Millisecond,
		Scheduler:       sched,
	}
}

func newTestParticipant(t *testing.T, typ Type) (*Participant, *sessiontest.Session, *meet, *manualScheduler) {
	t.Helper()
	fake := sessiontest.New()
	m := newMeet()
	fake.OnScript = m.respond
	sched := &manualScheduler{}
	p := New("alice", typ, "participant1", fake, WebPlatform(), testSettings(sched))
	return p, fake, m, sched
}

func roomURL(room string) *meeturl.URL {
	return meeturl.New("https://meet.example.org", room)
}

// fleet builds chrome participants over fresh fakes and remembers them.
type fleet struct {
	mu     sync.Mutex
	fakes  []*sessiontest.Session
	meets  []*meet
	failAt map[int]error
	sched  *manualScheduler
}

func (f *fleet) build(ctx context.Context, opts Options) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failAt[len(f.fakes)]; err != nil {
		f.fakes = append(f.fakes, nil)
		f.meets = append(f.meets, nil)
		return nil, err
	}
	fake := sessiontest.New()
	m := newMeet()
	fake.OnScript = m.respond
	f.fakes = append(f.fakes, fake)
	f.meets = append(f.meets, m)
	return fake, nil
}

func (f *fleet) fake(i int) *sessiontest.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fakes[i]
}

func (f *fleet) built() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fakes)
}

func newFleetManager(t *testing.T, options OptionsFunc) (*Manager, *fleet) {
	t.Helper()
	fl := &fleet{failAt: map[int]error{}, sched: &manualScheduler{}}
	f := NewFactory(testSettings(fl.sched), NewSharedBrowsers(nil, 2))
	f.Register(Chrome, fl.build)
	f.Register(Firefox, fl.build)
	m := NewManager(f, options)
	require.Equal(t, 0, m.Len())
	return m, fl
}
