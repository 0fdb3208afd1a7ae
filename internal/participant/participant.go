// Package participant models the conference parties a scenario drives: their
// join/hang-up state machine, the platform queries run against their
// sessions, the factory building them and the manager owning them.
package participant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/meet_torture/internal/meeturl"
	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/wait"
)

// State is a participant's position in its lifecycle.
type State int

const (
	NotJoined State = iota
	Joined
	Quit
)

func (s State) String() string {
	switch s {
	case NotJoined:
		return "not_joined"
	case Joined:
		return "joined"
	case Quit:
		return "quit"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Default waits and intervals.
const (
	DefaultPageLoadTimeout   = 30 * time.Second
	DefaultKeepAliveInterval = 20 * time.Second
	DefaultHangUpSettle      = 500 * time.Millisecond
	DefaultPollInterval      = 500 * time.Millisecond

	DefaultMUCTimeout       = 10 * time.Second
	DefaultICETimeout       = 15 * time.Second
	DefaultModeratorTimeout = 5 * time.Second
	DefaultDataTimeout      = 20 * time.Second
	DefaultStreamsTimeout   = 15 * time.Second
)

// Settings tunes timing for one participant.
type Settings struct {
	PageLoadTimeout   time.Duration
	KeepAliveInterval time.Duration
	HangUpSettle      time.Duration
	PollInterval      time.Duration
	Scheduler         Scheduler
}

func (s Settings) withDefaults() Settings {
	if s.PageLoadTimeout <= 0 {
		s.PageLoadTimeout = DefaultPageLoadTimeout
	}
	if s.KeepAliveInterval <= 0 {
		s.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if s.HangUpSettle < 0 {
		s.HangUpSettle = 0
	} else if s.HangUpSettle == 0 {
		s.HangUpSettle = DefaultHangUpSettle
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.Scheduler == nil {
		s.Scheduler = TickerScheduler{}
	}
	return s
}

// Participant is one named conference party bound to its own session.
type Participant struct {
	name      string
	typ       Type
	configKey string
	sess      session.Session
	platform  Platform
	settings  Settings
	log       *slog.Logger
	keepAlive *periodic

	opMu sync.Mutex // serialises join, hang-up and quit

	mu         sync.RWMutex
	state      State
	joinedRoom string
	meetURL    *meeturl.URL
}

// New wraps sess as a participant. A negative HangUpSettle disables the
// settle pause.
func New(name string, typ Type, configKey string, sess session.Session, platform Platform, settings Settings) *Participant {
	settings = settings.withDefaults()
	p := &Participant{
		name:      name,
		typ:       typ,
		configKey: configKey,
		sess:      sess,
		platform:  platform,
		settings:  settings,
		log:       slog.With("participant", name),
	}
	p.keepAlive = newPeriodic(settings.Scheduler, settings.KeepAliveInterval, p.touch)
	return p
}

func (p *Participant) Name() string             { return p.name }
func (p *Participant) Type() Type               { return p.typ }
func (p *Participant) ConfigKey() string        { return p.configKey }
func (p *Participant) Session() session.Session { return p.sess }
func (p *Participant) KeepAliveRunning() bool   { return p.keepAlive.running() }
func (p *Participant) Settings() Settings       { return p.settings }
func (p *Participant) Platform() Platform       { return p.platform }

func (p *Participant) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// HungUp reports whether the participant is outside any conference.
func (p *Participant) HungUp() bool { return p.State() != Joined }

// JoinedRoomName returns the room last joined, or "" when hung up.
func (p *Participant) JoinedRoomName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.joinedRoom
}

// MeetURL returns a copy of the URL last loaded, or nil.
func (p *Participant) MeetURL() *meeturl.URL {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.meetURL == nil {
		return nil
	}
	return p.meetURL.Copy()
}

// JoinConference loads u unless the participant is already joined to the
// same room, in which case it does nothing. Only the room name is compared.
func (p *Participant) JoinConference(ctx context.Context, u *meeturl.URL) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.RLock()
	state, room := p.state, p.joinedRoom
	p.mu.RUnlock()

	switch {
	case state == Quit:
		return session.NewError(session.CodeClosed, p.name+": participant has quit", nil)
	case state == Joined && room == u.RoomName():
		p.log.Info("already in room, not joining again", "room", room)
		return nil
	}

	target := u.Copy().AppendConfig(p.platform.DefaultConfig, false)
	if p.platform.Load == nil {
		return session.NewError(session.CodeUnsupported, p.name+": platform cannot join conferences", nil)
	}
	err := p.platform.Load(ctx, p.sess, target, LoadOptions{
		Name:            p.name,
		Type:            p.typ,
		PageLoadTimeout: p.settings.PageLoadTimeout,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.state = Joined
	p.joinedRoom = u.RoomName()
	p.meetURL = target
	p.mu.Unlock()

	if p.keepAlive.start() {
		p.log.Debug("keep-alive started", "interval", p.settings.KeepAliveInterval)
	}
	return nil
}

// HangUp leaves the conference and parks the session on a blank page. The
// state becomes NotJoined even if the client's hang-up control failed.
func (p *Participant) HangUp(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if p.State() != Joined {
		return nil
	}

	if p.platform.Leave != nil {
		if err := p.platform.Leave(ctx, p.sess); err != nil {
			p.log.Warn("hang-up control failed, assuming session already left", "error", err)
		}
	}
	settleErr := wait.Sleep(ctx, p.settings.HangUpSettle)

	p.mu.Lock()
	p.state = NotJoined
	p.joinedRoom = ""
	p.mu.Unlock()
	p.log.Info("hung up")
	if settleErr != nil {
		return settleErr
	}

	if err := p.sess.Navigate(ctx, "about:blank", p.settings.PageLoadTimeout); err != nil {
		return err
	}
	return waitForPageLoad(ctx, p.sess)
}

// Quit disposes the session. Errors are logged, never returned, so sibling
// participants can still be torn down.
func (p *Participant) Quit(ctx context.Context) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if p.State() == Quit {
		return
	}
	p.keepAlive.cancel()
	if err := p.sess.Quit(ctx); err != nil {
		p.log.Error("quitting session failed", "error", err)
	}

	p.mu.Lock()
	p.state = Quit
	p.joinedRoom = ""
	p.mu.Unlock()
	p.log.Info("participant quit")
}

// Close hangs up best-effort and then quits.
func (p *Participant) Close(ctx context.Context) {
	if err := p.HangUp(ctx); err != nil {
		p.log.Warn("hang-up before close failed", "error", err)
	}
	p.Quit(ctx)
}

func (p *Participant) touch() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.sess.CurrentURL(ctx); err != nil {
		p.log.Debug("keep-alive failed", "error", err)
	}
}

// --- queries ---

func queryOrFalse(ctx context.Context, p *Participant, what string, q func(context.Context, session.Session) (bool, error)) bool {
	if q == nil {
		return false
	}
	ok, err := q(ctx, p.sess)
	if err != nil {
		p.log.Debug("query failed", "query", what, "error", err)
		return false
	}
	return ok
}

func (p *Participant) IsInMUC(ctx context.Context) bool {
	return queryOrFalse(ctx, p, "in_muc", p.platform.InMUC)
}

func (p *Participant) IsICEConnected(ctx context.Context) bool {
	return queryOrFalse(ctx, p, "ice_connected", p.platform.ICEConnected)
}

func (p *Participant) IsP2PConnected(ctx context.Context) bool {
	return queryOrFalse(ctx, p, "p2p_connected", p.platform.P2PConnected)
}

func (p *Participant) IsXMPPConnected(ctx context.Context) bool {
	return queryOrFalse(ctx, p, "xmpp_connected", p.platform.XMPPConnected)
}

func (p *Participant) IsModerator(ctx context.Context) bool {
	return queryOrFalse(ctx, p, "moderator", p.platform.Moderator)
}

func unsupportedQuery(name, what string) error {
	return session.NewError(session.CodeUnsupported, name+": "+what+" not available on this platform", nil)
}

// EndpointID returns the participant's endpoint id in the conference.
func (p *Participant) EndpointID(ctx context.Context) (string, error) {
	if p.platform.EndpointID == nil {
		return "", unsupportedQuery(p.name, "endpoint id")
	}
	return p.platform.EndpointID(ctx, p.sess)
}

func (p *Participant) RemoteEndpointIDs(ctx context.Context) ([]string, error) {
	if p.platform.RemoteEndpointIDs == nil {
		return nil, unsupportedQuery(p.name, "remote endpoint ids")
	}
	return p.platform.RemoteEndpointIDs(ctx, p.sess)
}

func (p *Participant) Bitrate(ctx context.Context) (Bitrate, error) {
	if p.platform.Bitrate == nil {
		return Bitrate{}, unsupportedQuery(p.name, "bitrate")
	}
	return p.platform.Bitrate(ctx, p.sess)
}

func (p *Participant) TransportProtocol(ctx context.Context) (string, error) {
	if p.platform.TransportProtocol == nil {
		return "", unsupportedQuery(p.name, "transport protocol")
	}
	return p.platform.TransportProtocol(ctx, p.sess)
}

func (p *Participant) ConfigValue(ctx context.Context, key string) (any, error) {
	if p.platform.ConfigValue == nil {
		return nil, unsupportedQuery(p.name, "config")
	}
	return p.platform.ConfigValue(ctx, p.sess, key)
}

func (p *Participant) RTPStats(ctx context.Context) (map[string]any, error) {
	if p.platform.RTPStats == nil {
		return nil, unsupportedQuery(p.name, "rtp stats")
	}
	return p.platform.RTPStats(ctx, p.sess)
}

func (p *Participant) MeetDebugLog(ctx context.Context) (string, error) {
	if p.platform.MeetDebugLog == nil {
		return "", unsupportedQuery(p.name, "debug log")
	}
	return p.platform.MeetDebugLog(ctx, p.sess)
}

// --- waits ---

func (p *Participant) waitBool(ctx context.Context, timeout time.Duration, what string, q func(context.Context, session.Session) (bool, error)) error {
	if q == nil {
		return unsupportedQuery(p.name, what)
	}
	return wait.For(ctx, timeout, p.settings.PollInterval, p.name+": "+what, func(ctx context.Context) (bool, error) {
		return q(ctx, p.sess)
	})
}

// WaitToJoinMUC waits for room membership at the signaling layer.
func (p *Participant) WaitToJoinMUC(ctx context.Context, timeout time.Duration) error {
	return p.waitBool(ctx, timeout, "join MUC", p.platform.InMUC)
}

func (p *Participant) WaitForICEConnected(ctx context.Context, timeout time.Duration) error {
	return p.waitBool(ctx, timeout, "ICE connected", p.platform.ICEConnected)
}

func (p *Participant) WaitToBecomeModerator(ctx context.Context, timeout time.Duration) error {
	return p.waitBool(ctx, timeout, "moderator role", p.platform.Moderator)
}

// WaitForSendReceiveData waits until media flows in both directions.
func (p *Participant) WaitForSendReceiveData(ctx context.Context, timeout time.Duration) error {
	if p.platform.Bitrate == nil {
		return unsupportedQuery(p.name, "bitrate")
	}
	return wait.For(ctx, timeout, p.settings.PollInterval, p.name+": send and receive data", func(ctx context.Context) (bool, error) {
		rate, err := p.platform.Bitrate(ctx, p.sess)
		return rate.Upload > 0 && rate.Download > 0, err
	})
}

// WaitForRemoteStreams waits for at least n remote participants with tracks.
func (p *Participant) WaitForRemoteStreams(ctx context.Context, n int, timeout time.Duration) error {
	if p.platform.RemoteStreams == nil {
		return unsupportedQuery(p.name, "remote streams")
	}
	return wait.For(ctx, timeout, p.settings.PollInterval, fmt.Sprintf("%s: %d remote streams", p.name, n), func(ctx context.Context) (bool, error) {
		got, err := p.platform.RemoteStreams(ctx, p.sess)
		return got >= n, err
	})
}

// WaitForParticipants waits until exactly n remote members are listed.
func (p *Participant) WaitForParticipants(ctx context.Context, n int, timeout time.Duration) error {
	if p.platform.MemberCount == nil {
		return unsupportedQuery(p.name, "member count")
	}
	return wait.For(ctx, timeout, p.settings.PollInterval, fmt.Sprintf("%s: %d participants", p.name, n), func(ctx context.Context) (bool, error) {
		got, err := p.platform.MemberCount(ctx, p.sess)
		return got == n, err
	})
}
