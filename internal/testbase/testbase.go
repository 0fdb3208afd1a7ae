// Package testbase is the facade scenarios use to get participants into a
// conference. It decides which participants to reuse, which to hang up and
// when a flaky join deserves a second attempt.
package testbase

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/dgnsrekt/meet_torture/internal/meeturl"
	"github.com/dgnsrekt/meet_torture/internal/participant"
	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/snapshot"
	"github.com/dgnsrekt/meet_torture/internal/wait"
)

// DefaultConfig is appended to every scenario URL, overriding keys already
// present.
const DefaultConfig = "config.requireDisplayName=false" +
	"&config.debug=true" +
	"&config.disableAEC=true" +
	"&config.disableNS=true" +
	"&config.callStatsID=false" +
	"&config.alwaysVisibleToolbar=true" +
	"&config.p2p.enabled=false" +
	"&config.disable1On1Mode=true"

// Timeouts bound the waits done while bringing participants in.
type Timeouts struct {
	MUC      time.Duration
	ThirdMUC time.Duration
	ICE      time.Duration
	Data     time.Duration
	Streams  time.Duration
	// Settle is slept after the second participant is up. Negative disables.
	Settle time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.MUC <= 0 {
		t.MUC = participant.DefaultMUCTimeout
	}
	if t.ThirdMUC <= 0 {
		t.ThirdMUC = 15 * time.Second
	}
	if t.ICE <= 0 {
		t.ICE = participant.DefaultICETimeout
	}
	if t.Data <= 0 {
		t.Data = participant.DefaultDataTimeout
	}
	if t.Streams <= 0 {
		t.Streams = participant.DefaultStreamsTimeout
	}
	if t.Settle == 0 {
		t.Settle = 500 * time.Millisecond
	}
	return t
}

// Config describes where and how a scenario runs.
type Config struct {
	ServerURL string
	Tenant    string
	// RoomName fixes the room; a random torture room is used when empty.
	RoomName string
	// FlakyTypes get one recreate-and-retry when joining the room times out.
	FlakyTypes []participant.Type
	Timeouts   Timeouts
}

// Join overrides the URL or options of one participant. Zero values use the
// scenario's defaults.
type Join struct {
	URL     *meeturl.URL
	Options participant.Options
}

// Base drives the participants of one scenario.
type Base struct {
	name  string
	cfg   Config
	mgr   *participant.Manager
	store *snapshot.Store
	room  string
}

// RandomRoomName returns a fresh torture room name.
func RandomRoomName() string {
	return fmt.Sprintf("torture%d", rand.IntN(1_000_000))
}

// New returns a Base for the scenario called name. store may be nil, in
// which case diagnostics are not captured.
func New(name string, cfg Config, mgr *participant.Manager, store *snapshot.Store) *Base {
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	room := cfg.RoomName
	if room == "" {
		room = RandomRoomName()
	}
	return &Base{name: name, cfg: cfg, mgr: mgr, store: store, room: room}
}

func (b *Base) Name() string                  { return b.name }
func (b *Base) RoomName() string              { return b.room }
func (b *Base) Manager() *participant.Manager { return b.mgr }

// MeetURL returns a new URL for the scenario's room with DefaultConfig
// applied. Callers may modify it freely.
func (b *Base) MeetURL() *meeturl.URL {
	return meeturl.New(b.cfg.ServerURL, b.room).
		SetTenant(b.cfg.Tenant).
		AppendConfig(DefaultConfig, true)
}

// Participant returns the participant at index, or nil.
func (b *Base) Participant(index int) *participant.Participant {
	p, _ := b.mgr.Get(index)
	return p
}

// EnsureOneParticipant brings the owner into the room and hangs up
// everyone else.
func (b *Base) EnsureOneParticipant(ctx context.Context, p1 Join) error {
	if _, err := b.joinAndWait(ctx, 0, p1, b.cfg.Timeouts.MUC); err != nil {
		return err
	}
	return b.mgr.HangUpFrom(ctx, 1)
}

// EnsureTwoParticipants brings the first two participants into the room
// with media flowing and hangs up any third one.
func (b *Base) EnsureTwoParticipants(ctx context.Context, p1, p2 Join) error {
	if err := b.ensureTwo(ctx, p1, p2); err != nil {
		return err
	}
	return b.mgr.HangUpFrom(ctx, 2)
}

// EnsureThreeParticipants brings three participants into the room with
// media flowing between all of them.
func (b *Base) EnsureThreeParticipants(ctx context.Context, p1, p2, p3 Join) error {
	if err := b.ensureTwo(ctx, p1, p2); err != nil {
		return err
	}
	t := b.cfg.Timeouts
	p, err := b.joinAndWait(ctx, 2, p3, t.ThirdMUC)
	if err != nil {
		return err
	}
	if err := b.waitForMedia(ctx, p); err != nil {
		return err
	}
	if err := p.WaitForRemoteStreams(ctx, 2, t.Streams); err != nil {
		return err
	}
	return b.mgr.HangUpFrom(ctx, 3)
}

func (b *Base) ensureTwo(ctx context.Context, p1, p2 Join) error {
	if _, err := b.joinAndWait(ctx, 0, p1, b.cfg.Timeouts.MUC); err != nil {
		return err
	}
	p, err := b.joinAndWait(ctx, 1, p2, b.cfg.Timeouts.MUC)
	if err != nil {
		return err
	}
	if err := b.waitForMedia(ctx, p); err != nil {
		return err
	}
	if settle := b.cfg.Timeouts.Settle; settle > 0 {
		return wait.Sleep(ctx, settle)
	}
	return nil
}

func (b *Base) waitForMedia(ctx context.Context, p *participant.Participant) error {
	if err := p.WaitForICEConnected(ctx, b.cfg.Timeouts.ICE); err != nil {
		return err
	}
	return p.WaitForSendReceiveData(ctx, b.cfg.Timeouts.Data)
}

// HangUpAllParticipants hangs up everyone, keeping them for reuse.
func (b *Base) HangUpAllParticipants(ctx context.Context) {
	b.mgr.HangUpAll(ctx)
}

// HangUpAllExceptOwner makes sure the owner is in the room alone.
func (b *Base) HangUpAllExceptOwner(ctx context.Context) error {
	return b.EnsureOneParticipant(ctx, Join{})
}

// Cleanup quits every participant the scenario created.
func (b *Base) Cleanup(ctx context.Context) {
	b.mgr.Cleanup(ctx)
}

func (b *Base) flaky(t participant.Type) bool {
	return slices.Contains(b.cfg.FlakyTypes, t)
}

// joinAndWait joins participant index and waits for it to enter the MUC.
// A participant created by this call whose type is flaky is recreated and
// retried exactly once when that wait times out.
func (b *Base) joinAndWait(ctx context.Context, index int, j Join, timeout time.Duration) (*participant.Participant, error) {
	u := j.URL
	if u == nil {
		u = b.MeetURL()
	}

	fresh := index >= b.mgr.Len()
	if !fresh {
		if p, _ := b.mgr.Get(index); p.State() == participant.Quit {
			fresh = true
		}
	}

	p, err := b.mgr.EnsureParticipant(ctx, index, u, j.Options)
	if err != nil {
		return p, err
	}
	if fresh {
		b.markStart(ctx, p)
	}

	err = p.WaitToJoinMUC(ctx, timeout)
	if err == nil || !fresh || !session.IsCode(err, session.CodeTimeout) || !b.flaky(p.Type()) {
		return p, err
	}

	slog.Warn("participant did not join in time, recreating once",
		"scenario", b.name, "participant", p.Name(), "type", p.Type(), "error", err)
	b.CaptureDiagnostics(ctx, "join timeout before retry")

	p, err = b.mgr.Recreate(ctx, index, u, j.Options)
	if err != nil {
		return p, err
	}
	b.markStart(ctx, p)
	return p, p.WaitToJoinMUC(ctx, timeout)
}

// markStart leaves a marker in the browser console so node logs can be
// matched to scenarios.
func (b *Base) markStart(ctx context.Context, p *participant.Participant) {
	script := fmt.Sprintf("console.log('--- Will start test: %s')", b.name)
	if _, err := p.Session().ExecuteScript(ctx, script); err != nil {
		slog.Debug("start marker failed", "participant", p.Name(), "error", err)
	}
}
