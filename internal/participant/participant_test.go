package participant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/session/sessiontest"
)

func TestJoinSameRoomTwiceNavigatesOnce(t *testing.T) {
	p, fake, _, _ := newTestParticipant(t, Chrome)
	ctx := context.Background()

	require.NoError(t, p.JoinConference(ctx, roomURL("torture1")))
	require.NoError(t, p.JoinConference(ctx, roomURL("torture1")))

	assert.Len(t, fake.Navigations(), 1)
	assert.Equal(t, "torture1", p.JoinedRoomName())
	assert.False(t, p.HungUp())
	assert.Equal(t, Joined, p.State())
}

func TestJoinDifferentRoomNavigatesAgain(t *testing.T) {
	p, fake, _, _ := newTestParticipant(t, Chrome)
	ctx := context.Background()

	require.NoError(t, p.JoinConference(ctx, roomURL("a")))
	require.NoError(t, p.JoinConference(ctx, roomURL("b")))

	assert.Len(t, fake.Navigations(), 2)
	assert.Equal(t, "b", p.JoinedRoomName())
}

func TestReuseComparesRoomNameOnly(t *testing.T) {
	p, fake, _, _ := newTestParticipant(t, Chrome)
	ctx := context.Background()

	require.NoError(t, p.JoinConference(ctx, roomURL("room").SetRoomParameters("jwt=first")))
	require.NoError(t, p.JoinConference(ctx, roomURL("room").SetRoomParameters("jwt=second")))

	// A changed token does not trigger a reload; the first session is kept.
	require.Len(t, fake.Navigations(), 1)
	assert.Contains(t, fake.Navigations()[0], "jwt=first")
}

func TestJoinAppendsDefaultConfigWithoutOverride(t *testing.T) {
	p, fake, _, _ := newTestParticipant(t, Chrome)

	u := roomURL("r").AppendConfig("config.p2p.enabled=true", true)
	require.NoError(t, p.JoinConference(context.Background(), u))

	nav := fake.Navigations()[0]
	assert.Contains(t, nav, "config.p2p.enabled=true")
	assert.NotContains(t, nav, "config.p2p.enabled=false")
	assert.Contains(t, nav, "config.debug=true")
	assert.Contains(t, nav, "interfaceConfig.DISABLE_FOCUS_INDICATOR=true")

	_, hasDebug := u.FragmentParam("config.debug")
	assert.False(t, hasDebug, "caller's URL must not be modified")
	assert.Contains(t, p.MeetURL().String(), "config.debug=true")
}

func TestJoinRunsPostLoadSteps(t *testing.T) {
	p, _, m, _ := newTestParticipant(t, Chrome)
	u := roomURL("r").AppendConfig("config.callStatsID=false", true)
	require.NoError(t, p.JoinConference(context.Background(), u))

	assert.True(t, m.ran(scriptNoAnimations))
	assert.True(t, m.ran(scriptDockToolbar))
	assert.True(t, m.ran(scriptNoTransitions))
	assert.True(t, m.ran(scriptNoCallStats))
	assert.False(t, m.ran(scriptFirefoxNoBlur))
	assert.Equal(t, "alice", m.title)
}

func TestFirefoxJoinDisablesBlur(t *testing.T) {
	p, _, m, _ := newTestParticipant(t, Firefox)
	require.NoError(t, p.JoinConference(context.Background(), roomURL("r")))
	assert.True(t, m.ran(scriptFirefoxNoBlur))
}

func TestJoinIntoIframe(t *testing.T) {
	p, fake, m, _ := newTestParticipant(t, Chrome)
	fake.AddElement(session.ID("meet-frame"), &sessiontest.Element{})

	require.NoError(t, p.JoinConference(context.Background(), roomURL("r").SetIframeToNavigateTo("meet-frame")))
	assert.Equal(t, "meet-frame", fake.Frame())
	assert.False(t, m.ran(scriptReadyState), "iframe join does not wait on the outer document")
}

func TestJoinPageLoadTimeoutIsNotFatal(t *testing.T) {
	p, fake, _, _ := newTestParticipant(t, Chrome)
	fake.SetFail("Navigate", session.NewError(session.CodeTimeout, "page load", nil))

	require.NoError(t, p.JoinConference(context.Background(), roomURL("r")))
	assert.Equal(t, Joined, p.State())
}

func TestJoinFailureLeavesStateUnchanged(t *testing.T) {
	p, fake, _, sched := newTestParticipant(t, Chrome)
	fake.SetFail("Navigate", errors.New("net::ERR_NAME_NOT_RESOLVED"))

	err := p.JoinConference(context.Background(), roomURL("r"))
	require.Error(t, err)
	assert.Equal(t, NotJoined, p.State())
	assert.Empty(t, p.JoinedRoomName())
	assert.Nil(t, p.MeetURL())
	started, _ := sched.counts()
	assert.Zero(t, started)
}

func TestHangUpResetsState(t *testing.T) {
	for _, room := range []string{"same", "other"} {
		t.Run(room, func(t *testing.T) {
			p, fake, _, _ := newTestParticipant(t, Chrome)
			ctx := context.Background()
			hangup := &sessiontest.Element{}
			fake.AddElement(HangUpButton, hangup)

			require.NoError(t, p.JoinConference(ctx, roomURL("same")))
			require.NoError(t, p.HangUp(ctx))

			assert.True(t, p.HungUp())
			assert.Empty(t, p.JoinedRoomName())
			assert.Equal(t, 1, hangup.Clicks())
			navs := fake.Navigations()
			require.Len(t, navs, 2)
			assert.Equal(t, "about:blank", navs[1])

			require.NoError(t, p.JoinConference(ctx, roomURL(room)))
			assert.Len(t, fake.Navigations(), 3, "rejoin after hang-up always navigates")
		})
	}
}

func TestHangUpCancelledDuringSettleStillResetsState(t *testing.T) {
	fake := sessiontest.New()
	fake.OnScript = newMeet().respond
	settings := testSettings(&manualScheduler{})
	settings.HangUpSettle = time.Hour
	p := New("alice", Chrome, "participant1", fake, WebPlatform(), settings)
	require.NoError(t, p.JoinConference(context.Background(), roomURL("r")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.HangUp(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, p.HungUp())
	assert.Empty(t, p.JoinedRoomName())
}

func TestHangUpWhenNotJoinedIsNoop(t *testing.T) {
	p, fake, _, _ := newTestParticipant(t, Chrome)
	require.NoError(t, p.HangUp(context.Background()))
	assert.Empty(t, fake.Navigations())
}

func TestHangUpSurvivesMissingControl(t *testing.T) {
	p, fake, m, _ := newTestParticipant(t, Chrome)
	ctx := context.Background()
	require.NoError(t, p.JoinConference(ctx, roomURL("r")))

	// No button and the scripted fallback throws too.
	m.set(func(m *meet) { m.broken = true })
	require.NoError(t, p.HangUp(ctx))
	assert.True(t, p.HungUp())
	assert.Equal(t, "about:blank", fake.Navigations()[1])
}

func TestQuitIsTerminalAndSwallowsErrors(t *testing.T) {
	p, fake, _, sched := newTestParticipant(t, Chrome)
	ctx := context.Background()
	require.NoError(t, p.JoinConference(ctx, roomURL("r")))
	fake.SetFail("Quit", errors.New("session deleted"))

	p.Quit(ctx)
	p.Quit(ctx)

	assert.Equal(t, Quit, p.State())
	assert.False(t, p.KeepAliveRunning())
	_, stopped := sched.counts()
	assert.Equal(t, 1, stopped)
	assert.Len(t, fake.Calls("Quit"), 0, "failed quit never completes on the fake")

	err := p.JoinConference(ctx, roomURL("r"))
	assert.True(t, session.IsCode(err, session.CodeClosed))
}

func TestKeepAliveStartsOnceAndTouchesSession(t *testing.T) {
	p, fake, _, sched := newTestParticipant(t, Chrome)
	ctx := context.Background()

	assert.False(t, p.KeepAliveRunning())
	require.NoError(t, p.JoinConference(ctx, roomURL("a")))
	require.NoError(t, p.JoinConference(ctx, roomURL("b")))
	started, _ := sched.counts()
	assert.Equal(t, 1, started)

	sched.Tick()
	sched.Tick()
	assert.Len(t, fake.Calls("CurrentURL"), 2)

	p.Quit(ctx)
	sched.Tick()
	assert.Len(t, fake.Calls("CurrentURL"), 2)
}

func TestTickerSchedulerRunsUntilStopped(t *testing.T) {
	calls := make(chan struct{}, 16)
	stop := TickerScheduler{}.Every(2*time.Millisecond, func() {
		select {
		case calls <- struct{}{}:
		default:
		}
	})
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("scheduled function never ran")
	}
	stop()
	stop()
}

func TestQueriesTolerateScriptErrors(t *testing.T) {
	p, _, m, _ := newTestParticipant(t, Chrome)
	ctx := context.Background()

	assert.True(t, p.IsInMUC(ctx))
	assert.True(t, p.IsICEConnected(ctx))

	m.set(func(m *meet) { m.broken = true })
	assert.False(t, p.IsInMUC(ctx))
	assert.False(t, p.IsICEConnected(ctx))
	assert.False(t, p.IsXMPPConnected(ctx))
	assert.False(t, p.IsModerator(ctx))

	_, err := p.EndpointID(ctx)
	assert.Error(t, err)
}

func TestBitrateReadsStats(t *testing.T) {
	p, _, _, _ := newTestParticipant(t, Chrome)
	rate, err := p.Bitrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Bitrate{Upload: 120, Download: 340}, rate)
}

func TestWaitToJoinMUCTimesOutWithParticipantName(t *testing.T) {
	p, _, m, _ := newTestParticipant(t, Chrome)
	m.set(func(m *meet) { m.inMUC = false })

	err := p.WaitToJoinMUC(context.Background(), 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, session.IsCode(err, session.CodeTimeout))
	assert.True(t, strings.Contains(err.Error(), "alice"), err.Error())
}

func TestWaitsSucceedOnHealthyClient(t *testing.T) {
	p, _, m, _ := newTestParticipant(t, Chrome)
	ctx := context.Background()
	m.set(func(m *meet) {
		m.streams = 2
		m.members = 2
	})

	require.NoError(t, p.WaitToJoinMUC(ctx, time.Second))
	require.NoError(t, p.WaitForICEConnected(ctx, time.Second))
	require.NoError(t, p.WaitForSendReceiveData(ctx, time.Second))
	require.NoError(t, p.WaitForRemoteStreams(ctx, 2, time.Second))
	require.NoError(t, p.WaitForParticipants(ctx, 2, time.Second))
}

func TestWaitForSendReceiveDataNeedsBothDirections(t *testing.T) {
	p, _, m, _ := newTestParticipant(t, Chrome)
	m.set(func(m *meet) { m.download = 0 })

	err := p.WaitForSendReceiveData(context.Background(), 30*time.Millisecond)
	assert.True(t, session.IsCode(err, session.CodeTimeout))
}
