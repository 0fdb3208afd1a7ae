package testbase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHeartbeatConference(t *testing.T) (*Heartbeat, *world) {
	t.Helper()
	w := newWorld()
	b := newBase(t, w, nil, nil)
	require.NoError(t, b.EnsureTwoParticipants(context.Background(), Join{}, Join{}))
	return NewHeartbeat(b.Participant(0), b.Participant(1)), w
}

func TestHeartbeatPassesOnHealthyConference(t *testing.T) {
	h, _ := newHeartbeatConference(t)
	require.NoError(t, h.Run(context.Background(), 30*time.Millisecond, 5*time.Millisecond))
}

func TestHeartbeatFailsWhenParticipantLeavesRoom(t *testing.T) {
	h, w := newHeartbeatConference(t)
	w.update(1, func(c *client) { c.inMUC = false })

	err := h.Check(context.Background())
	require.ErrorIs(t, err, ErrConferenceLost)
	assert.Contains(t, err.Error(), "participant2 is not in the muc")
}

func TestHeartbeatFailsOnLostICE(t *testing.T) {
	h, w := newHeartbeatConference(t)
	w.update(0, func(c *client) { c.ice = false })

	err := h.Run(context.Background(), time.Second, 2*time.Millisecond)
	require.ErrorIs(t, err, ErrConferenceLost)
	assert.Contains(t, err.Error(), "participant1 ice is not connected")
}

func TestHeartbeatToleratesTwoZeroDownloadSamples(t *testing.T) {
	h, w := newHeartbeatConference(t)
	ctx := context.Background()
	w.update(0, func(c *client) { c.download = 0 })

	require.NoError(t, h.Check(ctx))
	require.NoError(t, h.Check(ctx))

	// A good sample resets the count.
	w.update(0, func(c *client) { c.download = 10 })
	require.NoError(t, h.Check(ctx))
	w.update(0, func(c *client) { c.download = 0 })
	require.NoError(t, h.Check(ctx))
	require.NoError(t, h.Check(ctx))

	err := h.Check(ctx)
	require.ErrorIs(t, err, ErrConferenceLost)
	assert.Contains(t, err.Error(), "no download bitrate for 3 checks")
}

func TestHeartbeatSecondBitrateCheckCanBeDisabled(t *testing.T) {
	h, w := newHeartbeatConference(t)
	h.CheckSecondBitrate = false
	w.update(1, func(c *client) { c.download = 0 })

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Check(context.Background()))
	}
}

func TestHeartbeatStopsOnCancel(t *testing.T) {
	h, _ := newHeartbeatConference(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Run(ctx, time.Minute, time.Second), context.Canceled)
}
