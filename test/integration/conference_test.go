//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/meet_torture/internal/api"
	"github.com/dgnsrekt/meet_torture/internal/controller"
	"github.com/dgnsrekt/meet_torture/internal/participant"
	"github.com/dgnsrekt/meet_torture/internal/testbase"
)

func TestEndToEndTwoParticipants(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	b := env.base(t)

	require.NoError(t, b.EnsureTwoParticipants(ctx, testbase.Join{}, testbase.Join{}))
	owner, second := b.Participant(0), b.Participant(1)
	for _, p := range []*participant.Participant{owner, second} {
		require.NoError(t, p.WaitToJoinMUC(ctx, 15*time.Second), p.Name())
		require.NoError(t, p.WaitForICEConnected(ctx, 15*time.Second), p.Name())
	}

	ownerURL, err := owner.Session().CurrentURL(ctx)
	require.NoError(t, err)

	require.NoError(t, b.EnsureOneParticipant(ctx, testbase.Join{}))
	assert.Same(t, owner, b.Participant(0), "owner is reused")
	assert.Equal(t, participant.Joined, owner.State())
	assert.Equal(t, participant.NotJoined, second.State())
	afterURL, err := owner.Session().CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, ownerURL, afterURL, "owner was not re-navigated")
	assert.True(t, owner.IsInMUC(ctx))
}

func TestStatusAPIReportsParticipants(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	b := env.base(t)
	require.NoError(t, b.EnsureOneParticipant(ctx, testbase.Join{}))

	srv := httptest.NewServer(api.NewServer(controller.NewService(env.Mgr, env.Store)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/participants/" + b.Participant(0).Name())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st controller.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "joined", st.State)
	assert.Equal(t, b.RoomName(), st.Room)
	require.NotNil(t, st.InMUC)
	assert.True(t, *st.InMUC)

	shot, err := http.Get(srv.URL + "/api/v1/participants/" + b.Participant(0).Name() + "/screenshot")
	require.NoError(t, err)
	defer shot.Body.Close()
	assert.Equal(t, "image/png", shot.Header.Get("Content-Type"))
}
