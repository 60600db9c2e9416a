package membership

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	router "github.com/dkeye/Mimic/internal/adapters/http"
	"github.com/dkeye/Mimic/internal/adapters/signal"
	"github.com/dkeye/Mimic/internal/app"
	"github.com/dkeye/Mimic/internal/app/orch"
	"github.com/dkeye/Mimic/internal/app/sfu"
	"github.com/dkeye/Mimic/internal/config"
	"github.com/dkeye/Mimic/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *Client {
	t.Helper()
	cfg := &config.Config{Mode: "release", Secret: "test-secret"}
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
		Relays:   sfu.NewRelayManager(sfu.Speaking{Threshold: 40, Hold: time.Second}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, o, store.NewMemory(), nil, signal.Options{PingPeriod: time.Minute}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return NewClient(srv.URL+"/", srv.Client())
}

func TestClient_Lifecycle(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	room, err := c.CreateSession(ctx, "room-42")
	require.NoError(t, err)
	assert.True(t, room.Active)

	got, err := c.GetSession(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)

	ana, err := c.JoinSession(ctx, room.ID, "Ana")
	require.NoError(t, err)
	assert.NotEmpty(t, ana.Token)
	assert.Equal(t, room.ID, ana.SessionID)

	_, err = c.JoinSession(ctx, room.ID, "Bo")
	require.NoError(t, err)

	list, err := c.ListParticipants(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	names := map[string]bool{}
	for _, p := range list {
		names[p.Name] = true
		assert.Equal(t, room.ID, p.Session)
	}
	assert.Equal(t, map[string]bool{"Ana": true, "Bo": true}, names)

	require.NoError(t, c.LeaveSession(ctx, ana.ParticipantID))
	list, err = c.ListParticipants(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClient_Errors(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	_, err := c.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)

	room, err := c.CreateSession(ctx, "room-42")
	require.NoError(t, err)
	_, err = c.JoinSession(ctx, room.ID, "")
	assert.ErrorIs(t, err, ErrRejected)

	assert.ErrorIs(t, c.LeaveSession(ctx, "nobody"), ErrNotFound)
}
