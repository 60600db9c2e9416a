package app

import (
	"context"
	"testing"

	"github.com/dkeye/Mimic/internal/core"
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id string) core.MemberSession {
	return core.NewMemberSession(domain.NewMember(&domain.Identity{ID: domain.ParticipantID(id), DisplayName: id}))
}

func TestRegistry_RoomMates(t *testing.T) {
	reg := NewRegistry()
	a, b, c := newSession("a"), newSession("b"), newSession("c")
	reg.BindSignal("a", a, nil)
	reg.BindSignal("b", b, nil)
	reg.BindSignal("c", c, nil)
	reg.UpdateRoom("a", "r1")
	reg.UpdateRoom("b", "r1")
	reg.UpdateRoom("c", "r2")

	mates := reg.RoomMates("a")
	require.Len(t, mates, 1)
	assert.Equal(t, core.SessionID("b"), mates[0].SID)
	assert.Nil(t, reg.RoomMates("nobody"))

	reg.RemoveRoom("b")
	assert.Empty(t, reg.RoomMates("a"))
}

func TestRegistry_RebindCancelsPrevious(t *testing.T) {
	reg := NewRegistry()
	first, second := newSession("a"), newSession("a")
	ctx, cancel := context.WithCancel(context.Background())
	reg.BindSignal("a", first, cancel)
	reg.BindSignal("a", second, func() {})

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, reg.Unbind("a", first))
	got, ok := reg.GetSession("a")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.True(t, reg.Unbind("a", second))
	assert.False(t, reg.Cancel("a"))
}

func TestRoomManager_GetOrCreate(t *testing.T) {
	m := NewRoomManager()
	room := &domain.Room{ID: "r1", Name: "standup", Active: true}
	first := m.GetOrCreate(room)
	assert.Same(t, first, m.GetOrCreate(&domain.Room{ID: "r1"}))

	got, ok := m.GetRoom("r1")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, []core.RoomInfo{{ID: "r1", Name: "standup"}}, m.List())

	m.StopRoom("r1")
	_, ok = m.GetRoom("r1")
	assert.False(t, ok)
}

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{}
	assert.Equal(t, KickMember, p.OnBackPressure(nil, nil, SignalFrame))
	assert.Equal(t, DropFrame, p.OnBackPressure(nil, nil, DataFrame))
}
