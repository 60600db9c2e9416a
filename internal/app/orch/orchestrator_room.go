package orch

import (
	"github.com/dkeye/Mimic/internal/core"
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join places sid into room, leaving any previous room first.
func (o *Orchestrator) Join(sid core.SessionID, room *domain.Room) (core.RoomService, bool) {
	if prev, _, ok := o.Registry.RoomOf(sid); ok {
		if prev == room.ID {
			rs, ok := o.Rooms.GetRoom(prev)
			return rs, ok
		}
		o.KickBySID(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(prev)).Msg("left previous room")
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, false
	}
	rs := o.Rooms.GetOrCreate(room)
	rs.AddMember(sid, session)
	o.Registry.UpdateRoom(sid, room.ID)
	if o.Metrics != nil {
		o.Metrics.MembersActive.Inc()
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room.ID)).Msg("added to room")
	return rs, true
}

// KickBySID drops sid's media and room membership. The signalling connection
// stays open.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.cleanupMedia(sid)
	o.cleanupMembership(sid)
}

// Disconnect removes every trace of sid and cancels its signalling session.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.KickBySID(sid)
	o.Registry.Cancel(sid)
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	if room, ok := o.Rooms.GetRoom(roomID); ok {
		room.RemoveMember(sid)
		if room.MemberCount() == 0 {
			o.Rooms.StopRoom(roomID)
		}
	}
	o.Registry.RemoveRoom(sid)
	if o.Metrics != nil {
		o.Metrics.MembersActive.Dec()
	}
}

// EvictRoom disconnects every member of the room and forgets it.
func (o *Orchestrator) EvictRoom(id domain.RoomID) {
	for _, snap := range o.Registry.MembersOfRoom(id) {
		o.Disconnect(snap.SID)
	}
	o.Rooms.StopRoom(id)
}
