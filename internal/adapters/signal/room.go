package signal

import (
	"encoding/json"

	"github.com/dkeye/Mimic/internal/core"
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/rs/zerolog/log"
)

// MaxMetadataLen bounds participant metadata.
const MaxMetadataLen = 1024

func (ctl *SignalWSController) handleJoin(cl *client) {
	if !ctl.Joins.Allow(cl.sess.Meta().Identity.ID) {
		ctl.sendError(cl.conn, "rate_limited")
		return
	}
	room, err := ctl.Store.GetSession(cl.room.ID)
	if err != nil || !room.Active {
		log.Warn().Str("module", "signal").Str("sid", string(cl.sid)).Str("room", string(cl.room.ID)).Msg("join to inactive session")
		ctl.sendError(cl.conn, "session_inactive")
		return
	}

	rs, ok := ctl.Orch.Join(cl.sid, &room)
	if !ok {
		ctl.sendError(cl.conn, "join_failed")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Str("room", string(room.ID)).Msg("join")

	self := cl.sess.DTO()
	members := make([]wire.Member, 0, rs.MemberCount())
	for _, m := range rs.MembersSnapshot() {
		if m.ID != self.ID {
			members = append(members, m)
		}
	}
	ctl.sendJSON(cl.conn, wire.RoomState{
		Type:    wire.MsgRoomState,
		Self:    self,
		Room:    wire.RoomRef{ID: room.ID, Name: room.Name},
		Members: members,
	})

	if b, ok := encode(wire.MemberEvent{Type: wire.MsgMemberJoined, Member: self}); ok {
		ctl.Orch.OnFrame(cl.sid, b)
	}
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(cl *client) {
	log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Msg("leave")
	ctl.leaveRoom(cl.sid, cl.sess)
	ctl.sendJSON(cl.conn, wire.SignalType{Type: wire.MsgLeft})
}

// leaveRoom tells the room mates and drops sess's media and membership.
func (ctl *SignalWSController) leaveRoom(sid core.SessionID, sess core.MemberSession) {
	if _, _, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		if b, ok := encode(wire.MemberLeft{Type: wire.MsgMemberLeft, ID: sess.Meta().Identity.ID}); ok {
			ctl.Orch.OnFrame(sid, b)
		}
	}
	ctl.Orch.KickBySID(sid)
}

func (ctl *SignalWSController) handleMetadata(cl *client, data []byte) {
	var p wire.Metadata
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad metadata payload")
		ctl.sendError(cl.conn, "bad_payload")
		return
	}
	if len(p.Metadata) > MaxMetadataLen {
		ctl.sendError(cl.conn, "metadata_too_large")
		return
	}
	cl.sess.SetMetadata(p.Metadata)
	log.Debug().Str("module", "signal").Str("sid", string(cl.sid)).Msg("metadata updated")

	if _, _, ok := ctl.Orch.Registry.RoomOf(cl.sid); !ok {
		return
	}
	if b, ok := encode(wire.MemberEvent{Type: wire.MsgMemberUpdated, Member: cl.sess.DTO()}); ok {
		ctl.Orch.OnFrame(cl.sid, b)
	}
}

// SpeakingChanged tells every member of room, the speaker included.
func (ctl *SignalWSController) SpeakingChanged(room core.RoomService, id domain.ParticipantID, speaking bool) {
	if b, ok := encode(wire.Speaking{Type: wire.MsgSpeaking, ID: id, Speaking: speaking}); ok {
		ctl.Orch.BroadcastAll(room, b)
	}
}
