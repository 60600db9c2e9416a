package orch

import (
	"github.com/dkeye/Mimic/internal/app"
	"github.com/dkeye/Mimic/internal/app/sfu"
	"github.com/dkeye/Mimic/internal/core"
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/metrics"
	"github.com/pion/webrtc/v4"
)

// Notifier delivers server-originated events to members. It is implemented
// by the signalling adapter, which owns the message format.
type Notifier interface {
	SpeakingChanged(room core.RoomService, id domain.ParticipantID, speaking bool)
	SendOffer(sid core.SessionID, offer webrtc.SessionDescription)
}

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Relays   *sfu.RelayManager
	Metrics  *metrics.Server
	Notify   Notifier
}

// OnFrame broadcasts a signalling frame to sid's room mates.
func (o *Orchestrator) OnFrame(sid core.SessionID, data core.Frame) {
	room, ok := o.roomOf(sid)
	if !ok {
		return
	}
	res := room.Broadcast(sid, data)
	o.applyPolicy(room, res, app.SignalFrame, "")
}

// BroadcastAll sends a frame to every member of the room.
func (o *Orchestrator) BroadcastAll(room core.RoomService, data core.Frame) {
	res := room.Broadcast("", data)
	o.applyPolicy(room, res, app.SignalFrame, "")
}

func (o *Orchestrator) roomOf(sid core.SessionID) (core.RoomService, bool) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, false
	}
	return o.Rooms.GetRoom(roomID)
}

func (o *Orchestrator) applyPolicy(room core.RoomService, res core.PublishResult, kind app.FrameKind, label string) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow, kind) {
		case app.KickMember:
			for _, snap := range o.Registry.MembersOfRoom(room.Room().ID) {
				if snap.Session == slow {
					o.KickBySID(snap.SID)
				}
			}
		case app.DropFrame:
			if o.Metrics != nil {
				o.Metrics.RecordDropped(label, "backpressure")
			}
		case app.MarkSlow, app.NoAction:
		}
	}
}
