package orch

import (
	"github.com/dkeye/Mimic/internal/app"
	"github.com/dkeye/Mimic/internal/core"
	"github.com/rs/zerolog/log"
)

// OnData relays a data channel message from sid to its room mates on the
// same channel. Congested receivers are handled by the policy; nothing is
// queued.
func (o *Orchestrator) OnData(sid core.SessionID, label string, payload []byte) {
	room, ok := o.roomOf(sid)
	if !ok {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Msg("data outside a room dropped")
		return
	}
	res := room.Relay(sid, label, payload)
	if o.Metrics != nil {
		o.Metrics.RecordRelayed(label, res.SendTo)
	}
	o.applyPolicy(room, res, app.DataFrame, label)
}
