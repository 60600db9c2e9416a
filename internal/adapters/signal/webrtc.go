package signal

import (
	"encoding/json"

	"github.com/dkeye/Mimic/internal/adapters/rtc"
	"github.com/dkeye/Mimic/internal/core"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) sendCandidate(c core.SignalConnection, ci webrtc.ICECandidateInit) {
	ctl.sendJSON(c, wire.Candidate{
		Type:          wire.MsgCandidate,
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	})
}

// SendOffer delivers a server-initiated renegotiation offer.
func (ctl *SignalWSController) SendOffer(sid core.SessionID, offer webrtc.SessionDescription) {
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		return
	}
	ctl.sendJSON(sess.Signal(), wire.SDP{Type: wire.MsgOffer, SDP: offer.SDP})
}

func (ctl *SignalWSController) handleOffer(cl *client, data []byte) {
	var p wire.SDP
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(cl.conn, "bad_payload")
		return
	}
	if _, _, ok := ctl.Orch.Registry.RoomOf(cl.sid); !ok {
		ctl.sendError(cl.conn, "not_joined")
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}

	// Client-initiated renegotiation on a live connection.
	if mc := cl.sess.Media(); mc != nil && !mc.IsClosed() {
		answer, err := mc.ApplyOfferAndCreateAnswer(offer)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Msg("webrtc apply offer")
			ctl.sendError(cl.conn, "bad_offer")
			return
		}
		ctl.sendJSON(cl.conn, wire.SDP{Type: wire.MsgAnswer, SDP: answer.SDP})
		return
	}

	wc, err := rtc.NewWebRTCConnection(ctl.opts.API, ctl.opts.RTC, cl.sid, ctl.opts.MaxBuffered)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		ctl.sendError(cl.conn, "media_unavailable")
		return
	}

	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendCandidate(cl.conn, ci)
	})

	ctl.Orch.BindMediaHandlers(wc, cl.sid)

	if err = wc.Start(cl.ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		return
	}

	answer, err := wc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		ctl.sendError(cl.conn, "bad_offer")
		wc.Close()
		return
	}

	cl.sess.UpdateMedia(wc)
	ctl.sendJSON(cl.conn, wire.SDP{Type: wire.MsgAnswer, SDP: answer.SDP})
	ctl.Orch.OnMediaReady(cl.sid)
}

func (ctl *SignalWSController) handleAnswer(cl *client, data []byte) {
	var p wire.SDP
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad answer payload")
		return
	}
	mc := cl.sess.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(cl.sid)).Msg("answer: no media connection")
		return
	}
	if err := mc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Msg("apply answer")
	}
}

func (ctl *SignalWSController) handleCandidate(cl *client, data []byte) {
	var p wire.Candidate
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}

	mc := cl.sess.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(cl.sid)).Msg("candidate: no media connection for")
		return
	}
	cand := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}
