package orch

import (
	"context"

	"github.com/dkeye/Mimic/internal/app/sfu"
	"github.com/dkeye/Mimic/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		o.OnTrack(trackCtx, sid, sfu.TrackSource(track), track.Codec().RTPCodecCapability, sfu.AudioLevelExtensionID(receiver))
	})
	mc.OnData(func(label string, payload []byte) { o.OnData(sid, label, payload) })
	mc.OnOffer(func(offer webrtc.SessionDescription) {
		if o.Notify != nil {
			o.Notify.SendOffer(sid, offer)
		}
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid, mc) })
}

// OnMediaDisconnect cleans up after mc only while it is still sid's connection.
func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID, mc core.MediaConnection) {
	if sess, ok := o.Registry.GetSession(sid); ok && sess.Media() != mc {
		return
	}
	o.cleanupMedia(sid)
}

func (o *Orchestrator) cleanupMedia(sid core.SessionID) {
	if o.Relays != nil {
		// Drop sid's tracks from every subscriber.
		for dst, ot := range o.Relays.StopRelay(sid) {
			o.removeSender(dst, ot)
		}
		// Stop feeding sid from its mates.
		for _, snap := range o.Registry.RoomMates(sid) {
			o.Relays.Unsubscribe(snap.SID, sid)
		}
	}

	if sess, ok := o.Registry.GetSession(sid); ok {
		if mc := sess.Media(); mc != nil {
			sess.UpdateMedia(nil)
			mc.Close()
		}
		if sess.SetSpeaking(false) {
			if room, ok := o.roomOf(sid); ok {
				o.speakingChanged(room, sess, false)
			}
		}
	}
}

func (o *Orchestrator) removeSender(dst core.SessionID, ot *sfu.OutTrack) {
	sess, ok := o.Registry.GetSession(dst)
	if !ok || ot == nil || ot.Sender == nil {
		return
	}
	mc := sess.Media()
	if mc == nil || mc.IsClosed() {
		return
	}
	if err := mc.RemoveLocalTrack(ot.Sender); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(dst)).Msg("remove track failed")
		return
	}
	mc.Renegotiate()
}

// OnTrack is called when a new remote audio track appears for a given session.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, src sfu.PacketSource, codec webrtc.RTPCodecCapability, levelExt uint8) {
	if o.Relays == nil {
		return
	}
	if sess, ok := o.Registry.GetSession(sid); !ok || sess.Media() == nil {
		return
	}
	o.Relays.StartRelay(ctx, sid, src, codec, levelExt, func(speaking bool) { o.OnSpeaking(sid, speaking) })

	mates := o.Registry.RoomMates(sid)
	if len(mates) == 0 {
		log.Info().Str("module", "sfu").Str("sid", string(sid)).Msg("OnTrack: no room mates yet")
		return
	}
	// Subscribe all existing members in the room to this speaker.
	for _, snap := range mates {
		mc := snap.Session.Media()
		if mc == nil || mc.IsClosed() {
			continue
		}
		if _, err := o.Relays.Subscribe(sid, snap.SID, mc); err != nil {
			log.Warn().Err(err).Str("module", "sfu").Str("src", string(sid)).Str("dst", string(snap.SID)).Msg("subscribe failed")
			continue
		}
		mc.Renegotiate()
	}
}

// OnMediaReady is called once sid's MediaConnection is negotiated. It
// subscribes sid to every existing relay in the same room.
func (o *Orchestrator) OnMediaReady(sid core.SessionID) {
	if o.Relays == nil {
		return
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	mc := sess.Media()
	if mc == nil {
		return
	}

	added := 0
	for _, snap := range o.Registry.RoomMates(sid) {
		if !o.Relays.HasRelay(snap.SID) {
			continue
		}
		if _, err := o.Relays.Subscribe(snap.SID, sid, mc); err != nil {
			log.Warn().Err(err).Str("module", "sfu").Str("src", string(snap.SID)).Str("dst", string(sid)).Msg("subscribe failed")
			continue
		}
		added++
	}
	if added > 0 {
		mc.Renegotiate()
	}
}

// OnSpeaking records a speaking transition detected on sid's audio.
func (o *Orchestrator) OnSpeaking(sid core.SessionID, speaking bool) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok || !sess.SetSpeaking(speaking) {
		return
	}
	room, ok := o.roomOf(sid)
	if !ok {
		return
	}
	o.speakingChanged(room, sess, speaking)
}

func (o *Orchestrator) speakingChanged(room core.RoomService, sess core.MemberSession, speaking bool) {
	if o.Metrics != nil {
		o.Metrics.RecordSpeaking()
	}
	if o.Notify != nil {
		o.Notify.SpeakingChanged(room, sess.Meta().Identity.ID, speaking)
	}
}
