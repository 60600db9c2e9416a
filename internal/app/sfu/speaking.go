package sfu

import (
	"time"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// SpeakingDetector turns RFC 6464 audio levels into speaking transitions.
// Levels are -dBov, so lower is louder. Speaking ends after hold without a
// loud packet.
type SpeakingDetector struct {
	threshold uint8
	hold      time.Duration

	speaking bool
	lastLoud time.Time
}

func NewSpeakingDetector(threshold uint8, hold time.Duration) *SpeakingDetector {
	return &SpeakingDetector{threshold: threshold, hold: hold}
}

// Observe feeds one packet's level and reports a transition, if any.
func (d *SpeakingDetector) Observe(level uint8, now time.Time) (changed, speaking bool) {
	if level <= d.threshold {
		d.lastLoud = now
		if !d.speaking {
			d.speaking = true
			return true, true
		}
		return false, true
	}
	if d.speaking && now.Sub(d.lastLoud) >= d.hold {
		d.speaking = false
		return true, false
	}
	return false, d.speaking
}

// Speaking reports the current state.
func (d *SpeakingDetector) Speaking() bool { return d.speaking }

// AudioLevelExtensionID returns the negotiated header extension id for audio
// levels, or zero when the sender did not negotiate it.
func AudioLevelExtensionID(receiver *webrtc.RTPReceiver) uint8 {
	if receiver == nil {
		return 0
	}
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}

// AudioLevel reads the audio level extension from pkt.
func AudioLevel(pkt *rtp.Packet, extID uint8) (uint8, bool) {
	if extID == 0 {
		return 0, false
	}
	raw := pkt.GetExtension(extID)
	if raw == nil {
		return 0, false
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return 0, false
	}
	return ext.Level, true
}
