package sfu

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Mimic/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoRelay = errors.New("no relay for source")

// Speaking configures audio-level based speaking detection for relays.
type Speaking struct {
	Threshold uint8
	Hold      time.Duration
}

type RelayManager struct {
	speaking Speaking

	mu     sync.RWMutex
	relays map[core.SessionID]*Relay
}

func NewRelayManager(speaking Speaking) *RelayManager {
	return &RelayManager{
		speaking: speaking,
		relays:   make(map[core.SessionID]*Relay),
	}
}

// StartRelay creates a new Relay for the given speaker SID and starts its loop.
// levelExt is the negotiated audio level extension id; zero disables speaking
// detection. onSpeaking runs on the relay goroutine.
func (m *RelayManager) StartRelay(ctx context.Context, sid core.SessionID, src PacketSource, codec webrtc.RTPCodecCapability, levelExt uint8, onSpeaking func(bool)) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("sid", string(sid)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, codec, cancel)
	if levelExt != 0 {
		relay.levelExt = levelExt
		relay.detector = NewSpeakingDetector(m.speaking.Threshold, m.speaking.Hold)
		relay.onSpeaking = onSpeaking
	}

	m.mu.Lock()
	if old, ok := m.relays[sid]; ok {
		logger.Info().Msg("replacing existing relay for sid")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[sid] = relay
	m.mu.Unlock()

	logger.Info().Uint8("level_ext", levelExt).Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
	return relay
}

// Subscribe creates a local track on dst's connection fed by src's relay.
func (m *RelayManager) Subscribe(src, dst core.SessionID, mc core.MediaConnection) (*OutTrack, error) {
	m.mu.RLock()
	relay, ok := m.relays[src]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNoRelay
	}
	local, err := webrtc.NewTrackLocalStaticRTP(relay.Codec, "audio-"+string(src), string(src))
	if err != nil {
		return nil, err
	}
	sender, err := mc.AddLocalTrack(local)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)

	ot := NewOutTrack(local, sender)
	relay.AddOutTrack(dst, ot)
	log.Debug().Str("module", "relay").Str("src", string(src)).Str("dst", string(dst)).Msg("subscribed")
	return ot, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	if sender == nil {
		return
	}
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// AddSubscriber attaches an OutTrack to the relay of srcSID for dstSID.
func (m *RelayManager) AddSubscriber(srcSID, dstSID core.SessionID, ot *OutTrack) bool {
	m.mu.RLock()
	relay, ok := m.relays[srcSID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(dstSID, ot)
	return true
}

// Unsubscribe detaches dstSID from srcSID's relay and returns its OutTrack so
// the caller can remove the sender.
func (m *RelayManager) Unsubscribe(srcSID, dstSID core.SessionID) (*OutTrack, bool) {
	m.mu.RLock()
	relay, ok := m.relays[srcSID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return relay.removeOutTrack(dstSID)
}

// StopRelay stops a relay, removes it from the manager and returns its
// subscribers.
func (m *RelayManager) StopRelay(srcSID core.SessionID) map[core.SessionID]*OutTrack {
	m.mu.Lock()
	relay, ok := m.relays[srcSID]
	if ok {
		delete(m.relays, srcSID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if relay.cancel != nil {
		relay.cancel()
	}
	return relay.drain()
}

// HasRelay reports whether a relay exists for sid.
func (m *RelayManager) HasRelay(sid core.SessionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[sid]
	return ok
}
