package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Mimic/internal/core"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrChannelNotOpen = errors.New("data channel not open")

// DefaultMaxBuffered is the data channel buffered amount above which
// outgoing data frames are refused.
const DefaultMaxBuffered = 256 * 1024

type WebRTCConnection struct {
	pc          *webrtc.PeerConnection
	sid         core.SessionID
	maxBuffered uint64
	cancel      context.CancelFunc

	mu       sync.RWMutex
	channels map[string]*webrtc.DataChannel
	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onData   func(label string, payload []byte)
	onOffer  func(webrtc.SessionDescription)
	onClosed func()

	// renegotiation
	negMu       sync.Mutex
	ready       bool
	negotiating bool
	pending     bool

	closed    atomic.Bool
	closeOnce sync.Once
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// NewAPI builds a pion API with the default codecs and the RFC 6464 audio
// level header extension used for speaking detection.
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m)), nil
}

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, sid core.SessionID, maxBuffered uint64) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	if maxBuffered == 0 {
		maxBuffered = DefaultMaxBuffered
	}
	return &WebRTCConnection{
		pc:          pc,
		sid:         sid,
		maxBuffered: maxBuffered,
		channels:    make(map[string]*webrtc.DataChannel),
	}, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			go c.Close()
		}
	})

	c.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		if s == webrtc.SignalingStateStable {
			c.negotiated()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if cand != nil && fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(ctx, track, receiver)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		label := dc.Label()
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("label", label).Msg("data channel")
		dc.OnOpen(func() {
			c.mu.Lock()
			c.channels[label] = dc
			c.mu.Unlock()
		})
		dc.OnClose(func() {
			c.mu.Lock()
			if c.channels[label] == dc {
				delete(c.channels, label)
			}
			c.mu.Unlock()
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			c.mu.RLock()
			fn := c.onData
			c.mu.RUnlock()
			if fn != nil {
				fn(label, msg.Data)
			}
		})
	})

	return nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	c.negMu.Lock()
	c.ready = true
	c.negMu.Unlock()
	c.negotiated()

	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

// Renegotiate sends a fresh offer, or defers it until the connection is back
// in the stable state.
func (c *WebRTCConnection) Renegotiate() {
	if c.closed.Load() {
		return
	}
	c.negMu.Lock()
	if !c.ready || c.negotiating || c.pc.SignalingState() != webrtc.SignalingStateStable {
		c.pending = true
		c.negMu.Unlock()
		return
	}
	c.negotiating = true
	c.pending = false
	c.negMu.Unlock()

	go c.offer()
}

func (c *WebRTCConnection) negotiated() {
	c.negMu.Lock()
	c.negotiating = false
	again := c.pending && c.ready
	c.negMu.Unlock()
	if again {
		c.Renegotiate()
	}
}

func (c *WebRTCConnection) offer() {
	logger := log.With().Str("module", "webrtc").Str("sid", string(c.sid)).Logger()
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		logger.Error().Err(err).Msg("create offer")
		c.negotiated()
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		logger.Error().Err(err).Msg("set local offer")
		c.negotiated()
		return
	}
	<-gatherComplete

	c.mu.RLock()
	fn := c.onOffer
	c.mu.RUnlock()
	if fn != nil {
		fn(*c.pc.LocalDescription())
	}
	logger.Debug().Msg("renegotiation offer sent")
}

func (c *WebRTCConnection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.cancel != nil {
			c.cancel()
		}
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
		}
		c.mu.RLock()
		fn := c.onClosed
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})
}

func (c *WebRTCConnection) IsClosed() bool { return c.closed.Load() }

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnData(fn func(label string, payload []byte)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnOffer(fn func(webrtc.SessionDescription)) {
	c.mu.Lock()
	c.onOffer = fn
	c.mu.Unlock()
}

// OnClosed sets application-level callback for cleanup tracks
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// SendData writes payload on the channel named label. Frames are refused,
// not queued, while the channel is congested.
func (c *WebRTCConnection) SendData(label string, payload []byte) error {
	c.mu.RLock()
	dc, ok := c.channels[label]
	c.mu.RUnlock()
	if !ok || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	if dc.BufferedAmount() > c.maxBuffered {
		return core.ErrBackpressure
	}
	return dc.Send(payload)
}

// AddLocalTrack attaches a local static RTP track to the PeerConnection.
func (c *WebRTCConnection) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func (c *WebRTCConnection) RemoveLocalTrack(sender *webrtc.RTPSender) error {
	return c.pc.RemoveTrack(sender)
}
