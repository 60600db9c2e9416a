package rtcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/transport"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Conn implements transport.Conn over one signalling socket and one peer
// connection.
type Conn struct {
	ws *websocket.Conn
	pc *webrtc.PeerConnection

	writeMu sync.Mutex
	negMu   sync.Mutex

	face     *webrtc.DataChannel
	reliable *webrtc.DataChannel
	audio    *webrtc.TrackLocalStaticSample

	self   atomic.Pointer[wire.Member]
	events *transport.EventStream

	roomState chan wire.Member
	answered  chan struct{}
	faceOpen  chan struct{}
	rejected  chan error

	// membership events are held until the handshake completes
	pendMu  sync.Mutex
	pending []transport.Event
	live    bool

	answerOnce sync.Once
	openOnce   sync.Once
	closeOnce  sync.Once
	pubMu      sync.Mutex
	pub        *publication
}

func newConn(ws *websocket.Conn, pc *webrtc.PeerConnection) *Conn {
	return &Conn{
		ws:        ws,
		pc:        pc,
		events:    transport.NewEventStream(64),
		roomState: make(chan wire.Member, 1),
		answered:  make(chan struct{}),
		faceOpen:  make(chan struct{}),
		rejected:  make(chan error, 1),
	}
}

// setup creates the data channels and the audio track before the first
// offer so no client-side renegotiation is needed.
func (c *Conn) setup() error {
	ordered := false
	var zero uint16
	face, err := c.pc.CreateDataChannel(wire.LabelFace, &webrtc.DataChannelInit{Ordered: &ordered, MaxRetransmits: &zero})
	if err != nil {
		return err
	}
	reliable, err := c.pc.CreateDataChannel(wire.LabelReliable, nil)
	if err != nil {
		return err
	}
	c.face, c.reliable = face, reliable
	face.OnOpen(func() { c.openOnce.Do(func() { close(c.faceOpen) }) })
	face.OnMessage(c.onData)
	reliable.OnMessage(c.onData)

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "mimic")
	if err != nil {
		return err
	}
	sender, err := c.pc.AddTrack(audio)
	if err != nil {
		return err
	}
	c.audio = audio
	go drainRTCP(sender)

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		_ = c.send(wire.Candidate{Type: wire.MsgCandidate, Candidate: ci.Candidate, SDPMid: ci.SDPMid, SDPMLineIndex: ci.SDPMLineIndex})
	})
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("module", "rtcclient").Str("stream", track.StreamID()).Msg("remote audio")
		go drainTrack(track)
	})
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "rtcclient").Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed {
			c.events.Fail(fmt.Errorf("peer connection %s", s))
		}
	})
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// drainTrack consumes relayed audio; the headless client does not play it.
func drainTrack(t *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.Read(buf); err != nil {
			return
		}
	}
}

func (c *Conn) onData(msg webrtc.DataChannelMessage) {
	sender, payload, err := wire.DecodeEnvelope(msg.Data)
	if err != nil {
		log.Debug().Err(err).Str("module", "rtcclient").Msg("bad envelope")
		return
	}
	c.events.Emit(transport.Event{Kind: transport.DataReceived, Participant: sender, Payload: payload})
}

func (c *Conn) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// offer sends the initial offer once ICE gathering completes.
func (c *Conn) offer() error {
	c.negMu.Lock()
	defer c.negMu.Unlock()
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	<-gathered
	return c.send(wire.SDP{Type: wire.MsgOffer, SDP: c.pc.LocalDescription().SDP})
}

// answerOffer handles a server renegotiation offer.
func (c *Conn) answerOffer(sdp string) {
	c.negMu.Lock()
	defer c.negMu.Unlock()
	logger := log.With().Str("module", "rtcclient").Logger()
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		logger.Warn().Err(err).Msg("apply server offer")
		return
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		logger.Warn().Err(err).Msg("create answer")
		return
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		logger.Warn().Err(err).Msg("set local answer")
		return
	}
	<-gathered
	if err := c.send(wire.SDP{Type: wire.MsgAnswer, SDP: c.pc.LocalDescription().SDP}); err != nil {
		logger.Warn().Err(err).Msg("send answer")
	}
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = nil
			}
			c.events.Fail(err)
			c.shutdown()
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	var env wire.SignalType
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Str("module", "rtcclient").Msg("bad signal")
		return
	}
	switch env.Type {
	case wire.MsgRoomState:
		var m wire.RoomState
		if json.Unmarshal(data, &m) != nil {
			return
		}
		for _, mem := range m.Members {
			c.emitMember(transport.Event{Kind: transport.ParticipantJoined, Participant: mem.ID, Metadata: mem.Metadata})
			if mem.Speaking {
				c.emitMember(transport.Event{Kind: transport.SpeakingChanged, Participant: mem.ID, Speaking: true})
			}
		}
		select {
		case c.roomState <- m.Self:
		default:
		}
	case wire.MsgAnswer:
		var m wire.SDP
		if json.Unmarshal(data, &m) != nil {
			return
		}
		if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}); err != nil {
			log.Warn().Err(err).Str("module", "rtcclient").Msg("apply answer")
			return
		}
		c.answerOnce.Do(func() { close(c.answered) })
	case wire.MsgOffer:
		var m wire.SDP
		if json.Unmarshal(data, &m) == nil {
			go c.answerOffer(m.SDP)
		}
	case wire.MsgCandidate:
		var m wire.Candidate
		if json.Unmarshal(data, &m) != nil {
			return
		}
		ci := webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Debug().Err(err).Str("module", "rtcclient").Msg("add candidate")
		}
	case wire.MsgMemberJoined:
		var m wire.MemberEvent
		if json.Unmarshal(data, &m) == nil {
			c.emitMember(transport.Event{Kind: transport.ParticipantJoined, Participant: m.Member.ID, Metadata: m.Member.Metadata})
		}
	case wire.MsgMemberUpdated:
		var m wire.MemberEvent
		if json.Unmarshal(data, &m) == nil {
			c.emitMember(transport.Event{Kind: transport.MetadataChanged, Participant: m.Member.ID, Metadata: m.Member.Metadata})
		}
	case wire.MsgMemberLeft:
		var m wire.MemberLeft
		if json.Unmarshal(data, &m) == nil {
			c.emitMember(transport.Event{Kind: transport.ParticipantLeft, Participant: m.ID})
		}
	case wire.MsgSpeaking:
		var m wire.Speaking
		if json.Unmarshal(data, &m) == nil {
			c.emitMember(transport.Event{Kind: transport.SpeakingChanged, Participant: m.ID, Speaking: m.Speaking})
		}
	case wire.MsgError:
		var m wire.Error
		if json.Unmarshal(data, &m) == nil {
			log.Warn().Str("module", "rtcclient").Str("error", m.Error).Msg("server error")
			select {
			case c.rejected <- fmt.Errorf("%w: %s", errRejected, m.Error):
			default:
			}
		}
	case wire.MsgPong, wire.MsgLeft:
	default:
		log.Debug().Str("module", "rtcclient").Str("type", env.Type).Msg("unknown signal")
	}
}

func (c *Conn) emitMember(ev transport.Event) {
	c.pendMu.Lock()
	if !c.live {
		c.pending = append(c.pending, ev)
		c.pendMu.Unlock()
		return
	}
	c.pendMu.Unlock()
	c.events.Emit(ev)
}

// flush delivers membership events queued during the handshake, in arrival
// order, then switches to direct delivery.
func (c *Conn) flush() {
	for {
		c.pendMu.Lock()
		batch := c.pending
		c.pending = nil
		if len(batch) == 0 {
			c.live = true
			c.pendMu.Unlock()
			return
		}
		c.pendMu.Unlock()
		for _, ev := range batch {
			if !c.events.Emit(ev) {
				return
			}
		}
	}
}

func (c *Conn) LocalID() domain.ParticipantID {
	if m := c.self.Load(); m != nil {
		return m.ID
	}
	return ""
}

func (c *Conn) Events() <-chan transport.Event { return c.events.C() }

// Publish sends payload on the face channel, or the reliable one when asked.
// Unreliable frames are dropped while the channel is congested.
func (c *Conn) Publish(payload []byte, opts transport.PublishOptions) error {
	dc := c.face
	if opts.Reliable {
		dc = c.reliable
	}
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	if !opts.Reliable && dc.BufferedAmount() > MaxUnreliableBuffered {
		return ErrCongested
	}
	return dc.Send(payload)
}

func (c *Conn) SetMetadata(metadata string) error {
	return c.send(wire.Metadata{Type: wire.MsgMetadata, Metadata: metadata})
}

// PublishAudio feeds src into the audio track until the publication is closed.
func (c *Conn) PublishAudio(ctx context.Context, src transport.AudioSource) (transport.AudioPublication, error) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if c.pub != nil && !c.pub.isClosed() {
		return nil, ErrAudioPublished
	}
	p := newPublication(src, c.audio)
	c.pub = p
	go p.run(context.WithoutCancel(ctx))
	return p, nil
}

// Close leaves the room and releases the connection. Idempotent.
func (c *Conn) Close() error {
	_ = c.send(wire.SignalType{Type: wire.MsgLeave})
	c.events.Close()
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.pubMu.Lock()
		if c.pub != nil {
			_ = c.pub.Close()
		}
		c.pubMu.Unlock()
		if err := c.pc.Close(); err != nil {
			log.Debug().Err(err).Str("module", "rtcclient").Msg("pc close")
		}
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}
