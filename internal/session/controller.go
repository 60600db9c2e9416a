// Package session drives one participant's connection lifecycle: connect,
// announce, publish audio, pump transport events into the reconciler and
// tear everything down on leave or transport loss.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/reconcile"
	"github.com/dkeye/Mimic/internal/transport"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrMissingConfig = errors.New("session endpoint not configured")
	ErrAlreadyJoined = errors.New("session already joined")
	ErrLeft          = errors.New("session left while connecting")
	ErrNoAudio       = errors.New("no local audio published")
)

// Capture is the local capture loop as seen by the session.
type Capture interface {
	Start(ctx context.Context) error
	Stop()
}

// AudioOpener acquires the local microphone.
type AudioOpener func(ctx context.Context) (transport.AudioSource, error)

type Options struct {
	Dialer      transport.Dialer
	Endpoint    transport.Endpoint
	DisplayName string
	Reconciler  *reconcile.Reconciler
	// Capture and Audio are optional.
	Capture        Capture
	Audio          AudioOpener
	ConnectTimeout time.Duration
	// OnStateChange is called outside internal locks after every transition.
	OnStateChange func(State, error)
}

type Controller struct {
	opts Options

	mu            sync.Mutex
	state         State
	err           error
	gen           uint64
	conn          transport.Conn
	self          domain.Identity
	audio         transport.AudioPublication
	cancelConnect context.CancelFunc
	pumpDone      chan struct{}

	// captureMu serializes capture starts so a stale attempt can never
	// stop the loop a newer attempt started.
	captureMu sync.Mutex
}

func NewController(opts Options) *Controller {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.Reconciler == nil {
		opts.Reconciler = reconcile.New()
	}
	return &Controller{opts: opts}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the failure of the last attempt, nil unless Failed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Reconciler() *reconcile.Reconciler { return c.opts.Reconciler }

// Outbound implements broadcast.Outbound.
func (c *Controller) Outbound() (transport.Conn, domain.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil, domain.Identity{}, false
	}
	return c.conn, c.self, true
}

func (c *Controller) notify(s State, err error) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s, err)
	}
}

// fail records a user-visible failure. Callers hold c.mu.
func (c *Controller) fail(err error) error {
	c.state = StateFailed
	c.err = domain.NewFault(domain.KindUserVisible, "session.join", err)
	return c.err
}

// Join connects and blocks until Connected or Failed. A failed attempt is
// never retried; call Join again.
func (c *Controller) Join(ctx context.Context) error {
	logger := log.With().Str("module", "session").Logger()

	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	if !c.opts.Endpoint.Valid() || c.opts.Dialer == nil {
		err := c.fail(ErrMissingConfig)
		c.mu.Unlock()
		logger.Error().Err(err).Msg("join")
		c.notify(StateFailed, err)
		return err
	}
	if verr := domain.ValidateDisplayName(c.opts.DisplayName); verr != nil {
		err := c.fail(fmt.Errorf("%w: %w", ErrMissingConfig, verr))
		c.mu.Unlock()
		logger.Error().Err(err).Msg("join")
		c.notify(StateFailed, err)
		return err
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.err = nil
	connectCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	c.cancelConnect = cancel
	c.mu.Unlock()
	c.notify(StateConnecting, nil)
	logger.Info().Str("url", c.opts.Endpoint.URL).Msg("connecting")

	conn, err := c.opts.Dialer.Connect(connectCtx, c.opts.Endpoint)
	cancel()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrLeft
	}
	c.cancelConnect = nil
	if err != nil {
		if !errors.Is(err, transport.ErrConnect) {
			err = fmt.Errorf("%w: %w", transport.ErrConnect, err)
		}
		ferr := c.fail(err)
		c.mu.Unlock()
		logger.Error().Err(err).Msg("connect failed")
		c.notify(StateFailed, ferr)
		return ferr
	}
	c.conn = conn
	c.self = domain.Identity{ID: conn.LocalID(), DisplayName: c.opts.DisplayName}
	c.opts.Reconciler.Reset()
	c.opts.Reconciler.SetLocal(c.self.ID, c.self.DisplayName)
	c.pumpDone = make(chan struct{})
	go c.pump(gen, conn, c.pumpDone)
	c.mu.Unlock()

	c.announce(conn)
	pub := c.publishAudio(ctx, conn)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if pub != nil {
			_ = pub.Close()
		}
		return ErrLeft
	}
	c.audio = pub
	c.state = StateConnected
	c.mu.Unlock()
	logger.Info().Str("participant", string(c.self.ID)).Bool("audio", pub != nil).Msg("connected")
	c.notify(StateConnected, nil)

	if c.opts.Capture != nil {
		go c.startCapture(gen)
	}
	return nil
}

func (c *Controller) announce(conn transport.Conn) {
	meta, err := wire.EncodeMetadata(c.opts.DisplayName)
	if err == nil {
		err = conn.SetMetadata(meta)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("metadata announce failed, falling back to transport identity")
	}
}

func (c *Controller) publishAudio(ctx context.Context, conn transport.Conn) transport.AudioPublication {
	if c.opts.Audio == nil {
		return nil
	}
	src, err := c.opts.Audio(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("microphone unavailable, continuing without audio")
		return nil
	}
	pub, err := conn.PublishAudio(ctx, src)
	if err != nil {
		_ = src.Close()
		log.Warn().Err(err).Str("module", "session").Msg("audio publish failed, continuing without audio")
		return nil
	}
	return pub
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.state == StateConnected
}

// startCapture runs the capture loop for attempt gen. A teardown that lands
// before or during Start leaves the loop stopped.
func (c *Controller) startCapture(gen uint64) {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if !c.current(gen) {
		return
	}
	err := c.opts.Capture.Start(context.Background())
	if !c.current(gen) {
		if err == nil {
			c.opts.Capture.Stop()
		}
		return
	}
	if err == nil {
		return
	}
	ev := log.Warn()
	if domain.KindOf(err) == domain.KindFatalToAttempt {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "session").Str("kind", domain.KindOf(err).String()).Msg("capture unavailable, continuing without face data")
}

func (c *Controller) pump(gen uint64, conn transport.Conn, done chan struct{}) {
	defer close(done)
	rec := c.opts.Reconciler
	for ev := range conn.Events() {
		switch ev.Kind {
		case transport.ParticipantJoined:
			rec.HandleJoined(ev.Participant, ev.Metadata)
		case transport.ParticipantLeft:
			rec.HandleLeft(ev.Participant)
		case transport.SpeakingChanged:
			rec.HandleSpeaking(ev.Participant, ev.Speaking)
		case transport.MetadataChanged:
			rec.HandleMetadata(ev.Participant, ev.Metadata)
		case transport.DataReceived:
			_ = rec.HandleData(ev.Payload)
		case transport.Disconnected:
			c.lost(gen, ev.Err)
			return
		}
	}
	c.lost(gen, nil)
}

// lost handles a transport-initiated disconnect.
func (c *Controller) lost(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	a := c.detach()
	c.state = StateDisconnected
	c.mu.Unlock()

	log.Warn().Err(cause).Str("module", "session").Msg("transport disconnected")
	c.release(a, false)
	c.notify(StateDisconnected, nil)
}

type attached struct {
	conn     transport.Conn
	audio    transport.AudioPublication
	pumpDone chan struct{}
}

// detach invalidates the current attempt. Callers hold c.mu.
func (c *Controller) detach() attached {
	c.gen++
	if c.cancelConnect != nil {
		c.cancelConnect()
		c.cancelConnect = nil
	}
	a := attached{conn: c.conn, audio: c.audio, pumpDone: c.pumpDone}
	c.conn, c.audio, c.pumpDone = nil, nil, nil
	return a
}

// release closes what detach returned. With wait set it drains the event
// pump first so no stale event lands after the reset.
func (c *Controller) release(a attached, wait bool) {
	conn, pub := a.conn, a.audio
	if c.opts.Capture != nil {
		c.opts.Capture.Stop()
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			log.Debug().Err(err).Str("module", "session").Msg("audio close")
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Str("module", "session").Msg("transport close")
		}
	}
	if wait && a.pumpDone != nil {
		select {
		case <-a.pumpDone:
		case <-time.After(2 * time.Second):
			log.Warn().Str("module", "session").Msg("event pump did not stop")
		}
	}
	c.opts.Reconciler.Reset()
}

// Leave tears the session down from any state. Idempotent.
func (c *Controller) Leave() {
	c.mu.Lock()
	prev := c.state
	a := c.detach()
	if prev == StateConnecting || prev == StateConnected {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	c.release(a, true)
	if prev == StateConnecting || prev == StateConnected {
		log.Info().Str("module", "session").Msg("left")
		c.notify(StateDisconnected, nil)
	}
}

// SetMuted mutes or unmutes the local audio publication.
func (c *Controller) SetMuted(muted bool) error {
	c.mu.Lock()
	pub := c.audio
	c.mu.Unlock()
	if pub == nil {
		return domain.NewFault(domain.KindDegraded, "session.mute", ErrNoAudio)
	}
	pub.SetMuted(muted)
	return nil
}

// ToggleMute flips the mute state and returns the new one.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	pub := c.audio
	c.mu.Unlock()
	if pub == nil {
		return false, domain.NewFault(domain.KindDegraded, "session.mute", ErrNoAudio)
	}
	muted := !pub.Muted()
	pub.SetMuted(muted)
	return muted, nil
}
