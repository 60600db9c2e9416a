// Package rtcclient connects to the room server: WebSocket signalling plus a
// WebRTC peer connection carrying the face data channels and microphone audio.
package rtcclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dkeye/Mimic/internal/adapters/rtc"
	"github.com/dkeye/Mimic/internal/transport"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrChannelNotOpen = errors.New("data channel not open")
	ErrCongested      = errors.New("data channel congested")
	ErrAudioPublished = errors.New("audio already published")
	errRejected       = errors.New("server rejected join")
)

// MaxUnreliableBuffered bounds the buffered amount of the unreliable channel;
// frames beyond it are dropped by Publish.
const MaxUnreliableBuffered = 64 * 1024

type Dialer struct {
	API    *webrtc.API
	Config webrtc.Configuration
	WS     *websocket.Dialer
}

// NewDialer uses the same codec set as the room server.
func NewDialer(iceServers []string) (*Dialer, error) {
	api, err := rtc.NewAPI()
	if err != nil {
		return nil, err
	}
	return &Dialer{API: api, Config: rtc.DefaultWebRTCConfig(iceServers), WS: websocket.DefaultDialer}, nil
}

// SignalURL maps a server base URL to its signalling endpoint.
func SignalURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws/signal"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func connectErr(err error) error {
	return fmt.Errorf("%w: %w", transport.ErrConnect, err)
}

// Connect completes the join handshake: room_state, SDP answer and an open
// face channel, all bounded by ctx.
func (d *Dialer) Connect(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	logger := log.With().Str("module", "rtcclient").Logger()
	target, err := SignalURL(ep.URL, ep.Token)
	if err != nil {
		return nil, connectErr(err)
	}
	wsd := d.WS
	if wsd == nil {
		wsd = websocket.DefaultDialer
	}
	ws, _, err := wsd.DialContext(ctx, target, nil)
	if err != nil {
		return nil, connectErr(err)
	}

	pc, err := d.API.NewPeerConnection(d.Config)
	if err != nil {
		_ = ws.Close()
		return nil, connectErr(err)
	}
	c := newConn(ws, pc)
	if err := c.setup(); err != nil {
		c.Close()
		return nil, connectErr(err)
	}
	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return nil, connectErr(err)
	}
	logger.Info().Str("participant", string(c.LocalID())).Msg("connected")
	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	if err := c.send(wire.SignalType{Type: wire.MsgJoin}); err != nil {
		return err
	}
	select {
	case self := <-c.roomState:
		c.self.Store(&self)
	case err := <-c.rejected:
		return err
	case <-c.events.Done():
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.offer(); err != nil {
		return err
	}
	select {
	case <-c.answered:
	case err := <-c.rejected:
		return err
	case <-c.events.Done():
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.faceOpen:
	case <-c.events.Done():
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	go c.flush()
	return nil
}
