package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Mimic/internal/app/orch"
	"github.com/dkeye/Mimic/internal/core"
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/metrics"
	"github.com/dkeye/Mimic/internal/store"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrConnClosed = errors.New("connection closed")

// TokenKey is the cookie session key remembering the participant token.
const TokenKey = "participant_token"

type Options struct {
	ReadLimit   int64
	PingPeriod  time.Duration
	MaxBuffered uint64
	RTC         webrtc.Configuration
	API         *webrtc.API
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Store   *store.Store
	Metrics *metrics.Server
	Joins   *RoomRateLimiter

	opts Options
}

func NewSignalWSController(o *orch.Orchestrator, st *store.Store, m *metrics.Server, opts Options) *SignalWSController {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	ctl := &SignalWSController{
		Orch:    o,
		Store:   st,
		Metrics: m,
		Joins:   NewRoomRateLimiter(5, 10*time.Second),
		opts:    opts,
	}
	o.Notify = ctl
	return ctl
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// client is one live signalling connection.
type client struct {
	ctx  context.Context
	sid  core.SessionID
	conn *WsSignalConn
	sess core.MemberSession
	room domain.Room
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// token reads the participant token from the query, falling back to the
// cookie session.
func token(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if t, ok := sessions.Default(c).Get(TokenKey).(string); ok {
		return t
	}
	return ""
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	p, room, err := ctl.Store.ByToken(token(c))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("ws auth rejected")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	sid := core.SessionID(p.ID)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room.ID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 64),
	}

	// A reconnect replaces the previous connection of the same participant.
	if prev, ok := ctl.Orch.Registry.GetSession(sid); ok {
		ctl.leaveRoom(sid, prev)
	}

	meta := domain.NewMember(&domain.Identity{ID: p.ID, DisplayName: p.Name})
	sess := core.NewMemberSession(meta).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, sess, cancel)

	cl := &client{ctx: ctx, sid: sid, conn: conn, sess: sess, room: room}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cl)
}

// Evict disconnects a participant's live connection, if any.
func (ctl *SignalWSController) Evict(id domain.ParticipantID) {
	sid := core.SessionID(id)
	if sess, ok := ctl.Orch.Registry.GetSession(sid); ok {
		ctl.leaveRoom(sid, sess)
	}
	ctl.Orch.Registry.Cancel(sid)
}
