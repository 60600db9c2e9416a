package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Mimic/internal/core"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cl *client) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Msg("readPump closing")
		ctl.cleanup(cl)
		cancel()
	}()

	wait := 2 * ctl.opts.PingPeriod
	_ = cl.conn.conn.SetReadDeadline(time.Now().Add(wait))
	cl.conn.conn.SetPongHandler(func(string) error {
		return cl.conn.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := cl.conn.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(cl, data)
		}
	}
}

// cleanup runs once per connection. A connection that was replaced by a
// newer one leaves room state alone.
func (ctl *SignalWSController) cleanup(cl *client) {
	if cur, ok := ctl.Orch.Registry.GetSession(cl.sid); ok && cur == cl.sess {
		ctl.leaveRoom(cl.sid, cl.sess)
		ctl.Orch.Registry.Unbind(cl.sid, cl.sess)
	} else if mc := cl.sess.Media(); mc != nil {
		mc.Close()
	}
	cl.conn.Close()
}

func (ctl *SignalWSController) handleSignal(cl *client, data []byte) {
	var env wire.SignalType
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(cl.conn, "bad_json")
		return
	}

	switch env.Type {
	case wire.MsgJoin:
		ctl.handleJoin(cl)
	case wire.MsgLeave:
		ctl.handleLeave(cl)
	case wire.MsgPing:
		ctl.handlePing(cl.conn)
	case wire.MsgMetadata:
		ctl.handleMetadata(cl, data)
	case wire.MsgOffer:
		ctl.handleOffer(cl, data)
	case wire.MsgAnswer:
		ctl.handleAnswer(cl, data)
	case wire.MsgCandidate:
		ctl.handleCandidate(cl, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(cl.conn, "unknown_type")
		return
	}
	if ctl.Metrics != nil {
		ctl.Metrics.RecordSignal(env.Type)
	}
}

func encode(v any) (core.Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal")
		return nil, false
	}
	return b, true
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	if c == nil {
		return
	}
	if b, ok := encode(v); ok {
		_ = c.TrySend(b)
	}
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, msg string) {
	ctl.sendJSON(c, wire.Error{Type: wire.MsgError, Error: msg})
}
