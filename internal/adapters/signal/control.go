package signal

import (
	"github.com/dkeye/Mimic/internal/core"
	"github.com/dkeye/Mimic/internal/wire"
)

func (ctl *SignalWSController) handlePing(conn core.SignalConnection) {
	ctl.sendJSON(conn, wire.SignalType{Type: wire.MsgPong})
}
