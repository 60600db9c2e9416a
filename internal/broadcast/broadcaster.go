// Package broadcast publishes local FaceState snapshots over the
// transport's unreliable delivery mode.
package broadcast

import (
	"sync/atomic"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/transport"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/rs/zerolog/log"
)

// Outbound yields the live connection and the local identity, ok false
// while not connected.
type Outbound interface {
	Outbound() (conn transport.Conn, self domain.Identity, ok bool)
}

type Stats struct {
	Published uint64
	Discarded uint64
	Failed    uint64
}

type Broadcaster struct {
	session Outbound

	published, discarded, failed atomic.Uint64
}

func New(session Outbound) *Broadcaster {
	return &Broadcaster{session: session}
}

// OnFaceState publishes fs at most once, with no retry and no queueing.
func (b *Broadcaster) OnFaceState(fs domain.FaceState) {
	conn, self, ok := b.session.Outbound()
	if !ok {
		b.discarded.Add(1)
		return
	}
	payload, err := wire.Encode(self.ID, self.DisplayName, fs)
	if err != nil {
		b.failed.Add(1)
		log.Warn().Err(err).Str("module", "broadcast").Msg("encode")
		return
	}
	if err := conn.Publish(payload, transport.PublishOptions{Reliable: false}); err != nil {
		b.failed.Add(1)
		log.Debug().Err(err).Str("module", "broadcast").Msg("publish dropped")
		return
	}
	b.published.Add(1)
}

func (b *Broadcaster) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Discarded: b.discarded.Load(),
		Failed:    b.failed.Load(),
	}
}
