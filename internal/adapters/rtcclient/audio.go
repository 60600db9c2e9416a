package rtcclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mimic/internal/transport"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// SampleWriter is the write side of a local sample track.
type SampleWriter interface {
	WriteSample(media.Sample) error
}

type publication struct {
	src   transport.AudioSource
	track SampleWriter

	muted  atomic.Bool
	closed atomic.Bool
	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}
	once   sync.Once

	written atomic.Uint64
}

func newPublication(src transport.AudioSource, track SampleWriter) *publication {
	ctx, cancel := context.WithCancel(context.Background())
	return &publication{src: src, track: track, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// run copies packets until the source ends or the publication closes.
// Muted packets are read and discarded.
func (p *publication) run(parent context.Context) {
	defer close(p.done)
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-p.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	for {
		pkt, err := p.src.ReadPacket(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "rtcclient").Msg("audio source ended")
			}
			return
		}
		if p.muted.Load() {
			continue
		}
		sample := media.Sample{Data: pkt.Data, Duration: time.Duration(pkt.DurationMS) * time.Millisecond}
		if err := p.track.WriteSample(sample); err != nil {
			log.Debug().Err(err).Str("module", "rtcclient").Msg("write audio sample")
			continue
		}
		p.written.Add(1)
	}
}

func (p *publication) SetMuted(muted bool) {
	p.muted.Store(muted)
	log.Info().Str("module", "rtcclient").Bool("muted", muted).Msg("microphone")
}

func (p *publication) Muted() bool { return p.muted.Load() }

func (p *publication) isClosed() bool { return p.closed.Load() }

func (p *publication) Close() error {
	var err error
	p.once.Do(func() {
		p.closed.Store(true)
		p.cancel()
		<-p.done
		err = p.src.Close()
	})
	return err
}
