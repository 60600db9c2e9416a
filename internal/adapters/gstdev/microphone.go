package gstdev

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Mimic/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const opusFrameMS = 20

// Microphone is a transport.AudioSource of Opus packets.
type Microphone struct {
	pl      *pipeline
	packets chan transport.AudioPacket
	closed  chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// OpenMicrophone matches session.AudioOpener.
func OpenMicrophone(device string) func(ctx context.Context) (transport.AudioSource, error) {
	return func(ctx context.Context) (transport.AudioSource, error) {
		m := &Microphone{packets: make(chan transport.AudioPacket, 50), closed: make(chan struct{})}
		pl, err := startPipeline(ctx, MicrophonePipeline(device), func(sink *app.Sink) gst.FlowReturn {
			if data, ok := pullBytes(sink); ok {
				m.offer(transport.AudioPacket{Data: data, DurationMS: opusFrameMS})
			}
			return gst.FlowOK
		}, microphoneError)
		if err != nil {
			return nil, err
		}
		m.pl = pl
		log.Info().Str("module", "gstdev").Str("device", device).Msg("microphone open")
		return m, nil
	}
}

// offer never blocks the streaming thread; stale packets are dropped.
func (m *Microphone) offer(p transport.AudioPacket) {
	select {
	case <-m.closed:
		return
	default:
	}
	select {
	case m.packets <- p:
	default:
		m.dropped.Add(1)
	}
}

func (m *Microphone) ReadPacket(ctx context.Context) (transport.AudioPacket, error) {
	select {
	case p := <-m.packets:
		return p, nil
	case <-m.closed:
		return transport.AudioPacket{}, ErrMicrophoneUnavailable
	case <-ctx.Done():
		return transport.AudioPacket{}, ctx.Err()
	}
}

func (m *Microphone) Close() error {
	var err error
	m.once.Do(func() {
		close(m.closed)
		if m.pl != nil {
			err = m.pl.stop()
		}
		log.Info().Str("module", "gstdev").Uint64("dropped", m.dropped.Load()).Msg("microphone closed")
	})
	return err
}
