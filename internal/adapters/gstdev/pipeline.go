// Package gstdev opens the local camera and microphone through GStreamer.
package gstdev

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Mimic/internal/capture"
	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

const sinkName = "sink"

// CameraPipeline describes camera → RGB appsink. An empty device selects the
// platform default source.
func CameraPipeline(device string, width, height, fps int) string {
	src := "autovideosrc"
	if device != "" {
		src = fmt.Sprintf("v4l2src device=%s", device)
	}
	caps := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", width, height)
	rate := ""
	if fps > 0 {
		rate = fmt.Sprintf("videorate drop-only=true ! video/x-raw,framerate=%d/1 ! ", fps)
	}
	return fmt.Sprintf("%s ! videoconvert ! videoscale ! %s%s ! appsink name=%s sync=false max-buffers=1 drop=true",
		src, rate, caps, sinkName)
}

// MicrophonePipeline describes microphone → 20 ms Opus packets.
func MicrophonePipeline(device string) string {
	src := "autoaudiosrc"
	if device != "" {
		src = fmt.Sprintf("pulsesrc device=%s", device)
	}
	return fmt.Sprintf("%s ! audioconvert ! audioresample ! audio/x-raw,rate=48000,channels=2 ! "+
		"opusenc frame-size=20 ! appsink name=%s sync=false", src, sinkName)
}

// cameraError maps a GStreamer failure to the capture error vocabulary.
func cameraError(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "permission") || strings.Contains(lower, "not authorized") {
		return fmt.Errorf("%w: %w: %s", capture.ErrCameraUnavailable, capture.ErrPermissionDenied, msg)
	}
	return fmt.Errorf("%w: %w: %s", capture.ErrCameraUnavailable, capture.ErrNoDevice, msg)
}

func microphoneError(msg string) error {
	return fmt.Errorf("%w: %s", ErrMicrophoneUnavailable, msg)
}

type pipeline struct {
	p    *gst.Pipeline
	sink *app.Sink
	done chan struct{}
}

// startPipeline parses desc, installs onSample on the appsink and waits until
// the pipeline plays. mapErr converts GStreamer failures.
func startPipeline(ctx context.Context, desc string, onSample func(*app.Sink) gst.FlowReturn, mapErr func(string) error) (*pipeline, error) {
	gst.Init(nil)
	p, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, mapErr(err.Error())
	}
	elem, err := p.GetElementByName(sinkName)
	if err != nil {
		return nil, mapErr(err.Error())
	}
	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: onSample})

	if err := p.SetState(gst.StatePlaying); err != nil {
		_ = p.SetState(gst.StateNull)
		return nil, mapErr(err.Error())
	}
	if err := waitPlaying(ctx, p, mapErr); err != nil {
		_ = p.SetState(gst.StateNull)
		return nil, err
	}
	pl := &pipeline{p: p, sink: sink, done: make(chan struct{})}
	go pl.watch()
	return pl, nil
}

func waitPlaying(ctx context.Context, p *gst.Pipeline, mapErr func(string) error) error {
	bus := p.GetPipelineBus()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			return mapErr(msg.ParseError().Error())
		case gst.MessageEOS:
			return mapErr("end of stream before playing")
		case gst.MessageStateChanged:
			if msg.Source() == p.GetName() {
				if _, st := msg.ParseStateChanged(); st == gst.StatePlaying {
					return nil
				}
			}
		}
	}
}

// watch logs runtime pipeline errors until stop.
func (pl *pipeline) watch() {
	bus := pl.p.GetPipelineBus()
	for {
		select {
		case <-pl.done:
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			log.Warn().Str("module", "gstdev").Str("error", gerr.Error()).Str("debug", gerr.DebugString()).Msg("pipeline error")
		case gst.MessageEOS:
			log.Info().Str("module", "gstdev").Str("pipeline", pl.p.GetName()).Msg("end of stream")
		}
	}
}

func (pl *pipeline) stop() error {
	close(pl.done)
	return pl.p.SetState(gst.StateNull)
}

// pullBytes copies the next sample's buffer; GStreamer reuses it.
func pullBytes(sink *app.Sink) ([]byte, bool) {
	sample := sink.PullSample()
	if sample == nil {
		return nil, false
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, false
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	buffer.Unmap()
	return out, true
}
