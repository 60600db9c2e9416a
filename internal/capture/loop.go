// Package capture samples the local camera once per paint frame, runs
// landmark inference on each new video frame and emits FaceState updates.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	ErrModelLoad      = errors.New("landmark model load failed")
	ErrAlreadyStarted = errors.New("capture loop already started")
	ErrStopped        = errors.New("capture loop stopped")
)

type Options struct {
	Engines   *EngineHandle
	Camera    Camera
	Scheduler Scheduler
	// OnFace receives every emitted FaceState on the scheduler's goroutine.
	OnFace func(domain.FaceState)
}

// Stats counts loop activity since construction.
type Stats struct {
	Ticks      uint64
	Duplicates uint64
	Inferences uint64
	NoFace     uint64
	Errors     uint64
	Emitted    uint64
}

type Loop struct {
	engines *EngineHandle
	camera  Camera
	sched   Scheduler
	onFace  func(domain.FaceState)

	mu          sync.Mutex
	state       State
	gen         uint64
	stream      Stream
	engine      Engine
	cancelInit  context.CancelFunc
	cancelRun   context.CancelFunc
	runCtx      context.Context
	cancelFrame func()

	// touched only from tick
	lastFrame    time.Duration
	hasLast      bool
	lastRotation domain.Rotation

	ticks, duplicates, inferences, noFace, errs, emitted atomic.Uint64
}

func NewLoop(opts Options) *Loop {
	onFace := opts.OnFace
	if onFace == nil {
		onFace = func(domain.FaceState) {}
	}
	return &Loop{
		engines: opts.Engines,
		camera:  opts.Camera,
		sched:   opts.Scheduler,
		onFace:  onFace,
	}
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:      l.ticks.Load(),
		Duplicates: l.duplicates.Load(),
		Inferences: l.inferences.Load(),
		NoFace:     l.noFace.Load(),
		Errors:     l.errs.Load(),
		Emitted:    l.emitted.Load(),
	}
}

// Start acquires the engine and the camera, then schedules the first frame.
// It blocks until the loop is running or initialization failed; a Stop during
// initialization makes it return ErrStopped with nothing left acquired.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateInitializing || l.state == StateRunning {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	initCtx, cancelInit := context.WithCancel(ctx)
	defer cancelInit()
	l.gen++
	gen := l.gen
	l.state = StateInitializing
	l.cancelInit = cancelInit
	l.mu.Unlock()

	logger := log.With().Str("module", "capture").Logger()
	logger.Info().Msg("initializing")

	engine, err := l.engines.Acquire(initCtx)
	if err != nil {
		if l.abort(gen) {
			return ErrStopped
		}
		logger.Error().Err(err).Msg("model load failed")
		return domain.NewFault(domain.KindFatalToAttempt, "capture.start", fmt.Errorf("%w: %v", ErrModelLoad, err))
	}

	stream, err := l.camera.Open(initCtx)
	if err != nil {
		if l.abort(gen) {
			return ErrStopped
		}
		logger.Warn().Err(err).Msg("camera unavailable")
		if !errors.Is(err, ErrCameraUnavailable) {
			err = fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
		}
		return domain.NewFault(domain.KindDegraded, "capture.start", err)
	}

	handedOff := false
	defer func() {
		if !handedOff {
			releaseStream(stream)
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateInitializing || l.gen != gen {
		logger.Info().Msg("stopped during initialization")
		return ErrStopped
	}
	l.stream = stream
	l.engine = engine
	l.runCtx, l.cancelRun = context.WithCancel(context.Background())
	l.hasLast = false
	l.lastRotation = domain.Rotation{}
	l.state = StateRunning
	l.cancelFrame = l.sched.RequestFrame(func() { l.tick(gen) })
	handedOff = true
	logger.Info().Int("tracks", len(stream.Tracks())).Msg("running")
	return nil
}

// abort moves a failed initialization to Stopped. It reports whether the
// failure was caused by a concurrent Stop.
func (l *Loop) abort(gen uint64) (stopped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen || l.state != StateInitializing {
		return true
	}
	l.state = StateStopped
	l.cancelInit = nil
	return false
}

// Stop tears the loop down from any state. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	prev := l.state
	if l.cancelInit != nil {
		l.cancelInit()
		l.cancelInit = nil
	}
	if l.cancelRun != nil {
		l.cancelRun()
		l.cancelRun = nil
	}
	if l.cancelFrame != nil {
		l.cancelFrame()
		l.cancelFrame = nil
	}
	stream := l.stream
	l.stream = nil
	l.engine = nil
	l.state = StateStopped
	l.gen++
	l.mu.Unlock()

	if stream != nil {
		releaseStream(stream)
	}
	if prev != StateStopped {
		log.Info().Str("module", "capture").Str("from", prev.String()).Msg("stopped")
	}
}

func releaseStream(s Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Str("module", "capture").Msg("camera release")
	}
}

func (l *Loop) tick(gen uint64) {
	l.mu.Lock()
	if l.state != StateRunning || l.gen != gen {
		l.mu.Unlock()
		return
	}
	stream, engine, ctx := l.stream, l.engine, l.runCtx
	l.mu.Unlock()

	l.ticks.Add(1)
	l.processFrame(ctx, stream, engine)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning && l.gen == gen {
		l.cancelFrame = l.sched.RequestFrame(func() { l.tick(gen) })
	}
}

func (l *Loop) processFrame(ctx context.Context, stream Stream, engine Engine) {
	frame, ok := stream.Current()
	if !ok || frame.Timestamp <= 0 {
		return
	}
	if l.hasLast && frame.Timestamp == l.lastFrame {
		l.duplicates.Add(1)
		return
	}
	l.lastFrame = frame.Timestamp
	l.hasLast = true

	l.inferences.Add(1)
	res, err := engine.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.errs.Add(1)
		log.Debug().Err(err).Str("module", "capture").Dur("frame", frame.Timestamp).Msg("inference failed")
		return
	}
	if !res.HasFace() {
		l.noFace.Add(1)
		return
	}
	if rot, ok := RotationFromMatrix(res.Matrix); ok {
		l.lastRotation = rot
	}
	l.emitted.Add(1)
	l.onFace(domain.NewFaceState(res.Blendshapes, l.lastRotation))
}
