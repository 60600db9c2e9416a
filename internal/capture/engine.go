package capture

import (
	"context"
	"io"

	"github.com/dkeye/Mimic/internal/domain"
)

// Result is the landmark output for one frame.
type Result struct {
	// Blendshapes holds only categories above the model's threshold.
	Blendshapes []domain.Blendshape
	// Matrix is the column-major 4x4 facial transformation, nil when absent.
	Matrix []float64
}

// HasFace reports whether the model returned blendshape data for the frame.
func (r Result) HasFace() bool { return len(r.Blendshapes) > 0 }

// Engine runs landmark inference. Implementations are stateless given a
// frame, so one instance is reused across loops.
type Engine interface {
	Detect(ctx context.Context, f Frame) (Result, error)
}

type EngineFactory func(ctx context.Context) (Engine, error)

// EngineHandle owns a lazily constructed engine shared by every loop it is
// passed to. A failed construction is not cached, and an engine reporting
// Broken is closed and rebuilt on the next Acquire.
type EngineHandle struct {
	factory EngineFactory
	sem     chan struct{}
	engine  Engine
}

func NewEngineHandle(factory EngineFactory) *EngineHandle {
	return &EngineHandle{factory: factory, sem: make(chan struct{}, 1)}
}

func (h *EngineHandle) Acquire(ctx context.Context) (Engine, error) {
	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-h.sem }()

	if h.engine != nil {
		b, ok := h.engine.(interface{ Broken() bool })
		if !ok || !b.Broken() {
			return h.engine, nil
		}
		if c, ok := h.engine.(io.Closer); ok {
			_ = c.Close()
		}
		h.engine = nil
	}
	e, err := h.factory(ctx)
	if err != nil {
		return nil, err
	}
	h.engine = e
	return e, nil
}

// Close releases the engine if it was ever built. Only called at process exit.
func (h *EngineHandle) Close() error {
	h.sem <- struct{}{}
	defer func() { <-h.sem }()
	e := h.engine
	h.engine = nil
	if c, ok := e.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
