// Package render drives avatar renderers from reconciler snapshots, one
// call per participant per animation frame.
package render

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/Mimic/internal/capture"
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/reconcile"
)

type Renderer interface {
	ApplyFaceState(p domain.Participant, fs domain.FaceState)
}

type SnapshotSource interface {
	Snapshot() *reconcile.Snapshot
}

type Driver struct {
	src   SnapshotSource
	r     Renderer
	sched capture.Scheduler

	mu      sync.Mutex
	running bool
	gen     uint64
	cancel  func()

	frames atomic.Uint64
}

func NewDriver(src SnapshotSource, r Renderer, sched capture.Scheduler) *Driver {
	return &Driver{src: src, r: r, sched: sched}
}

func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.gen++
	gen := d.gen
	d.cancel = d.sched.RequestFrame(func() { d.tick(gen) })
}

// Stop is idempotent.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.running = false
	d.gen++
}

func (d *Driver) Frames() uint64 { return d.frames.Load() }

func (d *Driver) tick(gen uint64) {
	d.mu.Lock()
	if !d.running || d.gen != gen {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	snap := d.src.Snapshot()
	for _, p := range snap.Participants() {
		d.r.ApplyFaceState(p, p.Face)
	}
	d.frames.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running && d.gen == gen {
		d.cancel = d.sched.RequestFrame(func() { d.tick(gen) })
	}
}
