package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs fn once on the next frame of the host's paint cycle.
// The returned cancel func is safe to call at any time, more than once.
type Scheduler interface {
	RequestFrame(fn func()) (cancel func())
}

type frameRequest struct {
	fn        func()
	cancelled atomic.Bool
}

// FrameClock is a paint-cycle scheduler for headless hosts. All callbacks
// run on the goroutine that drives Tick, one after another, so consumers
// sharing a clock share one logical thread.
type FrameClock struct {
	interval time.Duration

	mu      sync.Mutex
	pending []*frameRequest
	paused  atomic.Bool
}

func NewFrameClock(fps int) *FrameClock {
	if fps <= 0 {
		fps = 60
	}
	return &FrameClock{interval: time.Second / time.Duration(fps)}
}

func (c *FrameClock) RequestFrame(fn func()) func() {
	req := &frameRequest{fn: fn}
	c.mu.Lock()
	c.pending = append(c.pending, req)
	c.mu.Unlock()
	return func() { req.cancelled.Store(true) }
}

// SetPaused stops delivering frames while the view is not visible.
// Requests stay queued until frames resume.
func (c *FrameClock) SetPaused(p bool) { c.paused.Store(p) }

// Tick delivers one frame. Callbacks requested during this frame run on the next one.
func (c *FrameClock) Tick() {
	if c.paused.Load() {
		return
	}
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, req := range batch {
		if req.cancelled.Load() {
			continue
		}
		req.fn()
	}
}

// Pending reports queued, non-cancelled requests.
func (c *FrameClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, req := range c.pending {
		if !req.cancelled.Load() {
			n++
		}
	}
	return n
}

// Run ticks at the configured rate until ctx is done.
func (c *FrameClock) Run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Tick()
		}
	}
}
