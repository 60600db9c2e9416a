// Package inference bridges the capture loop to an out-of-process facial
// landmark worker speaking length-prefixed msgpack over stdin/stdout.
package inference

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mimic/internal/capture"
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotReady = errors.New("landmark worker not ready")
	ErrBroken   = errors.New("landmark worker stream broken")
	ErrClosed   = errors.New("landmark engine closed")
	ErrTimeout  = errors.New("landmark worker timeout")
)

type Config struct {
	Command       string
	Args          []string
	Model         string
	LoadTimeout   time.Duration
	DetectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 500 * time.Millisecond
	}
	return c
}

// ProcessEngine implements capture.Engine. One request is in flight at a time.
type ProcessEngine struct {
	cfg    Config
	conn   io.ReadWriteCloser
	cmd    *exec.Cmd
	exited chan struct{}

	mu     sync.Mutex
	broken atomic.Bool
	closed atomic.Bool

	inferences atomic.Uint64
	failures   atomic.Uint64
}

type pipeConn struct {
	io.Reader
	io.WriteCloser
}

// Start spawns the worker command and waits for its ready handshake.
// ctx bounds the handshake only; the worker lives until Close.
func Start(ctx context.Context, cfg Config) (*ProcessEngine, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: no worker command configured", ErrNotReady)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	log.Info().Str("module", "inference").Str("command", cfg.Command).Int("pid", cmd.Process.Pid).Msg("worker spawned")

	go logStderr(stderr)

	e, err := NewEngine(ctx, pipeConn{Reader: stdout, WriteCloser: stdin}, cfg)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	e.cmd = cmd
	e.exited = make(chan struct{})
	go e.waitProcess()
	return e, nil
}

// Factory adapts Start to the capture loop's engine handle.
func Factory(cfg Config) capture.EngineFactory {
	return func(ctx context.Context) (capture.Engine, error) {
		return Start(ctx, cfg)
	}
}

// NewEngine runs the handshake over an established stream.
func NewEngine(ctx context.Context, conn io.ReadWriteCloser, cfg Config) (*ProcessEngine, error) {
	e := &ProcessEngine{cfg: cfg.withDefaults(), conn: conn}

	var ready readyResponse
	req := initRequest{
		Type:              "init",
		Model:             e.cfg.Model,
		NumFaces:          1,
		OutputBlendshapes: true,
		OutputMatrix:      true,
	}
	e.mu.Lock()
	if err := e.exchange(ctx, e.cfg.LoadTimeout, req, &ready); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	if !ready.Ready {
		_ = conn.Close()
		if ready.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrNotReady, ready.Error)
		}
		return nil, ErrNotReady
	}
	log.Info().Str("module", "inference").Str("model", ready.Model).Msg("worker ready")
	return e, nil
}

func (e *ProcessEngine) Detect(ctx context.Context, f capture.Frame) (capture.Result, error) {
	if e.closed.Load() {
		return capture.Result{}, ErrClosed
	}
	if e.broken.Load() {
		return capture.Result{}, ErrBroken
	}
	e.mu.Lock()

	req := detectRequest{
		Type:        "detect",
		FrameData:   f.Data,
		Width:       f.Width,
		Height:      f.Height,
		TimestampMS: f.Timestamp.Milliseconds(),
	}
	var resp detectResponse
	if err := e.exchange(ctx, e.cfg.DetectTimeout, req, &resp); err != nil {
		e.failures.Add(1)
		return capture.Result{}, err
	}
	e.inferences.Add(1)
	if resp.Error != "" {
		e.failures.Add(1)
		return capture.Result{}, errors.New(resp.Error)
	}

	res := capture.Result{Matrix: resp.Matrix}
	if len(resp.Blendshapes) > 0 {
		res.Blendshapes = make([]domain.Blendshape, len(resp.Blendshapes))
		for i, b := range resp.Blendshapes {
			res.Blendshapes[i] = domain.Blendshape{Category: b.CategoryName, Score: b.Score}
		}
	}
	return res, nil
}

// exchange must be entered with e.mu held; the lock is released once the
// worker has answered, the request could not be framed, or the stream is
// declared broken. A cancelled ctx
// returns early but leaves the response to be drained in the background.
func (e *ProcessEngine) exchange(ctx context.Context, timeout time.Duration, req, resp any) error {
	buf, err := frameMessage(req)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer e.mu.Unlock()
		if err := writeFrame(e.conn, buf); err != nil {
			e.broken.Store(true)
			done <- err
			return
		}
		err := readMessage(e.conn, resp)
		if err != nil {
			e.broken.Store(true)
		}
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		e.abandon()
		return ErrTimeout
	case <-ctx.Done():
		go func() {
			select {
			case <-done:
			case <-time.After(timeout):
				e.abandon()
			}
		}()
		return ctx.Err()
	}
}

// abandon unblocks a stuck exchange; the stream cannot be resynchronized.
func (e *ProcessEngine) abandon() {
	e.broken.Store(true)
	_ = e.conn.Close()
}

// Broken reports that the stream desynchronized and the engine must be rebuilt.
func (e *ProcessEngine) Broken() bool { return e.broken.Load() || e.closed.Load() }

func (e *ProcessEngine) Inferences() uint64 { return e.inferences.Load() }
func (e *ProcessEngine) Failures() uint64   { return e.failures.Load() }

// Close ends the worker: stdin EOF first, then a kill after a grace period. Idempotent.
func (e *ProcessEngine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	err := e.conn.Close()
	if e.cmd == nil {
		return err
	}
	select {
	case <-e.exited:
	case <-time.After(2 * time.Second):
		if kerr := e.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			log.Warn().Err(kerr).Str("module", "inference").Msg("kill worker")
		}
		<-e.exited
	}
	return err
}

func (e *ProcessEngine) waitProcess() {
	err := e.cmd.Wait()
	e.broken.Store(true)
	close(e.exited)
	if e.closed.Load() {
		log.Debug().Str("module", "inference").Msg("worker exited")
		return
	}
	log.Error().Err(err).Str("module", "inference").Msg("worker exited unexpectedly")
}

func logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Debug().Str("module", "inference").Str("worker", sc.Text()).Msg("stderr")
	}
}
