// Package pipeline implements the Executable/Executor/Pipeline triple
// that drives the streaming stages: one goroutine per stage, started
// and stopped in a fixed order, each repeatedly calling Execute until
// it signals it is done or the Executor is stopped.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Executable is any pipeline stage: capture pacing, encoding,
// packetizing, or RTP send. Execute runs one bounded iteration and
// reports whether the Executor should keep calling it.
type Executable interface {
	Start() bool
	Stop() bool
	Execute() bool
	Name() string
}

// Executor runs a single Executable on its own goroutine. Start calls
// Executable.Start once, then loops Execute until it returns false or
// Stop is requested. Stop cancels the loop, joins the goroutine, and
// calls Executable.Stop exactly once.
type Executor struct {
	exe    Executable
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewExecutor wraps exe in its own worker goroutine.
func NewExecutor(exe Executable, logger zerolog.Logger) *Executor {
	return &Executor{exe: exe, logger: logger.With().Str("stage", exe.Name()).Logger()}
}

// Start runs Executable.Start and, if it succeeds, begins the
// Execute loop on a new goroutine.
func (e *Executor) Start() bool {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return false
	}
	if !e.exe.Start() {
		e.mu.Unlock()
		e.logger.Error().Msg("stage refused to start")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop(ctx)
	return true
}

func (e *Executor) loop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !e.exe.Execute() {
			e.logger.Debug().Msg("stage signalled stop")
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return
		}
	}
}

// Stop cancels the Execute loop, waits for the worker to exit, and
// calls Executable.Stop exactly once. Safe to call even if the stage
// already exited its loop on its own.
func (e *Executor) Stop() bool {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	return e.exe.Stop()
}

// Running reports whether the worker goroutine is currently active.
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Pipeline is a fixed, ordered sequence of (Executable, Executor)
// pairs. Add only while stopped; Start starts each Executor in
// insertion order, Stop stops each in reverse order.
type Pipeline struct {
	logger    zerolog.Logger
	executors []*Executor
	started   bool
}

// New creates an empty Pipeline.
func New(logger zerolog.Logger) *Pipeline {
	return &Pipeline{logger: logger}
}

// Add appends exe to the pipeline. It is an error to Add after Start.
func (p *Pipeline) Add(exe Executable) bool {
	if p.started {
		return false
	}
	p.executors = append(p.executors, NewExecutor(exe, p.logger))
	return true
}

// Start starts every stage in insertion order. If a stage fails to
// start, every stage started so far is stopped in reverse order and
// Start returns false.
func (p *Pipeline) Start() bool {
	for i, ex := range p.executors {
		if !ex.Start() {
			for j := i - 1; j >= 0; j-- {
				p.executors[j].Stop()
			}
			return false
		}
	}
	p.started = true
	return true
}

// Stop stops every stage in reverse insertion order, joining each
// stage's goroutine before moving on. There is no per-stage timeout:
// a stage whose Execute never returns blocks Stop, so stages keep
// Execute bounded (<=100ms, per the concurrency model).
func (p *Pipeline) Stop() bool {
	ok := true
	for i := len(p.executors) - 1; i >= 0; i-- {
		if !p.executors[i].Stop() {
			ok = false
		}
	}
	p.started = false
	return ok
}

// Running reports whether any stage's worker is currently active.
func (p *Pipeline) Running() bool {
	for _, ex := range p.executors {
		if ex.Running() {
			return true
		}
	}
	return false
}

// StageTimeout bounds how long a single Execute call is expected to
// take. Nothing in this module reads it; each stage keeps its own
// poll timeout below this bound so Stop remains responsive.
const StageTimeout = 100 * time.Millisecond
