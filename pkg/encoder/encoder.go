// Package encoder implements the H.264 encoder stage contract: the
// configure/start/stop/queue lifecycle, the buffer-ownership protocol
// between a pull-callback-driven hardware backend and its input
// queue, and a software backend usable for tests and any platform
// without a real hardware codec wired in.
package encoder

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ubports/aethercast/pkg/buffer"
)

// Config is the encoder's immutable per-session parameter set (spec §3).
type Config struct {
	Width, Height      int
	Framerate          int
	BitrateBps         int
	ProfileIDC         byte
	LevelIDC           byte
	ConstraintSet      byte
	IFrameIntervalSecs int
	IntraRefreshMBs    int
}

// Validate enforces the spec §4.4 Start-time invariant.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.New("encoder: width and height must be positive")
	}
	if c.Framerate <= 0 {
		return errors.New("encoder: framerate must be positive")
	}
	return nil
}

var (
	// ErrAlreadyConfigured is returned by Configure on a second call.
	ErrAlreadyConfigured = errors.New("encoder: already configured")
	// ErrEndOfStream signals the backend has no more input and will
	// never produce output again.
	ErrEndOfStream = errors.New("encoder: end of stream")
	// ErrTransientRead signals a single failed pull from the backend;
	// the caller may retry on a later Execute.
	ErrTransientRead = errors.New("encoder: transient read failure")
)

// Delegate receives the encoder stage's output. OnBufferWithCodecConfig
// fires exactly once, before any access unit, carrying SPS/PPS bytes.
// OnBufferAvailable fires once per access unit.
type Delegate interface {
	OnBufferWithCodecConfig(b *buffer.Buffer)
	OnBufferAvailable(b *buffer.Buffer)
}

// Backend is the pluggable codec implementation an Encoder stage
// drives. Real backends (Android MediaCodec, GStreamer, droidmedia in
// the original source) are opaque dependencies this module never
// implements — only this contract, and one deterministic Software
// backend for tests, are provided.
type Backend interface {
	// Configure is called at most once, before Start.
	Configure(cfg Config) error
	Start() error
	Stop() error
	// PullInput is invoked by Execute to ask the backend to encode
	// the next queued input buffer, already dequeued by the Encoder.
	// The backend returns the encoded output (nil output + nil error
	// means "nothing ready yet, try again next Execute").
	PullInput(in *buffer.Buffer) (out *buffer.Buffer, isCodecConfig bool, err error)
	// CSD returns the codec-config bytes (SPS/PPS, Annex-B framed)
	// once available after Start; nil until then.
	CSD() []byte
	RequestIDR()
}

// Encoder drives a Backend through the contract exposed to the
// session layer (spec §4.4). It owns the input queue; PullInput is
// synchronous in this Backend contract (it returns the encoded output,
// or nil to mean "not ready yet", before PullInput itself returns), so
// the input buffer's single reference is released the instant
// PullInput returns — there is no asynchronous "codec later returns
// the buffer" path to track, unlike the original's backends that hand
// buffers to hardware codecs by opaque pointer and get them back on a
// separate callback. A backend needing that asynchrony would need a
// Release(native) callback added to Backend and a pairing table keyed
// on it; none of the three backends this module's Backend interface
// was distilled from are implemented here, so that path is simply
// unneeded today.
type Encoder struct {
	backend Backend

	mu         sync.Mutex
	configured bool
	cfg        Config
	running    atomic.Bool
	csdEmitted bool
	delegate   Delegate

	input *buffer.Queue
}

// New creates an Encoder around backend with a bounded input queue.
func New(backend Backend) *Encoder {
	return &Encoder{
		backend: backend,
		input:   buffer.NewQueue(buffer.DefaultSoftCap),
	}
}

// DefaultConfiguration returns the 720p30 CBP@3.1 baseline this
// source targets absent any negotiated override.
func (e *Encoder) DefaultConfiguration() Config {
	return Config{
		Width: 1280, Height: 720, Framerate: 30,
		BitrateBps: 6_000_000, ProfileIDC: 66, LevelIDC: 31,
		ConstraintSet: 0xC0, IFrameIntervalSecs: 2,
	}
}

// Configure may be called at most once; a second call is rejected.
func (e *Encoder) Configure(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.configured {
		return ErrAlreadyConfigured
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.backend.Configure(cfg); err != nil {
		return err
	}
	e.cfg = cfg
	e.configured = true
	return nil
}

func (e *Encoder) Configuration() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Encoder) SetDelegate(d Delegate) {
	e.mu.Lock()
	e.delegate = d
	e.mu.Unlock()
}

// Start is idempotent: a double-start returns false without being a
// fatal error.
func (e *Encoder) Start() bool {
	if e.running.Swap(true) {
		return false
	}
	if err := e.backend.Start(); err != nil {
		e.running.Store(false)
		return false
	}
	return true
}

func (e *Encoder) Stop() bool {
	if !e.running.Swap(false) {
		return false
	}
	return e.backend.Stop() == nil
}

func (e *Encoder) Running() bool { return e.running.Load() }

// QueueBuffer enqueues b for encoding. Non-blocking; silently dropped
// if the encoder is not running, matching spec §4.4.
func (e *Encoder) QueueBuffer(b *buffer.Buffer) {
	if !e.running.Load() {
		return
	}
	e.input.Push(b)
}

func (e *Encoder) SendIDRFrame() {
	e.backend.RequestIDR()
}

func (e *Encoder) Name() string { return "encoder" }

// Execute pulls one input buffer (if any is queued) through the
// backend, dispatches the result via the delegate, and returns true
// to keep running. End-of-stream stops the loop; a transient read
// failure returns false for this Execute call too (per spec §7) but
// leaves the encoder Running so a later restart can resume.
func (e *Encoder) Execute() bool {
	in, ok := e.input.Pop(pollTimeout)

	e.mu.Lock()
	delegate := e.delegate
	e.mu.Unlock()

	if !ok {
		// Still give CSD a chance to flow even with no input queued
		// yet, matching the "CSD delivered strictly before any
		// packetize call" ordering guarantee.
		e.maybeEmitCSD(delegate)
		return true
	}

	out, isConfig, err := e.backend.PullInput(in)
	in.Release()

	switch {
	case err == ErrEndOfStream:
		return false
	case err == ErrTransientRead:
		return false
	case err != nil:
		return false
	}

	if out == nil {
		return true
	}

	e.maybeEmitCSD(delegate)

	if delegate == nil {
		return true
	}

	if isConfig {
		delegate.OnBufferWithCodecConfig(out)
	} else {
		delegate.OnBufferAvailable(out)
	}
	return true
}

func (e *Encoder) maybeEmitCSD(delegate Delegate) {
	e.mu.Lock()
	if e.csdEmitted || delegate == nil {
		e.mu.Unlock()
		return
	}
	csd := e.backend.CSD()
	if csd == nil {
		e.mu.Unlock()
		return
	}
	e.csdEmitted = true
	e.mu.Unlock()

	delegate.OnBufferWithCodecConfig(buffer.Wrap(csd, 0))
}

// pollTimeout bounds each Execute call per the concurrency model's
// 100ms requirement.
const pollTimeout = 50 * time.Millisecond
