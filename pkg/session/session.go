// Package session implements SourceMediaManager (spec §4.8): the
// state machine that owns the Pipeline and its four stages, wires
// delegates between them, and exposes Configure/Play/Pause/Teardown
// to the RTSP/WFD protocol engine.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/ubports/aethercast/internal/videoformat"
	"github.com/ubports/aethercast/pkg/buffer"
	"github.com/ubports/aethercast/pkg/capture"
	"github.com/ubports/aethercast/pkg/encoder"
	"github.com/ubports/aethercast/pkg/mediasender"
	"github.com/ubports/aethercast/pkg/mpegts"
	"github.com/ubports/aethercast/pkg/pipeline"
	"github.com/ubports/aethercast/pkg/rtpsession"
)

// streamDelayOnPlay is the deferred-start delay before Play actually
// starts the pipeline, chosen by measurement in the original source:
// sinks that are not yet ready to receive RTP respond to early
// packets with ICMP port-unreachable.
const streamDelayOnPlay = 300 * time.Millisecond

// State is the session's lifecycle state.
type State int

const (
	StateStopped State = iota
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Delegate receives session-level notifications, mirroring the
// RTPSender's network-error escalation up to the WFD protocol engine.
type Delegate interface {
	OnSourceNetworkError()
}

// StreamDestination is where the RTPSender's UDP transport connects.
type StreamDestination struct {
	RemoteIP   string
	RemotePort int
}

// ErrAlreadyConfigured is returned by Configure on a second call.
var ErrAlreadyConfigured = errors.New("session: already configured")

// SourceMediaManager wires capture->encoder->mediasender->rtpsender
// into one Pipeline and drives its lifecycle.
type SourceMediaManager struct {
	mu    sync.Mutex
	state State

	sessionID string
	delegate  Delegate

	producer capture.Producer
	enc      *encoder.Encoder
	stream   *rtpsession.Stream
	sender   *rtpsession.RTPSender
	sender2  *mediasender.MediaSender
	pipe     *pipeline.Pipeline

	configured bool

	playTimer *time.Timer

	logger zerolog.Logger
}

// New creates an unconfigured session. producer and backend are the
// collaborators the caller has already built (real or software).
func New(producer capture.Producer, backend encoder.Backend) *SourceMediaManager {
	return &SourceMediaManager{
		sessionID: uuid.NewString(),
		producer:  producer,
		enc:       encoder.New(backend),
		state:     StateStopped,
		logger:    zerolog.Nop(),
	}
}

// SetLogger overrides the pipeline's logger (internal/logx wires the
// real one in; tests leave it as the no-op default).
func (m *SourceMediaManager) SetLogger(logger zerolog.Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

func (m *SourceMediaManager) SetDelegate(d Delegate) {
	m.mu.Lock()
	m.delegate = d
	m.mu.Unlock()
}

// SessionID is a stable per-instance identifier for logs and
// diagnostics.
func (m *SourceMediaManager) SessionID() string { return m.sessionID }

func (m *SourceMediaManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetSessionType always reports AudioVideo: even though only video is
// streamed, some sinks refuse to begin a screencast unless an audio
// codec is present in the negotiation (spec C.3 / original source
// comment in basesourcemediamanager.cpp).
func (m *SourceMediaManager) GetSessionType() string { return "AudioVideo" }

// Configure negotiates the video format, opens the UDP stream, sets
// up the buffer producer and encoder, and assembles the pipeline in
// encoder -> renderer(capture poll) -> rtpsender -> mediasender
// order, matching the original's Add sequence (the Executor list
// order is Start order; Stop runs in reverse).
func (m *SourceMediaManager) Configure(dest StreamDestination, format videoformat.Format, native videoformat.NativeFormat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.configured {
		return ErrAlreadyConfigured
	}

	width, height, framerate, ok := format.RateResolution.Geometry()
	if !ok {
		width, height, framerate = native.Width, native.Height, native.RefreshRate
	}

	m.stream = rtpsession.NewStream(1472)
	if err := m.stream.Connect(dest.RemoteIP, dest.RemotePort); err != nil {
		return fmt.Errorf("session: connect stream: %w", err)
	}

	if err := m.producer.Setup(capture.DisplayOutput{
		Width: width, Height: height, Framerate: framerate,
	}); err != nil {
		return fmt.Errorf("session: setup producer: %w", err)
	}

	cfg := m.enc.DefaultConfiguration()
	cfg.Width, cfg.Height, cfg.Framerate = width, height, framerate
	cfg.ProfileIDC = profileIDC(format.Profile)
	cfg.LevelIDC = format.Level.IDC()
	if err := m.enc.Configure(cfg); err != nil {
		return fmt.Errorf("session: configure encoder: %w", err)
	}

	packetizer := mpegts.New(nil, nil)
	track, err := packetizer.AddTrack(mpegts.TrackFormat{
		Mime: "video/avc", ProfileIDC: cfg.ProfileIDC, LevelIDC: cfg.LevelIDC, ConstraintSet: cfg.ConstraintSet,
	})
	if err != nil {
		return fmt.Errorf("session: add packetizer track: %w", err)
	}

	m.sender = rtpsession.New(m.stream, newSSRC(), 0)
	m.sender.SetDelegate(networkErrorBridge{m})

	m.sender2 = mediasender.New(packetizer, track, m.sender)
	m.enc.SetDelegate(m.sender2)

	m.pipe = pipeline.New(m.logger)
	m.pipe.Add(m.enc)
	m.pipe.Add(renderer{producer: m.producer, enc: m.enc, framerate: framerate})
	m.pipe.Add(m.sender)
	m.pipe.Add(m.sender2)

	m.configured = true
	return nil
}

// Play transitions Paused/Stopped->Playing. The pipeline start itself
// is deferred by streamDelayOnPlay so the sink's RTP listener has
// time to bind (spec §4.8).
func (m *SourceMediaManager) Play() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isPausedLocked() {
		return
	}

	m.cancelPlayTimerLocked()

	m.playTimer = time.AfterFunc(streamDelayOnPlay, func() {
		m.mu.Lock()
		pipe := m.pipe
		m.playTimer = nil
		m.mu.Unlock()
		if pipe != nil {
			pipe.Start()
		}
	})

	m.state = StatePlaying
}

// Pause transitions Playing->Paused, stopping the pipeline
// immediately.
func (m *SourceMediaManager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isPausedLocked() {
		return
	}

	m.cancelPlayTimerLocked()
	if m.pipe != nil {
		m.pipe.Stop()
	}
	m.state = StatePaused
}

// Teardown transitions any state->Stopped.
func (m *SourceMediaManager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateStopped {
		return
	}

	m.cancelPlayTimerLocked()
	if m.pipe != nil {
		m.pipe.Stop()
	}
	if m.stream != nil {
		_ = m.stream.Close()
	}
	m.state = StateStopped
}

func (m *SourceMediaManager) isPausedLocked() bool {
	return m.state == StatePaused || m.state == StateStopped
}

func (m *SourceMediaManager) cancelPlayTimerLocked() {
	if m.playTimer != nil {
		m.playTimer.Stop()
		m.playTimer = nil
	}
}

// SendIDRPicture forwards an IDR request to the encoder, the default
// behavior every backend gets unless the session layer is overridden
// to intercept it first (spec C §7, kPrependSpsPpstoIdrFrames note).
func (m *SourceMediaManager) SendIDRPicture() {
	m.mu.Lock()
	enc := m.enc
	m.mu.Unlock()
	if enc != nil {
		enc.SendIDRFrame()
	}
}

// LocalRTPPort reports the bound UDP port so the RTSP M4
// SET_PARAMETER response can announce it to the sink.
func (m *SourceMediaManager) LocalRTPPort() (uint16, error) {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()
	if stream == nil {
		return 0, rtpsession.ErrNotConnected
	}
	return stream.LocalPort()
}

// newSSRC derives a session SSRC from a fresh UUID; any fixed value
// works per spec §4.7 since sinks ignore it for MPEG-TS.
func newSSRC() uint32 {
	id := uuid.New()
	return binary.BigEndian.Uint32(id[0:4])
}

func profileIDC(p videoformat.Profile) byte {
	if p == videoformat.ProfileCHP {
		return 100
	}
	return 66
}

// networkErrorBridge adapts RTPSender's Delegate contract to the
// session's own Delegate, matching the original's
// OnTransportNetworkError -> OnSourceNetworkError escalation.
type networkErrorBridge struct{ m *SourceMediaManager }

func (b networkErrorBridge) OnTransportNetworkError(error) {
	b.m.mu.Lock()
	d := b.m.delegate
	b.m.mu.Unlock()
	if d != nil {
		d.OnSourceNetworkError()
	}
}

// renderer is the producer->encoder polling stage (StreamRenderer in
// the original source), implementing spec §4.3's five-step Execute:
// compute the target interval, swap and take the producer's current
// buffer, wall-clock-stamp it, queue it into the encoder, then sleep
// until the next iteration deadline so capture/encode run at the
// negotiated framerate rather than as fast as the Executor loop spins.
type renderer struct {
	producer  capture.Producer
	enc       *encoder.Encoder
	framerate int
}

func (r renderer) Name() string { return "renderer" }
func (r renderer) Start() bool  { return true }
func (r renderer) Stop() bool   { return true }

func (r renderer) Execute() bool {
	targetIterationTime := time.Now()

	targetInterval := time.Second
	if r.framerate > 0 {
		targetInterval = time.Duration(1_000_000/r.framerate) * time.Microsecond
	}

	if err := r.producer.SwapBuffers(); err == nil {
		if b := r.producer.CurrentBuffer(); b != nil {
			r.enc.QueueBuffer(cloneForEncoder(b, time.Now().UnixMicro()))
		}
	}

	if remaining := targetIterationTime.Add(targetInterval).Sub(time.Now()); remaining > 0 {
		time.Sleep(remaining)
	}
	return true
}

// cloneForEncoder copies the producer's frame so the encoder's own
// ownership/release discipline never races the producer's next
// SwapBuffers overwrite of the same backing memory (spec §4 Ownership
// note), and stamps it with the wall-clock capture time rather than
// the producer's own virtual clock (spec §4.3 step 3).
func cloneForEncoder(b *buffer.Buffer, timestampUs int64) *buffer.Buffer {
	data := append([]byte(nil), b.Data()...)
	return buffer.Wrap(data, timestampUs)
}
