// Package mediasender implements the MediaSender pipeline stage (spec
// §4.6): it drains the encoder's output queue, decides PAT/PMT/PCR
// cadence, and drives the MPEG-TS packetizer before handing batches
// to the RTP sender's input queue.
package mediasender

import (
	"time"

	"github.com/ubports/aethercast/pkg/buffer"
	"github.com/ubports/aethercast/pkg/mpegts"
)

// pollTimeout bounds each Execute call, matching the Executor's
// 100ms-bounded-stage requirement.
const pollTimeout = 50 * time.Millisecond

// tableInterval is the maximum gap the MPEG-TS standard permits
// between PAT/PMT (and, here, PCR) emissions.
const tableInterval = 100 * time.Millisecond

// NowFunc lets tests inject a deterministic clock; defaults to
// time.Now().
type NowFunc func() time.Time

// Sink is the downstream consumer of packetized TS batches: the
// RTPSender's input queue, or any other *buffer.Queue-shaped
// receiver.
type Sink interface {
	Push(b *buffer.Buffer)
}

// MediaSender is an Executable pipeline stage (pkg/pipeline).
type MediaSender struct {
	input      *buffer.Queue
	packetizer *mpegts.Packetizer
	track      mpegts.TrackID
	sink       Sink
	now        NowFunc

	prevTableEmitUs int64
	havePrevEmit    bool
}

// New creates a MediaSender bound to one track of packetizer, writing
// completed TS batches to sink.
func New(packetizer *mpegts.Packetizer, track mpegts.TrackID, sink Sink) *MediaSender {
	return &MediaSender{
		input:      buffer.NewQueue(buffer.DefaultSoftCap),
		packetizer: packetizer,
		track:      track,
		sink:       sink,
		now:        func() time.Time { return time.Now() },
	}
}

// SetNow overrides the clock source (tests only).
func (m *MediaSender) SetNow(now NowFunc) { m.now = now }

// Name satisfies pipeline.Executable.
func (m *MediaSender) Name() string { return "mediasender" }

// Start and Stop are no-ops beyond the Executor's own lifecycle: the
// MediaSender holds no resources besides its input queue.
func (m *MediaSender) Start() bool { return true }
func (m *MediaSender) Stop() bool  { return true }

// OnBufferWithCodecConfig implements encoder.Delegate's CSD half:
// codec-config buffers are submitted to the packetizer but never
// packetized themselves (spec §4.6).
func (m *MediaSender) OnBufferWithCodecConfig(b *buffer.Buffer) {
	_ = m.packetizer.SubmitCSD(m.track, b)
}

// OnBufferAvailable implements encoder.Delegate's access-unit half:
// queue the encoded buffer for Execute to drain.
func (m *MediaSender) OnBufferAvailable(b *buffer.Buffer) {
	m.input.Push(b)
}

// Execute drains one encoder output buffer (if any arrived within the
// poll timeout), decides PAT/PMT/PCR cadence, packetizes it, and
// forwards the TS batch to the sink.
func (m *MediaSender) Execute() bool {
	if !m.input.WaitToBeFilled(pollTimeout) {
		return true
	}

	in, ok := m.input.Pop(pollTimeout)
	if !ok {
		return true
	}
	defer in.Release()

	nowUs := m.now().UnixMicro()

	flags := mpegts.Flags(0)
	if !m.havePrevEmit || nowUs-m.prevTableEmitUs >= tableInterval.Microseconds() {
		flags |= mpegts.FlagEmitPATPMT | mpegts.FlagEmitPCR
		m.prevTableEmitUs = nowUs
		m.havePrevEmit = true
	}
	flags |= mpegts.FlagPrependSPSandPPS

	out, err := m.packetizer.Packetize(m.track, in, flags)
	if err != nil {
		// PacketizeFailed: log and drop this access unit; the
		// pipeline continues (spec §7).
		return true
	}

	out.SetTimestamp(in.Timestamp())
	m.sink.Push(out)
	return true
}
