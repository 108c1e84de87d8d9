package rtpsession

import (
	"context"
	"errors"
	"time"

	"github.com/pion/rtp"
	"github.com/ubports/aethercast/pkg/buffer"
	"golang.org/x/time/rate"
)

// ErrNetworkWrite signals a local UDP write failure (spec §7
// NetworkWriteFailed).
var ErrNetworkWrite = errors.New("rtpsession: network write failed")

// ErrRemoteClosed signals the sink closed its end of the transport
// (spec §7 RemoteClosed).
var ErrRemoteClosed = errors.New("rtpsession: remote closed")

// tsPacketSize is the fixed MPEG-TS packet size; batches handed in
// must be a whole multiple of it (the packetizer's own invariant).
const tsPacketSize = 188

// rtpHeaderSize is the fixed RFC 3550 header size this sender always
// emits (no CSRC list, no extension).
const rtpHeaderSize = 12

// mpegTSPayloadType is the static RTP payload type for MPEG-TS
// (RFC 2250 §6; no dynamic negotiation needed).
const mpegTSPayloadType = 33

// pollTimeout bounds each Execute call.
const pollTimeout = 50 * time.Millisecond

// Delegate receives RTPSender lifecycle notifications.
type Delegate interface {
	OnTransportNetworkError(err error)
}

// RTPSender is an Executable pipeline stage (pkg/pipeline): it drains
// TS batches from its input queue and emits one or more RTP/UDP
// datagrams per batch, each carrying N whole TS packets where
// N = floor((mtu-12)/188).
type RTPSender struct {
	input    *buffer.Queue
	stream   *Stream
	ssrc     uint32
	delegate Delegate

	seq         uint16
	networkErr  bool
	limiter     *rate.Limiter
}

// New creates an RTPSender writing to stream with the given SSRC
// (any fixed value is acceptable; sinks ignore it for MPEG-TS).
// maxPacketsPerSecond bounds the write rate as a safety valve against
// a runaway producer saturating the Wi-Fi Direct link; pass 0 to
// disable the limiter.
func New(stream *Stream, ssrc uint32, maxPacketsPerSecond int) *RTPSender {
	s := &RTPSender{
		input:  buffer.NewQueue(buffer.DefaultSoftCap),
		stream: stream,
		ssrc:   ssrc,
	}
	if maxPacketsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(maxPacketsPerSecond), maxPacketsPerSecond)
	}
	return s
}

func (s *RTPSender) SetDelegate(d Delegate) { s.delegate = d }

// Push implements mediasender.Sink: the MediaSender stage hands
// completed TS batches directly to this queue.
func (s *RTPSender) Push(b *buffer.Buffer) { s.input.Push(b) }

func (s *RTPSender) Name() string  { return "rtpsender" }
func (s *RTPSender) Start() bool   { s.networkErr = false; return true }
func (s *RTPSender) Stop() bool    { return true }

// packetsPerDatagram returns N = floor((mtu-12)/188), the spec's
// fragmentation constant for the stream's configured MaxUnitSize.
func (s *RTPSender) packetsPerDatagram() int {
	n := (s.stream.MaxUnitSize() - rtpHeaderSize) / tsPacketSize
	if n < 1 {
		n = 1
	}
	return n
}

// Execute drains one TS batch and emits ceil(batchPackets/N) UDP
// datagrams, all sharing one RTP timestamp but incrementing sequence
// numbers (spec §4.7).
func (s *RTPSender) Execute() bool {
	if s.networkErr {
		return false
	}

	in, ok := s.input.Pop(pollTimeout)
	if !ok {
		return true
	}
	defer in.Release()

	data := in.Data()
	n := s.packetsPerDatagram()
	rtpTimestamp := uint32((in.Timestamp() * 9) / 100)

	for offset := 0; offset < len(data); offset += n * tsPacketSize {
		end := offset + n*tsPacketSize
		if end > len(data) {
			end = len(data)
		}

		if s.limiter != nil {
			_ = s.limiter.Wait(context.Background())
		}

		if !s.writeDatagram(data[offset:end], rtpTimestamp) {
			return false
		}
	}
	return true
}

func (s *RTPSender) writeDatagram(payload []byte, timestamp uint32) bool {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Padding:        false,
			Extension:      false,
			Marker:         false,
			PayloadType:    mpegTSPayloadType,
			SequenceNumber: s.seq,
			Timestamp:      timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.seq++

	raw, err := packet.Marshal()
	if err != nil {
		s.fail(err)
		return false
	}

	switch s.stream.Write(raw, int64(timestamp)) {
	case WriteOk:
		return true
	case WriteRemoteClosed:
		s.fail(ErrRemoteClosed)
		return false
	default:
		s.fail(ErrNetworkWrite)
		return false
	}
}

func (s *RTPSender) fail(err error) {
	s.networkErr = true
	if s.delegate != nil {
		s.delegate.OnTransportNetworkError(err)
	}
}
