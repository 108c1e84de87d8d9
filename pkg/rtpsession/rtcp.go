package rtpsession

import (
	"net"
	"sync/atomic"

	"github.com/pion/rtcp"
)

// IDRRequester is notified when the sink asks for a new IDR via
// RTCP PLI or FIR. Wired to the encoder's SendIDRFrame by the session
// layer.
type IDRRequester interface {
	SendIDRFrame()
}

// FeedbackListener reads RTCP packets (PLI, FIR) from a UDP socket
// and forwards IDR requests to an IDRRequester. Most WFD sinks signal
// picture loss over the same UDP 5-tuple as the outgoing video, so
// this listens on the Stream's own local port.
type FeedbackListener struct {
	conn     *net.UDPConn
	target   IDRRequester
	stopped  atomic.Bool
}

// NewFeedbackListener binds conn for reading (conn is expected to
// already be connected to the sink, matching Stream.Connect).
func NewFeedbackListener(conn *net.UDPConn, target IDRRequester) *FeedbackListener {
	return &FeedbackListener{conn: conn, target: target}
}

// Run blocks reading RTCP packets until the socket is closed or Stop
// is called. Intended to run in its own goroutine, separate from the
// Executor-driven pipeline stages since it is purely reactive.
func (f *FeedbackListener) Run() {
	buf := make([]byte, 1500)
	for {
		n, err := f.conn.Read(buf)
		if err != nil {
			if f.stopped.Load() {
				return
			}
			continue
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}

		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				f.target.SendIDRFrame()
			}
		}
	}
}

// Stop marks the listener stopped; the caller must also close conn to
// unblock the pending Read.
func (f *FeedbackListener) Stop() {
	f.stopped.Store(true)
}
