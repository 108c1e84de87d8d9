// Package rtpsession implements the RTPSender pipeline stage and its
// UDP transport (spec §4.7): RTP-over-UDP datagram emission, MTU-
// bounded fragmentation of TS batches, and RTCP-driven IDR requests.
package rtpsession

import (
	"errors"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// WriteResult reports the outcome of one UDP write (spec §6.2 Network
// Stream contract).
type WriteResult int

const (
	WriteOk WriteResult = iota
	WriteFailed
	WriteRemoteClosed
)

// dscpExpeditedForwarding is the DSCP class (EF, RFC 3246) marked on
// outgoing video datagrams so a congested Wi-Fi Direct link prioritizes
// them over best-effort traffic.
const dscpExpeditedForwarding = 0xB8

// ErrNotConnected is returned by Write/LocalPort before Connect.
var ErrNotConnected = errors.New("rtpsession: stream not connected")

// Stream is the Network Stream collaborator (spec §6.2): a UDP socket
// to one fixed remote endpoint, reporting its own local port and MTU.
type Stream struct {
	mu          sync.Mutex
	conn        *net.UDPConn
	maxUnitSize int
}

// NewStream creates an unconnected Stream with the given MaxUnitSize
// (typically 1472 for IPv4/UDP over a 1500-byte link MTU).
func NewStream(maxUnitSize int) *Stream {
	if maxUnitSize <= 0 {
		maxUnitSize = 1472
	}
	return &Stream{maxUnitSize: maxUnitSize}
}

// Connect opens the UDP socket to (remoteIP, remotePort) and marks
// outgoing packets with an expedited-forwarding DSCP value.
func (s *Stream) Connect(remoteIP string, remotePort int) error {
	raddr := &net.UDPAddr{IP: net.ParseIP(remoteIP), Port: remotePort}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return err
	}

	if pc := ipv4.NewConn(conn); pc != nil {
		_ = pc.SetTOS(dscpExpeditedForwarding)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Write sends payload as one UDP datagram. timestamp is accepted for
// contract symmetry with the spec's collaborator interface but is not
// used by the UDP transport itself — RTP timestamping happens one
// layer up, in RTPSender.
func (s *Stream) Write(payload []byte, timestamp int64) WriteResult {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return WriteFailed
	}

	_, err := conn.Write(payload)
	if err == nil {
		return WriteOk
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, net.ErrClosed) {
			return WriteRemoteClosed
		}
	}
	return WriteFailed
}

// LocalPort reports the ephemeral port bound by Connect, surfaced to
// the session layer for the RTSP M4 SET_PARAMETER response.
func (s *Stream) LocalPort() (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return 0, ErrNotConnected
	}
	addr, ok := s.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return 0, ErrNotConnected
	}
	return uint16(addr.Port), nil
}

func (s *Stream) MaxUnitSize() int { return s.maxUnitSize }

// Close releases the underlying socket.
func (s *Stream) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
