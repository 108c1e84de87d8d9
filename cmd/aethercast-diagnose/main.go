// Command aethercast-diagnose is an offline wire-format inspector: it
// reads a captured batch of RTP/MPEG-TS datagrams, prints each RTP
// header, and ends with counts of the PAT, PMT, PCR and PES-start
// packets and RTP sequence gaps it finds, the
// same "dump and sanity-check protocol bytes" shape as the teacher's
// cmd/diagnose and cmd/verify tools, retargeted at this module's own
// wire format (spec §6.1) instead of Nest/Cloudflare traffic. It opens
// no network connection of its own.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/pion/rtp"
)

const tsPacketSize = 188
const tsSyncByte = 0x47

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("aethercast-diagnose", flag.ContinueOnError)
	input := fs.String("in", "", "path to a captured batch: length-prefixed RTP datagrams (uint16 big-endian length + bytes, repeated)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -in capture.bin\n\n", fs.Name())
		fmt.Fprintf(os.Stderr, "Decodes a captured RTP/MPEG-TS batch and prints header fields.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *input == "" {
		fs.Usage()
		return 1
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aethercast-diagnose: %v\n", err)
		return 1
	}

	stats := newStats()
	datagrams, err := splitLengthPrefixed(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aethercast-diagnose: %v\n", err)
		return 1
	}

	for i, dgram := range datagrams {
		var pkt rtp.Packet
		if err := pkt.Unmarshal(dgram); err != nil {
			fmt.Printf("datagram %d: not a valid RTP packet: %v\n", i, err)
			continue
		}

		fmt.Printf("datagram %d: rtp seq=%d ts=%d pt=%d ssrc=%08x marker=%v payload=%dB\n",
			i, pkt.SequenceNumber, pkt.Timestamp, pkt.PayloadType, pkt.SSRC, pkt.Marker, len(pkt.Payload))

		stats.observeDatagram(pkt.SequenceNumber)

		for off := 0; off+tsPacketSize <= len(pkt.Payload); off += tsPacketSize {
			decodeTSPacket(pkt.Payload[off:off+tsPacketSize], stats)
		}
	}

	stats.print()
	return 0
}

// splitLengthPrefixed parses a sequence of uint16-big-endian-length
// prefixed datagrams, the simplest framing for a raw capture of what
// RTPSender actually sent on the wire through Stream.Write.
func splitLengthPrefixed(data []byte) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("truncated length prefix")
		}
		n := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if len(data) < n {
			return nil, fmt.Errorf("truncated datagram: want %d bytes, have %d", n, len(data))
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out, nil
}

type stats struct {
	tsPackets   int
	pat         int
	pmt         int
	pcr         int
	pesStart    int
	pmtPID      uint16
	havePMTPID  bool
	seqGaps     int
	haveLastSeq bool
	lastSeq     uint16
}

func newStats() *stats { return &stats{} }

func (s *stats) observeDatagram(seq uint16) {
	if s.haveLastSeq && seq != s.lastSeq+1 {
		s.seqGaps++
	}
	s.lastSeq = seq
	s.haveLastSeq = true
}

func (s *stats) print() {
	fmt.Println("---")
	fmt.Printf("TS packets:       %d\n", s.tsPackets)
	fmt.Printf("PAT occurrences:  %d\n", s.pat)
	fmt.Printf("PMT occurrences:  %d\n", s.pmt)
	fmt.Printf("PCR adaptations:  %d\n", s.pcr)
	fmt.Printf("PES unit starts:  %d\n", s.pesStart)
	fmt.Printf("RTP sequence gaps: %d\n", s.seqGaps)
}

// decodeTSPacket parses just enough of the ISO/IEC 13818-1 header
// (spec §4.5) to classify a packet as PAT, PMT, or a PES unit start,
// and to find the PMT PID this stream declares.
func decodeTSPacket(pkt []byte, s *stats) {
	if len(pkt) != tsPacketSize || pkt[0] != tsSyncByte {
		return
	}
	s.tsPackets++

	payloadUnitStart := pkt[1]&0x40 != 0
	pid := uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
	adaptationFieldControl := (pkt[3] >> 4) & 0x3
	hasAdaptation := adaptationFieldControl == 2 || adaptationFieldControl == 3
	hasPayload := adaptationFieldControl == 1 || adaptationFieldControl == 3

	payloadOffset := 4
	if hasAdaptation {
		adaptationLength := int(pkt[4])
		if adaptationLength > 0 && pkt[5]&0x10 != 0 {
			s.pcr++
		}
		payloadOffset += 1 + adaptationLength
	}
	if !hasPayload || payloadOffset >= len(pkt) {
		return
	}

	switch {
	case pid == 0:
		s.pat++
		if payloadUnitStart {
			s.pmtPID = parsePATPMTPid(pkt[payloadOffset:])
			s.havePMTPID = true
		}
	case s.havePMTPID && pid == s.pmtPID:
		s.pmt++
	case payloadUnitStart:
		s.pesStart++
	}
}

// parsePATPMTPid extracts the first program's PMT PID from a
// pointer-field-prefixed PAT section payload.
func parsePATPMTPid(payload []byte) uint16 {
	if len(payload) < 1 {
		return 0
	}
	pointerField := int(payload[0])
	section := payload[1+pointerField:]
	if len(section) < 13 {
		return 0
	}
	// section[8:12] is the first program_number/program_map_PID entry.
	return uint16(section[10]&0x1F)<<8 | uint16(section[11])
}
