// Package mpegts implements the bit-exact MPEG-2 transport-stream
// packetizer the MediaSender drives: PAT/PMT/PCR table emission and
// H.264 PES packetization per the WFD profile. Ported directly from
// the original MPEGTSPacketizer (Android TSPacketizer lineage).
package mpegts

import (
	"encoding/binary"
	"fmt"

	"github.com/ubports/aethercast/pkg/buffer"
)

const (
	tsPacketSize = 188

	patPID = 0x0000
	pmtPID = 0x0100
	pcrPID = 0x1000

	videoPIDStart = 0x1011

	h264StreamType    = 0x1B
	videoStreamIDStart = 0xE0
	videoStreamIDStop  = 0xEF

	avcVideoDescriptorTag        = 40
	avcTimingAndHRDDescriptorTag = 42
)

// Flags is a bitmask passed to Packetize controlling which tables
// accompany the access unit's PES packets.
type Flags int

const (
	FlagEmitPATPMT Flags = 1 << iota
	FlagEmitPCR
	FlagPrependSPSandPPS
)

// Report is an internal instrumentation seam, not an external
// telemetry surface: tests and the session layer can count packetized
// frames without the packetizer importing any metrics library.
type Report interface {
	PacketizedFrame(timestampUs int64)
}

type nopReport struct{}

func (nopReport) PacketizedFrame(int64) {}

// Packetizer is a stateful, single-track-at-a-time* MPEG-TS muxer.
// (*Multiple tracks may be added; PAT/PMT describe all of them, but
// this source only ever adds one H.264 video track.) Not safe for
// concurrent use — MediaSender owns it and calls it only from its own
// worker goroutine.
type Packetizer struct {
	tracks []*track

	patContinuityCounter uint8
	pmtContinuityCounter uint8

	programInfoDescriptors [][]byte

	report Report

	nowUs func() int64
}

// New creates an empty Packetizer. nowUs supplies the current time in
// microseconds for PCR stamping; pass nil to use a monotonic wall
// clock via time.Now.
func New(report Report, nowUs func() int64) *Packetizer {
	if report == nil {
		report = nopReport{}
	}
	if nowUs == nil {
		nowUs = defaultNowUs
	}
	return &Packetizer{report: report, nowUs: nowUs}
}

// AddTrack registers a new elementary stream. Only "video/avc" is
// supported; anything else is rejected per spec §4.5.
func (p *Packetizer) AddTrack(format TrackFormat) (TrackID, error) {
	if !format.isVideo() {
		return invalidTrackID, fmt.Errorf("mpegts: audio tracks are not supported")
	}
	if !format.isH264() {
		return invalidTrackID, fmt.Errorf("mpegts: only video/avc is supported, got %q", format.Mime)
	}

	pid := uint16(videoPIDStart)
	numSameTracks := 0
	for _, t := range p.tracks {
		if t.streamType == h264StreamType {
			numSameTracks++
		}
		pid++
	}

	streamID := videoStreamIDStart + numSameTracks
	if streamID > videoStreamIDStop {
		return invalidTrackID, fmt.Errorf("mpegts: all video stream ids are in use")
	}

	t := newTrack(format, pid, h264StreamType, byte(streamID))
	p.tracks = append(p.tracks, t)
	return TrackID(len(p.tracks) - 1), nil
}

func (p *Packetizer) trackAt(id TrackID) (*track, error) {
	if id < 0 || int(id) >= len(p.tracks) {
		return nil, fmt.Errorf("mpegts: invalid track index %d", id)
	}
	return p.tracks[id], nil
}

// SubmitCSD stores buf's NAL units (split on Annex-B start codes) as
// codec-specific data for track, to be prepended to future access
// units when FlagPrependSPSandPPS is set and consulted by Finalize
// for the PMT's AVC descriptor.
func (p *Packetizer) SubmitCSD(id TrackID, buf *buffer.Buffer) error {
	t, err := p.trackAt(id)
	if err != nil {
		return err
	}
	t.submitCSD(buf.Data())
	return nil
}

// Packetize converts one H.264 access unit into a contiguous run of
// 188-byte TS packets, optionally preceded by PAT/PMT/PCR packets.
// The returned buffer's timestamp matches the input access unit's.
func (p *Packetizer) Packetize(id TrackID, accessUnit *buffer.Buffer, flags Flags) (*buffer.Buffer, error) {
	t, err := p.trackAt(id)
	if err != nil {
		return nil, err
	}

	au := accessUnit
	if t.format.isH264() && flags&FlagPrependSPSandPPS != 0 && containsIDR(accessUnit.Data()) {
		au = t.prependCSD(accessUnit)
	}

	const numStuffingBytes = 0
	pesPacketLength := int(au.Length()) + 8 + numStuffingBytes

	numTSPackets := countPayloadTSPackets(int(au.Length()), numStuffingBytes)
	if flags&FlagEmitPATPMT != 0 {
		numTSPackets += 2
	}
	if flags&FlagEmitPCR != 0 {
		numTSPackets++
	}

	out := buffer.New(uint32(numTSPackets*tsPacketSize), accessUnit.Timestamp())
	data := out.Data()
	pos := 0

	if flags&FlagEmitPATPMT != 0 {
		pos += p.writePAT(data[pos:])
		pos += p.writePMT(data[pos:], t)
	}
	if flags&FlagEmitPCR != 0 {
		pos += p.writePCR(data[pos:])
	}

	pos += writeH264PES(data[pos:], t, au, pesPacketLength, accessUnit.Timestamp())

	if pos != len(data) {
		return nil, fmt.Errorf("mpegts: internal packet accounting mismatch: wrote %d, expected %d", pos, len(data))
	}

	p.report.PacketizedFrame(out.Timestamp())
	return out, nil
}

// countPayloadTSPackets mirrors the original's two-pass size
// computation for how many 188-byte packets an access unit's PES
// payload needs, given a fixed 14-byte static PES header on the first
// packet. alignPayload is always false in this profile (the 16-byte
// HDCP alignment path is unused, per spec §4.5), so fragments simply
// fill each packet to capacity.
func countPayloadTSPackets(auLength, numStuffingBytes int) int {
	peshdr := 14 + numStuffingBytes
	available := tsPacketSize - 4 - peshdr
	first := auLength
	if first > available {
		first = available
	}
	remaining := auLength - first

	availableCont := tsPacketSize - 4
	full := remaining / availableCont
	remaining -= full * availableCont

	n := 1 + full
	if remaining > 0 {
		n++
	}
	return n
}

func (p *Packetizer) writePAT(dst []byte) int {
	p.patContinuityCounter++
	if p.patContinuityCounter == 16 {
		p.patContinuityCounter = 0
	}

	dst[0] = 0x47
	dst[1] = 0x40
	dst[2] = 0x00
	dst[3] = 0x10 | p.patContinuityCounter
	dst[4] = 0x00

	section := dst[5:17]
	section[0] = 0x00
	section[1] = 0xb0
	section[2] = 0x0d
	section[3] = 0x00
	section[4] = 0x00
	section[5] = 0xc3
	section[6] = 0x00
	section[7] = 0x00
	section[8] = 0x00
	section[9] = 0x01
	section[10] = 0xe0 | byte(pmtPID>>8)
	section[11] = byte(pmtPID & 0xff)

	crc := calcCRC32(section)
	binary.BigEndian.PutUint32(dst[17:21], crc)

	for i := 21; i < tsPacketSize; i++ {
		dst[i] = 0xff
	}
	return tsPacketSize
}

func (p *Packetizer) writePMT(dst []byte, t *track) int {
	t.finalize()

	p.pmtContinuityCounter++
	if p.pmtContinuityCounter == 16 {
		p.pmtContinuityCounter = 0
	}

	dst[0] = 0x47
	dst[1] = 0x40 | byte(pmtPID>>8)
	dst[2] = byte(pmtPID & 0xff)
	dst[3] = 0x10 | p.pmtContinuityCounter
	dst[4] = 0x00

	pos := 5
	crcStart := pos
	dst[pos] = 0x02
	pos++
	sectionLenPos := pos
	dst[pos] = 0x00
	dst[pos+1] = 0x00
	pos += 2

	dst[pos] = 0x00
	dst[pos+1] = 0x01
	pos += 2
	dst[pos] = 0xc3
	pos++
	dst[pos] = 0x00
	dst[pos+1] = 0x00
	pos += 2
	dst[pos] = 0xe0 | byte(pcrPID>>8)
	dst[pos+1] = byte(pcrPID & 0xff)
	pos += 2

	programInfoLength := 0
	for _, d := range p.programInfoDescriptors {
		programInfoLength += len(d)
	}
	dst[pos] = 0xf0 | byte(programInfoLength>>8)
	dst[pos+1] = byte(programInfoLength & 0xff)
	pos += 2
	for _, d := range p.programInfoDescriptors {
		pos += copy(dst[pos:], d)
	}

	for _, tr := range p.tracks {
		tr.finalize()
		dst[pos] = tr.streamType
		pos++
		dst[pos] = 0xe0 | byte(tr.pid>>8)
		dst[pos+1] = byte(tr.pid & 0xff)
		pos += 2

		esInfoLength := 0
		for _, d := range tr.descriptors {
			esInfoLength += len(d)
		}
		dst[pos] = 0xf0 | byte(esInfoLength>>8)
		dst[pos+1] = byte(esInfoLength & 0xff)
		pos += 2
		for _, d := range tr.descriptors {
			pos += copy(dst[pos:], d)
		}
	}

	sectionLength := pos - (crcStart + 3) + 4
	dst[sectionLenPos] = 0xb0 | byte(sectionLength>>8)
	dst[sectionLenPos+1] = byte(sectionLength & 0xff)

	crc := calcCRC32(dst[crcStart:pos])
	binary.BigEndian.PutUint32(dst[pos:pos+4], crc)
	pos += 4

	for i := pos; i < tsPacketSize; i++ {
		dst[i] = 0xff
	}
	return tsPacketSize
}

func (p *Packetizer) writePCR(dst []byte) int {
	nowUs := p.nowUs()
	pcr := uint64(nowUs) * 27
	pcrBase := pcr / 300
	pcrExt := uint32(pcr % 300)

	dst[0] = 0x47
	dst[1] = 0x40 | byte(pcrPID>>8)
	dst[2] = byte(pcrPID & 0xff)
	dst[3] = 0x20
	dst[4] = 0xb7
	dst[5] = 0x10
	dst[6] = byte((pcrBase >> 25) & 0xff)
	dst[7] = byte((pcrBase >> 17) & 0xff)
	dst[8] = byte((pcrBase >> 9) & 0xff)
	dst[9] = byte((pcrBase >> 1) & 0xff)
	dst[10] = byte(((pcrBase&1)<<7)&0x80) | 0x7e | byte((pcrExt>>8)&1)
	dst[11] = byte(pcrExt & 0xff)

	for i := 12; i < tsPacketSize; i++ {
		dst[i] = 0xff
	}
	return tsPacketSize
}

// writeH264PES emits the first TS packet (with the 14-byte static PES
// header carrying the PTS) and every continuation packet needed to
// carry au's bytes, returning the total bytes written.
func writeH264PES(dst []byte, t *track, au *buffer.Buffer, pesPacketLength int, timestampUs int64) int {
	pts := uint64(timestampUs*9) / 100

	if pesPacketLength >= 65536 {
		// Valid for video per the spec; set the wire field to 0.
		pesPacketLength = 0
	}

	const numStuffingBytes = 0
	availableFirst := tsPacketSize - 4 - 14 - numStuffingBytes
	auData := au.Data()
	copyLen := len(auData)
	if copyLen > availableFirst {
		copyLen = availableFirst
	}
	numPadding := availableFirst - copyLen

	pos := 0
	dst[pos] = 0x47
	pos++
	dst[pos] = 0x40 | byte(t.pid>>8)
	dst[pos+1] = byte(t.pid & 0xff)
	pos += 2

	afcByte := byte(0x10)
	if numPadding > 0 {
		afcByte = 0x30
	}
	dst[pos] = afcByte | t.nextContinuityCounter()
	pos++

	if numPadding > 0 {
		dst[pos] = byte(numPadding - 1)
		pos++
		if numPadding >= 2 {
			dst[pos] = 0x00
			pos++
			for i := 0; i < numPadding-2; i++ {
				dst[pos] = 0xff
				pos++
			}
		}
	}

	dst[pos] = 0x00
	dst[pos+1] = 0x00
	dst[pos+2] = 0x01
	dst[pos+3] = t.streamID
	dst[pos+4] = byte(pesPacketLength >> 8)
	dst[pos+5] = byte(pesPacketLength & 0xff)
	dst[pos+6] = 0x84
	dst[pos+7] = 0x80
	pos += 8

	headerLength := byte(0x05 + numStuffingBytes)
	dst[pos] = headerLength
	pos++

	dst[pos] = 0x20 | byte((pts>>30)&7)<<1 | 1
	dst[pos+1] = byte((pts >> 22) & 0xff)
	dst[pos+2] = byte((pts>>15)&0x7f)<<1 | 1
	dst[pos+3] = byte((pts >> 7) & 0xff)
	dst[pos+4] = byte(pts&0x7f)<<1 | 1
	pos += 5

	pos += copy(dst[pos:], auData[:copyLen])

	written := tsPacketSize
	offset := copyLen
	packetStart := tsPacketSize

	for offset < len(auData) {
		availableCont := tsPacketSize - 4
		copyN := len(auData) - offset
		if copyN > availableCont {
			copyN = availableCont
		}
		pad := availableCont - copyN

		p := packetStart
		dst[p] = 0x47
		dst[p+1] = 0x00 | byte(t.pid>>8)
		dst[p+2] = byte(t.pid & 0xff)
		afc := byte(0x10)
		if pad > 0 {
			afc = 0x30
		}
		dst[p+3] = afc | t.nextContinuityCounter()
		q := p + 4

		if pad > 0 {
			dst[q] = byte(pad - 1)
			q++
			if pad >= 2 {
				dst[q] = 0x00
				q++
				for i := 0; i < pad-2; i++ {
					dst[q] = 0xff
					q++
				}
			}
		}

		copy(dst[q:], auData[offset:offset+copyN])

		offset += copyN
		packetStart += tsPacketSize
		written += tsPacketSize
	}

	return written
}

func defaultNowUs() int64 {
	return nowMonotonicUs()
}
