package mpegts

import (
	"strings"

	"github.com/ubports/aethercast/pkg/buffer"
)

// TrackFormat is the packetizer's per-track identity, fixed for the
// track's lifetime.
type TrackFormat struct {
	Mime          string // "video/avc" is the only supported value
	ProfileIDC    byte
	LevelIDC      byte
	ConstraintSet byte
}

func (f TrackFormat) isVideo() bool { return strings.HasPrefix(f.Mime, "video/") }
func (f TrackFormat) isH264() bool  { return f.Mime == "video/avc" }

// TrackID identifies a track added via AddTrack. -1 signals rejection.
type TrackID int

const invalidTrackID TrackID = -1

// track is the packetizer's internal PES-stream bookkeeping for one
// elementary stream.
type track struct {
	format            TrackFormat
	pid               uint16
	streamType        byte
	streamID          byte
	continuityCounter uint8
	finalized         bool
	csd               [][]byte // each entry: 4-byte start code + NAL bytes
	descriptors       [][]byte
}

func newTrack(format TrackFormat, pid uint16, streamType, streamID byte) *track {
	return &track{format: format, pid: pid, streamType: streamType, streamID: streamID}
}

// nextContinuityCounter returns the counter to stamp on the next TS
// packet for this track's PID and advances it mod 16.
func (t *track) nextContinuityCounter() uint8 {
	prev := t.continuityCounter
	t.continuityCounter++
	if t.continuityCounter == 16 {
		t.continuityCounter = 0
	}
	return prev
}

var h264StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// submitCSD splits buf on Annex-B start codes and stores each NAL
// unit, re-prefixed with the 4-byte start code, as CSD for this track.
func (t *track) submitCSD(data []byte) {
	if !t.format.isH264() {
		return
	}
	for _, nal := range splitAnnexB(data) {
		fragment := make([]byte, 0, len(h264StartCode)+len(nal))
		fragment = append(fragment, h264StartCode...)
		fragment = append(fragment, nal...)
		t.csd = append(t.csd, fragment)
	}
}

// prependCSD returns a new buffer with every stored CSD fragment
// (in submission order) placed before au's bytes.
func (t *track) prependCSD(au *buffer.Buffer) *buffer.Buffer {
	total := 0
	for _, c := range t.csd {
		total += len(c)
	}
	out := make([]byte, 0, total+int(au.Length()))
	for _, c := range t.csd {
		out = append(out, c...)
	}
	out = append(out, au.Data()...)
	return buffer.Wrap(out, au.Timestamp())
}

// finalize derives the AVC video + timing/HRD descriptors once, using
// the first stored CSD fragment's profile/constraint/level bytes (the
// three bytes after its NAL header byte) if present, otherwise the
// TrackFormat-supplied values.
func (t *track) finalize() {
	if t.finalized || !t.format.isH264() {
		return
	}

	avc := make([]byte, 6)
	avc[0] = avcVideoDescriptorTag
	avc[1] = 4
	if len(t.csd) > 0 && len(t.csd[0]) >= len(h264StartCode)+4 {
		sps := t.csd[0]
		copy(avc[2:5], sps[len(h264StartCode)+1:len(h264StartCode)+4])
	} else {
		avc[2] = t.format.ProfileIDC
		avc[3] = t.format.ConstraintSet
		avc[4] = t.format.LevelIDC
	}
	avc[5] = 0x3f // AVC_still_present=0, AVC_24_hour_picture_flag=0, reserved
	t.descriptors = append(t.descriptors, avc)

	hrd := []byte{avcTimingAndHRDDescriptorTag, 2, 0x7e, 0x1f}
	t.descriptors = append(t.descriptors, hrd)

	t.finalized = true
}

// splitAnnexB returns the NAL units found between 00 00 00 01 start
// codes in data, without the start codes themselves.
func splitAnnexB(data []byte) [][]byte {
	var units [][]byte
	starts := findStartCodes(data)
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		nalStart := s + 4
		if nalStart >= end {
			continue
		}
		units = append(units, data[nalStart:end])
	}
	return units
}

func findStartCodes(data []byte) []int {
	var positions []int
	for i := 0; i+4 <= len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			positions = append(positions, i)
		}
	}
	return positions
}

// nalType returns the NAL unit type (low 5 bits of the header byte)
// for a NAL unit slice that does not include its start code.
func nalType(nal []byte) byte {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

const naluTypeIDR = 5

// containsIDR reports whether an Annex-B access unit contains an IDR
// (NAL type 5) slice.
func containsIDR(data []byte) bool {
	for _, nal := range splitAnnexB(data) {
		if nalType(nal) == naluTypeIDR {
			return true
		}
	}
	return false
}
