package videoformat

import (
	"bufio"
	"os"
)

// Profile is the H.264 profile a codec advertisement targets.
type Profile int

const (
	ProfileCBP Profile = iota // Constrained Baseline Profile
	ProfileCHP                // Constrained High Profile
)

// Level is an H.264 level_idc value expressed as the WFD enum the
// negotiation uses rather than the raw level_idc byte.
type Level int

const (
	Level31 Level = iota // 3.1
	Level32
	Level40
	Level41
	Level42
)

// levelIDC maps a Level to the raw level_idc byte the AVC video
// descriptor (spec 4.5) carries on the wire.
var levelIDC = map[Level]byte{
	Level31: 31,
	Level32: 32,
	Level40: 40,
	Level41: 41,
	Level42: 42,
}

func (l Level) IDC() byte { return levelIDC[l] }

// H264Codec is one advertised (profile, level, supported-modes)
// triple, mirroring wds::H264VideoCodec.
type H264Codec struct {
	Profile      Profile
	Level        Level
	CEAModes     map[CEAMode]bool
	VESAModes    map[CEAMode]bool // unused by this source; kept for shape parity
	HandheldModes map[CEAMode]bool
}

// DefaultVideoModesPath is the allow-list file the original source
// reads to restrict which CEA modes get advertised.
const DefaultVideoModesPath = ".config/aethercast/video_modes.conf"

// LoadAllowedModes reads one CEA mode name per line from path. If the
// file cannot be opened it returns the conservative default set
// {720p30, 720p25, 720p24}, matching the source's own fallback — this
// source has historically only performed well at 720p and below.
func LoadAllowedModes(path string) map[CEAMode]bool {
	modes := map[CEAMode]bool{}

	f, err := os.Open(path)
	if err != nil {
		modes[CEA1280x720p30] = true
		modes[CEA1280x720p25] = true
		modes[CEA1280x720p24] = true
		return modes
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if mode, ok := CEAModeFromString(line); ok {
			modes[mode] = true
		}
	}
	return modes
}

// DefaultCodecs returns the codec set this source advertises: a
// single CBP level-3.1 entry restricted to the allowed CEA modes.
// FIXME: which profiles/formats we support highly depends on what the
// hardware encoder backend supports; CBP@3.1 matches what the
// reference Android encoder configures.
func DefaultCodecs(allowedModes map[CEAMode]bool) []H264Codec {
	return []H264Codec{
		{
			Profile:  ProfileCBP,
			Level:    Level31,
			CEAModes: allowedModes,
		},
	}
}

// NativeFormat is the sink's reported native display geometry.
type NativeFormat struct {
	Width, Height int
	RefreshRate   int
}

// Format is the negotiated (CEA mode, profile, level) triple that
// configures the pipeline for one session.
type Format struct {
	RateResolution CEAMode
	Profile        Profile
	Level          Level
}

// SelectOptimal intersects the source's codecs with the sink's
// advertised codecs and returns the best match. success is false if
// no common mode with known geometry exists. native is not consulted.
//
// Ported from InitOptimalVideoFormat / FindOptimalVideoFormat: this
// implementation scans every (source codec, sink codec) pair, picks
// the highest-framerate CEA mode with known geometry present in both,
// and takes Profile and Level from the source codec; sink profiles and
// levels are not compared. It then applies the same unconditional
// CEA1280x720p60->CEA1280x720p30 coercion the original applies for
// all sinks, regardless of which codec matched.
func SelectOptimal(native NativeFormat, sourceCodecs, sinkCodecs []H264Codec) (Format, bool) {
	var best Format
	found := false

	for _, sc := range sourceCodecs {
		for _, kc := range sinkCodecs {
			for mode := range sc.CEAModes {
				if !kc.CEAModes[mode] {
					continue
				}
				_, _, fr, ok := mode.Geometry()
				if !ok {
					continue
				}
				if !found {
					best = Format{RateResolution: mode, Profile: sc.Profile, Level: sc.Level}
					found = true
					continue
				}
				_, _, bestFr, _ := best.RateResolution.Geometry()
				if fr > bestFr {
					best = Format{RateResolution: mode, Profile: sc.Profile, Level: sc.Level}
				}
			}
		}
	}

	if !found {
		return Format{}, false
	}

	// Workaround for a buggy WFD stack: a negotiated 60Hz 720p mode
	// is coerced down to 30Hz. See SPEC_FULL.md section C.2 for why
	// this stays.
	if best.RateResolution == CEA1280x720p60 {
		best.RateResolution = CEA1280x720p30
	}

	return best, true
}
