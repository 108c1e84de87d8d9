// Package videoformat carries the WFD video-format negotiation data
// the session layer needs: the CEA rate/resolution table, the
// H.264-codec advertisement the source builds, and the format
// selection (including the known CEA1280x720p60 sink-library
// workaround) that picks the format actually used to configure the
// pipeline.
package videoformat

// CEAMode identifies one CEA-861 rate/resolution combination that WFD
// negotiation can advertise or select.
type CEAMode int

const (
	CEA640x480p60 CEAMode = iota
	CEA720x480p60
	CEA720x480i60
	CEA720x576p50
	CEA720x576i50
	CEA1280x720p30
	CEA1280x720p60
	CEA1920x1080p30
	CEA1920x1080p60
	CEA1920x1080i60
	CEA1280x720p25
	CEA1280x720p50
	CEA1920x1080p25
	CEA1920x1080p50
	CEA1920x1080i50
	CEA1280x720p24
	CEA1920x1080p24
)

var ceaNames = map[string]CEAMode{
	"CEA640x480p60":   CEA640x480p60,
	"CEA720x480p60":   CEA720x480p60,
	"CEA720x480i60":   CEA720x480i60,
	"CEA720x576p50":   CEA720x576p50,
	"CEA720x576i50":   CEA720x576i50,
	"CEA1280x720p30":  CEA1280x720p30,
	"CEA1280x720p60":  CEA1280x720p60,
	"CEA1920x1080p30": CEA1920x1080p30,
	"CEA1920x1080p60": CEA1920x1080p60,
	"CEA1920x1080i60": CEA1920x1080i60,
	"CEA1280x720p25":  CEA1280x720p25,
	"CEA1280x720p50":  CEA1280x720p50,
	"CEA1920x1080p25": CEA1920x1080p25,
	"CEA1920x1080p50": CEA1920x1080p50,
	"CEA1920x1080i50": CEA1920x1080i50,
	"CEA1280x720p24":  CEA1280x720p24,
	"CEA1920x1080p24": CEA1920x1080p24,
}

// CEAModeFromString looks up a mode by its canonical name, as found
// in the video-mode allow-list file. Reports false for an unknown name.
func CEAModeFromString(name string) (CEAMode, bool) {
	m, ok := ceaNames[name]
	return m, ok
}

// Geometry describes the pixel dimensions and framerate a CEAMode
// implies. Only the 720p family is populated with real geometry;
// other modes may still be advertised through the allow-list file but
// are never selected by SelectOptimal.
var geometry = map[CEAMode]struct {
	Width, Height int
	Framerate     int
}{
	CEA1280x720p24: {1280, 720, 24},
	CEA1280x720p25: {1280, 720, 25},
	CEA1280x720p30: {1280, 720, 30},
	CEA1280x720p60: {1280, 720, 60},
}

// Geometry returns the width/height/framerate a mode implies, or
// false if this mode has no known geometry entry.
func (m CEAMode) Geometry() (width, height, framerate int, ok bool) {
	g, found := geometry[m]
	return g.Width, g.Height, g.Framerate, found
}
