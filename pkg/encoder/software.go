package encoder

import (
	"sync"

	"github.com/ubports/aethercast/pkg/buffer"
)

// SoftwareBackend is a deterministic, non-real encoder used by tests
// and by any deployment with no hardware codec wired in. It does not
// perform actual H.264 compression: it wraps each input buffer's
// bytes as if they were already an encoded access unit, inserting a
// fixed SPS/PPS pair as CSD on Start and honoring RequestIDR by
// tagging the next output as containing an IDR slice. This mirrors
// the shape of the real backend contract closely enough to exercise
// every other stage without depending on a platform codec.
type SoftwareBackend struct {
	mu      sync.Mutex
	csd     []byte
	idrNext bool
	frame   int
	cfg     Config
}

// NewSoftwareBackend returns a backend ready for Configure.
func NewSoftwareBackend() *SoftwareBackend {
	return &SoftwareBackend{}
}

var fixedSPS = append([]byte{0x00, 0x00, 0x00, 0x01, 0x67}, make([]byte, 8)...)
var fixedPPS = []byte{0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x3c, 0x80}

func (s *SoftwareBackend) Configure(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

func (s *SoftwareBackend) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	csd := make([]byte, 0, len(fixedSPS)+len(fixedPPS))
	csd = append(csd, fixedSPS...)
	csd = append(csd, fixedPPS...)
	s.csd = csd
	s.idrNext = true
	s.frame = 0
	return nil
}

func (s *SoftwareBackend) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csd = nil
	return nil
}

func (s *SoftwareBackend) CSD() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csd
}

func (s *SoftwareBackend) RequestIDR() {
	s.mu.Lock()
	s.idrNext = true
	s.mu.Unlock()
}

// PullInput wraps in's bytes as a NAL unit whose type depends on
// whether an IDR was requested (or this is the very first frame,
// which is always an IDR).
func (s *SoftwareBackend) PullInput(in *buffer.Buffer) (*buffer.Buffer, bool, error) {
	s.mu.Lock()
	naluType := byte(0x01) // P-frame
	if s.idrNext {
		naluType = 0x05 // IDR
		s.idrNext = false
	}
	s.frame++
	s.mu.Unlock()

	payload := make([]byte, 0, 5+int(in.Length()))
	payload = append(payload, 0x00, 0x00, 0x00, 0x01, naluType)
	payload = append(payload, in.Data()...)

	return buffer.Wrap(payload, in.Timestamp()), false, nil
}
