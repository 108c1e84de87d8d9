// Package capture implements the BufferProducer contract (spec §6.2):
// a display-output source the pipeline polls each tick for the most
// recently swapped frame. The real producer (wlroots/Mir/Android
// SurfaceFlinger capture) is an external collaborator this module
// never implements; only the contract and a software producer for
// tests and headless deployments live here.
package capture

import (
	"errors"
	"sync"

	"github.com/ubports/aethercast/pkg/buffer"
)

// DisplayOutput is the negotiated capture geometry handed to Setup.
type DisplayOutput struct {
	Width, Height int
	Framerate     int
}

// ErrSetupFailed is returned when a producer cannot honor the
// requested DisplayOutput (spec §7 ConfigureRejected).
var ErrSetupFailed = errors.New("capture: setup failed")

// Producer is the BufferProducer contract. CurrentBuffer always
// returns the most recently swapped frame; repeated calls between
// SwapBuffers return the same frame, matching the "Encoder polls
// faster than new frames arrive" steady-state case.
type Producer interface {
	Setup(out DisplayOutput) error
	SwapBuffers() error
	CurrentBuffer() *buffer.Buffer
	OutputMode() DisplayOutput
}

// Software is a deterministic Producer for tests and headless
// deployments: SwapBuffers generates one filled frame of the
// configured size rather than reading real display output. Each
// SwapBuffers allocates a fresh frame, so a buffer returned earlier by
// CurrentBuffer is never overwritten by a later swap.
type Software struct {
	mu      sync.Mutex
	out     DisplayOutput
	current *buffer.Buffer
	frame   int64
}

// NewSoftware returns an unconfigured software producer.
func NewSoftware() *Software { return &Software{} }

func (s *Software) Setup(out DisplayOutput) error {
	if out.Width <= 0 || out.Height <= 0 || out.Framerate <= 0 {
		return ErrSetupFailed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = out
	return nil
}

// SwapBuffers produces the next frame: a buffer sized for the
// configured geometry, filled with a value that changes every call so
// tests can distinguish successive frames.
func (s *Software) SwapBuffers() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out.Width == 0 {
		return ErrSetupFailed
	}

	size := s.out.Width * s.out.Height * 3 / 2 // I420-equivalent size
	data := make([]byte, size)
	fill := byte(s.frame % 256)
	for i := range data {
		data[i] = fill
	}

	tsUs := s.frame * int64(1_000_000) / int64(s.out.Framerate)
	s.current = buffer.Wrap(data, tsUs)
	s.frame++
	return nil
}

func (s *Software) CurrentBuffer() *buffer.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Software) OutputMode() DisplayOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}
