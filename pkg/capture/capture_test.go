package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRejectsZeroGeometry(t *testing.T) {
	s := NewSoftware()
	require.ErrorIs(t, s.Setup(DisplayOutput{}), ErrSetupFailed)
}

func TestSwapBuffersBeforeSetupFails(t *testing.T) {
	s := NewSoftware()
	require.ErrorIs(t, s.SwapBuffers(), ErrSetupFailed)
}

func TestSwapBuffersProducesDistinctFrames(t *testing.T) {
	s := NewSoftware()
	require.NoError(t, s.Setup(DisplayOutput{Width: 16, Height: 16, Framerate: 30}))

	require.NoError(t, s.SwapBuffers())
	first := s.CurrentBuffer()
	require.NotNil(t, first)
	require.EqualValues(t, 16*16*3/2, first.Length())

	require.NoError(t, s.SwapBuffers())
	second := s.CurrentBuffer()
	require.NotEqual(t, first.Data()[0], second.Data()[0])
	require.Greater(t, second.Timestamp(), first.Timestamp())
}

func TestCurrentBufferStableBetweenSwaps(t *testing.T) {
	s := NewSoftware()
	require.NoError(t, s.Setup(DisplayOutput{Width: 8, Height: 8, Framerate: 30}))
	require.NoError(t, s.SwapBuffers())

	a := s.CurrentBuffer()
	b := s.CurrentBuffer()
	require.Same(t, a, b)
}
