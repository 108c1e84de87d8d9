package mpegts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRC32RoundTrip(t *testing.T) {
	section := []byte{
		0x00, 0xb0, 0x0d, 0x00, 0x00, 0xc3, 0x00, 0x00, 0x00, 0x01, 0xe1, 0x00,
	}
	crc := calcCRC32(section)

	again := calcCRC32(section)
	require.Equal(t, crc, again)
	require.NotZero(t, crc)
}
