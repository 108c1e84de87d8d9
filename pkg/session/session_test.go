package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubports/aethercast/internal/videoformat"
	"github.com/ubports/aethercast/pkg/capture"
	"github.com/ubports/aethercast/pkg/encoder"
)

func loopbackSink(t *testing.T) (int, func()) {
	t.Helper()
	ln, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	go func() {
		buf := make([]byte, 2000)
		for {
			if _, _, err := ln.ReadFromUDP(buf); err != nil {
				return
			}
		}
	}()
	port := ln.LocalAddr().(*net.UDPAddr).Port
	return port, func() { ln.Close() }
}

func TestStateStartsStopped(t *testing.T) {
	m := New(capture.NewSoftware(), encoder.NewSoftwareBackend())
	require.Equal(t, StateStopped, m.State())
}

func TestPlayBeforeConfigureStillEntersPlaying(t *testing.T) {
	m := New(capture.NewSoftware(), encoder.NewSoftwareBackend())
	m.Play()
	require.Equal(t, StatePlaying, m.State(), "Play transitions state even before the deferred start fires")
	m.Teardown()
}

func TestConfigureThenPlayThenPauseThenTeardown(t *testing.T) {
	port, closeSink := loopbackSink(t)
	defer closeSink()

	m := New(capture.NewSoftware(), encoder.NewSoftwareBackend())
	err := m.Configure(
		StreamDestination{RemoteIP: "127.0.0.1", RemotePort: port},
		videoformat.Format{RateResolution: videoformat.CEA1280x720p30, Profile: videoformat.ProfileCBP, Level: videoformat.Level31},
		videoformat.NativeFormat{Width: 1280, Height: 720, RefreshRate: 30},
	)
	require.NoError(t, err)

	m.Play()
	require.Equal(t, StatePlaying, m.State())

	time.Sleep(400 * time.Millisecond) // past the deferred-start window

	m.Pause()
	require.Equal(t, StatePaused, m.State())

	m.Teardown()
	require.Equal(t, StateStopped, m.State())
}

func TestConfigureRejectsSecondCall(t *testing.T) {
	port, closeSink := loopbackSink(t)
	defer closeSink()

	m := New(capture.NewSoftware(), encoder.NewSoftwareBackend())
	format := videoformat.Format{RateResolution: videoformat.CEA1280x720p30}
	native := videoformat.NativeFormat{Width: 1280, Height: 720, RefreshRate: 30}

	require.NoError(t, m.Configure(StreamDestination{RemoteIP: "127.0.0.1", RemotePort: port}, format, native))
	require.ErrorIs(t, m.Configure(StreamDestination{RemoteIP: "127.0.0.1", RemotePort: port}, format, native), ErrAlreadyConfigured)
	m.Teardown()
}

func TestGetSessionTypeIsAlwaysAudioVideo(t *testing.T) {
	m := New(capture.NewSoftware(), encoder.NewSoftwareBackend())
	require.Equal(t, "AudioVideo", m.GetSessionType())
}

func TestSendIDRPictureIsSafeBeforeConfigure(t *testing.T) {
	m := New(capture.NewSoftware(), encoder.NewSoftwareBackend())
	require.NotPanics(t, func() { m.SendIDRPicture() })
}

type recordingDelegate struct{ notified bool }

func (r *recordingDelegate) OnSourceNetworkError() { r.notified = true }

func TestNetworkErrorBridgeForwardsToDelegate(t *testing.T) {
	port, closeSink := loopbackSink(t)
	closeSink() // closed at once; the bridge is driven directly below, no datagram is written

	m := New(capture.NewSoftware(), encoder.NewSoftwareBackend())
	d := &recordingDelegate{}
	m.SetDelegate(d)

	require.NoError(t, m.Configure(
		StreamDestination{RemoteIP: "127.0.0.1", RemotePort: port},
		videoformat.Format{RateResolution: videoformat.CEA1280x720p30},
		videoformat.NativeFormat{Width: 1280, Height: 720, RefreshRate: 30},
	))

	bridge := networkErrorBridge{m}
	bridge.OnTransportNetworkError(nil)
	require.True(t, d.notified)
	m.Teardown()
}
