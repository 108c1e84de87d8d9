package rtsp

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestWriteBeforeConnectFails(t *testing.T) {
	c := NewSourceClient()
	_, err := c.Write([]byte("x"))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSinkConnectAndLineFerry(t *testing.T) {
	port := freePort(t)
	c := NewSourceClient()

	received := make(chan string, 4)
	c.OnLine(func(line []byte) { received <- string(line) })
	require.NoError(t, c.Listen(port))
	defer c.Close()

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	require.True(t, c.WaitForSink(time.Second))

	_, err = conn.Write([]byte("OPTIONS rtsp://localhost/wfd1.0 RTSP/1.0\r\n"))
	require.NoError(t, err)

	select {
	case line := <-received:
		require.Contains(t, line, "OPTIONS")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ferried line")
	}
}

func TestWriteFerriesBytesToSink(t *testing.T) {
	port := freePort(t)
	c := NewSourceClient()
	require.NoError(t, c.Listen(port))
	defer c.Close()

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	require.True(t, c.WaitForSink(time.Second))

	n, err := c.Write([]byte("RTSP/1.0 200 OK\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, 19, n)

	buf := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "RTSP/1.0 200 OK\r\n\r\n", string(buf[:n]))
}

func TestRemoteAddrBeforeConnectFails(t *testing.T) {
	c := NewSourceClient()
	_, err := c.RemoteAddr()
	require.ErrorIs(t, err, ErrNotConnected)
}
