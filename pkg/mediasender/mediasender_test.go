package mediasender

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubports/aethercast/pkg/buffer"
	"github.com/ubports/aethercast/pkg/mpegts"
)

type capturingSink struct {
	batches []*buffer.Buffer
}

func (c *capturingSink) Push(b *buffer.Buffer) {
	c.batches = append(c.batches, b)
}

func fixedNow(t time.Time) NowFunc {
	return func() time.Time { return t }
}

func newFixture(t *testing.T) (*MediaSender, *capturingSink, mpegts.TrackID) {
	p := mpegts.New(nil, func() int64 { return 0 })
	id, err := p.AddTrack(mpegts.TrackFormat{Mime: "video/avc", ProfileIDC: 66, LevelIDC: 31, ConstraintSet: 0xC0})
	require.NoError(t, err)
	sink := &capturingSink{}
	ms := New(p, id, sink)
	return ms, sink, id
}

func TestFirstBatchAlwaysEmitsTables(t *testing.T) {
	ms, sink, _ := newFixture(t)
	base := time.Unix(0, 0)
	ms.SetNow(fixedNow(base))

	ms.OnBufferAvailable(buffer.Wrap(make([]byte, 10), 0))
	require.True(t, ms.Execute())

	require.Len(t, sink.batches, 1)
	require.Equal(t, byte(0x47), sink.batches[0].Data()[0], "first TS packet of a batch must be a PAT sync byte when tables are emitted")
}

func TestSubsequentBatchWithinWindowSkipsTables(t *testing.T) {
	ms, sink, _ := newFixture(t)
	base := time.Unix(0, 0)
	ms.SetNow(fixedNow(base))

	ms.OnBufferAvailable(buffer.Wrap(make([]byte, 10), 0))
	require.True(t, ms.Execute())
	firstLen := sink.batches[0].Length()

	ms.SetNow(fixedNow(base.Add(10 * time.Millisecond)))
	ms.OnBufferAvailable(buffer.Wrap(make([]byte, 10), 10_000))
	require.True(t, ms.Execute())

	require.Len(t, sink.batches, 2)
	require.Less(t, sink.batches[1].Length(), firstLen, "no PAT/PMT/PCR means fewer TS packets than the table-bearing batch")
}

func TestBatchAfter100msReemitsTables(t *testing.T) {
	ms, sink, _ := newFixture(t)
	base := time.Unix(0, 0)
	ms.SetNow(fixedNow(base))

	ms.OnBufferAvailable(buffer.Wrap(make([]byte, 10), 0))
	require.True(t, ms.Execute())
	firstLen := sink.batches[0].Length()

	ms.SetNow(fixedNow(base.Add(150 * time.Millisecond)))
	ms.OnBufferAvailable(buffer.Wrap(make([]byte, 10), 150_000))
	require.True(t, ms.Execute())

	require.Len(t, sink.batches, 2)
	require.Equal(t, firstLen, sink.batches[1].Length(), "past the 100ms window tables must be re-emitted")
}

func TestCodecConfigBufferIsNotPacketized(t *testing.T) {
	ms, sink, _ := newFixture(t)
	ms.SetNow(fixedNow(time.Unix(0, 0)))

	sps := append([]byte{0, 0, 0, 1, 0x67}, make([]byte, 8)...)
	ms.OnBufferWithCodecConfig(buffer.Wrap(sps, 0))
	require.Empty(t, sink.batches)
}

func TestOutputTimestampMatchesInputTimestamp(t *testing.T) {
	ms, sink, _ := newFixture(t)
	ms.SetNow(fixedNow(time.Unix(0, 0)))

	ms.OnBufferAvailable(buffer.Wrap(make([]byte, 10), 77_000))
	require.True(t, ms.Execute())
	require.Equal(t, int64(77_000), sink.batches[0].Timestamp())
}

func TestExecuteWithoutInputReturnsTrueAndDoesNotBlockBeyondTimeout(t *testing.T) {
	ms, sink, _ := newFixture(t)
	start := time.Now()
	require.True(t, ms.Execute())
	require.Less(t, time.Since(start), 200*time.Millisecond)
	require.Empty(t, sink.batches)
}
