// Package buffer implements the pipeline's unit of transport: a
// single-owner slice of frame or packet data with a one-shot release
// callback, and the bounded FIFO queue stages use to hand buffers to
// one another.
package buffer

import "sync"

// Delegate is notified exactly once, on a Buffer's first Release
// call, so the owning producer can reclaim the underlying storage.
type Delegate interface {
	OnBufferFinished(b *Buffer)
}

// Buffer is a unit of data flowing through the pipeline: a raw frame
// from the capture surface, an encoded access unit, or a packetized
// TS payload. It carries its own presentation timestamp so that
// timing survives every stage it passes through unmodified.
type Buffer struct {
	mu sync.Mutex

	data      []byte
	offset    uint32
	length    uint32
	timestamp int64 // microseconds, monotonic

	nativeHandle any // opaque handle for hardware-backed producers

	delegate Delegate
	released bool
}

// New allocates a Buffer backed by a plain byte slice.
func New(capacity uint32, timestampUs int64) *Buffer {
	return &Buffer{
		data:      make([]byte, capacity),
		length:    capacity,
		timestamp: timestampUs,
	}
}

// Wrap creates a Buffer around existing bytes without copying.
func Wrap(data []byte, timestampUs int64) *Buffer {
	return &Buffer{
		data:      data,
		length:    uint32(len(data)),
		timestamp: timestampUs,
	}
}

// WrapHandle creates a Buffer around an opaque native handle (used by
// hardware-backed capture/encoder backends that hand around GL
// textures or codec-native buffer indices rather than plain bytes).
func WrapHandle(handle any, timestampUs int64) *Buffer {
	return &Buffer{
		nativeHandle: handle,
		timestamp:    timestampUs,
	}
}

// SetRange narrows the valid window of the underlying storage.
func (b *Buffer) SetRange(offset, length uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offset = offset
	b.length = length
}

// SetTimestamp overwrites the presentation timestamp in microseconds.
func (b *Buffer) SetTimestamp(us int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timestamp = us
}

// SetDelegate installs the release delegate. A Buffer may have at
// most one delegate; the last call wins.
func (b *Buffer) SetDelegate(d Delegate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delegate = d
}

func (b *Buffer) Capacity() uint32 { return uint32(len(b.data)) }
func (b *Buffer) Offset() uint32   { return b.offset }
func (b *Buffer) Length() uint32   { return b.length }

// Data returns the valid window of bytes (Offset:Offset+Length). Nil
// for handle-backed buffers.
func (b *Buffer) Data() []byte {
	if b.data == nil {
		return nil
	}
	return b.data[b.offset : b.offset+b.length]
}

func (b *Buffer) Timestamp() int64 { return b.timestamp }

// IsValid reports whether the buffer carries either real bytes or a
// native handle. The pipeline never forwards an invalid buffer.
func (b *Buffer) IsValid() bool {
	return b.data != nil || b.nativeHandle != nil
}

func (b *Buffer) NativeHandle() any { return b.nativeHandle }

// Release fires the delegate's OnBufferFinished callback at most
// once, on the first call; later calls do nothing. Buffer keeps no
// reference count, so the first holder to call Release ends the
// buffer's life even if another holder still uses it.
func (b *Buffer) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	d := b.delegate
	b.mu.Unlock()

	if d != nil {
		d.OnBufferFinished(b)
	}
}
