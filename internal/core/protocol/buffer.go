package protocol

import (
	"sync"
	"sync/atomic"
)

// bufferPool recycles Buffers to reduce GC pressure on the send path.
var bufferPool = sync.Pool{
	New: func() any {
		return &Buffer{data: make([]byte, 0, 256)}
	},
}

// Buffer is an append-only byte buffer with an explicit reference count.
//
// Callers that hand a Buffer to Send transfer their reference with the call;
// a broadcast retains the buffer once per outgoing envelope and the transport
// releases each reference only after that envelope's write has completed, so
// one buffer backs every copy of a broadcast without being copied per
// connection.
type Buffer struct {
	data []byte
	refs atomic.Int32
}

// NewBuffer returns an empty buffer holding one reference.
func NewBuffer() *Buffer {
	b := bufferPool.Get().(*Buffer)
	b.data = b.data[:0]
	b.refs.Store(1)
	return b
}

// Retain adds a reference.
func (b *Buffer) Retain() {
	b.refs.Add(1)
}

// Release drops a reference, returning the buffer to the pool when the last
// one is gone. Releasing more times than retained is a programmer error.
func (b *Buffer) Release() {
	refs := b.refs.Add(-1)
	if refs == 0 {
		bufferPool.Put(b)
	} else if refs < 0 {
		panic("protocol: buffer released more times than retained")
	}
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int32 {
	return b.refs.Load()
}

// Bytes returns the written contents. The slice aliases the buffer and is
// valid only while a reference is held.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// Reset truncates the buffer without releasing it.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// Append adds raw bytes.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}
