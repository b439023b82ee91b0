package protocol

import (
	"encoding/binary"
	"math"

	"github.com/aesync/aesync/internal/core/physics"
)

// Writer appends little-endian values to a Buffer.
type Writer struct {
	buf *Buffer
}

func NewWriter(buf *Buffer) Writer {
	return Writer{buf: buf}
}

func (w Writer) U8(v uint8) {
	w.buf.data = append(w.buf.data, v)
}

func (w Writer) U16(v uint16) {
	w.buf.data = binary.LittleEndian.AppendUint16(w.buf.data, v)
}

func (w Writer) U32(v uint32) {
	w.buf.data = binary.LittleEndian.AppendUint32(w.buf.data, v)
}

func (w Writer) U64(v uint64) {
	w.buf.data = binary.LittleEndian.AppendUint64(w.buf.data, v)
}

func (w Writer) F32(v float32) {
	w.U32(math.Float32bits(v))
}

func (w Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

func (w Writer) Vec2(v physics.Vec2) {
	w.F32(v.X)
	w.F32(v.Y)
}

// Bytes appends raw bytes with no length prefix.
func (w Writer) Bytes(p []byte) {
	w.buf.Append(p)
}

func (w Writer) Len() int {
	return w.buf.Len()
}

// Reader consumes little-endian values from a byte slice. The first
// truncated read latches ErrShortBuffer and every later read returns zero
// values; malformed input is never a panic.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the latched read error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = ErrShortBuffer
		r.off = len(r.data)
		return nil
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p
}

func (r *Reader) U8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) U16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *Reader) U32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *Reader) U64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *Reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

func (r *Reader) Bool() bool {
	return r.U8() != 0
}

func (r *Reader) Vec2() physics.Vec2 {
	return physics.Vec2{X: r.F32(), Y: r.F32()}
}

// Bytes consumes n raw bytes. The slice aliases the reader's input.
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}
