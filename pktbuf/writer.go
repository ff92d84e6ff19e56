package pktbuf

import (
	"math"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
)

// Writer accumulates bytes for one packet bound to a MultiBuffer
// descriptor. It implements satcat5.Writeable. The zero value is not
// usable; obtain one from MultiBuffer.OpenWrite.
type Writer struct {
	mb       *MultiBuffer
	idx      int
	off      int
	overflow bool
	done     bool
}

func (w *Writer) desc() *descriptor { return &w.mb.descs[w.idx] }

// Index returns the MultiBuffer descriptor this Writer is bound to, valid
// for use with MultiBuffer.Bytes/Acquire/Release (or switchcore.Switch's
// FrameRcvd) once WriteFinalize has committed it.
func (w *Writer) Index() int { return w.idx }

// GetWriteSpace reports remaining bytes before overflow.
func (w *Writer) GetWriteSpace() int {
	if w.done {
		return 0
	}
	return len(w.desc().buf) - w.off
}

// WriteBytes writes the whole of buf or none of it.
func (w *Writer) WriteBytes(buf []byte) {
	if w.done || w.overflow {
		w.overflow = true
		return
	}
	if len(buf) > w.GetWriteSpace() {
		w.overflow = true
		return
	}
	d := w.desc()
	copy(d.buf[w.off:], buf)
	w.off += len(buf)
}

func (w *Writer) WriteU8(v uint8) { w.WriteBytes([]byte{v}) }
func (w *Writer) WriteU16(v uint16) {
	w.WriteBytes([]byte{byte(v >> 8), byte(v)})
}
func (w *Writer) WriteU32(v uint32) {
	w.WriteBytes([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
func (w *Writer) WriteU64(v uint64) {
	w.WriteBytes([]byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	})
}
func (w *Writer) WriteU16L(v uint16) { w.WriteBytes([]byte{byte(v), byte(v >> 8)}) }
func (w *Writer) WriteU32L(v uint32) {
	w.WriteBytes([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}
func (w *Writer) WriteU64L(v uint64) {
	w.WriteBytes([]byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	})
}
func (w *Writer) WriteS8(v int8)   { w.WriteU8(uint8(v)) }
func (w *Writer) WriteS16(v int16) { w.WriteU16(uint16(v)) }
func (w *Writer) WriteS32(v int32) { w.WriteU32(uint32(v)) }
func (w *Writer) WriteS64(v int64) { w.WriteU64(uint64(v)) }
func (w *Writer) WriteF32(v float32) { w.WriteU32(math.Float32bits(v)) }
func (w *Writer) WriteF64(v float64) { w.WriteU64(math.Float64bits(v)) }

// WriteFinalize commits the packet. On overflow it resets the stream and
// returns false, per the sticky-overflow contract.
func (w *Writer) WriteFinalize() bool {
	if w.done {
		return false
	}
	if w.overflow {
		w.WriteAbort()
		return false
	}
	w.mb.commit(w.idx, w.off)
	w.done = true
	return true
}

// WriteAbort discards the in-progress packet. Idempotent.
func (w *Writer) WriteAbort() {
	if w.done {
		return
	}
	w.mb.abort(w.idx)
	w.done = true
	w.overflow = false
}

var _ satcat5.Writeable = (*Writer)(nil)
