package pktbuf

import (
	"math"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
)

// Reader walks the committed bytes of one packet without copying them. Per
// spec it never consumes the underlying descriptor: many Readers may be
// open on the same packet at once, one per egress port, each with its own
// read offset. ReadFinalize drops this Reader's share of the reference
// count acquired when the packet was queued to its port; the descriptor
// returns to the free list once every Reader (and the original pending
// reference) has been released.
type Reader struct {
	mb       *MultiBuffer
	idx      int
	off      int
	underflow bool
	done     bool
	cb       satcat5.StreamCallback
}

func (r *Reader) bytes() []byte { return r.mb.Bytes(r.idx) }

// GetReadReady returns the number of unread bytes remaining.
func (r *Reader) GetReadReady() int {
	if r.done {
		return 0
	}
	return len(r.bytes()) - r.off
}

// ReadBytes reads exactly len(buf) bytes into buf, or none of them.
func (r *Reader) ReadBytes(buf []byte) bool {
	if r.done || r.underflow {
		r.underflow = true
		return false
	}
	if len(buf) > r.GetReadReady() {
		r.underflow = true
		return false
	}
	copy(buf, r.bytes()[r.off:r.off+len(buf)])
	r.off += len(buf)
	return true
}

func (r *Reader) ReadU8() uint8 {
	var b [1]byte
	r.ReadBytes(b[:])
	return b[0]
}
func (r *Reader) ReadU16() uint16 {
	var b [2]byte
	r.ReadBytes(b[:])
	return uint16(b[0])<<8 | uint16(b[1])
}
func (r *Reader) ReadU32() uint32 {
	var b [4]byte
	r.ReadBytes(b[:])
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func (r *Reader) ReadU64() uint64 {
	var b [8]byte
	r.ReadBytes(b[:])
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
func (r *Reader) ReadU16L() uint16 {
	var b [2]byte
	r.ReadBytes(b[:])
	return uint16(b[1])<<8 | uint16(b[0])
}
func (r *Reader) ReadU32L() uint32 {
	var b [4]byte
	r.ReadBytes(b[:])
	return uint32(b[3])<<24 | uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
}
func (r *Reader) ReadU64L() uint64 {
	var b [8]byte
	r.ReadBytes(b[:])
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
func (r *Reader) ReadS8() int8   { return int8(r.ReadU8()) }
func (r *Reader) ReadS16() int16 { return int16(r.ReadU16()) }
func (r *Reader) ReadS32() int32 { return int32(r.ReadU32()) }
func (r *Reader) ReadS64() int64 { return int64(r.ReadU64()) }
func (r *Reader) ReadF32() float32 { return math.Float32frombits(r.ReadU32()) }
func (r *Reader) ReadF64() float64 { return math.Float64frombits(r.ReadU64()) }

// CopyTo streams the remaining unread bytes of the packet to dst, without
// advancing past the end of the packet on a short write: dst.WriteBytes is
// called once with whatever remains.
func (r *Reader) CopyTo(dst satcat5.Writeable) (n int, err error) {
	rem := r.GetReadReady()
	if rem == 0 {
		return 0, nil
	}
	buf := make([]byte, rem)
	if !r.ReadBytes(buf) {
		return 0, satcat5.ErrUnderflow
	}
	dst.WriteBytes(buf)
	return rem, nil
}

// ReadFinalize releases this Reader's share of the packet's reference
// count, discarding any unread remainder. Idempotent.
func (r *Reader) ReadFinalize() {
	if r.done {
		return
	}
	r.done = true
	r.mb.Release(r.idx)
}

// SetCallback installs a stream-event callback. MultiBuffer readers deliver
// readiness through DataCallback.PacketReady at the MultiBuffer level, so
// this is retained only to satisfy satcat5.Readable; cb.DataRcvd is invoked
// once, immediately, since the data backing a Reader is always already
// available by construction.
func (r *Reader) SetCallback(cb satcat5.StreamCallback) {
	r.cb = cb
	if cb != nil {
		cb.DataRcvd(r)
	}
}

var _ satcat5.Readable = (*Reader)(nil)
