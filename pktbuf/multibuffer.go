// Package pktbuf implements the MultiBuffer packet arena and the
// Writer/Reader streams that read and write through it. It is the
// zero-copy foundation the switch and router pipelines are built on: one
// writer commits a whole frame, the switch fans references to it out to
// zero or more egress ports, and the last reader to finish returns the
// descriptor to the free list.
//
// The free list and ready FIFO are index queues over a fixed-size
// descriptor arena rather than a pointer-linked pool, so the descriptor
// array never reallocates once New returns.
package pktbuf

import (
	"log/slog"
)

// NumUser is the number of small integer metadata slots carried alongside
// each packet (at minimum: source port index, source port VLAN snapshot).
const NumUser = 4

// descriptor is one arena slot: either free, being written, queued for
// delivery, or referenced by one or more egress readers.
type descriptor struct {
	buf      []byte
	length   int
	refct    int32
	priority uint8
	user     [NumUser]int
	inUse    bool
}

// MultiBuffer is a bounded pool of packet-sized allocations with
// per-packet reference counts. One Writer builds a packet; on commit it is
// queued on a single FIFO for the switch to drain with Pop.
type MultiBuffer struct {
	descs    []descriptor
	free     []int
	fifo     []int
	chunkLen int
	cb       DataCallback
	log      *slog.Logger

	errOverflow uint64
}

// DataCallback is notified once a complete packet is queued, mirroring
// satcat5.StreamCallback but scoped to a whole MultiBuffer rather than a
// single stream (a MultiBuffer can receive from many concurrent Writers).
type DataCallback interface {
	PacketReady(mb *MultiBuffer)
}

// New returns a MultiBuffer with capacity packets, each able to hold up to
// chunkLen bytes.
func New(capacity, chunkLen int, log *slog.Logger) *MultiBuffer {
	if capacity <= 0 || chunkLen <= 0 {
		panic("pktbuf: capacity and chunkLen must be > 0")
	}
	mb := &MultiBuffer{
		descs:    make([]descriptor, capacity),
		free:     make([]int, capacity),
		chunkLen: chunkLen,
		log:      log,
	}
	for i := range mb.descs {
		mb.descs[i].buf = make([]byte, chunkLen)
		mb.free[i] = capacity - 1 - i
	}
	return mb
}

// SetCallback installs the packet-ready notification sink.
func (mb *MultiBuffer) SetCallback(cb DataCallback) { mb.cb = cb }

// Capacity returns the total number of packet descriptors in the pool.
func (mb *MultiBuffer) Capacity() int { return len(mb.descs) }

// ErrCtOverflow returns the number of OpenWrite calls that failed because
// no descriptor was free, for counting as the ingress port's overflow-rx
// statistic.
func (mb *MultiBuffer) ErrCtOverflow() uint64 { return mb.errOverflow }

// OpenWrite reserves a fresh descriptor and returns a Writer bound to it.
// The second return is false if the pool is exhausted, in which case the
// caller must count the frame as an overflow-rx error and must not use the
// returned Writer.
func (mb *MultiBuffer) OpenWrite() (*Writer, bool) {
	if len(mb.free) == 0 {
		mb.errOverflow++
		return nil, false
	}
	idx := mb.free[len(mb.free)-1]
	mb.free = mb.free[:len(mb.free)-1]
	d := &mb.descs[idx]
	*d = descriptor{buf: d.buf, inUse: true}
	return &Writer{mb: mb, idx: idx}, true
}

// Pop removes and returns the index of the oldest queued packet. The second
// return is false if the FIFO is empty.
func (mb *MultiBuffer) Pop() (idx int, ok bool) {
	if len(mb.fifo) == 0 {
		return 0, false
	}
	idx = mb.fifo[0]
	mb.fifo = mb.fifo[1:]
	return idx, true
}

// Len returns the committed length in bytes of the packet at idx.
func (mb *MultiBuffer) Len(idx int) int { return mb.descs[idx].length }

// Bytes returns the committed bytes of the packet at idx. The caller must
// not retain this slice past the matching Release call.
func (mb *MultiBuffer) Bytes(idx int) []byte { return mb.descs[idx].buf[:mb.descs[idx].length] }

// Priority returns the packet's assigned priority (0..7).
func (mb *MultiBuffer) Priority(idx int) uint8 { return mb.descs[idx].priority }

// SetPriority sets the packet's assigned priority.
func (mb *MultiBuffer) SetPriority(idx int, p uint8) { mb.descs[idx].priority = p }

// User returns metadata slot i of the packet at idx.
func (mb *MultiBuffer) User(idx, i int) int { return mb.descs[idx].user[i] }

// SetUser sets metadata slot i of the packet at idx.
func (mb *MultiBuffer) SetUser(idx, i int, v int) { mb.descs[idx].user[i] = v }

// RefCount returns the current strong reference count of the packet at idx.
func (mb *MultiBuffer) RefCount(idx int) int32 { return mb.descs[idx].refct }

// Acquire increments the reference count of the packet at idx, e.g. when it
// is queued onto an additional egress port.
func (mb *MultiBuffer) Acquire(idx int) {
	mb.descs[idx].refct++
}

// Release decrements the reference count of the packet at idx. When it
// reaches zero the descriptor returns to the free list.
func (mb *MultiBuffer) Release(idx int) {
	d := &mb.descs[idx]
	d.refct--
	if d.refct <= 0 {
		d.inUse = false
		mb.free = append(mb.free, idx)
	}
}

// NewReader returns a non-consuming Reader over the packet at idx. Calling
// code must pair it with exactly one Release once the egress port has
// finished reading.
func (mb *MultiBuffer) NewReader(idx int) *Reader {
	return &Reader{mb: mb, idx: idx}
}

// commit is called by Writer.WriteFinalize. It sets length, stamps a
// pending reference of 1 (the packet is "owned by the pipeline" until the
// switch core either drops it, releasing that one reference, or fans it
// out to k ports by Acquire-ing k times and Release-ing the pending one),
// queues the descriptor and fires the callback.
func (mb *MultiBuffer) commit(idx, length int) {
	d := &mb.descs[idx]
	d.length = length
	d.refct = 1
	mb.fifo = append(mb.fifo, idx)
	if mb.cb != nil {
		mb.cb.PacketReady(mb)
	}
}

// abort returns the descriptor to the free list without queuing it.
func (mb *MultiBuffer) abort(idx int) {
	d := &mb.descs[idx]
	d.inUse = false
	mb.free = append(mb.free, idx)
}
