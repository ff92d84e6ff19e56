package pktbuf

import "testing"

type countingCallback struct{ n int }

func (c *countingCallback) PacketReady(mb *MultiBuffer) { c.n++ }

func TestWriteFinalizeQueuesAndReleaseFreesDescriptor(t *testing.T) {
	mb := New(4, 64, nil)
	cb := &countingCallback{}
	mb.SetCallback(cb)

	w, ok := mb.OpenWrite()
	if !ok {
		t.Fatal("OpenWrite failed on empty pool")
	}
	w.WriteU16(0x0800)
	w.WriteBytes([]byte("hello"))
	if !w.WriteFinalize() {
		t.Fatal("WriteFinalize should succeed within capacity")
	}
	if cb.n != 1 {
		t.Fatalf("callback fired %d times, want 1", cb.n)
	}

	idx, ok := mb.Pop()
	if !ok {
		t.Fatal("Pop should return the committed packet")
	}
	if mb.RefCount(idx) != 1 {
		t.Fatalf("refcount after commit = %d, want 1 (pending)", mb.RefCount(idx))
	}
	got := mb.Bytes(idx)
	want := []byte{0x08, 0x00, 'h', 'e', 'l', 'l', 'o'}
	if string(got) != string(want) {
		t.Fatalf("Bytes() = %v, want %v", got, want)
	}

	mb.Release(idx)
	if len(mb.free) != 4 {
		t.Fatalf("descriptor should return to free list, free len = %d", len(mb.free))
	}
}

func TestFanOutAcquireRelease(t *testing.T) {
	mb := New(2, 16, nil)
	w, ok := mb.OpenWrite()
	if !ok {
		t.Fatal("OpenWrite failed")
	}
	w.WriteBytes([]byte("abc"))
	w.WriteFinalize()

	idx, ok := mb.Pop()
	if !ok {
		t.Fatal("Pop failed")
	}

	const fanout = 3
	for i := 0; i < fanout; i++ {
		mb.Acquire(idx)
	}
	mb.Release(idx) // drop the pending reference from commit
	if mb.RefCount(idx) != fanout {
		t.Fatalf("refcount = %d, want %d", mb.RefCount(idx), fanout)
	}

	readers := make([]*Reader, fanout)
	for i := range readers {
		readers[i] = mb.NewReader(idx)
	}
	for i, r := range readers {
		var buf [3]byte
		if !r.ReadBytes(buf[:]) {
			t.Fatalf("reader %d: ReadBytes failed", i)
		}
		if string(buf[:]) != "abc" {
			t.Fatalf("reader %d: got %q, want abc", i, buf[:])
		}
	}
	for i, r := range readers {
		r.ReadFinalize()
		wantRef := int32(fanout - 1 - i)
		if mb.RefCount(idx) != wantRef {
			t.Fatalf("after finalize %d: refcount = %d, want %d", i, mb.RefCount(idx), wantRef)
		}
	}
	if len(mb.free) != 2 {
		t.Fatalf("descriptor should be free after last release, free len = %d", len(mb.free))
	}
}

func TestDropReleasesPendingReference(t *testing.T) {
	mb := New(1, 16, nil)
	w, _ := mb.OpenWrite()
	w.WriteBytes([]byte("x"))
	w.WriteFinalize()
	idx, _ := mb.Pop()

	mb.Release(idx) // switch core drops the packet outright: zero egress ports
	if len(mb.free) != 1 {
		t.Fatal("descriptor should be back on the free list after drop")
	}
}

func TestOpenWriteExhaustionCountsOverflow(t *testing.T) {
	mb := New(1, 8, nil)
	w1, ok := mb.OpenWrite()
	if !ok {
		t.Fatal("first OpenWrite should succeed")
	}
	_, ok = mb.OpenWrite()
	if ok {
		t.Fatal("second OpenWrite should fail, pool has capacity 1")
	}
	if mb.ErrCtOverflow() != 1 {
		t.Fatalf("ErrCtOverflow() = %d, want 1", mb.ErrCtOverflow())
	}
	w1.WriteAbort()
	w2, ok := mb.OpenWrite()
	if !ok {
		t.Fatal("OpenWrite should succeed again after abort frees the descriptor")
	}
	w2.WriteAbort()
}

func TestWriteOverflowIsStickyAndFinalizeFails(t *testing.T) {
	mb := New(1, 4, nil)
	w, _ := mb.OpenWrite()
	w.WriteBytes([]byte("12345")) // exceeds chunkLen=4
	if !w.overflow {
		t.Fatal("overflow flag should be set")
	}
	w.WriteU8('x') // further writes are no-ops once overflowed
	if w.WriteFinalize() {
		t.Fatal("WriteFinalize must fail once overflow is set")
	}
	// descriptor should be back on the free list via the abort path
	if len(mb.free) != 1 {
		t.Fatal("descriptor should be released after failed finalize")
	}
}

func TestReadUnderflowIsSticky(t *testing.T) {
	mb := New(1, 16, nil)
	w, _ := mb.OpenWrite()
	w.WriteBytes([]byte("ab"))
	w.WriteFinalize()
	idx, _ := mb.Pop()
	mb.Acquire(idx)
	mb.Release(idx) // pending -> 1 owned by our one reader

	r := mb.NewReader(idx)
	var buf [10]byte
	if r.ReadBytes(buf[:]) {
		t.Fatal("ReadBytes should fail: only 2 bytes available")
	}
	if !r.underflow {
		t.Fatal("underflow flag should be sticky")
	}
	r.ReadFinalize()
}

func TestRoundTripIntegerEncodings(t *testing.T) {
	mb := New(1, 64, nil)
	w, _ := mb.OpenWrite()
	w.WriteU8(0xAB)
	w.WriteU16(0x1234)
	w.WriteU32(0xDEADBEEF)
	w.WriteU16L(0x1234)
	w.WriteU32L(0xDEADBEEF)
	if !w.WriteFinalize() {
		t.Fatal("finalize failed")
	}
	idx, _ := mb.Pop()
	mb.Acquire(idx)
	mb.Release(idx)
	r := mb.NewReader(idx)

	if got := r.ReadU8(); got != 0xAB {
		t.Fatalf("ReadU8() = %#x, want 0xab", got)
	}
	if got := r.ReadU16(); got != 0x1234 {
		t.Fatalf("ReadU16() = %#x, want 0x1234", got)
	}
	if got := r.ReadU32(); got != 0xDEADBEEF {
		t.Fatalf("ReadU32() = %#x, want 0xdeadbeef", got)
	}
	if got := r.ReadU16L(); got != 0x1234 {
		t.Fatalf("ReadU16L() = %#x, want 0x1234", got)
	}
	if got := r.ReadU32L(); got != 0xDEADBEEF {
		t.Fatalf("ReadU32L() = %#x, want 0xdeadbeef", got)
	}
	r.ReadFinalize()
}
