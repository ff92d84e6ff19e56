package satcat5

// Writeable is a byte-stream producer with packet framing: bytes accumulate
// until WriteFinalize commits them as one packet, or WriteAbort discards
// them. All multi-byte integer writes are big-endian on the wire; the `L`
// suffix selects little-endian. Signed and float variants bit-cast to the
// unsigned representation of equal width (two's complement, IEEE 754)
// without reinterpreting the value.
//
// Any write that would exceed GetWriteSpace sets a sticky overflow flag;
// once set, WriteFinalize must return false and reset the stream, and no
// further byte is accepted until WriteAbort or a fresh packet begins.
type Writeable interface {
	// GetWriteSpace returns the number of bytes that can still be written
	// to the in-progress packet before overflow.
	GetWriteSpace() int
	WriteU8(v uint8)
	WriteU16(v uint16)
	WriteU32(v uint32)
	WriteU64(v uint64)
	WriteU16L(v uint16)
	WriteU32L(v uint32)
	WriteU64L(v uint64)
	WriteS8(v int8)
	WriteS16(v int16)
	WriteS32(v int32)
	WriteS64(v int64)
	WriteF32(v float32)
	WriteF64(v float64)
	// WriteBytes writes all of buf, or none of it: if fewer than len(buf)
	// bytes of space remain it writes nothing and sets the overflow flag.
	WriteBytes(buf []byte)
	// WriteFinalize commits the in-progress packet. It returns false, and
	// resets the stream to an accepting state, if the overflow flag is set.
	WriteFinalize() bool
	// WriteAbort discards the in-progress packet. Idempotent; always
	// returns the stream to an accepting state.
	WriteAbort()
}

// Readable is a byte-stream consumer with packet framing, the dual of
// Writeable. Reads beyond GetReadReady set a sticky underflow flag and fail
// without partial effect; no partial read ever succeeds.
type Readable interface {
	// GetReadReady returns the number of unread bytes left in the current
	// packet.
	GetReadReady() int
	ReadU8() uint8
	ReadU16() uint16
	ReadU32() uint32
	ReadU64() uint64
	ReadU16L() uint16
	ReadU32L() uint32
	ReadU64L() uint64
	ReadS8() int8
	ReadS16() int16
	ReadS32() int32
	ReadS64() int64
	ReadF32() float32
	ReadF64() float64
	// ReadBytes reads exactly len(buf) bytes into buf, or none of them,
	// setting the sticky underflow flag on short input.
	ReadBytes(buf []byte) bool
	// ReadFinalize advances past the current packet, discarding any unread
	// remainder, and makes the next queued packet (if any) available.
	ReadFinalize()
	// CopyTo streams the remaining bytes of the current packet to dst.
	CopyTo(dst Writeable) (n int, err error)
	// SetCallback installs cb, which is invoked once per newly available
	// packet via DataRcvd, and via DataUnlink if the Readable is destroyed
	// while a callback remains installed.
	SetCallback(cb StreamCallback)
}

// StreamCallback is notified of stream-level events by a Readable. Both
// methods may be called from interrupt context: they must do no more than
// set a flag or request a poll, never walk a plugin list or invoke a
// Dispatch directly.
type StreamCallback interface {
	DataRcvd(src Readable)
	DataUnlink(src Readable)
}

