package router

import (
	"errors"
	"math"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

var errOverflow = errors.New("router: CPU port frame did not fit the switch's arena")

// byteReader is a one-shot satcat5.Readable over a plain byte slice, the
// same shape pktbuf.Reader presents but without an arena descriptor behind
// it: the CPU port hands the router's own local-stack Ethernet Dispatch a
// frame that already lives in a plain []byte (copied out of the switch's
// arena by CPUPort.Send), not a packet still owned by a MultiBuffer.
type byteReader struct {
	buf []byte
	off int
	cb  satcat5.StreamCallback
}

func newByteReader(buf []byte) *byteReader { return &byteReader{buf: buf} }

func (r *byteReader) GetReadReady() int { return len(r.buf) - r.off }

func (r *byteReader) ReadBytes(dst []byte) bool {
	if len(dst) > r.GetReadReady() {
		return false
	}
	copy(dst, r.buf[r.off:r.off+len(dst)])
	r.off += len(dst)
	return true
}

func (r *byteReader) ReadU8() uint8 {
	var b [1]byte
	r.ReadBytes(b[:])
	return b[0]
}
func (r *byteReader) ReadU16() uint16 {
	var b [2]byte
	r.ReadBytes(b[:])
	return uint16(b[0])<<8 | uint16(b[1])
}
func (r *byteReader) ReadU32() uint32 {
	var b [4]byte
	r.ReadBytes(b[:])
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func (r *byteReader) ReadU64() uint64 {
	var b [8]byte
	r.ReadBytes(b[:])
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
func (r *byteReader) ReadU16L() uint16 {
	var b [2]byte
	r.ReadBytes(b[:])
	return uint16(b[1])<<8 | uint16(b[0])
}
func (r *byteReader) ReadU32L() uint32 {
	var b [4]byte
	r.ReadBytes(b[:])
	return uint32(b[3])<<24 | uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
}
func (r *byteReader) ReadU64L() uint64 {
	var b [8]byte
	r.ReadBytes(b[:])
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
func (r *byteReader) ReadS8() int8     { return int8(r.ReadU8()) }
func (r *byteReader) ReadS16() int16   { return int16(r.ReadU16()) }
func (r *byteReader) ReadS32() int32   { return int32(r.ReadU32()) }
func (r *byteReader) ReadS64() int64   { return int64(r.ReadU64()) }
func (r *byteReader) ReadF32() float32 { return math.Float32frombits(r.ReadU32()) }
func (r *byteReader) ReadF64() float64 { return math.Float64frombits(r.ReadU64()) }

func (r *byteReader) CopyTo(dst satcat5.Writeable) (int, error) {
	rem := r.GetReadReady()
	if rem == 0 {
		return 0, nil
	}
	b := make([]byte, rem)
	r.ReadBytes(b)
	dst.WriteBytes(b)
	return rem, nil
}

func (r *byteReader) ReadFinalize() { r.off = len(r.buf) }

func (r *byteReader) SetCallback(cb satcat5.StreamCallback) {
	r.cb = cb
	if cb != nil {
		cb.DataRcvd(r)
	}
}

var _ satcat5.Readable = (*byteReader)(nil)

// CPUPort is the switchcore.PortWriter for the router's own virtual port:
// frames the switch fans out to it are handed to the router's local
// Ethernet Dispatch instead of going out over the wire, and frames the
// local IP stack originates (ARP replies/queries, ICMP errors and echo
// replies, UDP responses) come back in through the same Switch.OpenWrite
// path every other port uses, via CPUFrameTx.
type CPUPort struct {
	eth *ethernet.Dispatch
}

// NewCPUPort returns a CPUPort that delivers received frames to eth.
func NewCPUPort(eth *ethernet.Dispatch) *CPUPort { return &CPUPort{eth: eth} }

// Reserve implements switchcore.PortWriter.
func (c *CPUPort) Reserve(n int) ([]byte, bool) { return make([]byte, n), true }

// Send implements switchcore.PortWriter: it hands buf[:n] to the local
// Ethernet Dispatch as a freshly arrived frame.
func (c *CPUPort) Send(buf []byte, n int) error {
	c.eth.DataRcvd(newByteReader(buf[:n]))
	return nil
}

// CPUFrameTx is the egress surface the local IP stack (ipv4.Dispatch,
// arp.Protocol, icmp.Protocol, udp.Dispatch) sends through when it
// originates a frame destined for the switch fabric: Reserve/Send inject
// the bytes into the switch's own ingress pipeline on the CPU port's
// index, exactly as if they had arrived from the wire on that port.
type CPUFrameTx struct {
	sw        *switchcore.Switch
	portIndex int
}

// NewCPUFrameTx returns a CPUFrameTx that injects frames into sw as if
// received on the CPU port registered at portIndex.
func NewCPUFrameTx(sw *switchcore.Switch, portIndex int) *CPUFrameTx {
	return &CPUFrameTx{sw: sw, portIndex: portIndex}
}

// Reserve implements the FrameTx shape shared by ipv4/arp/icmp/udp. The
// frame is assembled into a plain scratch buffer; Send is what actually
// claims arena space and injects it.
func (c *CPUFrameTx) Reserve(n int) ([]byte, bool) { return make([]byte, n), true }

// Send implements the FrameTx shape shared by ipv4/arp/icmp/udp: it opens
// a fresh descriptor on the CPU port, commits buf[:n] into it, and runs
// it through the switch's ingress pipeline exactly as if it had arrived
// from the wire.
func (c *CPUFrameTx) Send(buf []byte, n int) error {
	w, ok := c.sw.OpenWrite(c.portIndex)
	if !ok {
		return errOverflow
	}
	w.WriteBytes(buf[:n])
	if !w.WriteFinalize() {
		return errOverflow
	}
	c.sw.FrameRcvd(c.portIndex, w.Index())
	return nil
}
