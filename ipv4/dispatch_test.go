package ipv4

import (
	"testing"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
)

type fakeFrameTx struct {
	buf  []byte
	n    int
	sent bool
}

func (tx *fakeFrameTx) Reserve(n int) ([]byte, bool) {
	tx.buf = make([]byte, n)
	return tx.buf, true
}

func (tx *fakeFrameTx) Send(buf []byte, n int) error {
	tx.n, tx.sent = n, true
	return nil
}

type fakeEthernetTx struct {
	hdrLen int
	ok     bool
}

func (e *fakeEthernetTx) OpenReply(buf []byte, et ethernet.Type, vtag ethernet.VLANTag) (int, bool) {
	if !e.ok {
		return 0, false
	}
	return e.hdrLen, true
}

func (e *fakeEthernetTx) OpenWrite(buf []byte, dst [6]byte, et ethernet.Type, vtag ethernet.VLANTag) (int, bool) {
	if !e.ok {
		return 0, false
	}
	return e.hdrLen, true
}

type fakeUnreach struct {
	called bool
	hdr    []byte
}

func (u *fakeUnreach) SendProtocolUnreachable(ipHeader []byte, payload satcat5.Readable) {
	u.called = true
	u.hdr = append([]byte(nil), ipHeader...)
	payload.ReadFinalize()
}

type fakeReadable struct {
	buf []byte
	off int
}

func (r *fakeReadable) GetReadReady() int { return len(r.buf) - r.off }
func (r *fakeReadable) ReadBytes(dst []byte) bool {
	if len(dst) > r.GetReadReady() {
		return false
	}
	copy(dst, r.buf[r.off:r.off+len(dst)])
	r.off += len(dst)
	return true
}
func (r *fakeReadable) ReadU8() uint8                             { return 0 }
func (r *fakeReadable) ReadU16() uint16                           { return 0 }
func (r *fakeReadable) ReadU32() uint32                           { return 0 }
func (r *fakeReadable) ReadU64() uint64                           { return 0 }
func (r *fakeReadable) ReadU16L() uint16                          { return 0 }
func (r *fakeReadable) ReadU32L() uint32                          { return 0 }
func (r *fakeReadable) ReadU64L() uint64                          { return 0 }
func (r *fakeReadable) ReadS8() int8                              { return 0 }
func (r *fakeReadable) ReadS16() int16                            { return 0 }
func (r *fakeReadable) ReadS32() int32                            { return 0 }
func (r *fakeReadable) ReadS64() int64                            { return 0 }
func (r *fakeReadable) ReadF32() float32                          { return 0 }
func (r *fakeReadable) ReadF64() float64                          { return 0 }
func (r *fakeReadable) ReadFinalize()                             {}
func (r *fakeReadable) CopyTo(dst satcat5.Writeable) (int, error) { return 0, nil }
func (r *fakeReadable) SetCallback(cb satcat5.StreamCallback)     {}

type recordingSubProto struct {
	typ     satcat5.Type
	gotCall bool
	srcIP   satcat5.IpAddr
}

func (p *recordingSubProto) BoundType() satcat5.Type             { return p.typ }
func (p *recordingSubProto) FrameRcvd(src satcat5.Readable)      { p.gotCall = true; src.ReadFinalize() }
func (p *recordingSubProto) SetSourceAddr(ip satcat5.IpAddr)     { p.srcIP = ip }

func buildIPv4Packet(t *testing.T, srcIP, dstIP satcat5.IpAddr, protocol satcat5.IPProto, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, sizeHeader+len(payload))
	frm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	frm.SetVersionAndIHL(4, 5)
	frm.SetTotalLength(uint16(len(buf)))
	frm.SetTTL(64)
	frm.SetProtocol(protocol)
	*frm.SourceAddr() = addr4(srcIP)
	*frm.DestinationAddr() = addr4(dstIP)
	copy(frm.Payload(), payload)
	frm.SetCRC(0)
	frm.SetCRC(frm.CalculateHeaderCRC())
	return buf
}

func TestFrameRcvdDeliversToMatchingSubProtocolWithSourceAddr(t *testing.T) {
	tx := &fakeFrameTx{}
	eth := &fakeEthernetTx{hdrLen: 14, ok: true}
	local := satcat5.IpAddr(0xc0a80101)
	d := NewDispatch(tx, eth, local, nil)

	sub := &recordingSubProto{typ: satcat5.NewType8(uint8(satcat5.IPProtoUDP))}
	d.Register(sub)

	srcIP := satcat5.IpAddr(0xc0a80102)
	pkt := buildIPv4Packet(t, srcIP, local, satcat5.IPProtoUDP, []byte("hello"))
	d.FrameRcvd(&fakeReadable{buf: pkt})

	if !sub.gotCall {
		t.Fatal("sub-protocol should have received the frame")
	}
	if sub.srcIP != srcIP {
		t.Fatalf("sub-protocol source addr = %v, want %v", sub.srcIP, srcIP)
	}
}

func TestFrameRcvdDropsFragments(t *testing.T) {
	tx := &fakeFrameTx{}
	eth := &fakeEthernetTx{hdrLen: 14, ok: true}
	local := satcat5.IpAddr(0xc0a80101)
	d := NewDispatch(tx, eth, local, nil)
	sub := &recordingSubProto{typ: satcat5.NewType8(uint8(satcat5.IPProtoUDP))}
	d.Register(sub)

	pkt := buildIPv4Packet(t, satcat5.IpAddr(0xc0a80102), local, satcat5.IPProtoUDP, []byte("x"))
	frm, _ := NewFrame(pkt)
	frm.SetFlags(Flags(0x2000)) // more-fragments flag set
	frm.SetCRC(0)
	frm.SetCRC(frm.CalculateHeaderCRC())

	d.FrameRcvd(&fakeReadable{buf: pkt})
	if sub.gotCall {
		t.Fatal("fragmented packet must not be delivered")
	}
}

func TestFrameRcvdDropsPacketNotAddressedToUs(t *testing.T) {
	tx := &fakeFrameTx{}
	eth := &fakeEthernetTx{hdrLen: 14, ok: true}
	d := NewDispatch(tx, eth, satcat5.IpAddr(0xc0a80101), nil)
	sub := &recordingSubProto{typ: satcat5.NewType8(uint8(satcat5.IPProtoUDP))}
	d.Register(sub)

	pkt := buildIPv4Packet(t, satcat5.IpAddr(0xc0a80102), satcat5.IpAddr(0xc0a80199), satcat5.IPProtoUDP, []byte("x"))
	d.FrameRcvd(&fakeReadable{buf: pkt})
	if sub.gotCall {
		t.Fatal("packet addressed to a different host must not be delivered")
	}
}

func TestFrameRcvdSendsProtocolUnreachable(t *testing.T) {
	tx := &fakeFrameTx{}
	eth := &fakeEthernetTx{hdrLen: 14, ok: true}
	local := satcat5.IpAddr(0xc0a80101)
	d := NewDispatch(tx, eth, local, nil)
	u := &fakeUnreach{}
	d.SetProtocolUnreachableNotifier(u)

	pkt := buildIPv4Packet(t, satcat5.IpAddr(0xc0a80102), local, satcat5.IPProtoTCP, []byte("x"))
	d.FrameRcvd(&fakeReadable{buf: pkt})
	if !u.called {
		t.Fatal("unhandled protocol addressed to us should report protocol-unreachable")
	}
}

func TestFrameRcvdRejectsBadChecksum(t *testing.T) {
	tx := &fakeFrameTx{}
	eth := &fakeEthernetTx{hdrLen: 14, ok: true}
	local := satcat5.IpAddr(0xc0a80101)
	d := NewDispatch(tx, eth, local, nil)
	sub := &recordingSubProto{typ: satcat5.NewType8(uint8(satcat5.IPProtoUDP))}
	d.Register(sub)

	pkt := buildIPv4Packet(t, satcat5.IpAddr(0xc0a80102), local, satcat5.IPProtoUDP, []byte("x"))
	pkt[10], pkt[11] = pkt[10]^0xff, pkt[11]^0xff // corrupt checksum
	d.FrameRcvd(&fakeReadable{buf: pkt})
	if sub.gotCall {
		t.Fatal("packet with bad header checksum must not be delivered")
	}
}

func TestOpenReplyAndFinalizeRoundTrip(t *testing.T) {
	tx := &fakeFrameTx{}
	eth := &fakeEthernetTx{hdrLen: 14, ok: true}
	local := satcat5.IpAddr(0xc0a80101)
	d := NewDispatch(tx, eth, local, nil)
	d.replySrc, d.haveReply = satcat5.IpAddr(0xc0a80102), true

	buf := make([]byte, 14+sizeHeader+4)
	hdrLen, ok := d.OpenReply(buf, satcat5.IPProtoUDP)
	if !ok {
		t.Fatal("OpenReply failed")
	}
	if hdrLen != 14+sizeHeader {
		t.Fatalf("hdrLen = %d, want %d", hdrLen, 14+sizeHeader)
	}
	copy(buf[hdrLen:], []byte{1, 2, 3, 4})
	total := d.Finalize(buf, hdrLen, 4)
	if total != hdrLen+4 {
		t.Fatalf("total = %d, want %d", total, hdrLen+4)
	}
	ifrm, _ := NewFrame(buf[14:hdrLen])
	if ifrm.CalculateHeaderCRC() != ifrm.CRC() {
		t.Fatal("finalized header checksum does not validate")
	}
	if int(ifrm.TotalLength()) != sizeHeader+4 {
		t.Fatalf("TotalLength = %d, want %d", ifrm.TotalLength(), sizeHeader+4)
	}
	if satcat5.IpAddrFromBytes(ifrm.DestinationAddr()[:]) != d.replySrc {
		t.Fatal("reply destination should be the last sender")
	}
}
