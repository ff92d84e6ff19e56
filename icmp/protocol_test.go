package icmp

import (
	"testing"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ipv4"
)

type fakeTx struct {
	buf  []byte
	n    int
	sent bool
}

func (tx *fakeTx) Reserve(n int) ([]byte, bool) {
	tx.buf = make([]byte, n)
	return tx.buf, true
}

func (tx *fakeTx) Send(buf []byte, n int) error {
	tx.n, tx.sent = n, true
	return nil
}

// fakeIPTx is a minimal stand-in for *ipv4.Dispatch: it reserves a fixed
// header offset and fills in just enough of an IPv4 header for tests to
// read fields back out of.
type fakeIPTx struct {
	hdrLen int
}

func (ip *fakeIPTx) OpenReply(buf []byte, protocol satcat5.IPProto) (int, bool) {
	if len(buf) < ip.hdrLen {
		return 0, false
	}
	frm, _ := ipv4.NewFrame(buf[ip.hdrLen-20 : ip.hdrLen])
	frm.SetVersionAndIHL(4, 5)
	frm.SetProtocol(protocol)
	return ip.hdrLen, true
}

func (ip *fakeIPTx) Finalize(buf []byte, hdrLen, payloadLen int) int {
	frm, _ := ipv4.NewFrame(buf[hdrLen-20 : hdrLen])
	frm.SetTotalLength(uint16(20 + payloadLen))
	return hdrLen + payloadLen
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

func buildEchoRequest(id, seq uint16, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	frm, _ := NewFrame(buf)
	echo := FrameEcho{frm}
	echo.SetType(TypeEcho)
	echo.SetCode(0)
	echo.SetIdentifier(id)
	echo.SetSequenceNumber(seq)
	copy(echo.Data(), data)
	var crc satcat5.CRC791
	echo.CRCWrite(&crc)
	echo.SetCRC(crc.Sum16())
	return buf
}

func TestFrameRcvdReplysToEchoRequestPreservingIDAndSeq(t *testing.T) {
	tx := &fakeTx{}
	ip := &fakeIPTx{hdrLen: 34}
	p := NewProtocol(tx, ip, nil)

	req := buildEchoRequest(0x1234, 7, []byte("payload"))
	p.FrameRcvd(&fakeReadable{buf: req})

	if !tx.sent {
		t.Fatal("echo request should produce an echo reply")
	}
	reply, err := NewFrame(tx.buf[34 : 34+8+len("payload")])
	if err != nil {
		t.Fatal(err)
	}
	echo := FrameEcho{reply}
	if echo.Type() != TypeEchoReply {
		t.Fatalf("type = %v, want EchoReply", echo.Type())
	}
	if echo.Identifier() != 0x1234 || echo.SequenceNumber() != 7 {
		t.Fatalf("id/seq = %d/%d, want 0x1234/7", echo.Identifier(), echo.SequenceNumber())
	}
	if string(echo.Data()) != "payload" {
		t.Fatalf("data = %q, want %q", echo.Data(), "payload")
	}
}

func TestFrameRcvdNotifiesListenerOnMatchingEchoReply(t *testing.T) {
	tx := &fakeTx{}
	ip := &fakeIPTx{hdrLen: 34}
	p := NewProtocol(tx, ip, nil)
	p.SetSourceAddr(satcat5.IpAddr(0xc0a80102))

	var gotSrc satcat5.IpAddr
	var gotElapsed uint32
	p.AddListener(pingListenerFunc(func(src satcat5.IpAddr, elapsed uint32) {
		gotSrc, gotElapsed = src, elapsed
	}))

	p.RecordEchoSent(42, 1)

	buf := make([]byte, 8)
	frm, _ := NewFrame(buf)
	echo := FrameEcho{frm}
	echo.SetType(TypeEchoReply)
	echo.SetIdentifier(42)
	echo.SetSequenceNumber(1)

	p.FrameRcvd(&fakeReadable{buf: buf})
	if gotSrc != satcat5.IpAddr(0xc0a80102) {
		t.Fatalf("listener src = %v, want 192.168.1.2", gotSrc)
	}
	_ = gotElapsed // measured against time.Now(); just confirm it fired
}

func TestFrameRcvdIgnoresUnmatchedEchoReply(t *testing.T) {
	tx := &fakeTx{}
	ip := &fakeIPTx{hdrLen: 34}
	p := NewProtocol(tx, ip, nil)
	fired := false
	p.AddListener(pingListenerFunc(func(src satcat5.IpAddr, elapsed uint32) { fired = true }))

	buf := make([]byte, 8)
	frm, _ := NewFrame(buf)
	echo := FrameEcho{frm}
	echo.SetType(TypeEchoReply)
	echo.SetIdentifier(99)
	echo.SetSequenceNumber(99)
	p.FrameRcvd(&fakeReadable{buf: buf})
	if fired {
		t.Fatal("reply with no matching outstanding request must not notify listeners")
	}
}

func buildIPv4Header(t *testing.T, srcIP, dstIP satcat5.IpAddr, protocol satcat5.IPProto) []byte {
	t.Helper()
	buf := make([]byte, 20)
	frm, err := ipv4.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	frm.SetVersionAndIHL(4, 5)
	frm.SetTotalLength(20 + 8)
	frm.SetTTL(64)
	frm.SetProtocol(protocol)
	copy(frm.SourceAddr()[:], ipBytes(srcIP))
	copy(frm.DestinationAddr()[:], ipBytes(dstIP))
	return buf
}

func ipBytes(ip satcat5.IpAddr) []byte {
	var b [4]byte
	ip.PutBytes(b[:])
	return b[:]
}

func TestSendErrorBuildsDestinationUnreachable(t *testing.T) {
	tx := &fakeTx{}
	ip := &fakeIPTx{hdrLen: 34}
	p := NewProtocol(tx, ip, nil)

	origHdr := buildIPv4Header(t, satcat5.IpAddr(0xc0a80102), satcat5.IpAddr(0xc0a80101), satcat5.IPProtoTCP)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	p.SendError(TypeDestinationUnreachable, uint8(CodeProtoUnreachable), 0, origHdr, &fakeReadable{buf: payload})

	if !tx.sent {
		t.Fatal("SendError should have transmitted a datagram")
	}
	body := tx.buf[34:tx.n]
	frm, err := NewFrame(body)
	if err != nil {
		t.Fatal(err)
	}
	if frm.Type() != TypeDestinationUnreachable {
		t.Fatalf("type = %v, want DestinationUnreachable", frm.Type())
	}
	if frm.Code() != uint8(CodeProtoUnreachable) {
		t.Fatalf("code = %d, want %d", frm.Code(), CodeProtoUnreachable)
	}
	if len(body) != 8+len(origHdr)+8 {
		t.Fatalf("body length = %d, want %d", len(body), 8+len(origHdr)+8)
	}
	if !equalBytes(body[8:8+len(origHdr)], origHdr) {
		t.Fatal("error body should embed the original IP header")
	}
	if !equalBytes(body[8+len(origHdr):], payload) {
		t.Fatal("error body should embed the first 8 bytes of the original payload")
	}
}

func TestSendErrorSuppressedForBroadcastSender(t *testing.T) {
	tx := &fakeTx{}
	ip := &fakeIPTx{hdrLen: 34}
	p := NewProtocol(tx, ip, nil)

	origHdr := buildIPv4Header(t, satcat5.IpBroadcastAddr, satcat5.IpAddr(0xc0a80101), satcat5.IPProtoUDP)
	p.SendError(TypeDestinationUnreachable, uint8(CodePortUnreachable), 0, origHdr, &fakeReadable{buf: []byte{1, 2}})
	if tx.sent {
		t.Fatal("must not send an error in response to a broadcast sender")
	}
}

func TestSendErrorSuppressedForICMPError(t *testing.T) {
	tx := &fakeTx{}
	ip := &fakeIPTx{hdrLen: 34}
	p := NewProtocol(tx, ip, nil)

	origHdr := buildIPv4Header(t, satcat5.IpAddr(0xc0a80102), satcat5.IpAddr(0xc0a80101), satcat5.IPProtoICMP)
	var errPayload [8]byte
	errPayload[0] = byte(TypeTimeExceeded)
	p.SendError(TypeDestinationUnreachable, uint8(CodeHostUnreachable), 0, origHdr, &fakeReadable{buf: errPayload[:]})
	if tx.sent {
		t.Fatal("must not send an error in response to another ICMP error")
	}
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type pingListenerFunc func(src satcat5.IpAddr, elapsedMicros uint32)

func (f pingListenerFunc) PingReply(src satcat5.IpAddr, elapsedMicros uint32) { f(src, elapsedMicros) }
