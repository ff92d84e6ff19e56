package icmp

import (
	"encoding/binary"
	"log/slog"
	"time"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ipv4"
)

const maxEchoData = 1472 // typical Ethernet MTU (1500) minus IPv4 (20) and ICMP (8) headers

// FrameTx is the egress surface Protocol needs to send a finished
// Ethernet+IPv4+ICMP frame, the same Reserve/Send shape every originating
// protocol in this module uses.
type FrameTx interface {
	Reserve(n int) (buf []byte, ok bool)
	Send(buf []byte, n int) error
}

// IPTx is the IPv4-header step of originating a reply, satisfied by
// *ipv4.Dispatch.
type IPTx interface {
	OpenReply(buf []byte, protocol satcat5.IPProto) (hdrLen int, ok bool)
	Finalize(buf []byte, hdrLen, payloadLen int) int
}

// PingListener is notified of every Echo Reply matching an outstanding
// request recorded via RecordEchoSent.
type PingListener interface {
	PingReply(src satcat5.IpAddr, elapsedMicros uint32)
}

// Protocol implements RFC 792 Echo Request/Reply and originates the
// standard ICMP error messages, bound to IP protocol 1.
type Protocol struct {
	tx  FrameTx
	ip  IPTx
	log *slog.Logger

	listeners   []PingListener
	outstanding map[uint32]time.Time

	lastSrcIP satcat5.IpAddr
}

// NewProtocol returns a Protocol that replies through tx/ip.
func NewProtocol(tx FrameTx, ip IPTx, log *slog.Logger) *Protocol {
	return &Protocol{tx: tx, ip: ip, log: log, outstanding: make(map[uint32]time.Time)}
}

// BoundType implements proto.Protocol.
func (p *Protocol) BoundType() satcat5.Type { return satcat5.NewType8(uint8(satcat5.IPProtoICMP)) }

// AddListener registers l to be notified of Echo Replies matching a
// request previously recorded with RecordEchoSent.
func (p *Protocol) AddListener(l PingListener) { p.listeners = append(p.listeners, l) }

// SetSourceAddr implements the ipv4.Dispatch sourceAddrSetter hook: it is
// called with the sender's IP address immediately before FrameRcvd.
func (p *Protocol) SetSourceAddr(ip satcat5.IpAddr) { p.lastSrcIP = ip }

// RecordEchoSent notes that an Echo Request carrying (id, seq) was just
// transmitted, so the round-trip time can be measured when the matching
// Echo Reply arrives. Whatever originates the request (a ping command, a
// router liveness check) calls this right after sending it.
func (p *Protocol) RecordEchoSent(id, seq uint16) {
	p.outstanding[pingKey(id, seq)] = time.Now()
}

func pingKey(id, seq uint16) uint32 { return uint32(id)<<16 | uint32(seq) }

// FrameRcvd implements proto.Protocol.
func (p *Protocol) FrameRcvd(src satcat5.Readable) {
	if src.GetReadReady() < 8 {
		return
	}
	var hdr [8]byte
	if !src.ReadBytes(hdr[:]) {
		return
	}
	frm, err := NewFrame(hdr[:])
	if err != nil {
		return
	}
	switch frm.Type() {
	case TypeEcho:
		p.replyEcho(hdr, src)
	case TypeEchoReply:
		p.handleEchoReply(hdr, src)
	default:
		src.ReadFinalize()
	}
}

func (p *Protocol) replyEcho(reqHdr [8]byte, src satcat5.Readable) {
	id := binary.BigEndian.Uint16(reqHdr[4:6])
	seq := binary.BigEndian.Uint16(reqHdr[6:8])

	dataLen := src.GetReadReady()
	if dataLen > maxEchoData {
		dataLen = maxEchoData
	}
	var data [maxEchoData]byte
	if dataLen > 0 && !src.ReadBytes(data[:dataLen]) {
		return
	}

	buf, ok := p.tx.Reserve(64 + 8 + dataLen)
	if !ok {
		return
	}
	hdrLen, ok := p.ip.OpenReply(buf, satcat5.IPProtoICMP)
	if !ok {
		return
	}

	frm, _ := NewFrame(buf[hdrLen : hdrLen+8+dataLen])
	echo := FrameEcho{frm}
	echo.SetType(TypeEchoReply)
	echo.SetCode(0)
	echo.SetIdentifier(id)
	echo.SetSequenceNumber(seq)
	copy(echo.Data(), data[:dataLen])
	echo.SetCRC(0)
	var crc satcat5.CRC791
	echo.CRCWrite(&crc)
	echo.SetCRC(crc.Sum16())

	total := p.ip.Finalize(buf, hdrLen, 8+dataLen)
	if err := p.tx.Send(buf, total); err != nil && p.log != nil {
		p.log.Error("icmp echo reply send failed", "err", err)
	}
}

func (p *Protocol) handleEchoReply(replyHdr [8]byte, src satcat5.Readable) {
	src.ReadFinalize()
	id := binary.BigEndian.Uint16(replyHdr[4:6])
	seq := binary.BigEndian.Uint16(replyHdr[6:8])

	key := pingKey(id, seq)
	sent, ok := p.outstanding[key]
	if !ok {
		return
	}
	delete(p.outstanding, key)
	elapsed := uint32(time.Since(sent).Microseconds())
	for _, l := range p.listeners {
		l.PingReply(p.lastSrcIP, elapsed)
	}
}

func isErrorType(t Type) bool {
	switch t {
	case TypeDestinationUnreachable, TypeSourceQuench, TypeRedirect, TypeTimeExceeded, TypeParameterProblem:
		return true
	default:
		return false
	}
}

// SendError sends a standard ICMP error datagram (8-byte ICMP header,
// arg, then the original IPv4 header and up to the first 8 bytes of its
// payload) back to the sender described by ipHeader. arg carries the
// gateway address for a type-5 Redirect and is zero for every other kind;
// code distinguishes the specific reason within kind (e.g.
// CodeProtoUnreachable under TypeDestinationUnreachable).
//
// No error is sent if the original datagram's source or destination was
// broadcast/multicast, or if the original datagram was itself an ICMP
// error (Destination Unreachable, Source Quench, Redirect, Time Exceeded
// or Parameter Problem).
func (p *Protocol) SendError(kind Type, code uint8, arg uint32, ipHeader []byte, payload satcat5.Readable) {
	origFrm, err := ipv4.NewFrame(ipHeader)
	if err != nil {
		return
	}
	srcIP := satcat5.IpAddrFromBytes(origFrm.SourceAddr()[:])
	dstIP := satcat5.IpAddrFromBytes(origFrm.DestinationAddr()[:])
	if !srcIP.IsUnicast() || !dstIP.IsUnicast() {
		return
	}

	n := payload.GetReadReady()
	if n > 8 {
		n = 8
	}
	var payBuf [8]byte
	if n > 0 && !payload.ReadBytes(payBuf[:n]) {
		return
	}
	payload.ReadFinalize()

	if origFrm.Protocol() == satcat5.IPProtoICMP && n > 0 && isErrorType(Type(payBuf[0])) {
		return
	}

	hdrLen := len(ipHeader)
	bodyLen := 8 + hdrLen + n
	buf, ok := p.tx.Reserve(64 + bodyLen)
	if !ok {
		return
	}
	off, ok := p.ip.OpenReply(buf, satcat5.IPProtoICMP)
	if !ok {
		return
	}

	errFrm, _ := NewFrame(buf[off : off+bodyLen])
	errFrm.SetType(kind)
	errFrm.SetCode(code)
	errFrm.SetCRC(0)
	binary.BigEndian.PutUint32(buf[off+4:off+8], arg)
	copy(buf[off+8:], ipHeader)
	copy(buf[off+8+hdrLen:], payBuf[:n])

	var crc satcat5.CRC791
	errFrm.CRCWrite(&crc)
	errFrm.SetCRC(crc.Sum16())

	total := p.ip.Finalize(buf, off, bodyLen)
	if err := p.tx.Send(buf, total); err != nil && p.log != nil {
		p.log.Error("icmp send_error failed", "err", err)
	}
}

// SendProtocolUnreachable implements ipv4.ProtocolUnreachableNotifier.
func (p *Protocol) SendProtocolUnreachable(ipHeader []byte, payload satcat5.Readable) {
	p.SendError(TypeDestinationUnreachable, uint8(CodeProtoUnreachable), 0, ipHeader, payload)
}
