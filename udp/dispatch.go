package udp

import (
	"log/slog"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/icmp"
	"github.com/the-aerospace-corporation/satcat5-sub003/proto"
)

// portMin/portMax bound the ephemeral port range handed out by
// NextFreePort, the IANA dynamic/private range.
const (
	portMin = 0xc000
	portMax = 0xffff
)

// FrameTx is the egress surface Dispatch needs to send a finished
// Ethernet+IPv4+UDP frame, the same Reserve/Send shape every originating
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

// ICMPErrorSender lets Dispatch report a destination port with no bound
// socket, satisfied by *icmp.Protocol.
type ICMPErrorSender interface {
	SendError(kind icmp.Type, code uint8, arg uint32, ipHeader []byte, payload satcat5.Readable)
}

// Dispatch parses the UDP header of every IPv4 datagram classified as
// protocol 17 and offers the payload to the registered sub-protocol bound
// to the destination port, falling back to the (source port, destination
// port) pair for connected sockets. Unclaimed datagrams addressed to a
// single host elicit an ICMP port-unreachable.
type Dispatch struct {
	proto.Dispatch

	tx      FrameTx
	ip      IPTx
	icmpErr ICMPErrorSender
	log     *slog.Logger

	nextEphemeral uint16
	srcIP         satcat5.IpAddr
	ipHeader      []byte
}

// NewDispatch returns a Dispatch that sends through tx/ip and reports
// port-unreachable through icmpErr (may be nil to disable that).
func NewDispatch(tx FrameTx, ip IPTx, icmpErr ICMPErrorSender, log *slog.Logger) *Dispatch {
	return &Dispatch{tx: tx, ip: ip, icmpErr: icmpErr, log: log, nextEphemeral: portMin}
}

// BoundType implements proto.Protocol: Dispatch registers with an
// ipv4.Dispatch as the handler for protocol 17.
func (d *Dispatch) BoundType() satcat5.Type { return satcat5.NewType8(uint8(satcat5.IPProtoUDP)) }

// SetSourceAddr implements the ipv4.Dispatch sourceAddrSetter hook.
func (d *Dispatch) SetSourceAddr(ip satcat5.IpAddr) { d.srcIP = ip }

// SetIPHeader implements the ipv4.Dispatch ipHeaderSetter hook, giving
// Dispatch the original IPv4 header to embed in an ICMP port-unreachable.
func (d *Dispatch) SetIPHeader(hdr []byte) { d.ipHeader = append(d.ipHeader[:0], hdr...) }

// NextFreePort scans the ephemeral range [0xC000, 0xFFFF] for a port not
// already bound to a registered Protocol and returns it, wrapping around
// once. It returns 0 and logs if every ephemeral port is taken.
func (d *Dispatch) NextFreePort() uint16 {
	start := d.nextEphemeral
	for {
		port := d.nextEphemeral
		d.nextEphemeral++
		if d.nextEphemeral < portMin {
			d.nextEphemeral = portMin
		}
		if !d.portBound(port) {
			return port
		}
		if d.nextEphemeral == start {
			if d.log != nil {
				d.log.Error("udp: ephemeral ports full")
			}
			return 0
		}
	}
}

func (d *Dispatch) portBound(port uint16) bool {
	typ := satcat5.NewType16(port)
	for _, p := range d.Protocols() {
		if p.BoundType().Matches(typ) {
			return true
		}
	}
	return false
}

// FrameRcvd implements proto.Protocol. It validates the UDP length against
// what IPv4 handed it, then delivers to whichever registered Protocol is
// bound to the destination port alone, or to the (source, destination)
// port pair for a connected socket.
func (d *Dispatch) FrameRcvd(src satcat5.Readable) {
	n := src.GetReadReady()
	if n < sizeHeader {
		return
	}
	var hdr [sizeHeader]byte
	if !src.ReadBytes(hdr[:]) {
		return
	}
	ufrm, err := NewFrame(hdr[:])
	if err != nil {
		return
	}
	declaredLen := int(ufrm.Length())
	payloadLen := declaredLen - sizeHeader
	if payloadLen < 0 || payloadLen > src.GetReadReady() {
		if d.log != nil {
			d.log.Debug("udp: length mismatch", "declared", declaredLen, "available", src.GetReadReady()+sizeHeader)
		}
		return
	}

	srcPort, dstPort := ufrm.SourcePort(), ufrm.DestinationPort()
	if d.deliver(satcat5.NewType16(dstPort), src) {
		return
	}
	if d.deliver(satcat5.NewType16x2(srcPort, dstPort), src) {
		return
	}

	if d.icmpErr != nil && len(d.ipHeader) > 0 {
		d.icmpErr.SendError(icmp.TypeDestinationUnreachable, uint8(icmp.CodePortUnreachable), 0, d.ipHeader, portUnreachablePayload{hdr})
	}
}

func (d *Dispatch) deliver(typ satcat5.Type, src satcat5.Readable) bool {
	for _, p := range d.Protocols() {
		if p.BoundType().Matches(typ) {
			p.FrameRcvd(src)
			return true
		}
	}
	return false
}

// portUnreachablePayload adapts a fixed 8-byte UDP header (already read
// off the wire) to a satcat5.Readable so icmp.Protocol.SendError can pull
// its "first 8 bytes of payload" out of it without a copy into a new
// stream implementation.
type portUnreachablePayload struct {
	hdr [sizeHeader]byte
}

func (p portUnreachablePayload) GetReadReady() int { return sizeHeader }
func (p portUnreachablePayload) ReadBytes(dst []byte) bool {
	if len(dst) > sizeHeader {
		return false
	}
	copy(dst, p.hdr[:])
	return true
}
func (p portUnreachablePayload) ReadU8() uint8                             { return 0 }
func (p portUnreachablePayload) ReadU16() uint16                           { return 0 }
func (p portUnreachablePayload) ReadU32() uint32                          { return 0 }
func (p portUnreachablePayload) ReadU64() uint64                          { return 0 }
func (p portUnreachablePayload) ReadU16L() uint16                         { return 0 }
func (p portUnreachablePayload) ReadU32L() uint32                         { return 0 }
func (p portUnreachablePayload) ReadU64L() uint64                         { return 0 }
func (p portUnreachablePayload) ReadS8() int8                             { return 0 }
func (p portUnreachablePayload) ReadS16() int16                           { return 0 }
func (p portUnreachablePayload) ReadS32() int32                           { return 0 }
func (p portUnreachablePayload) ReadS64() int64                           { return 0 }
func (p portUnreachablePayload) ReadF32() float32                         { return 0 }
func (p portUnreachablePayload) ReadF64() float64                         { return 0 }
func (p portUnreachablePayload) ReadFinalize()                            {}
func (p portUnreachablePayload) CopyTo(dst satcat5.Writeable) (int, error) { return 0, nil }
func (p portUnreachablePayload) SetCallback(cb satcat5.StreamCallback)     {}

// OpenWrite fills in buf the Ethernet, IPv4 and UDP headers of a
// new datagram sent from srcPort to (dstPort) on the most recently
// replied-to IP destination, and returns the offset the caller should
// start writing payload at. Checksum is left at 0 (optional per RFC 768);
// callers that want one call Frame.CalculateIPv4Checksum before Send.
func (d *Dispatch) OpenWrite(buf []byte, srcPort, dstPort uint16) (hdrLen int, ok bool) {
	ipHdrLen, ok := d.ip.OpenReply(buf, satcat5.IPProtoUDP)
	if !ok || len(buf) < ipHdrLen+sizeHeader {
		return 0, false
	}
	ufrm, _ := NewFrame(buf[ipHdrLen : ipHdrLen+sizeHeader])
	ufrm.ClearHeader()
	ufrm.SetSourcePort(srcPort)
	ufrm.SetDestinationPort(dstPort)
	ufrm.SetCRC(0)
	return ipHdrLen + sizeHeader, true
}

// OpenReply is OpenWrite with the destination port taken from the most
// recently received datagram's source port.
func (d *Dispatch) OpenReply(buf []byte, srcPort, replyToPort uint16) (hdrLen int, ok bool) {
	return d.OpenWrite(buf, srcPort, replyToPort)
}

// Finalize fills in the UDP length field once payloadLen bytes of payload
// have been written starting at hdrLen (the offset OpenWrite/OpenReply
// returned), then asks the IPv4 layer to finalize its own header in turn,
// and returns the total frame length to pass to Send.
func (d *Dispatch) Finalize(buf []byte, hdrLen, payloadLen int) int {
	ufrm, _ := NewFrame(buf[hdrLen-sizeHeader : hdrLen+payloadLen])
	ufrm.SetLength(uint16(sizeHeader + payloadLen))
	ipHdrLen := hdrLen - sizeHeader
	return d.ip.Finalize(buf, ipHdrLen, sizeHeader+payloadLen)
}

// Reserve obtains a buffer from the underlying link to build a datagram
// into.
func (d *Dispatch) Reserve(n int) ([]byte, bool) { return d.tx.Reserve(n) }

// Send transmits buf[:n], previously obtained from Reserve.
func (d *Dispatch) Send(buf []byte, n int) error { return d.tx.Send(buf, n) }
