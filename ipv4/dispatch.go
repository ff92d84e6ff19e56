package ipv4

import (
	"log/slog"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
	"github.com/the-aerospace-corporation/satcat5-sub003/internal"
	"github.com/the-aerospace-corporation/satcat5-sub003/proto"
)

const defaultTTL = 128

// FrameTx is the egress surface Dispatch needs to hand a finished
// Ethernet+IPv4 frame to the link, the same Reserve/Send shape every
// originating protocol in this module uses.
type FrameTx interface {
	Reserve(n int) (buf []byte, ok bool)
	Send(buf []byte, n int) error
}

// EthernetTx is the Ethernet-header step of originating a frame, either a
// reply to the most recently received packet or a fresh datagram to an
// explicit destination. It is satisfied by *ethernet.Dispatch.
type EthernetTx interface {
	OpenReply(buf []byte, et ethernet.Type, vtag ethernet.VLANTag) (hdrLen int, ok bool)
	OpenWrite(buf []byte, dst [6]byte, et ethernet.Type, vtag ethernet.VLANTag) (hdrLen int, ok bool)
}

// ProtocolUnreachableNotifier lets Dispatch report an IP protocol number
// with no registered handler back to its sender. It is satisfied by
// *icmp.Protocol; Dispatch only depends on this narrow interface so that
// icmp, which itself depends on ipv4 for the reverse direction, never has
// to be imported here.
type ProtocolUnreachableNotifier interface {
	SendProtocolUnreachable(ipHeader []byte, payload satcat5.Readable)
}

// Dispatch parses the IPv4 header of every Ethernet frame classified as
// EtherType 0x0800 and offers the remaining payload to whichever
// registered sub-protocol matches the header's Protocol byte. It also
// originates reply datagrams on behalf of those sub-protocols: a
// sub-protocol calls OpenReply/Finalize/Send instead of building its own
// Ethernet+IPv4 header.
type Dispatch struct {
	proto.Dispatch

	tx  FrameTx
	eth EthernetTx

	localIP satcat5.IpAddr
	ttl     uint8
	idSeed  uint16

	unreach ProtocolUnreachableNotifier
	log     *slog.Logger

	replySrc  satcat5.IpAddr
	haveReply bool
}

// NewDispatch returns a Dispatch that sends through tx, having eth fill in
// the Ethernet header of reply frames, claiming localIP as this host's
// address (satcat5.IpNone to accept any unicast destination until an
// address is configured, e.g. by DHCP).
func NewDispatch(tx FrameTx, eth EthernetTx, localIP satcat5.IpAddr, log *slog.Logger) *Dispatch {
	return &Dispatch{tx: tx, eth: eth, localIP: localIP, ttl: defaultTTL, idSeed: 0xace1, log: log}
}

// BoundType implements proto.Protocol: Dispatch itself registers with an
// ethernet.Dispatch as the handler for EtherType 0x0800.
func (d *Dispatch) BoundType() satcat5.Type { return satcat5.NewType16(uint16(ethernet.TypeIPv4)) }

// SetLocalAddr updates the address Dispatch accepts unicast traffic for.
func (d *Dispatch) SetLocalAddr(ip satcat5.IpAddr) { d.localIP = ip }

// SetProtocolUnreachableNotifier installs n, notified when a received
// datagram's protocol number has no registered handler.
func (d *Dispatch) SetProtocolUnreachableNotifier(n ProtocolUnreachableNotifier) { d.unreach = n }

// sourceAddrSetter is an optional interface a registered sub-protocol may
// implement to learn the source address of the datagram it is about to
// receive, set immediately before FrameRcvd.
type sourceAddrSetter interface {
	SetSourceAddr(ip satcat5.IpAddr)
}

// FrameRcvd implements proto.Protocol. It validates the header, drops
// fragments and datagrams not addressed to this host, and hands the
// payload to the matching sub-protocol. If no sub-protocol claims the
// datagram and it was sent to us specifically (not broadcast/multicast),
// it reports protocol-unreachable.
//
// Frame.ValidateSize/ValidateExceptCRC are not used here: they measure the
// header's TotalLength field against len(RawData()), which assumes the
// whole datagram including payload is already in one buffer. Dispatch
// only ever holds the header bytes it read off the stream, so it checks
// version, IHL and the running payload length inline instead.
func (d *Dispatch) FrameRcvd(src satcat5.Readable) {
	if src.GetReadReady() < 1 {
		return
	}
	var first [1]byte
	if !src.ReadBytes(first[:]) {
		return
	}
	version, ihl := first[0]>>4, first[0]&0xf
	if version != 4 || ihl < 5 {
		return
	}
	hdrLen := int(ihl) * 4
	if hdrLen > sizeHeaderMax || src.GetReadReady() < hdrLen-1 {
		return
	}
	var hdr [sizeHeaderMax]byte
	hdr[0] = first[0]
	if !src.ReadBytes(hdr[1:hdrLen]) {
		return
	}
	ifrm, err := NewFrame(hdr[:hdrLen])
	if err != nil {
		return
	}
	if ifrm.CalculateHeaderCRC() != ifrm.CRC() {
		if d.log != nil {
			d.log.Debug("ipv4: bad header checksum", "id", ifrm.ID())
		}
		return
	}
	flags := ifrm.Flags()
	if flags.MoreFragments() || flags.FragmentOffset() != 0 {
		if d.log != nil {
			d.log.Debug("ipv4: dropping fragment", "id", ifrm.ID())
		}
		return
	}
	payloadLen := int(ifrm.TotalLength()) - hdrLen
	if payloadLen < 0 || src.GetReadReady() < payloadLen {
		return
	}

	dst := satcat5.IpAddrFromBytes(ifrm.DestinationAddr()[:])
	if d.localIP != satcat5.IpNone && dst != d.localIP && !dst.IsMulticast() {
		return // not addressed to us; forwarding belongs to the router
	}

	srcIP := satcat5.IpAddrFromBytes(ifrm.SourceAddr()[:])
	d.replySrc, d.haveReply = srcIP, true

	protocolByte := ifrm.Protocol()
	if d.deliverWithSource(protocolByte, srcIP, hdr[:hdrLen], src) {
		return
	}
	if d.unreach != nil && dst.IsUnicast() {
		d.unreach.SendProtocolUnreachable(hdr[:hdrLen], src)
	}
}

// ipHeaderSetter is an optional interface a registered sub-protocol may
// implement to receive a copy of the IPv4 header of the datagram it is
// about to receive, set immediately before FrameRcvd. udp.Dispatch uses
// this to build the original-header portion of an ICMP port-unreachable.
type ipHeaderSetter interface {
	SetIPHeader(hdr []byte)
}

func (d *Dispatch) deliverWithSource(protocolByte satcat5.IPProto, srcIP satcat5.IpAddr, ipHeader []byte, src satcat5.Readable) bool {
	typ := satcat5.NewType8(uint8(protocolByte))
	for _, p := range d.Protocols() {
		if p.BoundType().Matches(typ) {
			if sa, ok := p.(sourceAddrSetter); ok {
				sa.SetSourceAddr(srcIP)
			}
			if ih, ok := p.(ipHeaderSetter); ok {
				ih.SetIPHeader(ipHeader)
			}
			p.FrameRcvd(src)
			return true
		}
	}
	return false
}

func (d *Dispatch) nextID() uint16 {
	d.idSeed = internal.Prand16(d.idSeed)
	return d.idSeed
}

func addr4(ip satcat5.IpAddr) [4]byte {
	var b [4]byte
	ip.PutBytes(b[:])
	return b
}

// OpenReply reserves and fills in the Ethernet and IPv4 headers of a
// datagram addressed back to the source of the most recently received
// packet, carrying protocol. It returns the offset the caller should start
// writing its own payload at.
func (d *Dispatch) OpenReply(buf []byte, protocol satcat5.IPProto) (hdrLen int, ok bool) {
	ethLen, ok := d.eth.OpenReply(buf, ethernet.TypeIPv4, 0)
	if !ok || len(buf) < ethLen+sizeHeader {
		return 0, false
	}
	ifrm, _ := NewFrame(buf[ethLen : ethLen+sizeHeader])
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetID(d.nextID())
	ifrm.SetTTL(d.ttl)
	ifrm.SetProtocol(protocol)
	*ifrm.SourceAddr() = addr4(d.localIP)
	if d.haveReply {
		*ifrm.DestinationAddr() = addr4(d.replySrc)
	}
	return ethLen + sizeHeader, true
}

// OpenWrite reserves and fills in the Ethernet and IPv4 headers of a
// datagram explicitly addressed to dstIP/dstMAC, carrying protocol. Unlike
// OpenReply, which answers the most recently received datagram, this
// originates a new datagram to an arbitrary peer, the way route.Address
// does once it has resolved a next hop.  It returns the offset the caller
// should start writing its own payload at.
func (d *Dispatch) OpenWrite(buf []byte, dstIP satcat5.IpAddr, dstMAC [6]byte, vtag ethernet.VLANTag, protocol satcat5.IPProto) (hdrLen int, ok bool) {
	ethLen, ok := d.eth.OpenWrite(buf, dstMAC, ethernet.TypeIPv4, vtag)
	if !ok || len(buf) < ethLen+sizeHeader {
		return 0, false
	}
	ifrm, _ := NewFrame(buf[ethLen : ethLen+sizeHeader])
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetID(d.nextID())
	ifrm.SetTTL(d.ttl)
	ifrm.SetProtocol(protocol)
	*ifrm.SourceAddr() = addr4(d.localIP)
	*ifrm.DestinationAddr() = addr4(dstIP)
	return ethLen + sizeHeader, true
}

// Finalize fills in TotalLength and the header checksum once the caller
// has written payloadLen bytes of payload starting at hdrLen (the offset
// OpenReply returned), and returns the total frame length to pass to
// Send.
func (d *Dispatch) Finalize(buf []byte, hdrLen, payloadLen int) int {
	ifrm, _ := NewFrame(buf[hdrLen-sizeHeader : hdrLen])
	ifrm.SetTotalLength(uint16(sizeHeader + payloadLen))
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return hdrLen + payloadLen
}

// Reserve obtains a buffer from the underlying link to build a reply
// frame into.
func (d *Dispatch) Reserve(n int) ([]byte, bool) { return d.tx.Reserve(n) }

// Send transmits buf[:n], previously obtained from Reserve.
func (d *Dispatch) Send(buf []byte, n int) error { return d.tx.Send(buf, n) }

const sizeHeaderMax = 60
