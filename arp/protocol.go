package arp

import (
	"log/slog"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
	"github.com/the-aerospace-corporation/satcat5-sub003/internal"
)

// ArpListener is notified of every sender (MAC, IP) binding observed on the
// wire, unicast requests and replies alike. The routing table implements
// this to learn MAC bindings for free as ARP traffic passes through.
type ArpListener interface {
	ArpEvent(mac satcat5.MacAddr, ip satcat5.IpAddr)
}

// FrameTx is the minimal egress surface Protocol needs: enough buffer to
// build one whole Ethernet+ARP frame, and a way to hand the finished bytes
// off to the link.
type FrameTx interface {
	// Reserve returns a buffer of at least n bytes to build a frame into,
	// or ok=false if none is currently available.
	Reserve(n int) (buf []byte, ok bool)
	// Send transmits buf[:n], previously obtained from Reserve.
	Send(buf []byte, n int) error
}

// ProxyRoute lets Protocol answer ARP requests on behalf of a routed
// subnet it otherwise wouldn't own, provided the gateway MAC is known.
type ProxyRoute struct {
	Subnet satcat5.IpSubnet
	MAC    satcat5.MacAddr
}

// Protocol implements the ARP request/reply/announce/probe state machine
// described in RFC 826 and RFC 5227, bound to Ethernet EtherType 0x0806.
type Protocol struct {
	tx     FrameTx
	ourMAC satcat5.MacAddr
	ourIP  satcat5.IpAddr

	listeners []ArpListener
	proxy     []ProxyRoute

	replyMAC satcat5.MacAddr
	log      *slog.Logger
}

// NewProtocol returns a Protocol bound to tx, speaking as ourMAC/ourIP.
func NewProtocol(tx FrameTx, ourMAC satcat5.MacAddr, ourIP satcat5.IpAddr, log *slog.Logger) *Protocol {
	return &Protocol{tx: tx, ourMAC: ourMAC, ourIP: ourIP, log: log}
}

// BoundType implements proto.Protocol.
func (p *Protocol) BoundType() satcat5.Type { return satcat5.NewType16(uint16(ethernet.TypeARP)) }

// AddListener registers l to be notified of every observed (MAC, IP)
// binding. Typically the routing table's ArpListener.
func (p *Protocol) AddListener(l ArpListener) { p.listeners = append(p.listeners, l) }

// AddProxyRoute makes Protocol answer ARP requests for addresses in subnet
// as if mac were local, so long as mac is already known (e.g. a routed
// next hop whose binding the routing table has already learned).
func (p *Protocol) AddProxyRoute(subnet satcat5.IpSubnet, mac satcat5.MacAddr) {
	p.proxy = append(p.proxy, ProxyRoute{Subnet: subnet, MAC: mac})
}

// SetLocalAddr updates the address Protocol answers ARP requests for.
func (p *Protocol) SetLocalAddr(ip satcat5.IpAddr) { p.ourIP = ip }

// FrameRcvd implements proto.Protocol. It parses the ARP body from src,
// fans sender bindings out to listeners, and replies to requests for our
// own or a proxied address.
func (p *Protocol) FrameRcvd(src satcat5.Readable) {
	n := src.GetReadReady()
	if n < sizeHeaderv4 || n > sizeHeaderv6 {
		return
	}
	var buf [sizeHeaderv6]byte
	if !src.ReadBytes(buf[:n]) {
		return
	}
	afrm, err := NewFrame(buf[:n])
	if err != nil {
		return
	}
	var v satcat5.Validator
	afrm.ValidateSize(&v)
	if v.HasError() {
		return
	}
	protoType, _ := afrm.Protocol()
	if protoType != ethernet.TypeIPv4 {
		return // only IPv4-over-Ethernet is supported
	}

	senderHW, senderPA := afrm.Sender4()
	senderMAC := satcat5.MacAddr(*senderHW)
	if senderMAC.IsNone() || senderMAC.IsBroadcast() {
		return
	}
	senderIP := satcat5.IpAddrFromBytes(senderPA[:])
	if internal.LogEnabled(p.log, internal.LevelTrace) {
		internal.LogAttrs(p.log, internal.LevelTrace, "arp: sender binding observed",
			internal.SlogAddr6("mac", senderHW), internal.SlogAddr4("ip", senderPA))
	}
	if senderIP.IsUnicast() {
		for _, l := range p.listeners {
			l.ArpEvent(senderMAC, senderIP)
		}
	}
	p.replyMAC = senderMAC

	if afrm.Operation() != OpRequest {
		return
	}
	_, targetPA := afrm.Target4()
	targetIP := satcat5.IpAddrFromBytes(targetPA[:])

	if targetIP == p.ourIP {
		p.reply(senderMAC, senderIP, p.ourIP, p.ourMAC)
		return
	}
	if mac, ok := p.proxyMAC(targetIP); ok {
		p.reply(senderMAC, senderIP, targetIP, mac)
	}
}

func (p *Protocol) proxyMAC(ip satcat5.IpAddr) (satcat5.MacAddr, bool) {
	for _, r := range p.proxy {
		if r.Subnet.Contains(ip) {
			return r.MAC, true
		}
	}
	return satcat5.MacAddr{}, false
}

func (p *Protocol) reply(dstMAC satcat5.MacAddr, dstIP satcat5.IpAddr, srcIP satcat5.IpAddr, srcMAC satcat5.MacAddr) {
	buf, ok := p.tx.Reserve(14 + sizeHeaderv4)
	if !ok {
		return
	}
	n := p.build(buf, dstMAC, OpReply, srcMAC, srcIP, dstMAC, dstIP)
	if err := p.tx.Send(buf, n); err != nil && p.log != nil {
		p.log.Error("arp reply send failed", "err", err)
	}
}

// Query broadcasts an ARP request asking who has target.
func (p *Protocol) Query(target satcat5.IpAddr) {
	buf, ok := p.tx.Reserve(14 + sizeHeaderv4)
	if !ok {
		return
	}
	n := p.build(buf, satcat5.MacBroadcast, OpRequest, p.ourMAC, p.ourIP, satcat5.MacAddr{}, target)
	if err := p.tx.Send(buf, n); err != nil && p.log != nil {
		p.log.Error("arp query send failed", "err", err)
	}
}

// Announce sends an RFC 5227 gratuitous ARP request announcing ourIP,
// with sender and target protocol address both set to ourIP and an
// all-zero target hardware address.
func (p *Protocol) Announce() {
	buf, ok := p.tx.Reserve(14 + sizeHeaderv4)
	if !ok {
		return
	}
	n := p.build(buf, satcat5.MacBroadcast, OpRequest, p.ourMAC, p.ourIP, satcat5.MacAddr{}, p.ourIP)
	if err := p.tx.Send(buf, n); err != nil && p.log != nil {
		p.log.Error("arp announce send failed", "err", err)
	}
}

// Probe sends an RFC 5227 ARP probe for target with sender protocol
// address zeroed, used during duplicate-address detection before ourIP is
// claimed.
func (p *Protocol) Probe(target satcat5.IpAddr) {
	buf, ok := p.tx.Reserve(14 + sizeHeaderv4)
	if !ok {
		return
	}
	n := p.build(buf, satcat5.MacBroadcast, OpRequest, p.ourMAC, satcat5.IpNone, satcat5.MacAddr{}, target)
	if err := p.tx.Send(buf, n); err != nil && p.log != nil {
		p.log.Error("arp probe send failed", "err", err)
	}
}

// build writes a full Ethernet+ARP(IPv4) frame into buf and returns its
// length.
func (p *Protocol) build(buf []byte, dstMAC satcat5.MacAddr, op Operation, senderMAC satcat5.MacAddr, senderIP satcat5.IpAddr, targetMAC satcat5.MacAddr, targetIP satcat5.IpAddr) int {
	copy(buf[0:6], dstMAC[:])
	copy(buf[6:12], p.ourMAC[:])
	buf[12], buf[13] = byte(ethernet.TypeARP>>8), byte(ethernet.TypeARP&0xff)

	afrm, _ := NewFrame(buf[14:])
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(op)
	shw, spa := afrm.Sender4()
	*shw = senderMAC
	senderIP.PutBytes(spa[:])
	thw, tpa := afrm.Target4()
	*thw = targetMAC
	targetIP.PutBytes(tpa[:])
	return 14 + sizeHeaderv4
}
