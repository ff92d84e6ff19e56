package route

import (
	"time"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/arp"
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
)

// ArpQuerier is the ARP surface Address needs to resolve and re-resolve a
// gateway's MAC address. It is satisfied by *arp.Protocol.
type ArpQuerier interface {
	Query(target satcat5.IpAddr)
}

// IPWriter is the IPv4 egress surface Address needs to originate a
// datagram to an explicitly resolved destination. It is satisfied by
// *ipv4.Dispatch.
type IPWriter interface {
	OpenWrite(buf []byte, dstIP satcat5.IpAddr, dstMAC [6]byte, vtag ethernet.VLANTag, protocol satcat5.IPProto) (hdrLen int, ok bool)
	Finalize(buf []byte, hdrLen, payloadLen int) int
	Reserve(n int) ([]byte, bool)
	Send(buf []byte, n int) error
}

// Clock abstracts the time source Address reads to throttle repeat ARP
// queries, so tests can drive it without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// ARPRetryDefault is the minimum interval between repeat ARP queries for
// an Address that is not yet ready.
const ARPRetryDefault = 100 * time.Millisecond

// Address abstracts "how to send to peer X": it caches the next hop's MAC
// for one destination IP, learned through the shared routing Table and
// kept current by ARP traffic, so a protocol above it can call OpenWrite
// without knowing whether the peer is on-link or has to be routed.
type Address struct {
	table    *Table
	arp      ArpQuerier
	ip       IPWriter
	protocol satcat5.IPProto
	clock    Clock
	retry    time.Duration

	dstIP   satcat5.IpAddr
	gateway satcat5.IpAddr
	gwMAC   satcat5.MacAddr
	vtag    ethernet.VLANTag

	ready       bool
	lastQuery   time.Time
	haveQueried bool
}

// NewAddress returns an Address bound to one IP Dispatch (via ip) and
// protocol byte, resolving next hops through table and issuing ARP
// queries through arp.
func NewAddress(table *Table, arp ArpQuerier, ip IPWriter, protocol satcat5.IPProto, clock Clock) *Address {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Address{table: table, arp: arp, ip: ip, protocol: protocol, clock: clock, retry: ARPRetryDefault}
}

// Connect targets dst, tagged with vtag on egress. It consults the
// routing table for the next hop and caches whatever MAC is already
// known; if the destination is multicast or the MAC is already known,
// Address is immediately ready. Otherwise it issues one ARP query right
// away.
func (a *Address) Connect(dst satcat5.IpAddr, vtag ethernet.VLANTag) {
	a.dstIP = dst
	a.vtag = vtag
	a.gwMAC = satcat5.MacNone
	a.ready = false
	a.haveQueried = false

	if dst.IsMulticast() {
		a.gateway = dst
		a.ready = true
		return
	}

	entry, _ := a.table.RouteLookup(dst)
	a.gateway = entry.NextHop
	if entry.GatewayMAC.IsNone() {
		a.queryNow()
		return
	}
	a.gwMAC = entry.GatewayMAC
	a.ready = true
}

// Ready reports whether a destination MAC is currently known.
func (a *Address) Ready() bool { return a.ready }

// OpenWrite reserves and addresses a frame to the connected destination,
// returning the offset to write payload at. If the peer is not yet
// resolved, it re-emits an ARP query at most once per ARPRetryDefault and
// returns ok=false.
func (a *Address) OpenWrite(length int) (buf []byte, hdrLen int, ok bool) {
	if !a.ready {
		a.maybeRetry()
		return nil, 0, false
	}
	dstMAC := a.gwMAC
	if a.dstIP.IsMulticast() {
		dstMAC = multicastMAC(a.dstIP)
	}
	buf, ok = a.ip.Reserve(14 + 20 + length)
	if !ok {
		return nil, 0, false
	}
	hdrLen, ok = a.ip.OpenWrite(buf, a.dstIP, [6]byte(dstMAC), a.vtag, a.protocol)
	if !ok {
		return nil, 0, false
	}
	return buf, hdrLen, true
}

// Finalize completes a frame previously started with OpenWrite, writing
// payloadLen bytes starting at hdrLen, and transmits it.
func (a *Address) Finalize(buf []byte, hdrLen, payloadLen int) error {
	n := a.ip.Finalize(buf, hdrLen, payloadLen)
	return a.ip.Send(buf, n)
}

func (a *Address) maybeRetry() {
	now := a.clock.Now()
	if a.haveQueried && now.Sub(a.lastQuery) < a.retry {
		return
	}
	a.queryNow()
}

func (a *Address) queryNow() {
	if a.gateway.IsValid() {
		a.arp.Query(a.gateway)
	}
	a.lastQuery = a.clock.Now()
	a.haveQueried = true
}

// ArpEvent implements arp.ArpListener: a binding for the current gateway
// resolves this Address.
func (a *Address) ArpEvent(mac satcat5.MacAddr, ip satcat5.IpAddr) {
	if ip != a.gateway {
		return
	}
	a.gwMAC = mac
	a.ready = true
}

// GatewayChange implements route-table-driven re-homing: if dst matches
// this Address's destination and newGateway differs from the current
// gateway, the gateway is updated. If the routing table already knows
// newGateway's MAC it is adopted immediately; otherwise a fresh ARP query
// is issued and traffic keeps flowing via the old gateway/MAC until it
// resolves.
func (a *Address) GatewayChange(dst satcat5.IpAddr, newGateway satcat5.IpAddr) {
	if dst != a.dstIP || newGateway == a.gateway {
		return
	}
	a.gateway = newGateway
	entry, _ := a.table.RouteLookup(newGateway)
	if entry.NextHop != newGateway || entry.GatewayMAC.IsNone() {
		// Keep the old gwMAC/ready so traffic keeps flowing via the old
		// gateway until the new one resolves; ArpEvent adopts it later.
		a.queryNow()
		return
	}
	a.gwMAC = entry.GatewayMAC
	a.ready = true
}

// multicastMAC maps an IPv4 multicast address to its RFC 1112 Ethernet
// multicast address 01:00:5E:xx:xx:xx, the low 23 bits of ip copied into
// the low 23 bits of the MAC.
func multicastMAC(ip satcat5.IpAddr) satcat5.MacAddr {
	return satcat5.MacAddr{0x01, 0x00, 0x5e, byte(ip>>16) & 0x7f, byte(ip >> 8), byte(ip)}
}

var (
	_ arp.ArpListener = (*Address)(nil)
	_ arp.ArpListener = (*Table)(nil)
)
