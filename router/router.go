// Package router implements the IPv4 forwarding decision the switch core
// delegates to once its plugin chain has run: deliver locally, answer
// ARP, drop by policy, or forward, with deferred forwarding for next
// hops whose MAC address isn't resolved yet.
package router

import (
	"log/slog"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
	"github.com/the-aerospace-corporation/satcat5-sub003/icmp"
	"github.com/the-aerospace-corporation/satcat5-sub003/route"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

// Policy is a bitmask of router-wide forwarding rules.
type Policy uint8

const (
	// PolicyLocalBroadcast delivers IPv4 multicast/broadcast datagrams
	// to the local stack (the CPU port) instead of dropping or
	// forwarding them.
	PolicyLocalBroadcast Policy = 1 << iota
	// PolicyBlockNonIP drops every non-IPv4 EtherType outright (RULE_
	// NOIP_ALL), except ARP, which the router always answers or passes.
	PolicyBlockNonIP
	// PolicyBlockMulticast drops IPv4 multicast datagrams not otherwise
	// claimed by PolicyLocalBroadcast.
	PolicyBlockMulticast
	// PolicyBlockBroadcast drops IPv4 broadcast datagrams not otherwise
	// claimed by PolicyLocalBroadcast.
	PolicyBlockBroadcast
	// PolicyBlockBadDMAC drops unicast frames whose destination MAC is
	// neither ours nor broadcast (RULE_BAD_DMAC).
	PolicyBlockBadDMAC
)

// ArpQuerier is the ARP surface the router needs to resolve a next hop
// and to answer requests for its own address. Satisfied by *arp.Protocol.
type ArpQuerier interface {
	Query(target satcat5.IpAddr)
}

// Router is a switchcore.PluginCore that replaces ordinary L2 delivery
// with IPv4 forwarding once ingress plugins (VLAN, MAC learning) have
// narrowed pkt.DstMask. It is registered last in the plugin chain so its
// decision is the one that sticks.
type Router struct {
	sw    *switchcore.Switch
	table *route.Table
	arp   ArpQuerier
	log   *slog.Logger

	ourMAC satcat5.MacAddr
	ourIP  satcat5.IpAddr

	policy      Policy
	cpuPortMask switchcore.PortMask
	offload     Bridge

	deferred *deferPool
}

// Config collects Router's construction-time parameters.
type Config struct {
	OurMAC      satcat5.MacAddr
	OurIP       satcat5.IpAddr
	Policy      Policy
	CPUPortMask switchcore.PortMask
	// Offload, when non-nil, is the hardware-offload bridge attached to
	// this router. Forwarding decisions that land on one of its ports
	// are handed to it instead of the switch's own software egress path.
	Offload Bridge
	// DeferCapacity bounds the number of datagrams awaiting next-hop ARP
	// resolution at once; additional datagrams needing deferral are
	// dropped rather than queued.
	DeferCapacity int
	RetryMsec     int
	RetryMax      int
}

// New returns a Router bound to sw/table/arp.
func New(sw *switchcore.Switch, table *route.Table, arp ArpQuerier, cfg Config, log *slog.Logger) *Router {
	if cfg.DeferCapacity <= 0 {
		cfg.DeferCapacity = 64
	}
	if cfg.RetryMsec <= 0 {
		cfg.RetryMsec = RetryMsecDefault
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = RetryMaxDefault
	}
	r := &Router{
		sw: sw, table: table, arp: arp, log: log,
		ourMAC: cfg.OurMAC, ourIP: cfg.OurIP,
		policy: cfg.Policy, cpuPortMask: cfg.CPUPortMask,
		offload: cfg.Offload,
	}
	r.deferred = newDeferPool(cfg.DeferCapacity, cfg.RetryMsec, cfg.RetryMax, r)
	return r
}

// ArpEvent implements arp.ArpListener, delivering any deferred datagrams
// whose next hop just resolved. The routing table itself is registered
// separately as an ArpListener to learn the binding into its MAC cache;
// Router only needs to know when ITS pending deferrals can proceed.
func (r *Router) ArpEvent(mac satcat5.MacAddr, ip satcat5.IpAddr) {
	r.deferred.resolve(mac, ip)
}

// Tick advances the deferred-forwarding retry timers by elapsed, meant to
// be called from a short periodic task (the daemon runs this at 3ms).
func (r *Router) Tick(elapsedMsec int) {
	r.deferred.tick(elapsedMsec)
}

// PendingDeferrals reports how many datagrams are currently waiting on an
// ARP reply for their next hop, for telemetry only.
func (r *Router) PendingDeferrals() int {
	n := 0
	for _, s := range r.deferred.slots {
		if s.inUse {
			n++
		}
	}
	return n
}

// Query implements switchcore.PluginCore.
func (r *Router) Query(pkt *switchcore.PluginPacket) {
	if !pkt.HasIP {
		r.queryNonIP(pkt)
		return
	}
	r.queryIPv4(pkt)
}

func (r *Router) queryNonIP(pkt *switchcore.PluginPacket) {
	et := pkt.Hdr.EtherTypeOrSize()
	if pkt.Hdr.IsVLAN() {
		_, et = pkt.Hdr.VLAN()
	}
	if et == ethernet.TypeARP {
		pkt.DstMask = r.cpuPortMask
		return
	}
	if r.policy&PolicyBlockNonIP != 0 {
		pkt.Drop(switchcore.DropRouterPolicy)
	}
}

func (r *Router) queryIPv4(pkt *switchcore.PluginPacket) {
	dstMAC := satcat5.MacAddr(*pkt.Hdr.DestinationHardwareAddr())
	if r.policy&PolicyBlockBadDMAC != 0 && dstMAC != r.ourMAC && !dstMAC.IsBroadcast() {
		pkt.Drop(switchcore.DropRouterPolicy)
		return
	}

	dstIP := satcat5.IpAddrFromBytes(pkt.IP.DestinationAddr()[:])
	broadcast := dstIP.IsBroadcast()
	multicast := dstIP.IsMulticast() && !broadcast

	if dstIP == r.ourIP || ((broadcast || multicast) && r.policy&PolicyLocalBroadcast != 0) {
		pkt.DstMask = r.cpuPortMask
		return
	}
	if broadcast && r.policy&PolicyBlockBroadcast != 0 {
		pkt.Drop(switchcore.DropRouterPolicy)
		return
	}
	if multicast && r.policy&PolicyBlockMulticast != 0 {
		pkt.Drop(switchcore.DropRouterPolicy)
		return
	}

	r.forward(pkt)
}

func (r *Router) forward(pkt *switchcore.PluginPacket) {
	ttl := pkt.IP.TTL()
	if ttl <= 1 {
		r.sendErrorTo(pkt, icmp.TypeTimeExceeded, uint8(icmp.CodeExceededInTransit))
		pkt.Drop(switchcore.DropTTLExpired)
		return
	}
	newTTL := ttl - 1
	oldWord := uint16(ttl)<<8 | uint16(pkt.IP.Protocol())
	newWord := uint16(newTTL)<<8 | uint16(pkt.IP.Protocol())
	pkt.IP.SetTTL(newTTL)
	pkt.IP.SetCRC(satcat5.ChecksumIncr16(pkt.IP.CRC(), oldWord, newWord))
	pkt.Dirty = true

	dstIP := satcat5.IpAddrFromBytes(pkt.IP.DestinationAddr()[:])
	entry, ok := r.table.RouteLookup(dstIP)
	if !ok {
		if r.log != nil {
			r.log.Debug("router: no route", "dst", dstIP.String())
		}
		r.sendErrorTo(pkt, icmp.TypeDestinationUnreachable, uint8(icmp.CodeNetUnreachable))
		pkt.Drop(switchcore.DropNoRoute)
		return
	}

	if entry.PortIndex != route.PortAny {
		pkt.DstMask = switchcore.PortMask(1) << entry.PortIndex
	}

	if entry.GatewayMAC.IsNone() {
		r.deferForward(pkt, entry)
		return
	}
	r.rewriteEthernet(pkt, entry.GatewayMAC)
	r.deliverOffload(pkt)
}

// deliverOffload carves the hardware-backed ports out of pkt.DstMask and
// hands their already-rewritten frame to the attached Bridge, leaving only
// software-backed ports for the switch's own egress fan-out. A no-op when
// no Bridge is attached or the chosen egress has no hardware-backed ports.
func (r *Router) deliverOffload(pkt *switchcore.PluginPacket) {
	if r.offload == nil {
		return
	}
	hw := pkt.DstMask & r.offload.PortMask()
	if hw == 0 {
		return
	}
	r.offload.Deliver(hw, pkt.Hdr.RawData())
	pkt.DstMask &^= hw
}

// rewriteEthernet sets the outgoing frame's source/destination MAC to our
// own address and the resolved next hop, marking the packet dirty so
// egress re-serializes the header.
func (r *Router) rewriteEthernet(pkt *switchcore.PluginPacket, gatewayMAC satcat5.MacAddr) {
	*pkt.Hdr.DestinationHardwareAddr() = gatewayMAC
	*pkt.Hdr.SourceHardwareAddr() = r.ourMAC
	pkt.Dirty = true
}

func (r *Router) deferForward(pkt *switchcore.PluginPacket, entry route.Entry) {
	if !r.deferred.accept(pkt, entry.NextHop) {
		pkt.Drop(switchcore.DropRouterPolicy)
		return
	}
	r.sw.Acquire(pkt.Idx)
	r.arp.Query(entry.NextHop)
	pkt.Drop(switchcore.DropDeferred)
}

// sendErrorTo emits an ICMP error back to pkt's original source, out the
// same port it arrived on, using the frame's own (still-valid) header and
// IP view. Never called for multicast/broadcast or ICMP-error sources;
// sendICMPError itself also refuses non-unicast endpoints as a backstop.
func (r *Router) sendErrorTo(pkt *switchcore.PluginPacket, kind icmp.Type, code uint8) {
	if pkt.IP.Protocol() == satcat5.IPProtoICMP {
		payload := pkt.IP.Payload()
		if len(payload) > 0 && isICMPError(payload[0]) {
			return
		}
	}
	sp := r.sw.Port(pkt.SrcPort)
	if sp == nil {
		return
	}
	srcMAC := satcat5.MacAddr(*pkt.Hdr.SourceHardwareAddr())
	srcIP := satcat5.IpAddrFromBytes(pkt.IP.SourceAddr()[:])

	hdrLen := pkt.IP.HeaderLength()
	raw := pkt.IP.RawData()
	ipHeader := raw[:hdrLen]
	origPayload := raw[hdrLen:]
	if len(origPayload) > 8 {
		origPayload = origPayload[:8]
	}

	var vtag ethernet.VLANTag
	if pkt.Hdr.IsVLAN() {
		vtag, _ = pkt.Hdr.VLAN()
	}
	sendICMPError(sp.Writer(), r.ourMAC, srcMAC, r.ourIP, srcIP, vtag, kind, code, ipHeader, origPayload)
}

func isICMPError(t byte) bool {
	switch icmp.Type(t) {
	case icmp.TypeDestinationUnreachable, icmp.TypeSourceQuench, icmp.TypeRedirect, icmp.TypeTimeExceeded, icmp.TypeParameterProblem:
		return true
	default:
		return false
	}
}

var _ switchcore.PluginCore = (*Router)(nil)
