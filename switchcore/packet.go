package switchcore

import (
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
	"github.com/the-aerospace-corporation/satcat5-sub003/ipv4"
)

// DropCode names the reason a plugin (or ingress parsing itself) gave for
// discarding a packet. DropNone means the packet is still a candidate for
// delivery to every port set in PluginPacket.DstMask.
type DropCode uint8

const (
	DropNone DropCode = iota
	DropPktErr
	DropVLAN
	DropACL
	DropCacheMiss
	DropRateLimit
	DropPortDown
	// DropRouterPolicy is a router-policy drop: a non-IPv4 frame under
	// RULE_NOIP_ALL, a multicast/broadcast IPv4 datagram under the
	// matching rule bit, or a unicast frame whose destination MAC is
	// neither ours nor broadcast under RULE_BAD_DMAC.
	DropRouterPolicy
	// DropNoRoute marks a forwarded datagram with no matching routing
	// table entry and no default route; the router has already emitted
	// an ICMP network-unreachable error for it.
	DropNoRoute
	// DropTTLExpired marks a forwarded datagram whose TTL reached 0 or 1;
	// the router has already emitted an ICMP TTL-expired error for it.
	DropTTLExpired
	// DropDeferred marks a forwarded datagram handed off to the router's
	// deferred-forwarding queue because its next hop's MAC is not yet
	// known; it is not a terminal drop; see switchcore.Switch.Acquire.
	DropDeferred
)

func (c DropCode) String() string {
	switch c {
	case DropNone:
		return "none"
	case DropPktErr:
		return "pkt-err"
	case DropVLAN:
		return "vlan"
	case DropACL:
		return "acl"
	case DropCacheMiss:
		return "cache-miss"
	case DropRateLimit:
		return "rate-limit"
	case DropPortDown:
		return "port-down"
	case DropRouterPolicy:
		return "router-policy"
	case DropNoRoute:
		return "no-route"
	case DropTTLExpired:
		return "ttl-expired"
	case DropDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// PortMask is a bitmask of SwitchPort indices, one bit per port, so the set
// of candidate egress ports fits a single machine word for up to MaxPorts
// ports.
type PortMask uint32

// MaxPorts bounds the number of ports a single PortMask can address.
const MaxPorts = 32

func maskOf(portIndex int) PortMask { return 1 << uint(portIndex) }

// PluginPacket is the per-packet scratch record threaded through the
// plugin chain. It is valid only for the duration of one ingress call; a
// plugin must not retain a pointer to it past its query/egress call.
type PluginPacket struct {
	// Idx is the MultiBuffer descriptor index of the underlying packet.
	// Plugins needing the raw bytes read through the Switch's buffer
	// rather than storing their own copy.
	Idx int
	// Length is the committed byte length of the packet.
	Length int

	// Hdr is the parsed Ethernet header. Plugins that rewrite the VLAN
	// tag modify Hdr and set Dirty so egress knows to re-serialize it.
	Hdr ethernet.Frame
	// IP is the parsed IPv4 header, valid only if Hdr's EtherType is
	// ipv4.
	IP    ipv4.Frame
	HasIP bool

	SrcPort  int
	SrcMask  PortMask
	DstMask  PortMask
	Priority uint8
	DropCode DropCode
	Dirty    bool

	// VLANOverrideSet, when true, tells egress to emit exactly the tag
	// state described by VLANTagged/VLANOverride instead of copying the
	// ingress frame's tag verbatim. A VLAN egress plugin sets this on its
	// own per-port copy of the packet (see Switch.egress), since
	// different ports attached to the same fan-out may need different
	// tag presence or contents. Unlike other header edits, adding or
	// removing a tag changes the frame's length, which a plain in-place
	// byte rewrite of Hdr cannot express.
	VLANOverrideSet bool
	// VLANTagged reports whether the egress frame should carry a VLAN
	// tag at all; only meaningful when VLANOverrideSet is true.
	VLANTagged bool
	// VLANOverride is the tag to emit when VLANTagged is true.
	VLANOverride ethernet.VLANTag

	// SrcPortVLAN is a snapshot of the ingress port's VLAN configuration
	// taken at the start of the chain, so later plugins see a consistent
	// view even if the port's live config changes mid-packet.
	SrcPortVLAN VLANConfig
}

// Drop marks the packet to be released with the given reason. The first
// plugin to call Drop wins; later calls are no-ops.
func (p *PluginPacket) Drop(code DropCode) {
	if p.DropCode == DropNone {
		p.DropCode = code
	}
}

// Bytes returns the raw committed bytes of the underlying packet.
func (p *PluginPacket) Bytes(sw *Switch) []byte { return sw.buf.Bytes(p.Idx) }
