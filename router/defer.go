package router

import (
	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
	"github.com/the-aerospace-corporation/satcat5-sub003/icmp"
	"github.com/the-aerospace-corporation/satcat5-sub003/ipv4"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

// RetryMsecDefault is how long a deferred datagram waits for its first ARP
// reply before being re-queried.
const RetryMsecDefault = 10

// RetryMaxDefault bounds the number of ARP re-queries a deferred datagram
// gets before the router gives up and emits a host-unreachable error.
const RetryMaxDefault = 4

// deferSlot holds one datagram awaiting next-hop MAC resolution. The
// packet itself stays acquired in the switch's arena; only this small
// fixed record lives in the pool.
type deferSlot struct {
	inUse    bool
	idx      int
	dstMask  switchcore.PortMask
	srcPort  int
	nextHop  satcat5.IpAddr
	attempts int
	remainMs int
}

// deferPool holds datagrams forwarded to a next hop whose MAC address
// isn't resolved yet. It is sized at construction and never grows:
// additional deferrals beyond its capacity are refused, so a burst of
// unresolvable destinations can never grow an unbounded backlog.
type deferPool struct {
	slots    []deferSlot
	retryMs  int
	retryMax int
	r        *Router
}

func newDeferPool(capacity, retryMsec, retryMax int, r *Router) *deferPool {
	return &deferPool{
		slots:    make([]deferSlot, capacity),
		retryMs:  retryMsec,
		retryMax: retryMax,
		r:        r,
	}
}

// accept reserves a free slot for pkt awaiting nextHop's MAC. The caller
// must Acquire pkt's reference before calling accept succeeds; accept
// itself never touches the switch's reference count.
func (d *deferPool) accept(pkt *switchcore.PluginPacket, nextHop satcat5.IpAddr) bool {
	for i := range d.slots {
		if d.slots[i].inUse {
			continue
		}
		d.slots[i] = deferSlot{
			inUse:    true,
			idx:      pkt.Idx,
			dstMask:  pkt.DstMask,
			srcPort:  pkt.SrcPort,
			nextHop:  nextHop,
			attempts: 0,
			remainMs: d.retryMs,
		}
		return true
	}
	return false
}

// resolve redelivers every slot waiting on ip now that mac has answered.
func (d *deferPool) resolve(mac satcat5.MacAddr, ip satcat5.IpAddr) {
	for i := range d.slots {
		s := &d.slots[i]
		if !s.inUse || s.nextHop != ip {
			continue
		}
		d.deliver(s, mac)
		*s = deferSlot{}
	}
}

// deliver rebuilds a PluginPacket view over the still-acquired packet at
// s.idx, rewrites its Ethernet addressing to mac, and redelivers it
// through the switch's normal egress fan-out.
func (d *deferPool) deliver(s *deferSlot, mac satcat5.MacAddr) {
	raw := d.r.sw.Bytes(s.idx)
	hdr, err := ethernet.NewFrame(raw)
	if err != nil {
		d.r.sw.Release(s.idx)
		return
	}
	pkt := &switchcore.PluginPacket{
		Idx:     s.idx,
		Length:  len(raw),
		Hdr:     hdr,
		SrcPort: s.srcPort,
		DstMask: s.dstMask,
	}
	et := hdr.EtherTypeOrSize()
	if hdr.IsVLAN() {
		_, et = hdr.VLAN()
	}
	if et == ethernet.TypeIPv4 {
		if ifrm, err := ipv4.NewFrame(hdr.Payload()); err == nil {
			pkt.IP, pkt.HasIP = ifrm, true
		}
	}
	d.r.rewriteEthernet(pkt, mac)
	d.r.deliverOffload(pkt)
	d.r.sw.Deliver(pkt)
}

// tick advances every occupied slot's retry timer by elapsedMs, re-querying
// ARP with exponential backoff and giving up (emitting a host-unreachable
// error and releasing the packet) once retryMax attempts are exhausted.
func (d *deferPool) tick(elapsedMs int) {
	for i := range d.slots {
		s := &d.slots[i]
		if !s.inUse {
			continue
		}
		s.remainMs -= elapsedMs
		if s.remainMs > 0 {
			continue
		}
		s.attempts++
		if s.attempts > d.retryMax {
			d.giveUp(s)
			*s = deferSlot{}
			continue
		}
		d.r.arp.Query(s.nextHop)
		s.remainMs = d.retryMs << uint(s.attempts)
	}
}

// giveUp emits an ICMP host-unreachable error back to the datagram's
// original sender and releases the packet's router-held reference.
func (d *deferPool) giveUp(s *deferSlot) {
	raw := d.r.sw.Bytes(s.idx)
	hdr, err := ethernet.NewFrame(raw)
	if err == nil {
		et := hdr.EtherTypeOrSize()
		if hdr.IsVLAN() {
			_, et = hdr.VLAN()
		}
		if et == ethernet.TypeIPv4 {
			if ifrm, err := ipv4.NewFrame(hdr.Payload()); err == nil {
				pkt := &switchcore.PluginPacket{Idx: s.idx, Hdr: hdr, IP: ifrm, HasIP: true, SrcPort: s.srcPort}
				d.r.sendErrorTo(pkt, icmp.TypeDestinationUnreachable, uint8(icmp.CodeHostUnreachable))
			}
		}
	}
	d.r.sw.Release(s.idx)
}
