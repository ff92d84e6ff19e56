// Package switchcore implements the packet-forwarding core of an Ethernet
// switch: a fixed catalogue of SwitchPorts, a pktbuf.MultiBuffer arena
// holding in-flight packets, and a plugin chain that classifies each
// ingress packet's candidate egress ports before the core fans it out.
package switchcore

import (
	"encoding/binary"
	"log/slog"

	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
	"github.com/the-aerospace-corporation/satcat5-sub003/internal"
	"github.com/the-aerospace-corporation/satcat5-sub003/ipv4"
	"github.com/the-aerospace-corporation/satcat5-sub003/pktbuf"
)

// DropStats tallies why packets never reached delivery, broken out by
// DropCode so an operator can tell a VLAN misconfiguration from an ACL
// drop or parse error.
type DropStats struct {
	PktErr       uint64
	VLAN         uint64
	ACL          uint64
	CacheMiss    uint64
	RateLimit    uint64
	PortDown     uint64
	RouterPolicy uint64
	NoRoute      uint64
	TTLExpired   uint64
}

func (d *DropStats) count(code DropCode) {
	switch code {
	case DropPktErr:
		d.PktErr++
	case DropVLAN:
		d.VLAN++
	case DropACL:
		d.ACL++
	case DropCacheMiss:
		d.CacheMiss++
	case DropRateLimit:
		d.RateLimit++
	case DropPortDown:
		d.PortDown++
	case DropRouterPolicy:
		d.RouterPolicy++
	case DropNoRoute:
		d.NoRoute++
	case DropTTLExpired:
		d.TTLExpired++
	case DropDeferred:
		// Not a terminal drop; the router owns the packet via its own
		// Acquire and will either deliver or release it later.
	}
}

// Switch is the forwarding core. Ports are registered once at startup with
// AddPort; PluginCores are registered once with AddPlugin. FrameRcvd is
// called by each port's upstream reader (a SLIP decoder, a Mailmap MMIO
// ring) once a whole frame has arrived on that port.
type Switch struct {
	ports   [MaxPorts]*SwitchPort
	nports  int
	allMask PortMask

	plugins []PluginCore

	buf     *pktbuf.MultiBuffer
	log     *slog.Logger
	scratch []byte

	Drops DropStats
}

// New returns an empty Switch backed by a MultiBuffer of the given packet
// capacity and maximum frame size.
func New(bufCapacity, maxFrameLen int, log *slog.Logger) *Switch {
	return &Switch{
		buf: pktbuf.New(bufCapacity, maxFrameLen, log),
		log: log,
	}
}

// AddPort registers a new SwitchPort transmitting through tx and returns
// it. Ports are added in a fixed order at startup; at most MaxPorts may be
// registered.
func (s *Switch) AddPort(tx PortWriter, cfg VLANConfig) *SwitchPort {
	if s.nports >= MaxPorts {
		panic("switchcore: too many ports")
	}
	p := &SwitchPort{index: s.nports, mask: maskOf(s.nports), link: true, cfg: cfg, tx: tx}
	s.ports[s.nports] = p
	s.nports++
	s.allMask |= p.mask
	return p
}

// Port returns the SwitchPort at index, or nil if none was registered
// there.
func (s *Switch) Port(index int) *SwitchPort {
	if index < 0 || index >= s.nports {
		return nil
	}
	return s.ports[index]
}

// NumPorts returns the number of registered ports.
func (s *Switch) NumPorts() int { return s.nports }

// AddPlugin registers a PluginCore, called for every ingress packet in
// registration order.
func (s *Switch) AddPlugin(pl PluginCore) { s.plugins = append(s.plugins, pl) }

// linkUpMask returns the bitmask of ports currently enabled for traffic.
func (s *Switch) linkUpMask() PortMask {
	var m PortMask
	for i := 0; i < s.nports; i++ {
		if s.ports[i].link {
			m |= s.ports[i].mask
		}
	}
	return m
}

// OpenWrite reserves a descriptor for an ingress frame arriving on
// srcPort. The caller (the port's upstream reader) writes the raw frame
// bytes through the returned Writer, calls WriteFinalize, and once that
// succeeds calls FrameRcvd itself with the Writer's index.
func (s *Switch) OpenWrite(srcPort int) (*pktbuf.Writer, bool) {
	w, ok := s.buf.OpenWrite()
	if !ok {
		if srcPort >= 0 && srcPort < s.nports {
			s.ports[srcPort].Stats.ErrOverflowRx++
		}
		return nil, false
	}
	return w, true
}

// FrameRcvd runs the full ingress pipeline for the packet committed at idx,
// which arrived on srcPort: parse headers, build the initial PluginPacket,
// walk the plugin chain, and either drop or deliver.
func (s *Switch) FrameRcvd(srcPort, idx int) {
	sp := s.ports[srcPort]
	raw := s.buf.Bytes(idx)
	sp.Stats.RxFrames++
	sp.Stats.RxBytes += uint64(len(raw))

	pkt := &PluginPacket{
		Idx:         idx,
		Length:      len(raw),
		SrcPort:     srcPort,
		SrcMask:     sp.mask,
		SrcPortVLAN: sp.cfg,
	}

	hdr, err := ethernet.NewFrame(raw)
	if err != nil {
		pkt.Drop(DropPktErr)
		s.finishDrop(pkt, sp)
		return
	}
	pkt.Hdr = hdr

	et := hdr.EtherTypeOrSize()
	if hdr.IsVLAN() {
		_, et = hdr.VLAN()
	}

	if internal.LogEnabled(s.log, internal.LevelTrace) {
		internal.LogAttrs(s.log, internal.LevelTrace, "switchcore: frame received",
			internal.SlogAddr6("src", hdr.SourceHardwareAddr()),
			internal.SlogAddr6("dst", hdr.DestinationHardwareAddr()),
			slog.String("ethertype", et.String()),
			slog.Int("port", srcPort), slog.Int("len", len(raw)))
	}
	if et == ethernet.TypeIPv4 {
		ifrm, err := ipv4.NewFrame(hdr.Payload())
		if err != nil {
			pkt.Drop(DropPktErr)
			s.finishDrop(pkt, sp)
			return
		}
		pkt.IP, pkt.HasIP = ifrm, true
	}

	pkt.DstMask = s.allMask &^ pkt.SrcMask & s.linkUpMask()

	for _, pl := range s.plugins {
		pl.Query(pkt)
		if pkt.DropCode != DropNone {
			break
		}
	}

	if pkt.DropCode != DropNone {
		s.finishDrop(pkt, sp)
		return
	}
	s.Deliver(pkt)
}

// Acquire increments the underlying packet's reference count. A plugin
// that needs to retain a packet past the ingress pipeline's own pending
// reference (deferred forwarding, a hardware-offload queue) acquires one
// here before narrowing DstMask to 0, then releases it itself once done.
func (s *Switch) Acquire(idx int) { s.buf.Acquire(idx) }

// Release decrements the underlying packet's reference count, returning
// the descriptor to the free pool once it reaches zero.
func (s *Switch) Release(idx int) { s.buf.Release(idx) }

// Bytes returns the committed bytes of the packet at idx. The caller must
// not retain the slice past its matching Release.
func (s *Switch) Bytes(idx int) []byte { return s.buf.Bytes(idx) }

func (s *Switch) finishDrop(pkt *PluginPacket, sp *SwitchPort) {
	if pkt.DropCode == DropPktErr {
		sp.Stats.ErrPkt++
	}
	s.Drops.count(pkt.DropCode)
	s.buf.Release(pkt.Idx)
}

// Deliver acquires one reference per bit set in pkt.DstMask and queues the
// packet for each corresponding port's egress path, then releases the
// caller's own reference. It is called once automatically at the end of
// the ingress pipeline, and again directly by the router when a deferred
// packet's next hop finally resolves and it redelivers a PluginPacket
// built earlier without re-running the plugin chain.
func (s *Switch) Deliver(pkt *PluginPacket) {
	for i := 0; i < s.nports; i++ {
		p := s.ports[i]
		if pkt.DstMask&p.mask == 0 || !p.link {
			continue
		}
		s.buf.Acquire(pkt.Idx)
		s.egress(p, pkt)
	}
	s.buf.Release(pkt.Idx) // drop the pending reference from commit
}

// rewriteVLAN builds a new frame from hdr's addresses and payload with the
// VLAN tag either present (tagged=true, carrying tag) or absent, using the
// real inner EtherType regardless of the source frame's own tag state.
// Adding or removing a tag changes the frame's length, so unlike every
// other egress rewrite this cannot be done in place; the result is built
// into the Switch's scratch buffer, reused across egress calls since they
// run strictly sequentially within one cooperative event loop.
func (s *Switch) rewriteVLAN(hdr ethernet.Frame, tagged bool, tag ethernet.VLANTag) []byte {
	_, innerType := frameInnerType(hdr)
	payload := hdr.Payload()

	need := 14 + len(payload)
	if tagged {
		need += 4
	}
	if cap(s.scratch) < need {
		s.scratch = make([]byte, need)
	} else {
		s.scratch = s.scratch[:need]
	}
	out := s.scratch
	copy(out[0:6], hdr.DestinationHardwareAddr()[:])
	copy(out[6:12], hdr.SourceHardwareAddr()[:])
	if tagged {
		out[12], out[13] = byte(ethernet.TypeVLAN>>8), byte(ethernet.TypeVLAN&0xff)
		binary.BigEndian.PutUint16(out[14:16], uint16(tag))
		binary.BigEndian.PutUint16(out[16:18], uint16(innerType))
		copy(out[18:], payload)
	} else {
		binary.BigEndian.PutUint16(out[12:14], uint16(innerType))
		copy(out[14:], payload)
	}
	return out
}

// frameInnerType returns hdr's real payload EtherType and its current
// VLAN tag (zero if untagged), looking past any existing tag.
func frameInnerType(hdr ethernet.Frame) (ethernet.VLANTag, ethernet.Type) {
	if hdr.IsVLAN() {
		return hdr.VLAN()
	}
	return 0, hdr.EtherTypeOrSize()
}

// egress runs port p's PluginPort chain over a per-port copy of the
// PluginPacket, then writes the (possibly rewritten) frame out through the
// port's PortWriter, releasing p's acquired reference when done.
func (s *Switch) egress(p *SwitchPort, pkt *PluginPacket) {
	local := *pkt
	for _, pl := range p.plugins {
		pl.Egress(&local)
	}

	raw := s.buf.Bytes(local.Idx)
	var out []byte
	switch {
	case local.VLANOverrideSet:
		out = s.rewriteVLAN(local.Hdr, local.VLANTagged, local.VLANOverride)
	case local.Dirty:
		out = local.Hdr.RawData()
	default:
		out = raw
	}

	buf, ok := p.tx.Reserve(len(out))
	if !ok {
		p.Stats.ErrOverflowTx++
		s.buf.Release(local.Idx)
		return
	}
	copy(buf, out)
	if err := p.tx.Send(buf, len(out)); err != nil {
		p.Stats.ErrMAC++
	} else {
		p.Stats.TxFrames++
		p.Stats.TxBytes += uint64(len(out))
	}
	s.buf.Release(local.Idx)
}
