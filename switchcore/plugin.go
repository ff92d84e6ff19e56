package switchcore

// PluginCore is registered once with a Switch at construction and called
// for every ingress packet, in registration order. A plugin may narrow
// pkt.DstMask, set pkt.DropCode (which stops the chain for that packet),
// modify pkt.Hdr/pkt.IP (setting pkt.Dirty), or set pkt.Priority. Plugins
// should treat each other's internal state as opaque and communicate only
// through the documented PluginPacket fields.
type PluginCore interface {
	Query(pkt *PluginPacket)
}

// PluginPort is attached to a single SwitchPort and called at egress only,
// once per delivered packet, after the ingress chain has finished. It may
// mutate pkt.Hdr but must not change pkt.DstMask; that decision already
// belongs to the ports the packet was fanned out to.
type PluginPort interface {
	Egress(pkt *PluginPacket)
}
