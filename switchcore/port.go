package switchcore

import "github.com/the-aerospace-corporation/satcat5-sub003/ethernet"

// VtagPolicy controls how a SwitchPort rewrites the VLAN tag of a frame on
// its way out, and how it classifies an incoming tag on the way in.
type VtagPolicy uint8

const (
	// AdmitAll passes whatever tag (or lack of one) the packet already
	// carries through unchanged.
	AdmitAll VtagPolicy = iota
	// Restrict strips any VLAN tag before transmission.
	Restrict
	// Priority keeps PCP/DEI but always emits VID=0.
	Priority
	// Mandatory guarantees a tag is present, filling missing fields from
	// the port's configured default.
	Mandatory
)

// VLANConfig is a SwitchPort's VLAN-related configuration: the default tag
// applied to untagged ingress traffic and the policy used to rewrite the
// tag at egress.
type VLANConfig struct {
	TagPolicy  VtagPolicy
	DefaultTag ethernet.VLANTag
}

// PortStats holds the byte/frame/error counters a SwitchPort accumulates.
// All fields are exported so metrics collectors can read them directly
// without a method per counter.
type PortStats struct {
	RxFrames, TxFrames   uint64
	RxBytes, TxBytes     uint64
	ErrMAC               uint64
	ErrOverflowRx        uint64
	ErrOverflowTx        uint64
	ErrPkt               uint64
	PTPRx, PTPTx         uint64
}

// PortWriter is the egress surface of whatever transport a SwitchPort
// wraps (a SLIP encoder, a Mailmap MMIO ring, a VLAN sub-interface): the
// Switch calls Reserve/Send on it the same way ipv4/icmp/udp reserve and
// send through their own FrameTx.
type PortWriter interface {
	Reserve(n int) (buf []byte, ok bool)
	Send(buf []byte, n int) error
}

// SwitchPort is one bidirectional attachment to a Switch. Its index and
// mask are fixed at registration and never change; AddPort returns them.
type SwitchPort struct {
	index int
	mask  PortMask

	link bool
	cfg  VLANConfig
	tx   PortWriter

	plugins []PluginPort

	Stats PortStats
}

// Index returns this port's fixed position in [0, MaxPorts).
func (p *SwitchPort) Index() int { return p.index }

// Mask returns 1 << Index().
func (p *SwitchPort) Mask() PortMask { return p.mask }

// LinkUp reports whether the port is currently enabled for traffic.
func (p *SwitchPort) LinkUp() bool { return p.link }

// SetLinkUp enables or disables the port. A disabled port is excluded from
// every ingress packet's initial DstMask and from delivery fan-out.
func (p *SwitchPort) SetLinkUp(up bool) { p.link = up }

// Writer returns the port's underlying PortWriter, the same transport the
// Switch itself writes egress frames through. The router uses this to
// send an ICMP error back out a packet's ingress port without going
// through the ordinary ingress/plugin/egress pipeline a second time.
func (p *SwitchPort) Writer() PortWriter { return p.tx }

// VLANConfig returns the port's current VLAN configuration.
func (p *SwitchPort) VLANConfig() VLANConfig { return p.cfg }

// SetVLANConfig updates the port's VLAN configuration.
func (p *SwitchPort) SetVLANConfig(cfg VLANConfig) { p.cfg = cfg }

// AddPlugin attaches a PluginPort to this port's egress path, called in
// registration order after the ingress plugin chain has decided the
// packet reaches this port.
func (p *SwitchPort) AddPlugin(pl PluginPort) { p.plugins = append(p.plugins, pl) }
