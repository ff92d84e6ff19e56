// Package vlan implements the switch's VLAN membership and per-VID
// token-bucket rate-limiting plugin: an ingress stage that enforces tag
// admissibility and VID membership, and an egress stage attached to each
// SwitchPort that rewrites the outgoing tag to match the port's
// VtagPolicy.
package vlan

import (
	"math"
	"time"

	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

// VMAX is the largest valid user VLAN ID; VIDs 1..VMAX are usable, 0 means
// "untagged" and 4095 is reserved.
const VMAX = 4094

// RatePolicy names what a VID's token bucket does when a packet's cost
// exceeds the remaining balance.
type RatePolicy uint8

const (
	// Unlimited never consumes or checks the bucket.
	Unlimited RatePolicy = iota
	// Demote reduces the packet's priority to 0 instead of dropping it.
	Demote
	// Strict always drops an over-budget packet.
	Strict
	// Auto demotes, except frames with DEI=1 are dropped like Strict.
	Auto
)

// Clock abstracts the monotonic time source the token-bucket refill reads,
// so tests can advance it deterministically instead of sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// VIDConfig is one VLAN's membership and rate policy.
type VIDConfig struct {
	// PortMask is the set of ports belonging to this VID.
	PortMask switchcore.PortMask
	// TokMax is the token bucket's capacity.
	TokMax uint32
	// TokRate is tokens added per millisecond, saturating at TokMax.
	TokRate uint32
	// Policy controls behavior when a packet's cost exceeds the balance.
	Policy RatePolicy
}

type vidState struct {
	cfg     VIDConfig
	tcount  uint32
	lastRef time.Time
}

// Config holds the per-VID membership/rate table and per-port tag
// policy defaults used by both the ingress Plugin and the per-port egress
// Plugin.
type Config struct {
	vids [VMAX + 1]*vidState

	// Scale256x mirrors the VRATE_SCALE_256X build flag: when true, a
	// packet's token cost is ceil(byteLength/256) instead of byteLength,
	// letting TokMax/TokRate describe budgets in 256-byte units.
	Scale256x bool

	clock Clock
}

// NewConfig returns an empty Config with no VIDs configured (every packet
// drops with VLAN as the reason until SetVID is called) and the default
// no-tag, ADMIT_ALL port behavior (supplied separately per SwitchPort via
// switchcore.VLANConfig).
func NewConfig(clock Clock) *Config {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Config{clock: clock}
}

// SetVID installs or replaces the membership/rate configuration for vid.
func (c *Config) SetVID(vid uint16, cfg VIDConfig) {
	if vid < 1 || vid > VMAX {
		panic("vlan: vid out of range")
	}
	c.vids[vid] = &vidState{cfg: cfg, tcount: cfg.TokMax, lastRef: c.clock.Now()}
}

// ClearVID removes vid's configuration; packets whose effective VID was
// vid will be dropped with DropVLAN until it is reconfigured.
func (c *Config) ClearVID(vid uint16) {
	if vid >= 1 && vid <= VMAX {
		c.vids[vid] = nil
	}
}

// Reset reconfigures every VID: to permit-none when lockdown is true, or
// otherwise to membership everyMask with an 8kbps-equivalent Auto rate
// limit. Per-port tag policies are not changed.
func (c *Config) Reset(lockdown bool, everyMask switchcore.PortMask) {
	for v := 1; v <= VMAX; v++ {
		if lockdown {
			c.vids[v] = nil
			continue
		}
		// 8 kbit/s =~ 1000 bytes/sec =~ 1 byte/ms.
		c.vids[v] = &vidState{
			cfg:     VIDConfig{PortMask: everyMask, TokMax: 1000, TokRate: 1, Policy: Auto},
			tcount:  1000,
			lastRef: c.clock.Now(),
		}
	}
}

func (c *Config) state(vid uint16) *vidState {
	if vid < 1 || vid > VMAX {
		return nil
	}
	return c.vids[vid]
}

// refill lazily advances vs's token count by the elapsed time since the
// last refill, at 1 token per millisecond times TokRate, saturating at
// TokMax. Real hardware uses a 1ms periodic timer; since the bucket only
// affects decisions made when a packet arrives, computing the same result
// lazily from elapsed wall-clock time is equivalent and needs no
// standalone timer thread.
func (vs *vidState) refill(now time.Time) {
	if vs.cfg.Policy == Unlimited {
		return
	}
	elapsedMS := now.Sub(vs.lastRef).Milliseconds()
	if elapsedMS <= 0 {
		return
	}
	vs.lastRef = now
	add := uint64(elapsedMS) * uint64(vs.cfg.TokRate)
	sum := uint64(vs.tcount) + add
	if sum > uint64(vs.cfg.TokMax) {
		sum = uint64(vs.cfg.TokMax)
	}
	vs.tcount = uint32(sum)
}

func tokenCost(byteLen int, scale256x bool) uint32 {
	if !scale256x {
		return uint32(byteLen)
	}
	return uint32(math.Ceil(float64(byteLen) / 256))
}

// IngressPlugin implements switchcore.PluginCore for the VLAN membership
// and rate-limit rules.
type IngressPlugin struct {
	Cfg *Config
}

func tagOK(policy switchcore.VtagPolicy, pktVID uint16) bool {
	switch policy {
	case switchcore.Restrict, switchcore.Priority:
		return pktVID == 0
	case switchcore.Mandatory:
		return pktVID != 0
	default: // AdmitAll
		return true
	}
}

// Query implements switchcore.PluginCore.
func (p *IngressPlugin) Query(pkt *switchcore.PluginPacket) {
	var pktVID uint16
	var pktPCP uint8
	var pktDEI bool
	tagged := pkt.Hdr.IsVLAN()
	if tagged {
		tag, _ := pkt.Hdr.VLAN()
		pktVID = tag.VLANIdentifier()
		pktPCP = tag.PriorityCodePoint()
		pktDEI = tag.DropEligibleIndicator()
	}

	portCfg := pkt.SrcPortVLAN
	if !tagOK(portCfg.TagPolicy, pktVID) {
		pkt.Drop(switchcore.DropVLAN)
		return
	}

	effectiveVID := pktVID
	if effectiveVID == 0 {
		effectiveVID = portCfg.DefaultTag.VLANIdentifier()
	}
	if pktPCP != 0 {
		pkt.Priority = pktPCP
	} else {
		pkt.Priority = portCfg.DefaultTag.PriorityCodePoint()
	}

	if effectiveVID == 0 || effectiveVID > VMAX {
		pkt.Drop(switchcore.DropVLAN)
		return
	}
	vs := p.Cfg.state(effectiveVID)
	if vs == nil || vs.cfg.PortMask&pkt.SrcMask == 0 {
		pkt.Drop(switchcore.DropVLAN)
		return
	}
	pkt.DstMask &= vs.cfg.PortMask

	p.rateLimit(vs, pkt, pktDEI)
}

func (p *IngressPlugin) rateLimit(vs *vidState, pkt *switchcore.PluginPacket, dei bool) {
	if vs.cfg.Policy == Unlimited {
		return
	}
	now := p.Cfg.clock.Now()
	vs.refill(now)

	cost := tokenCost(pkt.Length, p.Cfg.Scale256x)
	if cost <= vs.tcount {
		vs.tcount -= cost
		return
	}

	strict := vs.cfg.Policy == Strict || (vs.cfg.Policy == Auto && dei)
	if strict {
		pkt.Drop(switchcore.DropRateLimit)
		return
	}
	// Demote, or Auto without DEI: let the packet through at priority 0.
	pkt.Priority = 0
}

var _ switchcore.PluginCore = (*IngressPlugin)(nil)

// EgressPlugin implements switchcore.PluginPort, rewriting the outgoing
// VLAN tag of every packet delivered to its SwitchPort according to the
// port's VtagPolicy.
type EgressPlugin struct {
	Port *switchcore.SwitchPort
}

// Egress implements switchcore.PluginPort.
func (p *EgressPlugin) Egress(pkt *switchcore.PluginPacket) {
	cfg := p.Port.VLANConfig()

	var pktVID uint16
	var pktPCP uint8
	var pktDEI bool
	tagged := pkt.Hdr.IsVLAN()
	if tagged {
		tag, _ := pkt.Hdr.VLAN()
		pktVID, pktPCP, pktDEI = tag.VLANIdentifier(), tag.PriorityCodePoint(), tag.DropEligibleIndicator()
	}

	var newTagged bool
	var newTag ethernet.VLANTag
	switch cfg.TagPolicy {
	case switchcore.Priority:
		pcp, dei := pktPCP, pktDEI
		if !tagged {
			pcp, dei = cfg.DefaultTag.PriorityCodePoint(), cfg.DefaultTag.DropEligibleIndicator()
		}
		newTagged = true
		newTag = ethernet.NewVLANTag(0, pcp, dei)
	case switchcore.Mandatory:
		vid, pcp, dei := pktVID, pktPCP, pktDEI
		if vid == 0 {
			vid = cfg.DefaultTag.VLANIdentifier()
		}
		if !tagged {
			pcp, dei = cfg.DefaultTag.PriorityCodePoint(), cfg.DefaultTag.DropEligibleIndicator()
		}
		newTagged = true
		newTag = ethernet.NewVLANTag(vid, pcp, dei)
	default: // Restrict, AdmitAll
		newTagged = false
	}

	if newTagged == tagged && (!newTagged || newTag == currentTag(pkt.Hdr)) {
		return // no rewrite needed; Switch will copy the ingress bytes verbatim
	}

	pkt.VLANOverrideSet = true
	pkt.VLANTagged = newTagged
	pkt.VLANOverride = newTag
}

// currentTag returns hdr's current VLAN tag, or the zero tag if untagged.
func currentTag(hdr ethernet.Frame) ethernet.VLANTag {
	if !hdr.IsVLAN() {
		return 0
	}
	t, _ := hdr.VLAN()
	return t
}

var _ switchcore.PluginPort = (*EgressPlugin)(nil)
