package main

import (
	"fmt"
	"log/slog"

	"github.com/the-aerospace-corporation/satcat5-sub003/arp"
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
	"github.com/the-aerospace-corporation/satcat5-sub003/icmp"
	"github.com/the-aerospace-corporation/satcat5-sub003/internal/config"
	"github.com/the-aerospace-corporation/satcat5-sub003/ipv4"
	"github.com/the-aerospace-corporation/satcat5-sub003/maccache"
	"github.com/the-aerospace-corporation/satcat5-sub003/route"
	"github.com/the-aerospace-corporation/satcat5-sub003/router"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
	"github.com/the-aerospace-corporation/satcat5-sub003/udp"
	"github.com/the-aerospace-corporation/satcat5-sub003/vlan"
)

// daemon is the fully wired runtime this binary drives: a switch fabric
// with its ports and plugins attached, and, when routing is enabled, the
// local IP stack and Router layered on top of a virtual CPU port.
type daemon struct {
	sw        *switchcore.Switch
	cfg       *config.Config
	ports     []*netPort
	portNames []string
	byName    map[string]int

	router *router.Router
	table  *route.Table
}

func tagPolicyOf(s string) switchcore.VtagPolicy {
	switch s {
	case "restrict":
		return switchcore.Restrict
	case "priority":
		return switchcore.Priority
	case "mandatory":
		return switchcore.Mandatory
	default:
		return switchcore.AdmitAll
	}
}

func ratePolicyOf(s string) vlan.RatePolicy {
	switch s {
	case "demote":
		return vlan.Demote
	case "strict":
		return vlan.Strict
	case "auto":
		return vlan.Auto
	default:
		return vlan.Unlimited
	}
}

// buildDaemon constructs the switch fabric described by cfg: one netPort
// per configured PortConfig, the MAC-learning and VLAN plugins if
// configured, and the IPv4 router layered on a virtual CPU port if
// cfg.Router.Enabled.
func buildDaemon(cfg *config.Config, log *slog.Logger) (*daemon, error) {
	sw := switchcore.New(cfg.Switch.BufferPackets, cfg.Switch.MaxFrameLen, log)
	d := &daemon{sw: sw, cfg: cfg, byName: make(map[string]int, len(cfg.Switch.Ports))}

	for _, pc := range cfg.Switch.Ports {
		np, err := newNetPort(pc.Name, pc.Listen, pc.Peer, cfg.Switch.MaxFrameLen)
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", pc.Name, err)
		}
		vcfg := switchcore.VLANConfig{
			TagPolicy:  tagPolicyOf(pc.TagPolicy),
			DefaultTag: ethernet.NewVLANTag(pc.DefaultVID, pc.DefaultPCP, pc.DefaultDEI),
		}
		sp := sw.AddPort(np, vcfg)
		sp.AddPlugin(&vlan.EgressPlugin{Port: sp})

		d.byName[pc.Name] = sp.Index()
		d.ports = append(d.ports, np)
		d.portNames = append(d.portNames, pc.Name)
	}

	if len(cfg.Switch.Vlans) > 0 {
		vcfg := vlan.NewConfig(nil)
		for _, v := range cfg.Switch.Vlans {
			var mask switchcore.PortMask
			for _, name := range v.Ports {
				if idx, ok := d.byName[name]; ok {
					mask |= switchcore.PortMask(1) << idx
				}
			}
			vcfg.SetVID(v.VID, vlan.VIDConfig{
				PortMask: mask,
				TokMax:   v.TokMax,
				TokRate:  v.TokRate,
				Policy:   ratePolicyOf(v.Policy),
			})
		}
		sw.AddPlugin(&vlan.IngressPlugin{Cfg: vcfg})
	}

	if cfg.Router.Enabled {
		if err := d.wireRouter(cfg, log); err != nil {
			return nil, err
		}
	}

	if cfg.Switch.MACCacheSize > 0 {
		floodMask := switchcore.PortMask(1)<<uint(sw.NumPorts()) - 1
		sw.AddPlugin(maccache.NewPlugin(cfg.Switch.MACCacheSize, floodMask))
	}

	if d.router != nil {
		sw.AddPlugin(d.router)
	}

	return d, nil
}

// wireRouter builds the local IP stack (Ethernet dispatch, ARP, ICMPv4,
// UDP) behind a virtual CPU port and the Router plugin that delegates IPv4
// forwarding decisions to it, per the CPU-port pattern router.CPUPort/
// router.CPUFrameTx implement.
func (d *daemon) wireRouter(cfg *config.Config, log *slog.Logger) error {
	ourMAC, err := config.ParseMACAddr(cfg.Router.OurMAC)
	if err != nil {
		return fmt.Errorf("router.our_mac: %w", err)
	}
	ourIP, err := config.ParseIPAddr(cfg.Router.OurIP)
	if err != nil {
		return fmt.Errorf("router.our_ip: %w", err)
	}

	eth := ethernet.NewDispatch([6]byte(ourMAC), len(cfg.Switch.Vlans) > 0)
	cpuWriter := router.NewCPUPort(eth)
	cpuSP := d.sw.AddPort(cpuWriter, switchcore.VLANConfig{})
	cpuIndex := cpuSP.Index()
	cpuTx := router.NewCPUFrameTx(d.sw, cpuIndex)

	ipDispatch := ipv4.NewDispatch(cpuTx, eth, ourIP, log)
	eth.Register(ipDispatch)

	icmpProto := icmp.NewProtocol(cpuTx, ipDispatch, log)
	ipDispatch.Register(icmpProto)
	ipDispatch.SetProtocolUnreachableNotifier(icmpProto)

	udpDispatch := udp.NewDispatch(cpuTx, ipDispatch, icmpProto, log)
	ipDispatch.Register(udpDispatch)

	arpProto := arp.NewProtocol(cpuTx, ourMAC, ourIP, log)
	eth.Register(arpProto)

	capacity := len(cfg.Router.Routes)
	if capacity < route.DefaultCapacity {
		capacity = route.DefaultCapacity
	}
	table := route.NewTable(capacity)
	for i, rt := range cfg.Router.Routes {
		subnet, _, err := config.ParseSubnet(rt.Subnet)
		if err != nil {
			return fmt.Errorf("router.routes[%d]: %w", i, err)
		}
		nextHop, err := config.ParseIPAddr(rt.NextHop)
		if err != nil {
			return fmt.Errorf("router.routes[%d]: %w", i, err)
		}
		portIdx := route.PortAny
		if rt.Port != "" {
			idx, ok := d.byName[rt.Port]
			if !ok {
				return fmt.Errorf("router.routes[%d]: unknown port %q", i, rt.Port)
			}
			portIdx = uint16(idx)
		}
		table.RouteSetPort(subnet, nextHop, portIdx)
	}
	if cfg.Router.DefaultRoute != "" {
		dr, err := config.ParseIPAddr(cfg.Router.DefaultRoute)
		if err != nil {
			return fmt.Errorf("router.default_route: %w", err)
		}
		table.RouteDefault(dr)
	}
	arpProto.AddListener(table)

	var policy router.Policy
	if cfg.Router.LocalBroadcast {
		policy |= router.PolicyLocalBroadcast
	}
	if cfg.Router.BlockNonIP {
		policy |= router.PolicyBlockNonIP
	}
	if cfg.Router.BlockMulticast {
		policy |= router.PolicyBlockMulticast
	}
	if cfg.Router.BlockBroadcast {
		policy |= router.PolicyBlockBroadcast
	}
	if cfg.Router.BlockBadDMAC {
		policy |= router.PolicyBlockBadDMAC
	}

	rtr := router.New(d.sw, table, arpProto, router.Config{
		OurMAC:        ourMAC,
		OurIP:         ourIP,
		Policy:        policy,
		CPUPortMask:   switchcore.PortMask(1) << cpuIndex,
		DeferCapacity: cfg.Router.DeferCapacity,
		RetryMsec:     cfg.Router.RetryMsec,
		RetryMax:      cfg.Router.RetryMax,
	}, log)
	arpProto.AddListener(rtr)

	d.router = rtr
	d.table = table
	return nil
}
