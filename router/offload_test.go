package router

import (
	"testing"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ipv4"
	"github.com/the-aerospace-corporation/satcat5-sub003/route"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

// newHarnessWithOffload is newHarness with an MMIOBridge attached covering
// the WAN port (software index 1) as a single hardware-backed port.
func newHarnessWithOffload(policy Policy) (*harness, *MMIOBridge) {
	sw := switchcore.New(16, 1518, nil)
	lan := &recordWriter{}
	wan := &recordWriter{}
	sw.AddPort(lan, switchcore.VLANConfig{})
	sw.AddPort(wan, switchcore.VLANConfig{})
	cpu := &recordWriter{}
	sw.AddPort(cpu, switchcore.VLANConfig{})

	bridge := NewMMIOBridge(1, 1, nil)

	table := route.NewTable(8)
	arp := &fakeArpQuerier{}
	r := New(sw, table, arp, Config{
		OurMAC:      ourMAC,
		OurIP:       ip(10, 0, 0, 1),
		Policy:      policy,
		CPUPortMask: switchcore.PortMask(1) << 2,
		Offload:     bridge,
	}, nil)
	sw.AddPlugin(r)
	return &harness{sw: sw, lan: lan, wan: wan, table: table, arp: arp, router: r}, bridge
}

func TestForwardToHardwarePortUsesBridgeNotSoftwareEgress(t *testing.T) {
	h, bridge := newHarnessWithOffload(0)
	h.table.RouteSetPort(satcat5.NewSubnet(ip(192, 168, 1, 0), satcat5.CidrPrefix(24)), ip(10, 0, 0, 2), 1)
	h.table.ArpEvent(gwMAC, ip(10, 0, 0, 2))

	frame := buildIPv4Frame(srcMAC, ourMAC, ip(10, 0, 0, 5), ip(192, 168, 1, 10), 64)
	h.inject(0, frame)

	if len(h.wan.sent) != 0 {
		t.Fatalf("expected the hardware-backed port to receive nothing through the software egress path, got %d", len(h.wan.sent))
	}
	out, hwMask, ok := bridge.TxDrain()
	if !ok {
		t.Fatalf("expected a frame latched in the offload bridge")
	}
	if hwMask != 1 {
		t.Errorf("hwMask = %d, want 1 (hardware port 0)", hwMask)
	}
	var gotDst [6]byte
	copy(gotDst[:], out[0:6])
	if gotDst != [6]byte(gwMAC) {
		t.Errorf("dst MAC in offloaded frame = %x, want gateway %x", gotDst, gwMAC)
	}
	ifrm, _ := ipv4.NewFrame(out[14:34])
	if ifrm.TTL() != 63 {
		t.Errorf("TTL in offloaded frame = %d, want 63", ifrm.TTL())
	}
	if _, _, ok := bridge.TxDrain(); ok {
		t.Errorf("TxDrain should clear the latched transfer")
	}
}

func TestForwardToSoftwarePortUnaffectedByOffload(t *testing.T) {
	h, bridge := newHarnessWithOffload(0)
	cpu := h.sw.Port(2)
	rec := cpu.Writer().(*recordWriter)

	frame := buildIPv4Frame(srcMAC, ourMAC, ip(10, 0, 0, 5), ip(10, 0, 0, 1), 64)
	h.inject(0, frame)

	if len(rec.sent) != 1 {
		t.Fatalf("expected the locally-addressed datagram to reach the CPU port, got %d", len(rec.sent))
	}
	if _, _, ok := bridge.TxDrain(); ok {
		t.Errorf("offload bridge should not have received a frame bound for a software port")
	}
}

func TestDeferredForwardResolvingToHardwarePortUsesBridge(t *testing.T) {
	h, bridge := newHarnessWithOffload(0)
	h.table.RouteSetPort(satcat5.NewSubnet(ip(192, 168, 1, 0), satcat5.CidrPrefix(24)), ip(10, 0, 0, 2), 1)

	frame := buildIPv4Frame(srcMAC, ourMAC, ip(10, 0, 0, 5), ip(192, 168, 1, 10), 64)
	h.inject(0, frame)

	if _, _, ok := bridge.TxDrain(); ok {
		t.Fatalf("expected no delivery while the gateway MAC is still unresolved")
	}

	h.router.ArpEvent(gwMAC, ip(10, 0, 0, 2))

	if len(h.wan.sent) != 0 {
		t.Errorf("deferred datagram resolving to a hardware port must not use the software egress path")
	}
	if _, _, ok := bridge.TxDrain(); !ok {
		t.Errorf("expected the deferred datagram to reach the offload bridge once the gateway resolved")
	}
}

func TestMMIOBridgeDropsWhileBusy(t *testing.T) {
	bridge := NewMMIOBridge(0, 1, nil)
	bridge.Deliver(1, make([]byte, 64))
	bridge.Deliver(1, make([]byte, 64))

	if bridge.DroppedBusy != 1 {
		t.Errorf("DroppedBusy = %d, want 1", bridge.DroppedBusy)
	}
	if _, _, ok := bridge.TxDrain(); !ok {
		t.Fatalf("expected the first transfer to still be latched")
	}
}

func TestMMIOBridgeZeroPadsShortFrames(t *testing.T) {
	bridge := NewMMIOBridge(0, 1, nil)
	bridge.Deliver(1, make([]byte, 40))

	out, _, ok := bridge.TxDrain()
	if !ok {
		t.Fatalf("expected a latched transfer")
	}
	if len(out) != mmioMinFrame {
		t.Errorf("padded length = %d, want %d", len(out), mmioMinFrame)
	}
}

func TestMMIOBridgeDropsOversizeFrames(t *testing.T) {
	bridge := NewMMIOBridge(0, 1, nil)
	bridge.Deliver(1, make([]byte, mmioBufSize+1))

	if bridge.DroppedOversize != 1 {
		t.Errorf("DroppedOversize = %d, want 1", bridge.DroppedOversize)
	}
	if _, _, ok := bridge.TxDrain(); ok {
		t.Errorf("an oversize frame must not be latched")
	}
}

func TestMMIOBridgeRxInjectDeliversToSwitch(t *testing.T) {
	h, bridge := newHarnessWithOffload(0)

	frame := buildIPv4Frame(srcMAC, ourMAC, ip(10, 0, 0, 5), ip(10, 0, 0, 1), 64)
	if !bridge.RxInject(h.sw, 0, frame) {
		t.Fatalf("RxInject failed")
	}

	cpu := h.sw.Port(2)
	rec := cpu.Writer().(*recordWriter)
	if len(rec.sent) != 1 {
		t.Fatalf("expected the hardware-injected datagram to reach the CPU port, got %d", len(rec.sent))
	}
}
