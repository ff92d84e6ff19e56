package route

import (
	"testing"
	"time"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
)

type fakeArp struct {
	queries []satcat5.IpAddr
}

func (f *fakeArp) Query(target satcat5.IpAddr) { f.queries = append(f.queries, target) }

type fakeIPWriter struct {
	sent       [][]byte
	reserveLen int
}

func (f *fakeIPWriter) Reserve(n int) ([]byte, bool) {
	f.reserveLen = n
	return make([]byte, n), true
}

func (f *fakeIPWriter) OpenWrite(buf []byte, dstIP satcat5.IpAddr, dstMAC [6]byte, vtag ethernet.VLANTag, protocol satcat5.IPProto) (int, bool) {
	return 34, true
}

func (f *fakeIPWriter) Finalize(buf []byte, hdrLen, payloadLen int) int { return hdrLen + payloadLen }

func (f *fakeIPWriter) Send(buf []byte, n int) error {
	f.sent = append(f.sent, append([]byte(nil), buf[:n]...))
	return nil
}

type addrFakeClock struct{ t time.Time }

func (c *addrFakeClock) Now() time.Time          { return c.t }
func (c *addrFakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestConnectReadyImmediatelyWhenMACKnown(t *testing.T) {
	tbl := NewTable(4)
	subnet := satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(24))
	tbl.RouteSet(subnet, ip(10, 0, 0, 1))
	tbl.ArpEvent(satcat5.MacAddr{2, 0, 0, 0, 0, 9}, ip(10, 0, 0, 1))

	arp := &fakeArp{}
	addr := NewAddress(tbl, arp, &fakeIPWriter{}, 17, nil)
	addr.Connect(ip(10, 0, 0, 50), 0)

	if !addr.Ready() {
		t.Fatal("expected Ready() once the gateway MAC is already known")
	}
	if len(arp.queries) != 0 {
		t.Fatalf("should not query ARP when the MAC is already known, got %d queries", len(arp.queries))
	}
}

func TestConnectQueriesWhenMACUnknown(t *testing.T) {
	tbl := NewTable(4)
	subnet := satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(24))
	tbl.RouteSet(subnet, ip(10, 0, 0, 1))

	arp := &fakeArp{}
	addr := NewAddress(tbl, arp, &fakeIPWriter{}, 17, nil)
	addr.Connect(ip(10, 0, 0, 50), 0)

	if addr.Ready() {
		t.Fatal("must not be ready before the gateway MAC resolves")
	}
	if len(arp.queries) != 1 || arp.queries[0] != ip(10, 0, 0, 1) {
		t.Fatalf("expected one query for the gateway, got %v", arp.queries)
	}
}

func TestConnectMulticastIsImmediatelyReady(t *testing.T) {
	tbl := NewTable(4)
	arp := &fakeArp{}
	addr := NewAddress(tbl, arp, &fakeIPWriter{}, 17, nil)
	addr.Connect(ip(224, 0, 0, 1), 0)

	if !addr.Ready() {
		t.Fatal("a multicast destination should be ready without ARP")
	}
	if len(arp.queries) != 0 {
		t.Fatal("must not ARP for a multicast destination")
	}
}

func TestOpenWriteRetriesAtMostOncePerInterval(t *testing.T) {
	tbl := NewTable(4)
	tbl.RouteSet(satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(24)), ip(10, 0, 0, 1))

	clk := &addrFakeClock{t: time.Unix(0, 0)}
	arp := &fakeArp{}
	addr := NewAddress(tbl, arp, &fakeIPWriter{}, 17, clk)
	addr.Connect(ip(10, 0, 0, 50), 0)
	if len(arp.queries) != 1 {
		t.Fatalf("Connect should have queried once, got %d", len(arp.queries))
	}

	if _, _, ok := addr.OpenWrite(10); ok {
		t.Fatal("OpenWrite must fail before the gateway resolves")
	}
	if len(arp.queries) != 1 {
		t.Fatalf("a second OpenWrite inside the retry window must not re-query, got %d", len(arp.queries))
	}

	clk.advance(ARPRetryDefault)
	addr.OpenWrite(10)
	if len(arp.queries) != 2 {
		t.Fatalf("OpenWrite after the retry interval should re-query, got %d", len(arp.queries))
	}
}

func TestArpEventResolvesAddress(t *testing.T) {
	tbl := NewTable(4)
	tbl.RouteSet(satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(24)), ip(10, 0, 0, 1))

	arp := &fakeArp{}
	ipw := &fakeIPWriter{}
	addr := NewAddress(tbl, arp, ipw, 17, nil)
	addr.Connect(ip(10, 0, 0, 50), 0)

	mac := satcat5.MacAddr{2, 0, 0, 0, 0, 5}
	addr.ArpEvent(mac, ip(10, 0, 0, 1))
	if !addr.Ready() {
		t.Fatal("ArpEvent for the pending gateway should resolve the Address")
	}

	buf, hdrLen, ok := addr.OpenWrite(4)
	if !ok {
		t.Fatal("OpenWrite should succeed once ready")
	}
	if err := addr.Finalize(buf, hdrLen, 4); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(ipw.sent) != 1 {
		t.Fatalf("expected one frame sent, got %d", len(ipw.sent))
	}
}

func TestGatewayChangeAdoptsKnownMACImmediately(t *testing.T) {
	tbl := NewTable(4)
	tbl.RouteSet(satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(24)), ip(10, 0, 0, 1))
	// A host route whose next hop is the new gateway lets the table learn
	// that gateway's MAC from the ARP event below.
	tbl.RouteSet(satcat5.NewSubnet(ip(10, 0, 0, 2), satcat5.CidrPrefix(32)), ip(10, 0, 0, 2))
	gw2mac := satcat5.MacAddr{2, 0, 0, 0, 0, 7}
	tbl.ArpEvent(gw2mac, ip(10, 0, 0, 2))
	tbl.ArpEvent(satcat5.MacAddr{2, 0, 0, 0, 0, 1}, ip(10, 0, 0, 1))

	arp := &fakeArp{}
	addr := NewAddress(tbl, arp, &fakeIPWriter{}, 17, nil)
	addr.Connect(ip(10, 0, 0, 50), 0)
	if !addr.Ready() {
		t.Fatal("expected ready after connect")
	}

	addr.GatewayChange(ip(10, 0, 0, 50), ip(10, 0, 0, 2))
	if !addr.Ready() {
		t.Fatal("GatewayChange to a gateway with a known MAC should stay ready")
	}
	if addr.gwMAC != gw2mac {
		t.Fatalf("gwMAC = %s, want the new gateway's MAC %s", addr.gwMAC, gw2mac)
	}
}

func TestGatewayChangeQueriesWhenNewGatewayUnknown(t *testing.T) {
	tbl := NewTable(4)
	tbl.RouteSet(satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(24)), ip(10, 0, 0, 1))
	tbl.ArpEvent(satcat5.MacAddr{2, 0, 0, 0, 0, 1}, ip(10, 0, 0, 1))

	arp := &fakeArp{}
	addr := NewAddress(tbl, arp, &fakeIPWriter{}, 17, nil)
	addr.Connect(ip(10, 0, 0, 50), 0)

	addr.GatewayChange(ip(10, 0, 0, 50), ip(10, 0, 0, 3))
	if !addr.Ready() {
		t.Fatal("must stay ready via the old gateway until the new one resolves")
	}
	if len(arp.queries) != 1 || arp.queries[0] != ip(10, 0, 0, 3) {
		t.Fatalf("expected a fresh query for the new gateway, got %v", arp.queries)
	}
}
