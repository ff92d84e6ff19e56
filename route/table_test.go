package route

import (
	"testing"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
)

func ip(a, b, c, d byte) satcat5.IpAddr {
	return satcat5.IpAddr(uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d))
}

func TestRouteLookupLongestPrefixWins(t *testing.T) {
	tbl := NewTable(4)
	tbl.RouteSet(satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(8)), ip(10, 0, 0, 1))
	tbl.RouteSet(satcat5.NewSubnet(ip(10, 0, 1, 0), satcat5.CidrPrefix(24)), ip(10, 0, 1, 1))

	entry, ok := tbl.RouteLookup(ip(10, 0, 1, 200))
	if !ok {
		t.Fatal("expected a match")
	}
	if entry.NextHop != ip(10, 0, 1, 1) {
		t.Fatalf("next hop = %s, want the /24's next hop (longest prefix)", entry.NextHop)
	}
}

func TestRouteLookupFallsBackToDefault(t *testing.T) {
	tbl := NewTable(4)
	tbl.RouteSet(satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(8)), ip(10, 0, 0, 1))
	tbl.RouteDefault(ip(192, 168, 0, 1))

	entry, ok := tbl.RouteLookup(ip(8, 8, 8, 8))
	if !ok || entry.NextHop != ip(192, 168, 0, 1) {
		t.Fatalf("expected the default route, got %+v ok=%v", entry, ok)
	}
}

func TestRouteLookupNoMatchReturnsIpNone(t *testing.T) {
	tbl := NewTable(4)
	entry, ok := tbl.RouteLookup(ip(8, 8, 8, 8))
	if ok || entry.NextHop != satcat5.IpNone {
		t.Fatalf("expected no match, got %+v ok=%v", entry, ok)
	}
}

func TestRouteSetReplacesInPlace(t *testing.T) {
	tbl := NewTable(2)
	subnet := satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(24))
	tbl.RouteSet(subnet, ip(10, 0, 0, 1))
	tbl.RouteSet(subnet, ip(10, 0, 0, 2))

	if len(tbl.Entries()) != 1 {
		t.Fatalf("expected a replace in place, got %d entries", len(tbl.Entries()))
	}
	entry, _ := tbl.RouteLookup(ip(10, 0, 0, 50))
	if entry.NextHop != ip(10, 0, 0, 2) {
		t.Fatalf("next hop = %s, want the replaced value", entry.NextHop)
	}
}

func TestRouteSetFailsWhenFull(t *testing.T) {
	tbl := NewTable(1)
	a := satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(24))
	b := satcat5.NewSubnet(ip(10, 0, 1, 0), satcat5.CidrPrefix(24))
	if !tbl.RouteSet(a, ip(10, 0, 0, 1)) {
		t.Fatal("first insert into an empty table of capacity 1 should succeed")
	}
	if tbl.RouteSet(b, ip(10, 0, 1, 1)) {
		t.Fatal("inserting a second distinct subnet into a full table should fail")
	}
	if len(tbl.Entries()) != 1 {
		t.Fatalf("failed insert must not change the table, got %d entries", len(tbl.Entries()))
	}
}

func TestRouteClearPreservesDefaultUnlessAsked(t *testing.T) {
	tbl := NewTable(2)
	tbl.RouteSet(satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(24)), ip(10, 0, 0, 1))
	tbl.RouteDefault(ip(192, 168, 0, 1))

	tbl.RouteClear(false)
	if len(tbl.Entries()) != 0 {
		t.Fatal("RouteClear should empty subnet entries")
	}
	if _, ok := tbl.DefaultRoute(); !ok {
		t.Fatal("RouteClear(false) must preserve the default route")
	}

	tbl.RouteClear(true)
	if _, ok := tbl.DefaultRoute(); ok {
		t.Fatal("RouteClear(true) must clear the default route too")
	}
}

func TestArpEventPopulatesGatewayMAC(t *testing.T) {
	tbl := NewTable(2)
	tbl.RouteSet(satcat5.NewSubnet(ip(10, 0, 0, 0), satcat5.CidrPrefix(24)), ip(10, 0, 0, 1))

	mac := satcat5.MacAddr{0x02, 0, 0, 0, 0, 1}
	tbl.ArpEvent(mac, ip(10, 0, 0, 1))

	entry, _ := tbl.RouteLookup(ip(10, 0, 0, 50))
	if entry.GatewayMAC != mac {
		t.Fatalf("GatewayMAC = %s, want %s", entry.GatewayMAC, mac)
	}
}
