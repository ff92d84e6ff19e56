// Package route implements the IPv4 routing table (longest-prefix match
// with an integrated MAC-address cache) and the Address abstraction that
// tracks how to reach one peer.
package route

import (
	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
)

// DefaultCapacity is the number of non-default routes a Table holds when
// constructed without an explicit override.
const DefaultCapacity = 32

// PortAny means an entry is not pinned to a specific egress port; the
// switch's ordinary MAC-learning/VLAN pipeline picks the egress port.
const PortAny = ^uint16(0)

// Entry is one routing-table row: a destination subnet, the next hop to
// reach it, the next hop's MAC address once learned, and an optional
// pinned egress port.
type Entry struct {
	Subnet     satcat5.IpSubnet
	NextHop    satcat5.IpAddr
	GatewayMAC satcat5.MacAddr
	PortIndex  uint16
}

// Table is a fixed-capacity longest-prefix-match IPv4 routing table plus a
// separate default route. Lookups return the entry with the longest
// matching prefix, breaking ties toward the most recently inserted entry;
// failing that, the default route; failing that, satcat5.IpNone.
type Table struct {
	entries []Entry
	def     Entry
	haveDef bool
}

// NewTable returns an empty Table with room for capacity non-default
// routes.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		panic("route: capacity must be > 0")
	}
	return &Table{entries: make([]Entry, 0, capacity)}
}

// RouteDefault installs or replaces the default route (0.0.0.0/0),
// equivalent to RouteSet(IpSubnet{0,0}, nextHop).
func (t *Table) RouteDefault(nextHop satcat5.IpAddr) {
	t.def = Entry{Subnet: satcat5.IpSubnet{}, NextHop: nextHop, PortIndex: PortAny}
	t.haveDef = true
}

// RouteClear empties every subnet entry. The default route is preserved
// unless clearDefault is true.
func (t *Table) RouteClear(clearDefault bool) {
	t.entries = t.entries[:0]
	if clearDefault {
		t.def = Entry{}
		t.haveDef = false
	}
}

// RouteSet inserts or, if subnet already has an entry, replaces it in
// place (same slot, so an iteration/index a caller is holding stays
// valid). subnet.Mask == 0 is stored as the default route instead of a
// table slot, matching RouteDefault. It returns false if the table is
// full and subnet does not already have an entry, leaving the table
// unchanged rather than partially applying the insert.
func (t *Table) RouteSet(subnet satcat5.IpSubnet, nextHop satcat5.IpAddr) bool {
	return t.RouteSetPort(subnet, nextHop, PortAny)
}

// RouteSetPort is RouteSet with an explicit pinned egress port.
func (t *Table) RouteSetPort(subnet satcat5.IpSubnet, nextHop satcat5.IpAddr, portIndex uint16) bool {
	if subnet.Mask == 0 {
		t.def = Entry{Subnet: subnet, NextHop: nextHop, PortIndex: portIndex}
		t.haveDef = true
		return true
	}
	for i := range t.entries {
		if t.entries[i].Subnet.Equal(subnet) {
			gw := t.entries[i].GatewayMAC
			t.entries[i] = Entry{Subnet: subnet, NextHop: nextHop, PortIndex: portIndex, GatewayMAC: gw}
			return true
		}
	}
	if len(t.entries) >= cap(t.entries) {
		return false
	}
	t.entries = append(t.entries, Entry{Subnet: subnet, NextHop: nextHop, PortIndex: portIndex})
	return true
}

// RouteLookup returns the next-hop entry for ip: the longest matching
// subnet (ties broken by most recently inserted), else the default route,
// else a zero Entry with NextHop == satcat5.IpNone.
func (t *Table) RouteLookup(ip satcat5.IpAddr) (Entry, bool) {
	best := -1
	bestLen := -1
	for i := range t.entries {
		if !t.entries[i].Subnet.Contains(ip) {
			continue
		}
		l := t.entries[i].Subnet.Mask.PrefixLen()
		if l >= bestLen {
			bestLen = l
			best = i
		}
	}
	if best >= 0 {
		return t.entries[best], true
	}
	if t.haveDef {
		return t.def, true
	}
	return Entry{NextHop: satcat5.IpNone}, false
}

// Entries returns the live (non-default) table contents. Callers must not
// retain the returned slice past the next RouteSet/RouteClear call.
func (t *Table) Entries() []Entry { return t.entries }

// DefaultRoute returns the configured default route, if any.
func (t *Table) DefaultRoute() (Entry, bool) { return t.def, t.haveDef }

// ArpEvent implements arp.ArpListener: any entry whose NextHop equals ip
// learns mac as its GatewayMAC, so a subsequent RouteLookup returns a
// fully resolved next hop without a second ARP round trip.
func (t *Table) ArpEvent(mac satcat5.MacAddr, ip satcat5.IpAddr) {
	for i := range t.entries {
		if t.entries[i].NextHop == ip {
			t.entries[i].GatewayMAC = mac
		}
	}
	if t.haveDef && t.def.NextHop == ip {
		t.def.GatewayMAC = mac
	}
}
