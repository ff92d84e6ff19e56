// Package maccache implements the switch's MAC-address learning plugin: an
// LRU cache of {MAC -> source port index}, consulted and updated once per
// ingress packet to decide which egress ports are candidates for an
// unknown, known-unicast, or broadcast destination.
//
// A simple overwrite-ring cache is tempting here but wrong: true LRU
// behavior requires splice-to-head-on-hit, evict-tail-on-insert eviction,
// so this package threads its own doubly-linked list through a fixed
// arena instead.
package maccache

import (
	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

const none = -1

type node struct {
	mac        satcat5.MacAddr
	port       int
	prev, next int
	inUse      bool
}

// Cache is a fixed-capacity LRU of {MAC -> port index}. The zero value is
// not usable; construct one with New.
type Cache struct {
	nodes []node
	byMAC map[satcat5.MacAddr]int
	free  []int
	head  int // most recently used
	tail  int // least recently used
}

// DefaultCapacity is the cache size used when a Switch wires this plugin
// without an explicit override.
const DefaultCapacity = 64

// New returns an empty Cache holding up to capacity entries.
func New(capacity int) *Cache {
	if capacity <= 0 {
		panic("maccache: capacity must be > 0")
	}
	c := &Cache{
		nodes: make([]node, capacity),
		byMAC: make(map[satcat5.MacAddr]int, capacity),
		head:  none,
		tail:  none,
	}
	c.free = make([]int, capacity)
	for i := range c.free {
		c.free[i] = capacity - 1 - i
	}
	return c
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int { return len(c.byMAC) }

// Capacity returns the maximum number of entries the cache can hold.
func (c *Cache) Capacity() int { return len(c.nodes) }

// unlink removes idx from wherever it sits in the list, without touching
// byMAC or the free list.
func (c *Cache) unlink(idx int) {
	n := &c.nodes[idx]
	if n.prev != none {
		c.nodes[n.prev].next = n.next
	} else {
		c.head = n.next
	}
	if n.next != none {
		c.nodes[n.next].prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = none, none
}

// pushFront splices idx onto the head of the list (most recently used).
func (c *Cache) pushFront(idx int) {
	n := &c.nodes[idx]
	n.prev = none
	n.next = c.head
	if c.head != none {
		c.nodes[c.head].prev = idx
	}
	c.head = idx
	if c.tail == none {
		c.tail = idx
	}
}

// Learn records (mac, port), inserting a new entry or updating and
// promoting an existing one to most-recently-used. It is a no-op if mac is
// not unicast.
func (c *Cache) Learn(mac satcat5.MacAddr, port int) {
	if !mac.IsUnicast() {
		return
	}
	if idx, ok := c.byMAC[mac]; ok {
		c.nodes[idx].port = port
		c.unlink(idx)
		c.pushFront(idx)
		return
	}
	var idx int
	if len(c.free) > 0 {
		idx = c.free[len(c.free)-1]
		c.free = c.free[:len(c.free)-1]
	} else {
		idx = c.tail
		c.unlink(idx)
		delete(c.byMAC, c.nodes[idx].mac)
	}
	c.nodes[idx] = node{mac: mac, port: port, inUse: true}
	c.byMAC[mac] = idx
	c.pushFront(idx)
}

// Lookup returns the learned port for mac and promotes the entry to
// most-recently-used, mirroring a hardware CAM lookup's effect on
// replacement order.
func (c *Cache) Lookup(mac satcat5.MacAddr) (port int, ok bool) {
	idx, ok := c.byMAC[mac]
	if !ok {
		return 0, false
	}
	c.unlink(idx)
	c.pushFront(idx)
	return c.nodes[idx].port, true
}

// Peek is Lookup without the LRU-promotion side effect, for tests and
// telemetry that must not disturb eviction order.
func (c *Cache) Peek(mac satcat5.MacAddr) (port int, ok bool) {
	idx, ok := c.byMAC[mac]
	if !ok {
		return 0, false
	}
	return c.nodes[idx].port, true
}

// Forget removes mac from the cache, e.g. when a port goes down and its
// learned entries should no longer steer traffic to it.
func (c *Cache) Forget(mac satcat5.MacAddr) {
	idx, ok := c.byMAC[mac]
	if !ok {
		return
	}
	c.unlink(idx)
	delete(c.byMAC, mac)
	c.free = append(c.free, idx)
}

// Plugin adapts Cache as a switchcore.PluginCore: it learns the source MAC
// of every unicast frame and narrows DstMask accordingly — a broadcast
// destination floods, the all-zero "NONE" address drops, a known unicast
// destination narrows to its one learned port, and an unknown destination
// falls back to MissMask, typically "flood".
type Plugin struct {
	Cache *Cache

	// MissMask is the candidate egress set for a destination MAC with no
	// cache entry. The default zero value means "drop silently"; callers
	// normally set this to the switch's all-ports mask to flood unknowns
	// like a conventional learning bridge.
	MissMask switchcore.PortMask

	// LearningEnabled gates whether source addresses are recorded. When
	// false the cache is consulted but never updated, e.g. on an
	// untrusted port.
	LearningEnabled bool
}

// NewPlugin returns a Plugin backed by a fresh Cache of the given
// capacity, with learning enabled and MissMask set to flood every port
// (the caller should narrow MissMask to exclude the ingress port itself by
// ANDing with PluginPacket.DstMask, which Query already does).
func NewPlugin(capacity int, floodMask switchcore.PortMask) *Plugin {
	return &Plugin{Cache: New(capacity), MissMask: floodMask, LearningEnabled: true}
}

// Query implements switchcore.PluginCore.
func (p *Plugin) Query(pkt *switchcore.PluginPacket) {
	src := satcat5.MacAddr(*pkt.Hdr.SourceHardwareAddr())
	if p.LearningEnabled && src.IsUnicast() {
		p.Cache.Learn(src, pkt.SrcPort)
	}

	dst := satcat5.MacAddr(*pkt.Hdr.DestinationHardwareAddr())
	switch {
	case dst.IsBroadcast():
		// dst_mask already excludes the source port; leave it as-is.
	case dst.IsNone():
		pkt.DstMask = 0
	default:
		if port, ok := p.Cache.Lookup(dst); ok {
			pkt.DstMask &= 1 << uint(port)
		} else {
			pkt.DstMask &= p.MissMask
		}
	}
}

var _ switchcore.PluginCore = (*Plugin)(nil)
