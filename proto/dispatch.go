// Package proto defines the Dispatch/Protocol contract shared by every
// network layer in this module (Ethernet, IPv4, ARP, ICMP, UDP): a Dispatch
// owns an ordered list of Protocols, each filtered by a satcat5.Type, and
// offers each incoming frame to the first Protocol whose Type matches.
//
// Frame handlers elsewhere in this module each take a *Stack-like owner
// and read/write through it directly; this package pulls the
// registration/delivery loop they share into one explicit interface
// instead of three copies of the same code.
package proto

import (
	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
)

// Protocol is a handler bound to exactly one Dispatch and filtered by
// exactly one Type. FrameRcvd is the single entry point: implementations
// read the payload from src and may call back into their Dispatch to reply.
type Protocol interface {
	// BoundType returns the Type this Protocol matches against. It must
	// not change while the Protocol is registered.
	BoundType() satcat5.Type
	// FrameRcvd is called with the remaining, not-yet-consumed payload
	// once a Dispatch has matched this Protocol's Type.
	FrameRcvd(src satcat5.Readable)
}

// Dispatch maintains an ordered list of bound Protocols and offers each
// incoming frame to the first one whose Type matches, in registration
// order. It is the shared base embedded by every per-layer dispatcher
// (Ethernet, IPv4, UDP).
type Dispatch struct {
	protocols []Protocol
}

// Register appends p to the dispatch list. Protocols are tried in the
// order they were registered, so more specific matches should register
// before more general ones if both could otherwise claim the same frame.
func (d *Dispatch) Register(p Protocol) {
	d.protocols = append(d.protocols, p)
}

// Unregister removes p from the dispatch list. It is a no-op if p is not
// registered.
func (d *Dispatch) Unregister(p Protocol) {
	for i, q := range d.protocols {
		if q == p {
			d.protocols = append(d.protocols[:i], d.protocols[i+1:]...)
			return
		}
	}
}

// Deliver offers typ to each registered Protocol in order and calls
// FrameRcvd on the first whose BoundType matches. It reports whether any
// Protocol accepted the frame; callers use this to decide whether to try
// an alternate Type (e.g. Ethernet retrying (EtherType) after
// (VID,EtherType) failed) or to raise a protocol/port-unreachable error.
func (d *Dispatch) Deliver(typ satcat5.Type, src satcat5.Readable) bool {
	for _, p := range d.protocols {
		if p.BoundType().Matches(typ) {
			p.FrameRcvd(src)
			return true
		}
	}
	return false
}

// Protocols returns the live registration list. Callers must not retain or
// mutate the returned slice past the next Register/Unregister call.
func (d *Dispatch) Protocols() []Protocol {
	return d.protocols
}
