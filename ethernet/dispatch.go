package ethernet

import (
	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/proto"
)

// typeOf converts an EtherType into the satcat5.Type the generic Dispatch
// matches against.
func typeOf(et Type) satcat5.Type { return satcat5.NewType16(uint16(et)) }

// typeOfTagged converts a (VID, EtherType) pair into the packed Type a
// Protocol registers to receive frames on a specific VLAN.
func typeOfTagged(vid uint16, et Type) satcat5.Type {
	return satcat5.NewType16x2(vid, uint16(et))
}

// Dispatch parses the Ethernet header of each frame handed to DataRcvd and
// offers the remainder to registered Protocols. If VLAN support is enabled
// and the frame carries a tag, delivery is tried first with the packed
// (VID, EtherType) Type, then with the EtherType-only Type, mirroring the
// Open Question-documented symmetric Type match in satcat5.Type.
type Dispatch struct {
	proto.Dispatch

	vlanEnabled bool
	localMAC    [6]byte

	replyMAC [6]byte
	replyTag VLANTag
	haveTag  bool
}

// NewDispatch returns a Dispatch bound to localMAC. vlanEnabled controls
// whether tagged frames are parsed and re-tried as (EtherType)-only.
func NewDispatch(localMAC [6]byte, vlanEnabled bool) *Dispatch {
	return &Dispatch{localMAC: localMAC, vlanEnabled: vlanEnabled}
}

// DataRcvd reads the Ethernet header off src, which is positioned at the
// start of a frame, and delivers the remaining payload (src, now advanced
// past the header) to the first matching registered Protocol. It returns
// false if the header did not fit or no Protocol accepted it.
func (d *Dispatch) DataRcvd(src satcat5.Readable) bool {
	if src.GetReadReady() < sizeHeaderNoVLAN {
		return false
	}
	var hdr [18]byte
	if !src.ReadBytes(hdr[:sizeHeaderNoVLAN]) {
		return false
	}
	frm := Frame{buf: hdr[:sizeHeaderNoVLAN]}
	copy(d.replyMAC[:], frm.SourceHardwareAddr()[:])

	et := frm.EtherTypeOrSize()
	if d.vlanEnabled && et == TypeVLAN {
		if src.GetReadReady() < 4 || !src.ReadBytes(hdr[sizeHeaderNoVLAN:18]) {
			return false
		}
		frm = Frame{buf: hdr[:18]}
		tag, innerEt := frm.VLAN()
		d.replyTag = tag
		d.haveTag = true
		if d.Deliver(typeOfTagged(tag.VLANIdentifier(), innerEt), src) {
			return true
		}
		return d.Deliver(typeOf(innerEt), src)
	}

	d.haveTag = false
	return d.Deliver(typeOf(et), src)
}

// OpenWrite prepares an Ethernet header addressed to dst carrying EtherType
// et, optionally tagged with vtag, and returns the offset at which the
// payload should start being written. It rejects an all-zero destination
// and an EtherType below 1536 (which would collide with the length field
// of an untagged frame).
func (d *Dispatch) OpenWrite(buf []byte, dst [6]byte, et Type, vtag VLANTag) (hdrLen int, ok bool) {
	var none [6]byte
	if dst == none {
		return 0, false
	}
	if uint16(et) < 1536 {
		return 0, false
	}
	if len(buf) < 18 {
		return 0, false
	}
	copy(buf[0:6], dst[:])
	copy(buf[6:12], d.localMAC[:])
	frm := Frame{buf: buf}
	if vtag != 0 && d.vlanEnabled {
		frm.SetVLAN(vtag, et)
		return 18, true
	}
	frm.SetEtherType(et)
	return 14, true
}

// OpenReply is OpenWrite addressed back to the source of the most recently
// received frame, reusing its VLAN tag unless the caller supplies one.
func (d *Dispatch) OpenReply(buf []byte, et Type, vtag VLANTag) (hdrLen int, ok bool) {
	tag := vtag
	if tag == 0 && d.haveTag {
		tag = d.replyTag
	}
	return d.OpenWrite(buf, d.replyMAC, et, tag)
}
