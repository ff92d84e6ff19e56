package router

import (
	"encoding/binary"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/ethernet"
	"github.com/the-aerospace-corporation/satcat5-sub003/icmp"
	"github.com/the-aerospace-corporation/satcat5-sub003/ipv4"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

const ipHeaderLen = 20

// sendICMPError builds a complete Ethernet+IPv4+ICMP error datagram and
// transmits it directly out tx, addressed to dstMAC/dstIP. It bypasses
// ipv4.Dispatch/icmp.Protocol's OpenReply entirely: those build a reply to
// whatever frame was most recently received by the *local* IP stack, which
// is never the router's own forwarding path (a datagram the router is
// forwarding was never addressed to the router and so never touches
// ipv4.Dispatch.FrameRcvd's reply-context bookkeeping, and a deferred
// forwarding timeout fires well after any such context would still be
// valid). The original packet's own source MAC/IP, captured synchronously
// off the dropped frame, is all sendICMPError needs.
//
// ipHeader is the first 20 bytes of the original IPv4 header (no options:
// routed datagrams with options are rejected earlier) and origPayload is
// up to the first 8 bytes of its payload, both echoed back per RFC 792.
func sendICMPError(tx switchcore.PortWriter, srcMAC, dstMAC satcat5.MacAddr, srcIP, dstIP satcat5.IpAddr, vtag ethernet.VLANTag, kind icmp.Type, code uint8, ipHeader, origPayload []byte) {
	if !srcIP.IsUnicast() || !dstIP.IsUnicast() {
		return
	}
	bodyLen := 8 + len(ipHeader) + len(origPayload)
	total := 14 + 4 + ipHeaderLen + bodyLen
	buf, ok := tx.Reserve(total)
	if !ok {
		return
	}

	ethLen := 14
	copy(buf[0:6], dstMAC[:])
	copy(buf[6:12], srcMAC[:])
	if vtag != 0 {
		buf[12], buf[13] = byte(ethernet.TypeVLAN>>8), byte(ethernet.TypeVLAN&0xff)
		binary.BigEndian.PutUint16(buf[14:16], uint16(vtag))
		binary.BigEndian.PutUint16(buf[16:18], uint16(ethernet.TypeIPv4))
		ethLen = 18
	} else {
		buf[12], buf[13] = byte(ethernet.TypeIPv4>>8), byte(ethernet.TypeIPv4&0xff)
	}

	ifrm, _ := ipv4.NewFrame(buf[ethLen : ethLen+ipHeaderLen])
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTTL(64)
	ifrm.SetProtocol(satcat5.IPProtoICMP)
	ifrm.SetTotalLength(uint16(ipHeaderLen + bodyLen))
	*ifrm.SourceAddr() = addr4(srcIP)
	*ifrm.DestinationAddr() = addr4(dstIP)
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	off := ethLen + ipHeaderLen
	errFrm, _ := icmp.NewFrame(buf[off : off+bodyLen])
	errFrm.SetType(kind)
	errFrm.SetCode(code)
	errFrm.SetCRC(0)
	binary.BigEndian.PutUint32(buf[off+4:off+8], 0)
	copy(buf[off+8:], ipHeader)
	copy(buf[off+8+len(ipHeader):], origPayload)

	var crc satcat5.CRC791
	errFrm.CRCWrite(&crc)
	errFrm.SetCRC(crc.Sum16())

	tx.Send(buf, total)
}

func addr4(ip satcat5.IpAddr) [4]byte {
	var b [4]byte
	ip.PutBytes(b[:])
	return b
}
