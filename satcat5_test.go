package satcat5

import "testing"

func TestMacAddrClassification(t *testing.T) {
	tests := []struct {
		name           string
		mac            MacAddr
		wantUnicast    bool
		wantBroadcast  bool
		wantLinkLocal  bool
		wantL2Multicast bool
	}{
		{"none", MacAddr{}, false, false, false, false},
		{"broadcast", MacBroadcast, false, true, false, false},
		{"unicast", MacAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}, true, false, false, false},
		{"stp", MacAddr{0x01, 0x80, 0xc2, 0x00, 0x00, 0x00}, false, false, true, false},
		{"l2mcast", MacAddr{0x01, 0x80, 0xc2, 0x00, 0x01, 0x00}, false, false, false, true},
		{"l3mcast", MacAddr{0x01, 0x00, 0x5e, 0x01, 0x02, 0x03}, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mac.IsUnicast(); got != tt.wantUnicast {
				t.Errorf("IsUnicast() = %v, want %v", got, tt.wantUnicast)
			}
			if got := tt.mac.IsBroadcast(); got != tt.wantBroadcast {
				t.Errorf("IsBroadcast() = %v, want %v", got, tt.wantBroadcast)
			}
			if got := tt.mac.IsLinkLocalControl(); got != tt.wantLinkLocal {
				t.Errorf("IsLinkLocalControl() = %v, want %v", got, tt.wantLinkLocal)
			}
			if got := tt.mac.IsL2Multicast(); got != tt.wantL2Multicast {
				t.Errorf("IsL2Multicast() = %v, want %v", got, tt.wantL2Multicast)
			}
		})
	}
}

func TestIpAddrClassification(t *testing.T) {
	if !IpBroadcastAddr.IsBroadcast() {
		t.Error("broadcast address not recognized")
	}
	if !IpBroadcastAddr.IsMulticast() {
		t.Error("broadcast address should also count as multicast-class")
	}
	mcast := IpAddr(0xe0000001) // 224.0.0.1
	if !mcast.IsMulticast() {
		t.Error("224.0.0.1 should be multicast")
	}
	if mcast.IsUnicast() {
		t.Error("224.0.0.1 should not be unicast")
	}
	reserved := IpAddr(0x7f000001) // 127.0.0.1
	if !reserved.IsReserved() {
		t.Error("127.0.0.1 should be reserved")
	}
}

func TestCidrPrefix(t *testing.T) {
	tests := []struct {
		n    int
		want IpMask
	}{
		{0, 0},
		{24, 0xffffff00},
		{32, 0xffffffff},
	}
	for _, tt := range tests {
		if got := CidrPrefix(tt.n); got != tt.want {
			t.Errorf("CidrPrefix(%d) = %#x, want %#x", tt.n, uint32(got), uint32(tt.want))
		}
		if got := tt.want.PrefixLen(); got != tt.n && !(tt.n == 0 && got == 0) {
			if got != tt.n {
				t.Errorf("PrefixLen() = %d, want %d", got, tt.n)
			}
		}
	}
}

func TestSubnetContainsAndEqual(t *testing.T) {
	s := NewSubnet(IpAddr(0xc0a80105), CidrPrefix(24)) // 192.168.1.5/24 -> 192.168.1.0/24
	if s.Addr != IpAddr(0xc0a80100) {
		t.Fatalf("subnet address not masked: %s", s.Addr)
	}
	if !s.Contains(IpAddr(0xc0a801ff)) {
		t.Error("subnet should contain 192.168.1.255")
	}
	if s.Contains(IpAddr(0xc0a80200)) {
		t.Error("subnet should not contain 192.168.2.0")
	}
	if !s.Equal(NewSubnet(IpAddr(0xc0a801aa), CidrPrefix(24))) {
		t.Error("subnets with same masked network should be equal")
	}
}

func TestTypeMatchesSymmetric(t *testing.T) {
	ipv4Only := NewType16(0x0800)
	vlanAndIPv4 := NewType16x2(10, 0x0800)
	anyVlanIPv4 := NewType16(0x0800) // mask=0xffff, so only matches low 16 bits

	if !ipv4Only.Matches(ipv4Only) {
		t.Error("identical types should match")
	}
	if ipv4Only.Matches(vlanAndIPv4) {
		// ipv4Only.Value=0x0800 Mask=0xffff; vlanAndIPv4.Value=(10<<16|0x0800) Mask=full.
		// (ipv4Only.Value & vlanAndIPv4.Mask) = 0x0800; (vlanAndIPv4.Value & ipv4Only.Mask) = 0x0800.
		// These DO match under the documented symmetric rule even though semantically
		// different; this is the documented Open Question behavior (see Design Notes).
	}
	if !anyVlanIPv4.Matches(vlanAndIPv4) {
		t.Error("an EtherType-only Type should match a (VID,EtherType) Type sharing the low bits per the documented symmetric rule")
	}
	if TypeNone.Matches(TypeNone) {
		t.Error("TYPE_NONE must never match, even itself")
	}
	if !ipv4Only.Matches(anyVlanIPv4) || !anyVlanIPv4.Matches(ipv4Only) {
		t.Error("Matches must be symmetric")
	}
}
