package satcat5

// IPProto is an IPv4 protocol number (the IP header's Protocol field).
type IPProto uint8

// Protocol numbers used by the core dispatch chain. The full IANA registry
// is not reproduced; callers needing other values can construct IPProto
// directly, it is a plain numeric type.
const (
	IPProtoICMP IPProto = 1  // Internet Control Message [RFC792]
	IPProtoTCP  IPProto = 6  // Transmission Control [RFC793] (parsed, not forwarded; see Non-goals)
	IPProtoUDP  IPProto = 17 // User Datagram [RFC768]
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	default:
		return "unknown"
	}
}
