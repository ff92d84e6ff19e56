package udp

// sizeHeader is the fixed 8-byte length of a UDP header: source port,
// destination port, length, checksum.
const sizeHeader = 8
