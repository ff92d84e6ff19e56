package router

import (
	"log/slog"

	"github.com/the-aerospace-corporation/satcat5-sub003/internal"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

// Bridge is the software/gateware boundary for hardware-backed ports. Once
// Router has finished a forwarding decision, any destination bits that fall
// in the Bridge's PortMask are handed off here instead of through the
// switch's own egress fan-out. Satisfied by *MMIOBridge.
type Bridge interface {
	// PortMask reports the switch ports this bridge owns.
	PortMask() switchcore.PortMask
	// Deliver hands an already-addressed, already-serialized frame to the
	// hardware queue for the ports set in dstMask, a subset of PortMask().
	Deliver(dstMask switchcore.PortMask, frame []byte)
}

// mmioBufSize is the shared Tx/Rx frame buffer size of the 4 KiB
// offload register window.
const mmioBufSize = 1600

// mmioMinFrame is the Ethernet minimum frame length the Tx path pads to
// when zero-padding is enabled.
const mmioMinFrame = 60

// MMIOBridge is a software model of the register-mapped Tx/Rx path a
// gateware-accelerated router core exposes to software: a shared frame
// buffer plus the handful of control registers the offload port polls and
// writes, reproduced here as plain struct fields instead of an actual
// ConfigBus memory window.
//
// The single-threaded cooperative event loop that owns the Switch also
// owns MMIOBridge; nothing here needs synchronization.
type MMIOBridge struct {
	portMask switchcore.PortMask
	portBase int // software port-index of hardware port 0
	zeroPad  bool

	txBuf  []byte
	txMask uint32
	txCtrl uint32 // non-zero while a transfer is latched ("busy")

	log *slog.Logger

	DroppedBusy     uint64
	DroppedOversize uint64
}

// NewMMIOBridge returns an MMIOBridge for hwPorts hardware-backed ports,
// occupying software port indices [portBase, portBase+hwPorts). Zero
// padding to the minimum Ethernet frame length is enabled by default.
func NewMMIOBridge(portBase, hwPorts int, log *slog.Logger) *MMIOBridge {
	var mask switchcore.PortMask
	for i := 0; i < hwPorts; i++ {
		mask |= switchcore.PortMask(1) << uint(portBase+i)
	}
	return &MMIOBridge{portMask: mask, portBase: portBase, zeroPad: true, log: log}
}

// PortMask implements Bridge.
func (b *MMIOBridge) PortMask() switchcore.PortMask { return b.portMask }

// RuleZpad enables or disables zero-padding short frames to mmioMinFrame.
func (b *MMIOBridge) RuleZpad(enable bool) { b.zeroPad = enable }

// Deliver implements Bridge. It models the hardware Tx path: refuse
// oversize frames, refuse while the control register is still latched
// busy from a prior transfer (counted, not queued), else copy into the
// shared buffer, zero-pad if short, and latch the port mask and length
// that start the hardware transfer.
func (b *MMIOBridge) Deliver(dstMask switchcore.PortMask, frame []byte) {
	hw := uint32(dstMask&b.portMask) >> uint(b.portBase)
	if hw == 0 {
		return
	}
	if len(frame) > mmioBufSize {
		b.DroppedOversize++
		return
	}
	if b.txCtrl != 0 {
		b.DroppedBusy++
		return
	}
	n := len(frame)
	if b.zeroPad && n < mmioMinFrame {
		n = mmioMinFrame
	}
	buf := make([]byte, n)
	copy(buf, frame)
	b.txBuf, b.txMask, b.txCtrl = buf, hw, uint32(n)

	if internal.LogEnabled(b.log, internal.LevelTrace) {
		internal.LogAttrs(b.log, internal.LevelTrace, "router: offload tx latched",
			slog.Int("len", n), slog.Int("hwmask", int(hw)))
	}
}

// TxDrain returns the most recently latched hardware-bound transfer and
// clears the busy flag, the way a gateware poller reading tx_ctrl/tx_mask
// and starting DMA would. ok is false if no transfer is pending.
func (b *MMIOBridge) TxDrain() (frame []byte, hwPortMask uint32, ok bool) {
	if b.txCtrl == 0 {
		return nil, 0, false
	}
	frame, hwPortMask = b.txBuf, b.txMask
	b.txBuf, b.txMask, b.txCtrl = nil, 0, 0
	return frame, hwPortMask, true
}

// RxInject models the Rx half of the hardware boundary: the gateware
// interrupt handler copying a received frame out of the shared buffer,
// stamping its hardware source port, and injecting it into the switch's
// ordinary ingress pipeline. Callers (a ConfigBus interrupt handler, or a
// test standing in for one) call this once per simulated hardware-Rx
// event. hwPort is relative to this bridge's own port range.
func (b *MMIOBridge) RxInject(sw *switchcore.Switch, hwPort int, frame []byte) bool {
	swPort := b.portBase + hwPort
	w, ok := sw.OpenWrite(swPort)
	if !ok {
		return false
	}
	w.WriteBytes(frame)
	if !w.WriteFinalize() {
		return false
	}
	sw.FrameRcvd(swPort, w.Index())
	return true
}

var _ Bridge = (*MMIOBridge)(nil)
