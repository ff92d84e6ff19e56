package main

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/the-aerospace-corporation/satcat5-sub003/internal"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

// netPort is the daemon's own software stand-in for a hardware
// ConfigBus/TAP transport: one whole Ethernet frame per UDP datagram, sent
// to and received from a fixed peer address. It implements
// switchcore.PortWriter directly, so the Switch writes egress frames
// through it exactly like any other port.
type netPort struct {
	name string
	conn *net.UDPConn
	peer *net.UDPAddr
	mtu  int
}

func newNetPort(name, listen, peer string, mtu int) (*netPort, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	paddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &netPort{name: name, conn: conn, peer: paddr, mtu: mtu}, nil
}

// Reserve implements switchcore.PortWriter.
func (p *netPort) Reserve(n int) ([]byte, bool) {
	if n > p.mtu {
		return nil, false
	}
	return make([]byte, n), true
}

// Send implements switchcore.PortWriter: it ships buf[:n] as one UDP
// datagram to the configured peer.
func (p *netPort) Send(buf []byte, n int) error {
	_, err := p.conn.WriteToUDP(buf[:n], p.peer)
	return err
}

func (p *netPort) Close() error { return p.conn.Close() }

// run reads datagrams off the socket and injects each one as a received
// frame on the switch port at index, until ctx is cancelled.
func (p *netPort) run(ctx context.Context, sw *switchcore.Switch, index int, log *slog.Logger) error {
	go func() {
		<-ctx.Done()
		p.conn.Close()
	}()

	buf := make([]byte, p.mtu)
	backoff := internal.NewBackoff(0)
	for {
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if log != nil {
				log.Warn("netport: read failed", "port", p.name, "error", err)
			}
			// A transient error (e.g. ECONNREFUSED from an ICMP port-unreachable
			// on the peer) would otherwise spin this loop at full CPU.
			backoff.Miss()
			continue
		}
		backoff.Hit()
		if n == 0 {
			continue
		}
		w, ok := sw.OpenWrite(index)
		if !ok {
			continue
		}
		w.WriteBytes(buf[:n])
		if !w.WriteFinalize() {
			continue
		}
		sw.FrameRcvd(index, w.Index())
	}
}
