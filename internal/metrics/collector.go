// Package metrics exposes switchcore.SwitchPort and router counters as
// Prometheus metrics, grounded on dantte-lp/gobfd/internal/metrics
// (bfdmetrics.Collector)'s shape: one Collector struct holding every
// metric vector, constructed once and registered against a
// prometheus.Registerer, with small update methods called periodically
// from the daemon's event loop rather than on every packet.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/the-aerospace-corporation/satcat5-sub003/router"
	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

const (
	namespace = "satcat5"
	subsystem = "switch"
)

const labelPort = "port"

// Collector holds every Prometheus metric this daemon exposes. The
// switch's own counters (switchcore.PortStats, switchcore.DropStats) are
// plain accumulating fields updated synchronously inside the single
// cooperative event loop, not atomics; Collector mirrors a snapshot of
// them into Prometheus gauges each time Update is called rather than
// incrementing a counter per packet, so it never races the hot path.
type Collector struct {
	RxFrames      *prometheus.GaugeVec
	TxFrames      *prometheus.GaugeVec
	RxBytes       *prometheus.GaugeVec
	TxBytes       *prometheus.GaugeVec
	ErrMAC        *prometheus.GaugeVec
	ErrOverflowRx *prometheus.GaugeVec
	ErrOverflowTx *prometheus.GaugeVec
	ErrPkt        *prometheus.GaugeVec
	PTPRx         *prometheus.GaugeVec
	PTPTx         *prometheus.GaugeVec
	LinkUp        *prometheus.GaugeVec

	// Drops tallies switch-wide drop counts labeled by DropCode name
	// (vlan, acl, cache_miss, rate_limit, port_down, router_policy,
	// no_route, ttl_expired, pkt_err), mirroring switchcore.DropStats.
	Drops *prometheus.GaugeVec

	// RouterPendingDeferrals mirrors router.Router.PendingDeferrals, the
	// number of datagrams currently waiting on an ARP reply for their
	// next hop.
	RouterPendingDeferrals prometheus.Gauge
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.RxFrames, c.TxFrames, c.RxBytes, c.TxBytes,
		c.ErrMAC, c.ErrOverflowRx, c.ErrOverflowTx, c.ErrPkt,
		c.PTPRx, c.PTPTx, c.LinkUp,
		c.Drops, c.RouterPendingDeferrals,
	)

	return c
}

func newMetrics() *Collector {
	portLabels := []string{labelPort}

	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, portLabels)
	}

	return &Collector{
		RxFrames:      gauge("port_rx_frames", "Frames received on this port."),
		TxFrames:      gauge("port_tx_frames", "Frames transmitted on this port."),
		RxBytes:       gauge("port_rx_bytes", "Bytes received on this port."),
		TxBytes:       gauge("port_tx_bytes", "Bytes transmitted on this port."),
		ErrMAC:        gauge("port_errors_mac", "MAC-layer errors on this port."),
		ErrOverflowRx: gauge("port_errors_overflow_rx", "Ingress arena overflow drops on this port."),
		ErrOverflowTx: gauge("port_errors_overflow_tx", "Egress overflow drops on this port."),
		ErrPkt:        gauge("port_errors_pkt", "Header parse errors on this port."),
		PTPRx:         gauge("port_ptp_rx", "PTP frames received on this port."),
		PTPTx:         gauge("port_ptp_tx", "PTP frames transmitted on this port."),
		LinkUp:        gauge("port_link_up", "1 if the port's link is enabled, else 0."),

		Drops: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "drops_total",
			Help:      "Packets dropped by the ingress plugin chain, by reason.",
		}, []string{"reason"}),

		RouterPendingDeferrals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "pending_deferrals",
			Help:      "Datagrams currently awaiting ARP resolution of their next hop.",
		}),
	}
}

// portName resolves ports[idx] if present, else falls back to a numeric
// label so an unnamed/extra port still reports under a stable key.
func portName(ports []string, idx int) string {
	if idx >= 0 && idx < len(ports) && ports[idx] != "" {
		return ports[idx]
	}
	return "port" + strconv.Itoa(idx)
}

// Update snapshots every registered SwitchPort's counters and the
// switch-wide DropStats into the corresponding gauges. ports supplies the
// configured name for each port index in order; a short or nil slice
// falls back to "port<N>".
func (c *Collector) Update(sw *switchcore.Switch, ports []string) {
	for i := 0; i < sw.NumPorts(); i++ {
		p := sw.Port(i)
		if p == nil {
			continue
		}
		name := portName(ports, i)
		st := p.Stats
		c.RxFrames.WithLabelValues(name).Set(float64(st.RxFrames))
		c.TxFrames.WithLabelValues(name).Set(float64(st.TxFrames))
		c.RxBytes.WithLabelValues(name).Set(float64(st.RxBytes))
		c.TxBytes.WithLabelValues(name).Set(float64(st.TxBytes))
		c.ErrMAC.WithLabelValues(name).Set(float64(st.ErrMAC))
		c.ErrOverflowRx.WithLabelValues(name).Set(float64(st.ErrOverflowRx))
		c.ErrOverflowTx.WithLabelValues(name).Set(float64(st.ErrOverflowTx))
		c.ErrPkt.WithLabelValues(name).Set(float64(st.ErrPkt))
		c.PTPRx.WithLabelValues(name).Set(float64(st.PTPRx))
		c.PTPTx.WithLabelValues(name).Set(float64(st.PTPTx))
		up := 0.0
		if p.LinkUp() {
			up = 1.0
		}
		c.LinkUp.WithLabelValues(name).Set(up)
	}

	d := sw.Drops
	c.Drops.WithLabelValues("pkt_err").Set(float64(d.PktErr))
	c.Drops.WithLabelValues("vlan").Set(float64(d.VLAN))
	c.Drops.WithLabelValues("acl").Set(float64(d.ACL))
	c.Drops.WithLabelValues("cache_miss").Set(float64(d.CacheMiss))
	c.Drops.WithLabelValues("rate_limit").Set(float64(d.RateLimit))
	c.Drops.WithLabelValues("port_down").Set(float64(d.PortDown))
	c.Drops.WithLabelValues("router_policy").Set(float64(d.RouterPolicy))
	c.Drops.WithLabelValues("no_route").Set(float64(d.NoRoute))
	c.Drops.WithLabelValues("ttl_expired").Set(float64(d.TTLExpired))
}

// UpdateRouter snapshots r's pending-deferral count. r may be nil when the
// daemon is running as a pure L2 switch with routing disabled.
func (c *Collector) UpdateRouter(r *router.Router) {
	if r == nil {
		c.RouterPendingDeferrals.Set(0)
		return
	}
	c.RouterPendingDeferrals.Set(float64(r.PendingDeferrals()))
}
