package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/the-aerospace-corporation/satcat5-sub003/switchcore"
)

type fakePort struct {
	sent [][]byte
}

func (w *fakePort) Reserve(n int) ([]byte, bool) { return make([]byte, n), true }
func (w *fakePort) Send(buf []byte, n int) error {
	cp := make([]byte, n)
	copy(cp, buf[:n])
	w.sent = append(w.sent, cp)
	return nil
}

func TestNewCollectorRegistersWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
}

func TestUpdateSnapshotsPortStats(t *testing.T) {
	sw := switchcore.New(16, 1518, nil)
	p0 := &fakePort{}
	p1 := &fakePort{}
	sw.AddPort(p0, switchcore.VLANConfig{})
	sw.AddPort(p1, switchcore.VLANConfig{})

	frame := make([]byte, 14+46)
	copy(frame[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(frame[6:12], []byte{0x02, 0, 0, 0, 0, 2})
	frame[12], frame[13] = 0x88, 0xB5

	w, ok := sw.OpenWrite(0)
	if !ok {
		t.Fatal("arena full")
	}
	w.WriteBytes(frame)
	if !w.WriteFinalize() {
		t.Fatal("write overflow")
	}
	sw.FrameRcvd(0, w.Index())

	c := newMetrics()
	c.Update(sw, []string{"a", "b"})

	if got := testutil.ToFloat64(c.RxFrames.WithLabelValues("a")); got != 1 {
		t.Errorf("RxFrames[a] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.TxFrames.WithLabelValues("b")); got != 1 {
		t.Errorf("TxFrames[b] = %v, want 1 (flooded broadcast)", got)
	}
}

func TestPortNameFallsBackToNumericLabel(t *testing.T) {
	if got := portName(nil, 3); got != "port3" {
		t.Errorf("portName(nil, 3) = %q, want port3", got)
	}
	if got := portName([]string{"eth0"}, 1); got != "port1" {
		t.Errorf("portName with short slice = %q, want port1", got)
	}
	if got := portName([]string{"eth0", "eth1"}, 1); got != "eth1" {
		t.Errorf("portName = %q, want eth1", got)
	}
}

func TestUpdateRouterNilZeroesGauge(t *testing.T) {
	c := newMetrics()
	c.RouterPendingDeferrals.Set(5)
	c.UpdateRouter(nil)
	if got := testutil.ToFloat64(c.RouterPendingDeferrals); got != 0 {
		t.Errorf("RouterPendingDeferrals after UpdateRouter(nil) = %v, want 0", got)
	}
}
