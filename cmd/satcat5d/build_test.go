package main

import (
	"testing"

	"github.com/the-aerospace-corporation/satcat5-sub003/internal/config"
)

func sampleConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Switch.Ports = []config.PortConfig{
		{Name: "eth0", Listen: "127.0.0.1:0", Peer: "127.0.0.1:0"},
		{Name: "eth1", Listen: "127.0.0.1:0", Peer: "127.0.0.1:0"},
	}
	return cfg
}

func TestBuildDaemonWithoutRouterRegistersPorts(t *testing.T) {
	cfg := sampleConfig()
	d, err := buildDaemon(cfg, nil)
	if err != nil {
		t.Fatalf("buildDaemon: %v", err)
	}
	defer closePorts(d)

	if d.sw.NumPorts() != 2 {
		t.Fatalf("NumPorts = %d, want 2", d.sw.NumPorts())
	}
	if idx, ok := d.byName["eth0"]; !ok || idx != 0 {
		t.Errorf("eth0 index = %d, ok=%v, want 0, true", idx, ok)
	}
	if idx, ok := d.byName["eth1"]; !ok || idx != 1 {
		t.Errorf("eth1 index = %d, ok=%v, want 1, true", idx, ok)
	}
	if d.router != nil {
		t.Errorf("expected no router when Router.Enabled is false")
	}
}

func TestBuildDaemonWithVlanSectionRegistersPorts(t *testing.T) {
	cfg := sampleConfig()
	cfg.Switch.Vlans = []config.VlanConfig{
		{VID: 10, Ports: []string{"eth0"}, TokMax: 1000, TokRate: 1, Policy: "strict"},
	}
	d, err := buildDaemon(cfg, nil)
	if err != nil {
		t.Fatalf("buildDaemon: %v", err)
	}
	defer closePorts(d)

	if d.sw.NumPorts() != 2 {
		t.Fatalf("NumPorts = %d, want 2", d.sw.NumPorts())
	}
}

func TestBuildDaemonWithRouterWiresCPUPort(t *testing.T) {
	cfg := sampleConfig()
	cfg.Router.Enabled = true
	cfg.Router.OurIP = "10.0.0.1"
	cfg.Router.OurMAC = "02:00:00:00:00:01"
	cfg.Router.Routes = []config.RouteEntryConfig{
		{Subnet: "192.168.1.0/24", NextHop: "10.0.0.2", Port: "eth1"},
	}

	d, err := buildDaemon(cfg, nil)
	if err != nil {
		t.Fatalf("buildDaemon: %v", err)
	}
	defer closePorts(d)

	if d.router == nil {
		t.Fatal("expected a non-nil router when Router.Enabled is true")
	}
	// The CPU port is registered after the two configured ports.
	if d.sw.NumPorts() != 3 {
		t.Fatalf("NumPorts = %d, want 3 (2 configured + CPU port)", d.sw.NumPorts())
	}
}

func TestBuildDaemonRejectsUnknownRoutePort(t *testing.T) {
	cfg := sampleConfig()
	cfg.Router.Enabled = true
	cfg.Router.OurIP = "10.0.0.1"
	cfg.Router.OurMAC = "02:00:00:00:00:01"
	cfg.Router.Routes = []config.RouteEntryConfig{
		{Subnet: "192.168.1.0/24", NextHop: "10.0.0.2", Port: "nonexistent"},
	}

	if _, err := buildDaemon(cfg, nil); err == nil {
		t.Fatal("expected an error for a route naming an unconfigured port")
	}
}

func closePorts(d *daemon) {
	for _, p := range d.ports {
		p.Close()
	}
}
