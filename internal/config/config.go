// Package config loads cmd/satcat5d's daemon configuration from YAML with
// environment-variable overrides, the same koanf/v2 stack and struct-tag
// style as dantte-lp/gobfd's internal/config.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	satcat5 "github.com/the-aerospace-corporation/satcat5-sub003"
	"github.com/the-aerospace-corporation/satcat5-sub003/internal"
)

// Config holds the complete satcat5d daemon configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Switch  SwitchConfig  `koanf:"switch"`
	Router  RouterConfig  `koanf:"router"`
}

// LogConfig controls the daemon's slog output.
type LogConfig struct {
	// Level is one of "trace", "debug", "info", "warn", "error". "trace"
	// enables the per-frame diagnostic logging switchcore and the protocol
	// packages gate behind internal.LevelTrace.
	Level string `koanf:"level"`
	// Format is "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// PortConfig describes one SwitchPort and the UDP-framed virtual wire it
// is attached to. Real ConfigBus/TAP transports are external hardware
// collaborators; this is the daemon's own software stand-in.
type PortConfig struct {
	Name string `koanf:"name"`
	// Listen is the local UDP address this port receives frames on.
	Listen string `koanf:"listen"`
	// Peer is the remote UDP address frames are sent to.
	Peer string `koanf:"peer"`

	DefaultVID uint16 `koanf:"default_vid"`
	DefaultPCP uint8  `koanf:"default_pcp"`
	DefaultDEI bool   `koanf:"default_dei"`
	// TagPolicy is one of "admit_all", "restrict", "priority", "mandatory".
	TagPolicy string `koanf:"tag_policy"`
}

// VlanConfig describes one VID's port membership and token-bucket rate
// policy, mirroring vlan.VIDConfig.
type VlanConfig struct {
	VID   uint16   `koanf:"vid"`
	Ports []string `koanf:"ports"`

	TokMax  uint32 `koanf:"tok_max"`
	TokRate uint32 `koanf:"tok_rate"`
	// Policy is one of "unlimited", "demote", "strict", "auto".
	Policy string `koanf:"policy"`
}

// SwitchConfig describes the switch fabric: its ports, VLAN table, and
// arena sizing.
type SwitchConfig struct {
	Ports []PortConfig `koanf:"ports"`
	Vlans []VlanConfig `koanf:"vlans"`

	MACCacheSize  int `koanf:"mac_cache_size"`
	BufferPackets int `koanf:"buffer_packets"`
	MaxFrameLen   int `koanf:"max_frame_len"`

	Scale256x bool `koanf:"vrate_scale_256x"`
}

// RouteEntryConfig is one static routing-table entry.
type RouteEntryConfig struct {
	// Subnet is a CIDR prefix, e.g. "192.168.1.0/24".
	Subnet  string `koanf:"subnet"`
	NextHop string `koanf:"next_hop"`
	// Port optionally pins the entry to one configured port by name.
	Port string `koanf:"port"`
}

// RouterConfig describes the IPv4 forwarding plane layered on top of the
// switch fabric. Router.Enabled=false runs as a pure L2 switch.
type RouterConfig struct {
	Enabled bool   `koanf:"enabled"`
	OurIP   string `koanf:"our_ip"`
	OurMAC  string `koanf:"our_mac"`
	// CPUPort names the virtual port the local IP stack (ARP/ICMP/UDP)
	// attaches to; it does not correspond to a configured PortConfig.
	CPUPort string `koanf:"cpu_port"`

	Routes       []RouteEntryConfig `koanf:"routes"`
	DefaultRoute string             `koanf:"default_route"`

	LocalBroadcast bool `koanf:"local_broadcast"`
	BlockNonIP     bool `koanf:"block_non_ip"`
	BlockMulticast bool `koanf:"block_multicast"`
	BlockBroadcast bool `koanf:"block_broadcast"`
	BlockBadDMAC   bool `koanf:"block_bad_dmac"`

	DeferCapacity int `koanf:"defer_capacity"`
	RetryMsec     int `koanf:"retry_msec"`
	RetryMax      int `koanf:"retry_max"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults for a
// small all-software switch with routing disabled.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9110",
			Path: "/metrics",
		},
		Switch: SwitchConfig{
			MACCacheSize:  64,
			BufferPackets: 64,
			MaxFrameLen:   1518,
		},
		Router: RouterConfig{
			DeferCapacity: 64,
			RetryMsec:     10,
			RetryMax:      4,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for satcat5d configuration.
// Variables are named SATCAT5D_<section>_<key>, e.g. SATCAT5D_METRICS_ADDR.
const envPrefix = "SATCAT5D_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (SATCAT5D_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms SATCAT5D_METRICS_ADDR -> metrics.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
		"metrics.addr":            defaults.Metrics.Addr,
		"metrics.path":            defaults.Metrics.Path,
		"switch.mac_cache_size":   defaults.Switch.MACCacheSize,
		"switch.buffer_packets":   defaults.Switch.BufferPackets,
		"switch.max_frame_len":    defaults.Switch.MaxFrameLen,
		"router.defer_capacity":   defaults.Router.DeferCapacity,
		"router.retry_msec":       defaults.Router.RetryMsec,
		"router.retry_max":        defaults.Router.RetryMax,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

var (
	ErrNoPorts              = errors.New("switch.ports must not be empty")
	ErrEmptyPortName        = errors.New("port name must not be empty")
	ErrDuplicatePortName    = errors.New("duplicate port name")
	ErrInvalidTagPolicy     = errors.New("tag_policy must be admit_all, restrict, priority, or mandatory")
	ErrInvalidRatePolicy    = errors.New("vlan policy must be unlimited, demote, strict, or auto")
	ErrUnknownVlanPort      = errors.New("vlan references an unknown port name")
	ErrInvalidRouteSubnet   = errors.New("route subnet is not a valid CIDR prefix")
	ErrInvalidRouteNextHop  = errors.New("route next_hop is not a valid IPv4 address")
	ErrUnknownRoutePort     = errors.New("route references an unknown port name")
	ErrRouterNeedsAddr      = errors.New("router.enabled requires our_ip and our_mac")
	ErrInvalidRouterAddr    = errors.New("router our_ip/our_mac failed to parse")
	ErrInvalidDefaultRoute  = errors.New("router.default_route is not a valid IPv4 address")
)

// ValidTagPolicies lists the recognized PortConfig.TagPolicy strings.
var ValidTagPolicies = map[string]bool{
	"admit_all": true, "restrict": true, "priority": true, "mandatory": true,
}

// ValidRatePolicies lists the recognized VlanConfig.Policy strings.
var ValidRatePolicies = map[string]bool{
	"unlimited": true, "demote": true, "strict": true, "auto": true,
}

// Validate checks the configuration for logical errors, returning the
// first one encountered.
func Validate(cfg *Config) error {
	if len(cfg.Switch.Ports) == 0 {
		return ErrNoPorts
	}

	names := make(map[string]struct{}, len(cfg.Switch.Ports))
	for i, p := range cfg.Switch.Ports {
		if p.Name == "" {
			return fmt.Errorf("switch.ports[%d]: %w", i, ErrEmptyPortName)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("switch.ports[%d] %q: %w", i, p.Name, ErrDuplicatePortName)
		}
		names[p.Name] = struct{}{}
		if p.TagPolicy != "" && !ValidTagPolicies[p.TagPolicy] {
			return fmt.Errorf("switch.ports[%d] %q: %w", i, p.TagPolicy, ErrInvalidTagPolicy)
		}
	}

	for i, v := range cfg.Switch.Vlans {
		if v.Policy != "" && !ValidRatePolicies[v.Policy] {
			return fmt.Errorf("switch.vlans[%d]: %w", i, ErrInvalidRatePolicy)
		}
		for _, pn := range v.Ports {
			if _, ok := names[pn]; !ok {
				return fmt.Errorf("switch.vlans[%d] port %q: %w", i, pn, ErrUnknownVlanPort)
			}
		}
	}

	if err := validateRouter(cfg, names); err != nil {
		return err
	}

	return nil
}

func validateRouter(cfg *Config, portNames map[string]struct{}) error {
	r := cfg.Router
	if !r.Enabled {
		return nil
	}
	if r.OurIP == "" || r.OurMAC == "" {
		return ErrRouterNeedsAddr
	}
	if _, err := ParseIPAddr(r.OurIP); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRouterAddr, err)
	}
	if _, err := ParseMACAddr(r.OurMAC); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRouterAddr, err)
	}
	if r.DefaultRoute != "" {
		if _, err := ParseIPAddr(r.DefaultRoute); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDefaultRoute, err)
		}
	}
	for i, rt := range r.Routes {
		if _, _, err := ParseSubnet(rt.Subnet); err != nil {
			return fmt.Errorf("router.routes[%d]: %w: %w", i, ErrInvalidRouteSubnet, err)
		}
		if _, err := ParseIPAddr(rt.NextHop); err != nil {
			return fmt.Errorf("router.routes[%d]: %w: %w", i, ErrInvalidRouteNextHop, err)
		}
		if rt.Port != "" {
			if _, ok := portNames[rt.Port]; !ok {
				return fmt.Errorf("router.routes[%d] port %q: %w", i, rt.Port, ErrUnknownRoutePort)
			}
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Address parsing helpers
// -------------------------------------------------------------------------

// ParseIPAddr parses a dotted-quad IPv4 address into satcat5.IpAddr.
func ParseIPAddr(s string) (satcat5.IpAddr, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("%q is not an IPv4 address", s)
	}
	return satcat5.IpAddrFromBytes(v4), nil
}

// ParseMACAddr parses a colon- or dash-separated hardware address into
// satcat5.MacAddr.
func ParseMACAddr(s string) (satcat5.MacAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return satcat5.MacAddr{}, err
	}
	if len(hw) != 6 {
		return satcat5.MacAddr{}, fmt.Errorf("%q is not a 6-octet MAC address", s)
	}
	var m satcat5.MacAddr
	copy(m[:], hw)
	return m, nil
}

// ParseSubnet parses a CIDR string ("192.168.1.0/24") into a satcat5.IpSubnet
// and its prefix length.
func ParseSubnet(s string) (satcat5.IpSubnet, int, error) {
	if s == "0.0.0.0/0" || s == "default" {
		return satcat5.IpSubnet{}, 0, nil
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return satcat5.IpSubnet{}, 0, fmt.Errorf("invalid CIDR %q", s)
	}
	addr, err := ParseIPAddr(parts[0])
	if err != nil {
		return satcat5.IpSubnet{}, 0, err
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 || n > 32 {
		return satcat5.IpSubnet{}, 0, fmt.Errorf("invalid prefix length in %q", s)
	}
	mask := satcat5.CidrPrefix(n)
	return satcat5.NewSubnet(addr, mask), n, nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return internal.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
