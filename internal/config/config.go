// Package config loads and holds the LBeacon configuration file
// described in spec.md §6: a plain "key=value" text file, one entry
// per line. The teacher has no config-file parser of its own (gatt is
// a library, not a daemon), so this package follows the bounded,
// explicit-error style of the teacher's functional options
// (option_linux.go validates and returns an error rather than
// panicking) applied to a small hand-rolled scanner — see DESIGN.md
// for why no third-party ini/properties library from the pack fits a
// bespoke key=value grammar better than that.
package config

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/OpenISDM/lbeacon/internal/lberr"
)

// DefaultPath is used when neither a positional argument nor
// LBEACON_CONFIG is supplied (spec.md §6).
const DefaultPath = "../config/config.conf"

// EnvOverride names the environment variable that overrides the
// positional config path argument.
const EnvOverride = "LBEACON_CONFIG"

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Static holds the configuration values that never change after
// startup (coordinates, identifiers, dongle assignments, network
// endpoints).
type Static struct {
	AreaID string

	CoordinateX float64
	CoordinateY float64
	CoordinateZ float64

	LowestBasementLevel int

	UUID string

	AdvertiseDongleID               int
	AdvertiseIntervalIn0625msUnits   int
	AdvertiseRSSIValue               int8

	ScanDongleID int

	GatewayAddr       net.IP
	GatewayPort       uint16
	LocalClientPort   uint16

	LogEnabled bool
}

// Tunable holds the subset of configuration the gateway session's
// Reconfig request (spec.md §4.8) may change at runtime: RSSI
// coverage, the acceptable MAC-prefix list, and the BLE scan interval.
// Open Question resolved in DESIGN.md: the interval a Reconfig request
// may change (key "scan_interval_ms") is the BLE scanner's LE scan
// interval, not the advertising interval (which is a controller-level
// setting the gateway never renegotiates in this design).
type Tunable struct {
	ScanRSSICoverage int8
	MACPrefixList    []string
	ScanIntervalMs   int
}

// Config is the full, live configuration: an immutable Static part and
// a mutable Tunable part guarded by a mutex so the gateway session can
// apply Reconfig requests while scanners read the current values.
type Config struct {
	Static Static

	mu      sync.RWMutex
	tunable Tunable
}

// Tunable returns a copy of the current mutable settings.
func (c *Config) Tunable() Tunable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := c.tunable
	t.MACPrefixList = append([]string(nil), c.tunable.MACPrefixList...)
	return t
}

// ApplyReconfig updates one key;value pair as carried by a Reconfig
// packet (spec.md §6). Unknown keys are ignored; malformed values
// return lberr.ProtocolError.
func (c *Config) ApplyReconfig(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch key {
	case "scan_rssi_coverage":
		n, err := strconv.Atoi(value)
		if err != nil || n < -128 || n > 127 {
			return lberr.New(lberr.ProtocolError, "config.ApplyReconfig", fmt.Errorf("bad scan_rssi_coverage %q", value))
		}
		c.tunable.ScanRSSICoverage = int8(n)
	case "mac_prefix_list":
		c.tunable.MACPrefixList = splitPrefixList(value)
	case "scan_interval_ms":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return lberr.New(lberr.ProtocolError, "config.ApplyReconfig", fmt.Errorf("bad scan_interval_ms %q", value))
		}
		c.tunable.ScanIntervalMs = n
	}
	return nil
}

func splitPrefixList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads and validates the config file at path. A non-empty
// EnvOverride takes precedence over path; DefaultPath is used when both
// are empty.
func Load(path string) (*Config, error) {
	if env := os.Getenv(EnvOverride); env != "" {
		path = env
	}
	if path == "" {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, lberr.New(lberr.Config, "config.Load", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a key=value stream and builds a validated Config.
func Parse(r io.Reader) (*Config, error) {
	raw := map[string]string{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, lberr.New(lberr.Config, "config.Parse", fmt.Errorf("malformed line %q", line))
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		raw[key] = val
	}
	if err := sc.Err(); err != nil {
		return nil, lberr.New(lberr.Config, "config.Parse", err)
	}
	return build(raw)
}

func build(raw map[string]string) (*Config, error) {
	s := Static{LogEnabled: true}
	var err error

	s.AreaID = raw["area_id"]

	if s.CoordinateX, err = parseFloat(raw, "coordinate_X"); err != nil {
		return nil, err
	}
	if s.CoordinateY, err = parseFloat(raw, "coordinate_Y"); err != nil {
		return nil, err
	}
	if s.CoordinateZ, err = parseFloat(raw, "coordinate_Z"); err != nil {
		return nil, err
	}
	if s.LowestBasementLevel, err = parseInt(raw, "lowest_basement_level"); err != nil {
		return nil, err
	}

	s.UUID = strings.ToLower(raw["uuid"])
	if !uuidPattern.MatchString(s.UUID) {
		return nil, lberr.New(lberr.Config, "config.build", fmt.Errorf("uuid must be 32 hex chars, got %q", raw["uuid"]))
	}

	if s.AdvertiseDongleID, err = parseInt(raw, "advertise_dongle_id"); err != nil {
		return nil, err
	}
	if s.AdvertiseIntervalIn0625msUnits, err = parseInt(raw, "advertise_interval_in_units_0625_ms"); err != nil {
		return nil, err
	}
	av, err := parseInt(raw, "advertise_rssi_value")
	if err != nil {
		return nil, err
	}
	if av < -128 || av > 127 {
		return nil, lberr.New(lberr.Config, "config.build", fmt.Errorf("advertise_rssi_value out of int8 range: %d", av))
	}
	s.AdvertiseRSSIValue = int8(av)

	if s.ScanDongleID, err = parseInt(raw, "scan_dongle_id"); err != nil {
		return nil, err
	}

	rv, err := parseInt(raw, "scan_rssi_coverage")
	if err != nil {
		return nil, err
	}
	if rv < -128 || rv > 127 {
		return nil, lberr.New(lberr.Config, "config.build", fmt.Errorf("scan_rssi_coverage out of int8 range: %d", rv))
	}

	s.GatewayAddr = net.ParseIP(raw["gateway_addr"]).To4()
	if s.GatewayAddr == nil {
		return nil, lberr.New(lberr.Config, "config.build", fmt.Errorf("gateway_addr invalid: %q", raw["gateway_addr"]))
	}

	gp, err := parseUint16(raw, "gateway_port")
	if err != nil {
		return nil, err
	}
	s.GatewayPort = gp

	lp, err := parseUint16(raw, "local_client_port")
	if err != nil {
		return nil, err
	}
	s.LocalClientPort = lp

	c := &Config{
		Static: s,
		tunable: Tunable{
			ScanRSSICoverage: int8(rv),
			MACPrefixList:    splitPrefixList(raw["mac_prefix_list"]),
			ScanIntervalMs:   10,
		},
	}
	return c, nil
}

func parseFloat(raw map[string]string, key string) (float64, error) {
	v, ok := raw[key]
	if !ok {
		return 0, lberr.New(lberr.Config, "config.parseFloat", fmt.Errorf("missing key %q", key))
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, lberr.New(lberr.Config, "config.parseFloat", fmt.Errorf("key %q: %w", key, err))
	}
	return f, nil
}

func parseInt(raw map[string]string, key string) (int, error) {
	v, ok := raw[key]
	if !ok {
		return 0, lberr.New(lberr.Config, "config.parseInt", fmt.Errorf("missing key %q", key))
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, lberr.New(lberr.Config, "config.parseInt", fmt.Errorf("key %q: %w", key, err))
	}
	return n, nil
}

func parseUint16(raw map[string]string, key string) (uint16, error) {
	v, ok := raw[key]
	if !ok {
		return 0, lberr.New(lberr.Config, "config.parseUint16", fmt.Errorf("missing key %q", key))
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, lberr.New(lberr.Config, "config.parseUint16", fmt.Errorf("key %q: %w", key, err))
	}
	return uint16(n), nil
}
