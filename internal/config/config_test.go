package config

import (
	"strings"
	"testing"
)

const validConfig = `area_id=A1
coordinate_X=12.5
coordinate_Y=-3.25
coordinate_Z=2
lowest_basement_level=2
uuid=0123456789abcdef0123456789abcdef
advertise_dongle_id=0
advertise_interval_in_units_0625_ms=160
advertise_rssi_value=-60
scan_dongle_id=1
scan_rssi_coverage=-70
gateway_addr=192.168.1.1
gateway_port=8888
local_client_port=8889
mac_prefix_list=AA:BB,CC:DD
`

func TestParseValid(t *testing.T) {
	c, err := Parse(strings.NewReader(validConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.Static.AreaID != "A1" {
		t.Errorf("AreaID = %q", c.Static.AreaID)
	}
	if c.Static.CoordinateX != 12.5 {
		t.Errorf("CoordinateX = %v", c.Static.CoordinateX)
	}
	if c.Static.UUID != "0123456789abcdef0123456789abcdef" {
		t.Errorf("UUID = %q", c.Static.UUID)
	}
	tun := c.Tunable()
	if tun.ScanRSSICoverage != -70 {
		t.Errorf("ScanRSSICoverage = %d", tun.ScanRSSICoverage)
	}
	if len(tun.MACPrefixList) != 2 || tun.MACPrefixList[0] != "AA:BB" {
		t.Errorf("MACPrefixList = %v", tun.MACPrefixList)
	}
}

func TestParseRejectsBadUUID(t *testing.T) {
	bad := strings.Replace(validConfig, "uuid=0123456789abcdef0123456789abcdef", "uuid=not-hex", 1)
	if _, err := Parse(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for malformed uuid")
	}
}

func TestParseRejectsMissingKey(t *testing.T) {
	bad := strings.Replace(validConfig, "gateway_addr=192.168.1.1\n", "", 1)
	if _, err := Parse(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for missing gateway_addr")
	}
}

func TestApplyReconfigUpdatesTunable(t *testing.T) {
	c, err := Parse(strings.NewReader(validConfig))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.ApplyReconfig("scan_rssi_coverage", "-40"); err != nil {
		t.Fatal(err)
	}
	if err := c.ApplyReconfig("mac_prefix_list", "11:22"); err != nil {
		t.Fatal(err)
	}
	tun := c.Tunable()
	if tun.ScanRSSICoverage != -40 {
		t.Errorf("ScanRSSICoverage = %d, want -40", tun.ScanRSSICoverage)
	}
	if len(tun.MACPrefixList) != 1 || tun.MACPrefixList[0] != "11:22" {
		t.Errorf("MACPrefixList = %v", tun.MACPrefixList)
	}
}
