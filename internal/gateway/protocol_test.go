package gateway

import (
	"testing"

	"github.com/OpenISDM/lbeacon/internal/sighting"
)

func TestEncodeJoinRequestScenarioS5(t *testing.T) {
	got := EncodeJoinRequest("abc123")
	want := "0;abc123;1.0" // byte 0x30 is ASCII '0'
	if string(got) != want {
		t.Fatalf("EncodeJoinRequest: got %q, want %q", string(got), want)
	}
	if got[0] != TypeJoinRequest {
		t.Fatalf("leading byte = %#02x, want %#02x", got[0], TypeJoinRequest)
	}
}

func TestDecodeJoinAckOK(t *testing.T) {
	b := []byte{TypeJoinAck}
	b = append(b, []byte(";OK;10.0.0.5")...)
	ack, err := DecodeJoinAck(b)
	if err != nil {
		t.Fatalf("DecodeJoinAck: %v", err)
	}
	if !ack.OK || ack.AssignedAddr != "10.0.0.5" {
		t.Fatalf("got %+v", ack)
	}
}

func TestDecodeJoinAckDenied(t *testing.T) {
	b := append([]byte{TypeJoinAck}, []byte(";DENIED;")...)
	ack, err := DecodeJoinAck(b)
	if err != nil {
		t.Fatalf("DecodeJoinAck: %v", err)
	}
	if ack.OK {
		t.Fatal("DENIED ack must report OK=false")
	}
}

func TestEncodeTrackedObjectsRespChunking(t *testing.T) {
	snaps := make([]sighting.Snapshot, RecordsPerChunk+1)
	for i := range snaps {
		snaps[i] = sighting.Snapshot{Address: "AA:BB:CC:DD:EE:01", FirstSeenMs: 1, LastSeenMs: 2, RSSI: -50}
	}
	packets := EncodeTrackedObjectsResp("uuid-1", "10.0.0.5", snaps)
	if len(packets) != 2 {
		t.Fatalf("expected 2 chunked packets, got %d", len(packets))
	}
	if packets[0][0] != TypeTrackedObjectsResp {
		t.Fatalf("leading byte = %#02x", packets[0][0])
	}
}

func TestEncodeTrackedObjectsRespEmpty(t *testing.T) {
	if packets := EncodeTrackedObjectsResp("u", "g", nil); packets != nil {
		t.Fatalf("expected no packets for zero snapshots, got %d", len(packets))
	}
}

func TestDecodeReconfigMultipleEntries(t *testing.T) {
	b := append([]byte{TypeReconfig}, []byte(";scan_rssi_coverage;-70\nmac_prefix_list;AA:BB,CC:DD")...)
	entries, err := DecodeReconfig(b)
	if err != nil {
		t.Fatalf("DecodeReconfig: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "scan_rssi_coverage" || entries[0].Value != "-70" {
		t.Fatalf("got %+v", entries)
	}
	if entries[1].Key != "mac_prefix_list" || entries[1].Value != "AA:BB,CC:DD" {
		t.Fatalf("got %+v", entries)
	}
}

func TestEncodeHealthReportRespCategory(t *testing.T) {
	info := EncodeHealthReportResp("u1", false, "all good")
	if string(info) != "Q;u1;INFO;all good" {
		t.Fatalf("got %q", string(info))
	}
	errPkt := EncodeHealthReportResp("u1", true, "ERROR: dongle missing")
	if string(errPkt) != "Q;u1;ERROR;ERROR: dongle missing" {
		t.Fatalf("got %q", string(errPkt))
	}
}
