// Package gateway implements the UDP join/poll/upload/health protocol
// and session state machine of spec.md §4.8/§6, grounded on
// _examples/original_source/src/Communication.c's send_join_request /
// handle_health_report pair and on the teacher's own packet-framing
// style in linux/l2cap.go (a one-byte discriminator followed by a
// length-prefixed or delimited body).
package gateway

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/OpenISDM/lbeacon/internal/lberr"
	"github.com/OpenISDM/lbeacon/internal/sighting"
)

// Packet type bytes (spec.md §6). Each value is a printable ASCII byte
// ('0', '1', '@', 'A', 'P', 'Q', '`'), so a packet dumped as text reads
// with its type as the leading character.
const (
	TypeJoinRequest        byte = 0x30
	TypeJoinAck            byte = 0x31
	TypePollTrackedObjects byte = 0x40
	TypeTrackedObjectsResp byte = 0x41
	TypePollHealthReport   byte = 0x50
	TypeHealthReportResp   byte = 0x51
	TypeReconfig           byte = 0x60
)

// MaxPacketSize is the largest packet this protocol allows (spec.md
// §6).
const MaxPacketSize = 4096

// ProtocolVersion is reported in every JoinRequest.
const ProtocolVersion = "1.0"

// RecordsPerChunk bounds how many tracked-object records are packed
// into a single TrackedObjectsResp packet. Open Question resolved in
// DESIGN.md: spec.md's "one per 60-byte chunk" phrasing is ambiguous
// between bytes and record count; this implementation chunks by
// record count, matching the same MAX_NO_OBJECTS-sized-batch shape
// _examples/original_source/src/LBeacon.h already imposes on a single
// drain_for_upload call.
const RecordsPerChunk = 60

const (
	statusOK     = "OK"
	statusDenied = "DENIED"

	categoryInfo  = "INFO"
	categoryError = "ERROR"
)

// JoinAck is the decoded response to a JoinRequest.
type JoinAck struct {
	OK           bool
	AssignedAddr string
}

// EncodeJoinRequest builds the first packet of every session (spec.md
// §8 scenario S5: "exactly 0x30;<uuid>;<version>").
func EncodeJoinRequest(uuid string) []byte {
	return []byte(fmt.Sprintf("%c;%s;%s", TypeJoinRequest, uuid, ProtocolVersion))
}

// DecodeJoinAck parses a JoinAck packet's payload.
func DecodeJoinAck(b []byte) (JoinAck, error) {
	fields, err := splitTyped(b, TypeJoinAck, 2)
	if err != nil {
		return JoinAck{}, err
	}
	switch strings.ToUpper(fields[0]) {
	case statusOK:
		return JoinAck{OK: true, AssignedAddr: fields[1]}, nil
	case statusDenied:
		return JoinAck{OK: false}, nil
	default:
		return JoinAck{}, lberr.New(lberr.ProtocolError, "gateway.DecodeJoinAck", fmt.Errorf("unknown status %q", fields[0]))
	}
}

// EncodeTrackedObjectsResp serializes snapshots into one or more
// TrackedObjectsResp packets (spec.md §6: "payload is
// uuid;gateway_addr;n;rec1;rec2;… where each record is
// mac;init_ts;final_ts;rssi;flags;battery;payload_hex").
func EncodeTrackedObjectsResp(uuid, gatewayAddr string, snapshots []sighting.Snapshot) [][]byte {
	if len(snapshots) == 0 {
		return nil
	}
	var packets [][]byte
	for start := 0; start < len(snapshots); start += RecordsPerChunk {
		end := start + RecordsPerChunk
		if end > len(snapshots) {
			end = len(snapshots)
		}
		chunk := snapshots[start:end]

		parts := make([]string, 0, 3+len(chunk))
		parts = append(parts, uuid, gatewayAddr, strconv.Itoa(len(chunk)))
		for _, s := range chunk {
			parts = append(parts, encodeRecord(s))
		}
		packets = append(packets, []byte(fmt.Sprintf("%c;%s", TypeTrackedObjectsResp, strings.Join(parts, ";"))))
	}
	return packets
}

func encodeRecord(s sighting.Snapshot) string {
	var flags int
	if s.ButtonPressed {
		flags |= 1
	}
	if s.HasBattery {
		flags |= 2
	}
	return fmt.Sprintf("%s;%d;%d;%d;%d;%d;%s",
		s.Address, s.FirstSeenMs, s.LastSeenMs, s.RSSI, flags, s.BatteryVoltage, hex.EncodeToString(s.Payload))
}

// EncodeHealthReportResp builds a HealthReportResp packet (spec.md
// §4.8: category is info or error depending on whether the health-log
// line contains the ERROR marker).
func EncodeHealthReportResp(uuid string, isError bool, message string) []byte {
	category := categoryInfo
	if isError {
		category = categoryError
	}
	return []byte(fmt.Sprintf("%c;%s;%s;%s", TypeHealthReportResp, uuid, category, message))
}

// ReconfigEntry is one key;value line of a Reconfig packet.
type ReconfigEntry struct {
	Key   string
	Value string
}

// DecodeReconfig parses a Reconfig packet's payload, which may carry
// multiple key;value lines separated by '\n' (spec.md §6: "payload is
// key;value lines").
func DecodeReconfig(b []byte) ([]ReconfigEntry, error) {
	if len(b) == 0 || b[0] != TypeReconfig {
		return nil, lberr.New(lberr.ProtocolError, "gateway.DecodeReconfig", fmt.Errorf("not a Reconfig packet"))
	}
	body := string(b[1:])
	body = strings.TrimPrefix(body, ";")

	var entries []ReconfigEntry
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ";")
		if idx < 0 {
			return nil, lberr.New(lberr.ProtocolError, "gateway.DecodeReconfig", fmt.Errorf("malformed entry %q", line))
		}
		entries = append(entries, ReconfigEntry{Key: line[:idx], Value: line[idx+1:]})
	}
	return entries, nil
}

// PacketType returns the leading type byte of b, or an error if b is
// empty.
func PacketType(b []byte) (byte, error) {
	if len(b) == 0 {
		return 0, lberr.New(lberr.ProtocolError, "gateway.PacketType", fmt.Errorf("empty packet"))
	}
	return b[0], nil
}

// splitTyped validates b's leading type byte and splits the remaining
// ';'-separated body into exactly want fields.
func splitTyped(b []byte, want byte, nFields int) ([]string, error) {
	if len(b) == 0 || b[0] != want {
		return nil, lberr.New(lberr.ProtocolError, "gateway.splitTyped", fmt.Errorf("expected type %#02x", want))
	}
	body := strings.TrimPrefix(string(b[1:]), ";")
	fields := strings.Split(body, ";")
	if len(fields) != nFields {
		return nil, lberr.New(lberr.ProtocolError, "gateway.splitTyped",
			fmt.Errorf("expected %d fields, got %d", nFields, len(fields)))
	}
	return fields, nil
}
