// Package sighting implements the data model and store of spec.md §3
// and §4.7: the recent-sightings set and the tracked-object queue,
// sharing one slab allocator, with the invariants of spec.md §8 held
// across producer (scanner), cleaner, and uploader (gateway session)
// goroutines.
//
// This is grounded on _examples/original_source/src/LBeacon.h's
// ScannedDevice struct (address, initial/final timestamps, RSSI,
// is_button_pressed, battery voltage, BLE payload) combined with the
// two List_Entry hooks spec.md §3 describes, here represented as
// index-based list membership (internal/list) rather than embedded
// pointers.
package sighting

import "strings"

// Kind distinguishes the radio that produced a sighting.
type Kind uint8

const (
	KindBREDR Kind = iota
	KindBLE
)

// MaxPayloadLen bounds the most recent BLE advertising payload kept
// per record (spec.md §3).
const MaxPayloadLen = 33

// Record is one sighting: a single Bluetooth address currently being
// tracked. Zero value is not meaningful; records are only ever
// constructed by Store inside the slab.
type Record struct {
	Address string // 17-char canonical "AA:BB:CC:DD:EE:FF"
	Kind    Kind

	FirstSeenMs int64
	LastSeenMs  int64

	RSSI int8

	ButtonPressed bool

	HasBattery     bool
	BatteryVoltage uint8

	Payload [MaxPayloadLen]byte
	PayloadLen int
}

// Snapshot is a stable, detached copy of a Record's fields, returned
// by Store.DrainForUpload so callers never observe a record mutating
// underneath them after it has been unlinked from the queue.
type Snapshot struct {
	Address        string
	Kind           Kind
	FirstSeenMs    int64
	LastSeenMs     int64
	RSSI           int8
	ButtonPressed  bool
	HasBattery     bool
	BatteryVoltage uint8
	Payload        []byte
}

func (r *Record) snapshot() Snapshot {
	return Snapshot{
		Address:        r.Address,
		Kind:           r.Kind,
		FirstSeenMs:    r.FirstSeenMs,
		LastSeenMs:     r.LastSeenMs,
		RSSI:           r.RSSI,
		ButtonPressed:  r.ButtonPressed,
		HasBattery:     r.HasBattery,
		BatteryVoltage: r.BatteryVoltage,
		Payload:        append([]byte(nil), r.Payload[:r.PayloadLen]...),
	}
}

// NormalizeAddress upper-cases a MAC address for canonical storage.
// spec.md §3: "comparison is case-insensitive but storage is
// normalized."
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}
