// Package advertising implements the BLE advertising payload codec of
// spec.md §4.4: coordinates and a fixed identifier packed into an
// iBeacon-shaped advertising payload, and the driver that installs it
// on the dongle and keeps it live until shutdown.
//
// The wire layout is grounded on the standard iBeacon AD structure
// (flags + manufacturer-specific data with an Apple-style preamble),
// the same shape _examples/other_examples's beacon-kit and
// currantlabs-ble/adv files build, with the UUID/major/minor fields
// of a stock iBeacon replaced by this firmware's coordinates and
// fixed identifier per spec.md.
package advertising

import (
	"encoding/binary"
	"errors"
	"math"
)

// PayloadLen is the total encoded advertising payload length: 12 fixed
// bytes, 4 bytes X, 4 bytes fixed identifier, 4 bytes Y, 1 byte
// calibrated RSSI. spec.md's prose calls this "16-byte" in its summary
// sentence but its own itemized breakdown sums to 25 — see DESIGN.md
// for why this implementation follows the itemized breakdown.
const PayloadLen = 25

// FixedIDLen is the length of the fixed identifier field.
const FixedIDLen = 4

var (
	// ErrPayloadLength is returned by Decode when the input isn't
	// exactly PayloadLen bytes.
	ErrPayloadLength = errors.New("advertising: payload must be exactly PayloadLen bytes")
)

// fixed 12-byte header: AD flags structure, AD manufacturer-specific
// header, a 2-byte company/preamble placeholder, an iBeacon-style
// sub-type/sub-length pair, then the 2-byte biased Z level, then one
// reserved/padding byte.
var fixedHeaderPrefix = [9]byte{
	0x02, 0x01, 0x06, // AD: length 2, type "Flags", value 0x06
	0x15, 0xFF, // AD: length 21 (0x15), type "Manufacturer Specific Data"
	0x4C, 0x00, // company identifier placeholder
	0x02, 0x15, // iBeacon sub-type, sub-type length
}

// Payload is the decoded form of an advertising payload.
type Payload struct {
	X, Y float32
	Z    uint16 // biased level number, non-negative

	FixedID [FixedIDLen]byte

	// CalibratedRSSI is the two's-complement measured RSSI at one
	// meter, used by receivers for distance estimation.
	CalibratedRSSI int8
}

// BiasLevel converts a signed floor number into the non-negative Z
// value spec.md §4.4 requires, biased by lowestBasementLevel (the
// count of basement levels below ground, e.g. 2 for a building whose
// lowest floor is B2).
func BiasLevel(level, lowestBasementLevel int) uint16 {
	return uint16(level + lowestBasementLevel)
}

// UnbiasLevel reverses BiasLevel.
func UnbiasLevel(z uint16, lowestBasementLevel int) int {
	return int(z) - lowestBasementLevel
}

// Encode packs p into a PayloadLen-byte advertising payload.
func Encode(p Payload) []byte {
	b := make([]byte, PayloadLen)
	copy(b[0:9], fixedHeaderPrefix[:])
	binary.BigEndian.PutUint16(b[9:11], p.Z)
	b[11] = 0x00 // reserved

	binary.BigEndian.PutUint32(b[12:16], math.Float32bits(p.X))
	copy(b[16:20], p.FixedID[:])
	binary.BigEndian.PutUint32(b[20:24], math.Float32bits(p.Y))
	b[24] = byte(p.CalibratedRSSI)
	return b
}

// Decode unpacks a PayloadLen-byte advertising payload produced by
// Encode. It does not validate the fixed header bytes — a receiver
// that only cares about the coordinates can decode payloads this
// firmware did not itself produce as long as the layout matches.
func Decode(b []byte) (Payload, error) {
	if len(b) != PayloadLen {
		return Payload{}, ErrPayloadLength
	}
	var p Payload
	p.Z = binary.BigEndian.Uint16(b[9:11])
	p.X = math.Float32frombits(binary.BigEndian.Uint32(b[12:16]))
	copy(p.FixedID[:], b[16:20])
	p.Y = math.Float32frombits(binary.BigEndian.Uint32(b[20:24]))
	p.CalibratedRSSI = int8(b[24])
	return p, nil
}
