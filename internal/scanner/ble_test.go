package scanner

import (
	"encoding/hex"
	"testing"
)

func adStruct(adType byte, data []byte) []byte {
	return append([]byte{byte(len(data) + 1), adType}, data...)
}

func TestClassifyPayloadButtonTag(t *testing.T) {
	mfg, _ := hex.DecodeString("0000000000000000AA")
	payload := adStruct(adTypeManufacturerSpecific, mfg)

	pressed, hasBattery, _, matched := classifyPayload(payload)
	if !matched || !pressed || hasBattery {
		t.Fatalf("button tag: matched=%v pressed=%v hasBattery=%v", matched, pressed, hasBattery)
	}
}

func TestClassifyPayloadBatteryTag(t *testing.T) {
	mfg, _ := hex.DecodeString("05C67F")
	payload := adStruct(adTypeManufacturerSpecific, mfg)

	pressed, hasBattery, voltage, matched := classifyPayload(payload)
	if !matched || pressed || !hasBattery || voltage != 0x7F {
		t.Fatalf("battery tag: matched=%v pressed=%v hasBattery=%v voltage=%#x", matched, pressed, hasBattery, voltage)
	}
}

func TestClassifyPayloadNoManufacturerData(t *testing.T) {
	payload := adStruct(0x01, []byte{0x06}) // flags only, no mfg element
	_, _, _, matched := classifyPayload(payload)
	if matched {
		t.Fatal("payload with no manufacturer-specific element must not match")
	}
}

func TestClassifyPayloadUnrecognizedIdentifier(t *testing.T) {
	mfg, _ := hex.DecodeString("DEADBEEF")
	payload := adStruct(adTypeManufacturerSpecific, mfg)
	_, _, _, matched := classifyPayload(payload)
	if matched {
		t.Fatal("unrecognized manufacturer identifier must not match")
	}
}

func TestManufacturerSpecificDataMultipleElements(t *testing.T) {
	flags := adStruct(0x01, []byte{0x06})
	mfg, _ := hex.DecodeString("05C601")
	mfgElem := adStruct(adTypeManufacturerSpecific, mfg)
	payload := append(append([]byte{}, flags...), mfgElem...)

	got, ok := manufacturerSpecificData(payload)
	if !ok {
		t.Fatal("expected to find manufacturer-specific element")
	}
	if hex.EncodeToString(got) != "05c601" {
		t.Fatalf("got %x, want 05c601", got)
	}
}

func TestFormatAddress(t *testing.T) {
	raw := [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	got := formatAddress(raw)
	want := "06:05:04:03:02:01"
	if got != want {
		t.Fatalf("formatAddress: got %q, want %q", got, want)
	}
}
