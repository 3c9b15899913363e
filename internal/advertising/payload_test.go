package advertising

import (
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Payload{
		{X: 0, Y: 0, Z: 0, FixedID: [4]byte{0, 0, 0, 0}, CalibratedRSSI: 0},
		{X: 12.5, Y: -7.25, Z: 3, FixedID: [4]byte{0xDE, 0xAD, 0xBE, 0xEF}, CalibratedRSSI: -59},
		{X: float32(math.MaxFloat32), Y: float32(-math.MaxFloat32), Z: math.MaxUint16 - 2,
			FixedID: [4]byte{0xFF, 0xFF, 0xFF, 0xFF}, CalibratedRSSI: -128},
		{X: -0.0001, Y: 0.0001, Z: 1, FixedID: [4]byte{1, 2, 3, 4}, CalibratedRSSI: 127},
	}

	for _, want := range cases {
		b := Encode(want)
		if len(b) != PayloadLen {
			t.Fatalf("Encode produced %d bytes, want %d", len(b), PayloadLen)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.X != want.X || got.Y != want.Y || got.Z != want.Z || got.FixedID != want.FixedID ||
			got.CalibratedRSSI != want.CalibratedRSSI {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	if _, err := Decode(make([]byte, PayloadLen-1)); err != ErrPayloadLength {
		t.Fatalf("Decode with short payload: got err %v, want ErrPayloadLength", err)
	}
	if _, err := Decode(make([]byte, PayloadLen+1)); err != ErrPayloadLength {
		t.Fatalf("Decode with long payload: got err %v, want ErrPayloadLength", err)
	}
}

func TestBiasLevelRoundTrip(t *testing.T) {
	for _, lowest := range []int{0, 2, 5} {
		for level := -lowest; level <= 10; level++ {
			z := BiasLevel(level, lowest)
			if got := UnbiasLevel(z, lowest); got != level {
				t.Fatalf("BiasLevel/UnbiasLevel(level=%d, lowest=%d): got %d", level, lowest, got)
			}
		}
	}
}
