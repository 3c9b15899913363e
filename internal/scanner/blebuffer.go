package scanner

// bleSighting is one raw LE advertising observation queued for the
// classifier, matching spec.md §3's "temporary BLE advertisement
// buffer: a separate bounded list of (address, payload, rssi)
// tuples".
type bleSighting struct {
	Address string
	Payload []byte
	RSSI    int8
}

// bleBuffer is a bounded FIFO of raw BLE advertisements awaiting
// classification. It is deliberately simpler than internal/pktqueue's
// ring buffer: spec.md §3 only asks for bounded producer/consumer
// handoff here, not the gateway wire-packet semantics pktqueue models,
// so a channel-backed queue is the idiomatic Go shape for this second,
// unrelated producer/consumer pair.
type bleBuffer struct {
	ch chan bleSighting
}

func newBLEBuffer(capacity int) *bleBuffer {
	return &bleBuffer{ch: make(chan bleSighting, capacity)}
}

// push enqueues s, dropping it if the buffer is full rather than
// blocking the scan loop (spec.md §4.7's overflow policy generalized
// to this second bounded queue).
func (b *bleBuffer) push(s bleSighting) (dropped bool) {
	select {
	case b.ch <- s:
		return false
	default:
		return true
	}
}
