package hci

import (
	"fmt"
	"sync"
	"time"
)

// Event is a decoded HCI event handed to scanner/advertiser consumers.
// Exactly one of the typed fields is populated, selected by Kind.
type Event struct {
	Kind EventKind

	InquiryResult   *InquiryResultEvent
	LEAdvertisement *LEAdvertisingReportEvent
}

// EventKind discriminates the payload carried by an Event.
type EventKind int

const (
	EventInquiryResult EventKind = iota
	EventInquiryComplete
	EventLEAdvertisement
)

// InquiryResultEvent is one EVT_INQUIRY_RESULT_WITH_RSSI sub-record
// (spec.md §4.5). WithRSSI is false for a plain EVT_INQUIRY_RESULT,
// which spec.md says to log but never admit.
type InquiryResultEvent struct {
	Address  [6]byte
	WithRSSI bool
	RSSI     int8
}

// LEAdvertisingReportEvent is one LE Advertising Report sub-record
// (spec.md §4.6).
type LEAdvertisingReportEvent struct {
	Address [6]byte
	Data    []byte // up to 31 bytes of AD structures
	RSSI    int8
}

// Controller drives one HCI dongle: it serializes command send/await
// and fans decoded events out to a channel. Grounded on the teacher's
// linux/internal/cmd/cmd.go (Cmd.Send/processCmdEvents) and
// linux/hci.go (HCI.mainLoop/handlePacket), simplified to one
// outstanding command at a time — each Controller is owned by exactly
// one scanner/advertiser goroutine, so there is never a need to track
// more than one in-flight command.
type Controller struct {
	dev *Device

	sendMu  sync.Mutex
	waiting chan []byte // completion payload for the in-flight command

	events chan Event
	errc   chan error

	closeOnce sync.Once
	done      chan struct{}
}

// NewController starts the read loop for dev and returns a Controller
// ready to send commands and receive events.
func NewController(dev *Device) *Controller {
	c := &Controller{
		dev:     dev,
		waiting: make(chan []byte, 1),
		events:  make(chan Event, 64),
		errc:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events returns the channel of decoded inquiry/advertising events.
func (c *Controller) Events() <-chan Event { return c.events }

// Close stops the read loop by closing the underlying device, which
// unblocks the in-flight Read the way spec.md §5 requires ("the
// socket is closed on shutdown to force a wakeup").
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.dev.Close()
		close(c.done)
	})
	return err
}

func (c *Controller) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := c.dev.Read(buf)
		if err != nil {
			select {
			case c.errc <- err:
			default:
			}
			close(c.events)
			return
		}
		if n < 2 {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		c.handlePacket(pkt)
	}
}

func (c *Controller) handlePacket(b []byte) {
	if b[0] != TypEventPkt || len(b) < 3 {
		return
	}
	evtCode := b[1]
	plen := int(b[2])
	if len(b) < 3+plen {
		return
	}
	body := b[3 : 3+plen]

	switch evtCode {
	case EvtCommandComplete:
		if len(body) >= 3 {
			select {
			case c.waiting <- append([]byte(nil), body[3:]...):
			default:
			}
		}
	case EvtCommandStatus:
		if len(body) >= 1 {
			select {
			case c.waiting <- body[0:1]:
			default:
			}
		}
	case EvtInquiryResult:
		for _, ev := range parseInquiryResult(body, false) {
			c.emitInquiry(ev)
		}
	case EvtInquiryResultWithRSSI:
		for _, ev := range parseInquiryResult(body, true) {
			c.emitInquiry(ev)
		}
	case EvtInquiryComplete:
		select {
		case c.events <- Event{Kind: EventInquiryComplete}:
		default:
		}
	case EvtLEMeta:
		if len(body) >= 1 && body[0] == SubEvtLEAdvertisingReport {
			for _, ev := range parseLEAdvertisingReport(body[1:]) {
				select {
				case c.events <- Event{Kind: EventLEAdvertisement, LEAdvertisement: ev}:
				default:
				}
			}
		}
	}
}

func (c *Controller) emitInquiry(ev *InquiryResultEvent) {
	select {
	case c.events <- Event{Kind: EventInquiryResult, InquiryResult: ev}:
	default:
	}
}

// SendCommand writes an HCI command and blocks for its Command
// Complete/Status reply, or returns a timeout error. Only one command
// may be outstanding at a time per Controller.
func (c *Controller) SendCommand(op Opcode, params []byte, timeout time.Duration) ([]byte, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	raw := marshalCommand(op, params)
	if _, err := c.dev.Write(raw); err != nil {
		return nil, fmt.Errorf("hci: send command %#04x: %w", uint16(op), err)
	}
	select {
	case resp := <-c.waiting:
		return resp, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("hci: command %#04x: %w", uint16(op), ErrTimeout)
	case <-c.done:
		return nil, ErrClosed
	}
}

func parseInquiryResult(b []byte, withRSSI bool) []*InquiryResultEvent {
	if len(b) < 1 {
		return nil
	}
	n := int(b[0])
	out := make([]*InquiryResultEvent, 0, n)
	// EVT_INQUIRY_RESULT_WITH_RSSI record layout: bdaddr(6) page_scan_rep_mode(1)
	// reserved(1) class(3) clock_offset(2) rssi(1) = 14 bytes/record.
	// EVT_INQUIRY_RESULT (no RSSI): bdaddr(6) psrm(1) psm(1) reserved(2) class(3) clock_offset(2) = 15.
	recSize := 15
	if withRSSI {
		recSize = 14
	}
	off := 1
	for i := 0; i < n && off+recSize <= len(b); i++ {
		var addr [6]byte
		copy(addr[:], b[off:off+6])
		ev := &InquiryResultEvent{Address: addr, WithRSSI: withRSSI}
		if withRSSI {
			ev.RSSI = int8(b[off+recSize-1])
		}
		out = append(out, ev)
		off += recSize
	}
	return out
}

func parseLEAdvertisingReport(b []byte) []*LEAdvertisingReportEvent {
	if len(b) < 1 {
		return nil
	}
	n := int(b[0])
	out := make([]*LEAdvertisingReportEvent, 0, n)
	off := 1
	// Each report: event_type(1) addr_type(1) addr(6) data_len(1) data(data_len) rssi(1).
	for i := 0; i < n && off+9 <= len(b); i++ {
		off += 2 // event_type, addr_type
		var addr [6]byte
		copy(addr[:], b[off:off+6])
		off += 6
		dataLen := int(b[off])
		off++
		if off+dataLen+1 > len(b) {
			break
		}
		data := append([]byte(nil), b[off:off+dataLen]...)
		off += dataLen
		rssi := int8(b[off])
		off++
		out = append(out, &LEAdvertisingReportEvent{Address: addr, Data: data, RSSI: rssi})
	}
	return out
}
