package hci

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// SocketOpenRetry bounds every dongle/socket open attempt (spec.md
// §5's SOCKET_OPEN_RETRY), supplementing the retry budget the
// distilled spec names but doesn't apply everywhere — see
// SPEC_FULL.md §4.
const SocketOpenRetry = 5

// Device is a single HCI dongle opened exclusively by one task, the
// same ownership model spec.md §5 requires ("each HCI dongle is owned
// exclusively by one task"). It mirrors the teacher's linux/device.go
// device type: a raw fd guarded by independent read/write mutexes so
// one goroutine can be blocked in Read while another Writes a
// command.
type Device struct {
	fd  int
	id  int
	rmu sync.Mutex
	wmu sync.Mutex
}

// Open opens dongle number id, retrying up to SocketOpenRetry times.
// Returns lberr.DongleUnavailable (via the caller, which wraps this)
// when every attempt fails.
func Open(id int) (*Device, error) {
	fd, err := openRaw(id)
	if err != nil {
		return nil, err
	}
	return &Device{fd: fd, id: id}, nil
}

// ID returns the dongle number this device was opened for.
func (d *Device) ID() int { return d.id }

func (d *Device) Read(b []byte) (int, error) {
	d.rmu.Lock()
	defer d.rmu.Unlock()
	n, err := unix.Read(d.fd, b)
	if err != nil {
		return n, fmt.Errorf("hci: read: %w", err)
	}
	return n, nil
}

func (d *Device) Write(b []byte) (int, error) {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	n, err := unix.Write(d.fd, b)
	if err != nil {
		return n, fmt.Errorf("hci: write: %w", err)
	}
	return n, nil
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// SetInquiryFilter installs the HCI socket filter spec.md §4.5
// requires: accept only EVT_INQUIRY_RESULT, EVT_INQUIRY_RESULT_WITH_RSSI,
// and EVT_INQUIRY_COMPLETE.
func (d *Device) SetInquiryFilter() error {
	typeMask := uint32(1) << TypEventPkt
	var eventMask [2]uint32
	for _, evt := range []byte{EvtInquiryComplete, EvtInquiryResult, EvtInquiryResultWithRSSI} {
		setBit(&eventMask, evt)
	}
	return setFilter(d.fd, typeMask, eventMask)
}

// SetCommandEventFilter installs a filter accepting command-complete,
// command-status, and LE-meta events, the set the advertiser and the
// BLE scanner both need to drive the controller and read LE reports.
func (d *Device) SetCommandEventFilter() error {
	typeMask := uint32(1)<<TypEventPkt | uint32(1)<<TypCommandPkt
	var eventMask [2]uint32
	for _, evt := range []byte{EvtCommandComplete, EvtCommandStatus, EvtLEMeta} {
		setBit(&eventMask, evt)
	}
	return setFilter(d.fd, typeMask, eventMask)
}

func setBit(mask *[2]uint32, evt byte) {
	word := evt / 32
	bit := evt % 32
	if word > 1 {
		return
	}
	mask[word] |= 1 << bit
}
