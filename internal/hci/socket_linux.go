//go:build linux

package hci

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Bluetooth address family and HCI socket protocol/channel constants,
// mirrored from linux/bluetooth.h via the teacher's socket.go.
const (
	afBluetooth = 31 // AF_BLUETOOTH
	btprotoHCI  = 1  // BTPROTO_HCI

	hciChannelRaw  = 0
	hciChannelUser = 1
)

const (
	solHCI    = 0
	hciFilter = 2
)

type rawSockaddrHCI struct {
	Family  uint16
	Dev     uint16
	Channel uint16
}

// hciFilterOpt mirrors struct hci_filter from <bluetooth/hci.h>.
type hciFilterOpt struct {
	TypeMask  uint32
	EventMask [2]uint32
	Opcode    uint16
}

// openRaw opens an AF_BLUETOOTH/SOCK_RAW/BTPROTO_HCI socket bound to
// dongle dev on the raw HCI channel, retrying socket(2) up to
// SocketOpenRetry times the way the teacher's socket.Socket does for
// EBUSY.
func openRaw(dev int) (int, error) {
	var fd int
	var err error
	for i := 0; i < SocketOpenRetry; i++ {
		fd, err = unix.Socket(afBluetooth, unix.SOCK_RAW, btprotoHCI)
		if err == nil || err != unix.EBUSY {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		return 0, fmt.Errorf("hci: socket: %w", err)
	}

	sa := rawSockaddrHCI{Family: afBluetooth, Dev: uint16(dev), Channel: hciChannelUser}
	if err := bind(fd, &sa); err != nil {
		sa.Channel = hciChannelRaw
		if err := bind(fd, &sa); err != nil {
			unix.Close(fd)
			return 0, fmt.Errorf("hci: bind dongle %d: %w", dev, err)
		}
	}
	return fd, nil
}

func bind(fd int, sa *rawSockaddrHCI) error {
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(sa)), unsafe.Sizeof(*sa))
	if errno != 0 {
		return errno
	}
	return nil
}

// setFilter installs an HCI socket filter accepting only the event
// types in typeMask (spec.md §4.5: "sets a filter accepting only the
// three inquiry events").
func setFilter(fd int, typeMask uint32, eventMask [2]uint32) error {
	f := hciFilterOpt{TypeMask: typeMask, EventMask: eventMask}
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(solHCI), uintptr(hciFilter),
		uintptr(unsafe.Pointer(&f)), unsafe.Sizeof(f), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
