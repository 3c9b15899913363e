package hci

import "errors"

// ErrTimeout is returned by Controller.SendCommand when the controller
// does not ACK within the caller's timeout (spec.md §4.4's
// AdvertiseTimeout).
var ErrTimeout = errors.New("hci: command timed out")

// ErrClosed is returned by Controller.SendCommand once the underlying
// device has been closed (cooperative shutdown).
var ErrClosed = errors.New("hci: controller closed")

// ErrNonZeroStatus is wrapped into the error SendAndCheckStatus
// returns when a command's status byte is not 0x00 (spec.md §4.4's
// AdvertiseStatus).
var ErrNonZeroStatus = errors.New("hci: non-zero command status")
