// Package hci implements the raw Bluetooth HCI device access the
// scanner and advertiser components drive: opening a dongle, issuing
// commands, and dispatching the event stream. It is grounded on
// _examples/paypal-gatt/linux/internal/socket/socket.go, which
// reimplements the handful of AF_BLUETOOTH/SOCK_RAW socket operations
// the standard library doesn't expose.
//
// Where the teacher hand-rolls its own bind/setsockopt shims around
// syscall.RawSyscall (socket_linux_386.go), this version uses
// golang.org/x/sys/unix's syscall number constants directly — the
// generalization SPEC_FULL.md's domain-stack section calls for,
// trading a private per-arch shim for the pack's shared syscall
// constants package.
//
// Socket access is Linux-only (socket_linux.go); the LBeacon hardware
// this firmware targets has no other platform, matching the scope the
// teacher's own device_linux.go narrows to.
package hci
