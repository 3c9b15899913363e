package hci

import (
	"fmt"
	"time"
)

// SendAndCheckStatus sends a command and verifies the single status
// byte most HCI commands return is 0x00 (success), following the
// teacher's Cmd.SendAndCheckResp (linux/internal/cmd/cmd.go).
func (c *Controller) SendAndCheckStatus(op Opcode, params []byte, timeout time.Duration) error {
	resp, err := c.SendCommand(op, params, timeout)
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != 0x00 {
		got := byte(0xFF)
		if len(resp) > 0 {
			got = resp[0]
		}
		return fmt.Errorf("hci: command %#04x returned status %#02x: %w", uint16(op), got, ErrNonZeroStatus)
	}
	return nil
}

// Reset issues HCI_Reset.
func (c *Controller) Reset(timeout time.Duration) error {
	return c.SendAndCheckStatus(OpReset, nil, timeout)
}

// Inquiry issues an HCI_Inquiry with the classic LAP and inquiry
// length spec.md §4.5 pins: LAP 0x9e8b33, length 0x30 (~38.4s).
// Inquiry writes the command and returns without waiting for a reply:
// the inquiry device filter (SetInquiryFilter) passes only the inquiry
// events, so the controller's Command Status never reaches this
// Controller. Results then arrive as Inquiry Result events until
// EVT_INQUIRY_COMPLETE.
func (c *Controller) Inquiry(lap [3]byte, length byte, numResponses byte) error {
	params := []byte{lap[0], lap[1], lap[2], length, numResponses}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.dev.Write(marshalCommand(OpInquiry, params)); err != nil {
		return fmt.Errorf("hci: send command %#04x: %w", uint16(OpInquiry), err)
	}
	return nil
}

// InquiryCancel issues HCI_Inquiry_Cancel, used to force the inquiry
// loop to stop promptly on shutdown (spec.md §4.5).
func (c *Controller) InquiryCancel(timeout time.Duration) error {
	return c.SendAndCheckStatus(OpInquiryCancel, nil, timeout)
}

// SetAdvertisingParameters issues LE Set Advertising Parameters.
// intervalMin/Max are in units of 0.625ms (spec.md §4.4).
func (c *Controller) SetAdvertisingParameters(intervalMin, intervalMax uint16, channelMap byte, timeout time.Duration) error {
	params := make([]byte, 15)
	params[0], params[1] = byte(intervalMin), byte(intervalMin>>8)
	params[2], params[3] = byte(intervalMax), byte(intervalMax>>8)
	params[4] = 0x00 // advertising type: ADV_IND
	params[5] = 0x00 // own address type: public
	params[6] = 0x00 // peer address type
	// params[7:13] peer address, left zero
	params[13] = channelMap
	params[14] = 0x00 // advertising filter policy
	return c.SendAndCheckStatus(OpLESetAdvertisingParams, params, timeout)
}

// SetAdvertisingData issues LE Set Advertising Data. data must be at
// most 31 bytes.
func (c *Controller) SetAdvertisingData(data []byte, timeout time.Duration) error {
	var buf [31]byte
	n := copy(buf[:], data)
	params := append([]byte{byte(n)}, buf[:]...)
	return c.SendAndCheckStatus(OpLESetAdvertisingData, params, timeout)
}

// SetAdvertiseEnable issues LE Set Advertise Enable.
func (c *Controller) SetAdvertiseEnable(enable bool, timeout time.Duration) error {
	var b byte
	if enable {
		b = 1
	}
	return c.SendAndCheckStatus(OpLESetAdvertiseEnable, []byte{b}, timeout)
}

// SetScanParameters issues LE Set Scan Parameters for passive
// scanning (spec.md §4.6).
func (c *Controller) SetScanParameters(intervalUnits, windowUnits uint16, timeout time.Duration) error {
	params := make([]byte, 7)
	params[0] = 0x00 // passive scan
	params[1], params[2] = byte(intervalUnits), byte(intervalUnits>>8)
	params[3], params[4] = byte(windowUnits), byte(windowUnits>>8)
	params[5] = 0x00 // own address type: public
	params[6] = 0x00 // filter policy: accept all
	return c.SendAndCheckStatus(OpLESetScanParameters, params, timeout)
}

// SetScanEnable issues LE Set Scan Enable.
func (c *Controller) SetScanEnable(enable bool, filterDuplicates bool, timeout time.Duration) error {
	b := func(v bool) byte {
		if v {
			return 1
		}
		return 0
	}
	return c.SendAndCheckStatus(OpLESetScanEnable, []byte{b(enable), b(filterDuplicates)}, timeout)
}
