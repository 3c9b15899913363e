package hci

// Packet types, mirrored from _examples/paypal-gatt/linux/internal/hci/hci.go.
const (
	TypCommandPkt byte = 0x01
	TypACLDataPkt byte = 0x02
	TypSCODataPkt byte = 0x03
	TypEventPkt   byte = 0x04
	TypVendorPkt  byte = 0xFF
)

// Event codes needed by the BR/EDR inquiry loop (spec.md §4.5), the LE
// scan/advertising path (§4.4, §4.6), and command/response dispatch.
const (
	EvtInquiryComplete        byte = 0x01
	EvtInquiryResult          byte = 0x02
	EvtDisconnectionComplete  byte = 0x05
	EvtCommandComplete        byte = 0x0E
	EvtCommandStatus          byte = 0x0F
	EvtNumberOfCompletedPkts  byte = 0x13
	EvtInquiryResultWithRSSI  byte = 0x22
	EvtLEMeta                 byte = 0x3E
)

// LE meta sub-events.
const (
	SubEvtLEAdvertisingReport byte = 0x02
)

// Opcode packs OGF (10 bits) and OCF (6 bits) the way the Bluetooth
// spec defines HCI command opcodes, following the teacher's
// linux/internal/cmd/cmd.go Opcode type.
type Opcode uint16

func opcode(ogf, ocf uint16) Opcode { return Opcode(ogf<<10 | ocf) }

const (
	ogfLinkControl = 0x01
	ogfHostControl = 0x03
	ogfInfoParam   = 0x04
	ogfStatusParam = 0x05
	ogfLEControl   = 0x08
)

// Command opcodes this firmware issues.
var (
	OpInquiry                 = opcode(ogfLinkControl, 0x0001)
	OpInquiryCancel           = opcode(ogfLinkControl, 0x0002)
	OpReset                   = opcode(ogfHostControl, 0x0003)
	OpLESetAdvertisingParams  = opcode(ogfLEControl, 0x0006)
	OpLESetAdvertisingData    = opcode(ogfLEControl, 0x0008)
	OpLESetScanResponseData   = opcode(ogfLEControl, 0x0009)
	OpLESetAdvertiseEnable    = opcode(ogfLEControl, 0x000A)
	OpLESetScanParameters     = opcode(ogfLEControl, 0x000B)
	OpLESetScanEnable         = opcode(ogfLEControl, 0x000C)
)

// marshalCommand assembles a full HCI command packet: type byte,
// little-endian opcode, a one-byte parameter length, then params.
func marshalCommand(op Opcode, params []byte) []byte {
	b := make([]byte, 1+2+1+len(params))
	b[0] = TypCommandPkt
	b[1] = byte(op)
	b[2] = byte(op >> 8)
	b[3] = byte(len(params))
	copy(b[4:], params)
	return b
}
