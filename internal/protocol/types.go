package protocol

import "fmt"

// Wire constants.
const (
	IDLen        = 24
	TimestampLen = 10
	ConfirmTag   = "CONFIRMED"

	// DeliverHeaderLen is recipient + sender + timestamp.
	DeliverHeaderLen = 2*IDLen + TimestampLen
	// ConfirmLen is the full width of a confirm body.
	ConfirmLen = len(ConfirmTag) + TimestampLen + 2*IDLen

	RecvMarker = "+RCV="
	SendPrefix = "AT+SEND=0,"
	LineEnd    = "\r\n"

	UIDQuery  = "AT+UID?" + LineEnd
	UIDMarker = "+UID="
)

// DeviceID is the 24 character address burned into a transceiver module.
type DeviceID string

func (d DeviceID) Valid() bool {
	return len(d) == IDLen
}

// Short returns a display prefix of the id.
func (d DeviceID) Short() string {
	if len(d) <= 8 {
		return string(d)
	}
	return string(d[:8])
}

// Kind tags the frame variant.
type Kind int

const (
	KindDeliver Kind = iota
	KindConfirm
)

func (k Kind) String() string {
	switch k {
	case KindDeliver:
		return "deliver"
	case KindConfirm:
		return "confirm"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Frame is one decoded wire unit. Deliver frames carry a payload; Confirm
// frames acknowledge the Deliver sent by Recipient at Timestamp.
type Frame struct {
	Kind      Kind
	Sender    DeviceID
	Recipient DeviceID
	Timestamp int64
	Payload   []byte

	// Body is the body exactly as it appeared on the wire. It is set by
	// Decode and used to forward frames verbatim.
	Body []byte

	// Via is the <addr> of an inbound +RCV= line: the radio address of the
	// neighbour that transmitted this copy, which is not Sender when the
	// frame was relayed. RSSI and SNR describe that hop.
	Via       string
	RSSI      int
	SNR       int
	HasSignal bool
}

// NewDeliver builds a Deliver frame.
func NewDeliver(sender, recipient DeviceID, ts int64, payload []byte) Frame {
	return Frame{
		Kind:      KindDeliver,
		Sender:    sender,
		Recipient: recipient,
		Timestamp: ts,
		Payload:   payload,
	}
}

// NewConfirm builds the acknowledgment a node sends back to the originator of
// a Deliver. Sender is the confirming node, Recipient the original sender.
func NewConfirm(sender, recipient DeviceID, ts int64) Frame {
	return Frame{
		Kind:      KindConfirm,
		Sender:    sender,
		Recipient: recipient,
		Timestamp: ts,
	}
}

// Forwardable reports whether an overheard frame may be relayed. Header-only
// Deliver frames are dropped so noise is not amplified.
func (f Frame) Forwardable() bool {
	switch f.Kind {
	case KindConfirm:
		return len(f.Body) >= ConfirmLen
	case KindDeliver:
		return len(f.Body) > DeliverHeaderLen
	}
	return false
}
