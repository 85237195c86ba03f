package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

// MarshalBody renders the fixed-width body of f.
func (f Frame) MarshalBody() ([]byte, error) {
	if !f.Sender.Valid() {
		return nil, fmt.Errorf("%w: sender %q is %d chars, want %d", ErrMalformedInput, f.Sender, len(f.Sender), IDLen)
	}
	if !f.Recipient.Valid() {
		return nil, fmt.Errorf("%w: recipient %q is %d chars, want %d", ErrMalformedInput, f.Recipient, len(f.Recipient), IDLen)
	}
	ts := strconv.FormatInt(f.Timestamp, 10)
	if f.Timestamp < 0 || len(ts) != TimestampLen {
		return nil, fmt.Errorf("%w: timestamp %d is not %d digits", ErrMalformedInput, f.Timestamp, TimestampLen)
	}

	var b bytes.Buffer
	switch f.Kind {
	case KindDeliver:
		b.Grow(DeliverHeaderLen + len(f.Payload))
		b.WriteString(string(f.Recipient))
		b.WriteString(string(f.Sender))
		b.WriteString(ts)
		b.Write(f.Payload)
	case KindConfirm:
		b.Grow(ConfirmLen)
		b.WriteString(ConfirmTag)
		b.WriteString(ts)
		b.WriteString(string(f.Recipient))
		b.WriteString(string(f.Sender))
	default:
		return nil, fmt.Errorf("%w: unknown frame kind %v", ErrMalformedInput, f.Kind)
	}
	return b.Bytes(), nil
}

// Encode renders f as one AT+SEND command line.
func Encode(f Frame) ([]byte, error) {
	body, err := f.MarshalBody()
	if err != nil {
		return nil, err
	}
	return EncodeBody(body), nil
}

// EncodeBody wraps an already rendered body in an AT+SEND command line. It is
// used to retransmit overheard frames byte for byte.
func EncodeBody(body []byte) []byte {
	n := strconv.Itoa(len(body))
	line := make([]byte, 0, len(SendPrefix)+len(n)+1+len(body)+len(LineEnd))
	line = append(line, SendPrefix...)
	line = append(line, n...)
	line = append(line, ',')
	line = append(line, body...)
	line = append(line, LineEnd...)
	return line
}
