package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

// Decode parses an inbound `+RCV=<addr>,<len>,<body>[,<rssi>,<snr>]` line.
// The line is split on the first two commas only; the body is then trimmed to
// the advertised length when that length is usable, so signal fields and the
// line terminator never leak into the payload.
func Decode(raw []byte) (Frame, error) {
	parts := bytes.SplitN(raw, []byte(","), 3)
	if len(parts) < 3 {
		return Frame{}, fmt.Errorf("%w: %d comma separated parts, want 3", ErrMalformedFrame, len(parts))
	}

	rest := bytes.TrimRight(parts[2], LineEnd)
	body := rest
	var tail []byte
	if n, err := strconv.Atoi(string(bytes.TrimSpace(parts[1]))); err == nil && n >= 0 && n <= len(rest) {
		body = rest[:n]
		tail = rest[n:]
	}

	f, err := DecodeBody(body)
	if err != nil {
		return Frame{}, err
	}
	f.Via = string(bytes.TrimSpace(bytes.TrimPrefix(parts[0], []byte(RecvMarker))))
	f.RSSI, f.SNR, f.HasSignal = parseSignal(tail)
	return f, nil
}

// DecodeBody classifies and parses a bare frame body.
func DecodeBody(body []byte) (Frame, error) {
	r := fieldReader{buf: body}
	var f Frame
	if bytes.HasPrefix(body, []byte(ConfirmTag)) {
		if len(body) < ConfirmLen {
			return Frame{}, fmt.Errorf("%w: confirm body is %d bytes, want %d", ErrMalformedFrame, len(body), ConfirmLen)
		}
		r.skip(len(ConfirmTag))
		f.Kind = KindConfirm
		f.Timestamp = r.timestamp()
		f.Recipient = r.id()
		f.Sender = r.id()
	} else {
		if len(body) < DeliverHeaderLen {
			return Frame{}, fmt.Errorf("%w: deliver body is %d bytes, want at least %d", ErrMalformedFrame, len(body), DeliverHeaderLen)
		}
		f.Kind = KindDeliver
		f.Recipient = r.id()
		f.Sender = r.id()
		f.Timestamp = r.timestamp()
		f.Payload = r.rest()
	}
	if r.err != nil {
		return Frame{}, r.err
	}
	f.Body = append([]byte(nil), body...)
	return f, nil
}

// fieldReader slices fixed-width fields off a body, recording the first
// failure instead of panicking on short input.
type fieldReader struct {
	buf []byte
	off int
	err error
}

func (r *fieldReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedFrame, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *fieldReader) skip(n int) {
	r.next(n)
}

func (r *fieldReader) id() DeviceID {
	return DeviceID(r.next(IDLen))
}

func (r *fieldReader) timestamp() int64 {
	b := r.next(TimestampLen)
	if r.err != nil {
		return 0
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			r.err = fmt.Errorf("%w: timestamp %q is not decimal", ErrMalformedFrame, b)
			return 0
		}
	}
	ts, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		r.err = fmt.Errorf("%w: timestamp %q: %v", ErrMalformedFrame, b, err)
		return 0
	}
	return ts
}

func (r *fieldReader) rest() []byte {
	if r.err != nil {
		return nil
	}
	b := append([]byte(nil), r.buf[r.off:]...)
	r.off = len(r.buf)
	return b
}

func parseSignal(tail []byte) (rssi, snr int, ok bool) {
	fields := bytes.Split(bytes.TrimPrefix(tail, []byte(",")), []byte(","))
	if len(fields) != 2 {
		return 0, 0, false
	}
	rssi, err := strconv.Atoi(string(bytes.TrimSpace(fields[0])))
	if err != nil {
		return 0, 0, false
	}
	snr, err = strconv.Atoi(string(bytes.TrimSpace(fields[1])))
	if err != nil {
		return 0, 0, false
	}
	return rssi, snr, true
}
