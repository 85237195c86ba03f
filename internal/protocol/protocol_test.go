package protocol

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	localID = DeviceID("AAAAAAAAAAAAAAAAAAAAAAAA")
	peerID  = DeviceID("BBBBBBBBBBBBBBBBBBBBBBBB")
	ts      = int64(1700000000)
)

func TestEncodeDeliverScenario(t *testing.T) {
	line, err := Encode(NewDeliver(localID, peerID, ts, []byte("hi")))
	require.NoError(t, err)
	assert.Equal(t,
		"AT+SEND=0,60,BBBBBBBBBBBBBBBBBBBBBBBBAAAAAAAAAAAAAAAAAAAAAAAA1700000000hi\r\n",
		string(line))
}

func TestEncodeConfirm(t *testing.T) {
	line, err := Encode(NewConfirm(localID, peerID, ts))
	require.NoError(t, err)
	assert.Equal(t,
		"AT+SEND=0,67,CONFIRMED1700000000BBBBBBBBBBBBBBBBBBBBBBBBAAAAAAAAAAAAAAAAAAAAAAAA\r\n",
		string(line))
}

func TestEncodeRejectsBadFields(t *testing.T) {
	cases := []Frame{
		NewDeliver("short", peerID, ts, nil),
		NewDeliver(localID, DeviceID(strings.Repeat("B", 25)), ts, nil),
		NewDeliver(localID, peerID, 170000000, nil),
		NewConfirm(localID, peerID, -1),
		{Kind: Kind(7), Sender: localID, Recipient: peerID, Timestamp: ts},
	}
	for i, f := range cases {
		_, err := Encode(f)
		assert.ErrorIs(t, err, ErrMalformedInput, "case %d", i)
	}
}

func TestDeliverRoundTrip(t *testing.T) {
	payloads := []string{"", "hi", "a,b,c", "CONFIRMED but in a payload", strings.Repeat("x", 180)}
	for _, p := range payloads {
		line, err := Encode(NewDeliver(localID, peerID, ts, []byte(p)))
		require.NoError(t, err)

		body := strings.TrimSuffix(strings.TrimPrefix(string(line), SendPrefix), LineEnd)
		inbound := "+RCV=3," + body + ",-42,9" + LineEnd
		f, err := Decode([]byte(inbound))
		require.NoError(t, err, "payload %q", p)

		assert.Equal(t, KindDeliver, f.Kind)
		assert.Equal(t, localID, f.Sender)
		assert.Equal(t, peerID, f.Recipient)
		assert.Equal(t, ts, f.Timestamp)
		assert.Equal(t, p, string(f.Payload))
		assert.Equal(t, "3", f.Via)
		assert.True(t, f.HasSignal)
		assert.Equal(t, -42, f.RSSI)
		assert.Equal(t, 9, f.SNR)
	}
}

func TestDecodeConfirm(t *testing.T) {
	inbound := "+RCV=9,67,CONFIRMED1700000000AAAAAAAAAAAAAAAAAAAAAAAABBBBBBBBBBBBBBBBBBBBBBBB\r\n"
	f, err := Decode([]byte(inbound))
	require.NoError(t, err)
	assert.Equal(t, KindConfirm, f.Kind)
	assert.Equal(t, localID, f.Recipient)
	assert.Equal(t, peerID, f.Sender)
	assert.Equal(t, ts, f.Timestamp)
	assert.Equal(t, "9", f.Via)
	assert.False(t, f.HasSignal)
	assert.True(t, f.Forwardable())
}

func TestDecodeShortBodies(t *testing.T) {
	for n := 0; n < DeliverHeaderLen; n++ {
		body := strings.Repeat("A", n)
		raw := fmt.Sprintf("+RCV=1,%d,%s\r\n", n, body)
		assert.NotPanics(t, func() {
			_, err := Decode([]byte(raw))
			assert.True(t, errors.Is(err, ErrMalformedFrame), "len %d: %v", n, err)
		})
	}
}

func TestDecodeShortConfirm(t *testing.T) {
	_, err := Decode([]byte("+RCV=1,30,CONFIRMED1700000000AAAAAAAAAAA\r\n"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeMissingParts(t *testing.T) {
	for _, raw := range []string{"+RCV=1\r\n", "+RCV=1,60\r\n", ""} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedFrame, "raw %q", raw)
	}
}

func TestDecodeNonDecimalTimestamp(t *testing.T) {
	body := string(peerID) + string(localID) + "17000000x0" + "hi"
	_, err := Decode([]byte("+RCV=1,60," + body + "\r\n"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestForwardable(t *testing.T) {
	header, err := NewDeliver(localID, peerID, ts, nil).MarshalBody()
	require.NoError(t, err)
	f, err := DecodeBody(header)
	require.NoError(t, err)
	assert.False(t, f.Forwardable())

	full, err := NewDeliver(localID, peerID, ts, []byte("x")).MarshalBody()
	require.NoError(t, err)
	f, err = DecodeBody(full)
	require.NoError(t, err)
	assert.True(t, f.Forwardable())
	assert.Equal(t, "AT+SEND=0,59,"+string(full)+"\r\n", string(EncodeBody(f.Body)))
}
