package engine

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/bit2swaz/loramesh/internal/store"
	"github.com/bit2swaz/loramesh/internal/testutil/fakelink"
	"github.com/bit2swaz/loramesh/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	localID = protocol.DeviceID("AAAAAAAAAAAAAAAAAAAAAAAA")
	peerID  = protocol.DeviceID("BBBBBBBBBBBBBBBBBBBBBBBB")
	otherC  = protocol.DeviceID("CCCCCCCCCCCCCCCCCCCCCCCC")
	otherD  = protocol.DeviceID("DDDDDDDDDDDDDDDDDDDDDDDD")
	ts      = int64(1700000000)
)

func fixedNow() time.Time { return time.Unix(ts, 0) }

func CreateTestEngine(t *testing.T, id protocol.DeviceID, opts Options) (*Engine, *fakelink.Link, *store.Conversations) {
	t.Helper()
	link := fakelink.New()
	conv := store.NewConversations(nil)
	if opts.Now == nil {
		opts.Now = fixedNow
	}
	eng, err := New(transport.NewManager(link), conv, id, opts)
	require.NoError(t, err)
	return eng, link, conv
}

func inbound(t *testing.T, f protocol.Frame) []byte {
	t.Helper()
	body, err := f.MarshalBody()
	require.NoError(t, err)
	return []byte("+RCV=7," + strconv.Itoa(len(body)) + "," + string(body) + ",-51,8\r\n")
}

func TestDeliverToLocalNode(t *testing.T) {
	eng, link, conv := CreateTestEngine(t, localID, DefaultOptions())

	eng.HandleLine(inbound(t, protocol.NewDeliver(peerID, localID, ts, []byte("hi"))))

	msgs := conv.Conversation(peerID)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Confirmed)
	assert.Equal(t, "hi", msgs[0].Payload)
	assert.Equal(t, peerID, msgs[0].Sender)
	assert.False(t, msgs[0].Outgoing)

	assert.Equal(t, []string{
		"AT+SEND=0,67,CONFIRMED1700000000BBBBBBBBBBBBBBBBBBBBBBBBAAAAAAAAAAAAAAAAAAAAAAAA\r\n",
	}, link.Writes())
}

func TestSendAndConfirm(t *testing.T) {
	eng, link, conv := CreateTestEngine(t, localID, DefaultOptions())

	msg, err := eng.Send(peerID, "  hi  ")
	require.NoError(t, err)
	assert.False(t, msg.Confirmed)
	assert.Equal(t, ts, msg.SentAt)
	assert.Equal(t, []string{
		"AT+SEND=0,60,BBBBBBBBBBBBBBBBBBBBBBBBAAAAAAAAAAAAAAAAAAAAAAAA1700000000hi\r\n",
	}, link.Writes())
	link.Reset()

	// Same second, wrong peer: must not confirm.
	eng.HandleLine(inbound(t, protocol.NewConfirm(otherC, localID, ts)))
	assert.False(t, conv.Conversation(peerID)[0].Confirmed)

	// Right peer, wrong second.
	eng.HandleLine(inbound(t, protocol.NewConfirm(peerID, localID, ts+1)))
	assert.False(t, conv.Conversation(peerID)[0].Confirmed)

	eng.HandleLine(inbound(t, protocol.NewConfirm(peerID, localID, ts)))
	assert.True(t, conv.Conversation(peerID)[0].Confirmed)

	// A second copy of the confirm changes nothing and is not relayed.
	eng.HandleLine(inbound(t, protocol.NewConfirm(peerID, localID, ts)))
	assert.True(t, conv.Conversation(peerID)[0].Confirmed)
	assert.Empty(t, link.Writes())
}

func TestSendValidation(t *testing.T) {
	eng, link, _ := CreateTestEngine(t, localID, DefaultOptions())

	_, err := eng.Send(peerID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = eng.Send(peerID, strings.Repeat("x", MaxPayload+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	_, err = eng.Send("short", "hi")
	assert.ErrorIs(t, err, protocol.ErrMalformedInput)
	assert.Empty(t, link.Writes())
}

func TestSendSameSecondGetsDistinctTimestamps(t *testing.T) {
	eng, _, _ := CreateTestEngine(t, localID, DefaultOptions())

	first, err := eng.Send(peerID, "one")
	require.NoError(t, err)
	second, err := eng.Send(peerID, "two")
	require.NoError(t, err)
	assert.NotEqual(t, first.SentAt, second.SentAt)
}

func TestLateConfirmDoesNotMatchLaterSend(t *testing.T) {
	eng, _, conv := CreateTestEngine(t, localID, DefaultOptions())

	first, err := eng.Send(peerID, "one")
	require.NoError(t, err)
	ack := inbound(t, protocol.NewConfirm(peerID, localID, first.SentAt))
	eng.HandleLine(ack)

	second, err := eng.Send(peerID, "two")
	require.NoError(t, err)
	assert.NotEqual(t, first.SentAt, second.SentAt)

	// A relayed copy of the first confirm arrives late.
	eng.HandleLine(ack)

	msgs := conv.Conversation(peerID)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Confirmed)
	assert.False(t, msgs[1].Confirmed)

	resent, err := eng.Resend(peerID, second.SentAt)
	require.NoError(t, err)
	assert.Equal(t, "two", resent.Payload)
	assert.Equal(t, 1, resent.RetryCount)
}

func TestSendWithoutLinkIsNotStored(t *testing.T) {
	conv := store.NewConversations(nil)
	eng, err := New(transport.NewManager(nil), conv, localID, Options{Now: fixedNow})
	require.NoError(t, err)

	_, err = eng.Send(peerID, "hi")
	assert.ErrorIs(t, err, transport.ErrNoLink)
	assert.Empty(t, conv.Snapshot())
}

func TestRelayForwardsVerbatim(t *testing.T) {
	eng, link, conv := CreateTestEngine(t, localID, DefaultOptions())

	deliver := protocol.NewDeliver(otherC, otherD, ts, []byte("over, the hill"))
	body, err := deliver.MarshalBody()
	require.NoError(t, err)
	eng.HandleLine(inbound(t, deliver))

	confirm := protocol.NewConfirm(otherD, otherC, ts)
	cbody, err := confirm.MarshalBody()
	require.NoError(t, err)
	eng.HandleLine(inbound(t, confirm))

	assert.Equal(t, []string{
		"AT+SEND=0,72," + string(body) + "\r\n",
		"AT+SEND=0,67," + string(cbody) + "\r\n",
	}, link.Writes())
	assert.Empty(t, conv.Snapshot())
}

func TestRelayDropsHeaderOnlyDeliver(t *testing.T) {
	eng, link, _ := CreateTestEngine(t, localID, DefaultOptions())

	eng.HandleLine(inbound(t, protocol.NewDeliver(otherC, otherD, ts, nil)))
	eng.HandleLine([]byte("+RCV=7,20,CCCCCCCCCCCCCCCCCCCC\r\n"))

	assert.Empty(t, link.Writes())
}

func TestRelaySuppressesDuplicatesWithinWindow(t *testing.T) {
	eng, link, _ := CreateTestEngine(t, localID, DefaultOptions())
	line := inbound(t, protocol.NewDeliver(otherC, otherD, ts, []byte("x")))

	eng.HandleLine(line)
	eng.HandleLine(line)
	assert.Len(t, link.Writes(), 1)

	opts := DefaultOptions()
	opts.RelayWindow = 0
	eng, link, _ = CreateTestEngine(t, localID, opts)
	eng.HandleLine(line)
	eng.HandleLine(line)
	assert.Len(t, link.Writes(), 2)
}

func TestRelayWindowExpires(t *testing.T) {
	now := fixedNow()
	opts := DefaultOptions()
	opts.Now = func() time.Time { return now }
	eng, link, _ := CreateTestEngine(t, localID, opts)
	line := inbound(t, protocol.NewDeliver(otherC, otherD, ts, []byte("x")))

	eng.HandleLine(line)
	now = now.Add(opts.RelayWindow + time.Second)
	eng.HandleLine(line)
	assert.Len(t, link.Writes(), 2)
}

func TestOwnEchoIsNotRelayed(t *testing.T) {
	eng, link, _ := CreateTestEngine(t, localID, DefaultOptions())
	eng.HandleLine(inbound(t, protocol.NewDeliver(localID, peerID, ts, []byte("mine"))))
	assert.Empty(t, link.Writes())
}

func TestDuplicateDeliveryConfirmedButNotAppended(t *testing.T) {
	eng, link, conv := CreateTestEngine(t, localID, DefaultOptions())
	line := inbound(t, protocol.NewDeliver(peerID, localID, ts, []byte("hi")))

	eng.HandleLine(line)
	eng.HandleLine(line)

	assert.Len(t, conv.Conversation(peerID), 1)
	assert.Len(t, link.Writes(), 2)
}

func TestRelayOnlyWithoutIdentity(t *testing.T) {
	eng, link, conv := CreateTestEngine(t, "", DefaultOptions())

	_, err := eng.Send(peerID, "hi")
	assert.ErrorIs(t, err, ErrNoIdentity)

	eng.HandleLine(inbound(t, protocol.NewDeliver(peerID, localID, ts, []byte("hi"))))
	assert.Len(t, link.Writes(), 1)
	assert.Empty(t, conv.Snapshot())
}

func TestMalformedFrameDropped(t *testing.T) {
	eng, link, conv := CreateTestEngine(t, localID, DefaultOptions())
	eng.HandleLine([]byte("+RCV=7,garbage\r\n"))
	assert.Empty(t, link.Writes())
	assert.Empty(t, conv.Snapshot())
}

func TestResend(t *testing.T) {
	eng, link, conv := CreateTestEngine(t, localID, DefaultOptions())

	_, err := eng.Resend(peerID, ts)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = eng.Send(peerID, "hi")
	require.NoError(t, err)
	m, err := eng.Resend(peerID, ts)
	require.NoError(t, err)
	assert.Equal(t, 1, m.RetryCount)

	w := link.Writes()
	require.Len(t, w, 2)
	assert.Equal(t, w[0], w[1])

	eng.HandleLine(inbound(t, protocol.NewConfirm(peerID, localID, ts)))
	assert.True(t, conv.Conversation(peerID)[0].Confirmed)
	_, err = eng.Resend(peerID, ts)
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
}

func TestStartRearmsJournaledSends(t *testing.T) {
	link := fakelink.New()
	conv := store.NewConversations(nil)
	conv.Load([]store.Message{{
		ID: "m1", Peer: peerID, Sender: localID, Recipient: peerID,
		Payload: "hi", SentAt: ts, Outgoing: true,
	}})
	eng, err := New(transport.NewManager(link), conv, localID, Options{Now: fixedNow, PollInterval: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))

	link.Feed(string(inbound(t, protocol.NewConfirm(peerID, localID, ts))))
	require.Eventually(t, func() bool {
		return conv.Conversation(peerID)[0].Confirmed
	}, time.Second, 5*time.Millisecond)
}

func TestUnconfirmedSendIsNeverRetried(t *testing.T) {
	opts := DefaultOptions()
	opts.PollInterval = time.Millisecond
	eng, link, conv := CreateTestEngine(t, localID, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))

	_, err := eng.Send(peerID, "hi")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, link.Writes(), 1)
	m := conv.Conversation(peerID)[0]
	assert.False(t, m.Confirmed)
	assert.Equal(t, 0, m.RetryCount)
}

type recordingObserver struct {
	ids []protocol.DeviceID
	via []string
}

func (r *recordingObserver) Observe(f protocol.Frame) {
	r.ids = append(r.ids, f.Sender)
	r.via = append(r.via, f.Via)
}

func TestObserverSeesSenders(t *testing.T) {
	obs := &recordingObserver{}
	opts := DefaultOptions()
	opts.Observer = obs
	eng, _, _ := CreateTestEngine(t, localID, opts)

	eng.HandleLine(inbound(t, protocol.NewDeliver(peerID, localID, ts, []byte("hi"))))
	eng.HandleLine(inbound(t, protocol.NewDeliver(localID, peerID, ts, []byte("echo"))))

	assert.Equal(t, []protocol.DeviceID{peerID}, obs.ids)
	assert.Equal(t, []string{"7"}, obs.via)
}
