package livesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"botdash/internal/viewmodel"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextNotice(t *testing.T, ch <-chan Notice) Notice {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notice")
		return Notice{}
	}
}

func newTestPush(stream *fakeStream) *PushAdapter {
	return NewPushAdapter(nil, stream, clock.New(), PushConfig{
		ReconnectInitial: time.Millisecond,
		ReconnectMax:     5 * time.Millisecond,
	})
}

func TestPushAdapterDecodesFrames(t *testing.T) {
	stream := newFakeStream()
	p := newTestPush(stream)
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	n := nextNotice(t, p.Notices())
	require.Equal(t, NoticeConnected, n.Kind)
	assert.Equal(t, viewmodel.SourcePush, n.Channel)

	stream.msgCh <- []byte(`{"type":"bot_status_update","data":{"running":true,"current_risk":2.5,"last_updated":"2024-03-09T10:00:00Z"}}`)
	n = nextNotice(t, p.Notices())
	require.Equal(t, NoticeUpdate, n.Kind)
	assert.Equal(t, viewmodel.KindBotStatus, n.Event.Kind)
	assert.Equal(t, viewmodel.SourcePush, n.Event.Source)
	require.NotNil(t, n.Event.BotStatus)
	assert.True(t, n.Event.BotStatus.Running)
	assert.Equal(t, 2.5, n.Event.BotStatus.RiskPct)

	stream.msgCh <- []byte(`["new_message",{"content":"Order filled","level":"success"}]`)
	n = nextNotice(t, p.Notices())
	require.Equal(t, NoticeUpdate, n.Kind)
	require.NotNil(t, n.Event.Message)
	assert.Equal(t, viewmodel.LevelSuccess, n.Event.Message.Level)
	assert.NotEmpty(t, n.Event.Message.ID)
	assert.False(t, n.Event.Message.Timestamp.IsZero())
}

func TestPushAdapterReportsDecodeErrors(t *testing.T) {
	stream := newFakeStream()
	p := newTestPush(stream)
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()
	nextNotice(t, p.Notices())

	stream.msgCh <- []byte(`{"type":"mystery","data":{}}`)
	n := nextNotice(t, p.Notices())
	require.Equal(t, NoticeError, n.Kind)
	var decodeErr *DecodeError
	require.True(t, errors.As(n.Err, &decodeErr))
	assert.ErrorIs(t, n.Err, ErrUnknownEventType)

	stream.msgCh <- []byte(`not json`)
	n = nextNotice(t, p.Notices())
	require.Equal(t, NoticeError, n.Kind)
	assert.True(t, errors.As(n.Err, &decodeErr))
}

func TestPushAdapterRetriesConnect(t *testing.T) {
	stream := newFakeStream(errBoom, errBoom)
	p := newTestPush(stream)
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	for i := 0; i < 2; i++ {
		n := nextNotice(t, p.Notices())
		require.Equal(t, NoticeError, n.Kind)
		var transportErr *TransportError
		require.True(t, errors.As(n.Err, &transportErr))
		assert.Equal(t, "connect", transportErr.Op)
	}
	n := nextNotice(t, p.Notices())
	assert.Equal(t, NoticeConnected, n.Kind)
	assert.Equal(t, 3, stream.Connects())
}

func TestPushAdapterReconnectsAfterDrop(t *testing.T) {
	stream := newFakeStream()
	p := newTestPush(stream)
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	require.Equal(t, NoticeConnected, nextNotice(t, p.Notices()).Kind)

	stream.errCh <- errors.New("connection reset")
	n := nextNotice(t, p.Notices())
	require.Equal(t, NoticeDisconnected, n.Kind)
	assert.Error(t, n.Err)

	require.Equal(t, NoticeConnected, nextNotice(t, p.Notices()).Kind)
	assert.Equal(t, 2, stream.Connects())
}

func TestPushAdapterDisconnectStopsSupervisor(t *testing.T) {
	stream := newFakeStream()
	p := newTestPush(stream)
	require.NoError(t, p.Connect(context.Background()))
	require.NoError(t, p.Connect(context.Background()))
	require.Equal(t, NoticeConnected, nextNotice(t, p.Notices()).Kind)

	p.Disconnect()
	p.Disconnect()

	select {
	case n := <-p.Notices():
		t.Fatalf("unexpected notice after disconnect: %s", n.Kind)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, stream.Connects())
	assert.Equal(t, uint64(1), p.Generation())
}
