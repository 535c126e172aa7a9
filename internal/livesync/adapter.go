// Package livesync keeps the dashboard view-model in sync with the bot
// service over a websocket push channel, falling back to HTTP polling while
// the socket is unavailable.
package livesync

import (
	"context"
	"time"

	"botdash/internal/viewmodel"
)

type NoticeKind int

const (
	NoticeUpdate NoticeKind = iota
	NoticeConnected
	NoticeDisconnected
	NoticeError
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeUpdate:
		return "update"
	case NoticeConnected:
		return "connected"
	case NoticeDisconnected:
		return "disconnected"
	case NoticeError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is one item on an adapter's notice stream.
type Notice struct {
	Kind    NoticeKind
	Channel viewmodel.Source
	// Generation identifies the Connect call that produced the notice.
	Generation uint64
	Event      viewmodel.UpdateEvent
	Err        error
	At         time.Time
}

// Adapter is one transport feeding update events. The notice channel is
// created once and survives Connect/Disconnect cycles.
type Adapter interface {
	Channel() viewmodel.Source
	Connect(ctx context.Context) error
	Disconnect()
	Notices() <-chan Notice
}

// generational is implemented by adapters whose notices carry a generation
// that the controller should check.
type generational interface {
	Generation() uint64
}

const noticeBuffer = 256

// emit blocks until the notice is queued or ctx is done, so a stopped
// adapter never leaks a goroutine on a full channel.
func emit(ctx context.Context, ch chan<- Notice, n Notice) bool {
	select {
	case ch <- n:
		return true
	case <-ctx.Done():
		return false
	}
}
