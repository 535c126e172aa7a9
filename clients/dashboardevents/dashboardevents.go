package dashboardevents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"botdash/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrAlreadyConnected is returned by Connect while a session is open.
var ErrAlreadyConnected = errors.New("already connected")

// DashboardEventsClient is the websocket client for the bot service's live
// event stream. One client serves many sequential sessions: Connect opens a
// session, Close ends it, and Messages/Errors stay valid across sessions.
type DashboardEventsClient struct {
	logger *zap.Logger

	url          string
	header       http.Header
	dialer       *websocket.Dialer
	pingInterval time.Duration
	pongWait     time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}

	msgCh chan json.RawMessage
	errCh chan error

	msgCount        uint64
	lastMsgUnixNano int64
	sessions        uint64
}

func NewDashboardEventsClient(logger *zap.Logger, cfg *config.Config) *DashboardEventsClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	header := http.Header{}
	if cfg.Server.APIToken != "" {
		header.Set("Authorization", "Bearer "+cfg.Server.APIToken)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HTTP.Timeout

	return &DashboardEventsClient{
		logger:       logger,
		url:          cfg.Server.WSURL(),
		header:       header,
		dialer:       &dialer,
		pingInterval: cfg.Sync.PingInterval,
		pongWait:     cfg.Sync.PingInterval * 3,

		msgCh: make(chan json.RawMessage, 1024),
		errCh: make(chan error, 1),
	}
}

// Connect dials the event stream and starts the read and ping loops.
func (c *DashboardEventsClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return ErrAlreadyConnected
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial events ws: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial events ws: %w", err)
	}

	c.logger.Info("events ws dialed", zap.String("url", c.url))

	conn.SetCloseHandler(func(code int, text string) error {
		c.logger.Warn(
			"events ws close frame received",
			zap.Int("code", code),
			zap.String("reason", text),
		)
		return nil
	})

	if c.pongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.pongWait))
		})
	}

	done := make(chan struct{})

	c.connMu.Lock()
	c.conn = conn
	c.done = done
	c.connMu.Unlock()

	// Drop an error left over from a previous session.
	select {
	case <-c.errCh:
	default:
	}

	atomic.AddUint64(&c.sessions, 1)

	go c.readLoop(conn, done)
	if c.pingInterval > 0 {
		go c.pingLoop(conn, done)
	}

	return nil
}

func (c *DashboardEventsClient) Messages() <-chan json.RawMessage {
	return c.msgCh
}

// Errors delivers at most one error per session: the read error that ended
// it. Sessions ended by Close do not report.
func (c *DashboardEventsClient) Errors() <-chan error {
	return c.errCh
}

// Connected reports whether a session is open.
func (c *DashboardEventsClient) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

type WSStats struct {
	MessageCount  uint64
	LastMessageAt time.Time
	Sessions      uint64
}

func (c *DashboardEventsClient) Stats() WSStats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return WSStats{
		MessageCount:  n,
		LastMessageAt: t,
		Sessions:      atomic.LoadUint64(&c.sessions),
	}
}

// Close ends the current session, if any.
func (c *DashboardEventsClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.closeLocked()
}

func (c *DashboardEventsClient) closeLocked() error {
	if c.done != nil {
		close(c.done)
		c.done = nil
	}

	var err error
	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.conn = nil
	}
	return err
}

func (c *DashboardEventsClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pingInterval))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("events ws ping failed", zap.Error(err))
			}

		case <-done:
			return
		}
	}
}

func (c *DashboardEventsClient) readLoop(conn *websocket.Conn, done <-chan struct{}) {
	c.logger.Debug("events ws read loop started")

	first := true

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				c.logger.Debug("events ws read loop exiting: session closed")
				return
			default:
			}

			c.logger.Warn("events ws read loop exiting: read error", zap.Error(err))
			c.connMu.Lock()
			if c.conn == conn {
				_ = c.closeLocked()
			}
			c.connMu.Unlock()

			select {
			case c.errCh <- err:
			default:
			}
			return
		}

		if pongWait := c.pongWait; pongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}

		trimmed := bytes.TrimSpace(b)
		if len(trimmed) == 0 {
			continue
		}

		// Some servers answer keepalives in-band.
		if string(trimmed) == "PONG" || string(trimmed) == "PING" {
			continue
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		if first {
			first = false
			c.logger.Info("events ws received first frame", zap.Int("bytes", len(b)))
		}

		c.forward(json.RawMessage(trimmed), done)
	}
}

func (c *DashboardEventsClient) forward(msg json.RawMessage, done <-chan struct{}) {
	select {
	case c.msgCh <- msg:
	case <-done:
	default:
		c.logger.Warn("dropping ws message: msgCh full")
	}
}
