package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"botdash/internal/viewmodel"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// EventStream is the websocket session the push adapter drives.
// *dashboardevents.DashboardEventsClient satisfies it.
type EventStream interface {
	Connect(ctx context.Context) error
	Messages() <-chan json.RawMessage
	Errors() <-chan error
	Close() error
}

type PushConfig struct {
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// PushAdapter turns websocket frames into update notices and keeps
// reconnecting with exponential backoff until Disconnect is called.
type PushAdapter struct {
	logger *zap.Logger
	stream EventStream
	clock  clock.Clock
	cfg    PushConfig

	notices chan Notice

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	generation uint64
}

func NewPushAdapter(logger *zap.Logger, stream EventStream, clk clock.Clock, cfg PushConfig) *PushAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		cfg.ReconnectMax = cfg.ReconnectInitial
	}
	return &PushAdapter{
		logger:  logger.With(zap.String("channel", string(viewmodel.SourcePush))),
		stream:  stream,
		clock:   clk,
		cfg:     cfg,
		notices: make(chan Notice, noticeBuffer),
	}
}

func (p *PushAdapter) Channel() viewmodel.Source { return viewmodel.SourcePush }

func (p *PushAdapter) Notices() <-chan Notice { return p.notices }

func (p *PushAdapter) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Connect starts the connect/read supervisor. It returns immediately; the
// outcome is reported as Connected or ChannelError notices. Calling Connect
// while already running is a no-op.
func (p *PushAdapter) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.generation++
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(runCtx, p.generation, p.done)
	return nil
}

// Disconnect stops reconnecting, closes the socket and waits for the
// supervisor to exit.
func (p *PushAdapter) Disconnect() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = p.stream.Close()
	<-done
}

func (p *PushAdapter) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.ReconnectInitial
	policy.MaxInterval = p.cfg.ReconnectMax

	for ctx.Err() == nil {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			if err := p.stream.Connect(ctx); err != nil {
				p.send(ctx, Notice{
					Kind:       NoticeError,
					Generation: gen,
					Err:        &TransportError{Channel: viewmodel.SourcePush, Op: "connect", Err: err},
				})
				return struct{}{}, err
			}
			return struct{}{}, nil
		},
			backoff.WithBackOff(policy),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				p.logger.Warn("push connect failed, retrying", zap.Error(err), zap.Duration("backoff", next))
			}),
		)
		if err != nil {
			return
		}

		p.logger.Info("push channel connected")
		p.send(ctx, Notice{Kind: NoticeConnected, Generation: gen})

		err = p.pump(ctx, gen)
		_ = p.stream.Close()
		if ctx.Err() != nil {
			return
		}

		p.logger.Warn("push channel dropped", zap.Error(err))
		p.send(ctx, Notice{
			Kind:       NoticeDisconnected,
			Generation: gen,
			Err:        &TransportError{Channel: viewmodel.SourcePush, Op: "read", Err: err},
		})
	}
}

var errStreamClosed = errors.New("message stream closed")

// pump forwards frames until the session ends.
func (p *PushAdapter) pump(ctx context.Context, gen uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-p.stream.Errors():
			return err

		case frame, ok := <-p.stream.Messages():
			if !ok {
				return errStreamClosed
			}
			ev, err := DecodeFrame(frame, viewmodel.SourcePush, p.clock.Now())
			if err != nil {
				p.logger.Warn("dropping undecodable push frame", zap.Error(err), zap.ByteString("frame", truncate(frame, 256)))
				p.send(ctx, Notice{Kind: NoticeError, Generation: gen, Err: err})
				continue
			}
			p.send(ctx, Notice{Kind: NoticeUpdate, Generation: gen, Event: ev})
		}
	}
}

func (p *PushAdapter) send(ctx context.Context, n Notice) {
	n.Channel = viewmodel.SourcePush
	n.At = p.clock.Now()
	emit(ctx, p.notices, n)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
