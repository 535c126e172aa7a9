package livesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"botdash/clients/wire"
	"botdash/internal/viewmodel"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// PollSource is the read side of the bot service's HTTP API.
// *dashboardapi.DashboardApiClient satisfies it.
type PollSource interface {
	GetStatus(ctx context.Context) (*wire.BotStatusPayload, error)
	GetMarketData(ctx context.Context) (*wire.MarketPayload, error)
	GetPositions(ctx context.Context) (*wire.AccountPayload, error)
}

type Endpoint string

const (
	EndpointStatus     Endpoint = "status"
	EndpointMarketData Endpoint = "market_data"
	EndpointPositions  Endpoint = "positions"
)

type PollConfig struct {
	StatusInterval    time.Duration
	DashboardInterval time.Duration
}

func (c PollConfig) withDefaults() PollConfig {
	if c.StatusInterval <= 0 {
		c.StatusInterval = 15 * time.Second
	}
	if c.DashboardInterval <= 0 {
		c.DashboardInterval = 5 * time.Second
	}
	return c
}

// PollAdapter polls the status endpoint and the dashboard endpoints (market
// data and positions) on two independent intervals. A failed request emits
// an error notice and no update; the interval keeps running.
type PollAdapter struct {
	logger *zap.Logger
	api    PollSource
	clock  clock.Clock

	notices chan Notice

	mu         sync.Mutex
	cfg        PollConfig
	parent     context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	generation uint64
}

func NewPollAdapter(logger *zap.Logger, api PollSource, clk clock.Clock, cfg PollConfig) *PollAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &PollAdapter{
		logger:  logger.With(zap.String("channel", string(viewmodel.SourcePoll))),
		api:     api,
		clock:   clk,
		cfg:     cfg.withDefaults(),
		notices: make(chan Notice, noticeBuffer),
	}
}

func (p *PollAdapter) Channel() viewmodel.Source { return viewmodel.SourcePoll }

func (p *PollAdapter) Notices() <-chan Notice { return p.notices }

// Generation identifies the current polling run. Notices from earlier runs
// carry a smaller value.
func (p *PollAdapter) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Connect starts polling. Every endpoint is fetched once immediately, then on
// its interval. Calling Connect while running is a no-op.
func (p *PollAdapter) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}
	p.parent = ctx
	p.startLocked()
	return nil
}

// Disconnect stops polling and waits for in-flight requests to unwind.
func (p *PollAdapter) Disconnect() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetConfig changes the intervals. A running poller restarts with the new
// intervals under a new generation.
func (p *PollAdapter) SetConfig(cfg PollConfig) {
	cfg = cfg.withDefaults()

	p.mu.Lock()
	if p.cfg == cfg {
		p.mu.Unlock()
		return
	}
	p.cfg = cfg
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}

	p.logger.Info("poll intervals changed, restarting",
		zap.Duration("status_interval", cfg.StatusInterval),
		zap.Duration("dashboard_interval", cfg.DashboardInterval),
	)
	cancel()
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	// Disconnect may have raced us.
	if p.cancel == nil || p.done != done {
		return
	}
	p.startLocked()
}

func (p *PollAdapter) startLocked() {
	runCtx, cancel := context.WithCancel(p.parent)
	p.generation++
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx, p.generation, p.cfg, p.done)
}

func (p *PollAdapter) run(ctx context.Context, gen uint64, cfg PollConfig, done chan struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	defer wg.Wait()

	statusTicker := p.clock.Ticker(cfg.StatusInterval)
	defer statusTicker.Stop()
	dashboardTicker := p.clock.Ticker(cfg.DashboardInterval)
	defer dashboardTicker.Stop()

	p.logger.Info("poll channel started", zap.Uint64("generation", gen))
	p.send(ctx, Notice{Kind: NoticeConnected, Generation: gen})

	// One request per endpoint at a time; a tick that finds its endpoint
	// still busy is skipped.
	busy := map[Endpoint]*atomic.Bool{
		EndpointStatus:     new(atomic.Bool),
		EndpointMarketData: new(atomic.Bool),
		EndpointPositions:  new(atomic.Bool),
	}

	poll := func(endpoints ...Endpoint) {
		for _, ep := range endpoints {
			if !busy[ep].CompareAndSwap(false, true) {
				pollSkipped.WithLabelValues(string(ep)).Inc()
				p.logger.Debug("previous poll still in flight, skipping", zap.String("endpoint", string(ep)))
				continue
			}
			wg.Add(1)
			go func(ep Endpoint) {
				defer wg.Done()
				p.pollOne(ctx, gen, ep, busy[ep])
			}(ep)
		}
	}

	poll(EndpointStatus, EndpointMarketData, EndpointPositions)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poll channel stopped", zap.Uint64("generation", gen))
			return
		case <-statusTicker.C:
			poll(EndpointStatus)
		case <-dashboardTicker.C:
			poll(EndpointMarketData, EndpointPositions)
		}
	}
}

func (p *PollAdapter) pollOne(ctx context.Context, gen uint64, ep Endpoint, busy *atomic.Bool) {
	ev, err := Fetch(ctx, p.api, ep, viewmodel.SourcePoll, p.clock.Now)
	// Released before the notice goes out so the next tick can fire as soon
	// as the result has been observed.
	busy.Store(false)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("poll request failed", zap.String("endpoint", string(ep)), zap.Error(err))
		p.send(ctx, Notice{Kind: NoticeError, Generation: gen, Err: err})
		return
	}
	p.send(ctx, Notice{Kind: NoticeUpdate, Generation: gen, Event: ev})
}

func (p *PollAdapter) send(ctx context.Context, n Notice) {
	n.Channel = viewmodel.SourcePoll
	n.At = p.clock.Now()
	emit(ctx, p.notices, n)
}

// Fetch performs one GET against ep and decodes the response into an update
// event tagged with src.
func Fetch(ctx context.Context, api PollSource, ep Endpoint, src viewmodel.Source, now func() time.Time) (viewmodel.UpdateEvent, error) {
	start := time.Now()

	var (
		ev  viewmodel.UpdateEvent
		err error
	)
	switch ep {
	case EndpointStatus:
		var p *wire.BotStatusPayload
		if p, err = api.GetStatus(ctx); err == nil {
			ev = BotStatusEvent(src, p)
		}
	case EndpointMarketData:
		var p *wire.MarketPayload
		if p, err = api.GetMarketData(ctx); err == nil {
			ev = MarketEvent(src, p)
		}
	case EndpointPositions:
		var p *wire.AccountPayload
		if p, err = api.GetPositions(ctx); err == nil {
			ev = AccountEvent(src, p)
		}
	default:
		err = errors.New("unknown endpoint " + string(ep))
	}

	observePollRequest(ep, start, err)

	if err != nil {
		if errors.Is(err, wire.ErrMalformed) {
			return viewmodel.UpdateEvent{}, &DecodeError{Channel: src, Type: string(ep), Err: err}
		}
		return viewmodel.UpdateEvent{}, &TransportError{Channel: src, Op: "get " + string(ep), Err: err}
	}
	ev.ReceivedAt = now()
	return ev, nil
}

// FetchSnapshot fetches every read endpoint once, in a fixed order. Failed
// endpoints are skipped and their errors joined.
func FetchSnapshot(ctx context.Context, api PollSource, src viewmodel.Source, now func() time.Time) ([]viewmodel.UpdateEvent, error) {
	var (
		events []viewmodel.UpdateEvent
		errs   []error
	)
	for _, ep := range []Endpoint{EndpointStatus, EndpointPositions, EndpointMarketData} {
		ev, err := Fetch(ctx, api, ep, src, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}
