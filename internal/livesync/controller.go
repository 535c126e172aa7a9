package livesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"botdash/internal/viewmodel"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultProbeTimeout is how long the push channel gets to connect before
// polling starts.
const DefaultProbeTimeout = 3000 * time.Millisecond

type State int

const (
	StateProbing State = iota
	StatePushActive
	StatePollActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StatePushActive:
		return "push_active"
	case StatePollActive:
		return "poll_active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelState is the controller's view of one channel.
type ChannelState struct {
	Channel     viewmodel.Source `json:"channel"`
	Connected   bool             `json:"connected"`
	LastEventAt time.Time        `json:"last_event_at"`
	LastError   string           `json:"last_error,omitempty"`
}

// TransitionFunc observes state changes. It runs on the controller's event
// loop and must not block.
type TransitionFunc func(from, to State)

type ControllerConfig struct {
	ProbeTimeout time.Duration
	Clock        clock.Clock
}

// Controller owns both adapters and the store's commit path. All merges
// happen on the goroutine running Run.
type Controller struct {
	logger *zap.Logger
	store  viewmodel.Committer
	push   Adapter
	poll   Adapter
	clock  clock.Clock

	probeTimeout time.Duration

	inject       chan viewmodel.UpdateEvent
	stopped      chan struct{}
	stopOnce     sync.Once
	onTransition []TransitionFunc

	mu          sync.RWMutex
	state       State
	channels    map[viewmodel.Source]*ChannelState
	pollRunning bool
	tornDown    bool
	closing     bool
	cancel      context.CancelFunc
}

func NewController(logger *zap.Logger, store viewmodel.Committer, push, poll Adapter, cfg ControllerConfig) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Controller{
		logger:       logger,
		store:        store,
		push:         push,
		poll:         poll,
		clock:        cfg.Clock,
		probeTimeout: cfg.ProbeTimeout,
		inject:       make(chan viewmodel.UpdateEvent, 64),
		stopped:      make(chan struct{}),
		state:        StateProbing,
		channels: map[viewmodel.Source]*ChannelState{
			viewmodel.SourcePush: {Channel: viewmodel.SourcePush},
			viewmodel.SourcePoll: {Channel: viewmodel.SourcePoll},
		},
	}
}

// OnTransition registers fn. Register before Run.
func (c *Controller) OnTransition(fn TransitionFunc) {
	if fn != nil {
		c.onTransition = append(c.onTransition, fn)
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ChannelStates returns a copy of both channel states, push first.
func (c *Controller) ChannelStates() []ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return []ChannelState{
		*c.channels[viewmodel.SourcePush],
		*c.channels[viewmodel.SourcePoll],
	}
}

// Inject queues an event produced outside the adapters (action results) for
// merging on the event loop.
func (c *Controller) Inject(ctx context.Context, ev viewmodel.UpdateEvent) error {
	select {
	case <-c.stopped:
		return ErrTornDown
	default:
	}
	select {
	case c.inject <- ev:
		return nil
	case <-c.stopped:
		return ErrTornDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the controller down. Run returns shortly after. Closing a
// controller that has not started makes a later Run tear down and return
// without connecting anything.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closing = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once teardown has finished.
func (c *Controller) Done() <-chan struct{} {
	return c.stopped
}

// Run probes the push channel, fails over to polling when needed and merges
// every accepted notice until ctx is cancelled or Close is called.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.tornDown || c.cancel != nil {
		c.mu.Unlock()
		return errors.New("sync controller already started")
	}
	if c.closing {
		c.mu.Unlock()
		c.teardown()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("sync controller starting", zap.Duration("probe_timeout", c.probeTimeout))
	controllerState.Set(float64(StateProbing))

	// The probe timer is armed before the push adapter is asked to connect.
	probe := c.clock.Timer(c.probeTimeout)
	probeC := probe.C

	defer func() {
		probe.Stop()
		c.teardown()
	}()

	if err := c.push.Connect(ctx); err != nil {
		c.logger.Warn("push connect failed", zap.Error(err))
	}

	pushNotices := c.push.Notices()
	pollNotices := c.poll.Notices()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-probeC:
			probeC = nil
			if c.State() == StateProbing {
				c.logger.Warn("push channel did not connect in time, falling back to polling",
					zap.Duration("probe_timeout", c.probeTimeout))
				c.startPoll(ctx)
				c.transition(StatePollActive)
			}

		case n := <-pushNotices:
			if c.handlePush(ctx, n) && probeC != nil {
				probe.Stop()
				probeC = nil
			}

		case n := <-pollNotices:
			c.handlePoll(n)

		case ev := <-c.inject:
			c.merge(ev)
		}
	}
}

// handlePush reports whether the probe is settled.
func (c *Controller) handlePush(ctx context.Context, n Notice) bool {
	if c.isTornDown() {
		noticesDiscarded.WithLabelValues(string(viewmodel.SourcePush), "torn_down").Inc()
		return false
	}

	switch n.Kind {
	case NoticeUpdate:
		c.touch(viewmodel.SourcePush, n.At)
		c.merge(n.Event)

	case NoticeConnected:
		c.setConnected(viewmodel.SourcePush, true, nil)
		switch c.State() {
		case StateProbing:
			c.transition(StatePushActive)
			return true
		case StatePollActive:
			c.logger.Info("push channel recovered, stopping poll")
			c.stopPoll()
			c.transition(StatePushActive)
			return true
		}

	case NoticeDisconnected:
		c.setConnected(viewmodel.SourcePush, false, n.Err)
		if c.State() == StatePushActive {
			c.logger.Warn("push channel lost, falling back to polling", zap.Error(n.Err))
			c.startPoll(ctx)
			c.transition(StatePollActive)
		}

	case NoticeError:
		c.recordError(viewmodel.SourcePush, n.Err)
	}
	return false
}

func (c *Controller) handlePoll(n Notice) {
	if c.isTornDown() {
		noticesDiscarded.WithLabelValues(string(viewmodel.SourcePoll), "torn_down").Inc()
		return
	}

	c.mu.RLock()
	running := c.pollRunning
	c.mu.RUnlock()

	if !running || !c.currentGeneration(c.poll, n.Generation) {
		noticesDiscarded.WithLabelValues(string(viewmodel.SourcePoll), "inactive").Inc()
		c.logger.Debug("discarding poll notice from inactive run",
			zap.String("kind", n.Kind.String()), zap.Uint64("generation", n.Generation))
		return
	}

	switch n.Kind {
	case NoticeUpdate:
		c.touch(viewmodel.SourcePoll, n.At)
		c.merge(n.Event)
	case NoticeConnected:
		c.setConnected(viewmodel.SourcePoll, true, nil)
	case NoticeDisconnected:
		c.setConnected(viewmodel.SourcePoll, false, n.Err)
	case NoticeError:
		c.recordError(viewmodel.SourcePoll, n.Err)
	}
}

func (c *Controller) currentGeneration(a Adapter, gen uint64) bool {
	g, ok := a.(generational)
	if !ok {
		return true
	}
	return g.Generation() == gen
}

func (c *Controller) merge(ev viewmodel.UpdateEvent) {
	if c.isTornDown() {
		noticesDiscarded.WithLabelValues(string(ev.Source), "torn_down").Inc()
		return
	}

	outcome := c.store.Dispatch(ev)
	eventsMerged.WithLabelValues(ev.Kind.String(), string(ev.Source), outcome.String()).Inc()

	switch outcome {
	case viewmodel.OutcomeStale:
		c.logger.Debug("update dropped", zap.Error(ErrStaleEvent),
			zap.String("kind", ev.Kind.String()), zap.String("source", string(ev.Source)))
	case viewmodel.OutcomeInvalid:
		c.logger.Warn("invalid update event", zap.String("kind", ev.Kind.String()), zap.String("source", string(ev.Source)))
	}
}

func (c *Controller) startPoll(ctx context.Context) {
	c.mu.Lock()
	c.pollRunning = true
	c.mu.Unlock()

	if err := c.poll.Connect(ctx); err != nil {
		c.logger.Error("poll connect failed", zap.Error(err))
	}
}

func (c *Controller) stopPoll() {
	c.mu.Lock()
	c.pollRunning = false
	c.channels[viewmodel.SourcePoll].Connected = false
	c.mu.Unlock()

	c.poll.Disconnect()
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.mu.Unlock()

	c.logger.Info("sync state transition", zap.String("from", from.String()), zap.String("to", to.String()))
	transitions.WithLabelValues(from.String(), to.String()).Inc()
	controllerState.Set(float64(to))

	for _, fn := range c.onTransition {
		fn(from, to)
	}
}

func (c *Controller) teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	c.pollRunning = false
	c.mu.Unlock()

	c.push.Disconnect()
	c.poll.Disconnect()

	c.mu.Lock()
	for _, ch := range c.channels {
		ch.Connected = false
	}
	c.mu.Unlock()

	c.transition(StateClosed)
	c.stopOnce.Do(func() { close(c.stopped) })
	c.logger.Info("sync controller stopped")
}

func (c *Controller) isTornDown() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tornDown
}

func (c *Controller) touch(ch viewmodel.Source, at time.Time) {
	if at.IsZero() {
		at = c.clock.Now()
	}
	c.mu.Lock()
	c.channels[ch].LastEventAt = at
	c.mu.Unlock()
}

func (c *Controller) setConnected(ch viewmodel.Source, connected bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch].Connected = connected
	if err != nil {
		c.channels[ch].LastError = err.Error()
	} else if connected {
		c.channels[ch].LastError = ""
	}
}

func (c *Controller) recordError(ch viewmodel.Source, err error) {
	if err == nil {
		return
	}
	channelErrors.WithLabelValues(string(ch), errorType(err)).Inc()
	c.logger.Debug("channel error", zap.String("channel", string(ch)), zap.Error(err))

	c.mu.Lock()
	c.channels[ch].LastError = err.Error()
	c.mu.Unlock()
}
