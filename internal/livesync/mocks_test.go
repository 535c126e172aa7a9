package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"botdash/clients/wire"
	"botdash/internal/viewmodel"
)

// fakeAdapter is an Adapter whose notice channel is unbuffered: a send
// returns only once the controller has taken the notice, and the next send
// returns only once that notice has been handled.
type fakeAdapter struct {
	channel viewmodel.Source
	notices chan Notice

	mu          sync.Mutex
	connects    int
	disconnects int
	generation  uint64

	connectCh    chan struct{}
	disconnectCh chan struct{}
}

func newFakeAdapter(ch viewmodel.Source) *fakeAdapter {
	return &fakeAdapter{
		channel:      ch,
		notices:      make(chan Notice),
		connectCh:    make(chan struct{}, 16),
		disconnectCh: make(chan struct{}, 16),
	}
}

func (f *fakeAdapter) Channel() viewmodel.Source { return f.channel }
func (f *fakeAdapter) Notices() <-chan Notice    { return f.notices }

func (f *fakeAdapter) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	f.generation++
	f.mu.Unlock()
	f.connectCh <- struct{}{}
	return nil
}

func (f *fakeAdapter) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	f.disconnectCh <- struct{}{}
}

func (f *fakeAdapter) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

func (f *fakeAdapter) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeAdapter) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeAdapter) send(t *testing.T, n Notice) {
	t.Helper()
	n.Channel = f.channel
	if n.Generation == 0 {
		n.Generation = f.Generation()
	}
	select {
	case f.notices <- n:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not take %s notice from %s", n.Kind, f.channel)
	}
}

func (f *fakeAdapter) update(t *testing.T, ev viewmodel.UpdateEvent) {
	t.Helper()
	ev.Source = f.channel
	f.send(t, Notice{Kind: NoticeUpdate, Event: ev})
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// fakePollSource serves canned payloads and counts calls per endpoint.
type fakePollSource struct {
	mu     sync.Mutex
	calls  map[Endpoint]int
	status *wire.BotStatusPayload
	market *wire.MarketPayload
	acct   *wire.AccountPayload
	errs   map[Endpoint]error
	// gate, when set, holds GetPositions after it is counted until the gate
	// is closed or ctx ends.
	gate chan struct{}
}

func newFakePollSource() *fakePollSource {
	return &fakePollSource{
		calls:  make(map[Endpoint]int),
		errs:   make(map[Endpoint]error),
		status: &wire.BotStatusPayload{Running: true, CurrentRisk: 1.5},
		market: &wire.MarketPayload{},
		acct:   &wire.AccountPayload{Positions: []wire.PositionPayload{}},
	}
}

func (f *fakePollSource) record(ep Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ep]++
	return f.errs[ep]
}

func (f *fakePollSource) Calls(ep Endpoint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ep]
}

func (f *fakePollSource) SetErr(ep Endpoint, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[ep] = err
}

func (f *fakePollSource) GetStatus(ctx context.Context) (*wire.BotStatusPayload, error) {
	if err := f.record(EndpointStatus); err != nil {
		return nil, err
	}
	return f.status, nil
}

func (f *fakePollSource) GetMarketData(ctx context.Context) (*wire.MarketPayload, error) {
	if err := f.record(EndpointMarketData); err != nil {
		return nil, err
	}
	return f.market, nil
}

func (f *fakePollSource) GetPositions(ctx context.Context) (*wire.AccountPayload, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if err := f.record(EndpointPositions); err != nil {
		return nil, err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.acct, nil
}

// fakeStream is an EventStream driven by the test.
type fakeStream struct {
	mu          sync.Mutex
	connectErrs []error
	connects    int
	closes      int

	msgCh     chan json.RawMessage
	errCh     chan error
	connectCh chan struct{}
}

func newFakeStream(connectErrs ...error) *fakeStream {
	return &fakeStream{
		connectErrs: connectErrs,
		msgCh:       make(chan json.RawMessage, 16),
		errCh:       make(chan error, 1),
		connectCh:   make(chan struct{}, 16),
	}
}

func (s *fakeStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connects++
	var err error
	if len(s.connectErrs) > 0 {
		err = s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
	}
	s.mu.Unlock()
	if err == nil {
		s.connectCh <- struct{}{}
	}
	return err
}

func (s *fakeStream) Messages() <-chan json.RawMessage { return s.msgCh }
func (s *fakeStream) Errors() <-chan error             { return s.errCh }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeStream) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

var errBoom = errors.New("boom")
