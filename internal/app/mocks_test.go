package app

import (
	"context"
	"errors"
	"sync"

	"botdash/clients/notifier"
	"botdash/clients/wire"
	"botdash/internal/viewmodel"
)

var errUnreachable = errors.New("connection refused")

// fakeDashboardAPI is an in-memory DashboardAPI. Unset responses fail with
// errUnreachable.
type fakeDashboardAPI struct {
	mu sync.Mutex

	status    *wire.BotStatusPayload
	account   *wire.AccountPayload
	market    *wire.MarketPayload
	closeResp *wire.ClosePositionResponse
	ctrlResp  *wire.BotControlResponse
	cfgResp   *wire.ConfigUpdateResponse

	closed   []string
	controls []string
	updates  []wire.ConfigUpdateRequest
	gets     int
}

func (f *fakeDashboardAPI) GetStatus(ctx context.Context) (*wire.BotStatusPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.status == nil {
		return nil, errUnreachable
	}
	out := *f.status
	return &out, nil
}

func (f *fakeDashboardAPI) GetMarketData(ctx context.Context) (*wire.MarketPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.market == nil {
		return nil, errUnreachable
	}
	out := *f.market
	return &out, nil
}

func (f *fakeDashboardAPI) GetPositions(ctx context.Context) (*wire.AccountPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.account == nil {
		return nil, errUnreachable
	}
	out := *f.account
	return &out, nil
}

func (f *fakeDashboardAPI) ClosePosition(ctx context.Context, positionID string) (*wire.ClosePositionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, positionID)
	if f.closeResp == nil {
		return nil, errUnreachable
	}
	return f.closeResp, nil
}

func (f *fakeDashboardAPI) ControlBot(ctx context.Context, action string) (*wire.BotControlResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, action)
	if f.ctrlResp == nil {
		return nil, errUnreachable
	}
	return f.ctrlResp, nil
}

func (f *fakeDashboardAPI) UpdateConfig(ctx context.Context, req wire.ConfigUpdateRequest) (*wire.ConfigUpdateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, req)
	if f.cfgResp == nil {
		return nil, errUnreachable
	}
	return f.cfgResp, nil
}

// storeSink merges injected events straight into a store, standing in for
// the controller's event loop.
type storeSink struct {
	store *viewmodel.Store
	err   error
}

func (s *storeSink) Inject(ctx context.Context, ev viewmodel.UpdateEvent) error {
	if s.err != nil {
		return s.err
	}
	s.store.Dispatch(ev)
	return nil
}

// recordingNotifier captures alerts on a buffered channel.
type recordingNotifier struct {
	alerts chan notifier.OpsAlert
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{alerts: make(chan notifier.OpsAlert, 16)}
}

func (n *recordingNotifier) SendOpsAlert(alert notifier.OpsAlert) {
	n.alerts <- alert
}

func (n *recordingNotifier) Close() error { return nil }
