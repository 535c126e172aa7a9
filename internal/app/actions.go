package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"botdash/clients/notifier"
	"botdash/clients/wire"
	"botdash/internal/livesync"
	"botdash/internal/viewmodel"

	"go.uber.org/zap"
)

// DashboardAPI is the REST surface the dashboard drives: the read endpoints
// for refreshes and the action endpoints.
// *dashboardapi.DashboardApiClient satisfies it.
type DashboardAPI interface {
	livesync.PollSource
	ClosePosition(ctx context.Context, positionID string) (*wire.ClosePositionResponse, error)
	ControlBot(ctx context.Context, action string) (*wire.BotControlResponse, error)
	UpdateConfig(ctx context.Context, req wire.ConfigUpdateRequest) (*wire.ConfigUpdateResponse, error)
}

// EventSink accepts locally produced update events. *livesync.Controller
// satisfies it.
type EventSink interface {
	Inject(ctx context.Context, ev viewmodel.UpdateEvent) error
}

const (
	ActionClosePosition = "close_position"
	ActionBotControl    = "bot_control"
	ActionUpdateConfig  = "update_config"
	ActionRefresh       = "refresh"
)

// Actions runs operator commands against the bot and loops their results
// back into the view-model as update events.
type Actions struct {
	logger   *zap.Logger
	api      DashboardAPI
	sink     EventSink
	view     viewmodel.Reader
	notifier notifier.Notifier
	now      func() time.Time
}

func NewActions(logger *zap.Logger, api DashboardAPI, sink EventSink, view viewmodel.Reader, n notifier.Notifier) *Actions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actions{
		logger:   logger,
		api:      api,
		sink:     sink,
		view:     view,
		notifier: n,
		now:      time.Now,
	}
}

// ClosePosition asks the bot to close positionID. On success the position is
// removed optimistically and a refresh follows.
func (a *Actions) ClosePosition(ctx context.Context, positionID string) error {
	positionID = strings.TrimSpace(positionID)
	if positionID == "" {
		return a.fail(ctx, ActionClosePosition, "position id is required", nil)
	}

	resp, err := a.api.ClosePosition(ctx, positionID)
	if err != nil {
		return a.fail(ctx, ActionClosePosition, "request failed", err)
	}
	if !resp.OK() {
		return a.fail(ctx, ActionClosePosition, nz(resp.Message, "rejected by server"), nil)
	}

	a.inject(ctx, viewmodel.PositionClosedEvent(viewmodel.SourceAction, positionID))
	a.inject(ctx, livesync.LocalMessage(viewmodel.LevelSuccess,
		nz(resp.Message, fmt.Sprintf("Position %s closed", shortID(positionID))), a.now()))
	a.refreshQuietly(ctx)
	return nil
}

// ControlBot starts or stops the bot.
func (a *Actions) ControlBot(ctx context.Context, action string) error {
	action = strings.ToLower(strings.TrimSpace(action))
	if action != "start" && action != "stop" {
		return a.fail(ctx, ActionBotControl, fmt.Sprintf("unknown action %q", action), nil)
	}

	resp, err := a.api.ControlBot(ctx, action)
	if err != nil {
		return a.fail(ctx, ActionBotControl, "request failed", err)
	}
	if !resp.Success {
		return a.fail(ctx, ActionBotControl, nz(resp.Message, "rejected by server"), nil)
	}

	// Flip the running flag now; the refresh brings the authoritative status.
	status := a.view.Current().BotStatus
	status.Running = runningFromControl(action, resp.Status)
	status.LastUpdated = time.Time{}
	ev := viewmodel.BotStatusEvent(viewmodel.SourceAction, status)
	ev.ReceivedAt = a.now()
	a.inject(ctx, ev)

	verb := "started"
	if action == "stop" {
		verb = "stopped"
	}
	a.inject(ctx, livesync.LocalMessage(viewmodel.LevelSuccess, "Bot "+verb, a.now()))
	a.refreshQuietly(ctx)
	return nil
}

// ToggleBot stops a running bot or starts a stopped one.
func (a *Actions) ToggleBot(ctx context.Context) error {
	if a.view.Current().BotStatus.Running {
		return a.ControlBot(ctx, "stop")
	}
	return a.ControlBot(ctx, "start")
}

// UpdateConfig pushes new trading settings. Validation of the values is
// left to the bot.
func (a *Actions) UpdateConfig(ctx context.Context, req wire.ConfigUpdateRequest) error {
	resp, err := a.api.UpdateConfig(ctx, req)
	if err != nil {
		return a.fail(ctx, ActionUpdateConfig, "request failed", err)
	}
	if !resp.Success {
		return a.fail(ctx, ActionUpdateConfig, nz(resp.Message, "rejected by server"), nil)
	}

	a.inject(ctx, livesync.LocalMessage(viewmodel.LevelSuccess,
		nz(resp.Message, "Configuration updated"), a.now()))
	a.refreshQuietly(ctx)
	return nil
}

// Refresh fetches status, positions and prices once and merges whatever
// succeeded. The joined fetch errors are returned.
func (a *Actions) Refresh(ctx context.Context) error {
	events, err := livesync.FetchSnapshot(ctx, a.api, viewmodel.SourceAction, a.now)
	for _, ev := range events {
		a.inject(ctx, ev)
	}
	if err != nil {
		a.logger.Warn("refresh incomplete", zap.Int("merged", len(events)), zap.Error(err))
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

func (a *Actions) refreshQuietly(ctx context.Context) {
	_ = a.Refresh(ctx)
}

func (a *Actions) inject(ctx context.Context, ev viewmodel.UpdateEvent) {
	if err := a.sink.Inject(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Debug("action event not merged",
			zap.String("kind", ev.Kind.String()),
			zap.Error(err),
		)
	}
}

// fail surfaces the failure as a danger message, alerts ops and returns an
// ActionRequestFailed. State is otherwise left untouched.
func (a *Actions) fail(ctx context.Context, action, reason string, err error) error {
	actionErr := &livesync.ActionRequestFailed{Action: action, Reason: reason, Err: err}

	a.logger.Warn("action failed",
		zap.String("action", action),
		zap.String("reason", reason),
		zap.Error(err),
	)

	a.inject(ctx, livesync.LocalMessage(viewmodel.LevelDanger, actionErr.Error(), a.now()))

	if a.notifier != nil {
		go a.notifier.SendOpsAlert(notifier.OpsAlert{
			Kind:        notifier.AlertKindActionFailed,
			Severity:    notifier.SeverityDanger,
			Title:       "Action failed: " + action,
			Description: actionErr.Error(),
			Fields:      []notifier.Field{{Name: "Action", Value: action}, {Name: "Reason", Value: reason}},
			Timestamp:   a.now(),
		})
	}
	return actionErr
}

func runningFromControl(action, status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "running", "started", "start":
		return true
	case "stopped", "stop", "idle":
		return false
	}
	return action == "start"
}
