package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	clts "botdash/clients"
	"botdash/clients/notifier"
	"botdash/config"
	"botdash/internal/livesync"
	"botdash/internal/tui"
	"botdash/internal/viewmodel"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner wires the sync core to the bot service clients and the renderers.
type Runner struct {
	clients    *clts.Clients
	liveConfig *config.LiveConfig
	logger     *zap.Logger
	clock      clock.Clock

	store      *viewmodel.Store
	push       *livesync.PushAdapter
	poll       *livesync.PollAdapter
	controller *livesync.Controller
	actions    *Actions
	server     *DashboardServer

	startTime time.Time

	mu          sync.Mutex
	transitions int
	degradedAt  time.Time
}

// ServiceStats is served on /api/stats.
type ServiceStats struct {
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Sync SyncStats `json:"sync"`

	WebSocket struct {
		Connected      bool   `json:"connected"`
		MessageCount   uint64 `json:"message_count"`
		Sessions       uint64 `json:"sessions"`
		LastMessageAt  string `json:"last_message_at,omitempty"`
		LastMessageAgo string `json:"last_message_ago,omitempty"`
	} `json:"websocket"`

	ViewModel struct {
		Positions int    `json:"positions"`
		Messages  int    `json:"messages"`
		Signals   int    `json:"signals"`
		Symbols   int    `json:"symbols"`
		TotalPnL  string `json:"total_pnl"`
	} `json:"view_model"`

	Notifications struct {
		DiscordEnabled  bool `json:"discord_enabled"`
		TelegramEnabled bool `json:"telegram_enabled"`
	} `json:"notifications"`

	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`
		HeapInuse  uint64 `json:"heap_inuse"`
		NumGC      uint32 `json:"num_gc"`
		NumCPU     int    `json:"num_cpu"`
		GOOS       string `json:"goos"`
		GOARCH     string `json:"goarch"`
	} `json:"runtime"`
}

// SyncStats describes the failover controller.
type SyncStats struct {
	State       string                  `json:"state"`
	Channels    []livesync.ChannelState `json:"channels"`
	Transitions int                     `json:"transitions"`
	DegradedFor string                  `json:"degraded_for,omitempty"`
}

func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig) *Runner {
	return newRunner(clients, liveConfig, clock.New())
}

func newRunner(clients *clts.Clients, liveConfig *config.LiveConfig, clk clock.Clock) *Runner {
	logger := clients.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := liveConfig.Get()

	r := &Runner{
		clients:    clients,
		liveConfig: liveConfig,
		logger:     logger,
		clock:      clk,
		startTime:  clk.Now(),
	}

	r.store = viewmodel.NewStore(viewmodel.Merger{Capacity: cfg.Sync.MessageCapacity})
	r.push = livesync.NewPushAdapter(logger.Named("push"), clients.DashboardEvents, clk, livesync.PushConfig{
		ReconnectInitial: cfg.Sync.ReconnectInitial,
		ReconnectMax:     cfg.Sync.ReconnectMax,
	})
	r.poll = livesync.NewPollAdapter(logger.Named("poll"), clients.DashboardApi, clk, pollConfig(cfg))
	r.controller = livesync.NewController(logger.Named("sync"), r.store, r.push, r.poll, livesync.ControllerConfig{
		ProbeTimeout: cfg.Sync.ProbeTimeout,
		Clock:        clk,
	})
	r.controller.OnTransition(r.onTransition)

	r.actions = NewActions(logger.Named("actions"), clients.DashboardApi, r.controller, r.store, clients.Notifier)
	r.actions.now = clk.Now
	r.server = NewDashboardServer(logger.Named("server"), cfg.DashboardServer.Port, r.store, r.actions, r.GetStats)

	return r
}

func pollConfig(cfg *config.Config) livesync.PollConfig {
	return livesync.PollConfig{
		StatusInterval:    cfg.Sync.StatusPollInterval,
		DashboardInterval: cfg.Sync.DashboardPollInterval,
	}
}

// Store exposes the view-model to renderers.
func (r *Runner) Store() viewmodel.Reader { return r.store }

// Actions exposes the operator commands.
func (r *Runner) Actions() *Actions { return r.actions }

// OnConfigUpdate retunes the poll intervals. Other sync settings apply on
// restart.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.logger.Info("config update received, retuning poll intervals",
		zap.Duration("statusInterval", cfg.Sync.StatusPollInterval),
		zap.Duration("dashboardInterval", cfg.Sync.DashboardPollInterval),
	)
	r.poll.SetConfig(pollConfig(cfg))
}

// onTransition runs on the controller loop; alerts go out asynchronously.
func (r *Runner) onTransition(from, to livesync.State) {
	r.mu.Lock()
	r.transitions++
	var downtime time.Duration
	switch to {
	case livesync.StatePollActive:
		r.degradedAt = r.clock.Now()
	case livesync.StatePushActive:
		if !r.degradedAt.IsZero() {
			downtime = r.clock.Now().Sub(r.degradedAt)
		}
		r.degradedAt = time.Time{}
	}
	r.mu.Unlock()

	r.logger.Info("sync state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)

	if r.clients.Notifier == nil {
		return
	}

	cfg := r.liveConfig.GetDirect()
	switch {
	case to == livesync.StatePollActive:
		go r.clients.Notifier.SendOpsAlert(notifier.OpsAlert{
			Kind:        notifier.AlertKindDegraded,
			Severity:    notifier.SeverityWarning,
			Title:       "Live updates degraded",
			Description: "Websocket unavailable, falling back to HTTP polling.",
			Fields: []notifier.Field{
				{Name: "Server", Value: cfg.Server.Host()},
				{Name: "From", Value: from.String()},
			},
			Timestamp: r.clock.Now(),
		})
	case from == livesync.StatePollActive && to == livesync.StatePushActive:
		go r.clients.Notifier.SendOpsAlert(notifier.OpsAlert{
			Kind:        notifier.AlertKindRecovered,
			Severity:    notifier.SeveritySuccess,
			Title:       "Live updates restored",
			Description: "Websocket reconnected, polling stopped.",
			Fields: []notifier.Field{
				{Name: "Server", Value: cfg.Server.Host()},
				{Name: "Degraded for", Value: downtime.Round(time.Second).String()},
			},
			Timestamp: r.clock.Now(),
		})
	}
}

// Run starts the controller and the enabled renderers and blocks until ctx
// is cancelled or the terminal UI quits.
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.liveConfig.Get()

	r.liveConfig.AddObserver(r)
	defer r.liveConfig.RemoveObserver(r)

	r.logger.Info("starting live sync",
		zap.String("server", cfg.Server.BaseURL),
		zap.String("wsURL", cfg.Server.WSURL()),
		zap.Duration("probeTimeout", cfg.Sync.ProbeTimeout),
		zap.Bool("dashboardServer", cfg.DashboardServer.Enabled),
		zap.Bool("tui", cfg.TUI.Enabled),
	)

	if r.clients.Notifier != nil {
		go r.clients.Notifier.SendOpsAlert(notifier.OpsAlert{
			Kind:     notifier.AlertKindStartup,
			Severity: notifier.SeverityInfo,
			Title:    "Dashboard started",
			Fields: []notifier.Field{
				{Name: "Server", Value: cfg.Server.Host()},
				{Name: "Commit", Value: shortID(BuildCommit)},
			},
			Timestamp: r.clock.Now(),
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := r.controller.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.DashboardServer.Enabled {
		g.Go(func() error {
			return r.server.Run(gctx)
		})
	}

	if cfg.TUI.Enabled {
		g.Go(func() error {
			err := tui.Run(gctx, r.store, r.actions, r.statusLine)
			if err != nil {
				return fmt.Errorf("terminal ui: %w", err)
			}
			// Quitting the UI cancels the group.
			return errTUIQuit
		})
	}

	err := g.Wait()
	r.logger.Info("runner shutting down")
	if errors.Is(err, errTUIQuit) {
		return nil
	}
	return err
}

var errTUIQuit = errors.New("terminal ui closed")

func (r *Runner) statusLine() string {
	s := r.controller.State().String()
	for _, ch := range r.controller.ChannelStates() {
		if ch.LastError != "" && ch.Channel == viewmodel.SourcePush && !ch.Connected {
			s += " (push: " + ch.LastError + ")"
		}
	}
	return s
}

func (r *Runner) syncStats() SyncStats {
	r.mu.Lock()
	transitions := r.transitions
	degradedAt := r.degradedAt
	r.mu.Unlock()

	stats := SyncStats{
		State:       r.controller.State().String(),
		Channels:    r.controller.ChannelStates(),
		Transitions: transitions,
	}
	if !degradedAt.IsZero() {
		stats.DegradedFor = r.clock.Since(degradedAt).Round(time.Second).String()
	}
	return stats
}

func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := r.clock.Since(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	stats.Sync = r.syncStats()

	if ev := r.clients.DashboardEvents; ev != nil {
		wsStats := ev.Stats()
		stats.WebSocket.Connected = ev.Connected()
		stats.WebSocket.MessageCount = wsStats.MessageCount
		stats.WebSocket.Sessions = wsStats.Sessions
		if !wsStats.LastMessageAt.IsZero() {
			stats.WebSocket.LastMessageAt = wsStats.LastMessageAt.UTC().Format(time.RFC3339)
			stats.WebSocket.LastMessageAgo = r.clock.Since(wsStats.LastMessageAt).Round(time.Second).String()
		}
	}

	vm := r.store.Current()
	stats.ViewModel.Positions = len(vm.Positions)
	stats.ViewModel.Messages = len(vm.Messages)
	stats.ViewModel.Signals = len(vm.Signals)
	stats.ViewModel.Symbols = len(vm.Market.Prices)
	stats.ViewModel.TotalPnL = vm.TotalPnL().StringFixed(2)

	stats.Notifications.DiscordEnabled = r.clients.Discord != nil && r.clients.Discord.Enabled()
	stats.Notifications.TelegramEnabled = r.clients.Telegram != nil && r.clients.Telegram.Enabled()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapInuse = memStats.HeapInuse
	stats.Runtime.NumGC = memStats.NumGC
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
