package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"botdash/clients/wire"
	"botdash/internal/livesync"
	"botdash/internal/viewmodel"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 20 * time.Second
	wsPongWait   = 3 * wsPingPeriod
)

// WebSocket upgrader for the live view-model stream
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Commands is what the dashboard server needs from Actions.
type Commands interface {
	ClosePosition(ctx context.Context, positionID string) error
	ControlBot(ctx context.Context, action string) error
	ToggleBot(ctx context.Context) error
	UpdateConfig(ctx context.Context, req wire.ConfigUpdateRequest) error
	Refresh(ctx context.Context) error
}

// StatsFunc returns the current service stats.
type StatsFunc func() ServiceStats

// DashboardServer serves the view-model over HTTP and websocket and accepts
// operator commands.
type DashboardServer struct {
	logger   *zap.Logger
	addr     string
	view     viewmodel.Reader
	commands Commands
	stats    StatsFunc
}

func NewDashboardServer(logger *zap.Logger, port int, view viewmodel.Reader, commands Commands, stats StatsFunc) *DashboardServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardServer{
		logger:   logger,
		addr:     fmt.Sprintf(":%d", port),
		view:     view,
		commands: commands,
		stats:    stats,
	}
}

// Handler builds the router.
func (s *DashboardServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/viewmodel", s.handleViewModel)
	r.Get("/api/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.stats())
	})
	r.Get("/ws", s.handleWS)

	r.Post("/api/positions/{id}/close", func(w http.ResponseWriter, req *http.Request) {
		s.respond(w, s.commands.ClosePosition(req.Context(), chi.URLParam(req, "id")))
	})
	r.Post("/api/bot/{action}", func(w http.ResponseWriter, req *http.Request) {
		action := chi.URLParam(req, "action")
		if action == "toggle" {
			s.respond(w, s.commands.ToggleBot(req.Context()))
			return
		}
		s.respond(w, s.commands.ControlBot(req.Context(), action))
	})
	r.Post("/api/config", func(w http.ResponseWriter, req *http.Request) {
		var body wire.ConfigUpdateRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, 64<<10))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid config body: " + err.Error()})
			return
		}
		s.respond(w, s.commands.UpdateConfig(req.Context(), body))
	})
	r.Post("/api/refresh", func(w http.ResponseWriter, req *http.Request) {
		s.respond(w, s.commands.Refresh(req.Context()))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(dashboardHTML))
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *DashboardServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard server shutdown: %w", err)
	}
	return nil
}

type viewModelResponse struct {
	ViewModel viewmodel.ViewModel `json:"view_model"`
	Sync      SyncStats           `json:"sync"`
}

func (s *DashboardServer) handleViewModel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewModelResponse{
		ViewModel: s.view.Current(),
		Sync:      s.stats().Sync,
	})
}

// respond maps a command result onto a status code: rejected by the bot is
// 422, transport trouble is 502.
func (s *DashboardServer) respond(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	status := http.StatusInternalServerError
	var actionErr *livesync.ActionRequestFailed
	switch {
	case errors.As(err, &actionErr) && actionErr.Err == nil:
		status = http.StatusUnprocessableEntity
	case errors.As(err, &actionErr):
		status = http.StatusBadGateway
	case errors.Is(err, livesync.ErrTornDown):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleWS streams the view-model: once on connect, then after every
// applied update. Bursts collapse to the latest snapshot.
func (s *DashboardServer) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	dirty := make(chan struct{}, 1)
	unsubscribe := s.view.Subscribe(func(viewmodel.ViewModel) {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// Reads only detect the client going away and keep pongs flowing.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	write := func() error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(s.view.Current())
	}
	if err := write(); err != nil {
		return
	}

	for {
		select {
		case <-dirty:
			if err := write(); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-req.Context().Done():
			return
		}
	}
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Bot Dashboard</title>
    <style>
        :root {
            --bg-primary: #0d1117;
            --bg-secondary: #161b22;
            --border-color: #30363d;
            --text-primary: #c9d1d9;
            --text-secondary: #8b949e;
            --accent-green: #3fb950;
            --accent-red: #f85149;
            --accent-yellow: #d29922;
            --accent-blue: #58a6ff;
        }
        body { background: var(--bg-primary); color: var(--text-primary); font-family: -apple-system, sans-serif; margin: 0; padding: 24px; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(320px, 1fr)); gap: 16px; }
        .card { background: var(--bg-secondary); border: 1px solid var(--border-color); border-radius: 6px; padding: 16px; }
        h1 { font-size: 20px; margin: 0 0 16px; }
        h2 { font-size: 14px; color: var(--text-secondary); margin: 0 0 8px; text-transform: uppercase; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td, th { padding: 4px 6px; text-align: left; border-bottom: 1px solid var(--border-color); }
        .pos { color: var(--accent-green); } .neg { color: var(--accent-red); }
        .info { color: var(--accent-blue); } .success { color: var(--accent-green); }
        .warning { color: var(--accent-yellow); } .danger { color: var(--accent-red); }
        button { background: var(--bg-primary); color: var(--text-primary); border: 1px solid var(--border-color); border-radius: 4px; cursor: pointer; }
        #conn { font-size: 12px; color: var(--text-secondary); }
    </style>
</head>
<body>
    <h1>Bot Dashboard <span id="conn">connecting…</span></h1>
    <div class="grid">
        <div class="card"><h2>Bot</h2><div id="bot"></div>
            <button onclick="post('/api/bot/toggle')">Start / Stop</button>
            <button onclick="post('/api/refresh')">Refresh</button></div>
        <div class="card"><h2>Account</h2><div id="account"></div></div>
        <div class="card"><h2>Market</h2><table id="market"></table></div>
        <div class="card"><h2>Positions</h2><table id="positions"></table></div>
        <div class="card"><h2>Messages</h2><table id="messages"></table></div>
        <div class="card"><h2>Signals</h2><table id="signals"></table></div>
    </div>
    <script>
        const $ = (id) => document.getElementById(id);
        const esc = (s) => String(s ?? '').replace(/[&<>"']/g, (c) => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;',"'":'&#39;'}[c]));
        const num = (v) => v === undefined || v === null || v === '' ? '–' : esc(v);
        const sign = (v) => Number(v) >= 0 ? 'pos' : 'neg';

        function post(path) { fetch(path, {method: 'POST'}); }
        function closePosition(id) { post('/api/positions/' + encodeURIComponent(id) + '/close'); }
        $('positions').addEventListener('click', (e) => {
            const btn = e.target.closest('button[data-close]');
            if (btn) closePosition(btn.dataset.close);
        });

        function render(vm) {
            const b = vm.bot_status || {};
            $('bot').innerHTML = '<b class="' + (b.running ? 'success' : 'danger') + '">' + (b.running ? 'RUNNING' : 'STOPPED') + '</b> risk ' + num(b.risk_pct) + '%';
            const a = vm.account || {};
            $('account').innerHTML = 'Balance ' + num(a.balance) + '<br>Equity ' + num(a.equity) + '<br>Available ' + num(a.available) + '<br>Drawdown ' + num(a.drawdown_pct) + '%';
            const prices = (vm.market && vm.market.prices) || {};
            $('market').innerHTML = Object.keys(prices).sort().map((s) => '<tr><td>' + esc(s) + '</td><td>' + num(prices[s]) + '</td></tr>').join('');
            $('positions').innerHTML = (vm.positions || []).map((p) =>
                '<tr><td>' + esc(p.symbol) + '</td><td>' + esc(p.side) + '</td><td>' + num(p.amount) + '</td><td class="' + sign(p.pnl) + '">' + num(p.pnl) + '</td>' +
                '<td><button data-close="' + esc(p.id) + '">close</button></td></tr>').join('');
            $('messages').innerHTML = (vm.messages || []).map((m) => '<tr><td class="' + esc(m.level) + '">' + esc(m.content) + '</td></tr>').join('');
            $('signals').innerHTML = (vm.signals || []).map((s) => '<tr><td>' + esc(s.symbol) + '</td><td>' + esc(s.action) + '</td><td>' + num(s.price) + '</td><td>' + esc(s.reason) + '</td></tr>').join('');
        }

        function connect() {
            const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            ws.onopen = () => { $('conn').textContent = 'live'; };
            ws.onmessage = (e) => render(JSON.parse(e.data));
            ws.onclose = () => { $('conn').textContent = 'reconnecting…'; setTimeout(connect, 2000); };
        }
        connect();
    </script>
</body>
</html>`
