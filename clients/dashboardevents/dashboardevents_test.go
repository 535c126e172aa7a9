package dashboardevents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"botdash/config"

	"github.com/gorilla/websocket"
)

type testServer struct {
	*httptest.Server
	conns chan *websocket.Conn
	auth  chan string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		conns: make(chan *websocket.Conn, 4),
		auth:  make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		ts.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ts.conns <- conn
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept a connection")
		return nil
	}
}

func testConfig(url string) *config.Config {
	cfg := config.Defaults()
	cfg.Server.BaseURL = url
	cfg.Server.APIToken = "tok"
	cfg.Sync.PingInterval = 50 * time.Millisecond
	return cfg
}

func TestWSURLFromServerURL(t *testing.T) {
	client := NewDashboardEventsClient(nil, testConfig("https://bot.example.com/"))
	if client.url != "wss://bot.example.com/ws" {
		t.Errorf("unexpected ws url: %s", client.url)
	}
	if client.header.Get("Authorization") != "Bearer tok" {
		t.Errorf("unexpected auth header: %q", client.header.Get("Authorization"))
	}
}

func TestConnectReceivesFrames(t *testing.T) {
	ts := newTestServer(t)
	client := NewDashboardEventsClient(nil, testConfig(ts.URL))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	server := ts.accept(t)
	defer server.Close()

	if got := <-ts.auth; got != "Bearer tok" {
		t.Errorf("unexpected auth header: %q", got)
	}

	if err := client.Connect(context.Background()); err != ErrAlreadyConnected {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	server.WriteMessage(websocket.TextMessage, []byte("PONG"))
	server.WriteMessage(websocket.TextMessage, []byte(`  {"type":"new_message","data":{"content":"hi"}}`+"\n"))

	select {
	case msg := <-client.Messages():
		if !strings.HasPrefix(string(msg), `{"type":"new_message"`) {
			t.Errorf("unexpected frame: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	stats := client.Stats()
	if stats.MessageCount != 1 {
		t.Errorf("expected 1 message counted, got %d", stats.MessageCount)
	}
	if stats.LastMessageAt.IsZero() {
		t.Error("expected LastMessageAt to be set")
	}
	if stats.Sessions != 1 {
		t.Errorf("expected 1 session, got %d", stats.Sessions)
	}
}

func TestServerDropReportsError(t *testing.T) {
	ts := newTestServer(t)
	client := NewDashboardEventsClient(nil, testConfig(ts.URL))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := ts.accept(t)
	server.Close()

	select {
	case err := <-client.Errors():
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected error after server drop")
	}

	if client.Connected() {
		t.Error("client should not report connected after drop")
	}

	// The same client can open a new session.
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer client.Close()
	ts.accept(t).Close()
}

func TestCloseDoesNotReportError(t *testing.T) {
	ts := newTestServer(t)
	client := NewDashboardEventsClient(nil, testConfig(ts.URL))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := ts.accept(t)
	defer server.Close()

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	select {
	case err := <-client.Errors():
		t.Errorf("unexpected error after Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewDashboardEventsClient(nil, testConfig(server.URL))
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("expected status in error, got %v", err)
	}
	if client.Connected() {
		t.Error("client should not be connected")
	}
}
