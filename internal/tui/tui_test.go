package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"botdash/internal/viewmodel"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommands struct {
	refreshes int
	toggles   int
	err       error
}

func (f *fakeCommands) Refresh(ctx context.Context) error {
	f.refreshes++
	return f.err
}

func (f *fakeCommands) ToggleBot(ctx context.Context) error {
	f.toggles++
	return f.err
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sampleViewModel() viewmodel.ViewModel {
	return viewmodel.ViewModel{
		BotStatus: viewmodel.BotStatus{Running: true, RiskPct: 1.5},
		Account: viewmodel.Account{
			Balance: decimal.NewFromInt(1000),
			Equity:  decimal.RequireFromString("1012.50"),
		},
		Market: viewmodel.Market{Prices: map[string]decimal.Decimal{
			"ETHUSDT": decimal.NewFromInt(3000),
			"BTCUSDT": decimal.NewFromInt(65000),
		}},
		Positions: []viewmodel.Position{{
			ID: "p1", Symbol: "BTCUSDT", Side: viewmodel.SideBuy,
			Amount: decimal.RequireFromString("0.01"), EntryPrice: decimal.NewFromInt(64000),
			PnL: decimal.RequireFromString("12.5"),
		}},
		Messages: []viewmodel.Message{{ID: "m1", Content: "order filled", Level: viewmodel.LevelSuccess, Timestamp: time.Now()}},
	}
}

func TestQuitKey(t *testing.T) {
	m := NewModel(t.Context(), viewmodel.ViewModel{}, &fakeCommands{}, nil)

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestRefreshKeyRunsCommand(t *testing.T) {
	cmds := &fakeCommands{}
	m := NewModel(t.Context(), viewmodel.ViewModel{}, cmds, nil)

	next, cmd := m.Update(key("r"))
	require.NotNil(t, cmd)
	assert.Equal(t, "refresh", next.(Model).pending)

	// A second key press while the first is running is ignored.
	_, again := next.Update(key("r"))
	assert.Nil(t, again)

	msg := cmd()
	assert.Equal(t, 1, cmds.refreshes)

	done, _ := next.Update(msg)
	assert.Empty(t, done.(Model).pending)
	assert.Empty(t, done.(Model).lastErr)
}

func TestToggleKeyReportsError(t *testing.T) {
	cmds := &fakeCommands{err: errors.New("bot unreachable")}
	m := NewModel(t.Context(), viewmodel.ViewModel{}, cmds, nil)

	next, cmd := m.Update(key("s"))
	require.NotNil(t, cmd)
	done, _ := next.Update(cmd())

	assert.Equal(t, 1, cmds.toggles)
	assert.Equal(t, "start/stop: bot unreachable", done.(Model).lastErr)
	assert.Contains(t, done.(Model).View(), "bot unreachable")
}

func TestUpdateMsgReplacesViewModel(t *testing.T) {
	m := NewModel(t.Context(), viewmodel.ViewModel{}, nil, func() string { return "PushActive" })

	next, _ := m.Update(updateMsg{vm: sampleViewModel()})
	view := next.(Model).View()

	assert.Contains(t, view, "PushActive")
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "$1012.50")
	assert.Contains(t, view, "order filled")
	assert.Contains(t, view, "65000")
	assert.Less(t, strings.Index(view, "BTCUSDT"), strings.Index(view, "ETHUSDT"))
}

func TestViewWithEmptyViewModel(t *testing.T) {
	m := NewModel(t.Context(), viewmodel.ViewModel{}, nil, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	view := next.(Model).View()
	assert.Contains(t, view, "STOPPED")
	assert.Contains(t, view, "no open positions")
	assert.Contains(t, view, "no prices")
}

func TestKeysWithoutCommandsAreIgnored(t *testing.T) {
	m := NewModel(t.Context(), viewmodel.ViewModel{}, nil, nil)
	_, cmd := m.Update(key("r"))
	assert.Nil(t, cmd)
}
