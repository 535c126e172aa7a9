// Package viewmodel holds the dashboard's single view-model, the pure merge
// that folds update events into it, and the store renderers read from.
package viewmodel

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCapacity bounds the Messages and Signals sequences.
const DefaultCapacity = 10

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalises the side strings the bot service uses.
func ParseSide(s string) Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SELL", "SHORT":
		return SideSell
	default:
		return SideBuy
	}
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// ParseLevel maps a wire level onto a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelSuccess:
		return LevelSuccess
	case LevelWarning:
		return LevelWarning
	case LevelDanger, "error":
		return LevelDanger
	default:
		return LevelInfo
	}
}

type BotStatus struct {
	Running     bool      `json:"running"`
	RiskPct     float64   `json:"risk_pct"`
	LastUpdated time.Time `json:"last_updated"`
}

type Account struct {
	Balance     decimal.Decimal `json:"balance"`
	Equity      decimal.Decimal `json:"equity"`
	Available   decimal.Decimal `json:"available"`
	DrawdownPct float64         `json:"drawdown_pct"`
	LastUpdated time.Time       `json:"last_updated"`
}

type Market struct {
	Prices      map[string]decimal.Decimal `json:"prices"`
	LastUpdated time.Time                  `json:"last_updated"`
}

// Symbols returns the priced symbols in sorted order.
func (m Market) Symbols() []string {
	out := make([]string, 0, len(m.Prices))
	for s := range m.Prices {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type Position struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Amount       decimal.Decimal `json:"amount"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPercent   float64         `json:"pnl_percent"`
}

type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

type Signal struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Action     string          `json:"action"`
	Price      decimal.Decimal `json:"price"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ViewModel is the full dashboard state. Values handed out by the store are
// snapshots: callers must treat the slices and the price map as read-only.
type ViewModel struct {
	BotStatus BotStatus  `json:"bot_status"`
	Account   Account    `json:"account"`
	Market    Market     `json:"market"`
	Positions []Position `json:"positions"`
	Messages  []Message  `json:"messages"`
	Signals   []Signal   `json:"signals"`
}

// Position looks up an open position by ID.
func (vm ViewModel) Position(id string) (Position, bool) {
	for _, p := range vm.Positions {
		if p.ID == id {
			return p, true
		}
	}
	return Position{}, false
}

// TotalPnL sums unrealised PnL across open positions.
func (vm ViewModel) TotalPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range vm.Positions {
		total = total.Add(p.PnL)
	}
	return total
}
