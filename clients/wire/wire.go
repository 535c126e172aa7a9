// Package wire holds the JSON shapes exchanged with the trading-bot service,
// shared by the websocket and HTTP clients.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformed marks any payload that could not be decoded.
var ErrMalformed = errors.New("malformed payload")

// Push event types.
const (
	TypeBotStatus      = "bot_status_update"
	TypeAccountData    = "account_data"
	TypeMarketData     = "market_data"
	TypeNewMessage     = "new_message"
	TypeNewSignal      = "new_signal"
	TypePositionUpdate = "position_update"
	TypePositionClosed = "position_closed"
)

// Envelope is one push message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals data into v, tagging failures with ErrMalformed.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// ParseFrame decodes a websocket frame into an envelope. Both the object form
// {"type": ..., "data": ...} and the event-array form ["type", {...}] are
// accepted.
func ParseFrame(frame []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	switch trimmed[0] {
	case '{':
		var env Envelope
		if err := Decode(trimmed, &env); err != nil {
			return Envelope{}, err
		}
		if env.Type == "" {
			return Envelope{}, fmt.Errorf("%w: missing event type", ErrMalformed)
		}
		return env, nil

	case '[':
		var arr []json.RawMessage
		if err := Decode(trimmed, &arr); err != nil {
			return Envelope{}, err
		}
		if len(arr) == 0 || len(arr) > 2 {
			return Envelope{}, fmt.Errorf("%w: event array of length %d", ErrMalformed, len(arr))
		}
		var env Envelope
		if err := Decode(arr[0], &env.Type); err != nil {
			return Envelope{}, err
		}
		if env.Type == "" {
			return Envelope{}, fmt.Errorf("%w: missing event type", ErrMalformed)
		}
		if len(arr) == 2 {
			env.Data = arr[1]
		}
		return env, nil
	}

	return Envelope{}, fmt.Errorf("%w: unexpected frame %.32q", ErrMalformed, trimmed)
}

// FlexString decodes from either a JSON string or a JSON number. The bot
// service uses numeric database IDs in some payloads and strings in others.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// BotStatusPayload is the body of bot_status_update and GET /api/status.
type BotStatusPayload struct {
	Running     bool      `json:"running"`
	CurrentRisk float64   `json:"current_risk"`
	LastUpdated Timestamp `json:"last_updated"`
}

// PositionPayload is one open position.
type PositionPayload struct {
	ID           FlexString      `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Amount       decimal.Decimal `json:"amount"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPercent   float64         `json:"pnl_percent"`
}

// AccountPayload is the body of account_data and GET /api/positions.
// Positions is nil when the field was absent and non-nil (possibly empty)
// when the server sent an array.
type AccountPayload struct {
	Balance         decimal.Decimal   `json:"balance"`
	Equity          decimal.Decimal   `json:"equity"`
	Available       decimal.Decimal   `json:"available"`
	CurrentDrawdown float64           `json:"current_drawdown"`
	Positions       []PositionPayload `json:"positions"`
	LastUpdated     Timestamp         `json:"last_updated"`
}

// MarketPayload is the body of market_data and GET /api/market_data. The
// server sends one "<symbol>_price" key per symbol; Prices is keyed by the
// upper-cased symbol.
type MarketPayload struct {
	Prices      map[string]decimal.Decimal
	LastUpdated Timestamp
}

const priceSuffix = "_price"

func (m *MarketPayload) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	m.Prices = make(map[string]decimal.Decimal)
	m.LastUpdated = Timestamp{}

	for key, value := range raw {
		if key == "last_updated" {
			if err := m.LastUpdated.UnmarshalJSON(value); err != nil {
				return err
			}
			continue
		}
		if !strings.HasSuffix(key, priceSuffix) {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSuffix(key, priceSuffix))
		if symbol == "" {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		var price decimal.Decimal
		if err := price.UnmarshalJSON(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		m.Prices[symbol] = price
	}
	return nil
}

func (m MarketPayload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Prices)+1)
	for symbol, price := range m.Prices {
		out[strings.ToLower(symbol)+priceSuffix] = price
	}
	out["last_updated"] = m.LastUpdated
	return json.Marshal(out)
}

// MessagePayload is the body of new_message.
type MessagePayload struct {
	Content   string    `json:"content"`
	Level     string    `json:"level"`
	Timestamp Timestamp `json:"timestamp"`
}

// SignalPayload is the body of new_signal.
type SignalPayload struct {
	Symbol     string          `json:"symbol"`
	Action     string          `json:"action"`
	Price      decimal.Decimal `json:"price"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
	Timestamp  Timestamp       `json:"timestamp"`
}

// PositionUpdatePayload is the body of position_update. Older servers send
// the position fields at the top level instead of under "position".
type PositionUpdatePayload struct {
	Position PositionPayload
}

func (p *PositionUpdatePayload) UnmarshalJSON(b []byte) error {
	var nested struct {
		Position *PositionPayload `json:"position"`
	}
	if err := json.Unmarshal(b, &nested); err != nil {
		return err
	}
	if nested.Position != nil {
		p.Position = *nested.Position
		return nil
	}
	return json.Unmarshal(b, &p.Position)
}

// PositionClosedPayload is the body of position_closed.
type PositionClosedPayload struct {
	PositionID FlexString `json:"position_id"`
}

// ClosePositionRequest is the body of POST /api/close_position.
type ClosePositionRequest struct {
	PositionID string `json:"position_id"`
}

// ClosePositionResponse is returned by POST /api/close_position.
type ClosePositionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// OK reports whether the server accepted the close.
func (r ClosePositionResponse) OK() bool {
	return strings.EqualFold(r.Status, "success") || strings.EqualFold(r.Status, "ok")
}

// BotControlRequest is the body of POST /api/bot_control.
type BotControlRequest struct {
	Action string `json:"action"`
}

// BotControlResponse is returned by POST /api/bot_control.
type BotControlResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigUpdateRequest is the body of POST /api/update_config.
type ConfigUpdateRequest struct {
	APIKey       string  `json:"api_key"`
	APISecret    string  `json:"api_secret"`
	TradingType  string  `json:"trading_type"`
	Leverage     int     `json:"leverage"`
	RiskPerTrade float64 `json:"risk_per_trade"`
	MaxPositions int     `json:"max_positions"`
}

// ConfigUpdateResponse is returned by POST /api/update_config.
type ConfigUpdateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
