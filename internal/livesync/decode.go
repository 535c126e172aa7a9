package livesync

import (
	"fmt"
	"strings"
	"time"

	"botdash/clients/wire"
	"botdash/internal/viewmodel"

	"github.com/google/uuid"
)

// DecodeEnvelope turns one push envelope into exactly one update event.
// Messages and signals are given a fresh ID here so the merge stays pure.
func DecodeEnvelope(env wire.Envelope, src viewmodel.Source, at time.Time) (viewmodel.UpdateEvent, error) {
	var (
		ev  viewmodel.UpdateEvent
		err error
	)

	switch env.Type {
	case wire.TypeBotStatus:
		var p wire.BotStatusPayload
		if err = wire.Decode(env.Data, &p); err == nil {
			ev = BotStatusEvent(src, &p)
		}
	case wire.TypeAccountData:
		var p wire.AccountPayload
		if err = wire.Decode(env.Data, &p); err == nil {
			ev = AccountEvent(src, &p)
		}
	case wire.TypeMarketData:
		var p wire.MarketPayload
		if err = wire.Decode(env.Data, &p); err == nil {
			ev = MarketEvent(src, &p)
		}
	case wire.TypeNewMessage:
		var p wire.MessagePayload
		if err = wire.Decode(env.Data, &p); err == nil {
			ev = MessageEvent(src, &p, at)
		}
	case wire.TypeNewSignal:
		var p wire.SignalPayload
		if err = wire.Decode(env.Data, &p); err == nil {
			ev = SignalEvent(src, &p, at)
		}
	case wire.TypePositionUpdate:
		var p wire.PositionUpdatePayload
		if err = wire.Decode(env.Data, &p); err == nil {
			if p.Position.ID == "" {
				err = fmt.Errorf("%w: position without id", wire.ErrMalformed)
			} else {
				ev = viewmodel.PositionUpdateEvent(src, toPosition(p.Position))
			}
		}
	case wire.TypePositionClosed:
		var p wire.PositionClosedPayload
		if err = wire.Decode(env.Data, &p); err == nil {
			if p.PositionID == "" {
				err = fmt.Errorf("%w: missing position_id", wire.ErrMalformed)
			} else {
				ev = viewmodel.PositionClosedEvent(src, p.PositionID.String())
			}
		}
	default:
		err = fmt.Errorf("%w %q", ErrUnknownEventType, env.Type)
	}

	if err != nil {
		return viewmodel.UpdateEvent{}, &DecodeError{Channel: src, Type: env.Type, Err: err}
	}
	ev.ReceivedAt = at
	return ev, nil
}

// DecodeFrame parses a raw websocket frame and decodes it.
func DecodeFrame(frame []byte, src viewmodel.Source, at time.Time) (viewmodel.UpdateEvent, error) {
	env, err := wire.ParseFrame(frame)
	if err != nil {
		return viewmodel.UpdateEvent{}, &DecodeError{Channel: src, Type: "frame", Err: err}
	}
	return DecodeEnvelope(env, src, at)
}

func BotStatusEvent(src viewmodel.Source, p *wire.BotStatusPayload) viewmodel.UpdateEvent {
	return viewmodel.BotStatusEvent(src, viewmodel.BotStatus{
		Running:     p.Running,
		RiskPct:     p.CurrentRisk,
		LastUpdated: p.LastUpdated.Time,
	})
}

func AccountEvent(src viewmodel.Source, p *wire.AccountPayload) viewmodel.UpdateEvent {
	account := viewmodel.Account{
		Balance:     p.Balance,
		Equity:      p.Equity,
		Available:   p.Available,
		DrawdownPct: p.CurrentDrawdown,
		LastUpdated: p.LastUpdated.Time,
	}
	if p.Positions == nil {
		return viewmodel.AccountEvent(src, account)
	}
	positions := make([]viewmodel.Position, 0, len(p.Positions))
	for _, pp := range p.Positions {
		positions = append(positions, toPosition(pp))
	}
	return viewmodel.AccountWithPositionsEvent(src, account, positions)
}

func MarketEvent(src viewmodel.Source, p *wire.MarketPayload) viewmodel.UpdateEvent {
	return viewmodel.MarketEvent(src, viewmodel.Market{
		Prices:      p.Prices,
		LastUpdated: p.LastUpdated.Time,
	})
}

// MessageEvent stamps the message with at when the server sent no time.
func MessageEvent(src viewmodel.Source, p *wire.MessagePayload, at time.Time) viewmodel.UpdateEvent {
	ts := p.Timestamp.Time
	if ts.IsZero() {
		ts = at
	}
	return viewmodel.MessageEvent(src, viewmodel.Message{
		ID:        uuid.NewString(),
		Content:   p.Content,
		Level:     viewmodel.ParseLevel(p.Level),
		Timestamp: ts,
	})
}

func SignalEvent(src viewmodel.Source, p *wire.SignalPayload, at time.Time) viewmodel.UpdateEvent {
	ts := p.Timestamp.Time
	if ts.IsZero() {
		ts = at
	}
	return viewmodel.SignalEvent(src, viewmodel.Signal{
		ID:         uuid.NewString(),
		Symbol:     strings.ToUpper(p.Symbol),
		Action:     strings.ToUpper(p.Action),
		Price:      p.Price,
		Confidence: p.Confidence,
		Reason:     p.Reason,
		Timestamp:  ts,
	})
}

// LocalMessage builds a message event originating in this process, such as
// the result of an action.
func LocalMessage(level viewmodel.Level, content string, at time.Time) viewmodel.UpdateEvent {
	ev := viewmodel.MessageEvent(viewmodel.SourceAction, viewmodel.Message{
		ID:        uuid.NewString(),
		Content:   content,
		Level:     level,
		Timestamp: at,
	})
	ev.ReceivedAt = at
	return ev
}

func toPosition(p wire.PositionPayload) viewmodel.Position {
	return viewmodel.Position{
		ID:           p.ID.String(),
		Symbol:       p.Symbol,
		Side:         viewmodel.ParseSide(p.Side),
		EntryPrice:   p.EntryPrice,
		CurrentPrice: p.CurrentPrice,
		Amount:       p.Amount,
		PnL:          p.PnL,
		PnLPercent:   p.PnLPercent,
	}
}
