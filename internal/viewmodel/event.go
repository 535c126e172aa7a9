package viewmodel

import "time"

// Kind tags an UpdateEvent's payload.
type Kind int

const (
	KindBotStatus Kind = iota + 1
	KindAccountData
	KindMarketData
	KindMessage
	KindSignal
	KindPositionClosedAck
	KindPositionUpdate
)

func (k Kind) String() string {
	switch k {
	case KindBotStatus:
		return "bot_status"
	case KindAccountData:
		return "account_data"
	case KindMarketData:
		return "market_data"
	case KindMessage:
		return "message"
	case KindSignal:
		return "signal"
	case KindPositionClosedAck:
		return "position_closed_ack"
	case KindPositionUpdate:
		return "position_update"
	default:
		return "unknown"
	}
}

// Source is the channel an event arrived on.
type Source string

const (
	SourcePush   Source = "push"
	SourcePoll   Source = "poll"
	SourceAction Source = "action"
)

// AccountUpdate carries account_data. HasPositions distinguishes "no
// positions field" from "an empty positions array".
type AccountUpdate struct {
	Account      Account
	Positions    []Position
	HasPositions bool
}

// UpdateEvent is one partial update. Exactly one payload field matching Kind
// is set.
type UpdateEvent struct {
	Kind       Kind
	Source     Source
	ReceivedAt time.Time

	BotStatus  *BotStatus
	Account    *AccountUpdate
	Market     *Market
	Message    *Message
	Signal     *Signal
	Position   *Position
	PositionID string
}

func BotStatusEvent(src Source, s BotStatus) UpdateEvent {
	return UpdateEvent{Kind: KindBotStatus, Source: src, BotStatus: &s}
}

// AccountEvent builds an account_data event without a positions array.
func AccountEvent(src Source, a Account) UpdateEvent {
	return UpdateEvent{Kind: KindAccountData, Source: src, Account: &AccountUpdate{Account: a}}
}

// AccountWithPositionsEvent builds an account_data event that replaces the
// open positions.
func AccountWithPositionsEvent(src Source, a Account, positions []Position) UpdateEvent {
	if positions == nil {
		positions = []Position{}
	}
	return UpdateEvent{
		Kind:    KindAccountData,
		Source:  src,
		Account: &AccountUpdate{Account: a, Positions: positions, HasPositions: true},
	}
}

func MarketEvent(src Source, m Market) UpdateEvent {
	return UpdateEvent{Kind: KindMarketData, Source: src, Market: &m}
}

func MessageEvent(src Source, m Message) UpdateEvent {
	return UpdateEvent{Kind: KindMessage, Source: src, Message: &m}
}

func SignalEvent(src Source, s Signal) UpdateEvent {
	return UpdateEvent{Kind: KindSignal, Source: src, Signal: &s}
}

func PositionUpdateEvent(src Source, p Position) UpdateEvent {
	return UpdateEvent{Kind: KindPositionUpdate, Source: src, Position: &p}
}

func PositionClosedEvent(src Source, id string) UpdateEvent {
	return UpdateEvent{Kind: KindPositionClosedAck, Source: src, PositionID: id}
}
