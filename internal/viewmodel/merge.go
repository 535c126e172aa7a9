package viewmodel

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome reports what a merge did.
type Outcome int

const (
	// OutcomeApplied means the event was merged.
	OutcomeApplied Outcome = iota
	// OutcomeStale means the event carried an older timestamp and was dropped.
	OutcomeStale
	// OutcomeNoop means the event referenced nothing that exists.
	OutcomeNoop
	// OutcomeInvalid means the event's payload did not match its kind.
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeNoop:
		return "noop"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Merger folds update events into a view-model. It holds no state besides
// its settings, so one value can be shared freely.
type Merger struct {
	// Capacity bounds Messages and Signals. Zero means DefaultCapacity.
	Capacity int
}

// Apply merges ev into vm using the default capacity.
func Apply(vm ViewModel, ev UpdateEvent) (ViewModel, Outcome) {
	return Merger{}.Apply(vm, ev)
}

// Apply returns the merged view-model. The input is never modified and the
// result shares no mutable backing storage with the event.
func (m Merger) Apply(vm ViewModel, ev UpdateEvent) (ViewModel, Outcome) {
	switch ev.Kind {
	case KindBotStatus:
		if ev.BotStatus == nil {
			return vm, OutcomeInvalid
		}
		if !fresh(vm.BotStatus.LastUpdated, ev.BotStatus.LastUpdated) {
			return vm, OutcomeStale
		}
		next := *ev.BotStatus
		next.LastUpdated = keepIfZero(next.LastUpdated, vm.BotStatus.LastUpdated)
		vm.BotStatus = next
		return vm, OutcomeApplied

	case KindAccountData:
		if ev.Account == nil {
			return vm, OutcomeInvalid
		}
		if !fresh(vm.Account.LastUpdated, ev.Account.Account.LastUpdated) {
			return vm, OutcomeStale
		}
		next := ev.Account.Account
		next.LastUpdated = keepIfZero(next.LastUpdated, vm.Account.LastUpdated)
		vm.Account = next
		if ev.Account.HasPositions {
			vm.Positions = dedupePositions(ev.Account.Positions)
		}
		return vm, OutcomeApplied

	case KindMarketData:
		if ev.Market == nil {
			return vm, OutcomeInvalid
		}
		if !fresh(vm.Market.LastUpdated, ev.Market.LastUpdated) {
			return vm, OutcomeStale
		}
		prices := make(map[string]decimal.Decimal, len(ev.Market.Prices))
		for symbol, price := range ev.Market.Prices {
			prices[symbol] = price
		}
		vm.Market = Market{
			Prices:      prices,
			LastUpdated: keepIfZero(ev.Market.LastUpdated, vm.Market.LastUpdated),
		}
		return vm, OutcomeApplied

	case KindMessage:
		if ev.Message == nil {
			return vm, OutcomeInvalid
		}
		vm.Messages = prepend(vm.Messages, *ev.Message, m.capacity())
		return vm, OutcomeApplied

	case KindSignal:
		if ev.Signal == nil {
			return vm, OutcomeInvalid
		}
		vm.Signals = prepend(vm.Signals, *ev.Signal, m.capacity())
		return vm, OutcomeApplied

	case KindPositionClosedAck:
		idx := indexOfPosition(vm.Positions, ev.PositionID)
		if idx < 0 {
			return vm, OutcomeNoop
		}
		next := make([]Position, 0, len(vm.Positions)-1)
		next = append(next, vm.Positions[:idx]...)
		next = append(next, vm.Positions[idx+1:]...)
		vm.Positions = next
		return vm, OutcomeApplied

	case KindPositionUpdate:
		if ev.Position == nil || ev.Position.ID == "" {
			return vm, OutcomeInvalid
		}
		next := make([]Position, len(vm.Positions), len(vm.Positions)+1)
		copy(next, vm.Positions)
		if idx := indexOfPosition(next, ev.Position.ID); idx >= 0 {
			next[idx] = *ev.Position
		} else {
			next = append(next, *ev.Position)
		}
		vm.Positions = next
		return vm, OutcomeApplied
	}

	return vm, OutcomeInvalid
}

func (m Merger) capacity() int {
	if m.Capacity <= 0 {
		return DefaultCapacity
	}
	return m.Capacity
}

// fresh reports whether an incoming timestamp may overwrite the stored one.
// Events without a timestamp always win; equal timestamps apply so that
// re-delivery is idempotent.
func fresh(stored, incoming time.Time) bool {
	if incoming.IsZero() {
		return true
	}
	return !incoming.Before(stored)
}

func keepIfZero(incoming, stored time.Time) time.Time {
	if incoming.IsZero() {
		return stored
	}
	return incoming
}

// dedupePositions keeps server order; a repeated ID overwrites the earlier
// entry in place. Entries without an ID are dropped.
func dedupePositions(in []Position) []Position {
	out := make([]Position, 0, len(in))
	seen := make(map[string]int, len(in))
	for _, p := range in {
		if p.ID == "" {
			continue
		}
		if i, ok := seen[p.ID]; ok {
			out[i] = p
			continue
		}
		seen[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

func indexOfPosition(positions []Position, id string) int {
	if id == "" {
		return -1
	}
	for i := range positions {
		if positions[i].ID == id {
			return i
		}
	}
	return -1
}

func prepend[T any](seq []T, item T, capacity int) []T {
	n := len(seq) + 1
	if n > capacity {
		n = capacity
	}
	out := make([]T, 0, n)
	out = append(out, item)
	return append(out, seq[:n-1]...)
}
