package engine

import (
	"fmt"
	"math/big"

	"ForecastPool/internal/event"
	"ForecastPool/internal/market"
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
)

// OutcomeView is one outcome's accumulated totals.
type OutcomeView struct {
	Amount   uint64   `json:"amount"`
	Weighted *big.Int `json:"weighted"`
}

// MarketView is an immutable snapshot of one market, taken under the
// engine lock. Weighted totals are deep-copied so readers never alias
// live accumulator state.
type MarketView struct {
	ID      receipt.MarketID `json:"id"`
	Creator uuid.UUID        `json:"creator"`

	OpenTime    int64 `json:"open_time"`
	CloseTime   int64 `json:"close_time"`
	ResolveTime int64 `json:"resolve_time"`

	BetaOpen        uint64 `json:"beta_open"`
	TotalFeeRate    uint64 `json:"total_fee_rate"`
	ProtocolFeeRate uint64 `json:"protocol_fee_rate"`

	OutcomeCount uint8  `json:"outcome_count"`
	Asset        string `json:"asset"`
	BonusAmount  uint64 `json:"bonus_amount"`
	MinCommit    uint64 `json:"min_commit"`
	MaxCommit    uint64 `json:"max_commit"`

	Status         market.Status `json:"status"`
	FundedOutcomes uint16        `json:"funded_outcomes"`
	Totals         []OutcomeView `json:"totals"`
	TotalPool      uint64        `json:"total_pool"`

	Winning      uint8  `json:"winning"`
	WinnerProfit uint64 `json:"winner_profit"`
	Resolved     bool   `json:"resolved"`
}

// Info snapshots one market at the given observation time.
func (e *Engine) Info(id receipt.MarketID, now int64) (MarketView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.markets[id]
	if !ok {
		return MarketView{}, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}

	totals := make([]OutcomeView, len(m.Totals))
	for i := range m.Totals {
		totals[i] = OutcomeView{
			Amount:   m.Totals[i].Amount,
			Weighted: new(big.Int).Set(m.Totals[i].Weighted),
		}
	}
	return MarketView{
		ID:              m.ID,
		Creator:         m.Creator,
		OpenTime:        m.OpenTime,
		CloseTime:       m.CloseTime,
		ResolveTime:     m.ResolveTime,
		BetaOpen:        m.BetaOpen,
		TotalFeeRate:    m.TotalFeeRate,
		ProtocolFeeRate: m.ProtocolFeeRate,
		OutcomeCount:    m.OutcomeCount,
		Asset:           m.Asset,
		BonusAmount:     m.BonusAmount,
		MinCommit:       m.MinCommit,
		MaxCommit:       m.MaxCommit,
		Status:          m.Status(now),
		FundedOutcomes:  m.FundedOutcomes,
		Totals:          totals,
		TotalPool:       m.TotalPool(),
		Winning:         m.Winning,
		WinnerProfit:    m.WinnerProfit,
		Resolved:        m.Resolved,
	}, nil
}

// Status derives one market's lifecycle state at the observation time.
func (e *Engine) Status(id receipt.MarketID, now int64) (market.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.markets[id]
	if !ok {
		return market.StatusNone, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}
	return m.Status(now), nil
}

// Balance returns the holder's unburned balance on one receipt.
func (e *Engine) Balance(id receipt.ID, holder uuid.UUID) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Balance(id, holder)
}

// Outstanding sums all unburned receipt balances for a market.
func (e *Engine) Outstanding(id receipt.MarketID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.markets[id]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}
	return e.book.OutstandingForMarket(id), nil
}

// MarketIDs lists every known market id.
func (e *Engine) MarketIDs() []receipt.MarketID {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]receipt.MarketID, 0, len(e.markets))
	for id := range e.markets {
		ids = append(ids, id)
	}
	return ids
}

// Sequence returns the last assigned event sequence.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// Emit forwards an externally produced domain event (the dispute oracle's
// resolution protocol) through the engine's sequenced output channels.
func (e *Engine) Emit(t event.Type, id receipt.MarketID, actor uuid.UUID, now int64, payload interface{}) error {
	if e.effecting.Load() {
		return ErrReentered
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emit(t, id, actor, now, payload)
	return nil
}

// EmitFromHook appends an event from inside a hook invocation.
//
// TRICKY: hooks run on the engine goroutine with the lock already held and
// the effecting flag set; taking the lock again would deadlock. Callable
// only from OnCreated/OnConcluded bodies.
func (e *Engine) EmitFromHook(t event.Type, id receipt.MarketID, actor uuid.UUID, now int64, payload interface{}) {
	if !e.effecting.Load() {
		panic("FATAL: EmitFromHook called outside a hook invocation")
	}
	e.emit(t, id, actor, now, payload)
}
