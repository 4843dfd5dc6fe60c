package market

import (
	"fmt"
	"math/big"

	"ForecastPool/internal/fixmath"
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
)

// Tag is the coarse lifecycle tag actually stored on the record. Everything
// finer grained (open/closed, resolvable or not) is derived from time and
// funding count at read time; there is no scheduler flipping states.
type Tag uint8

const (
	TagNone Tag = iota
	TagActive
	TagPayouts              // resolved with winners; winning receipts claim payouts
	TagRefundsUnresolvable  // cancelled: fewer than two funded outcomes at close
	TagRefundsFlagged       // cancelled administratively while active
	TagRefundsNoWinners     // resolved but nobody committed to the winning outcome
)

// Status is the externally visible lifecycle state, derived from
// (stored tag, current time, funded outcome count).
type Status uint8

const (
	StatusNone Status = iota

	// StatusOpenPending: open for commitments but fewer than two funded
	// outcomes, so it may yet close unresolvable.
	StatusOpenPending

	// StatusOpenFunded: open with two or more funded outcomes. Receipts
	// are transferable.
	StatusOpenFunded

	// StatusClosedUnresolvable: closed with fewer than two funded
	// outcomes; only cancellation and refunds remain.
	StatusClosedUnresolvable

	// StatusClosedAwaiting: closed, resolvable once resolveTime passes.
	// Receipts are transferable.
	StatusClosedAwaiting

	// StatusResolvableNow: closed and past resolveTime; the oracle may
	// determine the winning outcome.
	StatusResolvableNow

	StatusPayouts
	StatusRefundsUnresolvable
	StatusRefundsFlagged
	StatusRefundsNoWinners
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusOpenPending:
		return "OpenPending"
	case StatusOpenFunded:
		return "OpenFunded"
	case StatusClosedUnresolvable:
		return "ClosedUnresolvable"
	case StatusClosedAwaiting:
		return "ClosedAwaiting"
	case StatusResolvableNow:
		return "ResolvableNow"
	case StatusPayouts:
		return "Payouts"
	case StatusRefundsUnresolvable:
		return "RefundsUnresolvable"
	case StatusRefundsFlagged:
		return "RefundsFlagged"
	case StatusRefundsNoWinners:
		return "RefundsNoWinners"
	default:
		return "Unknown"
	}
}

// Transferable reports whether receipts may change hands in this state.
// Mint and burn are always allowed regardless of state.
func (s Status) Transferable() bool {
	return s == StatusOpenFunded || s == StatusClosedAwaiting
}

// AcceptingCommitments reports whether new commitments are allowed.
func (s Status) AcceptingCommitments() bool {
	return s == StatusOpenPending || s == StatusOpenFunded
}

// Refunding reports whether receipts claim 1:1 refunds in this state.
func (s Status) Refunding() bool {
	return s == StatusRefundsUnresolvable || s == StatusRefundsFlagged || s == StatusRefundsNoWinners
}

// OutcomeTotals accumulates per-outcome commitments. Both fields are
// monotonically non-decreasing until resolution and frozen after.
type OutcomeTotals struct {
	// Amount is the raw committed amount in asset base units.
	Amount uint64
	// Weighted is Σ amount·beta(bucket), Wad-scaled.
	Weighted *big.Int
}

// Market is one event instance with its own outcomes, timeline and pool.
// Field ranges (32-bit timestamps, 8-bit outcome count/index) are validated
// invariants preserved for wire and storage compatibility.
type Market struct {
	ID      receipt.MarketID
	Creator uuid.UUID

	OpenTime    int64
	CloseTime   int64
	ResolveTime int64

	BetaOpen        uint64 // Wad-scaled; implicit closing weight is 1.0
	TotalFeeRate    uint64 // Wad-scaled
	ProtocolFeeRate uint64 // Wad-scaled, frozen at creation

	OutcomeCount uint8
	Asset        string
	BonusAmount  uint64
	MinCommit    uint64
	MaxCommit    uint64

	Tag Tag

	// FundedOutcomes counts outcomes whose committed amount is nonzero.
	// A nonzero bonus contributes one virtual always-funded outcome, so a
	// bonus alone never makes a market resolvable.
	FundedOutcomes uint16

	Totals []OutcomeTotals

	// Winning and WinnerProfit are set exactly once, on resolution with
	// winners.
	Winning      uint8
	WinnerProfit uint64
	Resolved     bool
}

// New builds an Active market record from validated params, freezing the
// current protocol fee rate. Amount-bound defaults are applied here:
// MinCommit 0 becomes 1, MaxCommit 0 stays unbounded.
func New(p Params, creator uuid.UUID, protocolFeeRate uint64) *Market {
	minCommit := p.MinCommit
	if minCommit == 0 {
		minCommit = 1
	}

	totals := make([]OutcomeTotals, p.OutcomeCount)
	for i := range totals {
		totals[i].Weighted = new(big.Int)
	}

	funded := uint16(0)
	if p.BonusAmount > 0 {
		funded = 1
	}

	return &Market{
		ID:              p.ID,
		Creator:         creator,
		OpenTime:        p.OpenTime,
		CloseTime:       p.CloseTime,
		ResolveTime:     p.ResolveTime,
		BetaOpen:        p.BetaOpen,
		TotalFeeRate:    p.TotalFeeRate,
		ProtocolFeeRate: protocolFeeRate,
		OutcomeCount:    p.OutcomeCount,
		Asset:           p.Asset,
		BonusAmount:     p.BonusAmount,
		MinCommit:       minCommit,
		MaxCommit:       p.MaxCommit,
		Tag:             TagActive,
		FundedOutcomes:  funded,
		Totals:          totals,
	}
}

// Status derives the externally visible state. Pure: same inputs, same
// answer, regardless of when or how often it is asked.
func (m *Market) Status(now int64) Status {
	switch m.Tag {
	case TagNone:
		return StatusNone
	case TagPayouts:
		return StatusPayouts
	case TagRefundsUnresolvable:
		return StatusRefundsUnresolvable
	case TagRefundsFlagged:
		return StatusRefundsFlagged
	case TagRefundsNoWinners:
		return StatusRefundsNoWinners
	case TagActive:
		if now < m.CloseTime {
			if m.FundedOutcomes >= 2 {
				return StatusOpenFunded
			}
			return StatusOpenPending
		}
		if m.FundedOutcomes < 2 {
			return StatusClosedUnresolvable
		}
		if now < m.ResolveTime {
			return StatusClosedAwaiting
		}
		return StatusResolvableNow
	default:
		panic(fmt.Sprintf("FATAL: market %s has unknown tag %d", m.ID, m.Tag))
	}
}

// Beta is the time-decay weight at commit time t, Wad-scaled:
//
//	beta(t) = 1 + (betaOpen-1)·(close-t)/(close-open)
//
// clamped to betaOpen before the open and 1.0 after the close. The interior
// is evaluated as one multiply-then-divide so the floored result does not
// depend on evaluation order.
func (m *Market) Beta(t int64) uint64 {
	if t <= m.OpenTime {
		return m.BetaOpen
	}
	if t >= m.CloseTime {
		return fixmath.Wad
	}
	span := uint64(m.CloseTime - m.OpenTime)
	left := uint64(m.CloseTime - t)
	decay, err := fixmath.MulDiv(m.BetaOpen-fixmath.Wad, left, span)
	if err != nil {
		// decay <= betaOpen-1 by construction
		panic(fmt.Sprintf("FATAL: beta computation overflow for market %s: %v", m.ID, err))
	}
	return fixmath.Wad + decay
}

// Bucket coarsens a commit time into the 32-bit receipt-id time bucket:
// max(openTime, now). All pre-open commitments collapse into the open-time
// bucket and are mutually fungible; later commitments get distinct buckets.
func (m *Market) Bucket(now int64) uint32 {
	t := now
	if t < m.OpenTime {
		t = m.OpenTime
	}
	b, err := fixmath.ToUint32(uint64(t))
	if err != nil {
		panic(fmt.Sprintf("FATAL: commit time %d does not fit the 32-bit bucket", t))
	}
	return b
}

// TotalPool is the sum of all outcome commitments plus the bonus.
func (m *Market) TotalPool() uint64 {
	total := m.BonusAmount
	for i := range m.Totals {
		total += m.Totals[i].Amount
	}
	return total
}
