package market

import (
	"errors"
	"fmt"
	"math"

	"ForecastPool/internal/fixmath"
	"ForecastPool/internal/receipt"
)

// Validation failures for market creation parameters. Exactly one of these
// is returned by Params.Validate; the first failing check wins.
var (
	ErrInvalidMarketID   = errors.New("market: id has reserved bits set")
	ErrBetaTooSmall      = errors.New("market: opening weight below 1.0")
	ErrFeeRateTooLarge   = errors.New("market: fee rate above 1.0")
	ErrInvalidTimeline   = errors.New("market: timeline ordering violated")
	ErrNotEnoughOutcomes = errors.New("market: fewer than two outcomes")
)

// Policy holds the timing constants that are deliberate risk trade-offs
// rather than inherent laws. They are configurable; the defaults mirror the
// windows the settlement rules were designed around.
type Policy struct {
	// MinResolveGap is the minimum seconds between close and resolve times.
	MinResolveGap int64
	// CreationGraceDivisor bounds how late a market may be created:
	// deadline = openTime + (closeTime-openTime)/CreationGraceDivisor.
	CreationGraceDivisor int64
	// SetWindow is how long after resolveTime the creator may self-report.
	SetWindow int64
	// ChallengeWindow is how long a reported result stays challengeable.
	ChallengeWindow int64
}

// DefaultPolicy returns the stock timing policy: one-hour windows and a
// 10% creation grace.
func DefaultPolicy() Policy {
	return Policy{
		MinResolveGap:        3600,
		CreationGraceDivisor: 10,
		SetWindow:            3600,
		ChallengeWindow:      3600,
	}
}

// Params are the caller-supplied market creation parameters.
type Params struct {
	ID          receipt.MarketID
	OpenTime    int64 // unix seconds, must fit 32 bits
	CloseTime   int64
	ResolveTime int64

	// BetaOpen is the Wad-scaled decay start weight; commitments at or
	// before OpenTime are weighted by it, decaying linearly to 1.0 at
	// CloseTime.
	BetaOpen uint64

	// TotalFeeRate is the Wad-scaled fraction of the pool taken as fees on
	// resolution (protocol + creator split).
	TotalFeeRate uint64

	OutcomeCount uint8
	Asset        string
	BonusAmount  uint64

	// MinCommit/MaxCommit bound single commitment amounts. Zero MinCommit
	// defaults to 1; zero MaxCommit means unbounded.
	MinCommit uint64
	MaxCommit uint64
}

// Validate performs the pure creation-parameter checks. Check order is
// fixed so each malformed input maps to exactly one named failure.
func (p *Params) Validate(pol Policy) error {
	if !p.ID.Valid() {
		return ErrInvalidMarketID
	}
	if p.BetaOpen < fixmath.Wad {
		return ErrBetaTooSmall
	}
	if p.TotalFeeRate > fixmath.Wad {
		return ErrFeeRateTooLarge
	}
	if p.OpenTime <= 0 || p.ResolveTime > math.MaxUint32 {
		return fmt.Errorf("%w: timestamps must fit 32 bits", ErrInvalidTimeline)
	}
	if p.OpenTime >= p.CloseTime {
		return fmt.Errorf("%w: open %d >= close %d", ErrInvalidTimeline, p.OpenTime, p.CloseTime)
	}
	if p.CloseTime+pol.MinResolveGap > p.ResolveTime {
		return fmt.Errorf("%w: close %d + gap %d > resolve %d",
			ErrInvalidTimeline, p.CloseTime, pol.MinResolveGap, p.ResolveTime)
	}
	if p.OutcomeCount < 2 {
		return ErrNotEnoughOutcomes
	}
	return nil
}

// CreationDeadline is the latest allowable creation time. Creation may
// drift up to 1/CreationGraceDivisor of the open window past OpenTime to
// tolerate submission delay.
func (p *Params) CreationDeadline(pol Policy) int64 {
	return p.OpenTime + (p.CloseTime-p.OpenTime)/pol.CreationGraceDivisor
}
