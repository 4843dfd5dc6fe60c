package engine

import (
	"fmt"

	"ForecastPool/internal/event"
	"ForecastPool/internal/fixmath"
	"ForecastPool/internal/market"
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
)

// CancelUnresolvable moves a market that closed with fewer than two funded
// outcomes into the refunding terminal state. Callable by anyone: the
// outcome is derivable from public state alone.
func (e *Engine) CancelUnresolvable(id receipt.MarketID, caller uuid.UUID, now int64) error {
	const op = "cancel_unresolvable"
	defer e.timeOp(op)()
	if err := e.guard(); err != nil {
		return e.reject(op, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.markets[id]
	if !ok {
		return e.reject(op, fmt.Errorf("%w: %s", ErrUnknownMarket, id))
	}
	if st := m.Status(now); st != market.StatusClosedUnresolvable {
		return e.reject(op, fmt.Errorf("%w: %s", ErrWrongState, st))
	}

	m.Tag = market.TagRefundsUnresolvable

	e.effecting.Store(true)
	defer e.effecting.Store(false)

	e.refundBonus(m)
	e.concludeHooks(m, now)
	e.emit(event.TypeMarketCancelledUnresolvable, id, caller, now, event.MarketCancelled{
		BonusRefunded:  m.BonusAmount,
		FundedOutcomes: m.FundedOutcomes,
	})

	e.applied(op)
	if e.metrics != nil {
		e.metrics.MarketsConcluded.WithLabelValues("unresolvable").Inc()
	}
	e.log.Info().Str("market", id.String()).Msg("market cancelled: unresolvable at close")
	return nil
}

// CancelFlagged cancels an Active market administratively, moving every
// commitment to 1:1 refunds. Admin-only.
func (e *Engine) CancelFlagged(id receipt.MarketID, reason string, caller uuid.UUID, now int64) error {
	const op = "cancel_flagged"
	defer e.timeOp(op)()
	if err := e.guard(); err != nil {
		return e.reject(op, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.access == nil || !e.access.HasRole(caller, RoleAdmin) {
		return e.reject(op, fmt.Errorf("%w: %s requires %s", ErrUnauthorized, caller, RoleAdmin))
	}
	m, ok := e.markets[id]
	if !ok {
		return e.reject(op, fmt.Errorf("%w: %s", ErrUnknownMarket, id))
	}
	if m.Tag != market.TagActive {
		return e.reject(op, fmt.Errorf("%w: tag %d not Active", ErrWrongState, m.Tag))
	}

	m.Tag = market.TagRefundsFlagged

	e.effecting.Store(true)
	defer e.effecting.Store(false)

	e.refundBonus(m)
	e.concludeHooks(m, now)
	e.emit(event.TypeMarketCancelledFlagged, id, caller, now, event.MarketCancelled{
		Reason:         reason,
		BonusRefunded:  m.BonusAmount,
		FundedOutcomes: m.FundedOutcomes,
	})

	e.applied(op)
	if e.metrics != nil {
		e.metrics.MarketsConcluded.WithLabelValues("flagged").Inc()
	}
	e.log.Warn().Str("market", id.String()).Str("reason", reason).Msg("market cancelled: flagged")
	return nil
}

// Resolve settles a market to the winning outcome, splitting fees between
// the protocol treasury and the creator-fee beneficiary, and freezing the
// winner profit for pro-rata claims. Invoked only by the dispute oracle,
// which alone determines the canonical outcome.
func (e *Engine) Resolve(id receipt.MarketID, winning uint8, feeBeneficiary uuid.UUID, now int64) error {
	const op = "resolve"
	defer e.timeOp(op)()
	if err := e.guard(); err != nil {
		return e.reject(op, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.markets[id]
	if !ok {
		return e.reject(op, fmt.Errorf("%w: %s", ErrUnknownMarket, id))
	}
	if st := m.Status(now); st != market.StatusResolvableNow {
		return e.reject(op, fmt.Errorf("%w: %s", ErrWrongState, st))
	}
	if winning >= m.OutcomeCount {
		return e.reject(op, fmt.Errorf("%w: %d of %d", ErrOutcomeOutOfRange, winning, m.OutcomeCount))
	}

	total := m.TotalPool()
	winningTotal := m.Totals[winning].Amount
	if winningTotal >= total {
		// Resolvable requires two funded outcomes (real or bonus), so
		// the winning side can never hold the whole pool.
		panic(fmt.Sprintf("FATAL: winning total %d >= pool %d for resolvable market %s", winningTotal, total, id))
	}

	if winningTotal == 0 {
		// Nobody committed to the true outcome: every holder reclaims
		// their commitment 1:1, the bonus goes home, no fees.
		m.Tag = market.TagRefundsNoWinners
		m.Resolved = true
		m.Winning = winning

		e.effecting.Store(true)
		defer e.effecting.Store(false)

		e.refundBonus(m)
		e.concludeHooks(m, now)
		e.emit(event.TypeMarketResolved, id, feeBeneficiary, now, event.MarketResolved{
			Winning:   winning,
			TotalPool: total,
			NoWinners: true,
		})
		e.applied(op)
		if e.metrics != nil {
			e.metrics.MarketsConcluded.WithLabelValues("no_winners").Inc()
		}
		return nil
	}

	// Decide: the fee never eats into winner principal; it is capped by
	// what remains after principal is reserved.
	maxFee, err := fixmath.WadMul(total, m.TotalFeeRate)
	if err != nil {
		panic(fmt.Sprintf("FATAL: fee computation overflow for %s: %v", id, err))
	}
	available := total - winningTotal
	totalFee := maxFee
	if totalFee > available {
		totalFee = available
	}
	winnerProfit := available - totalFee

	protocolFee, err := fixmath.WadMul(totalFee, m.ProtocolFeeRate)
	if err != nil {
		panic(fmt.Sprintf("FATAL: protocol fee overflow for %s: %v", id, err))
	}
	creatorFee := totalFee - protocolFee

	// Commit.
	m.Tag = market.TagPayouts
	m.Winning = winning
	m.WinnerProfit = winnerProfit
	m.Resolved = true

	// Effect: fees paid immediately, winner profit held for claims.
	e.effecting.Store(true)
	defer e.effecting.Store(false)

	if protocolFee > 0 {
		if err := e.custody.Push(e.treasury, m.Asset, protocolFee); err != nil {
			panic(fmt.Sprintf("FATAL: protocol fee payment failed for %s: %v", id, err))
		}
	}
	if creatorFee > 0 {
		if err := e.custody.Push(feeBeneficiary, m.Asset, creatorFee); err != nil {
			panic(fmt.Sprintf("FATAL: creator fee payment failed for %s: %v", id, err))
		}
	}
	e.concludeHooks(m, now)
	e.emit(event.TypeMarketResolved, id, feeBeneficiary, now, event.MarketResolved{
		Winning:        winning,
		TotalPool:      total,
		WinningTotal:   winningTotal,
		TotalFee:       totalFee,
		ProtocolFee:    protocolFee,
		CreatorFee:     creatorFee,
		WinnerProfit:   winnerProfit,
		FeeBeneficiary: feeBeneficiary,
	})

	e.applied(op)
	if e.metrics != nil {
		e.metrics.MarketsConcluded.WithLabelValues("resolved").Inc()
	}
	e.log.Info().Str("market", id.String()).Uint8("winning", winning).
		Uint64("winner_profit", winnerProfit).Uint64("total_fee", totalFee).
		Msg("market resolved")
	return nil
}

// ClaimRefunds burns the caller's full balance on each given receipt and
// pays the summed amounts 1:1. Burns strictly precede payment; duplicate
// ids collapse because the second burn yields zero.
func (e *Engine) ClaimRefunds(id receipt.MarketID, ids []receipt.ID, caller uuid.UUID, now int64) (uint64, error) {
	const op = "claim_refunds"
	defer e.timeOp(op)()
	if err := e.guard(); err != nil {
		return 0, e.reject(op, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.markets[id]
	if !ok {
		return 0, e.reject(op, fmt.Errorf("%w: %s", ErrUnknownMarket, id))
	}
	if st := m.Status(now); !st.Refunding() {
		return 0, e.reject(op, fmt.Errorf("%w: %s", ErrWrongState, st))
	}
	for _, rid := range ids {
		if rid.Market() != id {
			return 0, e.reject(op, fmt.Errorf("%w: %s", ErrReceiptMismatch, rid))
		}
	}

	// Commit: burn everything before any payment leaves.
	var refund uint64
	for _, rid := range ids {
		refund += e.book.BurnAll(rid, caller)
	}

	e.effecting.Store(true)
	defer e.effecting.Store(false)

	if refund > 0 {
		if err := e.custody.Push(caller, m.Asset, refund); err != nil {
			panic(fmt.Sprintf("FATAL: refund payment failed after burn for %s: %v", id, err))
		}
		e.emit(event.TypeRefundsClaimed, id, caller, now, event.RefundsClaimed{
			Holder:   caller,
			Receipts: ids,
			Amount:   refund,
		})
	}

	e.applied(op)
	if e.metrics != nil {
		e.metrics.ClaimsTotal.WithLabelValues("refund").Inc()
		e.metrics.ClaimedAmount.WithLabelValues("refund").Add(float64(refund))
	}
	return refund, nil
}

// ClaimPayouts burns the caller's balances and pays principal plus
// pro-rata profit for winning-outcome receipts. Losing receipts burn with
// zero payout: their principal is already folded into the distributed
// pool. The profit share uses one final division to preserve precision:
//
//	share = floor(balance·beta(bucket)·winnerProfit / winningWeightedTotal)
func (e *Engine) ClaimPayouts(id receipt.MarketID, ids []receipt.ID, caller uuid.UUID, now int64) (uint64, error) {
	const op = "claim_payouts"
	defer e.timeOp(op)()
	if err := e.guard(); err != nil {
		return 0, e.reject(op, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.markets[id]
	if !ok {
		return 0, e.reject(op, fmt.Errorf("%w: %s", ErrUnknownMarket, id))
	}
	if st := m.Status(now); st != market.StatusPayouts {
		return 0, e.reject(op, fmt.Errorf("%w: %s", ErrWrongState, st))
	}
	for _, rid := range ids {
		if rid.Market() != id {
			return 0, e.reject(op, fmt.Errorf("%w: %s", ErrReceiptMismatch, rid))
		}
	}

	winningWeighted := m.Totals[m.Winning].Weighted

	// Commit: burn first, accumulate entitlements.
	var principal, profit, burned uint64
	for _, rid := range ids {
		balance := e.book.BurnAll(rid, caller)
		if balance == 0 {
			continue
		}
		burned += balance
		if rid.Outcome() != m.Winning {
			continue
		}
		num := fixmath.Mul3(balance, m.Beta(int64(rid.Bucket())), m.WinnerProfit)
		share, err := fixmath.DivToUint64(num, winningWeighted)
		if err != nil {
			// share <= winnerProfit by construction
			panic(fmt.Sprintf("FATAL: profit share overflow for %s: %v", rid, err))
		}
		principal += balance
		profit += share
	}

	e.effecting.Store(true)
	defer e.effecting.Store(false)

	payout := principal + profit
	if payout > 0 {
		if err := e.custody.Push(caller, m.Asset, payout); err != nil {
			panic(fmt.Sprintf("FATAL: payout failed after burn for %s: %v", id, err))
		}
	}
	// Any burn mutated the ledger, so any burn emits: a claim of only
	// losing receipts pays nothing but must still appear in the log for
	// replay to reproduce the burned balances.
	if burned > 0 {
		e.emit(event.TypePayoutsClaimed, id, caller, now, event.PayoutsClaimed{
			Holder:    caller,
			Receipts:  ids,
			Burned:    burned,
			Principal: principal,
			Profit:    profit,
		})
	}

	e.applied(op)
	if e.metrics != nil {
		e.metrics.ClaimsTotal.WithLabelValues("payout").Inc()
		e.metrics.ClaimedAmount.WithLabelValues("principal").Add(float64(principal))
		e.metrics.ClaimedAmount.WithLabelValues("profit").Add(float64(profit))
	}
	return payout, nil
}

// refundBonus returns the creation bonus to the creator on any conclusion
// that does not distribute it. Runs in the effect phase.
func (e *Engine) refundBonus(m *market.Market) {
	if m.BonusAmount == 0 {
		return
	}
	if err := e.custody.Push(m.Creator, m.Asset, m.BonusAmount); err != nil {
		panic(fmt.Sprintf("FATAL: bonus refund failed for %s: %v", m.ID, err))
	}
}

// concludeHooks runs the conclusion pipeline. Conclusion hook failures do
// not undo a terminal transition; they are logged and the market stays
// concluded.
func (e *Engine) concludeHooks(m *market.Market, now int64) {
	for _, err := range runHooks(e.hooks, m, now, false) {
		e.log.Error().Err(err).Str("market", m.ID.String()).Msg("conclusion hook failed")
	}
}
