package engine_test

import (
	"errors"
	"testing"

	"ForecastPool/internal/engine"
	"ForecastPool/internal/event"
	"ForecastPool/internal/fixmath"
	"ForecastPool/internal/market"
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func mid(fill byte) receipt.MarketID {
	var m receipt.MarketID
	for i := 0; i < 27; i++ {
		m[i] = fill
	}
	return m
}

// Fixture timeline: open=1000, close=11000, resolve=14600.
func baseParams(id receipt.MarketID) market.Params {
	return market.Params{
		ID:           id,
		OpenTime:     1000,
		CloseTime:    11000,
		ResolveTime:  14600,
		BetaOpen:     2 * fixmath.Wad,
		OutcomeCount: 2,
		Asset:        "USDC",
	}
}

type fixture struct {
	eng      *engine.Engine
	custody  *engine.InMemoryCustody
	access   *engine.StaticAccessControl
	pauser   *engine.SwitchPauser
	treasury uuid.UUID
	admin    uuid.UUID
	persist  chan engine.Output
}

func newFixture(t *testing.T, protocolFeeRate uint64, hooks ...engine.Hook) *fixture {
	t.Helper()

	f := &fixture{
		custody:  engine.NewInMemoryCustody(),
		access:   engine.NewStaticAccessControl(),
		pauser:   &engine.SwitchPauser{},
		treasury: uuid.New(),
		admin:    uuid.New(),
		persist:  make(chan engine.Output, 256),
	}
	f.access.Grant(f.admin, engine.RoleAdmin)

	f.eng = engine.New(engine.Config{
		Policy:          market.DefaultPolicy(),
		Custody:         f.custody,
		Access:          f.access,
		Pauser:          f.pauser,
		Allowlist:       engine.NewStaticAllowlist(), // empty: allow everything
		Hooks:           hooks,
		Treasury:        f.treasury,
		ProtocolFeeRate: protocolFeeRate,
		PersistChan:     f.persist,
		Metrics:         nil,
		Logger:          zerolog.Nop(),
	})
	return f
}

func (f *fixture) fundedAccount(t *testing.T, amount uint64) uuid.UUID {
	t.Helper()
	acct := uuid.New()
	f.custody.Fund(acct, "USDC", amount)
	return acct
}

func (f *fixture) mustCreate(t *testing.T, p market.Params, creator uuid.UUID, now int64) {
	t.Helper()
	if err := f.eng.CreateMarket(p, creator, now); err != nil {
		t.Fatalf("create market: %v", err)
	}
}

func (f *fixture) mustCommit(t *testing.T, id receipt.MarketID, outcome uint8, amount uint64, caller uuid.UUID, now int64) receipt.ID {
	t.Helper()
	rid, err := f.eng.Commit(id, outcome, amount, nil, caller, now)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return rid
}

// ============================================================================
// Test: market creation
// ============================================================================

func TestCreateMarket_PullsBonus(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 1000)

	p := baseParams(mid(0x01))
	p.BonusAmount = 300
	f.mustCreate(t, p, creator, 1000)

	if got := f.custody.BalanceOf(creator, "USDC"); got != 700 {
		t.Errorf("creator balance = %d, want 700", got)
	}
	st, err := f.eng.Status(p.ID, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if st != market.StatusOpenPending {
		t.Errorf("status = %s, want OpenPending", st)
	}
}

func TestCreateMarket_Rejections(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 1000)

	valid := baseParams(mid(0x02))
	f.mustCreate(t, valid, creator, 1000)

	t.Run("duplicate id", func(t *testing.T) {
		if err := f.eng.CreateMarket(valid, creator, 1000); !errors.Is(err, engine.ErrDuplicateID) {
			t.Errorf("got %v, want ErrDuplicateID", err)
		}
	})
	t.Run("invalid params", func(t *testing.T) {
		p := baseParams(mid(0x03))
		p.OutcomeCount = 1
		if err := f.eng.CreateMarket(p, creator, 1000); !errors.Is(err, market.ErrNotEnoughOutcomes) {
			t.Errorf("got %v, want ErrNotEnoughOutcomes", err)
		}
	})
	t.Run("past creation deadline", func(t *testing.T) {
		p := baseParams(mid(0x04))
		// deadline = 1000 + 10000/10 = 2000
		if err := f.eng.CreateMarket(p, creator, 2001); !errors.Is(err, engine.ErrTooLate) {
			t.Errorf("got %v, want ErrTooLate", err)
		}
		if err := f.eng.CreateMarket(p, creator, 2000); err != nil {
			t.Errorf("creation at the deadline should succeed: %v", err)
		}
	})
}

func TestCreateMarket_AssetAllowlist(t *testing.T) {
	f := newFixture(t, 0)
	// rebuild the engine with a restrictive allowlist
	f.eng = engine.New(engine.Config{
		Policy:    market.DefaultPolicy(),
		Custody:   f.custody,
		Allowlist: engine.NewStaticAllowlist("USDT"),
		Treasury:  f.treasury,
		Logger:    zerolog.Nop(),
	})
	if err := f.eng.CreateMarket(baseParams(mid(0x05)), uuid.New(), 1000); !errors.Is(err, engine.ErrAssetNotAllowed) {
		t.Errorf("got %v, want ErrAssetNotAllowed", err)
	}
}

func TestCreateMarket_HookFailureRollsBack(t *testing.T) {
	f := newFixture(t, 0, engine.NewQuotaHook(1))
	creator := f.fundedAccount(t, 1000)

	p1 := baseParams(mid(0x06))
	p1.BonusAmount = 100
	f.mustCreate(t, p1, creator, 1000)

	p2 := baseParams(mid(0x07))
	p2.BonusAmount = 100
	if err := f.eng.CreateMarket(p2, creator, 1000); err == nil {
		t.Fatal("second creation should fail on quota")
	}

	// rollback: second market gone, its bonus returned
	if _, err := f.eng.Status(p2.ID, 1000); !errors.Is(err, engine.ErrUnknownMarket) {
		t.Errorf("rolled-back market should be unknown, got %v", err)
	}
	if got := f.custody.BalanceOf(creator, "USDC"); got != 900 {
		t.Errorf("creator balance = %d, want 900 (only first bonus held)", got)
	}
}

// ============================================================================
// Test: commitments
// ============================================================================

func TestCommit_Rejections(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 1000)
	alice := f.fundedAccount(t, 1000)

	p := baseParams(mid(0x10))
	p.MinCommit = 10
	p.MaxCommit = 500
	f.mustCreate(t, p, creator, 1000)

	cases := []struct {
		name    string
		outcome uint8
		amount  uint64
		now     int64
		want    error
	}{
		{"outcome out of range", 2, 100, 1000, engine.ErrOutcomeOutOfRange},
		{"below min", 0, 9, 1000, engine.ErrAmountOutOfRange},
		{"above max", 0, 501, 1000, engine.ErrAmountOutOfRange},
		{"after close", 0, 100, 11000, engine.ErrWrongState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.eng.Commit(p.ID, tc.outcome, tc.amount, nil, alice, tc.now); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}

	t.Run("unknown market", func(t *testing.T) {
		if _, err := f.eng.Commit(mid(0x66), 0, 100, nil, alice, 1000); !errors.Is(err, engine.ErrUnknownMarket) {
			t.Errorf("got %v, want ErrUnknownMarket", err)
		}
	})
	t.Run("caller deadline", func(t *testing.T) {
		deadline := int64(900)
		if _, err := f.eng.Commit(p.ID, 0, 100, &deadline, alice, 1000); !errors.Is(err, engine.ErrDeadlineExceeded) {
			t.Errorf("got %v, want ErrDeadlineExceeded", err)
		}
	})
	t.Run("insufficient funds", func(t *testing.T) {
		poor := uuid.New()
		if _, err := f.eng.Commit(p.ID, 0, 100, nil, poor, 1000); err == nil {
			t.Error("expected custody pull failure")
		}
	})
}

func TestCommit_DebitsCustody(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 1000)

	p := baseParams(mid(0x11))
	f.mustCreate(t, p, creator, 1000)

	rid := f.mustCommit(t, p.ID, 0, 250, alice, 1000)

	if got := f.custody.BalanceOf(alice, "USDC"); got != 750 {
		t.Errorf("alice balance = %d, want 750", got)
	}
	if got := f.eng.Balance(rid, alice); got != 250 {
		t.Errorf("receipt balance = %d, want 250", got)
	}
}

// ============================================================================
// Test: transfer gating
// ============================================================================

func TestTransfer_OnlyInTransferableStates(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 1000)
	bob := uuid.New()

	p := baseParams(mid(0x12))
	f.mustCreate(t, p, creator, 1000)
	rid := f.mustCommit(t, p.ID, 0, 100, alice, 1000)

	// one funded outcome: OpenPending, not transferable
	if err := f.eng.Transfer(rid, bob, 50, alice, 2000); !errors.Is(err, engine.ErrNotTransferable) {
		t.Errorf("got %v, want ErrNotTransferable", err)
	}

	f.mustCommit(t, p.ID, 1, 100, alice, 2000)

	// OpenFunded: transferable
	if err := f.eng.Transfer(rid, bob, 50, alice, 3000); err != nil {
		t.Fatalf("transfer while open and funded: %v", err)
	}
	// ClosedAwaiting: still transferable
	if err := f.eng.Transfer(rid, bob, 10, alice, 12000); err != nil {
		t.Fatalf("transfer while awaiting resolve: %v", err)
	}
	if got := f.eng.Balance(rid, bob); got != 60 {
		t.Errorf("bob balance = %d, want 60", got)
	}
}

// ============================================================================
// Test: resolution and payouts (happy path)
// ============================================================================

// Two outcomes, betaOpen 2.0, no fees. Alice commits 100 at the open
// (weight 2.0), Bob commits 100 to the other side mid-window. Outcome 0
// wins: Alice reclaims her principal plus the full losing side.
func TestResolveAndClaim_WinnerTakesLosingSide(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 100)
	bob := f.fundedAccount(t, 100)

	p := baseParams(mid(0x20))
	f.mustCreate(t, p, creator, 1000)

	aliceRid := f.mustCommit(t, p.ID, 0, 100, alice, 1000)
	bobRid := f.mustCommit(t, p.ID, 1, 100, bob, 6000)

	if err := f.eng.Resolve(p.ID, 0, creator, 14600); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{aliceRid}, alice, 15000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 200 {
		t.Errorf("alice payout = %d, want 200", got)
	}
	if bal := f.custody.BalanceOf(alice, "USDC"); bal != 200 {
		t.Errorf("alice custody = %d, want 200", bal)
	}

	// losing receipt burns at zero
	got, err = f.eng.ClaimPayouts(p.ID, []receipt.ID{bobRid}, bob, 15000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("bob payout = %d, want 0", got)
	}
}

// Early commitments carry more weight: with betaOpen 2.0, an open-time
// commitment earns twice the profit share of an equal close-time one.
func TestClaimPayouts_TimeWeightedSplit(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	early := f.fundedAccount(t, 100)
	late := f.fundedAccount(t, 100)
	loser := f.fundedAccount(t, 300)

	p := baseParams(mid(0x21))
	f.mustCreate(t, p, creator, 1000)

	earlyRid := f.mustCommit(t, p.ID, 0, 100, early, 1000)   // beta 2.0
	lateRid := f.mustCommit(t, p.ID, 0, 100, late, 10999)    // beta ~1.0
	f.mustCommit(t, p.ID, 1, 300, loser, 6000)

	if err := f.eng.Resolve(p.ID, 0, creator, 14600); err != nil {
		t.Fatal(err)
	}

	// winnerProfit = 300; weighted: early 200, late 100.02 (Wad-scaled)
	gotEarly, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{earlyRid}, early, 15000)
	if err != nil {
		t.Fatal(err)
	}
	gotLate, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{lateRid}, late, 15000)
	if err != nil {
		t.Fatal(err)
	}

	earlyProfit := gotEarly - 100
	lateProfit := gotLate - 100
	if earlyProfit <= lateProfit {
		t.Errorf("early profit %d should exceed late profit %d", earlyProfit, lateProfit)
	}
	// floor division never overpays
	if earlyProfit+lateProfit > 300 {
		t.Errorf("distributed profit %d exceeds winner profit 300", earlyProfit+lateProfit)
	}
	// and never leaves more than rounding dust behind
	if earlyProfit+lateProfit < 298 {
		t.Errorf("distributed profit %d leaves too much behind", earlyProfit+lateProfit)
	}
}

func TestResolve_FeeSplit(t *testing.T) {
	protocolRate := fixmath.Wad / 2 // half of the fee to the protocol
	f := newFixture(t, protocolRate)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 100)
	bob := f.fundedAccount(t, 100)

	p := baseParams(mid(0x22))
	p.TotalFeeRate = fixmath.Wad / 10 // 10% of the pool
	f.mustCreate(t, p, creator, 1000)

	aliceRid := f.mustCommit(t, p.ID, 0, 100, alice, 1000)
	f.mustCommit(t, p.ID, 1, 100, bob, 1000)

	beneficiary := uuid.New()
	if err := f.eng.Resolve(p.ID, 0, beneficiary, 14600); err != nil {
		t.Fatal(err)
	}

	// total 200, fee 20: protocol 10, creator-beneficiary 10, profit 80
	if got := f.custody.BalanceOf(f.treasury, "USDC"); got != 10 {
		t.Errorf("treasury = %d, want 10", got)
	}
	if got := f.custody.BalanceOf(beneficiary, "USDC"); got != 10 {
		t.Errorf("fee beneficiary = %d, want 10", got)
	}

	payout, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{aliceRid}, alice, 15000)
	if err != nil {
		t.Fatal(err)
	}
	if payout != 180 {
		t.Errorf("winner payout = %d, want 180", payout)
	}
}

// The fee is capped by what remains after winner principal: a fee rate
// that would eat into principal is clipped, leaving zero winner profit.
func TestResolve_FeeCappedByAvailable(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 900)
	bob := f.fundedAccount(t, 100)

	p := baseParams(mid(0x23))
	p.TotalFeeRate = fixmath.Wad / 2 // 50% of the pool
	f.mustCreate(t, p, creator, 1000)

	aliceRid := f.mustCommit(t, p.ID, 0, 900, alice, 1000)
	f.mustCommit(t, p.ID, 1, 100, bob, 1000)

	beneficiary := uuid.New()
	if err := f.eng.Resolve(p.ID, 0, beneficiary, 14600); err != nil {
		t.Fatal(err)
	}

	// total 1000, maxFee 500, available 100: fee clipped to 100, profit 0
	if got := f.custody.BalanceOf(beneficiary, "USDC"); got != 100 {
		t.Errorf("fee beneficiary = %d, want 100", got)
	}
	payout, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{aliceRid}, alice, 15000)
	if err != nil {
		t.Fatal(err)
	}
	if payout != 900 {
		t.Errorf("winner payout = %d, want principal 900", payout)
	}
}

func TestResolve_Rejections(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 200)

	p := baseParams(mid(0x24))
	f.mustCreate(t, p, creator, 1000)
	f.mustCommit(t, p.ID, 0, 100, alice, 1000)
	f.mustCommit(t, p.ID, 1, 100, alice, 1000)

	if err := f.eng.Resolve(p.ID, 0, creator, 14599); !errors.Is(err, engine.ErrWrongState) {
		t.Errorf("before resolve time: got %v, want ErrWrongState", err)
	}
	if err := f.eng.Resolve(p.ID, 2, creator, 14600); !errors.Is(err, engine.ErrOutcomeOutOfRange) {
		t.Errorf("got %v, want ErrOutcomeOutOfRange", err)
	}
	if err := f.eng.Resolve(mid(0x77), 0, creator, 14600); !errors.Is(err, engine.ErrUnknownMarket) {
		t.Errorf("got %v, want ErrUnknownMarket", err)
	}
}

// ============================================================================
// Test: no-winners resolution
// ============================================================================

func TestResolve_NoWinnersRefunds(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 500)
	alice := f.fundedAccount(t, 100)

	p := baseParams(mid(0x25))
	p.BonusAmount = 500 // virtual funded outcome keeps the market resolvable
	p.TotalFeeRate = fixmath.Wad / 10
	f.mustCreate(t, p, creator, 1000)

	rid := f.mustCommit(t, p.ID, 1, 100, alice, 1000)

	// winning outcome 0 has zero commitments
	if err := f.eng.Resolve(p.ID, 0, creator, 14600); err != nil {
		t.Fatal(err)
	}

	st, _ := f.eng.Status(p.ID, 15000)
	if st != market.StatusRefundsNoWinners {
		t.Fatalf("status = %s, want RefundsNoWinners", st)
	}
	// bonus returned, no fees taken
	if got := f.custody.BalanceOf(creator, "USDC"); got != 500 {
		t.Errorf("creator balance = %d, want 500", got)
	}
	if got := f.custody.BalanceOf(f.treasury, "USDC"); got != 0 {
		t.Errorf("treasury = %d, want 0", got)
	}

	// losing-side holder reclaims 1:1
	refund, err := f.eng.ClaimRefunds(p.ID, []receipt.ID{rid}, alice, 15000)
	if err != nil {
		t.Fatal(err)
	}
	if refund != 100 {
		t.Errorf("refund = %d, want 100", refund)
	}
}

// ============================================================================
// Test: cancellation paths
// ============================================================================

func TestCancelUnresolvable(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 100)

	p := baseParams(mid(0x26))
	f.mustCreate(t, p, creator, 1000)
	rid := f.mustCommit(t, p.ID, 0, 100, alice, 1000)

	anyone := uuid.New()
	if err := f.eng.CancelUnresolvable(p.ID, anyone, 10999); !errors.Is(err, engine.ErrWrongState) {
		t.Errorf("before close: got %v, want ErrWrongState", err)
	}
	if err := f.eng.CancelUnresolvable(p.ID, anyone, 11000); err != nil {
		t.Fatalf("cancel at close: %v", err)
	}

	refund, err := f.eng.ClaimRefunds(p.ID, []receipt.ID{rid}, alice, 12000)
	if err != nil {
		t.Fatal(err)
	}
	if refund != 100 {
		t.Errorf("refund = %d, want 100", refund)
	}
}

// A lone bonus leaves the market unresolvable at close; cancellation
// returns it to the creator.
func TestCancelUnresolvable_RefundsBonus(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 200)

	p := baseParams(mid(0x36))
	p.BonusAmount = 200
	f.mustCreate(t, p, creator, 1000)

	if err := f.eng.CancelUnresolvable(p.ID, uuid.New(), 11000); err != nil {
		t.Fatal(err)
	}
	if got := f.custody.BalanceOf(creator, "USDC"); got != 200 {
		t.Errorf("creator = %d, want 200", got)
	}
}

func TestCancelFlagged_AdminOnly(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 200)

	p := baseParams(mid(0x27))
	f.mustCreate(t, p, creator, 1000)
	rid := f.mustCommit(t, p.ID, 0, 100, alice, 1000)
	f.mustCommit(t, p.ID, 1, 100, alice, 1000)

	if err := f.eng.CancelFlagged(p.ID, "spam", alice, 2000); !errors.Is(err, engine.ErrUnauthorized) {
		t.Errorf("non-admin: got %v, want ErrUnauthorized", err)
	}
	if err := f.eng.CancelFlagged(p.ID, "spam", f.admin, 2000); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	// double cancel: no longer Active
	if err := f.eng.CancelFlagged(p.ID, "again", f.admin, 2000); !errors.Is(err, engine.ErrWrongState) {
		t.Errorf("got %v, want ErrWrongState", err)
	}

	refund, err := f.eng.ClaimRefunds(p.ID, []receipt.ID{rid}, alice, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if refund != 100 {
		t.Errorf("refund = %d, want 100", refund)
	}
}

// ============================================================================
// Test: claim discipline
// ============================================================================

func TestClaims_IdempotentAndDuplicateCollapse(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 200)
	bob := f.fundedAccount(t, 100)

	p := baseParams(mid(0x28))
	f.mustCreate(t, p, creator, 1000)
	rid := f.mustCommit(t, p.ID, 0, 200, alice, 1000)
	f.mustCommit(t, p.ID, 1, 100, bob, 1000)

	if err := f.eng.Resolve(p.ID, 0, creator, 14600); err != nil {
		t.Fatal(err)
	}

	// the same id listed twice collapses: second burn yields zero
	payout, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{rid, rid}, alice, 15000)
	if err != nil {
		t.Fatal(err)
	}
	if payout != 300 {
		t.Errorf("payout = %d, want 300", payout)
	}

	// a second claim is a no-op, not an error
	payout, err = f.eng.ClaimPayouts(p.ID, []receipt.ID{rid}, alice, 15000)
	if err != nil {
		t.Fatal(err)
	}
	if payout != 0 {
		t.Errorf("second claim payout = %d, want 0", payout)
	}
}

func TestClaims_RejectForeignReceipts(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 300)

	pa := baseParams(mid(0x29))
	pb := baseParams(mid(0x2A))
	f.mustCreate(t, pa, creator, 1000)
	f.mustCreate(t, pb, creator, 1000)

	ridA := f.mustCommit(t, pa.ID, 0, 100, alice, 1000)
	f.mustCommit(t, pa.ID, 1, 100, alice, 1000)
	ridB := f.mustCommit(t, pb.ID, 0, 100, alice, 1000)

	if err := f.eng.Resolve(pa.ID, 0, creator, 14600); err != nil {
		t.Fatal(err)
	}

	_, err := f.eng.ClaimPayouts(pa.ID, []receipt.ID{ridA, ridB}, alice, 15000)
	if !errors.Is(err, engine.ErrReceiptMismatch) {
		t.Fatalf("got %v, want ErrReceiptMismatch", err)
	}
	// the whole batch aborts: nothing burned
	if got := f.eng.Balance(ridA, alice); got != 100 {
		t.Errorf("ridA balance = %d, want 100 (batch must abort atomically)", got)
	}
}

// A claim of only losing receipts pays nothing but still burns balances,
// and a burn must reach the log or replay cannot reproduce the ledger.
func TestClaimPayouts_LosingOnlyBurnStillEmits(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 100)
	bob := f.fundedAccount(t, 200)

	p := baseParams(mid(0x2B))
	f.mustCreate(t, p, creator, 1000)
	f.mustCommit(t, p.ID, 0, 100, alice, 1000)
	bobRid := f.mustCommit(t, p.ID, 1, 200, bob, 1000)

	if err := f.eng.Resolve(p.ID, 0, creator, 14600); err != nil {
		t.Fatal(err)
	}
	for len(f.persist) > 0 { // drain creation, commits, resolution
		<-f.persist
	}

	payout, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{bobRid}, bob, 15000)
	if err != nil {
		t.Fatal(err)
	}
	if payout != 0 {
		t.Errorf("payout = %d, want 0 for a losing receipt", payout)
	}
	if got := f.eng.Balance(bobRid, bob); got != 0 {
		t.Errorf("balance = %d, want 0 after burn", got)
	}

	if len(f.persist) != 1 {
		t.Fatalf("emitted %d events, want 1", len(f.persist))
	}
	out := <-f.persist
	if out.Envelope.Type != event.TypePayoutsClaimed {
		t.Fatalf("event type = %s, want PayoutsClaimed", out.Envelope.Type)
	}
	pay, ok := out.Envelope.Payload.(event.PayoutsClaimed)
	if !ok {
		t.Fatalf("payload type = %T, want PayoutsClaimed", out.Envelope.Payload)
	}
	if pay.Burned != 200 || pay.Principal != 0 || pay.Profit != 0 {
		t.Errorf("payload = %+v, want burned 200, principal 0, profit 0", pay)
	}

	// a repeat claim burns nothing, so it emits nothing
	if _, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{bobRid}, bob, 15000); err != nil {
		t.Fatal(err)
	}
	if len(f.persist) != 0 {
		t.Errorf("repeat claim emitted %d events, want 0", len(f.persist))
	}
}

// ============================================================================
// Test: conservation
// ============================================================================

// Every unit pulled in is eventually pushed back out: after a full
// resolve-and-claim cycle the sum over all accounts equals the initial
// funding.
func TestConservation_FullCycle(t *testing.T) {
	f := newFixture(t, fixmath.Wad/2)
	creator := f.fundedAccount(t, 500)
	alice := f.fundedAccount(t, 1000)
	bob := f.fundedAccount(t, 1000)
	beneficiary := uuid.New()

	p := baseParams(mid(0x2B))
	p.BonusAmount = 500
	p.TotalFeeRate = fixmath.Wad / 10
	f.mustCreate(t, p, creator, 1000)

	aliceRid := f.mustCommit(t, p.ID, 0, 700, alice, 1500)
	bobRid := f.mustCommit(t, p.ID, 1, 900, bob, 7000)

	if err := f.eng.Resolve(p.ID, 0, beneficiary, 14600); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{aliceRid}, alice, 15000); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{bobRid}, bob, 15000); err != nil {
		t.Fatal(err)
	}

	var total uint64
	for _, acct := range []uuid.UUID{creator, alice, bob, beneficiary, f.treasury} {
		total += f.custody.BalanceOf(acct, "USDC")
	}
	// initial funding was 2500; floor division may strand dust in the pool
	if total > 2500 {
		t.Fatalf("accounts hold %d, more than the 2500 put in", total)
	}
	if 2500-total > 2 {
		t.Fatalf("accounts hold %d, rounding dust exceeds 2", total)
	}
}

// ============================================================================
// Test: operational guards
// ============================================================================

func TestPaused_RejectsMutations(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)

	p := baseParams(mid(0x2C))
	f.mustCreate(t, p, creator, 1000)

	f.pauser.Pause()
	if err := f.eng.CreateMarket(baseParams(mid(0x2D)), creator, 1000); !errors.Is(err, engine.ErrPaused) {
		t.Errorf("got %v, want ErrPaused", err)
	}
	if _, err := f.eng.Commit(p.ID, 0, 100, nil, creator, 1000); !errors.Is(err, engine.ErrPaused) {
		t.Errorf("got %v, want ErrPaused", err)
	}

	f.pauser.Unpause()
	if _, err := f.eng.Commit(p.ID, 0, 100, nil, f.fundedAccount(t, 100), 1000); err != nil {
		t.Errorf("unpaused commit: %v", err)
	}
}

func TestEmittedSequenceIsGapless(t *testing.T) {
	f := newFixture(t, 0)
	creator := f.fundedAccount(t, 0)
	alice := f.fundedAccount(t, 300)

	p := baseParams(mid(0x2E))
	f.mustCreate(t, p, creator, 1000)
	rid := f.mustCommit(t, p.ID, 0, 100, alice, 1000)
	f.mustCommit(t, p.ID, 1, 100, alice, 2000)
	if err := f.eng.Resolve(p.ID, 0, creator, 14600); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.ClaimPayouts(p.ID, []receipt.ID{rid}, alice, 15000); err != nil {
		t.Fatal(err)
	}

	var prev int64
	for i := 0; i < 5; i++ {
		out := <-f.persist
		if out.Envelope.Sequence != prev+1 {
			t.Fatalf("sequence %d after %d, want gapless", out.Envelope.Sequence, prev)
		}
		prev = out.Envelope.Sequence
	}
}

// ============================================================================
// Test: re-entrancy rejection
// ============================================================================

type reentrantHook struct {
	eng *engine.Engine
	err error
}

func (h *reentrantHook) OnCreated(m *market.Market, now int64) error {
	// calling back into a mutating op from the effect phase must be
	// rejected, not deadlock
	h.err = h.eng.CancelFlagged(m.ID, "reenter", uuid.New(), now)
	return nil
}

func (h *reentrantHook) OnConcluded(m *market.Market, now int64) error { return nil }

func TestReentrantCallbackRejected(t *testing.T) {
	hook := &reentrantHook{}
	f := newFixture(t, 0, hook)
	hook.eng = f.eng

	f.mustCreate(t, baseParams(mid(0x2F)), f.fundedAccount(t, 0), 1000)

	if !errors.Is(hook.err, engine.ErrReentered) {
		t.Errorf("hook callback got %v, want ErrReentered", hook.err)
	}
}
