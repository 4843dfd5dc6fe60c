package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"ForecastPool/internal/fixmath"
	"ForecastPool/internal/market"
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient receipt balance")
	ErrZeroAmount          = errors.New("ledger: amount must be positive")
)

// Key identifies one receipt balance: (composite receipt id, holder).
type Key struct {
	Receipt receipt.ID
	Holder  uuid.UUID
}

// Book is the in-memory commitment ledger. Receipts are minted on commit,
// moved on transfer and burned on claim. The Book itself is state-agnostic:
// transfer eligibility is gated by the settlement engine against the
// market's derived status.
type Book struct {
	balances map[Key]uint64
}

func NewBook() *Book {
	return &Book{
		balances: make(map[Key]uint64),
	}
}

// MintCommitment records a commitment: it coarsens now into the time
// bucket, mints amount of the corresponding receipt to the holder, and
// folds the amount into the market's per-outcome totals.
//
// Totals effects: amount += x, weighted += beta(bucket)·x, and the funded
// outcome count increments when this outcome's amount transitions from
// zero.
func (b *Book) MintCommitment(
	m *market.Market,
	holder uuid.UUID,
	outcome uint8,
	amount uint64,
	now int64,
) (receipt.ID, error) {
	if amount == 0 {
		return receipt.ID{}, ErrZeroAmount
	}

	bucket := m.Bucket(now)
	id := receipt.Encode(m.ID, outcome, bucket)

	totals := &m.Totals[outcome]
	newAmount, err := fixmath.AddChecked(totals.Amount, amount)
	if err != nil {
		return receipt.ID{}, fmt.Errorf("outcome %d total: %w", outcome, err)
	}

	key := Key{Receipt: id, Holder: holder}
	newBalance, err := fixmath.AddChecked(b.balances[key], amount)
	if err != nil {
		return receipt.ID{}, fmt.Errorf("receipt %s balance: %w", id, err)
	}

	if totals.Amount == 0 {
		m.FundedOutcomes++
	}
	totals.Amount = newAmount
	totals.Weighted.Add(totals.Weighted, fixmath.Mul(amount, m.Beta(int64(bucket))))
	b.balances[key] = newBalance

	return id, nil
}

// Move transfers amount of a receipt between holders. The caller is
// responsible for checking the market is in a transferable state.
func (b *Book) Move(id receipt.ID, from, to uuid.UUID, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	fromKey := Key{Receipt: id, Holder: from}
	if b.balances[fromKey] < amount {
		return fmt.Errorf("%w: have %d, want %d", ErrInsufficientBalance, b.balances[fromKey], amount)
	}

	toKey := Key{Receipt: id, Holder: to}
	newTo, err := fixmath.AddChecked(b.balances[toKey], amount)
	if err != nil {
		return err
	}

	b.balances[fromKey] -= amount
	if b.balances[fromKey] == 0 {
		delete(b.balances, fromKey)
	}
	b.balances[toKey] = newTo
	return nil
}

// BurnAll burns the holder's full balance of a receipt and returns the
// burned amount. Burning an already-empty balance returns zero, so claims
// are idempotent by construction.
func (b *Book) BurnAll(id receipt.ID, holder uuid.UUID) uint64 {
	key := Key{Receipt: id, Holder: holder}
	amount := b.balances[key]
	delete(b.balances, key)
	return amount
}

// Balance returns the holder's balance for a receipt id.
func (b *Book) Balance(id receipt.ID, holder uuid.UUID) uint64 {
	return b.balances[Key{Receipt: id, Holder: holder}]
}

// OutstandingForMarket sums all unburned receipt balances for a market.
// Used by the conservation check: custody must hold at least this much
// (plus bonus and unpaid profit) for the market's asset.
func (b *Book) OutstandingForMarket(id receipt.MarketID) uint64 {
	var total uint64
	for key, bal := range b.balances {
		if key.Receipt.Market() == id {
			total += bal
		}
	}
	return total
}

// WeightedBalance returns balance·beta(bucket) for one holding, Wad-scaled.
func WeightedBalance(m *market.Market, id receipt.ID, balance uint64) *big.Int {
	return fixmath.Mul(balance, m.Beta(int64(id.Bucket())))
}

// Snapshot returns a copy of all balances.
func (b *Book) Snapshot() map[Key]uint64 {
	snapshot := make(map[Key]uint64, len(b.balances))
	for k, v := range b.balances {
		snapshot[k] = v
	}
	return snapshot
}
