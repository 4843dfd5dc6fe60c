package event

import (
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
)

// MarketCreated records the full parameter snapshot at creation.
type MarketCreated struct {
	Creator         uuid.UUID `json:"creator"`
	OpenTime        int64     `json:"open_time"`
	CloseTime       int64     `json:"close_time"`
	ResolveTime     int64     `json:"resolve_time"`
	BetaOpen        uint64    `json:"beta_open"`
	TotalFeeRate    uint64    `json:"total_fee_rate"`
	ProtocolFeeRate uint64    `json:"protocol_fee_rate"`
	OutcomeCount    uint8     `json:"outcome_count"`
	Asset           string    `json:"asset"`
	BonusAmount     uint64    `json:"bonus_amount"`
	MinCommit       uint64    `json:"min_commit"`
	MaxCommit       uint64    `json:"max_commit"`
}

type CommitmentMade struct {
	Holder    uuid.UUID  `json:"holder"`
	Outcome   uint8      `json:"outcome"`
	Amount    uint64     `json:"amount"`
	Bucket    uint32     `json:"bucket"`
	Beta      uint64     `json:"beta"`
	ReceiptID receipt.ID `json:"receipt_id"`
}

type ReceiptTransferred struct {
	ReceiptID receipt.ID `json:"receipt_id"`
	From      uuid.UUID  `json:"from"`
	To        uuid.UUID  `json:"to"`
	Amount    uint64     `json:"amount"`
}

// MarketCancelled covers both cancellation kinds; the envelope type
// distinguishes them. Reason is only set for flagged cancellations.
type MarketCancelled struct {
	Reason         string `json:"reason,omitempty"`
	BonusRefunded  uint64 `json:"bonus_refunded"`
	FundedOutcomes uint16 `json:"funded_outcomes"`
}

// MarketResolved records the complete fee split so downstream consumers
// can audit conservation without replaying state.
type MarketResolved struct {
	Winning        uint8     `json:"winning"`
	TotalPool      uint64    `json:"total_pool"`
	WinningTotal   uint64    `json:"winning_total"`
	TotalFee       uint64    `json:"total_fee"`
	ProtocolFee    uint64    `json:"protocol_fee"`
	CreatorFee     uint64    `json:"creator_fee"`
	WinnerProfit   uint64    `json:"winner_profit"`
	FeeBeneficiary uuid.UUID `json:"fee_beneficiary"`
	NoWinners      bool      `json:"no_winners"`
}

type RefundsClaimed struct {
	Holder   uuid.UUID    `json:"holder"`
	Receipts []receipt.ID `json:"receipts"`
	Amount   uint64       `json:"amount"`
}

// PayoutsClaimed records every burned balance, not only the paid ones:
// losing receipts burn with zero payout and replay needs those burns.
type PayoutsClaimed struct {
	Holder    uuid.UUID    `json:"holder"`
	Receipts  []receipt.ID `json:"receipts"`
	Burned    uint64       `json:"burned"`
	Principal uint64       `json:"principal"`
	Profit    uint64       `json:"profit"`
}

// ResultSet: the creator self-reported an outcome, opening the challenge
// window.
type ResultSet struct {
	Outcome           uint8 `json:"outcome"`
	ChallengeDeadline int64 `json:"challenge_deadline"`
}

// ResultConfirmed: the challenge window lapsed with no challenge.
type ResultConfirmed struct {
	Outcome uint8 `json:"outcome"`
}

type ResultChallenged struct {
	Challenger       uuid.UUID `json:"challenger"`
	ChallengeOutcome uint8     `json:"challenge_outcome"`
	Bond             uint64    `json:"bond"`
}

// ChallengeCancelled: the market was cancelled-as-flagged while a
// challenge was pending; the bond goes back to the challenger.
type ChallengeCancelled struct {
	Challenger   uuid.UUID `json:"challenger"`
	BondRefunded uint64    `json:"bond_refunded"`
}

// ResultFinalized: operator adjudication, either of an actual challenge or
// of a creator that never reported.
type ResultFinalized struct {
	Outcome        uint8     `json:"outcome"`
	CreatorDefault bool      `json:"creator_default"`
	BondTo         uuid.UUID `json:"bond_to,omitempty"`
	FeeBeneficiary uuid.UUID `json:"fee_beneficiary"`
}
