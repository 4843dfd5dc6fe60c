package event

import (
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
)

// Type discriminates domain event payloads.
type Type int32

const (
	TypeUnknown Type = iota

	// Settlement engine transitions.
	TypeMarketCreated
	TypeCommitmentMade
	TypeReceiptTransferred
	TypeMarketCancelledUnresolvable
	TypeMarketCancelledFlagged
	TypeMarketResolved
	TypeRefundsClaimed
	TypePayoutsClaimed

	// Dispute oracle transitions.
	TypeResultSet
	TypeResultConfirmed
	TypeResultChallenged
	TypeChallengeCancelled
	TypeResultFinalized
)

func (t Type) String() string {
	switch t {
	case TypeMarketCreated:
		return "MarketCreated"
	case TypeCommitmentMade:
		return "CommitmentMade"
	case TypeReceiptTransferred:
		return "ReceiptTransferred"
	case TypeMarketCancelledUnresolvable:
		return "MarketCancelledUnresolvable"
	case TypeMarketCancelledFlagged:
		return "MarketCancelledFlagged"
	case TypeMarketResolved:
		return "MarketResolved"
	case TypeRefundsClaimed:
		return "RefundsClaimed"
	case TypePayoutsClaimed:
		return "PayoutsClaimed"
	case TypeResultSet:
		return "ResultSet"
	case TypeResultConfirmed:
		return "ResultConfirmed"
	case TypeResultChallenged:
		return "ResultChallenged"
	case TypeChallengeCancelled:
		return "ChallengeCancelled"
	case TypeResultFinalized:
		return "ResultFinalized"
	default:
		return "Unknown"
	}
}

// Envelope wraps every domain event emitted by the engine and oracle.
// Together the envelopes carry enough data to reconstruct the full market
// history off-system.
type Envelope struct {
	// Sequence is the global monotonic sequence assigned at emission.
	Sequence int64 `json:"sequence"`

	Type Type `json:"event_type"`

	MarketID receipt.MarketID `json:"market_id"`

	// Actor is the account whose call produced the event; zero for
	// system-driven transitions.
	Actor uuid.UUID `json:"actor"`

	// Timestamp is the versioned input time of the call (unix seconds),
	// never wall-clock at emission.
	Timestamp int64 `json:"timestamp"`

	// Payload is the type-specific event body.
	Payload interface{} `json:"payload"`
}
