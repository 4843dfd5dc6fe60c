package query

import (
	"sort"
	"time"

	"ForecastPool/internal/engine"
	"ForecastPool/internal/oracle"
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
)

// Service composes read-only views over the settlement engine and the
// dispute oracle. All views observe at a caller-independent clock so a
// test can pin time.
type Service struct {
	engine *engine.Engine
	oracle *oracle.Oracle
	clock  func() int64
}

func NewService(e *engine.Engine, o *oracle.Oracle) *Service {
	return &Service{
		engine: e,
		oracle: o,
		clock:  func() int64 { return time.Now().Unix() },
	}
}

// WithClock replaces the observation clock.
func (s *Service) WithClock(clock func() int64) *Service {
	s.clock = clock
	return s
}

// ResolutionView is the oracle record shaped for responses.
type ResolutionView struct {
	State             string    `json:"state"`
	Outcome           uint8     `json:"outcome"`
	SetBy             uuid.UUID `json:"set_by,omitempty"`
	SetAt             int64     `json:"set_at,omitempty"`
	ChallengeDeadline int64     `json:"challenge_deadline,omitempty"`
	Challenger        uuid.UUID `json:"challenger,omitempty"`
	ChallengeOutcome  uint8     `json:"challenge_outcome,omitempty"`
	Bond              uint64    `json:"bond,omitempty"`
}

// MarketResponse bundles the market snapshot with its resolution record.
type MarketResponse struct {
	Market     engine.MarketView `json:"market"`
	StatusName string            `json:"status_name"`
	Resolution *ResolutionView   `json:"resolution,omitempty"`
}

// Market returns the full view of one market.
func (s *Service) Market(id receipt.MarketID) (MarketResponse, error) {
	now := s.clock()
	info, err := s.engine.Info(id, now)
	if err != nil {
		return MarketResponse{}, err
	}

	resp := MarketResponse{
		Market:     info,
		StatusName: info.Status.String(),
	}
	if r, ok := s.oracle.Resolution(id); ok {
		resp.Resolution = &ResolutionView{
			State:             r.State.String(),
			Outcome:           r.Outcome,
			SetBy:             r.SetBy,
			SetAt:             r.SetAt,
			ChallengeDeadline: r.ChallengeDeadline,
			Challenger:        r.Challenger,
			ChallengeOutcome:  r.ChallengeOutcome,
			Bond:              r.Bond,
		}
	}
	return resp, nil
}

// Markets lists all market ids in stable order.
func (s *Service) Markets() []string {
	ids := s.engine.MarketIDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	sort.Strings(out)
	return out
}

// Balance returns one holder's unburned balance on a receipt.
func (s *Service) Balance(id receipt.ID, holder uuid.UUID) uint64 {
	return s.engine.Balance(id, holder)
}

// Outstanding sums a market's unburned receipt balances.
func (s *Service) Outstanding(id receipt.MarketID) (uint64, error) {
	return s.engine.Outstanding(id)
}

// Sequence reports the engine's last event sequence.
func (s *Service) Sequence() int64 {
	return s.engine.Sequence()
}
