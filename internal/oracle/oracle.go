package oracle

import (
	"errors"
	"fmt"
	"sync"

	"ForecastPool/internal/engine"
	"ForecastPool/internal/event"
	"ForecastPool/internal/market"
	"ForecastPool/internal/observability"
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the per-market resolution state.
type State uint8

const (
	StateNone State = iota
	StateSet
	StateChallenged
	StateChallengeCancelled
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateSet:
		return "Set"
	case StateChallenged:
		return "Challenged"
	case StateChallengeCancelled:
		return "ChallengeCancelled"
	case StateComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// validTransitions encodes the resolution protocol. ChallengeCancelled is
// the void terminal: a Set or Challenged resolution lands there when the
// market is cancelled out from under it. It is reachable only through the
// market-conclusion hook, never by a direct oracle call.
var validTransitions = map[State][]State{
	StateNone:       {StateSet, StateComplete},
	StateSet:        {StateChallenged, StateComplete, StateChallengeCancelled},
	StateChallenged: {StateComplete, StateChallengeCancelled},
}

// CanTransitionTo reports whether the protocol permits moving to next.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

var ErrSameOutcome = errors.New("oracle: challenge outcome equals set outcome")

// Resolution is the oracle's record for one market. Market facts needed
// after the set step (outcome count, payment asset) are captured here so
// later transitions never re-enter the engine for them.
type Resolution struct {
	MarketID receipt.MarketID
	State    State

	Outcome           uint8
	OutcomeCount      uint8
	Asset             string
	SetBy             uuid.UUID
	SetAt             int64
	ChallengeDeadline int64

	Challenger       uuid.UUID
	ChallengeOutcome uint8
	Bond             uint64
}

// Settler is the settlement engine surface the oracle drives. Satisfied by
// *engine.Engine.
type Settler interface {
	Resolve(id receipt.MarketID, winning uint8, feeBeneficiary uuid.UUID, now int64) error
	Info(id receipt.MarketID, now int64) (engine.MarketView, error)
	Emit(t event.Type, id receipt.MarketID, actor uuid.UUID, now int64, payload interface{}) error
	EmitFromHook(t event.Type, id receipt.MarketID, actor uuid.UUID, now int64, payload interface{})
}

type Config struct {
	Policy     market.Policy
	BondAmount uint64 // fixed challenge bond, in the market's asset
	Settler    Settler
	Custody    engine.Custody
	Access     engine.AccessControl
	Treasury   uuid.UUID
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// Oracle determines each market's canonical outcome: creator self-report,
// public bonded challenge, operator adjudication of the unhappy paths.
// It is the only caller of the engine's resolve step.
//
// Lock ordering: the oracle never holds its own lock while calling into
// the engine. The engine's conclusion hook calls back into the oracle with
// the engine lock held, so the reverse order would deadlock.
type Oracle struct {
	mu          sync.Mutex
	resolutions map[receipt.MarketID]*Resolution

	policy     market.Policy
	bondAmount uint64
	settler    Settler
	custody    engine.Custody
	access     engine.AccessControl
	treasury   uuid.UUID
	metrics    *observability.Metrics
	log        zerolog.Logger
}

var _ engine.Hook = (*Oracle)(nil)

func New(cfg Config) *Oracle {
	return &Oracle{
		resolutions: make(map[receipt.MarketID]*Resolution),
		policy:      cfg.Policy,
		bondAmount:  cfg.BondAmount,
		settler:     cfg.Settler,
		custody:     cfg.Custody,
		access:      cfg.Access,
		treasury:    cfg.Treasury,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
	}
}

// Resolution returns a copy of the record for one market.
func (o *Oracle) Resolution(id receipt.MarketID) (Resolution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.resolutions[id]
	if !ok {
		return Resolution{}, false
	}
	return *r, true
}

func (o *Oracle) transition(r *Resolution, next State, label string) {
	if !r.State.CanTransitionTo(next) {
		panic(fmt.Sprintf("FATAL: resolution %s transition %s -> %s not permitted", r.MarketID, r.State, next))
	}
	r.State = next
	if o.metrics != nil {
		o.metrics.OracleTransitions.WithLabelValues(label).Inc()
	}
}

// SetResult records the creator's self-reported outcome and opens the
// challenge window. Only the creator, only while the market is resolvable
// and the set window has not lapsed.
func (o *Oracle) SetResult(id receipt.MarketID, outcome uint8, caller uuid.UUID, now int64) error {
	info, err := o.settler.Info(id, now)
	if err != nil {
		return err
	}
	if info.Status != market.StatusResolvableNow {
		return fmt.Errorf("%w: %s", engine.ErrWrongState, info.Status)
	}
	if caller != info.Creator {
		return fmt.Errorf("%w: only the creator may set a result", engine.ErrUnauthorized)
	}
	if setDeadline := info.ResolveTime + o.policy.SetWindow; now > setDeadline {
		return fmt.Errorf("%w: now %d past set deadline %d", engine.ErrTooLate, now, setDeadline)
	}
	if outcome >= info.OutcomeCount {
		return fmt.Errorf("%w: %d of %d", engine.ErrOutcomeOutOfRange, outcome, info.OutcomeCount)
	}

	deadline := now + o.policy.ChallengeWindow

	o.mu.Lock()
	if r, ok := o.resolutions[id]; ok && r.State != StateNone {
		o.mu.Unlock()
		return fmt.Errorf("%w: resolution already %s", engine.ErrWrongState, r.State)
	}
	r := &Resolution{
		MarketID:          id,
		Outcome:           outcome,
		OutcomeCount:      info.OutcomeCount,
		Asset:             info.Asset,
		SetBy:             caller,
		SetAt:             now,
		ChallengeDeadline: deadline,
	}
	o.transition(r, StateSet, "set")
	o.resolutions[id] = r
	o.mu.Unlock()

	o.log.Info().Str("market", id.String()).Uint8("outcome", outcome).
		Int64("challenge_deadline", deadline).Msg("result set by creator")
	return o.settler.Emit(event.TypeResultSet, id, caller, now, event.ResultSet{
		Outcome:           outcome,
		ChallengeDeadline: deadline,
	})
}

// ChallengeSetResult disputes a set result with a different outcome,
// posting the fixed bond. Only while the challenge window is open and the
// market itself is still resolvable: a market cancelled after the set step
// can never reach finalization, so a bond posted against it would have no
// recovery path.
func (o *Oracle) ChallengeSetResult(id receipt.MarketID, challengeOutcome uint8, caller uuid.UUID, now int64) error {
	info, err := o.settler.Info(id, now)
	if err != nil {
		return err
	}
	if info.Status != market.StatusResolvableNow {
		return fmt.Errorf("%w: %s", engine.ErrWrongState, info.Status)
	}

	o.mu.Lock()
	r, ok := o.resolutions[id]
	if !ok || r.State != StateSet {
		state := StateNone
		if ok {
			state = r.State
		}
		o.mu.Unlock()
		return fmt.Errorf("%w: resolution %s", engine.ErrWrongState, state)
	}
	if now > r.ChallengeDeadline {
		o.mu.Unlock()
		return fmt.Errorf("%w: now %d past challenge deadline %d", engine.ErrTooLate, now, r.ChallengeDeadline)
	}
	if challengeOutcome >= r.OutcomeCount {
		o.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", engine.ErrOutcomeOutOfRange, challengeOutcome, r.OutcomeCount)
	}
	if challengeOutcome == r.Outcome {
		o.mu.Unlock()
		return ErrSameOutcome
	}

	if err := o.custody.Pull(caller, r.Asset, o.bondAmount); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("pull challenge bond: %w", err)
	}

	r.Challenger = caller
	r.ChallengeOutcome = challengeOutcome
	r.Bond = o.bondAmount
	o.transition(r, StateChallenged, "challenged")
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.OracleBondsPosted.Inc()
	}
	o.log.Info().Str("market", id.String()).Uint8("challenge_outcome", challengeOutcome).
		Uint64("bond", o.bondAmount).Msg("set result challenged")
	return o.settler.Emit(event.TypeResultChallenged, id, caller, now, event.ResultChallenged{
		Challenger:       caller,
		ChallengeOutcome: challengeOutcome,
		Bond:             o.bondAmount,
	})
}

// ConfirmUnchallenged finalizes a set result once the challenge window
// lapses with no challenge. Anyone may call: the outcome is already fixed
// and the creator keeps the fee.
func (o *Oracle) ConfirmUnchallenged(id receipt.MarketID, caller uuid.UUID, now int64) error {
	o.mu.Lock()
	r, ok := o.resolutions[id]
	if !ok || r.State != StateSet {
		state := StateNone
		if ok {
			state = r.State
		}
		o.mu.Unlock()
		return fmt.Errorf("%w: resolution %s", engine.ErrWrongState, state)
	}
	if now <= r.ChallengeDeadline {
		o.mu.Unlock()
		return fmt.Errorf("%w: challenge window open until %d", engine.ErrTooEarly, r.ChallengeDeadline)
	}
	o.transition(r, StateComplete, "confirmed")
	outcome, creator := r.Outcome, r.SetBy
	o.mu.Unlock()

	if err := o.settler.Resolve(id, outcome, creator, now); err != nil {
		o.mu.Lock()
		r.State = StateSet
		o.mu.Unlock()
		return err
	}
	return o.settler.Emit(event.TypeResultConfirmed, id, caller, now, event.ResultConfirmed{
		Outcome: outcome,
	})
}

// FinalizeUnset adjudicates a market whose creator never reported. The
// creator forfeits the fee for non-response: the protocol treasury is the
// fee beneficiary. Operator-only, and only after the set window lapses.
func (o *Oracle) FinalizeUnset(id receipt.MarketID, outcome uint8, caller uuid.UUID, now int64) error {
	if o.access == nil || !o.access.HasRole(caller, engine.RoleOperator) {
		return fmt.Errorf("%w: %s requires %s", engine.ErrUnauthorized, caller, engine.RoleOperator)
	}
	info, err := o.settler.Info(id, now)
	if err != nil {
		return err
	}
	if info.Status != market.StatusResolvableNow {
		return fmt.Errorf("%w: %s", engine.ErrWrongState, info.Status)
	}
	if setDeadline := info.ResolveTime + o.policy.SetWindow; now <= setDeadline {
		return fmt.Errorf("%w: creator may still set until %d", engine.ErrTooEarly, setDeadline)
	}
	if outcome >= info.OutcomeCount {
		return fmt.Errorf("%w: %d of %d", engine.ErrOutcomeOutOfRange, outcome, info.OutcomeCount)
	}

	o.mu.Lock()
	if r, ok := o.resolutions[id]; ok && r.State != StateNone {
		o.mu.Unlock()
		return fmt.Errorf("%w: resolution already %s", engine.ErrWrongState, r.State)
	}
	r := &Resolution{
		MarketID:     id,
		Outcome:      outcome,
		OutcomeCount: info.OutcomeCount,
		Asset:        info.Asset,
	}
	o.transition(r, StateComplete, "finalized_unset")
	o.resolutions[id] = r
	o.mu.Unlock()

	if err := o.settler.Resolve(id, outcome, o.treasury, now); err != nil {
		o.mu.Lock()
		delete(o.resolutions, id)
		o.mu.Unlock()
		return err
	}
	o.log.Warn().Str("market", id.String()).Uint8("outcome", outcome).
		Msg("result finalized by operator: creator never reported")
	return o.settler.Emit(event.TypeResultFinalized, id, caller, now, event.ResultFinalized{
		Outcome:        outcome,
		CreatorDefault: true,
		FeeBeneficiary: o.treasury,
	})
}

// FinalizeChallenge adjudicates a pending challenge. The bond and the
// creator fee follow who was right: a vindicated creator keeps the fee
// and the bond is forfeited to the protocol; a vindicated challenger gets
// the bond back and the protocol takes the fee; if the operator finds a
// third outcome, both go to the protocol.
func (o *Oracle) FinalizeChallenge(id receipt.MarketID, finalOutcome uint8, caller uuid.UUID, now int64) error {
	if o.access == nil || !o.access.HasRole(caller, engine.RoleOperator) {
		return fmt.Errorf("%w: %s requires %s", engine.ErrUnauthorized, caller, engine.RoleOperator)
	}

	o.mu.Lock()
	r, ok := o.resolutions[id]
	if !ok || r.State != StateChallenged {
		state := StateNone
		if ok {
			state = r.State
		}
		o.mu.Unlock()
		return fmt.Errorf("%w: resolution %s", engine.ErrWrongState, state)
	}
	if finalOutcome >= r.OutcomeCount {
		o.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", engine.ErrOutcomeOutOfRange, finalOutcome, r.OutcomeCount)
	}

	var bondTo, feeBeneficiary uuid.UUID
	switch finalOutcome {
	case r.Outcome:
		bondTo, feeBeneficiary = o.treasury, r.SetBy
	case r.ChallengeOutcome:
		bondTo, feeBeneficiary = r.Challenger, o.treasury
	default:
		bondTo, feeBeneficiary = o.treasury, o.treasury
	}
	o.transition(r, StateComplete, "finalized_challenge")
	asset, bond := r.Asset, r.Bond
	o.mu.Unlock()

	if err := o.settler.Resolve(id, finalOutcome, feeBeneficiary, now); err != nil {
		o.mu.Lock()
		r.State = StateChallenged
		o.mu.Unlock()
		return err
	}
	if err := o.custody.Push(bondTo, asset, bond); err != nil {
		panic(fmt.Sprintf("FATAL: bond payment failed after resolution of %s: %v", id, err))
	}
	o.log.Info().Str("market", id.String()).Uint8("final_outcome", finalOutcome).
		Str("bond_to", bondTo.String()).Msg("challenge finalized")
	return o.settler.Emit(event.TypeResultFinalized, id, caller, now, event.ResultFinalized{
		Outcome:        finalOutcome,
		BondTo:         bondTo,
		FeeBeneficiary: feeBeneficiary,
	})
}

// OnCreated implements engine.Hook. Creation needs nothing from the oracle.
func (o *Oracle) OnCreated(m *market.Market, now int64) error {
	return nil
}

// OnConcluded implements engine.Hook. Cancelling a market as flagged voids
// any non-terminal resolution: a pending challenge refunds its bond, and a
// bare Set record is closed so no late challenge can land against the dead
// market.
func (o *Oracle) OnConcluded(m *market.Market, now int64) error {
	if m.Tag != market.TagRefundsFlagged {
		return nil
	}

	o.mu.Lock()
	r, ok := o.resolutions[m.ID]
	if !ok || (r.State != StateSet && r.State != StateChallenged) {
		o.mu.Unlock()
		return nil
	}
	prev := r.State
	label := "challenge_cancelled"
	if prev == StateSet {
		label = "set_voided"
	}
	o.transition(r, StateChallengeCancelled, label)
	challenger, bond := r.Challenger, r.Bond
	o.mu.Unlock()

	if prev == StateSet {
		// No bond at stake yet; voiding the record is the whole job.
		o.log.Info().Str("market", m.ID.String()).Msg("set result voided: market flagged")
		return nil
	}

	if err := o.custody.Push(challenger, m.Asset, bond); err != nil {
		panic(fmt.Sprintf("FATAL: bond refund failed for cancelled market %s: %v", m.ID, err))
	}
	o.settler.EmitFromHook(event.TypeChallengeCancelled, m.ID, challenger, now, event.ChallengeCancelled{
		Challenger:   challenger,
		BondRefunded: bond,
	})
	return nil
}
