package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ForecastPool/internal/event"
	"ForecastPool/internal/fixmath"
	"ForecastPool/internal/ledger"
	"ForecastPool/internal/market"
	"ForecastPool/internal/observability"
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Output carries one emitted domain event to the persistence and publish
// workers. The persist channel uses BLOCKING sends (backpressure, no event
// lost); the publish channel uses non-blocking sends with drop counting,
// since downstream consumers can rebuild from the event log.
type Output struct {
	Envelope event.Envelope
}

// Config assembles an Engine.
type Config struct {
	Policy          market.Policy
	Custody         Custody
	Access          AccessControl
	Pauser          Pauser
	Allowlist       Allowlist
	Hooks           []Hook
	Treasury        uuid.UUID // protocol fee and forfeited-bond beneficiary
	ProtocolFeeRate uint64    // Wad-scaled current rate, frozen per market at creation

	PersistChan chan<- Output
	PublishChan chan<- Output
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

// Engine is the settlement engine: it orchestrates market creation,
// commitments, cancellation, resolution and claims over the commitment
// ledger.
//
// Every operation runs under one mutual-exclusion domain and is split into
// explicit phases: a pure decide phase computing all mutations, a commit
// phase applying state, and an effect phase performing outbound transfers,
// hooks and event emission only after commit. The engine never reads the
// wall clock: now is a versioned input on every call.
type Engine struct {
	mu        sync.Mutex
	effecting atomic.Bool

	policy    market.Policy
	markets   map[receipt.MarketID]*market.Market
	book      *ledger.Book
	custody   Custody
	access    AccessControl
	pauser    Pauser
	allowlist Allowlist
	hooks     []Hook

	treasury        uuid.UUID
	protocolFeeRate uint64

	sequence    int64
	persistChan chan<- Output
	publishChan chan<- Output
	metrics     *observability.Metrics
	log         zerolog.Logger
}

func New(cfg Config) *Engine {
	return &Engine{
		policy:          cfg.Policy,
		markets:         make(map[receipt.MarketID]*market.Market),
		book:            ledger.NewBook(),
		custody:         cfg.Custody,
		access:          cfg.Access,
		pauser:          cfg.Pauser,
		allowlist:       cfg.Allowlist,
		hooks:           cfg.Hooks,
		treasury:        cfg.Treasury,
		protocolFeeRate: cfg.ProtocolFeeRate,
		persistChan:     cfg.PersistChan,
		publishChan:     cfg.PublishChan,
		metrics:         cfg.Metrics,
		log:             cfg.Logger,
	}
}

// AppendHooks registers additional lifecycle hooks. Must be called during
// assembly, before the engine processes operations.
func (e *Engine) AppendHooks(hooks ...Hook) {
	e.hooks = append(e.hooks, hooks...)
}

// guard performs the checks common to every mutating call. The effecting
// flag is only ever set while the engine lock is held, so a true reading
// means a callback from the effect phase is re-entering: reject it instead
// of deadlocking.
func (e *Engine) guard() error {
	if e.effecting.Load() {
		return ErrReentered
	}
	if e.pauser != nil && e.pauser.Paused() {
		return ErrPaused
	}
	return nil
}

// emit assigns a sequence and sends the envelope to both output channels.
// Runs in the effect phase, with the engine lock held.
func (e *Engine) emit(t event.Type, id receipt.MarketID, actor uuid.UUID, now int64, payload interface{}) {
	e.sequence++
	out := Output{Envelope: event.Envelope{
		Sequence:  e.sequence,
		Type:      t,
		MarketID:  id,
		Actor:     actor,
		Timestamp: now,
		Payload:   payload,
	}}

	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
}

func (e *Engine) reject(op string, err error) error {
	if e.metrics != nil {
		e.metrics.EngineOpsRejected.WithLabelValues(op, rejectionGroup(err)).Inc()
	}
	return err
}

func (e *Engine) applied(op string) {
	if e.metrics != nil {
		e.metrics.EngineOpsApplied.WithLabelValues(op).Inc()
	}
}

// timeOp returns a deferred observer for the operation's wall time,
// covering lock wait, decide, commit and effects.
func (e *Engine) timeOp(op string) func() {
	if e.metrics == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		e.metrics.EngineOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// CreateMarket validates params, pulls the bonus from the creator and
// records a new Active market, freezing the current protocol fee rate.
// Creation hooks run last, after the state commit; if any hook fails the
// creation is rolled back and the aggregated failure returned.
func (e *Engine) CreateMarket(p market.Params, creator uuid.UUID, now int64) error {
	const op = "create"
	defer e.timeOp(op)()
	if err := e.guard(); err != nil {
		return e.reject(op, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := p.Validate(e.policy); err != nil {
		return e.reject(op, err)
	}
	if _, exists := e.markets[p.ID]; exists {
		return e.reject(op, fmt.Errorf("%w: %s", ErrDuplicateID, p.ID))
	}
	if e.allowlist != nil && !e.allowlist.IsAllowed(p.Asset) {
		return e.reject(op, fmt.Errorf("%w: %s", ErrAssetNotAllowed, p.Asset))
	}
	if deadline := p.CreationDeadline(e.policy); now > deadline {
		return e.reject(op, fmt.Errorf("%w: now %d past creation deadline %d", ErrTooLate, now, deadline))
	}

	// The bonus seeds the pool and counts as one virtual funded outcome,
	// so a lone bonus never makes a single-real-outcome market resolvable.
	if p.BonusAmount > 0 {
		if err := e.custody.Pull(creator, p.Asset, p.BonusAmount); err != nil {
			return e.reject(op, fmt.Errorf("pull bonus: %w", err))
		}
	}

	m := market.New(p, creator, e.protocolFeeRate)
	e.markets[p.ID] = m

	e.effecting.Store(true)
	defer e.effecting.Store(false)

	if errs := runHooks(e.hooks, m, now, true); len(errs) > 0 {
		// Roll the creation back: hooks gate creation (e.g. quota
		// exhaustion) even though they observe committed state.
		delete(e.markets, p.ID)
		if p.BonusAmount > 0 {
			if pushErr := e.custody.Push(creator, p.Asset, p.BonusAmount); pushErr != nil {
				panic(fmt.Sprintf("FATAL: bonus refund failed during creation rollback of %s: %v", p.ID, pushErr))
			}
		}
		return e.reject(op, fmt.Errorf("creation hooks failed: %v", errs))
	}

	e.emit(event.TypeMarketCreated, p.ID, creator, now, event.MarketCreated{
		Creator:         creator,
		OpenTime:        p.OpenTime,
		CloseTime:       p.CloseTime,
		ResolveTime:     p.ResolveTime,
		BetaOpen:        p.BetaOpen,
		TotalFeeRate:    p.TotalFeeRate,
		ProtocolFeeRate: m.ProtocolFeeRate,
		OutcomeCount:    p.OutcomeCount,
		Asset:           p.Asset,
		BonusAmount:     p.BonusAmount,
		MinCommit:       m.MinCommit,
		MaxCommit:       m.MaxCommit,
	})

	e.applied(op)
	if e.metrics != nil {
		e.metrics.MarketsCreated.Inc()
	}
	e.log.Info().Str("market", p.ID.String()).Str("asset", p.Asset).
		Uint8("outcomes", p.OutcomeCount).Msg("market created")
	return nil
}

// Commit pledges amount to one outcome of an open market, minting a
// transferable receipt to the caller. An optional caller deadline bounds
// submission delay.
func (e *Engine) Commit(
	id receipt.MarketID,
	outcome uint8,
	amount uint64,
	deadline *int64,
	caller uuid.UUID,
	now int64,
) (receipt.ID, error) {
	const op = "commit"
	defer e.timeOp(op)()
	if err := e.guard(); err != nil {
		return receipt.ID{}, e.reject(op, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.markets[id]
	if !ok {
		return receipt.ID{}, e.reject(op, fmt.Errorf("%w: %s", ErrUnknownMarket, id))
	}
	if deadline != nil && now > *deadline {
		return receipt.ID{}, e.reject(op, fmt.Errorf("%w: now %d past %d", ErrDeadlineExceeded, now, *deadline))
	}
	if st := m.Status(now); !st.AcceptingCommitments() {
		return receipt.ID{}, e.reject(op, fmt.Errorf("%w: %s", ErrWrongState, st))
	}
	if outcome >= m.OutcomeCount {
		return receipt.ID{}, e.reject(op, fmt.Errorf("%w: %d of %d", ErrOutcomeOutOfRange, outcome, m.OutcomeCount))
	}
	if amount < m.MinCommit || (m.MaxCommit > 0 && amount > m.MaxCommit) {
		return receipt.ID{}, e.reject(op, fmt.Errorf("%w: %d not in [%d,%d]", ErrAmountOutOfRange, amount, m.MinCommit, m.MaxCommit))
	}
	// Decide: prove the totals cannot overflow before pulling funds.
	if _, err := fixmath.AddChecked(m.Totals[outcome].Amount, amount); err != nil {
		return receipt.ID{}, e.reject(op, fmt.Errorf("%w: outcome total overflow", ErrAmountOutOfRange))
	}

	if err := e.custody.Pull(caller, m.Asset, amount); err != nil {
		return receipt.ID{}, e.reject(op, fmt.Errorf("pull commitment: %w", err))
	}

	rid, err := e.book.MintCommitment(m, caller, outcome, amount, now)
	if err != nil {
		// Overflow was pre-checked; a failure here is a logic defect.
		panic(fmt.Sprintf("FATAL: mint failed after funds pulled for %s: %v", id, err))
	}

	e.effecting.Store(true)
	defer e.effecting.Store(false)

	e.emit(event.TypeCommitmentMade, id, caller, now, event.CommitmentMade{
		Holder:    caller,
		Outcome:   outcome,
		Amount:    amount,
		Bucket:    rid.Bucket(),
		Beta:      m.Beta(int64(rid.Bucket())),
		ReceiptID: rid,
	})

	e.applied(op)
	if e.metrics != nil {
		e.metrics.CommitmentsTotal.Inc()
		e.metrics.CommittedAmount.Add(float64(amount))
	}
	return rid, nil
}

// Transfer moves receipt balance between holders. Allowed only while the
// market's derived state is transferable; mint and burn are not gated.
func (e *Engine) Transfer(id receipt.ID, to uuid.UUID, amount uint64, caller uuid.UUID, now int64) error {
	const op = "transfer"
	defer e.timeOp(op)()
	if err := e.guard(); err != nil {
		return e.reject(op, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.markets[id.Market()]
	if !ok {
		return e.reject(op, fmt.Errorf("%w: %s", ErrUnknownMarket, id.Market()))
	}
	if st := m.Status(now); !st.Transferable() {
		return e.reject(op, fmt.Errorf("%w: %s", ErrNotTransferable, st))
	}
	if err := e.book.Move(id, caller, to, amount); err != nil {
		return e.reject(op, err)
	}

	e.effecting.Store(true)
	defer e.effecting.Store(false)

	e.emit(event.TypeReceiptTransferred, id.Market(), caller, now, event.ReceiptTransferred{
		ReceiptID: id,
		From:      caller,
		To:        to,
		Amount:    amount,
	})
	e.applied(op)
	return nil
}
