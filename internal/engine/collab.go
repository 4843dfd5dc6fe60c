package engine

import (
	"ForecastPool/internal/market"

	"github.com/google/uuid"
)

// Roles checked through the external access-control collaborator.
const (
	// RoleAdmin may cancel active markets administratively.
	RoleAdmin = "admin"
	// RoleOperator adjudicates the oracle's unhappy paths.
	RoleOperator = "operator"
)

// Custody moves the payment asset between accounts and the pool. Both
// operations are atomic-or-fail: on error no funds moved.
type Custody interface {
	// Pull draws amount of asset from the account into the pool.
	Pull(account uuid.UUID, asset string, amount uint64) error
	// Push pays amount of asset from the pool to the account.
	Push(account uuid.UUID, asset string, amount uint64) error
}

// AccessControl answers role checks for operator- and admin-gated calls.
type AccessControl interface {
	HasRole(account uuid.UUID, role string) bool
}

// Pauser blocks all mutating calls while engaged.
type Pauser interface {
	Paused() bool
}

// Allowlist is consulted only at market creation.
type Allowlist interface {
	IsAllowed(asset string) bool
}

// Hook is one lifecycle extension. Hooks are invoked at two fixed
// extension points: after a market is created and after it reaches a
// terminal tag. The engine calls hooks in declared order and aggregates
// failures; a creation-hook failure rolls the creation back.
//
// Hooks run with the engine lock held. They receive the market record
// directly and must not call back into locking engine methods; events are
// appended through EmitFromHook.
type Hook interface {
	OnCreated(m *market.Market, now int64) error
	OnConcluded(m *market.Market, now int64) error
}

// runHooks invokes each hook in order, collecting every failure.
func runHooks(hooks []Hook, m *market.Market, now int64, created bool) []error {
	var errs []error
	for _, h := range hooks {
		var err error
		if created {
			err = h.OnCreated(m, now)
		} else {
			err = h.OnConcluded(m, now)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
