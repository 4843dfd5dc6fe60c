package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"ForecastPool/internal/fixmath"
	"ForecastPool/internal/market"

	"github.com/google/uuid"
)

// InMemoryCustody is a process-local custody ledger: per-account, per-asset
// balances with the pool as the implicit counterparty. Production
// deployments substitute an adapter over the real asset ledger; this one
// backs single-node deployments and tests.
type InMemoryCustody struct {
	mu       sync.Mutex
	balances map[uuid.UUID]map[string]uint64
}

func NewInMemoryCustody() *InMemoryCustody {
	return &InMemoryCustody{
		balances: make(map[uuid.UUID]map[string]uint64),
	}
}

// Fund credits an account outside the Pull/Push flow.
func (c *InMemoryCustody) Fund(account uuid.UUID, asset string, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balances[account] == nil {
		c.balances[account] = make(map[string]uint64)
	}
	c.balances[account][asset] += amount
}

func (c *InMemoryCustody) Pull(account uuid.UUID, asset string, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	have := c.balances[account][asset]
	if have < amount {
		return fmt.Errorf("custody: account %s has %d %s, need %d", account, have, asset, amount)
	}
	c.balances[account][asset] = have - amount
	return nil
}

func (c *InMemoryCustody) Push(account uuid.UUID, asset string, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balances[account] == nil {
		c.balances[account] = make(map[string]uint64)
	}
	next, err := fixmath.AddChecked(c.balances[account][asset], amount)
	if err != nil {
		return fmt.Errorf("custody: account %s %s balance overflow", account, asset)
	}
	c.balances[account][asset] = next
	return nil
}

// BalanceOf returns the account's free balance for an asset.
func (c *InMemoryCustody) BalanceOf(account uuid.UUID, asset string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[account][asset]
}

// StaticAccessControl grants fixed role sets per account.
type StaticAccessControl struct {
	mu    sync.RWMutex
	roles map[uuid.UUID]map[string]bool
}

func NewStaticAccessControl() *StaticAccessControl {
	return &StaticAccessControl{roles: make(map[uuid.UUID]map[string]bool)}
}

func (a *StaticAccessControl) Grant(account uuid.UUID, role string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.roles[account] == nil {
		a.roles[account] = make(map[string]bool)
	}
	a.roles[account][role] = true
}

func (a *StaticAccessControl) HasRole(account uuid.UUID, role string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roles[account][role]
}

// SwitchPauser is a flip-switch pause control.
type SwitchPauser struct {
	paused atomic.Bool
}

func (p *SwitchPauser) Pause()       { p.paused.Store(true) }
func (p *SwitchPauser) Unpause()     { p.paused.Store(false) }
func (p *SwitchPauser) Paused() bool { return p.paused.Load() }

// StaticAllowlist permits a fixed asset set. An empty list permits
// everything.
type StaticAllowlist struct {
	assets map[string]bool
}

func NewStaticAllowlist(assets ...string) *StaticAllowlist {
	l := &StaticAllowlist{assets: make(map[string]bool, len(assets))}
	for _, a := range assets {
		l.assets[a] = true
	}
	return l
}

func (l *StaticAllowlist) IsAllowed(asset string) bool {
	return len(l.assets) == 0 || l.assets[asset]
}

// QuotaHook caps the number of unconcluded markets per creator. A hook
// rather than an engine check: quota policy is deployment-specific and the
// pipeline keeps it out of the core path.
type QuotaHook struct {
	mu     sync.Mutex
	limit  int
	active map[uuid.UUID]int
}

var _ Hook = (*QuotaHook)(nil)

func NewQuotaHook(limit int) *QuotaHook {
	return &QuotaHook{limit: limit, active: make(map[uuid.UUID]int)}
}

func (q *QuotaHook) OnCreated(m *market.Market, now int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active[m.Creator] >= q.limit {
		return fmt.Errorf("quota: creator %s already has %d active markets", m.Creator, q.limit)
	}
	q.active[m.Creator]++
	return nil
}

func (q *QuotaHook) OnConcluded(m *market.Market, now int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active[m.Creator] > 0 {
		q.active[m.Creator]--
	}
	return nil
}
