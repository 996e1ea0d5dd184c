// Package sandbox implements the paper-trading simulation engine: a
// ledger-and-matching system that executes simulated orders against real,
// externally supplied market prices.
package sandbox

import "sync"

// AccountLocks serializes per-account state mutations. The placement path
// and every background loop acquire the account's lock for the duration of
// a ledger/position/order mutation, never across an external quote fetch.
// Cross-account operations proceed in parallel.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAccountLocks creates an empty lock registry.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for an account, creating it on first use.
func (a *AccountLocks) Lock(account string) {
	a.get(account).Lock()
}

// Unlock releases the lock for an account.
func (a *AccountLocks) Unlock(account string) {
	a.get(account).Unlock()
}

func (a *AccountLocks) get(account string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[account]
	if !ok {
		l = &sync.Mutex{}
		a.locks[account] = l
	}
	return l
}
