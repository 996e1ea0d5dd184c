package sandbox

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sandbox-trader/internal/errors"
	"sandbox-trader/internal/models"
)

// Ledger is the per-account fund ledger. All amounts are simulated; the
// ledger enforces that margin blocks are atomic and that available cash
// never goes negative.
type Ledger struct {
	mu              sync.RWMutex
	funds           map[string]*models.Funds
	startingCapital float64
	logger          zerolog.Logger
}

// NewLedger creates a ledger that seeds new accounts with startingCapital.
func NewLedger(startingCapital float64, logger zerolog.Logger) *Ledger {
	return &Ledger{
		funds:           make(map[string]*models.Funds),
		startingCapital: startingCapital,
		logger:          logger,
	}
}

// Get returns a copy of the account's funds, creating the account with
// starting capital on first use.
func (l *Ledger) Get(account string) models.Funds {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.ensure(account)
}

// Restore installs previously persisted funds for an account.
func (l *Ledger) Restore(f models.Funds) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := f
	l.funds[f.Account] = &cp
}

// All returns copies of every account's funds.
func (l *Ledger) All() []models.Funds {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Funds, 0, len(l.funds))
	for _, f := range l.funds {
		out = append(out, *f)
	}
	return out
}

// Accounts returns every account id known to the ledger.
func (l *Ledger) Accounts() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.funds))
	for account := range l.funds {
		out = append(out, account)
	}
	return out
}

// BlockMargin atomically moves amount from available cash to blocked margin.
// It fails without partial effect when available cash is insufficient.
func (l *Ledger) BlockMargin(account string, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.ensure(account)
	if f.AvailableCash < amount {
		return errors.Wrapf(errors.ErrInsufficientFunds,
			"need %.2f, have %.2f", amount, f.AvailableCash)
	}
	f.AvailableCash -= amount
	f.BlockedMargin += amount
	f.UpdatedAt = time.Now()
	return nil
}

// ReleaseMargin moves amount from blocked margin back to available cash.
// Releases are clamped so blocked margin never goes negative.
func (l *Ledger) ReleaseMargin(account string, amount float64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.ensure(account)
	if amount > f.BlockedMargin {
		l.logger.Warn().
			Str("account", account).
			Float64("release", amount).
			Float64("blocked", f.BlockedMargin).
			Msg("Margin release exceeds blocked margin, clamping")
		amount = f.BlockedMargin
	}
	f.BlockedMargin -= amount
	f.AvailableCash += amount
	f.UpdatedAt = time.Now()
}

// ApplyRealized folds a realized P&L delta into cash and the cumulative
// realized figure.
func (l *Ledger) ApplyRealized(account string, delta float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.ensure(account)
	f.RealizedPnL += delta
	f.AvailableCash += delta
	f.UpdatedAt = time.Now()
}

// ApplyUnrealized replaces the account's unrealized P&L figure for this
// refresh cycle. No cash moves.
func (l *Ledger) ApplyUnrealized(account string, value float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.ensure(account)
	f.UnrealizedPnL = value
	f.UpdatedAt = time.Now()
}

// SetCollateral records the derived collateral value from holdings marks.
func (l *Ledger) SetCollateral(account string, value float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.ensure(account)
	f.CollateralValue = value
}

// Reset restores the account to starting capital with the given recomputed
// blocked margin from currently open positions. P&L figures are zeroed.
// Available cash is starting capital less the re-blocked margin, so the
// available+blocked total returns exactly to starting capital.
func (l *Ledger) Reset(account string, blockedMargin float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.ensure(account)
	if blockedMargin > l.startingCapital {
		l.logger.Warn().
			Str("account", account).
			Float64("blocked", blockedMargin).
			Msg("Open-position margin exceeds starting capital at reset")
		blockedMargin = l.startingCapital
	}
	f.AvailableCash = l.startingCapital - blockedMargin
	f.BlockedMargin = blockedMargin
	f.RealizedPnL = 0
	f.UnrealizedPnL = 0
	f.UpdatedAt = time.Now()

	l.logger.Info().
		Str("account", account).
		Float64("capital", l.startingCapital).
		Float64("blocked", blockedMargin).
		Msg("Funds reset to starting capital")
}

// StartingCapital returns the configured seed capital.
func (l *Ledger) StartingCapital() float64 {
	return l.startingCapital
}

// ensure returns the live funds record for an account; caller holds l.mu.
func (l *Ledger) ensure(account string) *models.Funds {
	f, ok := l.funds[account]
	if !ok {
		f = &models.Funds{
			Account:       account,
			AvailableCash: l.startingCapital,
			UpdatedAt:     time.Now(),
		}
		l.funds[account] = f
	}
	return f
}
