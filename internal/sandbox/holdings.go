package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sandbox-trader/internal/models"
	"sandbox-trader/internal/quote"
	"sandbox-trader/pkg/utils"
)

// HoldingsManager owns settled delivery stock. CNC positions migrate here
// once their T+n settlement date arrives; the full trade value stays
// blocked in the ledger, it just stops being position margin and becomes
// the holding's funding.
type HoldingsManager struct {
	mu             sync.RWMutex
	holdings       map[models.HoldingKey]*models.Holding
	positions      *PositionManager
	ledger         *Ledger
	gateway        quote.Gateway
	locks          *AccountLocks
	settlementDays int
	logger         zerolog.Logger
}

// NewHoldingsManager creates a holdings manager with a T+n settlement cycle.
func NewHoldingsManager(positions *PositionManager, ledger *Ledger, gateway quote.Gateway, locks *AccountLocks, settlementDays int, logger zerolog.Logger) *HoldingsManager {
	return &HoldingsManager{
		holdings:       make(map[models.HoldingKey]*models.Holding),
		positions:      positions,
		ledger:         ledger,
		gateway:        gateway,
		locks:          locks,
		settlementDays: settlementDays,
		logger:         logger.With().Str("component", "holdings").Logger(),
	}
}

// Restore installs a persisted holding.
func (m *HoldingsManager) Restore(h models.Holding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := h
	m.holdings[h.Key()] = &cp
}

// Holdings returns copies of all holdings for an account.
func (m *HoldingsManager) Holdings(account string) []models.Holding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Holding
	for _, h := range m.holdings {
		if h.Account == account {
			out = append(out, *h)
		}
	}
	return out
}

// All returns copies of every holding.
func (m *HoldingsManager) All() []models.Holding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Holding, 0, len(m.holdings))
	for _, h := range m.holdings {
		out = append(out, *h)
	}
	return out
}

// Available returns the settled quantity held for an instrument.
func (m *HoldingsManager) Available(account, symbol string, exchange models.Exchange) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holdings[models.HoldingKey{Account: account, Symbol: symbol, Exchange: exchange}]
	if !ok {
		return 0
	}
	return h.Quantity
}

// TotalInvested sums average cost across an account's holdings. This is the
// ledger margin the holdings keep blocked, used by the weekly reset.
func (m *HoldingsManager) TotalInvested(account string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, h := range m.holdings {
		if h.Account == account {
			total += h.InvestedValue()
		}
	}
	return total
}

// Consume reduces a holding for a delivery sale, removing it when emptied.
// It returns the quantity actually consumed and the holding's average price
// so the caller can release margin and crystallize P&L.
func (m *HoldingsManager) Consume(account, symbol string, exchange models.Exchange, qty int) (consumed int, avgPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := models.HoldingKey{Account: account, Symbol: symbol, Exchange: exchange}
	h, ok := m.holdings[key]
	if !ok || h.Quantity <= 0 {
		return 0, 0
	}
	consumed = qty
	if consumed > h.Quantity {
		consumed = h.Quantity
	}
	avgPrice = h.AveragePrice
	h.Quantity -= consumed
	if h.Quantity == 0 {
		delete(m.holdings, key)
	}
	return consumed, avgPrice
}

// RunSettlement migrates every CNC long position whose settlement date has
// arrived into holdings. Quantities merge at volume-weighted average cost.
// Idempotent: a position settles at most once because it is removed from
// the position book as it migrates.
func (m *HoldingsManager) RunSettlement(asOf time.Time) {
	for _, pos := range m.positions.All() {
		if pos.Product != models.ProductCNC || pos.Quantity <= 0 {
			continue
		}
		if asOf.Before(utils.SettlementDate(pos.OpenedAt, m.settlementDays)) {
			continue
		}
		m.settle(pos.Key(), asOf)
	}
}

// settle migrates one position under its account lock so a concurrent
// delivery-sale fill cannot net against a position that is mid-migration.
// The snapshot the caller iterated may be stale by the time the lock is
// held, so eligibility is re-checked against the live position.
func (m *HoldingsManager) settle(key models.PositionKey, asOf time.Time) {
	m.locks.Lock(key.Account)
	defer m.locks.Unlock(key.Account)

	pos, ok := m.positions.Get(key)
	if !ok || pos.Quantity <= 0 || asOf.Before(utils.SettlementDate(pos.OpenedAt, m.settlementDays)) {
		return
	}
	removed, ok := m.positions.Remove(key)
	if !ok {
		return
	}
	m.merge(removed, asOf)
	m.logger.Info().
		Str("account", removed.Account).
		Str("symbol", removed.Symbol).
		Int("quantity", removed.Quantity).
		Float64("avg_price", removed.AveragePrice).
		Msg("Delivery position settled into holdings")
}

func (m *HoldingsManager) merge(pos models.Position, asOf time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := models.HoldingKey{Account: pos.Account, Symbol: pos.Symbol, Exchange: pos.Exchange}
	h, ok := m.holdings[key]
	if !ok {
		m.holdings[key] = &models.Holding{
			Account:      pos.Account,
			Symbol:       pos.Symbol,
			Exchange:     pos.Exchange,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
			LastPrice:    pos.LastPrice,
			SettledAt:    asOf,
		}
		return
	}
	oldQty := float64(h.Quantity)
	addQty := float64(pos.Quantity)
	h.AveragePrice = (h.AveragePrice*oldQty + pos.AveragePrice*addQty) / (oldQty + addQty)
	h.Quantity += pos.Quantity
	h.SettledAt = asOf
}

// QuoteKeys returns the distinct instruments across all holdings.
func (m *HoldingsManager) QuoteKeys() []quote.Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[quote.Key]struct{})
	var keys []quote.Key
	for _, h := range m.holdings {
		k := quote.Key{Symbol: h.Symbol, Exchange: h.Exchange}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// RefreshValuation re-marks holdings and publishes per-account collateral
// value to the ledger. Collateral is display-only and derived fresh each
// pass from the latest marks.
func (m *HoldingsManager) RefreshValuation(ctx context.Context) {
	keys := m.QuoteKeys()
	if len(keys) == 0 {
		return
	}
	prices, err := m.gateway.GetLastPrices(ctx, keys)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Holdings valuation fetch failed, keeping stale marks")
		return
	}

	byAccount := make(map[string]float64)
	m.mu.Lock()
	for _, h := range m.holdings {
		if price, ok := prices[quote.Key{Symbol: h.Symbol, Exchange: h.Exchange}]; ok {
			h.LastPrice = price
		}
		byAccount[h.Account] += h.CurrentValue()
	}
	accounts := make([]string, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	m.mu.Unlock()

	for _, account := range accounts {
		m.ledger.SetCollateral(account, byAccount[account])
	}
}

// Run drives the settlement and valuation loop until cancelled.
func (m *HoldingsManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", interval).Msg("Settlement loop started")
	m.RunSettlement(time.Now())
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Settlement loop stopped")
			return
		case <-ticker.C:
			m.RunSettlement(time.Now())
			m.RefreshValuation(ctx)
		}
	}
}
