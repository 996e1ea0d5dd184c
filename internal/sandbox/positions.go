package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sandbox-trader/internal/models"
	"sandbox-trader/internal/quote"
)

// TradeEffect reports the ledger consequences of folding a trade into the
// position book. The caller applies them to the fund ledger while holding
// the account lock.
type TradeEffect struct {
	RealizedPnL    float64
	ReleasedMargin float64
	ClosedFlat     bool
}

// PositionManager maintains signed net positions keyed by
// account/symbol/exchange/product, with volume-weighted average pricing.
type PositionManager struct {
	mu        sync.RWMutex
	positions map[models.PositionKey]*models.Position
	// Accounts written on the previous mark pass, so an account whose last
	// position closed gets its unrealized P&L written back to zero.
	marked  map[string]struct{}
	ledger  *Ledger
	gateway quote.Gateway
	logger  zerolog.Logger
}

// NewPositionManager creates a position manager. The gateway is used only by
// the mark-to-market refresh; trade application never fetches quotes.
func NewPositionManager(ledger *Ledger, gateway quote.Gateway, logger zerolog.Logger) *PositionManager {
	return &PositionManager{
		positions: make(map[models.PositionKey]*models.Position),
		marked:    make(map[string]struct{}),
		ledger:    ledger,
		gateway:   gateway,
		logger:    logger.With().Str("component", "positions").Logger(),
	}
}

// Restore installs a persisted position.
func (m *PositionManager) Restore(p models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.positions[p.Key()] = &cp
}

// ApplyTrade folds a fill into the net position and returns the realized
// P&L and margin to release. tradeMargin is the margin that was blocked for
// the filled order.
//
// Netting rules:
//   - opening or extending: quantities add, average price is the
//     volume-weighted average, margin accumulates
//   - reducing: average price is unchanged, P&L crystallizes on the closed
//     quantity, margin releases proportionally plus the reducing trade's own
//     margin
//   - closing flat: the position is removed and all its margin released
//   - flipping through zero: the old side closes in full, the remainder
//     opens a fresh position at the trade price
func (m *PositionManager) ApplyTrade(t models.Trade, tradeMargin float64) TradeEffect {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := models.PositionKey{Account: t.Account, Symbol: t.Symbol, Exchange: t.Exchange, Product: t.Product}
	signedQty := t.Side.Sign() * t.Quantity

	pos, ok := m.positions[key]
	if !ok || pos.Quantity == 0 {
		m.positions[key] = &models.Position{
			Account:       t.Account,
			Symbol:        t.Symbol,
			Exchange:      t.Exchange,
			Product:       t.Product,
			Quantity:      signedQty,
			AveragePrice:  t.Price,
			LastPrice:     t.Price,
			BlockedMargin: tradeMargin,
			OpenedAt:      t.ExecutedAt,
			UpdatedAt:     t.ExecutedAt,
		}
		return TradeEffect{}
	}

	sameDirection := (pos.Quantity > 0) == (signedQty > 0)
	if sameDirection {
		oldAbs := float64(pos.AbsQuantity())
		addAbs := float64(t.Quantity)
		pos.AveragePrice = (pos.AveragePrice*oldAbs + t.Price*addAbs) / (oldAbs + addAbs)
		pos.Quantity += signedQty
		pos.LastPrice = t.Price
		pos.BlockedMargin += tradeMargin
		pos.UpdatedAt = t.ExecutedAt
		return TradeEffect{}
	}

	oldAbs := pos.AbsQuantity()
	direction := 1.0
	if pos.Quantity < 0 {
		direction = -1.0
	}
	closed := t.Quantity
	if closed > oldAbs {
		closed = oldAbs
	}
	realized := (t.Price - pos.AveragePrice) * float64(closed) * direction

	switch {
	case t.Quantity < oldAbs:
		// Partial close: proportional margin comes off the position, and
		// the reducing order's own margin was never needed.
		released := pos.BlockedMargin * float64(closed) / float64(oldAbs)
		pos.BlockedMargin -= released
		pos.Quantity += signedQty
		pos.LastPrice = t.Price
		pos.UpdatedAt = t.ExecutedAt
		return TradeEffect{RealizedPnL: realized, ReleasedMargin: released + tradeMargin}

	case t.Quantity == oldAbs:
		released := pos.BlockedMargin + tradeMargin
		delete(m.positions, key)
		return TradeEffect{RealizedPnL: realized, ReleasedMargin: released, ClosedFlat: true}

	default:
		// Flip: retain the slice of the trade's margin that funds the new
		// side, release everything else.
		remainder := t.Quantity - oldAbs
		keep := tradeMargin * float64(remainder) / float64(t.Quantity)
		released := pos.BlockedMargin + (tradeMargin - keep)
		m.positions[key] = &models.Position{
			Account:       t.Account,
			Symbol:        t.Symbol,
			Exchange:      t.Exchange,
			Product:       t.Product,
			Quantity:      t.Side.Sign() * remainder,
			AveragePrice:  t.Price,
			LastPrice:     t.Price,
			BlockedMargin: keep,
			OpenedAt:      t.ExecutedAt,
			UpdatedAt:     t.ExecutedAt,
		}
		return TradeEffect{RealizedPnL: realized, ReleasedMargin: released}
	}
}

// Get returns a copy of the position for a key.
func (m *PositionManager) Get(key models.PositionKey) (models.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[key]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions for an account.
func (m *PositionManager) Positions(account string) []models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Position
	for _, pos := range m.positions {
		if pos.Account == account {
			out = append(out, *pos)
		}
	}
	return out
}

// All returns copies of every open position.
func (m *PositionManager) All() []models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out
}

// TotalBlockedMargin sums the margin blocked against an account's open
// positions. Used by the weekly reset to rebuild the ledger.
func (m *PositionManager) TotalBlockedMargin(account string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, pos := range m.positions {
		if pos.Account == account {
			total += pos.BlockedMargin
		}
	}
	return total
}

// Remove deletes a position outright, returning a copy of what was removed.
// Delivery settlement uses this to migrate CNC positions into holdings; the
// margin stays blocked since the holding is still funded.
func (m *PositionManager) Remove(key models.PositionKey) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[key]
	if !ok {
		return models.Position{}, false
	}
	delete(m.positions, key)
	return *pos, true
}

// QuoteKeys returns the distinct instruments across all open positions.
func (m *PositionManager) QuoteKeys() []quote.Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[quote.Key]struct{})
	var keys []quote.Key
	for _, pos := range m.positions {
		k := quote.Key{Symbol: pos.Symbol, Exchange: pos.Exchange}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// RefreshMarks re-marks every open position from the supplied prices and
// pushes the aggregated unrealized P&L per account into the fund ledger.
// Instruments missing from prices keep their previous mark. Accounts marked
// last pass that now hold nothing are written back to zero.
func (m *PositionManager) RefreshMarks(prices map[quote.Key]float64) {
	byAccount := make(map[string]float64)

	m.mu.Lock()
	now := time.Now()
	for _, pos := range m.positions {
		if price, ok := prices[quote.Key{Symbol: pos.Symbol, Exchange: pos.Exchange}]; ok {
			pos.LastPrice = price
			pos.UpdatedAt = now
		}
		pos.UnrealizedPnL = (pos.LastPrice - pos.AveragePrice) * float64(pos.Quantity)
		byAccount[pos.Account] += pos.UnrealizedPnL
	}
	accounts := make([]string, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	var flattened []string
	for account := range m.marked {
		if _, still := byAccount[account]; !still {
			flattened = append(flattened, account)
		}
	}
	m.marked = make(map[string]struct{}, len(byAccount))
	for account := range byAccount {
		m.marked[account] = struct{}{}
	}
	m.mu.Unlock()

	for _, account := range accounts {
		m.ledger.ApplyUnrealized(account, byAccount[account])
	}
	for _, account := range flattened {
		m.ledger.ApplyUnrealized(account, 0)
	}
}

// Run drives the mark-to-market loop until the context is cancelled.
func (m *PositionManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", interval).Msg("Mark-to-market loop started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Mark-to-market loop stopped")
			return
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle performs one mark-to-market pass: fetch quotes for every open
// position, then re-mark. The fetch happens outside all account locks.
func (m *PositionManager) Cycle(ctx context.Context) {
	keys := m.QuoteKeys()
	if len(keys) == 0 {
		// Nothing open, but accounts that just went flat still need their
		// unrealized P&L zeroed.
		m.RefreshMarks(nil)
		return
	}
	prices, err := m.gateway.GetLastPrices(ctx, keys)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Mark-to-market quote fetch failed, keeping stale marks")
		return
	}
	m.RefreshMarks(prices)
}
