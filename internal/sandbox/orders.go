package sandbox

import (
	"fmt"
	"math"
	"sync"
	"time"

	"sandbox-trader/internal/errors"
	"sandbox-trader/internal/models"
)

// Book is the order store. Orders are append-only: nothing is ever deleted,
// terminal status marks finality. The book owns the order state machine:
//
//	open -> triggered -> complete   (stop orders)
//	open -> complete
//	open -> cancelled
//	open -> rejected
type Book struct {
	mu       sync.RWMutex
	orders   map[string]*models.Order
	sequence []string // placement order, for stable listings
	trades   []models.Trade
	orderSeq int
	tradeSeq int
}

// NewBook creates an empty order book.
func NewBook() *Book {
	return &Book{orders: make(map[string]*models.Order)}
}

// Restore installs a persisted order without re-validating it.
func (b *Book) Restore(o models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := o
	b.orders[o.ID] = &cp
	b.sequence = append(b.sequence, o.ID)
	b.orderSeq++
}

// RestoreTrade installs a persisted trade record.
func (b *Book) RestoreTrade(t models.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades = append(b.trades, t)
	b.tradeSeq++
}

// Insert records a new order with a generated id and the given status.
func (b *Book) Insert(o *models.Order, status models.OrderStatus) *models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orderSeq++
	now := time.Now()
	cp := *o
	cp.ID = fmt.Sprintf("SB-%s-%06d", now.Format("20060102"), b.orderSeq)
	cp.Status = status
	cp.CreatedAt = now
	cp.UpdatedAt = now
	b.orders[cp.ID] = &cp
	b.sequence = append(b.sequence, cp.ID)
	return &cp
}

// Get returns a copy of the order.
func (b *Book) Get(orderID string) (models.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderID]
	if !ok {
		return models.Order{}, errors.Wrapf(errors.ErrOrderNotFound, "id %s", orderID)
	}
	return *o, nil
}

// Pending returns copies of all working (open or triggered) orders.
func (b *Book) Pending() []models.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Order
	for _, id := range b.sequence {
		if o := b.orders[id]; o.Active() {
			out = append(out, *o)
		}
	}
	return out
}

// Orders returns copies of all orders for an account, in placement order.
func (b *Book) Orders(account string) []models.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Order
	for _, id := range b.sequence {
		if o := b.orders[id]; o.Account == account {
			out = append(out, *o)
		}
	}
	return out
}

// Trades returns copies of all trades for an account.
func (b *Book) Trades(account string) []models.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Trade
	for _, t := range b.trades {
		if t.Account == account {
			out = append(out, t)
		}
	}
	return out
}

// MarkTriggered transitions a stop order from open to triggered. From then
// on it rests as a limit order at its limit price.
func (b *Book) MarkTriggered(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return errors.Wrapf(errors.ErrOrderNotFound, "id %s", orderID)
	}
	if o.Status != models.StatusOpen {
		return errors.Wrapf(errors.ErrOrderTerminal, "id %s status %s", orderID, o.Status)
	}
	o.Status = models.StatusTriggered
	o.UpdatedAt = time.Now()
	return nil
}

// ApplyFill completes an order at the given price with a single full-quantity
// fill and records the immutable trade. Returns the trade created.
func (b *Book) ApplyFill(orderID string, price float64) (models.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return models.Trade{}, errors.Wrapf(errors.ErrOrderNotFound, "id %s", orderID)
	}
	if !o.Active() {
		return models.Trade{}, errors.Wrapf(errors.ErrOrderTerminal, "id %s status %s", orderID, o.Status)
	}

	now := time.Now()
	o.FilledQty = o.Quantity
	o.AveragePrice = price
	o.Status = models.StatusComplete
	o.UpdatedAt = now

	b.tradeSeq++
	trade := models.Trade{
		ID:         fmt.Sprintf("SB-T-%s-%06d", now.Format("20060102"), b.tradeSeq),
		OrderID:    o.ID,
		Account:    o.Account,
		Symbol:     o.Symbol,
		Exchange:   o.Exchange,
		Side:       o.Side,
		Product:    o.Product,
		Quantity:   o.Quantity,
		Price:      price,
		ExecutedAt: now,
	}
	b.trades = append(b.trades, trade)
	return trade, nil
}

// Modify updates quantity, price, trigger price and blocked margin of a
// working order. Only open and triggered orders are modifiable; the caller
// settles the margin delta with the ledger before calling.
func (b *Book) Modify(orderID string, quantity int, price, triggerPrice, blockedMargin float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return errors.Wrapf(errors.ErrOrderNotFound, "id %s", orderID)
	}
	if !o.Active() {
		return errors.Wrapf(errors.ErrNotModifiable, "id %s status %s", orderID, o.Status)
	}
	if quantity <= 0 {
		return errors.NewValidationError("quantity", quantity, "must be positive")
	}
	if price < 0 || triggerPrice < 0 {
		return errors.NewValidationError("price", price, "must be non-negative")
	}

	o.Quantity = quantity
	o.Price = price
	o.TriggerPrice = triggerPrice
	o.BlockedMargin = blockedMargin
	o.UpdatedAt = time.Now()
	return nil
}

// Cancel transitions a working order to cancelled and returns its blocked
// margin for the caller to release. Order status is the single source of
// truth for cancel/fill races: cancelling an order no longer working
// returns ErrOrderTerminal without touching the ledger.
func (b *Book) Cancel(orderID string) (releasedMargin float64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return 0, errors.Wrapf(errors.ErrOrderNotFound, "id %s", orderID)
	}
	if !o.Active() {
		return 0, errors.Wrapf(errors.ErrOrderTerminal, "id %s status %s", orderID, o.Status)
	}
	o.Status = models.StatusCancelled
	o.UpdatedAt = time.Now()
	return o.BlockedMargin, nil
}

// ValidateOrder checks an order request against the instrument's contract
// terms. Failures are synchronous rejections with no state mutation.
func ValidateOrder(o *models.Order, inst *models.Instrument, now time.Time) error {
	if o.Account == "" {
		return errors.NewValidationError("account", o.Account, "must not be empty")
	}
	if o.Symbol == "" {
		return errors.NewValidationError("symbol", o.Symbol, "must not be empty")
	}
	if o.Quantity <= 0 {
		return errors.NewValidationError("quantity", o.Quantity, "must be positive")
	}
	if o.Price < 0 {
		return errors.NewValidationError("price", o.Price, "must be non-negative")
	}
	if o.TriggerPrice < 0 {
		return errors.NewValidationError("trigger_price", o.TriggerPrice, "must be non-negative")
	}
	switch o.Side {
	case models.OrderSideBuy, models.OrderSideSell:
	default:
		return errors.NewValidationError("side", o.Side, "must be BUY or SELL")
	}
	switch o.Type {
	case models.OrderTypeMarket, models.OrderTypeLimit, models.OrderTypeStopLoss, models.OrderTypeStopLossM:
	default:
		return errors.NewValidationError("type", o.Type, "unknown order type")
	}
	switch o.Product {
	case models.ProductMIS, models.ProductCNC, models.ProductNRML:
	default:
		return errors.NewValidationError("product", o.Product, "unknown product type")
	}
	if o.Type == models.OrderTypeLimit && o.Price <= 0 {
		return errors.NewValidationError("price", o.Price, "limit orders need a positive limit price")
	}
	if (o.Type == models.OrderTypeStopLoss || o.Type == models.OrderTypeStopLossM) && o.TriggerPrice <= 0 {
		return errors.NewValidationError("trigger_price", o.TriggerPrice, "stop orders need a positive trigger price")
	}
	if o.Type == models.OrderTypeStopLoss && o.Price <= 0 {
		return errors.NewValidationError("price", o.Price, "stop-limit orders need a positive limit price")
	}
	if o.Exchange.IsDerivative() {
		if inst.LotSize <= 0 {
			return errors.NewValidationError("lot_size", inst.LotSize, "instrument has no lot size")
		}
		if o.Quantity%inst.LotSize != 0 {
			return errors.NewValidationError("quantity", o.Quantity,
				fmt.Sprintf("%v: lot size %d", errors.ErrLotSize, inst.LotSize))
		}
	}
	if inst.Expired(now) {
		return errors.NewValidationError("expiry", inst.Expiry.Format("2006-01-02"),
			errors.ErrExpiredInstrument.Error())
	}
	if o.Product == models.ProductCNC && o.Exchange.IsDerivative() {
		return errors.NewValidationError("product", o.Product, "CNC is only valid for equity exchanges")
	}
	if inst.TickSize > 0 && o.Price > 0 {
		steps := o.Price / inst.TickSize
		if math.Abs(steps-math.Round(steps)) > 1e-6 {
			return errors.NewValidationError("price", o.Price,
				fmt.Sprintf("not a multiple of tick size %.4f", inst.TickSize))
		}
	}
	return nil
}
