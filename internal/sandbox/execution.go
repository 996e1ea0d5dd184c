package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sandbox-trader/internal/errors"
	"sandbox-trader/internal/models"
	"sandbox-trader/internal/quote"
	"sandbox-trader/pkg/utils"
)

// Journal persists order and trade mutations. Implementations must be safe
// for concurrent use; the engine treats persistence failures as non-fatal.
type Journal interface {
	RecordOrder(o models.Order) error
	RecordTrade(t models.Trade) error
}

// NopJournal discards every record. Used when running without a database.
type NopJournal struct{}

func (NopJournal) RecordOrder(models.Order) error { return nil }
func (NopJournal) RecordTrade(models.Trade) error { return nil }

// ExecutionEngine polls quotes for working orders and walks them through
// the order state machine. One cycle fetches each distinct instrument's
// last price exactly once, regardless of how many orders reference it.
type ExecutionEngine struct {
	book      *Book
	positions *PositionManager
	holdings  *HoldingsManager
	ledger    *Ledger
	locks     *AccountLocks
	gateway   quote.Gateway
	margin    *MarginCalculator
	metadata  quote.MetadataGateway
	journal   Journal
	notifier  *Notifier
	logger    zerolog.Logger
	interval  time.Duration
}

// NewExecutionEngine wires an execution engine. The gateway should be the
// shared throttled gateway so the engine and the mark-to-market loop stay
// under the provider's aggregate rate ceiling.
func NewExecutionEngine(
	book *Book,
	positions *PositionManager,
	holdings *HoldingsManager,
	ledger *Ledger,
	locks *AccountLocks,
	gateway quote.Gateway,
	margin *MarginCalculator,
	metadata quote.MetadataGateway,
	journal Journal,
	notifier *Notifier,
	interval time.Duration,
	logger zerolog.Logger,
) *ExecutionEngine {
	if journal == nil {
		journal = NopJournal{}
	}
	return &ExecutionEngine{
		book:      book,
		positions: positions,
		holdings:  holdings,
		ledger:    ledger,
		locks:     locks,
		gateway:   gateway,
		margin:    margin,
		metadata:  metadata,
		journal:   journal,
		notifier:  notifier,
		interval:  interval,
		logger:    logger.With().Str("component", "execution").Logger(),
	}
}

// Run drives the order check loop until the context is cancelled.
func (e *ExecutionEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", e.interval).Msg("Order execution loop started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Order execution loop stopped")
			return
		case <-ticker.C:
			e.Cycle(ctx)
		}
	}
}

// Cycle performs one execution pass over all working orders. Quotes are
// fetched up front, outside any account lock; orders whose instrument has
// no price this cycle are left untouched for the next pass.
func (e *ExecutionEngine) Cycle(ctx context.Context) {
	pending := e.book.Pending()
	if len(pending) == 0 {
		return
	}

	prices, err := e.gateway.GetLastPrices(ctx, pendingQuoteKeys(pending))
	if err != nil {
		e.logger.Warn().Err(err).Msg("Quote fetch failed, deferring order checks")
		return
	}

	for i := range pending {
		order := &pending[i]
		ltp, ok := prices[quote.Key{Symbol: order.Symbol, Exchange: order.Exchange}]
		if !ok {
			continue
		}
		e.step(ctx, order, ltp)
	}
}

// step advances a single order against the latest price.
func (e *ExecutionEngine) step(ctx context.Context, order *models.Order, ltp float64) {
	if order.Status == models.StatusOpen {
		switch order.Type {
		case models.OrderTypeMarket:
			e.fill(ctx, order, ltp)
			return
		case models.OrderTypeStopLossM:
			if stopTriggered(order.Side, ltp, order.TriggerPrice) {
				e.fill(ctx, order, ltp)
			}
			return
		case models.OrderTypeStopLoss:
			if !stopTriggered(order.Side, ltp, order.TriggerPrice) {
				return
			}
			if err := e.book.MarkTriggered(order.ID); err != nil {
				if !errors.Is(err, errors.ErrOrderTerminal) {
					e.logger.Error().Err(err).Str("order_id", order.ID).Msg("Trigger transition failed")
				}
				return
			}
			order.Status = models.StatusTriggered
			e.logger.Info().Str("order_id", order.ID).Float64("ltp", ltp).
				Float64("trigger", order.TriggerPrice).Msg("Stop order triggered")
			e.journalOrder(ctx, order.ID)
			// Fall through: the resting limit may already be crossed.
		}
	}

	// Plain limit orders, and stop-limit orders past their trigger. A
	// crossed limit fills at its limit price, the price the resting order
	// was guaranteed at when the market reached it.
	if limitCrossed(order.Side, ltp, order.Price) {
		e.fill(ctx, order, order.Price)
	}
}

// ExecuteAt fills a working order at the given price immediately, outside
// the polling cycle. The square-off scheduler uses it for forced closes.
func (e *ExecutionEngine) ExecuteAt(ctx context.Context, order *models.Order, price float64) {
	e.fill(ctx, order, price)
}

// fill completes the order at price and folds the trade into positions and
// funds. The account lock is held across the whole mutation so concurrent
// cancels and other fills serialize; ErrOrderTerminal here means a racing
// cancel won, which is not an error.
func (e *ExecutionEngine) fill(ctx context.Context, order *models.Order, price float64) {
	tradeMargin, excess := e.marginAtFill(ctx, order, price)

	e.locks.Lock(order.Account)
	defer e.locks.Unlock(order.Account)

	trade, err := e.book.ApplyFill(order.ID, price)
	if err != nil {
		if !errors.Is(err, errors.ErrOrderTerminal) {
			e.logger.Error().Err(err).Str("order_id", order.ID).Msg("Fill failed")
		}
		return
	}
	if excess > 0 {
		e.ledger.ReleaseMargin(order.Account, excess)
	}

	var effect TradeEffect
	if trade.Product == models.ProductCNC && trade.Side == models.OrderSideSell && e.holdings != nil {
		effect = e.deliverySale(trade, tradeMargin)
	} else {
		effect = e.positions.ApplyTrade(trade, tradeMargin)
	}
	if effect.ReleasedMargin > 0 {
		e.ledger.ReleaseMargin(order.Account, effect.ReleasedMargin)
	}
	if effect.RealizedPnL != 0 {
		e.ledger.ApplyRealized(order.Account, effect.RealizedPnL)
	}

	e.logger.Info().
		Str("order_id", order.ID).
		Str("account", order.Account).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Int("quantity", trade.Quantity).
		Float64("price", price).
		Float64("realized", effect.RealizedPnL).
		Msg("Order filled")

	if e.notifier != nil {
		e.notifier.Notify(Event{
			Account: order.Account,
			Kind:    EventFill,
			Message: fmt.Sprintf("%s %d %s @ %.2f", order.Side, trade.Quantity, order.Symbol, price),
		})
	}

	e.journalOrder(ctx, order.ID)
	e.journalTrade(ctx, trade)
}

// marginAtFill re-sizes the order's margin at the actual fill price. Margin
// is blocked against a reference price that can sit above the fill (a stop
// margined at its trigger, a market order whose price moved), so the
// difference goes back to the ledger with the fill. A shortfall stays as
// blocked; fills are never topped up. Runs before the account lock because
// sizing may fetch a future price.
func (e *ExecutionEngine) marginAtFill(ctx context.Context, order *models.Order, price float64) (tradeMargin, excess float64) {
	blocked := order.BlockedMargin
	if blocked <= 0 || e.margin == nil || e.metadata == nil {
		return blocked, 0
	}
	inst, err := e.metadata.GetInstrument(ctx, order.Symbol, order.Exchange)
	if err != nil {
		return blocked, 0
	}
	required, err := e.margin.Required(ctx, order, inst, price)
	if err != nil || required >= blocked {
		return blocked, 0
	}
	return required, blocked - required
}

// deliverySale fills a CNC sell: settled holdings are consumed first at
// their average cost, any remainder nets against the unsettled CNC
// position. Selling a holding releases the invested value that was kept
// blocked and crystallizes the difference as realized P&L.
func (e *ExecutionEngine) deliverySale(t models.Trade, tradeMargin float64) TradeEffect {
	var eff TradeEffect

	consumed, avg := e.holdings.Consume(t.Account, t.Symbol, t.Exchange, t.Quantity)
	if consumed > 0 {
		eff.RealizedPnL += (t.Price - avg) * float64(consumed)
		eff.ReleasedMargin += avg * float64(consumed)
	}

	remainder := t.Quantity - consumed
	if remainder > 0 {
		rest := t
		rest.Quantity = remainder
		sub := e.positions.ApplyTrade(rest, tradeMargin)
		eff.RealizedPnL += sub.RealizedPnL
		eff.ReleasedMargin += sub.ReleasedMargin
		eff.ClosedFlat = sub.ClosedFlat
	} else if tradeMargin > 0 {
		eff.ReleasedMargin += tradeMargin
	}
	return eff
}

// journalOrder persists the current state of an order with retry.
func (e *ExecutionEngine) journalOrder(ctx context.Context, orderID string) {
	current, err := e.book.Get(orderID)
	if err != nil {
		return
	}
	err = utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
		return e.journal.RecordOrder(current)
	})
	if err != nil {
		e.logger.Error().Err(err).Str("order_id", orderID).Msg("Order persistence failed")
	}
}

func (e *ExecutionEngine) journalTrade(ctx context.Context, t models.Trade) {
	err := utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
		return e.journal.RecordTrade(t)
	})
	if err != nil {
		e.logger.Error().Err(err).Str("trade_id", t.ID).Msg("Trade persistence failed")
	}
}

// stopTriggered reports whether a stop order's trigger condition is met:
// buy stops arm when the price falls to the trigger, sell stops when it
// rises to the trigger.
func stopTriggered(side models.OrderSide, ltp, trigger float64) bool {
	if side == models.OrderSideBuy {
		return ltp <= trigger
	}
	return ltp >= trigger
}

// limitCrossed reports whether the market has reached a resting limit:
// buys fill at or below the limit, sells at or above.
func limitCrossed(side models.OrderSide, ltp, limit float64) bool {
	if side == models.OrderSideBuy {
		return ltp <= limit
	}
	return ltp >= limit
}

// pendingQuoteKeys collects the distinct instruments across working orders.
func pendingQuoteKeys(orders []models.Order) []quote.Key {
	seen := make(map[quote.Key]struct{})
	var keys []quote.Key
	for i := range orders {
		k := quote.Key{Symbol: orders[i].Symbol, Exchange: orders[i].Exchange}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}
