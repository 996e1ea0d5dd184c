package sandbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sandbox-trader/internal/errors"
	"sandbox-trader/internal/models"
	"sandbox-trader/internal/quote"
	"sandbox-trader/pkg/utils"
)

// OrderRequest is the input to order placement.
type OrderRequest struct {
	Account      string
	Symbol       string
	Exchange     models.Exchange
	Side         models.OrderSide
	Type         models.OrderType
	Product      models.ProductType
	Quantity     int
	Price        float64
	TriggerPrice float64
	Tag          string
}

// Service is the account-facing API of the sandbox: order placement,
// modification and cancellation, and the book/position/holding/fund reads.
// All mutations serialize on the account lock; quote fetches and margin
// sizing happen before the lock is taken.
type Service struct {
	book      *Book
	ledger    *Ledger
	positions *PositionManager
	holdings  *HoldingsManager
	locks     *AccountLocks
	margin    *MarginCalculator
	metadata  quote.MetadataGateway
	gateway   quote.Gateway
	journal   Journal
	notifier  *Notifier
	reset     *ResetScheduler
	logger    zerolog.Logger
}

// NewService wires the service facade.
func NewService(
	book *Book,
	ledger *Ledger,
	positions *PositionManager,
	holdings *HoldingsManager,
	locks *AccountLocks,
	margin *MarginCalculator,
	metadata quote.MetadataGateway,
	gateway quote.Gateway,
	journal Journal,
	notifier *Notifier,
	reset *ResetScheduler,
	logger zerolog.Logger,
) *Service {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Service{
		book:      book,
		ledger:    ledger,
		positions: positions,
		holdings:  holdings,
		locks:     locks,
		margin:    margin,
		metadata:  metadata,
		gateway:   gateway,
		journal:   journal,
		notifier:  notifier,
		reset:     reset,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// PlaceOrder validates, margins and accepts an order. Failures past symbol
// resolution are recorded as rejected orders so the order book keeps a full
// audit trail. The returned error carries the rejection reason.
func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (models.Order, error) {
	order := &models.Order{
		Account:      req.Account,
		Symbol:       req.Symbol,
		Exchange:     req.Exchange,
		Side:         req.Side,
		Type:         req.Type,
		Product:      req.Product,
		Quantity:     req.Quantity,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Tag:          req.Tag,
	}

	inst, err := s.metadata.GetInstrument(ctx, req.Symbol, req.Exchange)
	if err != nil {
		return models.Order{}, errors.NewOrderError("", req.Symbol, "place", "unknown instrument", err)
	}

	if err := ValidateOrder(order, inst, time.Now()); err != nil {
		return s.reject(ctx, order, err)
	}

	covered := false
	if order.Product == models.ProductCNC && order.Side == models.OrderSideSell {
		if !s.cncSellCovered(order) {
			return s.reject(ctx, order, errors.NewValidationError("quantity", order.Quantity,
				"sell exceeds settled holdings and open delivery position"))
		}
		covered = true
	}

	var required float64
	if !covered {
		price, err := s.referencePrice(ctx, order)
		if err != nil {
			return s.reject(ctx, order, err)
		}
		required, err = s.margin.Required(ctx, order, inst, price)
		if err != nil {
			return s.reject(ctx, order, err)
		}
	}

	s.locks.Lock(order.Account)
	if err := s.ledger.BlockMargin(order.Account, required); err != nil {
		s.locks.Unlock(order.Account)
		return s.reject(ctx, order, err)
	}
	order.BlockedMargin = required
	placed := s.book.Insert(order, models.StatusOpen)
	s.locks.Unlock(order.Account)

	s.logger.Info().
		Str("order_id", placed.ID).
		Str("account", placed.Account).
		Str("symbol", placed.Symbol).
		Str("side", string(placed.Side)).
		Str("type", string(placed.Type)).
		Int("quantity", placed.Quantity).
		Float64("margin", required).
		Msg("Order placed")

	s.persistOrder(ctx, *placed)
	return *placed, nil
}

// ModifyOrder re-prices a working order, settling the margin delta against
// the ledger before the order record changes.
func (s *Service) ModifyOrder(ctx context.Context, account, orderID string, quantity int, price, triggerPrice float64) (models.Order, error) {
	order, err := s.owned(account, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if !order.Active() {
		return models.Order{}, errors.Wrapf(errors.ErrNotModifiable, "id %s status %s", orderID, order.Status)
	}

	inst, err := s.metadata.GetInstrument(ctx, order.Symbol, order.Exchange)
	if err != nil {
		return models.Order{}, errors.NewOrderError(orderID, order.Symbol, "modify", "unknown instrument", err)
	}

	proposed := order
	proposed.Quantity = quantity
	proposed.Price = price
	proposed.TriggerPrice = triggerPrice
	if err := ValidateOrder(&proposed, inst, time.Now()); err != nil {
		return models.Order{}, err
	}

	var required float64
	if proposed.Product == models.ProductCNC && proposed.Side == models.OrderSideSell {
		// A delivery sell stays margin-free only while holdings plus the
		// open position still cover the new quantity.
		if !s.cncSellCovered(&proposed) {
			return models.Order{}, errors.NewValidationError("quantity", quantity,
				"sell exceeds settled holdings and open delivery position")
		}
	} else {
		refPrice, err := s.referencePrice(ctx, &proposed)
		if err != nil {
			return models.Order{}, err
		}
		required, err = s.margin.Required(ctx, &proposed, inst, refPrice)
		if err != nil {
			return models.Order{}, err
		}
	}

	s.locks.Lock(account)
	defer s.locks.Unlock(account)

	// Re-read under the lock: the engine may have filled it meanwhile.
	current, err := s.book.Get(orderID)
	if err != nil {
		return models.Order{}, err
	}
	if !current.Active() {
		return models.Order{}, errors.Wrapf(errors.ErrNotModifiable, "id %s status %s", orderID, current.Status)
	}

	delta := required - current.BlockedMargin
	if delta > 0 {
		if err := s.ledger.BlockMargin(account, delta); err != nil {
			return models.Order{}, err
		}
	} else if delta < 0 {
		s.ledger.ReleaseMargin(account, -delta)
	}
	if err := s.book.Modify(orderID, quantity, price, triggerPrice, required); err != nil {
		// Undo the margin move; the order did not change.
		if delta > 0 {
			s.ledger.ReleaseMargin(account, delta)
		} else if delta < 0 {
			_ = s.ledger.BlockMargin(account, -delta)
		}
		return models.Order{}, err
	}

	updated, _ := s.book.Get(orderID)
	s.persistOrder(ctx, updated)
	return updated, nil
}

// CancelOrder cancels a working order and returns its margin to the ledger.
func (s *Service) CancelOrder(ctx context.Context, account, orderID string) (models.Order, error) {
	if _, err := s.owned(account, orderID); err != nil {
		return models.Order{}, err
	}

	s.locks.Lock(account)
	released, err := s.book.Cancel(orderID)
	if err != nil {
		s.locks.Unlock(account)
		return models.Order{}, err
	}
	s.ledger.ReleaseMargin(account, released)
	s.locks.Unlock(account)

	cancelled, _ := s.book.Get(orderID)
	s.logger.Info().Str("order_id", orderID).Str("account", account).Msg("Order cancelled")
	s.persistOrder(ctx, cancelled)
	return cancelled, nil
}

// OrderFilter narrows bulk cancellation. Zero-value fields match every
// order.
type OrderFilter struct {
	Symbol   string
	Exchange models.Exchange
	Product  models.ProductType
}

// Matches reports whether an order passes the filter.
func (f OrderFilter) Matches(o *models.Order) bool {
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Exchange != "" && o.Exchange != f.Exchange {
		return false
	}
	if f.Product != "" && o.Product != f.Product {
		return false
	}
	return true
}

// CancelAllOrders cancels every working order of the account that passes
// the filter, skipping any that completes first. Returns the cancelled
// orders.
func (s *Service) CancelAllOrders(ctx context.Context, account string, filter OrderFilter) []models.Order {
	var out []models.Order
	for _, order := range s.book.Pending() {
		if order.Account != account || !filter.Matches(&order) {
			continue
		}
		cancelled, err := s.CancelOrder(ctx, account, order.ID)
		if err != nil {
			continue
		}
		out = append(out, cancelled)
	}
	return out
}

// GetOrder returns a single order owned by the account.
func (s *Service) GetOrder(account, orderID string) (models.Order, error) {
	return s.owned(account, orderID)
}

// GetOrderBook returns the account's full order history.
func (s *Service) GetOrderBook(account string) []models.Order {
	return s.book.Orders(account)
}

// GetTradeBook returns the account's fills.
func (s *Service) GetTradeBook(account string) []models.Trade {
	return s.book.Trades(account)
}

// GetPositions returns the account's open positions.
func (s *Service) GetPositions(account string) []models.Position {
	return s.positions.Positions(account)
}

// GetHoldings returns the account's settled holdings.
func (s *Service) GetHoldings(account string) []models.Holding {
	return s.holdings.Holdings(account)
}

// GetFunds returns the account's fund snapshot, creating the account with
// starting capital on first use.
func (s *Service) GetFunds(account string) models.Funds {
	return s.ledger.Get(account)
}

// ResetFunds performs an immediate out-of-schedule funds reset.
func (s *Service) ResetFunds(account string) models.Funds {
	s.reset.ResetAccount(account)
	return s.ledger.Get(account)
}

// owned fetches an order and hides other accounts' orders behind not-found.
func (s *Service) owned(account, orderID string) (models.Order, error) {
	order, err := s.book.Get(orderID)
	if err != nil {
		return models.Order{}, err
	}
	if order.Account != account {
		return models.Order{}, errors.Wrapf(errors.ErrOrderNotFound, "id %s", orderID)
	}
	return order, nil
}

// cncSellCovered reports whether settled holdings plus the open delivery
// position cover a CNC sell. Covered sells block no margin.
func (s *Service) cncSellCovered(order *models.Order) bool {
	available := s.holdings.Available(order.Account, order.Symbol, order.Exchange)
	key := models.PositionKey{
		Account:  order.Account,
		Symbol:   order.Symbol,
		Exchange: order.Exchange,
		Product:  models.ProductCNC,
	}
	if pos, ok := s.positions.Get(key); ok && pos.Quantity > 0 {
		available += pos.Quantity
	}
	return order.Quantity <= available
}

// referencePrice picks the price margin is sized against: the live LTP for
// market orders, the limit for limit and stop-limit orders, the trigger for
// stop-market orders.
func (s *Service) referencePrice(ctx context.Context, order *models.Order) (float64, error) {
	switch order.Type {
	case models.OrderTypeLimit, models.OrderTypeStopLoss:
		return order.Price, nil
	case models.OrderTypeStopLossM:
		return order.TriggerPrice, nil
	default:
		ltp, err := s.gateway.GetLastPrice(ctx, order.Symbol, order.Exchange)
		if err != nil {
			return 0, errors.NewOrderError("", order.Symbol, "place", "no market price", err)
		}
		return ltp, nil
	}
}

// reject records a rejected order for the audit trail and surfaces the
// reason to the caller.
func (s *Service) reject(ctx context.Context, order *models.Order, cause error) (models.Order, error) {
	order.RejectReason = cause.Error()
	rejected := s.book.Insert(order, models.StatusRejected)

	s.logger.Warn().
		Str("order_id", rejected.ID).
		Str("account", rejected.Account).
		Str("symbol", rejected.Symbol).
		Str("reason", rejected.RejectReason).
		Msg("Order rejected")

	s.persistOrder(ctx, *rejected)
	return *rejected, cause
}

func (s *Service) persistOrder(ctx context.Context, o models.Order) {
	err := utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
		return s.journal.RecordOrder(o)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", o.ID).Msg("Order persistence failed")
	}
}
