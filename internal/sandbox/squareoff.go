package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sandbox-trader/internal/config"
	"sandbox-trader/internal/models"
	"sandbox-trader/internal/quote"
	"sandbox-trader/pkg/utils"
)

// squareOffClasses lists every exchange class with a forced intraday close.
var squareOffClasses = []models.ExchangeClass{
	models.ClassEquity,
	models.ClassDerivative,
	models.ClassCurrency,
	models.ClassCommodity,
}

// SquareOffScheduler force-closes intraday positions at each exchange
// class's cutoff. Each class runs three phases per trading day: a warning
// before the cutoff, the close itself, and a stale-order sweep afterwards.
// Phases are idempotent within a day.
type SquareOffScheduler struct {
	cfg       *config.Config
	loc       *time.Location
	book      *Book
	positions *PositionManager
	engine    *ExecutionEngine
	ledger    *Ledger
	gateway   quote.Gateway
	notifier  *Notifier
	logger    zerolog.Logger

	mu   sync.Mutex
	done map[string]struct{}
}

// NewSquareOffScheduler creates a square-off scheduler.
func NewSquareOffScheduler(
	cfg *config.Config,
	loc *time.Location,
	book *Book,
	positions *PositionManager,
	engine *ExecutionEngine,
	ledger *Ledger,
	gateway quote.Gateway,
	notifier *Notifier,
	logger zerolog.Logger,
) *SquareOffScheduler {
	return &SquareOffScheduler{
		cfg:       cfg,
		loc:       loc,
		book:      book,
		positions: positions,
		engine:    engine,
		ledger:    ledger,
		gateway:   gateway,
		notifier:  notifier,
		logger:    logger.With().Str("component", "squareoff").Logger(),
		done:      make(map[string]struct{}),
	}
}

// Run polls the schedule until cancelled.
func (s *SquareOffScheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Msg("Square-off scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Square-off scheduler stopped")
			return
		case <-ticker.C:
			s.RunAt(ctx, time.Now())
		}
	}
}

// RunAt evaluates every class's schedule against now. Exposed so the close
// can be driven by a supplied clock.
func (s *SquareOffScheduler) RunAt(ctx context.Context, now time.Time) {
	now = now.In(s.loc)
	for _, class := range squareOffClasses {
		hour, minute := s.cfg.SquareOffClock(class)
		cutoff := utils.ClockToday(now, hour, minute, s.loc)
		warnAt := cutoff.Add(-time.Duration(s.cfg.SquareOff.WarnMinutes) * time.Minute)
		sweepAt := cutoff.Add(time.Duration(s.cfg.SquareOff.CancelAfterMinutes) * time.Minute)

		if !now.Before(warnAt) && now.Before(cutoff) {
			s.oncePerDay(class, cutoff, "warn", func() bool {
				s.warn(class, cutoff)
				return true
			})
		}
		if !now.Before(cutoff) {
			s.oncePerDay(class, cutoff, "close", func() bool {
				return s.closeClass(ctx, class, now)
			})
		}
		if !now.Before(sweepAt) {
			s.oncePerDay(class, cutoff, "sweep", func() bool {
				s.sweepOrders(class)
				return true
			})
		}
	}
}

// oncePerDay runs fn at most once per class/date/phase. fn returning false
// leaves the phase pending so the next tick retries it.
func (s *SquareOffScheduler) oncePerDay(class models.ExchangeClass, cutoff time.Time, phase string, fn func() bool) {
	key := fmt.Sprintf("%s:%s:%s", class, cutoff.Format("2006-01-02"), phase)
	s.mu.Lock()
	_, seen := s.done[key]
	s.mu.Unlock()
	if seen {
		return
	}
	if fn() {
		s.mu.Lock()
		s.done[key] = struct{}{}
		s.mu.Unlock()
	}
}

// warn notifies every account holding intraday positions in the class.
func (s *SquareOffScheduler) warn(class models.ExchangeClass, cutoff time.Time) {
	if s.notifier == nil {
		return
	}
	accounts := make(map[string]struct{})
	for _, pos := range s.positions.All() {
		if pos.Product == models.ProductMIS && pos.Exchange.Class() == class {
			accounts[pos.Account] = struct{}{}
		}
	}
	for account := range accounts {
		s.notifier.Notify(Event{
			Account: account,
			Kind:    EventSquareOffWarning,
			Message: fmt.Sprintf("Intraday %s positions square off at %s", class, cutoff.Format("15:04")),
		})
	}
}

// closeClass places and fills reversing market orders for every intraday
// position in the class. Returns true when every position closed; a missing
// quote leaves the phase pending for retry, which is safe because closed
// positions are gone from the book.
func (s *SquareOffScheduler) closeClass(ctx context.Context, class models.ExchangeClass, now time.Time) bool {
	var targets []models.Position
	for _, pos := range s.positions.All() {
		if pos.Product == models.ProductMIS && pos.Exchange.Class() == class && pos.Quantity != 0 {
			targets = append(targets, pos)
		}
	}
	if len(targets) == 0 {
		return true
	}

	keys := make([]quote.Key, 0, len(targets))
	seen := make(map[quote.Key]struct{})
	for _, pos := range targets {
		k := quote.Key{Symbol: pos.Symbol, Exchange: pos.Exchange}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	prices, err := s.gateway.GetLastPrices(ctx, keys)
	if err != nil {
		s.logger.Warn().Err(err).Str("class", string(class)).Msg("Square-off quote fetch failed, will retry")
		return false
	}

	complete := true
	for _, pos := range targets {
		ltp, ok := prices[quote.Key{Symbol: pos.Symbol, Exchange: pos.Exchange}]
		if !ok {
			s.logger.Warn().Str("symbol", pos.Symbol).Msg("No quote for square-off, will retry")
			complete = false
			continue
		}

		side := models.OrderSideSell
		if pos.Quantity < 0 {
			side = models.OrderSideBuy
		}
		order := s.book.Insert(&models.Order{
			Account:  pos.Account,
			Symbol:   pos.Symbol,
			Exchange: pos.Exchange,
			Side:     side,
			Type:     models.OrderTypeMarket,
			Product:  models.ProductMIS,
			Quantity: pos.AbsQuantity(),
			Tag:      "squareoff",
		}, models.StatusOpen)
		s.engine.ExecuteAt(ctx, order, ltp)

		s.logger.Info().
			Str("account", pos.Account).
			Str("symbol", pos.Symbol).
			Int("quantity", pos.Quantity).
			Float64("price", ltp).
			Msg("Intraday position squared off")

		if s.notifier != nil {
			s.notifier.Notify(Event{
				Account: pos.Account,
				Kind:    EventSquareOff,
				Message: fmt.Sprintf("Squared off %d %s @ %.2f", pos.Quantity, pos.Symbol, ltp),
			})
		}
	}
	return complete
}

// sweepOrders cancels every order of the class still working well after the
// cutoff, returning its blocked margin. The market is closed, so nothing
// resting can fill anymore, delivery and carry-forward orders included.
func (s *SquareOffScheduler) sweepOrders(class models.ExchangeClass) {
	for _, order := range s.book.Pending() {
		if order.Exchange.Class() != class {
			continue
		}
		released, err := s.book.Cancel(order.ID)
		if err != nil {
			continue
		}
		s.ledger.ReleaseMargin(order.Account, released)
		s.logger.Info().
			Str("order_id", order.ID).
			Str("account", order.Account).
			Msg("Stale order cancelled after square-off")
	}
}
