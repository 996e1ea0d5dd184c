package sandbox

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sandbox-trader/internal/config"
	"sandbox-trader/internal/models"
	"sandbox-trader/internal/quote"
)

const testCapital = 10000000.0

// harness wires a full in-memory sandbox against a static quote gateway.
type harness struct {
	gw        *quote.StaticGateway
	ledger    *Ledger
	book      *Book
	locks     *AccountLocks
	positions *PositionManager
	holdings  *HoldingsManager
	margin    *MarginCalculator
	engine    *ExecutionEngine
	reset     *ResetScheduler
	squareoff *SquareOffScheduler
	service   *Service
	cfg       *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()

	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			StartingCapital:    testCapital,
			OrderCheckInterval: 5,
			MTMInterval:        5,
			SettlementDays:     1,
			ResetDay:           "Sunday",
			ResetTime:          "00:00",
			Timezone:           "UTC",
		},
		Leverage: config.LeverageConfig{EquityMIS: 5, EquityCNC: 1, Derivative: 10},
		SquareOff: config.SquareOffConfig{
			Equity:             "15:15",
			Currency:           "16:45",
			Commodity:          "23:30",
			WarnMinutes:        5,
			CancelAfterMinutes: 30,
		},
		Quotes: config.QuoteConfig{Provider: "static", RateLimit: 10, BatchSize: 20},
	}

	h := &harness{cfg: cfg}
	h.gw = quote.NewStaticGateway()
	h.ledger = NewLedger(testCapital, logger)
	h.book = NewBook()
	h.locks = NewAccountLocks()
	h.positions = NewPositionManager(h.ledger, h.gw, logger)
	h.holdings = NewHoldingsManager(h.positions, h.ledger, h.gw, h.locks, cfg.Sandbox.SettlementDays, logger)
	h.margin = NewMarginCalculator(cfg.Leverage, &quote.GatewayFuturePricer{Gateway: h.gw})
	h.engine = NewExecutionEngine(h.book, h.positions, h.holdings, h.ledger, h.locks,
		h.gw, h.margin, h.gw, nil, nil, time.Second, logger)
	h.squareoff = NewSquareOffScheduler(cfg, time.UTC, h.book, h.positions, h.engine,
		h.ledger, h.gw, nil, logger)
	h.reset = NewResetScheduler(cfg, time.UTC, h.ledger, h.positions, h.holdings,
		h.locks, nil, logger)
	h.service = NewService(h.book, h.ledger, h.positions, h.holdings, h.locks,
		h.margin, h.gw, h.gw, nil, nil, h.reset, logger)
	return h
}

func (h *harness) addFuture(symbol string, lotSize int, expiry time.Time, underlying string) {
	h.gw.AddInstrument(models.Instrument{
		Symbol:     symbol,
		Exchange:   models.NFO,
		LotSize:    lotSize,
		TickSize:   0.05,
		Expiry:     expiry,
		Underlying: underlying,
		Type:       models.InstrumentFuture,
	})
}

func (h *harness) addOption(symbol string, lotSize int, expiry time.Time, underlying string, typ models.InstrumentType, strike float64) {
	h.gw.AddInstrument(models.Instrument{
		Symbol:     symbol,
		Exchange:   models.NFO,
		LotSize:    lotSize,
		TickSize:   0.05,
		Expiry:     expiry,
		Underlying: underlying,
		Type:       typ,
		Strike:     strike,
	})
}

func equityBuy(account, symbol string, qty int) OrderRequest {
	return OrderRequest{
		Account:  account,
		Symbol:   symbol,
		Exchange: models.NSE,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Product:  models.ProductMIS,
		Quantity: qty,
	}
}
