package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandbox-trader/internal/models"
	"sandbox-trader/internal/quote"
)

func trade(side models.OrderSide, qty int, price float64) models.Trade {
	return models.Trade{
		Account:    "acct1",
		Symbol:     "RELIANCE",
		Exchange:   models.NSE,
		Side:       side,
		Product:    models.ProductMIS,
		Quantity:   qty,
		Price:      price,
		ExecutedAt: time.Now(),
	}
}

func reliKey() models.PositionKey {
	return models.PositionKey{
		Account: "acct1", Symbol: "RELIANCE", Exchange: models.NSE, Product: models.ProductMIS,
	}
}

func newPositions(t *testing.T) (*PositionManager, *Ledger) {
	t.Helper()
	logger := zerolog.Nop()
	ledger := NewLedger(testCapital, logger)
	return NewPositionManager(ledger, quote.NewStaticGateway(), logger), ledger
}

func TestApplyTradeExtendsWithVWAP(t *testing.T) {
	pm, _ := newPositions(t)

	eff := pm.ApplyTrade(trade(models.OrderSideBuy, 100, 1200), 24000)
	assert.Equal(t, 0.0, eff.RealizedPnL)
	assert.Equal(t, 0.0, eff.ReleasedMargin)

	eff = pm.ApplyTrade(trade(models.OrderSideBuy, 50, 1230), 12300)
	assert.Equal(t, 0.0, eff.RealizedPnL)

	pos, ok := pm.Get(reliKey())
	require.True(t, ok)
	assert.Equal(t, 150, pos.Quantity)
	assert.InDelta(t, 1210.0, pos.AveragePrice, 1e-9)
	assert.Equal(t, 36300.0, pos.BlockedMargin)
}

func TestApplyTradeReduceKeepsAverage(t *testing.T) {
	pm, _ := newPositions(t)
	pm.ApplyTrade(trade(models.OrderSideBuy, 100, 1200), 24000)

	eff := pm.ApplyTrade(trade(models.OrderSideSell, 40, 1250), 0)

	// P&L crystallizes on the closed 40, margin releases proportionally.
	assert.InDelta(t, 2000.0, eff.RealizedPnL, 1e-9)
	assert.InDelta(t, 9600.0, eff.ReleasedMargin, 1e-9)
	assert.False(t, eff.ClosedFlat)

	pos, _ := pm.Get(reliKey())
	assert.Equal(t, 60, pos.Quantity)
	assert.Equal(t, 1200.0, pos.AveragePrice)
	assert.InDelta(t, 14400.0, pos.BlockedMargin, 1e-9)
}

func TestApplyTradeCloseFlatRemovesPosition(t *testing.T) {
	pm, _ := newPositions(t)
	pm.ApplyTrade(trade(models.OrderSideBuy, 100, 1200), 24000)

	eff := pm.ApplyTrade(trade(models.OrderSideSell, 100, 1150), 0)

	assert.InDelta(t, -5000.0, eff.RealizedPnL, 1e-9)
	assert.Equal(t, 24000.0, eff.ReleasedMargin)
	assert.True(t, eff.ClosedFlat)

	_, ok := pm.Get(reliKey())
	assert.False(t, ok)
}

func TestApplyTradeFlipOpensOppositeSide(t *testing.T) {
	pm, _ := newPositions(t)
	pm.ApplyTrade(trade(models.OrderSideBuy, 100, 1200), 24000)

	// Sell 150: 100 closes at +50/share, 50 opens short at 1250.
	eff := pm.ApplyTrade(trade(models.OrderSideSell, 150, 1250), 37500)

	assert.InDelta(t, 5000.0, eff.RealizedPnL, 1e-9)
	// Old 24000 plus the closing two-thirds of the new trade's margin.
	assert.InDelta(t, 24000.0+25000.0, eff.ReleasedMargin, 1e-9)

	pos, ok := pm.Get(reliKey())
	require.True(t, ok)
	assert.Equal(t, -50, pos.Quantity)
	assert.Equal(t, 1250.0, pos.AveragePrice)
	assert.InDelta(t, 12500.0, pos.BlockedMargin, 1e-9)
}

func TestShortPositionRealizesOnBuyback(t *testing.T) {
	pm, _ := newPositions(t)
	pm.ApplyTrade(trade(models.OrderSideSell, 100, 1200), 24000)

	eff := pm.ApplyTrade(trade(models.OrderSideBuy, 100, 1150), 0)

	// Short from 1200 covered at 1150 gains 50/share.
	assert.InDelta(t, 5000.0, eff.RealizedPnL, 1e-9)
	assert.True(t, eff.ClosedFlat)
}

func TestRefreshMarksAggregatesUnrealized(t *testing.T) {
	logger := zerolog.Nop()
	ledger := NewLedger(testCapital, logger)
	gw := quote.NewStaticGateway()
	pm := NewPositionManager(ledger, gw, logger)

	pm.ApplyTrade(trade(models.OrderSideBuy, 100, 1200), 24000)
	short := trade(models.OrderSideSell, 50, 900)
	short.Symbol = "INFY"
	pm.ApplyTrade(short, 9000)

	pm.RefreshMarks(map[quote.Key]float64{
		{Symbol: "RELIANCE", Exchange: models.NSE}: 1250, // +5000
		{Symbol: "INFY", Exchange: models.NSE}:     920,  // -1000
	})

	f := ledger.Get("acct1")
	assert.InDelta(t, 4000.0, f.UnrealizedPnL, 1e-9)

	pos, _ := pm.Get(reliKey())
	assert.Equal(t, 1250.0, pos.LastPrice)
	assert.InDelta(t, 5000.0, pos.UnrealizedPnL, 1e-9)
}

func TestRefreshMarksKeepsStaleMarkWhenMissing(t *testing.T) {
	pm, _ := newPositions(t)
	pm.ApplyTrade(trade(models.OrderSideBuy, 100, 1200), 24000)

	pm.RefreshMarks(map[quote.Key]float64{})

	pos, _ := pm.Get(reliKey())
	assert.Equal(t, 1200.0, pos.LastPrice)
	assert.Equal(t, 0.0, pos.UnrealizedPnL)
}

func TestRefreshMarksZeroesFlatAccount(t *testing.T) {
	pm, ledger := newPositions(t)
	pm.ApplyTrade(trade(models.OrderSideBuy, 100, 1200), 24000)

	pm.RefreshMarks(map[quote.Key]float64{
		{Symbol: "RELIANCE", Exchange: models.NSE}: 1250,
	})
	require.InDelta(t, 5000.0, ledger.Get("acct1").UnrealizedPnL, 1e-9)

	// Closing the last position must pull the funds figure back to zero on
	// the next pass, not freeze it at the final mark.
	pm.ApplyTrade(trade(models.OrderSideSell, 100, 1250), 0)
	pm.Cycle(context.Background())

	assert.Equal(t, 0.0, ledger.Get("acct1").UnrealizedPnL)
}

// The net position quantity always equals the sum of signed trade
// quantities, whatever order the fills arrive in.
func TestPositionQuantityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("net quantity equals signed trade sum", prop.ForAll(
		func(qtys []int, buys []bool) bool {
			pm, _ := newPositions(t)
			n := len(qtys)
			if len(buys) < n {
				n = len(buys)
			}
			sum := 0
			for i := 0; i < n; i++ {
				qty := qtys[i]%500 + 1
				side := models.OrderSideSell
				signed := -qty
				if buys[i] {
					side = models.OrderSideBuy
					signed = qty
				}
				pm.ApplyTrade(trade(side, qty, 100), float64(qty*20))
				sum += signed
			}
			pos, ok := pm.Get(reliKey())
			if sum == 0 {
				return !ok
			}
			return ok && pos.Quantity == sum
		},
		gen.SliceOf(gen.IntRange(0, 499)),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
