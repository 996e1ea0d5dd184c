package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandbox-trader/internal/errors"
	"sandbox-trader/internal/models"
	"sandbox-trader/internal/quote"
)

func TestMarginEquityIntraday(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order := &models.Order{
		Symbol:   "RELIANCE",
		Exchange: models.NSE,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Product:  models.ProductMIS,
		Quantity: 100,
	}
	inst, err := h.gw.GetInstrument(ctx, "RELIANCE", models.NSE)
	require.NoError(t, err)

	// 100 * 1200 / 5x intraday leverage.
	required, err := h.margin.Required(ctx, order, inst, 1200)
	require.NoError(t, err)
	assert.Equal(t, 24000.0, required)
}

func TestMarginEquityDeliveryIsFullValue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order := &models.Order{
		Symbol:   "RELIANCE",
		Exchange: models.NSE,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Product:  models.ProductCNC,
		Quantity: 100,
	}
	inst, _ := h.gw.GetInstrument(ctx, "RELIANCE", models.NSE)

	required, err := h.margin.Required(ctx, order, inst, 1200)
	require.NoError(t, err)
	assert.Equal(t, 120000.0, required)
}

func TestMarginFutures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expiry := time.Now().AddDate(0, 1, 0)
	h.addFuture("NIFTYFUT", 50, expiry, "NIFTY")

	order := &models.Order{
		Symbol:   "NIFTYFUT",
		Exchange: models.NFO,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Product:  models.ProductNRML,
		Quantity: 50,
	}
	inst, err := h.gw.GetInstrument(ctx, "NIFTYFUT", models.NFO)
	require.NoError(t, err)

	// One lot of 50 at 25150 over 10x derivative leverage.
	required, err := h.margin.Required(ctx, order, inst, 25150)
	require.NoError(t, err)
	assert.Equal(t, 125750.0, required)
}

func TestMarginOptionBuyIsPremium(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expiry := time.Now().AddDate(0, 1, 0)
	h.addOption("NIFTY25000CE", 50, expiry, "NIFTY", models.InstrumentCall, 25000)

	order := &models.Order{
		Symbol:   "NIFTY25000CE",
		Exchange: models.NFO,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Product:  models.ProductNRML,
		Quantity: 50,
	}
	inst, _ := h.gw.GetInstrument(ctx, "NIFTY25000CE", models.NFO)

	required, err := h.margin.Required(ctx, order, inst, 150)
	require.NoError(t, err)
	assert.Equal(t, 7500.0, required)
}

func TestMarginOptionSellUsesEquivalentFuture(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expiry := time.Now().AddDate(0, 1, 0)
	h.addOption("NIFTY25000CE", 50, expiry, "NIFTY", models.InstrumentCall, 25000)

	// The future on the same underlying and expiry quotes at 25150.
	h.gw.SetPrice(quote.FutureSymbol("NIFTY", expiry), models.NFO, 25150)

	order := &models.Order{
		Symbol:   "NIFTY25000CE",
		Exchange: models.NFO,
		Side:     models.OrderSideSell,
		Type:     models.OrderTypeMarket,
		Product:  models.ProductNRML,
		Quantity: 50,
	}
	inst, _ := h.gw.GetInstrument(ctx, "NIFTY25000CE", models.NFO)

	required, err := h.margin.Required(ctx, order, inst, 150)
	require.NoError(t, err)

	// Future-equivalent margin, not the 7500 premium.
	assert.Equal(t, 125750.0, required)
}

func TestMarginOptionSellWithoutFutureRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expiry := time.Now().AddDate(0, 1, 0)
	h.addOption("NIFTY25000CE", 50, expiry, "NIFTY", models.InstrumentCall, 25000)

	order := &models.Order{
		Symbol:   "NIFTY25000CE",
		Exchange: models.NFO,
		Side:     models.OrderSideSell,
		Type:     models.OrderTypeMarket,
		Product:  models.ProductNRML,
		Quantity: 50,
	}
	inst, _ := h.gw.GetInstrument(ctx, "NIFTY25000CE", models.NFO)

	_, err := h.margin.Required(ctx, order, inst, 150)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoUnderlyingFuture))

	var marginErr *errors.MarginError
	assert.True(t, errors.As(err, &marginErr))
}
