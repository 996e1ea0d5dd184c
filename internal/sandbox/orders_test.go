package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandbox-trader/internal/errors"
	"sandbox-trader/internal/models"
)

func testOrder() *models.Order {
	return &models.Order{
		Account:  "acct1",
		Symbol:   "RELIANCE",
		Exchange: models.NSE,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Product:  models.ProductMIS,
		Quantity: 100,
	}
}

func TestBookInsertAssignsID(t *testing.T) {
	b := NewBook()

	first := b.Insert(testOrder(), models.StatusOpen)
	second := b.Insert(testOrder(), models.StatusOpen)

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.StatusOpen, first.Status)
}

func TestBookFillCompletesOrder(t *testing.T) {
	b := NewBook()
	o := b.Insert(testOrder(), models.StatusOpen)

	trade, err := b.ApplyFill(o.ID, 1200)
	require.NoError(t, err)

	assert.Equal(t, o.ID, trade.OrderID)
	assert.Equal(t, 100, trade.Quantity)
	assert.Equal(t, 1200.0, trade.Price)

	filled, err := b.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, filled.Status)
	assert.Equal(t, 100, filled.FilledQty)
	assert.Equal(t, 1200.0, filled.AveragePrice)
}

func TestBookFillIsSingleShot(t *testing.T) {
	b := NewBook()
	o := b.Insert(testOrder(), models.StatusOpen)

	_, err := b.ApplyFill(o.ID, 1200)
	require.NoError(t, err)

	// A second fill must fail and create no second trade.
	_, err = b.ApplyFill(o.ID, 1300)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOrderTerminal))
	assert.Len(t, b.Trades("acct1"), 1)
}

func TestBookTriggeredTransition(t *testing.T) {
	b := NewBook()
	o := testOrder()
	o.Type = models.OrderTypeStopLoss
	o.Price = 1210
	o.TriggerPrice = 1205
	placed := b.Insert(o, models.StatusOpen)

	require.NoError(t, b.MarkTriggered(placed.ID))

	// Triggering twice is invalid; triggered is not open.
	err := b.MarkTriggered(placed.ID)
	require.Error(t, err)

	// A triggered order can still fill.
	_, err = b.ApplyFill(placed.ID, 1208)
	require.NoError(t, err)
}

func TestBookCancelReturnsMargin(t *testing.T) {
	b := NewBook()
	o := testOrder()
	o.BlockedMargin = 24000
	placed := b.Insert(o, models.StatusOpen)

	released, err := b.Cancel(placed.ID)
	require.NoError(t, err)
	assert.Equal(t, 24000.0, released)

	cancelled, _ := b.Get(placed.ID)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	// Cancelling again reports terminal and releases nothing.
	released, err = b.Cancel(placed.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOrderTerminal))
	assert.Equal(t, 0.0, released)
}

func TestBookCancelAfterFillFails(t *testing.T) {
	b := NewBook()
	placed := b.Insert(testOrder(), models.StatusOpen)
	_, err := b.ApplyFill(placed.ID, 1200)
	require.NoError(t, err)

	_, err = b.Cancel(placed.ID)
	assert.True(t, errors.Is(err, errors.ErrOrderTerminal))
}

func TestBookModifyTerminalFails(t *testing.T) {
	b := NewBook()
	placed := b.Insert(testOrder(), models.StatusOpen)
	_, err := b.ApplyFill(placed.ID, 1200)
	require.NoError(t, err)

	err = b.Modify(placed.ID, 50, 1100, 0, 11000)
	assert.True(t, errors.Is(err, errors.ErrNotModifiable))
}

func TestBookPendingExcludesTerminal(t *testing.T) {
	b := NewBook()
	open := b.Insert(testOrder(), models.StatusOpen)
	filled := b.Insert(testOrder(), models.StatusOpen)
	rejected := b.Insert(testOrder(), models.StatusRejected)

	_, err := b.ApplyFill(filled.ID, 1200)
	require.NoError(t, err)

	pending := b.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, open.ID, pending[0].ID)

	// Rejected orders stay in history.
	assert.Len(t, b.Orders("acct1"), 3)
	_ = rejected
}

func TestValidateOrderRejectsBadInput(t *testing.T) {
	inst := &models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE, LotSize: 1, Type: models.InstrumentEquity}
	now := time.Now()

	cases := []struct {
		name   string
		mutate func(*models.Order)
	}{
		{"zero quantity", func(o *models.Order) { o.Quantity = 0 }},
		{"negative price", func(o *models.Order) { o.Price = -1 }},
		{"bad side", func(o *models.Order) { o.Side = "HOLD" }},
		{"bad type", func(o *models.Order) { o.Type = "ICEBERG" }},
		{"bad product", func(o *models.Order) { o.Product = "BO" }},
		{"limit without price", func(o *models.Order) { o.Type = models.OrderTypeLimit; o.Price = 0 }},
		{"stop without trigger", func(o *models.Order) { o.Type = models.OrderTypeStopLossM; o.TriggerPrice = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := testOrder()
			tc.mutate(o)
			err := ValidateOrder(o, inst, now)
			require.Error(t, err)

			var vErr *errors.ValidationError
			assert.True(t, errors.As(err, &vErr))
		})
	}
}

func TestValidateOrderLotSize(t *testing.T) {
	expiry := time.Now().AddDate(0, 1, 0)
	inst := &models.Instrument{
		Symbol: "NIFTYFUT", Exchange: models.NFO, LotSize: 50,
		Expiry: expiry, Type: models.InstrumentFuture,
	}

	o := testOrder()
	o.Symbol = "NIFTYFUT"
	o.Exchange = models.NFO
	o.Product = models.ProductNRML
	o.Quantity = 75
	err := ValidateOrder(o, inst, time.Now())
	require.Error(t, err)

	o.Quantity = 100
	assert.NoError(t, ValidateOrder(o, inst, time.Now()))
}

func TestValidateOrderExpiredInstrument(t *testing.T) {
	inst := &models.Instrument{
		Symbol: "NIFTYFUT", Exchange: models.NFO, LotSize: 50,
		Expiry: time.Now().AddDate(0, 0, -1), Type: models.InstrumentFuture,
	}

	o := testOrder()
	o.Symbol = "NIFTYFUT"
	o.Exchange = models.NFO
	o.Product = models.ProductNRML
	o.Quantity = 50
	err := ValidateOrder(o, inst, time.Now())
	require.Error(t, err)
}

func TestValidateOrderCNCOnDerivativeExchange(t *testing.T) {
	expiry := time.Now().AddDate(0, 1, 0)
	inst := &models.Instrument{
		Symbol: "NIFTYFUT", Exchange: models.NFO, LotSize: 50,
		Expiry: expiry, Type: models.InstrumentFuture,
	}

	o := testOrder()
	o.Symbol = "NIFTYFUT"
	o.Exchange = models.NFO
	o.Product = models.ProductCNC
	o.Quantity = 50
	err := ValidateOrder(o, inst, time.Now())
	require.Error(t, err)
}
