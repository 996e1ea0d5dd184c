package sandbox

import (
	"context"
	"time"

	"sandbox-trader/internal/config"
	"sandbox-trader/internal/errors"
	"sandbox-trader/internal/models"
)

// FuturePricer resolves the price of the future equivalent to an option
// contract, used for short-option margin. It is an injectable strategy:
// when no matching future exists the pricer must return
// errors.ErrNoUnderlyingFuture rather than guess.
type FuturePricer interface {
	FuturePrice(ctx context.Context, underlying string, exchange models.Exchange, expiry time.Time) (float64, error)
}

// MarginCalculator sizes the margin an order must block, by product class.
type MarginCalculator struct {
	leverage config.LeverageConfig
	pricer   FuturePricer
}

// NewMarginCalculator creates a margin calculator.
func NewMarginCalculator(leverage config.LeverageConfig, pricer FuturePricer) *MarginCalculator {
	return &MarginCalculator{leverage: leverage, pricer: pricer}
}

// Required computes the margin to block for an order at the given reference
// price. It may call the future pricer (an external fetch), so callers must
// not hold account locks while calling it.
//
// Sizing rules:
//   - equity MIS: trade value / intraday leverage
//   - equity CNC: full trade value
//   - futures (any derivative exchange): trade value / derivative leverage
//   - option buy: full premium (capital at risk is the premium)
//   - option sell: margin of the equivalent future on the same
//     underlying/expiry, not the premium
func (c *MarginCalculator) Required(ctx context.Context, order *models.Order, inst *models.Instrument, price float64) (float64, error) {
	value := price * float64(order.Quantity)

	if !order.Exchange.IsDerivative() {
		switch order.Product {
		case models.ProductMIS:
			if c.leverage.EquityMIS <= 0 {
				return 0, errors.NewMarginError(order.Symbol, string(order.Product), "missing intraday leverage", errors.ErrNoLeverage)
			}
			return value / c.leverage.EquityMIS, nil
		default:
			// CNC and equity NRML block the full trade value.
			return value, nil
		}
	}

	if c.leverage.Derivative <= 0 {
		return 0, errors.NewMarginError(order.Symbol, string(order.Product), "missing derivative leverage", errors.ErrNoLeverage)
	}

	if inst.Type.IsOption() {
		if order.Side == models.OrderSideBuy {
			return value, nil
		}
		// Short options margin like the equivalent future, not the premium.
		futPrice, err := c.pricer.FuturePrice(ctx, inst.Underlying, order.Exchange, inst.Expiry)
		if err != nil {
			return 0, errors.NewMarginError(order.Symbol, string(order.Product), "option sell margin needs underlying future", err)
		}
		return futPrice * float64(order.Quantity) / c.leverage.Derivative, nil
	}

	// Futures: exposure over derivative leverage, intraday or carry-forward.
	return value / c.leverage.Derivative, nil
}
