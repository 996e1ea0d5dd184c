// Package quote provides access to external market data collaborators.
package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sandbox-trader/internal/errors"
	"sandbox-trader/internal/models"
)

// Key identifies an instrument for a quote fetch.
type Key struct {
	Symbol   string
	Exchange models.Exchange
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Exchange, k.Symbol)
}

// Gateway is the external price source. The sandbox never invents prices:
// every fill and mark comes through this interface.
type Gateway interface {
	// GetLastPrice fetches the last traded price for a single instrument.
	GetLastPrice(ctx context.Context, symbol string, exchange models.Exchange) (float64, error)
	// GetLastPrices fetches last traded prices for a batch of instruments.
	// Missing instruments are absent from the result, not an error.
	GetLastPrices(ctx context.Context, keys []Key) (map[Key]float64, error)
}

// MetadataGateway exposes instrument contract metadata.
type MetadataGateway interface {
	GetInstrument(ctx context.Context, symbol string, exchange models.Exchange) (*models.Instrument, error)
}

// StaticGateway serves quotes and instrument metadata from in-memory tables.
// It backs the "static" provider and the test suites.
type StaticGateway struct {
	mu          sync.RWMutex
	prices      map[Key]float64
	instruments map[Key]*models.Instrument
}

var _ Gateway = (*StaticGateway)(nil)
var _ MetadataGateway = (*StaticGateway)(nil)

// NewStaticGateway creates an empty static gateway.
func NewStaticGateway() *StaticGateway {
	return &StaticGateway{
		prices:      make(map[Key]float64),
		instruments: make(map[Key]*models.Instrument),
	}
}

// SetPrice sets the last traded price for an instrument.
func (g *StaticGateway) SetPrice(symbol string, exchange models.Exchange, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[Key{Symbol: symbol, Exchange: exchange}] = price
}

// AddInstrument registers instrument metadata.
func (g *StaticGateway) AddInstrument(inst models.Instrument) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instruments[Key{Symbol: inst.Symbol, Exchange: inst.Exchange}] = &inst
}

// GetLastPrice returns the configured price for an instrument.
func (g *StaticGateway) GetLastPrice(_ context.Context, symbol string, exchange models.Exchange) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	price, ok := g.prices[Key{Symbol: symbol, Exchange: exchange}]
	if !ok {
		return 0, fmt.Errorf("%w: %s:%s", errors.ErrQuoteUnavailable, exchange, symbol)
	}
	return price, nil
}

// GetLastPrices returns configured prices for the requested instruments.
func (g *StaticGateway) GetLastPrices(_ context.Context, keys []Key) (map[Key]float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[Key]float64, len(keys))
	for _, k := range keys {
		if price, ok := g.prices[k]; ok {
			out[k] = price
		}
	}
	return out, nil
}

// GetInstrument returns instrument metadata. Equity symbols that were never
// registered get implicit lot size 1 metadata; derivative exchanges require
// explicit registration.
func (g *StaticGateway) GetInstrument(_ context.Context, symbol string, exchange models.Exchange) (*models.Instrument, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if inst, ok := g.instruments[Key{Symbol: symbol, Exchange: exchange}]; ok {
		cp := *inst
		return &cp, nil
	}
	if !exchange.IsDerivative() {
		return &models.Instrument{
			Symbol:   symbol,
			Exchange: exchange,
			LotSize:  1,
			TickSize: 0.05,
			Type:     models.InstrumentEquity,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s:%s", errors.ErrSymbolNotFound, exchange, symbol)
}

// GatewayFuturePricer resolves the margin-equivalent future price for an
// option by asking the gateway for the future on the same underlying and
// expiry. The future symbol is derived by contract naming convention
// (underlying + expiry code + "FUT").
type GatewayFuturePricer struct {
	Gateway Gateway
}

// FuturePrice returns the last price of the future matching the option's
// underlying and expiry. When no such contract quotes, the error is
// ErrNoUnderlyingFuture and the caller must reject rather than guess.
func (p *GatewayFuturePricer) FuturePrice(ctx context.Context, underlying string, exchange models.Exchange, expiry time.Time) (float64, error) {
	symbol := FutureSymbol(underlying, expiry)
	price, err := p.Gateway.GetLastPrice(ctx, symbol, exchange)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", errors.ErrNoUnderlyingFuture, symbol)
	}
	return price, nil
}

// FutureSymbol derives the futures contract symbol for an underlying and
// expiry, e.g. NIFTY + 2026-09-24 -> NIFTY25SEPFUT-style codes are broker
// specific; the sandbox uses UNDERLYING+YYMON+FUT.
func FutureSymbol(underlying string, expiry time.Time) string {
	return fmt.Sprintf("%s%sFUT", underlying, expiry.Format("06Jan"))
}
