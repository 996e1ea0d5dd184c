// Package models provides domain models for the sandbox trading engine.
package models

import (
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	CDS Exchange = "CDS" // Currency
	MCX Exchange = "MCX" // Commodity
)

// ExchangeClass groups exchanges that share leverage and square-off rules.
type ExchangeClass string

const (
	ClassEquity     ExchangeClass = "EQUITY"
	ClassDerivative ExchangeClass = "DERIVATIVE"
	ClassCurrency   ExchangeClass = "CURRENCY"
	ClassCommodity  ExchangeClass = "COMMODITY"
)

// Class returns the exchange class for leverage and square-off purposes.
func (e Exchange) Class() ExchangeClass {
	switch e {
	case NFO:
		return ClassDerivative
	case CDS:
		return ClassCurrency
	case MCX:
		return ClassCommodity
	default:
		return ClassEquity
	}
}

// IsDerivative reports whether instruments on this exchange trade in lots.
func (e Exchange) IsDerivative() bool {
	return e.Class() != ClassEquity
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() int {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// Opposite returns the reversing side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLoss  OrderType = "SL"   // stop-limit
	OrderTypeStopLossM OrderType = "SL-M" // stop-market
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductCNC  ProductType = "CNC"  // Delivery
	ProductNRML ProductType = "NRML" // Carry-forward derivatives
)

// InstrumentType classifies a tradeable instrument.
type InstrumentType string

const (
	InstrumentEquity InstrumentType = "EQ"
	InstrumentFuture InstrumentType = "FUT"
	InstrumentCall   InstrumentType = "CE"
	InstrumentPut    InstrumentType = "PE"
)

// IsOption reports whether the instrument is an option contract.
func (t InstrumentType) IsOption() bool {
	return t == InstrumentCall || t == InstrumentPut
}

// Instrument represents a tradeable instrument and its contract metadata.
type Instrument struct {
	Symbol     string
	Exchange   Exchange
	Name       string
	LotSize    int
	TickSize   float64
	Expiry     time.Time // zero for non-derivatives
	Underlying string    // for F&O: the cash underlying symbol
	Type       InstrumentType
	Strike     float64
}

// Expired reports whether the instrument is past its expiry at t.
func (i *Instrument) Expired(t time.Time) bool {
	return !i.Expiry.IsZero() && t.After(i.Expiry)
}

// Quote represents a market quote.
type Quote struct {
	Symbol    string
	Exchange  Exchange
	LTP       float64
	Timestamp time.Time
}
