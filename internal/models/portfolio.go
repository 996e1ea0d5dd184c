package models

import (
	"fmt"
	"time"
)

// PositionKey identifies a net position.
type PositionKey struct {
	Account  string
	Symbol   string
	Exchange Exchange
	Product  ProductType
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Account, k.Exchange, k.Symbol, k.Product)
}

// Position represents a signed net position.
type Position struct {
	Account       string
	Symbol        string
	Exchange      Exchange
	Product       ProductType
	Quantity      int // signed: negative for short
	AveragePrice  float64
	LastPrice     float64
	UnrealizedPnL float64
	// Margin currently blocked in the fund ledger for this position.
	BlockedMargin float64
	// Time of the trade that opened the position since it was last flat.
	// Drives delivery settlement eligibility.
	OpenedAt  time.Time
	UpdatedAt time.Time
}

// Key returns the position's identifying key.
func (p *Position) Key() PositionKey {
	return PositionKey{Account: p.Account, Symbol: p.Symbol, Exchange: p.Exchange, Product: p.Product}
}

// AbsQuantity returns the unsigned position size.
func (p *Position) AbsQuantity() int {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// HoldingKey identifies a settled delivery holding.
type HoldingKey struct {
	Account  string
	Symbol   string
	Exchange Exchange
}

// Holding represents a settled delivery position.
type Holding struct {
	Account      string
	Symbol       string
	Exchange     Exchange
	Quantity     int
	AveragePrice float64
	LastPrice    float64
	SettledAt    time.Time
}

// Key returns the holding's identifying key.
func (h *Holding) Key() HoldingKey {
	return HoldingKey{Account: h.Account, Symbol: h.Symbol, Exchange: h.Exchange}
}

// InvestedValue returns average price times quantity.
func (h *Holding) InvestedValue() float64 {
	return h.AveragePrice * float64(h.Quantity)
}

// CurrentValue returns last price times quantity.
func (h *Holding) CurrentValue() float64 {
	return h.LastPrice * float64(h.Quantity)
}

// PnL returns current value minus invested value.
func (h *Holding) PnL() float64 {
	return h.CurrentValue() - h.InvestedValue()
}

// Funds represents one account's simulated fund ledger.
type Funds struct {
	Account       string
	AvailableCash float64
	BlockedMargin float64
	RealizedPnL   float64
	UnrealizedPnL float64
	// Derived from holdings marks, never authoritative.
	CollateralValue float64
	UpdatedAt       time.Time
}
