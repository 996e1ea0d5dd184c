package models

import "time"

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusTriggered OrderStatus = "triggered"
	StatusComplete  OrderStatus = "complete"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled || s == StatusRejected
}

// Order represents a sandbox trading order. Orders are append-only history:
// they are never deleted, finality is marked by status.
type Order struct {
	ID           string
	Account      string
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64 // limit price
	TriggerPrice float64
	Status       OrderStatus
	FilledQty    int
	AveragePrice float64
	// Margin blocked for this order at placement, released or adjusted
	// on fill and on cancellation.
	BlockedMargin float64
	RejectReason  string
	Tag           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the order is still working (open or triggered).
func (o *Order) Active() bool {
	return o.Status == StatusOpen || o.Status == StatusTriggered
}

// Trade is an immutable fill record, created exactly once per fill event.
type Trade struct {
	ID         string
	OrderID    string
	Account    string
	Symbol     string
	Exchange   Exchange
	Side       OrderSide
	Product    ProductType
	Quantity   int
	Price      float64
	ExecutedAt time.Time
}
