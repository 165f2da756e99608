package models

import (
	"fmt"
	"time"
)

// OrderType represents the venue-facing type of an order.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// ValidOrderType reports whether t is a known order type.
func ValidOrderType(t OrderType) bool {
	switch t {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeStopLimit, OrderTypeStopMarket:
		return true
	}
	return false
}

// TimeInForce represents how long an order remains active.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// ValidTimeInForce reports whether tif is a known time-in-force.
func ValidTimeInForce(tif TimeInForce) bool {
	switch tif {
	case TIFDay, TIFGTC, TIFIOC, TIFFOK:
		return true
	}
	return false
}

// Order is the terminal artifact handed to the order gateway collaborator.
// Quantity is always positive; direction is carried by Side.
type Order struct {
	Symbol      string
	Quantity    int
	Side        TradeSide
	Type        OrderType
	Price       float64 // 0 for order types without a price
	HasPrice    bool
	TimeInForce TimeInForce
	CreatedAt   time.Time
}

// Validate checks the order invariants before handoff to the gateway.
func (o Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order symbol is required")
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %d", o.Quantity)
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("invalid order side %q", o.Side)
	}
	if !ValidOrderType(o.Type) {
		return fmt.Errorf("invalid order type %q", o.Type)
	}
	if !ValidTimeInForce(o.TimeInForce) {
		return fmt.Errorf("invalid time in force %q", o.TimeInForce)
	}
	if o.HasPrice && o.Price <= 0 {
		return fmt.Errorf("order price must be positive, got %f", o.Price)
	}
	if o.Type == OrderTypeLimit && !o.HasPrice {
		return fmt.Errorf("limit order for %s requires a price", o.Symbol)
	}
	return nil
}
