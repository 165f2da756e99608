package models

import "fmt"

// TradeSide represents the direction of a proposed trade.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// ProposedTrade is one leg of an in-flight trade proposal. Quantity is a
// signed delta: positive for BUY, negative for SELL.
type ProposedTrade struct {
	Symbol   string
	Quantity int
	Side     TradeSide
}

// Validate checks sign/side consistency.
func (t ProposedTrade) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("proposed trade symbol is required")
	}
	switch t.Side {
	case SideBuy:
		if t.Quantity <= 0 {
			return fmt.Errorf("BUY trade for %s must have positive quantity, got %d", t.Symbol, t.Quantity)
		}
	case SideSell:
		if t.Quantity >= 0 {
			return fmt.Errorf("SELL trade for %s must have negative quantity, got %d", t.Symbol, t.Quantity)
		}
	default:
		return fmt.Errorf("invalid trade side %q for %s", t.Side, t.Symbol)
	}
	return nil
}

// TradeProposal is the mutable candidate set of trades threaded through the
// pipeline stages before finalization into orders.
type TradeProposal struct {
	Trades     []ProposedTrade
	Confidence float64
	Reasoning  string
}

// Validate checks every trade and the no-duplicate-symbol invariant.
func (p *TradeProposal) Validate() error {
	seen := make(map[string]bool, len(p.Trades))
	for _, t := range p.Trades {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Symbol] {
			return fmt.Errorf("duplicate symbol %s in proposal", t.Symbol)
		}
		seen[t.Symbol] = true
	}
	return nil
}

// Clone returns a deep copy of the proposal. Stages that rescale quantities
// work on a copy so the previous stage boundary stays inspectable.
func (p *TradeProposal) Clone() *TradeProposal {
	trades := make([]ProposedTrade, len(p.Trades))
	copy(trades, p.Trades)
	return &TradeProposal{
		Trades:     trades,
		Confidence: p.Confidence,
		Reasoning:  p.Reasoning,
	}
}

// Find returns the trade for a symbol, or nil.
func (p *TradeProposal) Find(symbol string) *ProposedTrade {
	for i := range p.Trades {
		if p.Trades[i].Symbol == symbol {
			return &p.Trades[i]
		}
	}
	return nil
}

// TotalAbsQuantity returns the sum of absolute quantities across all trades.
func (p *TradeProposal) TotalAbsQuantity() int {
	total := 0
	for _, t := range p.Trades {
		q := t.Quantity
		if q < 0 {
			q = -q
		}
		total += q
	}
	return total
}
