// Package models provides domain models for the trade execution pipeline.
package models

import "fmt"

// Signal represents a directional estimate for a symbol from an upstream
// strategy. Signals are immutable once received.
type Signal struct {
	Symbol     string
	Strength   float64 // -1 (strong sell) to 1 (strong buy)
	Confidence float64 // 0 to 1
}

// Validate checks that the signal fields are within documented bounds.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal symbol is required")
	}
	if s.Strength < -1 || s.Strength > 1 {
		return fmt.Errorf("signal strength must be between -1 and 1, got %f", s.Strength)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal confidence must be between 0 and 1, got %f", s.Confidence)
	}
	return nil
}

// Position represents an open position in the portfolio.
type Position struct {
	Symbol       string
	Quantity     int // signed: negative for shorts
	AveragePrice float64
}

// PortfolioState is a point-in-time snapshot of the portfolio. The pipeline
// reads it once per cycle and never mutates the source of truth.
type PortfolioState struct {
	Positions map[string]Position
	Cash      float64
}

// Value returns the total portfolio value at the given prices. Positions
// without a price are valued at their average price.
func (p *PortfolioState) Value(prices map[string]float64) float64 {
	total := p.Cash
	for symbol, pos := range p.Positions {
		price, ok := prices[symbol]
		if !ok {
			price = pos.AveragePrice
		}
		total += float64(pos.Quantity) * price
	}
	return total
}

// Validate checks snapshot consistency.
func (p *PortfolioState) Validate() error {
	if p.Cash < 0 {
		return fmt.Errorf("portfolio cash must be non-negative, got %f", p.Cash)
	}
	for symbol, pos := range p.Positions {
		if pos.Symbol != symbol {
			return fmt.Errorf("position key %q does not match position symbol %q", symbol, pos.Symbol)
		}
		if pos.AveragePrice < 0 {
			return fmt.Errorf("position %s average price must be non-negative", symbol)
		}
	}
	return nil
}

// RiskMetrics holds the risk measures computed for a proposal.
type RiskMetrics struct {
	PortfolioRisk float64
	PositionRisk  map[string]float64
	ValueAtRisk   float64
}

// CorrelationMatrix is a symmetric mapping of symbol pairs to their
// correlation. Supplied by an external estimator, read-only for one cycle.
type CorrelationMatrix struct {
	values map[string]map[string]float64
}

// NewCorrelationMatrix creates an empty correlation matrix.
func NewCorrelationMatrix() *CorrelationMatrix {
	return &CorrelationMatrix{values: make(map[string]map[string]float64)}
}

// Set records the correlation between two symbols, symmetrically.
func (m *CorrelationMatrix) Set(a, b string, corr float64) {
	if m.values == nil {
		m.values = make(map[string]map[string]float64)
	}
	if m.values[a] == nil {
		m.values[a] = make(map[string]float64)
	}
	if m.values[b] == nil {
		m.values[b] = make(map[string]float64)
	}
	m.values[a][b] = corr
	m.values[b][a] = corr
}

// Get returns the correlation between two symbols. The diagonal is always 1;
// unknown pairs are 0.
func (m *CorrelationMatrix) Get(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if m == nil || m.values == nil {
		return 0
	}
	if row, ok := m.values[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	return 0
}

// Symbols returns every symbol present in the matrix.
func (m *CorrelationMatrix) Symbols() []string {
	if m == nil {
		return nil
	}
	symbols := make([]string, 0, len(m.values))
	for s := range m.values {
		symbols = append(symbols, s)
	}
	return symbols
}

// Validate checks symmetry and that every value lies in [-1, 1].
func (m *CorrelationMatrix) Validate() error {
	if m == nil {
		return nil
	}
	for a, row := range m.values {
		for b, v := range row {
			if v < -1 || v > 1 {
				return fmt.Errorf("correlation (%s,%s) must be between -1 and 1, got %f", a, b, v)
			}
			if a == b && v != 1.0 {
				return fmt.Errorf("correlation diagonal for %s must be 1.0, got %f", a, v)
			}
			if m.values[b][a] != v {
				return fmt.Errorf("correlation matrix is not symmetric for (%s,%s)", a, b)
			}
		}
	}
	return nil
}
