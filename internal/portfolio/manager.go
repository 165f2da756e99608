// Package portfolio provides an in-memory portfolio ledger. It implements the
// portfolio-manager collaborator contract: the pipeline reads a snapshot per
// cycle and proposes changes; only the ledger mutates positions, when executed
// orders are applied back.
package portfolio

import (
	"fmt"
	"sync"
	"time"

	errs "tradepipeline/internal/errors"
	"tradepipeline/internal/models"
)

// Fill records an applied order for the trade history.
type Fill struct {
	Timestamp time.Time
	Symbol    string
	Side      models.TradeSide
	Quantity  int // signed delta
	Price     float64
	Total     float64
}

// Manager tracks cash, positions, and fills for one portfolio.
type Manager struct {
	mu             sync.Mutex
	initialCapital float64
	cash           float64
	positions      map[string]models.Position
	fills          []Fill
}

// NewManager creates a portfolio manager with the given starting capital.
func NewManager(initialCapital float64) *Manager {
	return &Manager{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]models.Position),
	}
}

// Snapshot returns a copy of the current portfolio state for one cycle. The
// pipeline never sees the live maps.
func (m *Manager) Snapshot() *models.PortfolioState {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions := make(map[string]models.Position, len(m.positions))
	for symbol, pos := range m.positions {
		positions[symbol] = pos
	}
	return &models.PortfolioState{
		Positions: positions,
		Cash:      m.cash,
	}
}

// Apply applies an executed order at the given fill price. Buys require
// sufficient cash; sells require a sufficient long position. Average price
// blends on buys; a position is removed when its quantity reaches zero.
func (m *Manager) Apply(order models.Order, fillPrice float64, at time.Time) error {
	if err := order.Validate(); err != nil {
		return err
	}
	if fillPrice <= 0 {
		return fmt.Errorf("fill price must be positive, got %f", fillPrice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delta := order.Quantity
	if order.Side == models.SideSell {
		delta = -order.Quantity
	}

	if delta > 0 {
		cost := float64(delta) * fillPrice
		if cost > m.cash {
			return fmt.Errorf("buying %d %s at %.2f: %w", delta, order.Symbol, fillPrice, errs.ErrInsufficientCash)
		}
		m.cash -= cost
		pos, held := m.positions[order.Symbol]
		if held {
			total := pos.Quantity + delta
			pos.AveragePrice = (float64(pos.Quantity)*pos.AveragePrice + float64(delta)*fillPrice) / float64(total)
			pos.Quantity = total
		} else {
			pos = models.Position{Symbol: order.Symbol, Quantity: delta, AveragePrice: fillPrice}
		}
		m.positions[order.Symbol] = pos
	} else {
		pos, held := m.positions[order.Symbol]
		if !held || pos.Quantity < -delta {
			return fmt.Errorf("selling %d %s with %d held", -delta, order.Symbol, pos.Quantity)
		}
		m.cash += float64(-delta) * fillPrice
		pos.Quantity += delta
		if pos.Quantity == 0 {
			delete(m.positions, order.Symbol)
		} else {
			m.positions[order.Symbol] = pos
		}
	}

	m.fills = append(m.fills, Fill{
		Timestamp: at,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  delta,
		Price:     fillPrice,
		Total:     float64(delta) * fillPrice,
	})
	return nil
}

// Cash returns available cash.
func (m *Manager) Cash() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cash
}

// Fills returns a copy of the fill history.
func (m *Manager) Fills() []Fill {
	m.mu.Lock()
	defer m.mu.Unlock()
	fills := make([]Fill, len(m.fills))
	copy(fills, m.fills)
	return fills
}

// Summary describes the portfolio at the given prices.
type Summary struct {
	Cash           float64
	PositionsValue float64
	TotalValue     float64
	ReturnPct      float64
	NumPositions   int
	TotalFills     int
}

// Summarize computes a portfolio summary at the given prices.
func (m *Manager) Summarize(prices map[string]float64) Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var positionsValue float64
	for symbol, pos := range m.positions {
		price, ok := prices[symbol]
		if !ok {
			price = pos.AveragePrice
		}
		positionsValue += float64(pos.Quantity) * price
	}

	total := m.cash + positionsValue
	var returnPct float64
	if m.initialCapital > 0 {
		returnPct = (total - m.initialCapital) / m.initialCapital
	}

	return Summary{
		Cash:           m.cash,
		PositionsValue: positionsValue,
		TotalValue:     total,
		ReturnPct:      returnPct,
		NumPositions:   len(m.positions),
		TotalFills:     len(m.fills),
	}
}
