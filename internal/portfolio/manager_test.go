package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "tradepipeline/internal/errors"
	"tradepipeline/internal/models"
)

func buyOrder(symbol string, quantity int) models.Order {
	return models.Order{
		Symbol:      symbol,
		Quantity:    quantity,
		Side:        models.SideBuy,
		Type:        models.OrderTypeMarket,
		TimeInForce: models.TIFDay,
		CreatedAt:   time.Now(),
	}
}

func sellOrder(symbol string, quantity int) models.Order {
	order := buyOrder(symbol, quantity)
	order.Side = models.SideSell
	return order
}

func TestApplyBuyOpensPosition(t *testing.T) {
	m := NewManager(10000)
	require.NoError(t, m.Apply(buyOrder("AAPL", 10), 150, time.Now()))

	snapshot := m.Snapshot()
	assert.InDelta(t, 8500, snapshot.Cash, 1e-9)
	pos := snapshot.Positions["AAPL"]
	assert.Equal(t, 10, pos.Quantity)
	assert.InDelta(t, 150, pos.AveragePrice, 1e-9)
}

func TestApplyBuyBlendsAveragePrice(t *testing.T) {
	m := NewManager(10000)
	require.NoError(t, m.Apply(buyOrder("AAPL", 10), 100, time.Now()))
	require.NoError(t, m.Apply(buyOrder("AAPL", 10), 200, time.Now()))

	pos := m.Snapshot().Positions["AAPL"]
	assert.Equal(t, 20, pos.Quantity)
	assert.InDelta(t, 150, pos.AveragePrice, 1e-9)
}

func TestApplyBuyRequiresCash(t *testing.T) {
	m := NewManager(100)
	err := m.Apply(buyOrder("AAPL", 10), 150, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInsufficientCash)

	// Nothing changed.
	assert.InDelta(t, 100, m.Cash(), 1e-9)
	assert.Empty(t, m.Snapshot().Positions)
}

func TestApplySellClosesPosition(t *testing.T) {
	m := NewManager(10000)
	require.NoError(t, m.Apply(buyOrder("AAPL", 10), 100, time.Now()))
	require.NoError(t, m.Apply(sellOrder("AAPL", 10), 120, time.Now()))

	snapshot := m.Snapshot()
	assert.Empty(t, snapshot.Positions, "flat position is removed")
	assert.InDelta(t, 10000-1000+1200, snapshot.Cash, 1e-9)
}

func TestApplySellRequiresPosition(t *testing.T) {
	m := NewManager(10000)
	require.NoError(t, m.Apply(buyOrder("AAPL", 5), 100, time.Now()))

	err := m.Apply(sellOrder("AAPL", 10), 100, time.Now())
	require.Error(t, err)
	assert.Equal(t, 5, m.Snapshot().Positions["AAPL"].Quantity)
}

func TestApplyRejectsInvalidFill(t *testing.T) {
	m := NewManager(10000)
	assert.Error(t, m.Apply(buyOrder("AAPL", 10), 0, time.Now()))
	assert.Error(t, m.Apply(models.Order{Symbol: "AAPL"}, 100, time.Now()))
}

func TestFillsAreRecorded(t *testing.T) {
	m := NewManager(10000)
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, m.Apply(buyOrder("AAPL", 10), 100, at))
	require.NoError(t, m.Apply(sellOrder("AAPL", 4), 110, at.Add(time.Minute)))

	fills := m.Fills()
	require.Len(t, fills, 2)
	assert.Equal(t, 10, fills[0].Quantity)
	assert.Equal(t, -4, fills[1].Quantity)
	assert.InDelta(t, -440, fills[1].Total, 1e-9)
}

func TestSnapshotIsIsolated(t *testing.T) {
	m := NewManager(10000)
	require.NoError(t, m.Apply(buyOrder("AAPL", 10), 100, time.Now()))

	snapshot := m.Snapshot()
	snapshot.Positions["AAPL"] = models.Position{Symbol: "AAPL", Quantity: 999}
	snapshot.Cash = 0

	fresh := m.Snapshot()
	assert.Equal(t, 10, fresh.Positions["AAPL"].Quantity)
	assert.InDelta(t, 9000, fresh.Cash, 1e-9)
}

func TestSummarize(t *testing.T) {
	m := NewManager(10000)
	require.NoError(t, m.Apply(buyOrder("AAPL", 10), 100, time.Now()))

	summary := m.Summarize(map[string]float64{"AAPL": 120})
	assert.InDelta(t, 9000, summary.Cash, 1e-9)
	assert.InDelta(t, 1200, summary.PositionsValue, 1e-9)
	assert.InDelta(t, 10200, summary.TotalValue, 1e-9)
	assert.InDelta(t, 0.02, summary.ReturnPct, 1e-9)
	assert.Equal(t, 1, summary.NumPositions)
	assert.Equal(t, 1, summary.TotalFills)

	// Missing price values at average price.
	summary = m.Summarize(nil)
	assert.InDelta(t, 1000, summary.PositionsValue, 1e-9)
}
