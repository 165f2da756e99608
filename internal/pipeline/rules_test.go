package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "tradepipeline/internal/errors"
	"tradepipeline/internal/models"
)

func TestApplyRulesDefaultMarketOrder(t *testing.T) {
	stage := NewExecutionRulesStage(defaultRulesConfig(), testLogger())
	ctx := testContext(nil, cashOnlyPortfolio(100000), map[string]float64{"AAPL": 150})

	orders, err := stage.ApplyRules(buyProposal("AAPL", 66), ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	order := orders[0]
	assert.Equal(t, "AAPL", order.Symbol)
	assert.Equal(t, 66, order.Quantity)
	assert.Equal(t, models.SideBuy, order.Side)
	assert.Equal(t, models.OrderTypeMarket, order.Type)
	assert.Equal(t, models.TIFDay, order.TimeInForce)
	assert.False(t, order.HasPrice)
	assert.Equal(t, ctx.StartedAt, order.CreatedAt)
}

func TestApplyRulesImpactCapDowngradesToLimit(t *testing.T) {
	// 50000 shares at the default coefficient exceed the 10000 impact limit:
	// the order becomes LIMIT at reference * (1 + threshold).
	stage := NewExecutionRulesStage(defaultRulesConfig(), testLogger())
	ctx := testContext(nil, cashOnlyPortfolio(10000000), map[string]float64{"PENNY": 2})

	orders, err := stage.ApplyRules(buyProposal("PENNY", 50000), ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	order := orders[0]
	assert.Equal(t, models.OrderTypeLimit, order.Type)
	assert.True(t, order.HasPrice)
	assert.InDelta(t, 2*1.01, order.Price, 1e-9)
}

func TestApplyRulesImpactCapSellSide(t *testing.T) {
	stage := NewExecutionRulesStage(defaultRulesConfig(), testLogger())
	ctx := testContext(nil, cashOnlyPortfolio(10000000), map[string]float64{"PENNY": 2})

	proposal := &models.TradeProposal{
		Trades: []models.ProposedTrade{
			{Symbol: "PENNY", Quantity: -50000, Side: models.SideSell},
		},
	}
	orders, err := stage.ApplyRules(proposal, ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	order := orders[0]
	assert.Equal(t, models.SideSell, order.Side)
	assert.Equal(t, 50000, order.Quantity)
	assert.InDelta(t, 2*0.99, order.Price, 1e-9)
}

func TestApplyRulesPerSymbolImpactCoefficient(t *testing.T) {
	stage := NewExecutionRulesStage(defaultRulesConfig(), testLogger())
	ctx := testContext(nil, cashOnlyPortfolio(10000000), map[string]float64{"LIQ": 50})
	// 20000 shares would breach at the default coefficient; the liquid
	// symbol's 0.4 keeps impact at 8000, under the limit.
	ctx.ImpactCoefficients = map[string]float64{"LIQ": 0.4}

	orders, err := stage.ApplyRules(buyProposal("LIQ", 20000), ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderTypeMarket, orders[0].Type)
}

func TestApplyRulesLimitDefaultQuotesReference(t *testing.T) {
	cfg := defaultRulesConfig()
	cfg.DefaultOrderType = models.OrderTypeLimit
	stage := NewExecutionRulesStage(cfg, testLogger())
	ctx := testContext(nil, cashOnlyPortfolio(100000), map[string]float64{"AAPL": 150})

	orders, err := stage.ApplyRules(buyProposal("AAPL", 10), ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].HasPrice)
	assert.Equal(t, 150.0, orders[0].Price)
}

func TestApplyRulesMissingReferencePrice(t *testing.T) {
	stage := NewExecutionRulesStage(defaultRulesConfig(), testLogger())
	ctx := testContext(nil, cashOnlyPortfolio(100000), nil)

	_, err := stage.ApplyRules(buyProposal("GHOST", 10), ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMissingPrice)
}

func TestApplyRulesSkipsZeroQuantity(t *testing.T) {
	stage := NewExecutionRulesStage(defaultRulesConfig(), testLogger())
	ctx := testContext(nil, cashOnlyPortfolio(100000), map[string]float64{"AAPL": 150})

	proposal := &models.TradeProposal{
		Trades: []models.ProposedTrade{
			{Symbol: "AAPL", Quantity: 0},
		},
	}
	orders, err := stage.ApplyRules(proposal, ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestApplyRulesIsIdempotent(t *testing.T) {
	stage := NewExecutionRulesStage(defaultRulesConfig(), testLogger())
	ctx := testContext(nil, cashOnlyPortfolio(100000), map[string]float64{"AAPL": 150, "MSFT": 400})

	proposal := &models.TradeProposal{
		Trades: []models.ProposedTrade{
			{Symbol: "AAPL", Quantity: 66, Side: models.SideBuy},
			{Symbol: "MSFT", Quantity: -25, Side: models.SideSell},
		},
	}

	first, err := stage.ApplyRules(proposal, ctx)
	require.NoError(t, err)
	second, err := stage.ApplyRules(proposal, ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
