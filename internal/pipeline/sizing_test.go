package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepipeline/internal/config"
	errs "tradepipeline/internal/errors"
	"tradepipeline/internal/models"
)

func newSizingStage(t *testing.T, cfg config.PositionSizingConfig) *PositionSizingStage {
	t.Helper()
	stage, err := NewPositionSizingStage(cfg, testLogger())
	require.NoError(t, err)
	return stage
}

func TestProposeTradesEqualWeight(t *testing.T) {
	// A 100k portfolio with a 10% cap and a 150 price floors to 66 shares.
	stage := newSizingStage(t, defaultSizingConfig())
	ctx := testContext(
		map[string]models.Signal{
			"AAPL": {Symbol: "AAPL", Strength: 0.8, Confidence: 0.9},
		},
		cashOnlyPortfolio(100000),
		map[string]float64{"AAPL": 150},
	)

	proposal, err := stage.ProposeTrades(ctx, NewAgentState())
	require.NoError(t, err)
	require.Len(t, proposal.Trades, 1)

	trade := proposal.Trades[0]
	assert.Equal(t, "AAPL", trade.Symbol)
	assert.Equal(t, models.SideBuy, trade.Side)
	assert.Equal(t, 66, trade.Quantity)
	assert.InDelta(t, 0.9, proposal.Confidence, 1e-9)
}

func TestProposeTradesSellSide(t *testing.T) {
	stage := newSizingStage(t, defaultSizingConfig())
	ctx := testContext(
		map[string]models.Signal{
			"MSFT": {Symbol: "MSFT", Strength: -0.6, Confidence: 0.8},
		},
		cashOnlyPortfolio(100000),
		map[string]float64{"MSFT": 400},
	)

	proposal, err := stage.ProposeTrades(ctx, NewAgentState())
	require.NoError(t, err)
	require.Len(t, proposal.Trades, 1)

	trade := proposal.Trades[0]
	assert.Equal(t, models.SideSell, trade.Side)
	assert.Equal(t, -25, trade.Quantity)
	assert.NoError(t, proposal.Validate())
}

func TestProposeTradesZeroConfidenceProducesNoTrade(t *testing.T) {
	stage := newSizingStage(t, defaultSizingConfig())
	ctx := testContext(
		map[string]models.Signal{
			"AAPL": {Symbol: "AAPL", Strength: 0.9, Confidence: 0},
		},
		cashOnlyPortfolio(100000),
		map[string]float64{"AAPL": 150},
	)

	proposal, err := stage.ProposeTrades(ctx, NewAgentState())
	require.NoError(t, err)
	assert.Empty(t, proposal.Trades)
}

func TestProposeTradesDeadband(t *testing.T) {
	cfg := defaultSizingConfig()
	cfg.SignalDeadband = 0.1
	stage := newSizingStage(t, cfg)
	ctx := testContext(
		map[string]models.Signal{
			"WEAK":   {Symbol: "WEAK", Strength: 0.05, Confidence: 0.9},
			"STRONG": {Symbol: "STRONG", Strength: 0.5, Confidence: 0.9},
		},
		cashOnlyPortfolio(100000),
		map[string]float64{"WEAK": 100, "STRONG": 100},
	)

	proposal, err := stage.ProposeTrades(ctx, NewAgentState())
	require.NoError(t, err)
	require.Len(t, proposal.Trades, 1)
	assert.Equal(t, "STRONG", proposal.Trades[0].Symbol)
}

func TestProposeTradesDropsBelowMinimumSize(t *testing.T) {
	// Cap below the minimum means every candidate is dropped, not rounded up.
	cfg := defaultSizingConfig()
	cfg.MaxPositionSize = 0.02
	cfg.MinPositionSize = 0.02
	stage := newSizingStage(t, cfg)

	// 0.02 * 100000 / 1900 = 1.05 shares -> 1 share worth 1900 < 2000 minimum.
	ctx := testContext(
		map[string]models.Signal{
			"GOOG": {Symbol: "GOOG", Strength: 0.9, Confidence: 1},
		},
		cashOnlyPortfolio(100000),
		map[string]float64{"GOOG": 1900},
	)

	proposal, err := stage.ProposeTrades(ctx, NewAgentState())
	require.NoError(t, err)
	assert.Empty(t, proposal.Trades)
}

func TestProposeTradesInvalidSignal(t *testing.T) {
	stage := newSizingStage(t, defaultSizingConfig())
	ctx := testContext(
		map[string]models.Signal{
			"BAD": {Symbol: "BAD", Strength: 1.5, Confidence: 0.5},
		},
		cashOnlyPortfolio(100000),
		map[string]float64{"BAD": 100},
	)

	_, err := stage.ProposeTrades(ctx, NewAgentState())
	require.Error(t, err)

	var sigErr *errs.InvalidSignalError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, "BAD", sigErr.Symbol)
	assert.Equal(t, "strength", sigErr.Field)
}

func TestProposeTradesInsufficientCash(t *testing.T) {
	// Portfolio value comes mostly from held positions; cash cannot cover the
	// smallest buy, so the stage reports a recoverable failure.
	portfolio := &models.PortfolioState{
		Positions: map[string]models.Position{
			"HELD": {Symbol: "HELD", Quantity: 100, AveragePrice: 1000},
		},
		Cash: 50,
	}
	stage := newSizingStage(t, defaultSizingConfig())
	ctx := testContext(
		map[string]models.Signal{
			"ABC": {Symbol: "ABC", Strength: 1, Confidence: 1},
		},
		portfolio,
		map[string]float64{"ABC": 200, "HELD": 1000},
	)

	_, err := stage.ProposeTrades(ctx, NewAgentState())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInsufficientCash)
	assert.True(t, errs.IsRecoverable(err))
}

func TestProposeTradesBuysCompeteForCash(t *testing.T) {
	// Two buys of ~9900 each against 15000 cash: only the first (sorted)
	// symbol fits.
	stage := newSizingStage(t, defaultSizingConfig())
	portfolio := &models.PortfolioState{
		Positions: map[string]models.Position{
			"HELD": {Symbol: "HELD", Quantity: 85, AveragePrice: 1000},
		},
		Cash: 15000,
	}
	ctx := testContext(
		map[string]models.Signal{
			"AAA": {Symbol: "AAA", Strength: 0.5, Confidence: 0.9},
			"BBB": {Symbol: "BBB", Strength: 0.5, Confidence: 0.9},
		},
		portfolio,
		map[string]float64{"AAA": 100, "BBB": 100, "HELD": 1000},
	)

	proposal, err := stage.ProposeTrades(ctx, NewAgentState())
	require.NoError(t, err)
	require.Len(t, proposal.Trades, 1)
	assert.Equal(t, "AAA", proposal.Trades[0].Symbol)
}

func TestProposeTradesRiskParity(t *testing.T) {
	cfg := defaultSizingConfig()
	cfg.Method = config.MethodRiskParity
	stage := newSizingStage(t, cfg)

	ctx := testContext(
		map[string]models.Signal{
			"CALM": {Symbol: "CALM", Strength: 0.5, Confidence: 0.9},
			"WILD": {Symbol: "WILD", Strength: 0.5, Confidence: 0.9},
		},
		cashOnlyPortfolio(100000),
		map[string]float64{"CALM": 100, "WILD": 100},
	)
	ctx.Volatility = map[string]float64{"CALM": 0.01, "WILD": 0.04}

	proposal, err := stage.ProposeTrades(ctx, NewAgentState())
	require.NoError(t, err)
	require.Len(t, proposal.Trades, 2)

	// CALM gets the full 10% cap (100 shares), WILD a quarter of it.
	calm := proposal.Find("CALM")
	wild := proposal.Find("WILD")
	require.NotNil(t, calm)
	require.NotNil(t, wild)
	assert.Equal(t, 100, calm.Quantity)
	assert.Equal(t, 25, wild.Quantity)
}

func TestProposeTradesUnknownMethod(t *testing.T) {
	cfg := defaultSizingConfig()
	cfg.Method = "no_such_method"
	_, err := NewPositionSizingStage(cfg, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfigInvalid)
}

func TestRegisterSizingStrategyRejectsBuiltins(t *testing.T) {
	err := RegisterSizingStrategy(equalWeightStrategy{})
	require.Error(t, err)
}

func TestSizingAdaptationStaysBounded(t *testing.T) {
	cfg := defaultSizingConfig()
	cfg.AdaptationPeriod = 1
	cfg.LearningRate = 1 // worst case: jump straight to the acceptance ratio
	stage := newSizingStage(t, cfg)
	state := NewAgentState()

	ctx := testContext(
		map[string]models.Signal{
			"AAPL": {Symbol: "AAPL", Strength: 0.8, Confidence: 0.9},
		},
		cashOnlyPortfolio(100000),
		map[string]float64{"AAPL": 150},
	)

	for i := 0; i < 50; i++ {
		_, err := stage.ProposeTrades(ctx, state)
		require.NoError(t, err)
		multiplier := state.Learn(learnSizeMultiplier, 1.0)
		assert.GreaterOrEqual(t, multiplier, 0.5)
		assert.LessOrEqual(t, multiplier, 1.5)
	}
}

func TestProposeTradesRecordsDecision(t *testing.T) {
	stage := newSizingStage(t, defaultSizingConfig())
	state := NewAgentState()
	ctx := testContext(
		map[string]models.Signal{
			"AAPL": {Symbol: "AAPL", Strength: 0.8, Confidence: 0.9},
		},
		cashOnlyPortfolio(100000),
		map[string]float64{"AAPL": 150},
	)

	_, err := stage.ProposeTrades(ctx, state)
	require.NoError(t, err)
	require.Len(t, state.HistoricalDecisions, 1)

	decision := state.HistoricalDecisions[0]
	assert.Equal(t, StageSizing, decision.Stage)
	assert.Equal(t, []string{"AAPL"}, decision.Symbols)
	assert.Equal(t, 1.0, decision.Metrics["proposed"])
}
