package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"tradepipeline/internal/config"
	"tradepipeline/internal/models"
)

// Shared fixtures for the stage tests.

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testContext(signals map[string]models.Signal, portfolio *models.PortfolioState, prices map[string]float64) *ExecutionContext {
	return &ExecutionContext{
		CycleID:          "cycle-test",
		StartedAt:        time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		Signals:          signals,
		Portfolio:        portfolio,
		Prices:           prices,
		Correlations:     models.NewCorrelationMatrix(),
		ExecutionMetrics: make(map[string]float64),
	}
}

func cashOnlyPortfolio(cash float64) *models.PortfolioState {
	return &models.PortfolioState{
		Positions: make(map[string]models.Position),
		Cash:      cash,
	}
}

// perShareRiskModel reports position risk proportional to absolute quantity,
// so resize math can be checked exactly. Portfolio risk is the sum of position
// risks and VaR equals portfolio risk.
type perShareRiskModel struct {
	perShare map[string]float64
}

func (m perShareRiskModel) Assess(proposal *models.TradeProposal, _ *ExecutionContext) (models.RiskMetrics, error) {
	metrics := models.RiskMetrics{PositionRisk: make(map[string]float64)}
	if proposal == nil {
		return metrics, nil
	}
	for _, trade := range proposal.Trades {
		quantity := trade.Quantity
		if quantity < 0 {
			quantity = -quantity
		}
		risk := float64(quantity) * m.perShare[trade.Symbol]
		metrics.PositionRisk[trade.Symbol] = risk
		metrics.PortfolioRisk += risk
	}
	metrics.ValueAtRisk = metrics.PortfolioRisk
	return metrics, nil
}

// constantRiskModel always reports the same risk, so the feedback loop can
// never converge once the limit is below it.
type constantRiskModel struct {
	risk float64
}

func (m constantRiskModel) Assess(proposal *models.TradeProposal, _ *ExecutionContext) (models.RiskMetrics, error) {
	metrics := models.RiskMetrics{PositionRisk: make(map[string]float64)}
	if proposal == nil || len(proposal.Trades) == 0 {
		return metrics, nil
	}
	for _, trade := range proposal.Trades {
		metrics.PositionRisk[trade.Symbol] = m.risk
	}
	metrics.PortfolioRisk = m.risk
	metrics.ValueAtRisk = m.risk
	return metrics, nil
}

func defaultSizingConfig() config.PositionSizingConfig {
	return config.Default().Sizing
}

func defaultRiskConfig() config.RiskManagementConfig {
	return config.Default().Risk
}

func defaultCorrelationConfig() config.CorrelationConfig {
	return config.Default().Correlation
}

func defaultRulesConfig() config.ExecutionRulesConfig {
	return config.Default().Execution
}
