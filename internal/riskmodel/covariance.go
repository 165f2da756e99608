// Package riskmodel provides the default risk model for the trade execution
// pipeline. The pipeline treats the risk function as pluggable; this package
// implements a historical-covariance model, with volatilities estimated from
// supplied return series.
package riskmodel

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"tradepipeline/internal/models"
	"tradepipeline/internal/pipeline"
)

// z95 is the one-sided 95% normal quantile used for value-at-risk.
const z95 = 1.645

// CovarianceModel computes position risk as exposure-weighted volatility and
// portfolio risk as sqrt(w'Σw) with the cycle's correlation matrix. Risk is
// monotonic non-decreasing in absolute quantity, as the risk stage requires.
type CovarianceModel struct {
	volatility        map[string]float64
	defaultVolatility float64
}

// NewCovarianceModel creates a model from per-symbol volatilities. Symbols
// without an estimate use defaultVolatility.
func NewCovarianceModel(volatility map[string]float64, defaultVolatility float64) *CovarianceModel {
	if volatility == nil {
		volatility = make(map[string]float64)
	}
	return &CovarianceModel{
		volatility:        volatility,
		defaultVolatility: defaultVolatility,
	}
}

// FromReturns estimates per-symbol volatility from historical return series
// and builds a model. Series shorter than two observations are skipped.
func FromReturns(returns map[string][]float64, defaultVolatility float64) (*CovarianceModel, error) {
	volatility := make(map[string]float64, len(returns))
	for symbol, series := range returns {
		if len(series) < 2 {
			continue
		}
		stdev, err := stats.StandardDeviationSample(series)
		if err != nil {
			return nil, fmt.Errorf("estimating volatility for %s: %w", symbol, err)
		}
		volatility[symbol] = stdev
	}
	return NewCovarianceModel(volatility, defaultVolatility), nil
}

// Volatility returns the model's volatility for a symbol.
func (m *CovarianceModel) Volatility(symbol string) float64 {
	if v, ok := m.volatility[symbol]; ok {
		return v
	}
	return m.defaultVolatility
}

// Assess computes risk metrics for the portfolio that would result from
// executing the proposal at the cycle's prices.
func (m *CovarianceModel) Assess(proposal *models.TradeProposal, ctx *pipeline.ExecutionContext) (models.RiskMetrics, error) {
	portfolioValue := ctx.PortfolioValue()
	if portfolioValue <= 0 {
		return models.RiskMetrics{}, fmt.Errorf("portfolio value must be positive, got %f", portfolioValue)
	}

	// Resulting signed quantities: existing positions plus proposed deltas.
	quantities := make(map[string]int)
	for symbol, pos := range ctx.Portfolio.Positions {
		quantities[symbol] = pos.Quantity
	}
	if proposal != nil {
		for _, trade := range proposal.Trades {
			quantities[trade.Symbol] += trade.Quantity
		}
	}

	metrics := models.RiskMetrics{PositionRisk: make(map[string]float64, len(quantities))}

	type exposure struct {
		symbol string
		risk   float64
	}
	exposures := make([]exposure, 0, len(quantities))
	for symbol, quantity := range quantities {
		if quantity == 0 {
			continue
		}
		price, ok := ctx.Prices[symbol]
		if !ok {
			if pos, held := ctx.Portfolio.Positions[symbol]; held {
				price = pos.AveragePrice
			}
		}
		if price <= 0 {
			continue
		}
		weight := math.Abs(float64(quantity)) * price / portfolioValue
		risk := weight * m.Volatility(symbol)
		metrics.PositionRisk[symbol] = risk
		exposures = append(exposures, exposure{symbol: symbol, risk: risk})
	}

	var variance float64
	for i := range exposures {
		for j := range exposures {
			rho := ctx.Correlations.Get(exposures[i].symbol, exposures[j].symbol)
			variance += rho * exposures[i].risk * exposures[j].risk
		}
	}
	if variance < 0 {
		// A malformed correlation matrix can produce a slightly negative
		// quadratic form; floor it rather than return NaN.
		variance = 0
	}

	metrics.PortfolioRisk = math.Sqrt(variance)
	metrics.ValueAtRisk = z95 * metrics.PortfolioRisk
	return metrics, nil
}
