package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradepipeline/internal/models"
)

func TestAggregateSignalsConfidenceWeighting(t *testing.T) {
	aggregated := AggregateSignals(map[string][]StrategySignal{
		"AAPL": {
			{Strategy: "momentum", Signal: models.Signal{Symbol: "AAPL", Strength: 1.0, Confidence: 0.8}},
			{Strategy: "meanrev", Signal: models.Signal{Symbol: "AAPL", Strength: -0.5, Confidence: 0.2}},
		},
	})

	signal := aggregated["AAPL"]
	assert.Equal(t, "AAPL", signal.Symbol)
	// (1.0*0.8 - 0.5*0.2) / 1.0 = 0.7
	assert.InDelta(t, 0.7, signal.Strength, 1e-9)
	// (0.64 + 0.04) / 1.0 = 0.68
	assert.InDelta(t, 0.68, signal.Confidence, 1e-9)
	assert.NoError(t, signal.Validate())
}

func TestAggregateSignalsZeroConfidence(t *testing.T) {
	aggregated := AggregateSignals(map[string][]StrategySignal{
		"DEAD": {
			{Strategy: "a", Signal: models.Signal{Symbol: "DEAD", Strength: 0.9, Confidence: 0}},
			{Strategy: "b", Signal: models.Signal{Symbol: "DEAD", Strength: -0.9, Confidence: 0}},
		},
	})

	signal := aggregated["DEAD"]
	assert.Zero(t, signal.Strength)
	assert.Zero(t, signal.Confidence)
}

func TestAggregateSignalsSingleStrategyPassesThrough(t *testing.T) {
	aggregated := AggregateSignals(map[string][]StrategySignal{
		"MSFT": {
			{Strategy: "only", Signal: models.Signal{Symbol: "MSFT", Strength: -0.4, Confidence: 0.6}},
		},
	})

	signal := aggregated["MSFT"]
	assert.InDelta(t, -0.4, signal.Strength, 1e-9)
	assert.InDelta(t, 0.6, signal.Confidence, 1e-9)
}
