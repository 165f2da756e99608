package pipeline

import (
	"tradepipeline/internal/models"
)

// StrategySignal is one strategy's signal for a symbol, prior to aggregation.
type StrategySignal struct {
	Strategy string
	Signal   models.Signal
}

// AggregateSignals combines multiple strategy signals per symbol into the
// single signal the pipeline consumes, weighting each strategy's strength by
// its confidence. Symbols whose strategies carry zero total confidence
// aggregate to a zero-confidence signal, which the sizing stage ignores.
func AggregateSignals(bySymbol map[string][]StrategySignal) map[string]models.Signal {
	aggregated := make(map[string]models.Signal, len(bySymbol))

	for symbol, signals := range bySymbol {
		var totalConfidence, weightedStrength, weightedConfidence float64
		for _, s := range signals {
			totalConfidence += s.Signal.Confidence
			weightedStrength += s.Signal.Strength * s.Signal.Confidence
			weightedConfidence += s.Signal.Confidence * s.Signal.Confidence
		}

		if totalConfidence == 0 {
			aggregated[symbol] = models.Signal{Symbol: symbol}
			continue
		}

		aggregated[symbol] = models.Signal{
			Symbol:     symbol,
			Strength:   clamp(weightedStrength/totalConfidence, -1, 1),
			Confidence: clamp(weightedConfidence/totalConfidence, 0, 1),
		}
	}

	return aggregated
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
