package pipeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tradepipeline/internal/config"
	errs "tradepipeline/internal/errors"
	"tradepipeline/internal/models"
)

// SizingStrategy converts actionable signals into per-symbol target fractions
// of portfolio value. Built-in methods cover equal_weight and risk_parity;
// additional strategies can be registered by name.
type SizingStrategy interface {
	Name() string
	TargetFractions(ctx *ExecutionContext, cfg config.PositionSizingConfig, symbols []string) (map[string]float64, error)
}

var sizingRegistry = map[string]SizingStrategy{}

// RegisterSizingStrategy registers a custom sizing strategy. Built-in method
// names cannot be overridden.
func RegisterSizingStrategy(s SizingStrategy) error {
	name := s.Name()
	if name == config.MethodEqualWeight || name == config.MethodRiskParity {
		return fmt.Errorf("cannot override built-in sizing method %q", name)
	}
	if _, exists := sizingRegistry[name]; exists {
		return fmt.Errorf("sizing strategy %q already registered", name)
	}
	sizingRegistry[name] = s
	return nil
}

// equalWeightStrategy assigns each actionable symbol the full per-position cap.
type equalWeightStrategy struct{}

func (equalWeightStrategy) Name() string { return config.MethodEqualWeight }

func (equalWeightStrategy) TargetFractions(_ *ExecutionContext, cfg config.PositionSizingConfig, symbols []string) (map[string]float64, error) {
	fractions := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		fractions[s] = cfg.MaxPositionSize
	}
	return fractions, nil
}

// riskParityStrategy sizes inversely to volatility: the least volatile symbol
// receives the full cap, others scale down proportionally. Symbols without a
// volatility estimate fall back to the cap.
type riskParityStrategy struct{}

func (riskParityStrategy) Name() string { return config.MethodRiskParity }

func (riskParityStrategy) TargetFractions(ctx *ExecutionContext, cfg config.PositionSizingConfig, symbols []string) (map[string]float64, error) {
	minVol := math.Inf(1)
	for _, s := range symbols {
		if v, ok := ctx.Volatility[s]; ok && v > 0 && v < minVol {
			minVol = v
		}
	}

	fractions := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		v, ok := ctx.Volatility[s]
		if !ok || v <= 0 || math.IsInf(minVol, 1) {
			fractions[s] = cfg.MaxPositionSize
			continue
		}
		fractions[s] = cfg.MaxPositionSize * minVol / v
	}
	return fractions, nil
}

// PositionSizingStage converts signals into initial trade proposals sized
// against portfolio constraints.
type PositionSizingStage struct {
	cfg      config.PositionSizingConfig
	strategy SizingStrategy
	logger   zerolog.Logger
}

// NewPositionSizingStage creates the sizing stage, resolving the configured
// method to a built-in or registered strategy.
func NewPositionSizingStage(cfg config.PositionSizingConfig, logger zerolog.Logger) (*PositionSizingStage, error) {
	var strategy SizingStrategy
	switch cfg.Method {
	case config.MethodEqualWeight:
		strategy = equalWeightStrategy{}
	case config.MethodRiskParity:
		strategy = riskParityStrategy{}
	default:
		registered, ok := sizingRegistry[cfg.Method]
		if !ok {
			return nil, fmt.Errorf("unknown sizing method %q: %w", cfg.Method, errs.ErrConfigInvalid)
		}
		strategy = registered
	}

	return &PositionSizingStage{
		cfg:      cfg,
		strategy: strategy,
		logger:   logger.With().Str("stage", StageSizing).Logger(),
	}, nil
}

// Name returns the stage identity.
func (s *PositionSizingStage) Name() string { return StageSizing }

// ProposeTrades sizes signals into an initial trade proposal. Signals below
// the deadband or with zero confidence produce no trade; proposals below the
// minimum position size are dropped, not rounded up.
func (s *PositionSizingStage) ProposeTrades(ctx *ExecutionContext, state *AgentState) (*models.TradeProposal, error) {
	actionable := make([]string, 0, len(ctx.Signals))
	for symbol, sig := range ctx.Signals {
		if err := sig.Validate(); err != nil {
			if sig.Confidence < 0 || sig.Confidence > 1 {
				return nil, errs.NewInvalidSignalError(symbol, "confidence", sig.Confidence)
			}
			return nil, errs.NewInvalidSignalError(symbol, "strength", sig.Strength)
		}
		if sig.Confidence == 0 || math.Abs(sig.Strength) < s.cfg.SignalDeadband {
			continue
		}
		actionable = append(actionable, symbol)
	}
	sort.Strings(actionable)

	portfolioValue := ctx.PortfolioValue()
	if portfolioValue <= 0 {
		return nil, errs.NewValidationError("portfolio", portfolioValue, "portfolio value must be positive")
	}

	fractions, err := s.strategy.TargetFractions(ctx, s.cfg, actionable)
	if err != nil {
		return nil, errs.Wrapf(err, "sizing strategy %s", s.strategy.Name())
	}

	// Adaptation multiplier learned from past decision acceptance, bounded so
	// learning can never double or halve the configured cap.
	multiplier := state.Learn(learnSizeMultiplier, 1.0)

	proposal := &models.TradeProposal{
		Reasoning: fmt.Sprintf("%s sizing of %d actionable signals", s.strategy.Name(), len(actionable)),
	}
	availableCash := ctx.Portfolio.Cash
	minValue := s.cfg.MinPositionSize * portfolioValue
	droppedForCash := 0

	var confidenceSum, weightSum float64
	for _, symbol := range actionable {
		sig := ctx.Signals[symbol]
		price, ok := ctx.Prices[symbol]
		if !ok || price <= 0 {
			return nil, errs.NewValidationError("prices", symbol, "missing reference price for signal symbol")
		}

		fraction := fractions[symbol] * multiplier
		if fraction > s.cfg.MaxPositionSize {
			fraction = s.cfg.MaxPositionSize
		}
		if fraction < s.cfg.MinPositionSize {
			continue
		}

		quantity := int(math.Floor(fraction * portfolioValue / price))
		if quantity <= 0 {
			continue
		}
		value := float64(quantity) * price
		if value < minValue {
			continue
		}

		if sig.Strength > 0 {
			if value > availableCash {
				droppedForCash++
				continue
			}
			availableCash -= value
			proposal.Trades = append(proposal.Trades, models.ProposedTrade{
				Symbol:   symbol,
				Quantity: quantity,
				Side:     models.SideBuy,
			})
		} else {
			proposal.Trades = append(proposal.Trades, models.ProposedTrade{
				Symbol:   symbol,
				Quantity: -quantity,
				Side:     models.SideSell,
			})
		}
		confidenceSum += sig.Confidence * value
		weightSum += value
	}

	if weightSum > 0 {
		proposal.Confidence = confidenceSum / weightSum
	}

	state.RecordDecision(models.Decision{
		Stage:      StageSizing,
		Timestamp:  time.Now(),
		Symbols:    proposalSymbols(proposal),
		Action:     "propose",
		Confidence: proposal.Confidence,
		Reasoning:  proposal.Reasoning,
		Metrics: map[string]float64{
			"actionable":       float64(len(actionable)),
			"proposed":         float64(len(proposal.Trades)),
			"dropped_for_cash": float64(droppedForCash),
			"size_multiplier":  multiplier,
		},
	})
	s.adapt(state, len(actionable), len(proposal.Trades))

	if len(proposal.Trades) == 0 && droppedForCash > 0 {
		return nil, fmt.Errorf("no affordable position above minimum size: %w", errs.ErrInsufficientCash)
	}

	s.logger.Debug().
		Int("actionable", len(actionable)).
		Int("proposed", len(proposal.Trades)).
		Float64("size_multiplier", multiplier).
		Msg("Sizing complete")

	return proposal, nil
}

// adapt nudges the sizing multiplier toward the observed acceptance ratio
// every AdaptationPeriod decisions. The multiplier stays in [0.5, 1.5].
func (s *PositionSizingStage) adapt(state *AgentState, actionable, proposed int) {
	if s.cfg.AdaptationPeriod <= 0 || s.cfg.LearningRate == 0 {
		return
	}

	state.Metric(metricActionable, float64(actionable))
	state.Metric(metricProposed, float64(proposed))
	state.Metric(metricDecisions, 1)

	decisions := state.PerformanceMetrics[metricDecisions]
	if int(decisions)%s.cfg.AdaptationPeriod != 0 {
		return
	}

	totalActionable := state.PerformanceMetrics[metricActionable]
	if totalActionable == 0 {
		return
	}
	acceptance := state.PerformanceMetrics[metricProposed] / totalActionable

	multiplier := state.Learn(learnSizeMultiplier, 1.0)
	multiplier += s.cfg.LearningRate * (acceptance - multiplier)
	if multiplier < 0.5 {
		multiplier = 0.5
	}
	if multiplier > 1.5 {
		multiplier = 1.5
	}
	state.LearningState[learnSizeMultiplier] = multiplier
}

func proposalSymbols(p *models.TradeProposal) []string {
	symbols := make([]string, 0, len(p.Trades))
	for _, t := range p.Trades {
		symbols = append(symbols, t.Symbol)
	}
	return symbols
}

// Learning state and metric keys for the sizing stage.
const (
	learnSizeMultiplier = "size_multiplier"
	metricActionable    = "signals_actionable"
	metricProposed      = "trades_proposed"
	metricDecisions     = "decisions"
)
