package pipeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tradepipeline/internal/config"
	errs "tradepipeline/internal/errors"
	"tradepipeline/internal/logging"
	"tradepipeline/internal/models"
)

// RiskModel computes risk metrics for a proposal against the cycle context.
// The model must be monotonic non-decreasing in absolute quantity; the risk
// stage relies on that to guarantee non-increasing risk per resize step.
type RiskModel interface {
	Assess(proposal *models.TradeProposal, ctx *ExecutionContext) (models.RiskMetrics, error)
}

// RiskLoopResult is the tagged outcome of the risk feedback loop. Converged
// distinguishes an acceptable proposal from a best-effort one produced after
// the iteration budget ran out; callers must handle both.
type RiskLoopResult struct {
	Proposal   *models.TradeProposal
	Metrics    models.RiskMetrics
	Converged  bool
	Iterations int
}

// RiskManagementStage computes risk metrics and iteratively resizes positions
// until within tolerance or the iteration budget is exhausted.
type RiskManagementStage struct {
	cfg    config.RiskManagementConfig
	model  RiskModel
	logger zerolog.Logger
}

// NewRiskManagementStage creates the risk stage around the supplied model.
func NewRiskManagementStage(cfg config.RiskManagementConfig, model RiskModel, logger zerolog.Logger) (*RiskManagementStage, error) {
	if model == nil {
		return nil, fmt.Errorf("risk model is required: %w", errs.ErrConfigInvalid)
	}
	return &RiskManagementStage{
		cfg:    cfg,
		model:  model,
		logger: logger.With().Str("stage", StageRisk).Logger(),
	}, nil
}

// Name returns the stage identity.
func (s *RiskManagementStage) Name() string { return StageRisk }

// AnalyzeRisk computes risk metrics for a proposal.
func (s *RiskManagementStage) AnalyzeRisk(proposal *models.TradeProposal, ctx *ExecutionContext) (models.RiskMetrics, error) {
	metrics, err := s.model.Assess(proposal, ctx)
	if err != nil {
		return models.RiskMetrics{}, errs.Wrap(err, "assessing risk")
	}
	return metrics, nil
}

// AdjustTrades applies per-symbol scale factors to a proposal. Quantities
// truncate toward zero; trades scaled to zero are removed so the proposal
// invariants hold at the stage boundary.
func (s *RiskManagementStage) AdjustTrades(proposal *models.TradeProposal, adjustments map[string]float64) *models.TradeProposal {
	adjusted := proposal.Clone()
	kept := adjusted.Trades[:0]
	for _, trade := range adjusted.Trades {
		scale, ok := adjustments[trade.Symbol]
		if ok {
			trade.Quantity = int(math.Trunc(float64(trade.Quantity) * scale))
		}
		if trade.Quantity != 0 {
			kept = append(kept, trade)
		}
	}
	adjusted.Trades = kept
	return adjusted
}

// Apply runs the risk feedback loop: assess, resize breaching positions by a
// scale clamped to [ResizeThreshold, 1], repeat until acceptable or the
// iteration budget is exhausted.
func (s *RiskManagementStage) Apply(proposal *models.TradeProposal, ctx *ExecutionContext, state *AgentState) (RiskLoopResult, error) {
	current := proposal
	var metrics models.RiskMetrics

	for iteration := 0; iteration < s.cfg.MaxIterations; iteration++ {
		var err error
		metrics, err = s.AnalyzeRisk(current, ctx)
		if err != nil {
			return RiskLoopResult{}, err
		}

		acceptable := s.isAcceptable(metrics)
		logging.LogRiskIteration(s.logger, iteration, metrics, acceptable)
		if acceptable {
			s.record(state, current, metrics, true, iteration)
			return RiskLoopResult{
				Proposal:   current,
				Metrics:    metrics,
				Converged:  true,
				Iterations: iteration,
			}, nil
		}

		adjustments := s.computeAdjustments(current, metrics)
		next := s.AdjustTrades(current, adjustments)
		if next.TotalAbsQuantity() == current.TotalAbsQuantity() {
			// The resize floor left every quantity unchanged; further
			// iterations would recompute identical metrics.
			current = next
			break
		}
		current = next
	}

	// Iteration budget exhausted: report metrics for the best-effort proposal.
	metrics, err := s.AnalyzeRisk(current, ctx)
	if err != nil {
		return RiskLoopResult{}, err
	}
	s.record(state, current, metrics, false, s.cfg.MaxIterations)
	return RiskLoopResult{
		Proposal:   current,
		Metrics:    metrics,
		Converged:  false,
		Iterations: s.cfg.MaxIterations,
	}, nil
}

// isAcceptable is the loop's acceptance predicate: every limit must hold.
func (s *RiskManagementStage) isAcceptable(metrics models.RiskMetrics) bool {
	if metrics.PortfolioRisk > s.cfg.MaxPortfolioRisk {
		return false
	}
	if metrics.ValueAtRisk > s.cfg.VaRLimit {
		return false
	}
	for _, risk := range metrics.PositionRisk {
		if risk > s.cfg.MaxPositionRisk {
			return false
		}
	}
	return true
}

// computeAdjustments derives a scale for every symbol whose position risk
// exceeds the limit. The scale floor prevents a position from shrinking below
// ResizeThreshold of its size in one step, avoiding oscillation. When only
// aggregate limits breach, every trade is scaled uniformly.
func (s *RiskManagementStage) computeAdjustments(proposal *models.TradeProposal, metrics models.RiskMetrics) map[string]float64 {
	adjustments := make(map[string]float64)
	for symbol, risk := range metrics.PositionRisk {
		if risk <= s.cfg.MaxPositionRisk || proposal.Find(symbol) == nil {
			continue
		}
		adjustments[symbol] = s.clampScale(s.cfg.MaxPositionRisk / risk)
	}
	if len(adjustments) > 0 {
		return adjustments
	}

	// No single position breaches, so the aggregate breach is spread evenly.
	scale := 1.0
	if metrics.PortfolioRisk > s.cfg.MaxPortfolioRisk {
		scale = s.cfg.MaxPortfolioRisk / metrics.PortfolioRisk
	}
	if metrics.ValueAtRisk > s.cfg.VaRLimit {
		varScale := s.cfg.VaRLimit / metrics.ValueAtRisk
		if varScale < scale {
			scale = varScale
		}
	}
	if scale < 1.0 {
		scale = s.clampScale(scale)
		for _, trade := range proposal.Trades {
			adjustments[trade.Symbol] = scale
		}
	}
	return adjustments
}

func (s *RiskManagementStage) clampScale(scale float64) float64 {
	if scale < s.cfg.ResizeThreshold {
		return s.cfg.ResizeThreshold
	}
	if scale > 1.0 {
		return 1.0
	}
	return scale
}

// NonConvergenceError builds the error reported when the loop exhausts its
// budget, carrying the final metrics and every breached limit.
func (s *RiskManagementStage) NonConvergenceError(result RiskLoopResult) *errs.RiskNotConvergedError {
	var breaches []string
	if result.Metrics.PortfolioRisk > s.cfg.MaxPortfolioRisk {
		breaches = append(breaches, fmt.Sprintf("portfolio_risk %.4f > %.4f", result.Metrics.PortfolioRisk, s.cfg.MaxPortfolioRisk))
	}
	if result.Metrics.ValueAtRisk > s.cfg.VaRLimit {
		breaches = append(breaches, fmt.Sprintf("value_at_risk %.4f > %.4f", result.Metrics.ValueAtRisk, s.cfg.VaRLimit))
	}
	symbols := make([]string, 0, len(result.Metrics.PositionRisk))
	for symbol := range result.Metrics.PositionRisk {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		if risk := result.Metrics.PositionRisk[symbol]; risk > s.cfg.MaxPositionRisk {
			breaches = append(breaches, fmt.Sprintf("position_risk[%s] %.4f > %.4f", symbol, risk, s.cfg.MaxPositionRisk))
		}
	}
	return &errs.RiskNotConvergedError{
		Iterations:    result.Iterations,
		PortfolioRisk: result.Metrics.PortfolioRisk,
		ValueAtRisk:   result.Metrics.ValueAtRisk,
		Breaches:      breaches,
	}
}

func (s *RiskManagementStage) record(state *AgentState, proposal *models.TradeProposal, metrics models.RiskMetrics, converged bool, iterations int) {
	convergedMetric := 0.0
	if converged {
		convergedMetric = 1.0
	}
	state.RecordDecision(models.Decision{
		Stage:     StageRisk,
		Timestamp: time.Now(),
		Symbols:   proposalSymbols(proposal),
		Action:    "resize",
		Reasoning: fmt.Sprintf("risk loop finished after %d iterations (converged=%t)", iterations, converged),
		Metrics: map[string]float64{
			"portfolio_risk": metrics.PortfolioRisk,
			"value_at_risk":  metrics.ValueAtRisk,
			"iterations":     float64(iterations),
			"converged":      convergedMetric,
		},
	})
	state.Metric("loops_total", 1)
	state.Metric("loops_converged", convergedMetric)
	state.Metric("iterations_total", float64(iterations))
}
