package pipeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tradepipeline/internal/config"
	"tradepipeline/internal/models"
)

// CorrelationAdjustment describes the scaling the correlation stage decided
// on. AffectedPositions lists every symbol that was scaled, for observability;
// Warnings reports residual correlation breaches single-pass scaling cannot
// remove.
type CorrelationAdjustment struct {
	Scales            map[string]float64
	AffectedPositions []string
	Warnings          []string
}

// CorrelationStage scales proposal sizes to limit concentration in correlated
// positions. Unlike risk management this stage runs a single pass: each
// breaching pair is adjusted exactly once per call.
type CorrelationStage struct {
	cfg    config.CorrelationConfig
	logger zerolog.Logger
}

// NewCorrelationStage creates the correlation stage.
func NewCorrelationStage(cfg config.CorrelationConfig, logger zerolog.Logger) *CorrelationStage {
	return &CorrelationStage{
		cfg:    cfg,
		logger: logger.With().Str("stage", StageCorrelation).Logger(),
	}
}

// Name returns the stage identity.
func (s *CorrelationStage) Name() string { return StageCorrelation }

// AnalyzeCorrelations inspects every pair of symbols either both in the
// proposal, or one in the proposal and one in existing positions, and decides
// a scale for the breaching pairs. For proposal pairs the smaller-confidence
// leg is scaled; on a confidence tie the leg with the larger absolute
// quantity. For proposal/position pairs only the proposal leg can be scaled.
func (s *CorrelationStage) AnalyzeCorrelations(proposal *models.TradeProposal, ctx *ExecutionContext) (*CorrelationAdjustment, error) {
	adjustment := &CorrelationAdjustment{Scales: make(map[string]float64)}
	if proposal == nil || len(proposal.Trades) == 0 {
		return adjustment, nil
	}

	proposed := make([]string, 0, len(proposal.Trades))
	for _, trade := range proposal.Trades {
		proposed = append(proposed, trade.Symbol)
	}
	sort.Strings(proposed)

	// Proposal vs proposal pairs.
	for i := 0; i < len(proposed); i++ {
		for j := i + 1; j < len(proposed); j++ {
			corr := ctx.Correlations.Get(proposed[i], proposed[j])
			if math.Abs(corr) <= s.cfg.MaxCorrelation {
				continue
			}
			target := s.pickLeg(proposal, ctx, proposed[i], proposed[j])
			s.scaleSymbol(adjustment, target)
			adjustment.Warnings = append(adjustment.Warnings,
				fmt.Sprintf("correlation %.2f between %s and %s exceeds %.2f after single-pass adjustment",
					corr, proposed[i], proposed[j], s.cfg.MaxCorrelation))
		}
	}

	// Proposal vs existing positions: the held leg cannot be scaled.
	held := make([]string, 0, len(ctx.Portfolio.Positions))
	for symbol, pos := range ctx.Portfolio.Positions {
		if pos.Quantity != 0 && proposal.Find(symbol) == nil {
			held = append(held, symbol)
		}
	}
	sort.Strings(held)
	for _, proposedSymbol := range proposed {
		for _, heldSymbol := range held {
			corr := ctx.Correlations.Get(proposedSymbol, heldSymbol)
			if math.Abs(corr) <= s.cfg.MaxCorrelation {
				continue
			}
			s.scaleSymbol(adjustment, proposedSymbol)
			adjustment.Warnings = append(adjustment.Warnings,
				fmt.Sprintf("correlation %.2f between %s and held position %s exceeds %.2f after single-pass adjustment",
					corr, proposedSymbol, heldSymbol, s.cfg.MaxCorrelation))
		}
	}

	sort.Strings(adjustment.AffectedPositions)
	return adjustment, nil
}

// pickLeg chooses which of two proposal legs to scale: the smaller-confidence
// side, or on a tie the larger absolute quantity.
func (s *CorrelationStage) pickLeg(proposal *models.TradeProposal, ctx *ExecutionContext, a, b string) string {
	confA := ctx.Signals[a].Confidence
	confB := ctx.Signals[b].Confidence
	if confA < confB {
		return a
	}
	if confB < confA {
		return b
	}

	qtyA := abs(proposal.Find(a).Quantity)
	qtyB := abs(proposal.Find(b).Quantity)
	if qtyA >= qtyB {
		return a
	}
	return b
}

// scaleSymbol applies one pair's adjustment factor to a symbol. A symbol in
// several breaching pairs is scaled once per pair.
func (s *CorrelationStage) scaleSymbol(adjustment *CorrelationAdjustment, symbol string) {
	if _, ok := adjustment.Scales[symbol]; !ok {
		adjustment.Scales[symbol] = 1.0
		adjustment.AffectedPositions = append(adjustment.AffectedPositions, symbol)
	}
	adjustment.Scales[symbol] *= s.cfg.AdjustmentFactor
}

// AdjustTrades applies the decided scales to a proposal. Quantities truncate
// toward zero; trades scaled to zero are removed.
func (s *CorrelationStage) AdjustTrades(proposal *models.TradeProposal, adjustment *CorrelationAdjustment) *models.TradeProposal {
	adjusted := proposal.Clone()
	kept := adjusted.Trades[:0]
	for _, trade := range adjusted.Trades {
		if scale, ok := adjustment.Scales[trade.Symbol]; ok {
			trade.Quantity = int(math.Trunc(float64(trade.Quantity) * scale))
		}
		if trade.Quantity != 0 {
			kept = append(kept, trade)
		}
	}
	adjusted.Trades = kept
	return adjusted
}

// Apply runs analysis and adjustment, records the stage decision, and surfaces
// residual-breach warnings on the context.
func (s *CorrelationStage) Apply(proposal *models.TradeProposal, ctx *ExecutionContext, state *AgentState) (*models.TradeProposal, *CorrelationAdjustment, error) {
	adjustment, err := s.AnalyzeCorrelations(proposal, ctx)
	if err != nil {
		return nil, nil, err
	}

	adjusted := s.AdjustTrades(proposal, adjustment)
	for _, warning := range adjustment.Warnings {
		ctx.Warn(warning)
	}

	state.RecordDecision(models.Decision{
		Stage:     StageCorrelation,
		Timestamp: time.Now(),
		Symbols:   adjustment.AffectedPositions,
		Action:    "decorrelate",
		Reasoning: fmt.Sprintf("scaled %d positions for correlation concentration", len(adjustment.AffectedPositions)),
		Metrics: map[string]float64{
			"affected":          float64(len(adjustment.AffectedPositions)),
			"residual_breaches": float64(len(adjustment.Warnings)),
		},
	})
	state.Metric("pairs_adjusted", float64(len(adjustment.AffectedPositions)))

	s.logger.Debug().
		Int("affected", len(adjustment.AffectedPositions)).
		Int("warnings", len(adjustment.Warnings)).
		Msg("Correlation adjustment complete")

	return adjusted, adjustment, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
