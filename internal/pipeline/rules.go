package pipeline

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tradepipeline/internal/config"
	errs "tradepipeline/internal/errors"
	"tradepipeline/internal/models"
)

// ExecutionRulesStage converts the final proposal into concrete orders with
// venue-facing parameters. ApplyRules is a pure function of the proposal and
// context: re-running it on an unchanged input yields identical orders.
type ExecutionRulesStage struct {
	cfg    config.ExecutionRulesConfig
	logger zerolog.Logger
}

// NewExecutionRulesStage creates the execution rules stage.
func NewExecutionRulesStage(cfg config.ExecutionRulesConfig, logger zerolog.Logger) *ExecutionRulesStage {
	return &ExecutionRulesStage{
		cfg:    cfg,
		logger: logger.With().Str("stage", StageRules).Logger(),
	}
}

// Name returns the stage identity.
func (s *ExecutionRulesStage) Name() string { return StageRules }

// ApplyRules maps each remaining proposed trade to an order. Orders whose
// market-impact estimate exceeds the configured limit are downgraded to LIMIT
// with the price offset by PriceThreshold to cap slippage. Trades fully scaled
// away by earlier stages produce no order.
func (s *ExecutionRulesStage) ApplyRules(proposal *models.TradeProposal, ctx *ExecutionContext) ([]models.Order, error) {
	orders := make([]models.Order, 0, len(proposal.Trades))

	for _, trade := range proposal.Trades {
		quantity := abs(trade.Quantity)
		if quantity == 0 {
			continue
		}

		reference, ok := ctx.Prices[trade.Symbol]
		if !ok || reference <= 0 {
			return nil, errs.Wrapf(errs.ErrMissingPrice, "finalizing %s", trade.Symbol)
		}

		order := models.Order{
			Symbol:      trade.Symbol,
			Quantity:    quantity,
			Side:        trade.Side,
			Type:        s.cfg.DefaultOrderType,
			TimeInForce: s.cfg.TimeInForce,
			CreatedAt:   ctx.StartedAt,
		}

		// Price-bearing default types quote at reference.
		if order.Type == models.OrderTypeLimit || order.Type == models.OrderTypeStopLimit {
			order.Price = reference
			order.HasPrice = true
		}

		if s.marketImpact(trade.Symbol, quantity, ctx) > s.cfg.MarketImpactLimit {
			order.Type = models.OrderTypeLimit
			order.Price = s.cappedPrice(reference, trade.Side)
			order.HasPrice = true
		}

		if err := order.Validate(); err != nil {
			return nil, errs.Wrapf(err, "finalizing %s", trade.Symbol)
		}
		orders = append(orders, order)
	}

	return orders, nil
}

// marketImpact estimates impact as quantity times the symbol's impact
// coefficient.
func (s *ExecutionRulesStage) marketImpact(symbol string, quantity int, ctx *ExecutionContext) float64 {
	coefficient := s.cfg.DefaultImpactCoefficient
	if c, ok := ctx.ImpactCoefficients[symbol]; ok {
		coefficient = c
	}
	return float64(quantity) * coefficient
}

// cappedPrice offsets the reference price by the threshold, in the direction
// that bounds slippage for the side.
func (s *ExecutionRulesStage) cappedPrice(reference float64, side models.TradeSide) float64 {
	if side == models.SideBuy {
		return reference * (1 + s.cfg.PriceThreshold)
	}
	return reference * (1 - s.cfg.PriceThreshold)
}

// Apply runs finalization and records the stage decision.
func (s *ExecutionRulesStage) Apply(proposal *models.TradeProposal, ctx *ExecutionContext, state *AgentState) ([]models.Order, error) {
	orders, err := s.ApplyRules(proposal, ctx)
	if err != nil {
		return nil, err
	}

	downgraded := 0
	for _, order := range orders {
		if order.Type == models.OrderTypeLimit && s.cfg.DefaultOrderType != models.OrderTypeLimit {
			downgraded++
		}
	}

	state.RecordDecision(models.Decision{
		Stage:     StageRules,
		Timestamp: time.Now(),
		Symbols:   proposalSymbols(proposal),
		Action:    "finalize",
		Reasoning: fmt.Sprintf("finalized %d orders (%d impact-capped)", len(orders), downgraded),
		Metrics: map[string]float64{
			"orders":         float64(len(orders)),
			"impact_capped":  float64(downgraded),
			"dropped_trades": float64(len(proposal.Trades) - len(orders)),
		},
	})
	state.Metric("orders_total", float64(len(orders)))

	return orders, nil
}
