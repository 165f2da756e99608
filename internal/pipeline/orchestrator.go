package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradepipeline/internal/config"
	errs "tradepipeline/internal/errors"
	"tradepipeline/internal/logging"
	"tradepipeline/internal/models"
)

// State represents the orchestrator's position in one execution cycle.
type State string

const (
	StateInitialized          State = "INITIALIZED"
	StateSizing               State = "SIZING"
	StateRiskAdjusting        State = "RISK_ADJUSTING"
	StateCorrelationAdjusting State = "CORRELATION_ADJUSTING"
	StateFinalizing           State = "FINALIZING"
	StateDone                 State = "DONE"
	StateError                State = "ERROR"
)

// CycleInput carries the fully materialized inputs for one execution cycle.
// Nothing here may be fetched lazily: the pipeline never blocks on I/O.
type CycleInput struct {
	Signals            map[string]models.Signal
	Portfolio          *models.PortfolioState
	Prices             map[string]float64
	Correlations       *models.CorrelationMatrix
	Volatility         map[string]float64
	ImpactCoefficients map[string]float64
}

// CycleResult is the outcome of a successful cycle: a complete order list,
// never a partial one.
type CycleResult struct {
	Orders         []models.Order
	Metrics        models.RiskMetrics
	Converged      bool
	RiskIterations int
	Warnings       []string
	Report         *models.CycleReport
	Context        *ExecutionContext
}

// TradeExecutionOrchestrator sequences the four stages, owns the
// ExecutionContext lifecycle and every stage's AgentState, and returns the
// final order list. A cycle either completes (DONE) or aborts (ERROR) with no
// orders emitted; there is no partial emission and no mid-cycle cancellation.
type TradeExecutionOrchestrator struct {
	sizing      *PositionSizingStage
	risk        *RiskManagementStage
	correlation *CorrelationStage
	rules       *ExecutionRulesStage
	cfg         *config.Config
	logger      zerolog.Logger

	// mu serializes cycles so shared AgentState has a single writer.
	mu          sync.Mutex
	agentStates map[string]*AgentState
	state       State
	cycleSeq    uint64
}

// NewTradeExecutionOrchestrator builds the pipeline from configuration and a
// risk model.
func NewTradeExecutionOrchestrator(cfg *config.Config, model RiskModel, logger zerolog.Logger) (*TradeExecutionOrchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required: %w", errs.ErrConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sizing, err := NewPositionSizingStage(cfg.Sizing, logger)
	if err != nil {
		return nil, err
	}
	risk, err := NewRiskManagementStage(cfg.Risk, model, logger)
	if err != nil {
		return nil, err
	}

	agentStates := make(map[string]*AgentState, len(stageNames))
	for _, name := range stageNames {
		agentStates[name] = NewAgentState()
	}

	return &TradeExecutionOrchestrator{
		sizing:      sizing,
		risk:        risk,
		correlation: NewCorrelationStage(cfg.Correlation, logger),
		rules:       NewExecutionRulesStage(cfg.Execution, logger),
		cfg:         cfg,
		logger:      logger,
		agentStates: agentStates,
		state:       StateInitialized,
	}, nil
}

// State returns the orchestrator's current state.
func (o *TradeExecutionOrchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// AgentState returns the orchestrator-owned state for a stage, for inspection.
func (o *TradeExecutionOrchestrator) AgentState(stage string) *AgentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.agentStates[stage]
}

// Execute runs one cycle: validate inputs, then size, risk-adjust,
// correlation-adjust and finalize. On failure it returns a stage-identified
// error and no orders.
func (o *TradeExecutionOrchestrator) Execute(input CycleInput) (*CycleResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cycleSeq++
	cycle := &ExecutionContext{
		CycleID:            fmt.Sprintf("cycle-%d-%d", time.Now().UnixNano(), o.cycleSeq),
		StartedAt:          time.Now(),
		Signals:            input.Signals,
		Portfolio:          input.Portfolio,
		Prices:             input.Prices,
		Correlations:       input.Correlations,
		Volatility:         input.Volatility,
		ImpactCoefficients: input.ImpactCoefficients,
		ExecutionMetrics:   make(map[string]float64),
	}
	logger := logging.WithCycle(o.logger, cycle.CycleID)

	// Validation happens once, before any stage runs.
	o.setState(StateInitialized, logger)
	if err := validateInput(input); err != nil {
		return nil, o.fail(cycle, "validation", err, logger)
	}

	// Stage 1: position sizing. InsufficientCash is recoverable: the cycle
	// continues with an empty proposal.
	o.setState(StateSizing, logger)
	proposal, err := o.sizing.ProposeTrades(cycle, o.agentStates[StageSizing])
	if err != nil {
		if !errs.IsRecoverable(err) {
			return nil, o.fail(cycle, StageSizing, err, logger)
		}
		cycle.Warn(fmt.Sprintf("%s recovered with empty proposal: %v", StageSizing, err))
		proposal = &models.TradeProposal{Reasoning: "empty proposal after recoverable sizing failure"}
	}
	if err := proposal.Validate(); err != nil {
		return nil, o.fail(cycle, StageSizing, err, logger)
	}
	cycle.Proposal = proposal
	logging.LogProposal(logger, StageSizing, proposal)

	// Stage 2: risk feedback loop.
	o.setState(StateRiskAdjusting, logger)
	loop, err := o.risk.Apply(cycle.Proposal, cycle, o.agentStates[StageRisk])
	if err != nil {
		return nil, o.fail(cycle, StageRisk, err, logger)
	}
	cycle.Proposal = loop.Proposal
	cycle.RiskMetrics = loop.Metrics
	cycle.Converged = loop.Converged
	cycle.RiskIterations = loop.Iterations
	if err := cycle.Proposal.Validate(); err != nil {
		return nil, o.fail(cycle, StageRisk, err, logger)
	}
	if !loop.Converged {
		notConverged := o.risk.NonConvergenceError(loop)
		if o.cfg.Risk.OnNonConvergence == config.NonConvergenceAbort {
			return nil, o.fail(cycle, StageRisk, notConverged, logger)
		}
		cycle.Warn(notConverged.Error())
		logger.Warn().Err(notConverged).Msg("Proceeding with best-effort proposal")
	}
	logging.LogProposal(logger, StageRisk, cycle.Proposal)

	// Stage 3: correlation adjustment, single pass.
	o.setState(StateCorrelationAdjusting, logger)
	adjusted, _, err := o.correlation.Apply(cycle.Proposal, cycle, o.agentStates[StageCorrelation])
	if err != nil {
		return nil, o.fail(cycle, StageCorrelation, err, logger)
	}
	cycle.Proposal = adjusted
	if err := cycle.Proposal.Validate(); err != nil {
		return nil, o.fail(cycle, StageCorrelation, err, logger)
	}
	logging.LogProposal(logger, StageCorrelation, cycle.Proposal)

	// Stage 4: execution rules.
	o.setState(StateFinalizing, logger)
	orders, err := o.rules.Apply(cycle.Proposal, cycle, o.agentStates[StageRules])
	if err != nil {
		return nil, o.fail(cycle, StageRules, err, logger)
	}
	for _, order := range orders {
		logging.LogOrder(logger, order)
	}

	o.setState(StateDone, logger)
	o.updatePerformance(cycle, orders)

	report := &models.CycleReport{
		ID:            cycle.CycleID,
		StartedAt:     cycle.StartedAt,
		FinishedAt:    time.Now(),
		Status:        models.CycleDone,
		Converged:     cycle.Converged,
		RiskIteration: cycle.RiskIterations,
		OrderCount:    len(orders),
		Warnings:      cycle.Warnings,
	}
	logging.LogCycle(logger, report)

	return &CycleResult{
		Orders:         orders,
		Metrics:        cycle.RiskMetrics,
		Converged:      cycle.Converged,
		RiskIterations: cycle.RiskIterations,
		Warnings:       cycle.Warnings,
		Report:         report,
		Context:        cycle,
	}, nil
}

func (o *TradeExecutionOrchestrator) setState(state State, logger zerolog.Logger) {
	o.state = state
	logger.Debug().Str("state", string(state)).Msg("State transition")
}

// fail moves the orchestrator to ERROR and wraps the failure with the stage
// identity and diagnostic context. No orders are emitted.
func (o *TradeExecutionOrchestrator) fail(cycle *ExecutionContext, stage string, err error, logger zerolog.Logger) error {
	o.state = StateError

	report := &models.CycleReport{
		ID:            cycle.CycleID,
		StartedAt:     cycle.StartedAt,
		FinishedAt:    time.Now(),
		Status:        models.CycleError,
		Converged:     cycle.Converged,
		RiskIteration: cycle.RiskIterations,
		Warnings:      cycle.Warnings,
		FailureStage:  stage,
		FailureReason: err.Error(),
	}
	logging.LogCycle(logger, report)

	return errs.NewStageError(stage, false, err)
}

// updatePerformance refreshes every stage's performance metrics after DONE.
func (o *TradeExecutionOrchestrator) updatePerformance(cycle *ExecutionContext, orders []models.Order) {
	converged := 0.0
	if cycle.Converged {
		converged = 1.0
	}
	for _, name := range stageNames {
		state := o.agentStates[name]
		state.Metric("cycles_total", 1)
		state.Metric("cycles_converged", converged)
		state.Metric("orders_emitted", float64(len(orders)))
	}
	cycle.ExecutionMetrics["orders"] = float64(len(orders))
	cycle.ExecutionMetrics["risk_iterations"] = float64(cycle.RiskIterations)
	cycle.ExecutionMetrics["warnings"] = float64(len(cycle.Warnings))
}

// validateInput checks every cycle input before any stage runs. Failures here
// are fatal for the cycle.
func validateInput(input CycleInput) error {
	if input.Portfolio == nil {
		return errs.NewValidationError("portfolio", nil, "portfolio snapshot is required")
	}
	if err := input.Portfolio.Validate(); err != nil {
		return errs.NewValidationError("portfolio", nil, err.Error())
	}
	for symbol, sig := range input.Signals {
		if sig.Symbol != symbol {
			return errs.NewValidationError("signals", symbol, "signal map key does not match signal symbol")
		}
		if err := sig.Validate(); err != nil {
			return errs.NewValidationError("signals", symbol, err.Error())
		}
		if price, ok := input.Prices[symbol]; !ok || price <= 0 {
			return errs.NewValidationError("prices", symbol, "positive reference price required for signal symbol")
		}
	}
	if err := input.Correlations.Validate(); err != nil {
		return errs.NewValidationError("correlations", nil, err.Error())
	}
	return nil
}
