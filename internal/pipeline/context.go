// Package pipeline implements the staged trade execution pipeline: position
// sizing, risk management with a bounded feedback loop, correlation-based
// adjustment, and execution-rule finalization, sequenced by an orchestrator.
package pipeline

import (
	"time"

	"tradepipeline/internal/models"
)

// ExecutionContext is the mutable shared state threaded through the pipeline
// for one execution cycle. It is created at the start of an orchestrator call,
// mutated in place by each stage in sequence, and discarded (or retained by
// the caller for observability) after the call returns.
type ExecutionContext struct {
	CycleID   string
	StartedAt time.Time

	// Inputs, fully materialized before the cycle starts.
	Signals            map[string]models.Signal
	Portfolio          *models.PortfolioState
	Prices             map[string]float64
	Correlations       *models.CorrelationMatrix
	Volatility         map[string]float64 // per-symbol volatility estimates, optional
	ImpactCoefficients map[string]float64 // per-symbol market impact, optional

	// Mutated across stages.
	Proposal         *models.TradeProposal
	RiskMetrics      models.RiskMetrics
	Converged        bool
	RiskIterations   int
	Warnings         []string
	ExecutionMetrics map[string]float64
}

// PortfolioValue returns the total portfolio value at the cycle's prices.
func (c *ExecutionContext) PortfolioValue() float64 {
	if c.Portfolio == nil {
		return 0
	}
	return c.Portfolio.Value(c.Prices)
}

// Warn appends a cycle warning.
func (c *ExecutionContext) Warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}

// maxDecisionHistory bounds per-stage decision history growth across cycles.
const maxDecisionHistory = 500

// AgentState is the per-stage state that persists across cycles, enabling
// adaptive behavior. The orchestrator owns all AgentState instances; stages
// borrow mutable access only for the duration of their call.
type AgentState struct {
	HistoricalDecisions []models.Decision
	PerformanceMetrics  map[string]float64
	LearningState       map[string]float64
}

// NewAgentState creates an empty agent state.
func NewAgentState() *AgentState {
	return &AgentState{
		PerformanceMetrics: make(map[string]float64),
		LearningState:      make(map[string]float64),
	}
}

// RecordDecision appends a decision to the stage's history, trimming the
// oldest entries past the retention cap.
func (s *AgentState) RecordDecision(d models.Decision) {
	s.HistoricalDecisions = append(s.HistoricalDecisions, d)
	if len(s.HistoricalDecisions) > maxDecisionHistory {
		s.HistoricalDecisions = s.HistoricalDecisions[len(s.HistoricalDecisions)-maxDecisionHistory:]
	}
}

// Metric increments a named performance metric.
func (s *AgentState) Metric(name string, delta float64) {
	s.PerformanceMetrics[name] += delta
}

// Learn reads a learning-state value with a default.
func (s *AgentState) Learn(name string, def float64) float64 {
	if v, ok := s.LearningState[name]; ok {
		return v
	}
	return def
}
