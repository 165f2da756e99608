package pipeline

// Stage names used for error wrapping, logging, and AgentState ownership.
const (
	StageSizing      = "position_sizing"
	StageRisk        = "risk_management"
	StageCorrelation = "correlation"
	StageRules       = "execution_rules"
)

// stageNames lists the stages in execution order.
var stageNames = []string{StageSizing, StageRisk, StageCorrelation, StageRules}

// Stage is implemented by every pipeline stage. Stages expose their own typed
// operations; the common surface is the identity used in errors and state.
type Stage interface {
	Name() string
}
