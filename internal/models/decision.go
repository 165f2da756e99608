package models

import "time"

// Decision records one stage's contribution to a cycle, kept in the stage's
// historical state for adaptive behavior and persisted for audit.
type Decision struct {
	Stage      string
	Timestamp  time.Time
	Symbols    []string
	Action     string // e.g. "propose", "resize", "decorrelate", "finalize"
	Confidence float64
	Reasoning  string
	Metrics    map[string]float64
}

// CycleStatus represents the terminal status of one orchestrator cycle.
type CycleStatus string

const (
	CycleDone  CycleStatus = "DONE"
	CycleError CycleStatus = "ERROR"
)

// CycleReport is the persisted summary of one execution cycle.
type CycleReport struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        CycleStatus
	Converged     bool
	RiskIteration int
	OrderCount    int
	Warnings      []string
	FailureStage  string
	FailureReason string
}
