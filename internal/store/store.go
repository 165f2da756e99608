// Package store provides data persistence for cycle reports, stage decisions,
// and emitted orders.
package store

import (
	"context"
	"time"

	"tradepipeline/internal/models"
)

// DataStore defines the persistence interface. The pipeline itself never
// blocks on the store; callers persist after a cycle finishes.
type DataStore interface {
	// Cycles
	SaveCycle(ctx context.Context, report *models.CycleReport) error
	GetCycles(ctx context.Context, filter CycleFilter) ([]models.CycleReport, error)

	// Stage decisions
	SaveDecision(ctx context.Context, cycleID string, decision *models.Decision) error
	GetDecisions(ctx context.Context, cycleID string) ([]models.Decision, error)

	// Orders
	SaveOrders(ctx context.Context, cycleID string, orders []models.Order) error
	GetOrders(ctx context.Context, cycleID string) ([]models.Order, error)

	Close() error
}

// CycleFilter narrows cycle queries.
type CycleFilter struct {
	Status models.CycleStatus
	Since  time.Time
	Limit  int
}
