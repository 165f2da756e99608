package pipeline

import (
	"context"
	"runtime"
	"sync"
)

// CycleJob pairs an orchestrator with the input for one independent cycle.
// Each job owns its orchestrator for the duration of the run; two jobs may
// share an orchestrator because Execute serializes internally.
type CycleJob struct {
	ID           string
	Orchestrator *TradeExecutionOrchestrator
	Input        CycleInput
}

// CycleOutcome is the result of one job.
type CycleOutcome struct {
	ID     string
	Result *CycleResult
	Err    error
}

// Runner executes independent cycles for multiple portfolios over a bounded
// worker pool. Cycles never share an ExecutionContext; AgentState sharing is
// safe because each orchestrator is its own single writer.
type Runner struct {
	workers int
}

// NewRunner creates a runner. If workers is not positive it defaults to the
// number of CPUs.
func NewRunner(workers int) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{workers: workers}
}

// Run executes every job and returns outcomes in job order. A cycle already
// started is never cancelled mid-flight; ctx only stops jobs that have not
// begun.
func (r *Runner) Run(ctx context.Context, jobs []CycleJob) []CycleOutcome {
	outcomes := make([]CycleOutcome, len(jobs))
	queue := make(chan int)

	var wg sync.WaitGroup
	workers := r.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				job := jobs[idx]
				result, err := job.Orchestrator.Execute(job.Input)
				outcomes[idx] = CycleOutcome{ID: job.ID, Result: result, Err: err}
			}
		}()
	}

	for idx := range jobs {
		// Cancellation wins over dispatch when both are ready.
		if err := ctx.Err(); err != nil {
			outcomes[idx] = CycleOutcome{ID: jobs[idx].ID, Err: err}
			continue
		}
		select {
		case <-ctx.Done():
			outcomes[idx] = CycleOutcome{ID: jobs[idx].ID, Err: ctx.Err()}
		case queue <- idx:
		}
	}
	close(queue)
	wg.Wait()

	return outcomes
}
