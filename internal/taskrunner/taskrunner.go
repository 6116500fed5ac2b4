// Package taskrunner fans reconciliation tasks out over a bounded worker
// pool. Tasks are independent: each owns its batch, so running them
// concurrently never contends on booking state beyond the per-task
// open-batch lock the database enforces.
package taskrunner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/paystream-reconciler/internal/config"
	"github.com/paystream-reconciler/internal/domain/batch"
)

// TaskEngine runs a single reconciliation task
type TaskEngine interface {
	Run(ctx context.Context, task *config.Task) (*batch.Batch, error)
}

// Result is the outcome of one task run
type Result struct {
	Task  *config.Task
	Batch *batch.Batch
	Err   error
}

// Runner executes tasks on a fixed-size ants pool
type Runner struct {
	engine TaskEngine
	pool   *ants.Pool
	logger *slog.Logger
}

// New creates a runner with the configured pool size
func New(engine TaskEngine, cfg *config.WorkerPoolConfig, logger *slog.Logger) (*Runner, error) {
	pool, err := ants.NewPool(cfg.Size)
	if err != nil {
		return nil, err
	}
	return &Runner{
		engine: engine,
		pool:   pool,
		logger: logger,
	}, nil
}

// RunAll submits every task to the pool and waits for all of them. The
// returned results are in task order; a task that could not be submitted
// carries the submission error.
func (r *Runner) RunAll(ctx context.Context, tasks []config.Task) []Result {
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup

	for i := range tasks {
		i := i
		task := &tasks[i]
		results[i].Task = task

		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			r.logger.Info("Running task", "task_id", task.ID)
			b, err := r.engine.Run(ctx, task)
			results[i].Batch = b
			results[i].Err = err
			if err != nil {
				r.logger.Error("Task failed", "task_id", task.ID, "error", err)
			}
		})
		if err != nil {
			wg.Done()
			results[i].Err = err
			r.logger.Error("Failed to submit task to worker pool", "task_id", task.ID, "error", err)
		}
	}

	wg.Wait()
	return results
}

// Shutdown gracefully releases the worker pool
func (r *Runner) Shutdown() {
	r.logger.Info("Shutting down worker pool", "running_workers", r.pool.Running())
	r.pool.Release()
}

// Running returns the number of running workers in the pool
func (r *Runner) Running() int {
	return r.pool.Running()
}
