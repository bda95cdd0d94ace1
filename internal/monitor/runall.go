package monitor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/v0xg/stealthrun/internal/action"
)

// Job is one independent session for RunAll.
type Job struct {
	Task  string
	Steps []action.Step
	// Driver must not be shared with another job.
	Driver  Driver
	Options Options
}

// BatchOptions bounds a RunAll batch.
type BatchOptions struct {
	// Parallel caps concurrently running sessions; <= 0 means one.
	Parallel int
	// LaunchRate caps session starts per second; 0 means unlimited.
	LaunchRate float64
	Logger     *zap.Logger
}

// Outcome is the result of one job.
type Outcome struct {
	Session *ExecutionSession
	Err     error
}

// RunAll runs jobs concurrently and returns their outcomes in job order.
// A failing job does not cancel the others.
func RunAll(ctx context.Context, jobs []Job, opts BatchOptions) []Outcome {
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.LaunchRate > 0 {
		limit = rate.Limit(opts.LaunchRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	outcomes := make([]Outcome, len(jobs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(opts.Parallel)
	for i, job := range jobs {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				mu.Lock()
				outcomes[i] = Outcome{Err: fmt.Errorf("%s: %w", job.Task, err)}
				mu.Unlock()
				return nil
			}
			if job.Options.Logger == nil {
				job.Options.Logger = logger
			}
			s, err := New(job.Driver, job.Options).Run(ctx, job.Task, job.Steps)

			mu.Lock()
			outcomes[i] = Outcome{Session: s, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
