package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/circuitbreaker"
	"github.com/aristath/sentinel-core/internal/execlog"
)

// errorBudgetWindow and errorBudgetThreshold implement spec's error
// budget: 5 failures inside a rolling 10 minute window flips a job
// into StatusError without removing it from the schedule — a direct
// reuse of internal/circuitbreaker's trip-on-window-failures behavior.
// Only the scheduler job row is flagged; a strategy backing a
// strategy_tick job keeps its own status. No cooldown is configured:
// unlike the exchange adapter's breaker, a job's error flag doesn't
// self-heal, because a broken handler won't start working again just
// because time passed — it clears only when an operator calls Resume.
const (
	errorBudgetWindow    = 10 * time.Minute
	errorBudgetThreshold = 5
)

// Executor resolves, runs, and logs job executions, at most
// MaxInstances at once per job ID, wrapping every run in an execlog
// entry and feeding the per-job error budget.
type Executor struct {
	handlers *HandlerRegistry
	log      zerolog.Logger
	execlog  *execlog.Store
	repo     *Repository

	mu        sync.Mutex
	semaphore map[string]chan struct{}
	budgets   map[string]*circuitbreaker.Breaker
}

func NewExecutor(handlers *HandlerRegistry, execStore *execlog.Store, repo *Repository, log zerolog.Logger) *Executor {
	return &Executor{
		handlers:  handlers,
		execlog:   execStore,
		repo:      repo,
		log:       log,
		semaphore: make(map[string]chan struct{}),
		budgets:   make(map[string]*circuitbreaker.Breaker),
	}
}

func (e *Executor) semaphoreFor(job Job) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, ok := e.semaphore[job.ID]
	if !ok {
		cap := job.MaxInstances
		if cap <= 0 {
			cap = DefaultMaxInstances
		}
		sem = make(chan struct{}, cap)
		e.semaphore[job.ID] = sem
	}
	return sem
}

func (e *Executor) budgetFor(jobID string) *circuitbreaker.Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.budgets[jobID]
	if !ok {
		b = circuitbreaker.New(circuitbreaker.Config{
			MaxFailuresPerWindow: errorBudgetThreshold,
			Window:               errorBudgetWindow,
		}, e.log)
		e.budgets[jobID] = b
	}
	return b
}

// Run executes job.Handler once, respecting MaxInstances: if the
// semaphore is full, the run either coalesces away (Coalesce=true,
// logged as StatusSkipped) or blocks until a slot frees up.
func (e *Executor) Run(ctx context.Context, job Job) {
	sem := e.semaphoreFor(job)

	select {
	case sem <- struct{}{}:
	default:
		if job.Coalesce {
			e.log.Debug().Str("job", job.Name).Msg("scheduler: overlapping run coalesced away")
			if e.execlog != nil {
				if id, err := e.execlog.Start(ctx, job.ID, job.Handler); err == nil {
					_ = e.execlog.Finish(ctx, id, execlog.StatusSkipped, 0, "max_instances reached", nil)
				}
			}
			return
		}
		sem <- struct{}{} // block for a free slot
	}
	defer func() { <-sem }()

	e.execute(ctx, job)
}

func (e *Executor) execute(ctx context.Context, job Job) {
	handler, ok := e.handlers.Lookup(job.Handler)
	if !ok {
		e.log.Warn().Str("job", job.Name).Str("handler", job.Handler).Msg("scheduler: handler not registered, marking orphaned")
		if e.repo != nil {
			_ = e.repo.UpdateNextFireAndStatus(ctx, job.ID, job.NextFireAt, StatusOrphaned)
		}
		return
	}

	var execID string
	if e.execlog != nil {
		id, err := e.execlog.Start(ctx, job.ID, job.Handler)
		if err == nil {
			execID = id
		}
	}

	progress := make(chan int, 8)
	go func() {
		for range progress {
			// Progress updates are discarded: nothing else reads this
			// channel, and draining it here keeps a handler's sends
			// from blocking.
		}
	}()

	outcome, err := handler(ctx, job.Args, progress)
	close(progress)

	budget := e.budgetFor(job.ID)
	status := execlog.StatusSuccess
	errMsg := ""
	if err != nil {
		status = execlog.StatusFailure
		errMsg = err.Error()
		budget.RecordFailure(errMsg)
	} else {
		budget.RecordSuccess()
	}

	if e.execlog != nil && execID != "" {
		_ = e.execlog.Finish(ctx, execID, status, outcome.Records, errMsg, outcome.Metadata)
	}

	if budget.IsTripped() && e.repo != nil {
		e.log.Error().Str("job", job.Name).Msg("scheduler: error budget exhausted, flagging job")
		_ = e.repo.UpdateNextFireAndStatus(ctx, job.ID, job.NextFireAt, StatusError)
	}
}
