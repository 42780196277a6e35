package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultWorkerPoolSize = 20

// InProcessBackend drives job fires from goroutines inside this
// process: robfig/cron.Cron for CronTrigger jobs (matching
// aristath-sentinel's trader-go scheduler), and a timer per
// interval/one-shot job. A bounded worker pool caps how many handlers
// run concurrently regardless of how many jobs fire at once, the same
// shared-pool-behind-a-channel shape the teacher uses for its
// mutex-guarded risk manager.
type InProcessBackend struct {
	executor *Executor
	repo     *Repository
	log      zerolog.Logger

	cron      *cron.Cron
	workerSem chan struct{}

	mu          sync.Mutex
	cronEntries map[string]cron.EntryID
	timers      map[string]*time.Timer
}

func NewInProcessBackend(executor *Executor, repo *Repository, poolSize int, log zerolog.Logger) *InProcessBackend {
	if poolSize <= 0 {
		poolSize = defaultWorkerPoolSize
	}
	return &InProcessBackend{
		executor:    executor,
		repo:        repo,
		log:         log,
		cron:        cron.New(cron.WithSeconds()),
		workerSem:   make(chan struct{}, poolSize),
		cronEntries: make(map[string]cron.EntryID),
		timers:      make(map[string]*time.Timer),
	}
}

func (b *InProcessBackend) Start() error {
	b.cron.Start()
	return nil
}

func (b *InProcessBackend) Stop() {
	ctx := b.cron.Stop()
	<-ctx.Done()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = make(map[string]*time.Timer)
}

// Schedule starts driving fires for job. Cron triggers are handed to
// robfig/cron; interval and one-shot triggers get their own timer that
// reschedules itself after each fire. An interval or one-shot job
// (re)armed with a NextFireAt already in the past — on restart reload,
// Resume, or a backdated AddJob — runs one coalesced catch-up fire
// first, per CheckMisfire/MisfireGraceS, before the timer is armed for
// its next natural fire. Cron jobs get no misfire check: a cron fire
// missed while the job was not armed is not caught up.
func (b *InProcessBackend) Schedule(job Job) error {
	switch t := job.Trigger.(type) {
	case CronTrigger:
		entryID, err := b.cron.AddFunc("0 "+t.Expr, func() { b.fire(job.ID) })
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.cronEntries[job.ID] = entryID
		b.mu.Unlock()
		return nil
	default:
		b.runCatchup(job)
		return b.scheduleNext(job)
	}
}

// runCatchup runs job once through the executor — honoring its
// MaxInstances/Coalesce semantics the same as any live fire — if
// CheckMisfire finds a missed fire still inside its grace window, and
// logs and drops it otherwise. Only called from Schedule: the self-
// rearm after a live fire (in fire(), below) calls scheduleNext
// directly, since that NextFireAt is the one that just legitimately
// fired, not a missed one.
func (b *InProcessBackend) runCatchup(job Job) {
	switch CheckMisfire(job, time.Now()) {
	case MisfireCatchUp:
		b.log.Warn().Str("job", job.Name).Time("missed_fire_at", job.NextFireAt).
			Msg("scheduler: missed fire within grace window, running one coalesced catch-up")
		go b.executor.Run(context.Background(), job)
	case MisfireDropped:
		b.log.Warn().Str("job", job.Name).Time("missed_fire_at", job.NextFireAt).
			Msg("scheduler: missed fire past grace window, dropping catch-up")
	}
}

func (b *InProcessBackend) scheduleNext(job Job) error {
	next, ok := job.Trigger.Next(time.Now())
	if !ok {
		return nil // one-shot already fired, nothing to schedule
	}
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	timer := time.AfterFunc(delay, func() { b.fire(job.ID) })

	b.mu.Lock()
	b.timers[job.ID] = timer
	b.mu.Unlock()

	if b.repo != nil {
		_ = b.repo.UpdateNextFireAndStatus(context.Background(), job.ID, next, job.Status)
	}
	return nil
}

func (b *InProcessBackend) Unschedule(jobID string) error {
	b.mu.Lock()
	if entryID, ok := b.cronEntries[jobID]; ok {
		b.cron.Remove(entryID)
		delete(b.cronEntries, jobID)
	}
	if timer, ok := b.timers[jobID]; ok {
		timer.Stop()
		delete(b.timers, jobID)
	}
	b.mu.Unlock()
	return nil
}

// fire re-reads the job from the repository so a paused or edited job
// between scheduling and firing is honored, then runs it through the
// bounded worker pool.
func (b *InProcessBackend) fire(jobID string) {
	ctx := context.Background()
	job, err := b.repo.Get(ctx, jobID)
	if err != nil {
		b.log.Warn().Str("job_id", jobID).Err(err).Msg("scheduler: fire on missing job")
		return
	}
	if job.Status == StatusPaused {
		return
	}

	if _, isCron := job.Trigger.(CronTrigger); !isCron {
		// interval/one-shot triggers reschedule themselves after firing;
		// cron triggers stay owned by robfig/cron and need no bookkeeping here.
		defer func() { _ = b.scheduleNext(job) }()
	}

	select {
	case b.workerSem <- struct{}{}:
	default:
		b.log.Warn().Str("job", job.Name).Msg("scheduler: worker pool saturated, waiting for a free worker")
		b.workerSem <- struct{}{}
	}
	go func() {
		defer func() { <-b.workerSem }()
		b.executor.Run(ctx, job)
	}()
}
