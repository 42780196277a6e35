package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// workItem is what crosses the broker channel: enough to run the job
// without a repository round-trip on the consumer side.
type workItem struct {
	jobID string
}

// OutOfProcessBackend enqueues job IDs onto a channel-backed broker
// consumed by a separate pool of worker goroutines, modeling a
// dedicated worker process without requiring a real message broker
// dependency in the pack. Grounded on the teacher's
// dashboard.Broadcaster channel fan-out idiom (buffered channel,
// non-blocking publish, dedicated consumer goroutines).
type OutOfProcessBackend struct {
	executor *Executor
	repo     *Repository
	log      zerolog.Logger

	queue   chan workItem
	workers int

	mu     sync.Mutex
	timers map[string]*time.Timer
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewOutOfProcessBackend(executor *Executor, repo *Repository, workers int, log zerolog.Logger) *OutOfProcessBackend {
	if workers <= 0 {
		workers = defaultWorkerPoolSize
	}
	return &OutOfProcessBackend{
		executor: executor,
		repo:     repo,
		log:      log,
		queue:    make(chan workItem, 256),
		workers:  workers,
		timers:   make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
	}
}

func (b *OutOfProcessBackend) Start() error {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.consume()
	}
	return nil
}

func (b *OutOfProcessBackend) Stop() {
	close(b.stopCh)
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = make(map[string]*time.Timer)
}

func (b *OutOfProcessBackend) consume() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case item := <-b.queue:
			b.run(item.jobID)
		}
	}
}

func (b *OutOfProcessBackend) run(jobID string) {
	ctx := context.Background()
	job, err := b.repo.Get(ctx, jobID)
	if err != nil {
		b.log.Warn().Str("job_id", jobID).Err(err).Msg("scheduler: dequeued missing job")
		return
	}
	if job.Status != StatusPaused {
		b.executor.Run(ctx, job)
	}
	_ = b.scheduleNext(job)
}

// Schedule arms a timer that enqueues the job onto the broker channel
// at its next fire time; cron expressions are evaluated the same way
// IntervalTrigger/OneShotTrigger are here since there's no in-process
// cron daemon on this backend — the timer recomputes Next itself. A
// job (re)armed with a NextFireAt already in the past — on restart
// reload, Resume, or a backdated AddJob — runs one coalesced catch-up
// fire first, per CheckMisfire/MisfireGraceS, before the timer is
// armed for its next natural fire.
func (b *OutOfProcessBackend) Schedule(job Job) error {
	b.runCatchup(job)
	return b.scheduleNext(job)
}

// runCatchup runs job once through the executor if CheckMisfire finds
// a missed fire still inside its grace window, and logs and drops it
// otherwise. Only called from Schedule: the self-rearm after a live
// fire (in run(), below) calls scheduleNext directly, since that
// NextFireAt is the one that just legitimately fired, not a missed one.
func (b *OutOfProcessBackend) runCatchup(job Job) {
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

func (b *OutOfProcessBackend) scheduleNext(job Job) error {
	next, ok := job.Trigger.Next(time.Now())
	if !ok {
		return nil
	}
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	timer := time.AfterFunc(delay, func() {
		select {
		case b.queue <- workItem{jobID: job.ID}:
		default:
			b.log.Warn().Str("job", job.Name).Msg("scheduler: out-of-process queue full, dropping fire")
		}
	})

	b.mu.Lock()
	b.timers[job.ID] = timer
	b.mu.Unlock()

	if b.repo != nil {
		_ = b.repo.UpdateNextFireAndStatus(context.Background(), job.ID, next, job.Status)
	}
	return nil
}

func (b *OutOfProcessBackend) Unschedule(jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if timer, ok := b.timers[jobID]; ok {
		timer.Stop()
		delete(b.timers, jobID)
	}
	return nil
}
