// Package scheduler is the durable, dynamic job scheduler: trigger
// types, persisted jobs, a pluggable in-process/out-of-process
// execution backend, and the executor that wraps every run in an
// execution-log entry and an error budget. Generalized from the
// teacher's in-memory, calendar-gated Scheduler (nightly/market-hour/
// weekly job buckets keyed off market.Calendar) into the always-on,
// restart-durable contract a 24/7 crypto system needs: jobs carry
// their own trigger instead of a fixed bucket, and persistence means
// a restart picks up exactly where it left off.
package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/execlog"
)

// BackendKind names which execution backend a Scheduler uses.
type BackendKind string

const (
	BackendInProcess    BackendKind = "inprocess"
	BackendOutOfProcess BackendKind = "outofprocess"
)

// Scheduler owns the job repository, handler registry, executor, and
// the chosen backend. Backend choice is a config value read once at
// New and invisible to every other caller.
type Scheduler struct {
	repo     *Repository
	handlers *HandlerRegistry
	executor *Executor
	backend  Backend
	log      zerolog.Logger
}

// New constructs a Scheduler. poolSize only applies to the in-process
// backend's worker pool; out-of-process sizes its own consumer pool
// the same way.
func New(repo *Repository, execStore *execlog.Store, kind BackendKind, poolSize int, log zerolog.Logger) *Scheduler {
	handlers := NewHandlerRegistry()
	executor := NewExecutor(handlers, execStore, repo, log)

	var backend Backend
	switch kind {
	case BackendOutOfProcess:
		backend = NewOutOfProcessBackend(executor, repo, poolSize, log)
	default:
		backend = NewInProcessBackend(executor, repo, poolSize, log)
	}

	return &Scheduler{repo: repo, handlers: handlers, executor: executor, backend: backend, log: log}
}

// RegisterHandler adds a named handler. Must be called before Start for
// any persisted job using that handler to load as StatusScheduled
// instead of StatusOrphaned.
func (s *Scheduler) RegisterHandler(name string, h Handler) {
	s.handlers.Register(name, h)
}

// AddJob persists a new job and schedules it for execution unless
// enabled is false, in which case it's created paused.
func (s *Scheduler) AddJob(ctx context.Context, name, handler string, args map[string]any, trigger Trigger, enabled bool) (Job, error) {
	if _, ok := s.handlers.Lookup(handler); !ok {
		s.log.Warn().Str("handler", handler).Msg("scheduler: registering job for an unregistered handler")
	}
	status := StatusScheduled
	if !enabled {
		status = StatusPaused
	}
	job, err := s.repo.Upsert(ctx, Job{Name: name, Handler: handler, Args: args, Trigger: trigger, Coalesce: true, Status: status})
	if err != nil {
		return Job{}, err
	}
	if status == StatusScheduled {
		if err := s.backend.Schedule(job); err != nil {
			return Job{}, apperrors.Wrap(apperrors.Internal, "scheduler: schedule job", err)
		}
	}
	return job, nil
}

// Pause stops future fires for a job without deleting it. Per spec's
// pause=remove decision, this unschedules the backend timer/cron entry
// entirely; Resume re-creates it from scratch rather than toggling a
// paused flag the backend checks.
func (s *Scheduler) Pause(ctx context.Context, jobID string) error {
	if err := s.backend.Unschedule(jobID); err != nil {
		return err
	}
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return s.repo.UpdateNextFireAndStatus(ctx, jobID, job.NextFireAt, StatusPaused)
}

// Resume re-schedules a paused or errored job from its trigger's next
// natural fire time.
func (s *Scheduler) Resume(ctx context.Context, jobID string) error {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateNextFireAndStatus(ctx, jobID, job.NextFireAt, StatusScheduled); err != nil {
		return err
	}
	job.Status = StatusScheduled
	s.executor.mu.Lock()
	if b, ok := s.executor.budgets[jobID]; ok {
		b.Reset()
	}
	s.executor.mu.Unlock()
	return s.backend.Schedule(job)
}

// Remove permanently deletes a job and stops its backend entry.
func (s *Scheduler) Remove(ctx context.Context, jobID string) error {
	_ = s.backend.Unschedule(jobID)
	return s.repo.Delete(ctx, jobID)
}

// Start boots the backend and reschedules every persisted job that
// isn't paused. A job whose handler isn't registered loads orphaned
// instead of being scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.backend.Start(); err != nil {
		return apperrors.Wrap(apperrors.Internal, "scheduler: start backend", err)
	}

	jobs, err := s.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Status == StatusPaused {
			continue
		}
		if _, ok := s.handlers.Lookup(job.Handler); !ok {
			s.log.Warn().Str("job", job.Name).Str("handler", job.Handler).Msg("scheduler: loading job as orphaned, handler not registered")
			_ = s.repo.UpdateNextFireAndStatus(ctx, job.ID, job.NextFireAt, StatusOrphaned)
			continue
		}
		if err := s.backend.Schedule(job); err != nil {
			s.log.Error().Str("job", job.Name).Err(err).Msg("scheduler: failed to reschedule persisted job")
		}
	}
	s.log.Info().Int("jobs", len(jobs)).Str("handlers", fmt.Sprint(s.handlers.Names())).Msg("scheduler: started")
	return nil
}

// Shutdown stops the backend, which drops any in-flight fires that
// haven't already been picked up by a worker; jobs already running
// finish naturally since Stop only stops new fires, not Executor.Run
// goroutines already in flight.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.backend.Stop()
}
