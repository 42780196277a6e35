package strategy

import (
	"context"
	"fmt"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/candlestore"
	"github.com/aristath/sentinel-core/internal/scheduler"
)

// JobScheduler is the narrow seam into C6 a Manager needs: add, pause,
// resume, and remove a job by ID. Satisfied by *scheduler.Scheduler.
type JobScheduler interface {
	AddJob(ctx context.Context, name, handler string, args map[string]any, trigger scheduler.Trigger, enabled bool) (scheduler.Job, error)
	Pause(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error
	Remove(ctx context.Context, jobID string) error
}

// Manager implements the §4.8 state machine and keeps a strategy's
// scheduler job in lock-step with its status row. True cross-database
// atomicity between the strategy repository and the scheduler's own
// sqlite file isn't available with two independent *sql.DB handles —
// the same trade-off C5's collector made keeping its config store
// separate from candlestore — so a scheduler failure after the status
// write rolls the status back explicitly instead.
type Manager struct {
	Repo      *Repository
	Scheduler JobScheduler
	Trigger   func(st Strategy) scheduler.Trigger // default: IntervalTrigger derived from timeframe
}

const schedulerHandlerName = "strategy_tick"

// Start transitions inactive/paused -> active and creates (or resumes)
// the strategy's scheduler job.
func (m *Manager) Start(ctx context.Context, strategyID string) error {
	st, err := m.Repo.Get(ctx, strategyID)
	if err != nil {
		return err
	}
	if st.Status == StatusActive {
		return nil
	}
	if st.Status != StatusInactive && st.Status != StatusPaused && st.Status != StatusError {
		return apperrors.New(apperrors.Conflict, fmt.Sprintf("strategy: cannot start from status %q", st.Status))
	}

	if err := m.Repo.UpdateStatus(ctx, strategyID, StatusActive); err != nil {
		return err
	}

	if st.JobID != "" {
		if err := m.Scheduler.Resume(ctx, st.JobID); err != nil {
			_ = m.Repo.UpdateStatus(ctx, strategyID, st.Status)
			return apperrors.Wrap(apperrors.Internal, "strategy: resume scheduler job", err)
		}
		return nil
	}

	trigger := m.triggerFor(st)
	job, err := m.Scheduler.AddJob(ctx, "strategy:"+st.Symbol+":"+st.Type, schedulerHandlerName,
		map[string]any{"strategy_id": strategyID}, trigger, true)
	if err != nil {
		_ = m.Repo.UpdateStatus(ctx, strategyID, StatusInactive)
		return apperrors.Wrap(apperrors.Internal, "strategy: create scheduler job", err)
	}
	return m.Repo.SetJobID(ctx, strategyID, job.ID)
}

// Pause transitions active -> paused, unscheduling future fires
// without destroying the job's persisted state in C6.
func (m *Manager) Pause(ctx context.Context, strategyID string) error {
	st, err := m.Repo.Get(ctx, strategyID)
	if err != nil {
		return err
	}
	if st.Status != StatusActive {
		return apperrors.New(apperrors.Conflict, fmt.Sprintf("strategy: cannot pause from status %q", st.Status))
	}
	if st.JobID != "" {
		if err := m.Scheduler.Pause(ctx, st.JobID); err != nil {
			return apperrors.Wrap(apperrors.Internal, "strategy: pause scheduler job", err)
		}
	}
	return m.Repo.UpdateStatus(ctx, strategyID, StatusPaused)
}

// Resume transitions paused -> active, identical to Start's paused
// branch but exposed directly for symmetry with the spec's
// {start|stop|pause|resume} admin action set.
func (m *Manager) Resume(ctx context.Context, strategyID string) error {
	return m.Start(ctx, strategyID)
}

// Stop transitions any state -> inactive and permanently removes the
// scheduler job (a later Start creates a fresh one).
func (m *Manager) Stop(ctx context.Context, strategyID string) error {
	st, err := m.Repo.Get(ctx, strategyID)
	if err != nil {
		return err
	}
	if st.Status == StatusInactive {
		return nil
	}
	if st.JobID != "" {
		if err := m.Scheduler.Remove(ctx, st.JobID); err != nil {
			return apperrors.Wrap(apperrors.Internal, "strategy: remove scheduler job", err)
		}
		if err := m.Repo.SetJobID(ctx, strategyID, ""); err != nil {
			return err
		}
	}
	return m.Repo.UpdateStatus(ctx, strategyID, StatusInactive)
}

func (m *Manager) triggerFor(st Strategy) scheduler.Trigger {
	if m.Trigger != nil {
		return m.Trigger(st)
	}
	return scheduler.IntervalTrigger{Secs: timeframeSeconds(st.Timeframe)}
}

// timeframeSeconds maps a candle timeframe to the polling interval a
// strategy ticks at: once per candle close, the cadence at which a new
// signal could even exist.
func timeframeSeconds(tf candlestore.Timeframe) int {
	switch tf {
	case candlestore.Tf1m:
		return 60
	case candlestore.Tf5m:
		return 5 * 60
	case candlestore.Tf15m:
		return 15 * 60
	case candlestore.Tf30m:
		return 30 * 60
	case candlestore.Tf1h:
		return 60 * 60
	case candlestore.Tf4h:
		return 4 * 60 * 60
	case candlestore.Tf1d:
		return 24 * 60 * 60
	case candlestore.Tf1w:
		return 7 * 24 * 60 * 60
	default:
		return 60 * 60
	}
}
