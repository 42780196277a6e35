package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/execlog"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := OpenRepository(filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func newTestExecLog(t *testing.T) *execlog.Store {
	t.Helper()
	s, err := execlog.Open(filepath.Join(t.TempDir(), "execlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func discardLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestTriggerRoundTrip_IntervalCronOneShot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cronTrig, err := ParseCronTrigger("*/5 * * * *")
	require.NoError(t, err)

	cases := []Trigger{
		IntervalTrigger{Mins: 10},
		cronTrig,
		OneShotTrigger{At: time.Now().Add(time.Hour).UTC().Truncate(time.Second)},
	}

	for _, trig := range cases {
		job, err := repo.Upsert(ctx, Job{Name: "t", Handler: "h", Trigger: trig})
		require.NoError(t, err)

		loaded, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, trig.String(), loaded.Trigger.String())
	}
}

func TestAddJob_UnregisteredHandlerStillPersistsButWarns(t *testing.T) {
	repo := newTestRepo(t)
	execStore := newTestExecLog(t)
	s := New(repo, execStore, BackendInProcess, 4, discardLogger())
	require.NoError(t, s.Start(t.Context()))
	defer s.Shutdown(t.Context())

	job, err := s.AddJob(t.Context(), "mystery", "not-registered", nil, IntervalTrigger{Secs: 1}, true)
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, job.Status)
}

func TestStart_OrphansJobsWithUnregisteredHandlers(t *testing.T) {
	repo := newTestRepo(t)
	execStore := newTestExecLog(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, Job{Name: "ghost", Handler: "never-registered", Trigger: IntervalTrigger{Mins: 5}, Status: StatusScheduled})
	require.NoError(t, err)

	s := New(repo, execStore, BackendInProcess, 4, discardLogger())
	require.NoError(t, s.Start(ctx))
	defer s.Shutdown(ctx)

	jobs, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, StatusOrphaned, jobs[0].Status)
}

func TestExecutor_MaxInstancesCoalescesOverlappingRuns(t *testing.T) {
	repo := newTestRepo(t)
	execStore := newTestExecLog(t)
	handlers := NewHandlerRegistry()
	exec := NewExecutor(handlers, execStore, repo, discardLogger())

	release := make(chan struct{})
	var running int32
	handlers.Register("slow", func(ctx context.Context, args map[string]any, progress chan<- int) (Outcome, error) {
		atomic.AddInt32(&running, 1)
		<-release
		return Outcome{Records: 1}, nil
	})

	job, err := repo.Upsert(context.Background(), Job{
		Name: "slow-job", Handler: "slow", Trigger: IntervalTrigger{Secs: 1},
		MaxInstances: 1, Coalesce: true,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); exec.Run(context.Background(), job) }()
	time.Sleep(20 * time.Millisecond) // let the first run claim the only slot
	go func() { defer wg.Done(); exec.Run(context.Background(), job) }()
	time.Sleep(20 * time.Millisecond)

	close(release)
	wg.Wait()

	require.LessOrEqual(t, atomic.LoadInt32(&running), int32(1))

	entries, err := execStore.RecentForJob(context.Background(), job.ID, 10)
	require.NoError(t, err)

	var sawSkipped bool
	for _, e := range entries {
		if e.Status == execlog.StatusSkipped {
			sawSkipped = true
		}
	}
	require.True(t, sawSkipped, "expected the coalesced run to log a skipped entry")
}

func TestExecutor_ErrorBudgetTripsJobIntoErrorStatus(t *testing.T) {
	repo := newTestRepo(t)
	execStore := newTestExecLog(t)
	handlers := NewHandlerRegistry()
	exec := NewExecutor(handlers, execStore, repo, discardLogger())

	handlers.Register("always-fails", func(ctx context.Context, args map[string]any, progress chan<- int) (Outcome, error) {
		return Outcome{}, apperrors.New(apperrors.Internal, "boom")
	})

	job, err := repo.Upsert(context.Background(), Job{
		Name: "flaky", Handler: "always-fails", Trigger: IntervalTrigger{Secs: 1}, MaxInstances: 5,
	})
	require.NoError(t, err)

	for i := 0; i < errorBudgetThreshold; i++ {
		exec.Run(context.Background(), job)
	}

	loaded, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusError, loaded.Status)
}

func TestExecutor_OrphansJobWhenHandlerMissingAtRunTime(t *testing.T) {
	repo := newTestRepo(t)
	execStore := newTestExecLog(t)
	handlers := NewHandlerRegistry()
	exec := NewExecutor(handlers, execStore, repo, discardLogger())

	job, err := repo.Upsert(context.Background(), Job{Name: "missing", Handler: "nope", Trigger: IntervalTrigger{Secs: 1}})
	require.NoError(t, err)

	exec.Run(context.Background(), job)

	loaded, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOrphaned, loaded.Status)
}

func TestPauseResume_TogglesBackendScheduling(t *testing.T) {
	repo := newTestRepo(t)
	execStore := newTestExecLog(t)
	s := New(repo, execStore, BackendInProcess, 4, discardLogger())

	var calls int32
	s.RegisterHandler("ping", func(ctx context.Context, args map[string]any, progress chan<- int) (Outcome, error) {
		atomic.AddInt32(&calls, 1)
		return Outcome{Records: 1}, nil
	})
	require.NoError(t, s.Start(t.Context()))
	defer s.Shutdown(t.Context())

	job, err := s.AddJob(t.Context(), "pinger", "ping", nil, IntervalTrigger{Mins: 30}, true)
	require.NoError(t, err)

	require.NoError(t, s.Pause(t.Context(), job.ID))
	paused, err := repo.Get(t.Context(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, paused.Status)

	require.NoError(t, s.Resume(t.Context(), job.ID))
	resumed, err := repo.Get(t.Context(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, resumed.Status)
}

func TestScheduler_RemoveDeletesJobAndStopsBackendEntry(t *testing.T) {
	repo := newTestRepo(t)
	execStore := newTestExecLog(t)
	s := New(repo, execStore, BackendOutOfProcess, 2, discardLogger())
	s.RegisterHandler("noop", func(ctx context.Context, args map[string]any, progress chan<- int) (Outcome, error) {
		return Outcome{}, nil
	})
	require.NoError(t, s.Start(t.Context()))
	defer s.Shutdown(t.Context())

	job, err := s.AddJob(t.Context(), "one-off", "noop", nil, IntervalTrigger{Mins: 60}, true)
	require.NoError(t, err)

	require.NoError(t, s.Remove(t.Context(), job.ID))

	_, err = repo.Get(t.Context(), job.ID)
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.NotFound))
}

func TestOneShotTrigger_FiresOnceThenStopsRescheduling(t *testing.T) {
	trig := OneShotTrigger{At: time.Now().Add(50 * time.Millisecond)}
	next, ok := trig.Next(time.Now())
	require.True(t, ok)
	require.WithinDuration(t, trig.At, next, time.Millisecond)

	_, ok = trig.Next(trig.At)
	require.False(t, ok, "a one-shot trigger has no fire after its own instant")
}

func TestCronTrigger_RejectsInvalidExpression(t *testing.T) {
	_, err := ParseCronTrigger("not a cron expression")
	require.Error(t, err)
}

func TestScheduler_StartRunsCoalescedCatchupWithinGraceWindow(t *testing.T) {
	repo := newTestRepo(t)
	execStore := newTestExecLog(t)
	ctx := context.Background()

	var calls int32
	_, err := repo.Upsert(ctx, Job{
		Name: "missed-recently", Handler: "catchup", Trigger: IntervalTrigger{Mins: 30},
		NextFireAt: time.Now().Add(-5 * time.Second), MisfireGraceS: 60, Status: StatusScheduled,
	})
	require.NoError(t, err)

	s := New(repo, execStore, BackendInProcess, 4, discardLogger())
	s.RegisterHandler("catchup", func(ctx context.Context, args map[string]any, progress chan<- int) (Outcome, error) {
		atomic.AddInt32(&calls, 1)
		return Outcome{Records: 1}, nil
	})
	require.NoError(t, s.Start(ctx))
	defer s.Shutdown(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 10*time.Millisecond, "expected one coalesced catch-up run")
}

func TestScheduler_StartDropsCatchupPastGraceWindow(t *testing.T) {
	repo := newTestRepo(t)
	execStore := newTestExecLog(t)
	ctx := context.Background()

	var calls int32
	_, err := repo.Upsert(ctx, Job{
		Name: "missed-long-ago", Handler: "catchup", Trigger: IntervalTrigger{Mins: 30},
		NextFireAt: time.Now().Add(-2 * time.Minute), MisfireGraceS: 60, Status: StatusScheduled,
	})
	require.NoError(t, err)

	s := New(repo, execStore, BackendInProcess, 4, discardLogger())
	s.RegisterHandler("catchup", func(ctx context.Context, args map[string]any, progress chan<- int) (Outcome, error) {
		atomic.AddInt32(&calls, 1)
		return Outcome{Records: 1}, nil
	})
	require.NoError(t, s.Start(ctx))
	defer s.Shutdown(ctx)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls), "a fire missed past its grace window must not run")
}

func TestCheckMisfire(t *testing.T) {
	now := time.Now()

	require.Equal(t, MisfireNone, CheckMisfire(Job{}, now), "unset NextFireAt is never a misfire")
	require.Equal(t, MisfireNone, CheckMisfire(Job{NextFireAt: now.Add(time.Minute)}, now), "future fire isn't missed")

	within := Job{NextFireAt: now.Add(-30 * time.Second), MisfireGraceS: 60}
	require.Equal(t, MisfireCatchUp, CheckMisfire(within, now))

	beyond := Job{NextFireAt: now.Add(-90 * time.Second), MisfireGraceS: 60}
	require.Equal(t, MisfireDropped, CheckMisfire(beyond, now))

	defaultGrace := Job{NextFireAt: now.Add(-30 * time.Second)}
	require.Equal(t, MisfireCatchUp, CheckMisfire(defaultGrace, now), "unset MisfireGraceS falls back to DefaultMisfireGraceS")
}
