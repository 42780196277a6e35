package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger computes the next fire time for a job, strictly after the
// given instant. The second return value is false when the trigger
// has no further fires (a one-shot that has already run).
type Trigger interface {
	Next(after time.Time) (time.Time, bool)
	String() string
}

// IntervalTrigger fires every fixed period, grounded on the teacher's
// market-hour polling cadence generalized from a single poll frequency
// to an arbitrary days/hours/mins/secs period.
type IntervalTrigger struct {
	Days, Hours, Mins, Secs int
}

func (t IntervalTrigger) period() time.Duration {
	return time.Duration(t.Days)*24*time.Hour +
		time.Duration(t.Hours)*time.Hour +
		time.Duration(t.Mins)*time.Minute +
		time.Duration(t.Secs)*time.Second
}

func (t IntervalTrigger) Next(after time.Time) (time.Time, bool) {
	p := t.period()
	if p <= 0 {
		return time.Time{}, false
	}
	return after.Add(p), true
}

func (t IntervalTrigger) String() string {
	return fmt.Sprintf("every %s", t.period())
}

// CronTrigger fires on a standard 5-field cron expression, parsed with
// robfig/cron/v3 the same way aristath-sentinel's trader-go scheduler
// parses AddJob schedules.
type CronTrigger struct {
	Expr string

	schedule cron.Schedule
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCronTrigger validates and compiles a cron expression up front so
// a bad expression is rejected at job-creation time, not at first fire.
func ParseCronTrigger(expr string) (CronTrigger, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return CronTrigger{}, fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	return CronTrigger{Expr: expr, schedule: sched}, nil
}

func (t CronTrigger) Next(after time.Time) (time.Time, bool) {
	if t.schedule == nil {
		sched, err := cronParser.Parse(t.Expr)
		if err != nil {
			return time.Time{}, false
		}
		t.schedule = sched
	}
	return t.schedule.Next(after), true
}

func (t CronTrigger) String() string { return t.Expr }

// OneShotTrigger fires exactly once, at At. Whether it has already
// fired follows from Next alone: once At is not after the given
// instant, Next reports no further fire and the backend arms no new
// timer. Next is a pure function of `after`.
type OneShotTrigger struct {
	At time.Time
}

func (t OneShotTrigger) Next(after time.Time) (time.Time, bool) {
	if !t.At.After(after) {
		return time.Time{}, false
	}
	return t.At, true
}

func (t OneShotTrigger) String() string { return "at " + t.At.Format(time.RFC3339) }
