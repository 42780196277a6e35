package scheduler

// Backend schedules and unschedules jobs for actual execution. Pause is
// implemented by callers as Unschedule + marking the job StatusPaused,
// and Resume as re-Schedule — the backend itself only knows "running"
// or "not running", per spec's remove-semantics decision for pause/resume.
type Backend interface {
	Schedule(job Job) error
	Unschedule(jobID string) error
	Start() error
	Stop()
}
