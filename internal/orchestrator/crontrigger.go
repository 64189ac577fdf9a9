package orchestrator

import (
	"time"

	"github.com/robfig/cron"
)

// ShouldForceCheckpointByCron reports whether checkpointing should fire
// regardless of checkpoint_decide's answer, because a cron-style secondary
// schedule (miconfig.Checkpoint.CronSpec) has elapsed since the last
// checkpoint. This mirrors mbflow's cron_scheduler.go idea of computing the
// next fire time from a schedule rather than running a background ticker,
// adapted here to a single synchronous point check between batches instead
// of a long-lived scheduler goroutine.
//
// An empty spec disables the secondary trigger entirely. A malformed spec is
// treated the same as "disabled" — a misconfigured cron string must never
// block the batch loop.
func ShouldForceCheckpointByCron(spec string, lastCheckpointTS, now time.Time) bool {
	if spec == "" {
		return false
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return false
	}
	if lastCheckpointTS.IsZero() {
		return false
	}
	return !sched.Next(lastCheckpointTS).After(now)
}
