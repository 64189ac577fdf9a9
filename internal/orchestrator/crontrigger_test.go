package orchestrator

import (
	"testing"
	"time"
)

func TestShouldForceCheckpointByCron(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if ShouldForceCheckpointByCron("", last, last.Add(time.Hour)) {
		t.Errorf("empty spec must never force a checkpoint")
	}
	if ShouldForceCheckpointByCron("not a cron spec", last, last.Add(time.Hour)) {
		t.Errorf("a malformed spec must be treated as disabled, not force a checkpoint")
	}
	if ShouldForceCheckpointByCron("0 * * * *", time.Time{}, last) {
		t.Errorf("a zero lastCheckpointTS must not force a checkpoint")
	}

	// "every hour on the hour" with an hour and five minutes elapsed.
	if !ShouldForceCheckpointByCron("0 * * * *", last, last.Add(65*time.Minute)) {
		t.Errorf("expected the hourly schedule to have elapsed by now")
	}
	if ShouldForceCheckpointByCron("0 * * * *", last, last.Add(30*time.Minute)) {
		t.Errorf("hourly schedule should not fire after only 30 minutes")
	}
}

func TestCronForcedDecide(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)

	if _, forced := cronForcedDecide("", last); forced {
		t.Errorf("empty cron spec must never force a decision")
	}
	if _, forced := cronForcedDecide("0 * * * *", "not-a-timestamp"); forced {
		t.Errorf("unparseable lastCheckpointTS must not force a decision")
	}

	decide, forced := cronForcedDecide("0 * * * *", last)
	if !forced {
		t.Fatalf("expected the hourly schedule to force a decision (test runs well after 2026-01-01)")
	}
	if !decide.Fires() {
		t.Errorf("forced decision must report Fires()=true")
	}
	if decide.CheckpointKind != "cron" {
		t.Errorf("CheckpointKind = %q, want %q", decide.CheckpointKind, "cron")
	}
	if !decide.ShouldMineWorkflow || !decide.ShouldMinePreferences {
		t.Errorf("forced decision must enable workflow and preference mining")
	}
}
