package mindmediator

import (
	"log/slog"

	"github.com/antigravity-dev/mind-incarnation/internal/evidencelog"
)

// EvidenceEventRecorder adapts an *evidencelog.Log into an EventRecorder,
// turning mind_error/mind_skipped into ordinary EvidenceLog records
// (spec.md §7 "never raised as a Go error, always a mind_error or
// mind_skipped EvidenceLog record"). A failed append is logged and
// otherwise swallowed, matching the rest of the codebase's posture that
// EvidenceLog write failures never abort an in-flight Mind call.
type EvidenceEventRecorder struct {
	Log    *evidencelog.Log
	Logger *slog.Logger
}

func (r EvidenceEventRecorder) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// RecordMindError appends a mind_error record.
func (r EvidenceEventRecorder) RecordMindError(schema, tag, batchID, transcriptRef, cause string) {
	if r.Log == nil {
		return
	}
	if _, err := r.Log.Append(evidencelog.KindMindError, batchID, "", map[string]any{
		"schema": schema, "tag": tag, "transcript_ref": transcriptRef, "cause": cause,
	}); err != nil {
		r.logger().Error("mindmediator: record mind_error failed", "schema", schema, "tag", tag, "error", err)
	}
}

// RecordMindSkipped appends a mind_skipped record (circuit breaker open).
func (r EvidenceEventRecorder) RecordMindSkipped(schema, tag, batchID string) {
	if r.Log == nil {
		return
	}
	if _, err := r.Log.Append(evidencelog.KindMindSkipped, batchID, "", map[string]any{
		"schema": schema, "tag": tag,
	}); err != nil {
		r.logger().Error("mindmediator: record mind_skipped failed", "schema", schema, "tag", tag, "error", err)
	}
}
