package overlay

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProjectOverlayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.json")

	ov := &ProjectOverlay{
		ProjectID: "proj_abc",
		RootPath:  "/work/repo",
		HandsState: HandsState{
			Provider: "codex",
			ThreadID: "t123",
		},
	}
	if err := SaveProjectOverlay(path, ov); err != nil {
		t.Fatalf("SaveProjectOverlay: %v", err)
	}

	loaded, warn := LoadProjectOverlay(path)
	if warn != "" {
		t.Fatalf("unexpected warning: %s", warn)
	}
	if loaded.HandsState.ThreadID != "t123" {
		t.Fatalf("expected thread_id to round-trip, got %+v", loaded.HandsState)
	}
}

func TestLoadProjectOverlayMissingFile(t *testing.T) {
	ov, warn := LoadProjectOverlay(filepath.Join(t.TempDir(), "missing.json"))
	if warn != "" {
		t.Fatalf("missing file should not warn, got %q", warn)
	}
	if ov.ProjectID != "" {
		t.Fatalf("expected zero-value overlay, got %+v", ov)
	}
}

func TestLoadProjectOverlayCorruptFallsBackWithWarning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	ov, warn := LoadProjectOverlay(path)
	if warn == "" {
		t.Fatalf("expected a state_warning for corrupt JSON")
	}
	if ov.ProjectID != "" {
		t.Fatalf("expected zero-value fallback overlay, got %+v", ov)
	}
}

func TestSegmentStateResetsOnThreadChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment_state.json")

	st, _ := LoadSegmentState(path, "t1")
	AppendSegmentRecord(st, "evidence", map[string]any{"facts": []string{"a"}}, 0)
	if err := SaveSegmentState(path, st); err != nil {
		t.Fatalf("SaveSegmentState: %v", err)
	}

	reloaded, _ := LoadSegmentState(path, "t1")
	if len(reloaded.Records) != 1 {
		t.Fatalf("expected 1 buffered record, got %d", len(reloaded.Records))
	}

	resetForNewThread, _ := LoadSegmentState(path, "t2")
	if len(resetForNewThread.Records) != 0 {
		t.Fatalf("expected buffer to clear on thread change, got %d records", len(resetForNewThread.Records))
	}
}

func TestAppendSegmentRecordTrimsToMax(t *testing.T) {
	st := &SegmentState{ThreadID: "t1"}
	for i := 0; i < 45; i++ {
		AppendSegmentRecord(st, "evidence", nil, 40)
	}
	if len(st.Records) != 40 {
		t.Fatalf("expected buffer capped at 40, got %d", len(st.Records))
	}
}
