package evidencelog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAssignsIDAndTS(t *testing.T) {
	dir := t.TempDir()
	log := Open(filepath.Join(dir, "evidence.jsonl"))

	rec, err := log.Append(KindHandsInput, "b1", "t1", map[string]any{"input": "do the thing"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if rec.EventID == "" || rec.TS == "" {
		t.Fatalf("expected event_id and ts to be assigned, got %+v", rec)
	}
	if rec.Data["input"] != "do the thing" {
		t.Fatalf("expected payload to round-trip, got %+v", rec.Data)
	}
}

func TestAppendMonotonicEventIDs(t *testing.T) {
	dir := t.TempDir()
	log := Open(filepath.Join(dir, "evidence.jsonl"))

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := log.Append(KindEvidence, "b1", "t1", nil)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		ids = append(ids, rec.EventID)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("event ids not strictly increasing: %q then %q", ids[i-1], ids[i])
		}
	}
}

func TestReadAllSkipsMalformedTrailingLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence.jsonl")
	log := Open(path)

	if _, err := log.Append(KindEvidence, "b1", "t1", map[string]any{"facts": []string{"ran ls"}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("{not valid json\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	recs, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 well-formed record, got %d", len(recs))
	}
}

func TestReadAllMissingFileReturnsEmpty(t *testing.T) {
	log := Open(filepath.Join(t.TempDir(), "nope.jsonl"))
	recs, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll on missing file should not error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
}
