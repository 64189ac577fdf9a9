package checkpoint

import (
	"testing"

	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

func TestParseDecideResultAndFires(t *testing.T) {
	r := ParseDecideResult(map[string]any{
		"should_checkpoint": true,
		"state":             "ready",
		"checkpoint_kind":   "segment_full",
	})
	if !r.Fires() {
		t.Fatalf("expected Fires() true for a ready, should_checkpoint result")
	}

	skipped := ParseDecideResult(map[string]any{"should_checkpoint": true, "state": "skipped"})
	if skipped.Fires() {
		t.Errorf("expected a skipped state to never fire")
	}
}

func TestGateAtMostOncePerBatchAndKind(t *testing.T) {
	g := NewGate("")
	if !g.Allow("batch-1", "segment_full") {
		t.Fatalf("expected first call to be allowed")
	}
	if g.Allow("batch-1", "segment_full") {
		t.Errorf("expected a repeat (batch_id, checkpoint_kind) to be denied")
	}
	if !g.Allow("batch-1", "other_kind") {
		t.Errorf("expected a different checkpoint_kind on the same batch to be allowed")
	}
}

func TestGateSeededFromLastCheckpointKey(t *testing.T) {
	g := NewGate(Key("batch-1", "segment_full"))
	if g.Allow("batch-1", "segment_full") {
		t.Errorf("expected the persisted last_checkpoint_key to block an immediate repeat")
	}
}

func TestResetSegment(t *testing.T) {
	st := &overlay.SegmentState{Records: []overlay.SegmentRecord{{Kind: RecordFact}}}
	ResetSegment(st, "batch-1", "segment_full")
	if len(st.Records) != 0 {
		t.Errorf("expected records to be cleared")
	}
	if st.LastCheckpointKey != "batch-1:segment_full" {
		t.Errorf("LastCheckpointKey = %q", st.LastCheckpointKey)
	}
}

func TestBuildSnapshotDedupesAndOrdersSections(t *testing.T) {
	records := []overlay.SegmentRecord{
		{Kind: RecordFact, Data: map[string]any{"text": "uses Go 1.24", "event_id": "ev_1"}},
		{Kind: RecordFact, Data: map[string]any{"text": "uses Go 1.24", "event_id": "ev_1"}},
		{Kind: RecordAction, Data: map[string]any{"text": "ran go build", "event_id": "ev_2"}},
	}
	snap := BuildSnapshot(records, "segment_full", "on_track", 0)
	if snap.Text == "" {
		t.Fatalf("expected non-empty snapshot text")
	}
	if len(snap.SourceRefs) != 2 {
		t.Errorf("SourceRefs = %v, want 2 deduped ids", snap.SourceRefs)
	}
	if len(snap.Tags) != 2 {
		t.Errorf("Tags = %v, want [fact action]", snap.Tags)
	}
}

func TestWorkflowMiningThreshold(t *testing.T) {
	sug := SuggestedWorkflow{Name: "Bugfix flow", TriggerPattern: "bug", Steps: []string{"triage", "fix"}}
	miner := NewWorkflowMiner()
	sig := sug.Signature()
	if ShouldWrite(miner.Observe(sig), 2, false, false) {
		t.Errorf("expected the first occurrence to be below the default threshold")
	}
	if !ShouldWrite(miner.Observe(sig), 2, false, false) {
		t.Errorf("expected the second occurrence to cross the threshold")
	}
}

func TestWorkflowMiningAllowSingleIfHighBenefit(t *testing.T) {
	if !ShouldWrite(1, 3, true, true) {
		t.Errorf("expected a single high-benefit occurrence to write early")
	}
	if ShouldWrite(1, 3, true, false) {
		t.Errorf("expected a single non-high-benefit occurrence to still wait")
	}
}

func TestDedupePreferences(t *testing.T) {
	prefs := []SuggestedPreference{
		{Text: "prefer small PRs", Scope: thoughtdb.ScopeProject},
		{Text: "prefer small PRs", Scope: thoughtdb.ScopeProject},
	}
	seen := make(map[string]bool)
	out := DedupePreferences(prefs, "proj-1", seen)
	if len(out) != 1 {
		t.Fatalf("expected dedup to keep one suggestion, got %d", len(out))
	}
}

func TestApplyPreferenceAutoLearnWritesClaim(t *testing.T) {
	db := thoughtdb.Open(t.TempDir())
	claimID, err := ApplyPreference(db, t.TempDir()+"/preferences.json", SuggestedPreference{
		Text: "run linters before commit", Scope: thoughtdb.ScopeProject,
		Visibility: thoughtdb.VisibilityProject, AutoLearn: true, Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("ApplyPreference: %v", err)
	}
	if claimID == "" {
		t.Fatalf("expected a claim id for an auto_learn preference")
	}
}

func TestApplyPreferenceManualRecordsCandidate(t *testing.T) {
	path := t.TempDir() + "/preferences.json"
	db := thoughtdb.Open(t.TempDir())
	claimID, err := ApplyPreference(db, path, SuggestedPreference{
		Text: "use feature branches", Scope: thoughtdb.ScopeProject, AutoLearn: false,
	})
	if err != nil {
		t.Fatalf("ApplyPreference: %v", err)
	}
	if claimID != "" {
		t.Errorf("expected no claim id for a manual suggestion")
	}
	cands, err := thoughtdb.LoadPreferenceCandidates(path)
	if err != nil {
		t.Fatalf("LoadPreferenceCandidates: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected one persisted candidate, got %d", len(cands))
	}
}

func TestRecordWorkflowCandidateUpsertsBySignature(t *testing.T) {
	path := t.TempDir() + "/workflows.json"
	sug := SuggestedWorkflow{Name: "Bugfix flow", TriggerPattern: "bug", Steps: []string{"triage", "fix"}}

	if err := RecordWorkflowCandidate(path, sug, 1); err != nil {
		t.Fatalf("RecordWorkflowCandidate: %v", err)
	}
	if err := RecordWorkflowCandidate(path, sug, 2); err != nil {
		t.Fatalf("RecordWorkflowCandidate: %v", err)
	}

	cands, err := LoadWorkflowCandidates(path)
	if err != nil {
		t.Fatalf("LoadWorkflowCandidates: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected repeat suggestions to upsert into one candidate, got %d", len(cands))
	}
	if cands[0].Occurrences != 2 {
		t.Errorf("Occurrences = %d, want 2", cands[0].Occurrences)
	}
	if cands[0].Signature != sug.Signature() {
		t.Errorf("Signature = %q, want %q", cands[0].Signature, sug.Signature())
	}
}

func TestAllowedEventIDs(t *testing.T) {
	records := []overlay.SegmentRecord{
		{Kind: RecordFact, Data: map[string]any{"event_id": "ev_1"}},
		{Kind: RecordAction, Data: map[string]any{"event_id": "ev_2"}},
		{Kind: RecordAction, Data: map[string]any{}},
	}
	allowed := AllowedEventIDs(records)
	if len(allowed) != 2 || !allowed["ev_1"] || !allowed["ev_2"] {
		t.Errorf("AllowedEventIDs = %v", allowed)
	}
}

func TestMaterializeNodesBuildsActionAndSummaryNodes(t *testing.T) {
	db := thoughtdb.Open(t.TempDir())
	records := []overlay.SegmentRecord{
		{Kind: RecordAction, Data: map[string]any{"text": "ran go build", "event_id": "ev_2"}},
	}
	snap := BuildSnapshot(records, "segment_full", "on_track", 0)
	nodes, edges, err := MaterializeNodes(db, thoughtdb.ScopeProject, thoughtdb.VisibilityProject, records, snap)
	if err != nil {
		t.Fatalf("MaterializeNodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected one action node and one summary node, got %d", len(nodes))
	}
	if len(edges) != 2 {
		t.Fatalf("expected a derived_from edge per node, got %d", len(edges))
	}
	for _, e := range edges {
		if e.EdgeType != thoughtdb.EdgeDerivedFrom {
			t.Errorf("EdgeType = %q, want derived_from", e.EdgeType)
		}
	}
}
