package checkpoint

import (
	"fmt"
	"strings"

	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
)

// Segment record kinds the orchestrator appends into SegmentState as the
// batch loop runs; BuildSnapshot groups by these to compose the seven
// bullet sections spec.md §4.7 step 1 names (facts/actions/results/
// unknowns/risk/recall/workflows).
const (
	RecordFact     = "fact"
	RecordAction   = "action"
	RecordResult   = "result"
	RecordUnknown  = "unknown"
	RecordRisk     = "risk"
	RecordRecall   = "recall"
	RecordWorkflow = "workflow"
)

// sections lists the categories in the fixed bullet order the snapshot
// text is composed in.
var sections = []struct {
	kind   string
	header string
}{
	{RecordFact, "Facts"},
	{RecordAction, "Actions"},
	{RecordResult, "Results"},
	{RecordUnknown, "Unknowns"},
	{RecordRisk, "Risk signals"},
	{RecordRecall, "Recall"},
	{RecordWorkflow, "Workflows"},
}

// defaultMaxPerSection caps how many distinct bullet lines one section
// contributes, so a long-running segment doesn't produce an unbounded
// snapshot (spec.md §4.7 "dedup-limit strings").
const defaultMaxPerSection = 20

// Snapshot is the materialized segment summary (spec.md §3's `snapshot`
// record: `checkpoint_kind`, `status_hint`, `tags`, `text`, `source_refs`).
type Snapshot struct {
	CheckpointKind string
	StatusHint     string
	Tags           []string
	Text           string
	SourceRefs     []string
}

// BuildSnapshot composes a Snapshot from the segment buffer: each section's
// records are deduped by text and capped at maxPerSection (0 uses the
// default of 20), rendered as a Markdown-style bullet list under a header,
// and sections with no content are omitted. SourceRefs collects any
// event_id each record carries in its Data, in first-seen order and also
// deduped.
func BuildSnapshot(records []overlay.SegmentRecord, checkpointKind, statusHint string, maxPerSection int) Snapshot {
	if maxPerSection <= 0 {
		maxPerSection = defaultMaxPerSection
	}

	byKind := make(map[string][]string, len(sections))
	var tags []string
	var refs []string
	seenRef := make(map[string]bool)

	for _, rec := range records {
		text := recordText(rec)
		if text == "" {
			continue
		}
		kind := rec.Kind
		if kind == "workflow_trigger" {
			// Trigger markers share the Workflows section with progress records.
			kind = RecordWorkflow
		}
		if !containsString(byKind[kind], text) && len(byKind[kind]) < maxPerSection {
			byKind[kind] = append(byKind[kind], text)
		}
		if id, ok := rec.Data["event_id"].(string); ok && id != "" && !seenRef[id] {
			seenRef[id] = true
			refs = append(refs, id)
		}
	}

	var b strings.Builder
	for _, s := range sections {
		lines := byKind[s.kind]
		if len(lines) == 0 {
			continue
		}
		tags = append(tags, s.kind)
		fmt.Fprintf(&b, "%s:\n", s.header)
		for _, line := range lines {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	return Snapshot{
		CheckpointKind: checkpointKind,
		StatusHint:     statusHint,
		Tags:           tags,
		Text:           strings.TrimRight(b.String(), "\n"),
		SourceRefs:     refs,
	}
}

func recordText(rec overlay.SegmentRecord) string {
	if rec.Data == nil {
		return ""
	}
	text, _ := rec.Data["text"].(string)
	return strings.TrimSpace(text)
}

func containsString(haystack []string, s string) bool {
	for _, v := range haystack {
		if v == s {
			return true
		}
	}
	return false
}
