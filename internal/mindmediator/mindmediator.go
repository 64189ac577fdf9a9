// Package mindmediator implements the Mind Mediator: it invokes a
// structured-output language-model provider with a prompt and a JSON schema,
// validates the response, records a transcript, retries with a repair turn
// on validation failure, and trips a per-instance circuit breaker after
// consecutive failures (spec.md §4.2).
package mindmediator

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/mind-incarnation/internal/jsonschema"
)

// State is the outcome of one Call.
type State string

const (
	StateOK      State = "ok"
	StateError   State = "error"
	StateSkipped State = "skipped"
)

// breakerThreshold is the consecutive-failure count that opens the circuit
// (spec.md §4.2 "threshold = 2").
const breakerThreshold = 2

// Provider is one Mind backend: codex_schema, openai_compatible, or
// anthropic (spec.md §4.2, §9). It takes a fully composed prompt (system
// preamble + schema text + user content) and returns raw response text.
type Provider interface {
	Complete(systemPrompt, userPrompt string, timeout time.Duration) (string, error)
}

// Schema is a loaded schema file: its name (for transcripts/events) and its
// parsed JSON Schema subset document.
type Schema struct {
	Name string
	Doc  map[string]any
	Raw  string // verbatim schema text embedded in the prompt (spec.md §6)
}

// TranscriptRecorder persists the mind transcript JSONL
// (mindspec/transcripts/mind/<ts>_<tag>.jsonl or the project-scoped
// equivalent) — modeled as an interface so the mediator has no direct file
// dependency and tests can assert on recorded attempts in memory.
type TranscriptRecorder interface {
	// Record appends one attempt (request + response + duration) and
	// returns the transcript's reference path.
	Record(tag string, attempt Attempt) (transcriptRef string, err error)
}

// Attempt is one request/response pair within a Call, including retries.
type Attempt struct {
	AttemptNum   int
	SystemPrompt string
	UserPrompt   string
	RawResponse  string
	Error        string
	DurationMS   int64
}

// EventRecorder is the narrow seam into the EvidenceLog the mediator needs:
// mind_error and mind_skipped are structured records, not Go errors
// (spec.md §7).
type EventRecorder interface {
	RecordMindError(schema, tag, batchID, transcriptRef, cause string)
	RecordMindSkipped(schema, tag, batchID string)
}

// Mediator normalizes the three provider backends behind one Call contract
// and owns exactly one circuit breaker (spec.md §9 "one breaker per logical
// Mind usage in a run").
type Mediator struct {
	Provider   Provider
	Recorder   TranscriptRecorder
	Events     EventRecorder
	MaxRetries int
	Timeout    time.Duration

	mu                  sync.Mutex
	consecutiveFailures int
}

// NewMediator constructs a Mediator with spec.md §4.2's default max_retries
// and the §6/§7 60s default timeout when unset.
func NewMediator(provider Provider, recorder TranscriptRecorder, events EventRecorder, maxRetries int, timeout time.Duration) *Mediator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Mediator{Provider: provider, Recorder: recorder, Events: events, MaxRetries: maxRetries, Timeout: timeout}
}

// breakerOpen reports whether the circuit is currently open.
func (m *Mediator) breakerOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures >= breakerThreshold
}

func (m *Mediator) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveFailures = 0
}

func (m *Mediator) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveFailures++
}

// Call invokes the provider with prompt against schema, validating and
// repairing up to MaxRetries times, and returns (obj, transcriptRef, state)
// per spec.md §4.2's contract. When the breaker is open, Call returns
// immediately with StateSkipped and logs exactly one mind_skipped event,
// without invoking the provider (spec.md §8 "Circuit breaker").
func (m *Mediator) Call(schema Schema, prompt, tag, batchID string) (map[string]any, string, State) {
	if m.breakerOpen() {
		if m.Events != nil {
			m.Events.RecordMindSkipped(schema.Name, tag, batchID)
		}
		return nil, "", StateSkipped
	}

	systemPrompt := buildSystemPreamble(schema)
	userPrompt := prompt

	var lastTranscriptRef string
	var lastErr string

	for attempt := 1; attempt <= m.MaxRetries; attempt++ {
		start := time.Now()
		raw, err := m.Provider.Complete(systemPrompt, userPrompt, m.Timeout)
		duration := time.Since(start)

		a := Attempt{AttemptNum: attempt, SystemPrompt: systemPrompt, UserPrompt: userPrompt, RawResponse: raw, DurationMS: duration.Milliseconds()}
		if err != nil {
			a.Error = err.Error()
		}
		if m.Recorder != nil {
			ref, recErr := m.Recorder.Record(tag, a)
			if recErr == nil {
				lastTranscriptRef = ref
			}
		}

		if err != nil {
			lastErr = err.Error()
			continue
		}

		obj, extractErr := extractJSONObject(raw)
		if extractErr != nil {
			lastErr = extractErr.Error()
			userPrompt = repairPrompt(prompt, raw, []string{extractErr.Error()})
			continue
		}

		errs := jsonschema.Validate(obj, schema.Doc)
		if len(errs) == 0 {
			m.recordSuccess()
			return obj, lastTranscriptRef, StateOK
		}
		lastErr = strings.Join(errs, "; ")
		userPrompt = repairPrompt(prompt, raw, errs)
	}

	m.recordFailure()
	if m.Events != nil {
		m.Events.RecordMindError(schema.Name, tag, batchID, lastTranscriptRef, truncateCause(lastErr))
	}
	return nil, lastTranscriptRef, StateError
}

func truncateCause(s string) string {
	const max = 2000
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func buildSystemPreamble(schema Schema) string {
	var b strings.Builder
	b.WriteString("Output MUST be a single JSON object matching the following schema. ")
	b.WriteString("Do not include markdown formatting, code fences, or any commentary outside the JSON object.\n\n")
	b.WriteString("Schema (")
	b.WriteString(schema.Name)
	b.WriteString("):\n")
	b.WriteString(schema.Raw)
	return b.String()
}

func repairPrompt(originalPrompt, previousOutput string, errs []string) string {
	var b strings.Builder
	b.WriteString(originalPrompt)
	b.WriteString("\n\nYour previous output did not satisfy the schema.\n")
	b.WriteString("Previous output:\n")
	b.WriteString(previousOutput)
	b.WriteString("\n\nValidation errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	b.WriteString("\nReturn a corrected JSON object satisfying the schema, and nothing else.")
	return b.String()
}

// extractJSONObject parses text as a JSON object directly; if that fails it
// falls back to slicing from the first '{' to the last '}' (spec.md §4.2
// "direct parse; if that fails, find the first { and last } and parse the
// slice").
func extractJSONObject(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		return obj, nil
	}

	first := strings.Index(trimmed, "{")
	last := strings.LastIndex(trimmed, "}")
	if first == -1 || last == -1 || last < first {
		return nil, fmt.Errorf("mindmediator: no JSON object found in response")
	}
	slice := trimmed[first : last+1]
	if err := json.Unmarshal([]byte(slice), &obj); err != nil {
		return nil, fmt.Errorf("mindmediator: failed to parse extracted JSON slice: %w", err)
	}
	return obj, nil
}
