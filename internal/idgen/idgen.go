// Package idgen generates the stable, sortable identifiers Mind Incarnation
// threads through the EvidenceLog and Thought DB, and computes the content
// signatures used for claim and loop-guard deduplication.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// New returns a "<prefix>_<ns_ts>_<8-hex>" identifier, monotone under a
// normally advancing clock because ns_ts is nanoseconds since epoch.
func New(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), randHex(4))
}

func randHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// time-derived value so callers never see an empty suffix.
		return hex.EncodeToString([]byte(fmt.Sprintf("%x", time.Now().UnixNano())))[:n*2]
	}
	return hex.EncodeToString(buf)
}

// Event returns a new EvidenceLog event_id.
func Event() string { return New("ev") }

// Claim returns a new Thought DB claim_id.
func Claim() string { return New("cl") }

// Edge returns a new Thought DB edge_id.
func Edge() string { return New("ed") }

// Node returns a new Thought DB node_id.
func Node() string { return New("nd") }

// Workflow returns a new workflow_id.
func Workflow() string { return New("wf") }

// LearnSuggestion returns a new learn_suggestion_id.
func LearnSuggestion() string { return New("ls") }

// Segment returns a new segment_id.
func Segment() string { return New("seg") }

// Batch renders the dotted batch/phase id used for intra-batch phases, e.g.
// Batch(3, "from_decide") -> "b3.from_decide". An empty suffix yields "b3".
func Batch(n int, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("b%d", n)
	}
	return fmt.Sprintf("b%d.%s", n, suffix)
}

// NormalizeText collapses whitespace and lowercases, the normalization every
// signature in MI must apply identically (spec §9 "Signature stability").
func NormalizeText(s string) string {
	fields := strings.Fields(s)
	return strings.ToLower(strings.Join(fields, " "))
}

// ClaimSignature computes sha256(claim_type | scope | project_id | normalized_text).
func ClaimSignature(claimType, scope, projectID, text string) string {
	base := strings.Join([]string{
		strings.TrimSpace(claimType),
		strings.TrimSpace(scope),
		strings.TrimSpace(projectID),
		NormalizeText(text),
	}, "|")
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// LoopSignature computes sha256(normalize(lastHandsMessage) + "---" + normalize(nextInput))
// where normalize = lowercase + whitespace-collapse + truncate to 2000 runes,
// applied independently to each side before concatenation.
func LoopSignature(lastHandsMessage, nextInput string) string {
	left := truncate(NormalizeText(lastHandsMessage), 2000)
	right := truncate(NormalizeText(nextInput), 2000)
	sum := sha256.Sum256([]byte(left + "---" + right))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
