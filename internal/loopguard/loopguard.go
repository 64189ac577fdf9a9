// Package loopguard tracks the rolling window of Hands interaction
// signatures, detects the aaa/abab repeated patterns, and resolves what to
// do about a detected loop (spec.md §4.5).
package loopguard

import (
	"github.com/antigravity-dev/mind-incarnation/internal/idgen"
)

// maxWindow is the number of trailing signatures retained (spec.md §4.5
// "Keep the last 6 signatures").
const maxWindow = 6

// Pattern names the two recognized repeated-signature shapes.
type Pattern string

const (
	PatternAAA  Pattern = "aaa"
	PatternABAB Pattern = "abab"
	PatternNone Pattern = ""
)

// Window is the per-run sliding buffer of loop signatures.
type Window struct {
	sigs []string
}

// Signature computes sha256(normalize(lastHandsMessage) + "---" +
// normalize(nextInput)) (spec.md §4.5).
func Signature(lastHandsMessage, nextInput string) string {
	return idgen.LoopSignature(lastHandsMessage, nextInput)
}

// Push appends sig, trimming the window to the last maxWindow entries.
func (w *Window) Push(sig string) {
	w.sigs = append(w.sigs, sig)
	if len(w.sigs) > maxWindow {
		w.sigs = w.sigs[len(w.sigs)-maxWindow:]
	}
}

// Clear empties the window (spec.md §4.5 "clear the signature window and
// continue").
func (w *Window) Clear() {
	w.sigs = nil
}

// Detect checks the tail of the window for aaa (last three equal) or abab
// (last four alternate: positions -1,-3 equal and -2,-4 equal), per
// spec.md §4.5. aaa is checked first since three identical signatures also
// satisfy a weaker reading of "repeats"; the spec lists aaa before abab and
// a run of four identical signatures should report aaa, not abab.
func (w *Window) Detect() Pattern {
	n := len(w.sigs)
	if n >= 3 {
		last := w.sigs[n-1]
		if w.sigs[n-2] == last && w.sigs[n-3] == last {
			return PatternAAA
		}
	}
	if n >= 4 {
		if w.sigs[n-1] == w.sigs[n-3] && w.sigs[n-2] == w.sigs[n-4] {
			return PatternABAB
		}
	}
	return PatternNone
}

// Len reports how many signatures are currently buffered (test/debug aid).
func (w *Window) Len() int { return len(w.sigs) }
