package preaction

import (
	"github.com/antigravity-dev/mind-incarnation/internal/overlay"
	"github.com/antigravity-dev/mind-incarnation/internal/thoughtdb"
)

// SyncTestlessPointerFromClaims mirrors the latest project-or-global
// mi:testless_verification_strategy preference claim into st, if one
// exists and st hasn't already recorded a choice (spec.md §4.4.b "sync
// ProjectOverlay pointer from any existing claim"). Reports whether the
// pointer is now resolved.
func SyncTestlessPointerFromClaims(st *overlay.TestlessVerificationStrategy, projectView, globalView *thoughtdb.View) bool {
	if st.ChosenOnce {
		return true
	}
	text, ok := thoughtdb.ResolveStringDefault(projectView, globalView, thoughtdb.TagTestlessVerificationStrategy)
	if !ok {
		return false
	}
	st.ChosenOnce = true
	st.Strategy = text
	return true
}

// ResolveTestlessChoice records the user's one-time answer into st
// (mirroring it as a ProjectOverlay pointer, spec.md §4.4.b); the caller
// is responsible for also canonicalizing it as a project-scope preference
// Claim via thoughtdb so future runs of this project can resolve it
// through SyncTestlessPointerFromClaims / ResolveStringDefault.
func ResolveTestlessChoice(st *overlay.TestlessVerificationStrategy, strategy, rationale string) {
	st.ChosenOnce = true
	st.Strategy = strategy
	st.Rationale = rationale
}
