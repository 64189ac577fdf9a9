package thoughtdb

import (
	"encoding/json"
	"sort"
)

// Tags for the operational-default preference claims (spec.md §4.3
// "Operational defaults").
const (
	TagAskWhenUncertain           = "mi:ask_when_uncertain"
	TagRefactorIntent             = "mi:refactor_intent"
	TagTestlessVerificationStrategy = "mi:testless_verification_strategy"
)

// ResolveBoolDefault scans tagged preference claims for tag in both project
// and global views, project taking precedence, and returns the resolved
// boolean, or fallback when no claim carries tag or its text is not a
// recognized boolean.
func ResolveBoolDefault(projectView, globalView *View, tag string, fallback bool) bool {
	if c, ok := latestTagged(projectView, tag); ok {
		return parseBool(c.Text, fallback)
	}
	if c, ok := latestTagged(globalView, tag); ok {
		return parseBool(c.Text, fallback)
	}
	return fallback
}

// ResolveStringDefault scans tagged preference claims for tag, project over
// global, returning the claim's text unchanged and whether one was found.
func ResolveStringDefault(projectView, globalView *View, tag string) (string, bool) {
	if c, ok := latestTagged(projectView, tag); ok {
		return c.Text, true
	}
	if c, ok := latestTagged(globalView, tag); ok {
		return c.Text, true
	}
	return "", false
}

func latestTagged(v *View, tag string) (Claim, bool) {
	if v == nil {
		return Claim{}, false
	}
	matches := v.ClaimsByTag(tag)
	if len(matches) == 0 {
		return Claim{}, false
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].AssertedTS > matches[j].AssertedTS })
	return matches[0], true
}

func parseBool(text string, fallback bool) bool {
	switch text {
	case "true", "True", "TRUE", "1", "yes":
		return true
	case "false", "False", "FALSE", "0", "no":
		return false
	default:
		return fallback
	}
}

// Defaults is the seed payload for EnsureOperationalDefaults (spec.md §4.3,
// SPEC_FULL.md §C.7).
type Defaults struct {
	AskWhenUncertain bool   `json:"ask_when_uncertain"`
	RefactorIntent   string `json:"refactor_intent"`
}

func (d Defaults) canonicalJSON() string {
	b, _ := marshalSortedKeys(map[string]any{
		"ask_when_uncertain": d.AskWhenUncertain,
		"refactor_intent":    d.RefactorIntent,
	})
	return string(b)
}

// LastMiDefaultsSet reports the most recent mi_defaults_set payload recorded
// in an evidence log reader, if any. evidenceJSON is the raw "defaults" field
// from the most recent such record (already key-sorted JSON), or "" if none
// exists. Kept as a tiny seam (rather than importing evidencelog directly)
// to avoid an import cycle between thoughtdb and evidencelog.
type LastMiDefaultsSet func() (defaultsJSON string, ok bool)

// EnsureOperationalDefaultsCurrent reuses the latest mi_defaults_set event
// when its recorded payload is byte-identical (after key-sorted re-encoding)
// to desired; otherwise it reports that a new event must be appended
// (spec.md §8 "Idempotent defaults seeding"). The caller owns actually
// appending to EvidenceLog; this function is pure so it can be unit tested
// without a store.
func EnsureOperationalDefaultsCurrent(last LastMiDefaultsSet, desired Defaults) (needsAppend bool, desiredJSON string) {
	desiredJSON = desired.canonicalJSON()
	if last == nil {
		return true, desiredJSON
	}
	existing, ok := last()
	if !ok {
		return true, desiredJSON
	}
	return !jsonEqual(existing, desiredJSON), desiredJSON
}

func jsonEqual(a, b string) bool {
	var ma, mb map[string]any
	if json.Unmarshal([]byte(a), &ma) != nil {
		return false
	}
	if json.Unmarshal([]byte(b), &mb) != nil {
		return false
	}
	ba, _ := marshalSortedKeys(ma)
	bb, _ := marshalSortedKeys(mb)
	return string(ba) == string(bb)
}
