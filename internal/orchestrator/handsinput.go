package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
)

// PromptSHA256 hashes the fully composed Hands prompt so the hands_input
// event carries a stable content fingerprint without embedding the (often
// large) prompt text itself (spec.md §4.9 step 2 "persist hands_input event
// (with prompt_sha256)").
func PromptSHA256(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
