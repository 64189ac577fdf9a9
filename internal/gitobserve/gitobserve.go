// Package gitobserve provides the one git signal plan_min_checks needs: is
// there a nonempty status or diff in projectRoot right now. It shells out to
// the git binary the same way cortex's internal/git does, narrowed to this
// single question (spec.md §4.4.a "a nonempty git status/diff stat").
package gitobserve

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// HasPendingChanges reports whether `git status --porcelain` or
// `git diff --stat` produce any output in projectRoot. A non-git directory,
// or any git invocation error, is treated as "no pending changes" (this is
// advisory evidence for plan_min_checks, never a hard failure condition per
// spec.md §7's "local components never raise across the phase boundary").
func HasPendingChanges(projectRoot string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if out := run(ctx, projectRoot, "status", "--porcelain"); strings.TrimSpace(out) != "" {
		return true
	}
	if out := run(ctx, projectRoot, "diff", "--stat"); strings.TrimSpace(out) != "" {
		return true
	}
	return false
}

func run(ctx context.Context, dir string, args ...string) string {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return ""
	}
	return string(out)
}
