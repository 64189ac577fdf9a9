package projectid

import (
	"os/exec"
	"path/filepath"
	"testing"
)

func TestNormalizeGitRemoteSCPLike(t *testing.T) {
	got := normalizeGitRemote("git@github.com:Acme/Widgets.git")
	want := "github.com/Acme/Widgets"
	if got != want {
		t.Fatalf("normalizeGitRemote() = %q, want %q", got, want)
	}
}

func TestNormalizeGitRemoteURLLike(t *testing.T) {
	got := normalizeGitRemote("https://GitHub.com/acme/widgets.git")
	want := "github.com/acme/widgets"
	if got != want {
		t.Fatalf("normalizeGitRemote() = %q, want %q", got, want)
	}
}

func TestNormalizeGitRemoteEmpty(t *testing.T) {
	if got := normalizeGitRemote("  "); got != "" {
		t.Fatalf("expected empty string for blank remote, got %q", got)
	}
}

func TestLegacyIDStableForSamePath(t *testing.T) {
	dir := t.TempDir()
	a := LegacyID(dir)
	b := LegacyID(dir)
	if a != b {
		t.Fatalf("expected stable legacy id, got %q and %q", a, b)
	}
	if len(a) != 12 {
		t.Fatalf("expected 12 hex chars, got %q", a)
	}
}

func TestLegacyIDDiffersForDifferentPaths(t *testing.T) {
	a := LegacyID(t.TempDir())
	b := LegacyID(t.TempDir())
	if a == b {
		t.Fatalf("expected different legacy ids for different paths")
	}
}

func TestComputeIdentityNonGitFallsBackToPath(t *testing.T) {
	dir := t.TempDir()
	ident := ComputeIdentity(dir)
	if ident.Kind != "path" {
		t.Fatalf("expected path-kind identity for non-git dir, got %+v", ident)
	}
	abs, _ := filepath.Abs(dir)
	if ident.Key != "path:"+abs {
		t.Fatalf("expected key path:%s, got %q", abs, ident.Key)
	}
}

func TestComputeIdentityGitRepoWithOrigin(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "a@b.c")
	run("config", "user.name", "tester")
	run("remote", "add", "origin", "git@github.com:acme/widgets.git")

	ident := ComputeIdentity(dir)
	if ident.Kind != "git" {
		t.Fatalf("expected git-kind identity, got %+v", ident)
	}
	if ident.GitOriginNorm != "github.com/acme/widgets" {
		t.Fatalf("expected normalized origin, got %q", ident.GitOriginNorm)
	}
	if ident.RepoKey != "origin:github.com/acme/widgets" {
		t.Fatalf("expected origin-keyed repo key, got %q", ident.RepoKey)
	}
}

func TestResolvePersistsMappingAcrossCalls(t *testing.T) {
	home := t.TempDir()
	projectRoot := t.TempDir()

	first := Resolve(home, projectRoot, nil, nil)
	if first == "" {
		t.Fatalf("expected non-empty project id")
	}

	second := Resolve(home, projectRoot, nil, nil)
	if second != first {
		t.Fatalf("expected stable project id across calls, got %q then %q", first, second)
	}

	idx := loadIndex(filepath.Join(home, "projects", "index.json"))
	ident := ComputeIdentity(projectRoot)
	if idx.ByIdentity[ident.Key] != first {
		t.Fatalf("expected index.json to map identity key to %q, got %+v", first, idx.ByIdentity)
	}
}

func TestResolveScansExistingOverlaysByIdentityKey(t *testing.T) {
	home := t.TempDir()
	projectRoot := t.TempDir()
	ident := ComputeIdentity(projectRoot)

	existingDir := filepath.Join(home, "projects", "legacy_proj_1")
	projectDirs := func() []string { return []string{existingDir} }
	readOverlay := func(dir string) (string, string) {
		if dir == existingDir {
			return ident.Key, ""
		}
		return "", ""
	}

	got := Resolve(home, projectRoot, projectDirs, readOverlay)
	if got != "legacy_proj_1" {
		t.Fatalf("expected scan to find legacy_proj_1, got %q", got)
	}
}
