// Package projectid resolves the stable project_id used to namespace every
// per-project store (spec.md §3 "project_id"). Identity is computed from git
// remote + root commit + relative path when available, falling back to the
// absolute path; an index.json maps identity_key -> project_id so a project
// keeps its id across directory renames and re-clones (spec.md §6).
package projectid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Identity describes how a project's identity_key was computed.
type Identity struct {
	Kind           string `json:"kind"` // "git" or "path"
	Key            string `json:"key"`
	RepoKey        string `json:"repo_key,omitempty"`
	GitToplevel    string `json:"git_toplevel,omitempty"`
	GitRelpath     string `json:"git_relpath,omitempty"`
	GitOrigin      string `json:"git_origin,omitempty"`
	GitOriginNorm  string `json:"git_origin_norm,omitempty"`
	GitRootCommit  string `json:"git_root_commit,omitempty"`
	RootPath       string `json:"root_path"`
}

var scpLike = regexp.MustCompile(`^[^@]+@([^:]+):(.+)$`)
var commitLike = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)

// LegacyID returns the path-only digest id: stable only while the absolute
// root path itself is stable.
func LegacyID(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:12]
}

func normalizeGitRemote(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	u = strings.TrimSuffix(u, ".git")

	if m := scpLike.FindStringSubmatch(u); m != nil {
		host := strings.ToLower(strings.TrimSpace(m[1]))
		path := strings.TrimLeft(strings.TrimSpace(m[2]), "/")
		return host + "/" + path
	}

	if strings.Contains(u, "://") {
		if p, err := url.Parse(u); err == nil {
			host := strings.ToLower(strings.TrimSpace(p.Host))
			path := strings.TrimLeft(p.Path, "/")
			if host != "" && path != "" {
				return host + "/" + path
			}
		}
	}
	return u
}

func runGit(root string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = root
	out, err := cmd.CombinedOutput()
	result := strings.TrimSpace(string(out))
	if err != nil && result == "" {
		return ""
	}
	return result
}

// ComputeIdentity computes a best-effort identity for projectRoot, using git
// remote origin + root commit + relative path when inside a git repo, and
// the resolved absolute path otherwise.
func ComputeIdentity(projectRoot string) Identity {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		root = projectRoot
	}

	if _, err := exec.LookPath("git"); err != nil {
		return Identity{Kind: "path", Key: "path:" + root, RootPath: root}
	}

	inside := strings.ToLower(runGit(root, "rev-parse", "--is-inside-work-tree")) == "true"
	if !inside {
		return Identity{Kind: "path", Key: "path:" + root, RootPath: root}
	}

	toplevel := runGit(root, "rev-parse", "--show-toplevel")
	if toplevel == "" {
		toplevel = root
	}
	if abs, err := filepath.Abs(toplevel); err == nil {
		toplevel = abs
	}

	origin := runGit(toplevel, "config", "--get", "remote.origin.url")
	originNorm := normalizeGitRemote(origin)

	rootCommitOut := runGit(toplevel, "rev-list", "--max-parents=0", "HEAD")
	rootCommit := ""
	if lines := strings.Split(rootCommitOut, "\n"); len(lines) > 0 {
		candidate := strings.TrimSpace(lines[0])
		if commitLike.MatchString(candidate) {
			rootCommit = candidate
		}
	}

	rel, err := filepath.Rel(toplevel, root)
	if err != nil {
		rel = ""
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		rel = ""
	}

	var repoKey string
	switch {
	case originNorm != "":
		repoKey = "origin:" + originNorm
	case rootCommit != "":
		repoKey = "root:" + rootCommit
	default:
		repoKey = "toplevel:" + toplevel
	}

	key := "git:" + repoKey
	if rel != "" {
		key += ":" + rel
	}

	return Identity{
		Kind:          "git",
		Key:           key,
		RepoKey:       repoKey,
		GitToplevel:   toplevel,
		GitRelpath:    rel,
		GitOrigin:     origin,
		GitOriginNorm: originNorm,
		GitRootCommit: rootCommit,
		RootPath:      root,
	}
}

// Index is the on-disk projects/index.json mapping identity_key -> project_id.
type Index struct {
	Version    string            `json:"version"`
	ByIdentity map[string]string `json:"by_identity"`
}

func loadIndex(path string) Index {
	data, err := os.ReadFile(path)
	if err != nil {
		return Index{Version: "v1", ByIdentity: map[string]string{}}
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil || idx.ByIdentity == nil {
		return Index{Version: "v1", ByIdentity: map[string]string{}}
	}
	return idx
}

func saveIndex(path string, idx Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	tmp := path + ".tmp-" + time.Now().Format("150405.000000000")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// overlayReader abstracts reading a candidate project dir's overlay.json for
// identity/root_path, so the resolver does not need to depend on package
// overlay (avoiding an import cycle) while still honoring the "scan existing
// overlays" fallback from the original implementation.
type overlayReader func(projectDir string) (identityKey, rootPath string)

// Resolve returns the project_id for projectRoot under home (MI_HOME),
// preferring the identity-key index, then an existing legacy directory for
// the exact root path, then a scan of existing project directories via
// readOverlay, finally falling back to the legacy path-digest id. The
// resolution is persisted into index.json for future renames.
func Resolve(home, projectRoot string, projectDirs func() []string, readOverlay overlayReader) string {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		root = projectRoot
	}
	legacyID := LegacyID(root)
	projectsDir := filepath.Join(home, "projects")
	indexPath := filepath.Join(projectsDir, "index.json")

	ident := ComputeIdentity(root)
	idx := loadIndex(indexPath)

	if ident.Key != "" {
		if mapped, ok := idx.ByIdentity[ident.Key]; ok && mapped != "" {
			if dirExists(filepath.Join(projectsDir, mapped)) {
				return mapped
			}
			delete(idx.ByIdentity, ident.Key)
			_ = saveIndex(indexPath, idx)
		}
	}

	var pid string
	if dirExists(filepath.Join(projectsDir, legacyID)) {
		pid = legacyID
	} else if projectDirs != nil && readOverlay != nil {
		pid = scanForExistingProjectID(projectDirs(), ident.Key, root, readOverlay)
	}
	if pid == "" {
		pid = legacyID
	}

	if ident.Key != "" && idx.ByIdentity[ident.Key] != pid {
		idx.ByIdentity[ident.Key] = pid
		_ = saveIndex(indexPath, idx)
	}

	return pid
}

func scanForExistingProjectID(dirs []string, identityKey, rootPath string, readOverlay overlayReader) string {
	if identityKey != "" {
		for _, d := range dirs {
			key, _ := readOverlay(d)
			if key != "" && key == identityKey {
				return filepath.Base(d)
			}
		}
	}
	if rootPath != "" {
		for _, d := range dirs {
			_, rp := readOverlay(d)
			if rp != "" && rp == rootPath {
				return filepath.Base(d)
			}
		}
	}
	return ""
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
