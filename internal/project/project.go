// Package project identifies the project a working directory belongs to
// and tracks its file tree for session working memory. Project identity
// follows the TypeScript implementation so sessions written by either
// side resolve to the same project.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Info identifies one project: a stable id, the worktree root, and the
// version-control metadata when the directory is under git.
type Info struct {
	ID       string  `json:"id"`
	Worktree string  `json:"worktree"`
	VCSDir   *string `json:"vcsDir,omitempty"`
	VCS      *string `json:"vcs,omitempty"`
}

// globalProject is the identity of everything outside version control.
var globalProject = Info{ID: "global", Worktree: "/"}

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*Info)
)

// FromDirectory resolves a directory to its project. Identity comes
// from the repository's first root-commit SHA (stable across clones and
// renames, unlike the path), memoized in .git/opencode so later
// resolutions skip the rev-list. Directories outside git collapse into
// the shared "global" project.
func FromDirectory(directory string) (*Info, error) {
	directory, err := filepath.Abs(directory)
	if err != nil {
		return nil, err
	}

	cacheMu.RLock()
	cached, ok := cache[directory]
	cacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	gitDir := findGitDir(directory)
	if gitDir == "" {
		g := globalProject
		return remember(directory, &g), nil
	}

	worktree := resolveWorktree(filepath.Dir(gitDir))
	if resolved := gitOutput(worktree, "rev-parse", "--git-dir"); resolved != "" {
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(worktree, resolved)
		}
		gitDir = resolved
	}

	id := readStampedID(gitDir)
	if id == "" {
		id = rootCommitID(worktree)
		if id == "" {
			g := globalProject
			return remember(directory, &g), nil
		}
		// stamp it so the next resolution is a file read, not a rev-list
		_ = os.WriteFile(stampFile(gitDir), []byte(id), 0o644)
	}

	vcs := "git"
	return remember(directory, &Info{
		ID:       id,
		Worktree: worktree,
		VCSDir:   &gitDir,
		VCS:      &vcs,
	}), nil
}

// GetProjectID resolves a directory to just its project id.
func GetProjectID(directory string) (string, error) {
	info, err := FromDirectory(directory)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// HashDirectory derives the legacy path-hash project id. Sessions
// persisted before root-commit identity use these; kept so they still
// load.
func HashDirectory(directory string) string {
	sum := sha256.Sum256([]byte(directory))
	return hex.EncodeToString(sum[:])[:16]
}

// stampFile is where a repository's resolved project id is memoized.
func stampFile(gitDir string) string {
	return filepath.Join(gitDir, "opencode")
}

// readStampedID returns the memoized project id, or "" when absent.
func readStampedID(gitDir string) string {
	raw, err := os.ReadFile(stampFile(gitDir))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// findGitDir walks from start toward the filesystem root looking for a
// .git entry. A .git directory is returned directly; a .git *file* (a
// linked worktree or submodule) is dereferenced through its
// "gitdir:" pointer.
func findGitDir(start string) string {
	for dir := start; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ".git")
		if fi, err := os.Stat(candidate); err == nil {
			if fi.IsDir() {
				return candidate
			}
			if target := readGitFilePointer(candidate, dir); target != "" {
				return target
			}
		}
		if filepath.Dir(dir) == dir {
			return ""
		}
	}
}

// readGitFilePointer extracts the "gitdir: ..." target of a .git file,
// resolving relative targets against base.
func readGitFilePointer(gitFile, base string) string {
	raw, err := os.ReadFile(gitFile)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(raw))
	target, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return ""
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	return target
}

// resolveWorktree asks git for the toplevel, falling back to the
// directory containing .git when git isn't runnable.
func resolveWorktree(fallback string) string {
	if top := gitOutput(fallback, "rev-parse", "--show-toplevel"); top != "" {
		return top
	}
	return fallback
}

// rootCommitID picks the repository's identity commit: the
// alphabetically first parentless commit across all refs, matching how
// the TypeScript side computes it.
func rootCommitID(worktree string) string {
	out := gitOutput(worktree, "rev-list", "--max-parents=0", "--all")
	if out == "" {
		return ""
	}
	var roots []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			roots = append(roots, line)
		}
	}
	if len(roots) == 0 {
		return ""
	}
	sort.Strings(roots)
	return roots[0]
}

// gitOutput runs git in dir and returns trimmed stdout, or "" on error.
func gitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// remember memoizes a resolution and returns it.
func remember(directory string, info *Info) *Info {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache[directory] = info
	return info
}

// ClearCache drops every memoized resolution. Tests use this to get
// deterministic behavior across temp directories.
func ClearCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = make(map[string]*Info)
}
