// Package workspace provides isolated working copies for a single run.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joescharf/debthunt/internal/git"
)

// TempPrefix prefixes every workspace directory.
const TempPrefix = "debthunt_"

// DefaultCloneDepth is the history depth fetched for GitHub clones.
const DefaultCloneDepth = 50

// Provider hands out and reclaims working copies.
type Provider interface {
	Acquire(ctx context.Context, owner, repo string) (string, error)
	Release(path string) error
}

// GitHubProvider clones from GitHub with the gh CLI.
type GitHubProvider struct {
	GitHub git.GitHubClient
	Depth  int
}

// NewGitHubProvider returns a GitHubProvider with the default clone depth.
func NewGitHubProvider(gh git.GitHubClient) *GitHubProvider {
	return &GitHubProvider{GitHub: gh, Depth: DefaultCloneDepth}
}

func (p *GitHubProvider) Acquire(ctx context.Context, owner, repo string) (string, error) {
	return acquire(ctx, repo, func(dest string) error {
		return p.GitHub.CloneRepo(owner, repo, dest, p.Depth)
	})
}

func (p *GitHubProvider) Release(path string) error { return Release(path) }

// LocalProvider clones a repository already on disk. Useful for offline
// runs and tests; owner and repo only name the workspace.
type LocalProvider struct {
	Source string
}

func (p *LocalProvider) Acquire(ctx context.Context, _, repo string) (string, error) {
	src, err := filepath.Abs(p.Source)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p.Source, err)
	}
	return acquire(ctx, repo, func(dest string) error {
		return git.CloneLocal(src, dest)
	})
}

func (p *LocalProvider) Release(path string) error { return Release(path) }

// acquire creates a temp parent and clones into a child of it, so the clone
// target does not exist beforehand.
func acquire(ctx context.Context, repo string, clone func(dest string) error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp("", TempPrefix+sanitize(repo)+"_")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	dest := filepath.Join(dir, "repo")
	if err := clone(dest); err != nil {
		_ = Release(dest)
		return "", fmt.Errorf("clone %s: %w", repo, err)
	}
	return dest, nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator || r == '*' {
			return '-'
		}
		return r
	}, name)
}

// Release removes a workspace, making read-only entries writable first.
// It refuses paths that were not created by this package and is a no-op
// for paths that no longer exist.
func Release(path string) error {
	root, err := workspaceRoot(path)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(root); os.IsNotExist(err) {
		return nil
	}

	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode().Perm()&0200 == 0 {
			_ = os.Chmod(p, info.Mode().Perm()|0200)
		}
		return nil
	})

	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("release workspace %s: %w", root, err)
	}
	return nil
}

// workspaceRoot maps a clone path back to its debthunt_* temp directory.
func workspaceRoot(path string) (string, error) {
	clean := filepath.Clean(path)
	if strings.HasPrefix(filepath.Base(clean), TempPrefix) {
		return clean, nil
	}
	if parent := filepath.Dir(clean); strings.HasPrefix(filepath.Base(parent), TempPrefix) {
		return parent, nil
	}
	return "", fmt.Errorf("refusing to remove %s: not a debthunt workspace", path)
}
