package git

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultBranchPrefix prefixes branches created by CreateBranch.
const DefaultBranchPrefix = "debthunt"

// Client defines the interface for git operations on a working copy.
// All methods take a path parameter since every run has its own clone.
type Client interface {
	RepoRoot(path string) (string, error)
	CurrentBranch(path string) (string, error)
	IsDirty(path string) (bool, error)
	RemoteURL(path string) (string, error)
	CreateBranch(path, base string) (string, error)
	Commit(path, file, content, message string) error
	Push(path, owner, repo, branch string) error
}

// RealClient implements Client using real git commands.
type RealClient struct {
	BranchPrefix string
}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{BranchPrefix: DefaultBranchPrefix}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--show-toplevel")
}

func (c *RealClient) CurrentBranch(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) IsDirty(path string) (bool, error) {
	out, err := gitCmd(path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *RealClient) RemoteURL(path string) (string, error) {
	out, err := gitCmd(path, "remote", "get-url", "origin")
	if err != nil {
		return "", nil // no remote is not an error
	}
	return out, nil
}

// CreateBranch checks out base and creates a fresh bounty branch from it.
// It returns the branch git reports as checked out.
func (c *RealClient) CreateBranch(path, base string) (string, error) {
	prefix := c.BranchPrefix
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	name := fmt.Sprintf("%s/bounty-%s", prefix, uuid.New().String()[:8])

	if _, err := gitCmd(path, "checkout", base); err != nil {
		return "", err
	}
	if _, err := gitCmd(path, "checkout", "-b", name); err != nil {
		return "", err
	}
	return c.CurrentBranch(path)
}

// Commit writes content to file (relative to path), stages it and commits.
func (c *RealClient) Commit(path, file, content, message string) error {
	full := filepath.Join(path, filepath.FromSlash(file))
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	if _, err := gitCmd(path, "add", "--", filepath.FromSlash(file)); err != nil {
		return err
	}
	_, err := gitCmd(path, "commit", "-m", message)
	return err
}

// Push pushes branch to origin and sets its upstream. When origin is a
// GitHub remote it must point at owner/repo.
func (c *RealClient) Push(path, owner, repo, branch string) error {
	remote, _ := c.RemoteURL(path)
	if gotOwner, gotRepo, err := ExtractOwnerRepo(remote); err == nil {
		if !strings.EqualFold(gotOwner, owner) || !strings.EqualFold(gotRepo, repo) {
			return fmt.Errorf("push: origin is %s/%s, expected %s/%s", gotOwner, gotRepo, owner, repo)
		}
	}
	_, err := gitCmd(path, "push", "--set-upstream", "origin", branch)
	return err
}

// ExtractOwnerRepo parses a GitHub remote URL and returns owner/repo.
func ExtractOwnerRepo(remoteURL string) (owner, repo string, err error) {
	// Handle SSH: git@github.com:owner/repo.git
	if strings.HasPrefix(remoteURL, "git@") {
		parts := strings.SplitN(remoteURL, ":", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("cannot parse SSH remote: %s", remoteURL)
		}
		path := strings.TrimSuffix(parts[1], ".git")
		segments := strings.SplitN(path, "/", 2)
		if len(segments) != 2 {
			return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
		}
		return segments[0], segments[1], nil
	}

	// Handle HTTPS: https://github.com/owner/repo.git
	trimmed := strings.TrimSuffix(remoteURL, ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://github.com/")
	trimmed = strings.TrimPrefix(trimmed, "http://github.com/")
	segments := strings.SplitN(trimmed, "/", 2)
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" || strings.Contains(segments[0], ":") {
		return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}
	return segments[0], segments[1], nil
}

// SplitFullName splits "owner/repo".
func SplitFullName(fullName string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(fullName), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("expected owner/repo, got %q", fullName)
	}
	return owner, repo, nil
}

// CloneLocal clones the repository at src into dest, hardlinking objects.
func CloneLocal(src, dest string) error {
	_, err := gitCmd(filepath.Dir(dest), "clone", "--local", "--quiet", src, dest)
	return err
}
