package git

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// PullRequest is an opened GitHub pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	URL     string `json:"url"`
	HTMLURL string `json:"html_url"`
}

// RepoInfo represents basic GitHub repository information.
type RepoInfo struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	IsPrivate     bool   `json:"private"`
}

// Pull request states reported by PullRequestState.
const (
	PRStateOpen   = "OPEN"
	PRStateMerged = "MERGED"
	PRStateClosed = "CLOSED"
)

// GitHubClient wraps the gh CLI for GitHub operations.
type GitHubClient interface {
	RepoInfo(owner, repo string) (*RepoInfo, error)
	CloneRepo(owner, repo, dest string, depth int) error
	OpenPullRequest(owner, repo, branch, base, title, body string) (*PullRequest, error)
	PullRequestState(owner, repo string, number int) (string, error)
}

// RealGitHubClient implements GitHubClient using the gh CLI.
type RealGitHubClient struct{}

// NewGitHubClient returns a new RealGitHubClient.
func NewGitHubClient() *RealGitHubClient {
	return &RealGitHubClient{}
}

func ghCmd(args ...string) (string, error) {
	out, err := exec.Command("gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealGitHubClient) RepoInfo(owner, repo string) (*RepoInfo, error) {
	out, err := ghCmd("api", fmt.Sprintf("repos/%s/%s", owner, repo),
		"--jq", `{id: .id, full_name: .full_name, default_branch: .default_branch, private: .private}`,
	)
	if err != nil {
		return nil, err
	}

	var info RepoInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return nil, fmt.Errorf("parse repo info: %w", err)
	}
	return &info, nil
}

// CloneRepo clones owner/repo into dest. A depth of 0 clones full history.
func (c *RealGitHubClient) CloneRepo(owner, repo, dest string, depth int) error {
	args := []string{"repo", "clone", fmt.Sprintf("%s/%s", owner, repo), dest}
	if depth > 0 {
		args = append(args, "--", "--depth", strconv.Itoa(depth))
	}
	_, err := ghCmd(args...)
	return err
}

func (c *RealGitHubClient) OpenPullRequest(owner, repo, branch, base, title, body string) (*PullRequest, error) {
	out, err := ghCmd("pr", "create",
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--head", branch,
		"--base", base,
		"--title", title,
		"--body", body,
	)
	if err != nil {
		return nil, err
	}

	// gh prints the PR URL as the last line.
	lines := strings.Split(out, "\n")
	htmlURL := strings.TrimSpace(lines[len(lines)-1])
	number, err := ParsePRNumber(htmlURL)
	if err != nil {
		return nil, err
	}
	return &PullRequest{
		Number:  number,
		URL:     fmt.Sprintf("https://api.github.com/repos/%s/%s/pulls/%d", owner, repo, number),
		HTMLURL: htmlURL,
	}, nil
}

func (c *RealGitHubClient) PullRequestState(owner, repo string, number int) (string, error) {
	return ghCmd("pr", "view", strconv.Itoa(number),
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--json", "state", "--jq", ".state",
	)
}

// ParsePRNumber extracts the number from a .../pull/<n> URL.
func ParsePRNumber(prURL string) (int, error) {
	idx := strings.LastIndex(prURL, "/pull/")
	if idx < 0 {
		return 0, fmt.Errorf("cannot parse pull request URL: %s", prURL)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(prURL[idx+len("/pull/"):], "/"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("cannot parse pull request URL: %s", prURL)
	}
	return n, nil
}
