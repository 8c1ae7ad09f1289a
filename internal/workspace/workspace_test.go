package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/debthunt/internal/git"
)

type fakeGitHub struct {
	cloned []string
	err    error
}

func (f *fakeGitHub) RepoInfo(owner, repo string) (*git.RepoInfo, error) { return nil, nil }
func (f *fakeGitHub) OpenPullRequest(owner, repo, branch, base, title, body string) (*git.PullRequest, error) {
	return nil, nil
}
func (f *fakeGitHub) PullRequestState(owner, repo string, number int) (string, error) { return "", nil }

func (f *fakeGitHub) CloneRepo(owner, repo, dest string, depth int) error {
	f.cloned = append(f.cloned, owner+"/"+repo)
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(filepath.Join(dest, ".git", "objects"), 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "app.py"), []byte("x = 1\n"), 0644)
}

var _ git.GitHubClient = (*fakeGitHub)(nil)
var _ Provider = (*GitHubProvider)(nil)
var _ Provider = (*LocalProvider)(nil)

func TestGitHubProvider_AcquireRelease(t *testing.T) {
	gh := &fakeGitHub{}
	p := NewGitHubProvider(gh)

	path, err := p.Acquire(context.Background(), "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/widgets"}, gh.cloned)
	assert.FileExists(t, filepath.Join(path, "app.py"))
	assert.Contains(t, filepath.Base(filepath.Dir(path)), "debthunt_widgets_")

	require.NoError(t, p.Release(path))
	_, err = os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err))
}

func TestGitHubProvider_CloneFailureCleansUp(t *testing.T) {
	gh := &fakeGitHub{err: errors.New("auth required")}
	p := NewGitHubProvider(gh)

	_, err := p.Acquire(context.Background(), "acme", "widgets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth required")
}

func TestAcquire_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGitHubProvider(&fakeGitHub{}).Acquire(ctx, "acme", "widgets")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelease_ReadOnlyTree(t *testing.T) {
	root, err := os.MkdirTemp("", TempPrefix+"ro_")
	require.NoError(t, err)
	nested := filepath.Join(root, "repo", ".git", "objects", "ab")
	require.NoError(t, os.MkdirAll(nested, 0755))
	obj := filepath.Join(nested, "cdef")
	require.NoError(t, os.WriteFile(obj, []byte("blob"), 0444))
	require.NoError(t, os.Chmod(nested, 0555))

	require.NoError(t, Release(filepath.Join(root, "repo")))
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestRelease_Missing(t *testing.T) {
	assert.NoError(t, Release(filepath.Join(os.TempDir(), TempPrefix+"gone_123", "repo")))
}

func TestRelease_RefusesForeignPath(t *testing.T) {
	dir := t.TempDir()
	err := Release(dir)
	require.Error(t, err)
	_, statErr := os.Stat(dir)
	assert.NoError(t, statErr)
}

func TestLocalProvider(t *testing.T) {
	src := t.TempDir()
	for _, args := range [][]string{
		{"git", "-C", src, "init", "-b", "main"},
		{"git", "-C", src, "config", "user.email", "test@test.com"},
		{"git", "-C", src, "config", "user.name", "Test"},
	} {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}
	require.NoError(t, os.WriteFile(filepath.Join(src, "app.py"), []byte("x = 1\n"), 0644))
	require.NoError(t, exec.Command("git", "-C", src, "add", ".").Run())
	require.NoError(t, exec.Command("git", "-C", src, "commit", "-m", "init").Run())

	p := &LocalProvider{Source: src}
	path, err := p.Acquire(context.Background(), "acme", "widgets")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Release(path) })

	assert.FileExists(t, filepath.Join(path, "app.py"))
	assert.DirExists(t, filepath.Join(path, ".git"))
}
