package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/store"
)

// seedClaims opens the test store with one repository and returns it.
func seedClaims(t *testing.T) (store.Store, *models.Repository) {
	t.Helper()
	testEnv(t)

	s, err := getStore()
	require.NoError(t, err)

	repo := &models.Repository{ID: 42, FullName: "acme/widgets", DefaultBranch: "main", IsActive: true}
	require.NoError(t, s.UpsertRepository(context.Background(), repo))

	t.Cleanup(func() {
		claimsRepo = ""
		claimsStatus = ""
		claimsLimit = 50
		claimsReclaim = false
	})
	return s, repo
}

func addClaim(t *testing.T, s store.Store, repoID int64, fn string, at time.Time) *models.Claim {
	t.Helper()
	c, outcome, err := s.ClaimTarget(context.Background(), store.ClaimRequest{
		RepositoryID:   repoID,
		TargetFile:     "app.py",
		TargetFunction: fn,
		IssueType:      models.DebtKindComplexity,
		BranchName:     "debthunt/bounty-" + fn,
		Now:            at,
	})
	require.NoError(t, err)
	require.Equal(t, store.ClaimCreated, outcome)
	return c
}

func TestFindClaim_Prefix(t *testing.T) {
	s, repo := seedClaims(t)
	c := addClaim(t, s, repo.ID, "total", time.Now())
	ctx := context.Background()

	got, err := findClaim(ctx, s, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	got, err = findClaim(ctx, s, c.ID[:20])
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = findClaim(ctx, s, "ZZZZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFindRepository(t *testing.T) {
	s, repo := seedClaims(t)
	ctx := context.Background()

	got, err := findRepository(ctx, s, "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, repo.ID, got.ID)

	got, err = findRepository(ctx, s, "42")
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", got.FullName)

	_, err = findRepository(ctx, s, "acme/gadgets")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClaimsListRun(t *testing.T) {
	s, repo := seedClaims(t)
	addClaim(t, s, repo.ID, "total", time.Now())

	var buf bytes.Buffer
	ui.Out = &buf

	claimsRepo = "acme/widgets"
	require.NoError(t, claimsListRun())
	assert.Contains(t, buf.String(), "acme/widgets")
	assert.Contains(t, buf.String(), "app.py:total")
}

func TestClaimsListRun_UnknownStatus(t *testing.T) {
	seedClaims(t)
	claimsStatus = "pending,done"

	err := claimsListRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "done")
}

func TestClaimsStaleRun_Reclaim(t *testing.T) {
	s, repo := seedClaims(t)
	old := addClaim(t, s, repo.ID, "old", time.Now().Add(-2*time.Hour))
	fresh := addClaim(t, s, repo.ID, "fresh", time.Now())
	ctx := context.Background()

	var buf bytes.Buffer
	ui.Out = &buf

	// Listing leaves claims untouched.
	require.NoError(t, claimsStaleRun())
	got, err := s.GetClaim(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusPending, got.Status)
	assert.Contains(t, buf.String(), "--reclaim")

	claimsReclaim = true
	require.NoError(t, claimsStaleRun())

	got, err = s.GetClaim(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusAbandoned, got.Status)

	got, err = s.GetClaim(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusPending, got.Status)
}

func TestClaimsShowRun(t *testing.T) {
	s, repo := seedClaims(t)
	c := addClaim(t, s, repo.ID, "total", time.Now())

	var buf bytes.Buffer
	ui.Out = &buf

	require.NoError(t, claimsShowRun(shortID(c.ID)))
	assert.Contains(t, buf.String(), c.ID)
	assert.Contains(t, buf.String(), "debthunt/bounty-total")
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"pending", "open"}, splitCSV(" pending, ,open "))
	assert.Nil(t, splitCSV(""))
}

func TestTimeAgo(t *testing.T) {
	assert.Equal(t, "", timeAgo(time.Time{}))
	assert.Equal(t, "just now", timeAgo(time.Now()))
	assert.Equal(t, "5m ago", timeAgo(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "3h ago", timeAgo(time.Now().Add(-3*time.Hour-time.Second)))
	assert.Equal(t, "2d ago", timeAgo(time.Now().Add(-49*time.Hour)))
}
