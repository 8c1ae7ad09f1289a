package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/debthunt/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func seedRepo(t *testing.T, s *SQLiteStore) *models.Repository {
	t.Helper()
	repo := &models.Repository{ID: 4242, FullName: "acme/widgets", DefaultBranch: "main", IsActive: true}
	require.NoError(t, s.UpsertRepository(context.Background(), repo))
	return repo
}

func claimReq(repoID int64, fn string, now time.Time) ClaimRequest {
	return ClaimRequest{
		RepositoryID:   repoID,
		TargetFile:     "app/billing.py",
		TargetFunction: fn,
		IssueType:      models.DebtKindDuplicate,
		BranchName:     "debthunt/bounty-" + fn,
		Now:            now,
		StaleAfter:     time.Hour,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

// --- Installations ---

func TestInstallationUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inst := &models.Installation{ID: 7, AccountLogin: "acme", AccountID: 99}
	require.NoError(t, s.UpsertInstallation(ctx, inst))

	inst.AccountLogin = "acme-corp"
	require.NoError(t, s.UpsertInstallation(ctx, inst))

	got, err := s.GetInstallation(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", got.AccountLogin)
	assert.Equal(t, int64(99), got.AccountID)

	_, err = s.GetInstallation(ctx, 8)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.EqualError(t, err, "installation not found: 8")
}

// --- Repositories ---

func TestRepositoryUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	repo := &models.Repository{ID: 1, InstallationID: 7, FullName: "acme/widgets", IsActive: true}
	require.NoError(t, s.UpsertRepository(ctx, repo))
	assert.Equal(t, "main", repo.DefaultBranch)
	assert.False(t, repo.CreatedAt.IsZero())

	// A CLI registration (installation 0) keeps the known installation.
	again := &models.Repository{ID: 1, FullName: "acme/widgets", DefaultBranch: "develop", IsActive: true}
	require.NoError(t, s.UpsertRepository(ctx, again))
	assert.Equal(t, int64(7), again.InstallationID)
	assert.Equal(t, "develop", again.DefaultBranch)

	// An empty default branch keeps the stored one.
	blank := &models.Repository{ID: 1, InstallationID: 9, FullName: "acme/widgets", IsActive: true}
	require.NoError(t, s.UpsertRepository(ctx, blank))
	assert.Equal(t, "develop", blank.DefaultBranch)
	assert.Equal(t, int64(9), blank.InstallationID)

	byName, err := s.GetRepositoryByName(ctx, "ACME/widgets")
	require.NoError(t, err)
	assert.Equal(t, int64(1), byName.ID)

	_, err = s.GetRepository(ctx, 2)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListRepositories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRepository(ctx, &models.Repository{ID: 2, FullName: "zeta/app", IsActive: true}))
	require.NoError(t, s.UpsertRepository(ctx, &models.Repository{ID: 1, FullName: "acme/widgets", IsActive: true}))

	repos, err := s.ListRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "acme/widgets", repos[0].FullName)
	assert.Equal(t, "zeta/app", repos[1].FullName)
}

// --- Scan history ---

func TestLogScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.LogScan(ctx, repo.ID, 5, first)
	require.NoError(t, err)
	rec, err := s.LogScan(ctx, repo.ID, 3, first.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	got, err := s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ScanCount)
	require.NotNil(t, got.LastScannedAt)
	assert.True(t, got.LastScannedAt.Equal(first.Add(time.Hour)))

	scans, err := s.ListScans(ctx, repo.ID, 10)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, 3, scans[0].TargetsFound, "newest first")

	_, err = s.LogScan(ctx, 999, 1, first)
	assert.True(t, errors.Is(err, ErrNotFound))
}

// --- Claims ---

func TestClaimTarget_Created(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)
	now := time.Now().UTC()

	claim, outcome, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", now))
	require.NoError(t, err)
	assert.Equal(t, ClaimCreated, outcome)
	require.NotNil(t, claim)
	assert.Equal(t, models.ClaimStatusPending, claim.Status)
	assert.Equal(t, "debthunt/bounty-total", claim.BranchName)

	got, err := s.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, "app/billing.py", got.TargetFile)
	assert.Equal(t, models.DebtKindDuplicate, got.IssueType)
}

func TestClaimTarget_UnknownRepositoryErrors(t *testing.T) {
	s := newTestStore(t)

	claim, outcome, err := s.ClaimTarget(context.Background(), claimReq(424242, "total", time.Now().UTC()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim target: insert")
	assert.Nil(t, claim)
	assert.Equal(t, ClaimSkipped, outcome)
}

func TestClaimTarget_SkipsLiveClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)
	now := time.Now().UTC()

	first, _, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", now))
	require.NoError(t, err)

	second, outcome, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", now.Add(10*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, ClaimSkipped, outcome)
	assert.Equal(t, first.ID, second.ID)
}

func TestClaimTarget_ReclaimsStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)
	start := time.Now().UTC().Add(-3 * time.Hour)

	old, _, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", start))
	require.NoError(t, err)
	old.Status = models.ClaimStatusInProgress
	require.NoError(t, s.UpdateClaim(ctx, old))

	later := start.Add(2 * time.Hour)
	fresh, outcome, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", later))
	require.NoError(t, err)
	assert.Equal(t, ClaimReclaimed, outcome)
	assert.NotEqual(t, old.ID, fresh.ID)

	abandoned, err := s.GetClaim(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusAbandoned, abandoned.Status)
	assert.Equal(t, StaleClaimMessage, abandoned.ErrorMessage)
	require.NotNil(t, abandoned.CompletedAt)
	assert.True(t, abandoned.CompletedAt.Equal(later))
}

func TestClaimTarget_TestingClaimNeverStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)
	start := time.Now().UTC().Add(-5 * time.Hour)

	c, _, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", start))
	require.NoError(t, err)
	c.Status = models.ClaimStatusTesting
	require.NoError(t, s.UpdateClaim(ctx, c))

	_, outcome, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", start.Add(4*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, ClaimSkipped, outcome)
}

func TestClaimTarget_TerminalClaimDoesNotBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)
	now := time.Now().UTC()

	c, _, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", now))
	require.NoError(t, err)
	c.Status = models.ClaimStatusFailed
	require.NoError(t, s.UpdateClaim(ctx, c))

	_, outcome, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", now))
	require.NoError(t, err)
	assert.Equal(t, ClaimCreated, outcome)
}

func TestClaimTarget_ZeroStaleAfterNeverReclaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)
	start := time.Now().UTC().Add(-48 * time.Hour)

	_, _, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", start))
	require.NoError(t, err)

	req := claimReq(repo.ID, "total", time.Now().UTC())
	req.StaleAfter = 0
	_, outcome, err := s.ClaimTarget(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ClaimSkipped, outcome)
}

func TestClaimTarget_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)
	now := time.Now().UTC()

	const workers = 8
	var wg sync.WaitGroup
	outcomes := make(chan ClaimOutcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outcome, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", now))
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	created := 0
	for o := range outcomes {
		if o == ClaimCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)

	active, err := s.ListClaims(ctx, ClaimListFilter{RepositoryID: repo.ID, Statuses: models.ActiveClaimStatuses})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestClaimsUniqueIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (id, repository_id, target_file, target_function, issue_type, status, created_at, updated_at)
		VALUES ('a', ?, 'x.py', 'f', 'duplicate', 'open', ?, ?)`, repo.ID, now, now)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO claims (id, repository_id, target_file, target_function, issue_type, status, created_at, updated_at)
		VALUES ('b', ?, 'x.py', 'f', 'duplicate', 'pending', ?, ?)`, repo.ID, now, now)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO claims (id, repository_id, target_file, target_function, issue_type, status, created_at, updated_at)
		VALUES ('c', ?, 'x.py', 'f', 'duplicate', 'failed', ?, ?)`, repo.ID, now, now)
	assert.NoError(t, err, "terminal claims are outside the index")
}

func TestUpdateClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)

	c, _, err := s.ClaimTarget(ctx, claimReq(repo.ID, "total", time.Now().UTC()))
	require.NoError(t, err)

	done := time.Now().UTC()
	c.Status = models.ClaimStatusOpen
	c.OriginalCode = "def total(): ..."
	c.FixedCode = "def total() -> int: ..."
	c.FixSummary = "added types"
	c.TestOutput = "3 passed"
	c.RetryCount = 1
	c.PRURL = "https://github.com/acme/widgets/pull/12"
	c.PRNumber = 12
	c.CompletedAt = &done
	require.NoError(t, s.UpdateClaim(ctx, c))

	got, err := s.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusOpen, got.Status)
	assert.Equal(t, "added types", got.FixSummary)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 12, got.PRNumber)
	require.NotNil(t, got.CompletedAt)

	missing := &models.Claim{ID: "nope"}
	err = s.UpdateClaim(ctx, missing)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.EqualError(t, err, "claim not found: nope")
}

func TestListClaims_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)
	other := &models.Repository{ID: 77, FullName: "acme/other", IsActive: true}
	require.NoError(t, s.UpsertRepository(ctx, other))
	now := time.Now().UTC()

	a, _, err := s.ClaimTarget(ctx, claimReq(repo.ID, "a", now))
	require.NoError(t, err)
	_, _, err = s.ClaimTarget(ctx, claimReq(repo.ID, "b", now.Add(time.Second)))
	require.NoError(t, err)
	_, _, err = s.ClaimTarget(ctx, claimReq(other.ID, "c", now))
	require.NoError(t, err)

	a.Status = models.ClaimStatusFailed
	require.NoError(t, s.UpdateClaim(ctx, a))

	all, err := s.ListClaims(ctx, ClaimListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byRepo, err := s.ListClaims(ctx, ClaimListFilter{RepositoryID: repo.ID})
	require.NoError(t, err)
	assert.Len(t, byRepo, 2)

	failed, err := s.ListClaims(ctx, ClaimListFilter{Statuses: []models.ClaimStatus{models.ClaimStatusFailed}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a.ID, failed[0].ID)

	limited, err := s.ListClaims(ctx, ClaimListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListStaleClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, s)
	now := time.Now().UTC()

	old, _, err := s.ClaimTarget(ctx, claimReq(repo.ID, "old", now.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, _, err = s.ClaimTarget(ctx, claimReq(repo.ID, "new", now))
	require.NoError(t, err)
	opened, _, err := s.ClaimTarget(ctx, claimReq(repo.ID, "opened", now.Add(-3*time.Hour)))
	require.NoError(t, err)
	opened.Status = models.ClaimStatusOpen
	require.NoError(t, s.UpdateClaim(ctx, opened))

	stale, err := s.ListStaleClaims(ctx, repo.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestClaimOutcome_String(t *testing.T) {
	assert.Equal(t, "created", ClaimCreated.String())
	assert.Equal(t, "reclaimed", ClaimReclaimed.String())
	assert.Equal(t, "skipped", ClaimSkipped.String())
}
