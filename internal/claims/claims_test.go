package claims

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/store"
)

var _ Store = (*store.SQLiteStore)(nil)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.UpsertRepository(context.Background(),
		&models.Repository{ID: 1, FullName: "acme/widgets", IsActive: true}))
	return s
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ranked() []models.Finding {
	return []models.Finding{
		{FilePath: "app/a.py", FunctionName: "alpha", Kind: models.DebtKindComplexity, Severity: 0.9},
		{FilePath: "app/b.py", FunctionName: "beta", ClassName: "Cart", Kind: models.DebtKindDuplicate, Severity: 0.5},
		{FilePath: "app/c.py", FunctionName: "gamma", Kind: models.DebtKindMissingTypes, Severity: 0.3},
	}
}

func TestBranchName(t *testing.T) {
	p := New(nil, Options{})
	assert.Regexp(t, regexp.MustCompile(`^debthunt/bounty-[0-9a-f]{8}$`), p.BranchName())

	custom := New(nil, Options{BranchPrefix: "bots"})
	assert.Regexp(t, regexp.MustCompile(`^bots/bounty-[0-9a-f]{8}$`), custom.BranchName())
	assert.NotEqual(t, p.BranchName(), p.BranchName())
}

func TestClaimNext_GreedyBySeverity(t *testing.T) {
	s := newTestStore(t)
	p := New(s, Options{})

	f, c, err := p.ClaimNext(context.Background(), 1, ranked())
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "alpha", f.FunctionName)
	assert.Equal(t, models.ClaimStatusPending, c.Status)
	assert.Equal(t, "alpha", c.TargetFunction)

	f, c, err = p.ClaimNext(context.Background(), 1, ranked())
	require.NoError(t, err)
	assert.Equal(t, "beta", f.FunctionName)
	assert.Equal(t, "Cart.beta", c.TargetFunction)
}

func TestClaimNext_AllClaimed(t *testing.T) {
	s := newTestStore(t)
	p := New(s, Options{})
	ctx := context.Background()

	for range ranked() {
		_, _, err := p.ClaimNext(ctx, 1, ranked())
		require.NoError(t, err)
	}

	f, c, err := p.ClaimNext(ctx, 1, ranked())
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Nil(t, c)
}

func TestClaimNext_ReclaimsStaleInProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-2 * time.Hour)

	early := New(s, Options{Now: fixedClock(start)})
	_, old, err := early.ClaimNext(ctx, 1, ranked()[:1])
	require.NoError(t, err)
	require.NoError(t, early.Advance(ctx, old, models.ClaimStatusInProgress, ""))

	late := New(s, Options{Now: fixedClock(start.Add(61 * time.Minute))})
	f, fresh, err := late.ClaimNext(ctx, 1, ranked()[:1])
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.NotEqual(t, old.ID, fresh.ID)

	got, err := s.GetClaim(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusAbandoned, got.Status)
	assert.Equal(t, "Worker timeout/crash detected (Zombie Bounty)", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
}

func TestClaimNext_NotYetStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-2 * time.Hour)

	early := New(s, Options{Now: fixedClock(start)})
	_, _, err := early.ClaimNext(ctx, 1, ranked()[:1])
	require.NoError(t, err)

	late := New(s, Options{Now: fixedClock(start.Add(59 * time.Minute))})
	f, c, err := late.ClaimNext(ctx, 1, ranked()[:1])
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Nil(t, c)
}

func TestClaimNext_ReclamationDisabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-3 * time.Hour)

	early := New(s, Options{Now: fixedClock(start)})
	_, _, err := early.ClaimNext(ctx, 1, ranked()[:1])
	require.NoError(t, err)

	never := New(s, Options{StaleAfter: -1})
	f, c, err := never.ClaimNext(ctx, 1, ranked()[:1])
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Nil(t, c)

	stale, err := never.StaleClaims(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestClaimNext_Cancelled(t *testing.T) {
	s := newTestStore(t)
	p := New(s, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := p.ClaimNext(ctx, 1, ranked())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReclaimStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-3 * time.Hour)

	early := New(s, Options{Now: fixedClock(start)})
	_, stale, err := early.ClaimNext(ctx, 1, ranked()[:1])
	require.NoError(t, err)

	now := New(s, Options{})
	_, live, err := now.ClaimNext(ctx, 1, ranked()[1:2])
	require.NoError(t, err)

	listed, err := now.StaleClaims(ctx, 1)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, models.ClaimStatusPending, listed[0].Status, "listing does not abandon")

	reclaimed, err := now.ReclaimStale(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, stale.ID, reclaimed[0].ID)

	got, err := s.GetClaim(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusPending, got.Status)
}

func TestTransition(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &models.Claim{ID: "c1", Status: models.ClaimStatusPending}

	require.NoError(t, Transition(c, models.ClaimStatusInProgress, "", now))
	assert.Nil(t, c.CompletedAt)

	require.NoError(t, Transition(c, models.ClaimStatusTesting, "", now))
	require.NoError(t, Transition(c, models.ClaimStatusRetrying, "", now))
	assert.Nil(t, c.CompletedAt)

	require.NoError(t, Transition(c, models.ClaimStatusOpen, "", now))
	require.NotNil(t, c.CompletedAt)
	assert.Equal(t, now, *c.CompletedAt)
}

func TestTransition_FailureRecordsMessage(t *testing.T) {
	c := &models.Claim{ID: "c1", Status: models.ClaimStatusTesting}
	require.NoError(t, Transition(c, models.ClaimStatusFailed, "Tests failed after max retries", time.Now()))
	assert.Equal(t, "Tests failed after max retries", c.ErrorMessage)
	assert.NotNil(t, c.CompletedAt)
}

func TestTransition_TerminalNeverReopens(t *testing.T) {
	for _, st := range []models.ClaimStatus{
		models.ClaimStatusFailed, models.ClaimStatusMerged, models.ClaimStatusSuccess,
		models.ClaimStatusAbandoned, models.ClaimStatusClosed,
	} {
		c := &models.Claim{ID: "c1", Status: st}
		err := Transition(c, models.ClaimStatusInProgress, "", time.Now())
		require.Error(t, err, st)
		assert.Equal(t, st, c.Status)
	}
}

func TestTransition_InvalidStatus(t *testing.T) {
	c := &models.Claim{ID: "c1", Status: models.ClaimStatusPending}
	assert.Error(t, Transition(c, "exploded", "", time.Now()))
}
