package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/debthunt/internal/models"
)

// ErrNotFound is wrapped by every lookup that matches no row.
var ErrNotFound = errors.New("not found")

func notFound(entity string, key any) error {
	return fmt.Errorf("%s %w: %v", entity, ErrNotFound, key)
}

// ClaimOutcome reports what ClaimTarget did.
type ClaimOutcome int

const (
	// ClaimSkipped means a live claim already holds the target.
	ClaimSkipped ClaimOutcome = iota
	// ClaimCreated means a new claim was inserted.
	ClaimCreated
	// ClaimReclaimed means a stale claim was abandoned and replaced.
	ClaimReclaimed
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimCreated:
		return "created"
	case ClaimReclaimed:
		return "reclaimed"
	default:
		return "skipped"
	}
}

// StaleClaimMessage is recorded on claims abandoned by reclamation.
const StaleClaimMessage = "Worker timeout/crash detected (Zombie Bounty)"

// StaleStatuses are the active statuses a crashed worker can leave behind.
var StaleStatuses = []models.ClaimStatus{models.ClaimStatusPending, models.ClaimStatusInProgress}

// ClaimRequest describes one attempt to take a target.
type ClaimRequest struct {
	RepositoryID   int64
	TargetFile     string
	TargetFunction string
	IssueType      models.DebtKind
	BranchName     string
	Now            time.Time
	// StaleAfter is how old a pending or in_progress claim must be before
	// it is reclaimed. Zero disables reclamation.
	StaleAfter time.Duration
}

// ClaimListFilter specifies filters for listing claims.
type ClaimListFilter struct {
	RepositoryID int64
	Statuses     []models.ClaimStatus
	Limit        int
}

// Store defines the persistence interface for debthunt.
type Store interface {
	// Installations
	UpsertInstallation(ctx context.Context, inst *models.Installation) error
	GetInstallation(ctx context.Context, id int64) (*models.Installation, error)

	// Repositories
	UpsertRepository(ctx context.Context, repo *models.Repository) error
	GetRepository(ctx context.Context, id int64) (*models.Repository, error)
	GetRepositoryByName(ctx context.Context, fullName string) (*models.Repository, error)
	ListRepositories(ctx context.Context) ([]*models.Repository, error)

	// Scan history
	LogScan(ctx context.Context, repoID int64, targetsFound int, at time.Time) (*models.ScanRecord, error)
	ListScans(ctx context.Context, repoID int64, limit int) ([]*models.ScanRecord, error)

	// Claims
	ClaimTarget(ctx context.Context, req ClaimRequest) (*models.Claim, ClaimOutcome, error)
	GetClaim(ctx context.Context, id string) (*models.Claim, error)
	ListClaims(ctx context.Context, filter ClaimListFilter) ([]*models.Claim, error)
	ListStaleClaims(ctx context.Context, repoID int64, olderThan time.Time) ([]*models.Claim, error)
	UpdateClaim(ctx context.Context, claim *models.Claim) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
