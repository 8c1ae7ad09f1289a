// Package claims maps ranked findings to exclusive units of work and moves
// claims through their lifecycle.
package claims

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/store"
)

const (
	// DefaultStaleAfter is how long a pending or in_progress claim may go
	// without finishing before another worker may reclaim it.
	DefaultStaleAfter = time.Hour
	// DefaultBranchPrefix prefixes every bounty branch.
	DefaultBranchPrefix = "debthunt"
)

// Store is the subset of store.Store needed for claiming.
type Store interface {
	ClaimTarget(ctx context.Context, req store.ClaimRequest) (*models.Claim, store.ClaimOutcome, error)
	ListStaleClaims(ctx context.Context, repoID int64, olderThan time.Time) ([]*models.Claim, error)
	UpdateClaim(ctx context.Context, claim *models.Claim) error
}

// Options configures a Protocol.
type Options struct {
	// StaleAfter defaults to DefaultStaleAfter; a negative value disables
	// reclamation.
	StaleAfter   time.Duration
	BranchPrefix string
	Now          func() time.Time
	Logger       *slog.Logger
}

// Protocol claims targets for one worker.
type Protocol struct {
	store Store
	opts  Options
	log   *slog.Logger
}

// New returns a Protocol, filling unset options with defaults.
func New(s Store, opts Options) *Protocol {
	if opts.StaleAfter == 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.BranchPrefix == "" {
		opts.BranchPrefix = DefaultBranchPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{store: s, opts: opts, log: logger}
}

// BranchName returns a fresh bounty branch name.
func (p *Protocol) BranchName() string {
	return fmt.Sprintf("%s/bounty-%s", p.opts.BranchPrefix, uuid.New().String()[:8])
}

// TargetKey is the function part of a finding's claim key.
func TargetKey(f models.Finding) string {
	return f.QualifiedName()
}

// ClaimNext walks findings in rank order and claims the first target with
// no live claim. It returns nil, nil, nil when every target is held.
func (p *Protocol) ClaimNext(ctx context.Context, repoID int64, findings []models.Finding) (*models.Finding, *models.Claim, error) {
	for i := range findings {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		f := findings[i]

		claim, outcome, err := p.store.ClaimTarget(ctx, store.ClaimRequest{
			RepositoryID:   repoID,
			TargetFile:     f.FilePath,
			TargetFunction: TargetKey(f),
			IssueType:      f.Kind,
			BranchName:     p.BranchName(),
			Now:            p.opts.Now(),
			StaleAfter:     p.opts.StaleAfter,
		})
		if err != nil {
			return nil, nil, err
		}

		switch outcome {
		case store.ClaimCreated:
			p.log.Info("claimed target", "claim", claim.ID, "target", f.Location(), "kind", f.Kind)
			return &f, claim, nil
		case store.ClaimReclaimed:
			p.log.Warn("reclaimed stale target", "claim", claim.ID, "target", f.Location())
			return &f, claim, nil
		default:
			p.log.Debug("target already claimed", "target", f.Location(), "function", TargetKey(f))
		}
	}
	return nil, nil, nil
}

// StaleClaims lists the claims ReclaimStale would abandon.
func (p *Protocol) StaleClaims(ctx context.Context, repoID int64) ([]*models.Claim, error) {
	if p.opts.StaleAfter < 0 {
		return nil, nil
	}
	return p.store.ListStaleClaims(ctx, repoID, p.opts.Now().UTC().Add(-p.opts.StaleAfter))
}

// ReclaimStale abandons every stale claim in the repository (all
// repositories when repoID is 0) without creating replacements.
func (p *Protocol) ReclaimStale(ctx context.Context, repoID int64) ([]*models.Claim, error) {
	stale, err := p.StaleClaims(ctx, repoID)
	if err != nil {
		return nil, err
	}
	for _, c := range stale {
		if err := p.Advance(ctx, c, models.ClaimStatusAbandoned, store.StaleClaimMessage); err != nil {
			return nil, err
		}
		p.log.Warn("abandoned stale claim", "claim", c.ID, "target", c.TargetFile, "function", c.TargetFunction)
	}
	return stale, nil
}

// Advance transitions the claim and persists it.
func (p *Protocol) Advance(ctx context.Context, claim *models.Claim, status models.ClaimStatus, msg string) error {
	if err := Transition(claim, status, msg, p.opts.Now().UTC()); err != nil {
		return err
	}
	if err := p.store.UpdateClaim(ctx, claim); err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	return nil
}

// completes lists the statuses that stamp CompletedAt.
var completes = map[models.ClaimStatus]bool{
	models.ClaimStatusOpen:      true,
	models.ClaimStatusMerged:    true,
	models.ClaimStatusSuccess:   true,
	models.ClaimStatusFailed:    true,
	models.ClaimStatusAbandoned: true,
	models.ClaimStatusClosed:    true,
}

// Transition moves claim to status in memory. Terminal claims never move,
// and a non-empty msg replaces the error message.
func Transition(claim *models.Claim, status models.ClaimStatus, msg string, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid claim status: %s", status)
	}
	if claim.Status.IsTerminal() {
		return fmt.Errorf("claim %s is already %s", claim.ID, claim.Status)
	}
	claim.Status = status
	if msg != "" {
		claim.ErrorMessage = msg
	}
	if completes[status] {
		claim.CompletedAt = &now
	}
	return nil
}
