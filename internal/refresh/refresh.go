// Package refresh syncs open claims with the state of their pull requests.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/debthunt/internal/claims"
	"github.com/joescharf/debthunt/internal/git"
	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/store"
)

// Result holds the outcome of syncing a single claim.
type Result struct {
	ClaimID  string             `json:"claim_id"`
	PRNumber int                `json:"pr_number"`
	Status   models.ClaimStatus `json:"status"`
	Changed  bool               `json:"changed"`
	Error    string             `json:"error,omitempty"`
}

// AllResult holds the outcome of syncing every open claim.
type AllResult struct {
	Updated int      `json:"updated"`
	Total   int      `json:"total"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// prStatus maps a pull request state to the claim status it implies.
var prStatus = map[string]models.ClaimStatus{
	git.PRStateMerged: models.ClaimStatusMerged,
	git.PRStateClosed: models.ClaimStatusClosed,
}

// Claim checks the claim's pull request and persists a merged or closed
// outcome. Returns true if the claim changed.
func Claim(ctx context.Context, s store.Store, c *models.Claim, ghc git.GitHubClient, now time.Time) (bool, error) {
	if c.Status != models.ClaimStatusOpen {
		return false, nil
	}
	if c.PRNumber == 0 {
		return false, fmt.Errorf("claim %s has no pull request", c.ID)
	}

	repo, err := s.GetRepository(ctx, c.RepositoryID)
	if err != nil {
		return false, err
	}
	owner, name, err := git.SplitFullName(repo.FullName)
	if err != nil {
		return false, err
	}

	state, err := ghc.PullRequestState(owner, name, c.PRNumber)
	if err != nil {
		return false, err
	}
	status, ok := prStatus[state]
	if !ok {
		return false, nil
	}

	if err := claims.Transition(c, status, "", now); err != nil {
		return false, err
	}
	if err := s.UpdateClaim(ctx, c); err != nil {
		return false, fmt.Errorf("update claim: %w", err)
	}
	return true, nil
}

// All syncs every open claim, in one repository when repoID is non-zero.
func All(ctx context.Context, s store.Store, repoID int64, ghc git.GitHubClient) (*AllResult, error) {
	open, err := s.ListClaims(ctx, store.ClaimListFilter{
		RepositoryID: repoID,
		Statuses:     []models.ClaimStatus{models.ClaimStatusOpen},
	})
	if err != nil {
		return nil, err
	}

	result := &AllResult{Total: len(open)}
	for _, c := range open {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := Result{ClaimID: c.ID, PRNumber: c.PRNumber}
		changed, err := Claim(ctx, s, c, ghc, time.Now().UTC())
		if err != nil {
			r.Error = err.Error()
			result.Failed++
		} else {
			r.Changed = changed
			if changed {
				result.Updated++
			}
		}
		r.Status = c.Status
		result.Results = append(result.Results, r)
	}

	return result, nil
}
