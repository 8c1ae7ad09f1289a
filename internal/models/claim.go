package models

import "time"

// ClaimStatus represents a claim's position in the fix lifecycle.
type ClaimStatus string

const (
	ClaimStatusPending    ClaimStatus = "pending"
	ClaimStatusInProgress ClaimStatus = "in_progress"
	ClaimStatusTesting    ClaimStatus = "testing"
	ClaimStatusRetrying   ClaimStatus = "retrying"
	ClaimStatusOpen       ClaimStatus = "open"
	ClaimStatusMerged     ClaimStatus = "merged"
	ClaimStatusSuccess    ClaimStatus = "success"
	ClaimStatusFailed     ClaimStatus = "failed"
	ClaimStatusAbandoned  ClaimStatus = "abandoned"
	ClaimStatusClosed     ClaimStatus = "closed"
)

// ActiveClaimStatuses lists the statuses that hold a target exclusively.
var ActiveClaimStatuses = []ClaimStatus{
	ClaimStatusPending,
	ClaimStatusInProgress,
	ClaimStatusTesting,
	ClaimStatusRetrying,
	ClaimStatusOpen,
}

// IsActive reports whether the status blocks new claims on the same target.
func (s ClaimStatus) IsActive() bool {
	for _, a := range ActiveClaimStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status can never change again.
func (s ClaimStatus) IsTerminal() bool {
	switch s {
	case ClaimStatusMerged, ClaimStatusSuccess, ClaimStatusFailed, ClaimStatusAbandoned, ClaimStatusClosed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s ClaimStatus) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// Claim (a "bounty") is the exclusive, persisted unit of work for fixing one
// finding in one repository.
type Claim struct {
	ID             string      `json:"id"`
	RepositoryID   int64       `json:"repository_id"`
	TargetFile     string      `json:"target_file"`
	TargetFunction string      `json:"target_function"`
	IssueType      DebtKind    `json:"issue_type"`
	Status         ClaimStatus `json:"status"`
	BranchName     string      `json:"branch_name"`
	OriginalCode   string      `json:"original_code,omitempty"`
	FixedCode      string      `json:"fixed_code,omitempty"`
	FixSummary     string      `json:"fix_summary,omitempty"`
	TestOutput     string      `json:"test_output,omitempty"`
	RetryCount     int         `json:"retry_count"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	PRURL          string      `json:"pr_url,omitempty"`
	PRNumber       int         `json:"pr_number,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}
