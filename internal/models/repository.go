package models

import (
	"strings"
	"time"
)

// Installation is a GitHub App installation on an account.
type Installation struct {
	ID           int64     `json:"id"`
	AccountLogin string    `json:"account_login"`
	AccountID    int64     `json:"account_id"`
	InstalledAt  time.Time `json:"installed_at"`
}

// Repository is a tracked repository. ID is the GitHub repository id and is
// the partition key for claims.
type Repository struct {
	ID             int64      `json:"id"`
	InstallationID int64      `json:"installation_id"`
	FullName       string     `json:"full_name"`
	DefaultBranch  string     `json:"default_branch"`
	IsActive       bool       `json:"is_active"`
	LastScannedAt  *time.Time `json:"last_scanned_at,omitempty"`
	ScanCount      int        `json:"scan_count"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Owner returns the owner half of FullName.
func (r *Repository) Owner() string {
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

// Name returns the repository half of FullName.
func (r *Repository) Name() string {
	_, name, _ := strings.Cut(r.FullName, "/")
	return name
}

// ScanRecord is one entry in a repository's scan history.
type ScanRecord struct {
	ID           string    `json:"id"`
	RepositoryID int64     `json:"repository_id"`
	ScannedAt    time.Time `json:"scanned_at"`
	TargetsFound int       `json:"targets_found"`
}
