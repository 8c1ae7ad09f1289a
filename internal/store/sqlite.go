package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/joescharf/debthunt/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single pooled connection
	// serializes access within the process; BEGIN IMMEDIATE in ClaimTarget
	// covers other processes sharing the file.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// --- Installations ---

func (s *SQLiteStore) UpsertInstallation(ctx context.Context, inst *models.Installation) error {
	if inst.InstalledAt.IsZero() {
		inst.InstalledAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO installations (id, account_login, account_id, installed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET account_login=excluded.account_login, account_id=excluded.account_id`,
		inst.ID, inst.AccountLogin, inst.AccountID, inst.InstalledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert installation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetInstallation(ctx context.Context, id int64) (*models.Installation, error) {
	inst := &models.Installation{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_login, account_id, installed_at FROM installations WHERE id = ?`, id,
	).Scan(&inst.ID, &inst.AccountLogin, &inst.AccountID, &inst.InstalledAt)
	if err == sql.ErrNoRows {
		return nil, notFound("installation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get installation: %w", err)
	}
	return inst, nil
}

// --- Repositories ---

const repositoryColumns = `id, installation_id, full_name, default_branch, is_active, last_scanned_at, scan_count, created_at`

func scanRepository(row rowScanner) (*models.Repository, error) {
	r := &models.Repository{}
	var lastScanned sql.NullTime
	if err := row.Scan(&r.ID, &r.InstallationID, &r.FullName, &r.DefaultBranch, &r.IsActive, &lastScanned, &r.ScanCount, &r.CreatedAt); err != nil {
		return nil, err
	}
	if lastScanned.Valid {
		r.LastScannedAt = &lastScanned.Time
	}
	return r, nil
}

// UpsertRepository inserts the repository or refreshes its identity fields.
// Scan bookkeeping is preserved, and neither an installation id of 0 nor
// an empty default branch overwrites a known value. A new row with no
// default branch gets "main". The stored row is copied back into repo.
func (s *SQLiteStore) UpsertRepository(ctx context.Context, repo *models.Repository) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, installation_id, full_name, default_branch, is_active, scan_count, created_at)
		VALUES (?1, ?2, ?3, CASE WHEN ?4 != '' THEN ?4 ELSE 'main' END, ?5, 0, ?6)
		ON CONFLICT(id) DO UPDATE SET
			installation_id = CASE WHEN excluded.installation_id != 0 THEN excluded.installation_id ELSE repositories.installation_id END,
			full_name = excluded.full_name,
			default_branch = CASE WHEN ?4 != '' THEN excluded.default_branch ELSE repositories.default_branch END,
			is_active = excluded.is_active`,
		repo.ID, repo.InstallationID, repo.FullName, repo.DefaultBranch, boolToInt(repo.IsActive), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert repository: %w", err)
	}

	stored, err := s.GetRepository(ctx, repo.ID)
	if err != nil {
		return err
	}
	*repo = *stored
	return nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id int64) (*models.Repository, error) {
	r, err := scanRepository(s.db.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("repository", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRepositoryByName(ctx context.Context, fullName string) (*models.Repository, error) {
	r, err := scanRepository(s.db.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE full_name = ? COLLATE NOCASE`, fullName))
	if err == sql.ErrNoRows {
		return nil, notFound("repository", fullName)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by name: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*models.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// --- Scan history ---

// LogScan records a scan and bumps the repository's scan bookkeeping.
func (s *SQLiteStore) LogScan(ctx context.Context, repoID int64, targetsFound int, at time.Time) (*models.ScanRecord, error) {
	if at.IsZero() {
		at = time.Now()
	}
	rec := &models.ScanRecord{
		ID:           newULID(),
		RepositoryID: repoID,
		ScannedAt:    at.UTC(),
		TargetsFound: targetsFound,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE repositories SET last_scanned_at = ?, scan_count = scan_count + 1 WHERE id = ?`,
		rec.ScannedAt, repoID)
	if err != nil {
		return nil, fmt.Errorf("log scan: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, notFound("repository", repoID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scan_history (id, repository_id, scanned_at, targets_found) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.RepositoryID, rec.ScannedAt, rec.TargetsFound); err != nil {
		return nil, fmt.Errorf("log scan: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListScans(ctx context.Context, repoID int64, limit int) ([]*models.ScanRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repository_id, scanned_at, targets_found FROM scan_history
		WHERE repository_id = ? ORDER BY scanned_at DESC, id DESC LIMIT ?`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scans []*models.ScanRecord
	for rows.Next() {
		rec := &models.ScanRecord{}
		if err := rows.Scan(&rec.ID, &rec.RepositoryID, &rec.ScannedAt, &rec.TargetsFound); err != nil {
			return nil, fmt.Errorf("scan scan record: %w", err)
		}
		scans = append(scans, rec)
	}
	return scans, rows.Err()
}

// --- Claims ---

const claimColumns = `id, repository_id, target_file, target_function, issue_type, status, branch_name,
	original_code, fixed_code, fix_summary, test_output, retry_count, error_message, pr_url, pr_number,
	created_at, updated_at, completed_at`

func scanClaim(row rowScanner) (*models.Claim, error) {
	c := &models.Claim{}
	var issueType, status string
	var completedAt sql.NullTime
	err := row.Scan(&c.ID, &c.RepositoryID, &c.TargetFile, &c.TargetFunction, &issueType, &status, &c.BranchName,
		&c.OriginalCode, &c.FixedCode, &c.FixSummary, &c.TestOutput, &c.RetryCount, &c.ErrorMessage, &c.PRURL, &c.PRNumber,
		&c.CreatedAt, &c.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	c.IssueType = models.DebtKind(issueType)
	c.Status = models.ClaimStatus(status)
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return c, nil
}

// statusIn renders "status IN (?, ...)" and its arguments.
func statusIn(statuses []models.ClaimStatus) (string, []any) {
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return "status IN (" + strings.Join(placeholders, ", ") + ")", args
}

func isStale(c *models.Claim, now time.Time, after time.Duration) bool {
	if after <= 0 {
		return false
	}
	for _, st := range StaleStatuses {
		if c.Status == st {
			return now.Sub(c.CreatedAt) > after
		}
	}
	return false
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint. Other constraint failures, such as a missing foreign key,
// are not contention and return false.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ClaimTarget atomically takes the (repository, file, function) target.
// The lookup, stale abandonment and insert run in one BEGIN IMMEDIATE
// transaction on a dedicated connection, so the write lock is held from
// the first read and concurrent claimers in other processes serialize.
func (s *SQLiteStore) ClaimTarget(ctx context.Context, req ClaimRequest) (*models.Claim, ClaimOutcome, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, ClaimSkipped, fmt.Errorf("claim target: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, ClaimSkipped, fmt.Errorf("claim target: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	activeClause, activeArgs := statusIn(models.ActiveClaimStatuses)
	args := append([]any{req.RepositoryID, req.TargetFile, req.TargetFunction}, activeArgs...)
	existing, err := scanClaim(conn.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims
		WHERE repository_id = ? AND target_file = ? AND target_function = ? AND `+activeClause+`
		ORDER BY created_at DESC LIMIT 1`, args...))
	if err != nil && err != sql.ErrNoRows {
		return nil, ClaimSkipped, fmt.Errorf("claim target: lookup: %w", err)
	}

	outcome := ClaimCreated
	if existing != nil {
		if !isStale(existing, now, req.StaleAfter) {
			return existing, ClaimSkipped, nil
		}
		if _, err := conn.ExecContext(ctx,
			`UPDATE claims SET status = ?, error_message = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
			string(models.ClaimStatusAbandoned), StaleClaimMessage, now, now, existing.ID); err != nil {
			return nil, ClaimSkipped, fmt.Errorf("claim target: abandon %s: %w", existing.ID, err)
		}
		outcome = ClaimReclaimed
	}

	claim := &models.Claim{
		ID:             newULID(),
		RepositoryID:   req.RepositoryID,
		TargetFile:     req.TargetFile,
		TargetFunction: req.TargetFunction,
		IssueType:      req.IssueType,
		Status:         models.ClaimStatusPending,
		BranchName:     req.BranchName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = conn.ExecContext(ctx,
		`INSERT INTO claims (id, repository_id, target_file, target_function, issue_type, status, branch_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		claim.ID, claim.RepositoryID, claim.TargetFile, claim.TargetFunction, string(claim.IssueType),
		string(claim.Status), claim.BranchName, claim.CreatedAt, claim.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ClaimSkipped, nil
		}
		return nil, ClaimSkipped, fmt.Errorf("claim target: insert: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, ClaimSkipped, fmt.Errorf("claim target: commit: %w", err)
	}
	committed = true
	return claim, outcome, nil
}

func (s *SQLiteStore) GetClaim(ctx context.Context, id string) (*models.Claim, error) {
	c, err := scanClaim(s.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("claim", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListClaims(ctx context.Context, filter ClaimListFilter) ([]*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims`
	var conditions []string
	var args []any

	if filter.RepositoryID != 0 {
		conditions = append(conditions, "repository_id = ?")
		args = append(args, filter.RepositoryID)
	}
	if len(filter.Statuses) > 0 {
		clause, statusArgs := statusIn(filter.Statuses)
		conditions = append(conditions, clause)
		args = append(args, statusArgs...)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryClaims(ctx, query, args...)
}

// ListStaleClaims returns pending or in_progress claims created before
// olderThan. A repoID of 0 matches every repository.
func (s *SQLiteStore) ListStaleClaims(ctx context.Context, repoID int64, olderThan time.Time) ([]*models.Claim, error) {
	claims, err := s.ListClaims(ctx, ClaimListFilter{RepositoryID: repoID, Statuses: StaleStatuses})
	if err != nil {
		return nil, err
	}
	var stale []*models.Claim
	for _, c := range claims {
		if c.CreatedAt.Before(olderThan) {
			stale = append(stale, c)
		}
	}
	return stale, nil
}

func (s *SQLiteStore) queryClaims(ctx context.Context, query string, args ...any) ([]*models.Claim, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var claims []*models.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (s *SQLiteStore) UpdateClaim(ctx context.Context, claim *models.Claim) error {
	claim.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE claims SET status=?, branch_name=?, original_code=?, fixed_code=?, fix_summary=?, test_output=?,
			retry_count=?, error_message=?, pr_url=?, pr_number=?, updated_at=?, completed_at=?
		WHERE id=?`,
		string(claim.Status), claim.BranchName, claim.OriginalCode, claim.FixedCode, claim.FixSummary, claim.TestOutput,
		claim.RetryCount, claim.ErrorMessage, claim.PRURL, claim.PRNumber, claim.UpdatedAt, claim.CompletedAt,
		claim.ID,
	)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("claim", claim.ID)
	}
	return nil
}
