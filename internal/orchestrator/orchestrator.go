// Package orchestrator drives one claimed target from scan to pull request.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/joescharf/debthunt/internal/analyzers"
	"github.com/joescharf/debthunt/internal/git"
	"github.com/joescharf/debthunt/internal/llm"
	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/repoconfig"
	"github.com/joescharf/debthunt/internal/scanner"
	"github.com/joescharf/debthunt/internal/store"
	"github.com/joescharf/debthunt/internal/verify"
	"github.com/joescharf/debthunt/internal/workspace"
)

// Outcome summarizes how a run ended.
type Outcome string

const (
	OutcomeNoTargets  Outcome = "no_targets"
	OutcomeAllClaimed Outcome = "all_claimed"
	OutcomeOpened     Outcome = "opened"
	OutcomeVerified   Outcome = "verified"
	OutcomeFailed     Outcome = "failed"
)

// Failure messages recorded on the claim.
const (
	MsgTestsExhausted = "Tests failed after max retries"
	msgFixFailed      = "Refactoring failed"
	msgHealFailed     = "Self-heal failed"
	msgApplyFailed    = "Failed to apply refactoring"
)

// Target names the repository to work on.
type Target struct {
	Owner      string
	Repo       string
	BaseBranch string // empty means the repository default branch
}

// FullName returns owner/repo.
func (t Target) FullName() string { return t.Owner + "/" + t.Repo }

// Result reports the end state of a run.
type Result struct {
	Outcome    Outcome            `json:"outcome"`
	Repository *models.Repository `json:"repository,omitempty"`
	Finding    *models.Finding    `json:"finding,omitempty"`
	Claim      *models.Claim      `json:"claim,omitempty"`
	Findings   int                `json:"findings"`
}

// Fixer rewrites a finding's code.
type Fixer interface {
	Fix(ctx context.Context, req llm.FixRequest) (*llm.FixResult, error)
	SelfHeal(ctx context.Context, req llm.FixRequest, priorCode, testOutput string) (*llm.FixResult, error)
}

// Tester runs a workspace's test suite.
type Tester interface {
	Verify(ctx context.Context, path, override string) verify.Result
	InstallDependencies(ctx context.Context, path string) bool
}

// Claimer owns targets on behalf of the run.
type Claimer interface {
	ClaimNext(ctx context.Context, repoID int64, findings []models.Finding) (*models.Finding, *models.Claim, error)
	Advance(ctx context.Context, claim *models.Claim, status models.ClaimStatus, msg string) error
}

// Store is the subset of store.Store a run writes to.
type Store interface {
	UpsertRepository(ctx context.Context, repo *models.Repository) error
	LogScan(ctx context.Context, repoID int64, targetsFound int, at time.Time) (*models.ScanRecord, error)
	UpdateClaim(ctx context.Context, claim *models.Claim) error
}

var _ Store = (store.Store)(nil)

// Config holds run settings. cmd builds it from viper.
type Config struct {
	// RepoDefaults is the base that .debthunt.yaml or pyproject.toml
	// overrides. Its MaxRetries is the process-wide default.
	RepoDefaults repoconfig.Config
	// RepoOverride, when set, replaces the repository's own config.
	RepoOverride *repoconfig.Config
	Thresholds   analyzers.Thresholds
	// ScanOptions are appended after the thresholds and logger.
	ScanOptions []scanner.Option
	// SkipPublish stops after a passing verify and marks the claim success.
	SkipPublish bool
	Logger      *slog.Logger
	Now         func() time.Time
}

// Runner executes runs. All collaborators are required.
type Runner struct {
	Workspace workspace.Provider
	Git       git.Client
	GitHub    git.GitHubClient
	Claims    Claimer
	Store     Store
	Fixer     Fixer
	Tester    Tester
	Config    Config
}

func (r *Runner) logger() *slog.Logger {
	if r.Config.Logger != nil {
		return r.Config.Logger
	}
	return slog.Default()
}

func (r *Runner) now() time.Time {
	if r.Config.Now != nil {
		return r.Config.Now().UTC()
	}
	return time.Now().UTC()
}

// Run acquires a workspace, claims the highest ranked free target and
// carries it through fix, verify and publish. Fix and verify failures are
// recorded on the claim and reported as OutcomeFailed; only
// infrastructure failures return an error. The workspace is always
// released.
func (r *Runner) Run(ctx context.Context, target Target) (*Result, error) {
	ru := &run{
		Runner: r,
		target: target,
		log:    r.logger().With("repo", target.FullName()),
		result: &Result{},
	}
	defer ru.release()

	if err := ru.loop(ctx); err != nil {
		return nil, err
	}
	return ru.result, nil
}

// phase is a step in the run state machine.
type phase int

const (
	phaseAcquire phase = iota
	phaseRegister
	phaseScan
	phaseClaim
	phaseBranch
	phaseFix
	phaseVerify
	phaseHeal
	phasePublish
	phaseDone
)

var phaseNames = [...]string{"acquire", "register", "scan", "claim", "branch", "fix", "verify", "heal", "publish", "done"}

func (p phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// run is the mutable state of one Run call.
type run struct {
	*Runner
	target Target
	log    *slog.Logger
	result *Result

	workspace string
	repo      *models.Repository
	cfg       repoconfig.Config
	findings  []models.Finding
	finding   *models.Finding
	claim     *models.Claim

	// span is the line range the current fix occupies in the workspace.
	spanStart, spanEnd int
	attempt            int
	testOutput         string
}

func (ru *run) loop(ctx context.Context) error {
	steps := map[phase]func(context.Context) (phase, error){
		phaseAcquire:  ru.acquire,
		phaseRegister: ru.register,
		phaseScan:     ru.scan,
		phaseClaim:    ru.claimTarget,
		phaseBranch:   ru.branch,
		phaseFix:      ru.fix,
		phaseVerify:   ru.verify,
		phaseHeal:     ru.heal,
		phasePublish:  ru.publish,
	}

	for p := phaseAcquire; p != phaseDone; {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled before %s: %w", p, err)
		}
		ru.log.Debug("entering phase", "phase", p.String())
		next, err := steps[p](ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		p = next
	}
	return nil
}

func (ru *run) release() {
	if ru.workspace == "" {
		return
	}
	if err := ru.Workspace.Release(ru.workspace); err != nil {
		ru.log.Error("release workspace", "path", ru.workspace, "error", err)
	}
	ru.workspace = ""
}

func (ru *run) acquire(ctx context.Context) (phase, error) {
	path, err := ru.Workspace.Acquire(ctx, ru.target.Owner, ru.target.Repo)
	if err != nil {
		return phaseDone, err
	}
	ru.workspace = path
	ru.log.Info("workspace acquired", "path", path)
	return phaseRegister, nil
}

func (ru *run) register(ctx context.Context) (phase, error) {
	info, err := ru.GitHub.RepoInfo(ru.target.Owner, ru.target.Repo)
	if err != nil {
		return phaseDone, fmt.Errorf("repository info: %w", err)
	}
	repo := &models.Repository{
		ID:            info.ID,
		FullName:      ru.target.FullName(),
		DefaultBranch: info.DefaultBranch,
		IsActive:      true,
	}
	if info.FullName != "" {
		repo.FullName = info.FullName
	}
	if err := ru.Store.UpsertRepository(ctx, repo); err != nil {
		return phaseDone, err
	}
	if ru.target.BaseBranch == "" {
		ru.target.BaseBranch = repo.DefaultBranch
	}
	ru.repo = repo
	ru.result.Repository = repo
	return phaseScan, nil
}

func (ru *run) scan(ctx context.Context) (phase, error) {
	if ru.Config.RepoOverride != nil {
		ru.cfg = *ru.Config.RepoOverride
	} else {
		base := ru.Config.RepoDefaults
		if len(base.Analyzers) == 0 {
			base = repoconfig.Default()
		}
		cfg, err := repoconfig.Load(ru.workspace, base)
		if err != nil {
			return phaseDone, err
		}
		ru.cfg = cfg
	}

	th := ru.Config.Thresholds
	if th == (analyzers.Thresholds{}) {
		th = analyzers.DefaultThresholds()
	}
	opts := append([]scanner.Option{
		scanner.WithThresholds(th),
		scanner.WithLogger(ru.log),
	}, ru.Config.ScanOptions...)
	sc, err := scanner.New(ru.cfg, opts...)
	if err != nil {
		return phaseDone, err
	}
	findings, err := sc.Scan(ctx, ru.workspace)
	if err != nil {
		return phaseDone, err
	}
	if _, err := ru.Store.LogScan(ctx, ru.repo.ID, len(findings), ru.now()); err != nil {
		return phaseDone, err
	}

	ru.result.Findings = len(findings)
	ru.log.Info("scan complete", "findings", len(findings), "config", ru.cfg.Source)
	if len(findings) == 0 {
		ru.result.Outcome = OutcomeNoTargets
		return phaseDone, nil
	}
	ru.findings = findings
	return phaseClaim, nil
}

func (ru *run) claimTarget(ctx context.Context) (phase, error) {
	f, claim, err := ru.Claims.ClaimNext(ctx, ru.repo.ID, ru.findings)
	if err != nil {
		return phaseDone, err
	}
	if claim == nil {
		ru.log.Info("every target is already claimed")
		ru.result.Outcome = OutcomeAllClaimed
		return phaseDone, nil
	}
	ru.finding = f
	ru.claim = claim
	ru.result.Finding = f
	ru.result.Claim = claim
	ru.log = ru.log.With("claim", claim.ID)
	return phaseBranch, nil
}

func (ru *run) branch(ctx context.Context) (phase, error) {
	branch, err := ru.Git.CreateBranch(ru.workspace, ru.target.BaseBranch)
	if err != nil {
		return phaseDone, err
	}
	ru.claim.BranchName = branch
	if err := ru.Claims.Advance(ctx, ru.claim, models.ClaimStatusInProgress, ""); err != nil {
		return phaseDone, err
	}
	return phaseFix, nil
}

func (ru *run) request() llm.FixRequest {
	return llm.FixRequest{Workspace: ru.workspace, Finding: *ru.finding}
}

func (ru *run) fix(ctx context.Context) (phase, error) {
	res, err := ru.Fixer.Fix(ctx, ru.request())
	if err != nil {
		if ctx.Err() != nil {
			return phaseDone, err
		}
		return ru.fail(ctx, fmt.Sprintf("%s: %v", msgFixFailed, err))
	}
	if !res.Success {
		return ru.fail(ctx, fmt.Sprintf("%s: %s", msgFixFailed, res.Error))
	}

	ru.claim.OriginalCode = res.OriginalCode
	ru.claim.FixedCode = res.FixedCode
	ru.claim.FixSummary = res.Summary
	ru.spanStart, ru.spanEnd = ru.finding.StartLine, ru.finding.EndLine
	if err := ru.apply(res.FixedCode); err != nil {
		return ru.fail(ctx, fmt.Sprintf("%s: %v", msgApplyFailed, err))
	}
	if err := ru.Store.UpdateClaim(ctx, ru.claim); err != nil {
		return phaseDone, err
	}

	ru.Tester.InstallDependencies(ctx, ru.workspace)
	return phaseVerify, nil
}

func (ru *run) apply(code string) error {
	end, err := llm.Apply(ru.workspace, ru.finding.FilePath, ru.spanStart, ru.spanEnd, code)
	if err != nil {
		return err
	}
	ru.spanEnd = end
	return nil
}

func (ru *run) verify(ctx context.Context) (phase, error) {
	if err := ru.Claims.Advance(ctx, ru.claim, models.ClaimStatusTesting, ""); err != nil {
		return phaseDone, err
	}

	res := ru.Tester.Verify(ctx, ru.workspace, ru.cfg.TestCommand)
	ru.testOutput = res.Output
	ru.claim.TestOutput = res.Output
	ru.claim.RetryCount = ru.attempt
	if err := ru.Store.UpdateClaim(ctx, ru.claim); err != nil {
		return phaseDone, err
	}

	ru.log.Info("verify finished", "attempt", ru.attempt, "passed", res.Passed, "exit", res.ExitCode)
	switch {
	case res.Passed:
		return phasePublish, nil
	case ru.attempt < ru.cfg.MaxRetries:
		return phaseHeal, nil
	default:
		return ru.fail(ctx, MsgTestsExhausted)
	}
}

func (ru *run) heal(ctx context.Context) (phase, error) {
	if err := ru.Claims.Advance(ctx, ru.claim, models.ClaimStatusRetrying, ""); err != nil {
		return phaseDone, err
	}

	res, err := ru.Fixer.SelfHeal(ctx, ru.request(), ru.claim.FixedCode, ru.testOutput)
	if err != nil {
		if ctx.Err() != nil {
			return phaseDone, err
		}
		return ru.fail(ctx, fmt.Sprintf("%s: %v", msgHealFailed, err))
	}
	if !res.Success {
		return ru.fail(ctx, fmt.Sprintf("%s: %s", msgHealFailed, res.Error))
	}

	ru.claim.FixedCode = res.FixedCode
	if res.Summary != "" {
		ru.claim.FixSummary += "\n\n" + res.Summary
	}
	if err := ru.apply(res.FixedCode); err != nil {
		return ru.fail(ctx, fmt.Sprintf("%s: %v", msgApplyFailed, err))
	}
	if err := ru.Store.UpdateClaim(ctx, ru.claim); err != nil {
		return phaseDone, err
	}
	ru.attempt++
	return phaseVerify, nil
}

func (ru *run) publish(ctx context.Context) (phase, error) {
	if ru.Config.SkipPublish {
		if err := ru.Claims.Advance(ctx, ru.claim, models.ClaimStatusSuccess, ""); err != nil {
			return phaseDone, err
		}
		ru.log.Info("verified, publish skipped")
		ru.result.Outcome = OutcomeVerified
		return phaseDone, nil
	}

	content, err := os.ReadFile(filepath.Join(ru.workspace, filepath.FromSlash(ru.finding.FilePath)))
	if err != nil {
		return phaseDone, fmt.Errorf("read fixed file: %w", err)
	}
	if err := ru.Git.Commit(ru.workspace, ru.finding.FilePath, string(content), CommitMessage(*ru.finding, ru.claim.BranchName)); err != nil {
		return phaseDone, err
	}
	if err := ru.Git.Push(ru.workspace, ru.target.Owner, ru.target.Repo, ru.claim.BranchName); err != nil {
		return phaseDone, err
	}
	pr, err := ru.GitHub.OpenPullRequest(ru.target.Owner, ru.target.Repo, ru.claim.BranchName, ru.target.BaseBranch,
		PRTitle(*ru.finding), PRBody(*ru.finding, ru.claim))
	if err != nil {
		return phaseDone, err
	}

	ru.claim.PRNumber = pr.Number
	ru.claim.PRURL = pr.HTMLURL
	if ru.claim.PRURL == "" {
		ru.claim.PRURL = pr.URL
	}
	if err := ru.Claims.Advance(ctx, ru.claim, models.ClaimStatusOpen, ""); err != nil {
		return phaseDone, err
	}
	ru.log.Info("pull request opened", "url", ru.claim.PRURL)
	ru.result.Outcome = OutcomeOpened
	return phaseDone, nil
}

// fail records a business failure on the claim and ends the run. The write
// survives cancellation so the claim never stays live after a failure.
func (ru *run) fail(ctx context.Context, msg string) (phase, error) {
	ru.log.Warn("run failed", "reason", msg)
	if err := ru.Claims.Advance(context.WithoutCancel(ctx), ru.claim, models.ClaimStatusFailed, msg); err != nil {
		return phaseDone, err
	}
	ru.result.Outcome = OutcomeFailed
	return phaseDone, nil
}

// CommitMessage is the commit message for a fix.
func CommitMessage(f models.Finding, branch string) string {
	return fmt.Sprintf("refactor: %s\n\ndebthunt bounty: %s", f.Description, branch)
}

// PRTitle is the pull request title for a fix.
func PRTitle(f models.Finding) string {
	subject := f.QualifiedName()
	if subject == "" {
		subject = path.Base(f.FilePath)
	}
	return fmt.Sprintf("[debthunt] %s: %s", f.Kind, subject)
}

// PRBody renders the pull request description.
func PRBody(f models.Finding, c *models.Claim) string {
	var sb strings.Builder
	sb.WriteString("## debthunt Bounty Claim\n\n")
	sb.WriteString("### Tech Debt Identified\n")
	fmt.Fprintf(&sb, "**Type:** %s\n", f.Kind)
	fmt.Fprintf(&sb, "**Location:** `%s`\n", f.Location())
	fmt.Fprintf(&sb, "**Severity:** %.2f\n\n", f.Severity)
	sb.WriteString(f.Description)
	sb.WriteString("\n\n### Refactoring Summary\n")
	sb.WriteString(c.FixSummary)
	sb.WriteString("\n\n### Verification\n")
	sb.WriteString("- Tests: Passed\n")
	fmt.Fprintf(&sb, "- Retries: %d\n\n", c.RetryCount)
	sb.WriteString("---\n*This pull request was opened automatically by debthunt.*\n")
	return sb.String()
}
