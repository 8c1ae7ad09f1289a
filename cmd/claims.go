package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/debthunt/internal/git"
	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/output"
	"github.com/joescharf/debthunt/internal/refresh"
	"github.com/joescharf/debthunt/internal/store"
)

var (
	claimsRepo    string
	claimsStatus  string
	claimsLimit   int
	claimsReclaim bool
)

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Inspect and maintain claims",
	Long:  "A claim reserves one tech debt target in one repository while it is being fixed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return claimsListRun()
	},
}

var claimsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List claims, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return claimsListRun()
	},
}

var claimsShowCmd = &cobra.Command{
	Use:   "show <claim-id>",
	Short: "Show claim details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return claimsShowRun(args[0])
	},
}

var claimsStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List claims stuck in pending or in_progress",
	Long:  "List stale claims. With --reclaim, mark them abandoned so their targets can be claimed again.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return claimsStaleRun()
	},
}

var claimsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mark open claims merged or closed from their pull requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return claimsSyncRun()
	},
}

func init() {
	claimsCmd.PersistentFlags().StringVarP(&claimsRepo, "repo", "r", "", "Repository (owner/repo or id)")
	claimsListCmd.Flags().StringVar(&claimsStatus, "status", "", "Filter by status (comma-separated)")
	claimsListCmd.Flags().IntVarP(&claimsLimit, "limit", "l", 50, "Maximum claims to show")
	claimsStaleCmd.Flags().BoolVar(&claimsReclaim, "reclaim", false, "Abandon stale claims")

	claimsCmd.AddCommand(claimsListCmd, claimsShowCmd, claimsStaleCmd, claimsSyncCmd)
	rootCmd.AddCommand(claimsCmd)
}

func claimsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.ClaimListFilter{Limit: claimsLimit}
	if claimsRepo != "" {
		repo, err := findRepository(ctx, s, claimsRepo)
		if err != nil {
			return err
		}
		filter.RepositoryID = repo.ID
	}
	for _, st := range splitCSV(claimsStatus) {
		status := models.ClaimStatus(st)
		if !status.Valid() {
			return fmt.Errorf("unknown claim status: %s", st)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	list, err := s.ListClaims(ctx, filter)
	if err != nil {
		return err
	}
	printClaims(ctx, s, list)
	return nil
}

func printClaims(ctx context.Context, s store.Store, list []*models.Claim) {
	if len(list) == 0 {
		ui.Info("No claims found.")
		return
	}

	repoNames := make(map[int64]string)
	table := ui.Table([]string{"ID", "Repository", "Target", "Kind", "Status", "Retries", "PR", "Updated"})
	for _, c := range list {
		name, ok := repoNames[c.RepositoryID]
		if !ok {
			if r, err := s.GetRepository(ctx, c.RepositoryID); err == nil {
				name = r.FullName
			}
			repoNames[c.RepositoryID] = name
		}

		pr := ""
		if c.PRNumber > 0 {
			pr = fmt.Sprintf("#%d", c.PRNumber)
		}
		_ = table.Append([]string{
			shortID(c.ID),
			name,
			claimTarget(c),
			string(c.IssueType),
			output.StatusColor(string(c.Status)),
			fmt.Sprintf("%d", c.RetryCount),
			pr,
			timeAgo(c.UpdatedAt),
		})
	}
	_ = table.Render()
}

func claimsShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	c, err := findClaim(ctx, s, id)
	if err != nil {
		return err
	}

	repoName := ""
	if r, err := s.GetRepository(ctx, c.RepositoryID); err == nil {
		repoName = r.FullName
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(c.ID)), claimTarget(c))
	fmt.Fprintf(ui.Out, "  Repository: %s\n", repoName)
	fmt.Fprintf(ui.Out, "  Kind:       %s\n", c.IssueType)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(c.Status)))
	fmt.Fprintf(ui.Out, "  Branch:     %s\n", c.BranchName)
	fmt.Fprintf(ui.Out, "  Retries:    %d\n", c.RetryCount)
	if c.PRURL != "" {
		fmt.Fprintf(ui.Out, "  PR:         #%d %s\n", c.PRNumber, c.PRURL)
	}
	if c.ErrorMessage != "" {
		fmt.Fprintf(ui.Out, "  Error:      %s\n", output.Red(c.ErrorMessage))
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", c.CreatedAt.Format(time.RFC3339))
	if c.CompletedAt != nil {
		fmt.Fprintf(ui.Out, "  Completed:  %s\n", c.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", c.ID)

	if c.FixSummary != "" {
		fmt.Fprintf(ui.Out, "\nSummary:\n%s\n", c.FixSummary)
	}
	if ui.Verbose {
		if c.FixedCode != "" {
			fmt.Fprintf(ui.Out, "\nFixed code:\n%s\n", c.FixedCode)
		}
		if c.TestOutput != "" {
			fmt.Fprintf(ui.Out, "\nTest output:\n%s\n", c.TestOutput)
		}
	}
	return nil
}

// staleRepoIDs returns the repository selected by --repo, or every repository.
func staleRepoIDs(ctx context.Context, s store.Store) ([]int64, error) {
	if claimsRepo != "" {
		repo, err := findRepository(ctx, s, claimsRepo)
		if err != nil {
			return nil, err
		}
		return []int64{repo.ID}, nil
	}
	repos, err := s.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(repos))
	for i, r := range repos {
		ids[i] = r.ID
	}
	return ids, nil
}

func claimsStaleRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	p := newProtocol(s)

	ids, err := staleRepoIDs(ctx, s)
	if err != nil {
		return err
	}

	var stale []*models.Claim
	for _, id := range ids {
		var list []*models.Claim
		if claimsReclaim && !dryRun {
			list, err = p.ReclaimStale(ctx, id)
		} else {
			list, err = p.StaleClaims(ctx, id)
		}
		if err != nil {
			return err
		}
		stale = append(stale, list...)
	}

	printClaims(ctx, s, stale)
	switch {
	case len(stale) == 0:
	case claimsReclaim && dryRun:
		ui.DryRunMsg("Would abandon %d stale claims", len(stale))
	case claimsReclaim:
		ui.Success("Abandoned %d stale claims", len(stale))
	default:
		ui.Info("Run with --reclaim to abandon them.")
	}
	return nil
}

func claimsSyncRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ids, err := staleRepoIDs(ctx, s)
	if err != nil {
		return err
	}

	ghc := git.NewGitHubClient()
	var updated, total int
	for _, id := range ids {
		res, err := refresh.All(ctx, s, id, ghc)
		if err != nil {
			return err
		}
		total += res.Total
		updated += res.Updated
		for _, r := range res.Results {
			switch {
			case r.Error != "":
				ui.Warning("Claim %s (PR #%d): %s", shortID(r.ClaimID), r.PRNumber, r.Error)
			case r.Changed:
				ui.Success("Claim %s (PR #%d) is now %s", shortID(r.ClaimID), r.PRNumber, output.StatusColor(string(r.Status)))
			default:
				ui.VerboseLog("Claim %s (PR #%d) unchanged", shortID(r.ClaimID), r.PRNumber)
			}
		}
	}
	ui.Info("Synced %d open claims, %d updated", total, updated)
	return nil
}

// findClaim looks up a claim by full ID or unique prefix.
func findClaim(ctx context.Context, s store.Store, id string) (*models.Claim, error) {
	if c, err := s.GetClaim(ctx, id); err == nil {
		return c, nil
	}

	upper := strings.ToUpper(id)
	all, err := s.ListClaims(ctx, store.ClaimListFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Claim
	for _, c := range all {
		if strings.HasPrefix(c.ID, upper) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("claim not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous claim ID %q matches %d claims", id, len(matches))
	}
}

func claimTarget(c *models.Claim) string {
	if c.TargetFunction == "" {
		return c.TargetFile
	}
	return c.TargetFile + ":" + c.TargetFunction
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
