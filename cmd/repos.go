package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/debthunt/internal/git"
	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/output"
	"github.com/joescharf/debthunt/internal/store"
)

var reposScanLimit int

var reposCmd = &cobra.Command{
	Use:     "repos",
	Aliases: []string{"repositories"},
	Short:   "Manage tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reposListRun()
	},
}

var reposListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reposListRun()
	},
}

var reposAddCmd = &cobra.Command{
	Use:   "add <owner/repo>",
	Short: "Track a repository",
	Long:  "Look the repository up on GitHub and start tracking it, as an installation webhook would.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reposAddRun(args[0])
	},
}

var reposScansCmd = &cobra.Command{
	Use:   "scans <repo>",
	Short: "Show a repository's scan history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reposScansRun(args[0])
	},
}

func init() {
	reposScansCmd.Flags().IntVarP(&reposScanLimit, "limit", "l", 20, "Maximum scans to show")

	reposCmd.AddCommand(reposListCmd, reposAddCmd, reposScansCmd)
	rootCmd.AddCommand(reposCmd)
}

func reposListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	repos, err := s.ListRepositories(context.Background())
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		ui.Info("No repositories tracked. Add one with: debthunt repos add <owner/repo>")
		return nil
	}

	table := ui.Table([]string{"ID", "Repository", "Branch", "Active", "Scans", "Last Scan"})
	for _, r := range repos {
		active := output.Green("yes")
		if !r.IsActive {
			active = output.Yellow("no")
		}
		last := "never"
		if r.LastScannedAt != nil {
			last = timeAgo(*r.LastScannedAt)
		}
		_ = table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.FullName,
			r.DefaultBranch,
			active,
			strconv.Itoa(r.ScanCount),
			last,
		})
	}
	_ = table.Render()
	return nil
}

func reposAddRun(fullName string) error {
	owner, name, err := git.SplitFullName(fullName)
	if err != nil {
		return err
	}
	info, err := git.NewGitHubClient().RepoInfo(owner, name)
	if err != nil {
		return err
	}

	repo := &models.Repository{
		ID:            info.ID,
		FullName:      info.FullName,
		DefaultBranch: info.DefaultBranch,
		IsActive:      true,
	}
	if repo.FullName == "" {
		repo.FullName = fullName
	}

	if dryRun {
		ui.DryRunMsg("Would track %s (id %d, branch %s)", repo.FullName, repo.ID, repo.DefaultBranch)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.UpsertRepository(context.Background(), repo); err != nil {
		return err
	}
	ui.Success("Tracking %s (id %d, branch %s)", output.Cyan(repo.FullName), repo.ID, repo.DefaultBranch)
	return nil
}

func reposScansRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	repo, err := findRepository(ctx, s, ref)
	if err != nil {
		return err
	}
	scans, err := s.ListScans(ctx, repo.ID, reposScanLimit)
	if err != nil {
		return err
	}
	if len(scans) == 0 {
		ui.Info("%s has not been scanned yet.", repo.FullName)
		return nil
	}

	table := ui.Table([]string{"Scanned", "Targets"})
	for _, sc := range scans {
		_ = table.Append([]string{
			sc.ScannedAt.Local().Format(time.DateTime),
			strconv.Itoa(sc.TargetsFound),
		})
	}
	_ = table.Render()
	return nil
}

// findRepository resolves a repository by full name or numeric id.
func findRepository(ctx context.Context, s store.Store, ref string) (*models.Repository, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.GetRepository(ctx, id)
	}
	repo, err := s.GetRepositoryByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", ref, err)
	}
	return repo, nil
}
