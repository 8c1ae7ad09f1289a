package cmd

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/debthunt/internal/git"
	"github.com/joescharf/debthunt/internal/orchestrator"
	"github.com/joescharf/debthunt/internal/output"
)

var (
	runBase  string
	runLocal string
)

var runCmd = &cobra.Command{
	Use:   "run <owner/repo>",
	Short: "Fix one tech debt target and open a pull request",
	Long: `Clone the repository, scan it, claim the most severe unclaimed target,
refactor it with Claude, run the repository's tests (self-healing on
failure) and open a pull request when they pass.

With --dry-run the fix is verified but nothing is committed or pushed.
With --local the clone is taken from a checkout on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&runBase, "base", "", "Base branch (default: the repository default branch)")
	runCmd.Flags().StringVar(&runLocal, "local", "", "Clone from this local checkout instead of GitHub")

	rootCmd.AddCommand(runCmd)
}

func runRun(fullName string) error {
	owner, repo, err := git.SplitFullName(fullName)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	runner, err := newRunner(s, runLocal)
	if err != nil {
		return err
	}
	runner.Config.SkipPublish = dryRun
	ui.DryRunMsg("Will verify the fix without committing, pushing or opening a pull request")

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	ui.Info("Running debthunt on %s", output.Cyan(fullName))
	res, err := runner.Run(ctx, orchestrator.Target{Owner: owner, Repo: repo, BaseBranch: runBase})
	if err != nil {
		return err
	}
	printRunResult(res)
	if res.Outcome == orchestrator.OutcomeFailed {
		return fmt.Errorf("run failed: %s", res.Claim.ErrorMessage)
	}
	return nil
}

func printRunResult(res *orchestrator.Result) {
	switch res.Outcome {
	case orchestrator.OutcomeNoTargets:
		ui.Success("No tech debt found (%d findings).", res.Findings)
		return
	case orchestrator.OutcomeAllClaimed:
		ui.Warning("All %d findings are already claimed.", res.Findings)
		return
	}

	if f := res.Finding; f != nil {
		ui.Info("Target: %s %s", f.Kind, f.Location())
	}
	c := res.Claim
	switch res.Outcome {
	case orchestrator.OutcomeOpened:
		ui.Success("Opened pull request #%d: %s", c.PRNumber, c.PRURL)
	case orchestrator.OutcomeVerified:
		ui.Success("Fix verified on branch %s (not published)", c.BranchName)
	case orchestrator.OutcomeFailed:
		ui.Error("Claim %s failed after %d retries: %s", shortID(c.ID), c.RetryCount, c.ErrorMessage)
	}
	if c.FixSummary != "" {
		ui.VerboseLog("Summary: %s", c.FixSummary)
	}
}
