package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joescharf/debthunt/internal/health"
	"github.com/joescharf/debthunt/internal/output"
	"github.com/joescharf/debthunt/internal/repoconfig"
	"github.com/joescharf/debthunt/internal/scanner"
)

var (
	scanAnalyzers []string
	scanIgnore    []string
	scanJSON      bool
	scanLimit     int
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Scan a local checkout for tech debt",
	Long: `Scan a Python repository on disk and list findings, most severe first.
Without [path], scans the current directory. Analyzers and ignored paths
come from the repository's .debthunt.yaml or [tool.debthunt] section
unless overridden by flags.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		return scanRun(path)
	},
}

func init() {
	scanCmd.Flags().StringSliceVarP(&scanAnalyzers, "analyzer", "a", nil, "Analyzers to run: complexity, type_hints, duplicates (repeatable)")
	scanCmd.Flags().StringSliceVar(&scanIgnore, "ignore", nil, "Additional glob patterns to ignore (repeatable)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print findings as JSON")
	scanCmd.Flags().IntVarP(&scanLimit, "limit", "l", 0, "Show at most this many findings (0 for all)")

	rootCmd.AddCommand(scanCmd)
}

// scanConfig loads the repository config at root and applies flag overrides.
func scanConfig(root string) (repoconfig.Config, error) {
	cfg, err := repoconfig.Load(root, repoDefaults())
	if err != nil {
		return cfg, err
	}
	if len(scanAnalyzers) > 0 {
		cfg.Analyzers = scanAnalyzers
	}
	cfg.IgnorePaths = append(cfg.IgnorePaths, scanIgnore...)
	return cfg, cfg.Validate()
}

func scanRun(path string) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	cfg, err := scanConfig(root)
	if err != nil {
		return err
	}

	sc, err := scanner.New(cfg, scanner.WithThresholds(thresholds()), scanner.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	ui.VerboseLog("Config: %s", cfg.Source)
	ui.VerboseLog("Analyzers: %v", sc.AnalyzerNames())

	report, err := sc.Report(context.Background(), root)
	if err != nil {
		return err
	}
	score := health.NewScorer().Score(report.Findings, report.Files)

	findings := report.Findings
	if scanLimit > 0 && len(findings) > scanLimit {
		findings = findings[:scanLimit]
	}

	if scanJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"path":     root,
			"files":    report.Files,
			"total":    len(report.Findings),
			"score":    score,
			"findings": findings,
		})
	}

	if len(findings) == 0 {
		ui.Success("No tech debt found in %d files.", report.Files)
		printScore(score)
		return nil
	}

	table := ui.Table([]string{"Severity", "Kind", "Location", "Function", "Description"})
	for _, f := range findings {
		_ = table.Append([]string{
			output.SeverityColor(f.Severity),
			string(f.Kind),
			f.Location(),
			f.QualifiedName(),
			f.Description,
		})
	}
	_ = table.Render()

	if len(findings) < len(report.Findings) {
		ui.Info("Showing %d of %d findings.", len(findings), len(report.Findings))
	}
	printScore(score)
	return nil
}

func printScore(score *health.DebtScore) {
	fmt.Fprintf(ui.Out, "\nDebt score: %s (%s)  duplication %d/35  typing %d/30  complexity %d/35  [%d files, %d findings]\n",
		output.HealthColor(score.Total), score.Grade,
		score.Duplication, score.Typing, score.Complexity,
		score.Files, score.Findings)
}
