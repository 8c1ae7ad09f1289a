package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/debthunt/internal/analyzers"
	"github.com/joescharf/debthunt/internal/claims"
	"github.com/joescharf/debthunt/internal/git"
	"github.com/joescharf/debthunt/internal/llm"
	"github.com/joescharf/debthunt/internal/orchestrator"
	"github.com/joescharf/debthunt/internal/repoconfig"
	"github.com/joescharf/debthunt/internal/store"
	"github.com/joescharf/debthunt/internal/verify"
	"github.com/joescharf/debthunt/internal/worker"
	"github.com/joescharf/debthunt/internal/workspace"
)

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
func newLLMClient() *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}

func thresholds() analyzers.Thresholds {
	return analyzers.Thresholds{
		MinLogicalLines: viper.GetInt("analyzers.min_logical_lines"),
		MinSeverity:     viper.GetFloat64("analyzers.min_severity"),
		MaxComplexity:   viper.GetInt("analyzers.max_complexity"),
	}
}

// repoDefaults is the repository config used when a repository has none.
func repoDefaults() repoconfig.Config {
	cfg := repoconfig.Default()
	cfg.MaxRetries = viper.GetInt("run.max_retries")
	return cfg
}

func claimsOptions() claims.Options {
	return claims.Options{
		StaleAfter:   viper.GetDuration("claims.stale_after"),
		BranchPrefix: viper.GetString("run.branch_prefix"),
		Logger:       slog.Default(),
	}
}

func newProtocol(s store.Store) *claims.Protocol {
	return claims.New(s, claimsOptions())
}

// newRunner wires an orchestrator against GitHub. A non-empty local path
// clones from disk instead of GitHub.
func newRunner(s store.Store, local string) (*orchestrator.Runner, error) {
	fixer := newLLMClient()
	if fixer == nil {
		return nil, fmt.Errorf("no Anthropic API key: set anthropic.api_key or ANTHROPIC_API_KEY")
	}

	gh := git.NewGitHubClient()
	var ws workspace.Provider = workspace.NewGitHubProvider(gh)
	if local != "" {
		ws = &workspace.LocalProvider{Source: local}
	}

	gc := git.NewClient()
	gc.BranchPrefix = viper.GetString("run.branch_prefix")

	return &orchestrator.Runner{
		Workspace: ws,
		Git:       gc,
		GitHub:    gh,
		Claims:    newProtocol(s),
		Store:     s,
		Fixer:     fixer,
		Tester:    verify.NewHarness(viper.GetDuration("run.test_timeout"), slog.Default()),
		Config: orchestrator.Config{
			RepoDefaults: repoDefaults(),
			Thresholds:   thresholds(),
			Logger:       slog.Default(),
		},
	}, nil
}

func newDispatcher() *worker.Dispatcher {
	return worker.New(worker.Options{
		Concurrency: viper.GetInt("worker.concurrency"),
		MinInterval: viper.GetDuration("worker.min_interval"),
		Logger:      slog.Default(),
	})
}
