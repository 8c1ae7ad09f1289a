package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/debthunt/internal/llm"
	"github.com/joescharf/debthunt/internal/output"
	"github.com/joescharf/debthunt/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "debthunt",
	Short: "Find tech debt in Python repos and fix it with verified pull requests",
	Long: `debthunt scans Python repositories for tech debt (duplicated functions,
missing type hints, overly complex functions), claims one target at a time,
asks Claude to refactor it, runs the repository's own tests with bounded
self-heal retries and opens a pull request when they pass.

Run 'debthunt scan' to inspect a local checkout, 'debthunt run owner/repo'
to fix one target, or 'debthunt serve' to react to GitHub webhooks.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/debthunt/config.yaml)")
}

func initConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
		os.Exit(1)
	}
	defaultConfigDir := filepath.Join(home, ".config", "debthunt")

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(defaultConfigDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DEBTHUNT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(defaultConfigDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default under configDir.
func setDefaults(configDir string) {
	viper.SetDefault("state_dir", configDir)
	viper.SetDefault("db_path", filepath.Join(configDir, "debthunt.db"))
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", llm.DefaultModel)
	viper.SetDefault("run.max_retries", 2)
	viper.SetDefault("run.test_timeout", 300*time.Second)
	viper.SetDefault("run.branch_prefix", "debthunt")
	viper.SetDefault("claims.stale_after", time.Hour)
	viper.SetDefault("analyzers.min_logical_lines", 3)
	viper.SetDefault("analyzers.min_severity", 0.3)
	viper.SetDefault("analyzers.max_complexity", 10)
	viper.SetDefault("github.webhook_secret", "")
	viper.SetDefault("serve.port", 8080)
	viper.SetDefault("worker.concurrency", 2)
	viper.SetDefault("worker.min_interval", time.Minute)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	slog.SetDefault(newLogger(verbose))

	// Initialize store lazily: only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// newLogger returns a text logger on stderr, at debug level when verbose.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
