package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/debthunt/internal/llm"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "debthunt"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage debthunt configuration.

Running bare 'debthunt config' is the same as 'debthunt config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# debthunt configuration
# See: debthunt config show (for effective values and sources)

# State/data directory (default: ~/.config/debthunt)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/debthunt/debthunt.db)
# db_path: {{ .DBPath }}

# Anthropic
anthropic:
  # API key (falls back to $ANTHROPIC_API_KEY)
  api_key: ""
  # Model used for refactoring (default: "{{ .DefaultModel }}")
  model: "{{ .Model }}"

# Runs
run:
  # Self-heal attempts after the first failing test run (default: 2)
  max_retries: {{ .MaxRetries }}
  # Time limit for one test run (default: 5m0s)
  test_timeout: {{ .TestTimeout }}
  # Prefix for bounty branches (default: "debthunt")
  branch_prefix: "{{ .BranchPrefix }}"

# Claims
claims:
  # Age after which a pending or in_progress claim may be abandoned (default: 1h0m0s, negative disables)
  stale_after: {{ .StaleAfter }}

# Analyzers
analyzers:
  # Smallest function considered for duplication, in source lines (default: 3)
  min_logical_lines: {{ .MinLogicalLines }}
  # Type-hint findings below this severity are dropped (default: 0.3)
  min_severity: {{ .MinSeverity }}
  # Cyclomatic complexity a function may reach before it is reported (default: 10)
  max_complexity: {{ .MaxComplexity }}

# GitHub App
github:
  # Webhook secret; empty disables signature verification
  webhook_secret: ""

# Server
serve:
  port: {{ .Port }}

# Background runs
worker:
  # Runs executing at once (default: 2)
  concurrency: {{ .Concurrency }}
  # Minimum time between runs for the same repository (default: 1m0s)
  min_interval: {{ .MinInterval }}
`

type configTemplateData struct {
	StateDir        string
	DBPath          string
	DefaultModel    string
	Model           string
	MaxRetries      int
	TestTimeout     string
	BranchPrefix    string
	StaleAfter      string
	MinLogicalLines int
	MinSeverity     float64
	MaxComplexity   int
	Port            int
	Concurrency     int
	MinInterval     string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:        viper.GetString("state_dir"),
		DBPath:          viper.GetString("db_path"),
		DefaultModel:    llm.DefaultModel,
		Model:           viper.GetString("anthropic.model"),
		MaxRetries:      viper.GetInt("run.max_retries"),
		TestTimeout:     viper.GetDuration("run.test_timeout").String(),
		BranchPrefix:    viper.GetString("run.branch_prefix"),
		StaleAfter:      viper.GetDuration("claims.stale_after").String(),
		MinLogicalLines: viper.GetInt("analyzers.min_logical_lines"),
		MinSeverity:     viper.GetFloat64("analyzers.min_severity"),
		MaxComplexity:   viper.GetInt("analyzers.max_complexity"),
		Port:            viper.GetInt("serve.port"),
		Concurrency:     viper.GetInt("worker.concurrency"),
		MinInterval:     viper.GetDuration("worker.min_interval").String(),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes. Secret
// values are masked by config show.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "DEBTHUNT_STATE_DIR"},
	{Key: "db_path", EnvVar: "DEBTHUNT_DB_PATH"},
	{Key: "anthropic.api_key", EnvVar: "DEBTHUNT_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "DEBTHUNT_ANTHROPIC_MODEL"},
	{Key: "run.max_retries", EnvVar: "DEBTHUNT_RUN_MAX_RETRIES"},
	{Key: "run.test_timeout", EnvVar: "DEBTHUNT_RUN_TEST_TIMEOUT"},
	{Key: "run.branch_prefix", EnvVar: "DEBTHUNT_RUN_BRANCH_PREFIX"},
	{Key: "claims.stale_after", EnvVar: "DEBTHUNT_CLAIMS_STALE_AFTER"},
	{Key: "analyzers.min_logical_lines", EnvVar: "DEBTHUNT_ANALYZERS_MIN_LOGICAL_LINES"},
	{Key: "analyzers.min_severity", EnvVar: "DEBTHUNT_ANALYZERS_MIN_SEVERITY"},
	{Key: "analyzers.max_complexity", EnvVar: "DEBTHUNT_ANALYZERS_MAX_COMPLEXITY"},
	{Key: "github.webhook_secret", EnvVar: "DEBTHUNT_GITHUB_WEBHOOK_SECRET", Secret: true},
	{Key: "serve.port", EnvVar: "DEBTHUNT_SERVE_PORT"},
	{Key: "worker.concurrency", EnvVar: "DEBTHUNT_WORKER_CONCURRENCY"},
	{Key: "worker.min_interval", EnvVar: "DEBTHUNT_WORKER_MIN_INTERVAL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-30s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret hides all but the last four characters of a secret.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'debthunt config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
