// Package verify runs a repository's own test suite against a fix.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// DefaultTimeout bounds a single test run.
const DefaultTimeout = 300 * time.Second

// installTimeout bounds dependency installation.
const installTimeout = 180 * time.Second

// NoCommandOutput is reported when no test command applies.
const NoCommandOutput = "No test command detected"

// Result is the outcome of one test run.
type Result struct {
	Passed   bool   `json:"passed"`
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// detector maps a marker file to the command it implies, in priority order.
var detectors = []struct {
	marker  string
	command string
}{
	{"pyproject.toml", "python -m pytest"},
	{"setup.py", "python -m pytest"},
	{"setup.cfg", "python -m pytest"},
	{"pytest.ini", "python -m pytest"},
	{"package.json", "npm test"},
	{"go.mod", "go test ./..."},
	{"Cargo.toml", "cargo test"},
}

// DetectCommand returns the override when set, otherwise the command
// implied by the first marker file found at the workspace root.
func DetectCommand(path, override string) (string, bool) {
	if override != "" {
		return override, true
	}
	for _, d := range detectors {
		if _, err := os.Stat(filepath.Join(path, d.marker)); err == nil {
			return d.command, true
		}
	}
	return "", false
}

// DetectLanguage names the primary ecosystem of a workspace.
func DetectLanguage(path string) string {
	markers := []struct{ file, lang string }{
		{"pyproject.toml", "python"},
		{"setup.py", "python"},
		{"requirements.txt", "python"},
		{"go.mod", "go"},
		{"package.json", "javascript"},
		{"Cargo.toml", "rust"},
	}
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(path, m.file)); err == nil {
			return m.lang
		}
	}
	return ""
}

// Harness runs tests in a workspace.
type Harness struct {
	Timeout time.Duration
	Log     *slog.Logger
	// Shell runs command strings; defaults to "sh -c".
	Shell []string
}

// NewHarness returns a Harness with the given timeout (DefaultTimeout if 0).
func NewHarness(timeout time.Duration, logger *slog.Logger) *Harness {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{Timeout: timeout, Log: logger, Shell: []string{"sh", "-c"}}
}

// Verify detects the test command and runs it. A workspace with no
// detectable command passes.
func (h *Harness) Verify(ctx context.Context, path, override string) Result {
	command, ok := DetectCommand(path, override)
	if !ok {
		h.Log.Warn("no test command available, assuming pass", "path", path)
		return Result{Passed: true, Output: NoCommandOutput}
	}
	return h.Run(ctx, command, path, h.Timeout)
}

// Run executes command in path. Output is stdout followed by stderr. A
// timeout is a failed result with exit code -1, never an error.
func (h *Harness) Run(ctx context.Context, command, path string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = h.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := h.Shell
	if len(shell) == 0 {
		shell = []string{"sh", "-c"}
	}
	args := append(append([]string{}, shell[1:]...), command)
	cmd := exec.CommandContext(ctx, shell[0], args...)
	cmd.Dir = path
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	h.Log.Info("running tests", "command", command, "path", path)
	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		h.Log.Warn("test command timed out", "command", command, "timeout", timeout)
		return Result{
			Output:   fmt.Sprintf("Test command timed out after %ds", int(timeout.Seconds())),
			ExitCode: -1,
		}
	}

	output := stdout.String() + stderr.String()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			h.Log.Warn("tests failed", "exit_code", code)
			return Result{Output: output, ExitCode: code}
		}
		return Result{Output: err.Error(), ExitCode: -1}
	}

	h.Log.Info("tests passed")
	return Result{Passed: true, Output: output}
}

// InstallDependencies installs requirements.txt when present. Failure is
// logged and reported, never fatal to a run.
func (h *Harness) InstallDependencies(ctx context.Context, path string) bool {
	reqs := filepath.Join(path, "requirements.txt")
	if _, err := os.Stat(reqs); err != nil {
		h.Log.Debug("no requirements.txt, skipping dependency installation")
		return true
	}
	res := h.Run(ctx, "pip install -q -r requirements.txt", path, installTimeout)
	if !res.Passed {
		h.Log.Warn("failed to install dependencies", "output", res.Output)
		return false
	}
	return true
}
