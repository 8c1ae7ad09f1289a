// Package analyzers detects tech debt in Python source files.
package analyzers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/syntax"
)

// Analyzer inspects one file and reports findings.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, file string, content []byte) ([]models.Finding, error)
}

// TreeAnalyzer is an Analyzer that can work from a tree the caller already
// parsed, so one parse serves every analyzer of a file.
type TreeAnalyzer interface {
	Analyzer
	AnalyzeTree(file string, content []byte, tree *syntax.Tree) []models.Finding
}

// Analyzer names accepted in configuration.
const (
	NameComplexity = "complexity"
	NameTypeHints  = "type_hints"
	NameDuplicates = "duplicates"
)

// Thresholds holds the noise floors and limits shared by the analyzers.
type Thresholds struct {
	// MinLogicalLines is the smallest function (non-blank, non-comment
	// source lines, def line included) considered for duplication.
	MinLogicalLines int
	// MinSeverity drops type-hint findings below this severity.
	MinSeverity float64
	// MaxComplexity is the cyclomatic complexity a function may reach
	// before it is reported.
	MaxComplexity int
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinLogicalLines: 3,
		MinSeverity:     0.3,
		MaxComplexity:   10,
	}
}

type constructor func(Thresholds, *slog.Logger) Analyzer

// registry is the closed set of analyzers, in run order.
var registry = []struct {
	name string
	new  constructor
}{
	{NameComplexity, func(th Thresholds, l *slog.Logger) Analyzer { return NewComplexityAnalyzer(th, l) }},
	{NameTypeHints, func(th Thresholds, l *slog.Logger) Analyzer { return NewTypeHintAnalyzer(th, l) }},
	{NameDuplicates, func(th Thresholds, l *slog.Logger) Analyzer { return NewDuplicateAnalyzer(th, l) }},
}

// Names returns every known analyzer name in run order.
func Names() []string {
	names := make([]string, len(registry))
	for i, r := range registry {
		names[i] = r.name
	}
	return names
}

// IsKnown reports whether name is a registered analyzer.
func IsKnown(name string) bool {
	for _, r := range registry {
		if r.name == name {
			return true
		}
	}
	return false
}

// Build constructs the named analyzers. The result follows registry order
// regardless of the order of names, and duplicates are ignored.
func Build(names []string, th Thresholds, logger *slog.Logger) ([]Analyzer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if !IsKnown(n) {
			return nil, fmt.Errorf("unknown analyzer: %s (known: %s)", n, strings.Join(Names(), ", "))
		}
		want[n] = true
	}

	var out []Analyzer
	for _, r := range registry {
		if want[r.name] {
			out = append(out, r.new(th, logger))
		}
	}
	return out, nil
}

var (
	_ TreeAnalyzer = (*ComplexityAnalyzer)(nil)
	_ TreeAnalyzer = (*TypeHintAnalyzer)(nil)
	_ TreeAnalyzer = (*DuplicateAnalyzer)(nil)
)

// parseFile parses content for an analyzer. Malformed source is not an
// error: it is logged and yields a nil tree.
func parseFile(ctx context.Context, logger *slog.Logger, analyzer, file string, content []byte) (*syntax.Tree, error) {
	tree, err := syntax.Parse(ctx, content)
	if err != nil {
		var se *syntax.SyntaxError
		if errors.As(err, &se) {
			logger.Warn("failed to parse file", "analyzer", analyzer, "file", file, "error", err)
			return nil, nil
		}
		return nil, err
	}
	return tree, nil
}

// sourceLines splits content into lines without trailing newlines.
func sourceLines(content []byte) []string {
	return strings.Split(string(content), "\n")
}

// snippet returns lines start..end (1-based, inclusive).
func snippet(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// logicalSourceLines counts non-blank, non-comment lines in start..end.
func logicalSourceLines(lines []string, start, end int) int {
	n := 0
	for _, line := range strings.Split(snippet(lines, start, end), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		n++
	}
	return n
}

// SortBySeverity orders findings by severity, highest first, keeping
// discovery order for ties.
func SortBySeverity(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity > findings[j].Severity
	})
}
