package analyzers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/syntax"
)

// DuplicateAnalyzer finds functions whose bodies are structurally identical
// within one file.
type DuplicateAnalyzer struct {
	thresholds Thresholds
	log        *slog.Logger
}

// NewDuplicateAnalyzer returns a DuplicateAnalyzer.
func NewDuplicateAnalyzer(th Thresholds, logger *slog.Logger) *DuplicateAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuplicateAnalyzer{thresholds: th, log: logger}
}

func (a *DuplicateAnalyzer) Name() string { return NameDuplicates }

type dupBlock struct {
	fn    syntax.Function
	print Fingerprint
}

// Analyze parses content and runs AnalyzeTree.
func (a *DuplicateAnalyzer) Analyze(ctx context.Context, file string, content []byte) ([]models.Finding, error) {
	tree, err := parseFile(ctx, a.log, a.Name(), file, content)
	if err != nil || tree == nil {
		return nil, err
	}
	return a.AnalyzeTree(file, content, tree), nil
}

// AnalyzeTree reports one finding per member of every cluster of two or
// more functions sharing a fingerprint.
func (a *DuplicateAnalyzer) AnalyzeTree(file string, content []byte, tree *syntax.Tree) []models.Finding {
	lines := sourceLines(content)

	groups := make(map[string][]dupBlock)
	var order []string
	for _, fn := range tree.Functions() {
		if logicalSourceLines(lines, fn.StartLine, fn.EndLine) < a.thresholds.MinLogicalLines {
			continue
		}
		fp, err := Normalize(tree, fn)
		if err != nil {
			if !errors.Is(err, ErrTrivialBody) {
				a.log.Debug("skipping function", "file", file, "function", fn.Name, "error", err)
			}
			continue
		}
		if _, seen := groups[fp.Hash]; !seen {
			order = append(order, fp.Hash)
		}
		groups[fp.Hash] = append(groups[fp.Hash], dupBlock{fn: fn, print: fp})
	}

	var findings []models.Finding
	for _, hash := range order {
		group := groups[hash]
		if len(group) < 2 {
			continue
		}
		for i, b := range group {
			var others []string
			for j, o := range group {
				if i != j {
					others = append(others, fmt.Sprintf("%s (line %d)", qualified(o.fn), o.fn.StartLine))
				}
			}
			findings = append(findings, models.Finding{
				FilePath:     file,
				StartLine:    b.fn.StartLine,
				EndLine:      b.fn.EndLine,
				Kind:         models.DebtKindDuplicate,
				Severity:     DuplicateSeverity(b.print.Lines, len(group)),
				Description:  "Structural duplication found. Logic matches " + strings.Join(others, ", ") + ".",
				CodeSnippet:  snippet(lines, b.fn.StartLine, b.fn.EndLine),
				FunctionName: b.fn.Name,
				ClassName:    b.fn.ClassName,
				MetricValue:  float64(len(group)),
			})
		}
	}
	return findings
}

// DuplicateSeverity grows with body length and cluster size, capped at 1.
func DuplicateSeverity(normalizedLines, groupSize int) float64 {
	base := math.Min(1.0, float64(normalizedLines)/20)
	multiplier := 1.0 + 0.1*float64(groupSize-1)
	return math.Min(1.0, base*multiplier)
}

func qualified(fn syntax.Function) string {
	if fn.ClassName != "" {
		return fn.ClassName + "." + fn.Name
	}
	return fn.Name
}
