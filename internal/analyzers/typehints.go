package analyzers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/syntax"
)

// TypeHintAnalyzer scores functions by the share of missing annotations.
type TypeHintAnalyzer struct {
	thresholds Thresholds
	log        *slog.Logger
}

// NewTypeHintAnalyzer returns a TypeHintAnalyzer.
func NewTypeHintAnalyzer(th Thresholds, logger *slog.Logger) *TypeHintAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TypeHintAnalyzer{thresholds: th, log: logger}
}

func (a *TypeHintAnalyzer) Name() string { return NameTypeHints }

// Coverage is the annotation tally for one function.
type Coverage struct {
	Params        int
	MissingParams int
	HasReturn     bool
}

// Total counts the return type as one extra unit.
func (c Coverage) Total() int { return c.Params + 1 }

// Missing counts unannotated parameters plus a missing return type.
func (c Coverage) Missing() int {
	m := c.MissingParams
	if !c.HasReturn {
		m++
	}
	return m
}

// Ratio is Missing/Total.
func (c Coverage) Ratio() float64 {
	return float64(c.Missing()) / float64(c.Total())
}

// Analyze parses content and runs AnalyzeTree.
func (a *TypeHintAnalyzer) Analyze(ctx context.Context, file string, content []byte) ([]models.Finding, error) {
	tree, err := parseFile(ctx, a.log, a.Name(), file, content)
	if err != nil || tree == nil {
		return nil, err
	}
	return a.AnalyzeTree(file, content, tree), nil
}

// AnalyzeTree reports functions whose adjusted severity reaches MinSeverity.
func (a *TypeHintAnalyzer) AnalyzeTree(file string, content []byte, tree *syntax.Tree) []models.Finding {
	lines := sourceLines(content)

	var findings []models.Finding
	for _, fn := range tree.Functions() {
		cov := MeasureCoverage(tree, fn)
		if cov.Missing() == 0 {
			continue
		}
		severity := TypeHintSeverity(cov.Ratio(), fn.Name, fn.ClassName)
		if severity < a.thresholds.MinSeverity {
			continue
		}
		findings = append(findings, models.Finding{
			FilePath:     file,
			StartLine:    fn.StartLine,
			EndLine:      fn.EndLine,
			Kind:         models.DebtKindMissingTypes,
			Severity:     severity,
			Description:  fmt.Sprintf("Missing type hints (%d%% missing)", int(cov.Ratio()*100)),
			CodeSnippet:  snippet(lines, fn.StartLine, fn.EndLine),
			FunctionName: fn.Name,
			ClassName:    fn.ClassName,
			MetricValue:  float64(cov.Missing()),
		})
	}
	return findings
}

// MeasureCoverage counts positional and keyword-only parameters, skipping
// self/cls receivers and *args/**kwargs.
func MeasureCoverage(tree *syntax.Tree, fn syntax.Function) Coverage {
	var cov Coverage
	if params := fn.Params(); params != nil {
		for _, p := range params.NamedChildren() {
			if isSplat(p) {
				continue
			}
			id := paramIdentifier(p)
			if id == nil {
				continue
			}
			name := tree.Text(id)
			if name == "self" || name == "cls" {
				continue
			}
			cov.Params++
			if p.Type != "typed_parameter" && p.Type != "typed_default_parameter" {
				cov.MissingParams++
			}
		}
	}
	cov.HasReturn = fn.Node.ChildByField("return_type") != nil
	return cov
}

func isSplat(p *syntax.Node) bool {
	switch p.Type {
	case "list_splat_pattern", "dictionary_splat_pattern":
		return true
	case "typed_parameter":
		for _, c := range p.NamedChildren() {
			if c.Type == "list_splat_pattern" || c.Type == "dictionary_splat_pattern" {
				return true
			}
		}
	}
	return false
}

// TypeHintSeverity adjusts the missing ratio: private names are halved,
// public module-level functions weigh 1.2x, and the result is capped at 1.
func TypeHintSeverity(ratio float64, name, className string) float64 {
	severity := ratio
	if strings.HasPrefix(name, "_") && !strings.HasPrefix(name, "__") {
		severity *= 0.5
	}
	if className == "" && !strings.HasPrefix(name, "_") {
		severity *= 1.2
	}
	return math.Min(1.0, severity)
}
