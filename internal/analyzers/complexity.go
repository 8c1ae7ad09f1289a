package analyzers

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/syntax"
)

// decisionNodes contribute one path each to cyclomatic complexity.
var decisionNodes = map[string]bool{
	"if_statement":             true,
	"elif_clause":              true,
	"for_statement":            true,
	"while_statement":          true,
	"except_clause":            true,
	"with_statement":           true,
	"boolean_operator":         true,
	"conditional_expression":   true,
	"list_comprehension":       true,
	"dictionary_comprehension": true,
	"set_comprehension":        true,
	"generator_expression":     true,
	"case_clause":              true,
}

// ComplexityAnalyzer reports functions whose cyclomatic complexity exceeds
// the configured maximum.
type ComplexityAnalyzer struct {
	thresholds Thresholds
	log        *slog.Logger
}

// NewComplexityAnalyzer returns a ComplexityAnalyzer.
func NewComplexityAnalyzer(th Thresholds, logger *slog.Logger) *ComplexityAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComplexityAnalyzer{thresholds: th, log: logger}
}

func (a *ComplexityAnalyzer) Name() string { return NameComplexity }

// Analyze parses content and runs AnalyzeTree.
func (a *ComplexityAnalyzer) Analyze(ctx context.Context, file string, content []byte) ([]models.Finding, error) {
	tree, err := parseFile(ctx, a.log, a.Name(), file, content)
	if err != nil || tree == nil {
		return nil, err
	}
	return a.AnalyzeTree(file, content, tree), nil
}

// AnalyzeTree reports every function of tree above MaxComplexity.
func (a *ComplexityAnalyzer) AnalyzeTree(file string, content []byte, tree *syntax.Tree) []models.Finding {
	lines := sourceLines(content)

	var findings []models.Finding
	for _, fn := range tree.Functions() {
		c := CyclomaticComplexity(fn)
		if c <= a.thresholds.MaxComplexity {
			continue
		}
		findings = append(findings, models.Finding{
			FilePath:     file,
			StartLine:    fn.StartLine,
			EndLine:      fn.EndLine,
			Kind:         models.DebtKindComplexity,
			Severity:     ComplexitySeverity(c, a.thresholds.MaxComplexity),
			Description:  fmt.Sprintf("Cyclomatic complexity of %d exceeds threshold of %d", c, a.thresholds.MaxComplexity),
			CodeSnippet:  snippet(lines, fn.StartLine, fn.EndLine),
			FunctionName: fn.Name,
			ClassName:    fn.ClassName,
			MetricValue:  float64(c),
		})
	}
	return findings
}

// CyclomaticComplexity is 1 plus the decision points in fn's body. Nested
// functions and lambdas are scored on their own and not counted here.
func CyclomaticComplexity(fn syntax.Function) int {
	complexity := 1
	body := fn.Body()
	if body == nil {
		return complexity
	}
	syntax.Walk(body, func(n *syntax.Node) bool {
		if n.Type == "function_definition" || n.Type == "lambda" {
			return false
		}
		if decisionNodes[n.Type] {
			complexity++
		}
		return true
	})
	return complexity
}

// ComplexitySeverity starts at 0.3 just past the threshold and reaches 1.0
// at roughly three times the threshold.
func ComplexitySeverity(complexity, limit int) float64 {
	if limit <= 0 {
		limit = 1
	}
	over := float64(complexity - limit)
	return math.Min(1.0, over/float64(2*limit)+0.3)
}
