package models

import "fmt"

// DebtKind identifies the analyzer that produced a finding.
type DebtKind string

const (
	DebtKindDuplicate    DebtKind = "duplicate"
	DebtKindMissingTypes DebtKind = "missing_types"
	DebtKindComplexity   DebtKind = "complexity"
)

// Finding is one detected instance of tech debt. Findings are produced fresh
// on every scan and only ever referenced by a Claim.
type Finding struct {
	FilePath     string   `json:"file_path"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
	Kind         DebtKind `json:"kind"`
	Severity     float64  `json:"severity"`
	Description  string   `json:"description"`
	CodeSnippet  string   `json:"code_snippet,omitempty"`
	FunctionName string   `json:"function_name,omitempty"`
	ClassName    string   `json:"class_name,omitempty"`
	MetricValue  float64  `json:"metric_value"`
}

// Location renders the finding as path:start-end.
func (f Finding) Location() string {
	return fmt.Sprintf("%s:%d-%d", f.FilePath, f.StartLine, f.EndLine)
}

// QualifiedName returns Class.function, the bare function name, or "".
func (f Finding) QualifiedName() string {
	if f.ClassName != "" && f.FunctionName != "" {
		return f.ClassName + "." + f.FunctionName
	}
	return f.FunctionName
}

func (f Finding) String() string {
	return fmt.Sprintf("%s at %s (severity: %.2f)", f.Kind, f.Location(), f.Severity)
}
