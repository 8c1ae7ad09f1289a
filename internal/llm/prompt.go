package llm

import (
	"fmt"
	"strings"

	"github.com/joescharf/debthunt/internal/models"
)

const responseRules = `Return ONLY a JSON object with exactly two fields:
- "fixed_code": the complete replacement for the code you were given. It replaces those lines verbatim, so keep the same indentation level, keep any decorators, and keep the function name and call signature compatible with existing callers.
- "summary": 1-3 sentences describing what you changed and why behavior is preserved.

Rules:
- Do not change behavior; the repository's existing tests must keep passing
- Do not add imports unless they are from the standard library and you include them inside the function body
- Return valid JSON only, no markdown fencing or explanation`

var kindGuidance = map[models.DebtKind]string{
	models.DebtKindDuplicate:    `The function is a structural duplicate of other functions in the repository. Simplify it so the duplicated logic is clearer and easier to consolidate: name intermediate values well, remove redundancy, and where the other copies are in the same file, you may delegate to one of them instead of repeating the logic.`,
	models.DebtKindMissingTypes: `The function is missing type annotations. Add precise PEP 484 type hints to every parameter and the return type. Prefer built-in generics (list[str], dict[str, int]) and "X | None" over typing.Optional. Do not change the body except where annotations require it.`,
	models.DebtKindComplexity:   `The function's cyclomatic complexity is too high. Reduce branching with guard clauses and early returns, flatten nested conditionals, and replace long if/elif chains with lookups where it keeps the logic obvious. Nested helper functions are allowed.`,
}

// buildFixPrompt constructs the system and user prompts for a first fix.
func buildFixPrompt(f models.Finding, code, fileContent string) (system string, user string) {
	guidance, ok := kindGuidance[f.Kind]
	if !ok {
		guidance = "Refactor the code to remove the reported tech debt."
	}
	system = "You are a senior Python engineer refactoring tech debt in a production codebase.\n\n" +
		guidance + "\n\n" + responseRules

	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\n", f.FilePath)
	fmt.Fprintf(&sb, "Location: lines %d-%d\n", f.StartLine, f.EndLine)
	if name := f.QualifiedName(); name != "" {
		fmt.Fprintf(&sb, "Function: %s\n", name)
	}
	fmt.Fprintf(&sb, "Issue: %s (severity %.2f)\n", f.Description, f.Severity)
	sb.WriteString("\nCode to refactor:\n")
	sb.WriteString(code)
	sb.WriteString("\n")
	if fileContent != "" {
		sb.WriteString("\nFull file for context (do not return it):\n")
		sb.WriteString(fileContent)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// buildHealPrompt constructs the prompts for a retry after failing tests.
func buildHealPrompt(f models.Finding, priorCode, testOutput string) (system string, user string) {
	system = "You are a senior Python engineer. A refactoring you proposed broke the test suite. " +
		"Fix the refactored code so the tests pass again while still addressing the original issue.\n\n" +
		responseRules

	if len(testOutput) > maxTestOutput {
		testOutput = "...\n" + testOutput[len(testOutput)-maxTestOutput:]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\n", f.FilePath)
	fmt.Fprintf(&sb, "Original issue: %s\n", f.Description)
	if f.CodeSnippet != "" {
		sb.WriteString("\nOriginal code:\n")
		sb.WriteString(f.CodeSnippet)
		sb.WriteString("\n")
	}
	sb.WriteString("\nYour previous refactoring:\n")
	sb.WriteString(priorCode)
	sb.WriteString("\n\nTest failure output:\n")
	sb.WriteString(testOutput)
	sb.WriteString("\n")
	user = sb.String()
	return
}
