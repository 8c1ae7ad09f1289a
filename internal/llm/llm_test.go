package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/debthunt/internal/models"
)

const source = `import os


def load(path, mode):
    with open(path, mode) as fh:
        return fh.read()


def other():
    return 1
`

func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "io.py"), []byte(source), 0644))
	return dir
}

func finding() models.Finding {
	return models.Finding{
		FilePath:     "pkg/io.py",
		StartLine:    4,
		EndLine:      6,
		Kind:         models.DebtKindMissingTypes,
		Severity:     1,
		Description:  "Missing type hints (100% missing)",
		FunctionName: "load",
	}
}

func fakeClient(reply string, err error) (*Client, *[]string) {
	var prompts []string
	c := &Client{complete: func(_ context.Context, system, user string) (string, error) {
		prompts = append(prompts, system, user)
		return reply, err
	}}
	return c, &prompts
}

func TestBuildFixPrompt(t *testing.T) {
	f := finding()
	system, user := buildFixPrompt(f, "def load(path, mode): ...", "import os\n")

	assert.Contains(t, system, "type hints")
	assert.Contains(t, system, `"fixed_code"`)
	assert.Contains(t, system, `"summary"`)
	assert.Contains(t, user, "File: pkg/io.py")
	assert.Contains(t, user, "lines 4-6")
	assert.Contains(t, user, "Function: load")
	assert.Contains(t, user, "def load(path, mode): ...")
	assert.Contains(t, user, "Full file for context")
}

func TestBuildFixPrompt_PerKind(t *testing.T) {
	f := finding()
	f.Kind = models.DebtKindComplexity
	system, _ := buildFixPrompt(f, "x", "")
	assert.Contains(t, system, "cyclomatic complexity")

	f.Kind = models.DebtKindDuplicate
	system, user := buildFixPrompt(f, "x", "")
	assert.Contains(t, system, "duplicate")
	assert.NotContains(t, user, "Full file for context")
}

func TestBuildHealPrompt_TruncatesOutput(t *testing.T) {
	out := strings.Repeat("a", maxTestOutput) + "TAIL"
	_, user := buildHealPrompt(finding(), "def load(): pass", out)
	assert.Contains(t, user, "TAIL")
	assert.Contains(t, user, "Your previous refactoring")
	assert.Less(t, len(user), maxTestOutput+500)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1}  "))
}

func TestParseFixResponse(t *testing.T) {
	resp, err := parseFixResponse("```json\n{\"fixed_code\": \"def f() -> None:\\n    pass\\n\", \"summary\": \"typed\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "def f() -> None:\n    pass", resp.FixedCode)
	assert.Equal(t, "typed", resp.Summary)

	_, err = parseFixResponse(`{"summary": "nothing"}`)
	assert.Error(t, err)

	_, err = parseFixResponse("not json")
	assert.Error(t, err)
}

func TestExtractTarget(t *testing.T) {
	dir := workspace(t)
	code, err := ExtractTarget(dir, finding())
	require.NoError(t, err)
	assert.Equal(t, "def load(path, mode):\n    with open(path, mode) as fh:\n        return fh.read()", code)

	f := finding()
	f.EndLine = 400
	_, err = ExtractTarget(dir, f)
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	dir := workspace(t)
	fixed := "def load(path: str, mode: str) -> str:\n    with open(path, mode) as fh:\n        data = fh.read()\n    return data\n"

	end, err := Apply(dir, "pkg/io.py", 4, 6, fixed)
	require.NoError(t, err)
	assert.Equal(t, 7, end)

	data, err := os.ReadFile(filepath.Join(dir, "pkg", "io.py"))
	require.NoError(t, err)
	got := string(data)
	assert.True(t, strings.HasPrefix(got, "import os\n\n\ndef load(path: str, mode: str) -> str:\n"))
	assert.True(t, strings.HasSuffix(got, "def other():\n    return 1\n"), "trailing newline kept")

	// A second apply over the new span replaces the first fix.
	end, err = Apply(dir, "pkg/io.py", 4, end, "def load(path, mode):\n    return open(path, mode).read()")
	require.NoError(t, err)
	assert.Equal(t, 5, end)
	data, err = os.ReadFile(filepath.Join(dir, "pkg", "io.py"))
	require.NoError(t, err)
	assert.Equal(t, "import os\n\n\ndef load(path, mode):\n    return open(path, mode).read()\n\n\ndef other():\n    return 1\n", string(data))
}

func TestFix_Success(t *testing.T) {
	dir := workspace(t)
	c, prompts := fakeClient(`{"fixed_code": "def load(path: str, mode: str) -> str:\n    return ''", "summary": "Added hints"}`, nil)

	res, err := c.Fix(context.Background(), FixRequest{Workspace: dir, Finding: finding()})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.OriginalCode, "def load(path, mode):")
	assert.Equal(t, "Added hints", res.Summary)
	require.Len(t, *prompts, 2)
	assert.Contains(t, (*prompts)[1], "def load(path, mode):")
}

func TestFix_APIErrorIsFailedResult(t *testing.T) {
	dir := workspace(t)
	c, _ := fakeClient("", errors.New("rate limited"))

	res, err := c.Fix(context.Background(), FixRequest{Workspace: dir, Finding: finding()})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "rate limited", res.Error)
}

func TestFix_MissingFile(t *testing.T) {
	c, prompts := fakeClient("{}", nil)
	res, err := c.Fix(context.Background(), FixRequest{Workspace: t.TempDir(), Finding: finding()})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, *prompts, "no API call without source")
}

func TestSelfHeal(t *testing.T) {
	dir := workspace(t)
	c, prompts := fakeClient(`{"fixed_code": "def load(path, mode):\n    return 1", "summary": "Fixed return"}`, nil)

	res, err := c.SelfHeal(context.Background(), FixRequest{Workspace: dir, Finding: finding()}, "def load(): broken", "E   AssertionError")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Fixed return", res.Summary)
	assert.Empty(t, res.OriginalCode, "workspace holds the prior fix, not the original")
	assert.Contains(t, (*prompts)[1], "E   AssertionError")
	assert.Contains(t, (*prompts)[1], "def load(): broken")
}

func TestNewClient_DefaultModel(t *testing.T) {
	c := NewClient("test-key", "")
	assert.Equal(t, DefaultModel, string(c.model))
	assert.NotNil(t, c.complete)
}
