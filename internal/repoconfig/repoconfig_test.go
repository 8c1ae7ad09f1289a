package repoconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"complexity", "type_hints", "duplicates"}, cfg.Analyzers)
	assert.Equal(t, []string{"tests/", "migrations/"}, cfg.IgnorePaths)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Empty(t, cfg.TestCommand)
	assert.Equal(t, "defaults", cfg.Source)
}

func TestLoad_NoConfig(t *testing.T) {
	cfg, err := Load(t.TempDir(), Default())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, `
analyzers: [duplicates]
ignore_paths: ["vendor/", "*_pb2.py"]
test_command: "make test"
`)

	cfg, err := Load(dir, Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"duplicates"}, cfg.Analyzers)
	assert.Equal(t, []string{"vendor/", "*_pb2.py"}, cfg.IgnorePaths)
	assert.Equal(t, "make test", cfg.TestCommand)
	assert.Equal(t, 2, cfg.MaxRetries, "unset keys keep the base value")
	assert.Equal(t, FileName, cfg.Source)
}

func TestLoad_Pyproject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", `
[project]
name = "demo"

[tool.debthunt]
analyzers = ["complexity", "type_hints"]
max_retries = 4
`)

	cfg, err := Load(dir, Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"complexity", "type_hints"}, cfg.Analyzers)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, []string{"tests/", "migrations/"}, cfg.IgnorePaths)
	assert.Equal(t, "pyproject.toml", cfg.Source)
}

func TestLoad_PyprojectWithoutTable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", "[project]\nname = \"demo\"\n")

	cfg, err := Load(dir, Default())
	require.NoError(t, err)
	assert.Equal(t, "defaults", cfg.Source)
}

func TestLoad_YAMLWinsOverPyproject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "max_retries: 1\n")
	writeFile(t, dir, "pyproject.toml", "[tool.debthunt]\nmax_retries = 5\n")

	cfg, err := Load(dir, Default())
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxRetries)
}

func TestLoad_UnknownAnalyzer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "analyzers: [complexity, dead_code]\n")

	_, err := Load(dir, Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dead_code")
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "analyzers: [\n")

	_, err := Load(dir, Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestValidate_NegativeRetries(t *testing.T) {
	cfg := Default()
	cfg.MaxRetries = -1
	assert.Error(t, cfg.Validate())
}

func TestIgnored(t *testing.T) {
	cfg := Config{IgnorePaths: []string{"tests/", "migrations/", "*_pb2.py", "**/generated/*.py", "build"}}

	tests := []struct {
		path string
		want bool
	}{
		{"tests/test_app.py", true},
		{"pkg/tests/test_app.py", true},
		{"migrations/0001_initial.py", true},
		{"app/migrations/0002.py", true},
		{"app/models.py", false},
		{"contests/app.py", false},
		{"api/service_pb2.py", true},
		{"service_pb2.py", true},
		{"src/generated/models.py", true},
		{"generated/models.py", true},
		{"build/lib/x.py", true},
		{"rebuild.py", false},
		{"testsuite.py", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Ignored(tt.path))
		})
	}
}

func TestIgnored_Empty(t *testing.T) {
	cfg := Config{IgnorePaths: []string{""}}
	assert.False(t, cfg.Ignored("app.py"))
}
