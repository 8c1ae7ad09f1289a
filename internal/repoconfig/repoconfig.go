// Package repoconfig loads the per-repository settings that control which
// analyzers run, which paths are skipped and how fixes are verified.
package repoconfig

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/debthunt/internal/analyzers"
)

// FileName is the repository-level config file.
const FileName = ".debthunt.yaml"

// DefaultMaxRetries is the number of self-heal attempts after a failed test run.
const DefaultMaxRetries = 2

// Config is the per-repository configuration.
type Config struct {
	Analyzers   []string `yaml:"analyzers" toml:"analyzers" json:"analyzers"`
	IgnorePaths []string `yaml:"ignore_paths" toml:"ignore_paths" json:"ignore_paths"`
	TestCommand string   `yaml:"test_command" toml:"test_command" json:"test_command,omitempty"`
	MaxRetries  int      `yaml:"max_retries" toml:"max_retries" json:"max_retries"`

	// Source records where the config came from: a file name or "defaults".
	Source string `yaml:"-" toml:"-" json:"source"`
}

// Default returns the configuration used when a repository has none.
func Default() Config {
	return Config{
		Analyzers:   analyzers.Names(),
		IgnorePaths: []string{"tests/", "migrations/"},
		MaxRetries:  DefaultMaxRetries,
		Source:      "defaults",
	}
}

type pyproject struct {
	Tool struct {
		Debthunt Config `toml:"debthunt"`
	} `toml:"tool"`
}

// Load reads the config for the repository at root. A .debthunt.yaml file
// wins over a [tool.debthunt] table in pyproject.toml; keys missing from
// either keep the values from base.
func Load(root string, base Config) (Config, error) {
	cfg := base
	data, err := os.ReadFile(filepath.Join(root, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", FileName, err)
		}
		cfg.Source = FileName
		return cfg, cfg.Validate()
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read %s: %w", FileName, err)
	}

	data, err = os.ReadFile(filepath.Join(root, "pyproject.toml"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("read pyproject.toml: %w", err)
	}

	var pp pyproject
	pp.Tool.Debthunt = cfg
	md, err := toml.Decode(string(data), &pp)
	if err != nil {
		return Config{}, fmt.Errorf("parse pyproject.toml: %w", err)
	}
	if md.IsDefined("tool", "debthunt") {
		cfg = pp.Tool.Debthunt
		cfg.Source = "pyproject.toml"
	}
	return cfg, cfg.Validate()
}

// Validate rejects unknown analyzers and negative retry bounds.
func (c Config) Validate() error {
	for _, name := range c.Analyzers {
		if !analyzers.IsKnown(name) {
			return fmt.Errorf("unknown analyzer %q in config (known: %s)", name, strings.Join(analyzers.Names(), ", "))
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// Ignored reports whether the slash-separated relative path matches any
// ignore pattern. Plain patterns match whole path components ("tests/"
// skips tests/a.py and pkg/tests/b.py); patterns with wildcards are globs
// tried against the full path and the base name, and a leading "**/"
// matches at any depth.
func (c Config) Ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range c.IgnorePaths {
		if pattern == "" {
			continue
		}
		if matchPattern(rel, filepath.ToSlash(pattern)) {
			return true
		}
	}
	return false
}

func matchPattern(rel, pattern string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		dir := strings.TrimSuffix(pattern, "/")
		return rel == dir ||
			strings.HasPrefix(rel, dir+"/") ||
			strings.Contains(rel, "/"+dir+"/") ||
			(!strings.HasSuffix(pattern, "/") && strings.HasSuffix(rel, "/"+dir))
	}

	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		parts := strings.Split(rel, "/")
		for i := range parts {
			if matchPattern(strings.Join(parts[i:], "/"), rest) {
				return true
			}
		}
		return false
	}
	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		return matchPattern(rel, dir+"/")
	}

	if ok, _ := path.Match(pattern, rel); ok {
		return true
	}
	if ok, _ := path.Match(pattern, path.Base(rel)); ok {
		return true
	}
	// A glob naming a directory ("build*/") skips everything below it.
	if dir, ok := strings.CutSuffix(pattern, "/"); ok {
		parts := strings.Split(rel, "/")
		for _, p := range parts[:len(parts)-1] {
			if m, _ := path.Match(dir, p); m {
				return true
			}
		}
	}
	return false
}
