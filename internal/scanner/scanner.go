// Package scanner walks a repository and runs the configured analyzers over
// every Python source file.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/joescharf/debthunt/internal/analyzers"
	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/repoconfig"
	"github.com/joescharf/debthunt/internal/syntax"
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"__pycache__":   true,
	"venv":          true,
	"node_modules":  true,
	"site-packages": true,
}

// Scanner composes analyzers and aggregates their findings.
type Scanner struct {
	config    repoconfig.Config
	analyzers []analyzers.Analyzer
	log       *slog.Logger
}

// Option configures a Scanner.
type Option func(*options)

type options struct {
	thresholds analyzers.Thresholds
	logger     *slog.Logger
	analyzers  []analyzers.Analyzer
}

// WithThresholds overrides the analyzer thresholds.
func WithThresholds(th analyzers.Thresholds) Option {
	return func(o *options) { o.thresholds = th }
}

// WithLogger sets the logger used for warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAnalyzers replaces the analyzers built from the config.
func WithAnalyzers(a ...analyzers.Analyzer) Option {
	return func(o *options) { o.analyzers = a }
}

// New builds a Scanner for the analyzers enabled in cfg.
func New(cfg repoconfig.Config, opts ...Option) (*Scanner, error) {
	o := options{thresholds: analyzers.DefaultThresholds(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	list := o.analyzers
	if list == nil {
		built, err := analyzers.Build(cfg.Analyzers, o.thresholds, o.logger)
		if err != nil {
			return nil, err
		}
		list = built
	}
	return &Scanner{config: cfg, analyzers: list, log: o.logger}, nil
}

// AnalyzerNames returns the names of the active analyzers in run order.
func (s *Scanner) AnalyzerNames() []string {
	names := make([]string, len(s.analyzers))
	for i, a := range s.analyzers {
		names[i] = a.Name()
	}
	return names
}

// Report is the result of a scan.
type Report struct {
	// Files is the number of source files analyzed.
	Files    int              `json:"files"`
	Findings []models.Finding `json:"findings"`
}

// Scan analyzes every eligible file under root and returns the findings
// ranked by severity. File paths in findings are relative to root.
func (s *Scanner) Scan(ctx context.Context, root string) ([]models.Finding, error) {
	r, err := s.Report(ctx, root)
	if err != nil {
		return nil, err
	}
	return r.Findings, nil
}

// Report is Scan plus the count of files analyzed.
func (s *Scanner) Report(ctx context.Context, root string) (*Report, error) {
	files, err := s.sourceFiles(root)
	if err != nil {
		return nil, err
	}
	if !syntax.Available() {
		s.log.Warn("python parser unavailable in this build; no findings will be reported")
	}

	var findings []models.Finding
	analyzed := 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, ok := s.readSource(root, rel)
		if !ok {
			continue
		}
		analyzed++
		tree, malformed := s.parse(ctx, rel, content)
		for _, a := range s.analyzers {
			if _, ok := a.(analyzers.TreeAnalyzer); ok && malformed {
				continue
			}
			findings = append(findings, s.runAnalyzer(ctx, a, rel, content, tree)...)
		}
	}

	analyzers.SortBySeverity(findings)
	return &Report{Files: analyzed, Findings: findings}, nil
}

// sourceFiles lists the slash-separated relative paths of *.py files under
// root that survive the directory skips and ignore filters.
func (s *Scanner) sourceFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.log.Warn("failed to walk path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || skipDirs[name] || s.config.Ignored(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || filepath.Ext(path) != ".py" {
			return nil
		}
		if s.config.Ignored(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func (s *Scanner) readSource(root, rel string) ([]byte, bool) {
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		s.log.Warn("failed to read file", "file", rel, "error", err)
		return nil, false
	}
	if !utf8.Valid(content) {
		s.log.Warn("skipping file with invalid UTF-8", "file", rel)
		return nil, false
	}
	return content, true
}

// parse parses content once for the tree analyzers. It reports malformed
// when the file has syntax errors; that is logged here and the tree
// analyzers skip the file. A nil tree otherwise leaves each analyzer to
// parse on its own.
func (s *Scanner) parse(ctx context.Context, rel string, content []byte) (tree *syntax.Tree, malformed bool) {
	if !syntax.Available() || !s.hasTreeAnalyzer() {
		return nil, false
	}
	tree, err := syntax.Parse(ctx, content)
	if err != nil {
		var se *syntax.SyntaxError
		if errors.As(err, &se) {
			s.log.Warn("failed to parse file", "file", rel, "error", err)
			return nil, true
		}
		return nil, false
	}
	return tree, false
}

func (s *Scanner) hasTreeAnalyzer() bool {
	for _, a := range s.analyzers {
		if _, ok := a.(analyzers.TreeAnalyzer); ok {
			return true
		}
	}
	return false
}

// runAnalyzer isolates one analyzer on one file: errors and panics are
// logged and yield no findings. A tree analyzer reuses tree when given one.
func (s *Scanner) runAnalyzer(ctx context.Context, a analyzers.Analyzer, rel string, content []byte, tree *syntax.Tree) (out []models.Finding) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("analyzer panicked", "analyzer", a.Name(), "file", rel, "panic", r)
			out = nil
		}
	}()

	if ta, ok := a.(analyzers.TreeAnalyzer); ok && tree != nil {
		return ta.AnalyzeTree(rel, content, tree)
	}
	found, err := a.Analyze(ctx, rel, content)
	if err != nil {
		s.log.Error("analyzer failed", "analyzer", a.Name(), "file", rel, "error", err)
		return nil
	}
	return found
}
