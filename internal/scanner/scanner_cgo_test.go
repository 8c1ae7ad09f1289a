//go:build cgo

package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/debthunt/internal/analyzers"
	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/repoconfig"
	"github.com/joescharf/debthunt/internal/syntax"
)

const duplicated = `def total_price(items, tax):
    subtotal = sum(items)
    return subtotal + subtotal * tax


def sum_with_rate(values, rate):
    base = sum(values)
    return base + base * rate
`

const untyped = `def load(path, mode, retries):
    return open(path, mode)
`

func TestScan_RealAnalyzers(t *testing.T) {
	root := writeTree(t, map[string]string{
		"billing.py":       duplicated,
		"io_utils.py":      untyped,
		"tests/test_io.py": untyped,
		"broken.py":        "def oops(:\n",
	})

	s, err := New(repoconfig.Default())
	require.NoError(t, err)

	findings, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	var dup, types int
	for _, f := range findings {
		assert.NotEqual(t, "tests/test_io.py", f.FilePath)
		switch f.Kind {
		case models.DebtKindDuplicate:
			dup++
		case models.DebtKindMissingTypes:
			types++
		}
	}
	assert.Equal(t, 2, dup)
	assert.GreaterOrEqual(t, types, 1)

	for i := 1; i < len(findings); i++ {
		assert.GreaterOrEqual(t, findings[i-1].Severity, findings[i].Severity)
	}
}

// treeRecorder counts how it was invoked and which trees it saw.
type treeRecorder struct {
	name     string
	analyzed int
	trees    []*syntax.Tree
}

func (r *treeRecorder) Name() string { return r.name }

func (r *treeRecorder) Analyze(context.Context, string, []byte) ([]models.Finding, error) {
	r.analyzed++
	return nil, nil
}

func (r *treeRecorder) AnalyzeTree(_ string, _ []byte, tree *syntax.Tree) []models.Finding {
	r.trees = append(r.trees, tree)
	return nil
}

var _ analyzers.TreeAnalyzer = (*treeRecorder)(nil)

func TestScan_ParsesEachFileOnce(t *testing.T) {
	root := writeTree(t, map[string]string{
		"billing.py": duplicated,
		"broken.py":  "def oops(:\n",
	})
	first := &treeRecorder{name: "first"}
	second := &treeRecorder{name: "second"}
	plain := &fakeAnalyzer{name: "plain"}

	s, err := New(noIgnores(), WithAnalyzers(first, second, plain))
	require.NoError(t, err)
	_, err = s.Scan(context.Background(), root)
	require.NoError(t, err)

	// broken.py is skipped by tree analyzers; billing.py is parsed once.
	require.Len(t, first.trees, 1)
	require.Len(t, second.trees, 1)
	assert.Same(t, first.trees[0], second.trees[0])
	assert.Zero(t, first.analyzed)
	assert.Zero(t, second.analyzed)
	assert.Len(t, plain.seen, 2, "plain analyzers still see malformed files")
}
