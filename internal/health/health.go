// Package health turns scan findings into a 0-100 debt score.
package health

import (
	"github.com/joescharf/debthunt/internal/models"
)

// DebtScore represents the computed debt health of a repository. Higher is
// healthier.
type DebtScore struct {
	Total       int                     `json:"total"`
	Grade       string                  `json:"grade"`
	Duplication int                     `json:"duplication"` // 0-35
	Typing      int                     `json:"typing"`      // 0-30
	Complexity  int                     `json:"complexity"`  // 0-35
	Files       int                     `json:"files"`
	Findings    int                     `json:"findings"`
	ByKind      map[models.DebtKind]int `json:"by_kind"`
}

// Scorer computes debt scores.
type Scorer struct{}

// NewScorer returns a new health Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// maxPoints per debt kind; they sum to 100.
var maxPoints = map[models.DebtKind]int{
	models.DebtKindDuplicate:    35,
	models.DebtKindMissingTypes: 30,
	models.DebtKindComplexity:   35,
}

// Score computes a debt score over files analyzed source files.
func (s *Scorer) Score(findings []models.Finding, files int) *DebtScore {
	h := &DebtScore{
		Files:    files,
		Findings: len(findings),
		ByKind:   make(map[models.DebtKind]int),
	}

	weight := make(map[models.DebtKind]float64)
	for _, f := range findings {
		h.ByKind[f.Kind]++
		weight[f.Kind] += f.Severity
	}

	if files < 1 {
		files = 1
	}
	h.Duplication = scoreDensity(weight[models.DebtKindDuplicate]/float64(files), maxPoints[models.DebtKindDuplicate])
	h.Typing = scoreDensity(weight[models.DebtKindMissingTypes]/float64(files), maxPoints[models.DebtKindMissingTypes])
	h.Complexity = scoreDensity(weight[models.DebtKindComplexity]/float64(files), maxPoints[models.DebtKindComplexity])

	h.Total = h.Duplication + h.Typing + h.Complexity
	h.Grade = grade(h.Total)
	return h
}

// scoreDensity converts severity-weighted findings per file to points.
func scoreDensity(density float64, maxPoints int) int {
	switch {
	case density <= 0:
		return maxPoints
	case density <= 0.1:
		return int(float64(maxPoints) * 0.9)
	case density <= 0.25:
		return int(float64(maxPoints) * 0.75)
	case density <= 0.5:
		return int(float64(maxPoints) * 0.6)
	case density <= 1:
		return int(float64(maxPoints) * 0.4)
	case density <= 2:
		return int(float64(maxPoints) * 0.2)
	default:
		return int(float64(maxPoints) * 0.1)
	}
}

func grade(total int) string {
	switch {
	case total >= 90:
		return "A"
	case total >= 75:
		return "B"
	case total >= 60:
		return "C"
	case total >= 40:
		return "D"
	default:
		return "F"
	}
}
