// Package scoring evaluates models trained on feature datasets and ranks
// features by how much AUC drops when each one is withheld.
package scoring

import (
	"errors"
	"fmt"
	"sort"
)

// Scoring errors.
var (
	ErrLengthMismatch = errors.New("labels and scores differ in length")
	ErrSingleClass    = errors.New("roc auc needs both classes")
	ErrInvalidLabel   = errors.New("label must be 0 or 1")
)

// ROCAUC returns the area under the ROC curve, treating label 1 as positive.
// Tied scores share their average rank, which matches the trapezoidal curve.
func ROCAUC(labels, scores []float64) (float64, error) {
	if len(labels) != len(scores) {
		return 0, fmt.Errorf("%w: %d labels, %d scores", ErrLengthMismatch, len(labels), len(scores))
	}

	var pos, neg int
	for i, l := range labels {
		switch l {
		case 1:
			pos++
		case 0:
			neg++
		default:
			return 0, fmt.Errorf("%w: row %d has %v", ErrInvalidLabel, i, l)
		}
	}
	if pos == 0 || neg == 0 {
		return 0, ErrSingleClass
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	// Sum of positive ranks, ranks 1-based, ties averaged.
	var rankSum float64
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && scores[order[j]] == scores[order[i]] {
			j++
		}
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if labels[order[k]] == 1 {
				rankSum += avgRank
			}
		}
		i = j
	}

	p, n := float64(pos), float64(neg)
	return (rankSum - p*(p+1)/2) / (p * n), nil
}
