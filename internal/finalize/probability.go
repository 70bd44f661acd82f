package finalize

import (
	"fmt"
	"math"

	"github.com/ukpostal/refbuild/internal/errors"
	"github.com/ukpostal/refbuild/internal/model"
)

// scaledProbabilities implements §4.7 steps 3-6: real-valued division,
// round-half-up to 4 decimals (as an integer numerator out of 10000),
// then a residual correction on the rank-1 entry so the scaled values
// sum to exactly 10000 (i.e. probability 1.0000). weightedScores must
// already be in rank order (raw_probability DESC, conf_rank DESC,
// canonical_street_name ASC, usrn ASC NULLS LAST); the residual always
// lands on index 0.
func scaledProbabilities(weightedScores []float64) ([]int64, error) {
	var total float64
	for _, w := range weightedScores {
		total += w
	}
	if total <= 0 {
		return nil, errors.Build("total_weight must be strictly positive, got %v", total)
	}
	scaled := make([]int64, len(weightedScores))
	var sum int64
	for i, w := range weightedScores {
		s := int64(math.Round((w / total) * 10000))
		scaled[i] = s
		sum += s
	}
	scaled[0] += 10000 - sum
	return scaled, nil
}

// scaleFixed4 rounds a non-negative real number half-up to a 4-decimal
// integer numerator out of 10000, for values with no sum-to-one
// constraint (frequency_score).
func scaleFixed4(x float64) int64 {
	return int64(math.Round(x * 10000))
}

// formatFixed4 renders a 4-decimal scaled integer (e.g. from
// scaledProbabilities or scaleFixed4) as a "D.DDDD" decimal literal
// suitable for binding directly against a numeric column, avoiding any
// float round-trip through the driver.
func formatFixed4(scaled int64) string {
	return fmt.Sprintf("%d.%04d", scaled/10000, scaled%10000)
}

// confidenceFromRank maps §4.7's conf_rank aggregate back to the
// three-level confidence tag.
func confidenceFromRank(rank int) model.Confidence {
	switch rank {
	case 3:
		return model.ConfidenceHigh
	case 2:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
