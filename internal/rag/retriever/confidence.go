package retriever

import "github.com/mohammad-safakhou/bookrag/models"

// Confidence derives a scalar in [0,1] from the ranked result set: the
// arithmetic mean of raw similarity scores, clamped. This is a crude
// proxy with no calibration against the score distribution; callers must
// not treat it as a probability. Scores from providers with different
// embedding ranges are not comparable.
func Confidence(results []models.RetrievedResult) float64 {
	if len(results) == 0 {
		return 0.0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	mean := sum / float64(len(results))
	if mean < 0 {
		return 0.0
	}
	if mean > 1 {
		return 1.0
	}
	return mean
}
