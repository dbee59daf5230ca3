// Package eval scores a ranked result list against a relevant set.
package eval

import "github.com/patrikhermansson/cbir/core"

// Metrics is the outcome of scoring one query.
type Metrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Retrieved int     `json:"retrieved"` // distinct identifiers returned
	Relevant  int     `json:"relevant"`  // distinct identifiers in the relevant set
	Hits      int     `json:"hits"`      // returned identifiers that are relevant
}

// Score computes precision = hits/retrieved and recall = hits/relevant.
// A zero denominator yields 0; scoring never fails.
func Score(results []core.Neighbor, relevant []string) Metrics {
	rel := make(map[string]struct{}, len(relevant))
	for _, id := range relevant {
		rel[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(results))
	var m Metrics
	for _, n := range results {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		if _, ok := rel[n.ID]; ok {
			m.Hits++
		}
	}
	m.Retrieved = len(seen)
	m.Relevant = len(rel)
	m.Precision = ratio(m.Hits, m.Retrieved)
	m.Recall = ratio(m.Hits, m.Relevant)
	return m
}

// F1 returns the harmonic mean of precision and recall, 0 when both are 0.
func F1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// RecallAtK computes Recall@k as the fraction of all ground-truth items that appear in the top k predictions.
func RecallAtK(predicted, groundTruth []core.Neighbor, k int) float64 {
	if k <= 0 || len(groundTruth) == 0 {
		return 0.0
	}
	// Build a set of predicted IDs from the top k predictions.
	predSet := make(map[string]struct{})
	limit := min(k, len(predicted))
	for i := 0; i < limit; i++ {
		predSet[predicted[i].ID] = struct{}{}
	}

	// Count ground-truth items that appear in the predictions.
	correct := 0
	for _, n := range groundTruth {
		if _, ok := predSet[n.ID]; ok {
			correct++
		}
	}
	return float64(correct) / float64(len(groundTruth))
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
