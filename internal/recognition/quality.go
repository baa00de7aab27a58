package recognition

import (
	"log"
	"math"
	"time"
)

// DefaultThreshold is the match cutoff used when no trained quality report
// is available to derive a better one.
const DefaultThreshold = 0.38

// Bounds for the derived optimal threshold. A midpoint outside this range
// means the gallery is either trivially separable or barely separable, and
// neither extreme makes a usable runtime cutoff.
const (
	thresholdFloor   = 0.3
	thresholdCeiling = 0.5
)

// Report scores how separable a trained gallery is. Computed once per
// completed training run from the full set of per-image embeddings, immutable
// once produced, superseded by the next run. Accuracy and precision are
// heuristic estimates derived from class separation, not measured
// classification accuracy on held-out data.
type Report struct {
	Identities       int       `json:"identities"`
	Samples          int       `json:"samples"`
	IntraClass       float64   `json:"intra_class_similarity"`
	InterClass       float64   `json:"inter_class_similarity"`
	Separation       float64   `json:"separation"`
	Accuracy         float64   `json:"accuracy_estimate"`
	Precision        float64   `json:"precision_estimate"`
	OptimalThreshold float64   `json:"optimal_threshold"`
	CreatedAt        time.Time `json:"created_at"`
}

// MeanEmbedding averages a set of embeddings into one reference vector.
// Samples with a dimension different from the first are skipped and logged.
// Returns nil for empty input.
func MeanEmbedding(samples [][]float32) []float32 {
	var mean []float64
	count := 0
	for _, s := range samples {
		if len(s) == 0 {
			continue
		}
		if mean == nil {
			mean = make([]float64, len(s))
		}
		if len(s) != len(mean) {
			log.Printf("embedding dimension %d differs from %d; skipping sample", len(s), len(mean))
			continue
		}
		for i, x := range s {
			mean[i] += float64(x)
		}
		count++
	}
	if count == 0 {
		return nil
	}
	out := make([]float32, len(mean))
	for i, x := range mean {
		out[i] = float32(x / float64(count))
	}
	return out
}

// intraClassSimilarities collects cosine similarities over every same-identity
// pair. Identities with fewer than two samples contribute nothing.
func intraClassSimilarities(samples map[string][][]float32) []float64 {
	var sims []float64
	for _, embs := range samples {
		if len(embs) < 2 {
			continue
		}
		for i := 0; i < len(embs); i++ {
			for j := i + 1; j < len(embs); j++ {
				sims = append(sims, CosineSimilarity(embs[i], embs[j]))
			}
		}
	}
	return sims
}

// interClassSimilarity averages cosine similarity between the mean embeddings
// of every pair of distinct identities.
func interClassSimilarity(means map[string][]float32) float64 {
	names := make([]string, 0, len(means))
	for name := range means {
		names = append(names, name)
	}

	var sum float64
	pairs := 0
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			sum += CosineSimilarity(means[names[i]], means[names[j]])
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

// accuracyEstimate maps class separation to an accuracy percentage. The
// mapping is piecewise linear, continuous, and monotonically increasing:
//
//	s > 0.3        -> 95 .. 99.9
//	0.2 < s <= 0.3 -> 85 .. 95
//	0.1 < s <= 0.2 -> 70 .. 85
//	otherwise      -> max(50, 50 + s*200)
func accuracyEstimate(separation float64) float64 {
	switch {
	case separation > 0.3:
		return math.Min(99.9, 95+(separation-0.3)*49)
	case separation > 0.2:
		return 85 + (separation-0.2)*100
	case separation > 0.1:
		return 70 + (separation-0.1)*150
	default:
		return math.Max(50, 50+separation*200)
	}
}

// EstimateQuality scores a completed training run. The input is the full set
// of per-image embeddings grouped by identity, not the averaged gallery.
// With fewer than two identities all metrics are zero except the default
// threshold, so callers never divide by an empty set downstream.
func EstimateQuality(samples map[string][][]float32) Report {
	report := Report{
		Identities:       len(samples),
		OptimalThreshold: DefaultThreshold,
		CreatedAt:        time.Now(),
	}
	for _, embs := range samples {
		report.Samples += len(embs)
	}

	if len(samples) < 2 {
		return report
	}

	intraSims := intraClassSimilarities(samples)
	intra := 0.0
	for _, s := range intraSims {
		intra += s
	}
	if len(intraSims) > 0 {
		intra /= float64(len(intraSims))
	}

	means := make(map[string][]float32, len(samples))
	for name, embs := range samples {
		if mean := MeanEmbedding(embs); mean != nil {
			means[name] = mean
		}
	}
	inter := interClassSimilarity(means)

	separation := intra - inter
	threshold := (intra + inter) / 2
	if threshold < thresholdFloor {
		threshold = thresholdFloor
	}
	if threshold > thresholdCeiling {
		threshold = thresholdCeiling
	}

	above := 0
	for _, s := range intraSims {
		if s > threshold {
			above++
		}
	}
	precision := 0.0
	if len(intraSims) > 0 {
		precision = float64(above) / float64(len(intraSims)) * 100
	}

	report.IntraClass = intra
	report.InterClass = inter
	report.Separation = separation
	report.Accuracy = accuracyEstimate(separation)
	report.Precision = precision
	report.OptimalThreshold = threshold
	return report
}
