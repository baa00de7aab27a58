package recognition

import (
	"log"
	"math"
)

// Unknown is the identity reported when no gallery entry clears the threshold.
const Unknown = "Unknown"

// Gallery maps identity names to their reference embeddings (the mean of the
// identity's training embeddings). A gallery is immutable for the lifetime of
// a recognition session and reloaded only when a new session starts.
type Gallery map[string][]float32

// CosineSimilarity computes the cosine similarity between two embeddings.
// Zero-norm or empty vectors yield 0 rather than a division fault.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

// Normalize returns an L2-normalized copy of the embedding. A zero vector is
// returned as an unchanged copy; downstream similarity math guards against it.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// Match compares an embedding against every gallery entry and returns the
// best-scoring identity with its cosine similarity. Returns (Unknown, best)
// when no entry strictly exceeds the threshold and (Unknown, 0) for an empty
// gallery. A gallery entry with a mismatched dimension is skipped and logged,
// never fatal to the call. Ties on score resolve to the lexicographically
// smallest identity name so results are deterministic across runs.
func Match(embedding []float32, gallery Gallery, threshold float64) (string, float64) {
	if len(gallery) == 0 {
		return Unknown, 0
	}

	bestName := ""
	bestScore := math.Inf(-1)
	for name, ref := range gallery {
		if len(ref) != len(embedding) {
			log.Printf("gallery entry %q has dimension %d, expected %d; skipping", name, len(ref), len(embedding))
			continue
		}
		score := CosineSimilarity(embedding, ref)
		if score > bestScore || (score == bestScore && name < bestName) {
			bestScore = score
			bestName = name
		}
	}

	if bestName == "" {
		// Every entry was malformed.
		return Unknown, 0
	}
	if bestScore <= threshold {
		return Unknown, bestScore
	}
	return bestName, bestScore
}
