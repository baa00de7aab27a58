package database

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// hnswMaxNeighbors is the M parameter for the sample graph. Training sets are
// small (hundreds of samples per project), so a modest graph is plenty.
const hnswMaxNeighbors = 16

// SampleIndex is an in-memory HNSW index over one project's training samples.
// It backs the confusable-identities diagnostic: samples from different
// identities that sit close together in embedding space predict runtime
// misidentification.
type SampleIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[int64]
	idToSample map[int64]*TrainingSample
}

// NewSampleIndex creates an empty sample index.
func NewSampleIndex() *SampleIndex {
	return &SampleIndex{
		idToSample: make(map[int64]*TrainingSample),
	}
}

// Build replaces the index contents with the given samples. Samples without
// an embedding are skipped.
func (x *SampleIndex) Build(samples []TrainingSample) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if len(samples) == 0 {
		x.graph = nil
		x.idToSample = make(map[int64]*TrainingSample)
		return nil
	}

	g := hnsw.NewGraph[int64]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	x.idToSample = make(map[int64]*TrainingSample, len(samples))
	for i := range samples {
		s := &samples[i]
		if len(s.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(s.ID, s.Embedding))
		x.idToSample[s.ID] = s
	}

	x.graph = g
	return nil
}

// Search finds the k nearest samples to the query embedding, returning sample
// IDs and cosine distances.
func (x *SampleIndex) Search(query []float32, k int) ([]int64, []float64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	neighbors := x.graph.Search(query, k)
	ids := make([]int64, len(neighbors))
	distances := make([]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
		distances[i] = float64(hnsw.CosineDistance(query, n.Value))
	}
	return ids, distances, nil
}

// Sample returns the sample for a given ID, or nil.
func (x *SampleIndex) Sample(id int64) *TrainingSample {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.idToSample[id]
}

// Count returns the number of indexed samples.
func (x *SampleIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.idToSample)
}

// Confusion is a pair of training samples from different identities that are
// suspiciously close in embedding space.
type Confusion struct {
	Name     string  `json:"name"`
	Other    string  `json:"other"`
	SampleID int64   `json:"sample_id"`
	OtherID  int64   `json:"other_id"`
	Distance float64 `json:"distance"`
}

// Confusions scans every indexed sample for cross-identity neighbors within
// maxDistance, checking up to k neighbors per sample. Pairs are reported once
// and sorted by ascending distance.
func (x *SampleIndex) Confusions(k int, maxDistance float64) ([]Confusion, error) {
	x.mu.RLock()
	samples := make([]*TrainingSample, 0, len(x.idToSample))
	for _, s := range x.idToSample {
		samples = append(samples, s)
	}
	x.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Confusion
	for _, s := range samples {
		ids, distances, err := x.Search(s.Embedding, k+1)
		if err != nil {
			return nil, fmt.Errorf("searching neighbors for sample %d: %w", s.ID, err)
		}
		for i, id := range ids {
			if id == s.ID || distances[i] > maxDistance {
				continue
			}
			other := x.Sample(id)
			if other == nil || other.Name == s.Name {
				continue
			}
			lo, hi := s.ID, id
			if lo > hi {
				lo, hi = hi, lo
			}
			key := fmt.Sprintf("%d:%d", lo, hi)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Confusion{
				Name:     s.Name,
				Other:    other.Name,
				SampleID: s.ID,
				OtherID:  id,
				Distance: distances[i],
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}
