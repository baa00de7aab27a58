package database

import (
	"testing"
)

func sampleSet() []TrainingSample {
	return []TrainingSample{
		{ID: 1, Name: "Alice", Embedding: []float32{1, 0, 0}},
		{ID: 2, Name: "Alice", Embedding: []float32{0.99, 0.01, 0}},
		{ID: 3, Name: "Bob", Embedding: []float32{0, 1, 0}},
		{ID: 4, Name: "Carol", Embedding: []float32{0.98, 0.02, 0}}, // confusable with Alice
	}
}

func TestSampleIndexBuildAndSearch(t *testing.T) {
	idx := NewSampleIndex()
	if err := idx.Build(sampleSet()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if idx.Count() != 4 {
		t.Errorf("Count() = %d, want 4", idx.Count())
	}

	ids, distances, err := idx.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(ids))
	}
	if ids[0] != 1 {
		t.Errorf("nearest neighbor = %d, want sample 1", ids[0])
	}
	if distances[0] > 0.0001 {
		t.Errorf("distance to identical sample = %v, want ~0", distances[0])
	}
}

func TestSampleIndexSearchEmpty(t *testing.T) {
	idx := NewSampleIndex()
	if _, _, err := idx.Search([]float32{1, 0, 0}, 1); err == nil {
		t.Error("expected error searching an uninitialized index")
	}
}

func TestSampleIndexConfusions(t *testing.T) {
	idx := NewSampleIndex()
	if err := idx.Build(sampleSet()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	confusions, err := idx.Confusions(3, 0.1)
	if err != nil {
		t.Fatalf("Confusions failed: %v", err)
	}
	if len(confusions) == 0 {
		t.Fatal("expected at least one confusion pair")
	}

	// The Alice/Carol overlap must be reported; Bob is orthogonal to everyone.
	foundAliceCarol := false
	for _, c := range confusions {
		if c.Name == "Bob" || c.Other == "Bob" {
			t.Errorf("Bob should not be confusable with anyone: %+v", c)
		}
		names := map[string]bool{c.Name: true, c.Other: true}
		if names["Alice"] && names["Carol"] {
			foundAliceCarol = true
		}
		if c.Name == c.Other {
			t.Errorf("same-identity pair reported as confusion: %+v", c)
		}
	}
	if !foundAliceCarol {
		t.Error("expected an Alice/Carol confusion pair")
	}

	// Sorted ascending by distance.
	for i := 1; i < len(confusions); i++ {
		if confusions[i].Distance < confusions[i-1].Distance {
			t.Error("confusions not sorted by distance")
			break
		}
	}

	// Each unordered pair appears once.
	seen := make(map[[2]int64]bool)
	for _, c := range confusions {
		lo, hi := c.SampleID, c.OtherID
		if lo > hi {
			lo, hi = hi, lo
		}
		if seen[[2]int64{lo, hi}] {
			t.Errorf("duplicate pair (%d, %d)", lo, hi)
		}
		seen[[2]int64{lo, hi}] = true
	}
}
