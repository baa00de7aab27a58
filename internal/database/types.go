package database

import (
	"time"
)

// IdentityEmbedding is one gallery entry: an identity name with its reference
// embedding (the mean of the identity's training embeddings).
type IdentityEmbedding struct {
	Name      string
	Embedding []float32
	Dim       int
	CreatedAt time.Time
}

// TrainingSample is one per-image embedding captured during training. The
// full sample set (not just the averaged gallery) feeds the quality estimator
// and the confusion diagnostic.
type TrainingSample struct {
	ID        int64
	Name      string
	Embedding []float32
	Dim       int
	CreatedAt time.Time
}

// StoredQuality is the persisted quality report for one project's latest
// training run. Superseded by the next run, never updated in place.
type StoredQuality struct {
	Identities       int
	Samples          int
	IntraClass       float64
	InterClass       float64
	Separation       float64
	Accuracy         float64
	Precision        float64
	OptimalThreshold float64
	CreatedAt        time.Time
}

// RosterEntry is one person eligible for attendance marking in a project.
// NormalizedName is the diacritics-folded lowercase form used for lookups.
type RosterEntry struct {
	Name           string
	NormalizedName string
}

// Mark is a persisted (identity, period, timestamp) attendance fact.
type Mark struct {
	ID       string // UUID
	Name     string
	Period   string
	MarkedAt time.Time
}
