package database

import (
	"context"
)

// GalleryReader provides read access to a project's trained gallery and the
// quality report used to pick per-session defaults.
type GalleryReader interface {
	// LoadGallery returns the identity -> reference embedding mapping for a
	// project. Returns an empty map if the project has never been trained.
	LoadGallery(ctx context.Context, user, project string) (map[string][]float32, error)
	// LoadQuality returns the latest quality report, or nil if none exists.
	LoadQuality(ctx context.Context, user, project string) (*StoredQuality, error)
}

// TrainingWriter persists the output of a completed training run.
type TrainingWriter interface {
	GalleryReader

	// SaveTrainingRun atomically replaces a project's training samples,
	// gallery, and quality report with the results of a new run.
	SaveTrainingRun(ctx context.Context, user, project string, samples []TrainingSample, gallery []IdentityEmbedding, quality StoredQuality) error
	// LoadSamples returns all per-image training samples for a project.
	LoadSamples(ctx context.Context, user, project string) ([]TrainingSample, error)
}

// AttendanceStore is the roster/attendance persistence boundary. Failures are
// surfaced to the caller and retried on the next recognition event for that
// identity; nothing is queued internally.
type AttendanceStore interface {
	// LoadRoster returns the project's roster. An empty roster is valid.
	LoadRoster(ctx context.Context, user, project string) ([]RosterEntry, error)
	// SaveRoster replaces the project's roster with the given names.
	SaveRoster(ctx context.Context, user, project string, names []string) error
	// IsMarked reports whether an identity already has a mark for the period.
	IsMarked(ctx context.Context, user, project, name, period string) (bool, error)
	// RecordMark persists one attendance mark. Recording the same
	// (name, period) twice must not create a second row.
	RecordMark(ctx context.Context, user, project string, mark Mark) error
}
