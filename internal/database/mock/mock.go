// Package mock provides in-memory implementations of database interfaces
// for testing.
package mock

import (
	"context"
	"sync"

	"github.com/presenceapp/presence/internal/database"
	"github.com/presenceapp/presence/internal/roster"
)

// TrainingStore is an in-memory implementation of database.TrainingWriter.
type TrainingStore struct {
	mu        sync.RWMutex
	galleries map[string]map[string][]float32
	qualities map[string]*database.StoredQuality
	samples   map[string][]database.TrainingSample
	nextID    int64

	// Error injection
	LoadGalleryError     error
	LoadQualityError     error
	SaveTrainingRunError error
	LoadSamplesError     error
}

// NewTrainingStore creates a new in-memory training store.
func NewTrainingStore() *TrainingStore {
	return &TrainingStore{
		galleries: make(map[string]map[string][]float32),
		qualities: make(map[string]*database.StoredQuality),
		samples:   make(map[string][]database.TrainingSample),
	}
}

func key(user, project string) string {
	return user + "/" + project
}

// SetGallery seeds a gallery for a project.
func (m *TrainingStore) SetGallery(user, project string, gallery map[string][]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.galleries[key(user, project)] = gallery
}

// SetQuality seeds a quality report for a project.
func (m *TrainingStore) SetQuality(user, project string, q *database.StoredQuality) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qualities[key(user, project)] = q
}

// LoadGallery implements database.GalleryReader.
func (m *TrainingStore) LoadGallery(ctx context.Context, user, project string) (map[string][]float32, error) {
	if m.LoadGalleryError != nil {
		return nil, m.LoadGalleryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	gallery := make(map[string][]float32)
	for name, emb := range m.galleries[key(user, project)] {
		gallery[name] = emb
	}
	return gallery, nil
}

// LoadQuality implements database.GalleryReader.
func (m *TrainingStore) LoadQuality(ctx context.Context, user, project string) (*database.StoredQuality, error) {
	if m.LoadQualityError != nil {
		return nil, m.LoadQualityError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.qualities[key(user, project)], nil
}

// SaveTrainingRun implements database.TrainingWriter.
func (m *TrainingStore) SaveTrainingRun(ctx context.Context, user, project string, samples []database.TrainingSample, gallery []database.IdentityEmbedding, quality database.StoredQuality) error {
	if m.SaveTrainingRunError != nil {
		return m.SaveTrainingRunError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(user, project)
	stored := make([]database.TrainingSample, len(samples))
	for i, s := range samples {
		m.nextID++
		s.ID = m.nextID
		stored[i] = s
	}
	m.samples[k] = stored

	g := make(map[string][]float32, len(gallery))
	for _, id := range gallery {
		g[id.Name] = id.Embedding
	}
	m.galleries[k] = g
	m.qualities[k] = &quality
	return nil
}

// LoadSamples implements database.TrainingWriter.
func (m *TrainingStore) LoadSamples(ctx context.Context, user, project string) ([]database.TrainingSample, error) {
	if m.LoadSamplesError != nil {
		return nil, m.LoadSamplesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.TrainingSample(nil), m.samples[key(user, project)]...), nil
}

// AttendanceStore is an in-memory implementation of database.AttendanceStore.
type AttendanceStore struct {
	mu      sync.RWMutex
	rosters map[string][]database.RosterEntry
	marks   map[string]database.Mark // key: user/project/name/period

	// RecordCalls counts RecordMark invocations, including failed ones.
	RecordCalls int

	// Error injection
	LoadRosterError error
	SaveRosterError error
	IsMarkedError   error
	RecordMarkError error
}

// NewAttendanceStore creates a new in-memory attendance store.
func NewAttendanceStore() *AttendanceStore {
	return &AttendanceStore{
		rosters: make(map[string][]database.RosterEntry),
		marks:   make(map[string]database.Mark),
	}
}

func markKey(user, project, name, period string) string {
	return user + "/" + project + "/" + name + "/" + period
}

// SetRoster seeds a roster for a project.
func (m *AttendanceStore) SetRoster(user, project string, names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]database.RosterEntry, len(names))
	for i, name := range names {
		entries[i] = database.RosterEntry{Name: name, NormalizedName: roster.NormalizeName(name)}
	}
	m.rosters[key(user, project)] = entries
}

// Marks returns all recorded marks.
func (m *AttendanceStore) Marks() []database.Mark {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Mark, 0, len(m.marks))
	for _, mark := range m.marks {
		out = append(out, mark)
	}
	return out
}

// LoadRoster implements database.AttendanceStore.
func (m *AttendanceStore) LoadRoster(ctx context.Context, user, project string) ([]database.RosterEntry, error) {
	if m.LoadRosterError != nil {
		return nil, m.LoadRosterError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.RosterEntry(nil), m.rosters[key(user, project)]...), nil
}

// SaveRoster implements database.AttendanceStore.
func (m *AttendanceStore) SaveRoster(ctx context.Context, user, project string, names []string) error {
	if m.SaveRosterError != nil {
		return m.SaveRosterError
	}
	m.SetRoster(user, project, names)
	return nil
}

// IsMarked implements database.AttendanceStore.
func (m *AttendanceStore) IsMarked(ctx context.Context, user, project, name, period string) (bool, error) {
	if m.IsMarkedError != nil {
		return false, m.IsMarkedError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.marks[markKey(user, project, name, period)]
	return ok, nil
}

// RecordMark implements database.AttendanceStore.
func (m *AttendanceStore) RecordMark(ctx context.Context, user, project string, mark database.Mark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordCalls++
	if m.RecordMarkError != nil {
		return m.RecordMarkError
	}
	k := markKey(user, project, mark.Name, mark.Period)
	if _, ok := m.marks[k]; !ok {
		m.marks[k] = mark
	}
	return nil
}
