package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/presenceapp/presence/internal/database"
	"github.com/presenceapp/presence/internal/recognition"
	"github.com/presenceapp/presence/internal/roster"
)

// Outcome describes the result of offering an identity to the marker.
type Outcome int

const (
	// NewlyMarked means the identity was marked for the first time this period.
	NewlyMarked Outcome = iota
	// AlreadyMarked means the identity already had a mark for this period.
	AlreadyMarked
	// UnknownIdentity means the identity is not on the roster (or is the
	// Unknown placeholder) and no mark was recorded.
	UnknownIdentity
)

func (o Outcome) String() string {
	switch o {
	case NewlyMarked:
		return "newly_marked"
	case AlreadyMarked:
		return "already_marked"
	case UnknownIdentity:
		return "unknown_identity"
	default:
		return "invalid"
	}
}

// Marker records attendance marks for recognized identities, at most once
// per identity per period. Safe for concurrent use; store round-trips run
// outside the mutex so MarkedCount/MarkedNames never wait on persistence.
type Marker struct {
	store     database.AttendanceStore
	user      string
	project   string
	policy    PeriodPolicy
	sessionID string
	now       func() time.Time

	mu      sync.Mutex
	marked  map[string]struct{} // roster names marked this session
	pending map[string]struct{} // names with a store write in flight
	byNorm  map[string]string   // normalized name -> roster name
}

// NewMarker creates a marker for one session. The roster fixes the set of
// markable identities for the whole session; names resolve through
// diacritics-insensitive normalization.
func NewMarker(store database.AttendanceStore, user, project string, entries []database.RosterEntry, policy PeriodPolicy) *Marker {
	byNorm := make(map[string]string, len(entries))
	for _, e := range entries {
		norm := e.NormalizedName
		if norm == "" {
			norm = roster.NormalizeName(e.Name)
		}
		byNorm[norm] = e.Name
	}
	return &Marker{
		store:     store,
		user:      user,
		project:   project,
		policy:    policy,
		sessionID: uuid.NewString(),
		now:       time.Now,
		marked:    make(map[string]struct{}),
		pending:   make(map[string]struct{}),
		byNorm:    byNorm,
	}
}

// SetClock overrides the time source. Intended for tests.
func (m *Marker) SetClock(now func() time.Time) {
	m.now = now
}

// Offer attempts to mark the identity present. The mark is persisted before
// the in-memory marked set is updated, so a storage failure leaves the
// marker ready to retry on the next sighting. The mutex is released around
// the store calls; the name is reserved in pending so a concurrent Offer
// for the same identity cannot write twice.
func (m *Marker) Offer(ctx context.Context, identity string) (Outcome, error) {
	if identity == "" || identity == recognition.Unknown {
		return UnknownIdentity, nil
	}
	norm := roster.NormalizeName(identity)

	m.mu.Lock()
	name, ok := m.byNorm[norm]
	if !ok {
		m.mu.Unlock()
		return UnknownIdentity, nil
	}
	if _, done := m.marked[name]; done {
		m.mu.Unlock()
		return AlreadyMarked, nil
	}
	if _, busy := m.pending[name]; busy {
		// Another sighting already has a write in flight for this name.
		m.mu.Unlock()
		return AlreadyMarked, nil
	}
	m.pending[name] = struct{}{}
	m.mu.Unlock()

	outcome, err := m.persist(ctx, name)

	m.mu.Lock()
	delete(m.pending, name)
	if err == nil {
		m.marked[name] = struct{}{}
	}
	m.mu.Unlock()

	return outcome, err
}

// persist runs the store round-trips for one reserved name.
func (m *Marker) persist(ctx context.Context, name string) (Outcome, error) {
	now := m.now().UTC()
	period := m.policy.PeriodKey(m.sessionID, now)

	// Under daily policy an earlier session may already hold the mark.
	exists, err := m.store.IsMarked(ctx, m.user, m.project, name, period)
	if err != nil {
		return UnknownIdentity, fmt.Errorf("checking existing mark for %q: %w", name, err)
	}
	if exists {
		return AlreadyMarked, nil
	}

	mark := database.Mark{
		ID:       uuid.NewString(),
		Name:     name,
		Period:   period,
		MarkedAt: now,
	}
	if err := m.store.RecordMark(ctx, m.user, m.project, mark); err != nil {
		return UnknownIdentity, fmt.Errorf("recording mark for %q: %w", name, err)
	}
	return NewlyMarked, nil
}

// MarkedCount returns how many identities have been marked (or found
// already marked) during this session.
func (m *Marker) MarkedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.marked)
}

// MarkedNames returns the roster names marked this session.
func (m *Marker) MarkedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.marked))
	for name := range m.marked {
		names = append(names, name)
	}
	return names
}

// RosterSize returns the number of markable identities.
func (m *Marker) RosterSize() int {
	return len(m.byNorm)
}
