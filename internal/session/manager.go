// Package session runs live recognition sessions: one worker per session
// pulls camera frames from a bounded queue, resolves identities against
// the trained gallery and records attendance marks.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/presenceapp/presence/internal/attendance"
	"github.com/presenceapp/presence/internal/config"
	"github.com/presenceapp/presence/internal/database"
	"github.com/presenceapp/presence/internal/detect"
	"github.com/presenceapp/presence/internal/recognition"
)

var (
	// ErrSessionRunning is returned by Start when the project already has
	// a live session.
	ErrSessionRunning = errors.New("session already running")
	// ErrNoSession is returned when no live session exists for the project.
	ErrNoSession = errors.New("no session running")
	// ErrNoGallery is returned by Start when the project has no trained
	// gallery to recognize against.
	ErrNoGallery = errors.New("no trained gallery for project")
	// ErrNoRoster is returned by Start when the project has no roster,
	// so no identity could ever be marked.
	ErrNoRoster = errors.New("no roster for project")
)

// Status is a point-in-time snapshot of a project's session state.
type Status struct {
	Running         bool      `json:"running"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	Threshold       float64   `json:"threshold,omitempty"`
	MarkedCount     int       `json:"marked_count"`
	Marked          []string  `json:"marked,omitempty"`
	RosterSize      int       `json:"roster_size,omitempty"`
	LiveTracks      int       `json:"live_tracks"`
	FramesReceived  int64     `json:"frames_received"`
	FramesProcessed int64     `json:"frames_processed"`
	FramesDropped   int64     `json:"frames_dropped"`
}

// Manager owns all live sessions, keyed by user and project. At most one
// session runs per project.
type Manager struct {
	training   database.GalleryReader
	attendance database.AttendanceStore
	detector   detect.Detector
	tuning     config.TuningConfig

	mu       sync.Mutex
	sessions map[string]*Session
	starting map[string]bool // keys reserved by an in-flight Start
}

// NewManager creates a session manager.
func NewManager(training database.GalleryReader, att database.AttendanceStore, detector detect.Detector, tuning config.TuningConfig) *Manager {
	return &Manager{
		training:   training,
		attendance: att,
		detector:   detector,
		tuning:     tuning,
		sessions:   make(map[string]*Session),
		starting:   make(map[string]bool),
	}
}

func sessionKey(user, project string) string {
	return user + "/" + project
}

// threshold picks the session's similarity cutoff: the stored optimal
// threshold when a quality report exists, the configured default otherwise,
// clamped either way.
func (m *Manager) threshold(quality *database.StoredQuality) float64 {
	t := m.tuning.MatchThreshold
	if quality != nil && quality.OptimalThreshold > 0 {
		t = quality.OptimalThreshold
	}
	if t < m.tuning.ThresholdFloor {
		t = m.tuning.ThresholdFloor
	}
	if t > m.tuning.ThresholdCeiling {
		t = m.tuning.ThresholdCeiling
	}
	return t
}

// Start creates and starts a session for the project. The key is reserved
// under the registry lock before any loading happens, so two concurrent
// Start calls cannot both succeed and no half-started session is ever
// visible, while other sessions' Status/Enqueue never wait on the loads.
func (m *Manager) Start(ctx context.Context, user, project string, policy attendance.PeriodPolicy) (*Session, error) {
	k := sessionKey(user, project)

	m.mu.Lock()
	if _, running := m.sessions[k]; running || m.starting[k] {
		m.mu.Unlock()
		return nil, ErrSessionRunning
	}
	m.starting[k] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.starting, k)
		m.mu.Unlock()
	}()

	gallery, err := m.training.LoadGallery(ctx, user, project)
	if err != nil {
		return nil, fmt.Errorf("loading gallery: %w", err)
	}
	if len(gallery) == 0 {
		return nil, ErrNoGallery
	}

	quality, err := m.training.LoadQuality(ctx, user, project)
	if err != nil {
		return nil, fmt.Errorf("loading quality report: %w", err)
	}

	entries, err := m.attendance.LoadRoster(ctx, user, project)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNoRoster
	}

	threshold := m.threshold(quality)
	s := &Session{
		user:           user,
		project:        project,
		frames:         make(chan []byte, m.tuning.FrameQueueSize),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		detector:       m.detector,
		tracker:        recognition.NewTracker(m.tuning.IoUThreshold, threshold, time.Duration(m.tuning.TrackTimeoutMS)*time.Millisecond),
		gallery:        recognition.Gallery(gallery),
		threshold:      threshold,
		stride:         m.tuning.FrameStride,
		dequeueTimeout: time.Duration(m.tuning.DequeueTimeoutMS) * time.Millisecond,
		startedAt:      time.Now().UTC(),
	}
	s.marker = attendance.NewMarker(m.attendance, user, project, entries, policy)

	m.mu.Lock()
	m.sessions[k] = s
	m.mu.Unlock()
	go s.run(context.WithoutCancel(ctx))

	identities := make([]string, 0, len(gallery))
	for name := range gallery {
		identities = append(identities, name)
	}
	sort.Strings(identities)
	s.SendEvent(Event{Type: EventStarted, Data: StartedData{
		Identities: identities,
		RosterSize: s.marker.RosterSize(),
		Threshold:  threshold,
	}})

	return s, nil
}

// Get returns the project's live session.
func (m *Manager) Get(user, project string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey(user, project)]
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// Enqueue offers a frame to the project's session. Returns false when the
// queue was full and the frame was dropped.
func (m *Manager) Enqueue(user, project string, frame []byte) (bool, error) {
	s, err := m.Get(user, project)
	if err != nil {
		return false, err
	}
	return s.Offer(frame), nil
}

// Stop halts the project's session, waits for the worker to finish the
// frame in flight and returns the final tally.
func (m *Manager) Stop(ctx context.Context, user, project string) (StoppedData, error) {
	m.mu.Lock()
	k := sessionKey(user, project)
	s, ok := m.sessions[k]
	if !ok {
		m.mu.Unlock()
		return StoppedData{}, ErrNoSession
	}
	delete(m.sessions, k)
	m.mu.Unlock()

	close(s.stop)

	finish := func() StoppedData {
		marked := s.marker.MarkedNames()
		sort.Strings(marked)
		return StoppedData{
			MarkedCount: len(marked),
			Marked:      marked,
		}
	}

	select {
	case <-s.done:
		summary := finish()
		s.SendEvent(Event{Type: EventStopped, Data: summary})
		return summary, nil
	case <-ctx.Done():
		// The session is already out of the registry and the worker will
		// exit within the dequeue timeout; the stop has succeeded as far
		// as the caller is concerned. Broadcast once the worker is gone.
		go func() {
			<-s.done
			s.SendEvent(Event{Type: EventStopped, Data: finish()})
		}()
		return finish(), nil
	}
}

// Status returns a snapshot of the project's session state. A project with
// no live session reports Running: false with zeroed counters.
func (m *Manager) Status(user, project string) Status {
	s, err := m.Get(user, project)
	if err != nil {
		return Status{Running: false}
	}

	marked := s.marker.MarkedNames()
	sort.Strings(marked)
	return Status{
		Running:         true,
		StartedAt:       s.startedAt,
		Threshold:       s.threshold,
		MarkedCount:     len(marked),
		Marked:          marked,
		RosterSize:      s.marker.RosterSize(),
		LiveTracks:      s.tracker.Count(),
		FramesReceived:  s.framesReceived.Load(),
		FramesProcessed: s.framesProcessed.Load(),
		FramesDropped:   s.framesDropped.Load(),
	}
}

// StopAll stops every live session concurrently. Used during shutdown.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	keys := make([][2]string, 0, len(m.sessions))
	for _, s := range m.sessions {
		keys = append(keys, [2]string{s.user, s.project})
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, k := range keys {
		g.Go(func() error {
			if _, err := m.Stop(ctx, k[0], k[1]); err != nil && !errors.Is(err, ErrNoSession) {
				return fmt.Errorf("stopping session %s/%s: %w", k[0], k[1], err)
			}
			return nil
		})
	}
	return g.Wait()
}
