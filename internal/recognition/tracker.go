package recognition

import (
	"sync"
	"time"
)

// Detection is a single frame's observation: a bounding box in frame pixel
// space plus the face embedding extracted from it. Detections are ephemeral
// and exist only within one frame's processing cycle.
type Detection struct {
	BBox      []float64 // [x1, y1, x2, y2]
	Embedding []float32
}

// TrackResult reports one tracked face after an update cycle.
type TrackResult struct {
	TrackID  int64
	BBox     []float64
	Identity string
	Score    float64
}

// track is the hypothesis that detections across consecutive frames belong to
// the same physical face.
type track struct {
	bbox     []float64
	identity string
	score    float64
	resolved bool
	lastSeen time.Time
	created  time.Time
}

// Tracker groups per-frame detections into persistent tracks so identity
// resolution runs at most once per physical face's continuous visibility,
// not once per frame. One instance per recognition session. All mutating
// operations are serialized; Count is safe to call from status queries while
// the owning worker updates.
type Tracker struct {
	mu     sync.Mutex
	tracks map[int64]*track
	nextID int64

	assocThreshold float64       // minimum IoU to associate a detection with a track
	matchThreshold float64       // similarity cutoff passed to Match
	idleTimeout    time.Duration // unseen tracks older than this are evicted
	now            func() time.Time
}

// NewTracker creates a tracker with the given association threshold, match
// threshold, and idle eviction timeout.
func NewTracker(assocThreshold, matchThreshold float64, idleTimeout time.Duration) *Tracker {
	return &Tracker{
		tracks:         make(map[int64]*track),
		assocThreshold: assocThreshold,
		matchThreshold: matchThreshold,
		idleTimeout:    idleTimeout,
		now:            time.Now,
	}
}

// SetClock replaces the tracker's time source. Tests use this to simulate
// track aging without sleeping.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Update associates the frame's detections with live tracks, resolving
// identity via Match only for tracks that have never been resolved.
// Association is greedy per detection: the live track with the highest IoU
// above the association threshold wins. This is not globally optimal (no
// assignment solver); with a loose threshold two detections can claim the
// same track. Accepted approximation, see the tracker tests for the cases
// it covers.
func (t *Tracker) Update(detections []Detection, gallery Gallery) []TrackResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	seen := make(map[int64]bool, len(detections))
	results := make([]TrackResult, 0, len(detections))

	for _, det := range detections {
		matchedID := int64(-1)
		bestIoU := t.assocThreshold

		for id, tr := range t.tracks {
			if iou := IoU(det.BBox, tr.bbox); iou > bestIoU {
				bestIoU = iou
				matchedID = id
			}
		}

		if matchedID >= 0 {
			tr := t.tracks[matchedID]
			tr.bbox = det.BBox
			tr.lastSeen = now
			seen[matchedID] = true

			if !tr.resolved {
				tr.identity, tr.score = Match(det.Embedding, gallery, t.matchThreshold)
				tr.resolved = true
			}

			results = append(results, TrackResult{
				TrackID:  matchedID,
				BBox:     det.BBox,
				Identity: tr.identity,
				Score:    tr.score,
			})
			continue
		}

		// New face: allocate a fresh id and resolve immediately.
		// Track ids are never reused within a session.
		id := t.nextID
		t.nextID++

		name, score := Match(det.Embedding, gallery, t.matchThreshold)
		t.tracks[id] = &track{
			bbox:     det.BBox,
			identity: name,
			score:    score,
			resolved: true,
			lastSeen: now,
			created:  now,
		}
		seen[id] = true
		results = append(results, TrackResult{TrackID: id, BBox: det.BBox, Identity: name, Score: score})
	}

	// Evict tracks unseen this update and idle past the timeout.
	for id, tr := range t.tracks {
		if !seen[id] && now.Sub(tr.lastSeen) > t.idleTimeout {
			delete(t.tracks, id)
		}
	}

	return results
}

// Clear resets all tracks and the id counter. Used when a session restarts.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[int64]*track)
	t.nextID = 0
}

// Count reports the live track population for status reporting.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
