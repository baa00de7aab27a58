package session

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/presenceapp/presence/internal/attendance"
	"github.com/presenceapp/presence/internal/detect"
	"github.com/presenceapp/presence/internal/recognition"
)

// Session is one live recognition session over a camera feed. Frames flow
// in through a bounded queue; a single worker goroutine drains it, so the
// tracker and marker never see concurrent updates.
type Session struct {
	EventBroadcaster

	user    string
	project string

	frames chan []byte
	stop   chan struct{}
	done   chan struct{}

	detector  detect.Detector
	tracker   *recognition.Tracker
	marker    *attendance.Marker
	gallery   recognition.Gallery
	threshold float64

	stride         int
	dequeueTimeout time.Duration

	framesReceived  atomic.Int64
	framesProcessed atomic.Int64
	framesDropped   atomic.Int64

	startedAt time.Time
}

// Offer enqueues a frame without blocking. Returns false when the queue is
// full and the frame was dropped.
func (s *Session) Offer(frame []byte) bool {
	s.framesReceived.Add(1)
	select {
	case s.frames <- frame:
		return true
	default:
		s.framesDropped.Add(1)
		return false
	}
}

// run is the session worker loop. It exits when the stop channel closes,
// after finishing the frame in flight.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(s.dequeueTimeout)
	defer timer.Stop()

	var dequeued int64
	for {
		timer.Reset(s.dequeueTimeout)
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case frame := <-s.frames:
			dequeued++
			// Subsample the feed so the detector keeps up with the camera.
			if s.stride > 1 && dequeued%int64(s.stride) != 0 {
				continue
			}
			s.processFrame(ctx, frame)
		case <-timer.C:
			// Bounded wait keeps stop latency low on an idle feed.
		}
	}
}

func (s *Session) processFrame(ctx context.Context, frame []byte) {
	s.framesProcessed.Add(1)

	detections, err := s.detector.Detect(ctx, frame)
	if err != nil {
		log.Printf("Session %s/%s: detection failed: %v", s.user, s.project, err)
		s.SendEvent(Event{Type: EventError, Data: ErrorData{Reason: err.Error()}})
		return
	}

	for _, result := range s.tracker.Update(detections, s.gallery) {
		if result.Identity == recognition.Unknown {
			continue
		}
		outcome, err := s.marker.Offer(ctx, result.Identity)
		if err != nil {
			log.Printf("Session %s/%s: marking %q failed: %v", s.user, s.project, result.Identity, err)
			s.SendEvent(Event{Type: EventError, Data: ErrorData{Reason: err.Error()}})
			continue
		}
		if outcome == attendance.NewlyMarked {
			s.SendEvent(Event{Type: EventMarked, Data: MarkedData{
				Name:     result.Identity,
				MarkedAt: time.Now().UTC(),
			}})
		}
	}
}
