package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/presenceapp/presence/internal/attendance"
	"github.com/presenceapp/presence/internal/config"
	"github.com/presenceapp/presence/internal/database"
	"github.com/presenceapp/presence/internal/database/mock"
	"github.com/presenceapp/presence/internal/recognition"
)

// fakeDetector returns a fixed detection set for every frame.
type fakeDetector struct {
	mu         sync.Mutex
	detections []recognition.Detection
	err        error
	calls      int
}

func (f *fakeDetector) Detect(ctx context.Context, frame []byte) ([]recognition.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.detections, nil
}

func (f *fakeDetector) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func testTuning() config.TuningConfig {
	return config.TuningConfig{
		MatchThreshold:   0.38,
		IoUThreshold:     0.2,
		TrackTimeoutMS:   1500,
		FrameQueueSize:   2,
		FrameStride:      1,
		DequeueTimeoutMS: 10,
		ThresholdFloor:   0.3,
		ThresholdCeiling: 0.5,
	}
}

func aliceEmbedding() []float32 {
	return recognition.Normalize([]float32{1, 0, 0, 0})
}

func newTestManager(detector *fakeDetector) (*Manager, *mock.TrainingStore, *mock.AttendanceStore) {
	training := mock.NewTrainingStore()
	training.SetGallery("u1", "p1", map[string][]float32{"Alice": aliceEmbedding()})
	att := mock.NewAttendanceStore()
	att.SetRoster("u1", "p1", []string{"Alice"})
	return NewManager(training, att, detector, testTuning()), training, att
}

// waitForEvent drains the listener until an event of the given type arrives.
func waitForEvent(t *testing.T, ch chan Event, eventType string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", eventType)
		}
	}
}

func TestManagerStartErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("NoGallery", func(t *testing.T) {
		m, _, _ := newTestManager(&fakeDetector{})
		_, err := m.Start(ctx, "u1", "untrained", attendance.PolicyDaily)
		if !errors.Is(err, ErrNoGallery) {
			t.Errorf("err = %v, want ErrNoGallery", err)
		}
	})

	t.Run("NoRoster", func(t *testing.T) {
		m, training, _ := newTestManager(&fakeDetector{})
		training.SetGallery("u1", "norost", map[string][]float32{"Alice": aliceEmbedding()})
		_, err := m.Start(ctx, "u1", "norost", attendance.PolicyDaily)
		if !errors.Is(err, ErrNoRoster) {
			t.Errorf("err = %v, want ErrNoRoster", err)
		}
	})

	t.Run("AlreadyRunning", func(t *testing.T) {
		m, _, _ := newTestManager(&fakeDetector{})
		if _, err := m.Start(ctx, "u1", "p1", attendance.PolicyDaily); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer m.StopAll(ctx)

		_, err := m.Start(ctx, "u1", "p1", attendance.PolicyDaily)
		if !errors.Is(err, ErrSessionRunning) {
			t.Errorf("err = %v, want ErrSessionRunning", err)
		}
	})

	t.Run("GalleryLoadFailure", func(t *testing.T) {
		m, training, _ := newTestManager(&fakeDetector{})
		training.LoadGalleryError = errors.New("database down")
		if _, err := m.Start(ctx, "u1", "p1", attendance.PolicyDaily); err == nil {
			t.Error("expected error when gallery load fails")
		}
		// A failed start must not leave a session behind.
		if status := m.Status("u1", "p1"); status.Running {
			t.Error("failed start left a running session")
		}
	})
}

// slowGalleryReader blocks LoadGallery until released, simulating a slow
// database during session start.
type slowGalleryReader struct {
	*mock.TrainingStore
	loading chan struct{} // closed when LoadGallery is entered
	release chan struct{} // LoadGallery waits for this before returning
}

func (r *slowGalleryReader) LoadGallery(ctx context.Context, user, project string) (map[string][]float32, error) {
	close(r.loading)
	<-r.release
	return r.TrainingStore.LoadGallery(ctx, user, project)
}

func TestManagerStartDoesNotBlockRegistry(t *testing.T) {
	ctx := context.Background()
	training := &slowGalleryReader{
		TrainingStore: mock.NewTrainingStore(),
		loading:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	training.SetGallery("u1", "p1", map[string][]float32{"Alice": aliceEmbedding()})
	att := mock.NewAttendanceStore()
	att.SetRoster("u1", "p1", []string{"Alice"})
	m := NewManager(training, att, &fakeDetector{}, testTuning())

	started := make(chan error, 1)
	go func() {
		_, err := m.Start(ctx, "u1", "p1", attendance.PolicyDaily)
		started <- err
	}()
	<-training.loading

	// While the first Start is stuck loading, the registry stays responsive
	// and the key is already reserved.
	begin := time.Now()
	if status := m.Status("u1", "p1"); status.Running {
		t.Error("session should not be visible before Start completes")
	}
	if _, err := m.Enqueue("u1", "p1", []byte("frame")); !errors.Is(err, ErrNoSession) {
		t.Errorf("Enqueue err = %v, want ErrNoSession", err)
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Errorf("registry reads blocked %v behind the in-flight start", elapsed)
	}
	if _, err := m.Start(ctx, "u1", "p1", attendance.PolicyDaily); !errors.Is(err, ErrSessionRunning) {
		t.Errorf("concurrent Start err = %v, want ErrSessionRunning", err)
	}

	close(training.release)
	if err := <-started; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if status := m.Status("u1", "p1"); !status.Running {
		t.Error("session should be running after Start completes")
	}
	m.StopAll(ctx)
}

func TestManagerEnqueueWithoutSession(t *testing.T) {
	m, _, _ := newTestManager(&fakeDetector{})
	_, err := m.Enqueue("u1", "p1", []byte("frame"))
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestSessionQueueBackpressure(t *testing.T) {
	// Session constructed by hand with no worker so the queue never drains.
	s := &Session{
		frames: make(chan []byte, 2),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if !s.Offer([]byte("f1")) {
		t.Error("first frame should be accepted")
	}
	if !s.Offer([]byte("f2")) {
		t.Error("second frame should be accepted")
	}
	if s.Offer([]byte("f3")) {
		t.Error("third frame should be dropped on a full queue")
	}

	if got := s.framesReceived.Load(); got != 3 {
		t.Errorf("framesReceived = %d, want 3", got)
	}
	if got := s.framesDropped.Load(); got != 1 {
		t.Errorf("framesDropped = %d, want 1", got)
	}
}

func TestSessionMarksRecognizedIdentity(t *testing.T) {
	ctx := context.Background()
	detector := &fakeDetector{
		detections: []recognition.Detection{
			{BBox: []float64{10, 10, 50, 50}, Embedding: aliceEmbedding()},
		},
	}
	m, _, att := newTestManager(detector)

	s, err := m.Start(ctx, "u1", "p1", attendance.PolicyDaily)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ch := s.AddListener()
	defer s.RemoveListener(ch)

	// Keep offering frames until the worker picks one up.
	go func() {
		for i := 0; i < 100; i++ {
			if _, err := m.Enqueue("u1", "p1", []byte("frame")); errors.Is(err, ErrNoSession) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ev := waitForEvent(t, ch, EventMarked, 3*time.Second)
	data, ok := ev.Data.(MarkedData)
	if !ok {
		t.Fatalf("event data type = %T, want MarkedData", ev.Data)
	}
	if data.Name != "Alice" {
		t.Errorf("marked name = %q, want Alice", data.Name)
	}

	summary, err := m.Stop(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if summary.MarkedCount != 1 {
		t.Errorf("MarkedCount = %d, want 1", summary.MarkedCount)
	}

	marks := att.Marks()
	if len(marks) != 1 {
		t.Fatalf("expected 1 persisted mark, got %d", len(marks))
	}
	if marks[0].Name != "Alice" {
		t.Errorf("persisted mark name = %q, want Alice", marks[0].Name)
	}
}

func TestSessionEmitsErrorEvents(t *testing.T) {
	ctx := context.Background()
	detector := &fakeDetector{}
	detector.setError(errors.New("detector offline"))
	m, _, _ := newTestManager(detector)

	s, err := m.Start(ctx, "u1", "p1", attendance.PolicyDaily)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.StopAll(ctx)

	ch := s.AddListener()
	defer s.RemoveListener(ch)

	go func() {
		for i := 0; i < 100; i++ {
			if _, err := m.Enqueue("u1", "p1", []byte("frame")); errors.Is(err, ErrNoSession) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ev := waitForEvent(t, ch, EventError, 3*time.Second)
	data, ok := ev.Data.(ErrorData)
	if !ok {
		t.Fatalf("event data type = %T, want ErrorData", ev.Data)
	}
	if data.Reason == "" {
		t.Error("error event should carry a reason")
	}

	// Session survives detector failures.
	if status := m.Status("u1", "p1"); !status.Running {
		t.Error("session should still be running after a detector error")
	}
}

func TestManagerStopAndStatus(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(&fakeDetector{})

	if status := m.Status("u1", "p1"); status.Running {
		t.Error("no session should be running before Start")
	}

	if _, err := m.Start(ctx, "u1", "p1", attendance.PolicyDaily); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := m.Status("u1", "p1")
	if !status.Running {
		t.Error("session should be running after Start")
	}
	if status.RosterSize != 1 {
		t.Errorf("RosterSize = %d, want 1", status.RosterSize)
	}
	if status.Threshold != 0.38 {
		t.Errorf("Threshold = %v, want default 0.38", status.Threshold)
	}

	if _, err := m.Stop(ctx, "u1", "p1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if status := m.Status("u1", "p1"); status.Running {
		t.Error("session should be gone after Stop")
	}

	// Stopping twice reports no session.
	if _, err := m.Stop(ctx, "u1", "p1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("second Stop err = %v, want ErrNoSession", err)
	}

	// A new session can start for the same project.
	if _, err := m.Start(ctx, "u1", "p1", attendance.PolicyDaily); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	m.StopAll(ctx)
}

func TestManagerStopWithExpiredContext(t *testing.T) {
	m, _, _ := newTestManager(&fakeDetector{})

	s, err := m.Start(context.Background(), "u1", "p1", attendance.PolicyDaily)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ch := s.AddListener()
	defer s.RemoveListener(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The worker is already signalled and the registry entry removed, so an
	// impatient caller still gets a successful summary.
	summary, err := m.Stop(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("Stop with expired context failed: %v", err)
	}
	if summary.MarkedCount != 0 {
		t.Errorf("MarkedCount = %d, want 0", summary.MarkedCount)
	}
	if status := m.Status("u1", "p1"); status.Running {
		t.Error("session should be gone after Stop")
	}

	// The stopped event is still broadcast once the worker exits.
	ev := waitForEvent(t, ch, EventStopped, 3*time.Second)
	if _, ok := ev.Data.(StoppedData); !ok {
		t.Errorf("event data type = %T, want StoppedData", ev.Data)
	}
}

func TestManagerThresholdSelection(t *testing.T) {
	m := NewManager(nil, nil, nil, testTuning())

	tests := []struct {
		name     string
		quality  *database.StoredQuality
		expected float64
	}{
		{"NoReport", nil, 0.38},
		{"StoredThreshold", &database.StoredQuality{OptimalThreshold: 0.45}, 0.45},
		{"ClampedHigh", &database.StoredQuality{OptimalThreshold: 0.9}, 0.5},
		{"ClampedLow", &database.StoredQuality{OptimalThreshold: 0.1}, 0.3},
		{"ZeroFallsBack", &database.StoredQuality{OptimalThreshold: 0}, 0.38},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.threshold(tt.quality); got != tt.expected {
				t.Errorf("threshold = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestManagerStopAll(t *testing.T) {
	ctx := context.Background()
	detector := &fakeDetector{}
	training := mock.NewTrainingStore()
	att := mock.NewAttendanceStore()
	for _, project := range []string{"p1", "p2", "p3"} {
		training.SetGallery("u1", project, map[string][]float32{"Alice": aliceEmbedding()})
		att.SetRoster("u1", project, []string{"Alice"})
	}
	m := NewManager(training, att, detector, testTuning())

	for _, project := range []string{"p1", "p2", "p3"} {
		if _, err := m.Start(ctx, "u1", project, attendance.PolicyDaily); err != nil {
			t.Fatalf("Start %s failed: %v", project, err)
		}
	}

	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	for _, project := range []string{"p1", "p2", "p3"} {
		if status := m.Status("u1", project); status.Running {
			t.Errorf("session %s still running after StopAll", project)
		}
	}
}
