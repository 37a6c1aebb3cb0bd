package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"example.com/walks/internal/domain"
)

type captureSaver struct {
	mu    sync.Mutex
	saved []domain.Walk
	err   error
}

func (s *captureSaver) Save(_ context.Context, w domain.Walk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, w)
	return s.err
}

func (s *captureSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func newTestTracker(saver Saver) *Tracker {
	return New(Options{Saver: saver, AccuracyCeilingM: 50})
}

func TestStartRequiresOwner(t *testing.T) {
	tr := newTestTracker(nil)
	if _, err := tr.Start(context.Background(), "", "", ""); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestStartWhileActiveFails(t *testing.T) {
	tr := newTestTracker(nil)
	ctx := context.Background()

	first, err := tr.Start(ctx, "u1", "Morning", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := tr.Start(ctx, "u1", "Second", ""); !errors.Is(err, domain.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	// The existing walk is untouched.
	snap, ok := tr.Snapshot()
	if !ok || snap.ID != first.ID || snap.Title != "Morning" {
		t.Fatalf("existing walk was disturbed: %+v", snap)
	}
}

func TestPauseGatesSamples(t *testing.T) {
	tr := newTestTracker(nil)
	ctx := context.Background()
	if _, err := tr.Start(ctx, "u1", "", ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	base := time.Now()
	if ok, err := tr.AddSample(ctx, domain.Sample{Lat: 35.681, Lon: 139.767, AccuracyM: 5, Timestamp: base}); err != nil || !ok {
		t.Fatalf("sample not accepted: ok=%v err=%v", ok, err)
	}

	if err := tr.Pause(ctx); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if ok, err := tr.AddSample(ctx, domain.Sample{Lat: 35.682, Lon: 139.768, AccuracyM: 5, Timestamp: base.Add(time.Second)}); err != nil || ok {
		t.Fatalf("paused sample should be gated: ok=%v err=%v", ok, err)
	}

	if err := tr.Resume(ctx); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if ok, err := tr.AddSample(ctx, domain.Sample{Lat: 35.682, Lon: 139.768, AccuracyM: 5, Timestamp: base.Add(2 * time.Second)}); err != nil || !ok {
		t.Fatalf("resumed sample not accepted: ok=%v err=%v", ok, err)
	}

	snap, _ := tr.Snapshot()
	if len(snap.Route) != 2 {
		t.Fatalf("route length = %d, want 2", len(snap.Route))
	}
}

func TestPauseOutsideRecording(t *testing.T) {
	tr := newTestTracker(nil)
	if err := tr.Pause(context.Background()); !domain.IsKind(err, domain.KindInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
}

func TestCompleteSubmitsFinalMetrics(t *testing.T) {
	saver := &captureSaver{}
	tr := newTestTracker(saver)
	ctx := context.Background()

	if _, err := tr.Start(ctx, "u1", "Loop", ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	base := time.Now()
	tr.AddSample(ctx, domain.Sample{Lat: 35.681, Lon: 139.767, AccuracyM: 5, Timestamp: base})
	tr.AddSample(ctx, domain.Sample{Lat: 35.682, Lon: 139.768, AccuracyM: 5, Timestamp: base.Add(10 * time.Second)})
	tr.OnStepReading(1000)
	tr.OnStepReading(1150)

	walk, err := tr.Complete(ctx)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if walk.Status != domain.StatusCompleted || walk.EndedAt == nil {
		t.Fatalf("walk not finalized: %+v", walk)
	}
	if len(walk.Route) != 2 {
		t.Fatalf("route length = %d, want 2", len(walk.Route))
	}
	if walk.TotalDistanceMeters < 125 || walk.TotalDistanceMeters > 160 {
		t.Fatalf("distance = %f, want roughly 140m", walk.TotalDistanceMeters)
	}
	if walk.TotalSteps != 150 {
		t.Fatalf("steps = %d, want 150", walk.TotalSteps)
	}
	if saver.count() != 1 {
		t.Fatalf("saver called %d times, want 1", saver.count())
	}

	// Completing frees the tracker for a new walk immediately.
	if _, err := tr.Start(ctx, "u1", "Next", ""); err != nil {
		t.Fatalf("Start after Complete failed: %v", err)
	}
}

func TestCompleteWithoutSamplesStillSaves(t *testing.T) {
	saver := &captureSaver{}
	tr := newTestTracker(saver)
	ctx := context.Background()

	tr.Start(ctx, "u1", "", "")
	walk, err := tr.Complete(ctx)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if len(walk.Route) != 0 || walk.TotalDistanceMeters != 0 {
		t.Fatalf("expected empty metrics, got %+v", walk)
	}
	if saver.count() != 1 {
		t.Fatal("title-only walk must still be persisted")
	}
}

func TestCancelDiscardsWithoutSaving(t *testing.T) {
	saver := &captureSaver{}
	tr := newTestTracker(saver)
	ctx := context.Background()

	tr.Start(ctx, "u1", "", "")
	if err := tr.Cancel(ctx); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := tr.Cancel(ctx); err != nil {
		t.Fatalf("second Cancel should be a no-op, got %v", err)
	}
	if saver.count() != 0 {
		t.Fatal("cancelled walk must never be persisted")
	}
	if _, ok := tr.Snapshot(); ok {
		t.Fatal("snapshot should be empty after cancel")
	}
}

func TestStepReadingsAccrueWhilePaused(t *testing.T) {
	tr := newTestTracker(nil)
	ctx := context.Background()

	tr.Start(ctx, "u1", "", "")
	tr.OnStepReading(100)
	tr.Pause(ctx)

	// The motion sensor keeps counting during the pause.
	tr.OnStepReading(130)
	tr.Resume(ctx)

	delta, err := tr.OnStepReading(150)
	if err != nil {
		t.Fatalf("OnStepReading failed: %v", err)
	}
	if delta != 50 {
		t.Fatalf("delta = %d, want 50 (baseline preserved across pause)", delta)
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	tr := newTestTracker(&captureSaver{})
	ctx := context.Background()

	events, cancel := tr.Subscribe()
	defer cancel()

	tr.Start(ctx, "u1", "", "")
	tr.Pause(ctx)
	tr.Resume(ctx)
	tr.Complete(ctx)

	want := []EventType{EventStarted, EventPaused, EventResumed, EventCompleted}
	for i, wantType := range want {
		select {
		case ev := <-events:
			if ev.Type != wantType {
				t.Fatalf("event %d = %s, want %s", i, ev.Type, wantType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", wantType)
		}
	}
}

func TestElapsedFreezesWhilePaused(t *testing.T) {
	clock := time.Date(2025, time.March, 9, 8, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	tr := New(Options{Now: now})
	ctx := context.Background()

	tr.Start(ctx, "u1", "", "")
	clock = clock.Add(5 * time.Minute)
	tr.Pause(ctx)
	clock = clock.Add(10 * time.Minute)

	if got := tr.Elapsed(); got != 5*time.Minute {
		t.Fatalf("paused elapsed = %v, want 5m", got)
	}

	tr.Resume(ctx)
	clock = clock.Add(2 * time.Minute)
	if got := tr.Elapsed(); got != 7*time.Minute {
		t.Fatalf("elapsed = %v, want 7m", got)
	}
}
