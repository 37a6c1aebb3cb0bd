package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/walks/internal/tracker"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []Message
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, msg)
	return nil
}

func telemetryMessage(t *testing.T, topic, eventType, ownerID string, payload interface{}) kafka.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return kafka.Message{
		Topic: topic,
		Value: body,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "owner_id", Value: []byte(ownerID)},
		},
	}
}

func runProcessor(t *testing.T, reader *fakeReader, handler Handler, wait func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewProcessor(reader, handler).Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !wait() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("processor did not reach expected state in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestProcessorDispatchesAndCommits(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		telemetryMessage(t, TopicPositionSamples, EventPositionSample, "u1", PositionPayload{
			Lat: 35.681, Lon: 139.767, AccuracyM: 5, Timestamp: time.Now(),
		}),
	}}
	handler := &recordingHandler{}

	runProcessor(t, reader, handler, func() bool { return reader.committedCount() == 1 })

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.events) != 1 {
		t.Fatalf("handled %d events, want 1", len(handler.events))
	}
	if handler.events[0].EventType != EventPositionSample || handler.events[0].OwnerID != "u1" {
		t.Fatalf("unexpected event: %+v", handler.events[0])
	}
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		// No headers and invalid JSON: committed without handling, so the
		// partition never wedges on a poison pill.
		{Topic: TopicPositionSamples, Value: []byte("{not-json")},
	}}
	handler := &recordingHandler{}

	runProcessor(t, reader, handler, func() bool { return reader.committedCount() == 1 })

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.events) != 0 {
		t.Fatalf("malformed message should not reach the handler, got %d", len(handler.events))
	}
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		telemetryMessage(t, TopicStepReadings, EventStepReading, "u1", StepPayload{Raw: 100}),
	}}
	handler := &recordingHandler{err: errors.New("boom")}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = NewProcessor(reader, handler).Run(ctx)

	if reader.committedCount() != 0 {
		t.Fatalf("failed message was committed %d times, want 0", reader.committedCount())
	}
}

func newTelemetryRegistry() *tracker.Registry {
	return tracker.NewRegistry(nil, func(string) *tracker.Tracker {
		return tracker.New(tracker.Options{AccuracyCeilingM: 50})
	})
}

func TestTelemetryHandlerFeedsTracker(t *testing.T) {
	registry := newTelemetryRegistry()
	tr, err := registry.ForOwner("u1")
	if err != nil {
		t.Fatalf("ForOwner failed: %v", err)
	}
	if _, err := tr.Start(context.Background(), "u1", "", ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	handler := NewTelemetryHandler(registry)
	base := time.Now()

	msg := Message{
		Topic:     TopicPositionSamples,
		EventType: EventPositionSample,
		OwnerID:   "u1",
		Payload:   mustJSON(t, PositionPayload{Lat: 35.681, Lon: 139.767, AccuracyM: 5, Timestamp: base}),
	}
	if err := handler.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	steps := Message{
		Topic:     TopicStepReadings,
		EventType: EventStepReading,
		OwnerID:   "u1",
		Payload:   mustJSON(t, StepPayload{Raw: 100, At: base}),
	}
	if err := handler.Handle(context.Background(), steps); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	snap, ok := tr.Snapshot()
	if !ok || len(snap.Route) != 1 {
		t.Fatalf("route length = %d, want 1", len(snap.Route))
	}
}

func TestTelemetryHandlerDropsWithoutActiveWalk(t *testing.T) {
	handler := NewTelemetryHandler(newTelemetryRegistry())

	msg := Message{
		Topic:     TopicPositionSamples,
		EventType: EventPositionSample,
		OwnerID:   "idle-user",
		Payload:   mustJSON(t, PositionPayload{Lat: 1, Lon: 2, AccuracyM: 5, Timestamp: time.Now()}),
	}
	if err := handler.Handle(context.Background(), msg); err != nil {
		t.Fatalf("telemetry without active walk should be dropped, got %v", err)
	}
}

func TestTelemetryHandlerRejectsUnknownEventType(t *testing.T) {
	handler := NewTelemetryHandler(newTelemetryRegistry())
	msg := Message{EventType: "bogus", OwnerID: "u1", Payload: []byte("{}")}
	if err := handler.Handle(context.Background(), msg); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
