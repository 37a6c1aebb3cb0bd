package diagnostics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"example.com/walks/internal/log"
)

// Topics carrying diagnostics events downstream.
const (
	TopicSampleRejected = "walk_samples_rejected"
	TopicStateChanged   = "walk_state_changed"
	TopicSyncFailed     = "walk_sync_failed"
)

const emitTimeout = 5 * time.Second

// KafkaSink publishes diagnostics events to Kafka. Writers are created
// lazily per topic. Emission is best-effort and asynchronous: a slow or
// unreachable broker never blocks the session engine.
type KafkaSink struct {
	brokers []string
	logger  zerolog.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	wg      sync.WaitGroup
}

// NewKafkaSink creates a KafkaSink for the given brokers.
func NewKafkaSink(brokers []string) *KafkaSink {
	return &KafkaSink{
		brokers: brokers,
		logger:  log.WithComponent("diagnostics-kafka"),
		writers: make(map[string]*kafka.Writer),
	}
}

func (s *KafkaSink) SampleRejected(_ context.Context, ev SampleRejected) {
	s.emit(TopicSampleRejected, "sample.rejected", ev.OwnerID, ev)
}

func (s *KafkaSink) StateChanged(_ context.Context, ev StateChanged) {
	s.emit(TopicStateChanged, "walk.state_changed", ev.OwnerID, ev)
}

func (s *KafkaSink) SyncFailed(_ context.Context, ev SyncFailed) {
	s.emit(TopicSyncFailed, "walk.sync_failed", ev.OwnerID, ev)
}

// emit publishes one event keyed by owner so all events for a walk land on
// the same partition, in order.
func (s *KafkaSink) emit(topic, eventType, ownerID string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("marshal failed")
		return
	}

	msg := kafka.Message{
		Key:   []byte(ownerID),
		Value: body,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "owner_id", Value: []byte(ownerID)},
		},
	}

	writer := s.writerForTopic(topic)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := writer.WriteMessages(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("diagnostics emit failed")
		}
	}()
}

func (s *KafkaSink) writerForTopic(topic string) *kafka.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if writer, ok := s.writers[topic]; ok {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(s.brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	s.writers[topic] = writer
	return writer
}

// Close waits for in-flight emits and releases all writers.
func (s *KafkaSink) Close() error {
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for topic, writer := range s.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.writers, topic)
	}
	return firstErr
}
