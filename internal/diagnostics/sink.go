// Package diagnostics carries structured engine events to external
// collectors. The core only ever writes; it never reads diagnostics back.
package diagnostics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"example.com/walks/internal/log"
)

// SampleRejected is emitted when a position sample is dropped.
type SampleRejected struct {
	WalkID    string    `json:"walk_id"`
	OwnerID   string    `json:"owner_id"`
	Reason    string    `json:"reason"`
	AccuracyM float64   `json:"accuracy_m"`
	At        time.Time `json:"at"`
}

// StateChanged is emitted on every walk status transition.
type StateChanged struct {
	WalkID  string    `json:"walk_id"`
	OwnerID string    `json:"owner_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
}

// SyncFailed is emitted when a remote store operation fails.
type SyncFailed struct {
	WalkID  string    `json:"walk_id,omitempty"`
	OwnerID string    `json:"owner_id,omitempty"`
	Op      string    `json:"op"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail"`
	At      time.Time `json:"at"`
}

// Sink receives engine events. Implementations must not block the caller.
type Sink interface {
	SampleRejected(ctx context.Context, ev SampleRejected)
	StateChanged(ctx context.Context, ev StateChanged)
	SyncFailed(ctx context.Context, ev SyncFailed)
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink builds a Sink backed by the process logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.WithComponent("diagnostics")}
}

func (s *LogSink) SampleRejected(_ context.Context, ev SampleRejected) {
	s.logger.Debug().
		Str("walk_id", ev.WalkID).
		Str("owner_id", ev.OwnerID).
		Str("reason", ev.Reason).
		Float64("accuracy_m", ev.AccuracyM).
		Msg("sample rejected")
}

func (s *LogSink) StateChanged(_ context.Context, ev StateChanged) {
	s.logger.Info().
		Str("walk_id", ev.WalkID).
		Str("owner_id", ev.OwnerID).
		Str("from", ev.From).
		Str("to", ev.To).
		Msg("walk state changed")
}

func (s *LogSink) SyncFailed(_ context.Context, ev SyncFailed) {
	s.logger.Warn().
		Str("walk_id", ev.WalkID).
		Str("owner_id", ev.OwnerID).
		Str("op", ev.Op).
		Str("kind", ev.Kind).
		Str("detail", ev.Detail).
		Msg("sync failed")
}

// Nop discards every event. Handy default for tests.
type Nop struct{}

func (Nop) SampleRejected(context.Context, SampleRejected) {}
func (Nop) StateChanged(context.Context, StateChanged)     {}
func (Nop) SyncFailed(context.Context, SyncFailed)         {}

// Fanout duplicates events to several sinks.
type Fanout []Sink

func (f Fanout) SampleRejected(ctx context.Context, ev SampleRejected) {
	for _, s := range f {
		s.SampleRejected(ctx, ev)
	}
}

func (f Fanout) StateChanged(ctx context.Context, ev StateChanged) {
	for _, s := range f {
		s.StateChanged(ctx, ev)
	}
}

func (f Fanout) SyncFailed(ctx context.Context, ev SyncFailed) {
	for _, s := range f {
		s.SyncFailed(ctx, ev)
	}
}
