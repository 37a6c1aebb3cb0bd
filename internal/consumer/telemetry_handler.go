package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"example.com/walks/internal/domain"
	"example.com/walks/internal/log"
	"example.com/walks/internal/tracker"
)

// PositionPayload is the body of a position.sample message.
type PositionPayload struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AccuracyM float64   `json:"accuracy"`
	SpeedMPS  float64   `json:"speed,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// StepPayload is the body of a step.reading message.
type StepPayload struct {
	Raw int64     `json:"raw"`
	At  time.Time `json:"at"`
}

// TelemetryHandler routes decoded telemetry into the owner's tracker.
type TelemetryHandler struct {
	registry *tracker.Registry
	logger   zerolog.Logger
}

// NewTelemetryHandler constructs a TelemetryHandler.
func NewTelemetryHandler(registry *tracker.Registry) *TelemetryHandler {
	return &TelemetryHandler{
		registry: registry,
		logger:   log.WithComponent("telemetry"),
	}
}

// Handle dispatches one message. Telemetry arriving when the owner has no
// active walk is dropped, not retried: replaying it later could never be
// accepted anyway.
func (h *TelemetryHandler) Handle(ctx context.Context, msg Message) error {
	tr, err := h.registry.ForOwner(msg.OwnerID)
	if err != nil {
		return err
	}

	switch msg.EventType {
	case EventPositionSample:
		var p PositionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode position payload: %w", err)
		}
		_, err := tr.AddSample(ctx, domain.Sample{
			Lat:       p.Lat,
			Lon:       p.Lon,
			AccuracyM: p.AccuracyM,
			SpeedMPS:  p.SpeedMPS,
			Timestamp: p.Timestamp,
		})
		return h.dropIfInactive(msg, err)

	case EventStepReading:
		var p StepPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode step payload: %w", err)
		}
		_, err := tr.OnStepReading(p.Raw)
		return h.dropIfInactive(msg, err)

	default:
		return fmt.Errorf("unknown event type: %s", msg.EventType)
	}
}

func (h *TelemetryHandler) dropIfInactive(msg Message, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNoActiveWalk) {
		h.logger.Debug().
			Str("owner_id", msg.OwnerID).
			Str("event_type", msg.EventType).
			Msg("telemetry without active walk dropped")
		return nil
	}
	return err
}
