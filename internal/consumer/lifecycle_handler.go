package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"example.com/walks/internal/diagnostics"
	"example.com/walks/internal/domain"
	"example.com/walks/internal/log"
	"example.com/walks/internal/tracker"
)

// EventStateChanged is the header value carried by walk_state_changed
// messages.
const EventStateChanged = "walk.state_changed"

// LifecycleHandler mirrors walk state transitions published by another
// process into the local tracker registry. Telemetry handlers then have a
// live walk to feed, even though the walk was started elsewhere.
type LifecycleHandler struct {
	registry *tracker.Registry
	logger   zerolog.Logger
}

// NewLifecycleHandler constructs a LifecycleHandler.
func NewLifecycleHandler(registry *tracker.Registry) *LifecycleHandler {
	return &LifecycleHandler{
		registry: registry,
		logger:   log.WithComponent("lifecycle"),
	}
}

// Handle applies one state-change event to the owner's mirror tracker.
// Replayed or out-of-order transitions are dropped: the mirror converges on
// the next event either way.
func (h *LifecycleHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != EventStateChanged {
		return fmt.Errorf("unknown event type: %s", msg.EventType)
	}

	var ev diagnostics.StateChanged
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("decode state change payload: %w", err)
	}

	tr, err := h.registry.ForOwner(ev.OwnerID)
	if err != nil {
		return err
	}

	switch domain.Status(ev.To) {
	case domain.StatusInProgress:
		if domain.Status(ev.From) == domain.StatusPaused {
			err = tr.Resume(ctx)
		} else {
			err = tr.Adopt(ctx, domain.Walk{
				ID:        ev.WalkID,
				OwnerID:   ev.OwnerID,
				Status:    domain.StatusInProgress,
				StartedAt: ev.At,
				CreatedAt: ev.At,
				UpdatedAt: ev.At,
			})
		}
	case domain.StatusPaused:
		err = tr.Pause(ctx)
	case domain.StatusCompleted:
		_, err = tr.Complete(ctx)
		h.registry.Release(ev.OwnerID)
	case domain.StatusCancelled:
		err = tr.Cancel(ctx)
		h.registry.Release(ev.OwnerID)
	default:
		return fmt.Errorf("unknown walk status: %s", ev.To)
	}

	if err != nil && domain.IsKind(err, domain.KindInvalidState) {
		h.logger.Debug().
			Str("walk_id", ev.WalkID).
			Str("owner_id", ev.OwnerID).
			Str("from", ev.From).
			Str("to", ev.To).
			Msg("stale state change dropped")
		return nil
	}
	return err
}
