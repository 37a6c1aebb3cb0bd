// Package domain defines the walk aggregate, its state machine, and the
// metric derivation rules for routes and step counts.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a walk.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// transitions is the complete set of legal status changes. Anything not
// listed here is rejected with KindInvalidState.
var transitions = map[Status][]Status{
	StatusNotStarted: {StatusInProgress},
	StatusInProgress: {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:     {StatusInProgress, StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Sample is a single timestamped position reading.
type Sample struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AccuracyM float64   `json:"accuracy"`
	SpeedMPS  float64   `json:"speed,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Walk is the aggregate root for one recorded walk. All mutation goes through
// the methods below; a completed walk is immutable except for the thumbnail.
type Walk struct {
	ID                  string     `json:"id"`
	OwnerID             string     `json:"owner_id"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Status              Status     `json:"status"`
	StartedAt           time.Time  `json:"started_at"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	Route               []Sample   `json:"route"`
	TotalDistanceMeters float64    `json:"total_distance_m"`
	TotalSteps          int64      `json:"total_steps"`
	ThumbnailRef        string     `json:"thumbnail_ref,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`

	pausedAt    time.Time
	pausedTotal time.Duration
}

// NewWalk builds a walk in NotStarted for the given owner. An owner is
// required before a walk may exist at all.
func NewWalk(ownerID, title, description string) (*Walk, error) {
	if ownerID == "" {
		return nil, ErrUnauthenticated
	}
	now := time.Now().UTC()
	return &Walk{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Status:      StatusNotStarted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (w *Walk) transition(to Status, now time.Time) error {
	if !CanTransition(w.Status, to) {
		return Wrap(KindInvalidState, string(w.Status), fmt.Errorf("cannot transition to %s", to))
	}
	w.Status = to
	w.UpdatedAt = now.UTC()
	return nil
}

// Begin moves the walk into InProgress and stamps startedAt. A title is
// generated from the start time when none was supplied.
func (w *Walk) Begin(now time.Time) error {
	if w.Status != StatusNotStarted {
		return ErrAlreadyActive
	}
	if err := w.transition(StatusInProgress, now); err != nil {
		return err
	}
	w.StartedAt = now.UTC()
	if w.Title == "" {
		w.Title = "Walk on " + w.StartedAt.Format("Jan 2, 2006")
	}
	return nil
}

// Pause freezes elapsed-time accrual. Only valid from InProgress.
func (w *Walk) Pause(now time.Time) error {
	if w.Status != StatusInProgress {
		return ErrNotRecording
	}
	if err := w.transition(StatusPaused, now); err != nil {
		return err
	}
	w.pausedAt = now.UTC()
	return nil
}

// Resume re-enables recording. Only valid from Paused.
func (w *Walk) Resume(now time.Time) error {
	if w.Status != StatusPaused {
		return ErrNotPaused
	}
	if err := w.transition(StatusInProgress, now); err != nil {
		return err
	}
	w.pausedTotal += now.UTC().Sub(w.pausedAt)
	w.pausedAt = time.Time{}
	return nil
}

// Complete finalizes the walk. Valid from InProgress or Paused. A walk with
// zero samples is still completable; the empty route is meaningful telemetry.
func (w *Walk) Complete(now time.Time) error {
	if w.Status != StatusInProgress && w.Status != StatusPaused {
		return ErrNoActiveWalk
	}
	if w.Status == StatusPaused {
		w.pausedTotal += now.UTC().Sub(w.pausedAt)
		w.pausedAt = time.Time{}
	}
	if err := w.transition(StatusCompleted, now); err != nil {
		return err
	}
	ended := now.UTC()
	w.EndedAt = &ended
	return nil
}

// Cancel discards the walk. Valid from InProgress or Paused, and idempotent:
// cancelling an already cancelled walk is a no-op.
func (w *Walk) Cancel(now time.Time) error {
	if w.Status == StatusCancelled {
		return nil
	}
	if w.Status != StatusInProgress && w.Status != StatusPaused {
		return ErrNoActiveWalk
	}
	return w.transition(StatusCancelled, now)
}

// Elapsed returns recording time as monotonic reads against the clock:
// now - startedAt - pausedTotal. No timer is involved.
func (w *Walk) Elapsed(now time.Time) time.Duration {
	switch w.Status {
	case StatusNotStarted:
		return 0
	case StatusCompleted:
		if w.EndedAt == nil {
			return 0
		}
		return w.EndedAt.Sub(w.StartedAt) - w.pausedTotal
	case StatusPaused:
		return w.pausedAt.Sub(w.StartedAt) - w.pausedTotal
	default:
		return now.UTC().Sub(w.StartedAt) - w.pausedTotal
	}
}

// Active reports whether the walk still accepts lifecycle operations.
func (w *Walk) Active() bool {
	return w.Status == StatusInProgress || w.Status == StatusPaused
}

// AttachThumbnail sets the external asset reference. This is the only
// mutation permitted after completion.
func (w *Walk) AttachThumbnail(ref string) error {
	if w.Status != StatusCompleted {
		return E(KindInvalidState, "thumbnail attaches to completed walks only")
	}
	w.ThumbnailRef = ref
	w.UpdatedAt = time.Now().UTC()
	return nil
}
