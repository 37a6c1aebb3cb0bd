package tracker

import (
	"context"
	"time"

	"example.com/walks/internal/domain"
)

// PermissionLevel is the position accuracy grant requested from the platform.
type PermissionLevel string

const (
	PermissionWhileInUse PermissionLevel = "while_in_use"
	PermissionAlways     PermissionLevel = "always"
)

// PositionSource is the platform adapter delivering raw position fixes. The
// engine only consumes the stream; sensor lifecycle policy stays with the
// adapter.
type PositionSource interface {
	RequestPermission(ctx context.Context, level PermissionLevel) error
	Start(ctx context.Context) (<-chan domain.Sample, error)
	Stop() error
}

// StepReading is one cumulative step-counter reading, or a typed sensor
// failure carried in-stream.
type StepReading struct {
	Raw int64
	At  time.Time
	Err error
}

// MotionSource is the platform adapter delivering cumulative step counts.
type MotionSource interface {
	Available() bool
	Start(ctx context.Context, from time.Time) (<-chan StepReading, error)
	Stop() error
}
