// Package tracker drives the lifecycle of a recorded walk: it serializes all
// session mutations, gates sensor delivery across pause/resume, derives live
// metrics, and hands finished walks to the sync layer.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/walks/internal/diagnostics"
	"example.com/walks/internal/domain"
	"example.com/walks/internal/log"
	"example.com/walks/internal/observability"
)

// Saver is the downstream persistence handoff for completed walks.
type Saver interface {
	Save(ctx context.Context, w domain.Walk) error
}

// Options configures a Tracker. Position and Motion are optional: when a
// source is absent the walk still records whatever the other signals provide.
type Options struct {
	Position         PositionSource
	Motion           MotionSource
	Saver            Saver
	Sink             diagnostics.Sink
	AccuracyCeilingM float64
	Now              func() time.Time
}

// Tracker owns at most one live walk at a time. Every mutation runs under a
// single mutex: sample ingestion, pause/resume, and completion never
// interleave.
type Tracker struct {
	position PositionSource
	motion   MotionSource
	saver    Saver
	sink     diagnostics.Sink
	ceiling  float64
	now      func() time.Time
	logger   zerolog.Logger
	events   *broadcaster

	mu         sync.Mutex
	walk       *domain.Walk
	route      *domain.RouteAggregator
	steps      *domain.StepCounter
	stepsBase  int64
	pumpCancel context.CancelFunc
	pumpGen    uint64
}

// New constructs a Tracker.
func New(opts Options) *Tracker {
	sink := opts.Sink
	if sink == nil {
		sink = diagnostics.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		position: opts.Position,
		motion:   opts.Motion,
		saver:    opts.Saver,
		sink:     sink,
		ceiling:  opts.AccuracyCeilingM,
		now:      now,
		logger:   log.WithComponent("tracker"),
		events:   newBroadcaster(),
	}
}

// Subscribe registers a lifecycle event listener.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	return t.events.Subscribe()
}

// Start creates a walk for the owner and begins recording. It fails with
// ErrAlreadyActive while another walk is live; the existing walk is left
// untouched.
func (t *Tracker) Start(ctx context.Context, ownerID, title, description string) (domain.Walk, error) {
	if ownerID == "" {
		return domain.Walk{}, domain.ErrUnauthenticated
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.walk != nil && t.walk.Active() {
		return domain.Walk{}, domain.ErrAlreadyActive
	}

	walk, err := domain.NewWalk(ownerID, title, description)
	if err != nil {
		return domain.Walk{}, err
	}

	now := t.now()
	if err := walk.Begin(now); err != nil {
		return domain.Walk{}, err
	}

	t.walk = walk
	t.route = domain.NewRouteAggregator(t.ceiling)
	t.steps = &domain.StepCounter{}
	t.steps.Begin(true)
	t.stepsBase = 0

	t.startSensorsLocked(ctx, now)
	t.noteTransitionLocked(ctx, EventStarted, string(domain.StatusNotStarted))

	return t.snapshotLocked(), nil
}

// Adopt installs an existing in-flight walk as the live session, rebuilding
// the route aggregator from its samples and carrying the step total forward
// as a baseline. It backs lifecycle mirroring and session restore after a
// process restart. Adopting the walk that is already live is a no-op.
func (t *Tracker) Adopt(ctx context.Context, w domain.Walk) error {
	if w.OwnerID == "" {
		return domain.ErrUnauthenticated
	}
	if !w.Active() {
		return domain.E(domain.KindInvalidState, "only an in-flight walk can be adopted")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.walk != nil {
		if t.walk.ID == w.ID {
			return nil
		}
		return domain.ErrAlreadyActive
	}

	route := domain.NewRouteAggregator(t.ceiling)
	for _, s := range w.Route {
		route.Add(s)
	}

	walk := w
	t.walk = &walk
	t.route = route
	t.steps = &domain.StepCounter{}
	t.steps.Begin(true)
	t.stepsBase = w.TotalSteps

	t.startSensorsLocked(ctx, t.now())
	return nil
}

// Pause freezes elapsed-time accrual and stops accepting position samples.
// The motion source keeps running: steps taken while paused count toward the
// session total.
func (t *Tracker) Pause(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.walk == nil {
		return domain.ErrNotRecording
	}
	from := string(t.walk.Status)
	if err := t.walk.Pause(t.now()); err != nil {
		return err
	}
	t.noteTransitionLocked(ctx, EventPaused, from)
	return nil
}

// Resume re-enables sample ingestion. The step baseline is not re-armed; the
// sensors were never stopped, only their delivery was gated.
func (t *Tracker) Resume(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.walk == nil {
		return domain.ErrNotPaused
	}
	from := string(t.walk.Status)
	if err := t.walk.Resume(t.now()); err != nil {
		return err
	}
	t.steps.Begin(false)
	t.noteTransitionLocked(ctx, EventResumed, from)
	return nil
}

// Complete finalizes the walk and initiates the save. The tracker is free
// for a new Start as soon as the save is initiated; the save itself reports
// remote failures through the sync layer's side channel.
func (t *Tracker) Complete(ctx context.Context) (domain.Walk, error) {
	t.mu.Lock()

	if t.walk == nil {
		t.mu.Unlock()
		return domain.Walk{}, domain.ErrNoActiveWalk
	}
	from := string(t.walk.Status)
	if err := t.walk.Complete(t.now()); err != nil {
		t.mu.Unlock()
		return domain.Walk{}, err
	}

	snap := t.snapshotLocked()
	t.stopSensorsLocked()
	t.walk = nil
	t.route = nil
	t.steps = nil
	t.noteTransition(ctx, snap, EventCompleted, from)
	t.mu.Unlock()

	if t.saver == nil {
		return snap, nil
	}
	if err := t.saver.Save(ctx, snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Cancel discards the live walk without persisting anything. Calling it
// again is a no-op.
func (t *Tracker) Cancel(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.walk == nil {
		return nil
	}
	from := string(t.walk.Status)
	if err := t.walk.Cancel(t.now()); err != nil {
		return err
	}

	snap := t.snapshotLocked()
	t.stopSensorsLocked()
	t.walk = nil
	t.route = nil
	t.steps = nil
	t.noteTransition(ctx, snap, EventCancelled, from)
	return nil
}

// AddSample feeds one position sample into the live walk. While paused the
// sample is gated (dropped, accepted=false, no error). Samples rejected by
// the aggregator are counted and reported to diagnostics, never errors.
func (t *Tracker) AddSample(ctx context.Context, s domain.Sample) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.walk == nil {
		return false, domain.ErrNoActiveWalk
	}
	return t.addSampleLocked(ctx, s), nil
}

func (t *Tracker) addSampleLocked(ctx context.Context, s domain.Sample) bool {
	if t.walk.Status != domain.StatusInProgress {
		return false
	}

	reason := t.route.Add(s)
	if reason != domain.RejectNone {
		observability.RecordSampleRejected(string(reason))
		t.sink.SampleRejected(ctx, diagnostics.SampleRejected{
			WalkID:    t.walk.ID,
			OwnerID:   t.walk.OwnerID,
			Reason:    string(reason),
			AccuracyM: s.AccuracyM,
			At:        t.now().UTC(),
		})
		return false
	}

	observability.RecordSampleAccepted()
	return true
}

// OnStepReading folds a cumulative step-counter reading into the session
// delta. Readings are accepted while paused as well.
func (t *Tracker) OnStepReading(raw int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.walk == nil {
		return 0, domain.ErrNoActiveWalk
	}
	return t.steps.OnReading(raw), nil
}

// ReportSensorFailure surfaces a motion/position failure without blocking the
// session. The walk keeps its last known step value and stays completable.
func (t *Tracker) ReportSensorFailure(err error) {
	kind := domain.KindOf(err)
	t.logger.Warn().Err(err).Str("kind", string(kind)).Msg("sensor failure")
}

// Snapshot returns a copy of the live walk with current derived metrics.
func (t *Tracker) Snapshot() (domain.Walk, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.walk == nil {
		return domain.Walk{}, false
	}
	return t.snapshotLocked(), true
}

// Elapsed returns recording time for the live walk as a monotonic clock read.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.walk == nil {
		return 0
	}
	return t.walk.Elapsed(t.now())
}

// Active reports whether a walk is currently recording or paused.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.walk != nil && t.walk.Active()
}

func (t *Tracker) snapshotLocked() domain.Walk {
	snap := *t.walk
	if t.route != nil {
		samples := t.route.Samples()
		snap.Route = make([]domain.Sample, len(samples))
		copy(snap.Route, samples)
		snap.TotalDistanceMeters = t.route.DistanceMeters()
	}
	if t.steps != nil {
		snap.TotalSteps = t.stepsBase + t.steps.Steps()
	}
	return snap
}

func (t *Tracker) noteTransitionLocked(ctx context.Context, ev EventType, from string) {
	t.noteTransition(ctx, t.snapshotLocked(), ev, from)
}

func (t *Tracker) noteTransition(ctx context.Context, snap domain.Walk, ev EventType, from string) {
	at := t.now().UTC()
	observability.RecordStateTransition(string(snap.Status))
	t.sink.StateChanged(ctx, diagnostics.StateChanged{
		WalkID:  snap.ID,
		OwnerID: snap.OwnerID,
		From:    from,
		To:      string(snap.Status),
		At:      at,
	})
	t.events.publish(Event{
		Type:    ev,
		WalkID:  snap.ID,
		OwnerID: snap.OwnerID,
		Status:  snap.Status,
		At:      at,
	})
}

// startSensorsLocked asks the injected sources to begin emitting and spawns
// the delivery pump. Sensor trouble degrades the walk, it never fails Start.
func (t *Tracker) startSensorsLocked(ctx context.Context, from time.Time) {
	var posCh <-chan domain.Sample
	var stepCh <-chan StepReading

	if t.position != nil {
		if err := t.position.RequestPermission(ctx, PermissionWhileInUse); err != nil {
			t.ReportSensorFailure(err)
		} else if ch, err := t.position.Start(ctx); err != nil {
			t.ReportSensorFailure(err)
		} else {
			posCh = ch
		}
	}

	if t.motion != nil {
		if !t.motion.Available() {
			t.ReportSensorFailure(domain.E(domain.KindSensorUnavailable, "no motion hardware"))
		} else if ch, err := t.motion.Start(ctx, from); err != nil {
			t.ReportSensorFailure(err)
		} else {
			stepCh = ch
		}
	}

	if posCh == nil && stepCh == nil {
		return
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	t.pumpCancel = cancel
	t.pumpGen++
	go t.pump(pumpCtx, t.pumpGen, posCh, stepCh)
}

// pump moves sensor deliveries onto the tracker's single-writer path. It
// drains the channels even while the walk is paused; gating happens inside
// deliverSample, not here. The generation stamp fences a cancelled pump: a
// delivery that lost the shutdown race can never reach a later walk.
func (t *Tracker) pump(ctx context.Context, gen uint64, posCh <-chan domain.Sample, stepCh <-chan StepReading) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-posCh:
			if !ok {
				posCh = nil
				continue
			}
			if !t.deliverSample(ctx, gen, s) {
				return
			}
		case r, ok := <-stepCh:
			if !ok {
				stepCh = nil
				continue
			}
			if r.Err != nil {
				t.ReportSensorFailure(r.Err)
				continue
			}
			if !t.deliverStep(gen, r.Raw) {
				return
			}
		}
	}
}

// deliverSample applies a pump delivery to the walk that owns the pump. It
// reports false once the pump's generation is stale, telling it to exit.
func (t *Tracker) deliverSample(ctx context.Context, gen uint64, s domain.Sample) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.pumpGen || t.walk == nil {
		return false
	}
	t.addSampleLocked(ctx, s)
	return true
}

func (t *Tracker) deliverStep(gen uint64, raw int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.pumpGen || t.walk == nil {
		return false
	}
	t.steps.OnReading(raw)
	return true
}

func (t *Tracker) stopSensorsLocked() {
	t.pumpGen++
	if t.pumpCancel != nil {
		t.pumpCancel()
		t.pumpCancel = nil
	}
	if t.position != nil {
		if err := t.position.Stop(); err != nil {
			t.logger.Warn().Err(err).Msg("position source stop failed")
		}
	}
	if t.motion != nil {
		if err := t.motion.Stop(); err != nil {
			t.logger.Warn().Err(err).Msg("motion source stop failed")
		}
	}
}
