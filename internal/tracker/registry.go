package tracker

import (
	"context"
	"sync"

	"example.com/walks/internal/domain"
	"example.com/walks/internal/observability"
)

// Factory builds the tracker for one owner, wiring in that owner's sensor
// adapters.
type Factory func(ownerID string) *Tracker

// Registry enforces the one-active-walk-per-owner rule and routes lifecycle
// calls to the right tracker. Identity is resolved fresh on every call.
type Registry struct {
	identity domain.IdentityProvider
	factory  Factory

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewRegistry constructs a Registry.
func NewRegistry(identity domain.IdentityProvider, factory Factory) *Registry {
	return &Registry{
		identity: identity,
		factory:  factory,
		trackers: make(map[string]*Tracker),
	}
}

// ForCurrentUser resolves the caller's tracker, creating it on first use.
func (r *Registry) ForCurrentUser(ctx context.Context) (*Tracker, string, error) {
	ownerID, err := r.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, "", err
	}
	return r.forOwner(ownerID), ownerID, nil
}

// ForOwner returns the tracker for a known owner id. Used by the telemetry
// consumer where identity rides on the message.
func (r *Registry) ForOwner(ownerID string) (*Tracker, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthenticated
	}
	return r.forOwner(ownerID), nil
}

func (r *Registry) forOwner(ownerID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.trackers[ownerID]; ok {
		return t
	}
	t := r.factory(ownerID)
	r.trackers[ownerID] = t
	return t
}

// Start begins a walk for the authenticated caller.
func (r *Registry) Start(ctx context.Context, title, description string) (domain.Walk, error) {
	t, ownerID, err := r.ForCurrentUser(ctx)
	if err != nil {
		return domain.Walk{}, err
	}
	w, err := t.Start(ctx, ownerID, title, description)
	r.updateActiveGauge()
	return w, err
}

// Pause suspends the caller's active walk.
func (r *Registry) Pause(ctx context.Context) error {
	t, _, err := r.ForCurrentUser(ctx)
	if err != nil {
		return err
	}
	return t.Pause(ctx)
}

// Resume continues the caller's paused walk.
func (r *Registry) Resume(ctx context.Context) error {
	t, _, err := r.ForCurrentUser(ctx)
	if err != nil {
		return err
	}
	return t.Resume(ctx)
}

// Complete finalizes the caller's walk and hands it to the sync layer.
func (r *Registry) Complete(ctx context.Context) (domain.Walk, error) {
	t, ownerID, err := r.ForCurrentUser(ctx)
	if err != nil {
		return domain.Walk{}, err
	}
	w, cerr := t.Complete(ctx)
	r.Release(ownerID)
	return w, cerr
}

// Cancel discards the caller's walk.
func (r *Registry) Cancel(ctx context.Context) error {
	t, ownerID, err := r.ForCurrentUser(ctx)
	if err != nil {
		return err
	}
	cerr := t.Cancel(ctx)
	r.Release(ownerID)
	return cerr
}

// Release drops the owner's tracker once its walk is finished, so the map
// does not grow with every owner ever seen. The next call for the owner
// builds a fresh tracker. A tracker with a live walk is kept.
func (r *Registry) Release(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.trackers[ownerID]; ok && !t.Active() {
		delete(r.trackers, ownerID)
	}
	observability.SetActiveWalks(r.activeLocked())
}

func (r *Registry) updateActiveGauge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	observability.SetActiveWalks(r.activeLocked())
}

func (r *Registry) activeLocked() int {
	active := 0
	for _, t := range r.trackers {
		if t.Active() {
			active++
		}
	}
	return active
}
