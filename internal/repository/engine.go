// Package repository reconciles finished walks between the local cache and
// the remote document store. Local writes are synchronous; remote writes are
// asynchronous and best-effort, bounded by explicit timeouts. No retry loop
// lives here: the error taxonomy tells callers what is worth retrying.
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/walks/internal/diagnostics"
	"example.com/walks/internal/domain"
	"example.com/walks/internal/log"
	"example.com/walks/internal/observability"
	"example.com/walks/internal/repository/cache"
)

// Default operation timeouts. No remote call may block indefinitely.
const (
	DefaultSaveTimeout = 10 * time.Second
	DefaultListTimeout = 15 * time.Second
)

// Failure describes a remote operation that did not succeed. Failures are
// delivered on a side channel so the caller-facing save path never blocks on
// connectivity.
type Failure struct {
	WalkID  string
	OwnerID string
	Op      string
	Err     error
	At      time.Time
}

// Config wires an Engine.
type Config struct {
	Cache       cache.Store
	Remote      RemoteStore
	Identity    domain.IdentityProvider
	Sink        diagnostics.Sink
	SaveTimeout time.Duration
	ListTimeout time.Duration
}

// Engine is the sync engine. The cache is mutated by this component only.
type Engine struct {
	cache       cache.Store
	remote      RemoteStore
	identity    domain.IdentityProvider
	sink        diagnostics.Sink
	logger      zerolog.Logger
	saveTimeout time.Duration
	listTimeout time.Duration

	failures chan Failure
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]domain.Walk
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config) *Engine {
	sink := cfg.Sink
	if sink == nil {
		sink = diagnostics.Nop{}
	}
	saveTimeout := cfg.SaveTimeout
	if saveTimeout <= 0 {
		saveTimeout = DefaultSaveTimeout
	}
	listTimeout := cfg.ListTimeout
	if listTimeout <= 0 {
		listTimeout = DefaultListTimeout
	}
	return &Engine{
		cache:       cfg.Cache,
		remote:      cfg.Remote,
		identity:    cfg.Identity,
		sink:        sink,
		logger:      log.WithComponent("sync"),
		saveTimeout: saveTimeout,
		listTimeout: listTimeout,
		failures:    make(chan Failure, 64),
		pending:     make(map[string]domain.Walk),
	}
}

// Failures exposes the remote-failure side channel. Retry policy belongs to
// the consumer of this channel (or to Flush), never to Save itself.
func (e *Engine) Failures() <-chan Failure { return e.failures }

// Save persists the walk. The call succeeds once the local cache write
// succeeds; the remote write proceeds independently and reports trouble
// through the failure channel.
func (e *Engine) Save(ctx context.Context, w domain.Walk) error {
	if w.OwnerID == "" {
		return domain.ErrUnauthenticated
	}
	if err := e.cache.Put(w); err != nil {
		return domain.Wrap(domain.KindInvalidData, "local cache write", err)
	}
	observability.RecordWalkSaved(time.Now().UTC())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// The caller's context ends with its request; the remote write gets
		// its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), e.saveTimeout)
		defer cancel()
		e.remotePut(ctx, w)
	}()

	return nil
}

func (e *Engine) remotePut(ctx context.Context, w domain.Walk) {
	if err := e.remote.Put(ctx, w); err != nil {
		e.markPending(w)
		e.noteFailure(ctx, "put", w.ID, w.OwnerID, err)
		return
	}
	e.clearPending(w.ID)
}

// FetchAll lists the authenticated owner's walks, newest-first. A transport
// failure degrades to the cache snapshot: a stale list beats no list.
func (e *Engine) FetchAll(ctx context.Context) ([]domain.Walk, error) {
	ownerID, err := e.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, e.listTimeout)
	defer cancel()

	remote, err := e.remote.Query(qctx, ownerID)
	if err != nil {
		if domain.IsKind(err, domain.KindNetwork) {
			e.noteFailure(ctx, "query", "", ownerID, err)
			return e.cache.ByOwner(ownerID)
		}
		return nil, err
	}

	// Read-repair: refresh the cache from the remote result, then fold in
	// cached walks the remote has not seen yet (pending writes).
	seen := make(map[string]struct{}, len(remote))
	for _, w := range remote {
		seen[w.ID] = struct{}{}
		if err := e.cache.Put(w); err != nil {
			e.logger.Warn().Err(err).Str("walk_id", w.ID).Msg("cache refresh failed")
		}
	}
	cached, err := e.cache.ByOwner(ownerID)
	if err == nil {
		for _, w := range cached {
			if _, ok := seen[w.ID]; !ok {
				remote = append(remote, w)
			}
		}
	}
	sort.Slice(remote, func(i, j int) bool {
		if remote[i].CreatedAt.Equal(remote[j].CreatedAt) {
			return remote[i].ID > remote[j].ID
		}
		return remote[i].CreatedAt.After(remote[j].CreatedAt)
	})
	return remote, nil
}

// FetchOne loads a single walk. Ownership is re-checked on every read, never
// cached. NotFound only when the walk is absent from both stores.
func (e *Engine) FetchOne(ctx context.Context, id string) (*domain.Walk, error) {
	ownerID, err := e.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	w, err := e.lookup(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if w.OwnerID != ownerID {
		return nil, domain.ErrNotOwner
	}
	return w, nil
}

func (e *Engine) lookup(ctx context.Context, id, ownerID string) (*domain.Walk, error) {
	gctx, cancel := context.WithTimeout(ctx, e.listTimeout)
	defer cancel()

	w, err := e.remote.Get(gctx, id)
	switch {
	case err != nil:
		if !domain.IsKind(err, domain.KindNetwork) {
			return nil, err
		}
		e.noteFailure(ctx, "get", id, ownerID, err)
	case w != nil:
		return w, nil
	}

	cached, cerr := e.cache.Get(id)
	if cerr != nil {
		return nil, cerr
	}
	if cached == nil {
		return nil, domain.ErrWalkNotFound
	}
	return cached, nil
}

// Delete removes a walk. Ownership is re-verified first. The remote delete
// must confirm before the cache entry is purged, so a purged cache with a
// live remote record can never occur.
func (e *Engine) Delete(ctx context.Context, id string) error {
	ownerID, err := e.identity.CurrentUserID(ctx)
	if err != nil {
		return err
	}

	w, err := e.lookup(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if w.OwnerID != ownerID {
		return domain.ErrNotOwner
	}

	dctx, cancel := context.WithTimeout(ctx, e.saveTimeout)
	defer cancel()
	if err := e.remote.Delete(dctx, id); err != nil {
		e.noteFailure(ctx, "delete", id, ownerID, err)
		return err
	}

	e.clearPending(id)
	return e.cache.Delete(id)
}

// Flush retries every pending remote write once, synchronously. Callers own
// the schedule; the engine only reports what is still outstanding.
func (e *Engine) Flush(ctx context.Context) int {
	e.mu.Lock()
	walks := make([]domain.Walk, 0, len(e.pending))
	for _, w := range e.pending {
		walks = append(walks, w)
	}
	e.mu.Unlock()

	for _, w := range walks {
		pctx, cancel := context.WithTimeout(ctx, e.saveTimeout)
		e.remotePut(pctx, w)
		cancel()
	}

	e.mu.Lock()
	remaining := len(e.pending)
	e.mu.Unlock()
	return remaining
}

// PendingCount reports how many walks still await a remote write.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close waits for in-flight remote writes and closes the failure channel.
func (e *Engine) Close() {
	e.wg.Wait()
	close(e.failures)
}

func (e *Engine) markPending(w domain.Walk) {
	e.mu.Lock()
	e.pending[w.ID] = w
	n := len(e.pending)
	e.mu.Unlock()
	observability.SetPendingSync(n)
}

func (e *Engine) clearPending(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	n := len(e.pending)
	e.mu.Unlock()
	observability.SetPendingSync(n)
}

func (e *Engine) noteFailure(ctx context.Context, op, walkID, ownerID string, err error) {
	kind := domain.KindOf(err)
	observability.RecordSyncFailure(op, string(kind))
	e.sink.SyncFailed(ctx, diagnostics.SyncFailed{
		WalkID:  walkID,
		OwnerID: ownerID,
		Op:      op,
		Kind:    string(kind),
		Detail:  err.Error(),
		At:      time.Now().UTC(),
	})

	select {
	case e.failures <- Failure{WalkID: walkID, OwnerID: ownerID, Op: op, Err: err, At: time.Now().UTC()}:
	default:
		e.logger.Warn().Str("op", op).Str("walk_id", walkID).Msg("failure channel full, event dropped")
	}
}
