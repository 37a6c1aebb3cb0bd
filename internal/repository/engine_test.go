package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/walks/internal/domain"
	"example.com/walks/internal/repository/cache"
)

type fakeRemote struct {
	mu      sync.Mutex
	walks   map[string]domain.Walk
	putErr  error
	getErr  error
	qErr    error
	delErr  error
	deleted []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{walks: make(map[string]domain.Walk)}
}

func (f *fakeRemote) Put(_ context.Context, w domain.Walk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.walks[w.ID] = w
	return nil
}

func (f *fakeRemote) Get(_ context.Context, id string) (*domain.Walk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	w, ok := f.walks[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (f *fakeRemote) Query(_ context.Context, ownerID string) ([]domain.Walk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.qErr != nil {
		return nil, f.qErr
	}
	out := make([]domain.Walk, 0)
	for _, w := range f.walks {
		if w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.walks, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRemote) setPutErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
}

type staticIdentity string

func (s staticIdentity) CurrentUserID(context.Context) (string, error) {
	if s == "" {
		return "", domain.ErrUnauthenticated
	}
	return string(s), nil
}

func completedWalk(id, owner string, createdAt time.Time) domain.Walk {
	ended := createdAt.Add(30 * time.Minute)
	return domain.Walk{
		ID:                  id,
		OwnerID:             owner,
		Title:               "Walk " + id,
		Status:              domain.StatusCompleted,
		StartedAt:           createdAt,
		EndedAt:             &ended,
		TotalDistanceMeters: 1200,
		TotalSteps:          1500,
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}
}

func newTestEngine(remote RemoteStore, identity domain.IdentityProvider) *Engine {
	return NewEngine(Config{
		Cache:       cache.NewMemory(),
		Remote:      remote,
		Identity:    identity,
		SaveTimeout: time.Second,
		ListTimeout: time.Second,
	})
}

var errNetwork = domain.E(domain.KindNetwork, "remote unreachable")

func TestSaveSucceedsLocallyWhenRemoteDown(t *testing.T) {
	remote := newFakeRemote()
	remote.setPutErr(errNetwork)
	engine := newTestEngine(remote, staticIdentity("u1"))

	w := completedWalk("w1", "u1", time.Now().UTC())
	require.NoError(t, engine.Save(context.Background(), w))

	// The remote failure arrives on the side channel, not on Save.
	select {
	case f := <-engine.Failures():
		require.Equal(t, "put", f.Op)
		require.Equal(t, "w1", f.WalkID)
		require.True(t, domain.IsKind(f.Err, domain.KindNetwork))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure event")
	}

	// The walk stays visible from the cache despite the dead remote.
	remote.qErr = errNetwork
	walks, err := engine.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, walks, 1)
	require.Equal(t, "w1", walks[0].ID)
	require.Equal(t, 1, engine.PendingCount())
}

func TestSaveRequiresOwner(t *testing.T) {
	engine := newTestEngine(newFakeRemote(), staticIdentity("u1"))
	err := engine.Save(context.Background(), domain.Walk{ID: "w1"})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestFlushDrainsPendingAfterRecovery(t *testing.T) {
	remote := newFakeRemote()
	remote.setPutErr(errNetwork)
	engine := newTestEngine(remote, staticIdentity("u1"))

	require.NoError(t, engine.Save(context.Background(), completedWalk("w1", "u1", time.Now().UTC())))
	<-engine.Failures()
	require.Equal(t, 1, engine.PendingCount())

	remote.setPutErr(nil)
	remaining := engine.Flush(context.Background())
	require.Zero(t, remaining)
	require.Zero(t, engine.PendingCount())

	got, err := remote.Get(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestFetchAllOrdersNewestFirst(t *testing.T) {
	remote := newFakeRemote()
	engine := newTestEngine(remote, staticIdentity("u1"))
	base := time.Date(2025, time.March, 9, 8, 0, 0, 0, time.UTC)

	remote.walks["w1"] = completedWalk("w1", "u1", base)
	remote.walks["w2"] = completedWalk("w2", "u1", base.Add(time.Hour))
	remote.walks["w3"] = completedWalk("w3", "u2", base.Add(2*time.Hour))

	walks, err := engine.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, walks, 2)
	require.Equal(t, "w2", walks[0].ID)
	require.Equal(t, "w1", walks[1].ID)
}

func TestFetchAllRequiresIdentity(t *testing.T) {
	engine := newTestEngine(newFakeRemote(), staticIdentity(""))
	_, err := engine.FetchAll(context.Background())
	require.True(t, domain.IsKind(err, domain.KindUnauthenticated))
}

func TestFetchOneChecksOwnershipPerRead(t *testing.T) {
	remote := newFakeRemote()
	remote.walks["w1"] = completedWalk("w1", "u2", time.Now().UTC())
	engine := newTestEngine(remote, staticIdentity("u1"))

	_, err := engine.FetchOne(context.Background(), "w1")
	require.ErrorIs(t, err, domain.ErrNotOwner)
	require.True(t, domain.IsKind(err, domain.KindUnauthorized))
}

func TestFetchOneNotFoundOnlyWhenAbsentEverywhere(t *testing.T) {
	remote := newFakeRemote()
	engine := newTestEngine(remote, staticIdentity("u1"))

	_, err := engine.FetchOne(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrWalkNotFound)

	// Cached but not remote: found.
	require.NoError(t, engine.Save(context.Background(), completedWalk("w1", "u1", time.Now().UTC())))
	w, err := engine.FetchOne(context.Background(), "w1")
	require.NoError(t, err)
	require.Equal(t, "w1", w.ID)
}

func TestFetchOneFallsBackToCacheOnNetworkError(t *testing.T) {
	remote := newFakeRemote()
	engine := newTestEngine(remote, staticIdentity("u1"))

	require.NoError(t, engine.Save(context.Background(), completedWalk("w1", "u1", time.Now().UTC())))
	remote.getErr = errNetwork

	w, err := engine.FetchOne(context.Background(), "w1")
	require.NoError(t, err)
	require.Equal(t, "w1", w.ID)
}

func TestDeleteKeepsCacheUntilRemoteConfirms(t *testing.T) {
	remote := newFakeRemote()
	engine := newTestEngine(remote, staticIdentity("u1"))
	w := completedWalk("w1", "u1", time.Now().UTC())

	require.NoError(t, engine.Save(context.Background(), w))
	remote.mu.Lock()
	remote.walks["w1"] = w
	remote.delErr = errNetwork
	remote.mu.Unlock()

	err := engine.Delete(context.Background(), "w1")
	require.Error(t, err)

	// Remote delete failed: the cache entry must survive.
	got, err := engine.FetchOne(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, got)

	remote.mu.Lock()
	remote.delErr = nil
	remote.mu.Unlock()
	require.NoError(t, engine.Delete(context.Background(), "w1"))

	_, err = engine.FetchOne(context.Background(), "w1")
	require.ErrorIs(t, err, domain.ErrWalkNotFound)
}

func TestDeleteVerifiesOwnership(t *testing.T) {
	remote := newFakeRemote()
	remote.walks["w1"] = completedWalk("w1", "u2", time.Now().UTC())
	engine := newTestEngine(remote, staticIdentity("u1"))

	err := engine.Delete(context.Background(), "w1")
	require.ErrorIs(t, err, domain.ErrNotOwner)

	// The record was not touched.
	remote.mu.Lock()
	_, exists := remote.walks["w1"]
	remote.mu.Unlock()
	require.True(t, exists)
}

func TestFetchAllReadRepairsCache(t *testing.T) {
	remote := newFakeRemote()
	localCache := cache.NewMemory()
	engine := NewEngine(Config{
		Cache:       localCache,
		Remote:      remote,
		Identity:    staticIdentity("u1"),
		SaveTimeout: time.Second,
		ListTimeout: time.Second,
	})

	remote.walks["w1"] = completedWalk("w1", "u1", time.Now().UTC())
	_, err := engine.FetchAll(context.Background())
	require.NoError(t, err)

	cached, err := localCache.Get("w1")
	require.NoError(t, err)
	require.NotNil(t, cached, "remote result should be cached for offline reads")
}
