package resolver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geowarp/geowarp/internal/config"
	"github.com/geowarp/geowarp/internal/core"
	"github.com/geowarp/geowarp/internal/core/store"
)

type fakeUpstream struct {
	mu    sync.Mutex
	calls atomic.Int64
	delay time.Duration
	err   error
	place core.ResolvedPlace
}

func (f *fakeUpstream) Resolve(ctx context.Context, query string) (*core.ResolvedPlace, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	place := f.place
	if place.Name == "" {
		place = core.ResolvedPlace{Name: query, Latitude: 10, Longitude: 20, ResolvedAt: time.Now().UTC()}
	}
	return &place, nil
}

type fakeStore struct {
	mu     sync.Mutex
	places map[string]store.PersistedPlace
	saves  atomic.Int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{places: make(map[string]store.PersistedPlace)}
}

func (f *fakeStore) GetPlace(_ context.Context, query string) (*store.PersistedPlace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.places[core.NormalizeQuery(query)]
	if !ok || !row.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return &row, nil
}

func (f *fakeStore) SavePlaces(_ context.Context, rows []store.PersistedPlace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves.Add(1)
	for _, row := range rows {
		f.places[core.NormalizeQuery(row.Query)] = row
	}
	return nil
}

func (f *fakeStore) LoadPlaces(_ context.Context, limit int) ([]store.PersistedPlace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.PersistedPlace, 0, len(f.places))
	for _, row := range f.places {
		if len(out) >= limit {
			break
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeStore) PurgeExpiredPlaces(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key, row := range f.places {
		if !row.ExpiresAt.After(time.Now()) {
			delete(f.places, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ClearPlaces(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.places = make(map[string]store.PersistedPlace)
	return nil
}

func (f *fakeStore) CountPlaces(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.places), nil
}

func newTestResolver(t *testing.T, cfg config.CacheConfig, upstream Upstream, cacheStore CacheStore) *Resolver {
	t.Helper()

	offline, err := LoadOfflineIndex()
	require.NoError(t, err)

	r := New(cfg, offline, cacheStore, upstream, nil)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestOfflineTierSkipsUpstream(t *testing.T) {
	upstream := &fakeUpstream{}
	r := newTestResolver(t, config.CacheConfig{}, upstream, nil)

	place, err := r.Resolve(context.Background(), "Roma")
	require.NoError(t, err)
	require.Equal(t, "Roma", place.Name)
	require.InDelta(t, 41.9028, place.Latitude, 1e-9)
	require.Zero(t, upstream.calls.Load())
}

func TestCacheHitSkipsAllTiers(t *testing.T) {
	upstream := &fakeUpstream{}
	r := newTestResolver(t, config.CacheConfig{}, upstream, nil)

	_, err := r.Resolve(context.Background(), "Smallville")
	require.NoError(t, err)
	require.EqualValues(t, 1, upstream.calls.Load())

	// Same key, different casing and spacing.
	_, err = r.Resolve(context.Background(), "  SMALLVILLE ")
	require.NoError(t, err)
	require.EqualValues(t, 1, upstream.calls.Load())
}

func TestCacheEntryExpires(t *testing.T) {
	now := time.Now().UTC()
	upstream := &fakeUpstream{}
	r := newTestResolver(t, config.CacheConfig{TTL: time.Hour}, upstream, nil)
	r.Clock = func() time.Time { return now }

	_, err := r.Resolve(context.Background(), "Smallville")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)

	_, err = r.Resolve(context.Background(), "Smallville")
	require.NoError(t, err)
	require.EqualValues(t, 2, upstream.calls.Load())
}

func TestDurableTierSeedsMemory(t *testing.T) {
	upstream := &fakeUpstream{}
	cacheStore := newFakeStore()
	cacheStore.places["smallville"] = store.PersistedPlace{
		Query:     "smallville",
		Place:     core.ResolvedPlace{Name: "Smallville", Latitude: 38.5, Longitude: -98, ResolvedAt: time.Now().UTC()},
		ExpiresAt: time.Now().Add(time.Hour),
	}

	r := newTestResolver(t, config.CacheConfig{}, upstream, cacheStore)

	place, err := r.Resolve(context.Background(), "Smallville")
	require.NoError(t, err)
	require.Equal(t, "Smallville", place.Name)
	require.Zero(t, upstream.calls.Load())
	require.Equal(t, 1, r.Size())
}

func TestInvalidQueryRejected(t *testing.T) {
	upstream := &fakeUpstream{}
	r := newTestResolver(t, config.CacheConfig{}, upstream, nil)

	_, err := r.Resolve(context.Background(), "Roma'; DROP TABLE--")
	require.ErrorIs(t, err, core.ErrInvalidInput)
	require.Zero(t, upstream.calls.Load())
}

func TestConcurrentLookupsCoalesce(t *testing.T) {
	upstream := &fakeUpstream{delay: 50 * time.Millisecond}
	r := newTestResolver(t, config.CacheConfig{PendingWait: time.Second}, upstream, nil)

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = r.Resolve(context.Background(), "Smallville")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, upstream.calls.Load())
}

func TestFailedLeaderDoesNotPoisonWaiters(t *testing.T) {
	upstream := &fakeUpstream{err: core.UpstreamUnavailable("down", nil)}
	r := newTestResolver(t, config.CacheConfig{PendingWait: 50 * time.Millisecond}, upstream, nil)

	_, err := r.Resolve(context.Background(), "Smallville")
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)

	// Provider recovers; the next caller succeeds.
	upstream.mu.Lock()
	upstream.err = nil
	upstream.mu.Unlock()

	_, err = r.Resolve(context.Background(), "Smallville")
	require.NoError(t, err)
}

func TestEvictionKeepsRecentEntries(t *testing.T) {
	now := time.Now().UTC()
	upstream := &fakeUpstream{}
	r := newTestResolver(t, config.CacheConfig{MaxEntries: 10, TTL: time.Hour}, upstream, nil)
	r.Clock = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		_, err := r.Resolve(ctx, fmt.Sprintf("qville%d", i))
		require.NoError(t, err)
	}

	// Touch the oldest entry so it is no longer the LRU victim.
	now = now.Add(time.Second)
	_, err := r.Resolve(ctx, "qville0")
	require.NoError(t, err)
	require.EqualValues(t, 10, upstream.calls.Load())

	// One more insert forces an eviction.
	now = now.Add(time.Second)
	_, err = r.Resolve(ctx, "overflowville")
	require.NoError(t, err)
	require.LessOrEqual(t, r.Size(), 10)

	// The recently touched entry survived.
	_, err = r.Resolve(ctx, "qville0")
	require.NoError(t, err)
	require.EqualValues(t, 11, upstream.calls.Load())
}

func TestWriteBehindPersists(t *testing.T) {
	upstream := &fakeUpstream{}
	cacheStore := newFakeStore()
	r := newTestResolver(t, config.CacheConfig{FlushInterval: 10 * time.Millisecond}, upstream, cacheStore)

	_, err := r.Resolve(context.Background(), "Smallville")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		row, err := cacheStore.GetPlace(context.Background(), "smallville")
		return err == nil && row != nil
	}, time.Second, 5*time.Millisecond)
}

func TestCloseFlushesPendingWrites(t *testing.T) {
	upstream := &fakeUpstream{}
	cacheStore := newFakeStore()

	offline, err := LoadOfflineIndex()
	require.NoError(t, err)
	r := New(config.CacheConfig{FlushInterval: time.Hour}, offline, cacheStore, upstream, nil)

	_, err = r.Resolve(context.Background(), "Smallville")
	require.NoError(t, err)

	require.NoError(t, r.Close())

	row, err := cacheStore.GetPlace(context.Background(), "smallville")
	require.NoError(t, err)
	require.NotNil(t, row)
}

func TestWarmLoad(t *testing.T) {
	cacheStore := newFakeStore()
	cacheStore.places["smallville"] = store.PersistedPlace{
		Query:     "smallville",
		Place:     core.ResolvedPlace{Name: "Smallville", Latitude: 38.5, Longitude: -98, ResolvedAt: time.Now().UTC()},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	cacheStore.places["oldville"] = store.PersistedPlace{
		Query:     "oldville",
		Place:     core.ResolvedPlace{Name: "Oldville", Latitude: 1, Longitude: 1, ResolvedAt: time.Now().UTC()},
		ExpiresAt: time.Now().Add(-time.Hour),
	}

	r := newTestResolver(t, config.CacheConfig{}, &fakeUpstream{}, cacheStore)

	loaded, err := r.WarmLoad(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, loaded)
}

func TestPurgeAndClear(t *testing.T) {
	now := time.Now().UTC()
	cacheStore := newFakeStore()
	upstream := &fakeUpstream{}
	r := newTestResolver(t, config.CacheConfig{TTL: time.Hour}, upstream, cacheStore)
	r.Clock = func() time.Time { return now }

	_, err := r.Resolve(context.Background(), "Smallville")
	require.NoError(t, err)
	require.Equal(t, 1, r.Size())

	now = now.Add(2 * time.Hour)
	_, err = r.Purge(context.Background())
	require.NoError(t, err)
	require.Zero(t, r.Size())

	now = now.Add(-2 * time.Hour)
	_, err = r.Resolve(context.Background(), "Smallville")
	require.NoError(t, err)
	require.NoError(t, r.Clear(context.Background()))
	require.Zero(t, r.Size())

	n, err := cacheStore.CountPlaces(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOfflineIndexLoads(t *testing.T) {
	offline, err := LoadOfflineIndex()
	require.NoError(t, err)
	require.Greater(t, offline.Len(), 50)

	require.True(t, offline.Has("ROMA"))
	require.True(t, offline.Has("  new york "))
	require.False(t, offline.Has("atlantis"))

	place := offline.Find("città del messico")
	require.NotNil(t, place)
	require.InDelta(t, 19.4326, place.Latitude, 1e-9)
}
