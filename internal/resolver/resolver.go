// Package resolver turns place-name queries into coordinates through a
// tiered lookup: in-memory cache, embedded offline dataset, durable
// store, then the upstream geocoder.
package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/geowarp/geowarp/internal/config"
	"github.com/geowarp/geowarp/internal/core"
	"github.com/geowarp/geowarp/internal/core/store"
	"github.com/geowarp/geowarp/internal/metrics"
)

// Upstream resolves a query against the remote geocoding provider.
type Upstream interface {
	Resolve(ctx context.Context, query string) (*core.ResolvedPlace, error)
}

// CacheStore is the durable backing for resolved places.
type CacheStore interface {
	GetPlace(ctx context.Context, query string) (*store.PersistedPlace, error)
	SavePlaces(ctx context.Context, rows []store.PersistedPlace) error
	LoadPlaces(ctx context.Context, limit int) ([]store.PersistedPlace, error)
	PurgeExpiredPlaces(ctx context.Context) (int64, error)
	ClearPlaces(ctx context.Context) error
	CountPlaces(ctx context.Context) (int, error)
}

type entry struct {
	place      core.ResolvedPlace
	expiresAt  time.Time
	lastAccess time.Time
}

// Resolver is the tiered place resolver. Concurrent lookups for the
// same key coalesce on an in-flight marker: late arrivals wait one
// bounded pass for the first caller's result, then re-check the cache
// exactly once before resolving on their own.
type Resolver struct {
	Offline  *OfflineIndex
	Store    CacheStore
	Upstream Upstream
	Logger   *zap.Logger
	Clock    func() time.Time

	ttl         time.Duration
	maxEntries  int
	pendingWait time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	pending map[string]chan struct{}

	writes   chan store.PersistedPlace
	stopOnce sync.Once
	stopped  chan struct{}
	flushed  chan struct{}
}

// writeQueueSize bounds the write-behind queue; overflow falls back to
// a synchronous save so no resolution is lost.
const writeQueueSize = 256

// New builds a resolver and starts its write-behind flusher.
func New(cfg config.CacheConfig, offline *OfflineIndex, cacheStore CacheStore, upstream Upstream, logger *zap.Logger) *Resolver {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	maxEntries := cfg.MaxEntries
	if maxEntries < 1 {
		maxEntries = 1000
	}
	pendingWait := cfg.PendingWait
	if pendingWait <= 0 {
		pendingWait = 150 * time.Millisecond
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Minute
	}

	r := &Resolver{
		Offline:     offline,
		Store:       cacheStore,
		Upstream:    upstream,
		Logger:      logger,
		ttl:         ttl,
		maxEntries:  maxEntries,
		pendingWait: pendingWait,
		entries:     make(map[string]*entry),
		pending:     make(map[string]chan struct{}),
		writes:      make(chan store.PersistedPlace, writeQueueSize),
		stopped:     make(chan struct{}),
		flushed:     make(chan struct{}),
	}

	go r.flushLoop(flushInterval)
	return r
}

// Resolve runs the tiered lookup for a query.
func (r *Resolver) Resolve(ctx context.Context, query string) (*core.ResolvedPlace, error) {
	if r == nil {
		return nil, errors.New("resolver is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := core.ValidateQuery(query); err != nil {
		return nil, err
	}
	key := core.NormalizeQuery(query)

	if place, ok := r.cached(key); ok {
		metrics.CacheHits.Inc()
		return place, nil
	}

	waited, marker := r.claim(key)
	if waited {
		select {
		case <-marker:
		case <-time.After(r.pendingWait):
		case <-ctx.Done():
			return nil, core.UpstreamUnavailable("resolve cancelled", ctx.Err())
		}

		if place, ok := r.cached(key); ok {
			metrics.CacheHits.Inc()
			return place, nil
		}

		// The first caller failed or is still slow. Take over the key
		// and resolve independently rather than waiting again.
		marker = r.claimOwn(key)
	}
	defer r.release(key, marker)

	metrics.CacheMisses.Inc()

	if place := r.Offline.Find(key); place != nil {
		metrics.OfflineHits.Inc()
		r.remember(key, *place, false)
		return place, nil
	}

	if r.Store != nil {
		persisted, err := r.Store.GetPlace(ctx, key)
		if err != nil {
			r.warn("durable cache read failed", key, err)
		} else if persisted != nil {
			r.rememberUntil(key, persisted.Place, persisted.ExpiresAt, false)
			return &persisted.Place, nil
		}
	}

	if r.Upstream == nil {
		return nil, core.NotFound("no match for " + key)
	}

	place, err := r.Upstream.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	r.remember(key, *place, true)
	return place, nil
}

// claim returns (true, marker) when another caller already holds the
// key, or (false, marker) with a fresh marker owned by this caller.
func (r *Resolver) claim(key string) (bool, chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.pending[key]; ok {
		return true, existing
	}

	marker := make(chan struct{})
	r.pending[key] = marker
	return false, marker
}

// claimOwn installs a fresh marker owned by this caller, displacing
// any existing one. Each marker is closed only by its owner.
func (r *Resolver) claimOwn(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	marker := make(chan struct{})
	r.pending[key] = marker
	return marker
}

func (r *Resolver) release(key string, marker chan struct{}) {
	r.mu.Lock()
	if r.pending[key] == marker {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	close(marker)
}

func (r *Resolver) cached(key string) (*core.ResolvedPlace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}

	now := r.now()
	if !e.expiresAt.After(now) {
		delete(r.entries, key)
		return nil, false
	}

	e.lastAccess = now
	place := e.place
	return &place, true
}

func (r *Resolver) remember(key string, place core.ResolvedPlace, persist bool) {
	r.rememberUntil(key, place, r.now().Add(r.ttl), persist)
}

func (r *Resolver) rememberUntil(key string, place core.ResolvedPlace, expiresAt time.Time, persist bool) {
	now := r.now()

	r.mu.Lock()
	r.entries[key] = &entry{place: place, expiresAt: expiresAt, lastAccess: now}
	if len(r.entries) > r.maxEntries {
		r.evictLocked(now)
	}
	r.mu.Unlock()

	if !persist || r.Store == nil {
		return
	}

	row := store.PersistedPlace{Query: key, Place: place, ExpiresAt: expiresAt}
	select {
	case r.writes <- row:
	default:
		// Queue full; do not drop the resolution.
		if err := r.Store.SavePlaces(context.Background(), []store.PersistedPlace{row}); err != nil {
			r.warn("synchronous cache save failed", key, err)
		}
	}
}

// evictLocked drops expired entries first, then the least recently
// used tenth of what remains. Caller holds r.mu.
func (r *Resolver) evictLocked(now time.Time) {
	for key, e := range r.entries {
		if !e.expiresAt.After(now) {
			delete(r.entries, key)
		}
	}
	if len(r.entries) <= r.maxEntries {
		return
	}

	evict := len(r.entries) / 10
	if evict < 1 {
		evict = 1
	}

	type victim struct {
		key        string
		lastAccess time.Time
	}
	oldest := make([]victim, 0, evict)
	for key, e := range r.entries {
		if len(oldest) < evict {
			oldest = append(oldest, victim{key, e.lastAccess})
			continue
		}
		// Replace the newest member of the victim set if this entry
		// is older.
		newest := 0
		for i := 1; i < len(oldest); i++ {
			if oldest[i].lastAccess.After(oldest[newest].lastAccess) {
				newest = i
			}
		}
		if e.lastAccess.Before(oldest[newest].lastAccess) {
			oldest[newest] = victim{key, e.lastAccess}
		}
	}
	for _, v := range oldest {
		delete(r.entries, v.key)
	}
}

func (r *Resolver) flushLoop(interval time.Duration) {
	defer close(r.flushed)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var batch []store.PersistedPlace
	flush := func() {
		if len(batch) == 0 || r.Store == nil {
			return
		}
		if err := r.Store.SavePlaces(context.Background(), batch); err != nil {
			r.warn("cache flush failed", "", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row := <-r.writes:
			batch = append(batch, row)
			if len(batch) >= writeQueueSize/2 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stopped:
			for {
				select {
				case row := <-r.writes:
					batch = append(batch, row)
				default:
					flush()
					return
				}
			}
		}
	}
}

// WarmLoad seeds the in-memory cache from the durable store.
func (r *Resolver) WarmLoad(ctx context.Context) (int, error) {
	if r == nil || r.Store == nil {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := r.Store.LoadPlaces(ctx, r.maxEntries)
	if err != nil {
		return 0, err
	}

	now := r.now()
	r.mu.Lock()
	for _, row := range rows {
		key := core.NormalizeQuery(row.Query)
		if key == "" || !row.ExpiresAt.After(now) {
			continue
		}
		r.entries[key] = &entry{place: row.Place, expiresAt: row.ExpiresAt, lastAccess: now}
	}
	loaded := len(r.entries)
	r.mu.Unlock()

	return loaded, nil
}

// Purge drops expired entries from memory and the durable store,
// reporting how many durable rows were removed.
func (r *Resolver) Purge(ctx context.Context) (int64, error) {
	if r == nil {
		return 0, nil
	}

	now := r.now()
	r.mu.Lock()
	for key, e := range r.entries {
		if !e.expiresAt.After(now) {
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	if r.Store == nil {
		return 0, nil
	}
	return r.Store.PurgeExpiredPlaces(ctx)
}

// Clear drops every cached resolution, memory and durable alike.
func (r *Resolver) Clear(ctx context.Context) error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	if r.Store == nil {
		return nil
	}
	return r.Store.ClearPlaces(ctx)
}

// Size reports the number of in-memory entries.
func (r *Resolver) Size() int {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the flusher after draining pending writes.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}

	r.stopOnce.Do(func() {
		close(r.stopped)
	})
	<-r.flushed
	return nil
}

func (r *Resolver) warn(msg, key string, err error) {
	if r.Logger == nil {
		return
	}
	fields := []zap.Field{zap.Error(err)}
	if key != "" {
		fields = append(fields, zap.String("query", key))
	}
	r.Logger.Warn(msg, fields...)
}

func (r *Resolver) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
