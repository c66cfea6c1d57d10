// Package governor applies short per-actor intervals between repeated
// operations. State is in-memory only; restarts clear it by design.
package governor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/geowarp/geowarp/internal/config"
	"github.com/geowarp/geowarp/internal/core"
	"github.com/geowarp/geowarp/internal/metrics"
)

type actorState struct {
	lastSearch   time.Time
	lastTeleport time.Time
	touched      time.Time
}

// Governor tracks the last search and teleport per actor and rejects
// operations inside the configured interval. Check and record happen
// under one lock acquisition so concurrent calls cannot both pass.
type Governor struct {
	Logger *zap.Logger
	Clock  func() time.Time

	enabled          bool
	searchInterval   time.Duration
	teleportInterval time.Duration
	staleTTL         time.Duration
	maxActors        int

	mu     sync.Mutex
	actors map[string]*actorState
	exempt map[string]struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds a governor and starts its stale-entry janitor.
func New(cfg config.RatesConfig, logger *zap.Logger) *Governor {
	staleTTL := cfg.StaleTTL
	if staleTTL <= 0 {
		staleTTL = 30 * time.Minute
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	maxActors := cfg.MaxActors
	if maxActors < 1 {
		maxActors = 10000
	}

	g := &Governor{
		Logger:           logger,
		enabled:          cfg.Enabled,
		searchInterval:   cfg.SearchInterval,
		teleportInterval: cfg.TeleportInterval,
		staleTTL:         staleTTL,
		maxActors:        maxActors,
		actors:           make(map[string]*actorState),
		exempt:           make(map[string]struct{}),
		stopped:          make(chan struct{}),
	}

	for _, actor := range cfg.ExemptActors {
		g.exempt[actor] = struct{}{}
	}

	go g.janitor(sweepInterval)
	return g
}

// Exempt marks an actor as never rate limited.
func (g *Governor) Exempt(actor string) {
	if g == nil {
		return
	}

	g.mu.Lock()
	g.exempt[actor] = struct{}{}
	g.mu.Unlock()
}

// Allow checks the interval for the operation and, when clear, records
// the attempt in the same critical section.
func (g *Governor) Allow(actor string, op core.OpKind) error {
	if g == nil || !g.enabled {
		return nil
	}

	if err := core.ValidateActorID(actor); err != nil {
		return err
	}

	interval := g.interval(op)
	if interval <= 0 {
		return nil
	}

	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.exempt[actor]; ok {
		return nil
	}

	state, ok := g.actors[actor]
	if !ok {
		if len(g.actors) >= g.maxActors {
			g.evictOldestLocked()
		}
		state = &actorState{}
		g.actors[actor] = state
	}

	last := state.lastSearch
	if op == core.OpTeleport {
		last = state.lastTeleport
	}

	if !last.IsZero() {
		if wait := interval - now.Sub(last); wait > 0 {
			metrics.RateRejections.WithLabelValues(string(op)).Inc()
			return core.RateLimited("too many "+string(op)+" attempts", wait)
		}
	}

	if op == core.OpTeleport {
		state.lastTeleport = now
	} else {
		state.lastSearch = now
	}
	state.touched = now
	return nil
}

// Remaining reports how long until the actor may run the operation
// again. Zero means the actor is clear.
func (g *Governor) Remaining(actor string, op core.OpKind) time.Duration {
	if g == nil || !g.enabled {
		return 0
	}

	interval := g.interval(op)
	if interval <= 0 {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.exempt[actor]; ok {
		return 0
	}

	state, ok := g.actors[actor]
	if !ok {
		return 0
	}

	last := state.lastSearch
	if op == core.OpTeleport {
		last = state.lastTeleport
	}
	if last.IsZero() {
		return 0
	}

	wait := interval - g.now().Sub(last)
	if wait < 0 {
		return 0
	}
	return wait
}

// Reset clears recorded state for one actor, or for all actors when
// actor is empty.
func (g *Governor) Reset(actor string) {
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if actor == "" {
		g.actors = make(map[string]*actorState)
		return
	}
	delete(g.actors, actor)
}

// Size reports how many actors are currently tracked.
func (g *Governor) Size() int {
	if g == nil {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.actors)
}

// Close stops the janitor.
func (g *Governor) Close() error {
	if g == nil {
		return nil
	}

	g.stopOnce.Do(func() {
		close(g.stopped)
	})
	return nil
}

func (g *Governor) interval(op core.OpKind) time.Duration {
	if op == core.OpTeleport {
		return g.teleportInterval
	}
	return g.searchInterval
}

// evictOldestLocked drops the least recently touched actor to make
// room. Caller holds g.mu.
func (g *Governor) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, state := range g.actors {
		if oldestKey == "" || state.touched.Before(oldest) {
			oldestKey = key
			oldest = state.touched
		}
	}
	if oldestKey != "" {
		delete(g.actors, oldestKey)
	}
}

func (g *Governor) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.stopped:
			return
		}
	}
}

// sweep drops actors idle past the stale TTL.
func (g *Governor) sweep() {
	cutoff := g.now().Add(-g.staleTTL)

	g.mu.Lock()
	var dropped int
	for key, state := range g.actors {
		if state.touched.Before(cutoff) {
			delete(g.actors, key)
			dropped++
		}
	}
	remaining := len(g.actors)
	g.mu.Unlock()

	if dropped > 0 && g.Logger != nil {
		g.Logger.Debug("swept stale rate entries",
			zap.Int("dropped", dropped), zap.Int("remaining", remaining))
	}
}

func (g *Governor) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}
