// Package ledger enforces the durable teleport cooldown: one teleport
// per actor per cooldown window, tracked at day granularity so the
// restriction survives restarts.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/geowarp/geowarp/internal/config"
	"github.com/geowarp/geowarp/internal/core"
	"github.com/geowarp/geowarp/internal/metrics"
)

// Store is the durable backing for cooldown records.
type Store interface {
	LastAction(ctx context.Context, actor string) (*core.CooldownRecord, error)
	LastActionAt(ctx context.Context, actor, place string) (*core.CooldownRecord, error)
	SaveAction(ctx context.Context, record core.CooldownRecord) error
	SaveActions(ctx context.Context, records []core.CooldownRecord) error
	DeleteActionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// queueSize bounds the write-behind queue; a full queue falls back to
// synchronous saves.
const queueSize = 128

// Ledger is the cooldown gatekeeper. Reads fail open: when the store
// errors, teleports are allowed rather than locking every actor out.
type Ledger struct {
	Store  Store
	Logger *zap.Logger
	Clock  func() time.Time

	enabled  bool
	days     int
	perPlace bool

	mu     sync.RWMutex
	latest map[string]core.CooldownRecord

	writes   chan core.CooldownRecord
	stopOnce sync.Once
	stopped  chan struct{}
	flushed  chan struct{}
}

// New builds a ledger and starts its flush loop.
func New(cfg config.CooldownConfig, st Store, logger *zap.Logger) *Ledger {
	days := cfg.Days
	if days < 1 {
		days = 7
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 15 * time.Second
	}

	l := &Ledger{
		Store:    st,
		Logger:   logger,
		enabled:  cfg.Enabled,
		days:     days,
		perPlace: cfg.PerPlace,
		latest:   make(map[string]core.CooldownRecord),
		writes:   make(chan core.CooldownRecord, queueSize),
		stopped:  make(chan struct{}),
		flushed:  make(chan struct{}),
	}

	go l.flushLoop(flushInterval)
	return l
}

// CanAct reports whether the actor may teleport to the place now.
func (l *Ledger) CanAct(ctx context.Context, actor, place string) (bool, error) {
	remaining, err := l.RemainingDays(ctx, actor, place)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// RemainingDays reports how many whole days remain before the actor
// may teleport again. Zero means the actor is clear.
func (l *Ledger) RemainingDays(ctx context.Context, actor, place string) (int, error) {
	if l == nil || !l.enabled {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := core.ValidateActorID(actor); err != nil {
		return 0, err
	}

	record, ok := l.cachedRecord(actor, place)
	if !ok {
		loaded, err := l.loadRecord(ctx, actor, place)
		if err != nil {
			// Fail open: a broken store must not freeze every actor.
			l.warn("cooldown read failed, allowing action", actor, err)
			return 0, nil
		}
		if loaded == nil {
			return 0, nil
		}
		record = *loaded
	}

	elapsed := int(core.Day(l.now()).Sub(record.Day).Hours() / 24)
	if elapsed >= l.days {
		return 0, nil
	}
	return l.days - elapsed, nil
}

// Record writes a teleport into the ledger. The write is queued for
// batched persistence; a full queue degrades to a synchronous save.
func (l *Ledger) Record(ctx context.Context, actor, place string) error {
	if l == nil || !l.enabled {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := core.ValidateActorID(actor); err != nil {
		return err
	}
	if err := core.ValidatePlaceLabel(place); err != nil {
		return err
	}

	record := core.CooldownRecord{
		Actor: actor,
		Place: core.NormalizeQuery(place),
		Day:   core.Day(l.now()),
	}

	l.mu.Lock()
	l.latest[l.cacheKey(actor, record.Place)] = record
	l.mu.Unlock()

	select {
	case l.writes <- record:
		return nil
	default:
	}

	if l.Store == nil {
		return nil
	}
	if err := l.Store.SaveAction(ctx, record); err != nil {
		return core.StorageFailure("record teleport", err)
	}
	return nil
}

// LastAction returns the most recent recorded teleport for the actor,
// or nil when none is known.
func (l *Ledger) LastAction(ctx context.Context, actor string) (*core.CooldownRecord, error) {
	if l == nil || l.Store == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	record, err := l.Store.LastAction(ctx, actor)
	if err != nil {
		return nil, core.StorageFailure("read ledger", err)
	}
	return record, nil
}

// Prune removes records older than the retention cutoff.
func (l *Ledger) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if l == nil || l.Store == nil {
		return 0, nil
	}
	if retentionDays < 1 {
		return 0, errors.New("retention days must be positive")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cutoff := core.Day(l.now()).AddDate(0, 0, -retentionDays)
	return l.Store.DeleteActionsBefore(ctx, cutoff)
}

// StartRetention runs Prune on the given cadence until the ledger is
// closed.
func (l *Ledger) StartRetention(retentionDays int, every time.Duration) {
	if l == nil || every <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n, err := l.Prune(context.Background(), retentionDays); err != nil {
					l.warn("ledger prune failed", "", err)
				} else if n > 0 && l.Logger != nil {
					l.Logger.Info("pruned cooldown records", zap.Int64("deleted", n))
				}
			case <-l.stopped:
				return
			}
		}
	}()
}

// Close drains queued writes and stops background work.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}

	l.stopOnce.Do(func() {
		close(l.stopped)
	})
	<-l.flushed
	return nil
}

func (l *Ledger) cachedRecord(actor, place string) (core.CooldownRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.latest[l.cacheKey(actor, core.NormalizeQuery(place))]
	return record, ok
}

func (l *Ledger) loadRecord(ctx context.Context, actor, place string) (*core.CooldownRecord, error) {
	if l.Store == nil {
		return nil, nil
	}

	var (
		record *core.CooldownRecord
		err    error
	)
	if l.perPlace && place != "" {
		record, err = l.Store.LastActionAt(ctx, actor, place)
	} else {
		record, err = l.Store.LastAction(ctx, actor)
	}
	if err != nil || record == nil {
		return nil, err
	}

	l.mu.Lock()
	l.latest[l.cacheKey(actor, core.NormalizeQuery(place))] = *record
	l.mu.Unlock()
	return record, nil
}

// cacheKey keys the in-memory record cache per actor, or per actor and
// place when per-place cooldowns are on.
func (l *Ledger) cacheKey(actor, place string) string {
	if l.perPlace {
		return actor + "\x00" + place
	}
	return actor
}

func (l *Ledger) flushLoop(interval time.Duration) {
	defer close(l.flushed)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var batch []core.CooldownRecord
	flush := func() {
		if len(batch) == 0 || l.Store == nil {
			batch = batch[:0]
			return
		}
		if err := l.Store.SaveActions(context.Background(), batch); err != nil {
			l.warn("ledger flush failed, retrying records individually", "", err)
			for _, record := range batch {
				if err := l.Store.SaveAction(context.Background(), record); err != nil {
					l.warn("ledger record lost", record.Actor, err)
				}
			}
		} else {
			metrics.LedgerFlushes.Inc()
		}
		batch = batch[:0]
	}

	for {
		select {
		case record := <-l.writes:
			batch = append(batch, record)
			if len(batch) >= queueSize/2 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.stopped:
			for {
				select {
				case record := <-l.writes:
					batch = append(batch, record)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Ledger) warn(msg, actor string, err error) {
	if l.Logger == nil {
		return
	}
	fields := []zap.Field{zap.Error(err)}
	if actor != "" {
		fields = append(fields, zap.String("actor", actor))
	}
	l.Logger.Warn(msg, fields...)
}

func (l *Ledger) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
