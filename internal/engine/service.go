// Package engine composes the resolver, governor, and cooldown ledger
// into the single service surface used by the CLI and the HTTP server.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/geowarp/geowarp/internal/core"
	"github.com/geowarp/geowarp/internal/geocode"
	"github.com/geowarp/geowarp/internal/governor"
	"github.com/geowarp/geowarp/internal/ledger"
	"github.com/geowarp/geowarp/internal/metrics"
	"github.com/geowarp/geowarp/internal/resolver"
)

// Service is the application facade. Rate checks are explicit: callers
// run RateCheck before Resolve so a denied search never consumes a
// resolution.
type Service struct {
	Resolver *resolver.Resolver
	Governor *governor.Governor
	Ledger   *ledger.Ledger
	Geocoder *geocode.Client
	Origin   core.WorldOrigin
	Logger   *zap.Logger
}

// Resolve answers a place query through the tiered resolver.
func (s *Service) Resolve(ctx context.Context, query string) (*core.ResolvedPlace, error) {
	if s == nil || s.Resolver == nil {
		return nil, errors.New("engine is not configured")
	}
	return s.Resolver.Resolve(ctx, query)
}

// WorldCoordinate projects a resolved place onto the world grid.
func (s *Service) WorldCoordinate(place *core.ResolvedPlace) core.WorldCoordinate {
	if s == nil || place == nil {
		return core.WorldCoordinate{}
	}
	return place.WorldCoordinate(s.Origin)
}

// RateCheck applies the per-actor interval for an operation.
func (s *Service) RateCheck(actor string, op core.OpKind) error {
	if s == nil || s.Governor == nil {
		return nil
	}
	return s.Governor.Allow(actor, op)
}

// RateRemaining reports the wait before an actor may run an operation.
func (s *Service) RateRemaining(actor string, op core.OpKind) time.Duration {
	if s == nil || s.Governor == nil {
		return 0
	}
	return s.Governor.Remaining(actor, op)
}

// CanTeleport checks the durable cooldown for an actor and place.
func (s *Service) CanTeleport(ctx context.Context, actor, place string) (bool, error) {
	if s == nil || s.Ledger == nil {
		return true, nil
	}

	ok, err := s.Ledger.CanAct(ctx, actor, place)
	if err == nil && !ok {
		metrics.CooldownDenials.Inc()
	}
	return ok, err
}

// RemainingCooldownDays reports whole days left on an actor's cooldown.
func (s *Service) RemainingCooldownDays(ctx context.Context, actor, place string) (int, error) {
	if s == nil || s.Ledger == nil {
		return 0, nil
	}
	return s.Ledger.RemainingDays(ctx, actor, place)
}

// RecordTeleport writes a teleport into the cooldown ledger.
func (s *Service) RecordTeleport(ctx context.Context, actor, place string) error {
	if s == nil || s.Ledger == nil {
		return nil
	}
	return s.Ledger.Record(ctx, actor, place)
}

// LastTeleport returns the actor's most recent recorded teleport.
func (s *Service) LastTeleport(ctx context.Context, actor string) (*core.CooldownRecord, error) {
	if s == nil || s.Ledger == nil {
		return nil, nil
	}
	return s.Ledger.LastAction(ctx, actor)
}

// PurgeCache drops expired cache entries, in memory and durable.
func (s *Service) PurgeCache(ctx context.Context) (int64, error) {
	if s == nil || s.Resolver == nil {
		return 0, nil
	}
	return s.Resolver.Purge(ctx)
}

// ClearCache drops every cached resolution.
func (s *Service) ClearCache(ctx context.Context) error {
	if s == nil || s.Resolver == nil {
		return nil
	}
	return s.Resolver.Clear(ctx)
}

// CacheSize reports the in-memory cache entry count.
func (s *Service) CacheSize() int {
	if s == nil || s.Resolver == nil {
		return 0
	}
	return s.Resolver.Size()
}

// BudgetStats reports the geocoder's hourly budget state.
func (s *Service) BudgetStats() geocode.Stats {
	if s == nil || s.Geocoder == nil {
		return geocode.Stats{}
	}
	return s.Geocoder.BudgetStats()
}

// ResetBudget clears the geocoder budget window and cool-off.
func (s *Service) ResetBudget() {
	if s == nil || s.Geocoder == nil {
		return
	}
	s.Geocoder.ResetBudget()
}

// ResetRates clears governor state for one actor, or all when empty.
func (s *Service) ResetRates(actor string) {
	if s == nil || s.Governor == nil {
		return
	}
	s.Governor.Reset(actor)
}

// Close flushes and stops the composed components.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}

	var errs []error
	if s.Resolver != nil {
		errs = append(errs, s.Resolver.Close())
	}
	if s.Ledger != nil {
		errs = append(errs, s.Ledger.Close())
	}
	if s.Governor != nil {
		errs = append(errs, s.Governor.Close())
	}
	return errors.Join(errs...)
}
