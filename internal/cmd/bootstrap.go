package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/geowarp/geowarp/internal/config"
	"github.com/geowarp/geowarp/internal/core/store"
	"github.com/geowarp/geowarp/internal/engine"
	"github.com/geowarp/geowarp/internal/geocode"
	"github.com/geowarp/geowarp/internal/governor"
	"github.com/geowarp/geowarp/internal/ledger"
	"github.com/geowarp/geowarp/internal/observability"
	"github.com/geowarp/geowarp/internal/resolver"
)

// app bundles everything a command needs, plus its teardown.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	service *engine.Service
}

// newApp opens the store, runs migrations, and assembles the engine.
func newApp(ctx context.Context, logger *zap.Logger) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	offline, err := resolver.LoadOfflineIndex()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	geocoder := geocode.New(cfg.Geocoder, logger)
	res := resolver.New(cfg.Cache, offline, st, geocoder, logger)

	if loaded, err := res.WarmLoad(ctx); err != nil {
		logger.Warn("cache warm load failed", zap.Error(err))
	} else if loaded > 0 {
		logger.Debug("cache warm loaded", zap.Int("entries", loaded))
	}

	led := ledger.New(cfg.Cooldown, st, logger)
	if cfg.Cooldown.Enabled {
		led.StartRetention(cfg.Cooldown.RetentionDays(), 12*time.Hour)
	}

	svc := &engine.Service{
		Resolver: res,
		Governor: governor.New(cfg.Rates, logger),
		Ledger:   led,
		Geocoder: geocoder,
		Origin:   cfg.Origin(),
		Logger:   logger,
	}

	return &app{cfg: cfg, logger: logger, store: st, service: svc}, nil
}

// close flushes the engine and the store.
func (a *app) close() {
	if a == nil {
		return
	}
	if a.service != nil {
		if err := a.service.Close(); err != nil {
			a.logger.Warn("engine shutdown reported errors", zap.Error(err))
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func cliLogger() *zap.Logger {
	logger, err := observability.NewCLILogger(verbose)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
