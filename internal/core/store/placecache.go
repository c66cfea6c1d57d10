package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/geowarp/geowarp/internal/core"
)

// PersistedPlace is one durable row of the resolution cache.
type PersistedPlace struct {
	Query     string
	Place     core.ResolvedPlace
	ExpiresAt time.Time
}

// GetPlace returns a persisted resolution if it has not expired.
func (s *Store) GetPlace(ctx context.Context, query string) (*PersistedPlace, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	query = core.NormalizeQuery(query)
	if query == "" {
		return nil, errors.New("cache query is required")
	}

	var (
		name       string
		lat, lon   float64
		resolvedAt int64
		expiresAt  int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT display_name, latitude, longitude, resolved_at, expires_at
		FROM place_cache
		WHERE query = ? AND expires_at > ?
	`, query, time.Now().UTC().Unix())

	if err := row.Scan(&name, &lat, &lon, &resolvedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch cached place: %w", err)
	}

	place, err := core.NewResolvedPlace(name, lat, lon, time.Unix(resolvedAt, 0).UTC())
	if err != nil {
		// A row that fails coordinate validation is treated as absent;
		// it will be replaced by the next successful resolution.
		return nil, nil
	}

	return &PersistedPlace{
		Query:     query,
		Place:     *place,
		ExpiresAt: time.Unix(expiresAt, 0).UTC(),
	}, nil
}

// SavePlaces upserts a batch of resolutions in a single transaction.
func (s *Store) SavePlaces(ctx context.Context, rows []PersistedPlace) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if len(rows) == 0 {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache batch: %w", err)
	}

	const upsert = `
		INSERT INTO place_cache (query, display_name, latitude, longitude, resolved_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET
			display_name = excluded.display_name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			resolved_at = excluded.resolved_at,
			expires_at = excluded.expires_at
	`

	for _, r := range rows {
		key := core.NormalizeQuery(r.Query)
		if key == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert,
			key, r.Place.Name, r.Place.Latitude, r.Place.Longitude,
			r.Place.ResolvedAt.UTC().Unix(), r.ExpiresAt.UTC().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store cached place %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache batch: %w", err)
	}
	return nil
}

// LoadPlaces streams all unexpired rows, oldest first, capped at limit.
func (s *Store) LoadPlaces(ctx context.Context, limit int) ([]PersistedPlace, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit < 1 {
		return nil, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT query, display_name, latitude, longitude, resolved_at, expires_at
		FROM place_cache
		WHERE expires_at > ?
		ORDER BY resolved_at ASC
		LIMIT ?
	`, time.Now().UTC().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("load cached places: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []PersistedPlace
	for rows.Next() {
		var (
			query      string
			name       string
			lat, lon   float64
			resolvedAt int64
			expiresAt  int64
		)
		if err := rows.Scan(&query, &name, &lat, &lon, &resolvedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan cached place: %w", err)
		}

		place, err := core.NewResolvedPlace(name, lat, lon, time.Unix(resolvedAt, 0).UTC())
		if err != nil {
			continue
		}
		out = append(out, PersistedPlace{
			Query:     query,
			Place:     *place,
			ExpiresAt: time.Unix(expiresAt, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load cached places: %w", err)
	}

	return out, nil
}

// PurgeExpiredPlaces deletes rows whose expiry has passed and reports
// how many were removed.
func (s *Store) PurgeExpiredPlaces(ctx context.Context) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM place_cache WHERE expires_at <= ?`, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge cached places: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// ClearPlaces drops every persisted resolution.
func (s *Store) ClearPlaces(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM place_cache`); err != nil {
		return fmt.Errorf("clear cached places: %w", err)
	}
	return nil
}

// CountPlaces reports the number of persisted rows, expired included.
func (s *Store) CountPlaces(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM place_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cached places: %w", err)
	}
	return n, nil
}
