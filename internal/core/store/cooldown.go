package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geowarp/geowarp/internal/core"
)

// LastAction returns the most recent teleport record for an actor, or
// nil when none exists.
func (s *Store) LastAction(ctx context.Context, actor string) (*core.CooldownRecord, error) {
	return s.lastAction(ctx, actor, "")
}

// LastActionAt returns the most recent teleport record for an actor at
// a specific place, for per-place cooldown mode.
func (s *Store) LastActionAt(ctx context.Context, actor, place string) (*core.CooldownRecord, error) {
	if strings.TrimSpace(place) == "" {
		return nil, errors.New("place is required")
	}
	if err := core.ValidatePlaceLabel(place); err != nil {
		return nil, err
	}
	return s.lastAction(ctx, actor, place)
}

func (s *Store) lastAction(ctx context.Context, actor, place string) (*core.CooldownRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := core.ValidateActorID(actor); err != nil {
		return nil, err
	}

	var (
		gotPlace string
		gotDay   string
		row      *sql.Row
	)

	if place == "" {
		row = s.DB.QueryRowContext(ctx, `
			SELECT place, day FROM teleport_ledger
			WHERE actor = ? ORDER BY day DESC LIMIT 1
		`, actor)
	} else {
		row = s.DB.QueryRowContext(ctx, `
			SELECT place, day FROM teleport_ledger
			WHERE actor = ? AND place = ? ORDER BY day DESC LIMIT 1
		`, actor, core.NormalizeQuery(place))
	}

	if err := row.Scan(&gotPlace, &gotDay); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch last action for %s: %w", actor, err)
	}

	day, err := parseDay(gotDay)
	if err != nil {
		return nil, err
	}

	return &core.CooldownRecord{Actor: actor, Place: gotPlace, Day: day}, nil
}

// SaveActions upserts a batch of cooldown records in one transaction.
// The (actor, day) uniqueness constraint replaces same-day duplicates.
func (s *Store) SaveActions(ctx context.Context, records []core.CooldownRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if len(records) == 0 {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger batch: %w", err)
	}

	const insert = `
		INSERT OR REPLACE INTO teleport_ledger (actor, place, day)
		VALUES (?, ?, ?)
	`

	for _, r := range records {
		if err := core.ValidateActorID(r.Actor); err != nil {
			continue
		}
		if err := core.ValidatePlaceLabel(r.Place); err != nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, insert, r.Actor, core.NormalizeQuery(r.Place), normalizeDay(r.Day)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store ledger record for %s: %w", r.Actor, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger batch: %w", err)
	}
	return nil
}

// SaveAction writes a single cooldown record synchronously. This is the
// fallback path used when the batch queue is full or a flush fails.
func (s *Store) SaveAction(ctx context.Context, record core.CooldownRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := core.ValidateActorID(record.Actor); err != nil {
		return err
	}
	if err := core.ValidatePlaceLabel(record.Place); err != nil {
		return err
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO teleport_ledger (actor, place, day)
		VALUES (?, ?, ?)
	`, record.Actor, core.NormalizeQuery(record.Place), normalizeDay(record.Day))
	if err != nil {
		return fmt.Errorf("store ledger record for %s: %w", record.Actor, err)
	}
	return nil
}

// ActorHistory returns every place an actor teleported to with the most
// recent day for each.
func (s *Store) ActorHistory(ctx context.Context, actor string) (map[string]time.Time, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := core.ValidateActorID(actor); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT place, MAX(day) AS last_day
		FROM teleport_ledger WHERE actor = ?
		GROUP BY place ORDER BY last_day DESC
	`, actor)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", actor, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	history := make(map[string]time.Time)
	for rows.Next() {
		var place, dayStr string
		if err := rows.Scan(&place, &dayStr); err != nil {
			return nil, fmt.Errorf("scan history for %s: %w", actor, err)
		}
		day, err := parseDay(dayStr)
		if err != nil {
			continue
		}
		history[place] = day
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", actor, err)
	}

	return history, nil
}

// DeleteActionsBefore removes ledger rows older than the cutoff day and
// reports how many were deleted.
func (s *Store) DeleteActionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM teleport_ledger WHERE day < ?`, normalizeDay(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func normalizeDay(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}

func parseDay(value string) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ledger day %q: %w", value, err)
	}
	return day, nil
}
