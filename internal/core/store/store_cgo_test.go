//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geowarp/geowarp/internal/config"
	"github.com/geowarp/geowarp/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPlaceCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	place, err := core.NewResolvedPlace("Rome", 41.9028, 12.4964, time.Now())
	require.NoError(t, err)

	rows := []PersistedPlace{{
		Query:     "ROMA ",
		Place:     *place,
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	require.NoError(t, s.SavePlaces(ctx, rows))

	got, err := s.GetPlace(ctx, "roma")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Rome", got.Place.Name)
	require.InDelta(t, 41.9028, got.Place.Latitude, 1e-9)

	// The key is normalized, so the original spelling hits too.
	got, err = s.GetPlace(ctx, "  Roma")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestPlaceCacheExpiry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	place, err := core.NewResolvedPlace("Old", 1, 1, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.SavePlaces(ctx, []PersistedPlace{{
		Query:     "old",
		Place:     *place,
		ExpiresAt: time.Now().Add(-time.Hour),
	}}))

	got, err := s.GetPlace(ctx, "old")
	require.NoError(t, err)
	require.Nil(t, got)

	purged, err := s.PurgeExpiredPlaces(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	n, err := s.CountPlaces(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLoadPlacesSkipsExpired(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	live, err := core.NewResolvedPlace("Live", 2, 2, time.Now())
	require.NoError(t, err)
	dead, err := core.NewResolvedPlace("Dead", 3, 3, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.SavePlaces(ctx, []PersistedPlace{
		{Query: "live", Place: *live, ExpiresAt: time.Now().Add(time.Hour)},
		{Query: "dead", Place: *dead, ExpiresAt: time.Now().Add(-time.Hour)},
	}))

	rows, err := s.LoadPlaces(ctx, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "live", rows[0].Query)
}

func TestLedgerLastAction(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	got, err := s.LastAction(ctx, "steve")
	require.NoError(t, err)
	require.Nil(t, got)

	day := core.Day(time.Date(2025, 5, 1, 15, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveAction(ctx, core.CooldownRecord{Actor: "steve", Place: "Rome", Day: day}))

	got, err = s.LastAction(ctx, "steve")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "rome", got.Place)
	require.True(t, got.Day.Equal(day))
}

func TestLedgerSameDayReplace(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	day := core.Day(time.Now())
	require.NoError(t, s.SaveAction(ctx, core.CooldownRecord{Actor: "steve", Place: "Rome", Day: day}))
	require.NoError(t, s.SaveAction(ctx, core.CooldownRecord{Actor: "steve", Place: "Paris", Day: day}))

	got, err := s.LastAction(ctx, "steve")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "paris", got.Place)

	history, err := s.ActorHistory(ctx, "steve")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestLedgerPerPlaceLookup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	dayRome := core.Day(time.Now().AddDate(0, 0, -10))
	dayParis := core.Day(time.Now().AddDate(0, 0, -1))
	require.NoError(t, s.SaveActions(ctx, []core.CooldownRecord{
		{Actor: "steve", Place: "Rome", Day: dayRome},
		{Actor: "steve", Place: "Paris", Day: dayParis},
	}))

	got, err := s.LastActionAt(ctx, "steve", "rome")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.Day.Equal(dayRome))

	got, err = s.LastActionAt(ctx, "steve", "berlin")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestLedgerRetentionPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveActions(ctx, []core.CooldownRecord{
		{Actor: "ancient", Place: "Rome", Day: core.Day(time.Now().AddDate(0, 0, -100))},
		{Actor: "recent", Place: "Paris", Day: core.Day(time.Now())},
	}))

	deleted, err := s.DeleteActionsBefore(ctx, core.Day(time.Now().AddDate(0, 0, -30)))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	got, err := s.LastAction(ctx, "recent")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestLedgerRejectsInvalidActor(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.LastAction(ctx, "bad actor;")
	require.ErrorIs(t, err, core.ErrInvalidInput)

	err = s.SaveAction(ctx, core.CooldownRecord{Actor: "bad actor;", Place: "Rome", Day: core.Day(time.Now())})
	require.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestLedgerRejectsInvalidPlace(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	day := core.Day(time.Now())
	err := s.SaveAction(ctx, core.CooldownRecord{Actor: "steve", Place: "<script>alert(1)</script>", Day: day})
	require.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = s.LastActionAt(ctx, "steve", "../../etc/passwd")
	require.ErrorIs(t, err, core.ErrInvalidInput)

	// Batch saves skip invalid labels instead of failing the batch.
	require.NoError(t, s.SaveActions(ctx, []core.CooldownRecord{
		{Actor: "steve", Place: "drop table users", Day: day},
		{Actor: "steve", Place: "Rome", Day: day},
	}))

	got, err := s.LastAction(ctx, "steve")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "rome", got.Place)
}
