package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geowarp/geowarp/internal/config"
	"github.com/geowarp/geowarp/internal/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(config.GeocoderConfig{
		BaseURL:     srv.URL,
		UserAgent:   "geowarp-test/1.0",
		Timeout:     2 * time.Second,
		MinInterval: time.Millisecond,
		HourlyLimit: 100,
		CoolOff:     time.Second,
	}, nil)
	return client, srv
}

func TestResolveSuccess(t *testing.T) {
	var gotUA atomic.Value
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		require.Equal(t, "rome", r.URL.Query().Get("q"))
		require.Equal(t, "json", r.URL.Query().Get("format"))
		require.Equal(t, "1", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
			"display_name": "Roma, Lazio, Italia",
			"lat": "41.9028",
			"lon": "12.4964",
			"address": {"city": "Rome"}
		}]`))
	})

	place, err := client.Resolve(context.Background(), " Rome ")
	require.NoError(t, err)
	require.Equal(t, "Rome", place.Name)
	require.InDelta(t, 41.9028, place.Latitude, 1e-9)
	require.InDelta(t, 12.4964, place.Longitude, 1e-9)
	require.Equal(t, "geowarp-test/1.0", gotUA.Load())
}

func TestResolveDisplayNameFallback(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{
			"display_name": "Smallville, Kansas, USA",
			"lat": "38.5",
			"lon": "-98.0",
			"address": {}
		}]`))
	})

	place, err := client.Resolve(context.Background(), "smallville")
	require.NoError(t, err)
	require.Equal(t, "Smallville", place.Name)
}

func TestResolveSanitizesName(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{
			"display_name": "x",
			"lat": "10",
			"lon": "10",
			"address": {"city": "<b>Rome</b>"}
		}]`))
	})

	place, err := client.Resolve(context.Background(), "rome")
	require.NoError(t, err)
	require.Equal(t, "bRome/b", place.Name)
}

func TestResolveEmptyResults(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := client.Resolve(context.Background(), "nowheresville")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestResolveStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"NotFound", http.StatusNotFound, core.ErrNotFound},
		{"TooManyRequests", http.StatusTooManyRequests, core.ErrRateLimited},
		{"Forbidden", http.StatusForbidden, core.ErrUpstreamDenied},
		{"BadGateway", http.StatusBadGateway, core.ErrUpstreamUnavailable},
		{"Timeout", http.StatusRequestTimeout, core.ErrUpstreamUnavailable},
		{"Teapot", http.StatusTeapot, core.ErrMalformedResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := client.Resolve(context.Background(), "rome")
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestResolveInvalidQueryNeverCallsUpstream(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	for _, query := range []string{"", "Roma'; DROP TABLE--", "<script>alert(1)</script>", "../etc"} {
		_, err := client.Resolve(context.Background(), query)
		require.ErrorIs(t, err, core.ErrInvalidInput, "query %q", query)
	}
	require.Zero(t, calls.Load())
}

func TestResolveMalformedBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not": "an array"`))
	})

	_, err := client.Resolve(context.Background(), "rome")
	require.ErrorIs(t, err, core.ErrMalformedResponse)
}

func TestHourlyBudgetExhaustion(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"display_name": "Rome", "lat": "41.9", "lon": "12.5", "address": {"city": "Rome"}}]`))
	}))
	t.Cleanup(srv.Close)

	client := New(config.GeocoderConfig{
		BaseURL:     srv.URL,
		MinInterval: time.Millisecond,
		HourlyLimit: 2,
	}, nil)

	ctx := context.Background()
	_, err := client.Resolve(ctx, "rome")
	require.NoError(t, err)
	_, err = client.Resolve(ctx, "milan")
	require.NoError(t, err)

	_, err = client.Resolve(ctx, "paris")
	require.ErrorIs(t, err, core.ErrRateLimited)

	var failure *core.Failure
	require.ErrorAs(t, err, &failure)
	require.Greater(t, failure.RetryAfter, time.Duration(0))

	// The third attempt never reached the provider.
	require.EqualValues(t, 2, calls.Load())
}

func TestBudgetWindowRolls(t *testing.T) {
	now := time.Now().UTC()
	client := New(config.GeocoderConfig{MinInterval: time.Millisecond, HourlyLimit: 1}, nil)
	client.Clock = func() time.Time { return now }

	require.NoError(t, client.reserve())
	require.ErrorIs(t, client.reserve(), core.ErrRateLimited)

	now = now.Add(61 * time.Minute)
	require.NoError(t, client.reserve())
}

func TestCoolOffAfterProviderRejection(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Resolve(context.Background(), "rome")
	require.ErrorIs(t, err, core.ErrRateLimited)

	// Subsequent calls fail fast until the cool-off expires.
	_, err = client.Resolve(context.Background(), "milan")
	require.ErrorIs(t, err, core.ErrRateLimited)

	stats := client.BudgetStats()
	require.True(t, stats.CoolOffUntil.After(time.Now()))

	client.ResetBudget()
	stats = client.BudgetStats()
	require.True(t, stats.CoolOffUntil.IsZero())
	require.Zero(t, stats.WindowCount)
}
