// Package geocode resolves place names to coordinates through a
// Nominatim-compatible HTTP provider, pacing requests to stay inside
// the provider's usage policy.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/geowarp/geowarp/internal/config"
	"github.com/geowarp/geowarp/internal/core"
	"github.com/geowarp/geowarp/internal/metrics"
)

// maxBodyBytes caps how much of a provider response is read. A single
// result with address details fits well under this.
const maxBodyBytes = 50 * 1024

// Client is a paced geocoding client. Spacing between requests is
// enforced with a blocking token bucket; the hourly budget is a hard
// window that fails fast once exhausted.
type Client struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	Logger    *zap.Logger
	Clock     func() time.Time

	limiter *rate.Limiter

	mu           sync.Mutex
	hourlyLimit  int
	windowStart  time.Time
	windowCount  int
	coolOff      time.Duration
	coolOffUntil time.Time
}

// Stats is a snapshot of the client's budget state.
type Stats struct {
	WindowStart  time.Time
	WindowCount  int
	HourlyLimit  int
	CoolOffUntil time.Time
}

// New builds a client from config. The HTTP client never follows
// redirects; a redirect from a geocoding provider is not a result.
func New(cfg config.GeocoderConfig, logger *zap.Logger) *Client {
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = 1500 * time.Millisecond
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Logger:      logger,
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
		hourlyLimit: cfg.HourlyLimit,
		coolOff:     cfg.CoolOff,
	}
}

type searchResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Address     struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		County       string `json:"county"`
	} `json:"address"`
}

// Resolve looks up a place name with the provider. It blocks for
// request spacing but fails fast when the hourly budget is spent.
func (c *Client) Resolve(ctx context.Context, query string) (*core.ResolvedPlace, error) {
	if c == nil || c.limiter == nil {
		return nil, errors.New("geocode client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := core.ValidateQuery(query); err != nil {
		return nil, err
	}

	if err := c.reserve(); err != nil {
		metrics.RateRejections.WithLabelValues("geocoder_budget").Inc()
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, core.UpstreamUnavailable("geocode request cancelled", err)
	}

	metrics.UpstreamCalls.Inc()

	place, err := c.fetch(ctx, core.NormalizeQuery(query))
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues(string(core.KindOf(err))).Inc()
		return nil, err
	}
	return place, nil
}

func (c *Client) fetch(ctx context.Context, query string) (*core.ResolvedPlace, error) {
	base, err := url.Parse(c.baseURL())
	if err != nil {
		return nil, core.UpstreamUnavailable("invalid geocoder base url", err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("addressdetails", "1")
	params.Set("accept-language", "en")

	endpoint := base.ResolveReference(&url.URL{Path: strings.TrimSuffix(base.Path, "/") + "/search"})
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, core.UpstreamUnavailable("build geocode request", err)
	}
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, core.UpstreamUnavailable("geocode request failed", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	switch resp.StatusCode {
	case http.StatusOK:
		return c.parse(resp.Body, query)
	case http.StatusNotFound:
		return nil, core.NotFound(fmt.Sprintf("no match for %q", query))
	case http.StatusTooManyRequests:
		wait := retryAfterHeader(resp)
		c.enterCoolOff(wait)
		return nil, core.RateLimited("geocoder rejected request", wait)
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, core.UpstreamDenied("geocoder denied request")
	case http.StatusRequestTimeout, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout,
		http.StatusInternalServerError:
		return nil, core.UpstreamUnavailable(
			fmt.Sprintf("geocoder unavailable (status %d)", resp.StatusCode), nil)
	default:
		return nil, core.MalformedResponse(
			fmt.Sprintf("unexpected geocoder status %d", resp.StatusCode), nil)
	}
}

func (c *Client) parse(body io.Reader, query string) (*core.ResolvedPlace, error) {
	var results []searchResult
	if err := json.NewDecoder(io.LimitReader(body, maxBodyBytes)).Decode(&results); err != nil {
		return nil, core.MalformedResponse("decode geocoder response", err)
	}
	if len(results) == 0 {
		return nil, core.NotFound(fmt.Sprintf("no match for %q", query))
	}

	first := results[0]

	lat, err := strconv.ParseFloat(first.Lat, 64)
	if err != nil {
		return nil, core.MalformedResponse("parse latitude", err)
	}
	lon, err := strconv.ParseFloat(first.Lon, 64)
	if err != nil {
		return nil, core.MalformedResponse("parse longitude", err)
	}

	place, err := core.NewResolvedPlace(core.SanitizePlaceName(displayName(first)), lat, lon, c.now())
	if err != nil {
		return nil, core.MalformedResponse("geocoder returned invalid coordinates", err)
	}
	return place, nil
}

// displayName picks the most specific settlement-level name available,
// falling back to the first segment of the full display name.
func displayName(r searchResult) string {
	for _, candidate := range []string{
		r.Address.City, r.Address.Town, r.Address.Village,
		r.Address.Municipality, r.Address.County,
	} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	if segment, _, found := strings.Cut(r.DisplayName, ","); found {
		return segment
	}
	return r.DisplayName
}

// reserve consumes one slot of the hourly budget, or fails with a
// rate-limit error describing when to retry.
func (c *Client) reserve() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if now.Before(c.coolOffUntil) {
		return core.RateLimited("geocoder cooling off", c.coolOffUntil.Sub(now))
	}

	if now.Sub(c.windowStart) >= time.Hour {
		c.windowStart = now
		c.windowCount = 0
	}

	if c.hourlyLimit > 0 && c.windowCount >= c.hourlyLimit {
		retryAfter := c.windowStart.Add(time.Hour).Sub(now)
		return core.RateLimited("hourly geocode budget exhausted", retryAfter)
	}

	c.windowCount++
	return nil
}

func (c *Client) enterCoolOff(retryAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pause := c.coolOff
	if retryAfter > pause {
		pause = retryAfter
	}
	if pause <= 0 {
		pause = 5 * time.Second
	}
	c.coolOffUntil = c.now().Add(pause)

	if c.Logger != nil {
		c.Logger.Warn("geocoder requested backoff", zap.Duration("pause", pause))
	}
}

// BudgetStats reports the current hourly window state.
func (c *Client) BudgetStats() Stats {
	if c == nil {
		return Stats{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		WindowStart:  c.windowStart,
		WindowCount:  c.windowCount,
		HourlyLimit:  c.hourlyLimit,
		CoolOffUntil: c.coolOffUntil,
	}
}

// ResetBudget clears the hourly window and any cool-off.
func (c *Client) ResetBudget() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.windowStart = time.Time{}
	c.windowCount = 0
	c.coolOffUntil = time.Time{}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}

	retry := resp.Header.Get("Retry-After")
	if retry == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retry); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		return time.Until(parsed)
	}
	return 0
}

func (c *Client) baseURL() string {
	if c != nil && c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://nominatim.openstreetmap.org"
}

func (c *Client) userAgent() string {
	if c != nil && c.UserAgent != "" {
		return c.UserAgent
	}
	return "geowarp/dev"
}

func (c *Client) httpClient() *http.Client {
	if c != nil && c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
