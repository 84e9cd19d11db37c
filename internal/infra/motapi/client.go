// Package motapi fetches pages of MOT test history from the DVSA trade API.
package motapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
	"github.com/ahrav/mot-ingest/pkg/common"
)

const (
	// DefaultBaseURL is the production trade API host.
	DefaultBaseURL = "https://beta.check-mot.service.gov.uk"
	// DefaultRequestTimeout bounds a single page request.
	DefaultRequestTimeout = 30 * time.Second

	motTestsPath = "/trade/vehicles/mot-tests"
	acceptHeader = "application/json+v6"

	// maxErrorBody caps how much of a failed response is kept for diagnostics.
	maxErrorBody = 512

	// minRequestsPerSecond is the floor the client throttles down to after
	// repeated 429 responses.
	minRequestsPerSecond = 0.5
)

// Config holds the client settings.
type Config struct {
	BaseURL           string
	APIKey            string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

var _ mot.PageFetcher = (*Client)(nil)

// Client is a PageFetcher backed by the trade API. It rate limits outbound
// requests and traces every call.
type Client struct {
	baseURL     *url.URL
	apiKey      string
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	tracer      trace.Tracer
}

// NewClient creates a Client. A nil transport uses http.DefaultTransport.
// A missing API key is reported as a ConfigurationError.
func NewClient(cfg Config, transport http.RoundTripper, tracer trace.Tracer) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &mot.ConfigurationError{Field: "api_key", Err: mot.ErrMissingAPIKey}
	}

	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		if err == nil {
			err = fmt.Errorf("scheme and host are required")
		}
		return nil, &mot.ConfigurationError{Field: "base_url", Err: err}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   timeout,
		},
		rateLimiter: common.NewRateLimiter(cfg.RequestsPerSecond, 1),
		tracer:      tracer,
	}, nil
}

// FetchPage requests the page the cursor points at. A 404 yields a page
// marked NotFound. Every other failure is a TransientError.
func (c *Client) FetchPage(ctx context.Context, cursor mot.Cursor) (*mot.Page, error) {
	ctx, span := c.tracer.Start(ctx, "motapi.fetch_page",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("page", cursor.Page),
			attribute.String("cursor", cursor.String()),
		))
	defer span.End()

	page, err := c.fetch(ctx, cursor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "page fetch failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("vehicles", len(page.Vehicles)),
		attribute.Bool("not_found", page.NotFound),
	)
	return page, nil
}

func (c *Client) fetch(ctx context.Context, cursor mot.Cursor) (*mot.Page, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, &mot.TransientError{Err: fmt.Errorf("rate limiter wait failed: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(cursor), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create page request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &mot.TransientError{Err: fmt.Errorf("page request failed: %w", err)}
	}
	defer resp.Body.Close()

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &mot.Page{Number: cursor.Page, NotFound: true}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		c.throttle(ctx)
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &mot.TransientError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("rate limited %s: %s", resp.Status, strings.TrimSpace(string(data))),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &mot.TransientError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response %s: %s", resp.Status, strings.TrimSpace(string(data))),
		}
	}

	var vehicles []mot.Vehicle
	if err := json.NewDecoder(resp.Body).Decode(&vehicles); err != nil {
		return nil, &mot.TransientError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode page %d: %w", cursor.Page, err),
		}
	}

	return &mot.Page{Number: cursor.Page, Vehicles: vehicles}, nil
}

// throttle halves the request rate, down to minRequestsPerSecond. The rate
// is never raised again within the life of the client. An unlimited client
// stays unlimited.
func (c *Client) throttle(ctx context.Context) {
	current := c.rateLimiter.Limit()
	if rate.Limit(current) == rate.Inf {
		return
	}

	next := max(current/2, minRequestsPerSecond)
	if next == current {
		return
	}
	c.rateLimiter.UpdateLimits(next, 1)
	trace.SpanFromContext(ctx).AddEvent("rate_limit_lowered", trace.WithAttributes(
		attribute.Float64("previous_rps", current),
		attribute.Float64("rps", next),
	))
}

func (c *Client) pageURL(cursor mot.Cursor) string {
	u := c.baseURL.JoinPath(motTestsPath)

	q := url.Values{}
	if cursor.Date != nil {
		q.Set("date", cursor.Date.String())
	}
	q.Set("page", strconv.Itoa(cursor.Page))
	u.RawQuery = q.Encode()

	return u.String()
}
