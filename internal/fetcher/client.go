package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/orderdesk/internal/obs"
)

// ErrFetchFailed is returned for any transport, status or decode failure.
var ErrFetchFailed = errors.New("fetch request details failed")

// maxBody caps how much of a details response is read.
const maxBody = 4 << 20

// Doer executes outbound requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	Endpoint string
	QueryKey string
	HTTP     Doer
	Cache    *Cache
	Logger   *zerolog.Logger
}

// Client retrieves parent request details from the details endpoint.
type Client struct {
	endpoint *url.URL
	queryKey string
	http     Doer
	cache    *Cache
	logger   zerolog.Logger
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.HTTP == nil {
		return nil, errors.New("fetcher: http client not configured")
	}
	u, err := url.Parse(strings.TrimSpace(cfg.Endpoint))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("fetcher: invalid endpoint %q", cfg.Endpoint)
	}
	key := strings.TrimSpace(cfg.QueryKey)
	if key == "" {
		key = "solicitud_ids"
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "fetcher").Logger()
	}
	return &Client{endpoint: u, queryKey: key, http: cfg.HTTP, cache: cfg.Cache, logger: logger}, nil
}

// FetchDetails returns the detail records for ids in one call. An empty id
// set returns immediately without touching the network.
func (c *Client) FetchDetails(ctx context.Context, ids []int64) ([]DetailRecord, error) {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		countFetch("empty")
		return []DetailRecord{}, nil
	}

	ctx, span := otel.Tracer("orderdesk/fetcher").Start(ctx, "fetcher.fetch_details")
	defer span.End()
	span.SetAttributes(attribute.Int("details.request_count", len(ids)))

	if records, ok, err := c.cache.Get(ctx, ids); err != nil {
		c.logger.Warn().Err(err).Msg("details cache read failed")
	} else if ok {
		countFetch("cached")
		return records, nil
	}

	start := time.Now()
	records, err := c.fetch(ctx, ids)
	if obs.DetailFetchLatency != nil {
		obs.DetailFetchLatency.Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		countFetch("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		c.logger.Error().Err(err).Ints64("request_ids", ids).Msg("fetch request details")
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	countFetch("ok")
	span.SetAttributes(attribute.Int("details.record_count", len(records)))

	if err := c.cache.Set(ctx, ids, records); err != nil {
		c.logger.Warn().Err(err).Msg("details cache write failed")
	}
	return records, nil
}

func (c *Client) fetch(ctx context.Context, ids []int64) ([]DetailRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(ids), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var payload detailsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	if payload.Details == nil {
		return []DetailRecord{}, nil
	}
	return payload.Details, nil
}

func (c *Client) requestURL(ids []int64) string {
	u := *c.endpoint
	q := u.Query()
	q.Del(c.queryKey)
	for _, id := range ids {
		q.Add(c.queryKey, strconv.FormatInt(id, 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func normalizeIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func countFetch(result string) {
	if obs.DetailFetchTotal != nil {
		obs.DetailFetchTotal.WithLabelValues(result).Inc()
	}
}
