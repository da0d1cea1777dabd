// Package gateway implements the polling client for the upstream decision
// gateway's snapshot endpoint. The client only reads; it never mutates
// upstream state.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/observer/pkg/canonicalize"
)

// Client fetches snapshot pages from the gateway. Requests go through a rate
// limiter so follow mode cannot hammer the upstream.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a client for baseURL. Polling is limited to five
// requests per second with a small burst.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		logger:  slog.Default().With("component", "gateway"),
	}
}

// ObserveOptions configure an observation run.
type ObserveOptions struct {
	StreamID     string
	Lane         string
	Limit        int
	Follow       bool
	PollInterval time.Duration
}

// Snapshot fetches one page of gateway events starting at offset. Bare-list
// responses are accepted and wrapped into an envelope.
func (c *Client) Snapshot(ctx context.Context, offset int, opts ObserveOptions) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(opts.Limit))
	if opts.StreamID != "" {
		params.Set("stream_id", opts.StreamID)
	}
	if opts.Lane != "" {
		params.Set("lane", opts.Lane)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/snapshot?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway snapshot: unexpected status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("gateway snapshot: %w", err)
	}

	switch t := v.(type) {
	case map[string]any:
		if _, ok := t["events"].([]any); !ok {
			return nil, fmt.Errorf("gateway snapshot: response is not a list or envelope")
		}
		return t, nil
	case []any:
		return map[string]any{"events": t}, nil
	default:
		return nil, fmt.Errorf("gateway snapshot: response is not a list or envelope")
	}
}

// Observe fetches gateway events page by page, calling fn for each one.
// Without Follow it returns after the first page. In follow mode it keeps
// paging, also after the stream drains, sleeping opts.PollInterval between
// empty pages, until ctx is canceled.
func (c *Client) Observe(ctx context.Context, opts ObserveOptions, fn func(map[string]any) error) error {
	if opts.Limit <= 0 {
		opts.Limit = 200
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	offset := 0
	for {
		envelope, err := c.Snapshot(ctx, offset, opts)
		if err != nil {
			return err
		}
		items, _ := envelope["events"].([]any)
		c.logger.Debug("snapshot page", "offset", offset, "events", len(items))
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("gateway snapshot: events must be objects")
			}
			if err := fn(m); err != nil {
				return err
			}
		}
		offset += len(items)

		if !opts.Follow {
			return nil
		}
		if len(items) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.PollInterval):
			}
		}
	}
}

// RenderEvent formats a gateway event for terminal output: "json" yields the
// canonical single-line encoding, anything else the key=value line form.
func RenderEvent(e map[string]any, format string) (string, error) {
	if format == "json" {
		b, err := canonicalize.Bytes(e)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	payload := e["payload"]
	payloadJSON, err := canonicalize.Bytes(payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"index=%s kind=%s lane=%s actor=%s stream_id=%s payload=%s",
		numberOr(e, "index"), stringOr(e, "kind"), stringOr(e, "lane"),
		stringOr(e, "actor"), stringOr(e, "stream_id"), payloadJSON,
	), nil
}

func stringOr(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberOr(m map[string]any, key string) string {
	if n, ok := m[key].(json.Number); ok {
		return n.String()
	}
	return "-1"
}
