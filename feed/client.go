// Package feed reads pages of listings and their media from OData feeds.
package feed

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

	"github.com/jbvcollective/Kozi-sub000/config"
	"github.com/jbvcollective/Kozi-sub000/models"
	"github.com/jbvcollective/Kozi-sub000/utils"
)

const (
	DefaultTimeout = 90 * time.Second
	MinTimeout     = 10 * time.Second
	MaxTimeout     = 300 * time.Second

	defaultMediaPageSize = 100
	maxMediaPages        = 50
)

// Options configures a Client.
type Options struct {
	Name        string
	PropertyURL string
	MediaURL    string
	Token       string
	Timeout     time.Duration

	// Retries5xx is how many extra attempts a 502/503/504 gets.
	// Zero disables the retry.
	Retries5xx int
	RetryBase  time.Duration

	MediaPageSize int
	Fields        *config.FieldMap
	HTTPClient    *http.Client
}

// Client talks to one feed's Property and Media resources.
type Client struct {
	name        string
	propertyURL string
	mediaURL    string
	token       string
	http        *http.Client
	fields      *config.FieldMap

	retries5xx    int
	retryBase     time.Duration
	mediaPageSize int

	logger *utils.Logger
}

// New creates a Client. The request timeout is clamped to [10s, 300s].
func New(opts Options, logger *utils.Logger) *Client {
	hc := &http.Client{}
	if opts.HTTPClient != nil {
		shared := *opts.HTTPClient
		hc = &shared
	}
	hc.Timeout = ClampTimeout(opts.Timeout)

	fields := opts.Fields
	if fields == nil {
		fields = config.DefaultFieldMap()
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = time.Second
	}
	mediaPageSize := opts.MediaPageSize
	if mediaPageSize <= 0 {
		mediaPageSize = defaultMediaPageSize
	}
	mediaURL := opts.MediaURL
	if mediaURL == "" {
		mediaURL = config.MediaURLFor(opts.PropertyURL)
	}

	return &Client{
		name:          opts.Name,
		propertyURL:   opts.PropertyURL,
		mediaURL:      mediaURL,
		token:         opts.Token,
		http:          hc,
		fields:        fields,
		retries5xx:    opts.Retries5xx,
		retryBase:     retryBase,
		mediaPageSize: mediaPageSize,
		logger:        logger,
	}
}

// ClampTimeout applies the default and bounds to a request timeout.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// Name returns the feed label used in logs.
func (c *Client) Name() string { return c.name }

// Identity returns the record's listing key, or "".
func (c *Client) Identity(r models.Record) string {
	return r.String(c.fields.Identity)
}

// strategy is one rung of the query fallback ladder.
type strategy struct {
	name        string
	withSelect  bool
	withOrderBy bool
}

// ladder lists query shapes from richest to barest. Feeds that reject a
// shape with HTTP 400 are retried with the next one.
func ladder(orderByModification bool) []strategy {
	var out []strategy
	if orderByModification {
		out = append(out, strategy{name: "select+orderby", withSelect: true, withOrderBy: true})
	}
	return append(out,
		strategy{name: "select", withSelect: true},
		strategy{name: "bare"},
	)
}

type page struct {
	Value    []models.Record `json:"value"`
	NextLink string          `json:"@odata.nextLink"`
}

// FetchPage returns the records at [offset, offset+pageSize) that carry a
// listing key. RawCount on the result counts the dropped records too.
func (c *Client) FetchPage(ctx context.Context, offset, pageSize int, orderByModification bool) (models.Page, error) {
	var lastErr error
	for _, s := range ladder(orderByModification) {
		params := [][2]string{}
		if s.withSelect && len(c.fields.Select) > 0 {
			params = append(params, [2]string{"$select", strings.Join(c.fields.Select, ",")})
		}
		if s.withOrderBy && c.fields.OrderBy != "" {
			params = append(params, [2]string{"$orderby", c.fields.OrderBy + " desc"})
		}
		params = append(params,
			[2]string{"$top", strconv.Itoa(pageSize)},
			[2]string{"$skip", strconv.Itoa(offset)},
		)

		body, err := c.get(ctx, buildURL(c.propertyURL, params))
		if err != nil {
			if KindOf(err) == KindSchema {
				c.logger.Warn("[feed:%s] query shape %q rejected (400), falling back", c.name, s.name)
				lastErr = err
				continue
			}
			return models.Page{}, err
		}

		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return models.Page{}, &UpstreamError{Kind: KindFatal, URL: c.propertyURL, Body: snippet(string(body), 500),
				Err: fmt.Errorf("decode page: %w", err)}
		}

		out := make([]models.Record, 0, len(p.Value))
		for _, r := range p.Value {
			if c.Identity(r) == "" {
				continue
			}
			out = append(out, r)
		}
		c.logger.Debug("[feed:%s] offset=%d got %d/%d records (strategy %s)", c.name, offset, len(out), len(p.Value), s.name)
		return models.Page{Records: out, RawCount: len(p.Value)}, nil
	}
	return models.Page{}, lastErr
}

// get issues a GET, retrying 502/503/504 with linear backoff when enabled.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries5xx+1; attempt++ {
		body, err := c.getOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		switch StatusOf(err) {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		default:
			return nil, err
		}
		if attempt > c.retries5xx {
			break
		}
		delay := c.retryBase * time.Duration(attempt)
		c.logger.Warn("[feed:%s] status %d (attempt %d/%d), retrying in %v",
			c.name, StatusOf(err), attempt, c.retries5xx+1, delay)
		if err := utils.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) getOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Kind: KindTransient, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Kind: KindTransient, URL: rawURL, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			Kind:   kindForStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Body:   string(body),
			URL:    rawURL,
		}
	}
	return body, nil
}

// buildURL appends OData parameters, encoding spaces as %20.
func buildURL(base string, params [][2]string) string {
	var sb strings.Builder
	sb.WriteString(base)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	for _, p := range params {
		sb.WriteString(sep)
		sb.WriteString(p[0])
		sb.WriteString("=")
		sb.WriteString(strings.ReplaceAll(url.QueryEscape(p[1]), "+", "%20"))
		sep = "&"
	}
	return sb.String()
}
