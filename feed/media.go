package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jbvcollective/Kozi-sub000/models"
)

// FetchMedia returns the raw photo URLs attached to listingKey. Feeds that
// key media by a different field are tried with the alternate filter field
// when the first one finds nothing. A 400 from the Media resource means
// "no media" and is not an error.
func (c *Client) FetchMedia(ctx context.Context, listingKey string) ([]string, error) {
	filterFields := c.fields.Media.FilterFields
	if len(filterFields) > 2 {
		filterFields = filterFields[:2]
	}

	for i, field := range filterFields {
		urls, err := c.fetchMediaBy(ctx, field, listingKey)
		if err != nil {
			return nil, err
		}
		if len(urls) > 0 {
			return urls, nil
		}
		if i == 0 && len(filterFields) > 1 {
			c.logger.Debug("[feed:%s] no media for %s by %s, trying %s", c.name, listingKey, field, filterFields[1])
		}
	}
	return []string{}, nil
}

func (c *Client) fetchMediaBy(ctx context.Context, field, listingKey string) ([]string, error) {
	filter := fmt.Sprintf("%s eq '%s'", field, strings.ReplaceAll(listingKey, "'", "''"))

	var items []models.Record
	skip := 0
	next := c.mediaPageURL(filter, skip)
	for pageNum := 1; pageNum <= maxMediaPages; pageNum++ {
		body, err := c.get(ctx, next)
		if err != nil {
			if KindOf(err) == KindSchema {
				return nil, nil
			}
			return nil, fmt.Errorf("media %s=%s: %w", field, listingKey, err)
		}

		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("media %s=%s: decode: %w", field, listingKey, err)
		}
		items = append(items, p.Value...)

		if len(p.Value) < c.mediaPageSize {
			break
		}
		if p.NextLink != "" {
			next = p.NextLink
			continue
		}
		skip += c.mediaPageSize
		next = c.mediaPageURL(filter, skip)
	}

	return c.mediaURLs(items), nil
}

func (c *Client) mediaPageURL(filter string, skip int) string {
	return buildURL(c.mediaURL, [][2]string{
		{"$filter", filter},
		{"$top", strconv.Itoa(c.mediaPageSize)},
		{"$skip", strconv.Itoa(skip)},
	})
}

// mediaURLs orders items by their Order field when present (stable, so
// unordered items keep feed order) and extracts each item's URL.
func (c *Client) mediaURLs(items []models.Record) []string {
	orderFields := c.fields.Media.Order
	sort.SliceStable(items, func(i, j int) bool {
		oi, okI := items[i].Float(orderFields)
		oj, okJ := items[j].Float(orderFields)
		if okI != okJ {
			return okI
		}
		return okI && oi < oj
	})

	out := make([]string, 0, len(items))
	for _, it := range items {
		if u := it.String(c.fields.Media.URL); u != "" {
			out = append(out, u)
		}
	}
	return out
}
