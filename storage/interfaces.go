package storage

import (
	"context"

	"github.com/jbvcollective/Kozi-sub000/models"
)

// ListingSink is the interface any unified_listings backend must satisfy.
// Both methods upsert on identity; each call is atomic on its own.
type ListingSink interface {
	UpsertListings(ctx context.Context, rows []*models.ListingRow) error
	UpsertListing(ctx context.Context, row *models.ListingRow) error
}

// ListingReader returns every persisted row, for the analytics pass.
type ListingReader interface {
	FetchAll(ctx context.Context) ([]*models.ListingRow, error)
}

// AnalyticsWriter upserts the derived market tables keyed on their grouping tuple.
type AnalyticsWriter interface {
	WriteAnalytics(ctx context.Context, a *models.MarketAnalytics) error
}

// CursorStore persists the sync offset for a feed pairing across restarts.
// A missing cursor loads as 0.
type CursorStore interface {
	Load(ctx context.Context, name string) (int, error)
	Save(ctx context.Context, name string, offset int) error
}

var (
	_ ListingSink     = (*PostgresSink)(nil)
	_ ListingReader   = (*PostgresSink)(nil)
	_ AnalyticsWriter = (*PostgresSink)(nil)
	_ CursorStore     = (*PostgresSink)(nil)

	_ ListingSink     = (*MemorySink)(nil)
	_ ListingReader   = (*MemorySink)(nil)
	_ AnalyticsWriter = (*MemorySink)(nil)

	_ CursorStore = (*SQLiteCursorStore)(nil)
	_ CursorStore = (*MemoryCursorStore)(nil)
)
