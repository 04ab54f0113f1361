package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/jbvcollective/Kozi-sub000/models"
)

// MemorySink keeps unified listings and analytics in process memory.
// It backs dry runs and tests. It is safe for concurrent use.
type MemorySink struct {
	mu        sync.Mutex
	rows      map[string]*models.ListingRow
	analytics *models.MarketAnalytics
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{rows: make(map[string]*models.ListingRow)}
}

func (m *MemorySink) UpsertListings(ctx context.Context, rows []*models.ListingRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[r.Identity] = r
	}
	return nil
}

func (m *MemorySink) UpsertListing(ctx context.Context, row *models.ListingRow) error {
	return m.UpsertListings(ctx, []*models.ListingRow{row})
}

// FetchAll returns rows ordered by identity.
func (m *MemorySink) FetchAll(ctx context.Context) ([]*models.ListingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ListingRow, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// Get returns one row by identity.
func (m *MemorySink) Get(identity string) (*models.ListingRow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[identity]
	return r, ok
}

// Len returns the number of stored rows.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// WriteAnalytics upserts each analytics row on its grouping key. Rows from
// earlier writes that a newer result does not mention are kept.
func (m *MemorySink) WriteAnalytics(ctx context.Context, a *models.MarketAnalytics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.analytics == nil {
		m.analytics = &models.MarketAnalytics{}
	}
	cur := m.analytics
	if a.ComputedAt.After(cur.ComputedAt) {
		cur.ComputedAt = a.ComputedAt
	}
	cur.ByArea = upsertRows(cur.ByArea, a.ByArea, func(r models.AreaRatio) string { return r.Area })
	cur.ByAreaSubtype = upsertRows(cur.ByAreaSubtype, a.ByAreaSubtype,
		func(r models.SubtypeDOM) string { return r.Area + "\x00" + r.Subtype })
	cur.ByAreaPriceBracket = upsertRows(cur.ByAreaPriceBracket, a.ByAreaPriceBracket,
		func(r models.BracketDOM) string { return r.Area + "\x00" + r.Bracket })
	cur.ByMonth = upsertRows(cur.ByMonth, a.ByMonth, func(r models.MonthStat) string { return r.Month })
	cur.AreaHealth = upsertRows(cur.AreaHealth, a.AreaHealth,
		func(r models.AreaHealth) string { return r.AreaType + "\x00" + r.Area })
	return nil
}

// upsertRows replaces rows of cur that share a key with next, appends the
// rest and returns the result ordered by key.
func upsertRows[T any](cur, next []T, key func(T) string) []T {
	byKey := make(map[string]T, len(cur)+len(next))
	for _, r := range cur {
		byKey[key(r)] = r
	}
	for _, r := range next {
		byKey[key(r)] = r
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}

// Analytics returns the accumulated analytics rows.
func (m *MemorySink) Analytics() *models.MarketAnalytics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analytics
}

// MemoryCursorStore is a non-durable CursorStore.
type MemoryCursorStore struct {
	mu      sync.Mutex
	offsets map[string]int
}

// NewMemoryCursorStore creates an empty MemoryCursorStore.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{offsets: make(map[string]int)}
}

func (s *MemoryCursorStore) Load(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[name], nil
}

func (s *MemoryCursorStore) Save(ctx context.Context, name string, offset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[name] = offset
	return nil
}
