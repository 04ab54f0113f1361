package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/jbvcollective/Kozi-sub000/models"
)

// maxRowsPerStatement keeps a multi-row upsert well under the 65535
// bind-parameter limit.
const maxRowsPerStatement = 500

// PostgresSink persists listing rows, analytics and sync cursors to PostgreSQL.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresSink.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresSink{db: db}
	if err := ps.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresSink) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS unified_listings (
			identity         TEXT PRIMARY KEY,
			public_facet     JSONB,
			restricted_facet JSONB,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_unified_listings_updated ON unified_listings(updated_at);

		CREATE TABLE IF NOT EXISTS analytics_list_to_sale (
			area        TEXT PRIMARY KEY,
			ratio       NUMERIC(8,4) NOT NULL,
			sample_size INTEGER      NOT NULL,
			computed_at TIMESTAMPTZ  NOT NULL
		);

		CREATE TABLE IF NOT EXISTS analytics_dom_subtype (
			area        TEXT NOT NULL,
			subtype     TEXT NOT NULL,
			avg_dom     NUMERIC(10,2) NOT NULL,
			sample_size INTEGER       NOT NULL,
			computed_at TIMESTAMPTZ   NOT NULL,
			PRIMARY KEY (area, subtype)
		);

		CREATE TABLE IF NOT EXISTS analytics_dom_price_bracket (
			area        TEXT NOT NULL,
			bracket     TEXT NOT NULL,
			avg_dom     NUMERIC(10,2) NOT NULL,
			sample_size INTEGER       NOT NULL,
			computed_at TIMESTAMPTZ   NOT NULL,
			PRIMARY KEY (area, bracket)
		);

		CREATE TABLE IF NOT EXISTS analytics_monthly (
			month             TEXT PRIMARY KEY,
			new_listings      INTEGER       NOT NULL,
			sold              INTEGER       NOT NULL,
			median_sold_price NUMERIC(14,2) NOT NULL,
			avg_dom           NUMERIC(10,2) NOT NULL,
			active_estimate   INTEGER       NOT NULL,
			computed_at       TIMESTAMPTZ   NOT NULL
		);

		CREATE TABLE IF NOT EXISTS analytics_area_health (
			area_type           TEXT NOT NULL,
			area                TEXT NOT NULL,
			active_count        INTEGER       NOT NULL,
			avg_active_price    NUMERIC(14,2) NOT NULL,
			median_active_price NUMERIC(14,2) NOT NULL,
			new_this_month      INTEGER       NOT NULL,
			sold_this_month     INTEGER       NOT NULL,
			expired_this_month  INTEGER       NOT NULL,
			avg_sold_price_90d  NUMERIC(14,2) NOT NULL,
			avg_sold_price_30d  NUMERIC(14,2) NOT NULL,
			price_per_sqft_90d  NUMERIC(14,2) NOT NULL,
			price_per_sqft_30d  NUMERIC(14,2) NOT NULL,
			sold_30d            INTEGER       NOT NULL,
			months_of_supply    NUMERIC(10,2),
			market_indicator    TEXT          NOT NULL,
			price_trend         TEXT          NOT NULL,
			price_trend_pct     NUMERIC(10,2) NOT NULL,
			computed_at         TIMESTAMPTZ   NOT NULL,
			PRIMARY KEY (area_type, area)
		);

		CREATE TABLE IF NOT EXISTS sync_cursors (
			name          TEXT PRIMARY KEY,
			cursor_offset INTEGER     NOT NULL DEFAULT 0,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// UpsertListings writes rows with one multi-row statement per chunk.
// Later rows win when an identity repeats within rows.
func (ps *PostgresSink) UpsertListings(ctx context.Context, rows []*models.ListingRow) error {
	rows = lastByIdentity(rows)
	for i := 0; i < len(rows); i += maxRowsPerStatement {
		end := i + maxRowsPerStatement
		if end > len(rows) {
			end = len(rows)
		}
		if err := ps.upsertBatch(ctx, rows[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// UpsertListing writes a single row.
func (ps *PostgresSink) UpsertListing(ctx context.Context, row *models.ListingRow) error {
	return ps.upsertBatch(ctx, []*models.ListingRow{row})
}

func (ps *PostgresSink) upsertBatch(ctx context.Context, batch []*models.ListingRow) error {
	if len(batch) == 0 {
		return nil
	}
	args := make([]any, 0, len(batch)*4)
	for _, r := range batch {
		pub, err := facetJSON(r.Public)
		if err != nil {
			return fmt.Errorf("postgres: encode %s: %w", r.Identity, err)
		}
		res, err := facetJSON(r.Restricted)
		if err != nil {
			return fmt.Errorf("postgres: encode %s: %w", r.Identity, err)
		}
		args = append(args, r.Identity, pub, res, r.UpdatedAt)
	}

	if _, err := ps.db.ExecContext(ctx, upsertListingsQuery(len(batch)), args...); err != nil {
		return fmt.Errorf("postgres: upsert %d listings: %w", len(batch), err)
	}
	return nil
}

func upsertListingsQuery(n int) string {
	valueStrings := make([]string, 0, n)
	for idx := 0; idx < n; idx++ {
		base := idx * 4
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d::jsonb,$%d::jsonb,$%d)", base+1, base+2, base+3, base+4))
	}
	return fmt.Sprintf(`
		INSERT INTO unified_listings (identity, public_facet, restricted_facet, updated_at)
		VALUES %s
		ON CONFLICT (identity) DO UPDATE SET
			public_facet     = EXCLUDED.public_facet,
			restricted_facet = EXCLUDED.restricted_facet,
			updated_at       = EXCLUDED.updated_at
	`, strings.Join(valueStrings, ","))
}

// facetJSON encodes f as a JSON string, or nil for SQL NULL.
func facetJSON(f *models.Facet) (any, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func lastByIdentity(rows []*models.ListingRow) []*models.ListingRow {
	index := make(map[string]int, len(rows))
	out := make([]*models.ListingRow, 0, len(rows))
	for _, r := range rows {
		if r == nil {
			continue
		}
		if i, ok := index[r.Identity]; ok {
			out[i] = r
			continue
		}
		index[r.Identity] = len(out)
		out = append(out, r)
	}
	return out
}

// FetchAll retrieves every stored listing row, ordered by identity.
func (ps *PostgresSink) FetchAll(ctx context.Context) ([]*models.ListingRow, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT identity, public_facet, restricted_facet, updated_at
		FROM unified_listings
		ORDER BY identity
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var listings []*models.ListingRow
	for rows.Next() {
		var (
			r        models.ListingRow
			pub, res []byte
		)
		if err := rows.Scan(&r.Identity, &pub, &res, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		if r.Public, err = decodeFacet(pub); err != nil {
			return nil, fmt.Errorf("postgres: decode %s public facet: %w", r.Identity, err)
		}
		if r.Restricted, err = decodeFacet(res); err != nil {
			return nil, fmt.Errorf("postgres: decode %s restricted facet: %w", r.Identity, err)
		}
		listings = append(listings, &r)
	}
	return listings, rows.Err()
}

func decodeFacet(b []byte) (*models.Facet, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var f models.Facet
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// tableUpsert describes one analytics table keyed on a grouping tuple.
type tableUpsert struct {
	table string
	keys  []string
	cols  []string // non-key columns
}

func (u tableUpsert) statement() string {
	all := append(append([]string{}, u.keys...), u.cols...)
	placeholders := make([]string, len(all))
	for i := range all {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, len(u.cols))
	for i, c := range u.cols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		u.table, strings.Join(all, ", "), strings.Join(placeholders, ", "),
		strings.Join(u.keys, ", "), strings.Join(sets, ", "))
}

var (
	listToSaleTable = tableUpsert{"analytics_list_to_sale", []string{"area"},
		[]string{"ratio", "sample_size", "computed_at"}}
	domSubtypeTable = tableUpsert{"analytics_dom_subtype", []string{"area", "subtype"},
		[]string{"avg_dom", "sample_size", "computed_at"}}
	domBracketTable = tableUpsert{"analytics_dom_price_bracket", []string{"area", "bracket"},
		[]string{"avg_dom", "sample_size", "computed_at"}}
	monthlyTable = tableUpsert{"analytics_monthly", []string{"month"},
		[]string{"new_listings", "sold", "median_sold_price", "avg_dom", "active_estimate", "computed_at"}}
	areaHealthTable = tableUpsert{"analytics_area_health", []string{"area_type", "area"},
		[]string{"active_count", "avg_active_price", "median_active_price", "new_this_month",
			"sold_this_month", "expired_this_month", "avg_sold_price_90d", "avg_sold_price_30d",
			"price_per_sqft_90d", "price_per_sqft_30d", "sold_30d", "months_of_supply",
			"market_indicator", "price_trend", "price_trend_pct", "computed_at"}}
)

// WriteAnalytics upserts all five result sets in one transaction. Keys
// absent from a are left untouched.
func (ps *PostgresSink) WriteAnalytics(ctx context.Context, a *models.MarketAnalytics) error {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin analytics: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := a.ComputedAt
	batches := []struct {
		def  tableUpsert
		rows [][]any
	}{
		{listToSaleTable, mapRows(a.ByArea, func(r models.AreaRatio) []any {
			return []any{r.Area, r.Ratio, r.SampleSize, at}
		})},
		{domSubtypeTable, mapRows(a.ByAreaSubtype, func(r models.SubtypeDOM) []any {
			return []any{r.Area, r.Subtype, r.AvgDOM, r.SampleSize, at}
		})},
		{domBracketTable, mapRows(a.ByAreaPriceBracket, func(r models.BracketDOM) []any {
			return []any{r.Area, r.Bracket, r.AvgDOM, r.SampleSize, at}
		})},
		{monthlyTable, mapRows(a.ByMonth, func(r models.MonthStat) []any {
			return []any{r.Month, r.NewListings, r.Sold, r.MedianSoldPrice, r.AvgDOM, r.ActiveEstimate, at}
		})},
		{areaHealthTable, mapRows(a.AreaHealth, func(r models.AreaHealth) []any {
			var mos any
			if r.MonthsOfSupply != nil {
				mos = *r.MonthsOfSupply
			}
			return []any{r.AreaType, r.Area, r.ActiveCount, r.AvgActivePrice, r.MedianActivePrice,
				r.NewThisMonth, r.SoldThisMonth, r.ExpiredThisMonth, r.AvgSoldPrice90, r.AvgSoldPrice30,
				r.PricePerSqft90, r.PricePerSqft30, r.Sold30, mos, r.MarketIndicator, r.PriceTrend,
				r.PriceTrendPct, at}
		})},
	}

	for _, b := range batches {
		if len(b.rows) == 0 {
			continue
		}
		stmt, err := tx.PrepareContext(ctx, b.def.statement())
		if err != nil {
			return fmt.Errorf("postgres: prepare %s: %w", b.def.table, err)
		}
		for _, args := range b.rows {
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("postgres: upsert %s: %w", b.def.table, err)
			}
		}
		_ = stmt.Close()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit analytics: %w", err)
	}
	return nil
}

func mapRows[T any](items []T, fn func(T) []any) [][]any {
	out := make([][]any, len(items))
	for i, it := range items {
		out[i] = fn(it)
	}
	return out
}

// Load returns the saved offset for name, or 0 when none is stored.
func (ps *PostgresSink) Load(ctx context.Context, name string) (int, error) {
	var offset int
	err := ps.db.QueryRowContext(ctx,
		`SELECT cursor_offset FROM sync_cursors WHERE name = $1`, name).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: load cursor %q: %w", name, err)
	}
	return offset, nil
}

// Save stores offset for name.
func (ps *PostgresSink) Save(ctx context.Context, name string, offset int) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (name, cursor_offset, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET cursor_offset = EXCLUDED.cursor_offset, updated_at = NOW()
	`, name, offset)
	if err != nil {
		return fmt.Errorf("postgres: save cursor %q: %w", name, err)
	}
	return nil
}

func (ps *PostgresSink) Close() error {
	return ps.db.Close()
}
