package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/jbvcollective/Kozi-sub000/models"
)

var areaHealthHeader = []string{
	"area_type", "area", "active_count", "avg_active_price", "median_active_price",
	"new_this_month", "sold_this_month", "expired_this_month",
	"avg_sold_price_90d", "avg_sold_price_30d", "price_per_sqft_90d", "price_per_sqft_30d",
	"sold_30d", "months_of_supply", "market_indicator", "price_trend", "price_trend_pct",
}

// CSVWriter exports area-health rows as CSV.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	closer io.Closer
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	c, err := newCSVWriter(f, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

func newCSVWriter(w io.Writer, closer io.Closer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(areaHealthHeader); err != nil {
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	cw.Flush()
	return &CSVWriter{closer: closer, writer: cw}, cw.Error()
}

// WriteAreaHealth appends one line per row.
func (c *CSVWriter) WriteAreaHealth(rows []models.AreaHealth) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range rows {
		mos := ""
		if h.MonthsOfSupply != nil {
			mos = formatFloat(*h.MonthsOfSupply)
		}
		row := []string{
			h.AreaType,
			h.Area,
			strconv.Itoa(h.ActiveCount),
			formatFloat(h.AvgActivePrice),
			formatFloat(h.MedianActivePrice),
			strconv.Itoa(h.NewThisMonth),
			strconv.Itoa(h.SoldThisMonth),
			strconv.Itoa(h.ExpiredThisMonth),
			formatFloat(h.AvgSoldPrice90),
			formatFloat(h.AvgSoldPrice30),
			formatFloat(h.PricePerSqft90),
			formatFloat(h.PricePerSqft30),
			strconv.Itoa(h.Sold30),
			mos,
			h.MarketIndicator,
			h.PriceTrend,
			formatFloat(h.PriceTrendPct),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	if c.closer == nil {
		return c.writer.Error()
	}
	return c.closer.Close()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
