package storage

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/jbvcollective/Kozi-sub000/models"
)

func TestCSVWriterAreaHealth(t *testing.T) {
	var buf bytes.Buffer
	w, err := newCSVWriter(&buf, nil)
	if err != nil {
		t.Fatal(err)
	}

	mos := 2.5
	rows := []models.AreaHealth{
		{AreaType: "region", Area: "Midtown", ActiveCount: 5, AvgActivePrice: 650000, Sold30: 2,
			MonthsOfSupply: &mos, MarketIndicator: "seller", PriceTrend: "up", PriceTrendPct: 3.25},
		{AreaType: "postal", Area: "M4S1A1", MarketIndicator: "unknown", PriceTrend: "unknown"},
	}
	if err := w.WriteAreaHealth(rows); err != nil {
		t.Fatalf("WriteAreaHealth: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if records[0][0] != "area_type" || len(records[0]) != len(areaHealthHeader) {
		t.Errorf("unexpected header: %v", records[0])
	}
	if records[1][1] != "Midtown" || records[1][3] != "650000.00" || records[1][13] != "2.50" {
		t.Errorf("unexpected region row: %v", records[1])
	}
	if records[2][13] != "" {
		t.Errorf("missing months of supply should be blank, got %q", records[2][13])
	}
}

func TestNewCSVWriterCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "health.csv")
	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file at %s: %v", path, err)
	}
}
