package services

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jbvcollective/Kozi-sub000/models"
)

var analyticsNow = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

func newTestAnalytics() *AnalyticsService {
	return NewAnalyticsService(nil, newTestLogger())
}

func soldRow(id string, vow models.Record) *models.ListingRow {
	return &models.ListingRow{Identity: id, Restricted: &models.Facet{Fields: vow}}
}

func marketSample() []*models.ListingRow {
	return []*models.ListingRow{
		publicRow("a1", models.Record{"MLSAreaMajor": "R", "StandardStatus": "Active", "ListPrice": 100.0, "ListingContractDate": "2024-05-02"}),
		publicRow("a2", models.Record{"MLSAreaMajor": "R", "StandardStatus": "Active", "ListPrice": 200.0, "ListingContractDate": "2024-04-02"}),
		publicRow("a3", models.Record{"MLSAreaMajor": "R", "StandardStatus": "Active", "ListPrice": 600.0}),
		soldRow("s1", models.Record{"MLSAreaMajor": "R", "StandardStatus": "Sold", "ListPrice": 410.0, "ClosePrice": 400.0, "CloseDate": "2024-05-10", "LivingArea": 200.0}),
		soldRow("s2", models.Record{"MLSAreaMajor": "R", "StandardStatus": "Sold", "ListPrice": 320.0, "ClosePrice": 320.0, "CloseDate": "2024-04-10"}),
		publicRow("p1", models.Record{"PostalCode": "L5B 2C9", "StandardStatus": "Active", "ListPrice": 900.0}),
	}
}

func TestAnalyticsListToSaleRatio(t *testing.T) {
	svc := newTestAnalytics()
	rows := []*models.ListingRow{
		soldRow("A", models.Record{"City": "X", "ListPrice": 500.0, "ClosePrice": 480.0}),
		soldRow("B", models.Record{"City": "X", "ListPrice": 500.0, "ClosePrice": 500.0}),
		publicRow("C", models.Record{"City": "X", "ListPrice": 500.0, "ClosePrice": 100.0}),
		soldRow("D", models.Record{"City": "X", "ListPrice": 500.0}),
	}

	r := svc.Recompute(rows, analyticsNow)
	if len(r.ByArea) != 1 {
		t.Fatalf("ByArea len: got %d, want 1", len(r.ByArea))
	}
	got := r.ByArea[0]
	if got.Area != "X" || got.Ratio != 0.98 || got.SampleSize != 2 {
		t.Errorf("ByArea[0]: got %+v, want {X 0.98 2}", got)
	}
}

func TestAnalyticsRatioRounding(t *testing.T) {
	svc := newTestAnalytics()
	rows := []*models.ListingRow{
		soldRow("A", models.Record{"City": "Y", "ListPrice": 3.0, "ClosePrice": 1.0}),
	}
	r := svc.Recompute(rows, analyticsNow)
	if r.ByArea[0].Ratio != 0.3333 {
		t.Errorf("Ratio: got %v, want 0.3333", r.ByArea[0].Ratio)
	}
}

func TestPriceBracket(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{1, "0-300k"},
		{299_999, "0-300k"},
		{300_000, "300k-500k"},
		{749_000, "500k-750k"},
		{999_999, "750k-1m"},
		{1_200_000, "1m-1.5m"},
		{1_500_000, "1.5m+"},
		{9_000_000, "1.5m+"},
	}
	for _, tt := range tests {
		if got := PriceBracket(tt.price); got != tt.want {
			t.Errorf("PriceBracket(%.0f) = %q; want %q", tt.price, got, tt.want)
		}
	}
}

func TestAnalyticsDaysOnMarketGroups(t *testing.T) {
	svc := newTestAnalytics()
	rows := []*models.ListingRow{
		publicRow("a", models.Record{"City": "Z", "PropertySubType": "Detached", "ListPrice": 250000.0, "DaysOnMarket": 10.0}),
		publicRow("b", models.Record{"City": "Z", "PropertySubType": "Detached", "ListPrice": 280000.0, "DaysOnMarket": 21.0}),
		publicRow("c", models.Record{"City": "Z", "ListPrice": 2000000.0, "DaysOnMarket": 40.0}),
		publicRow("d", models.Record{"City": "Z", "PropertySubType": "Detached"}),
	}

	r := svc.Recompute(rows, analyticsNow)

	wantSub := []models.SubtypeDOM{
		{Area: "Z", Subtype: "Detached", AvgDOM: 15.5, SampleSize: 2},
		{Area: "Z", Subtype: "Other", AvgDOM: 40, SampleSize: 1},
	}
	if len(r.ByAreaSubtype) != len(wantSub) {
		t.Fatalf("ByAreaSubtype: got %+v", r.ByAreaSubtype)
	}
	for i := range wantSub {
		if r.ByAreaSubtype[i] != wantSub[i] {
			t.Errorf("ByAreaSubtype[%d]: got %+v, want %+v", i, r.ByAreaSubtype[i], wantSub[i])
		}
	}

	wantBr := []models.BracketDOM{
		{Area: "Z", Bracket: "0-300k", AvgDOM: 15.5, SampleSize: 2},
		{Area: "Z", Bracket: "1.5m+", AvgDOM: 40, SampleSize: 1},
	}
	if len(r.ByAreaPriceBracket) != len(wantBr) {
		t.Fatalf("ByAreaPriceBracket: got %+v", r.ByAreaPriceBracket)
	}
	for i := range wantBr {
		if r.ByAreaPriceBracket[i] != wantBr[i] {
			t.Errorf("ByAreaPriceBracket[%d]: got %+v, want %+v", i, r.ByAreaPriceBracket[i], wantBr[i])
		}
	}
}

func TestAnalyticsMonthlyActiveFloorsAtZero(t *testing.T) {
	svc := newTestAnalytics()
	rows := []*models.ListingRow{
		publicRow("n1", models.Record{"ListingContractDate": "2024-01-05"}),
		publicRow("n2", models.Record{"ListingContractDate": "2024-01-20"}),
		soldRow("s1", models.Record{"ClosePrice": 100.0, "CloseDate": "2024-02-01", "DaysOnMarket": 10.0}),
		soldRow("s2", models.Record{"ClosePrice": 300.0, "CloseDate": "2024-02-11", "DaysOnMarket": 20.0}),
		soldRow("s3", models.Record{"ClosePrice": 200.0, "CloseDate": "2024-02-21"}),
		publicRow("n3", models.Record{"ListingContractDate": "2024-03-03"}),
	}

	r := svc.Recompute(rows, analyticsNow)
	want := []models.MonthStat{
		{Month: "2024-01", NewListings: 2, ActiveEstimate: 2},
		{Month: "2024-02", Sold: 3, MedianSoldPrice: 200, AvgDOM: 15, ActiveEstimate: 0},
		{Month: "2024-03", NewListings: 1, ActiveEstimate: 1},
	}
	if len(r.ByMonth) != len(want) {
		t.Fatalf("ByMonth: got %+v", r.ByMonth)
	}
	for i := range want {
		if r.ByMonth[i] != want[i] {
			t.Errorf("ByMonth[%d]: got %+v, want %+v", i, r.ByMonth[i], want[i])
		}
	}
}

func TestAnalyticsAreaHealth(t *testing.T) {
	svc := newTestAnalytics()
	r := svc.Recompute(marketSample(), analyticsNow)

	if len(r.AreaHealth) != 2 {
		t.Fatalf("AreaHealth len: got %d, want 2 (%+v)", len(r.AreaHealth), r.AreaHealth)
	}

	postal := r.AreaHealth[0]
	if postal.AreaType != "postal" || postal.Area != "L5B2C9" {
		t.Errorf("postal row: got %s/%s", postal.AreaType, postal.Area)
	}
	if postal.MonthsOfSupply != nil || postal.MarketIndicator != "unknown" || postal.PriceTrend != "unknown" {
		t.Errorf("postal row without sales should be unknown, got %+v", postal)
	}

	region := r.AreaHealth[1]
	if region.AreaType != "region" || region.Area != "R" {
		t.Fatalf("region row: got %s/%s", region.AreaType, region.Area)
	}
	if region.ActiveCount != 3 || region.AvgActivePrice != 300 || region.MedianActivePrice != 200 {
		t.Errorf("active stats: got %d %.2f %.2f", region.ActiveCount, region.AvgActivePrice, region.MedianActivePrice)
	}
	if region.NewThisMonth != 1 || region.SoldThisMonth != 1 {
		t.Errorf("month counts: new %d sold %d", region.NewThisMonth, region.SoldThisMonth)
	}
	if region.AvgSoldPrice90 != 360 || region.AvgSoldPrice30 != 400 || region.PricePerSqft30 != 2 {
		t.Errorf("sold windows: 90d %.2f 30d %.2f ppsf %.2f", region.AvgSoldPrice90, region.AvgSoldPrice30, region.PricePerSqft30)
	}
	if region.Sold30 != 1 || region.MonthsOfSupply == nil || *region.MonthsOfSupply != 3 {
		t.Errorf("months of supply: sold30 %d mos %v", region.Sold30, region.MonthsOfSupply)
	}
	if region.MarketIndicator != "seller" {
		t.Errorf("MarketIndicator: got %q, want seller", region.MarketIndicator)
	}
	if region.PriceTrend != "up" || region.PriceTrendPct != 25 {
		t.Errorf("trend: got %s %.2f, want up 25", region.PriceTrend, region.PriceTrendPct)
	}
}

func TestMarketIndicator(t *testing.T) {
	tests := []struct {
		mos  float64
		want string
	}{
		{0.5, "seller"},
		{3.99, "seller"},
		{4, "neutral"},
		{6, "neutral"},
		{6.01, "buyer"},
	}
	for _, tt := range tests {
		if got := MarketIndicator(tt.mos); got != tt.want {
			t.Errorf("MarketIndicator(%.2f) = %q; want %q", tt.mos, got, tt.want)
		}
	}
}

func TestAnalyticsDeterministic(t *testing.T) {
	svc := newTestAnalytics()
	first, err := json.Marshal(svc.Recompute(marketSample(), analyticsNow))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := json.Marshal(svc.Recompute(marketSample(), analyticsNow))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("run %d differs:\n%s\n%s", i, first, again)
		}
	}
}

func TestAnalyticsEmptyInput(t *testing.T) {
	svc := newTestAnalytics()
	r := svc.Recompute(nil, analyticsNow)
	if len(r.ByArea)+len(r.ByAreaSubtype)+len(r.ByAreaPriceBracket)+len(r.ByMonth)+len(r.AreaHealth) != 0 {
		t.Errorf("expected empty result sets, got %+v", r)
	}
	if !r.ComputedAt.Equal(analyticsNow) {
		t.Errorf("ComputedAt: got %v", r.ComputedAt)
	}
}

func TestAnalyticsPrint(t *testing.T) {
	svc := newTestAnalytics()
	var buf bytes.Buffer
	svc.Print(&buf, svc.Recompute(marketSample(), analyticsNow))

	out := buf.String()
	for _, want := range []string{"MARKET ANALYTICS", "Region health", "2024-05"} {
		if !strings.Contains(out, want) {
			t.Errorf("Print output missing %q", want)
		}
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	name := "Québec–Montréal Région Métropolitaine"
	got := truncate(name, 20)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate split a rune: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 20 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate(%q, 20) = %q (%d runes)", name, got, n)
	}
	if got := truncate("Midtown", 20); got != "Midtown" {
		t.Errorf("short names pass through, got %q", got)
	}
}
