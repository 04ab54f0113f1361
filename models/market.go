package models

import "time"

// MarketListing is the typed analytics view of one ListingRow.
// Zero values mean "not reported upstream".
type MarketListing struct {
	Identity     string
	Area         string
	Region       string
	PostalCode   string
	Subtype      string
	Status       string
	ListPrice    float64
	ClosePrice   float64
	LivingArea   float64
	DaysOnMarket float64
	HasDOM       bool
	ListDate     time.Time
	CloseDate    time.Time
	ExpireDate   time.Time
	Restricted   bool

	// RestrictedListPrice/RestrictedClosePrice come from the VOW facet only.
	RestrictedArea       string
	RestrictedListPrice  float64
	RestrictedClosePrice float64
}

// Sold reports whether the listing has a recorded sale.
func (m *MarketListing) Sold() bool {
	return m.ClosePrice > 0 && !m.CloseDate.IsZero()
}

// AreaRatio is the mean close/list ratio for one area.
type AreaRatio struct {
	Area       string  `json:"area"`
	Ratio      float64 `json:"ratio"`
	SampleSize int     `json:"sample_size"`
}

// SubtypeDOM is the mean days-on-market for (area, property subtype).
type SubtypeDOM struct {
	Area       string  `json:"area"`
	Subtype    string  `json:"subtype"`
	AvgDOM     float64 `json:"avg_dom"`
	SampleSize int     `json:"sample_size"`
}

// BracketDOM is the mean days-on-market for (area, price bracket).
type BracketDOM struct {
	Area       string  `json:"area"`
	Bracket    string  `json:"bracket"`
	AvgDOM     float64 `json:"avg_dom"`
	SampleSize int     `json:"sample_size"`
}

// MonthStat is one calendar month of the listing time series.
type MonthStat struct {
	Month           string  `json:"month"` // YYYY-MM
	NewListings     int     `json:"new_listings"`
	Sold            int     `json:"sold"`
	MedianSoldPrice float64 `json:"median_sold_price"`
	AvgDOM          float64 `json:"avg_dom"`
	ActiveEstimate  int     `json:"active_estimate"`
}

// AreaHealth is the market-health snapshot for one region or postal code.
type AreaHealth struct {
	AreaType          string   `json:"area_type"` // "region" or "postal"
	Area              string   `json:"area"`
	ActiveCount       int      `json:"active_count"`
	AvgActivePrice    float64  `json:"avg_active_price"`
	MedianActivePrice float64  `json:"median_active_price"`
	NewThisMonth      int      `json:"new_this_month"`
	SoldThisMonth     int      `json:"sold_this_month"`
	ExpiredThisMonth  int      `json:"expired_this_month"`
	AvgSoldPrice90    float64  `json:"avg_sold_price_90d"`
	AvgSoldPrice30    float64  `json:"avg_sold_price_30d"`
	PricePerSqft90    float64  `json:"price_per_sqft_90d"`
	PricePerSqft30    float64  `json:"price_per_sqft_30d"`
	Sold30            int      `json:"sold_30d"`
	MonthsOfSupply    *float64 `json:"months_of_supply"`
	MarketIndicator   string   `json:"market_indicator"`
	PriceTrend        string   `json:"price_trend"`
	PriceTrendPct     float64  `json:"price_trend_pct"`
}

// MarketAnalytics holds the five grouped result sets of one recompute.
type MarketAnalytics struct {
	ComputedAt         time.Time
	ByArea             []AreaRatio
	ByAreaSubtype      []SubtypeDOM
	ByAreaPriceBracket []BracketDOM
	ByMonth            []MonthStat
	AreaHealth         []AreaHealth
}
