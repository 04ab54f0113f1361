package services

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jbvcollective/Kozi-sub000/config"
	"github.com/jbvcollective/Kozi-sub000/models"
	"github.com/jbvcollective/Kozi-sub000/utils"
)

// Market indicator thresholds in months of supply.
const (
	sellersMarketBelow = 4.0
	buyersMarketAbove  = 6.0
)

type bracket struct {
	label string
	upper float64 // exclusive; 0 means unbounded
}

var priceBrackets = []bracket{
	{"0-300k", 300_000},
	{"300k-500k", 500_000},
	{"500k-750k", 750_000},
	{"750k-1m", 1_000_000},
	{"1m-1.5m", 1_500_000},
	{"1.5m+", 0},
}

// AnalyticsService recomputes the market aggregates from the full set of
// persisted listing rows. It holds no state between runs.
type AnalyticsService struct {
	cleaner *Cleaner
	logger  *utils.Logger
}

func NewAnalyticsService(fields *config.FieldMap, logger *utils.Logger) *AnalyticsService {
	return &AnalyticsService{cleaner: NewCleaner(fields, logger), logger: logger}
}

// Recompute builds all five result sets from rows. Output slices are sorted
// by their grouping key, so identical input yields identical output.
func (s *AnalyticsService) Recompute(rows []*models.ListingRow, now time.Time) *models.MarketAnalytics {
	now = now.UTC()
	listings := s.cleaner.Clean(rows)

	out := &models.MarketAnalytics{
		ComputedAt:         now,
		ByArea:             listToSale(listings),
		ByAreaSubtype:      domBySubtype(listings),
		ByAreaPriceBracket: domByBracket(listings),
		ByMonth:            monthly(listings),
		AreaHealth:         areaHealth(listings, now),
	}

	s.logger.Info("[analytics] %d listings -> %d areas, %d subtype groups, %d bracket groups, %d months, %d health rows",
		len(listings), len(out.ByArea), len(out.ByAreaSubtype), len(out.ByAreaPriceBracket),
		len(out.ByMonth), len(out.AreaHealth))
	return out
}

func listToSale(listings []*models.MarketListing) []models.AreaRatio {
	ratios := make(map[string][]float64)
	for _, l := range listings {
		if !l.Restricted || l.RestrictedListPrice <= 0 || l.RestrictedClosePrice <= 0 {
			continue
		}
		area := l.RestrictedArea
		if area == "" {
			area = l.Area
		}
		if area == "" {
			continue
		}
		ratios[area] = append(ratios[area], l.RestrictedClosePrice/l.RestrictedListPrice)
	}

	result := make([]models.AreaRatio, 0, len(ratios))
	for _, area := range sortedKeys(ratios) {
		vals := ratios[area]
		result = append(result, models.AreaRatio{
			Area:       area,
			Ratio:      round(mean(vals), 4),
			SampleSize: len(vals),
		})
	}
	return result
}

type pairKey struct{ area, group string }

func domBySubtype(listings []*models.MarketListing) []models.SubtypeDOM {
	groups := make(map[pairKey][]float64)
	for _, l := range listings {
		if !l.HasDOM || l.Area == "" {
			continue
		}
		subtype := l.Subtype
		if subtype == "" {
			subtype = "Other"
		}
		k := pairKey{l.Area, subtype}
		groups[k] = append(groups[k], l.DaysOnMarket)
	}

	result := make([]models.SubtypeDOM, 0, len(groups))
	for _, k := range sortedPairs(groups) {
		vals := groups[k]
		result = append(result, models.SubtypeDOM{
			Area: k.area, Subtype: k.group,
			AvgDOM: round(mean(vals), 2), SampleSize: len(vals),
		})
	}
	return result
}

func domByBracket(listings []*models.MarketListing) []models.BracketDOM {
	groups := make(map[pairKey][]float64)
	for _, l := range listings {
		if !l.HasDOM || l.Area == "" {
			continue
		}
		price := l.ListPrice
		if l.Sold() {
			price = l.ClosePrice
		}
		if price <= 0 {
			continue
		}
		k := pairKey{l.Area, PriceBracket(price)}
		groups[k] = append(groups[k], l.DaysOnMarket)
	}

	result := make([]models.BracketDOM, 0, len(groups))
	for _, k := range sortedPairs(groups) {
		vals := groups[k]
		result = append(result, models.BracketDOM{
			Area: k.area, Bracket: k.group,
			AvgDOM: round(mean(vals), 2), SampleSize: len(vals),
		})
	}
	return result
}

// PriceBracket returns the label of the band containing price.
func PriceBracket(price float64) string {
	for _, b := range priceBrackets {
		if b.upper == 0 || price < b.upper {
			return b.label
		}
	}
	return priceBrackets[len(priceBrackets)-1].label
}

type monthAcc struct {
	newListings int
	soldPrices  []float64
	doms        []float64
}

func monthly(listings []*models.MarketListing) []models.MonthStat {
	months := make(map[string]*monthAcc)
	acc := func(t time.Time) *monthAcc {
		key := t.UTC().Format("2006-01")
		m, ok := months[key]
		if !ok {
			m = &monthAcc{}
			months[key] = m
		}
		return m
	}

	for _, l := range listings {
		if !l.ListDate.IsZero() {
			acc(l.ListDate).newListings++
		}
		if l.Sold() {
			m := acc(l.CloseDate)
			m.soldPrices = append(m.soldPrices, l.ClosePrice)
			if l.HasDOM {
				m.doms = append(m.doms, l.DaysOnMarket)
			}
		}
	}

	result := make([]models.MonthStat, 0, len(months))
	active := 0
	for _, key := range sortedKeys(months) {
		m := months[key]
		active += m.newListings - len(m.soldPrices)
		if active < 0 {
			active = 0
		}
		result = append(result, models.MonthStat{
			Month:           key,
			NewListings:     m.newListings,
			Sold:            len(m.soldPrices),
			MedianSoldPrice: round(median(m.soldPrices), 2),
			AvgDOM:          round(mean(m.doms), 2),
			ActiveEstimate:  active,
		})
	}
	return result
}

type healthAcc struct {
	activePrices []float64
	activeCount  int
	newMonth     int
	soldMonth    int
	expiredMonth int
	sold90       []float64
	sold30       []float64
	soldPrev30   []float64
	ppsf90       []float64
	ppsf30       []float64
}

func areaHealth(listings []*models.MarketListing, now time.Time) []models.AreaHealth {
	byRegion := make(map[string]*healthAcc)
	byPostal := make(map[string]*healthAcc)
	for _, l := range listings {
		if l.Region != "" {
			accumulate(byRegion, l.Region, l, now)
		}
		if l.PostalCode != "" {
			accumulate(byPostal, l.PostalCode, l, now)
		}
	}

	result := make([]models.AreaHealth, 0, len(byRegion)+len(byPostal))
	for _, area := range sortedKeys(byPostal) {
		result = append(result, summarize("postal", area, byPostal[area]))
	}
	for _, area := range sortedKeys(byRegion) {
		result = append(result, summarize("region", area, byRegion[area]))
	}
	return result
}

func accumulate(groups map[string]*healthAcc, area string, l *models.MarketListing, now time.Time) {
	h, ok := groups[area]
	if !ok {
		h = &healthAcc{}
		groups[area] = h
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	inMonth := func(t time.Time) bool {
		return !t.IsZero() && !t.Before(monthStart) && !t.After(now)
	}
	within := func(t time.Time, from, to time.Duration) bool {
		return !t.IsZero() && t.After(now.Add(-to)) && !t.After(now.Add(-from))
	}
	day := 24 * time.Hour

	if isActive(l) {
		h.activeCount++
		if l.ListPrice > 0 {
			h.activePrices = append(h.activePrices, l.ListPrice)
		}
	}
	if inMonth(l.ListDate) {
		h.newMonth++
	}
	if isExpired(l) && inMonth(l.ExpireDate) {
		h.expiredMonth++
	}
	if !l.Sold() {
		return
	}
	if inMonth(l.CloseDate) {
		h.soldMonth++
	}
	if within(l.CloseDate, 0, 90*day) {
		h.sold90 = append(h.sold90, l.ClosePrice)
		if l.LivingArea > 0 {
			h.ppsf90 = append(h.ppsf90, l.ClosePrice/l.LivingArea)
		}
	}
	if within(l.CloseDate, 0, 30*day) {
		h.sold30 = append(h.sold30, l.ClosePrice)
		if l.LivingArea > 0 {
			h.ppsf30 = append(h.ppsf30, l.ClosePrice/l.LivingArea)
		}
	} else if within(l.CloseDate, 30*day, 60*day) {
		h.soldPrev30 = append(h.soldPrev30, l.ClosePrice)
	}
}

func summarize(areaType, area string, h *healthAcc) models.AreaHealth {
	row := models.AreaHealth{
		AreaType:          areaType,
		Area:              area,
		ActiveCount:       h.activeCount,
		AvgActivePrice:    round(mean(h.activePrices), 2),
		MedianActivePrice: round(median(h.activePrices), 2),
		NewThisMonth:      h.newMonth,
		SoldThisMonth:     h.soldMonth,
		ExpiredThisMonth:  h.expiredMonth,
		AvgSoldPrice90:    round(mean(h.sold90), 2),
		AvgSoldPrice30:    round(mean(h.sold30), 2),
		PricePerSqft90:    round(mean(h.ppsf90), 2),
		PricePerSqft30:    round(mean(h.ppsf30), 2),
		Sold30:            len(h.sold30),
		MarketIndicator:   "unknown",
		PriceTrend:        "unknown",
	}

	if row.Sold30 > 0 {
		mos := round(float64(h.activeCount)/float64(row.Sold30), 2)
		row.MonthsOfSupply = &mos
		row.MarketIndicator = MarketIndicator(mos)
	}

	if len(h.sold30) > 0 && len(h.soldPrev30) > 0 {
		cur, prev := mean(h.sold30), mean(h.soldPrev30)
		pct := round((cur-prev)/prev*100, 2)
		row.PriceTrendPct = pct
		switch {
		case pct > 0:
			row.PriceTrend = "up"
		case pct < 0:
			row.PriceTrend = "down"
		default:
			row.PriceTrend = "flat"
		}
	}
	return row
}

// MarketIndicator maps months of supply to seller, neutral or buyer.
func MarketIndicator(monthsOfSupply float64) string {
	switch {
	case monthsOfSupply < sellersMarketBelow:
		return "seller"
	case monthsOfSupply > buyersMarketAbove:
		return "buyer"
	default:
		return "neutral"
	}
}

func isActive(l *models.MarketListing) bool {
	switch l.Status {
	case "active", "new", "price change", "extension":
		return true
	case "":
		return !l.Sold() && l.ListPrice > 0
	}
	return false
}

func isExpired(l *models.MarketListing) bool {
	switch l.Status {
	case "expired", "terminated", "withdrawn":
		return true
	}
	return false
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	return sum.Div(decimal.NewFromInt(int64(len(vals)))).InexactFloat64()
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func round(f float64, places int32) float64 {
	return decimal.NewFromFloat(f).Round(places).InexactFloat64()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPairs(m map[pairKey][]float64) []pairKey {
	keys := make([]pairKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].area != keys[j].area {
			return keys[i].area < keys[j].area
		}
		return keys[i].group < keys[j].group
	})
	return keys
}
