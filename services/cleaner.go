package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/jbvcollective/Kozi-sub000/config"
	"github.com/jbvcollective/Kozi-sub000/models"
	"github.com/jbvcollective/Kozi-sub000/utils"
)

var (
	// priceRegexp captures numeric price values
	priceRegexp = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
	// postalRegexp strips everything but letters and digits
	postalRegexp = regexp.MustCompile(`[^A-Z0-9]`)
)

// Cleaner transforms persisted ListingRows into typed MarketListings.
type Cleaner struct {
	fields *config.FieldMap
	logger *utils.Logger
}

// NewCleaner creates a Cleaner resolving upstream fields through fields.
func NewCleaner(fields *config.FieldMap, logger *utils.Logger) *Cleaner {
	if fields == nil {
		fields = config.DefaultFieldMap()
	}
	return &Cleaner{fields: fields, logger: logger}
}

// Clean converts rows, dropping rows without facets and duplicate identities.
// Input order is preserved.
func (c *Cleaner) Clean(rows []*models.ListingRow) []*models.MarketListing {
	seen := make(map[string]struct{})
	result := make([]*models.MarketListing, 0, len(rows))

	for _, r := range rows {
		if r == nil || (r.Public == nil && r.Restricted == nil) {
			continue
		}
		id := strings.TrimSpace(r.Identity)
		if id == "" {
			c.logger.Warn("[cleaner] Dropping row with empty identity")
			continue
		}
		if _, dup := seen[id]; dup {
			c.logger.Debug("[cleaner] Duplicate identity skipped: %s", id)
			continue
		}
		seen[id] = struct{}{}

		result = append(result, c.toMarket(r))
	}

	c.logger.Debug("[cleaner] Cleaned %d -> %d listings (dropped %d)",
		len(rows), len(result), len(rows)-len(result))
	return result
}

func (c *Cleaner) toMarket(r *models.ListingRow) *models.MarketListing {
	merged := r.Merged()
	f := c.fields

	m := &models.MarketListing{
		Identity:   strings.TrimSpace(r.Identity),
		Region:     c.area(merged),
		PostalCode: normalisePostal(merged.String(f.Names("postal_code"))),
		Subtype:    normaliseText(merged.String(f.Names("subtype"))),
		Status:     strings.ToLower(normaliseText(merged.String(f.Names("status")))),
		ListPrice:  c.price(merged, "list_price"),
		ClosePrice: c.price(merged, "close_price"),
		LivingArea: c.price(merged, "living_area"),
		Restricted: r.Restricted != nil,
	}
	m.Area = m.Region
	m.ListDate, _ = merged.Time(f.Names("list_date"))
	m.CloseDate, _ = merged.Time(f.Names("close_date"))
	m.ExpireDate, _ = merged.Time(f.Names("expire_date"))

	if dom, ok := merged.Float(f.Names("days_on_market")); ok && dom >= 0 {
		m.DaysOnMarket, m.HasDOM = dom, true
	} else if !m.ListDate.IsZero() && !m.CloseDate.IsZero() && !m.CloseDate.Before(m.ListDate) {
		m.DaysOnMarket = math.Floor(m.CloseDate.Sub(m.ListDate).Hours() / 24)
		m.HasDOM = true
	}

	if r.Restricted != nil {
		vow := r.Restricted.Fields
		m.RestrictedArea = c.area(vow)
		m.RestrictedListPrice = c.price(vow, "list_price")
		m.RestrictedClosePrice = c.price(vow, "close_price")
	}
	return m
}

// area is the listing's region, falling back to its city.
func (c *Cleaner) area(rec models.Record) string {
	if a := normaliseText(rec.String(c.fields.Names("region"))); a != "" {
		return a
	}
	return normaliseText(rec.String(c.fields.Names("city")))
}

func (c *Cleaner) price(rec models.Record, logical string) float64 {
	names := c.fields.Names(logical)
	if v, ok := rec.Float(names); ok {
		if v < 0 {
			return 0
		}
		return v
	}
	return parsePrice(rec.String(names))
}

// parsePrice extracts the first numeric value from strings like "$1,200.50".
func parsePrice(raw string) float64 {
	cleaned := strings.ReplaceAll(strings.ToLower(raw), ",", "")
	match := priceRegexp.FindString(cleaned)
	if match == "" {
		return 0
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return v
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func normalisePostal(s string) string {
	return postalRegexp.ReplaceAllString(strings.ToUpper(s), "")
}
