package models

import "time"

// Record is one raw upstream item: a sparse mapping of upstream field name
// to scalar or array value, exactly as decoded from the feed's JSON.
type Record map[string]any

// Facet is one feed's view of a listing plus its curated photo sets.
// Public is the IDX (for sale) facet, Restricted the VOW (sold) facet.
type Facet struct {
	Fields      Record   `json:"fields"`
	Photos      []string `json:"photos"`
	PhotosSmall []string `json:"photos_small"`
}

// ListingRow is the merged per-listing record persisted to unified_listings.
// At least one of Public and Restricted is non-nil.
type ListingRow struct {
	Identity   string    `json:"identity"`
	Public     *Facet    `json:"public_facet"`
	Restricted *Facet    `json:"restricted_facet"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Merged returns the display view of the row's fields: restricted values
// overlaid by public ones on key collision.
func (r *ListingRow) Merged() Record {
	out := Record{}
	if r.Restricted != nil {
		for k, v := range r.Restricted.Fields {
			out[k] = v
		}
	}
	if r.Public != nil {
		for k, v := range r.Public.Fields {
			out[k] = v
		}
	}
	return out
}

// Photos returns the display photo set, preferring the public facet.
func (r *ListingRow) Photos() []string {
	if r.Public != nil && len(r.Public.Photos) > 0 {
		return r.Public.Photos
	}
	if r.Restricted != nil {
		return r.Restricted.Photos
	}
	return nil
}

// Page is one page of upstream records. RawCount is how many items the
// feed returned before records without a listing key were dropped; it
// decides whether the page was short.
type Page struct {
	Records  []Record
	RawCount int
}

// PhotoSet is the curated output for one listing's photos.
type PhotoSet struct {
	Primary   []string
	Secondary []string
}

// BatchReport summarises one orchestrator batch.
type BatchReport struct {
	RunID           string
	Offset          int
	PageSize        int
	NextCursor      int
	PublicCount     int
	RestrictedCount int
	MergedKeys      int
	RowsWritten     int
	FailedRows      []string
	MediaFailures   int
	Degraded        bool
	SweepComplete   bool
	StartedAt       time.Time
	FinishedAt      time.Time
}
