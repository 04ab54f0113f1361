// Package pipeline runs one bounded sync batch: fetch a page from both
// feeds, merge listing keys, curate photos per key and upsert the rows.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jbvcollective/Kozi-sub000/config"
	"github.com/jbvcollective/Kozi-sub000/models"
	"github.com/jbvcollective/Kozi-sub000/photos"
	"github.com/jbvcollective/Kozi-sub000/storage"
	"github.com/jbvcollective/Kozi-sub000/utils"
)

// Feed is one upstream source of listing pages and media.
type Feed interface {
	Name() string
	Identity(r models.Record) string
	FetchPage(ctx context.Context, offset, pageSize int, orderByModification bool) (models.Page, error)
	FetchMedia(ctx context.Context, listingKey string) ([]string, error)
}

// Options tunes one Orchestrator.
type Options struct {
	PageSize            int
	BatchSize           int
	ProgressEvery       int
	OrderByModification bool

	InterBatchPause time.Duration
	KeyDelay        time.Duration
	FetchRetryDelay time.Duration
	SinkTimeout     time.Duration

	FlushAttempts int
	FlushBackoff  time.Duration

	PhotoRequiredMarker string
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		PageSize:            100,
		BatchSize:           50,
		ProgressEvery:       25,
		OrderByModification: true,
		InterBatchPause:     500 * time.Millisecond,
		KeyDelay:            150 * time.Millisecond,
		FetchRetryDelay:     2 * time.Second,
		SinkTimeout:         30 * time.Second,
		FlushAttempts:       3,
		FlushBackoff:        time.Second,
	}
}

// OptionsFromConfig maps env configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.PageSize = cfg.PageSize
	opts.BatchSize = cfg.BatchSize
	opts.ProgressEvery = cfg.ProgressEvery
	opts.InterBatchPause = cfg.InterBatchPause
	opts.KeyDelay = cfg.KeyDelay
	opts.FetchRetryDelay = cfg.FetchRetryDelay
	opts.SinkTimeout = cfg.SinkTimeout
	opts.PhotoRequiredMarker = cfg.PhotoRequiredMarker
	return opts
}

// Orchestrator drives sync batches. It keeps no state between batches;
// the cursor is passed in and handed back.
type Orchestrator struct {
	public     Feed
	restricted Feed
	sink       storage.ListingSink
	curator    *photos.Curator
	opts       Options
	logger     *utils.Logger
	observer   Observer
	now        func() time.Time
}

// New creates an Orchestrator. restricted may be nil when only the public
// feed is configured.
func New(public, restricted Feed, sink storage.ListingSink, opts Options, logger *utils.Logger) *Orchestrator {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 25
	}
	if opts.FlushAttempts <= 0 {
		opts.FlushAttempts = 3
	}
	return &Orchestrator{
		public:     public,
		restricted: restricted,
		sink:       sink,
		curator:    photos.NewCurator(),
		opts:       opts,
		logger:     logger,
		observer:   NopObserver,
		now:        time.Now,
	}
}

// WithObserver installs obs for lifecycle events.
func (o *Orchestrator) WithObserver(obs Observer) *Orchestrator {
	if obs == nil {
		obs = NopObserver
	}
	o.observer = obs
	return o
}

// WithClock overrides the clock used for UpdatedAt and report timestamps.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// NextCursor is the sweep transition: a short primary page ends the sweep.
// primaryRaw counts every item the primary feed returned, keyed or not.
func NextCursor(offset, pageSize, primaryRaw int) int {
	if primaryRaw < pageSize {
		return 0
	}
	return offset + pageSize
}

// RunOneBatch processes the page at offset and returns a report whose
// NextCursor is the offset for the following batch. An error means the
// primary feed could not be read at all; the caller must keep its cursor.
func (o *Orchestrator) RunOneBatch(ctx context.Context, offset int) (*models.BatchReport, error) {
	if offset < 0 {
		offset = 0
	}
	report := &models.BatchReport{
		RunID:     uuid.NewString(),
		Offset:    offset,
		PageSize:  o.opts.PageSize,
		StartedAt: o.now(),
	}
	o.observer(Event{Kind: EventBatchStart, RunID: report.RunID, Offset: offset})
	o.logger.Info("[sync] batch %s starting at offset %d (page size %d)", short(report.RunID), offset, o.opts.PageSize)

	pub, res, err := o.fetchPages(ctx, offset, report)
	if err != nil {
		o.logger.Error("[sync] batch %s aborted: %v", short(report.RunID), err)
		report.NextCursor = offset
		report.FinishedAt = o.now()
		o.observer(Event{Kind: EventBatchEnd, RunID: report.RunID, Offset: offset, Err: err, Report: report})
		return report, err
	}
	report.PublicCount = len(pub.Records)
	report.RestrictedCount = len(res.Records)
	next := NextCursor(offset, o.opts.PageSize, pub.RawCount)

	keys, pubByKey, resByKey := o.merge(pub.Records, res.Records)
	report.MergedKeys = len(keys)

	if len(keys) == 0 {
		if next == 0 {
			o.logger.Info("[sync] no keys at offset %d, sweep complete, resetting cursor", offset)
		} else {
			o.logger.Warn("[sync] page at offset %d had %d items but none with a listing key, skipping", offset, pub.RawCount)
		}
		return o.finish(report, next), nil
	}

	limit := rate.Inf
	if o.opts.KeyDelay > 0 {
		limit = rate.Every(o.opts.KeyDelay)
	}
	limiter := rate.NewLimiter(limit, 1)
	batch := newBatchWriter(o.sink, o.opts, o.logger)

	for i, key := range keys {
		if err := limiter.Wait(ctx); err != nil {
			batch.Flush(ctx)
			report.RowsWritten = batch.written
			report.FailedRows = batch.failed
			report.NextCursor = offset
			report.FinishedAt = o.now()
			return report, fmt.Errorf("sync: interrupted after %d/%d keys: %w", i, len(keys), err)
		}

		batch.Add(ctx, o.enrich(ctx, key, pubByKey[key], resByKey[key], report))

		if (i+1)%o.opts.ProgressEvery == 0 {
			o.logger.Info("[sync] %d/%d keys enriched (%d written, %d failed)",
				i+1, len(keys), batch.written, len(batch.failed))
		}
	}
	batch.Flush(ctx)

	report.RowsWritten = batch.written
	report.FailedRows = batch.failed
	return o.finish(report, next), nil
}

func (o *Orchestrator) finish(report *models.BatchReport, next int) *models.BatchReport {
	report.NextCursor = next
	report.SweepComplete = next == 0
	report.FinishedAt = o.now()

	o.logger.Info("[sync] batch %s done: %d keys (%d public, %d restricted), %d written, %d failed, %d media failures, next cursor %d%s",
		short(report.RunID), report.MergedKeys, report.PublicCount, report.RestrictedCount,
		report.RowsWritten, len(report.FailedRows), report.MediaFailures, next, degradedNote(report))
	o.observer(Event{Kind: EventBatchEnd, RunID: report.RunID, Offset: report.Offset, Report: report})
	return report
}

// fetchPages reads both feeds in parallel, retries once after a pause, and
// finally falls back to the public feed alone.
func (o *Orchestrator) fetchPages(ctx context.Context, offset int, report *models.BatchReport) (models.Page, models.Page, error) {
	pub, res, pubErr, resErr := o.fetchBoth(ctx, offset)
	if pubErr == nil && resErr == nil {
		return pub, res, nil
	}
	o.logger.Warn("[sync] parallel fetch failed (public: %v, restricted: %v), retrying in %v",
		pubErr, resErr, o.opts.FetchRetryDelay)
	if err := utils.Sleep(ctx, o.opts.FetchRetryDelay); err != nil {
		return models.Page{}, models.Page{}, err
	}

	pub, res, pubErr, resErr = o.fetchBoth(ctx, offset)
	if pubErr == nil && resErr == nil {
		return pub, res, nil
	}
	o.logger.Warn("[sync] parallel fetch failed again (public: %v, restricted: %v), continuing with public feed only",
		pubErr, resErr)
	report.Degraded = true

	pub, err := o.public.FetchPage(ctx, offset, o.opts.PageSize, o.opts.OrderByModification)
	if err != nil {
		return models.Page{}, models.Page{}, fmt.Errorf("sync: public feed fetch at offset %d: %w", offset, err)
	}
	return pub, models.Page{}, nil
}

func (o *Orchestrator) fetchBoth(ctx context.Context, offset int) (pub, res models.Page, pubErr, resErr error) {
	pool := utils.NewWorkerPool(2, 0)
	pool.Submit(func() {
		pub, pubErr = o.public.FetchPage(ctx, offset, o.opts.PageSize, o.opts.OrderByModification)
	})
	if o.restricted != nil {
		pool.Submit(func() {
			res, resErr = o.restricted.FetchPage(ctx, offset, o.opts.PageSize, o.opts.OrderByModification)
		})
	}
	pool.Wait()
	return pub, res, pubErr, resErr
}

// merge returns the union of both pages' keys in page order, public first.
func (o *Orchestrator) merge(pub, res []models.Record) ([]string, map[string]models.Record, map[string]models.Record) {
	keys := utils.NewKeySet()
	pubByKey := make(map[string]models.Record, len(pub))
	resByKey := make(map[string]models.Record, len(res))

	for _, r := range pub {
		k := o.public.Identity(r)
		if k == "" {
			continue
		}
		if _, dup := pubByKey[k]; !dup {
			pubByKey[k] = r
		}
		keys.Add(k)
	}
	for _, r := range res {
		k := o.restricted.Identity(r)
		if k == "" {
			continue
		}
		if _, dup := resByKey[k]; !dup {
			resByKey[k] = r
		}
		keys.Add(k)
	}
	return keys.Keys(), pubByKey, resByKey
}

func (o *Orchestrator) enrich(ctx context.Context, key string, pubRec, resRec models.Record, report *models.BatchReport) *models.ListingRow {
	row := &models.ListingRow{Identity: key, UpdatedAt: o.now().UTC()}
	if pubRec != nil {
		row.Public = o.facet(ctx, o.public, key, pubRec, report)
	}
	if resRec != nil {
		row.Restricted = o.facet(ctx, o.restricted, key, resRec, report)
	}
	return row
}

func (o *Orchestrator) facet(ctx context.Context, f Feed, key string, rec models.Record, report *models.BatchReport) *models.Facet {
	raw, err := f.FetchMedia(ctx, key)
	if err != nil {
		report.MediaFailures++
		o.logger.Warn("[sync] media for %s from %s failed, continuing without photos: %v", key, f.Name(), err)
		o.observer(Event{Kind: EventKeyFailed, RunID: report.RunID, Offset: report.Offset, Key: key, Feed: f.Name(), Err: err})
		raw = nil
	}

	set := o.curator.Curate(photos.RequireMarker(raw, o.opts.PhotoRequiredMarker))
	return &models.Facet{Fields: rec, Photos: set.Primary, PhotosSmall: set.Secondary}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func degradedNote(r *models.BatchReport) string {
	if r.Degraded {
		return " (degraded: restricted feed skipped)"
	}
	return ""
}
