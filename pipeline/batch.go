package pipeline

import (
	"context"
	"time"

	"github.com/jbvcollective/Kozi-sub000/models"
	"github.com/jbvcollective/Kozi-sub000/storage"
	"github.com/jbvcollective/Kozi-sub000/utils"
)

// batchWriter accumulates rows and flushes them to the sink in bulk,
// falling back to one row at a time when the bulk write cannot be saved.
type batchWriter struct {
	sink        storage.ListingSink
	size        int
	sinkTimeout time.Duration
	pause       time.Duration
	retry       *utils.RetryConfig
	logger      *utils.Logger

	rows    []*models.ListingRow
	written int
	failed  []string
	flushes int
}

func newBatchWriter(sink storage.ListingSink, opts Options, logger *utils.Logger) *batchWriter {
	return &batchWriter{
		sink:        sink,
		size:        opts.BatchSize,
		sinkTimeout: opts.SinkTimeout,
		pause:       opts.InterBatchPause,
		logger:      logger,
		retry: &utils.RetryConfig{
			MaxAttempts: opts.FlushAttempts,
			BaseDelay:   opts.FlushBackoff,
			Backoff:     utils.Linear,
			Logger:      logger,
			Retryable:   utils.IsTransient,
		},
		rows: make([]*models.ListingRow, 0, opts.BatchSize),
	}
}

// Add queues row and flushes once the batch is full.
func (b *batchWriter) Add(ctx context.Context, row *models.ListingRow) {
	b.rows = append(b.rows, row)
	if len(b.rows) >= b.size {
		b.Flush(ctx)
	}
}

// Flush writes any queued rows.
func (b *batchWriter) Flush(ctx context.Context) {
	if len(b.rows) == 0 {
		return
	}
	rows := b.rows
	b.rows = make([]*models.ListingRow, 0, b.size)
	b.flushes++

	err := b.retry.Do(ctx, "bulk upsert", func() error {
		return b.withTimeout(ctx, func(c context.Context) error {
			return b.sink.UpsertListings(c, rows)
		})
	})
	if err == nil {
		b.written += len(rows)
		b.logger.Debug("[batch] flushed %d rows", len(rows))
		if err := utils.Sleep(ctx, b.pause); err != nil {
			b.logger.Warn("[batch] inter-batch pause interrupted: %v", err)
		}
		return
	}

	b.logger.Warn("[batch] bulk upsert of %d rows failed (%v), writing row by row", len(rows), err)
	for _, row := range rows {
		rowErr := b.withTimeout(ctx, func(c context.Context) error {
			return b.sink.UpsertListing(c, row)
		})
		if rowErr != nil {
			b.logger.Error("[batch] row %s failed: %v", row.Identity, rowErr)
			b.failed = append(b.failed, row.Identity)
			continue
		}
		b.written++
	}
}

func (b *batchWriter) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	if b.sinkTimeout <= 0 {
		return fn(ctx)
	}
	c, cancel := context.WithTimeout(ctx, b.sinkTimeout)
	defer cancel()
	return fn(c)
}
