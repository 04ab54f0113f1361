package pipeline

import (
	"context"
	"fmt"

	"github.com/jbvcollective/Kozi-sub000/models"
	"github.com/jbvcollective/Kozi-sub000/storage"
	"github.com/jbvcollective/Kozi-sub000/utils"
)

// Runner couples an Orchestrator with a durable cursor.
type Runner struct {
	orch    *Orchestrator
	cursors storage.CursorStore
	name    string
	logger  *utils.Logger
}

// NewRunner creates a Runner storing its offset under name.
func NewRunner(orch *Orchestrator, cursors storage.CursorStore, name string, logger *utils.Logger) *Runner {
	return &Runner{orch: orch, cursors: cursors, name: name, logger: logger}
}

// RunOnce loads the cursor, runs one batch and saves the next cursor.
// When the batch aborts the stored cursor is left untouched so the same
// page is retried next time.
func (r *Runner) RunOnce(ctx context.Context) (*models.BatchReport, error) {
	offset, err := r.cursors.Load(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("runner: load cursor %q: %w", r.name, err)
	}

	report, err := r.orch.RunOneBatch(ctx, offset)
	if err != nil {
		return report, err
	}

	if err := r.cursors.Save(ctx, r.name, report.NextCursor); err != nil {
		return report, fmt.Errorf("runner: save cursor %q=%d: %w", r.name, report.NextCursor, err)
	}
	r.logger.Debug("[runner] cursor %q: %d -> %d", r.name, offset, report.NextCursor)
	return report, nil
}

// Run executes up to maxBatches batches, stopping early when a sweep wraps
// back to offset 0. maxBatches <= 0 runs a single batch.
func (r *Runner) Run(ctx context.Context, maxBatches int) ([]*models.BatchReport, error) {
	if maxBatches <= 0 {
		maxBatches = 1
	}
	var reports []*models.BatchReport
	for i := 0; i < maxBatches; i++ {
		report, err := r.RunOnce(ctx)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
		if report.SweepComplete {
			r.logger.Info("[runner] sweep complete after %d batch(es)", i+1)
			break
		}
	}
	return reports, nil
}

// Summary totals a set of batch reports.
func Summary(reports []*models.BatchReport) (written int, failed []string, mediaFailures int) {
	for _, rep := range reports {
		written += rep.RowsWritten
		failed = append(failed, rep.FailedRows...)
		mediaFailures += rep.MediaFailures
	}
	return written, failed, mediaFailures
}
