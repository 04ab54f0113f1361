package pipeline

import (
	"context"
	"testing"

	"github.com/jbvcollective/Kozi-sub000/models"
	"github.com/jbvcollective/Kozi-sub000/storage"
	"github.com/jbvcollective/Kozi-sub000/utils"
)

func TestRunnerWalksSweepAndWraps(t *testing.T) {
	pub := &fakeFeed{name: "idx", pages: map[int][]models.Record{
		0: recs("A", "B"),
		2: recs("C", "D"),
		4: recs("E"),
	}}
	sink := storage.NewMemorySink()
	cursors := storage.NewMemoryCursorStore()
	r := NewRunner(newTestOrchestrator(pub, &fakeFeed{name: "vow"}, sink, testOptions(2)), cursors, "idx+vow", utils.NewDiscardLogger())

	reports, err := r.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 batches before the sweep wraps, got %d", len(reports))
	}
	wantOffsets := []int{0, 2, 4}
	for i, rep := range reports {
		if rep.Offset != wantOffsets[i] {
			t.Errorf("batch %d offset: got %d, want %d", i, rep.Offset, wantOffsets[i])
		}
	}
	if off, _ := cursors.Load(context.Background(), "idx+vow"); off != 0 {
		t.Errorf("stored cursor after wrap: got %d, want 0", off)
	}
	if sink.Len() != 5 {
		t.Errorf("rows: got %d, want 5", sink.Len())
	}

	written, failed, media := Summary(reports)
	if written != 5 || len(failed) != 0 || media != 0 {
		t.Errorf("Summary: written %d failed %v media %d", written, failed, media)
	}
}

func TestRunnerKeepsCursorOnAbort(t *testing.T) {
	pub := &fakeFeed{name: "idx", failPages: -1}
	cursors := storage.NewMemoryCursorStore()
	_ = cursors.Save(context.Background(), "idx+vow", 200)
	r := NewRunner(newTestOrchestrator(pub, &fakeFeed{name: "vow"}, storage.NewMemorySink(), testOptions(100)), cursors, "idx+vow", utils.NewDiscardLogger())

	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if off, _ := cursors.Load(context.Background(), "idx+vow"); off != 200 {
		t.Errorf("cursor should be unchanged, got %d", off)
	}
}

func TestRunnerStopsAtMaxBatches(t *testing.T) {
	pub := &fakeFeed{name: "idx", pages: map[int][]models.Record{
		0: recs("A"),
		1: recs("B"),
		2: recs("C"),
	}}
	cursors := storage.NewMemoryCursorStore()
	r := NewRunner(newTestOrchestrator(pub, &fakeFeed{name: "vow"}, storage.NewMemorySink(), testOptions(1)), cursors, "c", utils.NewDiscardLogger())

	reports, err := r.Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reports) != 2 {
		t.Errorf("expected 2 batches, got %d", len(reports))
	}
	if off, _ := cursors.Load(context.Background(), "c"); off != 2 {
		t.Errorf("stored cursor: got %d, want 2", off)
	}
}
