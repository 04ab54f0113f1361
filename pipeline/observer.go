package pipeline

import "github.com/jbvcollective/Kozi-sub000/models"

// EventKind names an orchestrator lifecycle point.
type EventKind string

const (
	EventBatchStart EventKind = "batch_start"
	EventBatchEnd   EventKind = "batch_end"
	EventKeyFailed  EventKind = "key_failed"
)

// Event is passed to the Observer at each lifecycle point.
type Event struct {
	Kind   EventKind
	RunID  string
	Offset int
	Key    string
	Feed   string
	Err    error
	Report *models.BatchReport
}

// Observer receives lifecycle events. It must not block.
type Observer func(Event)

// NopObserver ignores every event.
func NopObserver(Event) {}
