package engine

import (
	"time"
)

// Job outcome constants
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Event is published on the engine's event channel when a job reaches a
// terminal state. Analytics subscribes to this channel instead of being
// called inline from the worker.
type Event struct {
	UserID   int64
	ArtistID int64
	JobID    string
	Outcome  string
	At       time.Time
}

// NewEventChannel creates the buffered channel shared by the worker pool
// (sender) and the analytics recorder (receiver). The buffer absorbs short
// bursts; a full channel drops the event rather than stalling workers, since
// stats can be recomputed from follow records.
func NewEventChannel() chan Event {
	return make(chan Event, 256)
}
