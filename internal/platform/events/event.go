// Package events carries triage decisions and status transitions out of the
// service to logs, metrics and external consumers.
package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies what happened.
type Kind string

const (
	KindTriageClassified Kind = "triage.classified"
	KindStatusChanged    Kind = "patient.status_changed"
	KindLevelChanged     Kind = "patient.level_changed"
)

// Event is one structured occurrence. Levels and statuses are plain strings
// so sinks do not depend on the domain packages.
type Event struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	PatientID      int64     `json:"patient_id"`
	Level          string    `json:"level,omitempty"`
	PreviousLevel  string    `json:"previous_level,omitempty"`
	Score          float64   `json:"score"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Reasons        []string  `json:"reasons,omitempty"`
	Policy         string    `json:"policy,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// New stamps an event of kind with a fresh ULID and the current time.
func New(kind Kind, patientID int64) Event {
	return Event{
		ID:         ulid.Make().String(),
		Kind:       kind,
		PatientID:  patientID,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink receives dispatched events. Handle is called from the dispatcher's
// worker goroutine only, never concurrently.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(e Event)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
