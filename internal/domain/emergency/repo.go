package emergency

import (
	"context"
	"errors"

	"github.com/ertriage/ertriage/internal/domain/triage"
)

// ErrNotFound is returned when a patient id does not exist.
var ErrNotFound = errors.New("patient not found")

// LogFilter narrows a log listing. Limit 0 returns every entry.
type LogFilter struct {
	PatientID *int64
	Limit     int
	Offset    int
}

// Repository persists patients, their vital signs and the audit logs.
type Repository interface {
	// Create stores the patient, its vitals and the initial status and
	// color log entries atomically, filling in the generated ids.
	Create(ctx context.Context, p *Patient, v *VitalSigns) error
	GetByID(ctx context.Context, id int64) (*PatientRecord, error)
	// List returns every patient with its latest vitals, ordered by id.
	List(ctx context.Context) ([]*PatientRecord, error)
	// WithPatient locks one patient for the duration of fn. Writes made
	// through the PatientTx commit together when fn returns nil.
	WithPatient(ctx context.Context, id int64, fn func(ctx context.Context, tx PatientTx) error) error
	ListStatusLogs(ctx context.Context, f LogFilter) ([]*StatusLogEntry, int, error)
	ListColorLogs(ctx context.Context, f LogFilter) ([]*ColorLogEntry, int, error)
	// Clear deletes all data and restarts id sequences at 1.
	Clear(ctx context.Context) error
}

// PatientTx is the locked view of one patient inside WithPatient.
type PatientTx interface {
	LoadCurrent(ctx context.Context) (triage.Current, error)
	Save(ctx context.Context, t triage.Transition) error
	AppendStatusLog(ctx context.Context, s triage.Status) error
	AppendColorLog(ctx context.Context, l triage.Level) error
}
