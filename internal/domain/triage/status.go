package triage

import (
	"errors"
	"fmt"
	"strings"
)

// Status is a patient's disposition in the department.
type Status string

const (
	StatusWaiting        Status = "Waiting"
	StatusUnderTreatment Status = "Under Treatment"
	StatusTransferred    Status = "Transferred"
	StatusDischarged     Status = "Discharged"
	StatusDeceased       Status = "Deceased"
)

var allStatuses = []Status{
	StatusWaiting,
	StatusUnderTreatment,
	StatusTransferred,
	StatusDischarged,
	StatusDeceased,
}

var (
	ErrInvalidStatus        = errors.New("invalid status")
	ErrTransitionNotAllowed = errors.New("status transition not allowed")
)

// ParseStatus matches s against the known statuses, ignoring case and
// surrounding whitespace.
func ParseStatus(s string) (Status, error) {
	t := strings.TrimSpace(s)
	for _, st := range allStatuses {
		if strings.EqualFold(t, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Known reports whether s is one of the five statuses.
func (s Status) Known() bool {
	for _, st := range allStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Closed reports whether the patient has left the department.
func (s Status) Closed() bool {
	return s == StatusTransferred || s == StatusDischarged || s == StatusDeceased
}

// Current is the persisted state a transition starts from.
type Current struct {
	Level  Level
	Score  float64
	Status Status
}

// Transition is the state to persist and which audit logs to append.
type Transition struct {
	Level     Level
	Score     float64
	Status    Status
	LogStatus bool
	LogColor  bool
}

// TransitionMode selects how strictly status changes are checked.
type TransitionMode string

const (
	TransitionsPermissive TransitionMode = "permissive"
	TransitionsStrict     TransitionMode = "strict"
)

// ParseTransitionMode parses a mode name; the empty string is permissive.
func ParseTransitionMode(s string) (TransitionMode, error) {
	switch m := TransitionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return TransitionsPermissive, nil
	case TransitionsPermissive, TransitionsStrict:
		return m, nil
	}
	return "", fmt.Errorf("invalid status transition mode: %q (valid: permissive, strict)", s)
}

// StatusPolicy relabels a patient for a target status. The zero value is
// permissive.
type StatusPolicy struct {
	Mode TransitionMode
}

// Apply computes the transition from cur to target.
func (p StatusPolicy) Apply(cur Current, target Status) (Transition, error) {
	if !target.Known() {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	if p.Mode == TransitionsStrict && cur.Status.Closed() && target != cur.Status {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, cur.Status, target)
	}

	next := Transition{Level: cur.Level, Score: cur.Score, Status: target}
	switch target {
	case StatusUnderTreatment:
		next.Score = 0
	case StatusTransferred, StatusDischarged:
		next.Level = LevelBlue
		next.Score = 0
	}
	next.LogStatus = target != cur.Status
	next.LogColor = next.Level != cur.Level
	return next, nil
}

// ApplyStatus applies the permissive policy.
func ApplyStatus(cur Current, target Status) (Transition, error) {
	return StatusPolicy{}.Apply(cur, target)
}
