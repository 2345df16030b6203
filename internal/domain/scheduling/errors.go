package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrScheduleMissing is the schedule dimension of ErrNotFound.
	ErrScheduleMissing  = fmt.Errorf("schedule missing: %w", ErrNotFound)
	ErrCapacityExceeded = errors.New("daily capacity exceeded")
	ErrSlotConflict     = errors.New("slot conflict")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("already exists")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %d not found", e.Entity, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(entity string, id int64) error { return &NotFoundError{Entity: entity, ID: id} }

// ScheduleMissingError is returned when a doctor has no slot at a clinic,
// or the slot does not run on the requested day.
type ScheduleMissingError struct {
	DoctorID DoctorID
	ClinicID ClinicID
	Date     Date
}

func (e *ScheduleMissingError) Error() string {
	if e.Date != "" {
		return fmt.Sprintf("doctor %d does not work at clinic %d on %s (%s)", e.DoctorID, e.ClinicID, e.Date, e.Date.Weekday())
	}
	return fmt.Sprintf("doctor %d has no schedule at clinic %d", e.DoctorID, e.ClinicID)
}

func (e *ScheduleMissingError) Unwrap() error { return ErrScheduleMissing }

// CapacityError carries the limit that was hit.
type CapacityError struct {
	DoctorID DoctorID
	ClinicID ClinicID
	Date     Date
	Limit    int
	Booked   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("doctor %d is fully booked on %s (%d of %d)", e.DoctorID, e.Date, e.Booked, e.Limit)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// ConflictError carries the patient's appointment that overlaps the proposed one.
type ConflictError struct {
	Existing *Appointment
	Start    TimeOfDay
	End      TimeOfDay
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("patient already has appointment %d with doctor %d at %s, overlapping %s-%s",
		e.Existing.ID, e.Existing.DoctorID, e.Existing.EstimatedTime, e.Start, e.End)
}

func (e *ConflictError) Unwrap() error { return ErrSlotConflict }

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Kind returns a stable machine-readable name for err.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrScheduleMissing):
		return "schedule_missing"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	default:
		return "internal"
	}
}
