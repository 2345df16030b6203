package scheduling

import (
	"context"
	"fmt"
	"strings"
)

// CapacityScope decides which bookings count against a doctor's daily limit.
type CapacityScope string

const (
	// ScopeDoctor counts the doctor's bookings at every clinic.
	ScopeDoctor CapacityScope = "doctor"
	// ScopeClinic counts only the bookings at the requested clinic.
	ScopeClinic CapacityScope = "clinic"
)

func ParseCapacityScope(s string) (CapacityScope, error) {
	switch CapacityScope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeDoctor, "":
		return ScopeDoctor, nil
	case ScopeClinic:
		return ScopeClinic, nil
	}
	return "", invalidInput("unknown capacity scope %q", s)
}

// CheckCapacity fails with *CapacityError once the doctor's active bookings
// for the date reach the daily limit. A limit of zero is unlimited.
func CheckCapacity(ctx context.Context, store Storage, doc *Doctor, clinicID ClinicID, date Date, scope CapacityScope) error {
	limit := doc.Capacity.DailyLimit
	if limit <= 0 {
		return nil
	}
	f := AppointmentFilter{DoctorID: doc.ID, Date: date}
	if scope == ScopeClinic {
		f.ClinicID = clinicID
	}
	appts, err := store.ListAppointments(ctx, f)
	if err != nil {
		return fmt.Errorf("scheduling: count bookings: %w", err)
	}
	if booked := countActive(appts); booked >= limit {
		return &CapacityError{DoctorID: doc.ID, ClinicID: f.ClinicID, Date: date, Limit: limit, Booked: booked}
	}
	return nil
}
