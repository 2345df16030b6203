package scheduling

import (
	"context"
	"fmt"
)

// NextQueueNumber returns the number the next booking in the per-clinic
// cohort receives. The caller must hold the cohort lock.
func NextQueueNumber(ctx context.Context, store Storage, doctorID DoctorID, clinicID ClinicID, date Date) (int, error) {
	appts, err := store.ListAppointments(ctx, AppointmentFilter{DoctorID: doctorID, ClinicID: clinicID, Date: date})
	if err != nil {
		return 0, fmt.Errorf("scheduling: count queue: %w", err)
	}
	return countActive(appts) + 1, nil
}

func countActive(appts []*Appointment) int {
	n := 0
	for _, a := range appts {
		if a.Status.Active() {
			n++
		}
	}
	return n
}
