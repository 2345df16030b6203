package scheduling

import (
	"context"
	"fmt"
)

// CheckOverlap fails with *ConflictError when the window
// [start, start+duration) intersects one of the patient's pending
// appointments on date, with any doctor at any clinic. Windows are
// half-open and an empty window never conflicts.
func CheckOverlap(ctx context.Context, store Storage, patientID PatientID, date Date, start TimeOfDay, duration int) error {
	appts, err := store.ListAppointments(ctx, AppointmentFilter{PatientID: patientID, Date: date})
	if err != nil {
		return fmt.Errorf("scheduling: list patient appointments: %w", err)
	}
	for _, a := range appts {
		if !a.Status.Eligible() {
			continue
		}
		if overlaps(start, duration, a.EstimatedTime, a.DurationMinutes) {
			return &ConflictError{Existing: a, Start: start, End: start.Add(duration)}
		}
	}
	return nil
}

func overlaps(aStart TimeOfDay, aDur int, bStart TimeOfDay, bDur int) bool {
	if aDur <= 0 || bDur <= 0 {
		return false
	}
	return aStart < bStart.Add(bDur) && bStart < aStart.Add(aDur)
}
