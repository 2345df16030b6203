package scheduling

import (
	"context"
	"fmt"
	"sort"
)

// Tracker derives queue state from stored appointments and applies the
// advance, reset and renumber transitions. It keeps no state of its own:
// the current number is always the count of Done appointments. Mutating
// methods expect the caller to hold the cohort lock.
type Tracker struct {
	store Storage
}

func NewTracker(store Storage) *Tracker { return &Tracker{store: store} }

// queueOrder sorts by queue number, then estimated time, clinic and id so
// the all-clinics cohort interleaves deterministically.
func queueOrder(appts []*Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		a, b := appts[i], appts[j]
		if a.QueueNumber != b.QueueNumber {
			return a.QueueNumber < b.QueueNumber
		}
		if a.EstimatedTime != b.EstimatedTime {
			return a.EstimatedTime < b.EstimatedTime
		}
		if a.ClinicID != b.ClinicID {
			return a.ClinicID < b.ClinicID
		}
		return a.ID < b.ID
	})
}

func (t *Tracker) cohort(ctx context.Context, key CohortKey) ([]*Appointment, error) {
	appts, err := t.store.ListAppointments(ctx, key.Filter())
	if err != nil {
		return nil, fmt.Errorf("scheduling: load queue: %w", err)
	}
	queueOrder(appts)
	return appts, nil
}

// BuildState computes the queue state of an ordered cohort.
func BuildState(key CohortKey, ordered []*Appointment) *QueueState {
	st := &QueueState{Key: key}
	for _, a := range ordered {
		if !a.Status.Active() {
			continue
		}
		st.TotalPatients++
		switch {
		case a.Status == StatusDone:
			st.CurrentNumber++
		case a.Status == StatusAbsent:
			st.Absent++
		default:
			st.Waiting++
			if st.Current == nil {
				st.Current = a
			} else if st.Next == nil {
				st.Next = a
			}
		}
	}
	switch {
	case st.TotalPatients == 0:
		st.Phase = PhaseIdle
	case st.Current == nil:
		st.Phase = PhaseCompleted
	default:
		st.Phase = PhaseActive
	}
	return st
}

func (t *Tracker) State(ctx context.Context, key CohortKey) (*QueueState, error) {
	appts, err := t.cohort(ctx, key)
	if err != nil {
		return nil, err
	}
	return BuildState(key, appts), nil
}

// Advance marks the first eligible appointment Done and returns it. It
// returns nil with no error when nobody is left to call.
func (t *Tracker) Advance(ctx context.Context, key CohortKey) (*Appointment, error) {
	appts, err := t.cohort(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, a := range appts {
		if !a.Status.Eligible() {
			continue
		}
		if err := t.store.UpdateAppointmentStatus(ctx, a.ID, StatusDone); err != nil {
			return nil, fmt.Errorf("scheduling: advance queue: %w", err)
		}
		a.Status = StatusDone
		return a, nil
	}
	return nil, nil
}

// Reset puts every Done appointment of the cohort back to Confirmed.
// Absent appointments stay absent. It returns how many were reset.
func (t *Tracker) Reset(ctx context.Context, key CohortKey) (int, error) {
	appts, err := t.cohort(ctx, key)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range appts {
		if a.Status != StatusDone {
			continue
		}
		if err := t.store.UpdateAppointmentStatus(ctx, a.ID, StatusConfirmed); err != nil {
			return n, fmt.Errorf("scheduling: reset queue: %w", err)
		}
		n++
	}
	return n, nil
}

// Renumber reassigns 1..N, in current order, to the active appointments of
// one doctor at one clinic on one day. It returns how many numbers changed.
func (t *Tracker) Renumber(ctx context.Context, doctorID DoctorID, clinicID ClinicID, date Date) (int, error) {
	appts, err := t.cohort(ctx, CohortKey{DoctorID: doctorID, ClinicID: clinicID, Date: date})
	if err != nil {
		return 0, err
	}
	changed := 0
	n := 0
	for _, a := range appts {
		if !a.Status.Active() {
			continue
		}
		n++
		if a.QueueNumber == n {
			continue
		}
		if err := t.store.UpdateAppointmentQueueNumber(ctx, a.ID, n); err != nil {
			return changed, fmt.Errorf("scheduling: renumber queue: %w", err)
		}
		a.QueueNumber = n
		changed++
	}
	return changed, nil
}
