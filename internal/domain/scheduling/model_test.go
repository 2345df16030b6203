package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"09:00", "09:00", true},
		{"9:05", "09:05", true},
		{"23:59", "23:59", true},
		{"00:00", "00:00", true},
		{"9:00 AM", "09:00", true},
		{"12:00 am", "00:00", true},
		{"12:30 PM", "12:30", true},
		{"1:15pm", "13:15", true},
		{"24:00", "", false},
		{"13:00 PM", "", false},
		{"0:30 AM", "", false},
		{"9:5", "", false},
		{"09:60", "", false},
		{"0900", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if !tt.ok {
			if err == nil {
				t.Errorf("ParseTimeOfDay(%q): expected error, got %s", tt.in, got)
			} else if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ParseTimeOfDay(%q): expected ErrInvalidInput, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTimeOfDay_AddPastMidnight(t *testing.T) {
	late := TimeOfDay(23*60 + 50).Add(15)
	if late.String() != "24:05" {
		t.Errorf("expected no rollover, got %s", late)
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	var s ScheduleSlot
	if err := json.Unmarshal([]byte(`{"start_time":"2:30 PM","end_time":"18:00"}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.StartTime != 14*60+30 || s.EndTime != 18*60 {
		t.Errorf("unexpected times %d %d", s.StartTime, s.EndTime)
	}
	data, err := json.Marshal(Appointment{EstimatedTime: 9*60 + 15})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	if m["estimated_time"] != "09:15" {
		t.Errorf("expected 09:15, got %v", m["estimated_time"])
	}

	if err := json.Unmarshal([]byte(`{"start_time":"9:5"}`), &s); err == nil {
		t.Error("expected error for invalid time")
	}
	if err := json.Unmarshal([]byte(`{"start_time":"24:00 PM"}`), &s); err == nil {
		t.Error("expected error for out of range 12h time")
	}
}

func TestTimeOfDay_JSONKeepsLateEstimates(t *testing.T) {
	in := Appointment{ID: 9, QueueNumber: 40, EstimatedTime: 24*60 + 15}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Appointment
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if out.EstimatedTime != in.EstimatedTime || out.EstimatedTime.String() != "24:15" {
		t.Errorf("expected 24:15 back, got %s", out.EstimatedTime)
	}

	if _, err := ParseTimeOfDay("24:15"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("schedule input must stay within one day, got %v", err)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2026-10-16 ")
	if err != nil || d != day {
		t.Fatalf("ParseDate = %q, %v", d, err)
	}
	if d.Weekday() != time.Friday {
		t.Errorf("expected Friday, got %s", d.Weekday())
	}
	for _, bad := range []string{"16-10-2026", "2026-02-30", "2026/10/16", ""} {
		if _, err := ParseDate(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseDate(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestDateOf_UsesLocation(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	utcLate := time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)
	if got := DateOf(utcLate.In(kolkata)); got != "2026-10-17" {
		t.Errorf("expected next day in IST, got %s", got)
	}
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{
		"confirmed": StatusConfirmed,
		"WAITING":   StatusWaiting,
		" Done ":    StatusDone,
		"absent":    StatusAbsent,
		"Cancelled": StatusCancelled,
	} {
		got, err := ParseStatus(in)
		if err != nil || got != want {
			t.Errorf("ParseStatus(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseStatus("seen"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status           Status
		active, eligible bool
	}{
		{StatusConfirmed, true, true},
		{StatusWaiting, true, true},
		{StatusDone, true, false},
		{StatusAbsent, true, false},
		{StatusCancelled, false, false},
	}
	for _, tt := range tests {
		if tt.status.Active() != tt.active || tt.status.Eligible() != tt.eligible {
			t.Errorf("%s: active=%v eligible=%v", tt.status, tt.status.Active(), tt.status.Eligible())
		}
	}
}

func TestScheduleSlot_WorksOn(t *testing.T) {
	everyDay := &ScheduleSlot{}
	if !everyDay.WorksOn(day) {
		t.Error("slot without days must apply every day")
	}
	weekdays := &ScheduleSlot{Days: []string{"Monday", "friday"}}
	if !weekdays.WorksOn(day) {
		t.Error("expected Friday to match")
	}
	if weekdays.WorksOn("2026-10-17") {
		t.Error("expected Saturday not to match")
	}
}

func TestAppointmentFilter_Matches(t *testing.T) {
	pid := PatientID(5)
	a := &Appointment{PatientID: &pid, DoctorID: 1, ClinicID: 2, Date: day, Status: StatusConfirmed}
	walkIn := &Appointment{DoctorID: 1, ClinicID: 2, Date: day, Status: StatusWaiting}
	cancelled := &Appointment{DoctorID: 1, ClinicID: 2, Date: day, Status: StatusCancelled}

	tests := []struct {
		name string
		f    AppointmentFilter
		a    *Appointment
		want bool
	}{
		{"empty filter", AppointmentFilter{}, a, true},
		{"doctor match", AppointmentFilter{DoctorID: 1}, a, true},
		{"doctor mismatch", AppointmentFilter{DoctorID: 9}, a, false},
		{"all clinics", AppointmentFilter{ClinicID: AllClinics}, a, true},
		{"clinic mismatch", AppointmentFilter{ClinicID: 3}, a, false},
		{"date mismatch", AppointmentFilter{Date: "2026-10-17"}, a, false},
		{"patient match", AppointmentFilter{PatientID: 5}, a, true},
		{"patient filter skips walk-in", AppointmentFilter{PatientID: 5}, walkIn, false},
		{"cancelled hidden", AppointmentFilter{}, cancelled, false},
		{"cancelled included", AppointmentFilter{IncludeCancelled: true}, cancelled, true},
	}
	for _, tt := range tests {
		if got := tt.f.Matches(tt.a); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
	if !walkIn.IsWalkIn() || a.IsWalkIn() {
		t.Error("IsWalkIn mismatch")
	}
}

func TestCohortKey_Topic(t *testing.T) {
	if got := (CohortKey{DoctorID: 7, ClinicID: 3, Date: day}).Topic(); got != "queue/7/3/2026-10-16" {
		t.Errorf("unexpected topic %s", got)
	}
	if got := (CohortKey{DoctorID: 7, Date: day}).Topic(); got != "queue/7/all/2026-10-16" {
		t.Errorf("unexpected topic %s", got)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ScheduleMissingError{DoctorID: 1, ClinicID: 2}, "schedule_missing"},
		{notFound("doctor", 1), "not_found"},
		{&CapacityError{Limit: 2, Booked: 2}, "capacity_exceeded"},
		{&ConflictError{Existing: &Appointment{}}, "slot_conflict"},
		{fmt.Errorf("wrap: %w", ErrInvalidStatus), "invalid_status"},
		{invalidInput("bad %s", "thing"), "invalid_input"},
		{ErrDuplicate, "duplicate"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestScheduleMissingIsNotFound(t *testing.T) {
	err := &ScheduleMissingError{DoctorID: 1, ClinicID: 2, Date: day}
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrScheduleMissing) {
		t.Error("schedule missing must match both ErrScheduleMissing and ErrNotFound")
	}
	if err.Error() != "doctor 1 does not work at clinic 2 on 2026-10-16 (Friday)" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
