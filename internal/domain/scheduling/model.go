package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type (
	DoctorID      int64
	ClinicID      int64
	PatientID     int64
	AppointmentID int64
	ScheduleID    int64
)

// AllClinics is the clinic scope that spans every clinic of a doctor.
const AllClinics ClinicID = 0

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusConfirmed Status = "Confirmed"
	StatusWaiting   Status = "Waiting"
	StatusDone      Status = "Done"
	StatusAbsent    Status = "Absent"
	StatusCancelled Status = "Cancelled"
)

// markable statuses may be written directly by MarkStatus.
var markableStatuses = map[Status]bool{
	StatusConfirmed: true, StatusWaiting: true, StatusDone: true, StatusAbsent: true,
}

// Active reports whether the appointment occupies a queue position.
func (s Status) Active() bool { return s != StatusCancelled }

// Eligible reports whether the appointment can still become the current patient.
func (s Status) Eligible() bool {
	return s.Active() && s != StatusDone && s != StatusAbsent
}

// ParseStatus accepts any letter case.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusConfirmed, StatusWaiting, StatusDone, StatusAbsent, StatusCancelled} {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, s)
}

const dateLayout = "2006-01-02"

// Date is a calendar day in YYYY-MM-DD form. No time zone is attached.
type Date string

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return Date(t.Format(dateLayout)), nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date { return Date(t.Format(dateLayout)) }

func (d Date) Weekday() time.Weekday {
	t, _ := time.Parse(dateLayout, string(d))
	return t.Weekday()
}

func (d Date) String() string { return string(d) }

// TimeOfDay is a wall-clock time in minutes since midnight. Values past
// 23:59 are kept as-is; there is no rollover into the next day.
type TimeOfDay int

// endOfDay is the first minute past a calendar day.
const endOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay accepts "HH:MM" (24h) and "h:MM AM" (12h) within one day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	return parseClock(s, false)
}

// parseClock reads a clock time. With late set, 24h values past 23:59 are
// accepted so estimates written by MarshalText read back unchanged.
func parseClock(s string, late bool) (TimeOfDay, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	meridiem := ""
	if strings.HasSuffix(v, "AM") || strings.HasSuffix(v, "PM") {
		meridiem = v[len(v)-2:]
		v = strings.TrimSpace(v[:len(v)-2])
	}
	hh, mm, ok := strings.Cut(v, ":")
	if !ok {
		return 0, fmt.Errorf("%w: invalid time %q", ErrInvalidInput, s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: invalid time %q", ErrInvalidInput, s)
	}
	switch meridiem {
	case "":
		if h < 0 || (h > 23 && !late) {
			return 0, fmt.Errorf("%w: invalid time %q", ErrInvalidInput, s)
		}
	default:
		if h < 1 || h > 12 {
			return 0, fmt.Errorf("%w: invalid time %q", ErrInvalidInput, s)
		}
		h %= 12
		if meridiem == "PM" {
			h += 12
		}
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) Add(minutes int) TimeOfDay { return t + TimeOfDay(minutes) }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := parseClock(string(b), true)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Clinic is a practice location.
type Clinic struct {
	ID        ClinicID  `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address,omitempty"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DoctorCapacity holds the per-doctor booking settings. Zero means
// unlimited for DailyLimit and unset for ConsultationMinutes.
type DoctorCapacity struct {
	DailyLimit          int `db:"daily_limit" json:"daily_limit"`
	ConsultationMinutes int `db:"consultation_minutes" json:"consultation_minutes"`
}

type Doctor struct {
	ID        DoctorID       `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Specialty string         `db:"specialty" json:"specialty,omitempty"`
	Capacity  DoctorCapacity `json:"capacity"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

type Patient struct {
	ID          PatientID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	DateOfBirth *Date     `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Mobile      string    `db:"mobile" json:"mobile,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ScheduleSlot is the working window a doctor keeps at one clinic.
type ScheduleSlot struct {
	ID                  ScheduleID `db:"id" json:"id"`
	DoctorID            DoctorID   `db:"doctor_id" json:"doctor_id"`
	ClinicID            ClinicID   `db:"clinic_id" json:"clinic_id"`
	StartTime           TimeOfDay  `db:"start_time" json:"start_time"`
	EndTime             TimeOfDay  `db:"end_time" json:"end_time"`
	ConsultationMinutes int        `db:"consultation_minutes" json:"consultation_minutes"`
	// Days lists weekday names ("Monday"). Empty means every day.
	Days []string `db:"days" json:"days,omitempty"`
}

// WorksOn reports whether the slot applies to the given date.
func (s *ScheduleSlot) WorksOn(d Date) bool {
	if len(s.Days) == 0 {
		return true
	}
	wd := d.Weekday().String()
	for _, day := range s.Days {
		if strings.EqualFold(day, wd) {
			return true
		}
	}
	return false
}

// Appointment is one queue position. PatientID is nil for walk-ins.
type Appointment struct {
	ID              AppointmentID `db:"id" json:"id"`
	PatientID       *PatientID    `db:"patient_id" json:"patient_id,omitempty"`
	PatientName     string        `db:"patient_name" json:"patient_name"`
	PatientAge      *int          `db:"patient_age" json:"patient_age,omitempty"`
	DoctorID        DoctorID      `db:"doctor_id" json:"doctor_id"`
	ClinicID        ClinicID      `db:"clinic_id" json:"clinic_id"`
	Date            Date          `db:"appointment_date" json:"date"`
	EstimatedTime   TimeOfDay     `db:"estimated_time" json:"estimated_time"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	QueueNumber     int           `db:"queue_number" json:"queue_number"`
	Status          Status        `db:"status" json:"status"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) IsWalkIn() bool { return a.PatientID == nil }

// AppointmentFilter selects appointments. Zero fields match anything.
type AppointmentFilter struct {
	DoctorID         DoctorID
	ClinicID         ClinicID
	Date             Date
	PatientID        PatientID
	IncludeCancelled bool
}

// Matches applies the filter to a single appointment.
func (f AppointmentFilter) Matches(a *Appointment) bool {
	if f.DoctorID != 0 && a.DoctorID != f.DoctorID {
		return false
	}
	if f.ClinicID != AllClinics && a.ClinicID != f.ClinicID {
		return false
	}
	if f.Date != "" && a.Date != f.Date {
		return false
	}
	if f.PatientID != 0 && (a.PatientID == nil || *a.PatientID != f.PatientID) {
		return false
	}
	if !f.IncludeCancelled && !a.Status.Active() {
		return false
	}
	return true
}

// CohortKey identifies a queue: one doctor, one clinic or AllClinics, one day.
type CohortKey struct {
	DoctorID DoctorID `json:"doctor_id"`
	ClinicID ClinicID `json:"clinic_id"`
	Date     Date     `json:"date"`
}

func (k CohortKey) Filter() AppointmentFilter {
	return AppointmentFilter{DoctorID: k.DoctorID, ClinicID: k.ClinicID, Date: k.Date}
}

// Topic is the live board channel name for the cohort.
func (k CohortKey) Topic() string {
	clinic := "all"
	if k.ClinicID != AllClinics {
		clinic = strconv.FormatInt(int64(k.ClinicID), 10)
	}
	return fmt.Sprintf("queue/%d/%s/%s", k.DoctorID, clinic, k.Date)
}

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseActive    Phase = "active"
	PhaseCompleted Phase = "completed"
)

// QueueState is derived from the stored appointments on every read.
type QueueState struct {
	Key           CohortKey    `json:"key"`
	Phase         Phase        `json:"phase"`
	CurrentNumber int          `json:"current_number"`
	TotalPatients int          `json:"total_patients"`
	Absent        int          `json:"absent"`
	Waiting       int          `json:"waiting"`
	Current       *Appointment `json:"current,omitempty"`
	Next          *Appointment `json:"next,omitempty"`
}
