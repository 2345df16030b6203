package scheduling

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var mobilePattern = regexp.MustCompile(`^[0-9]{10}$`)

// Directory manages the clinics, doctors, patients and schedule slots the
// queue engine books against.
type Directory struct {
	repo DirectoryRepository
	look Storage
	log  zerolog.Logger
}

func NewDirectory(store Store, log zerolog.Logger) *Directory {
	return &Directory{repo: store, look: store, log: log.With().Str("component", "directory").Logger()}
}

// DoctorSchedule is a doctor together with the slot kept at one clinic.
type DoctorSchedule struct {
	Doctor   *Doctor       `json:"doctor"`
	Schedule *ScheduleSlot `json:"schedule"`
}

// -- Clinics --

func (d *Directory) CreateClinic(ctx context.Context, c *Clinic) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return invalidInput("name is required")
	}
	return d.repo.CreateClinic(ctx, c)
}

func (d *Directory) GetClinic(ctx context.Context, id ClinicID) (*Clinic, error) {
	return d.look.GetClinic(ctx, id)
}

func (d *Directory) UpdateClinic(ctx context.Context, c *Clinic) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return invalidInput("name is required")
	}
	return d.repo.UpdateClinic(ctx, c)
}

func (d *Directory) DeleteClinic(ctx context.Context, id ClinicID) error {
	return d.repo.DeleteClinic(ctx, id)
}

func (d *Directory) ListClinics(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	return d.repo.ListClinics(ctx, limit, offset)
}

// -- Doctors --

// CreateDoctor adds a doctor and, when slot is given, the doctor's schedule
// at that slot's clinic.
func (d *Directory) CreateDoctor(ctx context.Context, doc *Doctor, slot *ScheduleSlot) error {
	doc.Name = strings.TrimSpace(doc.Name)
	if doc.Name == "" {
		return invalidInput("name is required")
	}
	if doc.Capacity.DailyLimit < 0 || doc.Capacity.ConsultationMinutes < 0 {
		return invalidInput("capacity values must not be negative")
	}
	if slot != nil {
		if err := validateSlot(slot); err != nil {
			return err
		}
		if _, err := d.look.GetClinic(ctx, slot.ClinicID); err != nil {
			return err
		}
	}
	if err := d.repo.CreateDoctor(ctx, doc); err != nil {
		return err
	}
	if slot == nil {
		return nil
	}
	slot.DoctorID = doc.ID
	if err := d.repo.CreateScheduleSlot(ctx, slot); err != nil {
		if derr := d.repo.DeleteDoctor(ctx, doc.ID); derr != nil {
			d.log.Error().Err(derr).Int64("doctor_id", int64(doc.ID)).Msg("remove doctor after failed schedule")
		}
		return err
	}
	d.log.Info().Int64("doctor_id", int64(doc.ID)).Int64("clinic_id", int64(slot.ClinicID)).Msg("doctor added with schedule")
	return nil
}

func (d *Directory) GetDoctor(ctx context.Context, id DoctorID) (*Doctor, error) {
	return d.look.GetDoctor(ctx, id)
}

func (d *Directory) UpdateDoctor(ctx context.Context, doc *Doctor) error {
	doc.Name = strings.TrimSpace(doc.Name)
	if doc.Name == "" {
		return invalidInput("name is required")
	}
	return d.repo.UpdateDoctor(ctx, doc)
}

func (d *Directory) DeleteDoctor(ctx context.Context, id DoctorID) error {
	return d.repo.DeleteDoctor(ctx, id)
}

func (d *Directory) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return d.repo.ListDoctors(ctx, limit, offset)
}

// DoctorsByClinic lists every doctor with a schedule at the clinic.
func (d *Directory) DoctorsByClinic(ctx context.Context, clinicID ClinicID) ([]*DoctorSchedule, error) {
	if _, err := d.look.GetClinic(ctx, clinicID); err != nil {
		return nil, err
	}
	slots, err := d.repo.ListScheduleSlots(ctx, ScheduleFilter{ClinicID: clinicID})
	if err != nil {
		return nil, err
	}
	out := make([]*DoctorSchedule, 0, len(slots))
	for _, s := range slots {
		doc, err := d.look.GetDoctor(ctx, s.DoctorID)
		if err != nil {
			return nil, err
		}
		out = append(out, &DoctorSchedule{Doctor: doc, Schedule: s})
	}
	return out, nil
}

// -- Patients --

func validatePatient(p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Mobile = strings.TrimSpace(p.Mobile)
	if p.Name == "" {
		return invalidInput("name is required")
	}
	if p.Mobile != "" && !mobilePattern.MatchString(p.Mobile) {
		return invalidInput("mobile number must be exactly 10 digits")
	}
	if p.DateOfBirth != nil {
		dob, err := ParseDate(string(*p.DateOfBirth))
		if err != nil {
			return err
		}
		p.DateOfBirth = &dob
	}
	return nil
}

func (d *Directory) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	return d.repo.CreatePatient(ctx, p)
}

func (d *Directory) GetPatient(ctx context.Context, id PatientID) (*Patient, error) {
	return d.look.GetPatient(ctx, id)
}

func (d *Directory) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	return d.repo.UpdatePatient(ctx, p)
}

func (d *Directory) DeletePatient(ctx context.Context, id PatientID) error {
	return d.repo.DeletePatient(ctx, id)
}

func (d *Directory) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return d.repo.ListPatients(ctx, limit, offset)
}

// -- Schedule slots --

func validateSlot(s *ScheduleSlot) error {
	if s.StartTime < 0 || s.EndTime > endOfDay {
		return invalidInput("schedule must fall within one day")
	}
	if s.StartTime >= s.EndTime {
		return invalidInput("start_time must be before end_time")
	}
	if s.ConsultationMinutes < 0 {
		return invalidInput("consultation_minutes must not be negative")
	}
	days := make([]string, 0, len(s.Days))
	seen := make(map[time.Weekday]bool)
	for _, day := range s.Days {
		wd, ok := parseWeekday(day)
		if !ok {
			return invalidInput("unknown day %q", day)
		}
		if !seen[wd] {
			seen[wd] = true
			days = append(days, wd.String())
		}
	}
	s.Days = days
	return nil
}

func parseWeekday(s string) (time.Weekday, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if v == name || (len(v) == 3 && strings.HasPrefix(name, v)) {
			return wd, true
		}
	}
	return 0, false
}

// CreateSchedule attaches a doctor to a clinic. A doctor keeps at most one
// slot per clinic.
func (d *Directory) CreateSchedule(ctx context.Context, s *ScheduleSlot) error {
	if err := validateSlot(s); err != nil {
		return err
	}
	if _, err := d.look.GetDoctor(ctx, s.DoctorID); err != nil {
		return err
	}
	if _, err := d.look.GetClinic(ctx, s.ClinicID); err != nil {
		return err
	}
	return d.repo.CreateScheduleSlot(ctx, s)
}

func (d *Directory) GetSchedule(ctx context.Context, id ScheduleID) (*ScheduleSlot, error) {
	return d.repo.GetScheduleSlotByID(ctx, id)
}

func (d *Directory) UpdateSchedule(ctx context.Context, s *ScheduleSlot) error {
	if err := validateSlot(s); err != nil {
		return err
	}
	return d.repo.UpdateScheduleSlot(ctx, s)
}

// DeleteSchedule removes a slot. Appointments booked against it remain.
func (d *Directory) DeleteSchedule(ctx context.Context, id ScheduleID) error {
	return d.repo.DeleteScheduleSlot(ctx, id)
}

func (d *Directory) ListSchedules(ctx context.Context, f ScheduleFilter) ([]*ScheduleSlot, error) {
	return d.repo.ListScheduleSlots(ctx, f)
}
