package scheduling

import "context"

// Storage is everything the queue engine reads and writes. Lookups of a
// missing entity return an error wrapping ErrNotFound.
type Storage interface {
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, error)
	GetAppointment(ctx context.Context, id AppointmentID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) (AppointmentID, error)
	UpdateAppointmentStatus(ctx context.Context, id AppointmentID, status Status) error
	UpdateAppointmentQueueNumber(ctx context.Context, id AppointmentID, n int) error
	DeleteAppointment(ctx context.Context, id AppointmentID) error

	GetDoctor(ctx context.Context, id DoctorID) (*Doctor, error)
	UpdateDoctorCapacity(ctx context.Context, id DoctorID, c DoctorCapacity) error
	GetScheduleSlot(ctx context.Context, doctorID DoctorID, clinicID ClinicID) (*ScheduleSlot, error)
	GetClinic(ctx context.Context, id ClinicID) (*Clinic, error)
	GetPatient(ctx context.Context, id PatientID) (*Patient, error)
}

// ScheduleFilter selects schedule slots. Zero fields match anything.
type ScheduleFilter struct {
	DoctorID DoctorID
	ClinicID ClinicID
}

// DirectoryRepository manages the clinics, doctors, patients and schedule
// slots the queue engine looks up.
type DirectoryRepository interface {
	CreateClinic(ctx context.Context, c *Clinic) error
	UpdateClinic(ctx context.Context, c *Clinic) error
	DeleteClinic(ctx context.Context, id ClinicID) error
	ListClinics(ctx context.Context, limit, offset int) ([]*Clinic, int, error)

	CreateDoctor(ctx context.Context, d *Doctor) error
	UpdateDoctor(ctx context.Context, d *Doctor) error
	DeleteDoctor(ctx context.Context, id DoctorID) error
	ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error)

	CreatePatient(ctx context.Context, p *Patient) error
	UpdatePatient(ctx context.Context, p *Patient) error
	DeletePatient(ctx context.Context, id PatientID) error
	ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error)

	CreateScheduleSlot(ctx context.Context, s *ScheduleSlot) error
	GetScheduleSlotByID(ctx context.Context, id ScheduleID) (*ScheduleSlot, error)
	UpdateScheduleSlot(ctx context.Context, s *ScheduleSlot) error
	DeleteScheduleSlot(ctx context.Context, id ScheduleID) error
	ListScheduleSlots(ctx context.Context, f ScheduleFilter) ([]*ScheduleSlot, error)
}

// Store is a complete backend.
type Store interface {
	Storage
	DirectoryRepository
}
