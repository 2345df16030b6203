package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/frontdesk/frontdesk/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// StorePG is the PostgreSQL Store. Queries run on the tenant connection
// from the request context when there is one.
type StorePG struct{ db queryable }

func NewStorePG(pool *pgxpool.Pool) *StorePG { return &StorePG{db: pool} }

func newStorePGWithConn(q queryable) *StorePG { return &StorePG{db: q} }

func (r *StorePG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.db
}

const uniqueViolation = "23505"

func mapPGError(err error, entity string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(entity, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", entity, ErrDuplicate)
	}
	return fmt.Errorf("scheduling: %s %d: %w", entity, id, err)
}

func expectOne(tag pgconn.CommandTag, err error, entity string, id int64) error {
	if err != nil {
		return mapPGError(err, entity, id)
	}
	if tag.RowsAffected() == 0 {
		return notFound(entity, id)
	}
	return nil
}

// =========== Appointments ===========

const apptCols = `id, patient_id, patient_name, patient_age, doctor_id, clinic_id,
	appointment_date::text, estimated_minute, duration_minutes, queue_number, status,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                      Appointment
		id, doctorID, clinicID int64
		patientID              *int64
		date, status           string
		estimated              int
	)
	err := row.Scan(&id, &patientID, &a.PatientName, &a.PatientAge, &doctorID, &clinicID,
		&date, &estimated, &a.DurationMinutes, &a.QueueNumber, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ID = AppointmentID(id)
	if patientID != nil {
		pid := PatientID(*patientID)
		a.PatientID = &pid
	}
	a.DoctorID = DoctorID(doctorID)
	a.ClinicID = ClinicID(clinicID)
	a.Date = Date(date)
	a.EstimatedTime = TimeOfDay(estimated)
	a.Status = Status(status)
	return &a, nil
}

func (r *StorePG) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	query := `SELECT ` + apptCols + ` FROM appointment WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != 0 {
		query += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, int64(f.DoctorID))
		idx++
	}
	if f.ClinicID != AllClinics {
		query += fmt.Sprintf(` AND clinic_id = $%d`, idx)
		args = append(args, int64(f.ClinicID))
		idx++
	}
	if f.Date != "" {
		query += fmt.Sprintf(` AND appointment_date = $%d::date`, idx)
		args = append(args, string(f.Date))
		idx++
	}
	if f.PatientID != 0 {
		query += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, int64(f.PatientID))
		idx++
	}
	if !f.IncludeCancelled {
		query += fmt.Sprintf(` AND status <> $%d`, idx)
		args = append(args, string(StatusCancelled))
	}
	query += ` ORDER BY id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *StorePG) GetAppointment(ctx context.Context, id AppointmentID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, int64(id)))
	if err != nil {
		return nil, mapPGError(err, "appointment", int64(id))
	}
	return a, nil
}

func (r *StorePG) InsertAppointment(ctx context.Context, a *Appointment) (AppointmentID, error) {
	var patientID *int64
	if a.PatientID != nil {
		pid := int64(*a.PatientID)
		patientID = &pid
	}
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (patient_id, patient_name, patient_age, doctor_id, clinic_id,
			appointment_date, estimated_minute, duration_minutes, queue_number, status)
		VALUES ($1,$2,$3,$4,$5,$6::date,$7,$8,$9,$10)
		RETURNING id`,
		patientID, a.PatientName, a.PatientAge, int64(a.DoctorID), int64(a.ClinicID),
		string(a.Date), int(a.EstimatedTime), a.DurationMinutes, a.QueueNumber, string(a.Status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("scheduling: insert appointment: %w", err)
	}
	return AppointmentID(id), nil
}

func (r *StorePG) UpdateAppointmentStatus(ctx context.Context, id AppointmentID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointment SET status = $2, updated_at = NOW() WHERE id = $1`, int64(id), string(status))
	return expectOne(tag, err, "appointment", int64(id))
}

func (r *StorePG) UpdateAppointmentQueueNumber(ctx context.Context, id AppointmentID, n int) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointment SET queue_number = $2, updated_at = NOW() WHERE id = $1`, int64(id), n)
	return expectOne(tag, err, "appointment", int64(id))
}

func (r *StorePG) DeleteAppointment(ctx context.Context, id AppointmentID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, int64(id))
	return expectOne(tag, err, "appointment", int64(id))
}

// =========== Clinics ===========

const clinicCols = `id, name, address, phone, created_at`

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	var id int64
	if err := row.Scan(&id, &c.Name, &c.Address, &c.Phone, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ID = ClinicID(id)
	return &c, nil
}

func (r *StorePG) CreateClinic(ctx context.Context, c *Clinic) error {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinic (name, address, phone) VALUES ($1,$2,$3)
		RETURNING id, created_at`, c.Name, c.Address, c.Phone).Scan(&id, &c.CreatedAt)
	if err != nil {
		return mapPGError(err, "clinic", 0)
	}
	c.ID = ClinicID(id)
	return nil
}

func (r *StorePG) GetClinic(ctx context.Context, id ClinicID) (*Clinic, error) {
	c, err := scanClinic(r.conn(ctx).QueryRow(ctx, `SELECT `+clinicCols+` FROM clinic WHERE id = $1`, int64(id)))
	if err != nil {
		return nil, mapPGError(err, "clinic", int64(id))
	}
	return c, nil
}

func (r *StorePG) UpdateClinic(ctx context.Context, c *Clinic) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE clinic SET name=$2, address=$3, phone=$4 WHERE id = $1`,
		int64(c.ID), c.Name, c.Address, c.Phone)
	return expectOne(tag, err, "clinic", int64(c.ID))
}

func (r *StorePG) DeleteClinic(ctx context.Context, id ClinicID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinic WHERE id = $1`, int64(id))
	return expectOne(tag, err, "clinic", int64(id))
}

func (r *StorePG) ListClinics(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinic`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("scheduling: count clinics: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+clinicCols+` FROM clinic ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("scheduling: list clinics: %w", err)
	}
	defer rows.Close()
	var items []*Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// =========== Doctors ===========

const doctorCols = `id, name, specialty, daily_limit, consultation_minutes, created_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var id int64
	if err := row.Scan(&id, &d.Name, &d.Specialty, &d.Capacity.DailyLimit, &d.Capacity.ConsultationMinutes, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.ID = DoctorID(id)
	return &d, nil
}

func (r *StorePG) CreateDoctor(ctx context.Context, d *Doctor) error {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor (name, specialty, daily_limit, consultation_minutes) VALUES ($1,$2,$3,$4)
		RETURNING id, created_at`,
		d.Name, d.Specialty, d.Capacity.DailyLimit, d.Capacity.ConsultationMinutes).Scan(&id, &d.CreatedAt)
	if err != nil {
		return mapPGError(err, "doctor", 0)
	}
	d.ID = DoctorID(id)
	return nil
}

func (r *StorePG) GetDoctor(ctx context.Context, id DoctorID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, int64(id)))
	if err != nil {
		return nil, mapPGError(err, "doctor", int64(id))
	}
	return d, nil
}

func (r *StorePG) UpdateDoctor(ctx context.Context, d *Doctor) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE doctor SET name=$2, specialty=$3 WHERE id = $1`,
		int64(d.ID), d.Name, d.Specialty)
	return expectOne(tag, err, "doctor", int64(d.ID))
}

func (r *StorePG) UpdateDoctorCapacity(ctx context.Context, id DoctorID, c DoctorCapacity) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE doctor SET daily_limit=$2, consultation_minutes=$3 WHERE id = $1`,
		int64(id), c.DailyLimit, c.ConsultationMinutes)
	return expectOne(tag, err, "doctor", int64(id))
}

func (r *StorePG) DeleteDoctor(ctx context.Context, id DoctorID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor WHERE id = $1`, int64(id))
	return expectOne(tag, err, "doctor", int64(id))
}

func (r *StorePG) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("scheduling: count doctors: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+doctorCols+` FROM doctor ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("scheduling: list doctors: %w", err)
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// =========== Patients ===========

const patientCols = `id, name, date_of_birth::text, mobile, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var id int64
	var dob *string
	if err := row.Scan(&id, &p.Name, &dob, &p.Mobile, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = PatientID(id)
	if dob != nil {
		d := Date(*dob)
		p.DateOfBirth = &d
	}
	return &p, nil
}

func dateArg(d *Date) *string {
	if d == nil {
		return nil
	}
	s := string(*d)
	return &s
}

func (r *StorePG) CreatePatient(ctx context.Context, p *Patient) error {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (name, date_of_birth, mobile) VALUES ($1,$2::date,$3)
		RETURNING id, created_at`, p.Name, dateArg(p.DateOfBirth), p.Mobile).Scan(&id, &p.CreatedAt)
	if err != nil {
		return mapPGError(err, "patient", 0)
	}
	p.ID = PatientID(id)
	return nil
}

func (r *StorePG) GetPatient(ctx context.Context, id PatientID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, int64(id)))
	if err != nil {
		return nil, mapPGError(err, "patient", int64(id))
	}
	return p, nil
}

func (r *StorePG) UpdatePatient(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE patient SET name=$2, date_of_birth=$3::date, mobile=$4 WHERE id = $1`,
		int64(p.ID), p.Name, dateArg(p.DateOfBirth), p.Mobile)
	return expectOne(tag, err, "patient", int64(p.ID))
}

func (r *StorePG) DeletePatient(ctx context.Context, id PatientID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, int64(id))
	return expectOne(tag, err, "patient", int64(id))
}

func (r *StorePG) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("scheduling: count patients: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("scheduling: list patients: %w", err)
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Schedule slots ===========

const slotCols = `id, doctor_id, clinic_id, start_minute, end_minute, consultation_minutes, days`

func scanSlot(row pgx.Row) (*ScheduleSlot, error) {
	var s ScheduleSlot
	var id, doctorID, clinicID int64
	var start, end int
	if err := row.Scan(&id, &doctorID, &clinicID, &start, &end, &s.ConsultationMinutes, &s.Days); err != nil {
		return nil, err
	}
	s.ID = ScheduleID(id)
	s.DoctorID = DoctorID(doctorID)
	s.ClinicID = ClinicID(clinicID)
	s.StartTime = TimeOfDay(start)
	s.EndTime = TimeOfDay(end)
	return &s, nil
}

func daysArg(days []string) []string {
	if days == nil {
		return []string{}
	}
	return days
}

func (r *StorePG) CreateScheduleSlot(ctx context.Context, s *ScheduleSlot) error {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedule_slot (doctor_id, clinic_id, start_minute, end_minute, consultation_minutes, days)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		int64(s.DoctorID), int64(s.ClinicID), int(s.StartTime), int(s.EndTime), s.ConsultationMinutes, daysArg(s.Days)).Scan(&id)
	if err != nil {
		return mapPGError(err, "schedule", int64(s.DoctorID))
	}
	s.ID = ScheduleID(id)
	return nil
}

func (r *StorePG) GetScheduleSlot(ctx context.Context, doctorID DoctorID, clinicID ClinicID) (*ScheduleSlot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx,
		`SELECT `+slotCols+` FROM schedule_slot WHERE doctor_id = $1 AND clinic_id = $2`, int64(doctorID), int64(clinicID)))
	if err != nil {
		return nil, mapPGError(err, "schedule", int64(doctorID))
	}
	return s, nil
}

func (r *StorePG) GetScheduleSlotByID(ctx context.Context, id ScheduleID) (*ScheduleSlot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM schedule_slot WHERE id = $1`, int64(id)))
	if err != nil {
		return nil, mapPGError(err, "schedule", int64(id))
	}
	return s, nil
}

func (r *StorePG) UpdateScheduleSlot(ctx context.Context, s *ScheduleSlot) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule_slot SET start_minute=$2, end_minute=$3, consultation_minutes=$4, days=$5
		WHERE id = $1`,
		int64(s.ID), int(s.StartTime), int(s.EndTime), s.ConsultationMinutes, daysArg(s.Days))
	return expectOne(tag, err, "schedule", int64(s.ID))
}

func (r *StorePG) DeleteScheduleSlot(ctx context.Context, id ScheduleID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM schedule_slot WHERE id = $1`, int64(id))
	return expectOne(tag, err, "schedule", int64(id))
}

func (r *StorePG) ListScheduleSlots(ctx context.Context, f ScheduleFilter) ([]*ScheduleSlot, error) {
	query := `SELECT ` + slotCols + ` FROM schedule_slot WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.DoctorID != 0 {
		query += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, int64(f.DoctorID))
		idx++
	}
	if f.ClinicID != AllClinics {
		query += fmt.Sprintf(` AND clinic_id = $%d`, idx)
		args = append(args, int64(f.ClinicID))
	}
	query += ` ORDER BY id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list schedules: %w", err)
	}
	defer rows.Close()
	var items []*ScheduleSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
