package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/frontdesk/frontdesk/internal/platform/db"
	"github.com/frontdesk/frontdesk/internal/platform/telemetry"
)

var tracer = otel.Tracer("frontdesk.internal.domain.scheduling")

// Locker provides key-scoped mutual exclusion. The returned func releases
// the lock and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// QueuePublisher receives the recomputed state of every cohort a mutation
// touched.
type QueuePublisher interface {
	PublishQueue(ctx context.Context, st *QueueState)
}

type Options struct {
	CapacityScope              CapacityScope
	DefaultConsultationMinutes int
	Location                   *time.Location
	Logger                     zerolog.Logger
	Metrics                    *telemetry.SchedulingMetrics
	Publisher                  QueuePublisher
	Now                        func() time.Time
}

// Service runs bookings and queue transitions. Every write to a doctor's
// day happens under that doctor-day lock.
type Service struct {
	store     Storage
	locker    Locker
	tracker   *Tracker
	scope     CapacityScope
	fallback  int
	loc       *time.Location
	log       zerolog.Logger
	metrics   *telemetry.SchedulingMetrics
	publisher QueuePublisher
	now       func() time.Time
}

func NewService(store Storage, locker Locker, opts Options) *Service {
	s := &Service{
		store:     store,
		locker:    locker,
		tracker:   NewTracker(store),
		scope:     opts.CapacityScope,
		fallback:  opts.DefaultConsultationMinutes,
		loc:       opts.Location,
		log:       opts.Logger.With().Str("component", "scheduling").Logger(),
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
		now:       opts.Now,
	}
	if s.scope == "" {
		s.scope = ScopeDoctor
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Today is the current calendar day in the clinic time zone.
func (s *Service) Today() Date { return DateOf(s.now().In(s.loc)) }

type BookRequest struct {
	PatientID PatientID `json:"patient_id"`
	DoctorID  DoctorID  `json:"doctor_id"`
	ClinicID  ClinicID  `json:"clinic_id"`
	Date      Date      `json:"date"`
}

type WalkInRequest struct {
	DoctorID DoctorID `json:"doctor_id"`
	ClinicID ClinicID `json:"clinic_id"`
	Name     string   `json:"name"`
	Age      *int     `json:"age,omitempty"`
	Date     Date     `json:"date"`
}

// AdvanceResult is the outcome of calling the next patient. Called is nil
// when the queue had nobody left.
type AdvanceResult struct {
	Called *Appointment `json:"called,omitempty"`
	State  *QueueState  `json:"state"`
}

func (s *Service) doctorDayKey(ctx context.Context, id DoctorID, date Date) string {
	return fmt.Sprintf("sched:%s:doctor:%d:%s", db.TenantFromContext(ctx), id, date)
}

func (s *Service) patientDayKey(ctx context.Context, id PatientID, date Date) string {
	return fmt.Sprintf("sched:%s:patient:%d:%s", db.TenantFromContext(ctx), id, date)
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, key)
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("scheduling: lock %s: %w", key, err)
	}
	return unlock, nil
}

func (s *Service) normalizeDate(d Date) (Date, error) {
	if d == "" {
		return s.Today(), nil
	}
	return ParseDate(string(d))
}

// resolve loads the doctor and the slot the doctor keeps at the clinic and
// checks the slot runs on date.
func (s *Service) resolve(ctx context.Context, doctorID DoctorID, clinicID ClinicID, date Date) (*Doctor, *ScheduleSlot, error) {
	if doctorID <= 0 || clinicID <= 0 {
		return nil, nil, invalidInput("doctor_id and clinic_id are required")
	}
	doc, err := s.store.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.store.GetClinic(ctx, clinicID); err != nil {
		return nil, nil, err
	}
	slot, err := s.store.GetScheduleSlot(ctx, doctorID, clinicID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, &ScheduleMissingError{DoctorID: doctorID, ClinicID: clinicID}
	}
	if err != nil {
		return nil, nil, err
	}
	if !slot.WorksOn(date) {
		return nil, nil, &ScheduleMissingError{DoctorID: doctorID, ClinicID: clinicID, Date: date}
	}
	return doc, slot, nil
}

// place runs capacity, allocation, estimation and, for registered
// patients, the overlap check, then inserts. The doctor-day lock must be held.
func (s *Service) place(ctx context.Context, doc *Doctor, slot *ScheduleSlot, date Date, appt *Appointment) error {
	if err := CheckCapacity(ctx, s.store, doc, slot.ClinicID, date, s.scope); err != nil {
		return err
	}
	n, err := NextQueueNumber(ctx, s.store, doc.ID, slot.ClinicID, date)
	if err != nil {
		return err
	}
	dur := EffectiveDuration(doc, slot, s.fallback)
	at := EstimateTime(slot.StartTime, dur, n)
	if appt.PatientID != nil {
		if err := CheckOverlap(ctx, s.store, *appt.PatientID, date, at, dur); err != nil {
			return err
		}
	}
	now := s.now().UTC()
	appt.DoctorID = doc.ID
	appt.ClinicID = slot.ClinicID
	appt.Date = date
	appt.QueueNumber = n
	appt.EstimatedTime = at
	appt.DurationMinutes = dur
	appt.CreatedAt = now
	appt.UpdatedAt = now
	id, err := s.store.InsertAppointment(ctx, appt)
	if err != nil {
		return fmt.Errorf("scheduling: insert appointment: %w", err)
	}
	appt.ID = id
	return nil
}

func (s *Service) finish(span trace.Span, kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	s.metrics.ObserveBooking(kind, outcome)
	if err != nil && outcome != "internal" {
		s.log.Warn().Err(err).Str("kind", kind).Str("outcome", outcome).Msg("booking rejected")
	}
}

// Book gives a registered patient the next queue position with a doctor at
// a clinic on date. New appointments start Confirmed.
func (s *Service) Book(ctx context.Context, req BookRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.book")
	defer span.End()
	defer func() { s.finish(span, "booking", err) }()
	span.SetAttributes(
		attribute.Int64("doctor_id", int64(req.DoctorID)),
		attribute.Int64("clinic_id", int64(req.ClinicID)),
		attribute.Int64("patient_id", int64(req.PatientID)),
	)

	date, err := s.normalizeDate(req.Date)
	if err != nil {
		return nil, err
	}
	if req.PatientID <= 0 {
		return nil, invalidInput("patient_id is required")
	}
	doc, slot, err := s.resolve(ctx, req.DoctorID, req.ClinicID, date)
	if err != nil {
		return nil, err
	}
	patient, err := s.store.GetPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, s.doctorDayKey(ctx, doc.ID, date))
	if err != nil {
		return nil, err
	}
	defer unlock()
	unlockPatient, err := s.lock(ctx, s.patientDayKey(ctx, patient.ID, date))
	if err != nil {
		return nil, err
	}
	defer unlockPatient()

	pid := patient.ID
	appt = &Appointment{PatientID: &pid, PatientName: patient.Name, Status: StatusConfirmed}
	if err := s.place(ctx, doc, slot, date, appt); err != nil {
		return nil, err
	}
	s.log.Info().Int64("appointment_id", int64(appt.ID)).Int64("doctor_id", int64(doc.ID)).
		Int64("clinic_id", int64(appt.ClinicID)).Str("date", string(date)).
		Int("queue_number", appt.QueueNumber).Str("estimated_time", appt.EstimatedTime.String()).
		Msg("appointment booked")
	s.publish(ctx, appt.DoctorID, appt.ClinicID, date)
	return appt, nil
}

// AddWalkIn queues a patient with no registered identity. Walk-ins start
// Waiting and skip the overlap check.
func (s *Service) AddWalkIn(ctx context.Context, req WalkInRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.walk_in")
	defer span.End()
	defer func() { s.finish(span, "walk_in", err) }()
	span.SetAttributes(
		attribute.Int64("doctor_id", int64(req.DoctorID)),
		attribute.Int64("clinic_id", int64(req.ClinicID)),
	)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidInput("name is required")
	}
	if req.Age != nil && (*req.Age < 0 || *req.Age > 150) {
		return nil, invalidInput("age must be between 0 and 150")
	}
	date, err := s.normalizeDate(req.Date)
	if err != nil {
		return nil, err
	}
	doc, slot, err := s.resolve(ctx, req.DoctorID, req.ClinicID, date)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, s.doctorDayKey(ctx, doc.ID, date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	appt = &Appointment{PatientName: name, PatientAge: req.Age, Status: StatusWaiting}
	if err := s.place(ctx, doc, slot, date, appt); err != nil {
		return nil, err
	}
	s.log.Info().Int64("appointment_id", int64(appt.ID)).Int64("doctor_id", int64(doc.ID)).
		Int64("clinic_id", int64(appt.ClinicID)).Str("date", string(date)).
		Int("queue_number", appt.QueueNumber).Msg("walk-in added")
	s.publish(ctx, appt.DoctorID, appt.ClinicID, date)
	return appt, nil
}

func (s *Service) checkCohort(ctx context.Context, key *CohortKey) error {
	d, err := s.normalizeDate(key.Date)
	if err != nil {
		return err
	}
	key.Date = d
	if _, err := s.store.GetDoctor(ctx, key.DoctorID); err != nil {
		return err
	}
	if key.ClinicID != AllClinics {
		if _, err := s.store.GetClinic(ctx, key.ClinicID); err != nil {
			return err
		}
	}
	return nil
}

// QueueState reads the cohort without locking.
func (s *Service) QueueState(ctx context.Context, key CohortKey) (*QueueState, error) {
	if err := s.checkCohort(ctx, &key); err != nil {
		return nil, err
	}
	return s.tracker.State(ctx, key)
}

// AdvanceNext marks the current patient Done. On an empty or completed
// queue it changes nothing.
func (s *Service) AdvanceNext(ctx context.Context, key CohortKey) (*AdvanceResult, error) {
	ctx, span := tracer.Start(ctx, "scheduling.advance")
	defer span.End()
	if err := s.checkCohort(ctx, &key); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("cohort", key.Topic()))

	unlock, err := s.lock(ctx, s.doctorDayKey(ctx, key.DoctorID, key.Date))
	if err != nil {
		return nil, err
	}
	called, err := s.tracker.Advance(ctx, key)
	if err != nil {
		unlock()
		span.RecordError(err)
		return nil, err
	}
	st, err := s.tracker.State(ctx, key)
	unlock()
	if err != nil {
		return nil, err
	}

	if called == nil {
		s.metrics.ObserveQueueAdvance("empty")
		return &AdvanceResult{State: st}, nil
	}
	s.metrics.ObserveQueueAdvance("called")
	s.log.Info().Str("cohort", key.Topic()).Int64("appointment_id", int64(called.ID)).
		Int("queue_number", called.QueueNumber).Msg("patient called")
	s.publish(ctx, called.DoctorID, called.ClinicID, key.Date)
	return &AdvanceResult{Called: called, State: st}, nil
}

// ResetQueue returns every Done appointment of the cohort to Confirmed.
func (s *Service) ResetQueue(ctx context.Context, key CohortKey) (*QueueState, error) {
	ctx, span := tracer.Start(ctx, "scheduling.reset")
	defer span.End()
	if err := s.checkCohort(ctx, &key); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, s.doctorDayKey(ctx, key.DoctorID, key.Date))
	if err != nil {
		return nil, err
	}
	n, err := s.tracker.Reset(ctx, key)
	if err != nil {
		unlock()
		return nil, err
	}
	st, err := s.tracker.State(ctx, key)
	unlock()
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("cohort", key.Topic()).Int("reset", n).Msg("queue reset")
	if n > 0 {
		s.publish(ctx, key.DoctorID, key.ClinicID, key.Date)
	}
	return st, nil
}

func (s *Service) GetAppointment(ctx context.Context, id AppointmentID) (*Appointment, error) {
	return s.store.GetAppointment(ctx, id)
}

// ListAppointments returns matching appointments by day, doctor and queue order.
func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	if f.Date != "" {
		d, err := ParseDate(string(f.Date))
		if err != nil {
			return nil, err
		}
		f.Date = d
	}
	appts, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, err
	}
	queueOrder(appts)
	sort.SliceStable(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date < appts[j].Date
		}
		return appts[i].DoctorID < appts[j].DoctorID
	})
	return appts, nil
}

// MarkStatus overwrites an appointment's status without renumbering.
// Cancelled is refused; use CancelAppointment.
func (s *Service) MarkStatus(ctx context.Context, id AppointmentID, status Status) (*Appointment, error) {
	if !markableStatuses[status] {
		return nil, fmt.Errorf("%w: %q cannot be set directly", ErrInvalidStatus, status)
	}
	a, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, s.doctorDayKey(ctx, a.DoctorID, a.Date))
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateAppointmentStatus(ctx, id, status); err != nil {
		unlock()
		return nil, err
	}
	a, err = s.store.GetAppointment(ctx, id)
	unlock()
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("appointment_id", int64(id)).Str("status", string(status)).Msg("appointment status changed")
	s.publish(ctx, a.DoctorID, a.ClinicID, a.Date)
	return a, nil
}

// CancelAppointment deletes an appointment and closes the gap it leaves in
// its clinic queue. It returns the removed appointment.
func (s *Service) CancelAppointment(ctx context.Context, id AppointmentID) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.cancel")
	defer span.End()
	span.SetAttributes(attribute.Int64("appointment_id", int64(id)))

	a, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, s.doctorDayKey(ctx, a.DoctorID, a.Date))
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteAppointment(ctx, id); err != nil {
		unlock()
		return nil, err
	}
	changed, err := s.tracker.Renumber(ctx, a.DoctorID, a.ClinicID, a.Date)
	unlock()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.ObserveRenumber(changed)
	s.log.Info().Int64("appointment_id", int64(id)).Int("queue_number", a.QueueNumber).
		Int("renumbered", changed).Msg("appointment cancelled")
	s.publish(ctx, a.DoctorID, a.ClinicID, a.Date)
	return a, nil
}

func (s *Service) updateCapacity(ctx context.Context, id DoctorID, apply func(*DoctorCapacity)) (*Doctor, error) {
	unlock, err := s.lock(ctx, fmt.Sprintf("sched:%s:doctor:%d:settings", db.TenantFromContext(ctx), id))
	if err != nil {
		return nil, err
	}
	defer unlock()
	doc, err := s.store.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(&doc.Capacity)
	if err := s.store.UpdateDoctorCapacity(ctx, id, doc.Capacity); err != nil {
		return nil, err
	}
	return doc, nil
}

// SetDailyLimit changes how many bookings the doctor takes per day. Zero
// removes the limit. Existing bookings are left alone.
func (s *Service) SetDailyLimit(ctx context.Context, id DoctorID, limit int) (*Doctor, error) {
	if limit < 0 {
		return nil, invalidInput("daily limit must not be negative")
	}
	doc, err := s.updateCapacity(ctx, id, func(c *DoctorCapacity) { c.DailyLimit = limit })
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("doctor_id", int64(id)).Int("daily_limit", limit).Msg("daily limit set")
	return doc, nil
}

// SetConsultationDuration changes the per-patient minutes used for later
// bookings. Existing estimated times are not recomputed.
func (s *Service) SetConsultationDuration(ctx context.Context, id DoctorID, minutes int) (*Doctor, error) {
	if minutes < 0 {
		return nil, invalidInput("consultation minutes must not be negative")
	}
	doc, err := s.updateCapacity(ctx, id, func(c *DoctorCapacity) { c.ConsultationMinutes = minutes })
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("doctor_id", int64(id)).Int("consultation_minutes", minutes).Msg("consultation duration set")
	return doc, nil
}

// publish pushes the per-clinic and all-clinics queue state to the board.
func (s *Service) publish(ctx context.Context, doctorID DoctorID, clinicID ClinicID, date Date) {
	if s.publisher == nil {
		return
	}
	for _, key := range []CohortKey{
		{DoctorID: doctorID, ClinicID: clinicID, Date: date},
		{DoctorID: doctorID, ClinicID: AllClinics, Date: date},
	} {
		st, err := s.tracker.State(ctx, key)
		if err != nil {
			s.log.Error().Err(err).Str("cohort", key.Topic()).Msg("queue state for board")
			continue
		}
		s.publisher.PublishQueue(ctx, st)
	}
}
