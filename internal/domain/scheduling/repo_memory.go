package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/frontdesk/frontdesk/internal/platform/db"
	"github.com/frontdesk/frontdesk/pkg/pagination"
)

// MemoryStore is an in-process Store. Data is partitioned by the tenant
// carried in the context.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*memoryTenant
}

type memoryTenant struct {
	mu       sync.RWMutex
	seq      map[string]int64
	clinics  map[ClinicID]*Clinic
	doctors  map[DoctorID]*Doctor
	patients map[PatientID]*Patient
	slots    map[ScheduleID]*ScheduleSlot
	appts    map[AppointmentID]*Appointment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*memoryTenant)}
}

func (m *MemoryStore) tenant(ctx context.Context) *memoryTenant {
	id := db.TenantFromContext(ctx)
	m.mu.RLock()
	t, ok := m.tenants[id]
	m.mu.RUnlock()
	if ok {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		return t
	}
	t = &memoryTenant{
		seq:      make(map[string]int64),
		clinics:  make(map[ClinicID]*Clinic),
		doctors:  make(map[DoctorID]*Doctor),
		patients: make(map[PatientID]*Patient),
		slots:    make(map[ScheduleID]*ScheduleSlot),
		appts:    make(map[AppointmentID]*Appointment),
	}
	m.tenants[id] = t
	return t
}

func (t *memoryTenant) next(table string) int64 {
	t.seq[table]++
	return t.seq[table]
}

func copyAppointment(a *Appointment) *Appointment {
	c := *a
	if a.PatientID != nil {
		pid := *a.PatientID
		c.PatientID = &pid
	}
	if a.PatientAge != nil {
		age := *a.PatientAge
		c.PatientAge = &age
	}
	return &c
}

func copySlot(s *ScheduleSlot) *ScheduleSlot {
	c := *s
	c.Days = append([]string(nil), s.Days...)
	return &c
}

// -- Appointments --

func (m *MemoryStore) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Appointment
	for _, a := range t.appts {
		if f.Matches(a) {
			out = append(out, copyAppointment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetAppointment(ctx context.Context, id AppointmentID) (*Appointment, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.appts[id]
	if !ok {
		return nil, notFound("appointment", int64(id))
	}
	return copyAppointment(a), nil
}

func (m *MemoryStore) InsertAppointment(ctx context.Context, a *Appointment) (AppointmentID, error) {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	c := copyAppointment(a)
	c.ID = AppointmentID(t.next("appointment"))
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
		c.UpdatedAt = c.CreatedAt
	}
	t.appts[c.ID] = c
	return c.ID, nil
}

func (m *MemoryStore) UpdateAppointmentStatus(ctx context.Context, id AppointmentID, status Status) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.appts[id]
	if !ok {
		return notFound("appointment", int64(id))
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateAppointmentQueueNumber(ctx context.Context, id AppointmentID, n int) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.appts[id]
	if !ok {
		return notFound("appointment", int64(id))
	}
	a.QueueNumber = n
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) DeleteAppointment(ctx context.Context, id AppointmentID) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.appts[id]; !ok {
		return notFound("appointment", int64(id))
	}
	delete(t.appts, id)
	return nil
}

// -- Clinics --

func (m *MemoryStore) CreateClinic(ctx context.Context, c *Clinic) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	c.ID = ClinicID(t.next("clinic"))
	c.CreatedAt = time.Now().UTC()
	cp := *c
	t.clinics[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetClinic(ctx context.Context, id ClinicID) (*Clinic, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clinics[id]
	if !ok {
		return nil, notFound("clinic", int64(id))
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) UpdateClinic(ctx context.Context, c *Clinic) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.clinics[c.ID]
	if !ok {
		return notFound("clinic", int64(c.ID))
	}
	cp := *c
	cp.CreatedAt = old.CreatedAt
	t.clinics[c.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteClinic(ctx context.Context, id ClinicID) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clinics[id]; !ok {
		return notFound("clinic", int64(id))
	}
	delete(t.clinics, id)
	for sid, s := range t.slots {
		if s.ClinicID == id {
			delete(t.slots, sid)
		}
	}
	return nil
}

func (m *MemoryStore) ListClinics(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Clinic, 0, len(t.clinics))
	for _, c := range t.clinics {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return pagination.Window(out, limit, offset), len(out), nil
}

// -- Doctors --

func (m *MemoryStore) CreateDoctor(ctx context.Context, d *Doctor) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	d.ID = DoctorID(t.next("doctor"))
	d.CreatedAt = time.Now().UTC()
	cp := *d
	t.doctors[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDoctor(ctx context.Context, id DoctorID) (*Doctor, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.doctors[id]
	if !ok {
		return nil, notFound("doctor", int64(id))
	}
	cp := *d
	return &cp, nil
}

// UpdateDoctor changes name and specialty. Capacity has its own setter.
func (m *MemoryStore) UpdateDoctor(ctx context.Context, d *Doctor) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.doctors[d.ID]
	if !ok {
		return notFound("doctor", int64(d.ID))
	}
	old.Name = d.Name
	old.Specialty = d.Specialty
	return nil
}

func (m *MemoryStore) UpdateDoctorCapacity(ctx context.Context, id DoctorID, c DoctorCapacity) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.doctors[id]
	if !ok {
		return notFound("doctor", int64(id))
	}
	d.Capacity = c
	return nil
}

func (m *MemoryStore) DeleteDoctor(ctx context.Context, id DoctorID) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.doctors[id]; !ok {
		return notFound("doctor", int64(id))
	}
	delete(t.doctors, id)
	for sid, s := range t.slots {
		if s.DoctorID == id {
			delete(t.slots, sid)
		}
	}
	return nil
}

func (m *MemoryStore) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Doctor, 0, len(t.doctors))
	for _, d := range t.doctors {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return pagination.Window(out, limit, offset), len(out), nil
}

// -- Patients --

func (m *MemoryStore) CreatePatient(ctx context.Context, p *Patient) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	p.ID = PatientID(t.next("patient"))
	p.CreatedAt = time.Now().UTC()
	cp := *p
	t.patients[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPatient(ctx context.Context, id PatientID) (*Patient, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.patients[id]
	if !ok {
		return nil, notFound("patient", int64(id))
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdatePatient(ctx context.Context, p *Patient) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.patients[p.ID]
	if !ok {
		return notFound("patient", int64(p.ID))
	}
	cp := *p
	cp.CreatedAt = old.CreatedAt
	t.patients[p.ID] = &cp
	return nil
}

func (m *MemoryStore) DeletePatient(ctx context.Context, id PatientID) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.patients[id]; !ok {
		return notFound("patient", int64(id))
	}
	delete(t.patients, id)
	return nil
}

func (m *MemoryStore) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Patient, 0, len(t.patients))
	for _, p := range t.patients {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return pagination.Window(out, limit, offset), len(out), nil
}

// -- Schedule slots --

func (m *MemoryStore) CreateScheduleSlot(ctx context.Context, s *ScheduleSlot) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.slots {
		if existing.DoctorID == s.DoctorID && existing.ClinicID == s.ClinicID {
			return ErrDuplicate
		}
	}
	s.ID = ScheduleID(t.next("schedule"))
	t.slots[s.ID] = copySlot(s)
	return nil
}

func (m *MemoryStore) GetScheduleSlot(ctx context.Context, doctorID DoctorID, clinicID ClinicID) (*ScheduleSlot, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.slots {
		if s.DoctorID == doctorID && s.ClinicID == clinicID {
			return copySlot(s), nil
		}
	}
	return nil, notFound("schedule", int64(doctorID))
}

func (m *MemoryStore) GetScheduleSlotByID(ctx context.Context, id ScheduleID) (*ScheduleSlot, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.slots[id]
	if !ok {
		return nil, notFound("schedule", int64(id))
	}
	return copySlot(s), nil
}

// UpdateScheduleSlot changes the window and days. The doctor and clinic of
// a slot are fixed.
func (m *MemoryStore) UpdateScheduleSlot(ctx context.Context, s *ScheduleSlot) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.slots[s.ID]
	if !ok {
		return notFound("schedule", int64(s.ID))
	}
	cp := copySlot(s)
	cp.DoctorID, cp.ClinicID = old.DoctorID, old.ClinicID
	t.slots[s.ID] = cp
	return nil
}

func (m *MemoryStore) DeleteScheduleSlot(ctx context.Context, id ScheduleID) error {
	t := m.tenant(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.slots[id]; !ok {
		return notFound("schedule", int64(id))
	}
	delete(t.slots, id)
	return nil
}

func (m *MemoryStore) ListScheduleSlots(ctx context.Context, f ScheduleFilter) ([]*ScheduleSlot, error) {
	t := m.tenant(ctx)
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*ScheduleSlot
	for _, s := range t.slots {
		if f.DoctorID != 0 && s.DoctorID != f.DoctorID {
			continue
		}
		if f.ClinicID != AllClinics && s.ClinicID != f.ClinicID {
			continue
		}
		out = append(out, copySlot(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
