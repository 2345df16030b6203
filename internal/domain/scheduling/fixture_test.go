package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/frontdesk/frontdesk/internal/platform/db"
	"github.com/frontdesk/frontdesk/internal/platform/lock"
)

// 2026-10-16 is a Friday.
const day Date = "2026-10-16"

var fixedNow = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

func tenantCtx() context.Context { return db.WithTenant(context.Background(), "acme") }

// recordingPublisher keeps every queue state the service publishes.
type recordingPublisher struct {
	mu     sync.Mutex
	states []*QueueState
}

func (p *recordingPublisher) PublishQueue(_ context.Context, st *QueueState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, st)
}

func (p *recordingPublisher) last(key CohortKey) *QueueState {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.states) - 1; i >= 0; i-- {
		if p.states[i].Key == key {
			return p.states[i]
		}
	}
	return nil
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *MemoryStore
	svc   *Service
	dir   *Directory
	pub   *recordingPublisher
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	store := NewMemoryStore()
	pub := &recordingPublisher{}
	o := Options{
		Location:  time.UTC,
		Logger:    zerolog.Nop(),
		Publisher: pub,
		Now:       func() time.Time { return fixedNow },
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &fixture{
		t:     t,
		ctx:   tenantCtx(),
		store: store,
		svc:   NewService(store, lock.NewLocal(2*time.Second), o),
		dir:   NewDirectory(store, zerolog.Nop()),
		pub:   pub,
	}
}

func (f *fixture) clinic(name string) *Clinic {
	f.t.Helper()
	c := &Clinic{Name: name}
	if err := f.dir.CreateClinic(f.ctx, c); err != nil {
		f.t.Fatalf("create clinic: %v", err)
	}
	return c
}

func (f *fixture) doctor(limit, minutes int) *Doctor {
	f.t.Helper()
	d := &Doctor{Name: "Dr. Mehta", Capacity: DoctorCapacity{DailyLimit: limit, ConsultationMinutes: minutes}}
	if err := f.dir.CreateDoctor(f.ctx, d, nil); err != nil {
		f.t.Fatalf("create doctor: %v", err)
	}
	return d
}

func (f *fixture) slot(doc *Doctor, clinic *Clinic, start, end string, days ...string) *ScheduleSlot {
	f.t.Helper()
	s := &ScheduleSlot{DoctorID: doc.ID, ClinicID: clinic.ID, StartTime: mustTime(f.t, start), EndTime: mustTime(f.t, end), Days: days}
	if err := f.dir.CreateSchedule(f.ctx, s); err != nil {
		f.t.Fatalf("create schedule: %v", err)
	}
	return s
}

func (f *fixture) patient(name string) *Patient {
	f.t.Helper()
	p := &Patient{Name: name}
	if err := f.dir.CreatePatient(f.ctx, p); err != nil {
		f.t.Fatalf("create patient: %v", err)
	}
	return p
}

func (f *fixture) book(p *Patient, doc *Doctor, c *Clinic) (*Appointment, error) {
	return f.svc.Book(f.ctx, BookRequest{PatientID: p.ID, DoctorID: doc.ID, ClinicID: c.ID, Date: day})
}

func (f *fixture) mustBook(p *Patient, doc *Doctor, c *Clinic) *Appointment {
	f.t.Helper()
	a, err := f.book(p, doc, c)
	if err != nil {
		f.t.Fatalf("book %s: %v", p.Name, err)
	}
	return a
}

// numbers returns the queue numbers of the active appointments of a
// per-clinic cohort, keyed by appointment id.
func (f *fixture) numbers(doc *Doctor, c *Clinic) map[AppointmentID]int {
	f.t.Helper()
	appts, err := f.store.ListAppointments(f.ctx, AppointmentFilter{DoctorID: doc.ID, ClinicID: c.ID, Date: day})
	if err != nil {
		f.t.Fatalf("list: %v", err)
	}
	out := make(map[AppointmentID]int, len(appts))
	for _, a := range appts {
		out[a.ID] = a.QueueNumber
	}
	return out
}

func (f *fixture) assertContiguous(doc *Doctor, c *Clinic) {
	f.t.Helper()
	nums := f.numbers(doc, c)
	seen := make(map[int]bool, len(nums))
	for _, n := range nums {
		if n < 1 || n > len(nums) || seen[n] {
			f.t.Fatalf("queue numbers not contiguous: %v", nums)
		}
		seen[n] = true
	}
}

func mustTime(t *testing.T, s string) TimeOfDay {
	t.Helper()
	v, err := ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return v
}
