package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/frontdesk/frontdesk/internal/platform/lock"
)

func newTestHandler(t *testing.T) (*Handler, *fixture) {
	t.Helper()
	f := newFixture(t)
	return NewHandler(f.svc, f.dir), f
}

func newCtx(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(tenantCtx())
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestHandler_BookAndGet(t *testing.T) {
	h, f := newTestHandler(t)
	clinic := f.clinic("City Clinic")
	doc := f.doctor(2, 15)
	f.slot(doc, clinic, "09:00", "17:00")
	p := f.patient("Asha")

	body := fmt.Sprintf(`{"patient_id":%d,"doctor_id":%d,"clinic_id":%d,"date":"%s"}`, p.ID, doc.ID, clinic.ID, day)
	c, rec := newCtx(http.MethodPost, "/appointments", body)
	if err := h.Book(c); err != nil {
		t.Fatalf("book: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var appt Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if appt.QueueNumber != 1 || appt.EstimatedTime.String() != "09:00" || appt.Status != StatusConfirmed {
		t.Errorf("unexpected appointment %+v", appt)
	}
	if !strings.Contains(rec.Body.String(), `"estimated_time":"09:00"`) {
		t.Errorf("estimated time should be rendered as HH:MM: %s", rec.Body.String())
	}

	c, rec = newCtx(http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(appt.ID))
	if err := h.GetAppointment(c); err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_BookCapacityExceeded(t *testing.T) {
	h, f := newTestHandler(t)
	clinic := f.clinic("City Clinic")
	doc := f.doctor(1, 15)
	f.slot(doc, clinic, "09:00", "17:00")
	f.mustBook(f.patient("A"), doc, clinic)
	p := f.patient("B")

	body := fmt.Sprintf(`{"patient_id":%d,"doctor_id":%d,"clinic_id":%d,"date":"%s"}`, p.ID, doc.ID, clinic.ID, day)
	c, _ := newCtx(http.MethodPost, "/appointments", body)
	err := h.Book(c)
	if httpCode(t, err) != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
	msg := err.(*echo.HTTPError).Message.(map[string]interface{})
	if msg["kind"] != "capacity_exceeded" || msg["limit"] != 1 || msg["booked"] != 1 {
		t.Errorf("unexpected body %v", msg)
	}
}

func TestHandler_BookBadBody(t *testing.T) {
	h, _ := newTestHandler(t)
	c, _ := newCtx(http.MethodPost, "/appointments", `{"patient_id":"x"`)
	if code := httpCode(t, h.Book(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_WalkInAndQueue(t *testing.T) {
	h, f := newTestHandler(t)
	clinic := f.clinic("City Clinic")
	doc := f.doctor(0, 10)
	f.slot(doc, clinic, "10:00", "12:00")

	body := fmt.Sprintf(`{"doctor_id":%d,"clinic_id":%d,"name":"Ravi","age":40}`, doc.ID, clinic.ID)
	c, rec := newCtx(http.MethodPost, "/walk-ins", body)
	if err := h.AddWalkIn(c); err != nil {
		t.Fatalf("walk-in: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	target := fmt.Sprintf("/?clinic_id=%d&date=%s", clinic.ID, day)
	c, rec = newCtx(http.MethodPost, target, "")
	c.SetParamNames("doctor_id")
	c.SetParamValues(fmt.Sprint(doc.ID))
	if err := h.AdvanceQueue(c); err != nil {
		t.Fatalf("advance: %v", err)
	}
	var res AdvanceResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Called == nil || res.Called.PatientName != "Ravi" || res.State.CurrentNumber != 1 {
		t.Errorf("unexpected advance result %+v", res)
	}

	c, rec = newCtx(http.MethodGet, "/?clinic_id=all", "")
	c.SetParamNames("doctor_id")
	c.SetParamValues(fmt.Sprint(doc.ID))
	if err := h.GetQueue(c); err != nil {
		t.Fatalf("queue: %v", err)
	}
	var st QueueState
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Key.ClinicID != AllClinics || st.Phase != PhaseCompleted {
		t.Errorf("unexpected all-clinics state %+v", st)
	}

	c, rec = newCtx(http.MethodPost, target, "")
	c.SetParamNames("doctor_id")
	c.SetParamValues(fmt.Sprint(doc.ID))
	if err := h.ResetQueue(c); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Phase != PhaseActive || st.CurrentNumber != 0 {
		t.Errorf("unexpected state after reset %+v", st)
	}
}

func TestHandler_MarkStatus(t *testing.T) {
	h, f := newTestHandler(t)
	clinic := f.clinic("City Clinic")
	doc := f.doctor(0, 15)
	f.slot(doc, clinic, "09:00", "17:00")
	a := f.mustBook(f.patient("A"), doc, clinic)

	tests := []struct {
		body string
		want int
	}{
		{`{"status":"absent"}`, http.StatusOK},
		{`{"status":"Cancelled"}`, http.StatusBadRequest},
		{`{"status":"Seen"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		c, rec := newCtx(http.MethodPatch, "/", tt.body)
		c.SetParamNames("id")
		c.SetParamValues(fmt.Sprint(a.ID))
		err := h.MarkStatus(c)
		code := rec.Code
		if err != nil {
			code = httpCode(t, err)
		}
		if code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.body, tt.want, code)
		}
	}
	got, _ := f.svc.GetAppointment(f.ctx, a.ID)
	if got.Status != StatusAbsent {
		t.Errorf("expected Absent, got %s", got.Status)
	}
}

func TestHandler_CancelAppointment(t *testing.T) {
	h, f := newTestHandler(t)
	clinic := f.clinic("City Clinic")
	doc := f.doctor(0, 15)
	f.slot(doc, clinic, "09:00", "17:00")
	a := f.mustBook(f.patient("A"), doc, clinic)
	b := f.mustBook(f.patient("B"), doc, clinic)

	c, rec := newCtx(http.MethodDelete, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(a.ID))
	if err := h.CancelAppointment(c); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if n := f.numbers(doc, clinic)[b.ID]; n != 1 {
		t.Errorf("B should be renumbered to 1, got %d", n)
	}

	c, _ = newCtx(http.MethodDelete, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(a.ID))
	if code := httpCode(t, h.CancelAppointment(c)); code != http.StatusNotFound {
		t.Errorf("expected 404 on second cancel, got %d", code)
	}
}

func TestHandler_SettingsRequireValue(t *testing.T) {
	h, f := newTestHandler(t)
	doc := f.doctor(0, 15)

	c, _ := newCtx(http.MethodPut, "/", `{}`)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(doc.ID))
	if code := httpCode(t, h.SetDailyLimit(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	c, rec := newCtx(http.MethodPut, "/", `{"daily_limit":30}`)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(doc.ID))
	if err := h.SetDailyLimit(c); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	var got Doctor
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Capacity.DailyLimit != 30 {
		t.Errorf("expected limit 30, got %+v", got.Capacity)
	}

	c, _ = newCtx(http.MethodPut, "/", `{"consultation_minutes":-1}`)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(doc.ID))
	if code := httpCode(t, h.SetConsultationDuration(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_CreateDoctorWithSchedule(t *testing.T) {
	h, f := newTestHandler(t)
	clinic := f.clinic("City Clinic")

	body := fmt.Sprintf(`{"name":"Dr. Rao","capacity":{"daily_limit":10,"consultation_minutes":15},"schedule":{"clinic_id":%d,"start_time":"9:00 AM","end_time":"13:00","days":["mon"]}}`, clinic.ID)
	c, rec := newCtx(http.MethodPost, "/doctors", body)
	if err := h.CreateDoctor(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got createDoctorRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID == 0 || got.Schedule == nil || got.Schedule.DoctorID != got.ID || got.Schedule.Days[0] != "Monday" {
		t.Errorf("unexpected doctor %+v", got)
	}

	c, rec = newCtx(http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(clinic.ID))
	if err := h.DoctorsByClinic(c); err != nil {
		t.Fatalf("by clinic: %v", err)
	}
	var list []DoctorSchedule
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 1 || list[0].Schedule.StartTime.String() != "09:00" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestHandler_CreatePatientValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	c, _ := newCtx(http.MethodPost, "/patients", `{"name":"Asha","mobile":"12345"}`)
	if code := httpCode(t, h.CreatePatient(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	c, rec := newCtx(http.MethodPost, "/patients", `{"name":"Asha","mobile":"9876543210","date_of_birth":"1990-02-03"}`)
	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_ListClinicsPaginates(t *testing.T) {
	h, f := newTestHandler(t)
	for _, name := range []string{"A", "B", "C"} {
		f.clinic(name)
	}

	c, rec := newCtx(http.MethodGet, "/clinics?limit=2", "")
	if err := h.ListClinics(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp struct {
		Data    []Clinic `json:"data"`
		Total   int      `json:"total"`
		HasMore bool     `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore {
		t.Errorf("unexpected page %+v", resp)
	}
}

func TestHandler_ListAppointmentsFilters(t *testing.T) {
	h, f := newTestHandler(t)
	clinic := f.clinic("City Clinic")
	d1, d2 := f.doctor(0, 15), f.doctor(0, 15)
	f.slot(d1, clinic, "09:00", "17:00")
	f.slot(d2, clinic, "09:00", "17:00")
	f.mustBook(f.patient("A"), d1, clinic)
	f.mustBook(f.patient("B"), d2, clinic)

	c, rec := newCtx(http.MethodGet, fmt.Sprintf("/appointments?doctor_id=%d&date=%s", d2.ID, day), "")
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp struct {
		Data  []Appointment `json:"data"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 || resp.Data[0].PatientName != "B" {
		t.Errorf("unexpected list %+v", resp)
	}

	c, _ = newCtx(http.MethodGet, "/appointments?doctor_id=abc", "")
	if code := httpCode(t, h.ListAppointments(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"capacity", &CapacityError{Limit: 2, Booked: 2}, http.StatusConflict, "capacity_exceeded"},
		{"conflict", &ConflictError{Existing: &Appointment{ID: 3, DoctorID: 4, EstimatedTime: 540}}, http.StatusConflict, "slot_conflict"},
		{"not found", notFound("doctor", 9), http.StatusNotFound, "not_found"},
		{"schedule missing", &ScheduleMissingError{DoctorID: 1, ClinicID: 2}, http.StatusNotFound, "schedule_missing"},
		{"duplicate", ErrDuplicate, http.StatusConflict, "duplicate"},
		{"invalid input", invalidInput("bad"), http.StatusBadRequest, "invalid_input"},
		{"invalid status", ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
		{"lock timeout", fmt.Errorf("scheduling: lock k: %w", lock.ErrTimeout), http.StatusServiceUnavailable, "busy"},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "busy"},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		he := errorResponse(tt.err)
		if he.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.code, he.Code)
		}
		body := he.Message.(map[string]interface{})
		if body["kind"] != tt.kind {
			t.Errorf("%s: expected kind %s, got %v", tt.name, tt.kind, body["kind"])
		}
	}

	body := errorResponse(errors.New("pq: password authentication failed")).Message.(map[string]interface{})
	if body["error"] != "internal error" {
		t.Errorf("internal details must not leak, got %v", body["error"])
	}
	body = errorResponse(&ConflictError{Existing: &Appointment{ID: 3, DoctorID: 4, EstimatedTime: 540}}).Message.(map[string]interface{})
	if body["conflicting_time"] != "09:00" || body["conflicting_appointment_id"] != AppointmentID(3) {
		t.Errorf("unexpected conflict body %v", body)
	}
}

func TestCohortKey(t *testing.T) {
	h, _ := newTestHandler(t)
	tests := []struct {
		query   string
		param   string
		want    CohortKey
		wantErr bool
	}{
		{"", "7", CohortKey{DoctorID: 7}, false},
		{"?clinic_id=all", "7", CohortKey{DoctorID: 7}, false},
		{"?clinic_id=3&date=2026-10-16", "7", CohortKey{DoctorID: 7, ClinicID: 3, Date: day}, false},
		{"?clinic_id=-1", "7", CohortKey{}, true},
		{"?date=tomorrow", "7", CohortKey{}, true},
		{"", "0", CohortKey{}, true},
		{"", "x", CohortKey{}, true},
	}
	for _, tt := range tests {
		c, _ := newCtx(http.MethodGet, "/"+tt.query, "")
		c.SetParamNames("doctor_id")
		c.SetParamValues(tt.param)
		got, err := h.cohortKey(c)
		if tt.wantErr {
			if err == nil || httpCode(t, err) != http.StatusBadRequest {
				t.Errorf("%q/%s: expected 400, got %v", tt.query, tt.param, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q/%s: got %+v, %v", tt.query, tt.param, got, err)
		}
	}
}

func TestRegisterRoutes(t *testing.T) {
	h, _ := newTestHandler(t)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST /api/v1/appointments":                     false,
		"POST /api/v1/walk-ins":                         false,
		"DELETE /api/v1/appointments/:id":               false,
		"PATCH /api/v1/appointments/:id/status":         false,
		"POST /api/v1/queues/:doctor_id/advance":        false,
		"POST /api/v1/queues/:doctor_id/reset":          false,
		"PUT /api/v1/doctors/:id/daily-limit":           false,
		"PUT /api/v1/doctors/:id/consultation-duration": false,
		"GET /api/v1/clinics/:id/doctors":               false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}
