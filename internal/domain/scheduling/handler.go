package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/frontdesk/frontdesk/internal/platform/lock"
	"github.com/frontdesk/frontdesk/pkg/pagination"
)

type Handler struct {
	svc *Service
	dir *Directory
}

func NewHandler(svc *Service, dir *Directory) *Handler {
	return &Handler{svc: svc, dir: dir}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/appointments", h.Book)
	api.POST("/walk-ins", h.AddWalkIn)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.PATCH("/appointments/:id/status", h.MarkStatus)
	api.DELETE("/appointments/:id", h.CancelAppointment)

	api.GET("/queues/:doctor_id", h.GetQueue)
	api.POST("/queues/:doctor_id/advance", h.AdvanceQueue)
	api.POST("/queues/:doctor_id/reset", h.ResetQueue)

	api.PUT("/doctors/:id/daily-limit", h.SetDailyLimit)
	api.PUT("/doctors/:id/consultation-duration", h.SetConsultationDuration)

	api.POST("/clinics", h.CreateClinic)
	api.GET("/clinics", h.ListClinics)
	api.GET("/clinics/:id", h.GetClinic)
	api.PUT("/clinics/:id", h.UpdateClinic)
	api.DELETE("/clinics/:id", h.DeleteClinic)
	api.GET("/clinics/:id/doctors", h.DoctorsByClinic)

	api.POST("/doctors", h.CreateDoctor)
	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)
	api.PUT("/doctors/:id", h.UpdateDoctor)
	api.DELETE("/doctors/:id", h.DeleteDoctor)

	api.POST("/patients", h.CreatePatient)
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)

	api.POST("/schedules", h.CreateSchedule)
	api.GET("/schedules", h.ListSchedules)
	api.GET("/schedules/:id", h.GetSchedule)
	api.PUT("/schedules/:id", h.UpdateSchedule)
	api.DELETE("/schedules/:id", h.DeleteSchedule)
}

// errorResponse maps a service error to an HTTP error with a structured body.
func errorResponse(err error) *echo.HTTPError {
	body := map[string]interface{}{"error": err.Error(), "kind": Kind(err)}
	code := http.StatusInternalServerError

	var capErr *CapacityError
	var conflict *ConflictError
	switch {
	case errors.As(err, &capErr):
		code = http.StatusConflict
		body["limit"] = capErr.Limit
		body["booked"] = capErr.Booked
	case errors.As(err, &conflict):
		code = http.StatusConflict
		body["conflicting_appointment_id"] = conflict.Existing.ID
		body["conflicting_doctor_id"] = conflict.Existing.DoctorID
		body["conflicting_time"] = conflict.Existing.EstimatedTime.String()
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		code = http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidStatus):
		code = http.StatusBadRequest
	case errors.Is(err, lock.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
		body["kind"] = "busy"
	}
	if code == http.StatusInternalServerError {
		body = map[string]interface{}{"error": "internal error", "kind": "internal"}
	}
	return echo.NewHTTPError(code, body)
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// queryID reads an optional positive integer query parameter.
func queryID(c echo.Context, name string) (int64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) cohortKey(c echo.Context) (CohortKey, error) {
	doctorID, err := pathID(c, "doctor_id")
	if err != nil {
		return CohortKey{}, err
	}
	key := CohortKey{DoctorID: DoctorID(doctorID), ClinicID: AllClinics}
	if v := c.QueryParam("clinic_id"); v != "" && !strings.EqualFold(v, "all") {
		clinicID, err := queryID(c, "clinic_id")
		if err != nil {
			return CohortKey{}, err
		}
		key.ClinicID = ClinicID(clinicID)
	}
	if v := c.QueryParam("date"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return CohortKey{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		key.Date = d
	}
	return key, nil
}

// -- Appointment Handlers --

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Book(c.Request().Context(), req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) AddWalkIn(c echo.Context) error {
	var req WalkInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.AddWalkIn(c.Request().Context(), req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	var f AppointmentFilter
	doctorID, err := queryID(c, "doctor_id")
	if err != nil {
		return err
	}
	clinicID, err := queryID(c, "clinic_id")
	if err != nil {
		return err
	}
	patientID, err := queryID(c, "patient_id")
	if err != nil {
		return err
	}
	f.DoctorID, f.ClinicID, f.PatientID = DoctorID(doctorID), ClinicID(clinicID), PatientID(patientID)
	f.Date = Date(c.QueryParam("date"))

	appts, err := h.svc.ListAppointments(c.Request().Context(), f)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(appts, pagination.FromContext(c)))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), AppointmentID(id))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) MarkStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, err := ParseStatus(body.Status)
	if err != nil {
		return errorResponse(err)
	}
	appt, err := h.svc.MarkStatus(c.Request().Context(), AppointmentID(id), status)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.svc.CancelAppointment(c.Request().Context(), AppointmentID(id)); err != nil {
		return errorResponse(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Queue Handlers --

func (h *Handler) GetQueue(c echo.Context) error {
	key, err := h.cohortKey(c)
	if err != nil {
		return err
	}
	st, err := h.svc.QueueState(c.Request().Context(), key)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) AdvanceQueue(c echo.Context) error {
	key, err := h.cohortKey(c)
	if err != nil {
		return err
	}
	res, err := h.svc.AdvanceNext(c.Request().Context(), key)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ResetQueue(c echo.Context) error {
	key, err := h.cohortKey(c)
	if err != nil {
		return err
	}
	st, err := h.svc.ResetQueue(c.Request().Context(), key)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) SetDailyLimit(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		DailyLimit *int `json:"daily_limit"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.DailyLimit == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "daily_limit is required")
	}
	doc, err := h.svc.SetDailyLimit(c.Request().Context(), DoctorID(id), *body.DailyLimit)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) SetConsultationDuration(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Minutes *int `json:"consultation_minutes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Minutes == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "consultation_minutes is required")
	}
	doc, err := h.svc.SetConsultationDuration(c.Request().Context(), DoctorID(id), *body.Minutes)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, doc)
}

// -- Clinic Handlers --

func (h *Handler) CreateClinic(c echo.Context) error {
	var clinic Clinic
	if err := c.Bind(&clinic); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.dir.CreateClinic(c.Request().Context(), &clinic); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, clinic)
}

func (h *Handler) GetClinic(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	clinic, err := h.dir.GetClinic(c.Request().Context(), ClinicID(id))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, clinic)
}

func (h *Handler) UpdateClinic(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var clinic Clinic
	if err := c.Bind(&clinic); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clinic.ID = ClinicID(id)
	if err := h.dir.UpdateClinic(c.Request().Context(), &clinic); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, clinic)
}

func (h *Handler) DeleteClinic(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.dir.DeleteClinic(c.Request().Context(), ClinicID(id)); err != nil {
		return errorResponse(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListClinics(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.dir.ListClinics(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DoctorsByClinic(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.dir.DoctorsByClinic(c.Request().Context(), ClinicID(id))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Doctor Handlers --

type createDoctorRequest struct {
	Doctor
	Schedule *ScheduleSlot `json:"schedule,omitempty"`
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req createDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc := req.Doctor
	if err := h.dir.CreateDoctor(c.Request().Context(), &doc, req.Schedule); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, createDoctorRequest{Doctor: doc, Schedule: req.Schedule})
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	doc, err := h.dir.GetDoctor(c.Request().Context(), DoctorID(id))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var doc Doctor
	if err := c.Bind(&doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc.ID = DoctorID(id)
	if err := h.dir.UpdateDoctor(c.Request().Context(), &doc); err != nil {
		return errorResponse(err)
	}
	updated, err := h.dir.GetDoctor(c.Request().Context(), doc.ID)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.dir.DeleteDoctor(c.Request().Context(), DoctorID(id)); err != nil {
		return errorResponse(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.dir.ListDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Patient Handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.dir.CreatePatient(c.Request().Context(), &p); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.dir.GetPatient(c.Request().Context(), PatientID(id))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = PatientID(id)
	if err := h.dir.UpdatePatient(c.Request().Context(), &p); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.dir.DeletePatient(c.Request().Context(), PatientID(id)); err != nil {
		return errorResponse(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.dir.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Schedule Handlers --

func (h *Handler) CreateSchedule(c echo.Context) error {
	var s ScheduleSlot
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.dir.CreateSchedule(c.Request().Context(), &s); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	s, err := h.dir.GetSchedule(c.Request().Context(), ScheduleID(id))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var s ScheduleSlot
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.ID = ScheduleID(id)
	if err := h.dir.UpdateSchedule(c.Request().Context(), &s); err != nil {
		return errorResponse(err)
	}
	updated, err := h.dir.GetSchedule(c.Request().Context(), s.ID)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.dir.DeleteSchedule(c.Request().Context(), ScheduleID(id)); err != nil {
		return errorResponse(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	doctorID, err := queryID(c, "doctor_id")
	if err != nil {
		return err
	}
	clinicID, err := queryID(c, "clinic_id")
	if err != nil {
		return err
	}
	items, err := h.dir.ListSchedules(c.Request().Context(), ScheduleFilter{DoctorID: DoctorID(doctorID), ClinicID: ClinicID(clinicID)})
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}
