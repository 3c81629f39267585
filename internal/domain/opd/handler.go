package opd

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/httperr"
	"github.com/hms/hms/internal/platform/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Route groups mirror the front desk screens; per-transition checks
	// happen in the authorizer.
	front := api.Group("", auth.RequireRole("admin", "reception"))
	front.POST("/appointments", h.BookAppointment)
	front.POST("/appointments/:id/check-in", h.CheckInAppointment)
	front.POST("/appointments/:id/cancel", h.CancelAppointment)
	front.POST("/appointments/:id/no-show", h.NoShowAppointment)
	front.POST("/opd/check-in", h.CheckInWalkIn)

	staff := api.Group("", auth.RequireRole("superadmin", "admin", "reception", "doctor", "nurse"))
	staff.GET("/appointments", h.ListAppointments)
	staff.GET("/appointments/:id", h.GetAppointment)
	staff.GET("/opd/queue", h.GetQueue)
	staff.GET("/opd/stats", h.GetStats)

	clinical := api.Group("", auth.RequireRole("admin", "reception", "doctor", "nurse"))
	clinical.POST("/opd/visits/:id/transition", h.TransitionVisit)
}

func callerRoles(c echo.Context) []Role {
	return ParseRoles(auth.RolesFromContext(c.Request().Context()))
}

func respond(c echo.Context, err error) error {
	return httperr.Respond(c, ErrorKind(err), err)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, httperr.New(httperr.KindValidation, "invalid id")
	}
	return id, nil
}

func parseDateParam(c echo.Context) (time.Time, error) {
	raw := c.QueryParam("date")
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := ParseDate(raw)
	if err != nil {
		return time.Time{}, httperr.New(httperr.KindValidation, "date must be YYYY-MM-DD")
	}
	return d, nil
}

// -- Appointments --

type bookAppointmentRequest struct {
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        *uuid.UUID `json:"doctor_id"`
	DepartmentID    *uuid.UUID `json:"department_id"`
	AppointmentDate string     `json:"appointment_date"`
	AppointmentTime string     `json:"appointment_time"`
	VisitType       VisitType  `json:"visit_type"`
	ChiefComplaint  *string    `json:"chief_complaint"`
	Notes           *string    `json:"notes"`
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var req bookAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return httperr.New(httperr.KindValidation, "invalid request body")
	}

	a := &Appointment{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		DepartmentID:    req.DepartmentID,
		AppointmentTime: req.AppointmentTime,
		VisitType:       req.VisitType,
		ChiefComplaint:  req.ChiefComplaint,
		Notes:           req.Notes,
	}
	if req.AppointmentDate != "" {
		d, err := ParseDate(req.AppointmentDate)
		if err != nil {
			return httperr.New(httperr.KindValidation, "appointment_date must be YYYY-MM-DD")
		}
		a.AppointmentDate = d
	}

	var actor *uuid.UUID
	if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
		actor = &uid
	}

	ctx := c.Request().Context()
	if err := h.svc.BookAppointment(ctx, db.TenantFromContext(ctx), a, actor, callerRoles(c)); err != nil {
		return respond(c, err)
	}
	c.Set(middleware.AuditRecordKey, a.ID.String())
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	date, err := parseDateParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	items, err := h.svc.ListAppointments(ctx, db.TenantFromContext(ctx), date, Status(c.QueryParam("status")))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	a, err := h.svc.GetAppointment(ctx, db.TenantFromContext(ctx), id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

type checkInResponse struct {
	Appointment Appointment `json:"appointment"`
	Visit       Visit       `json:"visit"`
}

func (h *Handler) CheckInAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	appt, visit, err := h.svc.CheckInAppointment(ctx, db.TenantFromContext(ctx), id, callerRoles(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusCreated, checkInResponse{Appointment: appt, Visit: visit})
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	return h.transitionAppointment(c, StatusCancelled)
}

func (h *Handler) NoShowAppointment(c echo.Context) error {
	return h.transitionAppointment(c, StatusNoShow)
}

func (h *Handler) transitionAppointment(c echo.Context, to Status) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	a, err := h.svc.TransitionAppointment(ctx, db.TenantFromContext(ctx), id, to, callerRoles(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- OPD --

func (h *Handler) CheckInWalkIn(c echo.Context) error {
	var req WalkInRequest
	if err := c.Bind(&req); err != nil {
		return httperr.New(httperr.KindValidation, "invalid request body")
	}
	ctx := c.Request().Context()
	v, err := h.svc.CheckInWalkIn(ctx, db.TenantFromContext(ctx), req, callerRoles(c))
	if err != nil {
		return respond(c, err)
	}
	c.Set(middleware.AuditRecordKey, v.ID.String())
	return c.JSON(http.StatusCreated, v)
}

type transitionRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) TransitionVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return httperr.New(httperr.KindValidation, "invalid request body")
	}
	if req.Status == "" {
		return httperr.New(httperr.KindValidation, "status is required")
	}

	ctx := c.Request().Context()
	v, err := h.svc.TransitionVisit(ctx, db.TenantFromContext(ctx), id, req.Status, callerRoles(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetQueue(c echo.Context) error {
	date, err := parseDateParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	q, err := h.svc.Queue(ctx, db.TenantFromContext(ctx), date)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) GetStats(c echo.Context) error {
	date, err := parseDateParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	st, err := h.svc.Stats(ctx, db.TenantFromContext(ctx), date)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, st)
}
